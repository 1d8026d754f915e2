// Package services – ReservationQueue
//
// This file implements the per-title FIFO waiting list. Readers join the
// queue only when no copy is on the shelf; a returned copy is allocated to
// the head of the queue and held for a short pickup window; holds that are
// not picked up expire with a credit penalty.
//
// Observability: public methods open an OpenTelemetry span; committed
// lifecycle events are counted in circulation_reservations_total.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-circulation-backend/internal/domain"
	"github.com/tbourn/go-circulation-backend/internal/repo"
)

// ReservationQueue owns ReservationRequest state.
type ReservationQueue struct {
	DB     *gorm.DB
	Locks  *KeyedMutex
	Now    func() time.Time
	Ledger *CreditLedger
	Copies *CopyStateMachine
}

// ReservationView is a reservation plus its queue position (0 unless queued).
type ReservationView struct {
	domain.ReservationRequest
	Position int64 `json:"position,omitempty"`
}

// ExpiryResult summarizes one expireStaleHolds sweep.
type ExpiryResult struct {
	Expired int
	Failed  int
}

// Enqueue places readerID in the waiting list for isbn.
//
// Preconditions, first failure wins:
//  1. title and reader exist (NotFound)
//  2. reader credit >= 90 (PermissionDenied)
//  3. no copy of the title is in stock (InvalidState: borrow it instead)
//  4. reader has no open reservation for another title (Conflict)
//  5. reader has no open reservation for this title (Conflict)
//
// Readers may only reserve for themselves; staff may reserve for anyone.
func (q *ReservationQueue) Enqueue(ctx context.Context, id Identity, readerID, isbn string) (*domain.ReservationRequest, error) {
	tr := otel.Tracer("services/ReservationQueue")
	ctx, span := tr.Start(ctx, "Enqueue",
		trace.WithAttributes(
			attribute.String("reader.id", readerID),
			attribute.String("isbn", isbn),
		),
	)
	defer span.End()

	readerID = strings.TrimSpace(readerID)
	isbn = strings.TrimSpace(isbn)
	if readerID == "" && id.Role == RoleReader {
		readerID = id.ActorID
	}
	if readerID == "" || isbn == "" {
		return nil, newError(ErrInvalidInput, "reader_id and isbn are required")
	}
	if err := requireSelfOrStaff(id, readerID); err != nil {
		return nil, err
	}

	unlock := q.Locks.acquire(lockKeys{ISBN: isbn, Readers: []string{readerID}})
	defer unlock()

	now := clock(q.Now)
	var out *domain.ReservationRequest
	err := q.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.GetTitle(ctx, tx, isbn); err != nil {
			return mapNotFound(err, "title", isbn)
		}
		r, err := repo.GetReaderForUpdate(ctx, tx, readerID)
		if err != nil {
			return mapNotFound(err, "reader", readerID)
		}
		if r.Credit < domain.MinCreditToQueue {
			return newError(ErrPermissionDenied, "credit too low to reserve",
				"credit", r.Credit, "required", domain.MinCreditToQueue)
		}
		inStock, err := repo.CountCopies(ctx, tx, isbn, domain.CopyInStock)
		if err != nil {
			return err
		}
		if inStock > 0 {
			return newError(ErrInvalidState, "a copy is available on the shelf; borrow it directly",
				"isbn", isbn, "in_stock", inStock)
		}
		open, err := repo.GetOpenReservation(ctx, tx, readerID)
		switch {
		case err == nil && open.ISBN != isbn:
			return newError(ErrConflict, "reader already has an open reservation",
				"reservation_id", open.ID, "isbn", open.ISBN, "status", string(open.Status))
		case err == nil:
			return newError(ErrConflict, "reader already reserved this title",
				"reservation_id", open.ID, "status", string(open.Status))
		case !errors.Is(err, repo.ErrNotFound):
			return err
		}

		out = &domain.ReservationRequest{
			ReaderID:    readerID,
			ISBN:        isbn,
			RequestedAt: now,
			ExpiresAt:   now.Add(domain.QueueCeiling),
			Status:      domain.ReservationQueued,
		}
		return repo.CreateReservation(ctx, tx, out)
	})
	if err != nil {
		return nil, err
	}

	reservationEvents.WithLabelValues("queued").Inc()
	logger(ctx).Info().
		Uint64("reservation_id", out.ID).
		Str("reader_id", readerID).
		Str("isbn", isbn).
		Msg("reservation queued")
	return out, nil
}

// Get returns a reservation with its current queue position. Readers may
// only look at their own reservations.
func (q *ReservationQueue) Get(ctx context.Context, id Identity, reservationID uint64) (*ReservationView, error) {
	r, err := repo.GetReservation(ctx, q.DB, reservationID)
	if err != nil {
		return nil, mapNotFound(err, "reservation", fmt.Sprint(reservationID))
	}
	if err := requireSelfOrStaff(id, r.ReaderID); err != nil {
		return nil, err
	}
	view := &ReservationView{ReservationRequest: *r}
	if r.Status == domain.ReservationQueued {
		pos, err := repo.QueuePosition(ctx, q.DB, r)
		if err != nil {
			return nil, err
		}
		view.Position = pos
	}
	return view, nil
}

// AllocateNext hands barcode to the oldest queued request for isbn, inside
// the caller's transaction. It returns nil when the queue is empty. The
// caller decides the copy's next state from the result and must hold the
// isbn lock.
func (q *ReservationQueue) AllocateNext(ctx context.Context, tx *gorm.DB, isbn, barcode string, now time.Time) (*domain.ReservationRequest, error) {
	head, err := repo.NextQueued(ctx, tx, isbn)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	bc := barcode
	exp := now.Add(domain.HoldPickupWindow)
	if err := repo.UpdateReservation(ctx, tx, head.ID, domain.ReservationQueued, domain.ReservationAllocated, &bc, exp); err != nil {
		if errors.Is(err, repo.ErrStale) {
			return nil, staleState("reservation", fmt.Sprint(head.ID))
		}
		return nil, err
	}
	head.Status = domain.ReservationAllocated
	head.Barcode = &bc
	head.ExpiresAt = exp
	return head, nil
}

// Fulfil marks an allocated reservation as fulfilled, inside the caller's
// transaction.
func (q *ReservationQueue) Fulfil(ctx context.Context, tx *gorm.DB, r *domain.ReservationRequest) error {
	if !r.Status.CanTransition(domain.ReservationFulfilled) {
		return newError(ErrInvalidState, "reservation cannot be fulfilled",
			"reservation_id", r.ID, "status", string(r.Status))
	}
	if err := repo.UpdateReservation(ctx, tx, r.ID, r.Status, domain.ReservationFulfilled, r.Barcode, r.ExpiresAt); err != nil {
		if errors.Is(err, repo.ErrStale) {
			return staleState("reservation", fmt.Sprint(r.ID))
		}
		return err
	}
	r.Status = domain.ReservationFulfilled
	return nil
}

// requeue puts an allocated reservation back into the queue when its held
// copy is retired. The original request time is kept, so the reader keeps
// their place at the head.
func (q *ReservationQueue) requeue(ctx context.Context, tx *gorm.DB, r *domain.ReservationRequest) error {
	exp := r.RequestedAt.Add(domain.QueueCeiling)
	if err := repo.UpdateReservation(ctx, tx, r.ID, domain.ReservationAllocated, domain.ReservationQueued, nil, exp); err != nil {
		if errors.Is(err, repo.ErrStale) {
			return staleState("reservation", fmt.Sprint(r.ID))
		}
		return err
	}
	r.Status = domain.ReservationQueued
	r.Barcode = nil
	r.ExpiresAt = exp
	return nil
}

// ExpireStaleHolds expires every allocated reservation whose pickup window
// ended at or before now: the reservation becomes Expired, the held copy
// goes back on the shelf and the reader is charged the missed-pickup
// penalty. Each hold is processed in its own transaction; a failing row is
// logged and skipped.
func (q *ReservationQueue) ExpireStaleHolds(ctx context.Context, now time.Time) (ExpiryResult, error) {
	tr := otel.Tracer("services/ReservationQueue")
	ctx, span := tr.Start(ctx, "ExpireStaleHolds")
	defer span.End()

	var res ExpiryResult
	stale, err := repo.ListExpiredAllocations(ctx, q.DB, now)
	if err != nil {
		return res, err
	}
	for _, r := range stale {
		expired, err := q.expireHold(ctx, r, now)
		if err != nil {
			res.Failed++
			logger(ctx).Warn().Err(err).
				Uint64("reservation_id", r.ID).
				Str("reader_id", r.ReaderID).
				Msg("hold expiry skipped")
			continue
		}
		if expired {
			res.Expired++
		}
	}
	span.SetAttributes(attribute.Int("expired", res.Expired), attribute.Int("failed", res.Failed))
	return res, nil
}

// expireHold processes one stale hold. It reports false when another writer
// already moved the reservation (claimed, requeued or expired).
func (q *ReservationQueue) expireHold(ctx context.Context, r domain.ReservationRequest, now time.Time) (bool, error) {
	barcode := ""
	if r.Barcode != nil {
		barcode = *r.Barcode
	}
	unlock := q.Locks.acquire(lockKeys{Barcode: barcode, ISBN: r.ISBN, Readers: []string{r.ReaderID}})
	defer unlock()

	var change *CreditChange
	err := q.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := repo.GetReservation(ctx, tx, r.ID)
		if err != nil {
			return err
		}
		if cur.Status != domain.ReservationAllocated || cur.ExpiresAt.After(now) {
			return errSkip
		}
		if err := repo.UpdateReservation(ctx, tx, cur.ID, domain.ReservationAllocated, domain.ReservationExpired, cur.Barcode, cur.ExpiresAt); err != nil {
			return err
		}
		if cur.Barcode != nil {
			if _, err := q.Copies.Transition(ctx, tx, *cur.Barcode, domain.EventHoldExpired, now); err != nil {
				return err
			}
		}
		change, err = q.Ledger.apply(ctx, tx, cur.ReaderID, domain.MissedPickupCharge, domain.ReasonMissedHold, domain.SystemOperator, now)
		return err
	})
	if errors.Is(err, errSkip) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	reservationEvents.WithLabelValues("expired").Inc()
	q.Ledger.observe(ctx, change, domain.ReasonMissedHold)
	logger(ctx).Info().
		Uint64("reservation_id", r.ID).
		Str("reader_id", r.ReaderID).
		Str("barcode", barcode).
		Msg("hold expired")
	return true, nil
}

// errSkip rolls back a per-row transaction without counting a failure.
var errSkip = errors.New("skip")
