// Package services – CirculationService
//
// This file implements the borrow/return engine and damage retirement. Each
// public operation is one all-or-nothing transaction: the copy transition,
// the loan record, the reservation hand-off and any credit penalty commit
// together or not at all.
//
// Locking: per-entity in-process locks are taken in the order copy, isbn,
// reader before the transaction starts; inside the transaction rows are read
// with SELECT ... FOR UPDATE and written with status-guarded updates.
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

// CirculationService orchestrates copies, loans, reservations and credit.
type CirculationService struct {
	DB     *gorm.DB
	Locks  *KeyedMutex
	Now    func() time.Time
	Ledger *CreditLedger
	Copies *CopyStateMachine
	Queue  *ReservationQueue
}

// ReturnResult is what the desk sees after a return. Allocated is set when
// the copy went to the hold shelf for a waiting reader.
type ReturnResult struct {
	Record      *domain.BorrowRecord       `json:"record"`
	Allocated   *domain.ReservationRequest `json:"allocated_reservation,omitempty"`
	OverdueDays int                        `json:"overdue_days"`
	Penalty     *CreditChange              `json:"penalty,omitempty"`
}

// Borrow lends barcode to readerID.
//
// Preconditions, first failure wins:
//  1. copy and reader exist (NotFound)
//  2. reader credit >= 60 (PermissionDenied "credit too low to borrow")
//  3. active loans < tier limit: 2 below credit 70, else 5 (PermissionDenied "borrow limit reached")
//  4. copy is not damaged (InvalidState)
//  5. a held copy may only be claimed by its allocated reader (InvalidState
//     "reserved by another reader"); a successful claim fulfils the reservation
//  6. copy is in stock or held (InvalidState)
//
// Effect: an Active BorrowRecord due in 30 days; the copy becomes Borrowed.
func (s *CirculationService) Borrow(ctx context.Context, id Identity, barcode, readerID string) (*domain.BorrowRecord, error) {
	tr := otel.Tracer("services/CirculationService")
	ctx, span := tr.Start(ctx, "Borrow",
		trace.WithAttributes(
			attribute.String("copy.barcode", barcode),
			attribute.String("reader.id", readerID),
		),
	)
	defer span.End()

	if err := requireStaff(id); err != nil {
		return nil, err
	}
	barcode, readerID = strings.TrimSpace(barcode), strings.TrimSpace(readerID)
	if barcode == "" || readerID == "" {
		return nil, newError(ErrInvalidInput, "barcode and reader_id are required")
	}

	peek, err := repo.GetCopy(ctx, s.DB, barcode)
	if err != nil {
		return nil, mapNotFound(err, "copy", barcode)
	}
	unlock := s.Locks.acquire(lockKeys{Barcode: barcode, ISBN: peek.ISBN, Readers: []string{readerID}})
	defer unlock()

	now := clock(s.Now)
	var (
		rec     *domain.BorrowRecord
		claimed *domain.ReservationRequest
	)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := repo.GetCopyForUpdate(ctx, tx, barcode)
		if err != nil {
			return mapNotFound(err, "copy", barcode)
		}
		r, err := repo.GetReaderForUpdate(ctx, tx, readerID)
		if err != nil {
			return mapNotFound(err, "reader", readerID)
		}

		if r.Credit < domain.MinCreditToBorrow {
			return newError(ErrPermissionDenied, "credit too low to borrow",
				"credit", r.Credit, "required", domain.MinCreditToBorrow)
		}
		active, err := repo.CountActiveBorrows(ctx, tx, readerID)
		if err != nil {
			return err
		}
		if limit := domain.BorrowLimit(r.Credit); active >= int64(limit) {
			return newError(ErrPermissionDenied, "borrow limit reached",
				"credit", r.Credit, "limit", limit, "active", active)
		}

		ev := domain.EventBorrow
		switch c.Status {
		case domain.CopyDamaged:
			return newError(ErrInvalidState, "copy is damaged", "barcode", barcode, "status", string(c.Status))
		case domain.CopyHeld:
			hold, err := repo.GetAllocatedByBarcode(ctx, tx, barcode)
			if errors.Is(err, repo.ErrNotFound) {
				return newError(ErrInvalidState, "held copy has no allocated reservation",
					"barcode", barcode, "status", string(c.Status))
			}
			if err != nil {
				return err
			}
			if hold.ReaderID != readerID {
				return newError(ErrInvalidState, "reserved by another reader",
					"barcode", barcode, "status", string(c.Status))
			}
			if err := s.Queue.Fulfil(ctx, tx, hold); err != nil {
				return err
			}
			claimed = hold
			ev = domain.EventClaimHold
		case domain.CopyInStock:
		default:
			return newError(ErrInvalidState, "copy is not available", "barcode", barcode, "status", string(c.Status))
		}

		rec = &domain.BorrowRecord{
			ReaderID:   readerID,
			Barcode:    barcode,
			BorrowedAt: now,
			DueAt:      now.Add(domain.LoanPeriod),
			Status:     domain.BorrowActive,
		}
		if err := repo.CreateBorrow(ctx, tx, rec); err != nil {
			return err
		}
		_, err = s.Copies.apply(ctx, tx, c, ev, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	borrowsTotal.Inc()
	if claimed != nil {
		reservationEvents.WithLabelValues("fulfilled").Inc()
	}
	logger(ctx).Info().
		Uint64("borrow_id", rec.ID).
		Str("reader_id", readerID).
		Str("barcode", barcode).
		Time("due_at", rec.DueAt).
		Bool("claimed_hold", claimed != nil).
		Msg("copy borrowed")
	return rec, nil
}

// Return closes the active loan of barcode. A late return costs the reader
// 10 credit. The copy then goes to the hold shelf for the head of the title's
// queue, or back to the shelf when nobody is waiting. Both outcomes commit
// atomically with the reservation allocation.
func (s *CirculationService) Return(ctx context.Context, id Identity, barcode string) (*ReturnResult, error) {
	tr := otel.Tracer("services/CirculationService")
	ctx, span := tr.Start(ctx, "Return",
		trace.WithAttributes(attribute.String("copy.barcode", barcode)),
	)
	defer span.End()

	if err := requireStaff(id); err != nil {
		return nil, err
	}
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, newError(ErrInvalidInput, "barcode is required")
	}

	peek, err := repo.GetCopy(ctx, s.DB, barcode)
	if err != nil {
		return nil, mapNotFound(err, "copy", barcode)
	}
	unlockCopy := s.Locks.acquire(lockKeys{Barcode: barcode, ISBN: peek.ISBN})
	defer unlockCopy()

	// The borrower is only known after the copy lock is held; the reader
	// lock comes last in the acquisition order, so taking it now is safe.
	borrower := ""
	if open, err := repo.GetActiveBorrowByBarcode(ctx, s.DB, barcode); err == nil {
		borrower = open.ReaderID
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	unlockReader := s.Locks.acquire(lockKeys{Readers: []string{borrower}})
	defer unlockReader()

	now := clock(s.Now)
	out := &ReturnResult{}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := repo.GetCopyForUpdate(ctx, tx, barcode)
		if err != nil {
			return mapNotFound(err, "copy", barcode)
		}
		if c.Status == domain.CopyDamaged {
			return newError(ErrInvalidState, "copy is damaged", "barcode", barcode, "status", string(c.Status))
		}
		rec, err := repo.GetActiveBorrowByBarcode(ctx, tx, barcode)
		if errors.Is(err, repo.ErrNotFound) {
			return newError(ErrInvalidState, "copy is not on loan", "barcode", barcode, "status", string(c.Status))
		}
		if err != nil {
			return err
		}
		if rec.ReaderID != borrower {
			return staleState("borrow", fmt.Sprint(rec.ID))
		}

		status := domain.BorrowReturnedOnTime
		if days := domain.OverdueDays(rec.DueAt, now); days > 0 {
			status = domain.BorrowReturnedLate
			out.OverdueDays = days
			out.Penalty, err = s.Ledger.apply(ctx, tx, rec.ReaderID, domain.LatePenalty,
				fmt.Sprintf(domain.ReasonOverdueTmpl, days), id.Operator(), now)
			if err != nil {
				return err
			}
		}
		if err := repo.CloseBorrow(ctx, tx, rec.ID, status, now); err != nil {
			if errors.Is(err, repo.ErrStale) {
				return staleState("borrow", fmt.Sprint(rec.ID))
			}
			return err
		}
		rec.Status = status
		rec.ReturnedAt = &now
		out.Record = rec

		alloc, err := s.Queue.AllocateNext(ctx, tx, c.ISBN, barcode, now)
		if err != nil {
			return err
		}
		ev := domain.EventReturn
		if alloc != nil {
			ev = domain.EventReturnToHold
			out.Allocated = alloc
		}
		_, err = s.Copies.apply(ctx, tx, c, ev, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	outcome := "on_time"
	if out.OverdueDays > 0 {
		outcome = "late"
		s.Ledger.observe(ctx, out.Penalty, domain.ReasonOverdueTmpl)
	}
	returnsTotal.WithLabelValues(outcome).Inc()
	ev := logger(ctx).Info().
		Uint64("borrow_id", out.Record.ID).
		Str("reader_id", out.Record.ReaderID).
		Str("barcode", barcode).
		Int("overdue_days", out.OverdueDays)
	if out.Allocated != nil {
		reservationEvents.WithLabelValues("allocated").Inc()
		ev = ev.Uint64("allocated_reservation", out.Allocated.ID).Str("hold_for", out.Allocated.ReaderID)
	}
	ev.Msg("copy returned")
	return out, nil
}

// ReportDamage retires a copy permanently. An open loan is closed as
// returned-late without a credit penalty; a hold is released and its
// reservation goes back to the front of the queue. A DamageLogEntry is
// always written. Damaging an already damaged copy is InvalidState.
func (s *CirculationService) ReportDamage(ctx context.Context, id Identity, barcode, reason string) (*domain.DamageLogEntry, error) {
	tr := otel.Tracer("services/CirculationService")
	ctx, span := tr.Start(ctx, "ReportDamage",
		trace.WithAttributes(attribute.String("copy.barcode", barcode)),
	)
	defer span.End()

	if err := requireStaff(id); err != nil {
		return nil, err
	}
	barcode, reason = strings.TrimSpace(barcode), strings.TrimSpace(reason)
	if barcode == "" || reason == "" {
		return nil, newError(ErrInvalidInput, "barcode and reason are required")
	}

	peek, err := repo.GetCopy(ctx, s.DB, barcode)
	if err != nil {
		return nil, mapNotFound(err, "copy", barcode)
	}
	unlock := s.Locks.acquire(lockKeys{Barcode: barcode, ISBN: peek.ISBN})
	defer unlock()

	now := clock(s.Now)
	var (
		entry    *domain.DamageLogEntry
		requeued *domain.ReservationRequest
		closed   *domain.BorrowRecord
	)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := repo.GetCopyForUpdate(ctx, tx, barcode)
		if err != nil {
			return mapNotFound(err, "copy", barcode)
		}

		switch c.Status {
		case domain.CopyBorrowed:
			rec, err := repo.GetActiveBorrowByBarcode(ctx, tx, barcode)
			if err != nil && !errors.Is(err, repo.ErrNotFound) {
				return err
			}
			if rec != nil {
				if err := repo.CloseBorrow(ctx, tx, rec.ID, domain.BorrowReturnedLate, now); err != nil {
					return err
				}
				closed = rec
			}
		case domain.CopyHeld:
			hold, err := repo.GetAllocatedByBarcode(ctx, tx, barcode)
			if err != nil && !errors.Is(err, repo.ErrNotFound) {
				return err
			}
			if hold != nil {
				if err := s.Queue.requeue(ctx, tx, hold); err != nil {
					return err
				}
				requeued = hold
			}
		}

		if _, err := s.Copies.apply(ctx, tx, c, domain.EventDamage, now); err != nil {
			return err
		}
		entry = &domain.DamageLogEntry{
			Barcode:   barcode,
			ISBN:      c.ISBN,
			Reason:    reason,
			Operator:  id.Operator(),
			CreatedAt: now,
		}
		return repo.AppendDamageLog(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}

	ev := logger(ctx).Warn().Str("barcode", barcode).Str("isbn", entry.ISBN).Str("reason", reason)
	if closed != nil {
		ev = ev.Uint64("closed_borrow", closed.ID)
	}
	if requeued != nil {
		reservationEvents.WithLabelValues("requeued").Inc()
		ev = ev.Uint64("requeued_reservation", requeued.ID)
	}
	ev.Msg("copy retired as damaged")
	return entry, nil
}
