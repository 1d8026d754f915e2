// Package services – ExtensionService
//
// Readers ask for a loan's due date to be pushed back; circulation staff
// approve or reject. A loan has at most one pending request, and a decision
// is final.
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

// Review decisions.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// ExtensionService implements the extension workflow.
type ExtensionService struct {
	DB    *gorm.DB
	Locks *KeyedMutex
	Now   func() time.Time
}

// Request files a pending extension for borrowID.
//
// Checks, first failure wins: 0 < days <= domain.MaxExtensionDays (InvalidInput); loan exists
// (NotFound); a reader may only extend their own loan (PermissionDenied);
// credit >= 80 (PermissionDenied); loan is Active (InvalidState); no pending
// request on the loan (Conflict).
func (s *ExtensionService) Request(ctx context.Context, id Identity, borrowID uint64, days int, reason string) (*domain.ExtensionRequest, error) {
	tr := otel.Tracer("services/ExtensionService")
	ctx, span := tr.Start(ctx, "Request",
		trace.WithAttributes(
			attribute.Int64("borrow.id", int64(borrowID)),
			attribute.Int("days", days),
		),
	)
	defer span.End()

	if days <= 0 {
		return nil, newError(ErrInvalidInput, "days must be positive", "days", days)
	}
	if days > domain.MaxExtensionDays {
		return nil, newError(ErrInvalidInput, "days exceeds the extension maximum",
			"days", days, "max", domain.MaxExtensionDays)
	}
	reason = strings.TrimSpace(reason)

	peek, err := repo.GetBorrow(ctx, s.DB, borrowID)
	if err != nil {
		return nil, mapNotFound(err, "borrow", fmt.Sprint(borrowID))
	}
	if err := requireSelfOrStaff(id, peek.ReaderID); err != nil {
		return nil, err
	}
	unlock := s.Locks.acquire(lockKeys{Readers: []string{peek.ReaderID}})
	defer unlock()

	now := clock(s.Now)
	var out *domain.ExtensionRequest
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := repo.GetBorrowForUpdate(ctx, tx, borrowID)
		if err != nil {
			return mapNotFound(err, "borrow", fmt.Sprint(borrowID))
		}
		r, err := repo.GetReaderForUpdate(ctx, tx, b.ReaderID)
		if err != nil {
			return mapNotFound(err, "reader", b.ReaderID)
		}
		if r.Credit < domain.MinCreditToExtend {
			return newError(ErrPermissionDenied, "credit too low to request an extension",
				"credit", r.Credit, "required", domain.MinCreditToExtend)
		}
		if b.Status != domain.BorrowActive {
			return newError(ErrInvalidState, "loan is not active",
				"borrow_id", b.ID, "status", string(b.Status))
		}
		pending, err := repo.HasPendingExtension(ctx, tx, b.ID)
		if err != nil {
			return err
		}
		if pending {
			return newError(ErrConflict, "an extension request is already pending", "borrow_id", b.ID)
		}

		out = &domain.ExtensionRequest{
			ReaderID:  b.ReaderID,
			BorrowID:  b.ID,
			Days:      days,
			Reason:    reason,
			Status:    domain.ExtensionPending,
			CreatedAt: now,
		}
		return repo.CreateExtension(ctx, tx, out)
	})
	if err != nil {
		return nil, err
	}

	logger(ctx).Info().
		Uint64("extension_id", out.ID).
		Uint64("borrow_id", borrowID).
		Int("days", days).
		Msg("extension requested")
	return out, nil
}

// Review approves or rejects a pending request. Approval moves the loan's
// due date by the requested days; a loan that was returned in the meantime
// can only be rejected.
func (s *ExtensionService) Review(ctx context.Context, id Identity, requestID uint64, decision string) (*domain.ExtensionRequest, error) {
	tr := otel.Tracer("services/ExtensionService")
	ctx, span := tr.Start(ctx, "Review",
		trace.WithAttributes(
			attribute.Int64("extension.id", int64(requestID)),
			attribute.String("decision", decision),
		),
	)
	defer span.End()

	if err := requireStaff(id); err != nil {
		return nil, err
	}
	var next domain.ExtensionStatus
	switch strings.ToLower(strings.TrimSpace(decision)) {
	case DecisionApprove:
		next = domain.ExtensionApproved
	case DecisionReject:
		next = domain.ExtensionRejected
	default:
		return nil, newError(ErrInvalidInput, "decision must be approve or reject", "decision", decision)
	}

	unlock := s.Locks.acquire(lockKeys{Readers: []string{s.peekReader(ctx, requestID)}})
	defer unlock()

	now := clock(s.Now)
	var out *domain.ExtensionRequest
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		e, err := repo.GetExtensionForUpdate(ctx, tx, requestID)
		if err != nil {
			return mapNotFound(err, "extension", fmt.Sprint(requestID))
		}
		if !e.Status.CanTransition(next) {
			return newError(ErrInvalidState, "extension request already decided",
				"extension_id", e.ID, "status", string(e.Status))
		}

		if next == domain.ExtensionApproved {
			b, err := repo.GetBorrowForUpdate(ctx, tx, e.BorrowID)
			if err != nil {
				return mapNotFound(err, "borrow", fmt.Sprint(e.BorrowID))
			}
			if b.Status != domain.BorrowActive {
				return newError(ErrInvalidState, "loan is not active",
					"borrow_id", b.ID, "status", string(b.Status))
			}
			if e.Days <= 0 || e.Days > domain.MaxExtensionDays {
				return newError(ErrInvalidInput, "extension days out of range",
					"extension_id", e.ID, "days", e.Days)
			}
			due := b.DueAt.AddDate(0, 0, e.Days)
			if err := repo.ExtendBorrowDue(ctx, tx, b.ID, due); err != nil {
				if errors.Is(err, repo.ErrStale) {
					return staleState("borrow", fmt.Sprint(b.ID))
				}
				return err
			}
		}

		if err := repo.DecideExtension(ctx, tx, e.ID, next, id.Operator(), now); err != nil {
			if errors.Is(err, repo.ErrStale) {
				return staleState("extension", fmt.Sprint(e.ID))
			}
			return err
		}
		e.Status = next
		e.ReviewedBy = id.Operator()
		e.ReviewedAt = &now
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger(ctx).Info().
		Uint64("extension_id", requestID).
		Str("decision", string(next)).
		Str("reviewer", id.Operator()).
		Msg("extension reviewed")
	return out, nil
}

// peekReader returns the reader owning an extension request, or "" when it
// cannot be loaded (the transaction then reports NotFound).
func (s *ExtensionService) peekReader(ctx context.Context, requestID uint64) string {
	e, err := repo.GetExtension(ctx, s.DB, requestID)
	if err != nil {
		return ""
	}
	return e.ReaderID
}
