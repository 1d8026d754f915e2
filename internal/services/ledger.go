// Package services – CreditLedger
//
// This file implements the credit ledger: the only code path that changes a
// reader's credit. Every change is clamped to [0, 100] and recorded as one
// append-only CreditLogEntry carrying the delta that was actually applied.
//
// Clamping is policy, not an error: a -10 penalty on a reader at 5 applies -5.
// Callers must invoke the ledger once per logical event; a blind retry
// double-applies.
package services

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-circulation-backend/internal/domain"
	"github.com/tbourn/go-circulation-backend/internal/repo"
)

// CreditLedger applies clamped credit deltas.
type CreditLedger struct {
	DB    *gorm.DB
	Locks *KeyedMutex
	Now   func() time.Time
}

// CreditChange describes one ledger application.
type CreditChange struct {
	ReaderID  string                 `json:"reader_id"`
	Requested int                    `json:"requested"`
	Applied   int                    `json:"applied"`
	Before    int                    `json:"before"`
	After     int                    `json:"after"`
	Entry     *domain.CreditLogEntry `json:"entry"`
}

// Apply adds delta to the reader's credit in its own transaction, serialized
// per reader. It fails only with NotFound for an unknown reader.
func (l *CreditLedger) Apply(ctx context.Context, readerID string, delta int, reason, operator string) (*CreditChange, error) {
	tr := otel.Tracer("services/CreditLedger")
	ctx, span := tr.Start(ctx, "Apply",
		trace.WithAttributes(
			attribute.String("reader.id", readerID),
			attribute.Int("credit.delta", delta),
		),
	)
	defer span.End()

	unlock := l.Locks.acquire(lockKeys{Readers: []string{readerID}})
	defer unlock()

	var out *CreditChange
	err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ch, err := l.apply(ctx, tx, readerID, delta, reason, operator, clock(l.Now))
		out = ch
		return err
	})
	if err != nil {
		return nil, err
	}
	l.observe(ctx, out, reason)
	return out, nil
}

// AdjustCredit is the manual, system-operator entry point to the ledger.
func (l *CreditLedger) AdjustCredit(ctx context.Context, id Identity, readerID string, delta int, reason string) (*CreditChange, error) {
	if err := requireSystem(id); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if delta == 0 {
		return nil, newError(ErrInvalidInput, "delta must be non-zero")
	}
	if reason == "" {
		return nil, newError(ErrInvalidInput, "reason is required")
	}
	return l.Apply(ctx, readerID, delta, reason, id.Operator())
}

// apply is the transactional core used by Apply and by other services
// inside their own transaction. The caller must hold the reader lock.
func (l *CreditLedger) apply(ctx context.Context, tx *gorm.DB, readerID string, delta int, reason, operator string, now time.Time) (*CreditChange, error) {
	r, err := repo.GetReaderForUpdate(ctx, tx, readerID)
	if err != nil {
		return nil, mapNotFound(err, "reader", readerID)
	}

	next := domain.ClampCredit(r.Credit + delta)
	if next != r.Credit {
		if err := repo.SetReaderCredit(ctx, tx, readerID, next, now); err != nil {
			return nil, err
		}
	}

	entry := &domain.CreditLogEntry{
		ReaderID:  readerID,
		Delta:     next - r.Credit,
		Requested: delta,
		Balance:   next,
		Reason:    reason,
		Operator:  operator,
		CreatedAt: now,
	}
	if err := repo.AppendCreditLog(ctx, tx, entry); err != nil {
		return nil, err
	}

	return &CreditChange{
		ReaderID:  readerID,
		Requested: delta,
		Applied:   entry.Delta,
		Before:    r.Credit,
		After:     next,
		Entry:     entry,
	}, nil
}

// observe records metrics and a log line for a committed change.
func (l *CreditLedger) observe(ctx context.Context, ch *CreditChange, reason string) {
	if ch == nil {
		return
	}
	creditAdjustments.WithLabelValues(reasonLabel(reason)).Inc()
	logger(ctx).Info().
		Str("reader_id", ch.ReaderID).
		Int("requested", ch.Requested).
		Int("applied", ch.Applied).
		Int("balance", ch.After).
		Str("reason", reason).
		Msg("credit adjusted")
}
