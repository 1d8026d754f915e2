package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-circulation-backend/internal/domain"
	"github.com/tbourn/go-circulation-backend/internal/repo"
)

// CopyStateMachine applies lifecycle events to copies. It is a primitive:
// it runs inside the caller's transaction and does not touch loans or
// reservations, which the orchestrating service updates in the same tx.
type CopyStateMachine struct{}

// Transition loads the copy under a row lock, checks ev against the legal
// transition table and persists the new status. It fails with NotFound for
// an unknown barcode and InvalidState for an illegal transition.
func (m *CopyStateMachine) Transition(ctx context.Context, tx *gorm.DB, barcode string, ev domain.CopyEvent, now time.Time) (domain.CopyStatus, error) {
	c, err := repo.GetCopyForUpdate(ctx, tx, barcode)
	if err != nil {
		return "", mapNotFound(err, "copy", barcode)
	}
	return m.apply(ctx, tx, c, ev, now)
}

// apply transitions an already loaded copy and updates c in place.
func (m *CopyStateMachine) apply(ctx context.Context, tx *gorm.DB, c *domain.Copy, ev domain.CopyEvent, now time.Time) (domain.CopyStatus, error) {
	next, ok := domain.NextCopyStatus(c.Status, ev)
	if !ok {
		return "", newError(ErrInvalidState, "illegal copy transition",
			"barcode", c.Barcode, "status", string(c.Status), "event", string(ev))
	}
	if err := repo.SetCopyStatus(ctx, tx, c.Barcode, c.Status, next, now); err != nil {
		if errors.Is(err, repo.ErrStale) {
			return "", staleState("copy", c.Barcode)
		}
		return "", err
	}
	c.Status = next
	c.UpdatedAt = now
	return next, nil
}
