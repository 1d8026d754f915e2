package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-circulation-backend/internal/domain"
)

// ErrDuplicate means (actor_id, scope, key) is already recorded.
var ErrDuplicate = errors.New("repo: duplicate idempotency key")

// GetIdempotency returns the record for (actorID, scope, key) that is still
// valid at now, or ErrNotFound. Blank scope or key never match.
func GetIdempotency(ctx context.Context, db *gorm.DB, actorID, scope, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(scope) == "" || strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where(map[string]any{"actor_id": actorID, "scope": scope, "idem_key": key}).
		Where("expires_at > ?", now).
		Take(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency records the resource a request created, valid for ttl.
// The insert ignores conflicts, so a concurrent retry that lost the race gets
// ErrDuplicate on every driver without parsing driver messages.
func CreateIdempotency(ctx context.Context, db *gorm.DB, actorID, scope, key, resourceID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:         uuid.NewString(),
		ActorID:    actorID,
		Scope:      scope,
		Key:        key,
		ResourceID: resourceID,
		Status:     status,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	res := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
	switch {
	case res.Error != nil:
		return nil, res.Error
	case res.RowsAffected == 0:
		return nil, ErrDuplicate
	}
	return rec, nil
}

// PurgeIdempotency deletes records that expired at or before now and reports
// how many went.
func PurgeIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}
