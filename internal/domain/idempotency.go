package domain

import "time"

// Idempotency remembers which record a keyed POST created, so a desk client
// retrying after a timeout gets the same loan, reservation or extension back
// instead of a second one (and a second credit entry). Scope is the route,
// e.g. "/api/v1/circulation/borrow"; (ActorID, Scope, Key) is unique.
type Idempotency struct {
	ID         string    `gorm:"type:varchar(36);not null;primaryKey"`
	ActorID    string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_actor_scope_key,priority:1"`
	Scope      string    `gorm:"type:varchar(128);not null;uniqueIndex:ux_actor_scope_key,priority:2"`
	Key        string    `gorm:"column:idem_key;type:varchar(200);not null;uniqueIndex:ux_actor_scope_key,priority:3"`
	ResourceID string    `gorm:"type:varchar(64);not null"`
	Status     int       `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt  time.Time `gorm:"not null;index"`
}

func (Idempotency) TableName() string { return "idempotency" }
