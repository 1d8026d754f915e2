package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Core bundles the circulation services over one database handle, one lock
// table and one clock. Construct it once per process with NewCore.
type Core struct {
	Ledger       *CreditLedger
	Copies       *CopyStateMachine
	Reservations *ReservationQueue
	Circulation  *CirculationService
	Extensions   *ExtensionService
	Maintenance  *MaintenanceService
}

// Option customizes NewCore.
type Option func(*coreConfig)

type coreConfig struct {
	now   func() time.Time
	locks *KeyedMutex
}

// WithClock injects the time source. All timestamps are converted to UTC.
func WithClock(now func() time.Time) Option {
	return func(c *coreConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLocks shares an existing lock table (e.g. between two Core values
// over the same database in tests).
func WithLocks(k *KeyedMutex) Option {
	return func(c *coreConfig) {
		if k != nil {
			c.locks = k
		}
	}
}

// NewCore wires every service to the same DB, locks and clock.
func NewCore(db *gorm.DB, opts ...Option) *Core {
	cfg := coreConfig{now: time.Now, locks: NewKeyedMutex()}
	for _, o := range opts {
		o(&cfg)
	}
	now := func() time.Time { return cfg.now().UTC() }

	ledger := &CreditLedger{DB: db, Locks: cfg.locks, Now: now}
	copies := &CopyStateMachine{}
	queue := &ReservationQueue{DB: db, Locks: cfg.locks, Now: now, Ledger: ledger, Copies: copies}
	return &Core{
		Ledger:       ledger,
		Copies:       copies,
		Reservations: queue,
		Circulation:  &CirculationService{DB: db, Locks: cfg.locks, Now: now, Ledger: ledger, Copies: copies, Queue: queue},
		Extensions:   &ExtensionService{DB: db, Locks: cfg.locks, Now: now},
		Maintenance:  &MaintenanceService{DB: db, Now: now, Queue: queue, Ledger: ledger},
	}
}

// clock returns fn() in UTC, defaulting to time.Now.
func clock(fn func() time.Time) time.Time {
	if fn == nil {
		return time.Now().UTC()
	}
	return fn().UTC()
}

// logger returns the request-scoped logger when one is attached to ctx and
// the global logger otherwise.
func logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}
