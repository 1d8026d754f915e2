// Package repo is the GORM persistence layer of the circulation core:
// catalog, readers, loans, reservations, extensions, the credit and damage
// logs, job runs and idempotency records.
//
// Functions take a *gorm.DB so they run equally inside or outside a
// transaction, and hold no business rules. Missing rows surface as
// ErrNotFound, conditional status updates that match nothing as ErrStale;
// other driver errors pass through unchanged.
package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-circulation-backend/internal/config"
	"github.com/tbourn/go-circulation-backend/internal/domain"
)

// ErrNotFound aliases gorm.ErrRecordNotFound.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrStale is returned by conditional updates when the row was not in the
// expected state (another writer moved it first).
var ErrStale = errors.New("repo: stale row state")

// sqlitePragmas are applied by the driver to every new connection; a plain
// PRAGMA statement would only reach whichever pooled connection ran it.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

// Open connects to the store selected by cfg.Driver ("" means sqlite), tunes
// the pool and installs the GORM tracing plugin so statements become child
// spans of the request or job.
func Open(cfg config.DBConfig) (*gorm.DB, error) {
	var (
		dial    gorm.Dialector
		maxOpen int
	)
	switch cfg.Driver {
	case "", "sqlite":
		dsn, err := sqliteDSN(cfg.Path)
		if err != nil {
			return nil, err
		}
		dial, maxOpen = sqlite.Open(dsn), 10
	case "postgres":
		dial, maxOpen = postgres.Open(cfg.DSN), 25
	case "mysql":
		dial, maxOpen = mysql.Open(cfg.DSN), 25
	default:
		return nil, fmt.Errorf("repo: unsupported driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dial, &gorm.Config{TranslateError: cfg.Driver == "postgres" || cfg.Driver == "mysql"})
	if err != nil {
		return nil, fmt.Errorf("repo: open %s: %w", dial.Name(), err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxOpen)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// sqliteDSN appends the connection pragmas to path. The parent directory must
// exist; SQLite reports a missing one with an unhelpful "out of memory".
func sqliteDSN(path string) (string, error) {
	if path == "" {
		return "", errors.New("repo: sqlite path is empty")
	}
	file, _, _ := strings.Cut(strings.TrimPrefix(path, "file:"), "?")
	if dir := filepath.Dir(file); dir != "." && !strings.Contains(path, "mode=memory") {
		if _, err := os.Stat(dir); err != nil {
			return "", fmt.Errorf("repo: sqlite directory: %w", err)
		}
	}
	var b strings.Builder
	b.WriteString(path)
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	for _, p := range sqlitePragmas {
		b.WriteString(sep + "_pragma=" + p)
		sep = "&"
	}
	return b.String(), nil
}

// AutoMigrate creates or updates every table. Referenced tables come first.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Title{},
		&domain.Reader{},
		&domain.Copy{},
		&domain.BorrowRecord{},
		&domain.ReservationRequest{},
		&domain.ExtensionRequest{},
		&domain.CreditLogEntry{},
		&domain.DamageLogEntry{},
		&domain.JobRun{},
		&domain.JobLease{},
		&domain.Idempotency{},
	)
}

// forUpdate adds SELECT ... FOR UPDATE on engines with row locks. SQLite
// serializes writers at the database level.
func forUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector != nil && db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}
