//go:build integration

package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"

	"github.com/tbourn/go-circulation-backend/internal/config"
	"github.com/tbourn/go-circulation-backend/internal/domain"
	"github.com/tbourn/go-circulation-backend/internal/reports"
	"github.com/tbourn/go-circulation-backend/internal/repo"
)

// setupPostgres starts a PostgreSQL container and returns a migrated GORM
// handle opened through repo.Open.
func setupPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	pg, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("circulation"),
		postgres.WithUsername("library"),
		postgres.WithPassword("library"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := pg.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := repo.Open(config.DBConfig{Driver: "postgres", DSN: dsn})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, repo.AutoMigrate(db))
	return db
}

func TestPostgres_BorrowReturnReserve(t *testing.T) {
	db := setupPostgres(t)
	clk := &testClock{now: day0}
	core := NewCore(db, WithClock(clk.Now))
	ctx := context.Background()

	addTitle(t, db, "9780262033848", "Introduction to Algorithms", "Cormen")
	addCopy(t, db, "PG-1", "9780262033848", domain.CopyInStock)
	addReader(t, db, "r1", 100)
	addReader(t, db, "r2", 100)

	rec, err := core.Circulation.Borrow(ctx, desk, "PG-1", "r1")
	require.NoError(t, err)

	q, err := core.Reservations.Enqueue(ctx, readerID("r2"), "r2", "9780262033848")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationQueued, q.Status)

	clk.Advance(domain.LoanPeriod + 2*dayLen)
	res, err := core.Circulation.Return(ctx, desk, "PG-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, res.Record.ID)
	assert.Equal(t, domain.BorrowReturnedLate, res.Record.Status)
	require.NotNil(t, res.Penalty)
	assert.Equal(t, 90, credit(t, db, "r1"))
	require.NotNil(t, res.Allocated)
	assert.Equal(t, domain.CopyHeld, copyStatus(t, db, "PG-1"))

	_, err = core.Circulation.Borrow(ctx, desk, "PG-1", "r2")
	require.NoError(t, err)
	assert.Equal(t, domain.CopyBorrowed, copyStatus(t, db, "PG-1"))

	rp, err := reports.New(db)
	require.NoError(t, err)
	sum, err := rp.Summary(ctx, clk.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.ActiveLoans)
	assert.Equal(t, int64(1), sum.CopiesByStatus[string(domain.CopyBorrowed)])
}

func TestPostgres_ConcurrentBorrowSingleWinner(t *testing.T) {
	db := setupPostgres(t)
	core := NewCore(db)
	ctx := context.Background()

	addTitle(t, db, "9780134190440", "The Go Programming Language", "Donovan")
	addCopy(t, db, "PG-2", "9780134190440", domain.CopyInStock)
	readers := []string{"a", "b", "c", "d", "e", "f"}
	for _, id := range readers {
		addReader(t, db, id, 100)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, id := range readers {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := core.Circulation.Borrow(ctx, desk, "PG-2", id); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	n, err := repo.CountCopies(ctx, db, "9780134190440", domain.CopyBorrowed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
