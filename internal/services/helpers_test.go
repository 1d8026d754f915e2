package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tbourn/go-circulation-backend/internal/domain"
	"github.com/tbourn/go-circulation-backend/internal/repo"
)

var day0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// testClock is a settable clock shared by every service of a Core.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var (
	desk   = Identity{ActorID: "desk-1", Role: RoleCirculation}
	system = SystemIdentity()
)

func readerID(id string) Identity { return Identity{ActorID: id, Role: RoleReader} }

// newTestDB opens a private in-memory database. A single connection keeps
// SQLite's shared cache from reporting table locks under concurrent tests.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, repo.AutoMigrate(db))
	return db
}

func newTestCore(t *testing.T) (*Core, *gorm.DB, *testClock) {
	t.Helper()
	db := newTestDB(t)
	clk := &testClock{now: day0}
	return NewCore(db, WithClock(clk.Now)), db, clk
}

func addTitle(t *testing.T, db *gorm.DB, isbn, name, author string) {
	t.Helper()
	require.NoError(t, repo.CreateTitle(context.Background(), db, &domain.Title{
		ISBN: isbn, CallNumber: "TP/" + isbn, Name: name, Author: author, Classification: "TP",
	}))
}

func addCopy(t *testing.T, db *gorm.DB, barcode, isbn string, status domain.CopyStatus) {
	t.Helper()
	require.NoError(t, repo.CreateCopy(context.Background(), db, &domain.Copy{
		Barcode: barcode, ISBN: isbn, Location: "A-1", Status: status, EnteredAt: day0,
	}))
}

func addReader(t *testing.T, db *gorm.DB, id string, credit int) {
	t.Helper()
	require.NoError(t, repo.CreateReader(context.Background(), db, &domain.Reader{
		ID: id, Name: "Reader " + id, Credit: credit, Role: domain.ReaderGraduate, ExpiresOn: day0.AddDate(2, 0, 0),
	}))
}

func credit(t *testing.T, db *gorm.DB, id string) int {
	t.Helper()
	r, err := repo.GetReader(context.Background(), db, id)
	require.NoError(t, err)
	return r.Credit
}

func copyStatus(t *testing.T, db *gorm.DB, barcode string) domain.CopyStatus {
	t.Helper()
	c, err := repo.GetCopy(context.Background(), db, barcode)
	require.NoError(t, err)
	return c.Status
}

func creditLog(t *testing.T, db *gorm.DB, id string) []domain.CreditLogEntry {
	t.Helper()
	out, err := repo.ListCreditLogPage(context.Background(), db, id, 0, 100)
	require.NoError(t, err)
	return out
}

func requireKind(t *testing.T, err error, kind error) *Error {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, kind)
	se, ok := AsError(err)
	require.True(t, ok, "expected *services.Error, got %T", err)
	return se
}
