package repo

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/go-circulation-backend/internal/config"
	"github.com/tbourn/go-circulation-backend/internal/domain"
)

func TestSqliteDSN(t *testing.T) {
	dsn, err := sqliteDSN("lib.db")
	if err != nil {
		t.Fatal(err)
	}
	want := "lib.db?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if dsn != want {
		t.Fatalf("dsn = %q", dsn)
	}

	mem, err := sqliteDSN("file:desk?mode=memory&cache=shared")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(mem, "file:desk?mode=memory&cache=shared&_pragma=") {
		t.Fatalf("memory dsn = %q", mem)
	}

	if _, err := sqliteDSN(""); err == nil {
		t.Fatal("empty path accepted")
	}
	if _, err := sqliteDSN(filepath.Join(t.TempDir(), "missing", "lib.db")); err == nil {
		t.Fatal("missing directory accepted")
	}
}

func TestOpen_SQLitePragmasOnEveryConnection(t *testing.T) {
	db, err := Open(config.DBConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "lib.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	if db.Dialector.Name() != "sqlite" {
		t.Fatalf("dialector = %q", db.Dialector.Name())
	}
	if got := sqlDB.Stats().MaxOpenConnections; got != 10 {
		t.Fatalf("MaxOpenConnections = %d", got)
	}

	// Pin several connections at once so each one is checked.
	tx1, tx2 := db.Begin(), db.Begin()
	defer tx1.Rollback()
	defer tx2.Rollback()
	for n, conn := range map[string]func(string, any) error{
		"tx1": func(q string, dst any) error { return tx1.Raw(q).Row().Scan(dst) },
		"tx2": func(q string, dst any) error { return tx2.Raw(q).Row().Scan(dst) },
	} {
		var journal string
		var fk, busy int
		if err := conn("PRAGMA journal_mode", &journal); err != nil || strings.ToLower(journal) != "wal" {
			t.Fatalf("%s journal_mode = %q (%v)", n, journal, err)
		}
		if err := conn("PRAGMA foreign_keys", &fk); err != nil || fk != 1 {
			t.Fatalf("%s foreign_keys = %d (%v)", n, fk, err)
		}
		if err := conn("PRAGMA busy_timeout", &busy); err != nil || busy != 5000 {
			t.Fatalf("%s busy_timeout = %d (%v)", n, busy, err)
		}
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	for _, d := range []string{"oracle", "SQLITE"} {
		if _, err := Open(config.DBConfig{Driver: d, Path: "x.db"}); err == nil {
			t.Fatalf("driver %q accepted", d)
		}
	}
}

func TestAutoMigrate_CreatesUsableSchema(t *testing.T) {
	db, err := Open(config.DBConfig{Path: filepath.Join(t.TempDir(), "lib.db")})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("second AutoMigrate: %v", err)
	}
	for _, m := range []any{
		&domain.Title{}, &domain.Reader{}, &domain.Copy{}, &domain.BorrowRecord{},
		&domain.ReservationRequest{}, &domain.ExtensionRequest{}, &domain.CreditLogEntry{},
		&domain.DamageLogEntry{}, &domain.JobRun{}, &domain.JobLease{}, &domain.Idempotency{},
	} {
		if !db.Migrator().HasTable(m) {
			t.Fatalf("missing table for %T", m)
		}
	}

	now := time.Date(2024, 9, 2, 10, 0, 0, 0, time.UTC)
	if err := db.Create(&domain.Title{ISBN: "9780262033848", CallNumber: "QA76.6", Name: "Introduction to Algorithms", Author: "Cormen", Classification: "QA"}).Error; err != nil {
		t.Fatalf("title: %v", err)
	}
	if err := db.Create(&domain.Copy{Barcode: "QA-0001", ISBN: "9780262033848", Location: "Stacks 2", Status: domain.CopyInStock, EnteredAt: now}).Error; err != nil {
		t.Fatalf("copy: %v", err)
	}
	var c domain.Copy
	if err := db.First(&c, "barcode = ?", "QA-0001").Error; err != nil || c.Status != domain.CopyInStock {
		t.Fatalf("read back: %+v %v", c, err)
	}
}

func TestOpen_FreshFileCataloguesAndEnforcesParents(t *testing.T) {
	db, err := Open(config.DBConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "fresh.db")})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	// Foreign keys belong to the child tables; titles references nothing.
	var ddl string
	if err := db.Raw("SELECT sql FROM sqlite_master WHERE type = 'table' AND name = 'titles'").Row().Scan(&ddl); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(strings.ToUpper(ddl), "REFERENCES") {
		t.Fatalf("titles DDL has a foreign key: %s", ddl)
	}

	ctx := context.Background()
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	if err := CreateTitle(ctx, db, &domain.Title{ISBN: "9787111544937", CallNumber: "TP312/K2", Name: "Concurrency in Go", Author: "Cox-Buday", Classification: "TP"}); err != nil {
		t.Fatalf("CreateTitle: %v", err)
	}
	if err := CreateReader(ctx, db, &domain.Reader{ID: "r1", Name: "Reader One", Credit: 95, Role: domain.ReaderFaculty, ExpiresOn: now.AddDate(1, 0, 0)}); err != nil {
		t.Fatalf("CreateReader: %v", err)
	}
	if err := CreateCopy(ctx, db, &domain.Copy{Barcode: "C1", ISBN: "9787111544937", Location: "B-2", Status: domain.CopyInStock, EnteredAt: now}); err != nil {
		t.Fatalf("CreateCopy: %v", err)
	}
	if err := CreateReservation(ctx, db, &domain.ReservationRequest{ReaderID: "r1", ISBN: "9787111544937", RequestedAt: now, ExpiresAt: now.AddDate(0, 0, 60), Status: domain.ReservationQueued}); err != nil {
		t.Fatalf("CreateReservation: %v", err)
	}
	if err := CreateBorrow(ctx, db, &domain.BorrowRecord{ReaderID: "r1", Barcode: "C1", BorrowedAt: now, DueAt: now.AddDate(0, 0, 30), Status: domain.BorrowActive}); err != nil {
		t.Fatalf("CreateBorrow: %v", err)
	}

	orphans := map[string]error{
		"copy of unknown title": CreateCopy(ctx, db, &domain.Copy{Barcode: "C9", ISBN: "missing", Location: "B-2", Status: domain.CopyInStock, EnteredAt: now}),
		"reservation of unknown title": CreateReservation(ctx, db, &domain.ReservationRequest{
			ReaderID: "r1", ISBN: "missing", RequestedAt: now, ExpiresAt: now, Status: domain.ReservationQueued,
		}),
		"loan of unknown copy": CreateBorrow(ctx, db, &domain.BorrowRecord{
			ReaderID: "r1", Barcode: "missing", BorrowedAt: now, DueAt: now, Status: domain.BorrowActive,
		}),
	}
	for name, err := range orphans {
		if err == nil {
			t.Errorf("%s accepted", name)
		}
	}
}
