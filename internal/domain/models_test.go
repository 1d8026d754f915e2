package domain

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:domain_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := db.AutoMigrate(
		&Title{}, &Copy{}, &Reader{}, &BorrowRecord{}, &ReservationRequest{},
		&ExtensionRequest{}, &CreditLogEntry{}, &DamageLogEntry{}, &JobRun{}, &JobLease{}, &Idempotency{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		Title{}.TableName():              "titles",
		Copy{}.TableName():               "copies",
		Reader{}.TableName():             "readers",
		BorrowRecord{}.TableName():       "borrow_records",
		ReservationRequest{}.TableName(): "reservation_requests",
		ExtensionRequest{}.TableName():   "extension_requests",
		CreditLogEntry{}.TableName():     "credit_log",
		DamageLogEntry{}.TableName():     "damage_log",
		JobRun{}.TableName():             "job_runs",
		JobLease{}.TableName():           "job_leases",
		Idempotency{}.TableName():        "idempotency",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestMigrations_Indexes(t *testing.T) {
	db := newDomainDB(t)
	m := db.Migrator()

	idx := []struct {
		model any
		name  string
	}{
		{&Copy{}, "idx_copy_isbn_status"},
		{&BorrowRecord{}, "idx_borrow_barcode_status"},
		{&BorrowRecord{}, "idx_borrow_reader_status"},
		{&ReservationRequest{}, "idx_resv_isbn_status"},
		{&ReservationRequest{}, "idx_resv_reader_status"},
		{&ExtensionRequest{}, "idx_ext_borrow_status"},
		{&CreditLogEntry{}, "idx_credit_reader_time"},
		{&Idempotency{}, "ux_actor_scope_key"},
	}
	for _, tc := range idx {
		if !m.HasIndex(tc.model, tc.name) {
			t.Fatalf("expected index %s on %T", tc.name, tc.model)
		}
	}
}

func TestConstraints_CreditAndStatusChecks(t *testing.T) {
	db := newDomainDB(t)
	now := time.Now().UTC()

	if err := db.Create(&Reader{ID: "r1", Name: "A", Credit: 101, Role: ReaderGraduate, ExpiresOn: now}).Error; err == nil {
		t.Fatalf("expected CHECK violation for credit > 100")
	}
	if err := db.Create(&Reader{ID: "r2", Name: "B", Credit: -1, Role: ReaderGraduate, ExpiresOn: now}).Error; err == nil {
		t.Fatalf("expected CHECK violation for credit < 0")
	}

	if err := db.Create(&Title{ISBN: "i1", CallNumber: "C1", Name: "N", Author: "A", Classification: "TP"}).Error; err != nil {
		t.Fatalf("seed title: %v", err)
	}
	if err := db.Create(&Copy{Barcode: "b1", ISBN: "i1", Location: "L", Status: "lost", EnteredAt: now}).Error; err == nil {
		t.Fatalf("expected CHECK violation for unknown copy status")
	}
	if err := db.Create(&Copy{Barcode: "b2", ISBN: "missing", Location: "L", Status: CopyInStock, EnteredAt: now}).Error; err == nil {
		t.Fatalf("expected FK violation for copy without title")
	}
	if err := db.Create(&Copy{Barcode: "b3", ISBN: "i1", Location: "L", Status: CopyInStock, EnteredAt: now}).Error; err != nil {
		t.Fatalf("copy of a known title: %v", err)
	}
	if err := db.Create(&ReservationRequest{ReaderID: "r9", ISBN: "missing", RequestedAt: now, ExpiresAt: now, Status: ReservationQueued}).Error; err == nil {
		t.Fatalf("expected FK violation for reservation without title or reader")
	}
	if err := db.Create(&BorrowRecord{ReaderID: "r9", Barcode: "missing", BorrowedAt: now, DueAt: now, Status: BorrowActive}).Error; err == nil {
		t.Fatalf("expected FK violation for loan without copy")
	}
}
