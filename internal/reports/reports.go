// Package reports implements the read-only reporting queries consumed by the
// circulation desk and by audit tooling: overdue loans, the damage log and a
// circulation summary.
//
// Queries are built with goqu for the dialect of the underlying connection
// and scanned with sqlx. They read the same tables the core writes and never
// take locks.
package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"   // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	"github.com/jmoiron/sqlx"
	"gorm.io/gorm"

	"github.com/tbourn/go-circulation-backend/internal/domain"
)

// ErrBuildingQuery is returned when goqu cannot render a statement.
var ErrBuildingQuery = errors.New("reports: building query failed")

const (
	tblBorrows      = "borrow_records"
	tblCopies       = "copies"
	tblTitles       = "titles"
	tblReaders      = "readers"
	tblDamage       = "damage_log"
	tblReservations = "reservation_requests"

	defaultLimit = 100
	maxLimit     = 1000
)

// OverdueLoan is one active loan past its due date.
type OverdueLoan struct {
	BorrowID    uint64    `db:"borrow_id"   json:"borrow_id"`
	ReaderID    string    `db:"reader_id"   json:"reader_id"`
	ReaderName  string    `db:"reader_name" json:"reader_name"`
	Credit      int       `db:"credit"      json:"credit"`
	Barcode     string    `db:"barcode"     json:"barcode"`
	ISBN        string    `db:"isbn"        json:"isbn"`
	Title       string    `db:"title"       json:"title"`
	BorrowedAt  time.Time `db:"borrowed_at" json:"borrowed_at"`
	DueAt       time.Time `db:"due_at"      json:"due_at"`
	OverdueDays int       `db:"-"           json:"overdue_days"`
}

// DamageRow is one damage log entry joined with its title.
type DamageRow struct {
	ID        uint64    `db:"id"         json:"id"`
	Barcode   string    `db:"barcode"    json:"barcode"`
	ISBN      string    `db:"isbn"       json:"isbn"`
	Title     string    `db:"title"      json:"title"`
	Reason    string    `db:"reason"     json:"reason"`
	Operator  string    `db:"operator"   json:"operator"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Summary is the circulation dashboard.
type Summary struct {
	CopiesByStatus     map[string]int64 `json:"copies_by_status"`
	ActiveLoans        int64            `json:"active_loans"`
	OverdueLoans       int64            `json:"overdue_loans"`
	QueuedReservations int64            `json:"queued_reservations"`
	AllocatedHolds     int64            `json:"allocated_holds"`
	Readers            int64            `json:"readers"`
	ReadersBelowBorrow int64            `json:"readers_below_borrow_threshold"`
	GeneratedAt        time.Time        `json:"generated_at"`
}

// Reporter runs report queries over one connection.
type Reporter struct {
	db      *sqlx.DB
	dialect goqu.DialectWrapper
}

// New wraps the connection behind a GORM handle. The goqu dialect follows the
// GORM dialector (sqlite, postgres or mysql).
func New(gdb *gorm.DB) (*Reporter, error) {
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	name := gdb.Dialector.Name()
	var dialect string
	switch name {
	case "sqlite":
		dialect = "sqlite3"
	case "postgres", "mysql":
		dialect = name
	default:
		return nil, fmt.Errorf("reports: unsupported dialect %q", name)
	}
	return &Reporter{
		db:      sqlx.NewDb(sqlDB, name),
		dialect: goqu.Dialect(dialect),
	}, nil
}

// Overdue lists active loans whose due date is before now, most overdue first.
func (r *Reporter) Overdue(ctx context.Context, now time.Time, limit int) ([]OverdueLoan, error) {
	ds := r.dialect.
		From(goqu.T(tblBorrows).As("b")).
		Join(goqu.T(tblCopies).As("c"), goqu.On(goqu.I("c.barcode").Eq(goqu.I("b.barcode")))).
		Join(goqu.T(tblTitles).As("t"), goqu.On(goqu.I("t.isbn").Eq(goqu.I("c.isbn")))).
		Join(goqu.T(tblReaders).As("r"), goqu.On(goqu.I("r.id").Eq(goqu.I("b.reader_id")))).
		Select(
			goqu.I("b.id").As("borrow_id"),
			goqu.I("b.reader_id"),
			goqu.I("r.name").As("reader_name"),
			goqu.I("r.credit"),
			goqu.I("b.barcode"),
			goqu.I("c.isbn"),
			goqu.I("t.name").As("title"),
			goqu.I("b.borrowed_at"),
			goqu.I("b.due_at"),
		).
		Where(
			goqu.I("b.status").Eq(string(domain.BorrowActive)),
			goqu.I("b.due_at").Lt(now.UTC()),
		).
		Order(goqu.I("b.due_at").Asc(), goqu.I("b.id").Asc()).
		Limit(clampLimit(limit))

	var out []OverdueLoan
	if err := r.selectAll(ctx, &out, ds); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].OverdueDays = domain.OverdueDays(out[i].DueAt, now)
	}
	return out, nil
}

// Damage lists damage log entries created at or after since, newest first.
// A zero since lists everything.
func (r *Reporter) Damage(ctx context.Context, since time.Time, limit int) ([]DamageRow, error) {
	ds := r.dialect.
		From(goqu.T(tblDamage).As("d")).
		LeftJoin(goqu.T(tblTitles).As("t"), goqu.On(goqu.I("t.isbn").Eq(goqu.I("d.isbn")))).
		Select(
			goqu.I("d.id"),
			goqu.I("d.barcode"),
			goqu.I("d.isbn"),
			goqu.COALESCE(goqu.I("t.name"), "").As("title"),
			goqu.I("d.reason"),
			goqu.I("d.operator"),
			goqu.I("d.created_at"),
		).
		Order(goqu.I("d.created_at").Desc(), goqu.I("d.id").Desc()).
		Limit(clampLimit(limit))
	if !since.IsZero() {
		ds = ds.Where(goqu.I("d.created_at").Gte(since.UTC()))
	}

	var out []DamageRow
	if err := r.selectAll(ctx, &out, ds); err != nil {
		return nil, err
	}
	return out, nil
}

// Summary counts copies by status, loans, reservations and readers as of now.
func (r *Reporter) Summary(ctx context.Context, now time.Time) (*Summary, error) {
	out := &Summary{CopiesByStatus: map[string]int64{}, GeneratedAt: now.UTC()}

	var byStatus []struct {
		Status string `db:"status"`
		N      int64  `db:"n"`
	}
	ds := r.dialect.From(tblCopies).
		Select(goqu.C("status"), goqu.COUNT(goqu.Star()).As("n")).
		GroupBy(goqu.C("status")).
		Order(goqu.C("status").Asc())
	if err := r.selectAll(ctx, &byStatus, ds); err != nil {
		return nil, err
	}
	for _, s := range []domain.CopyStatus{domain.CopyInStock, domain.CopyBorrowed, domain.CopyHeld, domain.CopyDamaged} {
		out.CopiesByStatus[string(s)] = 0
	}
	for _, row := range byStatus {
		out.CopiesByStatus[row.Status] = row.N
	}

	counts := []struct {
		dst *int64
		ds  *goqu.SelectDataset
	}{
		{&out.ActiveLoans, r.count(tblBorrows, goqu.C("status").Eq(string(domain.BorrowActive)))},
		{&out.OverdueLoans, r.count(tblBorrows,
			goqu.C("status").Eq(string(domain.BorrowActive)),
			goqu.C("due_at").Lt(now.UTC()))},
		{&out.QueuedReservations, r.count(tblReservations, goqu.C("status").Eq(string(domain.ReservationQueued)))},
		{&out.AllocatedHolds, r.count(tblReservations, goqu.C("status").Eq(string(domain.ReservationAllocated)))},
		{&out.Readers, r.count(tblReaders)},
		{&out.ReadersBelowBorrow, r.count(tblReaders, goqu.C("credit").Lt(domain.MinCreditToBorrow))},
	}
	for _, c := range counts {
		if err := r.get(ctx, c.dst, c.ds); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Reporter) count(table string, where ...goqu.Expression) *goqu.SelectDataset {
	ds := r.dialect.From(table).Select(goqu.COUNT(goqu.Star()))
	if len(where) > 0 {
		ds = ds.Where(where...)
	}
	return ds
}

func (r *Reporter) selectAll(ctx context.Context, dst any, ds *goqu.SelectDataset) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return errors.Join(ErrBuildingQuery, err)
	}
	return r.db.SelectContext(ctx, dst, query, args...)
}

func (r *Reporter) get(ctx context.Context, dst any, ds *goqu.SelectDataset) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return errors.Join(ErrBuildingQuery, err)
	}
	return r.db.GetContext(ctx, dst, query, args...)
}

func clampLimit(n int) uint {
	switch {
	case n <= 0:
		return defaultLimit
	case n > maxLimit:
		return maxLimit
	}
	return uint(n)
}
