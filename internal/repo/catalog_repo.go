// Titles and copies. Copy status changes go through conditional updates so a
// stale read can never overwrite a newer state.

package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-circulation-backend/internal/domain"
)

// CreateTitle inserts a catalog record.
func CreateTitle(ctx context.Context, db *gorm.DB, t *domain.Title) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(t).Error
}

// GetTitle fetches a title by ISBN or returns ErrNotFound.
func GetTitle(ctx context.Context, db *gorm.DB, isbn string) (*domain.Title, error) {
	var t domain.Title
	if err := db.WithContext(ctx).Where("isbn = ?", isbn).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateCallNumber corrects the call number of a title.
func UpdateCallNumber(ctx context.Context, db *gorm.DB, isbn, callNumber string) error {
	res := db.WithContext(ctx).
		Model(&domain.Title{}).
		Where("isbn = ?", isbn).
		Update("call_number", callNumber)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SearchTitles returns titles whose name, author or call number contains any
// of the given lower-case fragments, ordered by name. An empty fragment list
// matches all.
func SearchTitles(ctx context.Context, db *gorm.DB, fragments []string, offset, limit int) ([]domain.Title, error) {
	q := db.WithContext(ctx).Model(&domain.Title{})
	if len(fragments) > 0 {
		const expr = "LOWER(name) LIKE ? OR LOWER(author) LIKE ? OR LOWER(call_number) LIKE ? OR isbn = ?"
		cond := db.Session(&gorm.Session{NewDB: true})
		for i, f := range fragments {
			like := "%" + f + "%"
			if i == 0 {
				cond = cond.Where(expr, like, like, like, f)
			} else {
				cond = cond.Or(expr, like, like, like, f)
			}
		}
		q = q.Where(cond)
	}
	var out []domain.Title
	err := q.Order("name ASC, isbn ASC").Offset(offset).Limit(limit).Find(&out).Error
	return out, err
}

// CopyCounts returns total and in-stock copy counts per ISBN.
func CopyCounts(ctx context.Context, db *gorm.DB, isbns []string) (map[string][2]int64, error) {
	out := make(map[string][2]int64, len(isbns))
	if len(isbns) == 0 {
		return out, nil
	}
	type row struct {
		ISBN      string
		Total     int64
		Available int64
	}
	var rows []row
	err := db.WithContext(ctx).
		Model(&domain.Copy{}).
		Select("isbn, COUNT(*) AS total, SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS available", domain.CopyInStock).
		Where("isbn IN ?", isbns).
		Group("isbn").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ISBN] = [2]int64{r.Total, r.Available}
	}
	return out, nil
}

// CreateCopy inserts a physical copy. New copies enter circulation in stock.
func CreateCopy(ctx context.Context, db *gorm.DB, c *domain.Copy) error {
	if c.Status == "" {
		c.Status = domain.CopyInStock
	}
	if c.EnteredAt.IsZero() {
		c.EnteredAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(c).Error
}

// GetCopy fetches a copy by barcode or returns ErrNotFound.
func GetCopy(ctx context.Context, db *gorm.DB, barcode string) (*domain.Copy, error) {
	var c domain.Copy
	if err := db.WithContext(ctx).Where("barcode = ?", barcode).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCopyForUpdate is GetCopy with a row lock held until the transaction ends.
func GetCopyForUpdate(ctx context.Context, tx *gorm.DB, barcode string) (*domain.Copy, error) {
	var c domain.Copy
	if err := forUpdate(tx.WithContext(ctx)).Where("barcode = ?", barcode).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// CountCopies returns how many copies of isbn are in the given status.
func CountCopies(ctx context.Context, db *gorm.DB, isbn string, status domain.CopyStatus) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Copy{}).
		Where("isbn = ? AND status = ?", isbn, status).
		Count(&n).Error
	return n, err
}

// SetCopyStatus moves a copy from one status to another. The WHERE clause
// includes the expected current status, so a concurrent writer that already
// moved the row makes this return ErrStale instead of overwriting.
func SetCopyStatus(ctx context.Context, tx *gorm.DB, barcode string, from, to domain.CopyStatus, now time.Time) error {
	res := tx.WithContext(ctx).
		Model(&domain.Copy{}).
		Where("barcode = ? AND status = ?", barcode, from).
		Updates(map[string]any{"status": to, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStale
	}
	return nil
}
