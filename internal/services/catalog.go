// Package services – CatalogService
//
// This file implements the read side used by the circulation desk and by
// readers: title search with live availability, copy and reader lookups, and
// paginated loan and credit histories. It never mutates state.
//
// Repository access goes through the CatalogRepo interface so handlers and
// tests can swap the persistence layer.
package services

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-circulation-backend/internal/domain"
	"github.com/tbourn/go-circulation-backend/internal/search"
)

// CatalogRepo defines the repository contract required by CatalogService.
type CatalogRepo interface {
	// SearchTitles returns titles matching any of the folded fragments.
	SearchTitles(ctx context.Context, db *gorm.DB, fragments []string, offset, limit int) ([]domain.Title, error)

	// CopyCounts returns {total, in stock} copies per ISBN.
	CopyCounts(ctx context.Context, db *gorm.DB, isbns []string) (map[string][2]int64, error)

	// GetCopy fetches a copy by barcode.
	GetCopy(ctx context.Context, db *gorm.DB, barcode string) (*domain.Copy, error)

	// GetReader fetches a reader by id.
	GetReader(ctx context.Context, db *gorm.DB, id string) (*domain.Reader, error)

	// CountBorrowsByReader / ListBorrowsByReaderPage page a reader's loans.
	CountBorrowsByReader(ctx context.Context, db *gorm.DB, readerID string) (int64, error)
	ListBorrowsByReaderPage(ctx context.Context, db *gorm.DB, readerID string, offset, limit int) ([]domain.BorrowRecord, error)

	// CountCreditLog / ListCreditLogPage page a reader's ledger.
	CountCreditLog(ctx context.Context, db *gorm.DB, readerID string) (int64, error)
	ListCreditLogPage(ctx context.Context, db *gorm.DB, readerID string, offset, limit int) ([]domain.CreditLogEntry, error)

	// ListDamageLogByBarcode returns the damage entries for one copy.
	ListDamageLogByBarcode(ctx context.Context, db *gorm.DB, barcode string) ([]domain.DamageLogEntry, error)
}

// TitleAvailability is a search hit with its copy counts.
type TitleAvailability struct {
	domain.Title
	Total     int64   `json:"total_copies"`
	Available int64   `json:"available_copies"`
	Score     float64 `json:"score"`
}

// CopyDetail is a copy with its damage history.
type CopyDetail struct {
	domain.Copy
	Damage []domain.DamageLogEntry `json:"damage,omitempty"`
}

// CatalogService serves read-only catalog and history queries.
type CatalogService struct {
	DB       *gorm.DB
	Repo     CatalogRepo
	Analyzer *search.Analyzer

	// MaxCandidates caps the rows fetched before ranking.
	MaxCandidates int
}

// NewCatalogService constructs a CatalogService with default search settings.
func NewCatalogService(db *gorm.DB, r CatalogRepo) *CatalogService {
	return &CatalogService{
		DB:            db,
		Repo:          r,
		Analyzer:      search.NewAnalyzer(),
		MaxCandidates: 200,
	}
}

// SearchTitles matches q against title name, author, call number and ISBN,
// ranks the hits and returns the requested page with availability. An empty
// query lists the catalog by name.
func (s *CatalogService) SearchTitles(ctx context.Context, q string, page, pageSize int) ([]TitleAvailability, error) {
	tr := otel.Tracer("services/CatalogService")
	ctx, span := tr.Start(ctx, "SearchTitles", trace.WithAttributes(attribute.String("q", q)))
	defer span.End()

	page, pageSize = normalizePage(page, pageSize)
	q = strings.TrimSpace(q)
	terms := s.Analyzer.Terms(q)
	if q != "" && len(terms) == 0 {
		// Only stop words or one-letter tokens; fall back to the raw query.
		terms = []string{strings.ToLower(q)}
	}

	offset, limit := (page-1)*pageSize, pageSize
	if len(terms) > 0 {
		// Ranking reorders the candidates, so page after ranking.
		offset, limit = 0, s.MaxCandidates
	}
	titles, err := s.Repo.SearchTitles(ctx, s.DB, terms, offset, limit)
	if err != nil {
		return nil, err
	}

	byISBN := make(map[string]domain.Title, len(titles))
	docs := make([]search.Doc, 0, len(titles))
	for _, t := range titles {
		byISBN[t.ISBN] = t
		docs = append(docs, search.Doc{Key: t.ISBN, Text: t.Name + " " + t.Author + " " + t.CallNumber})
	}
	ranked := s.Analyzer.Rank(q, docs)
	if len(ranked) < len(docs) {
		// Partial-word matches found by the store score 0 and go last.
		seen := make(map[string]struct{}, len(ranked))
		for _, r := range ranked {
			seen[r.Key] = struct{}{}
		}
		for _, d := range docs {
			if _, ok := seen[d.Key]; !ok {
				ranked = append(ranked, search.Result{Key: d.Key})
			}
		}
	}
	if len(terms) > 0 {
		start := (page - 1) * pageSize
		if start >= len(ranked) {
			ranked = nil
		} else {
			end := min(start+pageSize, len(ranked))
			ranked = ranked[start:end]
		}
	}

	isbns := make([]string, 0, len(ranked))
	for _, r := range ranked {
		isbns = append(isbns, r.Key)
	}
	counts, err := s.Repo.CopyCounts(ctx, s.DB, isbns)
	if err != nil {
		return nil, err
	}

	out := make([]TitleAvailability, 0, len(ranked))
	for _, r := range ranked {
		c := counts[r.Key]
		out = append(out, TitleAvailability{Title: byISBN[r.Key], Total: c[0], Available: c[1], Score: r.Score})
	}
	span.SetAttributes(attribute.Int("hits", len(out)))
	return out, nil
}

// GetCopy returns a copy and its damage history.
func (s *CatalogService) GetCopy(ctx context.Context, barcode string) (*CopyDetail, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, newError(ErrInvalidInput, "barcode is required")
	}
	c, err := s.Repo.GetCopy(ctx, s.DB, barcode)
	if err != nil {
		return nil, mapNotFound(err, "copy", barcode)
	}
	out := &CopyDetail{Copy: *c}
	if c.Status == domain.CopyDamaged {
		if out.Damage, err = s.Repo.ListDamageLogByBarcode(ctx, s.DB, barcode); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GetReader returns a reader profile. Readers may only see their own.
func (s *CatalogService) GetReader(ctx context.Context, id Identity, readerID string) (*domain.Reader, error) {
	if err := requireSelfOrStaff(id, readerID); err != nil {
		return nil, err
	}
	r, err := s.Repo.GetReader(ctx, s.DB, readerID)
	if err != nil {
		return nil, mapNotFound(err, "reader", readerID)
	}
	return r, nil
}

// ReaderBorrows returns a page of a reader's loans, newest first, and the total.
func (s *CatalogService) ReaderBorrows(ctx context.Context, id Identity, readerID string, page, pageSize int) ([]domain.BorrowRecord, int64, error) {
	if _, err := s.GetReader(ctx, id, readerID); err != nil {
		return nil, 0, err
	}
	page, pageSize = normalizePage(page, pageSize)

	total, err := s.Repo.CountBorrowsByReader(ctx, s.DB, readerID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.BorrowRecord{}, 0, nil
	}
	items, err := s.Repo.ListBorrowsByReaderPage(ctx, s.DB, readerID, (page-1)*pageSize, pageSize)
	return items, total, err
}

// CreditLog returns a page of a reader's ledger, newest first, and the total.
func (s *CatalogService) CreditLog(ctx context.Context, id Identity, readerID string, page, pageSize int) ([]domain.CreditLogEntry, int64, error) {
	if _, err := s.GetReader(ctx, id, readerID); err != nil {
		return nil, 0, err
	}
	page, pageSize = normalizePage(page, pageSize)

	total, err := s.Repo.CountCreditLog(ctx, s.DB, readerID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.CreditLogEntry{}, 0, nil
	}
	items, err := s.Repo.ListCreditLogPage(ctx, s.DB, readerID, (page-1)*pageSize, pageSize)
	return items, total, err
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return page, pageSize
}
