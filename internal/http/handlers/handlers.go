// Package handlers exposes the circulation core over HTTP.
//
// Handlers are transport-thin: they bind and validate input, build the
// caller's services.Identity from the authenticated request, call the
// application services and translate results (or classified errors) into
// HTTP responses.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-circulation-backend/internal/domain"
	"github.com/tbourn/go-circulation-backend/internal/http/middleware"
	"github.com/tbourn/go-circulation-backend/internal/reports"
	"github.com/tbourn/go-circulation-backend/internal/services"
	"github.com/tbourn/go-circulation-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// CirculationService lends, takes back and retires copies.
type CirculationService interface {
	Borrow(ctx context.Context, id services.Identity, barcode, readerID string) (*domain.BorrowRecord, error)
	Return(ctx context.Context, id services.Identity, barcode string) (*services.ReturnResult, error)
	ReportDamage(ctx context.Context, id services.Identity, barcode, reason string) (*domain.DamageLogEntry, error)
}

// ReservationService manages the per-title waiting list.
type ReservationService interface {
	Enqueue(ctx context.Context, id services.Identity, readerID, isbn string) (*domain.ReservationRequest, error)
	Get(ctx context.Context, id services.Identity, reservationID uint64) (*services.ReservationView, error)
}

// ExtensionService handles due-date extension requests.
type ExtensionService interface {
	Request(ctx context.Context, id services.Identity, borrowID uint64, days int, reason string) (*domain.ExtensionRequest, error)
	Review(ctx context.Context, id services.Identity, requestID uint64, decision string) (*domain.ExtensionRequest, error)
}

// LedgerService is the manual credit adjustment entry point.
type LedgerService interface {
	AdjustCredit(ctx context.Context, id services.Identity, readerID string, delta int, reason string) (*services.CreditChange, error)
}

// MaintenanceService runs and lists batch jobs.
type MaintenanceService interface {
	ScanReservationExpiry(ctx context.Context, id services.Identity, opts services.RunOptions) (*services.JobResult, error)
	MonthlyCreditRecovery(ctx context.Context, id services.Identity, opts services.RunOptions) (*services.JobResult, error)
	ListRuns(ctx context.Context, id services.Identity, job string, limit int) ([]domain.JobRun, error)
}

// CatalogService serves the read side: search, copies, reader history.
type CatalogService interface {
	SearchTitles(ctx context.Context, q string, page, pageSize int) ([]services.TitleAvailability, error)
	GetCopy(ctx context.Context, barcode string) (*services.CopyDetail, error)
	GetReader(ctx context.Context, id services.Identity, readerID string) (*domain.Reader, error)
	ReaderBorrows(ctx context.Context, id services.Identity, readerID string, page, pageSize int) ([]domain.BorrowRecord, int64, error)
	CreditLog(ctx context.Context, id services.Identity, readerID string, page, pageSize int) ([]domain.CreditLogEntry, int64, error)
}

// ReportService runs the read-only circulation reports.
type ReportService interface {
	Overdue(ctx context.Context, now time.Time, limit int) ([]reports.OverdueLoan, error)
	Damage(ctx context.Context, since time.Time, limit int) ([]reports.DamageRow, error)
	Summary(ctx context.Context, now time.Time) (*reports.Summary, error)
}

// ReplayStore persists idempotency records and loads the resources they
// point to, so that a retried POST returns the original result.
type ReplayStore interface {
	Remember(ctx context.Context, actorID, scope, key, resourceID string) error
	Borrow(ctx context.Context, id uint64) (*domain.BorrowRecord, error)
	Reservation(ctx context.Context, id uint64) (*domain.ReservationRequest, error)
	Extension(ctx context.Context, id uint64) (*domain.ExtensionRequest, error)
}

//
// Handler wiring
//

// Deps carries the services a Handlers value depends on. Replay may be nil,
// in which case Idempotency-Key headers are accepted but not honored.
type Deps struct {
	Circulation  CirculationService
	Reservations ReservationService
	Extensions   ExtensionService
	Ledger       LedgerService
	Maintenance  MaintenanceService
	Catalog      CatalogService
	Reports      ReportService
	Replay       ReplayStore
	Now          func() time.Time
}

// Handlers groups the HTTP endpoints of the circulation API.
type Handlers struct {
	circ    CirculationService
	resv    ReservationService
	ext     ExtensionService
	ledger  LedgerService
	jobs    MaintenanceService
	catalog CatalogService
	reports ReportService
	replay  ReplayStore
	now     func() time.Time
}

// New constructs a Handlers instance bound to the given services.
func New(d Deps) *Handlers {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Handlers{
		circ:    d.Circulation,
		resv:    d.Reservations,
		ext:     d.Extensions,
		ledger:  d.Ledger,
		jobs:    d.Maintenance,
		catalog: d.Catalog,
		reports: d.Reports,
		replay:  d.Replay,
		now:     func() time.Time { return now().UTC() },
	}
}

//
// DTOs shared across endpoints
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	tp := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: tp,
		HasNext:    page < tp,
	}
}

//
// Helpers
//

// identity is the authenticated caller for this request.
func identity(c *gin.Context) services.Identity {
	return middleware.IdentityFrom(c)
}

// clampPagination parses and bounds page and page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.ClampPage(c.Query("page"), c.Query("page_size"))
}

// pathID parses a numeric path parameter; it writes a 400 and returns false
// when the value is not a positive integer.
func pathID(c *gin.Context, name string) (uint64, bool) {
	id, valid := utils.ParseID(c.Param(name))
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, name+" must be a positive integer")
	}
	return id, valid
}

// replayID returns the stored resource id when this request is a replay of a
// completed POST and a replay store is configured.
func (h *Handlers) replayID(c *gin.Context) (uint64, bool) {
	if h.replay == nil {
		return 0, false
	}
	raw, found := middleware.ReplayResource(c)
	if !found {
		return 0, false
	}
	return utils.ParseID(raw)
}

// remember records the created resource under the request's idempotency key.
// Failures are logged and otherwise ignored; the write already happened.
func (h *Handlers) remember(c *gin.Context, resourceID uint64) {
	if h.replay == nil {
		return
	}
	key, present := middleware.GetIdempotencyKey(c)
	if !present {
		return
	}
	err := h.replay.Remember(c.Request.Context(), middleware.ActorID(c), middleware.IdempotencyScope(c), key, utils.FormatID(resourceID))
	if err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Str("idempotency_key", key).Msg("idempotency record not stored")
	}
}
