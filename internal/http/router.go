// Package httpapi mounts the circulation API on a Gin engine: the global
// middleware chain, the per-caller chain on the API group, and the routes
// for the desk, readers, the scheduler and reporting.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-circulation-backend/internal/config"
	"github.com/tbourn/go-circulation-backend/internal/docs"
	"github.com/tbourn/go-circulation-backend/internal/domain"
	"github.com/tbourn/go-circulation-backend/internal/http/handlers"
	"github.com/tbourn/go-circulation-backend/internal/http/middleware"
	"github.com/tbourn/go-circulation-backend/internal/reports"
	"github.com/tbourn/go-circulation-backend/internal/repo"
	"github.com/tbourn/go-circulation-backend/internal/services"
)

// catalogRepoShim adapts the repository free functions to the
// services.CatalogRepo interface expected by the CatalogService.
type catalogRepoShim struct{}

func (catalogRepoShim) SearchTitles(ctx context.Context, db *gorm.DB, fragments []string, offset, limit int) ([]domain.Title, error) {
	return repo.SearchTitles(ctx, db, fragments, offset, limit)
}

func (catalogRepoShim) CopyCounts(ctx context.Context, db *gorm.DB, isbns []string) (map[string][2]int64, error) {
	return repo.CopyCounts(ctx, db, isbns)
}

func (catalogRepoShim) GetCopy(ctx context.Context, db *gorm.DB, barcode string) (*domain.Copy, error) {
	return repo.GetCopy(ctx, db, barcode)
}

func (catalogRepoShim) GetReader(ctx context.Context, db *gorm.DB, id string) (*domain.Reader, error) {
	return repo.GetReader(ctx, db, id)
}

func (catalogRepoShim) CountBorrowsByReader(ctx context.Context, db *gorm.DB, readerID string) (int64, error) {
	return repo.CountBorrowsByReader(ctx, db, readerID)
}

func (catalogRepoShim) ListBorrowsByReaderPage(ctx context.Context, db *gorm.DB, readerID string, offset, limit int) ([]domain.BorrowRecord, error) {
	return repo.ListBorrowsByReaderPage(ctx, db, readerID, offset, limit)
}

func (catalogRepoShim) CountCreditLog(ctx context.Context, db *gorm.DB, readerID string) (int64, error) {
	return repo.CountCreditLog(ctx, db, readerID)
}

func (catalogRepoShim) ListCreditLogPage(ctx context.Context, db *gorm.DB, readerID string, offset, limit int) ([]domain.CreditLogEntry, error) {
	return repo.ListCreditLogPage(ctx, db, readerID, offset, limit)
}

func (catalogRepoShim) ListDamageLogByBarcode(ctx context.Context, db *gorm.DB, barcode string) ([]domain.DamageLogEntry, error) {
	return repo.ListDamageLogByBarcode(ctx, db, barcode)
}

// replayStore backs handlers.ReplayStore with the idempotency table.
type replayStore struct {
	db  *gorm.DB
	ttl time.Duration
}

// Remember stores the record; a concurrent duplicate is not an error.
func (s replayStore) Remember(ctx context.Context, actorID, scope, key, resourceID string) error {
	_, err := repo.CreateIdempotency(ctx, s.db, actorID, scope, key, resourceID, http.StatusCreated, s.ttl)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil
	}
	return err
}

func (s replayStore) Borrow(ctx context.Context, id uint64) (*domain.BorrowRecord, error) {
	return repo.GetBorrow(ctx, s.db, id)
}

func (s replayStore) Reservation(ctx context.Context, id uint64) (*domain.ReservationRequest, error) {
	return repo.GetReservation(ctx, s.db, id)
}

func (s replayStore) Extension(ctx context.Context, id uint64) (*domain.ExtensionRequest, error) {
	return repo.GetExtension(ctx, s.db, id)
}

// lookupIdempotency is the middleware's view of the idempotency table.
func lookupIdempotency(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, actorID, scope, key string, now time.Time) (string, bool, error) {
		rec, err := repo.GetIdempotency(ctx, db, actorID, scope, key, now)
		if errors.Is(err, repo.ErrNotFound) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		return rec.ResourceID, true, nil
	}
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. core is shared with the scheduler so both see the same job locks.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: request logger plus one scrubbed access line
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS and Security headers
//
// and on the API group:
//  8. Identity (401 without X-Actor-ID / X-Actor-Role)
//  9. Idempotency validator (keyed by actor, before the rate limiter)
//  10. Rate limiter (per actor/IP; replays and system callers bypass it)
func RegisterRoutes(r *gin.Engine, db *gorm.DB, core *services.Core, cfg config.Config) error {
	rep, err := reports.New(db)
	if err != nil {
		return err
	}

	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging; reader ids are pseudonymized
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
		Salt:        cfg.LogRedactSalt,
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS and security headers
	r.Use(corsChain(cfg.CORS.AllowedOrigins)...)
	// Security headers (HSTS only when enabled and request is HTTPS).
	// Circulation data is per-reader, so responses are never cached.
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
		DocsPrefix:   "/swagger",
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// API docs
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: handlers ← services ← repo/db
	h := handlers.New(handlers.Deps{
		Circulation:  core.Circulation,
		Reservations: core.Reservations,
		Extensions:   core.Extensions,
		Ledger:       core.Ledger,
		Maintenance:  core.Maintenance,
		Catalog:      services.NewCatalogService(db, catalogRepoShim{}),
		Reports:      rep,
		Replay:       replayStore{db: db, ttl: cfg.IdempotencyTTL},
	})

	staff := middleware.RequireRole(services.RoleCirculation, services.RoleSystem)
	system := middleware.RequireRole(services.RoleSystem)
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByActorOrIP()).
		Exempt(services.RoleSystem)

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(
		middleware.Identity(),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, lookupIdempotency(db)),
		rl.Handler(),
	)
	{
		// Circulation desk
		api.POST("/circulation/borrow", staff, h.Borrow)
		api.POST("/circulation/return", staff, h.Return)
		api.POST("/copies/:barcode/damage", staff, h.ReportDamage)

		// Reservations and extensions
		api.POST("/reservations", h.Reserve)
		api.GET("/reservations/:id", h.GetReservation)
		api.POST("/borrows/:id/extensions", h.RequestExtension)
		api.POST("/extensions/:id/review", staff, h.ReviewExtension)

		// Readers
		api.GET("/readers/:reader_id", h.GetReader)
		api.GET("/readers/:reader_id/borrows", h.ListReaderBorrows)
		api.GET("/readers/:reader_id/credit-log", h.ListCreditLog)
		api.POST("/readers/:reader_id/credit", system, h.AdjustCredit)

		// Catalog
		api.GET("/titles", h.SearchTitles)
		api.GET("/copies/:barcode", h.GetCopy)

		// Maintenance jobs
		api.POST("/jobs/reservation-expiry", system, h.RunReservationExpiry)
		api.POST("/jobs/credit-recovery", system, h.RunCreditRecovery)
		api.GET("/jobs/runs", system, h.ListJobRuns)

		// Reports (can be large; compressed)
		rg := api.Group("/reports", staff, gzip.Gzip(gzip.DefaultCompression))
		rg.GET("/overdue", h.OverdueReport)
		rg.GET("/damage", h.DamageReport)
		rg.GET("/summary", h.SummaryReport)
	}
	return nil
}

// corsChain builds the CORS middleware. With no configured origins every
// origin is allowed and ACAO is "*" on every response, Origin header or not;
// otherwise only listed origins are echoed back. Credentials are never
// allowed: callers identify themselves with the actor headers.
func corsChain(origins []string) []gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization",
			middleware.HeaderActorID, middleware.HeaderActorRole, middleware.HeaderIdempotencyKey,
		},
		ExposeHeaders: []string{"X-Request-ID", "Content-Length", middleware.HeaderIdempotentReplay},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cc.AllowAllOrigins = true
		return []gin.HandlerFunc{
			func(c *gin.Context) {
				c.Header("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cc),
		}
	}

	cc.AllowOrigins = origins
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if o := c.GetHeader("Origin"); allowed[o] {
				c.Header("Access-Control-Allow-Origin", o)
				c.Writer.Header().Add("Vary", "Origin")
			}
			c.Next()
		},
		cors.New(cc),
	}
}

// limitBody caps every request body at maxBytes; reads past the cap fail and
// the JSON binders turn that into a 400.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts the API under prefix; "" and "/" mean the root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "/" {
		prefix = ""
	}
	return r.Group(prefix)
}
