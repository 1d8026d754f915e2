package httpapi

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-circulation-backend/internal/config"
	"github.com/tbourn/go-circulation-backend/internal/domain"
	"github.com/tbourn/go-circulation-backend/internal/http/handlers"
	"github.com/tbourn/go-circulation-backend/internal/http/middleware"
	"github.com/tbourn/go-circulation-backend/internal/repo"
	"github.com/tbourn/go-circulation-backend/internal/services"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath:    "/api/v1",
		RateRPS:        100,
		RateBurst:      10,
		CORS:           config.CORSConfig{AllowedOrigins: nil}, // triggers AllowAllOrigins branch
		Security:       config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		OTEL:           config.OTELConfig{ServiceName: "test-svc"},
		IdempotencyTTL: time.Hour,
	}
}

func newRouter(t *testing.T, db *gorm.DB, cfg config.Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if err := RegisterRoutes(r, db, services.NewCore(db), cfg); err != nil {
		t.Fatalf("RegisterRoutes: %v", err)
	}
	return r
}

func seedCatalog(t *testing.T, db *gorm.DB) {
	t.Helper()
	ctx := context.Background()
	if err := repo.CreateTitle(ctx, db, &domain.Title{
		ISBN: "9787111544937", CallNumber: "TP312/K2", Name: "Concurrency in Go", Author: "Cox-Buday", Classification: "TP",
	}); err != nil {
		t.Fatalf("title: %v", err)
	}
	if err := repo.CreateCopy(ctx, db, &domain.Copy{
		Barcode: "C1", ISBN: "9787111544937", Location: "B-2", Status: domain.CopyInStock, EnteredAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if err := repo.CreateReader(ctx, db, &domain.Reader{
		ID: "r1", Name: "Reader One", Credit: 100, Role: domain.ReaderFaculty, ExpiresOn: time.Now().AddDate(1, 0, 0),
	}); err != nil {
		t.Fatalf("reader: %v", err)
	}
}

func call(r *gin.Engine, method, path, actor, role string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(middleware.HeaderActorID, actor)
		req.Header.Set(middleware.HeaderActorRole, role)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_Surface(t *testing.T) {
	r := newRouter(t, newTestDB(t), testConfig())

	for _, tc := range []struct {
		method, path string
		status       int
		code         string
	}{
		{http.MethodGet, "/health", http.StatusOK, ""},
		{http.MethodGet, "/metrics", http.StatusOK, ""},
		{http.MethodGet, "/api/v1/shelves", http.StatusNotFound, handlers.ErrCodeNotFound},
		{http.MethodDelete, "/health", http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed},
		{http.MethodGet, "/swagger/index.html", http.StatusNotFound, handlers.ErrCodeNotFound},
	} {
		w := call(r, tc.method, tc.path, "", "", nil)
		if w.Code != tc.status {
			t.Errorf("%s %s = %d, want %d", tc.method, tc.path, w.Code, tc.status)
			continue
		}
		if w.Header().Get("X-Request-ID") == "" {
			t.Errorf("%s %s: no X-Request-ID", tc.method, tc.path)
		}
		if w.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Errorf("%s %s: ACAO = %q", tc.method, tc.path, w.Header().Get("Access-Control-Allow-Origin"))
		}
		if tc.code != "" {
			var e handlers.ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil || e.Code != tc.code {
				t.Errorf("%s %s: body %s", tc.method, tc.path, w.Body.String())
			}
		}
	}

	w := call(r, http.MethodGet, "/health", "", "", nil)
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control = %q", got)
	}
	w = call(r, http.MethodGet, "/metrics", "", "", nil)
	if !bytes.Contains(w.Body.Bytes(), []byte("go_goroutines")) {
		t.Fatal("/metrics does not expose the default registry")
	}
}

func TestRegisterRoutes_ListedOriginsOnly(t *testing.T) {
	cfg := testConfig()
	cfg.APIBasePath = "/"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"https://opac.library.example"}}
	db := newTestDB(t)
	seedCatalog(t, db)
	r := newRouter(t, db, cfg)

	w := call(r, http.MethodGet, "/titles?q=go", "r1", "reader", nil, "Origin", "https://opac.library.example")
	if w.Code != http.StatusOK {
		t.Fatalf("root-mounted search = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://opac.library.example" {
		t.Fatalf("ACAO = %q", got)
	}

	w = call(r, http.MethodGet, "/health", "", "", nil, "Origin", "https://evil.example")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unlisted origin echoed: %q", got)
	}
}

func TestRegisterRoutes_SwaggerEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.SwaggerEnabled = true
	r := newRouter(t, newTestDB(t), cfg)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /swagger/doc.json = %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"/api/v1"`)) {
		t.Fatalf("expected basePath in doc: %s", w.Body.String())
	}
}

func TestRegisterRoutes_IdentityAndRoles(t *testing.T) {
	db := newTestDB(t)
	seedCatalog(t, db)
	r := newRouter(t, db, testConfig())

	// no identity
	if w := call(r, http.MethodGet, "/api/v1/titles", "", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous = %d", w.Code)
	}
	// unknown role
	if w := call(r, http.MethodGet, "/api/v1/titles", "x", "janitor", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad role = %d", w.Code)
	}
	// readers may search
	if w := call(r, http.MethodGet, "/api/v1/titles?q=concurrency", "r1", "reader", nil); w.Code != http.StatusOK {
		t.Fatalf("reader search = %d", w.Code)
	}
	// readers may not lend
	if w := call(r, http.MethodPost, "/api/v1/circulation/borrow", "r1", "reader", map[string]string{"barcode": "C1", "reader_id": "r1"}); w.Code != http.StatusForbidden {
		t.Fatalf("reader borrow = %d", w.Code)
	}
	// circulation staff may not run jobs
	if w := call(r, http.MethodPost, "/api/v1/jobs/credit-recovery", "desk-1", "circulation", nil); w.Code != http.StatusForbidden {
		t.Fatalf("desk job = %d", w.Code)
	}
	// system may
	if w := call(r, http.MethodPost, "/api/v1/jobs/credit-recovery", "cron", "system", nil); w.Code != http.StatusOK {
		t.Fatalf("system job = %d body=%s", w.Code, w.Body.String())
	}
	// readers may not see reports
	if w := call(r, http.MethodGet, "/api/v1/reports/summary", "r1", "reader", nil); w.Code != http.StatusForbidden {
		t.Fatalf("reader report = %d", w.Code)
	}
}

func TestRegisterRoutes_BorrowReplayThroughPipeline(t *testing.T) {
	db := newTestDB(t)
	seedCatalog(t, db)
	r := newRouter(t, db, testConfig())

	body := map[string]string{"barcode": "C1", "reader_id": "r1"}
	w := call(r, http.MethodPost, "/api/v1/circulation/borrow", "desk-1", "circulation", body,
		middleware.HeaderIdempotencyKey, "desk-1-borrow-42")
	if w.Code != http.StatusCreated {
		t.Fatalf("first borrow = %d body=%s", w.Code, w.Body.String())
	}
	var first domain.BorrowRecord
	_ = json.Unmarshal(w.Body.Bytes(), &first)

	w = call(r, http.MethodPost, "/api/v1/circulation/borrow", "desk-1", "circulation", body,
		middleware.HeaderIdempotencyKey, "desk-1-borrow-42")
	if w.Code != http.StatusOK || w.Header().Get(middleware.HeaderIdempotentReplay) != "true" {
		t.Fatalf("replay = %d header=%q", w.Code, w.Header().Get(middleware.HeaderIdempotentReplay))
	}
	var again domain.BorrowRecord
	_ = json.Unmarshal(w.Body.Bytes(), &again)
	if again.ID != first.ID {
		t.Fatalf("replay id=%d want %d", again.ID, first.ID)
	}

	// malformed key
	w = call(r, http.MethodPost, "/api/v1/circulation/borrow", "desk-1", "circulation", body,
		middleware.HeaderIdempotencyKey, "has spaces")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad key = %d", w.Code)
	}
}

func TestRegisterRoutes_ReportsGzip(t *testing.T) {
	db := newTestDB(t)
	seedCatalog(t, db)
	r := newRouter(t, db, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/summary", nil)
	req.Header.Set(middleware.HeaderActorID, "desk-1")
	req.Header.Set(middleware.HeaderActorRole, "circulation")
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("summary = %d", w.Code)
	}
	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding, got %q", w.Header().Get("Content-Encoding"))
	}
	zr, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("gunzip: %v", err)
	}
	var sum struct {
		Readers int64 `json:"readers"`
	}
	if err := json.Unmarshal(raw, &sum); err != nil {
		t.Fatalf("json: %v", err)
	}
	if sum.Readers != 1 {
		t.Fatalf("readers=%d", sum.Readers)
	}
}

func TestRegisterRoutes_OversizedBody(t *testing.T) {
	db := newTestDB(t)
	seedCatalog(t, db)
	r := newRouter(t, db, testConfig())

	body := map[string]string{"barcode": "C1", "reader_id": "r1", "note": strings.Repeat("x", 1<<20)}
	w := call(r, http.MethodPost, "/api/v1/circulation/borrow", "desk-1", "circulation", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("oversized borrow = %d", w.Code)
	}
	if cp, err := repo.GetCopy(context.Background(), db, "C1"); err != nil || cp.Status != domain.CopyInStock {
		t.Fatalf("copy changed: %+v %v", cp, err)
	}
}

func Test_catalogRepoShim_Proxies(t *testing.T) {
	db := newTestDB(t)
	seedCatalog(t, db)
	shim := catalogRepoShim{}
	ctx := context.Background()

	titles, err := shim.SearchTitles(ctx, db, []string{"concurrency"}, 0, 10)
	if err != nil || len(titles) != 1 {
		t.Fatalf("SearchTitles: %v (%d)", err, len(titles))
	}
	counts, err := shim.CopyCounts(ctx, db, []string{"9787111544937"})
	if err != nil || counts["9787111544937"] != [2]int64{1, 1} {
		t.Fatalf("CopyCounts: %v %v", err, counts)
	}
	if cp, err := shim.GetCopy(ctx, db, "C1"); err != nil || cp.Status != domain.CopyInStock {
		t.Fatalf("GetCopy: %v %+v", err, cp)
	}
	if rd, err := shim.GetReader(ctx, db, "r1"); err != nil || rd.Credit != 100 {
		t.Fatalf("GetReader: %v %+v", err, rd)
	}
	if n, err := shim.CountBorrowsByReader(ctx, db, "r1"); err != nil || n != 0 {
		t.Fatalf("CountBorrowsByReader: %v %d", err, n)
	}
	if rows, err := shim.ListBorrowsByReaderPage(ctx, db, "r1", 0, 10); err != nil || len(rows) != 0 {
		t.Fatalf("ListBorrowsByReaderPage: %v %d", err, len(rows))
	}
	if n, err := shim.CountCreditLog(ctx, db, "r1"); err != nil || n != 0 {
		t.Fatalf("CountCreditLog: %v %d", err, n)
	}
	if rows, err := shim.ListCreditLogPage(ctx, db, "r1", 0, 10); err != nil || len(rows) != 0 {
		t.Fatalf("ListCreditLogPage: %v %d", err, len(rows))
	}
	if rows, err := shim.ListDamageLogByBarcode(ctx, db, "C1"); err != nil || len(rows) != 0 {
		t.Fatalf("ListDamageLogByBarcode: %v %d", err, len(rows))
	}
}

func Test_replayStore_RememberTwice(t *testing.T) {
	db := newTestDB(t)
	s := replayStore{db: db, ttl: time.Hour}
	ctx := context.Background()

	if err := s.Remember(ctx, "desk-1", "/api/v1/circulation/borrow", "k1", "5"); err != nil {
		t.Fatalf("first Remember: %v", err)
	}
	// a concurrent retry racing the first write is not an error
	if err := s.Remember(ctx, "desk-1", "/api/v1/circulation/borrow", "k1", "6"); err != nil {
		t.Fatalf("second Remember: %v", err)
	}

	lookup := lookupIdempotency(db)
	id, found, err := lookup(ctx, "desk-1", "/api/v1/circulation/borrow", "k1", time.Now().UTC())
	if err != nil || !found || id != "5" {
		t.Fatalf("lookup hit: id=%q found=%v err=%v", id, found, err)
	}
	_, found, err = lookup(ctx, "desk-2", "/api/v1/circulation/borrow", "k1", time.Now().UTC())
	if err != nil || found {
		t.Fatalf("lookup other actor: found=%v err=%v", found, err)
	}
	// expired
	_, found, err = lookup(ctx, "desk-1", "/api/v1/circulation/borrow", "k1", time.Now().Add(2*time.Hour))
	if err != nil || found {
		t.Fatalf("lookup expired: found=%v err=%v", found, err)
	}

	if _, err := s.Borrow(ctx, 999); err == nil {
		t.Fatalf("expected error for missing borrow")
	}
	if _, err := s.Reservation(ctx, 999); err == nil {
		t.Fatalf("expected error for missing reservation")
	}
	if _, err := s.Extension(ctx, 999); err == nil {
		t.Fatalf("expected error for missing extension")
	}
}

func Test_lookupIdempotency_ErrorBranch(t *testing.T) {
	db := newTestDB(t)
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	_ = sqlDB.Close()

	_, found, err := lookupIdempotency(db)(context.Background(), "u", "/x", "k", time.Now())
	if err == nil || found {
		t.Fatalf("expected error on closed db, found=%v err=%v", found, err)
	}
}
