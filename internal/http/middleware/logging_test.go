package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

// logLines decodes the JSON lines written to buf.
func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/rid", func(c *gin.Context) {
		if v, _ := c.Get(requestIDKey); v == "" {
			t.Error("request id missing from context")
		}
		c.Status(http.StatusNoContent)
	})

	cases := []struct {
		name, in string
		keep     bool
	}{
		{"generated", "", false},
		{"propagated", "desk-7f3a", true},
		{"too long", strings.Repeat("a", maxRequestIDLen+1), false},
		{"control bytes", "abc\x01def", false},
		{"spaces", "two words", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/rid", nil)
			if tc.in != "" {
				req.Header.Set(requestIDHeader, tc.in)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			got := w.Header().Get(requestIDHeader)
			if got == "" {
				t.Fatal("response has no request id")
			}
			if tc.keep != (got == tc.in) {
				t.Fatalf("in=%q out=%q keep=%v", tc.in, got, tc.keep)
			}
		})
	}
}

func TestLogger_FieldsAndLevels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), Logger())
	api := r.Group("/api/v1", Identity())
	api.GET("/copies/:barcode", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	api.POST("/copies/:barcode/damage", func(c *gin.Context) {
		_ = c.Error(errSentinel{})
		c.Status(http.StatusConflict)
	})

	send := func(method, path string) {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set(HeaderActorID, "desk-1")
		req.Header.Set(HeaderActorRole, "circulation")
		r.ServeHTTP(httptest.NewRecorder(), req)
	}
	send(http.MethodGet, "/api/v1/copies/B-17?verbose=1")
	send(http.MethodGet, "/api/v1/unknown")
	send(http.MethodPost, "/api/v1/copies/B-17/damage")

	lines := logLines(t, buf)
	if len(lines) != 3 {
		t.Fatalf("want 3 access lines, got %d:\n%s", len(lines), buf.String())
	}

	ok := lines[0]
	if ok["level"] != "info" || ok["route"] != "/api/v1/copies/:barcode" || ok["barcode"] != "B-17" {
		t.Fatalf("info line = %v", ok)
	}
	if ok["actor_id"] != "desk-1" || ok["actor_role"] != "circulation" || ok["query"] != "verbose=1" {
		t.Fatalf("caller fields = %v", ok)
	}
	if ok["request_id"] == "" || ok["status"] != float64(http.StatusOK) {
		t.Fatalf("request fields = %v", ok)
	}

	miss := lines[1]
	if miss["level"] != "warn" || miss["route"] != unmatchedRoute || miss["path"] != "/api/v1/unknown" {
		t.Fatalf("unmatched line = %v", miss)
	}

	if lines[2]["level"] != "error" || lines[2]["errors"] == nil {
		t.Fatalf("gin error line = %v", lines[2])
	}
}

type errSentinel struct{}

func (errSentinel) Error() string { return "boom" }

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("before write", func(t *testing.T) {
		buf := captureLogger(t)
		r := gin.New()
		r.Use(RequestID(), Logger(), Recovery())
		r.GET("/copies/:barcode", func(*gin.Context) { panic("kaboom") })

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/copies/B1", nil))
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d", w.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("body: %v", err)
		}
		if body["code"] != "internal_error" || body["request_id"] != w.Header().Get(requestIDHeader) {
			t.Fatalf("body = %v", body)
		}
		out := buf.String()
		if !strings.Contains(out, `"panic recovered"`) || !strings.Contains(out, `"barcode":"B1"`) {
			t.Fatalf("panic should be logged with request fields:\n%s", out)
		}
	})

	t.Run("after write", func(t *testing.T) {
		captureLogger(t)
		r := gin.New()
		r.Use(RequestID(), Recovery())
		r.GET("/late", func(c *gin.Context) {
			c.String(http.StatusOK, "partial")
			panic("late")
		})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/late", nil))
		if strings.Contains(w.Body.String(), "internal_error") {
			t.Fatalf("no envelope after a write: %q", w.Body.String())
		}
	})
}

func TestLoggerFrom(t *testing.T) {
	gin.SetMode(gin.TestMode)

	buf := captureLogger(t)
	r := gin.New()
	r.GET("/bare", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("bare")
		c.Status(http.StatusOK)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/bare", nil))
	if !strings.Contains(buf.String(), `"message":"bare"`) || strings.Contains(buf.String(), "request_id") {
		t.Fatalf("fallback logger output:\n%s", buf.String())
	}

	buf = captureLogger(t)
	r = gin.New()
	r.Use(RequestID(), Logger())
	r.GET("/readers/:id", func(c *gin.Context) {
		// services log through the request context
		zerolog.Ctx(c.Request.Context()).Info().Msg("from service")
		c.Status(http.StatusOK)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readers/r1", nil))
	first := logLines(t, buf)[0]
	if first["message"] != "from service" || first["id"] != "r1" || first["request_id"] == nil {
		t.Fatalf("context logger line = %v", first)
	}
}

func TestTruncate(t *testing.T) {
	if asString("x") != "x" || asString(42) != "" {
		t.Fatal("asString")
	}
	if truncate("hello", 10) != "hello" || truncate("abc", 0) != "abc" {
		t.Fatal("truncate no-op")
	}
	if got := truncate("abcdefgh", 5); got != "abcde…" {
		t.Fatalf("truncate = %q", got)
	}
}
