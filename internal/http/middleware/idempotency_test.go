package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type lookupCall struct {
	actor, scope, key string
	now               time.Time
}

// stubLookup answers with resource/found/err and records every call.
func stubLookup(resource string, found bool, err error) (IdempotencyLookup, *[]lookupCall) {
	var calls []lookupCall
	return func(_ context.Context, actor, scope, key string, now time.Time) (string, bool, error) {
		calls = append(calls, lookupCall{actor, scope, key, now})
		return resource, found, err
	}, &calls
}

type seen struct {
	key      string
	hasKey   bool
	replay   bool
	resource string
	bypass   bool
}

// idemRouter registers POST and GET /api/v1/reservations behind Identity and
// the validator, and reports what the handler observed.
func idemRouter(opts IdempotencyOptions, lookup IdempotencyLookup, out *seen) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Identity(), IdempotencyValidator(opts, lookup))
	h := func(c *gin.Context) {
		out.key, out.hasKey = GetIdempotencyKey(c)
		out.replay = IsReplay(c)
		out.resource, _ = ReplayResource(c)
		out.bypass = IsRateBypass(c)
		c.Status(http.StatusCreated)
	}
	r.POST("/api/v1/reservations", h)
	r.GET("/api/v1/reservations", h)
	return r
}

func reserve(r http.Handler, method, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/api/v1/reservations", nil)
	req.Header.Set(HeaderActorID, "u1001")
	req.Header.Set(HeaderActorRole, "reader")
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotencyValidator_FirstAttempt(t *testing.T) {
	at := time.Date(2024, 5, 2, 8, 30, 0, 0, time.FixedZone("CEST", 2*3600))
	lookup, calls := stubLookup("", false, nil)
	var got seen
	r := idemRouter(IdempotencyOptions{Now: func() time.Time { return at }}, lookup, &got)

	if w := reserve(r, http.MethodPost, "res-7f3a"); w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}
	if !got.hasKey || got.key != "res-7f3a" || got.replay || got.bypass {
		t.Fatalf("handler saw %+v", got)
	}
	want := lookupCall{"u1001", "/api/v1/reservations", "res-7f3a", at.UTC()}
	if len(*calls) != 1 || (*calls)[0] != want {
		t.Fatalf("lookup calls = %+v, want %+v", *calls, want)
	}
}

func TestIdempotencyValidator_Replay(t *testing.T) {
	lookup, _ := stubLookup("42", true, nil)
	var got seen
	r := idemRouter(IdempotencyOptions{}, lookup, &got)

	reserve(r, http.MethodPost, "res-7f3a")
	if !got.replay || got.resource != "42" || !got.bypass {
		t.Fatalf("handler saw %+v", got)
	}
}

func TestIdempotencyValidator_LookupErrorIsAMiss(t *testing.T) {
	buf := captureLogger(t)
	lookup, _ := stubLookup("42", true, errors.New("database is locked"))
	var got seen
	r := idemRouter(IdempotencyOptions{}, lookup, &got)

	if w := reserve(r, http.MethodPost, "res-1"); w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}
	if got.replay || got.bypass || got.key != "res-1" {
		t.Fatalf("handler saw %+v", got)
	}
	if !strings.Contains(buf.String(), "idempotency lookup failed") {
		t.Fatalf("lookup failure not logged: %s", buf.String())
	}
}

func TestIdempotencyValidator_IgnoredWithoutKeyOrOnGet(t *testing.T) {
	lookup, calls := stubLookup("42", true, nil)
	var got seen
	r := idemRouter(IdempotencyOptions{}, lookup, &got)

	reserve(r, http.MethodPost, "")
	if got.hasKey || got.replay {
		t.Fatalf("POST without key: %+v", got)
	}
	reserve(r, http.MethodGet, "not a valid key")
	if got.hasKey || got.replay {
		t.Fatalf("GET with key: %+v", got)
	}
	if len(*calls) != 0 {
		t.Fatalf("lookup called %d times", len(*calls))
	}
}

func TestIdempotencyValidator_RejectsMalformedKeys(t *testing.T) {
	cases := []struct {
		name string
		opts IdempotencyOptions
		key  string
	}{
		{"space", IdempotencyOptions{}, "res 1"},
		{"slash", IdempotencyOptions{}, "res/1"},
		{"too long default", IdempotencyOptions{}, strings.Repeat("k", defaultKeyMaxLen+1)},
		{"too long custom", IdempotencyOptions{MaxLen: 8}, "res-12345"},
		{"custom pattern", IdempotencyOptions{Pattern: regexp.MustCompile(`^[0-9]+$`)}, "res-1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lookup, calls := stubLookup("", false, nil)
			var got seen
			w := reserve(idemRouter(tc.opts, lookup, &got), http.MethodPost, tc.key)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", w.Code)
			}
			var body map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body["code"] != "bad_idempotency_key" || body["request_id"] == "" {
				t.Fatalf("body = %v", body)
			}
			if len(*calls) != 0 {
				t.Fatal("lookup must not run for a rejected key")
			}
		})
	}
}

func TestIdempotencyAccessors_WithoutValidator(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/circulation/borrow", nil)

	if _, ok := GetIdempotencyKey(c); ok {
		t.Fatal("no key expected")
	}
	if IsReplay(c) {
		t.Fatal("no replay expected")
	}
	if _, ok := ReplayResource(c); ok {
		t.Fatal("no resource expected")
	}
	if IdempotencyScope(c) != "/api/v1/circulation/borrow" {
		t.Fatalf("scope = %q", IdempotencyScope(c))
	}

	c.Set(ctxKeyIdempotency, idempotency{key: "k", resource: "9"})
	if _, ok := ReplayResource(c); ok {
		t.Fatal("resource is only exposed on a replay")
	}
}
