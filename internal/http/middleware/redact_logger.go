package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
)

// readerIDKey is the route parameter and query key that carries a reader id.
const readerIDKey = "reader_id"

var (
	// UUIDs are replaced before phone numbers so the looser phone pattern
	// never sees their digit groups.
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// RedactOptions configures RedactingLogger.
//
// Reader identifiers are pseudonymized rather than dropped: the same reader
// always maps to the same token (for a given Salt), so a loan history can be
// followed through the logs without naming the patron.
type RedactOptions struct {
	// MaskHeaders are replaced by "[REDACTED]" in addition to Authorization,
	// Cookie and Set-Cookie.
	MaskHeaders []string
	// PseudonymizeKeys are route params and query keys holding reader ids.
	// Defaults to reader_id.
	PseudonymizeKeys []string
	// Salt is mixed into the pseudonym hash.
	Salt string
}

// RedactingLogger is Logger for logs that leave the library's systems:
// reader ids in route params, query keys and the reader's own actor id become
// stable "rdr_" tokens, e-mail addresses, phone numbers and UUIDs in query
// strings and headers are masked, and sensitive headers are blanked. Request
// and response bodies are never logged.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	return accessLog(newScrubber(opts))
}

type scrubber struct {
	salt   string
	pseudo map[string]struct{}
	mask   map[string]struct{}
}

func newScrubber(opts RedactOptions) *scrubber {
	sc := &scrubber{
		salt:   opts.Salt,
		pseudo: map[string]struct{}{},
		mask: map[string]struct{}{
			"authorization": {},
			"cookie":        {},
			"set-cookie":    {},
		},
	}
	keys := opts.PseudonymizeKeys
	if len(keys) == 0 {
		keys = []string{readerIDKey}
	}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			sc.pseudo[k] = struct{}{}
		}
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			sc.mask[h] = struct{}{}
		}
	}
	return sc
}

// value returns v, or its pseudonym when key names a reader id. Safe on a nil
// receiver.
func (sc *scrubber) value(key, v string) string {
	if sc == nil || v == "" {
		return v
	}
	if _, ok := sc.pseudo[key]; !ok {
		return v
	}
	sum := sha256.Sum256([]byte(sc.salt + "\x00" + v))
	return "rdr_" + hex.EncodeToString(sum[:6])
}

// path rewrites the request path with every pseudonymized param replaced.
func (sc *scrubber) path(c *gin.Context) string {
	p := c.Request.URL.Path
	for _, prm := range c.Params {
		if _, ok := sc.pseudo[prm.Key]; ok && prm.Value != "" {
			p = strings.Replace(p, "/"+prm.Value, "/"+sc.value(prm.Key, prm.Value), 1)
		}
	}
	return scrubText(p)
}

// query re-encodes the raw query with reader ids pseudonymized and other
// values pattern-scrubbed. Unparseable queries are scrubbed as plain text.
func (sc *scrubber) query(raw string) string {
	if raw == "" {
		return ""
	}
	vals, err := url.ParseQuery(raw)
	if err != nil {
		return scrubText(raw)
	}
	for k, vs := range vals {
		for i, v := range vs {
			if _, ok := sc.pseudo[k]; ok {
				vs[i] = sc.value(k, v)
			} else {
				vs[i] = scrubText(v)
			}
		}
	}
	// url.Values.Encode escapes brackets; keep the log readable.
	out, _ := url.QueryUnescape(vals.Encode())
	return out
}

// headers returns a flat, scrubbed copy of h. The actor id and request id
// headers are left out; both are logged as fields of their own.
func (sc *scrubber) headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lk := strings.ToLower(k)
		if lk == strings.ToLower(HeaderActorID) || lk == strings.ToLower(requestIDHeader) {
			continue
		}
		if _, ok := sc.mask[lk]; ok {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = scrubText(strings.Join(h[k], ", "))
	}
	return out
}

func scrubText(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}
