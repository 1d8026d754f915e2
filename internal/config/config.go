// Package config reads the circulation service settings from the process
// environment. Every key has a default; malformed values and out-of-range
// settings are reported together by Load.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig lists the browser origins allowed to call the API. Empty means
// any origin.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig controls Strict-Transport-Security.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig configures trace export.
type OTELConfig struct {
	Enabled     bool
	Endpoint    string // OTLP gRPC collector, host:port
	Insecure    bool   // plaintext gRPC
	ServiceName string
	SampleRatio float64 // parent-based ratio in [0,1]
}

// DBConfig selects and addresses the backing store.
type DBConfig struct {
	Driver string // sqlite|postgres|mysql
	Path   string // sqlite file
	DSN    string // postgres/mysql connection string
}

// JobsConfig controls the in-process maintenance scheduler.
type JobsConfig struct {
	Enabled                bool
	ExpirySweepInterval    time.Duration
	CreditRecoveryInterval time.Duration
}

// Config is the full service configuration.
type Config struct {
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	LogLevel       string
	LogPretty      bool
	LogRedactSalt  string // salt for reader pseudonyms in access logs
	SwaggerEnabled bool
	APIBasePath    string

	DB DBConfig

	RateRPS   float64
	RateBurst int

	CORS     CORSConfig
	Security SecurityConfig

	IdempotencyTTL time.Duration

	Jobs JobsConfig

	OTEL OTELConfig
}

// MustLoad is Load for process start-up; it panics on an invalid environment.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load builds a Config from the environment. The returned Config is always
// populated (unparseable keys keep their defaults) so callers may override
// fields and proceed; err joins every problem found.
func Load() (Config, error) {
	var e env

	cfg := Config{
		Port:              e.str("PORT", "8080"),
		ReadTimeout:       e.dur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: e.dur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      e.dur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       e.dur("IDLE_TIMEOUT", time.Minute),
		MaxHeaderBytes:    e.integer("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(e.str("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(e.str("LOG_LEVEL", "info")),
		LogPretty:      e.flag("LOG_PRETTY", false),
		LogRedactSalt:  e.str("LOG_REDACT_SALT", ""),
		SwaggerEnabled: e.flag("SWAGGER_ENABLED", false),
		APIBasePath:    cleanBasePath(e.str("API_BASE_PATH", "/api/v1")),

		DB: DBConfig{
			Driver: strings.ToLower(e.str("DB_DRIVER", "sqlite")),
			Path:   e.str("DB_PATH", "circulation.db"),
			DSN:    e.str("DB_DSN", ""),
		},

		RateRPS:   e.number("RATE_RPS", 5),
		RateBurst: e.integer("RATE_BURST", 10),

		CORS:     CORSConfig{AllowedOrigins: e.list("CORS_ALLOWED_ORIGINS")},
		Security: SecurityConfig{EnableHSTS: e.flag("ENABLE_HSTS", false), HSTSMaxAge: e.dur("HSTS_MAX_AGE", 180*24*time.Hour)},

		IdempotencyTTL: e.dur("IDEMPOTENCY_TTL", 24*time.Hour),

		Jobs: JobsConfig{
			Enabled:                e.flag("JOBS_ENABLED", false),
			ExpirySweepInterval:    e.dur("EXPIRY_SWEEP_INTERVAL", time.Hour),
			CreditRecoveryInterval: e.dur("CREDIT_RECOVERY_INTERVAL", 24*time.Hour),
		},

		OTEL: OTELConfig{
			Enabled:     e.flag("OTEL_ENABLED", false),
			Endpoint:    e.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    e.flag("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: e.str("OTEL_SERVICE_NAME", "go-circulation-backend"),
			SampleRatio: e.number("OTEL_TRACES_SAMPLER_ARG", 1),
		},
	}

	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	if cfg.GinMode != "debug" && cfg.GinMode != "test" {
		cfg.GinMode = "release"
	}

	e.errs = append(e.errs, cfg.validate()...)
	return cfg, errors.Join(e.errs...)
}

func (c Config) validate() []error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q: want debug, info, warn, error, fatal or panic", c.LogLevel))
	}
	check(c.ReadTimeout > 0 && c.ReadHeaderTimeout > 0 && c.WriteTimeout > 0 && c.IdleTimeout > 0,
		"server timeouts must be positive")
	check(c.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be positive")

	switch c.DB.Driver {
	case "sqlite":
	case "postgres", "mysql":
		check(c.DB.DSN != "", "DB_DSN is required with DB_DRIVER=%s", c.DB.Driver)
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q: want sqlite, postgres or mysql", c.DB.Driver))
	}

	check(c.RateRPS >= 0, "RATE_RPS must not be negative")
	check(c.RateBurst >= 1, "RATE_BURST must be at least 1")
	check(c.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must not be negative")
	check(c.IdempotencyTTL > 0, "IDEMPOTENCY_TTL must be positive")
	check(c.Jobs.ExpirySweepInterval > 0 && c.Jobs.CreditRecoveryInterval > 0,
		"job intervals must be positive")
	check(c.OTEL.SampleRatio >= 0 && c.OTEL.SampleRatio <= 1,
		"OTEL_TRACES_SAMPLER_ARG must be within [0,1]")
	return errs
}

// env reads typed values, remembering keys that are set but unparseable.
type env struct {
	errs []error
}

func (e *env) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *env) fail(key, raw string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q: %w", key, raw, err))
}

func (e *env) str(key, def string) string {
	if v, ok := e.lookup(key); ok {
		return v
	}
	return def
}

func (e *env) integer(key string, def int) int {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return n
}

func (e *env) number(key string, def float64) float64 {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return f
}

func (e *env) flag(key string, def bool) bool {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "t", "true", "y", "yes", "on":
		return true
	case "0", "f", "false", "n", "no", "off":
		return false
	}
	e.fail(key, v, errors.New("not a boolean"))
	return def
}

func (e *env) dur(key string, def time.Duration) time.Duration {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return d
}

// list splits a comma separated value, dropping blanks.
func (e *env) list(key string) []string {
	v, ok := e.lookup(key)
	if !ok {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// cleanBasePath returns p with a leading slash and no trailing slash; blank
// means the root.
func cleanBasePath(p string) string {
	return "/" + strings.Trim(strings.TrimSpace(p), "/")
}
