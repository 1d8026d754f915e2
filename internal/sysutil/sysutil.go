// Package sysutil holds process-level helpers shared by the server and the
// operator CLI: global logger setup and version resolution.
package sysutil

import (
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetLogLevel sets the global zerolog level from its name ("warning" is
// accepted for warn). Blank or unknown names select info. The applied level
// is returned.
func SetLogLevel(name string) zerolog.Level {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warning" {
		name = "warn"
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || name == "" || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return lvl
}

// LoggerOptions controls SetupLogger.
type LoggerOptions struct {
	Level   string
	Pretty  bool      // console output for terminals
	Service string    // "service" field on every line
	Out     io.Writer // default os.Stderr
}

// SetupLogger installs and returns the global logger. Timestamps are RFC3339
// in UTC so lines from the server, the scheduler and libctl sort together.
func SetupLogger(opts LoggerOptions) zerolog.Logger {
	SetLogLevel(opts.Level)
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }

	var out io.Writer = os.Stderr
	if opts.Out != nil {
		out = opts.Out
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}

	lc := zerolog.New(out).With().Timestamp()
	if opts.Service != "" {
		lc = lc.Str("service", opts.Service)
	}
	log.Logger = lc.Logger()
	return log.Logger
}

// readBuildInfo is replaced in tests.
var readBuildInfo = debug.ReadBuildInfo

// Version returns the first non-blank candidate (typically $APP_VERSION, then
// the -ldflags value), else the module version stamped by "go install",
// else "dev".
func Version(candidates ...string) string {
	for _, v := range candidates {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	if bi, ok := readBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		return bi.Main.Version
	}
	return "dev"
}
