// Command server runs the library circulation HTTP API.
//
// Configuration comes from the environment (optionally a .env file in the
// working directory). When JOBS_ENABLED is set the maintenance jobs also run
// in-process on their configured intervals.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-circulation-backend/internal/config"
	httpapi "github.com/tbourn/go-circulation-backend/internal/http"
	"github.com/tbourn/go-circulation-backend/internal/observability"
	"github.com/tbourn/go-circulation-backend/internal/repo"
	"github.com/tbourn/go-circulation-backend/internal/scheduler"
	"github.com/tbourn/go-circulation-backend/internal/services"
	"github.com/tbourn/go-circulation-backend/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version string

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run() error {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ver := sysutil.Version(os.Getenv("APP_VERSION"), version)
	sysutil.SetupLogger(sysutil.LoggerOptions{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Service: cfg.OTEL.ServiceName,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	db, err := repo.Open(cfg.DB)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}

	core := services.NewCore(db)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	if err := httpapi.RegisterRoutes(r, db, core, cfg); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().
			Str("addr", srv.Addr).
			Str("db_driver", cfg.DB.Driver).
			Str("version", ver).
			Bool("jobs", cfg.Jobs.Enabled).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down")
		return srv.Shutdown(sctx)
	})

	if cfg.Jobs.Enabled {
		purge := scheduler.Task{
			Name:  "idempotency-purge",
			Every: time.Hour,
			Run: func(ctx context.Context) error {
				n, err := repo.PurgeIdempotency(ctx, db, time.Now().UTC())
				if n > 0 {
					log.Info().Int64("deleted", n).Msg("expired idempotency records purged")
				}
				return err
			},
		}
		sched := scheduler.New(core.Maintenance, cfg.Jobs, purge)
		g.Go(func() error { return sched.Run(gctx) })
	}

	return g.Wait()
}
