package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/mmynk/ledger/internal/auth"
	"github.com/mmynk/ledger/internal/config"
	"github.com/mmynk/ledger/internal/metrics"
	"github.com/mmynk/ledger/internal/middleware"
	"github.com/mmynk/ledger/internal/service"
	"github.com/mmynk/ledger/internal/storage/sqlite"
	"github.com/mmynk/ledger/internal/workerpool"
	"github.com/mmynk/ledger/pkg/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()
	logger := logging.Setup(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	db, err := sqlite.Open(sqlite.Options{
		DSN:         cfg.DatabaseURL,
		PoolSize:    cfg.DatabasePoolSize,
		MaxOverflow: cfg.ThreadPoolSize,
		Recycle:     cfg.DatabasePoolRecycle,
		PoolTimeout: cfg.DatabasePoolTimeout,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	logger.Info("Storage initialized", "database", cfg.DatabaseURL, "pool_size", cfg.DatabasePoolSize)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	sessions := sqlite.NewRegistry(db, sqlite.WithActiveGauge(m.SessionsActive))
	defer sessions.Close()

	pool := workerpool.New(cfg.ThreadPoolSize, workerpool.WithLatency(m.ReleaseSeconds))
	defer pool.Close()

	api := http.NewServeMux()
	service.NewLedgerService(sessions, auth.NewPasswordAuthenticator(), sqlite.IsConstraintViolation, logger).Routes(api)

	var handler http.Handler = middleware.Session(sessions, pool,
		middleware.WithLogger(logger),
		middleware.WithReleaseCounter(m.SessionReleases),
	)(api)

	if cfg.RateLimitRPS > 0 {
		limiter := middleware.NewRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst,
			middleware.WithTrustedProxies(cfg.RateLimitTrustedProxies...))
		defer limiter.Close()
		handler = limiter.Limit(handler)
		logger.Info("Rate limiting enabled", "rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst, "trusted_proxies", len(cfg.RateLimitTrustedProxies))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/", handler)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h2c.NewHandler(middleware.Logging(logger, m.Requests)(mux), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server starting", "address", srv.Addr, "threads", cfg.ThreadPoolSize)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
