package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/qadash/internal/columns"
	"github.com/JonMunkholm/qadash/internal/config"
	"github.com/JonMunkholm/qadash/internal/fetch"
	"github.com/JonMunkholm/qadash/internal/history"
	"github.com/JonMunkholm/qadash/internal/logging"
	"github.com/JonMunkholm/qadash/internal/metrics"
	"github.com/JonMunkholm/qadash/internal/report"
	"github.com/JonMunkholm/qadash/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Debug("configuration loaded", "config", cfg.String())

	catalog, err := report.LoadCatalog(cfg.Sources.CatalogPath)
	if err != nil {
		slog.Error("failed to load source catalog", "path", cfg.Sources.CatalogPath, "error", err)
		os.Exit(1)
	}

	aliases := columns.DefaultAliases()
	if cfg.Sources.AliasesPath != "" {
		if aliases, err = columns.LoadAliases(cfg.Sources.AliasesPath); err != nil {
			slog.Error("failed to load header aliases", "path", cfg.Sources.AliasesPath, "error", err)
			os.Exit(1)
		}
	}
	if aliases, err = catalog.ResolveAliases(aliases); err != nil {
		slog.Error("invalid catalog aliases", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"sources", len(catalog.Sources),
		"refresh_interval", cfg.Sources.RefreshInterval.String(),
		"history", historyBackend(cfg),
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()

	var store history.Store
	if cfg.Database.Enabled() {
		pool, err := connectDB(ctx, cfg.Database)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		pg := history.NewPgStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare history schema", "error", err)
			os.Exit(1)
		}
		store = pg
	} else {
		store = history.NewMemoryStore(0)
	}

	m := metrics.New()
	fetcher := fetch.New(fetch.Config{
		Timeout:        cfg.Fetch.Timeout,
		MaxRetries:     uint64(cfg.Fetch.MaxRetries),
		InitialBackoff: cfg.Fetch.InitialBackoff,
		MaxBackoff:     cfg.Fetch.MaxBackoff,
		RatePerSecond:  cfg.Fetch.RatePerSecond,
		Burst:          cfg.Fetch.Burst,
		MaxBytes:       cfg.Fetch.MaxBytes,
		UserAgent:      cfg.Fetch.UserAgent,
	})

	service, err := report.NewService(report.Config{
		Sources:        catalog.Sources,
		Aliases:        aliases,
		Concurrency:    cfg.Sources.Concurrency,
		RefreshTimeout: cfg.Sources.RefreshTimeout,
		MaxManual:      cfg.Sources.MaxManual,
		ManualWait:     cfg.Sources.ManualWait,
	}, fetcher, store, m)
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	server := web.NewServer(service, m, web.OptionsFromConfig(cfg))

	// Cancelled on SIGINT/SIGTERM; stops the scheduler and starts shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go service.StartRefreshScheduler(ctx, report.SchedulerConfig{
		Interval:  cfg.Sources.RefreshInterval,
		Retention: cfg.Sources.HistoryRetention,
	})

	if err := serve(ctx, server, service.WaitForRefreshes, cfg.Server.ShutdownTimeout); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// lifecycle is the part of web.Server that serve drives.
type lifecycle interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// serve runs srv until ctx is done, then shuts it down and waits for drain.
// It returns only after the shutdown goroutine has finished, so in-flight
// requests and refreshes complete (or hit timeout) before the process exits.
func serve(ctx context.Context, srv lifecycle, drain func(context.Context) error, timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		if err := drain(shutdownCtx); err != nil {
			slog.Warn("refreshes did not finish in time", "error", err)
		}
	}()

	if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-done
	return nil
}

// connectDB opens and pings the history database pool.
func connectDB(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}
	return pool, nil
}

func historyBackend(cfg *config.Config) string {
	if cfg.Database.Enabled() {
		return "postgres"
	}
	return "memory"
}
