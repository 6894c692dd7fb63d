package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/filipexyz/authpolicy/internal/audit"
	"github.com/filipexyz/authpolicy/internal/cache"
	"github.com/filipexyz/authpolicy/internal/config"
	"github.com/filipexyz/authpolicy/internal/handler"
	"github.com/filipexyz/authpolicy/internal/idpsync"
	"github.com/filipexyz/authpolicy/internal/metrics"
	"github.com/filipexyz/authpolicy/internal/nats"
	"github.com/filipexyz/authpolicy/internal/policy"
	"github.com/filipexyz/authpolicy/internal/rollback"
	"github.com/filipexyz/authpolicy/internal/seed"
	"github.com/filipexyz/authpolicy/internal/server"
	"github.com/filipexyz/authpolicy/internal/store"
	"github.com/filipexyz/authpolicy/internal/store/postgres"
	"github.com/filipexyz/authpolicy/internal/websocket"
)

const metricsNamespace = "authpolicy"

func main() {
	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logging
	logFile := setupLogging(cfg)
	if logFile != nil {
		defer logFile.Close()
	}

	var checks []handler.Check

	// Policy repository: Postgres when configured, memory otherwise
	var repo store.Repository
	if cfg.DatabaseURL != "" {
		db, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.Ping(ctx); err != nil {
			slog.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		slog.Info("connected to database")

		if err := postgres.Migrate(ctx, db); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}

		pg := postgres.New(db)
		repo = pg
		checks = append(checks, handler.Check{Name: "database", Ping: pg.Ping})
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store")
		repo = store.NewMemory()
	}

	// NATS: embedded server, external URL, or none
	var nc *nats.Client
	natsURL := cfg.NatsURL
	if cfg.NatsEmbedded {
		embedded, err := nats.StartEmbedded(nats.EmbeddedConfig{StoreDir: cfg.NatsStoreDir, Port: cfg.NatsPort})
		if err != nil {
			slog.Error("failed to start embedded NATS", "error", err)
			os.Exit(1)
		}
		defer embedded.Shutdown()
		natsURL = embedded.ClientURL()
	}
	if natsURL != "" {
		nc, err = nats.Connect(natsURL)
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer nc.Close()
		slog.Info("connected to NATS")

		// Ensure JetStream streams exist
		if err := nc.EnsureStreams(ctx); err != nil {
			slog.Error("failed to setup JetStream streams", "error", err)
			os.Exit(1)
		}
		checks = append(checks, handler.Check{Name: "nats", Ping: func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		}})
	}

	// Redis distribution cache (optional)
	var distributor policy.Distributor
	var redisCache *cache.Redis
	if cfg.RedisURL != "" {
		rc, err := cache.New(cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rc.Close()
		distributor = rc
		redisCache = rc
		checks = append(checks, handler.Check{Name: "redis", Ping: rc.Ping})
		slog.Info("connected to redis")
	}

	hub := websocket.NewHub()
	go hub.Run(ctx)

	// Audit fan-out. With NATS, every instance feeds its hub from the stream so
	// dashboard clients see changes made on any instance.
	var sinks []audit.Sink
	if nc != nil {
		sinks = append(sinks, nats.NewPublisher(nc.JetStream()))
	} else {
		sinks = append(sinks, hub)
	}
	auditLog := audit.New(1024, sinks...)

	prom := metrics.NewProm(metricsNamespace)
	svc := policy.NewService(repo, policy.Options{
		DefaultCacheTTL: cfg.CacheDefaultTTL,
		Cache:           distributor,
		Audit:           auditLog,
		Metrics:         prom,
	})
	if err := svc.WarmCache(ctx); err != nil {
		slog.Warn("failed to warm distribution cache", "error", err)
	}

	workers, wctx := errgroup.WithContext(ctx)

	if nc != nil {
		workers.Go(func() error {
			return nats.ConsumeAudit(wctx, nc.Stream(), hub.Broadcast)
		})
	}

	if redisCache != nil {
		refresher := cache.NewRefresher(redisCache, svc, cfg.CacheRefreshInterval)
		workers.Go(func() error { return refresher.Start(wctx) })
	}

	if cfg.PolicyDir != "" {
		loader, err := seed.NewLoader(cfg.PolicyDir, svc)
		if err != nil {
			slog.Error("failed to create seed loader", "error", err)
			os.Exit(1)
		}
		res, err := loader.LoadAll(ctx)
		if err != nil {
			slog.Error("failed to load seed policies", "dir", cfg.PolicyDir, "error", err)
			os.Exit(1)
		}
		slog.Info("seed policies loaded", "dir", cfg.PolicyDir, "created", res.Created, "updated", res.Updated)
		if cfg.PolicyWatch {
			workers.Go(func() error { return loader.Watch(wctx) })
		}
	}

	var provider idpsync.Provider = idpsync.Noop{}
	if cfg.SyncURL != "" {
		provider, err = idpsync.NewHTTPProvider(idpsync.HTTPConfig{
			BaseURL:      cfg.SyncURL,
			Secret:       cfg.SyncSecret,
			Timeout:      cfg.SyncTimeout,
			RatePerSec:   cfg.SyncRatePerSec,
			AllowPrivate: cfg.SyncAllowPrivate,
		})
		if err != nil {
			slog.Error("invalid identity provider config", "error", err)
			os.Exit(1)
		}
		workers.Go(func() error {
			return idpsync.NewWorker(svc, provider, cfg.SyncInterval).Start(wctx)
		})
	} else {
		slog.Info("SYNC_URL not set, identity provider sync disabled")
	}

	if cfg.RollbackEnabled {
		monitor := rollback.NewMonitor(svc, rollback.Options{
			Interval:   cfg.RollbackInterval,
			MinSamples: cfg.RollbackMinSamples,
			Metrics:    prom,
		})
		workers.Go(func() error { return monitor.Start(wctx) })
	}

	// Create and start HTTP server
	srv := server.New(cfg, server.Deps{
		Policies: svc,
		Hub:      hub,
		Metrics:  metrics.NewGatewayProm(metricsNamespace),
		Checks:   checks,
	})

	go func() {
		slog.Info("starting server", "port", cfg.Port)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	// Wait for shutdown signal or a failed worker
	<-wctx.Done()
	slog.Info("shutting down...")

	// Graceful shutdown: HTTP first, then workers, then the audit fan-out
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	stop()
	if err := workers.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("worker error", "error", err)
	}

	auditLog.Close()

	slog.Info("shutdown complete")
}

// setupLogging installs the default slog logger. With LOG_FILE set, output also
// goes to a rotated file; the returned closer flushes it.
func setupLogging(cfg *config.Config) io.Closer {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.LogLevel {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	var w io.Writer = os.Stdout
	var lj *lumberjack.Logger
	if cfg.LogFile != "" {
		lj = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50, // MB
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		}
		w = io.MultiWriter(os.Stdout, lj)
	}

	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))

	if lj == nil {
		return nil
	}
	return lj
}
