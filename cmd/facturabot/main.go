package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/facturabot/facturabot/internal/database"
	"github.com/facturabot/facturabot/internal/engine"
	apperrors "github.com/facturabot/facturabot/internal/errors"
	"github.com/facturabot/facturabot/internal/facturapi"
	"github.com/facturabot/facturabot/internal/health"
	"github.com/facturabot/facturabot/internal/idempotency"
	"github.com/facturabot/facturabot/internal/invoicing"
	"github.com/facturabot/facturabot/internal/lifecycle"
	"github.com/facturabot/facturabot/internal/middleware"
	"github.com/facturabot/facturabot/internal/ratelimit"
	"github.com/facturabot/facturabot/internal/repository"
	"github.com/facturabot/facturabot/internal/script"
	"github.com/facturabot/facturabot/internal/session"
	"github.com/facturabot/facturabot/internal/webhook"
	"github.com/facturabot/facturabot/internal/whatsapp"
	"github.com/facturabot/facturabot/pkg/config"
	"github.com/facturabot/facturabot/pkg/graceful"
	"github.com/facturabot/facturabot/pkg/logger"
	"github.com/facturabot/facturabot/pkg/metrics"
	appredis "github.com/facturabot/facturabot/pkg/redis"

	_ "github.com/lib/pq"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, v, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:         cfg.Logger.Level,
		Format:        cfg.Logger.Format,
		File:          cfg.Logger.File,
		SentryEnabled: cfg.Sentry.Enabled,
	})
	slog.SetDefault(log)
	config.Watch(v, log)

	log.Info("starting facturabot",
		slog.String("env", cfg.AppEnv),
		slog.Int("port", cfg.Server.Port),
		slog.Bool("redis", cfg.Redis.Enabled),
		slog.Bool("database", cfg.Database.Enabled),
	)

	if cfg.Sentry.Enabled {
		environment := cfg.Sentry.Environment
		if environment == "" {
			environment = cfg.AppEnv
		}
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: environment,
		}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	shutdown := lifecycle.NewShutdown(log)
	checker := health.NewChecker(log)

	// Conversation state, locks, dedup and rate limits share one Redis
	// when it is enabled. Without it everything is process local, which
	// is fine for a single replica.
	var (
		store   session.Store
		locker  engine.Locker
		deduper idempotency.Deduper
		limiter ratelimit.Limiter
	)
	if cfg.Redis.Enabled {
		rdb, err := appredis.New(ctx, appredis.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		shutdown.Register("redis", func(context.Context) error { return rdb.Close() })
		checker.AddCheck("redis", health.NewRedisChecker(rdb))

		store = session.NewRedisStore(rdb.Client, log, cfg.Session.TTL)
		locker = engine.NewRedisLocker(rdb.Client, log)
		deduper = idempotency.NewRedisDeduper(rdb.Client, log)
		limiter = ratelimit.NewRedisLimiter(rdb.Client, log)
	} else {
		memLimiter := ratelimit.NewMemoryLimiter(log)
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					memLimiter.Cleanup(10 * cfg.RateLimit.Window)
				}
			}
		}()

		store = session.NewMemoryStore()
		locker = engine.NewKeyedMutex()
		deduper = idempotency.NewMemoryDeduper()
		limiter = memLimiter
	}

	// The invoice audit trail is optional. Without Postgres issued
	// invoices are only visible in logs and on the billing provider.
	var recorder invoicing.Recorder
	if cfg.Database.Enabled {
		db, err := sql.Open("postgres", cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		shutdown.Register("database", func(context.Context) error { return db.Close() })
		checker.AddCheck("database", health.NewDBChecker(db))

		if err := database.NewMigrator(db, log).ApplyDir(ctx, "migrations"); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}

		recorder = repository.NewInvoiceRepository(db, log)
	}

	billing := facturapi.NewClient(cfg.Facturapi.BaseURL, cfg.Facturapi.Key, log)
	messenger := whatsapp.NewClient(cfg.WhatsApp.APIBaseURL, cfg.WhatsApp.Token, cfg.WhatsApp.PhoneNumberID, log)
	checker.AddCheck("facturapi", billing)
	checker.AddCheck("whatsapp", messenger)

	orchestrator := invoicing.NewOrchestrator(billing, invoicing.IssuerIdentity{
		TaxID:     cfg.Facturapi.Issuer.TaxID,
		TaxSystem: cfg.Facturapi.Issuer.TaxSystem,
		Zip:       cfg.Facturapi.Issuer.Zip,
	}, recorder, log)

	eng := engine.New(store, script.Default(), messenger, orchestrator, locker, log, engine.DefaultTrigger)

	cleaner := session.NewCleaner(store, log, cfg.Session.TTL, cfg.Session.CleanerInterval)
	go cleaner.Run(ctx)
	go metrics.NewSessionCollector(store).Run(ctx)

	handler := webhook.NewHandler(eng, webhook.Config{
		VerifyToken: cfg.WhatsApp.VerifyToken,
		RateLimit:   cfg.RateLimit.PerUser,
		RateWindow:  cfg.RateLimit.Window,
	}, limiter, deduper, apperrors.NewHandler(log, cfg.Sentry.Enabled), log)

	mux := http.NewServeMux()
	handler.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		results := checker.Check(r.Context())
		status := http.StatusOK
		for _, state := range results {
			if state != "OK" {
				status = http.StatusServiceUnavailable
				break
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		for name, state := range results {
			fmt.Fprintf(w, "%s: %s\n", name, state)
		}
	})

	srv := graceful.NewServer(log, &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           logger.Middleware(middleware.Logging(log)(mux)),
		ReadHeaderTimeout: 5 * time.Second,
	}, cfg.Server.ShutdownTimeout)

	serveErr := srv.ListenAndServe(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := shutdown.Execute(shutdownCtx); err != nil {
		log.Error("shutdown finished with errors", slog.Any("error", err))
	}

	log.Info("facturabot stopped")
	return serveErr
}
