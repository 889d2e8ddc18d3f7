// Command ledger runs the approval ledger service: durable records of
// privileged tool invocations and their single decision.
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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	dghttp "github.com/Strob0t/deskgate/internal/adapter/http"
	"github.com/Strob0t/deskgate/internal/adapter/memstore"
	dgnats "github.com/Strob0t/deskgate/internal/adapter/nats"
	"github.com/Strob0t/deskgate/internal/adapter/natskv"
	cfotel "github.com/Strob0t/deskgate/internal/adapter/otel"
	"github.com/Strob0t/deskgate/internal/adapter/postgres"
	"github.com/Strob0t/deskgate/internal/adapter/ristretto"
	"github.com/Strob0t/deskgate/internal/adapter/tiered"
	"github.com/Strob0t/deskgate/internal/adapter/turncache"
	"github.com/Strob0t/deskgate/internal/config"
	"github.com/Strob0t/deskgate/internal/logger"
	"github.com/Strob0t/deskgate/internal/middleware"
	"github.com/Strob0t/deskgate/internal/port/cache"
	"github.com/Strob0t/deskgate/internal/port/database"
	"github.com/Strob0t/deskgate/internal/port/messagequeue"
	"github.com/Strob0t/deskgate/internal/service"
)

// idempotencyTTL bounds how long a replayed create answers from cache.
const idempotencyTTL = 24 * time.Hour

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, path, err := config.LoadWithCLI(flags)
	if err != nil {
		return err
	}
	cfg.Logging.Service = "deskgate-ledger"
	log, closer := logger.New(cfg.Logging)
	defer closer.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"path", path,
		"port", cfg.Ledger.Port,
		"store", cfg.Ledger.Store,
		"pg_max_conns", cfg.Postgres.MaxConns,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTEL, err := cfotel.Init(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTEL(sctx)
	}()

	// --- Store ---
	var store database.LedgerStore
	switch cfg.Ledger.Store {
	case "memory":
		store = memstore.New()
		slog.Warn("ledger uses the in-memory store, records are lost on restart")
	default:
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		slog.Info("migrations applied")

		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		slog.Info("postgres connected")
		store = postgres.NewStore(pool)
	}

	// --- NATS ---
	var queue messagequeue.Queue
	var nq *dgnats.Queue
	if cfg.NATS.URL != "" {
		nq, err = dgnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = nq.Drain() }()
		queue = nq
	}

	// --- Idempotency cache ---
	l1, err := ristretto.New(cfg.Cache.L1MaxBytes)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()
	var idemCache cache.Cache = l1
	if nq != nil {
		// Shared across ledger replicas so a retried create lands on the same record.
		kv, err := nq.KeyValue(ctx, cfg.Cache.L2Bucket+"_IDEMPOTENCY", idempotencyTTL)
		if err != nil {
			slog.Warn("idempotency L2 unavailable, using L1 only", "error", err)
		} else {
			idemCache = tiered.New(l1, natskv.New(kv), time.Hour)
		}
	}

	ledgerSvc := service.NewLedgerService(store, queue)

	// --- HTTP ---
	r := chi.NewRouter()
	r.Use(dghttp.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(dghttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(cfotel.HTTPMiddleware("ledger"))

	dghttp.MountLedgerRoutes(r,
		&dghttp.LedgerHandlers{Ledger: ledgerSvc, BodyLimit: cfg.Server.MaxBodySize},
		turncache.NewIdempotency(idemCache, idempotencyTTL),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Ledger.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ledgerSvc.RunExpiry(gctx, cfg.Ledger.ExpireInterval)
	})
	g.Go(func() error {
		slog.Info("starting ledger", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down ledger")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
