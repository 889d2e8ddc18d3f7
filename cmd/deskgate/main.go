// Command deskgate runs the local gate daemon: it consumes agent turn
// streams, gates privileged desktop tools behind human approval and serves
// the approval API to the desktop shell.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	_ "github.com/Strob0t/deskgate/internal/adapter/agentsdk"
	"github.com/Strob0t/deskgate/internal/adapter/hostbridge"
	dghttp "github.com/Strob0t/deskgate/internal/adapter/http"
	"github.com/Strob0t/deskgate/internal/adapter/ledgerhttp"
	dgmcp "github.com/Strob0t/deskgate/internal/adapter/mcp"
	dgnats "github.com/Strob0t/deskgate/internal/adapter/nats"
	"github.com/Strob0t/deskgate/internal/adapter/natskv"
	cfotel "github.com/Strob0t/deskgate/internal/adapter/otel"
	"github.com/Strob0t/deskgate/internal/adapter/prefsfile"
	"github.com/Strob0t/deskgate/internal/adapter/ristretto"
	"github.com/Strob0t/deskgate/internal/adapter/slack"
	"github.com/Strob0t/deskgate/internal/adapter/tiered"
	"github.com/Strob0t/deskgate/internal/adapter/turncache"
	"github.com/Strob0t/deskgate/internal/adapter/ws"
	"github.com/Strob0t/deskgate/internal/config"
	"github.com/Strob0t/deskgate/internal/domain/policy"
	"github.com/Strob0t/deskgate/internal/logger"
	"github.com/Strob0t/deskgate/internal/middleware"
	"github.com/Strob0t/deskgate/internal/port/agentbackend"
	"github.com/Strob0t/deskgate/internal/port/broadcast"
	"github.com/Strob0t/deskgate/internal/port/cache"
	"github.com/Strob0t/deskgate/internal/port/ledger"
	"github.com/Strob0t/deskgate/internal/resilience"
	"github.com/Strob0t/deskgate/internal/secrets"
	"github.com/Strob0t/deskgate/internal/service"
)

func main() {
	args := os.Args[1:]
	chat := len(args) > 0 && args[0] == "chat"
	if chat {
		args = args[1:]
	}

	var err error
	if chat {
		err = runChat(args)
	} else {
		err = run(args)
	}
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// app holds the wired services shared by the daemon and the chat command.
type app struct {
	cfg      *config.Config
	policies *service.PolicyState
	gate     *service.Gate
	turns    *service.TurnService
	recon    *service.Reconciler
	queue    *dgnats.Queue
	secrets  *secrets.Vault
	cleanup  []func()
}

func (a *app) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
}

// setup loads configuration and wires every service. Events go to bc and
// logs to logOut.
func setup(ctx context.Context, args []string, bc broadcast.Broadcaster, logOut io.Writer) (*app, error) {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return nil, err
	}
	cfg, path, err := config.LoadWithCLI(flags)
	if err != nil {
		return nil, err
	}

	log, closer := logger.NewWithWriter(cfg.Logging, logOut)
	slog.SetDefault(log)
	a := &app{cfg: cfg}
	a.cleanup = append(a.cleanup, closer.Close)

	slog.Info("config loaded",
		"path", path,
		"port", cfg.Server.Port,
		"agent_backend", cfg.Agent.Backend,
		"ledger_enabled", cfg.Ledger.URL != "",
		"nats_enabled", cfg.NATS.URL != "",
	)

	// Config values are the fallback; the environment wins on every reload.
	vault, err := secrets.NewVault(secrets.EnvLoader(map[string]string{
		secrets.MCPAPIKey:       cfg.MCP.APIKey,
		secrets.SlackWebhookURL: cfg.Notify.SlackWebhookURL,
	}, secrets.MCPAPIKey, secrets.SlackWebhookURL))
	if err != nil {
		a.close()
		return nil, err
	}
	a.secrets = vault

	// --- Telemetry ---
	shutdownOTEL, err := cfotel.Init(ctx, cfg.OTEL)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("otel: %w", err)
	}
	a.cleanup = append(a.cleanup, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	})
	metrics, err := cfotel.NewMetrics()
	if err != nil {
		a.close()
		return nil, fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---
	if cfg.NATS.URL != "" {
		q, err := dgnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("nats: %w", err)
		}
		a.queue = q
		a.cleanup = append(a.cleanup, func() { _ = q.Drain() })
	}

	l1, err := ristretto.New(cfg.Cache.L1MaxBytes)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("l1 cache: %w", err)
	}
	a.cleanup = append(a.cleanup, l1.Close)
	var turnCache cache.Cache = l1
	if a.queue != nil {
		kv, err := a.queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.TTL)
		if err != nil {
			slog.Warn("turn history L2 unavailable, using L1 only", "bucket", cfg.Cache.L2Bucket, "error", err)
		} else {
			turnCache = tiered.New(l1, natskv.New(kv), cfg.Cache.TTL)
		}
	}

	if hook := vault.Get(secrets.SlackWebhookURL); hook != "" {
		slog.Info("slack notifications enabled", "webhook", vault.Redacted(secrets.SlackWebhookURL))
		bc = broadcast.Fanout{bc, slack.NewNotifier(hook, cfg.Notify.PanelURL)}
	}

	// --- Adapters ---
	backend, err := agentbackend.New(cfg.Agent.Backend, map[string]string{
		"url":            cfg.Agent.URL,
		"submit_timeout": cfg.Agent.SubmitTimeout.String(),
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("agent backend: %w", err)
	}
	exec := hostbridge.New(cfg.Host.BridgeURL, cfg.Host.Timeout, cfg.Host.MaxConcurrent)

	var client ledger.Client
	if cfg.Ledger.URL != "" {
		lc := ledgerhttp.NewClient(cfg.Ledger.URL, cfg.Ledger.Timeout)
		lc.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout,
			resilience.WithFailureFilter(ledgerhttp.IsTransportFailure),
			resilience.WithStateChange(func(from, to resilience.State) {
				slog.Warn("ledger circuit breaker", "from", from.String(), "to", to.String())
			}),
		))
		client = lc
	}

	// --- Services ---
	a.policies = service.NewPolicyState(prefsfile.New(cfg.Preferences.Path, policy.Policy(cfg.Gate.DefaultPolicy)), bc)
	if err := a.policies.Load(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("load policies: %w", err)
	}

	a.gate = service.NewGate(service.NewRegistry(), service.NewLinks(), client, metrics, service.GateConfig{
		OrganizationID: cfg.Ledger.OrganizationID,
		Source:         cfg.Ledger.Source,
		TTL:            cfg.Ledger.TTL,
		LedgerTimeout:  cfg.Ledger.Timeout,
	})
	a.turns = service.NewTurnService(backend, exec, a.gate, a.policies, bc,
		turncache.NewHistory(turnCache), metrics, service.TurnConfig{
			UserID:        cfg.Agent.UserID,
			UseMemory:     cfg.Agent.UseMemory,
			SubmitTimeout: cfg.Agent.SubmitTimeout,
			HistoryTTL:    cfg.Cache.TTL,
		})
	if client != nil {
		a.recon = service.NewReconciler(client, a.gate.Registry(), a.gate.Links(),
			cfg.Ledger.OrganizationID, cfg.Ledger.ReconcileInterval)
	}
	return a, nil
}

// reloadSecrets reloads the vault on every SIGHUP until ctx ends.
func (a *app) reloadSecrets(ctx context.Context) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			if err := a.secrets.Reload(); err != nil {
				slog.Error("secret reload failed", "error", err)
				continue
			}
			slog.Info("secrets reloaded", "keys", a.secrets.Keys(), "mcp_api_key", a.secrets.Redacted(secrets.MCPAPIKey))
		}
	}
}

// startReconciler runs the ledger reconciler on g and subscribes it to
// ledger notices when NATS is configured.
func (a *app) startReconciler(ctx context.Context, g *errgroup.Group) error {
	if a.recon == nil {
		return nil
	}
	if a.queue != nil {
		cancel, err := a.recon.Subscribe(ctx, a.queue)
		if err != nil {
			return fmt.Errorf("subscribe ledger notices: %w", err)
		}
		a.cleanup = append(a.cleanup, cancel)
	}
	g.Go(func() error { return a.recon.Run(ctx) })
	return nil
}

func run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := ws.NewHub()
	a, err := setup(ctx, args, hub, os.Stdout)
	if err != nil {
		return err
	}
	defer a.close()
	defer hub.Close()
	cfg := a.cfg

	g, gctx := errgroup.WithContext(ctx)
	if err := a.startReconciler(gctx, g); err != nil {
		return err
	}
	g.Go(func() error { return a.reloadSecrets(gctx) })

	// --- HTTP ---
	r := chi.NewRouter()
	r.Use(dghttp.CORS(cfg.Server.CORSOrigin))
	r.Use(dghttp.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(dghttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cfotel.HTTPMiddleware("deskgate"))

	dghttp.MountRoutes(r, &dghttp.Handlers{
		Turns:     a.turns,
		Gate:      a.gate,
		Policies:  a.policies,
		Hub:       hub,
		BodyLimit: cfg.Server.MaxBodySize,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var mcpSrv *dgmcp.Server
	if cfg.MCP.Enabled {
		mcpSrv = dgmcp.NewServer(dgmcp.ServerConfig{
			Addr:    cfg.MCP.Addr,
			Name:    "deskgate",
			Version: "0.1.0",
			APIKey:  a.secrets.Getter(secrets.MCPAPIKey),
		}, dgmcp.ServerDeps{Turns: a.turns, Decider: a.gate, Policies: a.policies})
		if err := mcpSrv.Start(); err != nil {
			return err
		}
	}

	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := a.turns.Shutdown(shutdownCtx); err != nil {
			slog.Warn("turn shutdown", "error", err)
		}
		if mcpSrv != nil {
			if err := mcpSrv.Stop(shutdownCtx); err != nil {
				slog.Warn("mcp shutdown", "error", err)
			}
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
