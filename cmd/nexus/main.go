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

	cfhttp "github.com/nexus-tt/nexus/internal/adapter/http"
	"github.com/nexus-tt/nexus/internal/adapter/litellm"
	cfnats "github.com/nexus-tt/nexus/internal/adapter/nats"
	"github.com/nexus-tt/nexus/internal/adapter/natskv"
	cfotel "github.com/nexus-tt/nexus/internal/adapter/otel"
	"github.com/nexus-tt/nexus/internal/adapter/postgres"
	"github.com/nexus-tt/nexus/internal/adapter/ristretto"
	"github.com/nexus-tt/nexus/internal/adapter/tiered"
	"github.com/nexus-tt/nexus/internal/adapter/ws"
	"github.com/nexus-tt/nexus/internal/config"
	"github.com/nexus-tt/nexus/internal/domain/guard"
	"github.com/nexus-tt/nexus/internal/domain/history"
	"github.com/nexus-tt/nexus/internal/domain/prompt"
	"github.com/nexus-tt/nexus/internal/logger"
	"github.com/nexus-tt/nexus/internal/middleware"
	"github.com/nexus-tt/nexus/internal/port/cache"
	"github.com/nexus-tt/nexus/internal/port/messagequeue"
	"github.com/nexus-tt/nexus/internal/port/transport"
	"github.com/nexus-tt/nexus/internal/resilience"
	"github.com/nexus-tt/nexus/internal/secrets"
	"github.com/nexus-tt/nexus/internal/service"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := dispatch(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// dispatch routes to a subcommand. No subcommand means serve.
func dispatch(args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "serve":
			return run(args[1:])
		case "migrate":
			return runMigrate(args[1:])
		case "admin":
			return runAdmin(args[1:])
		case "help", "--help", "-h":
			printHelp()
			return nil
		}
	}
	return run(args)
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `Usage: nexus [command] [options]

Commands:
  serve       Run the chat server (default)
  migrate     Apply or roll back database migrations
  admin       Administrative tasks
  help        Show this help message

Serve options:
  -c, --config PATH   YAML config file (default nexus.yaml)
  -p, --port PORT     HTTP port
  --log-level LEVEL   debug | info | warn | error
  --dsn DSN           PostgreSQL DSN
  --nats-url URL      NATS URL (empty disables the queue)
`)
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := config.LoadWithFlags(config.DefaultConfigFile, flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
		"history_policy", cfg.Chat.HistoryPolicy,
		"guard_enabled", cfg.Guard.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	shutdownOTEL, err := cfotel.Init(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	store := postgres.NewStore(pool)

	// NATS is optional: without it usage is written inline and the L2 cache,
	// connection registry and idempotency replay are off.
	var (
		queue    messagequeue.Queue
		registry transport.Registry
		l2       cache.Cache
		idem     cache.Cache
		nc       *cfnats.Queue
	)
	if cfg.NATS.URL != "" {
		nc, err = cfnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() {
			if err := nc.Drain(); err != nil {
				slog.Warn("nats drain", "error", err)
			}
		}()
		queue = nc
		slog.Info("nats connected", "stream", cfg.NATS.Stream)

		regKV, err := nc.KeyValue(ctx, cfg.Registry.Bucket, cfg.Registry.TTL)
		if err != nil {
			return fmt.Errorf("registry bucket: %w", err)
		}
		registry = natskv.NewRegistry(regKV)

		cacheKV, err := nc.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
		if err != nil {
			return fmt.Errorf("cache bucket: %w", err)
		}
		l2 = natskv.New(cacheKV)

		idemKV, err := nc.KeyValue(ctx, cfg.Idem.Bucket, cfg.Idem.TTL)
		if err != nil {
			return fmt.Errorf("idempotency bucket: %w", err)
		}
		idem = natskv.New(idemKV)
	}

	// Profile cache
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()
	profileCache := tiered.New(l1, l2, cfg.Cache.L2TTL)

	// Secrets: config values overridden by env, reloaded on SIGHUP.
	vault, err := secrets.NewVault(secrets.Layered(
		secrets.Static(map[string]string{
			secrets.AdminKeyHash:     cfg.Guard.AdminKeyHash,
			secrets.LiteLLMMasterKey: cfg.LiteLLM.MasterKey,
		}),
		secrets.EnvLoader(secrets.AdminKeyHash, secrets.LiteLLMMasterKey),
	))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	vault.ReloadOn(ctx, syscall.SIGHUP)

	// LiteLLM behind a circuit breaker
	llm := litellm.NewClient(cfg.LiteLLM.URL, cfg.LiteLLM.MasterKey, cfg.Inference.Model)
	llm.SetKeySource(vault.Source(secrets.LiteLLMMasterKey))
	llm.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout,
		resilience.WithName("litellm"),
		resilience.WithStateChange(func(name string, from, to resilience.State) {
			slog.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		}),
	))

	// --- Domain ---

	bank, err := loadBank(cfg.Guard.BankFile)
	if err != nil {
		return err
	}
	g := guard.New(bank, cfg.Guard.PrivilegedRole)
	if vault.Get(secrets.AdminKeyHash) == "" {
		slog.Info("no admin key hash configured, privileged role cannot be claimed")
	}
	roles := service.NewRoleResolver(cfg.Guard)
	roles.UseHashSource(vault.Source(secrets.AdminKeyHash))

	// --- Services ---

	engines := service.NewEngineService(store, profileCache, cfg.Cache.L2TTL)
	conversations := service.NewConversationService(store)
	usageSvc := service.NewUsageService(store, queue, cfg.Usage.MonthlyLimit)
	if queue != nil {
		cancelUsage, err := usageSvc.StartConsumer(ctx)
		if err != nil {
			return fmt.Errorf("usage consumer: %w", err)
		}
		defer cancelUsage()
	}

	wsLimiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopWSCleanup := wsLimiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopWSCleanup()

	hub := ws.NewHub(registry, ws.Options{
		WriteTimeout: cfg.WS.WriteTimeout,
		ReadLimit:    cfg.WS.ReadLimit,
		Limiter:      wsLimiter,
	})

	chat := service.NewChatService(service.ChatDeps{
		Store:    store,
		Profiles: engines,
		LLM:      llm,
		Sender:   hub,
		Registry: registry,
		Guard:    g,
		Roles:    roles,
		History:  history.New(history.ParsePolicy(cfg.Chat.HistoryPolicy), cfg.Chat.HistoryWindow),
		Composer: prompt.NewComposer(prompt.ParseStrictness(cfg.Chat.Strictness), prompt.Limits{
			MaxFiles:        cfg.Chat.KnowledgeMaxFiles,
			MaxCharsPerFile: cfg.Chat.KnowledgeMaxChars,
		}),
		Hook:    usageSvc,
		Metrics: metrics,
	}, service.NewChatConfig(cfg))
	hub.Handle(ws.ActionSendMessage, chat.HandleFrame)

	// --- HTTP ---

	checks := map[string]cfhttp.HealthCheck{
		"postgres": store.Ping,
		"litellm":  llm.Health,
	}
	if nc != nil {
		checks["nats"] = func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		}
	}

	handlers := &cfhttp.Handlers{
		Conversations: conversations,
		Engines:       engines,
		Usage:         usageSvc,
		Checks:        checks,
	}

	httpLimiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopHTTPCleanup := httpLimiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopHTTPCleanup()

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(cfotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	r.Use(cfhttp.SecurityHeaders)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cfhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(httpLimiter.Handler)
	if idem != nil {
		r.Use(middleware.Idempotency(idem, cfg.Idem.TTL))
	}

	cfhttp.MountRoutes(r, handlers, hub)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	hub.Close()
	return srv.Shutdown(shutdownCtx)
}

// loadBank reads the guard pattern bank. An empty path uses the built-in bank.
func loadBank(path string) (guard.Bank, error) {
	if path == "" {
		return guard.DefaultBank(), nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied path
	if err != nil {
		return guard.Bank{}, fmt.Errorf("guard bank: %w", err)
	}
	bank, err := guard.ParseBank(data)
	if err != nil {
		return guard.Bank{}, fmt.Errorf("guard bank %s: %w", path, err)
	}
	slog.Info("guard bank loaded", "path", path)
	return bank, nil
}
