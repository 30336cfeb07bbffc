// Command sqlchat runs the conversational NL→SQL service: the HTTP boundary,
// the dispatcher worker pools and the periodic maintenance scheduler in one
// process.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/landmarklabs/sqlchat/agent/pkg/agent"
	"github.com/landmarklabs/sqlchat/agent/pkg/cache"
	"github.com/landmarklabs/sqlchat/agent/pkg/catalog"
	"github.com/landmarklabs/sqlchat/agent/pkg/db"
	"github.com/landmarklabs/sqlchat/agent/pkg/dispatch"
	"github.com/landmarklabs/sqlchat/agent/pkg/llm"
	"github.com/landmarklabs/sqlchat/agent/pkg/memory"
	"github.com/landmarklabs/sqlchat/agent/pkg/sched"
	"github.com/landmarklabs/sqlchat/api/config"
	"github.com/landmarklabs/sqlchat/api/handlers"
)

var (
	// Set by LDFLAGS.
	version = "dev"
	commit  = "none"
)

func main() {
	envFile := flag.String("env-file", ".env", "env file to load before reading configuration")
	listenAddr := flag.String("listen", "", "listen address (overrides LISTEN_ADDR)")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not load env file", "path", *envFile, "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)
	log.Info("sqlchat starting", "version", version, "commit", commit)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, Release: version}); err != nil {
			log.Warn("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("sqlchat exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	// Cache backend: Redis when configured, in-process otherwise.
	var store cache.Store
	var cachePing handlers.Pinger
	var locker sched.Locker
	var memorySweep func() int
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		client := redis.NewClient(opts)
		defer client.Close()
		rs := cache.NewRedisStore(client, log)
		store = rs
		cachePing = rs.Ping
		locker = sched.NewRedisLocker(client)
		log.Info("cache backend: redis", "addr", opts.Addr)
	} else {
		ms := cache.NewMemoryStore()
		store = ms
		locker = sched.NewMemoryLocker(nil)
		memorySweep = ms.Sweep
		log.Info("cache backend: in-process (no REDIS_URL)")
	}

	// Database connector.
	conn, err := db.NewPostgres(ctx, cfg.DatabaseURL, db.PoolConfig{
		MaxConns:    int32(cfg.DBPoolSize + cfg.DBMaxOverflow),
		MinConns:    int32(min(cfg.DBPoolSize, 2)),
		MaxIdleTime: cfg.DBPoolTimeout,
		MaxLifetime: cfg.DBPoolRecycle,
	}, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	// LM coordinator.
	lmCfg := llm.CoordinatorConfig{
		Model:            cfg.LiteLLMModel,
		RequestsPerMin:   cfg.APIRateLimit,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerCooldown:  cfg.BreakerCooldown,
		CallTimeout:      cfg.LLMCallTimeout,
		CacheEnabled:     cfg.EnableLLMCache,
		CacheTTL:         cfg.LLMCacheTTL,
		RetryBase:        500 * time.Millisecond,
		RetryCap:         8 * time.Second,
		MaxAttempts:      3,
	}
	transport := llm.NewOpenAITransport(cfg.LiteLLMAPIBase, cfg.LiteLLMAuthHeader, cfg.LiteLLMModel)
	lm := llm.NewCoordinator(transport, store, lmCfg, clockwork.NewRealClock(), log)

	// Core collaborators.
	cat := catalog.New(conn, store, cfg.SchemaCacheTTL, log)
	mem := memory.New(store, cfg.HistoryLimit, cfg.SessionTTL, nil, log)

	agentCfg := agent.DefaultConfig()
	agentCfg.GenerationTemperature = cfg.GenerationTemperature
	agentCfg.SummaryTemperature = cfg.SummaryTemperature
	agentCfg.SuggestionTemperature = cfg.SuggestionTemperature
	agentCfg.HistoryWindow = cfg.HistoryLimit
	agentCfg.MaxCorrections = cfg.MaxRetries
	agentCfg.QueryTimeout = cfg.QueryTimeout
	agentCfg.AnswerCacheTTL = cfg.QueryCacheTTL
	core := agent.New(lm, conn, cat, mem, store, agentCfg, log)

	// Dispatcher.
	dispCfg := dispatch.Config{
		Pools:          dispatch.DefaultPools(cfg.TaskSoftTimeLimit, cfg.TaskTimeLimit),
		MaxRetries:     cfg.MaxRetries,
		MaxQuestionLen: cfg.MaxQuestionLen,
		RetryBase:      time.Second,
	}
	for i := range dispCfg.Pools {
		if dispCfg.Pools[i].Name == dispatch.PoolStandard {
			dispCfg.Pools[i].Workers = cfg.WorkerCount
			dispCfg.Pools[i].QueueSize = cfg.QueueSize
		}
	}
	disp := dispatch.New(core, dispatch.NewResultStore(store, time.Hour), dispatch.NewLMClassifier(lm, log), dispCfg, nil, log)
	disp.Start(ctx)
	defer disp.Stop()

	// Periodic maintenance.
	scheduler := sched.New(locker, log)
	if err := scheduler.Add(sched.Job{
		Name:   "schema-refresh",
		Spec:   "@every 1h",
		Period: time.Hour,
		Run:    cat.Refresh,
	}); err != nil {
		return err
	}
	if err := scheduler.Add(sched.Job{
		Name:   "queue-depth-flush",
		Spec:   "@every 15s",
		Period: 15 * time.Second,
		Run: func(context.Context) error {
			disp.FlushQueueDepths()
			return nil
		},
	}); err != nil {
		return err
	}
	if memorySweep != nil {
		// Redis expires sessions natively; the in-process store needs help.
		if err := scheduler.Add(sched.Job{
			Name:   "session-sweep",
			Spec:   "@every 10m",
			Period: 10 * time.Minute,
			Run: func(context.Context) error {
				if n := memorySweep(); n > 0 {
					log.Debug("swept expired cache entries", "count", n)
				}
				return nil
			},
		}); err != nil {
			return err
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	// HTTP boundary.
	srv := &handlers.Server{
		Dispatcher:         disp,
		Memory:             mem,
		Visualizer:         core,
		DisplaySQLInErrors: cfg.DisplaySQLInErrors,
		CachePing:          cachePing,
		DBPing:             conn.Ping,
		Log:                log,
	}
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(cfg.CORSOrigin),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: lvl, TimeFormat: time.Kitchen}))
}
