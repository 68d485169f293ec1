package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/quote-engine/internal/api"
	"github.com/atmx/quote-engine/internal/config"
	"github.com/atmx/quote-engine/internal/feed"
	"github.com/atmx/quote-engine/internal/model"
	"github.com/atmx/quote-engine/internal/simulation"
	"github.com/atmx/quote-engine/internal/store"
	"github.com/atmx/quote-engine/internal/valuation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Redis (cache and/or feed) ---
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.Error("invalid redis.url", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	// --- Initialize store ---
	var st store.Store
	switch {
	case cfg.Database.URL != "":
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")
	case cfg.Upstream.URL != "":
		st = store.NewHTTPStore(cfg.Upstream.URL, cfg.Upstream.Token)
		slog.Info("reading accounts from upstream", "url", cfg.Upstream.URL)
	default:
		slog.Warn("no database.url or upstream.url set, using in-memory demo store",
			"account", store.DemoAccountID)
		st = store.NewDemoStore()
	}

	// Wrap with Redis read-through cache if configured.
	if rdb != nil && cfg.Redis.CacheTTL > 0 {
		st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL)
		slog.Info("Redis cache enabled", "ttl", cfg.Redis.CacheTTL.String())
	}

	// --- Point-in-time quotes seed the registry and history ---
	seed, err := st.ListQuotes(ctx)
	if err != nil {
		slog.Warn("initial quote list unavailable, starting empty", "err", err)
	}

	// --- Quote feed ---
	src, err := newSource(cfg, rdb, seed)
	if err != nil {
		slog.Error("feed source setup failed", "mode", cfg.Feed.Mode, "err", err)
		os.Exit(1)
	}

	var hub *api.WSHub
	consumer := feed.NewConsumer(src,
		feed.WithHistorySize(cfg.Feed.HistorySize),
		feed.WithBackoff(cfg.Feed.BackoffMin, cfg.Feed.BackoffMax),
		feed.WithLogger(logger.With("component", "feed", "mode", cfg.Feed.Mode)),
		feed.WithSnapshotHook(func(snap model.QuoteSnapshot) { hub.BroadcastSnapshot(snap) }),
	)
	hub = api.NewWSHub(consumer.CurrentSnapshot)
	go hub.Run(ctx)

	if err := consumer.Seed(seed); err != nil {
		slog.Warn("ignoring invalid seed quotes", "err", err)
	}
	if err := consumer.Start(ctx); err != nil {
		slog.Error("feed start failed", "err", err)
		os.Exit(1)
	}

	// --- API ---
	valuator := valuation.NewValuator(valuation.NewCalculator(cfg.CostBasisMethod()))
	svc := api.NewService(st, consumer, valuator)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(svc, hub),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("quote-engine listening",
			"addr", srv.Addr,
			"env", cfg.App.Env,
			"feed", cfg.Feed.Mode,
			"cost_basis", cfg.CostBasisMethod().String(),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down quote-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	consumer.Stop()
	fmt.Println("quote-engine stopped")
}

func newSource(cfg *config.Config, rdb *redis.Client, seed []model.Quote) (feed.Source, error) {
	switch cfg.Feed.Mode {
	case config.FeedModeWS:
		return feed.NewWebSocketSource(cfg.Feed.URL), nil
	case config.FeedModeRedis:
		return feed.NewRedisSource(rdb, cfg.Feed.RedisChannel), nil
	case config.FeedModeKafka:
		return feed.NewKafkaSource(cfg.Feed.KafkaBrokers, cfg.Feed.KafkaTopic, cfg.Feed.KafkaGroup), nil
	default:
		if len(seed) == 0 {
			seed = store.DemoQuotes()
		}
		return simulation.NewSimulator(seed, cfg.Sim.Interval)
	}
}
