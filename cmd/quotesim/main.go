// Command quotesim runs the price simulator on its own and publishes the
// priceUpdate stream over WebSocket, Redis pub/sub or Kafka, so the server
// can consume it in ws, redis or kafka feed mode.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/quote-engine/internal/config"
	"github.com/atmx/quote-engine/internal/simulation"
	"github.com/atmx/quote-engine/internal/store"
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

	sim, err := simulation.NewSimulator(store.DemoQuotes(), cfg.Sim.Interval)
	if err != nil {
		slog.Error("simulator setup failed", "err", err)
		os.Exit(1)
	}

	var pub simulation.Publisher
	switch cfg.Sim.Publish {
	case config.FeedModeRedis:
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.Error("invalid redis.url", "err", err)
			os.Exit(1)
		}
		pub = simulation.NewRedisPublisher(redis.NewClient(opt), cfg.Feed.RedisChannel)
	case config.FeedModeKafka:
		pub = simulation.NewKafkaPublisher(cfg.Feed.KafkaBrokers, cfg.Feed.KafkaTopic)
	default:
		b := newBroadcaster()
		pub = b
		srv := serveWS(cfg.Addr(), b)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}
	defer pub.Close()

	slog.Info("quotesim started",
		"publish", cfg.Sim.Publish,
		"interval", sim.Interval().String(),
		"symbols", len(sim.Quotes()),
	)
	err = sim.Run(ctx, func(ctx context.Context, msg []byte) error {
		if err := pub.Publish(ctx, msg); err != nil {
			slog.Warn("publish failed", "err", err)
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("simulator stopped", "err", err)
		os.Exit(1)
	}
	slog.Info("quotesim stopped")
}

func serveWS(addr string, b *broadcaster) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", b.handleWS)

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		slog.Info("quotesim ws listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()
	return srv
}

// broadcaster is a simulation.Publisher writing to every connected
// WebSocket client. Slow or broken clients are dropped.
type broadcaster struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{clients: make(map[*websocket.Conn]struct{})}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func (b *broadcaster) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}
	b.mu.Lock()
	b.clients[conn] = struct{}{}
	b.mu.Unlock()

	// Drain reads so control frames (pings, close) are handled.
	go func() {
		defer b.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (b *broadcaster) remove(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[conn]; ok {
		delete(b.clients, conn)
		conn.Close()
	}
}

func (b *broadcaster) Publish(_ context.Context, msg []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			delete(b.clients, conn)
			conn.Close()
		}
	}
	return nil
}

func (b *broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.clients {
		conn.Close()
		delete(b.clients, conn)
	}
	return nil
}
