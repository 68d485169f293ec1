package simulation_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/quote-engine/internal/feed"
	"github.com/atmx/quote-engine/internal/simulation"
)

func TestRedisPublisher_ReachesRedisSource(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stream, err := feed.NewRedisSource(rdb, "quotes.prices").Connect(ctx)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer stream.Close()

	sim, _ := simulation.NewSimulator(seedQuotes(), time.Second)
	msg, _ := sim.Step()
	if err := simulation.NewRedisPublisher(rdb, "quotes.prices").Publish(ctx, msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	raw, err := stream.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(raw) != string(msg) {
		t.Errorf("expected %s, got %s", msg, raw)
	}
}
