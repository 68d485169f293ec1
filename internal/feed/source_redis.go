package feed

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisSource reads price batches published on a Redis pub/sub channel.
type RedisSource struct {
	client  *redis.Client
	channel string
}

// NewRedisSource creates a source subscribed to channel.
func NewRedisSource(client *redis.Client, channel string) *RedisSource {
	return &RedisSource{client: client, channel: channel}
}

func (s *RedisSource) Connect(ctx context.Context) (Stream, error) {
	ps := s.client.Subscribe(ctx, s.channel)
	// Wait for the subscription confirmation so connection failures surface here.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, err
	}
	return &redisStream{ps: ps}, nil
}

type redisStream struct {
	ps *redis.PubSub
}

func (s *redisStream) Read(ctx context.Context) ([]byte, error) {
	msg, err := s.ps.ReceiveMessage(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(msg.Payload), nil
}

func (s *redisStream) Close() error { return s.ps.Close() }
