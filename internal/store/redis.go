package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/quote-engine/internal/metrics"
	"github.com/atmx/quote-engine/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache.
// Reads check Redis first then fall back to the primary; entries expire
// after ttl since the primary changes underneath us.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
	log     *slog.Logger
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
		log:     slog.Default(),
	}
}

func (s *CachedStore) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	var a model.Account
	if s.get(ctx, "account", accountKey(accountID), &a) {
		return &a, nil
	}

	// Cache miss: read from primary. ErrNotFound is not cached.
	acct, err := s.primary.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	s.set(ctx, accountKey(accountID), acct)
	return acct, nil
}

func (s *CachedStore) ListOrders(ctx context.Context, accountID string) ([]model.Order, error) {
	var orders []model.Order
	if s.get(ctx, "orders", ordersKey(accountID), &orders) {
		return orders, nil
	}

	orders, err := s.primary.ListOrders(ctx, accountID)
	if err != nil {
		return nil, err
	}
	s.set(ctx, ordersKey(accountID), orders)
	return orders, nil
}

func (s *CachedStore) ListQuotes(ctx context.Context) ([]model.Quote, error) {
	var quotes []model.Quote
	if s.get(ctx, "quotes", quotesKey, &quotes) {
		return quotes, nil
	}

	quotes, err := s.primary.ListQuotes(ctx)
	if err != nil {
		return nil, err
	}
	s.set(ctx, quotesKey, quotes)
	return quotes, nil
}

// Invalidate drops every cached entry of an account.
func (s *CachedStore) Invalidate(ctx context.Context, accountID string) error {
	return s.rdb.Del(ctx, accountKey(accountID), ordersKey(accountID)).Err()
}

// --- Cache helpers ---

func (s *CachedStore) get(ctx context.Context, kind, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil && json.Unmarshal(data, dst) == nil {
		metrics.StoreCacheTotal.WithLabelValues(kind, "hit").Inc()
		return true
	}
	if err != nil && err != redis.Nil {
		s.log.Warn("cache read failed", "key", key, "err", err)
	}
	metrics.StoreCacheTotal.WithLabelValues(kind, "miss").Inc()
	return false
}

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		s.log.Warn("cache write failed", "key", key, "err", err)
	}
}

const quotesKey = "quotes:list"

func accountKey(id string) string { return fmt.Sprintf("account:%s", id) }
func ordersKey(id string) string  { return fmt.Sprintf("orders:%s", id) }
