// Package store reads the data the valuation core depends on but does not
// own: accounts, order history and point-in-time quote lists. The server is
// authoritative for all of it; implementations here only read.
// Implementations include PostgreSQL, an upstream REST API, a Redis
// read-through cache and an in-memory store for tests and local runs.
package store

import (
	"context"
	"errors"

	"github.com/atmx/quote-engine/internal/model"
)

// ErrNotFound is returned when an account does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the read interface to the external system of record.
type Store interface {
	// GetAccount returns the credits and positions of an account.
	GetAccount(ctx context.Context, accountID string) (*model.Account, error)

	// ListOrders returns the order history of an account, oldest first.
	// Status updates may appear as repeated records with the same ID.
	ListOrders(ctx context.Context, accountID string) ([]model.Order, error)

	// ListQuotes returns a point-in-time quote list.
	ListQuotes(ctx context.Context) ([]model.Quote, error)
}
