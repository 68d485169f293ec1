package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/quote-engine/internal/model"
)

// PostgresStore implements Store on the trading backend's PostgreSQL schema.
// Monetary columns are NUMERIC and are read as TEXT for exact decimal
// precision. The store never writes.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	var credits string
	err := s.pool.QueryRow(ctx,
		`SELECT credits::TEXT FROM accounts WHERE id = $1`, accountID).
		Scan(&credits)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", accountID, err)
	}

	a := &model.Account{ID: accountID, Positions: make(map[string]int64)}
	if a.Credits, err = decimal.NewFromString(credits); err != nil {
		return nil, fmt.Errorf("account %s: credits %q: %w", accountID, credits, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT symbol, quantity FROM positions
		 WHERE account_id = $1 AND quantity <> 0`, accountID)
	if err != nil {
		return nil, fmt.Errorf("get positions %s: %w", accountID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var symbol string
		var qty int64
		if err := rows.Scan(&symbol, &qty); err != nil {
			return nil, err
		}
		a.Positions[symbol] = qty
	}
	return a, rows.Err()
}

func (s *PostgresStore) ListOrders(ctx context.Context, accountID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, symbol, side, order_type,
		        quantity, price::TEXT, status, created_at
		 FROM orders WHERE account_id = $1
		 ORDER BY created_at, id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list orders %s: %w", accountID, err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		var price string
		if err := rows.Scan(&o.ID, &o.AccountID, &o.Symbol, &o.Side, &o.OrderType,
			&o.Quantity, &price, &o.Status, &o.CreatedAt); err != nil {
			return nil, err
		}
		if o.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("order %s: price %q: %w", o.ID, price, err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) ListQuotes(ctx context.Context) ([]model.Quote, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, price::TEXT, change_pct::TEXT,
		        COALESCE(display_name, ''), COALESCE(logo_url, '')
		 FROM quotes ORDER BY position, symbol`)
	if err != nil {
		return nil, fmt.Errorf("list quotes: %w", err)
	}
	defer rows.Close()

	var quotes []model.Quote
	for rows.Next() {
		var q model.Quote
		var price, change string
		if err := rows.Scan(&q.Symbol, &price, &change, &q.DisplayName, &q.LogoURL); err != nil {
			return nil, err
		}
		if q.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("quote %s: price %q: %w", q.Symbol, price, err)
		}
		q.ChangePct, _ = decimal.NewFromString(change)
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}
