package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/quote-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and local development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account
	orders   []model.Order
	quotes   []model.Quote
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*model.Account),
	}
}

// DemoAccountID is the account seeded by NewDemoStore.
const DemoAccountID = "demo"

// NewDemoStore returns a store holding the five demo stocks and one account
// that started with 2000 credits and has a few filled buys.
func NewDemoStore() *MemoryStore {
	s := NewMemoryStore()
	s.PutQuotes(DemoQuotes())

	created := time.Now().UTC().Add(-time.Hour)
	fills := []struct {
		symbol string
		side   model.Side
		qty    int64
		price  string
	}{
		{"AAPL", model.SideBuy, 2, "145.00"},
		{"AAPL", model.SideBuy, 1, "152.50"},
		{"MSFT", model.SideBuy, 1, "375.00"},
	}
	positions := make(map[string]int64)
	for i, f := range fills {
		s.AppendOrder(model.Order{
			ID:        uuid.NewString(),
			AccountID: DemoAccountID,
			Symbol:    f.symbol,
			Side:      f.side,
			OrderType: model.OrderTypeMarket,
			Quantity:  f.qty,
			Price:     decimal.RequireFromString(f.price),
			Status:    model.StatusDone,
			CreatedAt: created.Add(time.Duration(i) * time.Minute),
		})
		positions[f.symbol] += f.qty
	}
	s.PutAccount(model.Account{
		ID:        DemoAccountID,
		Credits:   decimal.RequireFromString("1182.50"),
		Positions: positions,
	})
	return s
}

// DemoQuotes returns the five demo stocks.
func DemoQuotes() []model.Quote {
	return []model.Quote{
		demoQuote("AAPL", "150.00", "Apple Inc.", "https://logo.clearbit.com/apple.com"),
		demoQuote("TSLA", "250.00", "Tesla, Inc.", "https://logo.clearbit.com/tesla.com"),
		demoQuote("AMZN", "135.00", "Amazon.com, Inc.", "https://logo.clearbit.com/amazon.com"),
		demoQuote("GOOGL", "140.00", "Alphabet Inc.", "https://logo.clearbit.com/google.com"),
		demoQuote("MSFT", "380.00", "Microsoft Corporation", "https://logo.clearbit.com/microsoft.com"),
	}
}

func demoQuote(symbol, price, name, logo string) model.Quote {
	p := decimal.RequireFromString(price)
	return model.Quote{
		Symbol:      symbol,
		Price:       p,
		DisplayName: name,
		LogoURL:     logo,
		History:     []decimal.Decimal{p},
	}
}

// PutAccount stores a copy of account, replacing any previous one.
func (s *MemoryStore) PutAccount(account model.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[account.ID] = copyAccount(&account)
}

// AppendOrder appends an order record and returns its ID. An order without
// an ID gets a new one.
func (s *MemoryStore) AppendOrder(order model.Order) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	s.orders = append(s.orders, order)
	return order.ID
}

// PutQuotes replaces the point-in-time quote list.
func (s *MemoryStore) PutQuotes(quotes []model.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.quotes = cloneQuotes(quotes)
}

func (s *MemoryStore) GetAccount(_ context.Context, accountID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	return copyAccount(a), nil
}

func (s *MemoryStore) ListOrders(_ context.Context, accountID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Order
	for _, o := range s.orders {
		if o.AccountID == accountID {
			result = append(result, o)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListQuotes(_ context.Context) ([]model.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneQuotes(s.quotes), nil
}

func copyAccount(a *model.Account) *model.Account {
	c := *a
	c.Positions = make(map[string]int64, len(a.Positions))
	for sym, qty := range a.Positions {
		c.Positions[sym] = qty
	}
	return &c
}

func cloneQuotes(quotes []model.Quote) []model.Quote {
	out := make([]model.Quote, len(quotes))
	for i, q := range quotes {
		out[i] = q.Clone()
	}
	return out
}
