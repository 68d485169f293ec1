// Package model defines the domain types shared by the quote feed, the order
// ledger and the portfolio valuator.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidOrder is returned when an order record fails validation.
var ErrInvalidOrder = errors.New("model: invalid order")

// MinPrice is the smallest price an order record may carry.
var MinPrice = decimal.New(1, -2) // 0.01

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// OrderType distinguishes market and limit orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

func (t OrderType) Valid() bool { return t == OrderTypeMarket || t == OrderTypeLimit }

// OrderStatus is pending until the trading engine fills the order.
// The pending→done transition is terminal.
type OrderStatus string

const (
	StatusPending OrderStatus = "pending"
	StatusDone    OrderStatus = "done"
)

func (s OrderStatus) Valid() bool { return s == StatusPending || s == StatusDone }

// Quote is the latest price of one symbol together with its recent history.
type Quote struct {
	Symbol      string            `json:"symbol"`
	Price       decimal.Decimal   `json:"price"`
	ChangePct   decimal.Decimal   `json:"change_pct"`
	DisplayName string            `json:"display_name,omitempty"`
	LogoURL     string            `json:"logo_url,omitempty"`
	History     []decimal.Decimal `json:"history"` // oldest first
}

// Clone returns a deep copy of q.
func (q Quote) Clone() Quote {
	if q.History != nil {
		h := make([]decimal.Decimal, len(q.History))
		copy(h, q.History)
		q.History = h
	}
	return q
}

// QuoteSnapshot is the latest fully-applied batch, ordered by first
// appearance of each symbol in the feed. Seq is zero before the first batch.
// Seq and UpdatedAt advance on every applied batch, including a repeat of
// the previous one; a repeated batch leaves Quotes unchanged apart from
// History, which records the repeated price again.
type QuoteSnapshot struct {
	Seq       uint64    `json:"seq"`
	UpdatedAt time.Time `json:"updated_at"`
	Quotes    []Quote   `json:"quotes"`
}

// Lookup returns the quote for symbol, if present in the snapshot.
func (s QuoteSnapshot) Lookup(symbol string) (Quote, bool) {
	for _, q := range s.Quotes {
		if q.Symbol == symbol {
			return q, true
		}
	}
	return Quote{}, false
}

// Symbols returns the snapshot's symbols in display order.
func (s QuoteSnapshot) Symbols() []string {
	out := make([]string, len(s.Quotes))
	for i, q := range s.Quotes {
		out[i] = q.Symbol
	}
	return out
}

// Clone returns a deep copy of s so callers can never alias published state.
func (s QuoteSnapshot) Clone() QuoteSnapshot {
	if s.Quotes == nil {
		return s
	}
	quotes := make([]Quote, len(s.Quotes))
	for i, q := range s.Quotes {
		quotes[i] = q.Clone()
	}
	s.Quotes = quotes
	return s
}

// Order is a priced order record produced by the external trading engine.
// Records are immutable except for the pending→done status transition,
// which arrives as a new record with the same ID.
type Order struct {
	ID        string          `json:"id"`
	AccountID string          `json:"account_id"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	OrderType OrderType       `json:"order_type"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Status    OrderStatus     `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// Validate checks the record invariants.
func (o Order) Validate() error {
	switch {
	case o.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidOrder)
	case o.Symbol == "":
		return fmt.Errorf("%w: order %s: missing symbol", ErrInvalidOrder, o.ID)
	case !o.Side.Valid():
		return fmt.Errorf("%w: order %s: side %q", ErrInvalidOrder, o.ID, o.Side)
	case !o.OrderType.Valid():
		return fmt.Errorf("%w: order %s: order type %q", ErrInvalidOrder, o.ID, o.OrderType)
	case o.Quantity <= 0:
		return fmt.Errorf("%w: order %s: quantity must be positive", ErrInvalidOrder, o.ID)
	case o.Price.LessThan(MinPrice):
		return fmt.Errorf("%w: order %s: price %s below %s", ErrInvalidOrder, o.ID, o.Price, MinPrice)
	case !o.Status.Valid():
		return fmt.Errorf("%w: order %s: status %q", ErrInvalidOrder, o.ID, o.Status)
	}
	return nil
}

// SignedQuantity is +quantity for buys and -quantity for sells.
func (o Order) SignedQuantity() int64 {
	if o.Side == SideSell {
		return -o.Quantity
	}
	return o.Quantity
}

// Account is the authoritative cash and holdings of a user, owned by the
// server. The valuator treats it as read-only.
type Account struct {
	ID        string           `json:"id"`
	Credits   decimal.Decimal  `json:"credits"`
	Positions map[string]int64 `json:"positions"` // symbol → quantity
}

// Position is derived from the ledger and never stored.
// AvgBuyPrice is invalid when Quantity <= 0 or no buy fills exist.
type Position struct {
	Symbol      string              `json:"symbol"`
	Quantity    int64               `json:"quantity"`
	AvgBuyPrice decimal.NullDecimal `json:"avg_buy_price"`
}

// Holding is one row of a portfolio breakdown.
type Holding struct {
	Symbol         string              `json:"symbol"`
	DisplayName    string              `json:"display_name,omitempty"`
	LogoURL        string              `json:"logo_url,omitempty"`
	Quantity       int64               `json:"quantity"`
	LedgerQuantity int64               `json:"ledger_quantity"` // signed sum of fills
	Price          decimal.Decimal     `json:"price"`
	ChangePct      decimal.Decimal     `json:"change_pct"`
	MarketValue    decimal.Decimal     `json:"market_value"`
	AvgBuyPrice    decimal.NullDecimal `json:"avg_buy_price"`
	Invested       decimal.NullDecimal `json:"invested"`
	UnrealizedPL   decimal.NullDecimal `json:"unrealized_pl"`
}

// PortfolioValuation aggregates holdings with P&L against the live feed.
// UnrealizedPLPercent is invalid when TotalInvested is zero.
type PortfolioValuation struct {
	AccountID           string              `json:"account_id"`
	Credits             decimal.Decimal     `json:"credits"`
	TotalHoldingsValue  decimal.Decimal     `json:"total_holdings_value"`
	TotalInvested       decimal.Decimal     `json:"total_invested"`
	UnrealizedPL        decimal.Decimal     `json:"unrealized_pl"`
	UnrealizedPLPercent decimal.NullDecimal `json:"unrealized_pl_percent"`
	NetWorth            decimal.Decimal     `json:"net_worth"`
	Holdings            []Holding           `json:"holdings"`
	SnapshotSeq         uint64              `json:"snapshot_seq"`
}
