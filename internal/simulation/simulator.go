// Package simulation produces a synthetic priceUpdate stream: every tick each
// symbol takes a bounded random step. The simulator is a feed.Source, so the
// consumer reads it exactly as it reads a remote feed, and it can also be
// published to Redis or Kafka for other consumers.
package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/quote-engine/internal/feed"
	"github.com/atmx/quote-engine/internal/model"
)

// ErrNoSymbols is returned when a simulator is created without quotes.
var ErrNoSymbols = errors.New("simulation: no symbols to simulate")

const (
	DefaultInterval = 3 * time.Second
	// DefaultMaxStep bounds each step to ±2% of the current price.
	DefaultMaxStep = 0.02
)

// Floor is the lowest price the random walk can reach.
var Floor = decimal.NewFromInt(1)

// Rand supplies randomness; *rand.Rand satisfies it.
type Rand interface {
	Float64() float64
}

// Simulator holds the simulated prices. It is safe for concurrent use.
type Simulator struct {
	interval time.Duration
	maxStep  float64

	mu     sync.Mutex
	rng    Rand
	quotes []simQuote
}

type simQuote struct {
	symbol string
	name   string
	logo   string
	price  decimal.Decimal
	change decimal.Decimal
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithRand overrides the random source.
func WithRand(r Rand) Option {
	return func(s *Simulator) {
		if r != nil {
			s.rng = r
		}
	}
}

// WithMaxStep sets the largest relative step per tick, e.g. 0.02 for ±2%.
func WithMaxStep(step float64) Option {
	return func(s *Simulator) {
		if step > 0 {
			s.maxStep = step
		}
	}
}

// NewSimulator starts a random walk from the given quotes. A non-positive
// interval means DefaultInterval.
func NewSimulator(quotes []model.Quote, interval time.Duration, opts ...Option) (*Simulator, error) {
	if len(quotes) == 0 {
		return nil, ErrNoSymbols
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Simulator{
		interval: interval,
		maxStep:  DefaultMaxStep,
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
		quotes:   make([]simQuote, 0, len(quotes)),
	}
	for _, q := range quotes {
		price := q.Price
		if price.LessThan(Floor) {
			price = Floor
		}
		s.quotes = append(s.quotes, simQuote{
			symbol: q.Symbol,
			name:   q.DisplayName,
			logo:   q.LogoURL,
			price:  price,
			change: q.ChangePct,
		})
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Interval returns the tick interval.
func (s *Simulator) Interval() time.Duration { return s.interval }

// Step advances every symbol by one random step and returns the resulting
// priceUpdate message.
func (s *Simulator) Step() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prices := make([]wirePrice, 0, len(s.quotes))
	for i := range s.quotes {
		q := &s.quotes[i]
		pct := (s.rng.Float64()*2 - 1) * s.maxStep
		next := q.price.Mul(decimal.NewFromFloat(1 + pct)).Round(2)
		if next.LessThan(Floor) {
			next = Floor
		}
		q.change = next.Sub(q.price).Div(q.price).Mul(decimal.NewFromInt(100)).Round(2)
		q.price = next
		prices = append(prices, wirePrice{
			Symbol:      q.symbol,
			Price:       q.price,
			ChangePct:   q.change,
			LogoURL:     q.logo,
			DisplayName: q.name,
		})
	}
	return json.Marshal(wireMessage{Type: feed.MessageTypePriceUpdate, Prices: prices})
}

// Quotes returns the current simulated prices in input order.
func (s *Simulator) Quotes() []model.Quote {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Quote, len(s.quotes))
	for i, q := range s.quotes {
		out[i] = model.Quote{
			Symbol:      q.symbol,
			Price:       q.price,
			ChangePct:   q.change,
			DisplayName: q.name,
			LogoURL:     q.logo,
		}
	}
	return out
}

// Connect implements feed.Source. The returned stream yields one message per
// tick; the first message is emitted immediately.
func (s *Simulator) Connect(_ context.Context) (feed.Stream, error) {
	return &stream{sim: s, ticker: time.NewTicker(s.interval), first: true}, nil
}

// Run emits one message per tick to fn until ctx is done or fn fails.
func (s *Simulator) Run(ctx context.Context, fn func(ctx context.Context, msg []byte) error) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := s.Step()
		if err != nil {
			return err
		}
		if err := fn(ctx, msg); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type stream struct {
	sim    *Simulator
	ticker *time.Ticker
	first  bool
}

func (st *stream) Read(ctx context.Context) ([]byte, error) {
	if st.first {
		st.first = false
		return st.sim.Step()
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-st.ticker.C:
		return st.sim.Step()
	}
}

func (st *stream) Close() error {
	st.ticker.Stop()
	return nil
}

type wireMessage struct {
	Type   string      `json:"type"`
	Prices []wirePrice `json:"prices"`
}

type wirePrice struct {
	Symbol      string          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`
	ChangePct   decimal.Decimal `json:"changePct"`
	LogoURL     string          `json:"logoUrl,omitempty"`
	DisplayName string          `json:"displayName,omitempty"`
}
