// Package feed ingests the live quote stream: it decodes price batches,
// fixes the display order of symbols, keeps a bounded price history per
// symbol and publishes an immutable snapshot after every applied batch.
package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// MessageTypePriceUpdate is the only message type the consumer applies.
const MessageTypePriceUpdate = "priceUpdate"

var (
	// ErrDecode marks a malformed feed payload. The batch is dropped.
	ErrDecode = errors.New("feed: malformed batch")

	// ErrConnection marks a lost or unreachable feed connection.
	ErrConnection = errors.New("feed: connection error")
)

// symbolRegex matches normalized tickers such as AAPL, BRK.B or BTC-USD.
var symbolRegex = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,14}$`)

// DecodeError describes why a payload was rejected.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrDecode, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrDecode, e.Reason)
}

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

func (e *DecodeError) Unwrap() error { return e.Err }

// ConnectionError wraps a transport failure.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrConnection, e.Op, e.Err)
}

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

func (e *ConnectionError) Unwrap() error { return e.Err }

// PriceUpdate is one decoded entry of a batch.
type PriceUpdate struct {
	Symbol      string
	Price       decimal.Decimal
	ChangePct   decimal.Decimal
	LogoURL     string
	DisplayName string
}

// Batch is a fully validated priceUpdate message. Symbols are unique;
// a symbol repeated in the payload keeps its first position and its last price.
type Batch struct {
	Prices []PriceUpdate
}

// Symbols returns the batch symbols in payload order.
func (b *Batch) Symbols() []string {
	out := make([]string, len(b.Prices))
	for i, p := range b.Prices {
		out[i] = p.Symbol
	}
	return out
}

// envelope is the inbound wire message.
type envelope struct {
	Type   string          `json:"type"`
	Prices json.RawMessage `json:"prices"`
}

// wirePrice accepts both the current field names and the ones emitted by
// legacy price simulators (change, logo, name).
type wirePrice struct {
	Symbol      string           `json:"symbol"`
	Price       *decimal.Decimal `json:"price"`
	ChangePct   *decimal.Decimal `json:"changePct"`
	Change      *decimal.Decimal `json:"change"`
	LogoURL     string           `json:"logoUrl"`
	Logo        string           `json:"logo"`
	DisplayName string           `json:"displayName"`
	Name        string           `json:"name"`
}

// Decode parses one feed message. It returns (nil, nil) for messages of a
// type other than priceUpdate, and a *DecodeError when the payload is
// malformed in any part; no partial batch is ever returned.
func Decode(raw []byte) (*Batch, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &DecodeError{Reason: "invalid json", Err: err}
	}
	if env.Type == "" {
		return nil, &DecodeError{Reason: "missing type"}
	}
	if env.Type != MessageTypePriceUpdate {
		return nil, nil
	}
	if len(env.Prices) == 0 || string(env.Prices) == "null" {
		return nil, &DecodeError{Reason: "missing prices"}
	}

	var wire []wirePrice
	if err := json.Unmarshal(env.Prices, &wire); err != nil {
		return nil, &DecodeError{Reason: "invalid prices", Err: err}
	}
	if len(wire) == 0 {
		return nil, &DecodeError{Reason: "empty prices"}
	}

	batch := &Batch{Prices: make([]PriceUpdate, 0, len(wire))}
	index := make(map[string]int, len(wire))
	for i, w := range wire {
		p, err := w.normalize()
		if err != nil {
			return nil, &DecodeError{Reason: fmt.Sprintf("prices[%d]", i), Err: err}
		}
		if at, dup := index[p.Symbol]; dup {
			batch.Prices[at] = p
			continue
		}
		index[p.Symbol] = len(batch.Prices)
		batch.Prices = append(batch.Prices, p)
	}
	return batch, nil
}

func (w wirePrice) normalize() (PriceUpdate, error) {
	symbol := NormalizeSymbol(w.Symbol)
	if !symbolRegex.MatchString(symbol) {
		return PriceUpdate{}, fmt.Errorf("invalid symbol %q", w.Symbol)
	}
	if w.Price == nil {
		return PriceUpdate{}, fmt.Errorf("%s: missing price", symbol)
	}
	if !w.Price.IsPositive() {
		return PriceUpdate{}, fmt.Errorf("%s: price must be positive, got %s", symbol, w.Price)
	}

	p := PriceUpdate{
		Symbol:      symbol,
		Price:       *w.Price,
		LogoURL:     firstNonEmpty(w.LogoURL, w.Logo),
		DisplayName: firstNonEmpty(w.DisplayName, w.Name),
	}
	switch {
	case w.ChangePct != nil:
		p.ChangePct = *w.ChangePct
	case w.Change != nil:
		p.ChangePct = *w.Change
	}
	return p, nil
}

// NormalizeSymbol trims and upper-cases a ticker.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
