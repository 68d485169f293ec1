// Package ledger records the order history of one account. It is
// append-only: a status transition arrives as a new record carrying the same
// order ID, and the latest record per ID is authoritative.
package ledger

import (
	"fmt"
	"sync"

	"github.com/atmx/quote-engine/internal/model"
)

// Ledger stores order records in arrival order. Safe for concurrent use.
type Ledger struct {
	mu      sync.RWMutex
	records []model.Order
	latest  map[string]int // order ID → index of its latest record
	first   []string       // order IDs by first arrival
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{latest: make(map[string]int)}
}

// FromOrders builds a ledger from an order history list, in list order.
func FromOrders(orders []model.Order) (*Ledger, error) {
	l := New()
	for _, o := range orders {
		if err := l.Append(o); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Append records an order. Re-appending an ID supersedes the earlier record,
// but only its status may change, and a done order can not go back to pending.
func (l *Ledger) Append(o model.Order) error {
	if err := o.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if at, ok := l.latest[o.ID]; ok {
		prev := l.records[at]
		if field := changedField(prev, o); field != "" {
			return fmt.Errorf("%w: order %s: %s changed after creation", model.ErrInvalidOrder, o.ID, field)
		}
		if prev.Status == model.StatusDone && o.Status != model.StatusDone {
			return fmt.Errorf("%w: order %s: status %s after %s", model.ErrInvalidOrder, o.ID, o.Status, prev.Status)
		}
	} else {
		l.first = append(l.first, o.ID)
	}
	l.records = append(l.records, o)
	l.latest[o.ID] = len(l.records) - 1
	return nil
}

// changedField names the first field other than Status that differs
// between two records of the same order, or returns "".
func changedField(prev, next model.Order) string {
	switch {
	case prev.AccountID != next.AccountID:
		return "account"
	case prev.Symbol != next.Symbol:
		return "symbol"
	case prev.Side != next.Side:
		return "side"
	case prev.OrderType != next.OrderType:
		return "order type"
	case prev.Quantity != next.Quantity:
		return "quantity"
	case !prev.Price.Equal(next.Price):
		return "price"
	case !prev.CreatedAt.Equal(next.CreatedAt):
		return "created_at"
	}
	return ""
}

// Len returns the number of records appended, superseded ones included.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Orders returns the latest record of every order, ordered by the first
// arrival of each ID.
func (l *Ledger) Orders() []model.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.Order, 0, len(l.first))
	for _, id := range l.first {
		out = append(out, l.records[l.latest[id]])
	}
	return out
}

// Fills returns the done orders of symbol, latest record per ID, ordered by
// the first arrival of each ID.
func (l *Ledger) Fills(symbol string) []model.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []model.Order
	for _, id := range l.first {
		o := l.records[l.latest[id]]
		if o.Symbol == symbol && o.Status == model.StatusDone {
			out = append(out, o)
		}
	}
	return out
}

// Symbols returns every symbol with at least one fill, in first-fill order.
func (l *Ledger) Symbols() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, id := range l.first {
		o := l.records[l.latest[id]]
		if o.Status != model.StatusDone || seen[o.Symbol] {
			continue
		}
		seen[o.Symbol] = true
		out = append(out, o.Symbol)
	}
	return out
}

// Quantities returns the signed sum of filled quantities per symbol:
// buys count positive, sells negative.
func (l *Ledger) Quantities() map[string]int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]int64)
	for _, id := range l.first {
		o := l.records[l.latest[id]]
		if o.Status == model.StatusDone {
			out[o.Symbol] += o.SignedQuantity()
		}
	}
	return out
}
