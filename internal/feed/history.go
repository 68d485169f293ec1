package feed

import "github.com/shopspring/decimal"

// DefaultHistorySize matches the chart window of the dashboard.
const DefaultHistorySize = 20

// History keeps the most recent prices of each symbol in a fixed-size ring.
// Like Registry it is owned by the consumer goroutine.
type History struct {
	capacity int
	rings    map[string]*ring
}

type ring struct {
	buf   []decimal.Decimal
	start int // index of the oldest element
	size  int
}

// NewHistory creates a buffer holding at most capacity prices per symbol.
// A non-positive capacity falls back to DefaultHistorySize.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{
		capacity: capacity,
		rings:    make(map[string]*ring),
	}
}

// Capacity returns the per-symbol bound.
func (h *History) Capacity() int { return h.capacity }

// Push appends price to the symbol's history, evicting the oldest entry when full.
func (h *History) Push(symbol string, price decimal.Decimal) {
	r, ok := h.rings[symbol]
	if !ok {
		r = &ring{buf: make([]decimal.Decimal, h.capacity)}
		h.rings[symbol] = r
	}
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = price
		r.size++
		return
	}
	r.buf[r.start] = price
	r.start = (r.start + 1) % len(r.buf)
}

// Snapshot returns a copy of the symbol's history, oldest first.
// It returns nil for a symbol that was never pushed.
func (h *History) Snapshot(symbol string) []decimal.Decimal {
	r, ok := h.rings[symbol]
	if !ok {
		return nil
	}
	out := make([]decimal.Decimal, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
