// Package valuation derives cost basis and unrealized P&L from an account,
// its filled orders and the live quote snapshot. Everything here is pure:
// inputs are never mutated and results are recomputed on every call.
package valuation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/quote-engine/internal/model"
)

// CostBasisMethod selects how the average buy price of a position is derived.
type CostBasisMethod int

const (
	// AverageCost is the quantity-weighted mean of every buy fill. Sells do
	// not reduce the set of buys used.
	AverageCost CostBasisMethod = iota
	// FIFO lets sells consume the oldest buy lots first and averages the
	// lots that remain.
	FIFO
)

func (m CostBasisMethod) String() string {
	switch m {
	case AverageCost:
		return "average"
	case FIFO:
		return "fifo"
	default:
		return "unknown"
	}
}

// ParseCostBasisMethod parses "average" or "fifo".
func ParseCostBasisMethod(s string) (CostBasisMethod, error) {
	switch s {
	case "average", "":
		return AverageCost, nil
	case "fifo":
		return FIFO, nil
	default:
		return 0, fmt.Errorf("valuation: unknown cost basis method %q", s)
	}
}

// Calculator computes average buy prices. The zero value uses AverageCost.
type Calculator struct {
	method CostBasisMethod
}

// NewCalculator creates a calculator using method.
func NewCalculator(method CostBasisMethod) *Calculator {
	return &Calculator{method: method}
}

// Method returns the configured cost basis method.
func (c *Calculator) Method() CostBasisMethod { return c.method }

// AverageBuyPrice returns the average price paid per unit of symbol.
// When fills repeat an order ID, only the latest record counts, at the
// position where the ID first appeared. Only done orders of symbol are then
// considered. ok is false when there is no buy fill to average over (or, for
// FIFO, no lot left after sells).
func (c *Calculator) AverageBuyPrice(symbol string, fills []model.Order) (decimal.Decimal, bool) {
	fills = latestPerID(fills)
	if c.method == FIFO {
		return fifoAverage(symbol, fills)
	}

	cost := decimal.Zero
	qty := decimal.Zero
	for _, o := range fills {
		if o.Symbol != symbol || o.Status != model.StatusDone || o.Side != model.SideBuy {
			continue
		}
		q := decimal.NewFromInt(o.Quantity)
		cost = cost.Add(o.Price.Mul(q))
		qty = qty.Add(q)
	}
	if qty.IsZero() {
		return decimal.Zero, false
	}
	return cost.Div(qty), true
}

// latestPerID keeps the last record of every order ID, ordered by the first
// appearance of each ID. fills is not modified.
func latestPerID(fills []model.Order) []model.Order {
	index := make(map[string]int, len(fills))
	out := make([]model.Order, 0, len(fills))
	for _, o := range fills {
		if at, ok := index[o.ID]; ok {
			out[at] = o
			continue
		}
		index[o.ID] = len(out)
		out = append(out, o)
	}
	return out
}

type lot struct {
	qty   int64
	price decimal.Decimal
}

func fifoAverage(symbol string, fills []model.Order) (decimal.Decimal, bool) {
	var lots []lot
	for _, o := range fills {
		if o.Symbol != symbol || o.Status != model.StatusDone {
			continue
		}
		if o.Side == model.SideBuy {
			lots = append(lots, lot{qty: o.Quantity, price: o.Price})
			continue
		}
		remaining := o.Quantity
		for remaining > 0 && len(lots) > 0 {
			if lots[0].qty > remaining {
				lots[0].qty -= remaining
				remaining = 0
				break
			}
			remaining -= lots[0].qty
			lots = lots[1:]
		}
	}

	cost := decimal.Zero
	qty := decimal.Zero
	for _, l := range lots {
		q := decimal.NewFromInt(l.qty)
		cost = cost.Add(l.price.Mul(q))
		qty = qty.Add(q)
	}
	if qty.IsZero() {
		return decimal.Zero, false
	}
	return cost.Div(qty), true
}
