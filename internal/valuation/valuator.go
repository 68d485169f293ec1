package valuation

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/quote-engine/internal/model"
)

var hundred = decimal.NewFromInt(100)

// FillSource yields the filled orders of a symbol. *ledger.Ledger implements it.
type FillSource interface {
	Fills(symbol string) []model.Order
}

// PositionSource is a FillSource that can also enumerate its symbols.
type PositionSource interface {
	FillSource
	Symbols() []string
}

// Valuator values portfolios against a quote snapshot. It holds no mutable
// state and may be shared by any number of goroutines.
type Valuator struct {
	calc *Calculator
}

// NewValuator creates a valuator. A nil calculator means AverageCost.
func NewValuator(calc *Calculator) *Valuator {
	if calc == nil {
		calc = &Calculator{}
	}
	return &Valuator{calc: calc}
}

// Calculator returns the cost basis calculator in use.
func (v *Valuator) Calculator() *Calculator { return v.calc }

// Valuate computes holdings value, invested amount, unrealized P&L and net
// worth for account. Positions without a quote in snapshot are left out of
// both the totals and the breakdown. The breakdown is sorted by market value,
// descending, with ties in snapshot order.
func (v *Valuator) Valuate(account model.Account, snapshot model.QuoteSnapshot, fills FillSource) model.PortfolioValuation {
	rank := make(map[string]int, len(snapshot.Quotes))
	for i, q := range snapshot.Quotes {
		rank[q.Symbol] = i
	}

	holdingsValue := decimal.Zero
	invested := decimal.Zero
	holdings := make([]model.Holding, 0, len(account.Positions))

	for symbol, qty := range account.Positions {
		if qty <= 0 {
			continue
		}
		at, ok := rank[symbol]
		if !ok {
			continue
		}
		quote := snapshot.Quotes[at]
		quantity := decimal.NewFromInt(qty)
		marketValue := quote.Price.Mul(quantity)
		holdingsValue = holdingsValue.Add(marketValue)

		h := model.Holding{
			Symbol:      symbol,
			DisplayName: quote.DisplayName,
			LogoURL:     quote.LogoURL,
			Quantity:    qty,
			Price:       quote.Price,
			ChangePct:   quote.ChangePct,
			MarketValue: marketValue,
		}

		var symbolFills []model.Order
		if fills != nil {
			symbolFills = fills.Fills(symbol)
		}
		for _, o := range symbolFills {
			if o.Status == model.StatusDone {
				h.LedgerQuantity += o.SignedQuantity()
			}
		}
		if avg, ok := v.calc.AverageBuyPrice(symbol, symbolFills); ok {
			cost := avg.Mul(quantity)
			invested = invested.Add(cost)
			h.AvgBuyPrice = decimal.NewNullDecimal(avg)
			h.Invested = decimal.NewNullDecimal(cost)
			h.UnrealizedPL = decimal.NewNullDecimal(marketValue.Sub(cost))
		}
		holdings = append(holdings, h)
	}

	sort.Slice(holdings, func(i, j int) bool {
		a, b := holdings[i], holdings[j]
		if !a.MarketValue.Equal(b.MarketValue) {
			return a.MarketValue.GreaterThan(b.MarketValue)
		}
		return rank[a.Symbol] < rank[b.Symbol]
	})

	pl := holdingsValue.Sub(invested)
	val := model.PortfolioValuation{
		AccountID:          account.ID,
		Credits:            account.Credits,
		TotalHoldingsValue: holdingsValue,
		TotalInvested:      invested,
		UnrealizedPL:       pl,
		NetWorth:           account.Credits.Add(holdingsValue),
		Holdings:           holdings,
		SnapshotSeq:        snapshot.Seq,
	}
	if !invested.IsZero() {
		val.UnrealizedPLPercent = decimal.NewNullDecimal(pl.Div(invested).Mul(hundred))
	}
	return val
}

// Positions derives one position per symbol of src from its fills alone:
// quantity is the signed sum of fills, average buy price is left invalid
// when the quantity is not positive or there is no buy fill.
func (v *Valuator) Positions(src PositionSource) []model.Position {
	symbols := src.Symbols()
	out := make([]model.Position, 0, len(symbols))
	for _, symbol := range symbols {
		fills := src.Fills(symbol)
		p := model.Position{Symbol: symbol}
		for _, o := range fills {
			p.Quantity += o.SignedQuantity()
		}
		if p.Quantity > 0 {
			if avg, ok := v.calc.AverageBuyPrice(symbol, fills); ok {
				p.AvgBuyPrice = decimal.NewNullDecimal(avg)
			}
		}
		out = append(out, p)
	}
	return out
}
