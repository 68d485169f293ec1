package valuation

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/atmx/quote-engine/internal/model"
)

// Currency is the ISO code used when rendering amounts.
const Currency = money.USD

// Placeholder is shown for values that are undefined, such as the cost basis
// of a position without buy fills.
const Placeholder = "N/A"

// DisplayValuation is a PortfolioValuation rendered for people. Rounding to
// cents happens here and nowhere else.
type DisplayValuation struct {
	Credits             string           `json:"credits"`
	TotalHoldingsValue  string           `json:"total_holdings_value"`
	TotalInvested       string           `json:"total_invested"`
	UnrealizedPL        string           `json:"unrealized_pl"`
	UnrealizedPLPercent string           `json:"unrealized_pl_percent"`
	NetWorth            string           `json:"net_worth"`
	Holdings            []DisplayHolding `json:"holdings"`
}

// DisplayHolding is one rendered breakdown row.
type DisplayHolding struct {
	Symbol       string `json:"symbol"`
	Quantity     int64  `json:"quantity"`
	Price        string `json:"price"`
	ChangePct    string `json:"change_pct"`
	MarketValue  string `json:"market_value"`
	AvgBuyPrice  string `json:"avg_buy_price"`
	UnrealizedPL string `json:"unrealized_pl"`
}

// Display renders v.
func Display(v model.PortfolioValuation) DisplayValuation {
	out := DisplayValuation{
		Credits:             FormatMoney(v.Credits),
		TotalHoldingsValue:  FormatMoney(v.TotalHoldingsValue),
		TotalInvested:       FormatMoney(v.TotalInvested),
		UnrealizedPL:        FormatMoney(v.UnrealizedPL),
		UnrealizedPLPercent: formatNullPercent(v.UnrealizedPLPercent),
		NetWorth:            FormatMoney(v.NetWorth),
		Holdings:            make([]DisplayHolding, 0, len(v.Holdings)),
	}
	for _, h := range v.Holdings {
		out.Holdings = append(out.Holdings, DisplayHolding{
			Symbol:       h.Symbol,
			Quantity:     h.Quantity,
			Price:        FormatMoney(h.Price),
			ChangePct:    FormatPercent(h.ChangePct),
			MarketValue:  FormatMoney(h.MarketValue),
			AvgBuyPrice:  formatNullMoney(h.AvgBuyPrice),
			UnrealizedPL: formatNullMoney(h.UnrealizedPL),
		})
	}
	return out
}

// FormatMoney rounds d to cents and renders it with the currency symbol.
func FormatMoney(d decimal.Decimal) string {
	cents := d.Round(2).Shift(2).IntPart()
	return money.New(cents, Currency).Display()
}

// FormatPercent renders d with two decimals and a percent sign.
func FormatPercent(d decimal.Decimal) string {
	return d.StringFixed(2) + "%"
}

func formatNullMoney(d decimal.NullDecimal) string {
	if !d.Valid {
		return Placeholder
	}
	return FormatMoney(d.Decimal)
}

func formatNullPercent(d decimal.NullDecimal) string {
	if !d.Valid {
		return Placeholder
	}
	return FormatPercent(d.Decimal)
}
