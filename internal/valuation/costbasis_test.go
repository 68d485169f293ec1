package valuation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/quote-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func fill(symbol string, side model.Side, qty int64, price float64) model.Order {
	return model.Order{
		ID:        symbol + string(side) + decimal.NewFromInt(qty).String() + d(price).String(),
		Symbol:    symbol,
		Side:      side,
		OrderType: model.OrderTypeMarket,
		Quantity:  qty,
		Price:     d(price),
		Status:    model.StatusDone,
		CreatedAt: time.Now(),
	}
}

func TestAverageBuyPrice_WeightedMean(t *testing.T) {
	calc := NewCalculator(AverageCost)
	fills := []model.Order{
		fill("AAPL", model.SideBuy, 2, 100),
		fill("AAPL", model.SideBuy, 1, 130),
	}

	avg, ok := calc.AverageBuyPrice("AAPL", fills)
	if !ok {
		t.Fatal("expected ok")
	}
	if !avg.Equal(d(110)) {
		t.Errorf("expected 110, got %s", avg)
	}
}

func TestAverageBuyPrice_SellsIgnored(t *testing.T) {
	calc := NewCalculator(AverageCost)
	fills := []model.Order{
		fill("AAPL", model.SideBuy, 2, 100),
		fill("AAPL", model.SideSell, 2, 150),
		fill("AAPL", model.SideBuy, 1, 130),
	}

	avg, _ := calc.AverageBuyPrice("AAPL", fills)
	if !avg.Equal(d(110)) {
		t.Errorf("sells must not change the average, got %s", avg)
	}
}

func TestAverageBuyPrice_NoBuys(t *testing.T) {
	calc := NewCalculator(AverageCost)

	if _, ok := calc.AverageBuyPrice("AAPL", nil); ok {
		t.Error("expected ok=false without fills")
	}

	pending := fill("AAPL", model.SideBuy, 2, 100)
	pending.Status = model.StatusPending
	fills := []model.Order{pending, fill("AAPL", model.SideSell, 1, 120), fill("TSLA", model.SideBuy, 1, 250)}
	if _, ok := calc.AverageBuyPrice("AAPL", fills); ok {
		t.Error("pending buys, sells and other symbols must not count")
	}
}

func TestAverageBuyPrice_LatestRecordPerID(t *testing.T) {
	superseded := fill("AAPL", model.SideBuy, 1, 100)
	superseded.ID = "o1"
	latest := fill("AAPL", model.SideBuy, 1, 200)
	latest.ID = "o1"
	other := fill("AAPL", model.SideBuy, 1, 200)
	other.ID = "o2"
	fills := []model.Order{superseded, latest, other}

	for _, method := range []CostBasisMethod{AverageCost, FIFO} {
		avg, ok := NewCalculator(method).AverageBuyPrice("AAPL", fills)
		if !ok {
			t.Fatalf("%s: expected ok", method)
		}
		if !avg.Equal(d(200)) {
			t.Errorf("%s: expected 200, got %s", method, avg)
		}
	}
	if fills[0].Price.Equal(d(200)) || len(fills) != 3 {
		t.Error("fills must not be modified")
	}

	pending := fill("AAPL", model.SideBuy, 4, 50)
	pending.ID = "o3"
	pending.Status = model.StatusPending
	done := pending
	done.Status = model.StatusDone
	avg, _ := NewCalculator(AverageCost).AverageBuyPrice("AAPL", []model.Order{pending, other, done})
	if !avg.Equal(d(80)) {
		t.Errorf("expected the done record of o3 to count once, got %s", avg)
	}
}

func TestAverageBuyPrice_NoFloatDrift(t *testing.T) {
	calc := NewCalculator(AverageCost)
	fills := []model.Order{
		fill("X", model.SideBuy, 1, 0.1),
		fill("X", model.SideBuy, 1, 0.2),
	}

	avg, _ := calc.AverageBuyPrice("X", fills)
	if !avg.Equal(d(0.15)) {
		t.Errorf("expected exactly 0.15, got %s", avg)
	}
}

func TestAverageBuyPrice_FIFO(t *testing.T) {
	calc := NewCalculator(FIFO)
	fills := []model.Order{
		fill("AAPL", model.SideBuy, 2, 100),
		fill("AAPL", model.SideBuy, 2, 130),
		fill("AAPL", model.SideSell, 3, 150),
	}

	avg, ok := calc.AverageBuyPrice("AAPL", fills)
	if !ok {
		t.Fatal("expected ok")
	}
	if !avg.Equal(d(130)) {
		t.Errorf("expected remaining lot at 130, got %s", avg)
	}

	fills = append(fills, fill("AAPL", model.SideSell, 1, 140))
	if _, ok := calc.AverageBuyPrice("AAPL", fills); ok {
		t.Error("expected ok=false once every lot is sold")
	}
}

func TestParseCostBasisMethod(t *testing.T) {
	tests := []struct {
		in      string
		want    CostBasisMethod
		wantErr bool
	}{
		{"", AverageCost, false},
		{"average", AverageCost, false},
		{"fifo", FIFO, false},
		{"lifo", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseCostBasisMethod(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: unexpected error %v", tt.in, err)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("%q: expected %s, got %s", tt.in, tt.want, got)
		}
	}
}
