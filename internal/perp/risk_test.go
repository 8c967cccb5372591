package perp

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/babylon/trading-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// --- Liquidation price tests ---

func TestLiquidationPrice_ThreeXLong(t *testing.T) {
	// 3x long at entry 100: distance = 100 * 0.9 / 3 = 30, threshold = 70.
	e := NewRiskEngine()
	liq, err := e.LiquidationPrice(d(100), model.PerpLong, d(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !liq.Equal(d(70)) {
		t.Errorf("expected liquidation price 70, got %s", liq)
	}
}

func TestLiquidationPrice_ShortAboveEntry(t *testing.T) {
	e := NewRiskEngine()
	liq, err := e.LiquidationPrice(d(100), model.PerpShort, d(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !liq.Equal(d(130)) {
		t.Errorf("expected liquidation price 130, got %s", liq)
	}
}

func TestLiquidationPrice_MonotoneInLeverage(t *testing.T) {
	// Higher leverage strictly shrinks the distance to liquidation.
	e := NewRiskEngine()
	entry := d(100)
	prevDistance := decimal.NewFromInt(1000)

	for _, lev := range []float64{1, 2, 3, 5, 10, 25, 50, 100} {
		liq, err := e.LiquidationPrice(entry, model.PerpLong, d(lev))
		if err != nil {
			t.Fatalf("leverage %v: %v", lev, err)
		}
		distance := entry.Sub(liq)
		if distance.GreaterThanOrEqual(prevDistance) {
			t.Errorf("distance should strictly decrease with leverage: lev=%v distance=%s prev=%s",
				lev, distance, prevDistance)
		}
		prevDistance = distance
	}
}

func TestLiquidationPrice_LeverageBounds(t *testing.T) {
	e := NewRiskEngine()
	if _, err := e.LiquidationPrice(d(100), model.PerpLong, d(0.5)); err != ErrInvalidLeverage {
		t.Errorf("expected ErrInvalidLeverage for 0.5x, got %v", err)
	}
	if _, err := e.LiquidationPrice(d(100), model.PerpLong, d(101)); err != ErrInvalidLeverage {
		t.Errorf("expected ErrInvalidLeverage for 101x, got %v", err)
	}
	if _, err := e.LiquidationPrice(d(0), model.PerpLong, d(3)); err != ErrInvalidPrice {
		t.Errorf("expected ErrInvalidPrice for zero entry, got %v", err)
	}
}

// --- PnL tests ---

func TestUnrealizedPnL(t *testing.T) {
	e := NewRiskEngine()

	tests := []struct {
		name        string
		entry       float64
		current     float64
		side        model.PerpSide
		size        float64
		wantPnL     float64
		wantPercent float64
	}{
		{"long up 10%", 100, 110, model.PerpLong, 1000, 100, 10},
		{"long down 10%", 100, 90, model.PerpLong, 1000, -100, -10},
		{"short up 10%", 100, 110, model.PerpShort, 1000, -100, -10},
		{"short down 10%", 100, 90, model.PerpShort, 1000, 100, 10},
		{"flat", 100, 100, model.PerpLong, 1000, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.UnrealizedPnL(d(tt.entry), d(tt.current), tt.side, d(tt.size))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.PnL.Sub(d(tt.wantPnL)).Abs().GreaterThan(d(1e-9)) {
				t.Errorf("pnl: got %s want %v", got.PnL, tt.wantPnL)
			}
			if got.PnLPercent.Sub(d(tt.wantPercent)).Abs().GreaterThan(d(1e-9)) {
				t.Errorf("pnl percent: got %s want %v", got.PnLPercent, tt.wantPercent)
			}
		})
	}
}

func TestUnrealizedPnL_InvalidInputs(t *testing.T) {
	e := NewRiskEngine()
	if _, err := e.UnrealizedPnL(d(0), d(100), model.PerpLong, d(1000)); err != ErrInvalidPrice {
		t.Errorf("expected ErrInvalidPrice, got %v", err)
	}
	if _, err := e.UnrealizedPnL(d(100), d(100), model.PerpLong, d(0)); err != ErrInvalidSize {
		t.Errorf("expected ErrInvalidSize, got %v", err)
	}
}

// --- Funding tests ---

func TestFundingPayment_OnePeriod(t *testing.T) {
	// 8 hours held at 10.95% annual on size 1000:
	// 1000 * (0.1095 / 1095) * 1 = 0.1
	e := NewRiskEngine()
	p := e.FundingPayment(d(1000), d(0.1095), d(8))
	if p.Sub(d(0.1)).Abs().GreaterThan(d(1e-9)) {
		t.Errorf("expected funding 0.1, got %s", p)
	}
}

func TestFundingPayment_ScalesWithHours(t *testing.T) {
	e := NewRiskEngine()
	p8 := e.FundingPayment(d(1000), d(0.1), d(8))
	p16 := e.FundingPayment(d(1000), d(0.1), d(16))
	if p16.Sub(p8.Mul(d(2))).Abs().GreaterThan(d(1e-9)) {
		t.Errorf("16h funding should be twice 8h funding: p8=%s p16=%s", p8, p16)
	}
}

func TestFundingPayment_NegativeRateFlowsToLongs(t *testing.T) {
	e := NewRiskEngine()
	p := e.FundingPayment(d(1000), d(-0.1), d(8))
	if !p.IsNegative() {
		t.Errorf("negative rate should yield negative payment, got %s", p)
	}
}

func TestFundingPayment_ZeroHours(t *testing.T) {
	e := NewRiskEngine()
	if p := e.FundingPayment(d(1000), d(0.1), d(0)); !p.IsZero() {
		t.Errorf("expected zero funding for zero hours, got %s", p)
	}
}

// --- Mark price tests ---

func TestMarkPrice_Blend(t *testing.T) {
	// Zero funding: pure 70/30 blend.
	e := NewRiskEngine()
	mark := e.MarkPrice(d(100), d(110), decimal.Zero)
	if !mark.Equal(d(103)) {
		t.Errorf("expected mark 103, got %s", mark)
	}
}

func TestMarkPrice_FundingNudge(t *testing.T) {
	e := NewRiskEngine()
	base := e.MarkPrice(d(100), d(100), decimal.Zero)
	up := e.MarkPrice(d(100), d(100), d(0.1))
	down := e.MarkPrice(d(100), d(100), d(-0.1))
	if up.LessThanOrEqual(base) {
		t.Errorf("positive funding should nudge mark up: base=%s up=%s", base, up)
	}
	if down.GreaterThanOrEqual(base) {
		t.Errorf("negative funding should nudge mark down: base=%s down=%s", base, down)
	}
}

func TestMarkPrice_FallsBackToIndex(t *testing.T) {
	// Without a last trade, the mark is the index.
	e := NewRiskEngine()
	mark := e.MarkPrice(d(100), decimal.Zero, decimal.Zero)
	if !mark.Equal(d(100)) {
		t.Errorf("expected mark 100, got %s", mark)
	}
}

// --- Liquidation trigger tests ---

func TestShouldLiquidate_Boundary(t *testing.T) {
	e := NewRiskEngine()

	// Long liquidates at or below the threshold.
	if e.ShouldLiquidate(d(70.01), d(70), model.PerpLong) {
		t.Error("long should not liquidate above threshold")
	}
	if !e.ShouldLiquidate(d(70), d(70), model.PerpLong) {
		t.Error("long should liquidate at threshold")
	}
	if !e.ShouldLiquidate(d(69.99), d(70), model.PerpLong) {
		t.Error("long should liquidate below threshold")
	}

	// Short liquidates at or above the threshold.
	if e.ShouldLiquidate(d(129.99), d(130), model.PerpShort) {
		t.Error("short should not liquidate below threshold")
	}
	if !e.ShouldLiquidate(d(130), d(130), model.PerpShort) {
		t.Error("short should liquidate at threshold")
	}
	if !e.ShouldLiquidate(d(130.01), d(130), model.PerpShort) {
		t.Error("short should liquidate above threshold")
	}
}

func TestShouldLiquidate_SpecScenario(t *testing.T) {
	// 3x long of size 1000 at entry 100 → threshold 70; 69.99 triggers.
	e := NewRiskEngine()
	liq, err := e.LiquidationPrice(d(100), model.PerpLong, d(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !e.ShouldLiquidate(d(69.99), liq, model.PerpLong) {
		t.Errorf("expected liquidation at 69.99 with threshold %s", liq)
	}
}
