package amm

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/babylon/trading-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newMM(t *testing.T) *MarketMaker {
	t.Helper()
	mm, err := NewMarketMaker(DefaultFeeRate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return mm
}

// --- Constructor tests ---

func TestNewMarketMaker_InvalidFeeRate(t *testing.T) {
	if _, err := NewMarketMaker(d(-0.01)); err != ErrInvalidFeeRate {
		t.Errorf("expected ErrInvalidFeeRate for negative rate, got %v", err)
	}
	if _, err := NewMarketMaker(d(1)); err != ErrInvalidFeeRate {
		t.Errorf("expected ErrInvalidFeeRate for rate=1, got %v", err)
	}
}

// --- Buy quote tests ---

func TestQuoteBuy_ScenarioFromSpec(t *testing.T) {
	// Reserves (500, 500), buy 250 of yes at 1% fee:
	// fee = 2.5, net = 247.5, newNo = 747.5, newYes = 250000/747.5,
	// shares = 500 - newYes.
	mm := newMM(t)
	q, err := mm.QuoteBuy(d(500), d(500), model.SideYes, d(250))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !q.Fee.Equal(d(2.5)) {
		t.Errorf("expected fee=2.5, got %s", q.Fee)
	}
	if !q.NetAmount.Equal(d(247.5)) {
		t.Errorf("expected net=247.5, got %s", q.NetAmount)
	}
	if !q.TotalCost.Equal(d(250)) {
		t.Errorf("expected totalCost=250, got %s", q.TotalCost)
	}
	if !q.NewNoReserve.Equal(d(747.5)) {
		t.Errorf("expected newNo=747.5, got %s", q.NewNoReserve)
	}

	wantYes := d(250000).Div(d(747.5))
	if q.NewYesReserve.Sub(wantYes).Abs().GreaterThan(d(1e-9)) {
		t.Errorf("expected newYes=%s, got %s", wantYes, q.NewYesReserve)
	}
	wantShares := d(500).Sub(wantYes)
	if q.SharesOut.Sub(wantShares).Abs().GreaterThan(d(1e-9)) {
		t.Errorf("expected shares=%s, got %s", wantShares, q.SharesOut)
	}
}

func TestQuoteBuy_PreservesProduct(t *testing.T) {
	mm := newMM(t)
	tolerance := d(0.001)

	tests := []struct {
		name   string
		yes    float64
		no     float64
		side   model.Side
		amount float64
	}{
		{"small yes buy", 500, 500, model.SideYes, 10},
		{"spec scenario", 500, 500, model.SideYes, 250},
		{"no buy", 500, 500, model.SideNo, 250},
		{"skewed reserves", 120.5, 3300, model.SideYes, 75.25},
		{"tiny trade", 1000, 1000, model.SideNo, 0.01},
		{"large trade", 500, 500, model.SideYes, 100000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := d(tt.yes).Mul(d(tt.no))
			q, err := mm.QuoteBuy(d(tt.yes), d(tt.no), tt.side, d(tt.amount))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			newK := q.NewYesReserve.Mul(q.NewNoReserve)
			if newK.Sub(k).Abs().GreaterThan(tolerance) {
				t.Errorf("product not preserved: k=%s newK=%s", k, newK)
			}
		})
	}
}

func TestQuoteBuy_BuyingRaisesPrice(t *testing.T) {
	mm := newMM(t)
	before := mm.Price(d(500), d(500), model.SideYes)
	q, _ := mm.QuoteBuy(d(500), d(500), model.SideYes, d(100))
	after := mm.Price(q.NewYesReserve, q.NewNoReserve, model.SideYes)
	if after.LessThanOrEqual(before) {
		t.Errorf("buying yes should raise yes price: before=%s after=%s", before, after)
	}
}

func TestQuoteBuy_ZeroAmount(t *testing.T) {
	mm := newMM(t)
	if _, err := mm.QuoteBuy(d(500), d(500), model.SideYes, decimal.Zero); err != ErrInvalidAmount {
		t.Errorf("expected ErrInvalidAmount for zero amount, got %v", err)
	}
	if _, err := mm.QuoteBuy(d(500), d(500), model.SideYes, d(-10)); err != ErrInvalidAmount {
		t.Errorf("expected ErrInvalidAmount for negative amount, got %v", err)
	}
}

func TestQuoteBuy_InvalidSide(t *testing.T) {
	mm := newMM(t)
	if _, err := mm.QuoteBuy(d(500), d(500), model.Side("maybe"), d(10)); err != ErrInvalidSide {
		t.Errorf("expected ErrInvalidSide, got %v", err)
	}
}

func TestQuoteBuy_DepletedReserves(t *testing.T) {
	mm := newMM(t)
	if _, err := mm.QuoteBuy(decimal.Zero, d(500), model.SideYes, d(10)); err != ErrReserveDepleted {
		t.Errorf("expected ErrReserveDepleted for zero reserve, got %v", err)
	}
}

// --- Sell quote tests ---

func TestQuoteSell_PreservesProduct(t *testing.T) {
	mm := newMM(t)
	tolerance := d(0.001)
	k := d(500).Mul(d(500))

	q, err := mm.QuoteSell(d(400), d(625), model.SideYes, d(50))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	newK := q.NewYesReserve.Mul(q.NewNoReserve)
	if newK.Sub(k).Abs().GreaterThan(tolerance) {
		t.Errorf("product not preserved: k=%s newK=%s", k, newK)
	}
	if q.GrossProceeds.LessThanOrEqual(decimal.Zero) {
		t.Errorf("gross proceeds should be positive, got %s", q.GrossProceeds)
	}
	wantNet := q.GrossProceeds.Sub(q.Fee)
	if !q.NetProceeds.Equal(wantNet) {
		t.Errorf("net proceeds mismatch: got %s want %s", q.NetProceeds, wantNet)
	}
}

func TestQuoteSell_ZeroShares(t *testing.T) {
	mm := newMM(t)
	if _, err := mm.QuoteSell(d(500), d(500), model.SideYes, decimal.Zero); err != ErrInvalidAmount {
		t.Errorf("expected ErrInvalidAmount for zero shares, got %v", err)
	}
}

// --- Round-trip property ---

func TestRoundTrip_RestoresReserves(t *testing.T) {
	// Buy 250 of yes then sell back exactly the shares received: reserves
	// return to (500, 500) and the trader's only net cost is the two fees.
	mm := newMM(t)
	tolerance := d(0.001)

	buy, err := mm.QuoteBuy(d(500), d(500), model.SideYes, d(250))
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	sell, err := mm.QuoteSell(buy.NewYesReserve, buy.NewNoReserve, model.SideYes, buy.SharesOut)
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}

	if sell.NewYesReserve.Sub(d(500)).Abs().GreaterThan(tolerance) {
		t.Errorf("yes reserve not restored: got %s", sell.NewYesReserve)
	}
	if sell.NewNoReserve.Sub(d(500)).Abs().GreaterThan(tolerance) {
		t.Errorf("no reserve not restored: got %s", sell.NewNoReserve)
	}

	// Net cost = totalCost - netProceeds = buyFee + sellFee.
	netCost := buy.TotalCost.Sub(sell.NetProceeds)
	wantCost := buy.Fee.Add(sell.Fee)
	if netCost.Sub(wantCost).Abs().GreaterThan(tolerance) {
		t.Errorf("round-trip cost should equal the two fees: got %s want %s", netCost, wantCost)
	}

	// Gross proceeds equal the net amount put in, since nothing else traded.
	if sell.GrossProceeds.Sub(buy.NetAmount).Abs().GreaterThan(tolerance) {
		t.Errorf("gross proceeds %s should equal net buy amount %s", sell.GrossProceeds, buy.NetAmount)
	}
}

// --- Price tests ---

func TestPrice_SumsToOne(t *testing.T) {
	mm := newMM(t)
	one := decimal.NewFromInt(1)
	tolerance := d(0.0000001)

	tests := []struct{ yes, no float64 }{
		{500, 500},
		{100, 900},
		{747.5, 334.45},
	}
	for _, tt := range tests {
		pYes := mm.Price(d(tt.yes), d(tt.no), model.SideYes)
		pNo := mm.Price(d(tt.yes), d(tt.no), model.SideNo)
		if pYes.Add(pNo).Sub(one).Abs().GreaterThan(tolerance) {
			t.Errorf("prices should sum to 1: yes=%s no=%s", pYes, pNo)
		}
	}
}

func TestPrice_BalancedReservesFiftyFifty(t *testing.T) {
	mm := newMM(t)
	p := mm.Price(d(500), d(500), model.SideYes)
	if !p.Equal(d(0.5)) {
		t.Errorf("expected 0.5 for balanced reserves, got %s", p)
	}
}
