package risklimit

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestCheckLimit_WithinLimits(t *testing.T) {
	l := NewLimiter(d(10000), d(25000))

	open := map[string]decimal.Decimal{
		"BTC-PERP": d(5000),
		"ETH-PERP": d(8000),
	}

	if err := l.CheckLimit("BTC-PERP", d(4000), open); err != nil {
		t.Errorf("expected trade within limits, got %v", err)
	}
}

func TestCheckLimit_PerTickerExceeded(t *testing.T) {
	l := NewLimiter(d(10000), d(25000))

	open := map[string]decimal.Decimal{
		"BTC-PERP": d(7000),
	}

	if err := l.CheckLimit("BTC-PERP", d(3001), open); err != ErrTickerLimitExceeded {
		t.Errorf("expected ErrTickerLimitExceeded, got %v", err)
	}
}

func TestCheckLimit_ExactlyAtLimit(t *testing.T) {
	l := NewLimiter(d(10000), d(25000))

	open := map[string]decimal.Decimal{
		"BTC-PERP": d(7000),
	}

	if err := l.CheckLimit("BTC-PERP", d(3000), open); err != nil {
		t.Errorf("limit is inclusive, got %v", err)
	}
}

func TestCheckLimit_AggregateExceeded(t *testing.T) {
	l := NewLimiter(d(10000), d(25000))

	open := map[string]decimal.Decimal{
		"BTC-PERP": d(9000),
		"ETH-PERP": d(9000),
		"SOL-PERP": d(6000),
	}

	// Per-ticker fine (1000+... no), target DOGE: 2000 new, total 26000.
	if err := l.CheckLimit("DOGE-PERP", d(2000), open); err != ErrAggregateLimitExceeded {
		t.Errorf("expected ErrAggregateLimitExceeded, got %v", err)
	}
}

func TestCheckLimit_NoExistingExposure(t *testing.T) {
	l := NewLimiter(d(10000), d(25000))

	if err := l.CheckLimit("BTC-PERP", d(10000), nil); err != nil {
		t.Errorf("fresh trader at per-ticker limit should pass, got %v", err)
	}
	if err := l.CheckLimit("BTC-PERP", d(10001), nil); err != ErrTickerLimitExceeded {
		t.Errorf("expected ErrTickerLimitExceeded, got %v", err)
	}
}
