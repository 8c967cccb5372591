package ticker

import (
	"errors"
	"testing"
)

func TestParse_Valid(t *testing.T) {
	cases := []struct {
		in   string
		base string
	}{
		{"BTC-PERP", "BTC"},
		{"ETH-PERP", "ETH"},
		{"DOGE-PERP", "DOGE"},
		{"1000PEPE-PERP", "1000PEPE"},
	}

	for _, tc := range cases {
		inst, err := Parse(tc.in)
		if err != nil {
			t.Errorf("Parse(%q) returned error: %v", tc.in, err)
			continue
		}
		if inst.Base != tc.base {
			t.Errorf("Parse(%q).Base = %q, want %q", tc.in, inst.Base, tc.base)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := []string{
		"",
		"BTC",
		"btc-PERP",
		"BTC-perp",
		"BTC_PERP",
		"B-PERP",
		"VERYLONGBASEX-PERP",
		"BTC-PERP-EXTRA",
	}

	for _, tc := range cases {
		if _, err := Parse(tc); !errors.Is(err, ErrInvalidTicker) {
			t.Errorf("Parse(%q): expected ErrInvalidTicker, got %v", tc, err)
		}
	}
}
