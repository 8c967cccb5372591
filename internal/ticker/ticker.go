// Package ticker handles perpetual instrument ticker parsing and validation.
package ticker

import (
	"errors"
	"fmt"
	"regexp"
)

// tickerRegex matches: {BASE}-PERP
// Example: BTC-PERP
var tickerRegex = regexp.MustCompile(`^([A-Z0-9]{2,10})-PERP$`)

// ErrInvalidTicker is returned for a string that does not name a perpetual
// instrument.
var ErrInvalidTicker = errors.New("ticker: invalid perpetual ticker format")

// Instrument is a parsed perpetual ticker.
type Instrument struct {
	Ticker string `json:"ticker"`
	Base   string `json:"base"` // underlying asset symbol
}

// Parse validates a perpetual ticker string.
// Format: {BASE}-PERP, BASE being 2-10 uppercase alphanumerics.
func Parse(t string) (*Instrument, error) {
	matches := tickerRegex.FindStringSubmatch(t)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected {BASE}-PERP)", ErrInvalidTicker, t)
	}
	return &Instrument{Ticker: t, Base: matches[1]}, nil
}
