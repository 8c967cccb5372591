// Package feed defines the external price/outcome feed consumed by the
// trading engine: index prices and funding rates per perpetual ticker, and
// finalized boolean outcomes per prediction market. The feed is a
// collaborator — the engine never publishes into it.
package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrNoPrice is returned when no index price is known for a ticker.
var ErrNoPrice = errors.New("feed: no price for ticker")

// Feed supplies index prices, funding rates, and resolution outcomes.
type Feed interface {
	// IndexPrice returns the current index price for a perpetual ticker.
	IndexPrice(ctx context.Context, ticker string) (decimal.Decimal, error)

	// FundingRate returns the annualized funding rate for a ticker.
	FundingRate(ctx context.Context, ticker string) (decimal.Decimal, error)

	// ResolutionOutcome returns the finalized outcome for a prediction
	// market, or nil while the market is unresolved.
	ResolutionOutcome(ctx context.Context, marketID string) (*bool, error)
}

// StaticFeed is an in-memory Feed fed by the host process (simulation
// driver, admin endpoint, or tests).
type StaticFeed struct {
	mu           sync.RWMutex
	prices       map[string]decimal.Decimal
	fundingRates map[string]decimal.Decimal
	outcomes     map[string]bool

	defaultFundingRate decimal.Decimal
}

// NewStaticFeed creates an empty feed with the given default annual
// funding rate for tickers without an explicit one.
func NewStaticFeed(defaultFundingRate decimal.Decimal) *StaticFeed {
	return &StaticFeed{
		prices:             make(map[string]decimal.Decimal),
		fundingRates:       make(map[string]decimal.Decimal),
		outcomes:           make(map[string]bool),
		defaultFundingRate: defaultFundingRate,
	}
}

// SetIndexPrice publishes an index price for a ticker.
func (f *StaticFeed) SetIndexPrice(ticker string, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[ticker] = price
}

// SetFundingRate publishes an annualized funding rate for a ticker.
func (f *StaticFeed) SetFundingRate(ticker string, rate decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fundingRates[ticker] = rate
}

// SetOutcome publishes the finalized outcome for a prediction market.
func (f *StaticFeed) SetOutcome(marketID string, outcome bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[marketID] = outcome
}

func (f *StaticFeed) IndexPrice(_ context.Context, ticker string) (decimal.Decimal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	price, ok := f.prices[ticker]
	if !ok {
		return decimal.Zero, ErrNoPrice
	}
	return price, nil
}

func (f *StaticFeed) FundingRate(_ context.Context, ticker string) (decimal.Decimal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if rate, ok := f.fundingRates[ticker]; ok {
		return rate, nil
	}
	return f.defaultFundingRate, nil
}

func (f *StaticFeed) ResolutionOutcome(_ context.Context, marketID string) (*bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	outcome, ok := f.outcomes[marketID]
	if !ok {
		return nil, nil
	}
	return &outcome, nil
}
