package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/babylon/trading-engine/internal/feed"
)

// FeedAdmin exposes write access to a StaticFeed so a simulation driver or
// operator can publish prices, funding rates, and outcomes over HTTP.
type FeedAdmin struct {
	feed *feed.StaticFeed
}

// NewFeedAdmin creates the feed admin surface.
func NewFeedAdmin(fd *feed.StaticFeed) *FeedAdmin {
	return &FeedAdmin{feed: fd}
}

// Mount registers the admin routes under /api/v1/admin.
func (a *FeedAdmin) Mount(r chi.Router) {
	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Post("/prices", a.SetPrice)
		r.Post("/funding-rates", a.SetFundingRate)
		r.Post("/outcomes", a.SetOutcome)
	})
}

// SetPriceRequest is the JSON body for publishing an index price.
type SetPriceRequest struct {
	Ticker string          `json:"ticker"`
	Price  decimal.Decimal `json:"price"`
}

// SetPrice handles POST /api/v1/admin/prices.
func (a *FeedAdmin) SetPrice(w http.ResponseWriter, r *http.Request) {
	var req SetPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Ticker == "" || req.Price.LessThanOrEqual(decimal.Zero) {
		writeError(w, "ticker and positive price are required", http.StatusBadRequest)
		return
	}
	a.feed.SetIndexPrice(req.Ticker, req.Price)
	w.WriteHeader(http.StatusNoContent)
}

// SetFundingRateRequest is the JSON body for publishing a funding rate.
type SetFundingRateRequest struct {
	Ticker string          `json:"ticker"`
	Rate   decimal.Decimal `json:"rate"` // annualized
}

// SetFundingRate handles POST /api/v1/admin/funding-rates.
func (a *FeedAdmin) SetFundingRate(w http.ResponseWriter, r *http.Request) {
	var req SetFundingRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Ticker == "" {
		writeError(w, "ticker is required", http.StatusBadRequest)
		return
	}
	a.feed.SetFundingRate(req.Ticker, req.Rate)
	w.WriteHeader(http.StatusNoContent)
}

// SetOutcomeRequest is the JSON body for publishing a market outcome.
type SetOutcomeRequest struct {
	MarketID string `json:"market_id"`
	Outcome  bool   `json:"outcome"`
}

// SetOutcome handles POST /api/v1/admin/outcomes.
func (a *FeedAdmin) SetOutcome(w http.ResponseWriter, r *http.Request) {
	var req SetOutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.MarketID == "" {
		writeError(w, "market_id is required", http.StatusBadRequest)
		return
	}
	a.feed.SetOutcome(req.MarketID, req.Outcome)
	w.WriteHeader(http.StatusNoContent)
}
