// Package api exposes the trading engine over HTTP: decision execution,
// market and pool management, quote previews, and real-time WebSocket
// fan-out.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/babylon/trading-engine/internal/engine"
	"github.com/babylon/trading-engine/internal/ledger"
	"github.com/babylon/trading-engine/internal/model"
	"github.com/babylon/trading-engine/internal/risklimit"
	"github.com/babylon/trading-engine/internal/store"
)

// Server wires the execution engine to HTTP handlers.
type Server struct {
	engine *engine.Service
	store  store.Store
	hub    *WSHub // optional
}

// NewServer creates an API server. Pass nil for hub to disable the
// WebSocket endpoint.
func NewServer(eng *engine.Service, st store.Store, hub *WSHub) *Server {
	return &Server{engine: eng, store: st, hub: hub}
}

// Mount registers all routes under /api/v1 on the given router.
func (s *Server) Mount(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		if s.hub != nil {
			r.Get("/ws", s.hub.HandleWS)
		}

		r.Post("/decisions", s.ExecuteDecision)

		r.Post("/markets", s.CreateMarket)
		r.Get("/markets", s.ListMarkets)
		r.Get("/markets/{marketID}", s.GetMarket)
		r.Get("/markets/{marketID}/price", s.GetPrice)
		r.Get("/markets/{marketID}/preview", s.PreviewBuy)
		r.Post("/markets/{marketID}/settle", s.SettleMarket)

		r.Post("/pools", s.CreatePool)
		r.Get("/pools/{poolID}", s.GetPool)
		r.Post("/pools/{poolID}/deposit", s.Deposit)
		r.Post("/pools/{poolID}/withdraw", s.Withdraw)
		r.Get("/pools/{poolID}/transactions", s.ListTransactions)

		r.Get("/positions/{positionID}", s.GetPosition)
		r.Get("/positions/{positionID}/preview", s.PreviewSell)

		r.Get("/perps", s.ListOpenPerps)
		r.Get("/perps/{positionID}", s.GetPerpPosition)
	})
}

// --- Decision execution ---

// DecisionRequest is the JSON body for POST /api/v1/decisions.
type DecisionRequest struct {
	PoolID     string          `json:"pool_id"`
	Action     string          `json:"action"`
	MarketID   string          `json:"market_id,omitempty"`
	PositionID string          `json:"position_id,omitempty"`
	Ticker     string          `json:"ticker,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Leverage   decimal.Decimal `json:"leverage,omitempty"`
	LimitPrice decimal.Decimal `json:"limit_price,omitempty"`
}

// ExecuteDecision handles POST /api/v1/decisions.
func (s *Server) ExecuteDecision(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	action, err := model.ParseAction(req.Action)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	trade, err := s.engine.ExecuteDecision(r.Context(), &model.TradingDecision{
		PoolID:     req.PoolID,
		Action:     action,
		MarketID:   req.MarketID,
		PositionID: req.PositionID,
		Ticker:     req.Ticker,
		Amount:     req.Amount,
		Leverage:   req.Leverage,
		LimitPrice: req.LimitPrice,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, trade)
}

// --- Markets ---

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	Question         string          `json:"question"`
	EndDate          time.Time       `json:"end_date"`
	InitialLiquidity decimal.Decimal `json:"initial_liquidity"`
}

// CreateMarket handles POST /api/v1/markets.
func (s *Server) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	market, err := s.engine.CreateMarket(r.Context(), req.Question, req.EndDate, req.InitialLiquidity)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, market)
}

// ListMarkets handles GET /api/v1/markets.
func (s *Server) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// GetMarket handles GET /api/v1/markets/{marketID}.
func (s *Server) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, err := s.store.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// GetPrice handles GET /api/v1/markets/{marketID}/price.
func (s *Server) GetPrice(w http.ResponseWriter, r *http.Request) {
	yes, no, err := s.engine.MarketPrices(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"yes": yes, "no": no})
}

// PreviewBuy handles GET /api/v1/markets/{marketID}/preview?side=yes&amount=250.
func (s *Server) PreviewBuy(w http.ResponseWriter, r *http.Request) {
	side := model.Side(r.URL.Query().Get("side"))
	if side != model.SideYes && side != model.SideNo {
		writeError(w, "side must be yes or no", http.StatusBadRequest)
		return
	}
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		writeError(w, "invalid amount", http.StatusBadRequest)
		return
	}

	quote, err := s.engine.PreviewBuy(r.Context(), chi.URLParam(r, "marketID"), side, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// SettleMarket handles POST /api/v1/markets/{marketID}/settle.
func (s *Server) SettleMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	if err := s.engine.SettleMarket(r.Context(), marketID); err != nil {
		writeEngineError(w, err)
		return
	}
	market, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// --- Pools ---

// CreatePoolRequest is the JSON body for pool creation.
type CreatePoolRequest struct {
	InitialDeposit decimal.Decimal `json:"initial_deposit"`
}

// CreatePool handles POST /api/v1/pools.
func (s *Server) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req CreatePoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	pool, err := s.engine.CreatePool(r.Context(), req.InitialDeposit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pool)
}

// GetPool handles GET /api/v1/pools/{poolID}.
func (s *Server) GetPool(w http.ResponseWriter, r *http.Request) {
	pool, err := s.store.GetPool(r.Context(), chi.URLParam(r, "poolID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

// AmountRequest is the JSON body for deposits and withdrawals.
type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// Deposit handles POST /api/v1/pools/{poolID}/deposit.
func (s *Server) Deposit(w http.ResponseWriter, r *http.Request) {
	s.moveFunds(w, r, s.engine.Deposit)
}

// Withdraw handles POST /api/v1/pools/{poolID}/withdraw.
func (s *Server) Withdraw(w http.ResponseWriter, r *http.Request) {
	s.moveFunds(w, r, s.engine.Withdraw)
}

func (s *Server) moveFunds(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, poolID string, amount decimal.Decimal) error) {
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	poolID := chi.URLParam(r, "poolID")
	if err := op(r.Context(), poolID, req.Amount); err != nil {
		writeEngineError(w, err)
		return
	}

	pool, err := s.store.GetPool(r.Context(), poolID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

// ListTransactions handles GET /api/v1/pools/{poolID}/transactions.
func (s *Server) ListTransactions(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListBalanceTransactions(r.Context(), chi.URLParam(r, "poolID"))
	if err != nil {
		writeError(w, "failed to list transactions", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.BalanceTransaction{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Positions ---

// GetPosition handles GET /api/v1/positions/{positionID}.
func (s *Server) GetPosition(w http.ResponseWriter, r *http.Request) {
	position, err := s.store.GetPosition(r.Context(), chi.URLParam(r, "positionID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, position)
}

// PreviewSell handles GET /api/v1/positions/{positionID}/preview?shares=10.
func (s *Server) PreviewSell(w http.ResponseWriter, r *http.Request) {
	shares, err := decimal.NewFromString(r.URL.Query().Get("shares"))
	if err != nil {
		writeError(w, "invalid shares", http.StatusBadRequest)
		return
	}

	quote, err := s.engine.PreviewSell(r.Context(), chi.URLParam(r, "positionID"), shares)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// ListOpenPerps handles GET /api/v1/perps.
func (s *Server) ListOpenPerps(w http.ResponseWriter, r *http.Request) {
	positions, err := s.store.ListOpenPerpPositions(r.Context())
	if err != nil {
		writeError(w, "failed to list perp positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.PerpPosition{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// GetPerpPosition handles GET /api/v1/perps/{positionID}.
func (s *Server) GetPerpPosition(w http.ResponseWriter, r *http.Request) {
	position, err := s.store.GetPerpPosition(r.Context(), chi.URLParam(r, "positionID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, position)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeEngineError maps engine and store errors onto HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrValidation),
		errors.Is(err, model.ErrUnknownAction),
		errors.Is(err, ledger.ErrInvalidAmount):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, engine.ErrMarketClosed),
		errors.Is(err, engine.ErrSlippageExceeded),
		errors.Is(err, engine.ErrPositionClosed),
		errors.Is(err, engine.ErrLiquidated),
		errors.Is(err, engine.ErrNoOutcome),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, risklimit.ErrTickerLimitExceeded),
		errors.Is(err, risklimit.ErrAggregateLimitExceeded),
		errors.Is(err, store.ErrConflict):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, store.ErrContention):
		w.Header().Set("Retry-After", "1")
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}
