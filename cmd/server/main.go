package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/babylon/trading-engine/internal/amm"
	"github.com/babylon/trading-engine/internal/api"
	"github.com/babylon/trading-engine/internal/engine"
	"github.com/babylon/trading-engine/internal/feed"
	"github.com/babylon/trading-engine/internal/ledger"
	"github.com/babylon/trading-engine/internal/metrics"
	"github.com/babylon/trading-engine/internal/perp"
	"github.com/babylon/trading-engine/internal/risklimit"
	"github.com/babylon/trading-engine/internal/schedule"
	"github.com/babylon/trading-engine/internal/store"
)

func envDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		slog.Error("invalid decimal in environment", "key", key, "value", raw)
		os.Exit(1)
	}
	return v
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := envString("PORT", "8080")

	// --- Store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Engine collaborators ---
	feeRate := envDecimal("FEE_RATE", amm.DefaultFeeRate)
	mm, err := amm.NewMarketMaker(feeRate)
	if err != nil {
		slog.Error("invalid FEE_RATE", "err", err)
		os.Exit(1)
	}

	limits := risklimit.NewLimiter(
		envDecimal("MAX_TICKER_NOTIONAL", decimal.NewFromInt(100_000)),
		envDecimal("MAX_AGGREGATE_NOTIONAL", decimal.NewFromInt(500_000)),
	)

	priceFeed := feed.NewStaticFeed(envDecimal("DEFAULT_FUNDING_RATE", decimal.NewFromFloat(0.01)))

	wsHub := api.NewWSHub()
	go wsHub.Run()

	svc := engine.NewService(st, priceFeed, mm, perp.NewRiskEngine(), ledger.New(), limits, wsHub)
	if err := svc.Init(context.Background()); err != nil {
		slog.Error("engine init failed", "err", err)
		os.Exit(1)
	}

	// --- Periodic sweeps ---
	runner := schedule.New(context.Background())
	fundingSpec := envString("FUNDING_CRON", "0 */10 * * * *")
	if _, err := runner.Add("funding", fundingSpec, func(ctx context.Context) error {
		applied, err := svc.ApplyFundingTicks(ctx)
		if applied > 0 {
			slog.Info("funding sweep complete", "payments", applied)
		}
		return err
	}); err != nil {
		slog.Error("invalid FUNDING_CRON", "err", err)
		os.Exit(1)
	}
	liquidationSpec := envString("LIQUIDATION_CRON", "*/15 * * * * *")
	if _, err := runner.Add("liquidation", liquidationSpec, func(ctx context.Context) error {
		liquidated, err := svc.RunLiquidationSweep(ctx)
		if liquidated > 0 {
			slog.Info("liquidation sweep complete", "liquidated", liquidated)
		}
		return err
	}); err != nil {
		slog.Error("invalid LIQUIDATION_CRON", "err", err)
		os.Exit(1)
	}
	runner.Start()
	defer runner.Stop()

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"trading-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	api.NewServer(svc, st, wsHub).Mount(r)
	api.NewFeedAdmin(priceFeed).Mount(r)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("trading-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down trading-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("trading-engine stopped")
}
