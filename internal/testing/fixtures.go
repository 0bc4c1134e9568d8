package testing

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/simdesk/simdesk/internal/domain"
	"github.com/simdesk/simdesk/internal/repo"
)

// CreateUser inserts a user with 100k starting cash.
func CreateUser(t *testing.T, store *repo.Store, username string) *domain.User {
	t.Helper()
	u := &domain.User{
		Username:     username,
		PasswordHash: "x",
		Cash:         100_000,
		StartingCash: 100_000,
		Role:         "trader",
	}
	if err := store.Users.Insert(u); err != nil {
		t.Fatalf("Failed to insert user %s: %v", username, err)
	}
	return u
}

// CreateFund inserts a fund owned by ownerID. The owner membership is
// created by the repository.
func CreateFund(t *testing.T, store *repo.Store, ownerID int64) *domain.Fund {
	t.Helper()
	f := &domain.Fund{
		Name:         "Test Fund",
		StrategyType: "multi",
		OwnerID:      ownerID,
		MgmtFeeRate:  0.02,
		PerfFeeRate:  0.20,
	}
	if err := store.Funds.Insert(f); err != nil {
		t.Fatalf("Failed to insert fund: %v", err)
	}
	return f
}

// CreateStrategy inserts an inactive strategy with the given config.
func CreateStrategy(t *testing.T, store *repo.Store, fundID int64, strategyType string, config interface{}) *domain.Strategy {
	t.Helper()
	raw, err := json.Marshal(config)
	if err != nil {
		t.Fatalf("Failed to marshal strategy config: %v", err)
	}
	st := &domain.Strategy{
		FundID: fundID,
		Name:   "test-" + strategyType,
		Type:   strategyType,
		Config: raw,
	}
	if err := store.Strategies.Insert(st); err != nil {
		t.Fatalf("Failed to insert strategy: %v", err)
	}
	return st
}

// MakeCandles builds a deterministic 1m candle series: a sine wave
// around base with the given amplitude. Deterministic input keeps
// backtest assertions stable.
func MakeCandles(symbol string, n int, base, amplitude float64) []domain.Candle {
	start := time.Date(2025, 6, 2, 13, 30, 0, 0, time.UTC).UnixMilli()
	out := make([]domain.Candle, 0, n)
	prev := base
	for i := 0; i < n; i++ {
		c := base + amplitude*math.Sin(float64(i)/9)
		high := math.Max(prev, c) * 1.001
		low := math.Min(prev, c) * 0.999
		out = append(out, domain.Candle{
			Symbol:   symbol,
			Interval: "1m",
			OpenTime: start + int64(i)*60_000,
			Open:     prev,
			High:     high,
			Low:      low,
			Close:    c,
			Volume:   10_000,
		})
		prev = c
	}
	return out
}

// SeedCandles persists a generated series for symbol.
func SeedCandles(t *testing.T, store *repo.Store, symbol string, n int, base, amplitude float64) []domain.Candle {
	t.Helper()
	candles := MakeCandles(symbol, n, base, amplitude)
	for _, c := range candles {
		if err := store.Candles.UpsertClosed(c); err != nil {
			t.Fatalf("Failed to seed candle: %v", err)
		}
	}
	return candles
}
