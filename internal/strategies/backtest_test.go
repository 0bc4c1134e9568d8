package strategies

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simdesk/simdesk/internal/domain"
	"github.com/simdesk/simdesk/internal/engine"
	"github.com/simdesk/simdesk/internal/repo"
	testingpkg "github.com/simdesk/simdesk/internal/testing"
)

// lenient passes any run; strict is unattainable.
var (
	lenient = Thresholds{MinTrades: 0, MinNetReturn: -1, MaxDrawdown: 1, MinWinRate: 0, MinSharpeRatio: -1000}
	strict  = Thresholds{MinTrades: 1_000_000, MinNetReturn: 1, MaxDrawdown: 0, MinWinRate: 1, MinSharpeRatio: 1000}
)

func newStrategyHarness(t *testing.T) (*repo.Store, *engine.Engine) {
	t.Helper()
	store, cleanup := testingpkg.NewTestStore(t)
	t.Cleanup(cleanup)

	eng, err := engine.New(engine.Config{
		Instruments: []domain.Instrument{{
			Symbol:        "ACME",
			Name:          "Acme Industrial",
			BaseSpreadBps: 4,
			ImpactCoeff:   12,
			ADV:           50_000_000,
			CommissionBps: 5,
			CommissionMin: 1,
			BorrowAPR:     0.06,
			StartPrice:    100,
			VolTarget:     0.002,
		}},
		TickInterval: time.Hour,
		Log:          zerolog.Nop(),
		Seed:         7,
	})
	require.NoError(t, err)
	return store, eng
}

func newTestBacktester(t *testing.T) (*Backtester, *repo.Store) {
	t.Helper()
	store, eng := newStrategyHarness(t)
	sb := NewSandbox(time.Second, zerolog.Nop())
	return NewBacktester(store, eng, sb, zerolog.Nop()), store
}

func TestBacktestRunPersistsResult(t *testing.T) {
	b, store := newTestBacktester(t)
	owner := testingpkg.CreateUser(t, store, "owner")
	f := testingpkg.CreateFund(t, store, owner.ID)
	testingpkg.SeedCandles(t, store, "ACME", 150, 100, 5)

	st := testingpkg.CreateStrategy(t, store, f.ID, domain.StrategyMeanReversion,
		map[string]interface{}{"ticker": "ACME", "period": 20, "stdDevs": 1})

	result, err := b.Run(st, &lenient)
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, st.ID, result.StrategyID)
	assert.Equal(t, f.ID, result.FundID)

	wantHash, err := ConfigHash(st.Config)
	require.NoError(t, err)
	assert.Equal(t, wantHash, result.ConfigHash)

	var m Metrics
	require.NoError(t, json.Unmarshal(result.Metrics, &m))
	assert.Equal(t, 150, m.Bars)
	assert.Greater(t, m.Trades, 0, "a one-sigma band on a sine wave trades")
	assert.InDelta(t, backtestEquity*(1+m.NetReturn), m.FinalEquity, 1e-6)

	latest, err := store.Strategies.GetLatestBacktest(st.ID)
	require.NoError(t, err)
	assert.Equal(t, result.ID, latest.ID)
}

func TestRunManyBacktestsEachStrategy(t *testing.T) {
	b, store := newTestBacktester(t)
	owner := testingpkg.CreateUser(t, store, "owner")
	f := testingpkg.CreateFund(t, store, owner.ID)
	testingpkg.SeedCandles(t, store, "ACME", 150, 100, 5)

	first := testingpkg.CreateStrategy(t, store, f.ID, domain.StrategyMeanReversion,
		map[string]interface{}{"ticker": "ACME", "period": 20, "stdDevs": 1})
	second := testingpkg.CreateStrategy(t, store, f.ID, domain.StrategyMomentum,
		map[string]interface{}{"ticker": "ACME", "lookback": 10})

	results, err := b.RunMany(context.Background(), []int64{first.ID, second.ID})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, first.ID, results[0].StrategyID, "results keep the input order")
	assert.Equal(t, second.ID, results[1].StrategyID)

	for _, st := range []*domain.Strategy{first, second} {
		latest, err := store.Strategies.GetLatestBacktest(st.ID)
		require.NoError(t, err)
		require.NotNil(t, latest, "each run in the batch is persisted")
	}

	_, err = b.RunMany(context.Background(), []int64{first.ID, 999_999})
	assert.ErrorIs(t, err, domain.ErrNotFound, "a missing strategy fails the batch")
}

func TestBacktestRequiresEnoughHistory(t *testing.T) {
	b, store := newTestBacktester(t)
	owner := testingpkg.CreateUser(t, store, "owner")
	f := testingpkg.CreateFund(t, store, owner.ID)
	testingpkg.SeedCandles(t, store, "ACME", 50, 100, 5)

	st := testingpkg.CreateStrategy(t, store, f.ID, domain.StrategyMeanReversion,
		map[string]interface{}{"ticker": "ACME"})

	_, err := b.Run(st, nil)
	assert.ErrorIs(t, err, domain.ErrInvalid)
}

func TestBacktestFailingThresholds(t *testing.T) {
	b, store := newTestBacktester(t)
	owner := testingpkg.CreateUser(t, store, "owner")
	f := testingpkg.CreateFund(t, store, owner.ID)
	testingpkg.SeedCandles(t, store, "ACME", 150, 100, 5)

	st := testingpkg.CreateStrategy(t, store, f.ID, domain.StrategyMeanReversion,
		map[string]interface{}{"ticker": "ACME", "period": 20, "stdDevs": 1})

	result, err := b.Run(st, &strict)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Notes, "trades", "notes explain every missed threshold")
}

func TestBacktestUnknownStrategyType(t *testing.T) {
	b, store := newTestBacktester(t)
	owner := testingpkg.CreateUser(t, store, "owner")
	f := testingpkg.CreateFund(t, store, owner.ID)

	st := testingpkg.CreateStrategy(t, store, f.ID, "alpha",
		map[string]interface{}{"ticker": "ACME"})

	_, err := b.Run(st, nil)
	assert.ErrorIs(t, err, domain.ErrInvalid)
}

func TestDefaultThresholdsPerType(t *testing.T) {
	assert.Equal(t, 2, DefaultThresholds(domain.StrategyMeanReversion).MinTrades)
	assert.Equal(t, 4, DefaultThresholds(domain.StrategyGrid).MinTrades)
	assert.Equal(t, 4, DefaultThresholds(domain.StrategyMomentum).MinTrades)
}

func TestJudgeExplainsMisses(t *testing.T) {
	m := Metrics{Trades: 1, NetReturn: -0.10, MaxDrawdown: 0.40, WinRate: 0.10, AvgLoss: -5, Sharpe: -2}
	passed, notes := judge(m, DefaultThresholds(domain.StrategyMeanReversion))
	assert.False(t, passed)
	assert.Contains(t, notes, "trades")
	assert.Contains(t, notes, "net return")
	assert.Contains(t, notes, "max drawdown")
	assert.Contains(t, notes, "win rate")
	assert.Contains(t, notes, "sharpe")

	ok := Metrics{Trades: 5, NetReturn: 0.02, MaxDrawdown: 0.05, WinRate: 0.60, AvgWin: 3, Sharpe: 1.2}
	passed, notes = judge(ok, DefaultThresholds(domain.StrategyMeanReversion))
	assert.True(t, passed)
	assert.Equal(t, "all thresholds met", notes)
}

func TestJudgeSkipsWinRateWithoutRoundtrips(t *testing.T) {
	// Two opening buys and nothing closed: no win rate to judge.
	m := Metrics{Trades: 2, NetReturn: 0, MaxDrawdown: 0.01, Sharpe: 0}
	passed, _ := judge(m, DefaultThresholds(domain.StrategyMeanReversion))
	assert.True(t, passed)
}
