package strategies

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simdesk/simdesk/internal/domain"
)

func flatCloses(n int, price float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = price
	}
	return out
}

func evalWith(cfg Config, state *State, closes []float64, price float64) *EvalContext {
	return &EvalContext{Config: cfg, State: state, Closes: closes, Price: price}
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig(nil)
	require.NoError(t, err)

	assert.Equal(t, "1m", cfg.Interval)
	assert.Equal(t, 20, cfg.Period)
	assert.Equal(t, 2.0, cfg.StdDevs)
	assert.Equal(t, 10, cfg.Lookback)
	assert.Equal(t, 1.0, cfg.SpacingPct)
	assert.Equal(t, 5, cfg.Levels)
	assert.Equal(t, 5.0, cfg.RecenterThresholdPct)
	assert.Equal(t, 10.0, cfg.AllocationPct)
}

func TestParseConfigMalformed(t *testing.T) {
	_, err := ParseConfig(json.RawMessage(`{"ticker":`))
	assert.ErrorIs(t, err, domain.ErrInvalid)
}

func TestHandlerForUnknownType(t *testing.T) {
	_, err := HandlerFor("alpha", nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalid)

	_, err = HandlerFor(domain.StrategyCustom, nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalid, "custom requires a sandbox and source")
}

func TestMeanReversionBands(t *testing.T) {
	h := meanReversionHandler{}
	cfg := Config{Symbol: "ACME", Period: 20, StdDevs: 2}
	closes := flatCloses(25, 100)

	sig, err := h.Evaluate(evalWith(cfg, &State{}, closes[:5], 100))
	require.NoError(t, err)
	assert.Equal(t, SignalHold, sig.Action, "not enough history yet")

	// A flat series collapses the bands onto the mean, so any deviation
	// trips them.
	sig, err = h.Evaluate(evalWith(cfg, &State{}, closes, 90))
	require.NoError(t, err)
	assert.Equal(t, SignalBuy, sig.Action)
	assert.InDelta(t, 100.0, sig.Data["sma"], 1e-9)

	sig, err = h.Evaluate(evalWith(cfg, &State{}, closes, 110))
	require.NoError(t, err)
	assert.Equal(t, SignalSell, sig.Action)

	sig, err = h.Evaluate(evalWith(cfg, &State{}, closes, 100))
	require.NoError(t, err)
	assert.Equal(t, SignalHold, sig.Action)
}

func TestMomentumCrossover(t *testing.T) {
	h := momentumHandler{}
	cfg := Config{Symbol: "ACME", Lookback: 3}
	state := &State{}

	sig, err := h.Evaluate(evalWith(cfg, state, []float64{100, 100, 100, 99}, 99))
	require.NoError(t, err)
	assert.Equal(t, SignalHold, sig.Action, "first observation only seeds the state")
	assert.True(t, state.HasPrevMomentum)
	assert.Negative(t, state.PrevMomentum)

	sig, err = h.Evaluate(evalWith(cfg, state, []float64{100, 100, 100, 99, 101}, 101))
	require.NoError(t, err)
	assert.Equal(t, SignalBuy, sig.Action, "momentum crossed above zero")

	sig, err = h.Evaluate(evalWith(cfg, state, []float64{100, 99, 101, 102, 98}, 98))
	require.NoError(t, err)
	assert.Equal(t, SignalSell, sig.Action, "momentum crossed below zero")
}

func TestGridLevels(t *testing.T) {
	h := gridHandler{}
	cfg := Config{Symbol: "ACME", SpacingPct: 1, Levels: 2, RecenterThresholdPct: 5}
	state := &State{}

	sig, err := h.Evaluate(evalWith(cfg, state, nil, 100))
	require.NoError(t, err)
	assert.Equal(t, SignalHold, sig.Action, "first tick centers the grid")
	require.NotNil(t, state.Grid)
	assert.Equal(t, 100.0, state.Grid.Center)

	sig, err = h.Evaluate(evalWith(cfg, state, nil, 98.9))
	require.NoError(t, err)
	assert.Equal(t, SignalBuy, sig.Action)
	assert.Equal(t, 1.0, sig.Data["level"])

	sig, err = h.Evaluate(evalWith(cfg, state, nil, 98.9))
	require.NoError(t, err)
	assert.Equal(t, SignalHold, sig.Action, "a fired level stays quiet until recenter")

	sig, err = h.Evaluate(evalWith(cfg, state, nil, 101.2))
	require.NoError(t, err)
	assert.Equal(t, SignalSell, sig.Action)

	sig, err = h.Evaluate(evalWith(cfg, state, nil, 106))
	require.NoError(t, err)
	assert.Equal(t, SignalHold, sig.Action)
	assert.Equal(t, 106.0, state.Grid.Center, "a large move recenters and re-arms the grid")
	assert.Empty(t, state.Grid.ActiveBuy)
}

func TestPairsZScore(t *testing.T) {
	h := pairsHandler{}
	cfg := Config{Symbol: "ACME", SymbolA: "ACME", SymbolB: "BETA", Period: 5, StdDevs: 1}
	state := &State{}

	closesB := flatCloses(10, 100)
	series := func(a []float64) *EvalContext {
		ctx := evalWith(cfg, state, a, a[len(a)-1])
		ctx.ClosesFor = func(symbol string) []float64 {
			if symbol == "BETA" {
				return closesB
			}
			return a
		}
		return ctx
	}

	// The last ratio spikes two stdevs above the window mean.
	wide := append(flatCloses(9, 100), 120)
	sig, err := h.Evaluate(series(wide))
	require.NoError(t, err)
	assert.Equal(t, SignalSell, sig.Action, "rich spread shorts leg A")
	assert.Equal(t, "ACME", sig.Symbol)
	assert.Equal(t, -1, state.Pairs.Direction)

	// The spread drifts back near its mean, closing the short leg.
	reverted := append(flatCloses(7, 100), 120, 105, 105)
	sig, err = h.Evaluate(series(reverted))
	require.NoError(t, err)
	assert.Equal(t, SignalBuy, sig.Action, "reversion closes the open pair")
	assert.Equal(t, 0, state.Pairs.Direction)
}

func TestPairsUnconfiguredHolds(t *testing.T) {
	h := pairsHandler{}
	sig, err := h.Evaluate(evalWith(Config{Symbol: "ACME"}, &State{}, nil, 100))
	require.NoError(t, err)
	assert.Equal(t, SignalHold, sig.Action)
}
