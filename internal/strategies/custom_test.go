package strategies

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simdesk/simdesk/internal/domain"
)

func customSource(id int64, source string) *domain.CustomStrategy {
	return &domain.CustomStrategy{
		ID:        id,
		Name:      "test",
		Source:    source,
		UpdatedAt: time.Now().UTC(),
	}
}

func customCtx(price float64, closes []float64) *EvalContext {
	return &EvalContext{
		Config: Config{Symbol: "ACME"},
		State:  &State{},
		Closes: closes,
		Price:  price,
	}
}

// One sandbox serves the runner, the backtester and HTTP handlers at
// once, so compile-cache access from many goroutines must be safe.
func TestSandboxConcurrentEvaluations(t *testing.T) {
	sb := NewSandbox(time.Second, zerolog.Nop())

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				cs := customSource(int64(w*100+i+1), `price > 0 ? "buy" : "hold"`)
				sig, err := sb.Evaluate(cs, customCtx(100, nil))
				if assert.NoError(t, err) {
					assert.Equal(t, SignalBuy, sig.Action)
				}
			}
		}(w)
	}
	wg.Wait()
}

func TestSandboxStringVerdict(t *testing.T) {
	sb := NewSandbox(time.Second, zerolog.Nop())

	sig, err := sb.Evaluate(customSource(1, `"buy"`), customCtx(100, nil))
	require.NoError(t, err)
	assert.Equal(t, SignalBuy, sig.Action)
	assert.Equal(t, "ACME", sig.Symbol)
}

func TestSandboxMapVerdict(t *testing.T) {
	sb := NewSandbox(time.Second, zerolog.Nop())

	sig, err := sb.Evaluate(customSource(1,
		`{"signal": "sell", "reason": "overbought", "ticker": "GLD"}`), customCtx(100, nil))
	require.NoError(t, err)
	assert.Equal(t, SignalSell, sig.Action)
	assert.Equal(t, "GLD", sig.Symbol, "map verdicts may redirect the ticker")
	assert.Equal(t, "overbought", sig.Reason)
}

func TestSandboxReadsParameters(t *testing.T) {
	sb := NewSandbox(time.Second, zerolog.Nop())
	cs := customSource(1, `price > parameters.threshold ? "buy" : "hold"`)
	cs.Parameters = map[string]float64{"threshold": 50}

	sig, err := sb.Evaluate(cs, customCtx(100, nil))
	require.NoError(t, err)
	assert.Equal(t, SignalBuy, sig.Action)

	cs.Parameters["threshold"] = 200
	sig, err = sb.Evaluate(cs, customCtx(100, nil))
	require.NoError(t, err)
	assert.Equal(t, SignalHold, sig.Action)
}

func TestSandboxNilVerdictHolds(t *testing.T) {
	sb := NewSandbox(time.Second, zerolog.Nop())

	sig, err := sb.Evaluate(customSource(1, `nil`), customCtx(100, nil))
	require.NoError(t, err)
	assert.Equal(t, SignalHold, sig.Action)
}

func TestSandboxRejectsUnknownVerdict(t *testing.T) {
	sb := NewSandbox(time.Second, zerolog.Nop())

	_, err := sb.Evaluate(customSource(1, `"shrug"`), customCtx(100, nil))
	assert.ErrorContains(t, err, "unknown signal")
}

func TestSandboxCompileError(t *testing.T) {
	sb := NewSandbox(time.Second, zerolog.Nop())

	_, err := sb.Evaluate(customSource(1, `((`), customCtx(100, nil))
	assert.ErrorContains(t, err, "compile failed")
}

func TestSandboxRecompilesOnSourceUpdate(t *testing.T) {
	sb := NewSandbox(time.Second, zerolog.Nop())
	cs := customSource(1, `"buy"`)

	sig, err := sb.Evaluate(cs, customCtx(100, nil))
	require.NoError(t, err)
	assert.Equal(t, SignalBuy, sig.Action)

	cs.Source = `"sell"`
	cs.UpdatedAt = cs.UpdatedAt.Add(time.Second)
	sig, err = sb.Evaluate(cs, customCtx(100, nil))
	require.NoError(t, err)
	assert.Equal(t, SignalSell, sig.Action, "a newer UpdatedAt invalidates the cached program")
}

func TestSandboxExposesPriceHistory(t *testing.T) {
	sb := NewSandbox(time.Second, zerolog.Nop())
	// Last close above the first means the series trended up.
	cs := customSource(1, `prices[-1] > prices[0] ? "buy" : "sell"`)

	sig, err := sb.Evaluate(cs, customCtx(105, []float64{100, 102, 105}))
	require.NoError(t, err)
	assert.Equal(t, SignalBuy, sig.Action)
}
