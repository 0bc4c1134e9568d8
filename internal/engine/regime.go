package engine

import (
	"math/rand"
	"time"

	"github.com/simdesk/simdesk/internal/domain"
)

// Transition is one per-tick transition probability out of a state.
type Transition struct {
	To   domain.Regime
	Prob float64
}

// RegimeConfig exposes the transition matrix, dwell minimums and per-state
// multipliers as configuration. The defaults below are the shipped tuning.
type RegimeConfig struct {
	Params      map[domain.Regime]domain.RegimeParams
	Transitions map[domain.Regime][]Transition
	MinDwell    map[domain.Regime]time.Duration
	ShockDwell  time.Duration // dwell applied when a high-severity shock forces event_shock
}

// DefaultRegimeConfig returns the shipped regime tuning.
func DefaultRegimeConfig() RegimeConfig {
	return RegimeConfig{
		Params: map[domain.Regime]domain.RegimeParams{
			domain.RegimeNormal:         {Liquidity: 1.0, Vol: 1.0, Borrow: 1.0},
			domain.RegimeHighVolatility: {Liquidity: 1.4, Vol: 2.2, Borrow: 1.3},
			domain.RegimeTightLiquidity: {Liquidity: 2.0, Vol: 1.3, Borrow: 1.6},
			domain.RegimeEventShock:     {Liquidity: 2.6, Vol: 3.0, Borrow: 2.0},
		},
		Transitions: map[domain.Regime][]Transition{
			domain.RegimeNormal: {
				{To: domain.RegimeHighVolatility, Prob: 0.0020},
				{To: domain.RegimeTightLiquidity, Prob: 0.0010},
			},
			domain.RegimeHighVolatility: {
				{To: domain.RegimeNormal, Prob: 0.0050},
				{To: domain.RegimeTightLiquidity, Prob: 0.0010},
			},
			domain.RegimeTightLiquidity: {
				{To: domain.RegimeNormal, Prob: 0.0050},
				{To: domain.RegimeHighVolatility, Prob: 0.0015},
			},
			domain.RegimeEventShock: {
				{To: domain.RegimeHighVolatility, Prob: 0.0100},
				{To: domain.RegimeNormal, Prob: 0.0050},
			},
		},
		MinDwell: map[domain.Regime]time.Duration{
			domain.RegimeNormal:         30 * time.Second,
			domain.RegimeHighVolatility: 60 * time.Second,
			domain.RegimeTightLiquidity: 60 * time.Second,
			domain.RegimeEventShock:     20 * time.Second,
		},
		ShockDwell: 45 * time.Second,
	}
}

// regimeMachine is the market regime state machine. Owned by the engine;
// stepped once per tick pass.
type regimeMachine struct {
	cfg         RegimeConfig
	current     domain.Regime
	enteredAt   time.Time
	forcedUntil time.Time
	rng         *rand.Rand
}

func newRegimeMachine(cfg RegimeConfig, rng *rand.Rand, now time.Time) *regimeMachine {
	return &regimeMachine{
		cfg:       cfg,
		current:   domain.RegimeNormal,
		enteredAt: now,
		rng:       rng,
	}
}

// Step advances the machine one tick and reports whether the state changed.
func (m *regimeMachine) Step(now time.Time) (domain.Regime, bool) {
	// Forced event_shock dwell takes precedence over the matrix.
	if m.current == domain.RegimeEventShock && now.Before(m.forcedUntil) {
		return m.current, false
	}

	if dwell := m.cfg.MinDwell[m.current]; now.Sub(m.enteredAt) < dwell {
		return m.current, false
	}

	roll := m.rng.Float64()
	acc := 0.0
	for _, t := range m.cfg.Transitions[m.current] {
		acc += t.Prob
		if roll < acc {
			m.current = t.To
			m.enteredAt = now
			return m.current, true
		}
	}
	return m.current, false
}

// Force switches to event_shock for at least dwell. Used by high-severity
// news shocks.
func (m *regimeMachine) Force(now time.Time, dwell time.Duration) bool {
	if dwell <= 0 {
		dwell = m.cfg.ShockDwell
	}
	changed := m.current != domain.RegimeEventShock
	m.current = domain.RegimeEventShock
	m.enteredAt = now
	m.forcedUntil = now.Add(dwell)
	return changed
}

// Current returns the active regime.
func (m *regimeMachine) Current() domain.Regime {
	return m.current
}

// Params returns the active regime's multipliers.
func (m *regimeMachine) Params() domain.RegimeParams {
	return m.cfg.Params[m.current]
}
