package engine

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simdesk/simdesk/internal/domain"
)

func TestRegimeMinDwellBlocksTransitions(t *testing.T) {
	cfg := DefaultRegimeConfig()
	// Transition out of normal with certainty once the dwell allows it.
	cfg.Transitions[domain.RegimeNormal] = []Transition{
		{To: domain.RegimeHighVolatility, Prob: 1.0},
	}
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	m := newRegimeMachine(cfg, rand.New(rand.NewSource(1)), now)

	state, changed := m.Step(now.Add(10 * time.Second))
	assert.False(t, changed, "still inside the 30s normal dwell")
	assert.Equal(t, domain.RegimeNormal, state)

	state, changed = m.Step(now.Add(31 * time.Second))
	assert.True(t, changed)
	assert.Equal(t, domain.RegimeHighVolatility, state)
}

func TestRegimeDwellResetsOnEntry(t *testing.T) {
	cfg := DefaultRegimeConfig()
	cfg.Transitions[domain.RegimeNormal] = []Transition{{To: domain.RegimeHighVolatility, Prob: 1.0}}
	cfg.Transitions[domain.RegimeHighVolatility] = []Transition{{To: domain.RegimeNormal, Prob: 1.0}}
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	m := newRegimeMachine(cfg, rand.New(rand.NewSource(1)), now)

	_, changed := m.Step(now.Add(31 * time.Second))
	require.True(t, changed)

	// high_volatility carries a 60s dwell measured from entry.
	_, changed = m.Step(now.Add(31*time.Second + 59*time.Second))
	assert.False(t, changed)
	state, changed := m.Step(now.Add(31*time.Second + 61*time.Second))
	assert.True(t, changed)
	assert.Equal(t, domain.RegimeNormal, state)
}

func TestRegimeForceShock(t *testing.T) {
	cfg := DefaultRegimeConfig()
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	m := newRegimeMachine(cfg, rand.New(rand.NewSource(1)), now)

	changed := m.Force(now, 45*time.Second)
	assert.True(t, changed)
	assert.Equal(t, domain.RegimeEventShock, m.Current())

	// Repeated force while already shocked reports no change.
	assert.False(t, m.Force(now, 45*time.Second))

	// The forced dwell pins the state even against a certain transition.
	cfg.Transitions[domain.RegimeEventShock] = []Transition{{To: domain.RegimeNormal, Prob: 1.0}}
	_, stepped := m.Step(now.Add(30 * time.Second))
	assert.False(t, stepped)
	assert.Equal(t, domain.RegimeEventShock, m.Current())

	state, stepped := m.Step(now.Add(46 * time.Second))
	assert.True(t, stepped)
	assert.Equal(t, domain.RegimeNormal, state)
}

func TestRegimeParamsFollowState(t *testing.T) {
	cfg := DefaultRegimeConfig()
	now := time.Now().UTC()
	m := newRegimeMachine(cfg, rand.New(rand.NewSource(1)), now)

	assert.Equal(t, domain.RegimeParams{Liquidity: 1, Vol: 1, Borrow: 1}, m.Params())

	m.Force(now, time.Minute)
	params := m.Params()
	assert.Greater(t, params.Liquidity, 1.0)
	assert.Greater(t, params.Vol, 1.0)
	assert.Greater(t, params.Borrow, 1.0)
}
