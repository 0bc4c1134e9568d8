// Package engine generates the synthetic market: per-instrument price walks,
// the regime state machine, news shock application and candle aggregation.
// The engine never calls the hub or the matcher directly; it publishes tick
// batches on the event bus and they subscribe.
package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/simdesk/simdesk/internal/domain"
	"github.com/simdesk/simdesk/internal/events"
	"github.com/simdesk/simdesk/pkg/logger"
)

const (
	// EWMA decay for the running volatility estimate
	volDecay = 0.94

	// Spread widening applied after a news shock, and how long it lasts
	shockSpreadBoost    = 2.5
	shockSpreadCooldown = 30 * time.Second

	// Bounded backlog of closed candles awaiting persistence
	maxPendingCandles = 4096
)

// CandleWriter persists closed candles. Implemented by the repository.
type CandleWriter interface {
	UpsertClosed(c domain.Candle) error
}

// Config holds engine construction parameters.
type Config struct {
	Instruments  []domain.Instrument
	TickInterval time.Duration
	Regime       RegimeConfig
	Bus          *events.Bus
	Candles      CandleWriter // nil disables candle persistence
	StoreHealthy func() bool  // nil means always healthy
	Log          zerolog.Logger
	Seed         int64 // 0 seeds from the clock
}

// tickState is the mutable per-instrument walk state. Owned by the engine.
type tickState struct {
	inst      domain.Instrument
	mid       float64
	last      float64
	bid       float64
	ask       float64
	open      float64
	high      float64
	low       float64
	prevClose float64
	volume    float64 // shares traded so far today
	vol       float64 // running per-tick return stdev (EWMA)
	volInject float64 // decaying extra vol injected by shocks

	spreadBoostUntil time.Time
	day              int // yyyymmdd of the current session, UTC
}

// Engine owns tick state and candle aggregates. Read accessors return
// copies and are safe for concurrent callers.
type Engine struct {
	cfg  Config
	log  zerolog.Logger
	bus  *events.Bus
	rng  *rand.Rand
	tpd  float64 // ticks per day at the configured cadence

	mu      sync.RWMutex
	order   []string // stable iteration order
	states  map[string]*tickState
	regime  *regimeMachine
	agg     *aggregator
	pass    uint64
	pending []domain.Candle

	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	flushCh chan struct{}
}

// New creates an engine over the given instrument universe.
func New(cfg Config) (*Engine, error) {
	if len(cfg.Instruments) == 0 {
		return nil, fmt.Errorf("engine requires at least one instrument")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.Regime.Params == nil {
		cfg.Regime = DefaultRegimeConfig()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	now := time.Now().UTC()
	e := &Engine{
		cfg:     cfg,
		log:     logger.Component(cfg.Log, "engine"),
		bus:     cfg.Bus,
		rng:     rng,
		tpd:     float64(24*time.Hour) / float64(cfg.TickInterval),
		states:  make(map[string]*tickState, len(cfg.Instruments)),
		regime:  newRegimeMachine(cfg.Regime, rng, now),
		agg:     newAggregator(),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		flushCh: make(chan struct{}, 1),
	}

	for _, inst := range cfg.Instruments {
		p := inst.StartPrice
		e.order = append(e.order, inst.Symbol)
		e.states[inst.Symbol] = &tickState{
			inst:      inst,
			mid:       p,
			last:      p,
			open:      p,
			high:      p,
			low:       p,
			prevClose: p,
			vol:       inst.VolTarget,
			day:       dayKey(now),
		}
	}

	return e, nil
}

// Start launches the tick loop and the candle flusher.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	go e.run()
	go e.flushLoop()
	e.log.Info().
		Dur("interval", e.cfg.TickInterval).
		Int("instruments", len(e.order)).
		Msg("Market data engine started")
}

// Stop terminates the loops. Safe to call once.
func (e *Engine) Stop() {
	close(e.stopCh)
	<-e.doneCh
	e.log.Info().Msg("Market data engine stopped")
}

func (e *Engine) run() {
	defer close(e.doneCh)
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case now := <-ticker.C:
			e.tickPass(now.UTC())
		}
	}
}

// tickPass advances every instrument one step and publishes the batch.
// In-memory only; must not suspend.
func (e *Engine) tickPass(now time.Time) {
	e.mu.Lock()

	prevRegime := e.regime.Current()
	regime, regimeChanged := e.regime.Step(now)
	params := e.regime.Params()

	ticks := make([]domain.Tick, 0, len(e.order))
	for _, symbol := range e.order {
		s := e.states[symbol]
		tick, volDelta := e.step(s, regime, params, now)
		ticks = append(ticks, tick)

		closed := e.agg.Apply(tick, volDelta)
		if len(closed) > 0 && e.cfg.Candles != nil {
			e.pending = append(e.pending, closed...)
			if over := len(e.pending) - maxPendingCandles; over > 0 {
				e.pending = e.pending[over:]
				e.log.Warn().Int("dropped", over).Msg("Candle backlog overflow, dropping oldest")
			}
		}
	}
	e.pass++
	pass := e.pass
	hasPending := len(e.pending) > 0
	e.mu.Unlock()

	if regimeChanged && e.bus != nil {
		e.bus.Emit(&events.RegimeChangedData{From: prevRegime, To: regime})
	}
	if e.bus != nil {
		e.bus.Emit(&events.TickBatchData{Ticks: ticks, Pass: pass})
	}
	if hasPending {
		select {
		case e.flushCh <- struct{}{}:
		default:
		}
	}
}

// step advances one instrument's walk. Caller holds the lock.
func (e *Engine) step(s *tickState, regime domain.Regime, params domain.RegimeParams, now time.Time) (domain.Tick, float64) {
	// Session roll at UTC midnight
	if dk := dayKey(now); dk != s.day {
		s.prevClose = s.last
		s.open = s.mid
		s.high = s.mid
		s.low = s.mid
		s.volume = 0
		s.day = dk
	}

	sigma := s.inst.VolTarget*params.Vol + s.volInject
	s.volInject *= 0.90

	ret := e.rng.NormFloat64() * sigma
	s.mid *= 1 + ret
	if floor := math.Pow(10, -float64(s.inst.Decimals)); s.mid < floor {
		s.mid = floor
	}

	// Running volatility: EWMA of squared returns
	s.vol = math.Sqrt(volDecay*s.vol*s.vol + (1-volDecay)*ret*ret)

	spreadBps := s.inst.BaseSpreadBps * params.Liquidity
	if now.Before(s.spreadBoostUntil) {
		spreadBps *= shockSpreadBoost
	}
	half := s.mid * spreadBps / 2 / 10000
	s.bid = s.mid - half
	s.ask = s.mid + half
	s.last = s.mid

	if s.last > s.high {
		s.high = s.last
	}
	if s.last < s.low {
		s.low = s.last
	}

	// Stochastic volume draw proportional to ADV spread over the day
	volDelta := 0.0
	if s.mid > 0 {
		volDelta = s.inst.ADV / e.tpd / s.mid * (0.5 + e.rng.Float64())
	}
	s.volume += volDelta

	return e.tickFromState(s, regime, now), volDelta
}

func (e *Engine) tickFromState(s *tickState, regime domain.Regime, now time.Time) domain.Tick {
	changePct := 0.0
	if s.prevClose > 0 {
		changePct = (s.last - s.prevClose) / s.prevClose * 100
	}
	return domain.Tick{
		Symbol:     s.inst.Symbol,
		Price:      s.last,
		Bid:        s.bid,
		Ask:        s.ask,
		Open:       s.open,
		High:       s.high,
		Low:        s.low,
		PrevClose:  s.prevClose,
		Volume:     s.volume,
		ChangePct:  changePct,
		Regime:     regime,
		Volatility: s.vol,
		Timestamp:  now.UnixMilli(),
	}
}

// ApplyShock jumps one symbol's mid by impactFraction, widens the spread
// for a cooldown window and injects volatility.
func (e *Engine) ApplyShock(symbol string, impactFraction float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.states[symbol]
	if !ok {
		return fmt.Errorf("unknown symbol %s: %w", symbol, domain.ErrNotFound)
	}
	e.applyShockLocked(s, impactFraction)
	return nil
}

func (e *Engine) applyShockLocked(s *tickState, impactFraction float64) {
	s.mid *= 1 + impactFraction
	if floor := math.Pow(10, -float64(s.inst.Decimals)); s.mid < floor {
		s.mid = floor
	}
	s.last = s.mid
	s.spreadBoostUntil = time.Now().Add(shockSpreadCooldown)
	s.volInject += math.Abs(impactFraction) * 0.5
	if s.last > s.high {
		s.high = s.last
	}
	if s.last < s.low {
		s.low = s.last
	}
}

// Market-wide shock attenuation modes.
const (
	MarketWideDeterministic = "deterministic"
	MarketWideStochastic    = "stochastic"
)

// ApplyMarketShock applies a dampened per-symbol impact across the tape.
// Safe-haven instruments receive a reduced, inverted magnitude.
func (e *Engine) ApplyMarketShock(impactFraction float64, mode string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, symbol := range e.order {
		s := e.states[symbol]
		w := 0.4
		if s.inst.SafeHaven {
			w = -0.3
		}
		if mode == MarketWideStochastic {
			w *= 0.2 + 0.8*e.rng.Float64()
		}
		e.applyShockLocked(s, impactFraction*w)
	}
}

// ForceShock drives the regime machine into event_shock for the dwell.
func (e *Engine) ForceShock(dwell time.Duration) {
	e.mu.Lock()
	prev := e.regime.Current()
	changed := e.regime.Force(time.Now().UTC(), dwell)
	e.mu.Unlock()

	if changed && e.bus != nil {
		e.bus.Emit(&events.RegimeChangedData{From: prev, To: domain.RegimeEventShock})
	}
}

// Quote returns the latest tick view for one symbol.
func (e *Engine) Quote(symbol string) (domain.Tick, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.states[symbol]
	if !ok {
		return domain.Tick{}, false
	}
	return e.tickFromState(s, e.regime.Current(), time.Now().UTC()), true
}

// Snapshot returns the latest tick view for the whole universe.
func (e *Engine) Snapshot() []domain.Tick {
	e.mu.RLock()
	defer e.mu.RUnlock()
	now := time.Now().UTC()
	regime := e.regime.Current()
	out := make([]domain.Tick, 0, len(e.order))
	for _, symbol := range e.order {
		out = append(out, e.tickFromState(e.states[symbol], regime, now))
	}
	return out
}

// Regime returns the active regime tag.
func (e *Engine) Regime() domain.Regime {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.regime.Current()
}

// RegimeParams returns the active regime multipliers.
func (e *Engine) RegimeParams() domain.RegimeParams {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.regime.Params()
}

// CurrentCandle returns a copy of the in-flight candle for a symbol and
// interval, without mutating aggregation state.
func (e *Engine) CurrentCandle(symbol, interval string) (domain.Candle, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.agg.Current(symbol, interval)
}

// Instruments returns the immutable universe.
func (e *Engine) Instruments() []domain.Instrument {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.Instrument, 0, len(e.order))
	for _, symbol := range e.order {
		out = append(out, e.states[symbol].inst)
	}
	return out
}

// Instrument returns one profile by symbol.
func (e *Engine) Instrument(symbol string) (domain.Instrument, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.states[symbol]
	if !ok {
		return domain.Instrument{}, false
	}
	return s.inst, true
}

// PendingCandles reports the persistence backlog size.
func (e *Engine) PendingCandles() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.pending)
}

// flushLoop drains closed candles to the repository off the tick path.
// When the store is unhealthy the backlog is retained and retried.
func (e *Engine) flushLoop() {
	for {
		select {
		case <-e.stopCh:
			return
		case <-e.flushCh:
			if err := e.FlushCandles(context.Background()); err != nil {
				e.log.Debug().Err(err).Msg("Candle flush deferred")
			}
		}
	}
}

// FlushCandles writes queued closed candles. Also invoked from a periodic
// task so the backlog drains after a store outage.
func (e *Engine) FlushCandles(ctx context.Context) error {
	if e.cfg.Candles == nil {
		return nil
	}
	if e.cfg.StoreHealthy != nil && !e.cfg.StoreHealthy() {
		return fmt.Errorf("candle persistence paused: %w", domain.ErrStorageUnavailable)
	}

	e.mu.Lock()
	batch := e.pending
	e.pending = nil
	e.mu.Unlock()

	for i, c := range batch {
		if err := ctx.Err(); err != nil {
			e.requeue(batch[i:])
			return err
		}
		if err := e.cfg.Candles.UpsertClosed(c); err != nil {
			// Put the remainder back and retry on the next signal
			e.requeue(batch[i:])
			return fmt.Errorf("failed to persist candle %s/%s: %w", c.Symbol, c.Interval, err)
		}
	}
	return nil
}

func (e *Engine) requeue(rest []domain.Candle) {
	e.mu.Lock()
	e.pending = append(rest, e.pending...)
	e.mu.Unlock()
}

func dayKey(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}
