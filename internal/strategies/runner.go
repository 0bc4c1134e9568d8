package strategies

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/simdesk/simdesk/internal/domain"
	"github.com/simdesk/simdesk/internal/engine"
	"github.com/simdesk/simdesk/internal/execution"
	"github.com/simdesk/simdesk/internal/repo"
	"github.com/simdesk/simdesk/pkg/logger"
)

const (
	candleHistory = 200
	activityCap   = 200
)

// RunnerConfig holds runner construction parameters.
type RunnerConfig struct {
	SandboxBudget time.Duration
}

type posKey struct {
	StrategyID int64
	Symbol     string
}

// bookPosition is the runner's in-memory holding for one strategy leg.
type bookPosition struct {
	FundID  int64
	Qty     float64
	AvgCost float64
}

type ddTrack struct {
	day  int
	peak float64
}

// ActivityEntry is one line of the in-memory strategy dashboard feed.
type ActivityEntry struct {
	At         time.Time    `json:"at"`
	StrategyID int64        `json:"strategyId"`
	FundID     int64        `json:"fundId"`
	Symbol     string       `json:"ticker"`
	Action     SignalAction `json:"action"`
	Reason     string       `json:"reason"`
	Blocked    bool         `json:"blocked"`
	Rule       string       `json:"rule,omitempty"`
}

// Runner executes active strategies on a periodic task, enforcing the
// per-fund risk guards. All fund P&L reads flow through it.
type Runner struct {
	cfg     RunnerConfig
	store   *repo.Store
	engine  *engine.Engine
	sandbox *Sandbox
	log     zerolog.Logger

	mu           sync.Mutex
	positions    map[posKey]*bookPosition
	realized     map[int64]float64 // per strategy
	tradeCount   map[int64]int
	strategyFund map[int64]int64
	states       map[int64]*State
	drawdown     map[int64]*ddTrack // per fund
	activity     []ActivityEntry
	hydrated     bool
}

// NewRunner creates a runner. Call Hydrate (or let the first Run do it)
// before serving reads.
func NewRunner(store *repo.Store, eng *engine.Engine, cfg RunnerConfig, log zerolog.Logger) *Runner {
	return &Runner{
		cfg:          cfg,
		store:        store,
		engine:       eng,
		sandbox:      NewSandbox(cfg.SandboxBudget, log),
		log:          logger.Component(log, "strategy_runner"),
		positions:    make(map[posKey]*bookPosition),
		realized:     make(map[int64]float64),
		tradeCount:   make(map[int64]int),
		strategyFund: make(map[int64]int64),
		states:       make(map[int64]*State),
		drawdown:     make(map[int64]*ddTrack),
	}
}

// Name identifies the periodic task.
func (r *Runner) Name() string { return "strategy-runner" }

// Run executes one pass over the active strategies. Skips entirely while
// the store is down and resumes when it recovers.
func (r *Runner) Run() error {
	if !r.store.Healthy() {
		return fmt.Errorf("strategy pass skipped: %w", domain.ErrStorageUnavailable)
	}
	if err := r.ensureHydrated(); err != nil {
		return err
	}

	active, err := r.store.Strategies.GetActive()
	if err != nil {
		return err
	}
	for i := range active {
		st := &active[i]
		if err := r.runOne(st); err != nil {
			r.log.Error().Err(err).Int64("strategy_id", st.ID).Msg("Strategy evaluation failed")
		}
	}
	return nil
}

// Hydrate replays the persisted strategy-trade ledger to rebuild in-memory
// positions, realized P&L and trade counts, then restores saved states.
func (r *Runner) Hydrate() error {
	trades, err := r.store.Strategies.GetAllStrategyTradesChronological()
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.positions = make(map[posKey]*bookPosition)
	r.realized = make(map[int64]float64)
	r.tradeCount = make(map[int64]int)
	for i := range trades {
		r.applyTradeLocked(&trades[i])
	}
	r.hydrated = true
	r.mu.Unlock()

	active, err := r.store.Strategies.GetActive()
	if err != nil {
		return err
	}
	for i := range active {
		st := &active[i]
		var state State
		found, err := r.store.Strategies.LoadState(st.ID, &state)
		if err != nil {
			r.log.Warn().Err(err).Int64("strategy_id", st.ID).Msg("Saved strategy state unreadable, starting fresh")
			continue
		}
		if found {
			r.mu.Lock()
			r.states[st.ID] = &state
			r.mu.Unlock()
		}
	}

	r.log.Info().Int("trades_replayed", len(trades)).Msg("Strategy runner hydrated")
	return nil
}

func (r *Runner) ensureHydrated() error {
	r.mu.Lock()
	done := r.hydrated
	r.mu.Unlock()
	if done {
		return nil
	}
	return r.Hydrate()
}

// runOne evaluates a single strategy and executes its signal.
func (r *Runner) runOne(st *domain.Strategy) error {
	cfg, err := ParseConfig(st.Config)
	if err != nil {
		return err
	}

	var custom *domain.CustomStrategy
	if st.Type == domain.StrategyCustom {
		custom, err = r.store.Strategies.GetCustomByID(cfg.CustomStrategyID)
		if err != nil {
			return fmt.Errorf("custom source missing: %w", err)
		}
	}
	handler, err := HandlerFor(st.Type, r.sandbox, custom)
	if err != nil {
		return err
	}

	ctx, err := r.buildContext(st, cfg)
	if err != nil {
		return err
	}

	signal, err := handler.Evaluate(ctx)
	if err != nil {
		r.record(ActivityEntry{
			At: time.Now().UTC(), StrategyID: st.ID, FundID: st.FundID,
			Symbol: cfg.Symbol, Action: SignalHold,
			Reason: err.Error(), Blocked: true, Rule: "handler_error",
		})
		return nil
	}

	r.persistState(st.ID)

	if signal.Action == SignalHold {
		r.log.Debug().Int64("strategy_id", st.ID).Str("reason", signal.Reason).Msg("Hold")
		return nil
	}
	return r.executeSignal(st, cfg, signal)
}

func (r *Runner) buildContext(st *domain.Strategy, cfg Config) (*EvalContext, error) {
	closesFor := func(symbol string) []float64 {
		candles, err := r.store.Candles.GetBySymbol(symbol, cfg.Interval, candleHistory)
		if err != nil {
			r.log.Warn().Err(err).Str("ticker", symbol).Msg("Candle history unavailable")
			return nil
		}
		closes := make([]float64, len(candles))
		for i, c := range candles {
			closes[i] = c.Close
		}
		return closes
	}
	priceFor := func(symbol string) float64 {
		if tick, ok := r.engine.Quote(symbol); ok {
			return tick.Price
		}
		return 0
	}

	r.mu.Lock()
	state := r.states[st.ID]
	if state == nil {
		state = &State{}
		r.states[st.ID] = state
	}
	r.mu.Unlock()

	return &EvalContext{
		Config:    cfg,
		State:     state,
		Closes:    closesFor(cfg.Symbol),
		Price:     priceFor(cfg.Symbol),
		ClosesFor: closesFor,
		PriceFor:  priceFor,
	}, nil
}

// executeSignal sizes, risk-checks and books a non-hold signal into the
// fund-internal ledger.
func (r *Runner) executeSignal(st *domain.Strategy, cfg Config, signal Signal) error {
	price := 0.0
	if tick, ok := r.engine.Quote(signal.Symbol); ok {
		price = tick.Price
	}
	if price <= 0 {
		return fmt.Errorf("no price for %s", signal.Symbol)
	}

	capital, _, err := r.store.Capital.NetCapital(st.FundID)
	if err != nil {
		return err
	}
	equity := capital + r.FundPnL(st.FundID)

	target := cfg.FixedNotionalUsd
	if target <= 0 {
		target = cfg.AllocationPct / 100 * equity
	}
	qty := math.Floor(target / price)
	if qty < 1 {
		qty = 1
	}

	if blocked, rule, msg := r.checkGuards(st, signal, qty, price, capital, equity); blocked {
		r.blockSignal(st, signal, qty, price, rule, msg)
		return nil
	}

	inst, ok := r.engine.Instrument(signal.Symbol)
	if !ok {
		return fmt.Errorf("unknown instrument %s: %w", signal.Symbol, domain.ErrNotFound)
	}
	tick, _ := r.engine.Quote(signal.Symbol)
	bd := execution.Estimate(inst, execution.Input{
		Side:     sideFor(signal.Action),
		Qty:      qty,
		RefPrice: price,
		Mid:      price,
		Vol:      tick.Volatility,
		Regime:   r.engine.RegimeParams(),
	})

	trade := &domain.StrategyTrade{
		StrategyID: st.ID,
		FundID:     st.FundID,
		Symbol:     signal.Symbol,
		Side:       sideFor(signal.Action),
		Qty:        qty,
		Price:      bd.FillPrice,
		Commission: bd.Commission,
		Reason:     signal.Reason,
		ExecutedAt: time.Now().UTC(),
	}
	if err := r.store.Strategies.InsertStrategyTrade(trade); err != nil {
		return err
	}

	r.mu.Lock()
	r.applyTradeLocked(trade)
	r.mu.Unlock()

	r.record(ActivityEntry{
		At: trade.ExecutedAt, StrategyID: st.ID, FundID: st.FundID,
		Symbol: signal.Symbol, Action: signal.Action, Reason: signal.Reason,
	})
	r.log.Info().
		Int64("strategy_id", st.ID).
		Str("ticker", signal.Symbol).
		Str("action", string(signal.Action)).
		Float64("qty", qty).
		Float64("price", bd.FillPrice).
		Msg("Strategy trade booked")
	return nil
}

// checkGuards evaluates the risk rules against the projected post-trade
// exposures.
func (r *Runner) checkGuards(st *domain.Strategy, signal Signal, qty, price, capital, equity float64) (bool, string, string) {
	settings, err := r.store.Risk.Get(st.FundID)
	if err != nil || !settings.Enabled {
		return false, "", ""
	}
	delta := qty * price
	if signal.Action == SignalSell {
		delta = -delta
	}

	r.mu.Lock()
	symbolExposure := 0.0
	strategyExposure := 0.0
	for key, pos := range r.positions {
		if pos.FundID != st.FundID {
			continue
		}
		v := pos.Qty * r.markPrice(key.Symbol, pos.AvgCost)
		if key.Symbol == signal.Symbol {
			symbolExposure += v
		}
		if key.StrategyID == st.ID {
			strategyExposure += math.Abs(v)
		}
	}
	r.mu.Unlock()

	if capital > 0 {
		if math.Abs(symbolExposure+delta) > settings.MaxPositionPct/100*capital {
			return true, "max_position_pct", fmt.Sprintf(
				"projected %s exposure %.2f exceeds %.1f%% of capital %.2f",
				signal.Symbol, math.Abs(symbolExposure+delta), settings.MaxPositionPct, capital)
		}
		if strategyExposure+math.Abs(delta) > settings.MaxStrategyPct/100*capital {
			return true, "max_strategy_allocation_pct", fmt.Sprintf(
				"projected strategy exposure %.2f exceeds %.1f%% of capital %.2f",
				strategyExposure+math.Abs(delta), settings.MaxStrategyPct, capital)
		}
	}

	if dd := r.updateDrawdown(st.FundID, equity); dd > settings.MaxDailyDrawdownPct {
		return true, "max_daily_drawdown_pct", fmt.Sprintf(
			"daily drawdown %.2f%% exceeds limit %.1f%%", dd, settings.MaxDailyDrawdownPct)
	}
	return false, "", ""
}

// updateDrawdown tracks the fund's intraday equity peak and returns the
// current drawdown percent. Resets at UTC midnight.
func (r *Runner) updateDrawdown(fundID int64, equity float64) float64 {
	now := time.Now().UTC()
	day := now.Year()*10000 + int(now.Month())*100 + now.Day()

	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.drawdown[fundID]
	if t == nil || t.day != day {
		t = &ddTrack{day: day, peak: equity}
		r.drawdown[fundID] = t
	}
	if equity > t.peak {
		t.peak = equity
	}
	if t.peak <= 0 {
		return 0
	}
	return (t.peak - equity) / t.peak * 100
}

func (r *Runner) blockSignal(st *domain.Strategy, signal Signal, qty, price float64, rule, msg string) {
	attempted, _ := json.Marshal(map[string]interface{}{
		"ticker": signal.Symbol, "side": signal.Action, "qty": qty, "price": price,
	})
	context, _ := json.Marshal(signal.Data)
	breach := &domain.RiskBreach{
		FundID:     st.FundID,
		StrategyID: st.ID,
		Rule:       rule,
		Severity:   "warning",
		Message:    msg,
		Context:    string(context),
		Attempted:  string(attempted),
	}
	if err := r.store.Risk.InsertBreach(breach); err != nil {
		r.log.Error().Err(err).Msg("Failed to persist risk breach")
	}
	r.record(ActivityEntry{
		At: time.Now().UTC(), StrategyID: st.ID, FundID: st.FundID,
		Symbol: signal.Symbol, Action: signal.Action, Reason: msg,
		Blocked: true, Rule: rule,
	})
	r.log.Warn().Int64("strategy_id", st.ID).Str("rule", rule).Msg("Signal blocked by risk guard")
}

// applyTradeLocked folds one ledger row into the in-memory book using the
// same weighted-average and proportional-close rules as the user matcher.
func (r *Runner) applyTradeLocked(t *domain.StrategyTrade) {
	key := posKey{StrategyID: t.StrategyID, Symbol: t.Symbol}
	pos := r.positions[key]
	if pos == nil {
		pos = &bookPosition{FundID: t.FundID}
		r.positions[key] = pos
	}

	d := t.Qty
	if t.Side == domain.SideSell {
		d = -t.Qty
	}
	held, avg := pos.Qty, pos.AvgCost
	newQty := held + d

	switch {
	case held == 0 || (held > 0) == (d > 0):
		pos.AvgCost = (math.Abs(held)*avg + math.Abs(d)*t.Price) / (math.Abs(held) + math.Abs(d))
	default:
		closeQty := math.Min(math.Abs(d), math.Abs(held))
		if held > 0 {
			r.realized[t.StrategyID] += (t.Price - avg) * closeQty
		} else {
			r.realized[t.StrategyID] += (avg - t.Price) * closeQty
		}
		if math.Abs(d) > math.Abs(held) {
			pos.AvgCost = t.Price
		}
	}
	pos.Qty = newQty
	if newQty == 0 {
		delete(r.positions, key)
	}
	r.realized[t.StrategyID] -= t.Commission
	r.tradeCount[t.StrategyID]++
	r.strategyFund[t.StrategyID] = t.FundID
}

func (r *Runner) markPrice(symbol string, fallback float64) float64 {
	if tick, ok := r.engine.Quote(symbol); ok && tick.Price > 0 {
		return tick.Price
	}
	return fallback
}

// FundPnL returns realized plus mark-to-market P&L across a fund's
// strategies. The NAV ledger consumes this as pnl_now.
func (r *Runner) FundPnL(fundID int64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	pnl := 0.0
	for id, v := range r.realized {
		if r.strategyFund[id] == fundID {
			pnl += v
		}
	}
	for key, pos := range r.positions {
		if pos.FundID != fundID {
			continue
		}
		mark := r.markPrice(key.Symbol, pos.AvgCost)
		if pos.Qty > 0 {
			pnl += (mark - pos.AvgCost) * pos.Qty
		} else {
			pnl += (pos.AvgCost - mark) * -pos.Qty
		}
	}
	return pnl
}

// StrategyPnL returns one strategy's realized P&L and trade count.
func (r *Runner) StrategyPnL(strategyID int64) (realized float64, trades int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.realized[strategyID], r.tradeCount[strategyID]
}

// Activity returns the most recent dashboard entries for a fund (fundID 0
// means all), newest first.
func (r *Runner) Activity(fundID int64, limit int) []ActivityEntry {
	if limit <= 0 {
		limit = 50
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ActivityEntry, 0, limit)
	for i := len(r.activity) - 1; i >= 0 && len(out) < limit; i-- {
		e := r.activity[i]
		if fundID != 0 && e.FundID != fundID {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (r *Runner) record(e ActivityEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activity = append(r.activity, e)
	if len(r.activity) > activityCap {
		r.activity = r.activity[len(r.activity)-activityCap:]
	}
}

func (r *Runner) persistState(strategyID int64) {
	r.mu.Lock()
	state := r.states[strategyID]
	r.mu.Unlock()
	if state == nil {
		return
	}
	if err := r.store.Strategies.SaveState(strategyID, state); err != nil {
		r.log.Warn().Err(err).Int64("strategy_id", strategyID).Msg("Failed to persist strategy state")
	}
}

func sideFor(action SignalAction) domain.OrderSide {
	if action == SignalSell {
		return domain.SideSell
	}
	return domain.SideBuy
}

// StartStrategy activates a strategy after the deploy gate passes.
func (r *Runner) StartStrategy(st *domain.Strategy) error {
	if err := r.CheckDeployGate(st); err != nil {
		return err
	}
	return r.store.Strategies.SetActive(st.ID, true)
}

// StopStrategy deactivates a strategy. Idempotent.
func (r *Runner) StopStrategy(st *domain.Strategy) error {
	return r.store.Strategies.SetActive(st.ID, false)
}

// CheckDeployGate enforces backtest gating for typed strategies: the
// latest backtest must exist, have passed, and match the current config
// hash. Custom strategies are exercised through their test endpoint
// instead.
func (r *Runner) CheckDeployGate(st *domain.Strategy) error {
	if st.Type == domain.StrategyCustom {
		return nil
	}
	latest, err := r.store.Strategies.GetLatestBacktest(st.ID)
	if err != nil {
		return fmt.Errorf("no backtest on record: %w", domain.ErrDeployGate)
	}
	if !latest.Passed {
		return fmt.Errorf("latest backtest failed its thresholds: %w", domain.ErrDeployGate)
	}
	hash, err := ConfigHash(st.Config)
	if err != nil {
		return err
	}
	if hash != latest.ConfigHash {
		return fmt.Errorf("config changed since last passing backtest: %w", domain.ErrDeployGate)
	}
	return nil
}
