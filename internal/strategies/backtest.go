package strategies

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/simdesk/simdesk/internal/domain"
	"github.com/simdesk/simdesk/internal/engine"
	"github.com/simdesk/simdesk/internal/execution"
	"github.com/simdesk/simdesk/internal/repo"
	"github.com/simdesk/simdesk/pkg/formulas"
	"github.com/simdesk/simdesk/pkg/logger"
)

const (
	backtestMinBars   = 100
	backtestMaxBars   = 2000
	backtestDefBars   = 500
	backtestEquity    = 100_000.0
	barsPerTradingDay = 390 // 1m bars, annualised below
)

// Thresholds are the pass criteria a backtest is judged against.
type Thresholds struct {
	MinTrades      int     `json:"minTrades"`
	MinNetReturn   float64 `json:"minNetReturn"`   // fraction, may be negative
	MaxDrawdown    float64 `json:"maxDrawdown"`    // fraction
	MinWinRate     float64 `json:"minWinRate"`     // fraction
	MinSharpeRatio float64 `json:"minSharpeRatio"`
}

// Metrics summarises one backtest run.
type Metrics struct {
	Trades      int     `json:"trades"`
	NetReturn   float64 `json:"netReturn"`
	MaxDrawdown float64 `json:"maxDrawdown"`
	WinRate     float64 `json:"winRate"`
	AvgWin      float64 `json:"avgWin"`
	AvgLoss     float64 `json:"avgLoss"`
	Sharpe      float64 `json:"sharpe"`
	Bars        int     `json:"bars"`
	FinalEquity float64 `json:"finalEquity"`
}

// DefaultThresholds returns the per-type pass criteria. Momentum and grid
// trade more often so they carry a higher trade floor.
func DefaultThresholds(strategyType string) Thresholds {
	t := Thresholds{
		MinTrades:      2,
		MinNetReturn:   -0.05,
		MaxDrawdown:    0.30,
		MinWinRate:     0.30,
		MinSharpeRatio: -0.5,
	}
	switch strategyType {
	case domain.StrategyGrid, domain.StrategyMomentum:
		t.MinTrades = 4
	}
	return t
}

// Backtester replays strategies over stored candles through the same
// handlers the live runner uses.
type Backtester struct {
	store   *repo.Store
	engine  *engine.Engine
	sandbox *Sandbox
	log     zerolog.Logger
}

func NewBacktester(store *repo.Store, eng *engine.Engine, sandbox *Sandbox, log zerolog.Logger) *Backtester {
	return &Backtester{
		store:   store,
		engine:  eng,
		sandbox: sandbox,
		log:     logger.Component(log, "backtester"),
	}
}

// Run replays the strategy, persists the result row and returns it.
// Override is optional per-call thresholds; nil uses the type defaults.
func (b *Backtester) Run(st *domain.Strategy, override *Thresholds) (*domain.BacktestResult, error) {
	cfg, err := ParseConfig(st.Config)
	if err != nil {
		return nil, err
	}
	bars := cfg.BacktestBars
	if bars <= 0 {
		bars = backtestDefBars
	}
	if bars < backtestMinBars {
		bars = backtestMinBars
	}
	if bars > backtestMaxBars {
		bars = backtestMaxBars
	}

	var custom *domain.CustomStrategy
	if st.Type == domain.StrategyCustom {
		custom, err = b.store.Strategies.GetCustomByID(cfg.CustomStrategyID)
		if err != nil {
			return nil, fmt.Errorf("custom source missing: %w", err)
		}
	}
	handler, err := HandlerFor(st.Type, b.sandbox, custom)
	if err != nil {
		return nil, err
	}

	candles, err := b.store.Candles.GetBySymbol(cfg.Symbol, cfg.Interval, bars)
	if err != nil {
		return nil, err
	}
	if len(candles) < backtestMinBars {
		return nil, fmt.Errorf("only %d candles available, need %d: %w",
			len(candles), backtestMinBars, domain.ErrInvalid)
	}

	metrics := b.replay(st, cfg, handler, candles)

	thresholds := DefaultThresholds(st.Type)
	if override != nil {
		thresholds = *override
	}
	passed, notes := judge(metrics, thresholds)

	hash, err := ConfigHash(st.Config)
	if err != nil {
		return nil, err
	}
	metricsJSON, _ := json.Marshal(metrics)
	thresholdsJSON, _ := json.Marshal(thresholds)
	result := &domain.BacktestResult{
		StrategyID: st.ID,
		FundID:     st.FundID,
		ConfigHash: hash,
		Metrics:    metricsJSON,
		Thresholds: thresholdsJSON,
		Passed:     passed,
		Notes:      notes,
		RanAt:      time.Now().UTC(),
	}
	if err := b.store.Strategies.InsertBacktest(result); err != nil {
		return nil, err
	}
	b.log.Info().
		Int64("strategy_id", st.ID).
		Bool("passed", passed).
		Int("trades", metrics.Trades).
		Float64("net_return", metrics.NetReturn).
		Msg("Backtest complete")
	return result, nil
}

// RunMany backtests several strategies concurrently.
func (b *Backtester) RunMany(ctx context.Context, ids []int64) ([]*domain.BacktestResult, error) {
	results := make([]*domain.BacktestResult, len(ids))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			st, err := b.store.Strategies.GetByID(id)
			if err != nil {
				return err
			}
			res, err := b.Run(st, nil)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// replay walks the candle history through the handler with a fresh state,
// booking fills at close-of-bar with the live execution-cost model under
// normal-regime parameters.
func (b *Backtester) replay(st *domain.Strategy, cfg Config, handler Handler, candles []domain.Candle) Metrics {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	inst, haveInst := b.engine.Instrument(cfg.Symbol)
	normal := domain.RegimeParams{Liquidity: 1, Vol: 1, Borrow: 1}

	state := &State{}
	cash := backtestEquity
	qty := 0.0
	avg := 0.0
	trades := 0
	var roundtrips []float64
	equity := make([]float64, 0, len(candles))
	returns := make([]float64, 0, len(candles))
	prevEquity := backtestEquity

	warmup := cfg.Period
	if cfg.Lookback > warmup {
		warmup = cfg.Lookback
	}

	for i := 0; i < len(candles); i++ {
		price := closes[i]
		ctx := &EvalContext{
			Config: cfg,
			State:  state,
			Closes: closes[:i+1],
			Price:  price,
			ClosesFor: func(string) []float64 { return closes[:i+1] },
			PriceFor:  func(string) float64 { return price },
		}

		if i >= warmup {
			signal, err := handler.Evaluate(ctx)
			if err == nil && signal.Action != SignalHold {
				target := cfg.FixedNotionalUsd
				if target <= 0 {
					target = cfg.AllocationPct / 100 * backtestEquity
				}
				tradeQty := math.Floor(target / price)
				if tradeQty < 1 {
					tradeQty = 1
				}

				commission := 0.0
				fill := price
				if haveInst {
					bd := execution.Estimate(inst, execution.Input{
						Side:     sideFor(signal.Action),
						Qty:      tradeQty,
						RefPrice: price,
						Mid:      price,
						Regime:   normal,
					})
					commission = bd.Commission
					fill = bd.FillPrice
				}

				d := tradeQty
				if signal.Action == SignalSell {
					d = -tradeQty
				}
				switch {
				case qty == 0 || (qty > 0) == (d > 0):
					avg = (math.Abs(qty)*avg + math.Abs(d)*fill) / (math.Abs(qty) + math.Abs(d))
				default:
					closeQty := math.Min(math.Abs(d), math.Abs(qty))
					pnl := (fill - avg) * closeQty
					if qty < 0 {
						pnl = (avg - fill) * closeQty
					}
					roundtrips = append(roundtrips, pnl-commission)
					if math.Abs(d) > math.Abs(qty) {
						avg = fill
					}
				}
				cash -= d*fill + commission
				qty += d
				trades++
			}
		}

		eq := cash + qty*price
		equity = append(equity, eq)
		if prevEquity > 0 {
			returns = append(returns, eq/prevEquity-1)
		}
		prevEquity = eq
	}

	final := equity[len(equity)-1]
	wins, losses := 0, 0
	sumWin, sumLoss := 0.0, 0.0
	for _, p := range roundtrips {
		if p > 0 {
			wins++
			sumWin += p
		} else {
			losses++
			sumLoss += p
		}
	}

	m := Metrics{
		Trades:      trades,
		NetReturn:   final/backtestEquity - 1,
		MaxDrawdown: formulas.MaxDrawdown(equity),
		Sharpe:      formulas.SharpeLike(returns, barsPerTradingDay*252),
		Bars:        len(candles),
		FinalEquity: final,
	}
	if n := len(roundtrips); n > 0 {
		m.WinRate = float64(wins) / float64(n)
	}
	if wins > 0 {
		m.AvgWin = sumWin / float64(wins)
	}
	if losses > 0 {
		m.AvgLoss = sumLoss / float64(losses)
	}
	return m
}

// judge compares metrics to thresholds and explains every miss.
func judge(m Metrics, t Thresholds) (bool, string) {
	var misses []string
	if m.Trades < t.MinTrades {
		misses = append(misses, fmt.Sprintf("trades %d < %d", m.Trades, t.MinTrades))
	}
	if m.NetReturn < t.MinNetReturn {
		misses = append(misses, fmt.Sprintf("net return %.4f < %.4f", m.NetReturn, t.MinNetReturn))
	}
	if m.MaxDrawdown > t.MaxDrawdown {
		misses = append(misses, fmt.Sprintf("max drawdown %.4f > %.4f", m.MaxDrawdown, t.MaxDrawdown))
	}
	// An open-only run has no roundtrips to rate, so the win-rate check
	// only applies once something closed.
	if hasRoundtrips(m) && m.WinRate < t.MinWinRate {
		misses = append(misses, fmt.Sprintf("win rate %.2f < %.2f", m.WinRate, t.MinWinRate))
	}
	if m.Sharpe < t.MinSharpeRatio {
		misses = append(misses, fmt.Sprintf("sharpe %.2f < %.2f", m.Sharpe, t.MinSharpeRatio))
	}
	if len(misses) == 0 {
		return true, "all thresholds met"
	}
	notes := misses[0]
	for _, s := range misses[1:] {
		notes += "; " + s
	}
	return false, notes
}

func hasRoundtrips(m Metrics) bool {
	return m.WinRate != 0 || m.AvgWin != 0 || m.AvgLoss != 0
}
