// Package strategies contains the typed strategy handlers, the periodic
// runner with its risk guards, the custom-strategy sandbox and the
// backtester with its deploy gate.
package strategies

import (
	"encoding/json"
	"fmt"

	"github.com/simdesk/simdesk/internal/domain"
)

// SignalAction is a handler's verdict for one evaluation.
type SignalAction string

const (
	SignalBuy  SignalAction = "buy"
	SignalSell SignalAction = "sell"
	SignalHold SignalAction = "hold"
)

// Signal is what a handler returns. Data carries handler-specific
// diagnostics for the activity log.
type Signal struct {
	Action SignalAction       `json:"signal"`
	Symbol string             `json:"ticker"`
	Reason string             `json:"reason"`
	Data   map[string]float64 `json:"data,omitempty"`
}

func hold(symbol, reason string) Signal {
	return Signal{Action: SignalHold, Symbol: symbol, Reason: reason}
}

// Config is the parsed strategy configuration. Fields are a superset; each
// handler reads the ones it understands.
type Config struct {
	Symbol   string `json:"ticker"`
	Interval string `json:"interval,omitempty"`

	// Mean reversion / pairs
	Period int     `json:"period,omitempty"`
	StdDevs float64 `json:"stdDevs,omitempty"`

	// Momentum
	Lookback int `json:"lookback,omitempty"`

	// Grid
	SpacingPct          float64 `json:"spacingPct,omitempty"`
	Levels              int     `json:"levels,omitempty"`
	RecenterThresholdPct float64 `json:"recenterThresholdPct,omitempty"`

	// Pairs
	SymbolA string `json:"tickerA,omitempty"`
	SymbolB string `json:"tickerB,omitempty"`

	// Sizing
	FixedNotionalUsd float64 `json:"fixedNotionalUsd,omitempty"`
	AllocationPct    float64 `json:"allocationPct,omitempty"`

	// Backtest
	BacktestBars int `json:"backtestBars,omitempty"`

	// Custom
	CustomStrategyID int64 `json:"customStrategyId,omitempty"`
}

// ParseConfig decodes and defaults a strategy's config blob.
func ParseConfig(raw json.RawMessage) (Config, error) {
	var cfg Config
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("malformed strategy config: %w", domain.ErrInvalid)
		}
	}
	if cfg.Interval == "" {
		cfg.Interval = "1m"
	}
	if cfg.Period <= 0 {
		cfg.Period = 20
	}
	if cfg.StdDevs <= 0 {
		cfg.StdDevs = 2
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 10
	}
	if cfg.SpacingPct <= 0 {
		cfg.SpacingPct = 1
	}
	if cfg.Levels <= 0 {
		cfg.Levels = 5
	}
	if cfg.RecenterThresholdPct <= 0 {
		cfg.RecenterThresholdPct = 5
	}
	if cfg.AllocationPct <= 0 {
		cfg.AllocationPct = 10
	}
	return cfg, nil
}

// GridState is the per (fund, symbol) grid bookkeeping, persisted between
// runs.
type GridState struct {
	Center     float64      `msgpack:"center"`
	ActiveBuy  map[int]bool `msgpack:"active_buy"`
	ActiveSell map[int]bool `msgpack:"active_sell"`
}

// PairsState tracks which leg of the pair is on. Direction: +1 long-A,
// -1 short-A, 0 flat.
type PairsState struct {
	Direction int `msgpack:"direction"`
}

// State is the runner's per-strategy working memory, serialised with
// msgpack between restarts.
type State struct {
	PrevMomentum    float64                `msgpack:"prev_momentum"`
	HasPrevMomentum bool                   `msgpack:"has_prev_momentum"`
	Grid            *GridState             `msgpack:"grid,omitempty"`
	Pairs           *PairsState            `msgpack:"pairs,omitempty"`
	Custom          map[string]interface{} `msgpack:"custom,omitempty"`
}

// EvalContext is everything a handler may consult for one evaluation.
type EvalContext struct {
	Config Config
	State  *State

	// Closes are chronological closing prices for Config.Symbol.
	Closes []float64
	// Price is the latest live price for Config.Symbol.
	Price float64

	// ClosesFor and PriceFor serve multi-leg handlers.
	ClosesFor func(symbol string) []float64
	PriceFor  func(symbol string) float64
}

// Handler evaluates one strategy variant.
type Handler interface {
	Evaluate(ctx *EvalContext) (Signal, error)
}

// HandlerFor returns the handler for a strategy type.
func HandlerFor(strategyType string, sandbox *Sandbox, custom *domain.CustomStrategy) (Handler, error) {
	switch strategyType {
	case domain.StrategyMeanReversion:
		return meanReversionHandler{}, nil
	case domain.StrategyMomentum:
		return momentumHandler{}, nil
	case domain.StrategyGrid:
		return gridHandler{}, nil
	case domain.StrategyPairs:
		return pairsHandler{}, nil
	case domain.StrategyCustom:
		if sandbox == nil || custom == nil {
			return nil, fmt.Errorf("custom strategy requires a sandbox and source: %w", domain.ErrInvalid)
		}
		return &customHandler{sandbox: sandbox, source: custom}, nil
	default:
		return nil, fmt.Errorf("unknown strategy type %q: %w", strategyType, domain.ErrInvalid)
	}
}
