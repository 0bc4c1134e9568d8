package strategies

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"github.com/simdesk/simdesk/pkg/formulas"
)

// meanReversionHandler trades Bollinger-style bands around an SMA.
type meanReversionHandler struct{}

func (meanReversionHandler) Evaluate(ctx *EvalContext) (Signal, error) {
	cfg := ctx.Config
	if len(ctx.Closes) < cfg.Period {
		return hold(cfg.Symbol, "warming up"), nil
	}

	sma := talib.Sma(ctx.Closes, cfg.Period)
	sigma := talib.StdDev(ctx.Closes, cfg.Period, 1)
	mean := sma[len(sma)-1]
	dev := sigma[len(sigma)-1]
	lower := mean - cfg.StdDevs*dev
	upper := mean + cfg.StdDevs*dev

	data := map[string]float64{"sma": mean, "lower": lower, "upper": upper, "price": ctx.Price}
	switch {
	case ctx.Price < lower:
		return Signal{Action: SignalBuy, Symbol: cfg.Symbol,
			Reason: fmt.Sprintf("price %.2f below lower band %.2f", ctx.Price, lower), Data: data}, nil
	case ctx.Price > upper:
		return Signal{Action: SignalSell, Symbol: cfg.Symbol,
			Reason: fmt.Sprintf("price %.2f above upper band %.2f", ctx.Price, upper), Data: data}, nil
	}
	return hold(cfg.Symbol, "inside bands"), nil
}

// momentumHandler trades zero crossings of n-bar momentum.
type momentumHandler struct{}

func (momentumHandler) Evaluate(ctx *EvalContext) (Signal, error) {
	cfg := ctx.Config
	if len(ctx.Closes) <= cfg.Lookback {
		return hold(cfg.Symbol, "warming up"), nil
	}

	roc := talib.Roc(ctx.Closes, cfg.Lookback)
	mom := roc[len(roc)-1] / 100

	prev := ctx.State.PrevMomentum
	hadPrev := ctx.State.HasPrevMomentum
	ctx.State.PrevMomentum = mom
	ctx.State.HasPrevMomentum = true

	if !hadPrev {
		return hold(cfg.Symbol, "first observation"), nil
	}

	data := map[string]float64{"momentum": mom, "prev": prev}
	switch {
	case prev <= 0 && mom > 0:
		return Signal{Action: SignalBuy, Symbol: cfg.Symbol,
			Reason: fmt.Sprintf("momentum crossed above zero (%.4f)", mom), Data: data}, nil
	case prev >= 0 && mom < 0:
		return Signal{Action: SignalSell, Symbol: cfg.Symbol,
			Reason: fmt.Sprintf("momentum crossed below zero (%.4f)", mom), Data: data}, nil
	}
	return hold(cfg.Symbol, "no crossover"), nil
}

// gridHandler ladders buys below and sells above a recentering anchor.
type gridHandler struct{}

func (gridHandler) Evaluate(ctx *EvalContext) (Signal, error) {
	cfg := ctx.Config
	price := ctx.Price
	if price <= 0 {
		return hold(cfg.Symbol, "no price"), nil
	}

	if ctx.State.Grid == nil {
		ctx.State.Grid = &GridState{
			Center:     price,
			ActiveBuy:  make(map[int]bool),
			ActiveSell: make(map[int]bool),
		}
		return hold(cfg.Symbol, "grid centered"), nil
	}
	g := ctx.State.Grid

	if math.Abs(price-g.Center)/g.Center >= cfg.RecenterThresholdPct/100 {
		g.Center = price
		g.ActiveBuy = make(map[int]bool)
		g.ActiveSell = make(map[int]bool)
		return hold(cfg.Symbol, "grid recentered"), nil
	}

	spacing := g.Center * cfg.SpacingPct / 100
	for k := 1; k <= cfg.Levels; k++ {
		level := g.Center - float64(k)*spacing
		if price <= level && !g.ActiveBuy[k] {
			g.ActiveBuy[k] = true
			return Signal{Action: SignalBuy, Symbol: cfg.Symbol,
				Reason: fmt.Sprintf("grid buy level %d at %.2f", k, level),
				Data:   map[string]float64{"level": float64(k), "center": g.Center}}, nil
		}
	}
	for k := 1; k <= cfg.Levels; k++ {
		level := g.Center + float64(k)*spacing
		if price >= level && !g.ActiveSell[k] {
			g.ActiveSell[k] = true
			return Signal{Action: SignalSell, Symbol: cfg.Symbol,
				Reason: fmt.Sprintf("grid sell level %d at %.2f", k, level),
				Data:   map[string]float64{"level": float64(k), "center": g.Center}}, nil
		}
	}
	return hold(cfg.Symbol, "no level crossed"), nil
}

// pairsHandler trades z-score extremes of the A/B price ratio. The signal
// names leg A; the runner books the opposite leg implicitly through the
// reason text.
type pairsHandler struct{}

func (pairsHandler) Evaluate(ctx *EvalContext) (Signal, error) {
	cfg := ctx.Config
	if cfg.SymbolA == "" || cfg.SymbolB == "" {
		return hold(cfg.Symbol, "pair not configured"), nil
	}
	closesA := ctx.ClosesFor(cfg.SymbolA)
	closesB := ctx.ClosesFor(cfg.SymbolB)
	n := len(closesA)
	if len(closesB) < n {
		n = len(closesB)
	}
	if n < cfg.Period {
		return Signal{Action: SignalHold, Symbol: cfg.SymbolA, Reason: "warming up"}, nil
	}

	ratio := make([]float64, n)
	for i := 0; i < n; i++ {
		if closesB[len(closesB)-n+i] == 0 {
			return Signal{Action: SignalHold, Symbol: cfg.SymbolA, Reason: "degenerate ratio"}, nil
		}
		ratio[i] = closesA[len(closesA)-n+i] / closesB[len(closesB)-n+i]
	}

	mean := formulas.SMA(ratio, cfg.Period)
	dev := formulas.StdDev(ratio, cfg.Period)
	if math.IsNaN(mean) || math.IsNaN(dev) || dev == 0 {
		return Signal{Action: SignalHold, Symbol: cfg.SymbolA, Reason: "flat spread"}, nil
	}
	spread := ratio[len(ratio)-1]
	z := (spread - mean) / dev

	if ctx.State.Pairs == nil {
		ctx.State.Pairs = &PairsState{}
	}
	p := ctx.State.Pairs
	data := map[string]float64{"spread": spread, "mean": mean, "z": z}

	switch {
	case z < -cfg.StdDevs && p.Direction != 1:
		p.Direction = 1
		return Signal{Action: SignalBuy, Symbol: cfg.SymbolA,
			Reason: fmt.Sprintf("spread z %.2f below -%.1f, long %s short %s", z, cfg.StdDevs, cfg.SymbolA, cfg.SymbolB),
			Data:   data}, nil
	case z > cfg.StdDevs && p.Direction != -1:
		p.Direction = -1
		return Signal{Action: SignalSell, Symbol: cfg.SymbolA,
			Reason: fmt.Sprintf("spread z %.2f above %.1f, short %s long %s", z, cfg.StdDevs, cfg.SymbolA, cfg.SymbolB),
			Data:   data}, nil
	case math.Abs(z) < 0.25 && p.Direction != 0:
		dir := p.Direction
		p.Direction = 0
		action := SignalSell
		if dir == -1 {
			action = SignalBuy
		}
		return Signal{Action: action, Symbol: cfg.SymbolA,
			Reason: fmt.Sprintf("spread reverted (z %.2f), closing pair", z), Data: data}, nil
	}
	return Signal{Action: SignalHold, Symbol: cfg.SymbolA, Reason: "spread in range"}, nil
}
