package strategies

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog"

	"github.com/simdesk/simdesk/internal/domain"
	"github.com/simdesk/simdesk/pkg/logger"
)

// Sandbox evaluates user-written strategy expressions with no I/O and a
// hard wall-clock budget. Failures never propagate past the runner; they
// become blocked signals.
type Sandbox struct {
	budget time.Duration
	log    zerolog.Logger

	mu chan struct{} // limits concurrent evaluations to one

	cacheMu sync.Mutex
	cache   map[int64]*compiled
}

type compiled struct {
	program   *vm.Program
	updatedAt time.Time
}

// NewSandbox creates a sandbox with the given per-evaluation budget.
func NewSandbox(budget time.Duration, log zerolog.Logger) *Sandbox {
	if budget <= 0 {
		budget = 250 * time.Millisecond
	}
	s := &Sandbox{
		budget: budget,
		log:    logger.Component(log, "sandbox"),
		mu:     make(chan struct{}, 1),
		cache:  make(map[int64]*compiled),
	}
	s.mu <- struct{}{}
	return s
}

// customHandler adapts one custom strategy source to the Handler interface.
type customHandler struct {
	sandbox *Sandbox
	source  *domain.CustomStrategy
}

func (h *customHandler) Evaluate(ctx *EvalContext) (Signal, error) {
	return h.sandbox.Evaluate(h.source, ctx)
}

// Evaluate runs the source against the exposed environment. The expression
// returns either a verdict string or a map with signal/reason keys.
func (s *Sandbox) Evaluate(cs *domain.CustomStrategy, ctx *EvalContext) (Signal, error) {
	program, err := s.compile(cs)
	if err != nil {
		return Signal{}, fmt.Errorf("compile failed: %w", err)
	}

	if ctx.State.Custom == nil {
		ctx.State.Custom = make(map[string]interface{})
	}
	params := cs.Parameters
	if params == nil {
		params = map[string]float64{}
	}

	env := map[string]interface{}{
		"prices":  ctx.Closes,
		"candles": ctx.Closes, // alias kept for older sources
		"price":   ctx.Price,
		"getPrice": func(symbol string) float64 {
			if ctx.PriceFor == nil {
				return 0
			}
			return ctx.PriceFor(symbol)
		},
		"state":      ctx.State.Custom,
		"parameters": params,
		"log": func(msg string) bool {
			s.log.Debug().Int64("custom_strategy_id", cs.ID).Str("msg", msg).Msg("Sandbox log")
			return true
		},
	}

	out, err := s.runBounded(program, env)
	if err != nil {
		return Signal{}, err
	}
	return interpret(out, ctx.Config.Symbol)
}

// runBounded enforces the wall-clock budget. A runaway expression leaks
// its goroutine but cannot stall the runner.
func (s *Sandbox) runBounded(program *vm.Program, env map[string]interface{}) (interface{}, error) {
	select {
	case <-s.mu:
	case <-time.After(s.budget):
		return nil, fmt.Errorf("sandbox busy past budget")
	}

	type result struct {
		out interface{}
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("sandbox panic: %v", p)}
			}
			s.mu <- struct{}{}
		}()
		out, err := expr.Run(program, env)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-time.After(s.budget):
		return nil, fmt.Errorf("evaluation exceeded %s budget", s.budget)
	}
}

// compile returns the cached program unless the source changed since it
// was built. Callers run concurrently (runner, backtester, HTTP test
// endpoint share one sandbox), so the cache has its own lock.
func (s *Sandbox) compile(cs *domain.CustomStrategy) (*vm.Program, error) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if c, ok := s.cache[cs.ID]; ok && !c.updatedAt.Before(cs.UpdatedAt) {
		return c.program, nil
	}
	program, err := expr.Compile(cs.Source, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	s.cache[cs.ID] = &compiled{program: program, updatedAt: cs.UpdatedAt}
	return program, nil
}

// interpret maps an expression result onto a Signal.
func interpret(out interface{}, symbol string) (Signal, error) {
	switch v := out.(type) {
	case string:
		return signalFromAction(v, symbol, "")
	case map[string]interface{}:
		action, _ := v["signal"].(string)
		reason, _ := v["reason"].(string)
		sig, err := signalFromAction(action, symbol, reason)
		if err != nil {
			return Signal{}, err
		}
		if t, ok := v["ticker"].(string); ok && t != "" {
			sig.Symbol = t
		}
		return sig, nil
	case nil:
		return hold(symbol, "no verdict"), nil
	default:
		return Signal{}, fmt.Errorf("unsupported result type %T", out)
	}
}

func signalFromAction(action, symbol, reason string) (Signal, error) {
	switch SignalAction(strings.ToLower(strings.TrimSpace(action))) {
	case SignalBuy:
		return Signal{Action: SignalBuy, Symbol: symbol, Reason: reason}, nil
	case SignalSell:
		return Signal{Action: SignalSell, Symbol: symbol, Reason: reason}, nil
	case SignalHold, "":
		return hold(symbol, reason), nil
	default:
		return Signal{}, fmt.Errorf("unknown signal %q", action)
	}
}
