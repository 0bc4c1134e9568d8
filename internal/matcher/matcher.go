// Package matcher scans open orders against each tick pass, books fills
// through the execution-cost model and runs the margin sweep. It couples
// to the engine only through the event bus.
package matcher

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/simdesk/simdesk/internal/domain"
	"github.com/simdesk/simdesk/internal/engine"
	"github.com/simdesk/simdesk/internal/events"
	"github.com/simdesk/simdesk/internal/orderbook"
	"github.com/simdesk/simdesk/internal/repo"
	"github.com/simdesk/simdesk/pkg/logger"
)

const (
	// Equity below this fraction of gross short notional triggers the
	// margin sweep.
	maintenanceMargin = 0.25

	// Wall-clock budget for one pass's scan.
	defaultPassBudget = 800 * time.Millisecond
)

// Config holds matcher construction parameters.
type Config struct {
	MinOrderNotional float64
	PassBudget       time.Duration
}

// Matcher is the order lifecycle service.
type Matcher struct {
	cfg    Config
	store  *repo.Store
	engine *engine.Engine
	bus    *events.Bus
	books  *orderbook.Builder
	log    zerolog.Logger

	mu    sync.RWMutex
	ticks map[string]domain.Tick // latest tick per symbol

	batchCh chan events.TickBatchData
	unsub   events.Unsubscribe
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a matcher over the store and engine.
func New(store *repo.Store, eng *engine.Engine, bus *events.Bus, cfg Config, log zerolog.Logger) *Matcher {
	if cfg.PassBudget <= 0 {
		cfg.PassBudget = defaultPassBudget
	}
	return &Matcher{
		cfg:     cfg,
		store:   store,
		engine:  eng,
		bus:     bus,
		books:   orderbook.NewBuilder(rand.NewSource(time.Now().UnixNano())),
		log:     logger.Component(log, "matcher"),
		ticks:   make(map[string]domain.Tick),
		batchCh: make(chan events.TickBatchData, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start subscribes to tick batches and launches the scan worker. The bus
// handler only hands the batch off; the engine's tick goroutine never
// blocks on matching.
func (m *Matcher) Start() {
	m.unsub = m.bus.Subscribe(events.TickBatchEmitted, func(event *events.Event) {
		batch, ok := event.Data.(*events.TickBatchData)
		if !ok {
			return
		}
		// Latest batch wins; a slow scan skips intermediate passes.
		select {
		case m.batchCh <- *batch:
		default:
			select {
			case <-m.batchCh:
			default:
			}
			select {
			case m.batchCh <- *batch:
			default:
			}
		}
	})
	go m.run()
	m.log.Info().Msg("Order matcher started")
}

// Stop detaches from the bus and terminates the worker.
func (m *Matcher) Stop() {
	if m.unsub != nil {
		m.unsub()
	}
	close(m.stopCh)
	<-m.doneCh
	m.log.Info().Msg("Order matcher stopped")
}

func (m *Matcher) run() {
	defer close(m.doneCh)
	for {
		select {
		case <-m.stopCh:
			return
		case batch := <-m.batchCh:
			m.mu.Lock()
			for _, t := range batch.Ticks {
				m.ticks[t.Symbol] = t
			}
			m.mu.Unlock()

			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.PassBudget)
			m.scanPass(ctx)
			m.marginSweep(ctx)
			cancel()
		}
	}
}

// latestTick returns the newest tick for a symbol.
func (m *Matcher) latestTick(symbol string) (domain.Tick, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.ticks[symbol]
	return t, ok
}

// scanPass evaluates every open order against the latest ticks. Storage
// outages abort the pass; the next batch retries.
func (m *Matcher) scanPass(ctx context.Context) {
	open, err := m.store.Orders.GetOpen()
	if err != nil {
		m.log.Warn().Err(err).Msg("Skipping matcher pass, open orders unavailable")
		return
	}

	for i := range open {
		if ctx.Err() != nil {
			m.log.Warn().Int("remaining", len(open)-i).Msg("Matcher pass budget exhausted")
			return
		}
		o := &open[i]
		tick, ok := m.latestTick(o.Symbol)
		if !ok {
			continue
		}
		if err := m.evaluate(o, tick); err != nil {
			m.log.Error().Err(err).Str("order_id", o.ID).Msg("Order evaluation failed")
		}
	}
}

// evaluate applies one order's trigger logic against the latest tick.
func (m *Matcher) evaluate(o *domain.Order, tick domain.Tick) error {
	switch o.Type {
	case domain.OrderMarket:
		return m.fillMarket(o, tick, o.Remaining(), "")

	case domain.OrderLimit:
		return m.tryLimit(o, tick)

	case domain.OrderStop, domain.OrderStopLoss, domain.OrderTakeProfit:
		if triggered(o, tick.Price) {
			return m.fillMarket(o, tick, o.Remaining(), "")
		}
		return nil

	case domain.OrderStopLimit:
		if triggered(o, tick.Price) {
			if err := m.store.Orders.ConvertToLimit(o.ID); err != nil {
				return err
			}
			o.Type = domain.OrderLimit
			return m.tryLimit(o, tick)
		}
		return nil

	case domain.OrderTrailingStop:
		return m.evaluateTrailing(o, tick)
	}
	return nil
}

// triggered reports whether a stop-family order's trigger price has been
// crossed.
func triggered(o *domain.Order, price float64) bool {
	if o.StopPrice == nil {
		return false
	}
	stop := *o.StopPrice
	switch o.Type {
	case domain.OrderTakeProfit:
		// Long-exit target: sell when price reaches the target; buy-side
		// take-profit covers when price falls to it.
		if o.Side == domain.SideSell {
			return price >= stop
		}
		return price <= stop
	default:
		// Stop and stop-loss: a buy stop arms above the market, a sell
		// stop below.
		if o.Side == domain.SideBuy {
			return price >= stop
		}
		return price <= stop
	}
}

// tryLimit fills a limit order when price has crossed it favourably.
// Partial fills follow the synthetic depth at the order's level.
func (m *Matcher) tryLimit(o *domain.Order, tick domain.Tick) error {
	if o.LimitPrice == nil {
		return nil
	}
	limit := *o.LimitPrice

	crossed := (o.Side == domain.SideBuy && tick.Price <= limit) ||
		(o.Side == domain.SideSell && tick.Price >= limit)
	if !crossed {
		return nil
	}

	// Reference: the better of the market and the limit.
	ref := tick.Price
	if o.Side == domain.SideBuy && limit < ref {
		ref = limit
	}
	if o.Side == domain.SideSell && limit > ref {
		ref = limit
	}

	fillQty := o.Remaining()
	inst, ok := m.engine.Instrument(o.Symbol)
	if ok {
		book := m.books.Build(inst, tick, nil)
		if depth := book.DepthAt(o.Side, limit); depth > 0 && depth < fillQty {
			fillQty = depth
		}
	}

	return m.fill(o, tick, fillQty, ref, "")
}

// evaluateTrailing maintains the watermark and converts to a market fill
// on trigger.
func (m *Matcher) evaluateTrailing(o *domain.Order, tick domain.Tick) error {
	if o.TrailPct == nil {
		return nil
	}
	pct := *o.TrailPct / 100
	mid := (tick.Bid + tick.Ask) / 2

	if o.Side == domain.SideSell {
		if o.TrailHigh == 0 || mid > o.TrailHigh {
			o.TrailHigh = mid
			if err := m.store.Orders.UpdateTrailHigh(o.ID, o.TrailHigh); err != nil {
				return err
			}
		}
		if mid <= o.TrailHigh*(1-pct) {
			return m.fillMarket(o, tick, o.Remaining(), "")
		}
		return nil
	}

	// Buy-side trailing cover tracks the low watermark.
	if o.TrailHigh == 0 || mid < o.TrailHigh {
		o.TrailHigh = mid
		if err := m.store.Orders.UpdateTrailHigh(o.ID, o.TrailHigh); err != nil {
			return err
		}
	}
	if mid >= o.TrailHigh*(1+pct) {
		return m.fillMarket(o, tick, o.Remaining(), "")
	}
	return nil
}

// fillMarket books a fill at the current touch: ask for buys, bid for sells.
func (m *Matcher) fillMarket(o *domain.Order, tick domain.Tick, qty float64, reason string) error {
	ref := tick.Ask
	if o.Side == domain.SideSell {
		ref = tick.Bid
	}
	if ref <= 0 {
		ref = tick.Price
	}
	return m.fill(o, tick, qty, ref, reason)
}
