package matcher

import (
	"fmt"

	"github.com/simdesk/simdesk/internal/domain"
	"github.com/simdesk/simdesk/internal/events"
	"github.com/simdesk/simdesk/internal/orderbook"
)

// Orderbook builds the public depth snapshot for one symbol with the
// symbol's open user limits folded in.
func (m *Matcher) Orderbook(symbol string) (orderbook.Snapshot, error) {
	tick, ok := m.engine.Quote(symbol)
	if !ok {
		return orderbook.Snapshot{}, fmt.Errorf("unknown ticker %q: %w", symbol, domain.ErrNotFound)
	}
	inst, ok := m.engine.Instrument(symbol)
	if !ok {
		return orderbook.Snapshot{}, fmt.Errorf("unknown ticker %q: %w", symbol, domain.ErrNotFound)
	}

	limits, err := m.store.Orders.GetOpenByTicker(symbol)
	if err != nil {
		return orderbook.Snapshot{}, err
	}
	return m.books.Build(inst, tick, limits), nil
}

// BookBroadcast is the periodic task that pushes fresh order books to the
// hub for every instrument.
type BookBroadcast struct {
	matcher *Matcher
	bus     *events.Bus
}

func NewBookBroadcast(m *Matcher, bus *events.Bus) *BookBroadcast {
	return &BookBroadcast{matcher: m, bus: bus}
}

func (b *BookBroadcast) Name() string { return "orderbook-broadcast" }

func (b *BookBroadcast) Run() error {
	for _, inst := range b.matcher.engine.Instruments() {
		snap, err := b.matcher.Orderbook(inst.Symbol)
		if err != nil {
			continue
		}
		b.bus.Emit(&events.OrderbookData{Symbol: inst.Symbol, Snapshot: snap})
	}
	return nil
}
