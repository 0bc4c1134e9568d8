// Package events provides the in-process event bus that couples the
// market-data engine, the matcher and the broadcast hub. Components never
// hold pointers to one another; they publish and subscribe here.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/simdesk/simdesk/pkg/logger"
)

// EventType represents different event types.
type EventType string

const (
	TickBatchEmitted EventType = "TICK_BATCH_EMITTED"
	OrderFilled      EventType = "ORDER_FILLED"
	MarginCall       EventType = "MARGIN_CALL"
	NewsPublished    EventType = "NEWS_PUBLISHED"
	RegimeChanged    EventType = "REGIME_CHANGED"
	OrderbookReady   EventType = "ORDERBOOK_READY"
	StrategySignal   EventType = "STRATEGY_SIGNAL"
)

// Event carries a typed payload through the bus.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      EventData
}

// Handler receives events for a subscribed type.
type Handler func(event *Event)

// Unsubscribe removes a previously registered handler.
type Unsubscribe func()

// Bus is a synchronous fan-out bus. Handlers run on the publisher's
// goroutine, so they must be fast and non-blocking; slow consumers own
// their own queues (the hub does exactly that).
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType]map[int]Handler
	nextID   int
	log      zerolog.Logger
}

// NewBus creates a new event bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType]map[int]Handler),
		log:      logger.Component(log, "event_bus"),
	}
}

// Subscribe registers a handler for an event type and returns the handle
// that removes it. Components own their handles.
func (b *Bus) Subscribe(t EventType, h Handler) Unsubscribe {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[t] == nil {
		b.handlers[t] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.handlers[t][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[t], id)
	}
}

// Emit publishes an event to all subscribers of its type.
func (b *Bus) Emit(data EventData) {
	t := data.EventType()
	event := &Event{
		Type:      t,
		Timestamp: time.Now(),
		Data:      data,
	}

	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers[t]))
	for _, h := range b.handlers[t] {
		hs = append(hs, h)
	}
	b.mu.RUnlock()

	for _, h := range hs {
		h(event)
	}
}
