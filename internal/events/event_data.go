package events

import "github.com/simdesk/simdesk/internal/domain"

// EventData is the interface that all event payload types implement.
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// TickBatchData carries one engine pass worth of ticks.
type TickBatchData struct {
	Ticks []domain.Tick `json:"ticks"`
	Pass  uint64        `json:"pass"`
}

// EventType returns the event type for TickBatchData.
func (d *TickBatchData) EventType() EventType { return TickBatchEmitted }

// FillData is emitted after a fill's transaction has committed.
type FillData struct {
	UserID      int64            `json:"userId"`
	OrderID     string           `json:"orderId"`
	Symbol      string           `json:"ticker"`
	Side        domain.OrderSide `json:"side"`
	Qty         float64          `json:"qty"`
	Price       float64          `json:"price"`
	Commission  float64          `json:"commission"`
	SlippageBps float64          `json:"slippage_bps"`
	BorrowCost  float64          `json:"borrow_cost"`
	PnL         float64          `json:"pnl"`
	ExecutedAt  int64            `json:"executed_at"` // unix ms
}

// EventType returns the event type for FillData.
func (d *FillData) EventType() EventType { return OrderFilled }

// MarginCallData notifies a user of forced liquidation.
type MarginCallData struct {
	UserID int64   `json:"userId"`
	Symbol string  `json:"ticker"`
	Qty    float64 `json:"qty"`
	Price  float64 `json:"price"`
	PnL    float64 `json:"pnl"`
}

// EventType returns the event type for MarginCallData.
func (d *MarginCallData) EventType() EventType { return MarginCall }

// NewsData wraps a published news event.
type NewsData struct {
	Event domain.NewsEvent `json:"data"`
}

// EventType returns the event type for NewsData.
func (d *NewsData) EventType() EventType { return NewsPublished }

// RegimeChangedData reports a regime transition.
type RegimeChangedData struct {
	From domain.Regime `json:"from"`
	To   domain.Regime `json:"to"`
}

// EventType returns the event type for RegimeChangedData.
func (d *RegimeChangedData) EventType() EventType { return RegimeChanged }

// OrderbookData carries a freshly built snapshot for broadcast.
type OrderbookData struct {
	Symbol   string      `json:"ticker"`
	Snapshot interface{} `json:"data"`
}

// EventType returns the event type for OrderbookData.
func (d *OrderbookData) EventType() EventType { return OrderbookReady }
