package hub

import (
	"encoding/json"

	"github.com/simdesk/simdesk/internal/domain"
	"github.com/simdesk/simdesk/internal/events"
)

// inboundFrame is any client message; Type selects the fields that
// matter. Clients address instruments as tickers on the wire.
type inboundFrame struct {
	Type    string   `json:"type"`
	Token   string   `json:"token,omitempty"`
	Symbols []string `json:"tickers,omitempty"`
	Symbol  string   `json:"ticker,omitempty"`
}

type connectedFrame struct {
	Type string `json:"type"`
}

type authenticatedFrame struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

type authErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ticksFrame struct {
	Type string        `json:"type"`
	Data []domain.Tick `json:"data"`
}

type orderbookFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type fillFrame struct {
	Type        string           `json:"type"`
	OrderID     string           `json:"orderId"`
	Symbol      string           `json:"ticker"`
	Side        domain.OrderSide `json:"side"`
	Qty         float64          `json:"qty"`
	Price       float64          `json:"price"`
	Commission  float64          `json:"commission"`
	SlippageBps float64          `json:"slippage_bps"`
	BorrowCost  float64          `json:"borrow_cost"`
	PnL         float64          `json:"pnl"`
	ExecutedAt  int64            `json:"executed_at"`
}

type marginCallFrame struct {
	Type   string  `json:"type"`
	Symbol string  `json:"ticker"`
	Qty    float64 `json:"qty"`
	Price  float64 `json:"price"`
	PnL    float64 `json:"pnl"`
}

type newsFrame struct {
	Type string           `json:"type"`
	Data domain.NewsEvent `json:"data"`
}

type portfolioFrame struct {
	Type       string            `json:"type"`
	Cash       float64           `json:"cash"`
	Positions  []domain.Position `json:"positions"`
	OpenOrders []domain.Order    `json:"openOrders"`
}

type pongFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func mustJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Frames are plain structs; marshalling cannot fail at runtime.
		panic(err)
	}
	return b
}

func fillFrameFrom(d *events.FillData) fillFrame {
	return fillFrame{
		Type:        "fill",
		OrderID:     d.OrderID,
		Symbol:      d.Symbol,
		Side:        d.Side,
		Qty:         d.Qty,
		Price:       d.Price,
		Commission:  d.Commission,
		SlippageBps: d.SlippageBps,
		BorrowCost:  d.BorrowCost,
		PnL:         d.PnL,
		ExecutedAt:  d.ExecutedAt,
	}
}
