package matcher

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/simdesk/simdesk/internal/domain"
	"github.com/simdesk/simdesk/internal/execution"
)

// PlaceRequest is the place-order payload.
type PlaceRequest struct {
	Symbol     string           `json:"ticker"`
	Type       domain.OrderType `json:"type"`
	Side       domain.OrderSide `json:"side"`
	Qty        float64          `json:"qty"`
	LimitPrice *float64         `json:"limitPrice,omitempty"`
	StopPrice  *float64         `json:"stopPrice,omitempty"`
	TrailPct   *float64         `json:"trailPct,omitempty"`
	OCOGroupID string           `json:"ocoId,omitempty"`
}

// PlaceOrder validates, persists and (for market orders) immediately books
// a new order. The returned breakdown is the cost estimate at the current
// touch, echoed to the client.
func (m *Matcher) PlaceOrder(userID int64, req PlaceRequest) (*domain.Order, *execution.Breakdown, error) {
	if err := validatePlace(req); err != nil {
		return nil, nil, err
	}

	tick, ok := m.engine.Quote(req.Symbol)
	if !ok {
		return nil, nil, fmt.Errorf("unknown ticker %s: %w", req.Symbol, domain.ErrNotFound)
	}
	inst, _ := m.engine.Instrument(req.Symbol)

	ref := estimateRef(req, tick)
	if req.Qty*ref < m.cfg.MinOrderNotional {
		return nil, nil, fmt.Errorf("order notional below minimum %.2f: %w",
			m.cfg.MinOrderNotional, domain.ErrInvalid)
	}

	mid := (tick.Bid + tick.Ask) / 2
	bd := execution.Estimate(inst, execution.Input{
		Side:     req.Side,
		Qty:      req.Qty,
		RefPrice: ref,
		Mid:      mid,
		Vol:      tick.Volatility,
		Regime:   m.engine.RegimeParams(),
	})

	if req.Side == domain.SideBuy {
		user, err := m.store.Users.GetByID(userID)
		if err != nil {
			return nil, nil, err
		}
		if user.Cash < req.Qty*bd.FillPrice+bd.Commission {
			return nil, nil, fmt.Errorf("cash %.2f cannot cover order: %w",
				user.Cash, domain.ErrInsufficientFunds)
		}
	}

	o := &domain.Order{
		ID:         uuid.NewString(),
		UserID:     userID,
		Symbol:     req.Symbol,
		Type:       req.Type,
		Side:       req.Side,
		Qty:        req.Qty,
		LimitPrice: req.LimitPrice,
		StopPrice:  req.StopPrice,
		TrailPct:   req.TrailPct,
		OCOGroupID: req.OCOGroupID,
		Status:     domain.OrderOpen,
	}
	if req.Type == domain.OrderTrailingStop {
		o.TrailHigh = mid
	}
	if err := m.store.Orders.Insert(o); err != nil {
		return nil, nil, err
	}

	// Market orders execute against the current touch immediately.
	if req.Type == domain.OrderMarket {
		if err := m.fillMarket(o, tick, o.Qty, ""); err != nil {
			return nil, nil, err
		}
	}

	return o, &bd, nil
}

// Cancel delegates to the repository's idempotent cancel.
func (m *Matcher) Cancel(orderID string, userID int64) error {
	return m.store.Orders.Cancel(orderID, userID, "user_cancelled")
}

func validatePlace(req PlaceRequest) error {
	if !domain.ValidOrderType(req.Type) {
		return fmt.Errorf("unknown order type %q: %w", req.Type, domain.ErrInvalid)
	}
	if req.Side != domain.SideBuy && req.Side != domain.SideSell {
		return fmt.Errorf("unknown side %q: %w", req.Side, domain.ErrInvalid)
	}
	if req.Qty <= 0 {
		return fmt.Errorf("qty must be positive: %w", domain.ErrInvalid)
	}

	switch req.Type {
	case domain.OrderLimit:
		if req.LimitPrice == nil || *req.LimitPrice <= 0 {
			return fmt.Errorf("limit order requires limitPrice: %w", domain.ErrInvalid)
		}
	case domain.OrderStop, domain.OrderStopLoss, domain.OrderTakeProfit:
		if req.StopPrice == nil || *req.StopPrice <= 0 {
			return fmt.Errorf("%s order requires stopPrice: %w", req.Type, domain.ErrInvalid)
		}
	case domain.OrderStopLimit:
		if req.StopPrice == nil || *req.StopPrice <= 0 || req.LimitPrice == nil || *req.LimitPrice <= 0 {
			return fmt.Errorf("stop-limit order requires stopPrice and limitPrice: %w", domain.ErrInvalid)
		}
	case domain.OrderTrailingStop:
		if req.TrailPct == nil || *req.TrailPct <= 0 || *req.TrailPct >= 100 {
			return fmt.Errorf("trailing-stop requires trailPct in (0, 100): %w", domain.ErrInvalid)
		}
	}
	return nil
}

// estimateRef picks the reference price the client-facing estimate uses.
func estimateRef(req PlaceRequest, tick domain.Tick) float64 {
	switch req.Type {
	case domain.OrderLimit, domain.OrderStopLimit:
		return *req.LimitPrice
	case domain.OrderStop, domain.OrderStopLoss, domain.OrderTakeProfit:
		return *req.StopPrice
	default:
		if req.Side == domain.SideBuy {
			return tick.Ask
		}
		return tick.Bid
	}
}
