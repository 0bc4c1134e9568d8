package matcher

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/simdesk/simdesk/internal/domain"
	"github.com/simdesk/simdesk/internal/events"
	"github.com/simdesk/simdesk/internal/execution"
	"github.com/simdesk/simdesk/internal/repo"
)

// errRejected marks fills refused inside the transaction; the order row
// has already transitioned to rejected by the time it surfaces.
var errRejected = errors.New("order rejected")

type bookFillInput struct {
	Order    *domain.Order
	Inst     domain.Instrument
	Regime   domain.RegimeParams
	Tick     domain.Tick
	Mid      float64
	FillQty  float64
	RefPrice float64
	Reason   string
}

type fillOutcome struct {
	Trade domain.Trade
	Order domain.Order
}

// fill books one fill inside a single transaction: cash, position, trade
// row, order update and OCO sibling cancel. The fill event is emitted only
// after the commit.
func (m *Matcher) fill(o *domain.Order, tick domain.Tick, fillQty, refPrice float64, reason string) error {
	if fillQty <= 0 {
		return nil
	}
	inst, ok := m.engine.Instrument(o.Symbol)
	if !ok {
		return fmt.Errorf("unknown instrument %s: %w", o.Symbol, domain.ErrNotFound)
	}

	mid := (tick.Bid + tick.Ask) / 2
	if mid <= 0 {
		mid = tick.Price
	}

	var outcome *fillOutcome
	err := m.store.RunInTransaction("matcher.fill", func(tx *sql.Tx) error {
		var err error
		outcome, err = bookFill(tx, bookFillInput{
			Order:    o,
			Inst:     inst,
			Regime:   m.engine.RegimeParams(),
			Tick:     tick,
			Mid:      mid,
			FillQty:  fillQty,
			RefPrice: refPrice,
			Reason:   reason,
		})
		return err
	})
	if errors.Is(err, errRejected) {
		m.log.Info().Str("order_id", o.ID).Msg("Order rejected at match time")
		return nil
	}
	if err != nil {
		return err
	}

	*o = outcome.Order
	m.emitFill(outcome)
	return nil
}

// bookFill runs the fill's ledger writes inside tx. Position math: same
// direction adds re-average cost; opposite direction closes realize P&L
// proportional to the closed quantity; an overshoot flips the position at
// the fill price.
func bookFill(tx *sql.Tx, in bookFillInput) (*fillOutcome, error) {
	o := in.Order
	now := time.Now().UTC()

	pos, err := repo.PositionForUpdate(tx, o.UserID, o.Symbol)
	if err != nil {
		return nil, err
	}
	var held, avg float64
	if pos != nil {
		held = pos.Qty
		avg = pos.AvgCost
	}

	opensShort := 0.0
	if o.Side == domain.SideSell {
		opensShort = in.FillQty - math.Max(0, held)
		if opensShort < 0 {
			opensShort = 0
		}
	}
	elapsedMs := float64(now.Sub(o.CreatedAt).Milliseconds())
	if elapsedMs < 0 {
		elapsedMs = 0
	}

	bd := execution.Estimate(in.Inst, execution.Input{
		Side:          o.Side,
		Qty:           in.FillQty,
		RefPrice:      in.RefPrice,
		Mid:           in.Mid,
		Vol:           in.Tick.Volatility,
		Regime:        in.Regime,
		OpensShortQty: opensShort,
		ElapsedMs:     elapsedMs,
	})

	cash, err := repo.CashForUpdate(tx, o.UserID)
	if err != nil {
		return nil, err
	}

	// Forced covers book regardless of cash; the account can go negative.
	if o.Side == domain.SideBuy && in.Reason != "margin_call" {
		need := in.FillQty*bd.FillPrice + bd.Commission + bd.BorrowAccrual
		if cash < need {
			o.Status = domain.OrderRejected
			o.Reason = "insufficient_funds"
			if err := repo.UpdateFill(tx, o); err != nil {
				return nil, err
			}
			return nil, errRejected
		}
	}

	// Signed fill quantity: buys add, sells subtract.
	d := in.FillQty
	if o.Side == domain.SideSell {
		d = -in.FillQty
	}
	newQty := held + d

	realized := 0.0
	newAvg := avg
	switch {
	case held == 0 || (held > 0) == (d > 0):
		newAvg = (math.Abs(held)*avg + math.Abs(d)*bd.FillPrice) / (math.Abs(held) + math.Abs(d))
	default:
		closeQty := math.Min(math.Abs(d), math.Abs(held))
		if held > 0 {
			realized = (bd.FillPrice - avg) * closeQty
		} else {
			realized = (avg - bd.FillPrice) * closeQty
		}
		if math.Abs(d) > math.Abs(held) {
			newAvg = bd.FillPrice
		}
		if newQty == 0 {
			newAvg = 0
		}
	}

	if o.Side == domain.SideBuy {
		cash -= in.FillQty*bd.FillPrice + bd.Commission + bd.BorrowAccrual
	} else {
		cash += in.FillQty*bd.FillPrice - bd.Commission - bd.BorrowAccrual
	}
	if err := repo.UpdateCash(tx, o.UserID, cash); err != nil {
		return nil, err
	}

	if err := repo.UpsertPosition(tx, &domain.Position{
		UserID:    o.UserID,
		Symbol:    o.Symbol,
		Qty:       newQty,
		AvgCost:   newAvg,
		CostBasis: math.Abs(newQty) * newAvg,
	}); err != nil {
		return nil, err
	}

	trade := domain.Trade{
		ID:           uuid.NewString(),
		UserID:       o.UserID,
		OrderID:      o.ID,
		Symbol:       o.Symbol,
		Side:         o.Side,
		Qty:          in.FillQty,
		Price:        bd.FillPrice,
		Notional:     in.FillQty * bd.FillPrice,
		Commission:   bd.Commission,
		SlippageCost: bd.SlippageCost,
		BorrowCost:   bd.BorrowAccrual,
		RealizedPnL:  realized,
		Regime:       in.Tick.Regime,
		ExecutedAt:   now,
	}
	if err := repo.InsertTrade(tx, &trade); err != nil {
		return nil, err
	}

	o.FilledQty += in.FillQty
	if in.Reason != "" {
		o.Reason = in.Reason
	}
	if o.Remaining() <= 0 {
		o.Status = domain.OrderFilled
		o.FilledAt = &now
	} else {
		o.Status = domain.OrderPartial
	}
	if err := repo.UpdateFill(tx, o); err != nil {
		return nil, err
	}

	if err := repo.CancelSiblings(tx, o.OCOGroupID, o.ID); err != nil {
		return nil, err
	}

	return &fillOutcome{Trade: trade, Order: *o}, nil
}

func (m *Matcher) emitFill(out *fillOutcome) {
	t := &out.Trade
	m.bus.Emit(&events.FillData{
		UserID:      t.UserID,
		OrderID:     t.OrderID,
		Symbol:      t.Symbol,
		Side:        t.Side,
		Qty:         t.Qty,
		Price:       t.Price,
		Commission:  t.Commission,
		SlippageBps: slippageBps(t),
		BorrowCost:  t.BorrowCost,
		PnL:         t.RealizedPnL,
		ExecutedAt:  t.ExecutedAt.UnixMilli(),
	})
	m.log.Info().
		Str("order_id", t.OrderID).
		Str("ticker", t.Symbol).
		Str("side", string(t.Side)).
		Float64("qty", t.Qty).
		Float64("price", t.Price).
		Msg("Fill booked")
}

func slippageBps(t *domain.Trade) float64 {
	if t.Notional <= 0 {
		return 0
	}
	return t.SlippageCost / t.Notional * 10000
}

// marginSweep covers under-margined short books. One pass handles each
// user at most once.
func (m *Matcher) marginSweep(ctx context.Context) {
	shorts, err := m.store.Positions.GetAllShort()
	if err != nil {
		m.log.Warn().Err(err).Msg("Skipping margin sweep, positions unavailable")
		return
	}

	byUser := make(map[int64][]domain.Position)
	for _, p := range shorts {
		byUser[p.UserID] = append(byUser[p.UserID], p)
	}

	for userID, userShorts := range byUser {
		if ctx.Err() != nil {
			return
		}
		if err := m.marginCheck(userID, userShorts); err != nil {
			m.log.Error().Err(err).Int64("user_id", userID).Msg("Margin check failed")
		}
	}
}

// marginCheck liquidates a user's shorts when equity falls below the
// maintenance fraction of gross short notional.
func (m *Matcher) marginCheck(userID int64, userShorts []domain.Position) error {
	user, err := m.store.Users.GetByID(userID)
	if err != nil {
		return err
	}
	positions, err := m.store.Positions.GetByUser(userID)
	if err != nil {
		return err
	}

	equity := user.Cash
	shortNotional := 0.0
	for _, p := range positions {
		tick, ok := m.latestTick(p.Symbol)
		if !ok {
			continue
		}
		equity += p.Qty * tick.Price
		if p.Qty < 0 {
			shortNotional += -p.Qty * tick.Price
		}
	}
	if shortNotional == 0 || equity >= maintenanceMargin*shortNotional {
		return nil
	}

	m.log.Warn().
		Int64("user_id", userID).
		Float64("equity", equity).
		Float64("short_notional", shortNotional).
		Msg("Margin threshold breached, forcing liquidation")

	for _, p := range userShorts {
		tick, ok := m.latestTick(p.Symbol)
		if !ok {
			continue
		}
		cover := &domain.Order{
			ID:     uuid.NewString(),
			UserID: userID,
			Symbol: p.Symbol,
			Type:   domain.OrderMarket,
			Side:   domain.SideBuy,
			Qty:    -p.Qty,
			Status: domain.OrderOpen,
			Reason: "margin_call",
		}
		if err := m.store.Orders.Insert(cover); err != nil {
			return err
		}

		m.bus.Emit(&events.MarginCallData{
			UserID: userID,
			Symbol: p.Symbol,
			Qty:    -p.Qty,
			Price:  tick.Ask,
		})

		if err := m.fillMarket(cover, tick, cover.Qty, "margin_call"); err != nil {
			return err
		}
	}
	return nil
}
