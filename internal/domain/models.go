// Package domain holds the entities shared across the platform.
// It is pure: no infrastructure dependencies.
package domain

import (
	"encoding/json"
	"time"
)

// AssetClass categorises instruments for spread/borrow policy.
type AssetClass string

const (
	AssetEquity AssetClass = "equity"
	AssetETF    AssetClass = "etf"
	AssetCrypto AssetClass = "crypto"
	AssetBond   AssetClass = "bond"
)

// Instrument is the immutable per-symbol profile. Created once at boot,
// never mutated afterwards.
type Instrument struct {
	Symbol        string     `json:"symbol"`
	Name          string     `json:"name"`
	Class         AssetClass `json:"class"`
	Decimals      int        `json:"decimals"`
	BaseSpreadBps float64    `json:"baseSpreadBps"`
	ImpactCoeff   float64    `json:"impactCoeff"`
	ADV           float64    `json:"adv"` // average daily dollar volume
	CommissionBps float64    `json:"commissionBps"`
	CommissionMin float64    `json:"commissionMin"`
	BorrowAPR     float64    `json:"borrowApr"`
	StartPrice    float64    `json:"startPrice"`
	VolTarget     float64    `json:"volTarget"` // per-tick return stdev target
	SafeHaven     bool       `json:"safeHaven"` // reduced/inverted market-wide shock
}

// Regime names a market state; each state carries multipliers for
// liquidity, volatility and borrow cost.
type Regime string

const (
	RegimeNormal         Regime = "normal"
	RegimeHighVolatility Regime = "high_volatility"
	RegimeTightLiquidity Regime = "tight_liquidity"
	RegimeEventShock     Regime = "event_shock"
)

// RegimeParams are the multipliers a regime applies to the cost model
// and the price walk.
type RegimeParams struct {
	Liquidity float64 `json:"liquidity"`
	Vol       float64 `json:"vol"`
	Borrow    float64 `json:"borrow"`
}

// Tick is one point-in-time quote for one instrument. In-memory only.
type Tick struct {
	Symbol     string  `json:"ticker"`
	Price      float64 `json:"price"` // last
	Bid        float64 `json:"bid"`
	Ask        float64 `json:"ask"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	PrevClose  float64 `json:"prevClose"`
	Volume     float64 `json:"volume"`
	ChangePct  float64 `json:"changePct"`
	Regime     Regime  `json:"regime"`
	Volatility float64 `json:"volatility"`
	Timestamp  int64   `json:"timestamp"` // unix ms
}

// Candle is one OHLCV bar. (Symbol, Interval, OpenTime) is the identity;
// OpenTime is aligned to the interval. A candle is immutable once closed.
type Candle struct {
	Symbol   string  `json:"symbol"`
	Interval string  `json:"interval"`
	OpenTime int64   `json:"openTime"` // unix ms, aligned
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

// User is a trading account holder.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Cash         float64   `json:"cash"`
	StartingCash float64   `json:"startingCash"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Order types.
type OrderType string

const (
	OrderMarket       OrderType = "market"
	OrderLimit        OrderType = "limit"
	OrderStop         OrderType = "stop"
	OrderStopLoss     OrderType = "stop-loss"
	OrderStopLimit    OrderType = "stop-limit"
	OrderTakeProfit   OrderType = "take-profit"
	OrderTrailingStop OrderType = "trailing-stop"
)

// ValidOrderType reports whether t is a recognised order type.
func ValidOrderType(t OrderType) bool {
	switch t {
	case OrderMarket, OrderLimit, OrderStop, OrderStopLoss, OrderStopLimit, OrderTakeProfit, OrderTrailingStop:
		return true
	}
	return false
}

// OrderSide is buy or sell.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderStatus lifecycle. filled/cancelled/rejected are terminal; an order
// is in at most one terminal state.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderPartial   OrderStatus = "partial"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
	OrderRejected  OrderStatus = "rejected"
)

// Terminal reports whether the status is terminal.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderRejected
}

// Order is a user- or strategy-submitted instruction against the simulated
// market. FilledQty never exceeds Qty.
type Order struct {
	ID          string      `json:"id"`
	UserID      int64       `json:"userId"`
	Symbol      string      `json:"ticker"`
	Type        OrderType   `json:"type"`
	Side        OrderSide   `json:"side"`
	Qty         float64     `json:"qty"`
	FilledQty   float64     `json:"filledQty"`
	LimitPrice  *float64    `json:"limitPrice,omitempty"`
	StopPrice   *float64    `json:"stopPrice,omitempty"`
	TrailPct    *float64    `json:"trailPct,omitempty"`
	TrailHigh   float64     `json:"trailHigh,omitempty"`
	OCOGroupID  string      `json:"ocoId,omitempty"`
	Status      OrderStatus `json:"status"`
	Reason      string      `json:"reason,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	CancelledAt *time.Time  `json:"cancelledAt,omitempty"`
	FilledAt    *time.Time  `json:"filledAt,omitempty"`
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() float64 {
	if r := o.Qty - o.FilledQty; r > 0 {
		return r
	}
	return 0
}

// Position is the signed (user, symbol) holding. Positive qty is long,
// negative is short. A position with qty 0 is deleted.
type Position struct {
	UserID    int64   `json:"userId"`
	Symbol    string  `json:"ticker"`
	Qty       float64 `json:"qty"`
	AvgCost   float64 `json:"avgCost"`
	CostBasis float64 `json:"costBasis"`
}

// Trade is an immutable ledger entry for one fill.
type Trade struct {
	ID           string    `json:"id"`
	UserID       int64     `json:"userId"`
	OrderID      string    `json:"orderId"`
	Symbol       string    `json:"ticker"`
	Side         OrderSide `json:"side"`
	Qty          float64   `json:"qty"`
	Price        float64   `json:"price"`
	Notional     float64   `json:"notional"`
	Commission   float64   `json:"commission"`
	SlippageCost float64   `json:"slippageCost"`
	BorrowCost   float64   `json:"borrowCost"`
	RealizedPnL  float64   `json:"realizedPnl"`
	Regime       Regime    `json:"regime"`
	ExecutedAt   time.Time `json:"executedAt"`
}

// NewsEvent is a generated market event. Symbol is "MARKET" for
// market-wide events.
type NewsEvent struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"ticker"`
	Type        string    `json:"type"`
	Severity    string    `json:"severity"` // low, medium, high
	Headline    string    `json:"headline"`
	Body        string    `json:"body"`
	PriceImpact float64   `json:"price_impact"` // percent
	FiredAt     time.Time `json:"fired_at"`
}

// MarketWideSymbol marks news events that target the whole tape.
const MarketWideSymbol = "MARKET"

// Fund is a multi-member capital pool run by strategies.
type Fund struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	StrategyType  string    `json:"strategyType"`
	OwnerID       int64     `json:"ownerId"`
	Description   string    `json:"description"`
	MinInvestment float64   `json:"minInvestment"`
	MgmtFeeRate   float64   `json:"managementFeeRate"` // annual
	PerfFeeRate   float64   `json:"performanceFeeRate"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Fund member roles. Exactly one owner per fund.
const (
	FundRoleOwner   = "owner"
	FundRoleAnalyst = "analyst"
	FundRoleClient  = "client"
)

// FundMember links a user to a fund with a role.
type FundMember struct {
	FundID   int64     `json:"fundId"`
	UserID   int64     `json:"userId"`
	Username string    `json:"username,omitempty"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Capital transaction types.
const (
	CapitalDeposit    = "deposit"
	CapitalWithdrawal = "withdrawal"
)

// CapitalTxn is one unitised deposit or withdrawal. Deposits carry a
// positive UnitsDelta; withdrawals a non-positive one.
type CapitalTxn struct {
	ID         int64     `json:"id"`
	FundID     int64     `json:"fundId"`
	UserID     int64     `json:"userId"`
	Amount     float64   `json:"amount"`
	Type       string    `json:"type"`
	UnitsDelta float64   `json:"unitsDelta"`
	NavPerUnit float64   `json:"navPerUnit"`
	NavBefore  float64   `json:"navBefore"`
	NavAfter   float64   `json:"navAfter"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NavSnapshot records the fund aggregates at one point in time.
// nav_per_unit = max(floor, nav/total_units) when units > 0, else 1.0.
type NavSnapshot struct {
	FundID     int64     `json:"fundId"`
	SnapshotAt time.Time `json:"snapshotAt"`
	Nav        float64   `json:"nav"`
	NavPerUnit float64   `json:"navPerUnit"`
	TotalUnits float64   `json:"totalUnits"`
	Capital    float64   `json:"capital"`
	PnL        float64   `json:"pnl"`
}

// Strategy types.
const (
	StrategyMeanReversion = "mean_reversion"
	StrategyMomentum      = "momentum"
	StrategyGrid          = "grid"
	StrategyPairs         = "pairs"
	StrategyCustom        = "custom"
)

// Strategy is a typed, configured algorithm attached to a fund.
type Strategy struct {
	ID        int64           `json:"id"`
	FundID    int64           `json:"fundId"`
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	Config    json.RawMessage `json:"config"`
	IsActive  bool            `json:"isActive"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// CustomStrategy carries user source code evaluated in the sandbox.
// The typed strategy row of type "custom" references it by id.
type CustomStrategy struct {
	ID         int64              `json:"id"`
	FundID     int64              `json:"fundId"`
	Name       string             `json:"name"`
	Source     string             `json:"source"`
	Parameters map[string]float64 `json:"parameters"`
	CreatedAt  time.Time          `json:"createdAt"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}

// BacktestResult pins metrics and thresholds to a config hash.
type BacktestResult struct {
	ID         int64           `json:"id"`
	StrategyID int64           `json:"strategyId"`
	FundID     int64           `json:"fundId"`
	ConfigHash string          `json:"configHash"`
	Metrics    json.RawMessage `json:"metrics"`
	Thresholds json.RawMessage `json:"thresholds"`
	Passed     bool            `json:"passed"`
	Notes      string          `json:"notes"`
	RanAt      time.Time       `json:"ranAt"`
}

// RiskSettings are the per-fund guard limits.
type RiskSettings struct {
	FundID              int64   `json:"fundId"`
	MaxPositionPct      float64 `json:"maxPositionPct"`
	MaxStrategyPct      float64 `json:"maxStrategyAllocationPct"`
	MaxDailyDrawdownPct float64 `json:"maxDailyDrawdownPct"`
	Enabled             bool    `json:"isEnabled"`
}

// RiskBreach records a guard that blocked a trade.
type RiskBreach struct {
	ID         int64     `json:"id"`
	FundID     int64     `json:"fundId"`
	StrategyID int64     `json:"strategyId"`
	Rule       string    `json:"rule"`
	Severity   string    `json:"severity"`
	Message    string    `json:"message"`
	Context    string    `json:"context"`
	Attempted  string    `json:"attemptedOrder"`
	CreatedAt  time.Time `json:"createdAt"`
}

// StrategyTrade is a fund-internal ledger entry produced by the runner.
// Kept separate from the user trade ledger; used for fund P&L only.
type StrategyTrade struct {
	ID         int64     `json:"id"`
	StrategyID int64     `json:"strategyId"`
	FundID     int64     `json:"fundId"`
	Symbol     string    `json:"ticker"`
	Side       OrderSide `json:"side"`
	Qty        float64   `json:"qty"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
	Reason     string    `json:"reason"`
	ExecutedAt time.Time `json:"executedAt"`
}

// Principal identifies an authenticated user on a session or request.
type Principal struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
}
