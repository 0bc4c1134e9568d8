// Package execution implements the execution-cost model. Everything here is
// pure: deterministic given inputs, no I/O, no clock.
package execution

import (
	"math"

	"github.com/simdesk/simdesk/internal/domain"
)

const (
	yearMs = 365.0 * 24 * 60 * 60 * 1000

	volMultMin = 0.85
	volMultMax = 4.0
)

// Input captures everything the cost model needs for one estimate.
type Input struct {
	Side          domain.OrderSide
	Qty           float64
	RefPrice      float64 // trigger/limit/last reference the fill prices off
	Mid           float64
	Vol           float64 // running volatility (per-tick return stdev)
	Regime        domain.RegimeParams
	OpensShortQty float64 // qty of fresh short exposure this fill opens
	ElapsedMs     float64 // holding time used for borrow accrual
}

// Breakdown is the full execution-cost decomposition.
type Breakdown struct {
	SlippageBps   float64 `json:"slippage_bps"`
	FillPrice     float64 `json:"fill_price"`
	SlippageCost  float64 `json:"slippage_cost"`
	Commission    float64 `json:"commission"`
	BorrowAccrual float64 `json:"borrow_accrual"`
	TotalCost     float64 `json:"total_cost"`
	QualityScore  float64 `json:"quality_score"`
}

// Estimate computes slippage, fill price, commission and borrow accrual for
// a prospective fill against the given instrument profile.
func Estimate(profile domain.Instrument, in Input) Breakdown {
	notional := in.Qty * in.RefPrice

	volMult := clamp(1+25*in.Vol, volMultMin, volMultMax)
	participation := 0.0
	if profile.ADV > 0 {
		participation = math.Pow(notional/profile.ADV, 0.6)
	}
	impactBps := profile.BaseSpreadBps + profile.ImpactCoeff*participation*in.Regime.Liquidity*volMult

	direction := 1.0
	if in.Side == domain.SideSell {
		direction = -1.0
	}

	fillPrice := in.RefPrice * (1 + direction*impactBps/10000)
	slippageCost := math.Max(0, direction*(fillPrice-in.Mid)*in.Qty)

	commission := math.Max(profile.CommissionMin, notional*profile.CommissionBps/10000)

	borrowAccrual := 0.0
	if in.OpensShortQty > 0 {
		borrowAccrual = in.OpensShortQty * fillPrice * (profile.BorrowAPR * in.Regime.Borrow) * (in.ElapsedMs / yearMs)
	}

	commBps := 0.0
	borrowBps := 0.0
	if notional > 0 {
		commBps = commission / notional * 10000
		borrowBps = borrowAccrual / notional * 10000
	}

	return Breakdown{
		SlippageBps:   impactBps,
		FillPrice:     fillPrice,
		SlippageCost:  slippageCost,
		Commission:    commission,
		BorrowAccrual: borrowAccrual,
		TotalCost:     slippageCost + commission + borrowAccrual,
		QualityScore:  clamp(100-0.6*impactBps-0.3*commBps-0.1*borrowBps, 0, 100),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
