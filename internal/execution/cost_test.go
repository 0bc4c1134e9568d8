package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/simdesk/simdesk/internal/domain"
)

func testInstrument() domain.Instrument {
	return domain.Instrument{
		Symbol:        "ACME",
		BaseSpreadBps: 4,
		ImpactCoeff:   12,
		ADV:           50_000_000,
		CommissionBps: 5,
		CommissionMin: 1,
		BorrowAPR:     0.06,
	}
}

func normalInput(side domain.OrderSide, qty float64) Input {
	return Input{
		Side:     side,
		Qty:      qty,
		RefPrice: 100,
		Mid:      100,
		Vol:      0.002,
		Regime:   domain.RegimeParams{Liquidity: 1, Vol: 1, Borrow: 1},
	}
}

func TestEstimateDirectionality(t *testing.T) {
	inst := testInstrument()

	buy := Estimate(inst, normalInput(domain.SideBuy, 100))
	sell := Estimate(inst, normalInput(domain.SideSell, 100))

	assert.Greater(t, buy.FillPrice, 100.0, "buys fill above the reference")
	assert.Less(t, sell.FillPrice, 100.0, "sells fill below the reference")
	assert.InDelta(t, buy.SlippageBps, sell.SlippageBps, 1e-9, "impact magnitude is side-neutral")
}

func TestEstimateSlippageGrowsWithSize(t *testing.T) {
	inst := testInstrument()

	small := Estimate(inst, normalInput(domain.SideBuy, 100))
	big := Estimate(inst, normalInput(domain.SideBuy, 100_000))

	assert.Greater(t, big.SlippageBps, small.SlippageBps)
	assert.Greater(t, big.SlippageCost, small.SlippageCost)
	assert.Less(t, big.QualityScore, small.QualityScore)
}

func TestEstimateRegimeAndVolWidenImpact(t *testing.T) {
	inst := testInstrument()

	base := Estimate(inst, normalInput(domain.SideBuy, 10_000))

	stressed := normalInput(domain.SideBuy, 10_000)
	stressed.Regime = domain.RegimeParams{Liquidity: 3, Vol: 2.5, Borrow: 2}
	assert.Greater(t, Estimate(inst, stressed).SlippageBps, base.SlippageBps)

	hot := normalInput(domain.SideBuy, 10_000)
	hot.Vol = 0.05
	assert.Greater(t, Estimate(inst, hot).SlippageBps, base.SlippageBps)
}

func TestEstimateCommissionFloor(t *testing.T) {
	inst := testInstrument()

	tiny := Estimate(inst, normalInput(domain.SideBuy, 1))
	assert.Equal(t, inst.CommissionMin, tiny.Commission, "floor applies on small notional")

	large := Estimate(inst, normalInput(domain.SideBuy, 10_000))
	assert.InDelta(t, 10_000*100*inst.CommissionBps/10000, large.Commission, 1e-6)
}

func TestEstimateBorrowAccrual(t *testing.T) {
	inst := testInstrument()

	long := normalInput(domain.SideBuy, 100)
	long.ElapsedMs = 86_400_000
	assert.Zero(t, Estimate(inst, long).BorrowAccrual, "no short exposure, no borrow")

	short := normalInput(domain.SideSell, 100)
	short.OpensShortQty = 100
	short.ElapsedMs = 86_400_000
	oneDay := Estimate(inst, short).BorrowAccrual
	assert.Positive(t, oneDay)

	short.ElapsedMs *= 2
	assert.InDelta(t, 2*oneDay, Estimate(inst, short).BorrowAccrual, 1e-9, "accrual is linear in elapsed time")

	short.ElapsedMs = 86_400_000
	short.Regime.Borrow = 3
	assert.InDelta(t, 3*oneDay, Estimate(inst, short).BorrowAccrual, 1e-9, "regime multiplier scales the rate")
}

func TestEstimateTotalCost(t *testing.T) {
	inst := testInstrument()

	in := normalInput(domain.SideSell, 500)
	in.OpensShortQty = 500
	in.ElapsedMs = 3_600_000
	b := Estimate(inst, in)

	assert.InDelta(t, b.SlippageCost+b.Commission+b.BorrowAccrual, b.TotalCost, 1e-9)
	assert.GreaterOrEqual(t, b.QualityScore, 0.0)
	assert.LessOrEqual(t, b.QualityScore, 100.0)
}
