package fund

import (
	"math"
)

// reconcileTolerance absorbs float accumulation across the ledger sums.
const reconcileTolerance = 1e-4

// Reconciliation is the audit result for one fund. Residuals are reported
// as-is; nothing here repairs state.
type Reconciliation struct {
	FundID                   int64   `json:"fundId"`
	IsNavBalanced            bool    `json:"isNavBalanced"`
	IsInvestorLedgerBalanced bool    `json:"isInvestorLedgerBalanced"`
	IsUnitsBalanced          bool    `json:"isUnitsBalanced"`
	Nav                      float64 `json:"nav"`
	NavByFormula             float64 `json:"navByFormula"`
	NavResidual              float64 `json:"navResidual"`
	InvestorValueSum         float64 `json:"investorValueSum"`
	InvestorResidual         float64 `json:"investorResidual"`
	TotalUnits               float64 `json:"totalUnits"`
	InvestorUnitsSum         float64 `json:"investorUnitsSum"`
	UnitsResidual            float64 `json:"unitsResidual"`
}

// Reconcile audits the fund's ledger against its latest snapshot. The
// snapshot is the recorded truth; the ledger sums are recomputed here,
// so a divergence between them surfaces instead of self-healing.
func (s *Service) Reconcile(fundID int64) (*Reconciliation, error) {
	capital, ledgerUnits, err := s.store.Capital.NetCapital(fundID)
	if err != nil {
		return nil, err
	}
	investors, err := s.store.Capital.GetSummary(fundID)
	if err != nil {
		return nil, err
	}
	snaps, err := s.store.Capital.GetSnapshots(fundID, 1)
	if err != nil {
		return nil, err
	}

	pnl := s.fundPnL(fundID)
	navByFormula := capital + pnl

	// With no snapshot yet the live valuation is the only truth.
	nav := navByFormula
	totalUnits := ledgerUnits
	if len(snaps) > 0 {
		nav = snaps[0].Nav + (pnl - snaps[0].PnL) // roll the snapshot forward by P&L drift
		totalUnits = snaps[0].TotalUnits
	}
	perUnit := navPerUnit(nav, totalUnits)

	investorUnits := 0.0
	for _, inv := range investors {
		investorUnits += inv.Units
	}
	investorValue := investorUnits * perUnit

	r := &Reconciliation{
		FundID:           fundID,
		Nav:              nav,
		NavByFormula:     navByFormula,
		NavResidual:      nav - navByFormula,
		InvestorValueSum: investorValue,
		InvestorResidual: investorValue - nav,
		TotalUnits:       totalUnits,
		InvestorUnitsSum: investorUnits,
		UnitsResidual:    investorUnits - totalUnits,
	}
	r.IsNavBalanced = math.Abs(r.NavResidual) <= reconcileTolerance
	r.IsUnitsBalanced = math.Abs(r.UnitsResidual) <= reconcileTolerance
	r.IsInvestorLedgerBalanced = math.Abs(r.InvestorResidual) <= reconcileTolerance ||
		(totalUnits == 0 && investorUnits == 0)

	if !r.IsNavBalanced || !r.IsInvestorLedgerBalanced || !r.IsUnitsBalanced {
		s.log.Warn().
			Int64("fund_id", fundID).
			Float64("nav_residual", r.NavResidual).
			Float64("units_residual", r.UnitsResidual).
			Float64("investor_residual", r.InvestorResidual).
			Msg("Fund reconciliation out of balance")
	}
	return r, nil
}
