package fund

import (
	"sort"
	"time"

	"github.com/simdesk/simdesk/internal/domain"
)

// MonthlyStatement is one investor's month derived from the units/NAV
// history. Fees are estimates; nothing is deducted from the ledger.
type MonthlyStatement struct {
	Month          string  `json:"month"` // YYYY-MM
	OpeningUnits   float64 `json:"openingUnits"`
	OpeningNav     float64 `json:"openingNavPerUnit"`
	OpeningValue   float64 `json:"openingValue"`
	ClosingUnits   float64 `json:"closingUnits"`
	ClosingNav     float64 `json:"closingNavPerUnit"`
	ClosingValue   float64 `json:"closingValue"`
	NetFlows       float64 `json:"netFlows"` // deposits - withdrawals
	GrossPnL       float64 `json:"grossPnl"`
	ManagementFee  float64 `json:"managementFeeEstimate"`
	PerformanceFee float64 `json:"performanceFeeEstimate"`
	NetPnL         float64 `json:"netPnlEstimate"`
}

// Statements derives an investor's monthly statements from their capital
// ledger and the fund's NAV snapshot history.
func (s *Service) Statements(fundID, userID int64) ([]MonthlyStatement, error) {
	f, err := s.store.Funds.GetByID(fundID)
	if err != nil {
		return nil, err
	}
	txns, err := s.store.Capital.GetUserTransactions(fundID, userID)
	if err != nil {
		return nil, err
	}
	if len(txns) == 0 {
		return []MonthlyStatement{}, nil
	}
	snaps, err := s.store.Capital.GetSnapshots(fundID, 1000)
	if err != nil {
		return nil, err
	}
	// Snapshots arrive newest first; walk them chronologically.
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].SnapshotAt.Before(snaps[j].SnapshotAt) })

	first := monthStart(txns[0].CreatedAt)
	last := monthStart(time.Now().UTC())

	var out []MonthlyStatement
	for m := first; !m.After(last); m = m.AddDate(0, 1, 0) {
		next := m.AddDate(0, 1, 0)

		openingUnits := unitsAt(txns, m)
		closingUnits := unitsAt(txns, next)
		openingNav := navPerUnitAt(snaps, m)
		closingNav := navPerUnitAt(snaps, next)

		flows := 0.0
		for _, t := range txns {
			if t.CreatedAt.Before(m) || !t.CreatedAt.Before(next) {
				continue
			}
			if t.Type == domain.CapitalDeposit {
				flows += t.Amount
			} else {
				flows -= t.Amount
			}
		}

		st := MonthlyStatement{
			Month:        m.Format("2006-01"),
			OpeningUnits: openingUnits,
			OpeningNav:   openingNav,
			OpeningValue: openingUnits * openingNav,
			ClosingUnits: closingUnits,
			ClosingNav:   closingNav,
			ClosingValue: closingUnits * closingNav,
			NetFlows:     flows,
		}
		st.GrossPnL = st.ClosingValue - st.OpeningValue - flows
		avgCapital := (st.OpeningValue + st.ClosingValue) / 2
		st.ManagementFee = avgCapital * f.MgmtFeeRate / 12
		if st.GrossPnL > 0 {
			st.PerformanceFee = st.GrossPnL * f.PerfFeeRate
		}
		st.NetPnL = st.GrossPnL - st.ManagementFee - st.PerformanceFee

		if st.OpeningUnits == 0 && st.ClosingUnits == 0 && flows == 0 {
			continue
		}
		out = append(out, st)
	}
	return out, nil
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// unitsAt sums the investor's units from ledger rows strictly before at.
func unitsAt(txns []domain.CapitalTxn, at time.Time) float64 {
	units := 0.0
	for _, t := range txns {
		if !t.CreatedAt.Before(at) {
			break
		}
		units += t.UnitsDelta
	}
	return units
}

// navPerUnitAt returns the last snapshot's per-unit NAV strictly before
// at, defaulting to the issue price when no snapshot precedes it.
func navPerUnitAt(snaps []domain.NavSnapshot, at time.Time) float64 {
	per := 1.0
	for _, s := range snaps {
		if !s.SnapshotAt.Before(at) {
			break
		}
		per = s.NavPerUnit
	}
	return per
}
