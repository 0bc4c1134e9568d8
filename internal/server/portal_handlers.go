package server

import (
	"net/http"
)

// portalFund resolves the fund_id query parameter and checks membership.
// Any role may read the portal; the views below only expose the caller's
// own holdings plus fund-level aggregates.
func (s *Server) portalFund(w http.ResponseWriter, r *http.Request) (int64, bool) {
	fundID := int64(queryInt(r, "fund_id", 0))
	if fundID <= 0 {
		s.writeInvalid(w, "fund_id query parameter required")
		return 0, false
	}
	if _, err := s.requireMember(r, fundID); err != nil {
		s.writeError(w, err)
		return 0, false
	}
	return fundID, true
}

// handlePortalAllocation returns the caller's stake in the fund.
func (s *Server) handlePortalAllocation(w http.ResponseWriter, r *http.Request) {
	fundID, ok := s.portalFund(w, r)
	if !ok {
		return
	}

	report, err := s.funds.NavNow(fundID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	investors, err := s.store.Capital.GetSummary(fundID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	userID := principal(r).UserID
	var units, netCapital float64
	for _, inv := range investors {
		if inv.UserID == userID {
			units, netCapital = inv.Units, inv.NetCapital
			break
		}
	}
	value := units * report.NavPerUnit
	sharePct := 0.0
	if report.TotalUnits > 0 {
		sharePct = units / report.TotalUnits * 100
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"fundId":       fundID,
		"units":        units,
		"netCapital":   netCapital,
		"currentValue": value,
		"navPerUnit":   report.NavPerUnit,
		"sharePct":     sharePct,
	})
}

// handlePortalPerformance returns the fund's NAV-per-unit history and the
// caller's return on contributed capital.
func (s *Server) handlePortalPerformance(w http.ResponseWriter, r *http.Request) {
	fundID, ok := s.portalFund(w, r)
	if !ok {
		return
	}

	report, err := s.funds.NavNow(fundID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	snaps, err := s.store.Capital.GetSnapshots(fundID, queryInt(r, "limit", 200))
	if err != nil {
		s.writeError(w, err)
		return
	}
	investors, err := s.store.Capital.GetSummary(fundID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	userID := principal(r).UserID
	var units, netCapital float64
	for _, inv := range investors {
		if inv.UserID == userID {
			units, netCapital = inv.Units, inv.NetCapital
			break
		}
	}
	value := units * report.NavPerUnit
	returnPct := 0.0
	if netCapital > 0 {
		returnPct = (value/netCapital - 1) * 100
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"fundId":       fundID,
		"currentValue": value,
		"netCapital":   netCapital,
		"returnPct":    returnPct,
		"navHistory":   snaps,
	})
}

func (s *Server) handlePortalTransactions(w http.ResponseWriter, r *http.Request) {
	fundID, ok := s.portalFund(w, r)
	if !ok {
		return
	}
	txns, err := s.store.Capital.GetUserTransactions(fundID, principal(r).UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, txns)
}

func (s *Server) handlePortalStatements(w http.ResponseWriter, r *http.Request) {
	fundID, ok := s.portalFund(w, r)
	if !ok {
		return
	}
	statements, err := s.funds.Statements(fundID, principal(r).UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statements)
}

func (s *Server) handlePortalFundSummary(w http.ResponseWriter, r *http.Request) {
	fundID, ok := s.portalFund(w, r)
	if !ok {
		return
	}
	f, err := s.store.Funds.GetByID(fundID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	report, err := s.funds.NavNow(fundID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	members, err := s.store.Funds.GetMembers(fundID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"fund":        f,
		"nav":         report,
		"memberCount": len(members),
	})
}

// handlePortalStrategies lists the fund's strategies without their configs.
func (s *Server) handlePortalStrategies(w http.ResponseWriter, r *http.Request) {
	fundID, ok := s.portalFund(w, r)
	if !ok {
		return
	}
	list, err := s.store.Strategies.GetByFund(fundID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]map[string]interface{}, 0, len(list))
	for _, st := range list {
		realized, trades := s.runner.StrategyPnL(st.ID)
		out = append(out, map[string]interface{}{
			"id":          st.ID,
			"name":        st.Name,
			"type":        st.Type,
			"isActive":    st.IsActive,
			"realizedPnl": realized,
			"tradeCount":  trades,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}
