package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/simdesk/simdesk/internal/domain"
)

type fundRequest struct {
	Name          string  `json:"name"`
	StrategyType  string  `json:"strategyType"`
	Description   string  `json:"description"`
	MinInvestment float64 `json:"minInvestment"`
	MgmtFeeRate   float64 `json:"managementFeeRate"`
	PerfFeeRate   float64 `json:"performanceFeeRate"`
}

func (s *Server) handleListFunds(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("mine") == "true" {
		funds, err := s.store.Funds.GetUserFunds(principal(r).UserID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, funds)
		return
	}
	funds, err := s.store.Funds.GetAll()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, funds)
}

func (s *Server) handleCreateFund(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if err := decode(r, &req); err != nil {
		s.writeInvalid(w, "malformed body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		s.writeInvalid(w, "fund name required")
		return
	}
	if req.MgmtFeeRate < 0 || req.MgmtFeeRate > 0.05 || req.PerfFeeRate < 0 || req.PerfFeeRate > 0.5 {
		s.writeInvalid(w, "fee rates out of range")
		return
	}

	f := &domain.Fund{
		Name:          req.Name,
		StrategyType:  req.StrategyType,
		OwnerID:       principal(r).UserID,
		Description:   req.Description,
		MinInvestment: req.MinInvestment,
		MgmtFeeRate:   req.MgmtFeeRate,
		PerfFeeRate:   req.PerfFeeRate,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.Funds.Insert(f); err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info().Int64("fund_id", f.ID).Str("name", f.Name).Msg("Fund created")
	s.writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleGetFund(w http.ResponseWriter, r *http.Request) {
	fundID, err := fundIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	f, err := s.store.Funds.GetByID(fundID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleUpdateFund(w http.ResponseWriter, r *http.Request) {
	fundID, err := fundIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.requireOwner(r, fundID); err != nil {
		s.writeError(w, err)
		return
	}
	f, err := s.store.Funds.GetByID(fundID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req fundRequest
	if err := decode(r, &req); err != nil {
		s.writeInvalid(w, "malformed body")
		return
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		f.Name = name
	}
	f.Description = req.Description
	f.MinInvestment = req.MinInvestment
	f.MgmtFeeRate = req.MgmtFeeRate
	f.PerfFeeRate = req.PerfFeeRate

	if err := s.store.Funds.Update(f); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleDeleteFund(w http.ResponseWriter, r *http.Request) {
	fundID, err := fundIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.requireOwner(r, fundID); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.Funds.Delete(fundID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- members ---

type memberRequest struct {
	UserID int64  `json:"userId"`
	Role   string `json:"role"`
}

func validRole(role string) bool {
	switch role {
	case domain.FundRoleAnalyst, domain.FundRoleClient:
		return true
	}
	return false
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	fundID, err := fundIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.requireMember(r, fundID); err != nil {
		s.writeError(w, err)
		return
	}
	members, err := s.store.Funds.GetMembers(fundID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, members)
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	fundID, err := fundIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.requireOwner(r, fundID); err != nil {
		s.writeError(w, err)
		return
	}

	var req memberRequest
	if err := decode(r, &req); err != nil || req.UserID <= 0 || !validRole(req.Role) {
		s.writeInvalid(w, "userId and role (analyst or client) required")
		return
	}
	if _, err := s.store.Users.GetByID(req.UserID); err != nil {
		s.writeError(w, err)
		return
	}

	m := &domain.FundMember{
		FundID:   fundID,
		UserID:   req.UserID,
		Role:     req.Role,
		JoinedAt: time.Now().UTC(),
	}
	if err := s.store.Funds.AddMember(m); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleUpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	fundID, err := fundIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	userID, err := int64Param(r, "userID")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.requireOwner(r, fundID); err != nil {
		s.writeError(w, err)
		return
	}

	var req memberRequest
	if err := decode(r, &req); err != nil || !validRole(req.Role) {
		s.writeInvalid(w, "role must be analyst or client")
		return
	}
	member, err := s.store.Funds.GetMember(fundID, userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if member.Role == domain.FundRoleOwner {
		s.writeError(w, fmt.Errorf("cannot change the owner's role: %w", domain.ErrInvalid))
		return
	}
	if err := s.store.Funds.UpdateMemberRole(fundID, userID, req.Role); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	fundID, err := fundIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	userID, err := int64Param(r, "userID")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.requireOwner(r, fundID); err != nil {
		s.writeError(w, err)
		return
	}
	member, err := s.store.Funds.GetMember(fundID, userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if member.Role == domain.FundRoleOwner {
		s.writeError(w, fmt.Errorf("cannot remove the fund owner: %w", domain.ErrInvalid))
		return
	}
	if err := s.store.Funds.RemoveMember(fundID, userID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// --- capital, NAV, risk ---

type capitalRequest struct {
	Type   string  `json:"type"` // deposit | withdrawal
	Amount float64 `json:"amount"`
}

func (s *Server) handleListCapital(w http.ResponseWriter, r *http.Request) {
	fundID, err := fundIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	member, err := s.requireMember(r, fundID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	// Clients only see their own ledger.
	if member.Role == domain.FundRoleClient {
		txns, err := s.store.Capital.GetUserTransactions(fundID, principal(r).UserID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, txns)
		return
	}
	txns, err := s.store.Capital.GetTransactions(fundID, queryInt(r, "limit", 500))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, txns)
}

func (s *Server) handleCapitalEvent(w http.ResponseWriter, r *http.Request) {
	fundID, err := fundIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.requireMember(r, fundID); err != nil {
		s.writeError(w, err)
		return
	}

	var req capitalRequest
	if err := decode(r, &req); err != nil {
		s.writeInvalid(w, "malformed body")
		return
	}

	f, err := s.store.Funds.GetByID(fundID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var txn *domain.CapitalTxn
	switch req.Type {
	case domain.CapitalDeposit:
		if req.Amount < f.MinInvestment {
			s.writeError(w, fmt.Errorf("deposit below minimum investment %.2f: %w",
				f.MinInvestment, domain.ErrInvalid))
			return
		}
		txn, err = s.funds.Deposit(fundID, principal(r).UserID, req.Amount)
	case domain.CapitalWithdrawal:
		txn, err = s.funds.Withdraw(fundID, principal(r).UserID, req.Amount)
	default:
		s.writeInvalid(w, "type must be deposit or withdrawal")
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, txn)
}

func (s *Server) handleNav(w http.ResponseWriter, r *http.Request) {
	fundID, err := fundIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.requireMember(r, fundID); err != nil {
		s.writeError(w, err)
		return
	}
	report, err := s.funds.NavNow(fundID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if r.URL.Query().Get("history") == "true" {
		snaps, err := s.store.Capital.GetSnapshots(fundID, queryInt(r, "limit", 100))
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"now": report, "history": snaps})
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleInvestors(w http.ResponseWriter, r *http.Request) {
	fundID, err := fundIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.requireManager(r, fundID); err != nil {
		s.writeError(w, err)
		return
	}
	investors, err := s.store.Capital.GetSummary(fundID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, investors)
}

func (s *Server) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	fundID, err := fundIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.requireManager(r, fundID); err != nil {
		s.writeError(w, err)
		return
	}
	result, err := s.funds.Reconcile(fundID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetRisk(w http.ResponseWriter, r *http.Request) {
	fundID, err := fundIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.requireMember(r, fundID); err != nil {
		s.writeError(w, err)
		return
	}
	settings, err := s.store.Risk.Get(fundID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutRisk(w http.ResponseWriter, r *http.Request) {
	fundID, err := fundIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.requireOwner(r, fundID); err != nil {
		s.writeError(w, err)
		return
	}

	var settings domain.RiskSettings
	if err := decode(r, &settings); err != nil {
		s.writeInvalid(w, "malformed body")
		return
	}
	if settings.MaxPositionPct <= 0 || settings.MaxPositionPct > 100 ||
		settings.MaxStrategyPct <= 0 || settings.MaxStrategyPct > 100 ||
		settings.MaxDailyDrawdownPct <= 0 || settings.MaxDailyDrawdownPct > 100 {
		s.writeInvalid(w, "limits must be in (0, 100]")
		return
	}
	settings.FundID = fundID
	if err := s.store.Risk.Upsert(settings); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleRiskBreaches(w http.ResponseWriter, r *http.Request) {
	fundID, err := fundIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.requireMember(r, fundID); err != nil {
		s.writeError(w, err)
		return
	}
	breaches, err := s.store.Risk.GetBreaches(fundID, queryInt(r, "limit", 100))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, breaches)
}

func (s *Server) handleFundActivity(w http.ResponseWriter, r *http.Request) {
	fundID, err := fundIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.requireMember(r, fundID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.runner.Activity(fundID, queryInt(r, "limit", 50)))
}
