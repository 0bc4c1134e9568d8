package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/simdesk/simdesk/internal/domain"
	"github.com/simdesk/simdesk/internal/strategies"
)

type strategyRequest struct {
	FundID int64           `json:"fundId"`
	Name   string          `json:"name"`
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config"`
}

func validStrategyType(t string) bool {
	switch t {
	case domain.StrategyMeanReversion, domain.StrategyMomentum,
		domain.StrategyGrid, domain.StrategyPairs, domain.StrategyCustom:
		return true
	}
	return false
}

// loadStrategy resolves {strategyID} and checks the caller manages its fund.
func (s *Server) loadStrategy(r *http.Request) (*domain.Strategy, error) {
	id, err := int64Param(r, "strategyID")
	if err != nil {
		return nil, err
	}
	st, err := s.store.Strategies.GetByID(id)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireManager(r, st.FundID); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	fundID, err := fundIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.requireMember(r, fundID); err != nil {
		s.writeError(w, err)
		return
	}
	list, err := s.store.Strategies.GetByFund(fundID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateStrategy(w http.ResponseWriter, r *http.Request) {
	fundID, err := fundIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.requireManager(r, fundID); err != nil {
		s.writeError(w, err)
		return
	}

	var req strategyRequest
	if err := decode(r, &req); err != nil {
		s.writeInvalid(w, "malformed body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || !validStrategyType(req.Type) {
		s.writeInvalid(w, "name and a valid type are required")
		return
	}
	if _, err := strategies.ParseConfig(req.Config); err != nil {
		s.writeError(w, err)
		return
	}

	now := time.Now().UTC()
	st := &domain.Strategy{
		FundID:    fundID,
		Name:      req.Name,
		Type:      req.Type,
		Config:    req.Config,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Strategies.Insert(st); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	st, err := s.loadStrategy(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	realized, trades := s.runner.StrategyPnL(st.ID)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategy":    st,
		"realizedPnl": realized,
		"tradeCount":  trades,
	})
}

// handleUpdateStrategy replaces name/config. A config change invalidates
// the deploy gate until a fresh passing backtest exists.
func (s *Server) handleUpdateStrategy(w http.ResponseWriter, r *http.Request) {
	st, err := s.loadStrategy(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req strategyRequest
	if err := decode(r, &req); err != nil {
		s.writeInvalid(w, "malformed body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = st.Name
	}
	cfg := st.Config
	if len(req.Config) > 0 {
		if _, err := strategies.ParseConfig(req.Config); err != nil {
			s.writeError(w, err)
			return
		}
		cfg = req.Config
	}
	if err := s.store.Strategies.UpdateConfig(st.ID, name, cfg); err != nil {
		s.writeError(w, err)
		return
	}
	updated, err := s.store.Strategies.GetByID(st.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteStrategy(w http.ResponseWriter, r *http.Request) {
	st, err := s.loadStrategy(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.Strategies.Delete(st.ID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleStartStrategy(w http.ResponseWriter, r *http.Request) {
	st, err := s.loadStrategy(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.runner.StartStrategy(st); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "started", "strategyId": st.ID})
}

func (s *Server) handleStopStrategy(w http.ResponseWriter, r *http.Request) {
	st, err := s.loadStrategy(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.runner.StopStrategy(st); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "stopped", "strategyId": st.ID})
}

func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	st, err := s.loadStrategy(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var override *strategies.Thresholds
	if r.ContentLength > 0 {
		var t strategies.Thresholds
		if err := decode(r, &t); err != nil {
			s.writeInvalid(w, "malformed thresholds")
			return
		}
		override = &t
	}

	result, err := s.backtester.Run(st, override)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, result)
}

// handleBacktestFund backtests every strategy in the fund as one batch,
// re-validating the whole book after a market or config change.
func (s *Server) handleBacktestFund(w http.ResponseWriter, r *http.Request) {
	fundID, err := fundIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.requireManager(r, fundID); err != nil {
		s.writeError(w, err)
		return
	}
	list, err := s.store.Strategies.GetByFund(fundID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ids := make([]int64, len(list))
	for i, st := range list {
		ids[i] = st.ID
	}
	if len(ids) == 0 {
		s.writeJSON(w, http.StatusOK, []*domain.BacktestResult{})
		return
	}
	results, err := s.backtester.RunMany(r.Context(), ids)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, results)
}

func (s *Server) handleListBacktests(w http.ResponseWriter, r *http.Request) {
	st, err := s.loadStrategy(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	results, err := s.store.Strategies.GetBacktests(st.ID, queryInt(r, "limit", 20))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleStrategyTrades(w http.ResponseWriter, r *http.Request) {
	st, err := s.loadStrategy(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	trades, err := s.store.Strategies.GetStrategyTrades(st.ID, queryInt(r, "limit", 100))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

// --- custom strategies ---

type customRequest struct {
	FundID     int64              `json:"fundId"`
	Name       string             `json:"name"`
	Source     string             `json:"source"`
	Parameters map[string]float64 `json:"parameters"`
}

func (s *Server) loadCustom(r *http.Request) (*domain.CustomStrategy, error) {
	id, err := int64Param(r, "customID")
	if err != nil {
		return nil, err
	}
	cs, err := s.store.Strategies.GetCustomByID(id)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireManager(r, cs.FundID); err != nil {
		return nil, err
	}
	return cs, nil
}

func (s *Server) handleListCustom(w http.ResponseWriter, r *http.Request) {
	fundID := int64(queryInt(r, "fund_id", 0))
	if fundID <= 0 {
		s.writeInvalid(w, "fund_id query parameter required")
		return
	}
	if _, err := s.requireMember(r, fundID); err != nil {
		s.writeError(w, err)
		return
	}
	list, err := s.store.Strategies.GetCustomByFund(fundID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateCustom(w http.ResponseWriter, r *http.Request) {
	var req customRequest
	if err := decode(r, &req); err != nil {
		s.writeInvalid(w, "malformed body")
		return
	}
	if req.FundID <= 0 || strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Source) == "" {
		s.writeInvalid(w, "fundId, name and source are required")
		return
	}
	if _, err := s.requireManager(r, req.FundID); err != nil {
		s.writeError(w, err)
		return
	}

	now := time.Now().UTC()
	cs := &domain.CustomStrategy{
		FundID:     req.FundID,
		Name:       strings.TrimSpace(req.Name),
		Source:     req.Source,
		Parameters: req.Parameters,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Strategies.InsertCustom(cs); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, cs)
}

func (s *Server) handleGetCustom(w http.ResponseWriter, r *http.Request) {
	cs, err := s.loadCustom(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cs)
}

func (s *Server) handleUpdateCustom(w http.ResponseWriter, r *http.Request) {
	cs, err := s.loadCustom(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req customRequest
	if err := decode(r, &req); err != nil {
		s.writeInvalid(w, "malformed body")
		return
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		cs.Name = name
	}
	if src := strings.TrimSpace(req.Source); src != "" {
		cs.Source = req.Source
	}
	if req.Parameters != nil {
		cs.Parameters = req.Parameters
	}
	cs.UpdatedAt = time.Now().UTC()

	if err := s.store.Strategies.UpdateCustom(cs); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cs)
}

func (s *Server) handleDeleteCustom(w http.ResponseWriter, r *http.Request) {
	cs, err := s.loadCustom(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.Strategies.DeleteCustom(cs.ID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleTestCustom evaluates the custom source once against live market
// data and returns the verdict without booking anything.
func (s *Server) handleTestCustom(w http.ResponseWriter, r *http.Request) {
	cs, err := s.loadCustom(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req struct {
		Ticker   string `json:"ticker"`
		Interval string `json:"interval"`
	}
	if err := decode(r, &req); err != nil {
		s.writeInvalid(w, "malformed body")
		return
	}
	if req.Ticker == "" {
		s.writeInvalid(w, "ticker required")
		return
	}
	if req.Interval == "" {
		req.Interval = "1m"
	}

	candles, err := s.store.Candles.GetBySymbol(req.Ticker, req.Interval, 200)
	if err != nil {
		s.writeError(w, err)
		return
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	price := 0.0
	if tick, ok := s.engine.Quote(req.Ticker); ok {
		price = tick.Price
	}

	ctx := &strategies.EvalContext{
		Config: strategies.Config{Symbol: req.Ticker, Interval: req.Interval},
		State:  &strategies.State{},
		Closes: closes,
		Price:  price,
		ClosesFor: func(string) []float64 { return closes },
		PriceFor:  func(string) float64 { return price },
	}
	signal, err := s.sandbox.Evaluate(cs, ctx)
	if err != nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":    false,
			"error": fmt.Sprintf("evaluation failed: %v", err),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"signal": signal,
		"state":  ctx.State.Custom,
	})
}
