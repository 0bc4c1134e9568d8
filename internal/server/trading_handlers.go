package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/simdesk/simdesk/internal/matcher"
)

// handlePlaceOrder accepts an order and returns it with the estimated
// execution breakdown.
func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req matcher.PlaceRequest
	if err := decode(r, &req); err != nil {
		s.writeInvalid(w, "malformed body")
		return
	}

	order, estimate, err := s.matcher.PlaceOrder(principal(r).UserID, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"order":    order,
		"estimate": estimate,
	})
}

func (s *Server) handleOpenOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.Orders.GetOpenByUser(principal(r).UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if err := s.matcher.Cancel(orderID, principal(r).UserID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.store.Positions.GetByUser(principal(r).UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.Trades.GetByUser(principal(r).UserID, queryInt(r, "limit", 50))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	cash, positions, openOrders, err := s.portfolio.Portfolio(principal(r).UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"cash":       cash,
		"positions":  positions,
		"openOrders": openOrders,
	})
}

func (s *Server) handlePortfolioStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.portfolio.Stats(principal(r).UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := s.portfolio.Leaderboard()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, board)
}
