package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleTickers returns every instrument with its live quote and the
// market regime.
func (s *Server) handleTickers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"regime":  s.engine.Regime(),
		"tickers": s.engine.Snapshot(),
	})
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	interval := r.URL.Query().Get("interval")
	if interval == "" {
		interval = "1m"
	}
	limit := queryInt(r, "limit", 200)

	candles, err := s.store.Candles.GetBySymbol(symbol, interval, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	// The still-forming candle completes the right edge of a chart.
	if current, ok := s.engine.CurrentCandle(symbol, interval); ok {
		candles = append(candles, current)
	}
	s.writeJSON(w, http.StatusOK, candles)
}

func (s *Server) handleOrderbook(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	snap, err := s.matcher.Orderbook(symbol)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	if ticker := r.URL.Query().Get("ticker"); ticker != "" {
		items, err := s.store.News.GetByTicker(ticker, limit)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, items)
		return
	}

	items, err := s.store.News.GetRecent(limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, items)
}
