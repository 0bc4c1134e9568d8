package testing

import "sync"

// StaticPnL is a fixed per-fund P&L source for NAV tests.
type StaticPnL struct {
	mu  sync.RWMutex
	pnl map[int64]float64
}

// NewStaticPnL creates an empty P&L source. Unset funds read as zero.
func NewStaticPnL() *StaticPnL {
	return &StaticPnL{pnl: make(map[int64]float64)}
}

// Set fixes the P&L for a fund.
func (s *StaticPnL) Set(fundID int64, pnl float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pnl[fundID] = pnl
}

// FundPnL implements fund.PnLSource.
func (s *StaticPnL) FundPnL(fundID int64) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pnl[fundID]
}
