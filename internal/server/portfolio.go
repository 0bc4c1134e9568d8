package server

import (
	"sort"

	"github.com/simdesk/simdesk/internal/domain"
	"github.com/simdesk/simdesk/internal/engine"
	"github.com/simdesk/simdesk/internal/repo"
)

// PortfolioService assembles per-user portfolio views. It also backs the
// snapshot the hub pushes right after authentication.
type PortfolioService struct {
	store  *repo.Store
	engine *engine.Engine
}

func NewPortfolioService(store *repo.Store, eng *engine.Engine) *PortfolioService {
	return &PortfolioService{store: store, engine: eng}
}

// Portfolio returns cash, positions and open orders for one user.
func (p *PortfolioService) Portfolio(userID int64) (float64, []domain.Position, []domain.Order, error) {
	user, err := p.store.Users.GetByID(userID)
	if err != nil {
		return 0, nil, nil, err
	}
	positions, err := p.store.Positions.GetByUser(userID)
	if err != nil {
		return 0, nil, nil, err
	}
	orders, err := p.store.Orders.GetOpenByUser(userID)
	if err != nil {
		return 0, nil, nil, err
	}
	return user.Cash, positions, orders, nil
}

// PositionView is a position marked to the live quote.
type PositionView struct {
	domain.Position
	MarkPrice     float64 `json:"markPrice"`
	MarketValue   float64 `json:"marketValue"`
	UnrealizedPnL float64 `json:"unrealizedPnl"`
}

// Stats is the portfolio rollup for one user.
type Stats struct {
	Cash          float64        `json:"cash"`
	StartingCash  float64        `json:"startingCash"`
	Equity        float64        `json:"equity"`
	MarketValue   float64        `json:"marketValue"`
	RealizedPnL   float64        `json:"realizedPnl"`
	UnrealizedPnL float64        `json:"unrealizedPnl"`
	TotalCosts    float64        `json:"totalCosts"`
	ReturnPct     float64        `json:"returnPct"`
	Positions     []PositionView `json:"positions"`
}

// Stats values every position at the live quote and folds in the trade
// ledger's realized P&L.
func (p *PortfolioService) Stats(userID int64) (*Stats, error) {
	user, err := p.store.Users.GetByID(userID)
	if err != nil {
		return nil, err
	}
	positions, err := p.store.Positions.GetByUser(userID)
	if err != nil {
		return nil, err
	}
	realized, costs, err := p.store.Trades.RealizedPnL(userID)
	if err != nil {
		return nil, err
	}

	st := &Stats{
		Cash:         user.Cash,
		StartingCash: user.StartingCash,
		RealizedPnL:  realized,
		TotalCosts:   costs,
		Positions:    make([]PositionView, 0, len(positions)),
	}
	for _, pos := range positions {
		mark := pos.AvgCost
		if tick, ok := p.engine.Quote(pos.Symbol); ok && tick.Price > 0 {
			mark = tick.Price
		}
		view := PositionView{
			Position:    pos,
			MarkPrice:   mark,
			MarketValue: pos.Qty * mark,
		}
		if pos.Qty >= 0 {
			view.UnrealizedPnL = (mark - pos.AvgCost) * pos.Qty
		} else {
			view.UnrealizedPnL = (pos.AvgCost - mark) * -pos.Qty
		}
		st.MarketValue += view.MarketValue
		st.UnrealizedPnL += view.UnrealizedPnL
		st.Positions = append(st.Positions, view)
	}

	st.Equity = st.Cash + st.MarketValue
	if user.StartingCash > 0 {
		st.ReturnPct = (st.Equity/user.StartingCash - 1) * 100
	}
	return st, nil
}

// LeaderboardEntry ranks a user by total return.
type LeaderboardEntry struct {
	UserID    int64   `json:"userId"`
	Username  string  `json:"username"`
	Equity    float64 `json:"equity"`
	ReturnPct float64 `json:"returnPct"`
}

// Leaderboard ranks all users by return on starting cash.
func (p *PortfolioService) Leaderboard() ([]LeaderboardEntry, error) {
	users, err := p.store.Users.GetAll()
	if err != nil {
		return nil, err
	}

	out := make([]LeaderboardEntry, 0, len(users))
	for _, u := range users {
		positions, err := p.store.Positions.GetByUser(u.ID)
		if err != nil {
			return nil, err
		}
		equity := u.Cash
		for _, pos := range positions {
			mark := pos.AvgCost
			if tick, ok := p.engine.Quote(pos.Symbol); ok && tick.Price > 0 {
				mark = tick.Price
			}
			equity += pos.Qty * mark
		}
		entry := LeaderboardEntry{UserID: u.ID, Username: u.Username, Equity: equity}
		if u.StartingCash > 0 {
			entry.ReturnPct = (equity/u.StartingCash - 1) * 100
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReturnPct > out[j].ReturnPct })
	return out, nil
}
