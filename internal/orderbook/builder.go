// Package orderbook synthesises depth-of-market snapshots around the
// engine's mid price and folds open user limit orders into the levels.
package orderbook

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/simdesk/simdesk/internal/domain"
)

const levelsPerSide = 10

// Level is one price level on a side. Source is "synthetic" or "user".
type Level struct {
	Price  float64 `json:"price"`
	Qty    float64 `json:"qty"`
	Source string  `json:"source"`
}

// Snapshot is one built book. Bids are sorted descending by price, asks
// ascending.
type Snapshot struct {
	Symbol    string  `json:"ticker"`
	Bids      []Level `json:"bids"`
	Asks      []Level `json:"asks"`
	Spread    float64 `json:"spread"`
	Mid       float64 `json:"mid"`
	Timestamp int64   `json:"timestamp"` // unix ms
}

// Builder constructs snapshots. The rand source is injected so tests can
// pin the synthetic quantities. Safe for concurrent use.
type Builder struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewBuilder returns a builder over the given source. A nil source seeds
// from the clock.
func NewBuilder(src rand.Source) *Builder {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Builder{rng: rand.New(src)}
}

// Build synthesises the book for one symbol from the current tick and the
// symbol's open user limit orders.
func (b *Builder) Build(inst domain.Instrument, tick domain.Tick, userLimits []domain.Order) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	mid := (tick.Bid + tick.Ask) / 2
	if mid <= 0 {
		mid = tick.Price
	}

	step := math.Max(mid*tick.Volatility*0.015, math.Pow(10, -float64(inst.Decimals)))

	bids := make([]Level, 0, levelsPerSide+2)
	asks := make([]Level, 0, levelsPerSide+2)
	for i := 1; i <= levelsPerSide; i++ {
		qty := math.Floor(float64(800-50*i) * (0.5 + b.rng.Float64()))
		bids = append(bids, Level{Price: mid - float64(i)*step, Qty: qty, Source: "synthetic"})
		asks = append(asks, Level{Price: mid + float64(i)*step, Qty: qty, Source: "synthetic"})
	}

	for i := range userLimits {
		o := &userLimits[i]
		if o.LimitPrice == nil || o.Remaining() <= 0 {
			continue
		}
		if o.Side == domain.SideBuy {
			bids = fold(bids, *o.LimitPrice, o.Remaining(), step)
		} else {
			asks = fold(asks, *o.LimitPrice, o.Remaining(), step)
		}
	}

	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })
	if len(bids) > levelsPerSide {
		bids = bids[:levelsPerSide]
	}
	if len(asks) > levelsPerSide {
		asks = asks[:levelsPerSide]
	}

	return Snapshot{
		Symbol:    tick.Symbol,
		Bids:      bids,
		Asks:      asks,
		Spread:    tick.Ask - tick.Bid,
		Mid:       mid,
		Timestamp: tick.Timestamp,
	}
}

// DepthAt returns the synthetic quantity available at the level nearest
// price, used by the matcher's partial-fill policy for limit orders.
func (s *Snapshot) DepthAt(side domain.OrderSide, price float64) float64 {
	// A buy order consumes the ask side, a sell consumes bids.
	levels := s.Asks
	if side == domain.SideSell {
		levels = s.Bids
	}
	best := -1
	bestDist := math.Inf(1)
	for i, lv := range levels {
		if d := math.Abs(lv.Price - price); d < bestDist {
			bestDist = d
			best = i
		}
	}
	if best < 0 {
		return 0
	}
	return levels[best].Qty
}

// fold merges a user limit into the nearest level when within half a step,
// otherwise appends a user-tagged level.
func fold(levels []Level, price, qty, step float64) []Level {
	for i := range levels {
		if math.Abs(levels[i].Price-price) <= 0.5*step {
			levels[i].Qty += qty
			return levels
		}
	}
	return append(levels, Level{Price: price, Qty: qty, Source: "user"})
}
