package orderbook

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simdesk/simdesk/internal/domain"
)

func bookInstrument() domain.Instrument {
	return domain.Instrument{Symbol: "ACME", Decimals: 2}
}

func bookTick() domain.Tick {
	return domain.Tick{
		Symbol:     "ACME",
		Price:      100,
		Bid:        99.95,
		Ask:        100.05,
		Volatility: 0.002,
		Timestamp:  time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC).UnixMilli(),
	}
}

func TestBuildShape(t *testing.T) {
	b := NewBuilder(rand.NewSource(1))
	snap := b.Build(bookInstrument(), bookTick(), nil)

	require.Len(t, snap.Bids, levelsPerSide)
	require.Len(t, snap.Asks, levelsPerSide)
	assert.InDelta(t, 100.0, snap.Mid, 1e-9)
	assert.InDelta(t, 0.10, snap.Spread, 1e-9)

	for i := 1; i < len(snap.Bids); i++ {
		assert.Greater(t, snap.Bids[i-1].Price, snap.Bids[i].Price, "bids sorted descending")
	}
	for i := 1; i < len(snap.Asks); i++ {
		assert.Less(t, snap.Asks[i-1].Price, snap.Asks[i].Price, "asks sorted ascending")
	}
	assert.Less(t, snap.Bids[0].Price, snap.Mid)
	assert.Greater(t, snap.Asks[0].Price, snap.Mid)
	for _, lv := range append(snap.Bids, snap.Asks...) {
		assert.Equal(t, "synthetic", lv.Source)
		assert.GreaterOrEqual(t, lv.Qty, 0.0)
	}
}

func TestBuildDeterministicForSeed(t *testing.T) {
	a := NewBuilder(rand.NewSource(42)).Build(bookInstrument(), bookTick(), nil)
	b := NewBuilder(rand.NewSource(42)).Build(bookInstrument(), bookTick(), nil)
	assert.Equal(t, a, b, "same seed and inputs build the same book")
}

func TestBuildFoldsUserLimits(t *testing.T) {
	b := NewBuilder(rand.NewSource(1))
	far := 90.0
	orders := []domain.Order{
		{Symbol: "ACME", Side: domain.SideBuy, Qty: 500, LimitPrice: &far, Status: domain.OrderOpen},
	}

	snap := b.Build(bookInstrument(), bookTick(), orders)

	// A limit far below the synthetic band appends a user-tagged level,
	// then depth trimming keeps the ten best bids.
	found := false
	for _, lv := range snap.Bids {
		if lv.Source == "user" {
			found = true
			assert.Equal(t, far, lv.Price)
			assert.Equal(t, 500.0, lv.Qty)
		}
	}
	if !found {
		assert.Len(t, snap.Bids, levelsPerSide, "user level beyond the visible depth was trimmed")
	}
}

func TestBuildMergesNearbyUserLimit(t *testing.T) {
	b := NewBuilder(rand.NewSource(1))
	tick := bookTick()
	inst := bookInstrument()

	base := b.Build(inst, tick, nil)
	target := base.Bids[2].Price
	baseQty := base.Bids[2].Qty

	limit := target
	orders := []domain.Order{
		{Symbol: "ACME", Side: domain.SideBuy, Qty: 250, LimitPrice: &limit, Status: domain.OrderOpen},
	}
	// Same seed, fresh builder, so the synthetic levels repeat.
	merged := NewBuilder(rand.NewSource(1)).Build(inst, tick, orders)

	assert.InDelta(t, baseQty+250, merged.Bids[2].Qty, 1e-9, "on-level user qty merges into the synthetic level")
	assert.Len(t, merged.Bids, levelsPerSide)
}

func TestBuildSkipsFilledAndUnpricedOrders(t *testing.T) {
	b := NewBuilder(rand.NewSource(1))
	limit := 99.0
	orders := []domain.Order{
		{Symbol: "ACME", Side: domain.SideSell, Qty: 100, FilledQty: 100, LimitPrice: &limit, Status: domain.OrderFilled},
		{Symbol: "ACME", Side: domain.SideSell, Qty: 100, Status: domain.OrderOpen}, // market order, no limit
	}
	snap := b.Build(bookInstrument(), bookTick(), orders)
	for _, lv := range snap.Asks {
		assert.Equal(t, "synthetic", lv.Source)
	}
}

func TestDepthAt(t *testing.T) {
	b := NewBuilder(rand.NewSource(1))
	snap := b.Build(bookInstrument(), bookTick(), nil)

	// Nearest ask level to its own price returns that level's qty.
	assert.Equal(t, snap.Asks[3].Qty, snap.DepthAt(domain.SideBuy, snap.Asks[3].Price))
	assert.Equal(t, snap.Bids[0].Qty, snap.DepthAt(domain.SideSell, snap.Bids[0].Price))

	empty := Snapshot{}
	assert.Zero(t, empty.DepthAt(domain.SideBuy, 100))
}
