package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simdesk/simdesk/internal/domain"
	"github.com/simdesk/simdesk/internal/events"
)

func testUniverse() []domain.Instrument {
	return []domain.Instrument{
		{
			Symbol: "ACME", Name: "Acme Corp", Decimals: 2,
			BaseSpreadBps: 5, ImpactCoeff: 10, ADV: 50_000_000,
			CommissionBps: 5, CommissionMin: 1, BorrowAPR: 0.05,
			StartPrice: 100, VolTarget: 0.002,
		},
		{
			Symbol: "GLD", Name: "Gold Proxy", Decimals: 2,
			BaseSpreadBps: 3, ImpactCoeff: 6, ADV: 80_000_000,
			CommissionBps: 4, CommissionMin: 1, BorrowAPR: 0.03,
			StartPrice: 2000, VolTarget: 0.001, SafeHaven: true,
		},
	}
}

type memCandleWriter struct {
	mu      sync.Mutex
	written []domain.Candle
	fail    error
}

func (w *memCandleWriter) UpsertClosed(c domain.Candle) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail != nil {
		return w.fail
	}
	w.written = append(w.written, c)
	return nil
}

func (w *memCandleWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.written)
}

func newTestEngine(t *testing.T, writer CandleWriter, healthy func() bool, bus *events.Bus) *Engine {
	t.Helper()
	e, err := New(Config{
		Instruments:  testUniverse(),
		TickInterval: time.Second,
		Bus:          bus,
		Candles:      writer,
		StoreHealthy: healthy,
		Log:          zerolog.Nop(),
		Seed:         7,
	})
	require.NoError(t, err)
	return e
}

func TestNewRequiresInstruments(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestTickPassQuoteInvariants(t *testing.T) {
	e := newTestEngine(t, nil, nil, nil)
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)

	for i := 0; i < 50; i++ {
		e.tickPass(now.Add(time.Duration(i) * time.Second))
	}

	for _, tick := range e.Snapshot() {
		assert.Less(t, tick.Bid, tick.Ask, "%s spread must be positive", tick.Symbol)
		assert.GreaterOrEqual(t, tick.Price, tick.Bid)
		assert.LessOrEqual(t, tick.Price, tick.Ask)
		assert.GreaterOrEqual(t, tick.High, tick.Low)
		assert.GreaterOrEqual(t, tick.High, tick.Price)
		assert.LessOrEqual(t, tick.Low, tick.Price)
		assert.Positive(t, tick.Volume, "volume accumulates over the session")
		assert.Positive(t, tick.Price)
	}
}

func TestTickPassEmitsBatch(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	var batches []*events.TickBatchData
	bus.Subscribe(events.TickBatchEmitted, func(ev *events.Event) {
		batches = append(batches, ev.Data.(*events.TickBatchData))
	})

	e := newTestEngine(t, nil, nil, bus)
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	e.tickPass(now)
	e.tickPass(now.Add(time.Second))

	require.Len(t, batches, 2)
	assert.Len(t, batches[0].Ticks, 2, "one tick per instrument")
	assert.Equal(t, uint64(1), batches[0].Pass)
	assert.Equal(t, uint64(2), batches[1].Pass, "pass counter is monotonic")
}

func TestSessionRollResetsDayState(t *testing.T) {
	e := newTestEngine(t, nil, nil, nil)
	day1 := time.Date(2025, 6, 2, 23, 59, 54, 0, time.UTC)
	for i := 0; i < 5; i++ {
		e.tickPass(day1.Add(time.Duration(i) * time.Second))
	}

	preRoll, _ := e.Quote("ACME")
	require.Positive(t, preRoll.Volume)

	e.tickPass(day1.Add(6 * time.Second)) // crosses UTC midnight
	postRoll, _ := e.Quote("ACME")

	assert.Less(t, postRoll.Volume, preRoll.Volume, "session volume resets at midnight")
	assert.Equal(t, preRoll.Price, postRoll.PrevClose, "yesterday's last becomes prev close")
}

func TestApplyShock(t *testing.T) {
	e := newTestEngine(t, nil, nil, nil)

	err := e.ApplyShock("NOPE", 0.05)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	before, _ := e.Quote("ACME")
	require.NoError(t, e.ApplyShock("ACME", -0.08))
	after, _ := e.Quote("ACME")

	assert.InDelta(t, before.Price*0.92, after.Price, before.Price*0.001)
}

func TestApplyMarketShockSafeHavenInverts(t *testing.T) {
	e := newTestEngine(t, nil, nil, nil)

	acmeBefore, _ := e.Quote("ACME")
	gldBefore, _ := e.Quote("GLD")

	e.ApplyMarketShock(-0.10, MarketWideDeterministic)

	acmeAfter, _ := e.Quote("ACME")
	gldAfter, _ := e.Quote("GLD")

	assert.Less(t, acmeAfter.Price, acmeBefore.Price, "risk assets fall with the tape")
	assert.Greater(t, gldAfter.Price, gldBefore.Price, "safe havens catch the bid")
}

func TestForceShockChangesRegime(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	var changes []*events.RegimeChangedData
	bus.Subscribe(events.RegimeChanged, func(ev *events.Event) {
		changes = append(changes, ev.Data.(*events.RegimeChangedData))
	})

	e := newTestEngine(t, nil, nil, bus)
	e.ForceShock(time.Minute)

	assert.Equal(t, domain.RegimeEventShock, e.Regime())
	require.Len(t, changes, 1)
	assert.Equal(t, domain.RegimeNormal, changes[0].From)
	assert.Equal(t, domain.RegimeEventShock, changes[0].To)

	// Forcing again while shocked emits nothing new.
	e.ForceShock(time.Minute)
	assert.Len(t, changes, 1)
}

func TestFlushCandles(t *testing.T) {
	writer := &memCandleWriter{}
	e := newTestEngine(t, writer, nil, nil)

	base := time.Date(2025, 6, 2, 14, 0, 59, 0, time.UTC)
	e.tickPass(base)
	e.tickPass(base.Add(time.Second)) // minute rollover closes 1m candles
	require.Positive(t, e.PendingCandles())

	require.NoError(t, e.FlushCandles(context.Background()))
	assert.Zero(t, e.PendingCandles())
	assert.Positive(t, writer.count())
}

func TestFlushCandlesPausedWhileStoreDown(t *testing.T) {
	writer := &memCandleWriter{}
	healthy := false
	e := newTestEngine(t, writer, func() bool { return healthy }, nil)

	base := time.Date(2025, 6, 2, 14, 0, 59, 0, time.UTC)
	e.tickPass(base)
	e.tickPass(base.Add(time.Second))
	pending := e.PendingCandles()
	require.Positive(t, pending)

	err := e.FlushCandles(context.Background())
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.Equal(t, pending, e.PendingCandles(), "backlog is retained for retry")

	healthy = true
	require.NoError(t, e.FlushCandles(context.Background()))
	assert.Zero(t, e.PendingCandles())
	assert.Equal(t, pending, writer.count())
}

func TestFlushCandlesRequeuesOnWriteError(t *testing.T) {
	writer := &memCandleWriter{fail: errors.New("database is locked")}
	e := newTestEngine(t, writer, nil, nil)

	base := time.Date(2025, 6, 2, 14, 0, 59, 0, time.UTC)
	e.tickPass(base)
	e.tickPass(base.Add(time.Second))
	pending := e.PendingCandles()
	require.Positive(t, pending)

	assert.Error(t, e.FlushCandles(context.Background()))
	assert.Equal(t, pending, e.PendingCandles())
}
