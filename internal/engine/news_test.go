package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simdesk/simdesk/internal/domain"
	"github.com/simdesk/simdesk/internal/events"
)

type memNewsWriter struct {
	mu     sync.Mutex
	events []domain.NewsEvent
}

func (w *memNewsWriter) InsertNews(ev domain.NewsEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, ev)
	return nil
}

func TestNewsFirePublishesPersistsAndShocks(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	var published []*events.NewsData
	bus.Subscribe(events.NewsPublished, func(ev *events.Event) {
		published = append(published, ev.Data.(*events.NewsData))
	})

	eng := newTestEngine(t, nil, nil, nil)
	writer := &memNewsWriter{}
	gen := NewNewsGenerator(eng, NewsConfig{
		MinGap: time.Minute,
		MaxGap: 2 * time.Minute,
		Bus:    bus,
		Writer: writer,
		Log:    zerolog.Nop(),
		Seed:   11,
	})

	ev, err := gen.Fire()
	require.NoError(t, err)

	assert.NotEmpty(t, ev.ID)
	assert.NotEmpty(t, ev.Headline)
	assert.NotZero(t, ev.PriceImpact)

	require.Len(t, writer.events, 1)
	assert.Equal(t, ev.ID, writer.events[0].ID)
	require.Len(t, published, 1)
	assert.Equal(t, ev.ID, published[0].Event.ID)

	if ev.Severity == "high" {
		assert.Equal(t, domain.RegimeEventShock, eng.Regime(), "high severity forces the shock regime")
	}
}

func TestNewsRunHonoursGap(t *testing.T) {
	eng := newTestEngine(t, nil, nil, nil)
	writer := &memNewsWriter{}
	gen := NewNewsGenerator(eng, NewsConfig{
		MinGap: time.Hour,
		MaxGap: 2 * time.Hour,
		Writer: writer,
		Log:    zerolog.Nop(),
		Seed:   11,
	})

	require.NoError(t, gen.Run())
	assert.Empty(t, writer.events, "gap has not elapsed yet")

	gen.mu.Lock()
	gen.nextAt = time.Now().Add(-time.Second)
	gen.mu.Unlock()

	require.NoError(t, gen.Run())
	assert.Len(t, writer.events, 1)

	require.NoError(t, gen.Run())
	assert.Len(t, writer.events, 1, "gap rearms after firing")
}

func TestNewsRunPausedWhileStoreDown(t *testing.T) {
	eng := newTestEngine(t, nil, nil, nil)
	writer := &memNewsWriter{}
	gen := NewNewsGenerator(eng, NewsConfig{
		MinGap:       time.Hour,
		MaxGap:       2 * time.Hour,
		Writer:       writer,
		StoreHealthy: func() bool { return false },
		Log:          zerolog.Nop(),
		Seed:         11,
	})

	gen.mu.Lock()
	gen.nextAt = time.Now().Add(-time.Second)
	gen.mu.Unlock()

	err := gen.Run()
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.Empty(t, writer.events, "nothing fires while the store is down")
}
