package engine

import (
	"time"

	"github.com/simdesk/simdesk/internal/domain"
)

// Intervals lists the candle intervals the engine aggregates, shortest first.
var Intervals = []string{"1m", "5m", "15m", "1h", "4h", "1d"}

var intervalDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
}

// ValidInterval reports whether s is a supported candle interval.
func ValidInterval(s string) bool {
	_, ok := intervalDurations[s]
	return ok
}

// alignOpenTime floors a unix-ms timestamp to the interval boundary.
func alignOpenTime(tsMs int64, interval string) int64 {
	ms := intervalDurations[interval].Milliseconds()
	return tsMs - tsMs%ms
}

// aggregator maintains the in-flight candle per (symbol, interval).
// Closed candles are returned from Apply and become immutable.
type aggregator struct {
	current map[string]map[string]*domain.Candle // symbol -> interval -> candle
}

func newAggregator() *aggregator {
	return &aggregator{current: make(map[string]map[string]*domain.Candle)}
}

// Apply folds one tick into every interval's current candle and returns
// any candles that rolled over (now closed and ready for persistence).
// volDelta is this tick's traded volume (tick.Volume itself is the running
// day total).
func (a *aggregator) Apply(t domain.Tick, volDelta float64) []domain.Candle {
	byInterval := a.current[t.Symbol]
	if byInterval == nil {
		byInterval = make(map[string]*domain.Candle, len(Intervals))
		a.current[t.Symbol] = byInterval
	}

	var closed []domain.Candle
	for _, interval := range Intervals {
		open := alignOpenTime(t.Timestamp, interval)
		c := byInterval[interval]
		if c == nil || c.OpenTime != open {
			if c != nil {
				closed = append(closed, *c)
			}
			byInterval[interval] = &domain.Candle{
				Symbol:   t.Symbol,
				Interval: interval,
				OpenTime: open,
				Open:     t.Price,
				High:     t.Price,
				Low:      t.Price,
				Close:    t.Price,
				Volume:   volDelta,
			}
			continue
		}
		if t.Price > c.High {
			c.High = t.Price
		}
		if t.Price < c.Low {
			c.Low = t.Price
		}
		c.Close = t.Price
		c.Volume += volDelta
	}
	return closed
}

// Current returns a copy of the in-flight candle without mutating it.
func (a *aggregator) Current(symbol, interval string) (domain.Candle, bool) {
	if byInterval, ok := a.current[symbol]; ok {
		if c, ok := byInterval[interval]; ok {
			return *c, true
		}
	}
	return domain.Candle{}, false
}
