package engine

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/simdesk/simdesk/internal/domain"
	"github.com/simdesk/simdesk/internal/events"
	"github.com/simdesk/simdesk/pkg/logger"
)

// NewsWriter persists generated news events.
type NewsWriter interface {
	InsertNews(ev domain.NewsEvent) error
}

// newsTemplate drives one event flavour. Impact ranges are percents; the
// sign is chosen by the template (misses are negative, beats positive).
type newsTemplate struct {
	kind       string
	severity   string
	marketWide bool
	headline   string // fmt with one %s for the symbol
	body       string
	impactMin  float64
	impactMax  float64
	negative   bool
	eitherSign bool
}

var newsTemplates = []newsTemplate{
	{
		kind: "earnings_beat", severity: "medium",
		headline:  "%s beats earnings expectations",
		body:      "Quarterly results came in ahead of consensus on both revenue and EPS.",
		impactMin: 1.5, impactMax: 5.0,
	},
	{
		kind: "earnings_miss", severity: "medium",
		headline:  "%s misses on earnings",
		body:      "Quarterly results fell short of consensus estimates.",
		impactMin: 2.0, impactMax: 6.0, negative: true,
	},
	{
		kind: "guidance", severity: "low",
		headline:  "%s revises forward guidance",
		body:      "Management updated its outlook for the coming quarters.",
		impactMin: 0.5, impactMax: 2.5, eitherSign: true,
	},
	{
		kind: "regulatory", severity: "high",
		headline:  "Regulators open inquiry into %s",
		body:      "A regulatory body announced a formal review of business practices.",
		impactMin: 4.0, impactMax: 9.0, negative: true,
	},
	{
		kind: "outage", severity: "high",
		headline:  "%s hit by major service outage",
		body:      "A widespread operational disruption is affecting customers.",
		impactMin: 3.0, impactMax: 7.0, negative: true,
	},
	{
		kind: "macro_print", severity: "medium", marketWide: true,
		headline:  "Surprise macro data print moves markets",
		body:      "An economic release came in well outside the expected range.",
		impactMin: 1.0, impactMax: 3.0, eitherSign: true,
	},
	{
		kind: "fed_decision", severity: "high", marketWide: true,
		headline:  "Central bank surprises with rate decision",
		body:      "The policy rate decision diverged sharply from market pricing.",
		impactMin: 2.0, impactMax: 5.0, eitherSign: true,
	},
}

// NewsConfig holds generator construction parameters.
type NewsConfig struct {
	MinGap         time.Duration
	MaxGap         time.Duration
	MarketWideMode string // MarketWideDeterministic or MarketWideStochastic
	Bus            *events.Bus
	Writer         NewsWriter // nil disables persistence
	StoreHealthy   func() bool
	Log            zerolog.Logger
	Seed           int64
}

// NewsGenerator fires templated market events on a randomized gap. It runs
// as a named periodic task; each Run checks whether the gap has elapsed.
type NewsGenerator struct {
	cfg    NewsConfig
	engine *Engine
	log    zerolog.Logger

	mu     sync.Mutex
	rng    *rand.Rand
	nextAt time.Time
}

// NewNewsGenerator wires a generator to the engine it shocks.
func NewNewsGenerator(engine *Engine, cfg NewsConfig) *NewsGenerator {
	if cfg.MinGap <= 0 {
		cfg.MinGap = 45 * time.Second
	}
	if cfg.MaxGap < cfg.MinGap {
		cfg.MaxGap = cfg.MinGap * 3
	}
	if cfg.MarketWideMode == "" {
		cfg.MarketWideMode = MarketWideDeterministic
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	g := &NewsGenerator{
		cfg:    cfg,
		engine: engine,
		log:    logger.Component(cfg.Log, "news"),
		rng:    rand.New(rand.NewSource(seed)),
	}
	g.nextAt = time.Now().Add(g.randomGap())
	return g
}

// Name identifies the periodic task.
func (g *NewsGenerator) Name() string { return "news-generator" }

// Run fires one event when the randomized gap has elapsed. Skips the firing
// (without rescheduling) while the store is unavailable so the event is not
// lost on the floor.
func (g *NewsGenerator) Run() error {
	g.mu.Lock()
	now := time.Now()
	if now.Before(g.nextAt) {
		g.mu.Unlock()
		return nil
	}
	if g.cfg.StoreHealthy != nil && !g.cfg.StoreHealthy() {
		g.mu.Unlock()
		return fmt.Errorf("news generation paused: %w", domain.ErrStorageUnavailable)
	}
	ev := g.build(now)
	g.nextAt = now.Add(g.randomGap())
	g.mu.Unlock()

	return g.publish(ev)
}

// Fire generates and publishes one event immediately. Used by tests and the
// admin trigger endpoint.
func (g *NewsGenerator) Fire() (domain.NewsEvent, error) {
	g.mu.Lock()
	ev := g.build(time.Now())
	g.mu.Unlock()
	return ev, g.publish(ev)
}

// build picks a template, target and impact. Caller holds the lock.
func (g *NewsGenerator) build(now time.Time) domain.NewsEvent {
	tpl := newsTemplates[g.rng.Intn(len(newsTemplates))]

	impact := tpl.impactMin + g.rng.Float64()*(tpl.impactMax-tpl.impactMin)
	if tpl.negative || (tpl.eitherSign && g.rng.Float64() < 0.5) {
		impact = -impact
	}

	symbol := domain.MarketWideSymbol
	headline := tpl.headline
	if !tpl.marketWide {
		universe := g.engine.Instruments()
		inst := universe[g.rng.Intn(len(universe))]
		symbol = inst.Symbol
		headline = fmt.Sprintf(tpl.headline, inst.Name)
	}

	return domain.NewsEvent{
		ID:          uuid.NewString(),
		Symbol:      symbol,
		Type:        tpl.kind,
		Severity:    tpl.severity,
		Headline:    headline,
		Body:        tpl.body,
		PriceImpact: impact,
		FiredAt:     now.UTC(),
	}
}

// publish applies the shock, persists the row and emits the bus event.
func (g *NewsGenerator) publish(ev domain.NewsEvent) error {
	fraction := ev.PriceImpact / 100

	if ev.Symbol == domain.MarketWideSymbol {
		g.engine.ApplyMarketShock(fraction, g.cfg.MarketWideMode)
	} else if err := g.engine.ApplyShock(ev.Symbol, fraction); err != nil {
		return fmt.Errorf("failed to apply news shock: %w", err)
	}

	if ev.Severity == "high" {
		g.engine.ForceShock(0)
	}

	if g.cfg.Writer != nil {
		if err := g.cfg.Writer.InsertNews(ev); err != nil {
			g.log.Error().Err(err).Str("news_id", ev.ID).Msg("Failed to persist news event")
		}
	}

	if g.cfg.Bus != nil {
		g.cfg.Bus.Emit(&events.NewsData{Event: ev})
	}

	g.log.Info().
		Str("type", ev.Type).
		Str("ticker", ev.Symbol).
		Str("severity", ev.Severity).
		Float64("impact_pct", ev.PriceImpact).
		Msg("News event fired")
	return nil
}

func (g *NewsGenerator) randomGap() time.Duration {
	span := g.cfg.MaxGap - g.cfg.MinGap
	if span <= 0 {
		return g.cfg.MinGap
	}
	return g.cfg.MinGap + time.Duration(g.rng.Int63n(int64(span)))
}
