package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/simdesk/simdesk/internal/auth"
	"github.com/simdesk/simdesk/internal/config"
	"github.com/simdesk/simdesk/internal/database"
	"github.com/simdesk/simdesk/internal/domain"
	"github.com/simdesk/simdesk/internal/engine"
	"github.com/simdesk/simdesk/internal/events"
	"github.com/simdesk/simdesk/internal/fund"
	"github.com/simdesk/simdesk/internal/hub"
	"github.com/simdesk/simdesk/internal/matcher"
	"github.com/simdesk/simdesk/internal/repo"
	"github.com/simdesk/simdesk/internal/scheduler"
	"github.com/simdesk/simdesk/internal/server"
	"github.com/simdesk/simdesk/internal/strategies"
	"github.com/simdesk/simdesk/pkg/logger"
)

const (
	snapshotInterval    = time.Minute
	candleFlushInterval = 30 * time.Second
	probeInterval       = 15 * time.Second
	probeCooldown       = 30 * time.Second
	newsPollInterval    = 5 * time.Second
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New(logger.Config{Level: "info"})
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting SimDesk")

	// Initialize storage. The ledger endpoint is the primary; the pooler
	// endpoint is a second handle over the same data directory that the
	// guard fails over to when the primary misbehaves.
	primary, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "simdesk.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger-direct",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open primary database")
	}
	defer primary.Close()

	var fallback *database.DB
	if cfg.DB.FallbackEnabled {
		fallback, err = database.New(database.Config{
			Path:    filepath.Join(cfg.DataDir, "simdesk.db"),
			Profile: database.ProfileStandard,
			Name:    "ledger-pooler",
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open fallback database")
		}
		defer fallback.Close()
	}

	guard := database.NewGuard(primary, fallback, database.GuardConfig{
		ConnectMode:      cfg.DB.ConnectMode,
		FallbackEnabled:  cfg.DB.FallbackEnabled,
		RetryMaxAttempts: cfg.DB.RetryMaxAttempts,
		RetryBase:        cfg.DB.RetryBase,
		RetryMax:         cfg.DB.RetryMax,
		ProbeCooldown:    probeCooldown,
	}, log)

	store, err := repo.NewStore(guard, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize store")
	}

	// Background producers keep running on storage outages unless the
	// pause policy is on; persistence is skipped either way.
	storeHealthy := store.Healthy
	if !cfg.DB.PauseBackground {
		storeHealthy = nil
	}

	bus := events.NewBus(log)

	eng, err := engine.New(engine.Config{
		Instruments:  domain.DefaultUniverse(),
		TickInterval: cfg.TickInterval,
		Bus:          bus,
		Candles:      store.Candles,
		StoreHealthy: storeHealthy,
		Log:          log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize market engine")
	}

	news := engine.NewNewsGenerator(eng, engine.NewsConfig{
		MinGap:       cfg.NewsMinGap,
		MaxGap:       cfg.NewsMaxGap,
		Bus:          bus,
		Writer:       store.News,
		StoreHealthy: storeHealthy,
		Log:          log,
	})

	mtr := matcher.New(store, eng, bus, matcher.Config{
		MinOrderNotional: cfg.MinOrderNotional,
	}, log)

	secret := cfg.JWTSecret
	if secret == "" {
		// Only reachable in dev mode; config.Load rejects the empty
		// secret otherwise.
		secret = "simdesk-dev-secret"
		log.Warn().Msg("JWT_SECRET not set, using dev secret")
	}
	authSvc, err := auth.NewService(secret)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize auth service")
	}

	portfolio := server.NewPortfolioService(store, eng)

	wsHub := hub.New(authSvc, portfolio, bus, hub.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
	}, log)

	sandbox := strategies.NewSandbox(cfg.SandboxBudget, log)

	runner := strategies.NewRunner(store, eng, strategies.RunnerConfig{
		SandboxBudget: cfg.SandboxBudget,
	}, log)
	if err := runner.Hydrate(); err != nil {
		// A cold store at boot is survivable; the runner re-hydrates on
		// its first healthy pass.
		log.Warn().Err(err).Msg("Strategy book hydration deferred")
	}

	backtester := strategies.NewBacktester(store, eng, sandbox, log)
	fundSvc := fund.NewService(store, runner, log)

	// Start the real-time pipeline before the scheduler so the first
	// scheduled passes see live quotes.
	eng.Start()
	defer eng.Stop()
	mtr.Start()
	defer mtr.Stop()
	wsHub.Start()
	defer wsHub.Stop()

	// Initialize scheduler
	sched := scheduler.New(log)
	sched.Start()
	defer sched.Stop()

	if err := registerJobs(sched, cfg, runner, news, mtr, bus, wsHub, fundSvc, eng, guard); err != nil {
		log.Fatal().Err(err).Msg("Failed to register jobs")
	}

	// Initialize HTTP server
	srv := server.New(server.Deps{
		Config:     cfg,
		Log:        log,
		Store:      store,
		Engine:     eng,
		Matcher:    mtr,
		Hub:        wsHub,
		Auth:       authSvc,
		Runner:     runner,
		Backtester: backtester,
		Sandbox:    sandbox,
		Funds:      fundSvc,
		News:       news,
		Portfolio:  portfolio,
	})

	// Start server in goroutine
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Flush whatever candles accumulated since the last scheduled flush.
	if err := eng.FlushCandles(ctx); err != nil {
		log.Warn().Err(err).Msg("Final candle flush failed")
	}

	log.Info().Msg("Server stopped")
}

func registerJobs(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	runner *strategies.Runner,
	news *engine.NewsGenerator,
	mtr *matcher.Matcher,
	bus *events.Bus,
	wsHub *hub.Hub,
	fundSvc *fund.Service,
	eng *engine.Engine,
	guard *database.Guard,
) error {
	if err := sched.AddEvery(cfg.StrategyInterval, runner); err != nil {
		return err
	}
	// The generator keeps its own randomized gap; the schedule is just
	// how often it checks the clock.
	if err := sched.AddEvery(newsPollInterval, news); err != nil {
		return err
	}
	bookEvery := time.Duration(cfg.OrderbookEveryTicks) * cfg.TickInterval
	if bookEvery <= 0 {
		bookEvery = 2 * time.Second
	}
	if err := sched.AddEvery(bookEvery, matcher.NewBookBroadcast(mtr, bus)); err != nil {
		return err
	}
	if err := sched.AddEvery(cfg.HeartbeatInterval, wsHub); err != nil {
		return err
	}
	if err := sched.AddEvery(snapshotInterval, fund.NewSnapshotTask(fundSvc)); err != nil {
		return err
	}
	if err := sched.AddEvery(candleFlushInterval, &candleFlushJob{eng: eng}); err != nil {
		return err
	}
	return sched.AddEvery(probeInterval, &primaryProbeJob{guard: guard})
}

// candleFlushJob drains the engine's closed-candle buffer to storage.
type candleFlushJob struct {
	eng *engine.Engine
}

func (j *candleFlushJob) Name() string { return "candle-flush" }

func (j *candleFlushJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return j.eng.FlushCandles(ctx)
}

// primaryProbeJob asks the guard to try failing back to the direct
// endpoint. The guard itself enforces the cooldown.
type primaryProbeJob struct {
	guard *database.Guard
}

func (j *primaryProbeJob) Name() string { return "storage-probe" }

func (j *primaryProbeJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	j.guard.ProbePrimary(ctx)
	return nil
}
