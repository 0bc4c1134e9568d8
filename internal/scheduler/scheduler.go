// Package scheduler runs the platform's named periodic tasks: news
// generation, the strategy runner, NAV snapshots, heartbeat sweeps and
// storage failback probes.
package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/simdesk/simdesk/internal/domain"
	"github.com/simdesk/simdesk/pkg/logger"
)

// Job is a named periodic task.
type Job interface {
	Run() error
	Name() string
}

// Scheduler manages background jobs.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New creates a new scheduler.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  logger.Component(log, "scheduler"),
	}
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job with a cron schedule.
// Schedule examples:
//   - "0 */5 * * * *"      - Every 5 minutes
//   - "@hourly"            - Every hour
//   - "@every 30s"         - Every 30 seconds
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() { s.runOnce(job) })
	if err != nil {
		return err
	}
	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")
	return nil
}

// AddEvery registers a job on a fixed sub-minute interval.
func (s *Scheduler) AddEvery(interval time.Duration, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive for job %s", job.Name())
	}
	return s.AddJob(fmt.Sprintf("@every %s", interval), job)
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return job.Run()
}

func (s *Scheduler) runOnce(job Job) {
	s.log.Debug().Str("job", job.Name()).Msg("Running job")

	if err := job.Run(); err != nil {
		// Storage-down skips are routine while the guard recovers.
		if errors.Is(err, domain.ErrStorageUnavailable) {
			s.log.Debug().Str("job", job.Name()).Msg("Job skipped, storage unavailable")
			return
		}
		s.log.Error().
			Err(err).
			Str("job", job.Name()).
			Msg("Job failed")
		return
	}
	s.log.Debug().Str("job", job.Name()).Msg("Job completed")
}
