package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ErrRunInProgress is returned when a run is triggered while one is active.
var ErrRunInProgress = errors.New("run already in progress")

// RunFunc performs one scheduled run.
type RunFunc func(ctx context.Context) error

// Scheduler triggers runs on a cron schedule. Runs never overlap: a tick
// that fires while a run is active is skipped, so the store keeps a single
// writer.
type Scheduler struct {
	run    RunFunc
	cron   *cron.Cron
	logger zerolog.Logger

	running sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler evaluating cron specs in loc.
func NewScheduler(run RunFunc, loc *time.Location, logger *zerolog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "scheduler").Logger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		run:    run,
		cron:   cron.New(cron.WithLocation(loc)),
		logger: l,
		ctx:    ctx,
		cancel: cancel,
	}
}

// ParseSchedule validates a standard five-field cron spec or descriptor.
func ParseSchedule(spec string) (cron.Schedule, error) {
	return cron.ParseStandard(spec)
}

// Start registers spec and starts the cron loop.
func (s *Scheduler) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return err
	}
	s.cron.Start()

	entries := s.cron.Entries()
	ev := s.logger.Info().Str("schedule", spec)
	if len(entries) > 0 {
		ev = ev.Time("next", entries[0].Next)
	}
	ev.Msg("scheduler started")
	return nil
}

// Stop cancels an active run, stops the cron loop and waits for the run
// to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.running.Lock()
	defer s.running.Unlock()
	s.logger.Info().Msg("scheduler stopped")
}

// RunNow performs a run synchronously. It returns ErrRunInProgress when a
// run is already active.
func (s *Scheduler) RunNow(ctx context.Context) error {
	if !s.running.TryLock() {
		return ErrRunInProgress
	}
	defer s.running.Unlock()
	return s.run(ctx)
}

func (s *Scheduler) tick() {
	start := time.Now()
	err := s.RunNow(s.ctx)
	switch {
	case errors.Is(err, ErrRunInProgress):
		s.logger.Warn().Msg("previous run still active, tick skipped")
	case err != nil:
		s.logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("scheduled run failed")
	default:
		s.logger.Info().Dur("duration", time.Since(start)).Msg("scheduled run finished")
	}
}
