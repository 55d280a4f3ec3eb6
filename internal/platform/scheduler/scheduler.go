// Package scheduler runs periodic background jobs on cron schedules (UTC).
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const defaultTimeout = 5 * time.Minute

// JobFunc is one run of a job. ctx is cancelled when the run times out or
// the scheduler stops.
type JobFunc func(ctx context.Context) error

type job struct {
	name    string
	spec    string
	fn      JobFunc
	timeout time.Duration
}

type Scheduler struct {
	cron   *cron.Cron
	logger zerolog.Logger

	mu     sync.Mutex
	jobs   map[string]*job
	ctx    context.Context
	cancel context.CancelFunc
}

func New(logger zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger.With().Str("component", "scheduler").Logger(),
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers fn under name with a standard five-field cron spec.
// A zero timeout means five minutes.
func (s *Scheduler) Add(name, spec string, timeout time.Duration, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %s already registered", name)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	j := &job{name: name, spec: spec, fn: fn, timeout: timeout}
	if _, err := s.cron.AddFunc(spec, func() { s.run(j) }); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.jobs[name] = j
	return nil
}

// RunNow runs a registered job synchronously, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s not registered", name)
	}
	return s.run(j)
}

func (s *Scheduler) run(j *job) error {
	ctx, cancel := context.WithTimeout(s.ctx, j.timeout)
	defer cancel()

	start := time.Now()
	err := j.fn(ctx)
	ev := s.logger.Info()
	if err != nil {
		ev = s.logger.Error().Err(err)
	}
	ev.Str("job", j.name).Dur("duration", time.Since(start)).Msg("job finished")
	return err
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("scheduler stopped")
}
