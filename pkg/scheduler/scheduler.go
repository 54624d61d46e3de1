// Package scheduler runs in-process periodic jobs.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/omnibill/pkg/logger"
)

var (
	ErrJobAlreadyRegistered = errors.New("job already registered")
	ErrNoJobs               = errors.New("scheduler has no jobs")
	ErrInvalidClock         = errors.New("invalid clock time, expected HH:MM")
)

// JobFunc is the work a job performs.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	schedule Schedule
	fn       JobFunc
	next     time.Time
	running  atomic.Bool
}

// Scheduler checks its jobs on a ticker and starts the ones that are due.
// A job never overlaps with itself: a run that is due while the previous
// one is still going is skipped.
type Scheduler struct {
	mu       sync.Mutex
	jobs     map[string]*job
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger
	wg       sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithCheckInterval sets how often due jobs are looked for.
func WithCheckInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:     make(map[string]*job),
		interval: 30 * time.Second,
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob registers fn under name.
func (s *Scheduler) AddJob(name string, schedule Schedule, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; ok {
		return ErrJobAlreadyRegistered
	}
	s.jobs[name] = &job{name: name, schedule: schedule, fn: fn}
	s.log.Info("registered job", slog.String("job", name), slog.String("schedule", schedule.String()))
	return nil
}

// Start blocks until ctx is done, then waits for running jobs to return.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if len(s.jobs) == 0 {
		s.mu.Unlock()
		return ErrNoJobs
	}
	now := s.now()
	for _, j := range s.jobs {
		j.next = j.schedule.Next(now)
		s.log.Info("job scheduled", slog.String("job", j.name), slog.Time("next_run", j.next))
	}
	s.mu.Unlock()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if now.Before(j.next) {
			continue
		}
		j.next = j.schedule.Next(now)

		if !j.running.CompareAndSwap(false, true) {
			s.log.Warn("job still running, skipping", slog.String("job", j.name))
			continue
		}

		s.wg.Add(1)
		go s.run(ctx, j)
	}
}

func (s *Scheduler) run(ctx context.Context, j *job) {
	defer s.wg.Done()
	defer j.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			s.log.ErrorContext(ctx, "job panicked", slog.String("job", j.name), slog.Any("panic", r))
		}
	}()

	start := time.Now()
	if err := j.fn(ctx); err != nil {
		s.log.ErrorContext(ctx, "job failed", slog.String("job", j.name), logger.Error(err), logger.Duration(time.Since(start)))
		return
	}
	s.log.InfoContext(ctx, "job finished", slog.String("job", j.name), logger.Duration(time.Since(start)))
}
