// Package retention runs the daily maintenance sweep: topic cache eviction,
// mapping purge and flood-window cleanup.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"relaygate/internal/platform/metrics"
	"relaygate/pkg/requestcontext"
)

// Job is one independent maintenance task. Run returns how many items it
// removed.
type Job struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

// Report is the result of one job run.
type Report struct {
	Job      string `json:"job"`
	Affected int64  `json:"affected"`
	Error    string `json:"error,omitempty"`
}

type Scheduler struct {
	hour, minute int
	jobs         []Job
	now          func() time.Time
	after        func(time.Duration) <-chan time.Time
	logger       *slog.Logger
	metrics      *metrics.Metrics
	mu           sync.Mutex
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithClock replaces time.Now and time.After. The location of the times now
// returns decides what "daily at HH:MM" means.
func WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
		s.after = after
	}
}

// New returns a scheduler that fires every day at hour:minute local time.
func New(hour, minute int, opts ...Option) (*Scheduler, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("invalid run time %02d:%02d", hour, minute)
	}
	s := &Scheduler{
		hour:   hour,
		minute: minute,
		now:    time.Now,
		after:  time.After,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register adds jobs. Jobs run in registration order.
func (s *Scheduler) Register(jobs ...Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, jobs...)
}

// NextRun returns the first hour:minute strictly after now, in now's location.
func NextRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Run fires the jobs at every daily boundary until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		now := s.now()
		next := NextRun(now, s.hour, s.minute)
		s.logger.DebugContext(ctx, "retention sweep scheduled", "at", next)

		select {
		case <-s.after(next.Sub(now)):
			s.RunOnce(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce runs every job now. A failing job is logged and counted and does
// not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context) []Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = requestcontext.WithTime(ctx, s.now())
	reports := make([]Report, 0, len(s.jobs))
	for _, job := range s.jobs {
		affected, err := s.runJob(ctx, job)
		s.metrics.ObserveRetention(job.Name, err, affected)
		r := Report{Job: job.Name, Affected: affected}
		if err != nil {
			s.logger.ErrorContext(ctx, "retention job failed", "job", job.Name, "error", err)
			r.Error = err.Error()
		} else {
			s.logger.InfoContext(ctx, "retention job finished", "job", job.Name, "affected", affected)
		}
		reports = append(reports, r)
	}
	return reports
}

func (s *Scheduler) runJob(ctx context.Context, job Job) (affected int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Run(ctx)
}
