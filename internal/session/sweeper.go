package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hubenschmidt/telecaller/internal/metrics"
)

// SweepJob is one periodic cleanup task. Run returns how many entries it
// evicted.
type SweepJob struct {
	Name     string
	Interval time.Duration
	Run      func(now time.Time) (int, error)
}

// Sweeper runs cleanup jobs on a cron schedule. A failing or panicking cycle
// is logged and the next cycle still runs.
type Sweeper struct {
	jobs  []SweepJob
	clock func() time.Time
	cron  *cron.Cron
}

// NewSweeper creates a sweeper for jobs. Call Start to schedule them.
func NewSweeper(clock func() time.Time, jobs ...SweepJob) *Sweeper {
	if clock == nil {
		clock = time.Now
	}
	logger := cronLogger{}
	return &Sweeper{
		jobs:  jobs,
		clock: clock,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.SkipIfStillRunning(logger)),
		),
	}
}

// SessionSweep evicts sessions idle longer than ttl, calling onEvict for each.
func SessionSweep(store *Store, interval, ttl time.Duration, onEvict func(Session)) SweepJob {
	return SweepJob{
		Name:     "sessions",
		Interval: interval,
		Run: func(now time.Time) (int, error) {
			evicted := store.EvictIdle(now, ttl)
			for _, sess := range evicted {
				slog.Info("session evicted", "call_id", sess.ID, "idle", now.Sub(sess.LastActivity).String())
				metrics.CallsEnded.WithLabelValues("idle").Inc()
				if onEvict != nil {
					onEvict(sess)
				}
			}
			return len(evicted), nil
		},
	}
}

// Start schedules every job at its interval.
func (s *Sweeper) Start() error {
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			return fmt.Errorf("sweep job %s: interval must be positive", job.Name)
		}
		job := job
		schedule := "@every " + job.Interval.String()
		if _, err := s.cron.AddFunc(schedule, func() { s.runJob(job) }); err != nil {
			return fmt.Errorf("schedule sweep job %s: %w", job.Name, err)
		}
		slog.Info("sweep job scheduled", "job", job.Name, "interval", job.Interval.String())
	}
	s.cron.Start()
	return nil
}

// Stop halts scheduling and returns a context done when running jobs finish.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce runs every job a single time, in order.
func (s *Sweeper) RunOnce() {
	for _, job := range s.jobs {
		s.runJob(job)
	}
}

func (s *Sweeper) runJob(job SweepJob) {
	start := s.clock()
	defer func() {
		if r := recover(); r != nil {
			metrics.Errors.WithLabelValues("sweep", "panic").Inc()
			slog.Error("sweep cycle panicked", "job", job.Name, "panic", fmt.Sprint(r))
		}
	}()

	n, err := job.Run(start)
	if err != nil {
		metrics.Errors.WithLabelValues("sweep", "error").Inc()
		slog.Error("sweep cycle failed", "job", job.Name, "error", err)
		return
	}
	metrics.SweepEvictions.WithLabelValues(job.Name).Add(float64(n))
	if n > 0 {
		slog.Info("sweep cycle", "job", job.Name, "evicted", n)
	}
}

// cronLogger routes robfig/cron's logging through slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
