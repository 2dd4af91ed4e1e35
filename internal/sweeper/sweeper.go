// Package sweeper purges expired persisted tokens on a cron schedule.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Skotchmaster/football_stats/internal/metrics"
	"github.com/Skotchmaster/football_stats/pkg/logging"
)

const DefaultSchedule = "@every 24h"

type Store interface {
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// Target is one store to sweep, labelled for logs and metrics.
type Target struct {
	Kind  string
	Store Store
}

type Sweeper struct {
	Targets []Target
	Metrics *metrics.Auth
	Now     func() time.Time

	log      *slog.Logger
	cron     *cron.Cron
	schedule string

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New validates schedule and prepares a stopped sweeper.
func New(schedule string, log *slog.Logger, m *metrics.Auth, targets ...Target) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "sweeper")

	cl := cronLogger{log}
	// Recover sits inside SkipIfStillRunning so a panicking run still frees its slot.
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)),
	)
	ctx, cancel := context.WithCancel(logging.IntoContext(context.Background(), log))
	s := &Sweeper{
		Targets:  targets,
		Metrics:  m,
		Now:      time.Now,
		log:      log,
		cron:     c,
		schedule: schedule,
		ctx:      ctx,
		cancel:   cancel,
	}
	if _, err := c.AddFunc(schedule, s.tick); err != nil {
		cancel()
		return nil, fmt.Errorf("sweeper: bad schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
	s.log.Info("sweeper_started", "schedule", s.schedule, "targets", len(s.Targets))
}

// Stop halts the schedule and waits for an in-flight run until ctx is done.
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	defer s.cancel()
	select {
	case <-done.Done():
		s.log.Info("sweeper_stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn("sweeper_stop_timeout", "error", ctx.Err())
		return ctx.Err()
	}
}

func (s *Sweeper) tick() {
	// errors are already logged
	_, _ = s.RunOnce(s.ctx)
}

// RunOnce sweeps every target once and returns the total number of deleted
// rows. A failing target does not stop the others. Runs never overlap.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := logging.FromContext(ctx).With("svc", "sweeper.run")
	start := time.Now()
	now := s.now()

	var (
		total int64
		errs  []error
	)
	for _, t := range s.Targets {
		n, err := t.Store.SweepExpired(ctx, now)
		if err != nil {
			l.Error("sweep_failed", "kind", t.Kind, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", t.Kind, err))
			continue
		}
		s.Metrics.SweepDeleted(t.Kind, n)
		total += n
		l.Info("sweep_done", "kind", t.Kind, "deleted", n)
	}

	took := time.Since(start)
	if len(errs) > 0 {
		s.Metrics.SweepRun("error", took)
		return total, errors.Join(errs...)
	}
	s.Metrics.SweepRun("ok", took)
	return total, nil
}

func (s *Sweeper) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
