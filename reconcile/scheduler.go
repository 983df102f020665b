package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs reconciliation every fifteen minutes.
const DefaultSchedule = "@every 15m"

// Scheduler runs a Reconciler on a cron schedule. A tick is skipped while the
// previous run is still in progress.
type Scheduler struct {
	cron    *cron.Cron
	rec     *Reconciler
	spec    string
	timeout time.Duration
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler for spec (standard five-field cron or a
// descriptor such as "@every 5m"). timeout bounds a single run; zero means
// no bound.
func NewScheduler(rec *Reconciler, spec string, timeout time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if spec == "" {
		spec = DefaultSchedule
	}

	cl := cronLogger{logger: logger}
	s := &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		), cron.WithLogger(cl)),
		rec:     rec,
		spec:    spec,
		timeout: timeout,
		logger:  logger,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		s.cancel()
		return nil, fmt.Errorf("reconcile: invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

// Spec returns the schedule expression.
func (s *Scheduler) Spec() string { return s.spec }

// Start begins running on schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("reconciliation scheduler started", "schedule", s.spec)
}

// Stop halts the schedule and waits for an in-flight run to finish or ctx to
// expire, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	defer s.cancel()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tick() {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	s.rec.Reconcile(ctx)
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
