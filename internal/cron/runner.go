// Package cron runs the periodic maintenance sweeps
package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"

	robfig "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/vitanips/vitanips-core/internal/config"
)

// Job is one unit of scheduled work
type Job func(ctx context.Context) error

// Recorder observes job runs
type Recorder interface {
	RecordCronRun(job string, err error)
}

// Sweeper is the set of sweeps the service schedules
type Sweeper interface {
	SweepNoShows(ctx context.Context) (int, error)
	ExpirePrescriptions(ctx context.Context) (int64, error)
	ExpireSubscriptions(ctx context.Context) (int64, error)
}

// Runner manages scheduled job execution
type Runner struct {
	cron    *robfig.Cron
	jobs    map[string]Job
	metrics Recorder
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	mu      sync.RWMutex
}

// NewRunner creates a new cron runner
func NewRunner(logger *zap.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{logger.Sugar()}

	return &Runner{
		cron: robfig.New(
			robfig.WithLogger(cl),
			robfig.WithChain(robfig.Recover(cl), robfig.SkipIfStillRunning(cl)),
		),
		jobs:   make(map[string]Job),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetRecorder attaches run metrics
func (r *Runner) SetRecorder(m Recorder) {
	r.metrics = m
}

// Add schedules a named job on a standard five-field spec or a descriptor
// such as @hourly
func (r *Runner) Add(name, spec string, job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[name]; exists {
		return fmt.Errorf("cron job %q already registered", name)
	}
	if _, err := r.cron.AddFunc(spec, func() { r.execute(name, job) }); err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
	}
	r.jobs[name] = job
	return nil
}

// AddSweeps schedules the no-show, prescription and subscription sweeps
func (r *Runner) AddSweeps(s Sweeper, cfg config.CronConfig) error {
	if err := r.Add("no_show_sweep", cfg.NoShowSchedule, func(ctx context.Context) error {
		n, err := s.SweepNoShows(ctx)
		if n > 0 {
			r.logger.Info("Marked appointments as no-show", zap.Int("count", n))
		}
		return err
	}); err != nil {
		return err
	}
	if err := r.Add("prescription_expiry", cfg.ExpirySchedule, func(ctx context.Context) error {
		n, err := s.ExpirePrescriptions(ctx)
		if n > 0 {
			r.logger.Info("Expired prescriptions", zap.Int64("count", n))
		}
		return err
	}); err != nil {
		return err
	}
	return r.Add("subscription_expiry", cfg.ExpirySchedule, func(ctx context.Context) error {
		n, err := s.ExpireSubscriptions(ctx)
		if n > 0 {
			r.logger.Info("Deactivated lapsed subscriptions", zap.Int64("count", n))
		}
		return err
	})
}

// Jobs lists the registered job names
func (r *Runner) Jobs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunNow runs a registered job immediately on the caller's goroutine
func (r *Runner) RunNow(name string) error {
	r.mu.RLock()
	job, ok := r.jobs[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("cron job %q not found", name)
	}
	return r.execute(name, job)
}

// Start starts the cron runner
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("cron runner already running")
	}

	r.running = true
	r.cron.Start()
	r.logger.Info("Cron runner started", zap.Int("jobs", len(r.jobs)))
	return nil
}

// Stop stops scheduling and waits for running jobs to finish
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	<-r.cron.Stop().Done()
	r.logger.Info("Cron runner stopped")
}

// IsRunning returns whether the runner is active
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

func (r *Runner) execute(name string, job Job) error {
	err := job(r.ctx)
	if err != nil {
		r.logger.Error("Cron job failed", zap.String("job", name), zap.Error(err))
	} else {
		r.logger.Debug("Cron job finished", zap.String("job", name))
	}
	if r.metrics != nil {
		r.metrics.RecordCronRun(name, err)
	}
	return err
}

// cronLogger routes the scheduler's own logging through zap
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
