// Package scheduler runs the worker's periodic jobs on top of gocron.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/storyquest/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Job defines the interface that all scheduled jobs must implement.
type Job interface {
	// Name returns the unique name of the job.
	Name() string

	// Run executes the job.
	// The context is cancelled when the scheduler is stopping.
	Run(ctx context.Context) error

	// Description returns a human-readable description of the job.
	Description() string
}

// JobResult contains the result of a job execution.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Error       error
	Manual      bool
}

var (
	// ErrJobNotFound is returned for an unknown job name.
	ErrJobNotFound = errors.New("scheduler: job not found")

	// ErrJobExists is returned when a job name is registered twice.
	ErrJobExists = errors.New("scheduler: job already registered")
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Scheduler registers jobs on a gocron scheduler and records their results.
// A job never overlaps with itself: a run that is still going when the next
// tick arrives causes that tick to be skipped.
type Scheduler struct {
	mu sync.RWMutex

	cron     gocron.Scheduler
	logger   *logger.Logger
	timeout  time.Duration
	jobs     map[string]Job
	lastRuns map[string]JobResult
	history  []JobResult
	maxHist  int

	ctx    context.Context
	cancel context.CancelFunc

	onJobComplete func(result JobResult)
}

// SchedulerConfig contains configuration for the Scheduler.
type SchedulerConfig struct {
	Logger *logger.Logger

	// Timezone for schedule calculations (default: UTC).
	Timezone *time.Location

	// JobTimeout bounds a single run; zero means no bound.
	JobTimeout time.Duration

	// MaxHistorySize is the maximum number of job results to keep.
	MaxHistorySize int
}

// DefaultSchedulerConfig returns sensible defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Timezone:       time.UTC,
		JobTimeout:     30 * time.Second,
		MaxHistorySize: 100,
	}
}

// NewScheduler creates a new Scheduler with the given configuration.
func NewScheduler(config SchedulerConfig) (*Scheduler, error) {
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.Timezone == nil {
		config.Timezone = time.UTC
	}
	if config.MaxHistorySize <= 0 {
		config.MaxHistorySize = 100
	}

	cron, err := gocron.NewScheduler(gocron.WithLocation(config.Timezone))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     cron,
		logger:   config.Logger.With(logger.Component("scheduler")),
		timeout:  config.JobTimeout,
		jobs:     make(map[string]Job),
		lastRuns: make(map[string]JobResult),
		maxHist:  config.MaxHistorySize,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Every registers job to run at a fixed interval. With immediately set the
// first run happens as soon as the scheduler starts.
func (s *Scheduler) Every(job Job, interval time.Duration, immediately bool) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: interval must be positive, got %s", interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, job.Name())
	}

	opts := []gocron.JobOption{
		gocron.WithName(job.Name()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if immediately {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}

	_, err := s.cron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { s.execute(s.ctx, job, false) }),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("register %s: %w", job.Name(), err)
	}

	s.jobs[job.Name()] = job
	s.logger.Info("job registered",
		logger.String("job", job.Name()),
		logger.Duration("interval", interval),
	)
	return nil
}

// Start begins running registered jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", logger.Int("jobs", len(s.Jobs())))
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.cancel()
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	s.logger.Info("scheduler stopped")
	return nil
}

// RunNow executes a job by name immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, jobName string) (JobResult, error) {
	s.mu.RLock()
	job, exists := s.jobs[jobName]
	s.mu.RUnlock()

	if !exists {
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobName)
	}
	result := s.execute(ctx, job, true)
	return result, result.Error
}

// execute runs a job and records the result.
func (s *Scheduler) execute(ctx context.Context, job Job, manual bool) JobResult {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	startedAt := time.Now()
	err := job.Run(ctx)
	completedAt := time.Now()

	result := JobResult{
		JobName:     job.Name(),
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		Duration:    completedAt.Sub(startedAt),
		Success:     err == nil,
		Error:       err,
		Manual:      manual,
	}

	s.mu.Lock()
	s.lastRuns[job.Name()] = result
	s.history = append(s.history, result)
	if len(s.history) > s.maxHist {
		s.history = s.history[len(s.history)-s.maxHist:]
	}
	hook := s.onJobComplete
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed",
			logger.String("job", job.Name()),
			logger.Duration("duration", result.Duration),
			logger.Err(err),
		)
	} else {
		s.logger.Debug("job completed",
			logger.String("job", job.Name()),
			logger.Duration("duration", result.Duration),
		)
	}

	if hook != nil {
		hook(result)
	}
	return result
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS & INFO
// ══════════════════════════════════════════════════════════════════════════════

// JobInfo describes a registered job.
type JobInfo struct {
	Name        string
	Description string
	LastRun     *JobResult
}

// Jobs lists registered jobs.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for name, job := range s.jobs {
		info := JobInfo{Name: name, Description: job.Description()}
		if r, ok := s.lastRuns[name]; ok {
			r := r
			info.LastRun = &r
		}
		out = append(out, info)
	}
	return out
}

// LastResult returns the most recent result of a job.
func (s *Scheduler) LastResult(jobName string) (JobResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.lastRuns[jobName]
	return r, ok
}

// History returns up to limit recent results, newest last.
func (s *Scheduler) History(limit int) []JobResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if limit > 0 && len(s.history) > limit {
		start = len(s.history) - limit
	}
	out := make([]JobResult, len(s.history)-start)
	copy(out, s.history[start:])
	return out
}

// OnJobComplete sets a hook called after every run.
func (s *Scheduler) OnJobComplete(fn func(result JobResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onJobComplete = fn
}
