package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "deltayield/internal/errors"
	"deltayield/internal/logger"
	"deltayield/internal/strategy"
	"deltayield/internal/strategy/backtest"

	"github.com/robfig/cron/v3"
)

// Parser accepts the six-field (seconds first) cron syntax and descriptors like @daily
var Parser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// JobConfig describes one recurring backtest
type JobConfig struct {
	Name         string `yaml:"name" json:"name"`
	Cron         string `yaml:"cron" json:"cron"`
	StrategyFile string `yaml:"strategy_file" json:"strategy_file"`
	LookbackDays int    `yaml:"lookback_days" json:"lookback_days"`
	UseAI        bool   `yaml:"use_ai" json:"use_ai"`
	Seed         int64  `yaml:"seed,omitempty" json:"seed,omitempty"`
}

// Validate checks the job definition without touching the strategy file
func (j JobConfig) Validate() error {
	var problems []string
	if strings.TrimSpace(j.Name) == "" {
		problems = append(problems, "name is required")
	}
	if _, err := Parser.Parse(j.Cron); err != nil {
		problems = append(problems, fmt.Sprintf("invalid cron %q: %v", j.Cron, err))
	}
	if strings.TrimSpace(j.StrategyFile) == "" {
		problems = append(problems, "strategy_file is required")
	}
	if j.LookbackDays < 1 {
		problems = append(problems, fmt.Sprintf("lookback_days must be at least 1, got %d", j.LookbackDays))
	}
	if len(problems) > 0 {
		return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidInput,
			"invalid schedule "+j.Name, strings.Join(problems, "; "), nil)
	}
	return nil
}

// Window returns the UTC-midnight aligned [start, end] range ending at now's day
func (j JobConfig) Window(now time.Time) (time.Time, time.Time) {
	end := now.UTC().Truncate(24 * time.Hour)
	return end.AddDate(0, 0, -j.LookbackDays), end
}

// Runner executes backtests; *backtest.Engine satisfies it
type Runner interface {
	Run(ctx context.Context, cfg *strategy.Config, start, end time.Time, opts ...backtest.RunOption) (*backtest.Result, error)
}

// StrategyMetrics receives the headline numbers of each scheduled run
type StrategyMetrics interface {
	UpdateStrategyMetrics(strategyID string, sharpe, drawdown, totalReturn float64)
}

// JobStatus represents the status of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Summary is the compact outcome of a scheduled run
type Summary struct {
	RunID       string    `json:"run_id"`
	StrategyID  string    `json:"strategy_id"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	TotalReturn float64   `json:"total_return"`
	SharpeRatio float64   `json:"sharpe_ratio"`
	MaxDrawdown float64   `json:"max_drawdown"`
}

// Job is the runtime state of a registered schedule
type Job struct {
	Config      JobConfig `json:"config"`
	Status      JobStatus `json:"status"`
	LastRunTime time.Time `json:"last_run_time"`
	Error       string    `json:"error,omitempty"`
	LastSummary *Summary  `json:"last_summary,omitempty"`
	Runs        int       `json:"runs"`
}

// Scheduler runs backtests on cron schedules
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	metrics StrategyMetrics
	log     logger.Logger
	now     func() time.Time
	timeout time.Duration

	jobs map[string]*Job
	mu   sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithMetrics publishes run summaries to m
func WithMetrics(m StrategyMetrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLogger sets the scheduler logger
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithClock overrides the wall clock used to compute windows
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithRunTimeout bounds every scheduled run
func WithRunTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// New creates a scheduler
func New(runner Runner, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   cron.New(cron.WithParser(Parser), cron.WithLocation(time.UTC)),
		runner: runner,
		now:    time.Now,
		jobs:   make(map[string]*Job),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Named("scheduler")
	}
	return s
}

// AddJob validates cfg and registers it with cron
func (s *Scheduler) AddJob(cfg JobConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[cfg.Name]; exists {
		return apperrors.Validation("schedule", "duplicate job name "+cfg.Name)
	}

	name := cfg.Name
	if _, err := s.cron.AddFunc(cfg.Cron, func() {
		_, _ = s.RunJob(s.ctx, name)
	}); err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.jobs[name] = &Job{Config: cfg, Status: JobStatusPending}
	s.log.Info("Scheduled backtest registered", "job", name, "cron", cfg.Cron, "strategy_file", cfg.StrategyFile)
	return nil
}

// RunJob executes a registered job immediately
func (s *Scheduler) RunJob(ctx context.Context, name string) (*backtest.Result, error) {
	s.mu.Lock()
	job, exists := s.jobs[name]
	if !exists {
		s.mu.Unlock()
		return nil, apperrors.NewAppError(apperrors.ErrCodeNotFound, "job not found: "+name, nil)
	}
	if job.Status == JobStatusRunning {
		s.mu.Unlock()
		s.log.Warn("Skipping scheduled backtest, previous run still active", "job", name)
		return nil, nil
	}
	job.Status = JobStatusRunning
	job.LastRunTime = s.now()
	cfg := job.Config
	s.mu.Unlock()

	result, err := s.execute(ctx, cfg)

	s.mu.Lock()
	defer s.mu.Unlock()
	job.Runs++
	if err != nil {
		job.Status = JobStatusFailed
		job.Error = err.Error()
		s.log.Error("Scheduled backtest failed", "job", name, "error", err)
		return nil, err
	}

	job.Status = JobStatusCompleted
	job.Error = ""
	job.LastSummary = &Summary{
		RunID:       result.RunID,
		StrategyID:  result.StrategyID,
		StartDate:   result.StartDate,
		EndDate:     result.EndDate,
		TotalReturn: result.TotalReturn,
		SharpeRatio: result.SharpeRatio,
		MaxDrawdown: result.MaxDrawdown,
	}
	return result, nil
}

func (s *Scheduler) execute(ctx context.Context, cfg JobConfig) (*backtest.Result, error) {
	strat, err := strategy.LoadFile(cfg.StrategyFile)
	if err != nil {
		return nil, err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start, end := cfg.Window(s.now())
	var opts []backtest.RunOption
	if cfg.UseAI {
		opts = append(opts, backtest.WithAIEnhancement())
	}
	if cfg.Seed != 0 {
		opts = append(opts, backtest.WithSeed(cfg.Seed))
	}

	result, err := s.runner.Run(ctx, strat, start, end, opts...)
	if err != nil {
		return nil, err
	}

	s.log.Info("Scheduled backtest completed",
		"job", cfg.Name,
		"run_id", result.RunID,
		"strategy_id", result.StrategyID,
		"start", start.Format("2006-01-02"),
		"end", end.Format("2006-01-02"),
		"total_return", result.TotalReturn,
		"sharpe", result.SharpeRatio,
		"max_drawdown", result.MaxDrawdown)

	if s.metrics != nil {
		s.metrics.UpdateStrategyMetrics(result.StrategyID, result.SharpeRatio, result.MaxDrawdown, result.TotalReturn)
	}
	return result, nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler, cancels in-flight runs and waits for them to return
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// GetJob gets a job by name
func (s *Scheduler) GetJob(name string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[name]
	if !exists {
		return Job{}, fmt.Errorf("job not found: %s", name)
	}
	return *job, nil
}

// ListJobs lists all jobs ordered by name
func (s *Scheduler) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].Config.Name < jobs[k].Config.Name })
	return jobs
}
