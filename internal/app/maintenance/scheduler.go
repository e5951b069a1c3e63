package maintenance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/schoolx/pkg/logger"
)

const (
	defaultAnalyticsSpec  = "@daily"
	defaultCachePurgeSpec = "@hourly"
)

// Job names reported by Runs.
const (
	JobAnalyticsRollup = "analytics_rollup"
	JobCachePurge      = "cache_purge"
)

// JobRun summarises the executions of one job.
type JobRun struct {
	Job                 string
	Runs                int
	ConsecutiveFailures int
	LastRunAt           time.Time
	LastError           string
}

// AnalyticsRoller recomputes monthly feedback analytics for every school.
type AnalyticsRoller interface {
	RollupAll(ctx context.Context, at time.Time) (int, error)
}

// CachePurger removes expired cache entries.
type CachePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Scheduler runs the periodic analytics rollup and cache purge.
type Scheduler struct {
	analytics AnalyticsRoller
	purger    CachePurger
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger

	analyticsSchedule string
	purgeSchedule     string

	mu   sync.Mutex
	runs map[string]*JobRun
}

// Option customises the Scheduler.
type Option func(*Scheduler)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithNow overrides the clock used to pick the month to roll up.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAnalyticsSchedule overrides the cron specification for the analytics rollup.
func WithAnalyticsSchedule(spec string) Option {
	return func(s *Scheduler) {
		if spec != "" {
			s.analyticsSchedule = spec
		}
	}
}

// WithCachePurgeSchedule overrides the cron specification for the cache purge.
func WithCachePurgeSchedule(spec string) Option {
	return func(s *Scheduler) {
		if spec != "" {
			s.purgeSchedule = spec
		}
	}
}

// NewScheduler constructs a Scheduler. A nil dependency skips the matching job.
func NewScheduler(analytics AnalyticsRoller, purger CachePurger, opts ...Option) *Scheduler {
	s := &Scheduler{
		analytics:         analytics,
		purger:            purger,
		now:               func() time.Time { return time.Now().UTC() },
		analyticsSchedule: defaultAnalyticsSpec,
		purgeSchedule:     defaultCachePurgeSpec,
		log:               logger.WithModule("maintenance"),
		runs:              make(map[string]*JobRun),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cron == nil {
		s.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return s
}

// Start registers the jobs and launches the cron scheduler when at least one job is enabled.
func (s *Scheduler) Start() error {
	if s.analytics == nil && s.purger == nil {
		return nil
	}

	if s.analytics != nil {
		if _, err := s.cron.AddFunc(s.analyticsSchedule, func() {
			if err := s.runRollup(context.Background()); err != nil {
				s.log.Warn("analytics rollup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if s.purger != nil {
		if _, err := s.cron.AddFunc(s.purgeSchedule, func() {
			if err := s.runPurge(context.Background()); err != nil {
				s.log.Warn("cache purge failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts the scheduler. The returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce executes every configured job sequentially.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if s.analytics != nil {
		errs = multierr.Append(errs, s.runRollup(ctx))
	}
	if s.purger != nil {
		errs = multierr.Append(errs, s.runPurge(ctx))
	}
	return errs
}

// Runs reports the execution history of every job that has run at least once, ordered by name.
func (s *Scheduler) Runs() []JobRun {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobRun, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, *run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

func (s *Scheduler) runRollup(ctx context.Context) error {
	err := s.rollup(ctx)
	s.record(JobAnalyticsRollup, err)
	return err
}

func (s *Scheduler) runPurge(ctx context.Context) error {
	removed, err := s.purger.PurgeExpired(ctx)
	if err == nil {
		s.log.Debug("cache purge finished", zap.Int64("removed", removed))
	}
	s.record(JobCachePurge, err)
	return err
}

func (s *Scheduler) record(job string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[job]
	if !ok {
		run = &JobRun{Job: job}
		s.runs[job] = run
	}
	run.Runs++
	run.LastRunAt = s.now().UTC()
	if err != nil {
		run.ConsecutiveFailures++
		run.LastError = err.Error()
		return
	}
	run.ConsecutiveFailures = 0
	run.LastError = ""
}

// rollup refreshes the current month. On the first day of a month the previous
// month is rolled up too so late submissions land in its final row.
func (s *Scheduler) rollup(ctx context.Context) error {
	now := s.now().UTC()

	var errs error
	if now.Day() == 1 {
		previous := now.AddDate(0, 0, -1)
		if _, err := s.analytics.RollupAll(ctx, previous); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	count, err := s.analytics.RollupAll(ctx, now)
	if err != nil {
		errs = multierr.Append(errs, err)
	}
	s.log.Debug("analytics rollup finished", zap.Int("schools", count), zap.Time("at", now))
	return errs
}
