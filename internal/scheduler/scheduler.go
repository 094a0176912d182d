// Package scheduler is the single-writer time-driven trigger for
// detection runs and check-log retention: two named cron tasks that
// reload their own tunables from the store on every poll instead of
// requiring a process restart to pick up a changed schedule.
package scheduler

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"probewatch/internal/config"
	"probewatch/internal/cronexpr"
	"probewatch/internal/detection"
	"probewatch/internal/model"
	"probewatch/internal/storage"
	"probewatch/internal/util"
	"probewatch/internal/worker"
)

// pollInterval is how often each task checks its schedule against the
// clock; cron granularity is one minute, so this comfortably avoids
// missing or double-firing a minute boundary.
const pollInterval = 20 * time.Second

// TaskStatus mirrors one named cron task's externally observable state.
type TaskStatus struct {
	Enabled  bool
	Running  bool
	Schedule string
	NextRun  time.Time
}

// CleanupStatus is the cleanup task's status; its schedule is a fixed
// process constant, not a SchedulerConfig field, so it carries no
// Enabled flag of its own.
type CleanupStatus struct {
	Running       bool
	Schedule      string
	NextRun       time.Time
	RetentionDays int
}

type ConfigSnapshot struct {
	ChannelConcurrency   int
	MaxGlobalConcurrency int
	MinJitterMS          int
	MaxJitterMS          int
}

type Status struct {
	Detection TaskStatus
	Cleanup   CleanupStatus
	Config    ConfigSnapshot
}

// Scheduler drives the two named cron tasks off SchedulerConfig.
type Scheduler struct {
	store    storage.Store
	detector *detection.Service
	pool     *worker.Pool

	cleanupSchedule string

	mu              sync.Mutex
	detectionCancel context.CancelFunc
	cleanupCancel   context.CancelFunc

	detectionRunning atomic.Bool
	cleanupRunning   atomic.Bool

	detectionLastFired time.Time
	cleanupLastFired   time.Time
}

func New(store storage.Store, detector *detection.Service, pool *worker.Pool) *Scheduler {
	return &Scheduler{store: store, detector: detector, pool: pool, cleanupSchedule: config.DefaultCleanupSchedule}
}

// StartAll starts both named tasks; each is independently idempotent.
func (s *Scheduler) StartAll(ctx context.Context) error {
	s.StartDetection(ctx)
	s.StartCleanup(ctx)
	return nil
}

// StopAll cancels both task loops. It does not wait for an in-flight
// run to finish; Running in GetStatus reflects that until it returns.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detectionCancel != nil {
		s.detectionCancel()
		s.detectionCancel = nil
	}
	if s.cleanupCancel != nil {
		s.cleanupCancel()
		s.cleanupCancel = nil
	}
}

// StartDetection is idempotent: calling it while already running is a
// no-op.
func (s *Scheduler) StartDetection(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detectionCancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.detectionCancel = cancel
	go s.detectionLoop(runCtx)
}

func (s *Scheduler) StopDetectionCron() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detectionCancel != nil {
		s.detectionCancel()
		s.detectionCancel = nil
	}
}

func (s *Scheduler) StartCleanup(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleanupCancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cleanupCancel = cancel
	go s.cleanupLoop(runCtx)
}

func (s *Scheduler) StopCleanupCron() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleanupCancel != nil {
		s.cleanupCancel()
		s.cleanupCancel = nil
	}
}

func (s *Scheduler) detectionLoop(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cfg, err := s.store.LoadSchedulerConfig(ctx)
		if err != nil {
			log.Printf("[WARN] scheduler: load config failed: %v", util.SanitizeError(err))
			continue
		}
		s.pool.ReloadConfig()

		if !cfg.Enabled {
			continue
		}

		loc := resolveLocation(cfg.Timezone)
		expr, err := cronexpr.Parse(cfg.CronExpression)
		if err != nil {
			log.Printf("[WARN] scheduler: invalid cron expression %q: %v", cfg.CronExpression, err)
			continue
		}

		now := time.Now().In(loc)
		minuteKey := now.Truncate(time.Minute)
		if s.detectionLastFired.Equal(minuteKey) || !expr.Matches(now) {
			continue
		}
		s.detectionLastFired = minuteKey

		if s.detectionRunning.Load() {
			log.Printf("[WARN] scheduler: detection tick skipped, previous run still in progress")
			continue
		}
		s.detectionRunning.Store(true)
		go func(cfg *model.SchedulerConfig) {
			defer s.detectionRunning.Store(false)
			s.runDetection(cfg)
		}(cfg)
	}
}

func (s *Scheduler) runDetection(cfg *model.SchedulerConfig) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	var result *detection.TriggerResult
	var err error
	if cfg.DetectAllChannels {
		result, err = s.detector.TriggerFull(ctx, true)
	} else {
		result, err = s.detector.TriggerSelective(ctx, cfg.SelectedChannelIDs, cfg.SelectedModelIDs)
	}
	if err != nil {
		log.Printf("[ERROR] scheduler: detection run failed: %v", util.SanitizeError(err))
		return
	}
	log.Printf("[INFO] scheduler: detection run enqueued %d jobs across %d channels", len(result.JobIDs), result.ChannelCount)
}

func (s *Scheduler) cleanupLoop(ctx context.Context) {
	expr, err := cronexpr.Parse(s.cleanupSchedule)
	if err != nil {
		log.Printf("[ERROR] scheduler: invalid cleanup schedule %q: %v", s.cleanupSchedule, err)
		return
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		loc := time.Local
		retention := config.DefaultLogRetentionDays
		if cfg, err := s.store.LoadSchedulerConfig(ctx); err == nil {
			loc = resolveLocation(cfg.Timezone)
			retention = cfg.LogRetentionDays
		}

		now := time.Now().In(loc)
		minuteKey := now.Truncate(time.Minute)
		if s.cleanupLastFired.Equal(minuteKey) || !expr.Matches(now) {
			continue
		}
		s.cleanupLastFired = minuteKey

		if s.cleanupRunning.Load() {
			continue
		}
		s.cleanupRunning.Store(true)
		go func(days int) {
			defer s.cleanupRunning.Store(false)
			s.runCleanup(days)
		}(retention)
	}
}

func (s *Scheduler) runCleanup(retentionDays int) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	deleted, err := s.store.PurgeCheckLogsOlderThan(ctx, cutoff)
	if err != nil {
		log.Printf("[ERROR] scheduler: cleanup failed: %v", util.SanitizeError(err))
		return
	}
	log.Printf("[INFO] scheduler: purged %d check_logs rows older than %s", deleted, cutoff.Format(time.RFC3339))
}

// CleanupNow runs the retention purge immediately, outside the cron
// loop, for an operator-triggered "run cleanup now" control.
func (s *Scheduler) CleanupNow(ctx context.Context) (int64, error) {
	retention := config.DefaultLogRetentionDays
	if cfg, err := s.store.LoadSchedulerConfig(ctx); err == nil {
		retention = cfg.LogRetentionDays
	}
	cutoff := time.Now().AddDate(0, 0, -retention)
	return s.store.PurgeCheckLogsOlderThan(ctx, cutoff)
}

func (s *Scheduler) GetStatus(ctx context.Context) (Status, error) {
	cfg, err := s.store.LoadSchedulerConfig(ctx)
	if err != nil {
		return Status{}, err
	}
	loc := resolveLocation(cfg.Timezone)
	now := time.Now().In(loc)

	detStatus := TaskStatus{Enabled: cfg.Enabled, Running: s.detectionRunning.Load(), Schedule: cfg.CronExpression}
	if expr, exprErr := cronexpr.Parse(cfg.CronExpression); exprErr == nil {
		detStatus.NextRun = expr.Next(now)
	}

	cleanStatus := CleanupStatus{Running: s.cleanupRunning.Load(), Schedule: s.cleanupSchedule, RetentionDays: cfg.LogRetentionDays}
	if expr, exprErr := cronexpr.Parse(s.cleanupSchedule); exprErr == nil {
		cleanStatus.NextRun = expr.Next(now)
	}

	return Status{
		Detection: detStatus,
		Cleanup:   cleanStatus,
		Config: ConfigSnapshot{
			ChannelConcurrency:   cfg.ChannelConcurrency,
			MaxGlobalConcurrency: cfg.MaxGlobalConcurrency,
			MinJitterMS:          cfg.MinJitterMS,
			MaxJitterMS:          cfg.MaxJitterMS,
		},
	}, nil
}

func resolveLocation(tz string) *time.Location {
	if tz == "" || tz == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}
