package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"probewatch/internal/admission"
	"probewatch/internal/catalog"
	"probewatch/internal/detection"
	"probewatch/internal/model"
	"probewatch/internal/probe"
	"probewatch/internal/progress"
	"probewatch/internal/queue"
	"probewatch/internal/worker"
)

// fakeStore implements storage.Store with just enough behavior for
// the scheduler's own logic; methods the scheduler never calls panic
// so an accidental new dependency is caught immediately.
type fakeStore struct {
	mu           sync.Mutex
	cfg          *model.SchedulerConfig
	purgeCutoffs []time.Time
}

func newFakeStore(cfg *model.SchedulerConfig) *fakeStore {
	return &fakeStore{cfg: cfg}
}

func (s *fakeStore) LoadEnabledChannels(ctx context.Context, withModels bool) ([]*model.Channel, error) {
	return nil, nil
}
func (s *fakeStore) GetChannel(ctx context.Context, id int64) (*model.Channel, error) {
	panic("unused")
}
func (s *fakeStore) ResetModelsProbeState(ctx context.Context, modelIDs []int64) error { return nil }
func (s *fakeStore) PersistProbeOutcome(ctx context.Context, job *model.ProbeJob, outcome *model.ProbeOutcome) error {
	panic("unused")
}
func (s *fakeStore) ListModelsForSync(ctx context.Context, channelID int64) ([]*model.Model, error) {
	panic("unused")
}
func (s *fakeStore) ReplaceOrAddModels(ctx context.Context, channelID int64, names []string) (int, error) {
	panic("unused")
}
func (s *fakeStore) GetModel(ctx context.Context, id int64) (*model.Model, error) {
	panic("unused")
}
func (s *fakeStore) ListModelsByChannel(ctx context.Context, channelID int64) ([]*model.Model, error) {
	return nil, nil
}
func (s *fakeStore) PurgeCheckLogsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeCutoffs = append(s.purgeCutoffs, cutoff)
	return 3, nil
}
func (s *fakeStore) ListCheckLogs(ctx context.Context, modelID int64, limit int) ([]*model.CheckLog, error) {
	panic("unused")
}
func (s *fakeStore) LoadSchedulerConfig(ctx context.Context) (*model.SchedulerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, nil
}
func (s *fakeStore) UpsertSchedulerConfig(ctx context.Context, cfg *model.SchedulerConfig) error {
	panic("unused")
}
func (s *fakeStore) Close() error { return nil }

func newTestScheduler(t *testing.T, cfg *model.SchedulerConfig) (*Scheduler, *fakeStore) {
	t.Helper()
	store := newFakeStore(cfg)
	q := queue.NewMemoryQueue()
	bus := progress.NewBus()
	syncer := catalog.NewSyncer(nil, store)
	detector := detection.NewService(store, q, bus, syncer, false)
	adm := admission.NewMemoryController(cfg.MaxGlobalConcurrency, cfg.ChannelConcurrency)
	pool := worker.NewPool(q, adm, probe.NewExecutor(), store, bus, nil)
	return New(store, detector, pool), store
}

func baseConfig() *model.SchedulerConfig {
	return &model.SchedulerConfig{
		ID: model.DefaultSchedulerConfigID, Enabled: true,
		CronExpression: "0 */6 * * *", Timezone: "UTC",
		ChannelConcurrency: 5, MaxGlobalConcurrency: 30,
		MinJitterMS: 0, MaxJitterMS: 0, LogRetentionDays: 7,
	}
}

func TestCleanupNow_UsesConfiguredRetention(t *testing.T) {
	sched, store := newTestScheduler(t, baseConfig())

	before := time.Now()
	deleted, err := sched.CleanupNow(context.Background())
	if err != nil {
		t.Fatalf("CleanupNow: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("expected 3 deleted rows, got %d", deleted)
	}

	if len(store.purgeCutoffs) != 1 {
		t.Fatalf("expected exactly one purge call, got %d", len(store.purgeCutoffs))
	}
	wantCutoff := before.AddDate(0, 0, -7)
	if diff := store.purgeCutoffs[0].Sub(wantCutoff); diff < -time.Minute || diff > time.Minute {
		t.Errorf("cutoff %v too far from expected %v", store.purgeCutoffs[0], wantCutoff)
	}
}

func TestGetStatus_ReportsScheduleAndNextRun(t *testing.T) {
	sched, _ := newTestScheduler(t, baseConfig())

	status, err := sched.GetStatus(context.Background())
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Detection.Schedule != "0 */6 * * *" {
		t.Errorf("unexpected detection schedule: %q", status.Detection.Schedule)
	}
	if status.Detection.NextRun.IsZero() {
		t.Error("expected a computed next run for detection")
	}
	if status.Cleanup.NextRun.IsZero() {
		t.Error("expected a computed next run for cleanup")
	}
	if status.Cleanup.RetentionDays != 7 {
		t.Errorf("expected retention days 7, got %d", status.Cleanup.RetentionDays)
	}
}

func TestStartDetection_IsIdempotent(t *testing.T) {
	sched, _ := newTestScheduler(t, baseConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.StartDetection(ctx)
	first := sched.detectionCancel
	sched.StartDetection(ctx)
	second := sched.detectionCancel

	if first == nil || second == nil {
		t.Fatal("expected a non-nil cancel func after starting")
	}
	sched.StopAll()
}

func TestStopAll_SafeWhenNeverStarted(t *testing.T) {
	sched, _ := newTestScheduler(t, baseConfig())
	sched.StopAll() // must not panic
}
