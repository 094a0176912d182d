// Package detection translates the engine's four trigger intents —
// full, per-channel, per-model, and selective — into reset-then-enqueue
// job batches, and exposes the progress/stop controls built on top of
// the queue those batches land in.
package detection

import (
	"context"
	"log"
	"sort"
	"time"

	"probewatch/internal/catalog"
	"probewatch/internal/model"
	"probewatch/internal/probe"
	"probewatch/internal/progress"
	"probewatch/internal/queue"
	"probewatch/internal/storage"
	"probewatch/internal/util"
)

// Service is the single place that honors the pre-enqueue invariant: a
// model's ResetModelsProbeState commits before any of its jobs becomes
// visible to a worker.
type Service struct {
	store  storage.Store
	queue  queue.Queue
	bus    *progress.Bus
	syncer *catalog.Syncer

	secondaryChatProbe bool
}

func NewService(store storage.Store, q queue.Queue, bus *progress.Bus, syncer *catalog.Syncer, secondaryChatProbe bool) *Service {
	return &Service{store: store, queue: q, bus: bus, syncer: syncer, secondaryChatProbe: secondaryChatProbe}
}

// TriggerResult is the shape every entry point below returns to its
// caller.
type TriggerResult struct {
	ChannelCount int
	ModelCount   int
	JobIDs       []string
	SyncResults  []catalog.Result
}

// TriggerFull resets and enqueues every model across every enabled
// channel. When syncFirst is set, each channel's catalog is synced
// before its models are enumerated, so newly-added models are probed
// in the same run.
func (s *Service) TriggerFull(ctx context.Context, syncFirst bool) (*TriggerResult, error) {
	if err := s.queue.ClearStoppedFlag(ctx); err != nil {
		return nil, err
	}

	channels, err := s.store.LoadEnabledChannels(ctx, true)
	if err != nil {
		return nil, err
	}

	if err := s.store.ResetModelsProbeState(ctx, allModelIDs(channels)); err != nil {
		return nil, err
	}

	var syncResults []catalog.Result
	if syncFirst {
		syncResults = s.syncChannels(ctx, channels)
	}

	now := time.Now()
	var jobs []*model.ProbeJob
	modelCount := 0
	for _, ch := range channels {
		jobs = append(jobs, buildJobs(ch, ch.Models, s.secondaryChatProbe, now)...)
		modelCount += len(ch.Models)
	}

	if err := s.queue.EnqueueBulk(ctx, jobs); err != nil {
		return nil, err
	}

	return &TriggerResult{
		ChannelCount: len(channels),
		ModelCount:   modelCount,
		JobIDs:       jobIDsOf(jobs),
		SyncResults:  syncResults,
	}, nil
}

// TriggerChannel resets and enqueues one channel's models, optionally
// narrowed to modelIDs. A nil modelIDs means every model on the
// channel.
func (s *Service) TriggerChannel(ctx context.Context, channelID int64, modelIDs []int64) (*TriggerResult, error) {
	if err := s.queue.ClearStoppedFlag(ctx); err != nil {
		return nil, err
	}

	channel, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}

	models, err := s.store.ListModelsByChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if modelIDs != nil {
		models = filterModels(models, modelIDs)
	}

	if err := s.store.ResetModelsProbeState(ctx, modelIDsOf(models)); err != nil {
		return nil, err
	}

	now := time.Now()
	jobs := buildJobs(channel, models, s.secondaryChatProbe, now)
	if err := s.queue.EnqueueBulk(ctx, jobs); err != nil {
		return nil, err
	}

	return &TriggerResult{ChannelCount: 1, ModelCount: len(models), JobIDs: jobIDsOf(jobs)}, nil
}

// TriggerModel resets and enqueues every probe kind for a single model.
func (s *Service) TriggerModel(ctx context.Context, modelID int64) (*TriggerResult, error) {
	if err := s.queue.ClearStoppedFlag(ctx); err != nil {
		return nil, err
	}

	m, err := s.store.GetModel(ctx, modelID)
	if err != nil {
		return nil, err
	}
	channel, err := s.store.GetChannel(ctx, m.ChannelID)
	if err != nil {
		return nil, err
	}

	if err := s.store.ResetModelsProbeState(ctx, []int64{modelID}); err != nil {
		return nil, err
	}

	now := time.Now()
	jobs := buildJobs(channel, []*model.Model{m}, s.secondaryChatProbe, now)
	if err := s.queue.EnqueueBulk(ctx, jobs); err != nil {
		return nil, err
	}

	return &TriggerResult{ChannelCount: 1, ModelCount: 1, JobIDs: jobIDsOf(jobs)}, nil
}

// TriggerSelective resets and enqueues a caller-chosen subset: one
// channel set, with an optional per-channel model subset. A channel
// absent from modelIDsByChannel, or mapped to nil, gets every one of
// its models. Sync and store errors for one channel are logged and
// skipped rather than aborting the whole batch.
func (s *Service) TriggerSelective(ctx context.Context, channelIDs []int64, modelIDsByChannel map[int64][]int64) (*TriggerResult, error) {
	if err := s.queue.ClearStoppedFlag(ctx); err != nil {
		return nil, err
	}

	var (
		allJobs     []*model.ProbeJob
		syncResults []catalog.Result
		modelCount  int
	)
	now := time.Now()

	for _, channelID := range channelIDs {
		channel, err := s.store.GetChannel(ctx, channelID)
		if err != nil {
			log.Printf("[WARN] detection: channel %d lookup failed: %v", channelID, util.SanitizeError(err))
			continue
		}

		result := s.syncer.Sync(ctx, channel.ID, channel.BaseURL, channel.PrimaryAPIKey, channel.ProxyURL)
		syncResults = append(syncResults, result)
		if result.Err != nil {
			log.Printf("[WARN] detection: catalog sync failed for channel %d: %v", channelID, util.SanitizeError(result.Err))
		}

		models, err := s.store.ListModelsByChannel(ctx, channelID)
		if err != nil {
			log.Printf("[WARN] detection: list models failed for channel %d: %v", channelID, util.SanitizeError(err))
			continue
		}
		if ids, ok := modelIDsByChannel[channelID]; ok && ids != nil {
			models = filterModels(models, ids)
		}
		if len(models) == 0 {
			continue
		}

		if err := s.store.ResetModelsProbeState(ctx, modelIDsOf(models)); err != nil {
			log.Printf("[WARN] detection: reset models failed for channel %d: %v", channelID, util.SanitizeError(err))
			continue
		}

		allJobs = append(allJobs, buildJobs(channel, models, s.secondaryChatProbe, now)...)
		modelCount += len(models)
	}

	if err := s.queue.EnqueueBulk(ctx, allJobs); err != nil {
		return nil, err
	}

	return &TriggerResult{
		ChannelCount: len(channelIDs),
		ModelCount:   modelCount,
		JobIDs:       jobIDsOf(allJobs),
		SyncResults:  syncResults,
	}, nil
}

// StopDetection flips the stop flag and drains the queue's waiting
// backlog, per the queue's own StopAndDrain contract.
func (s *Service) StopDetection(ctx context.Context) (queue.DrainResult, error) {
	return s.queue.StopAndDrain(ctx)
}

// Snapshot is the external progress view: queue stats plus a derived
// running flag and completion percentage.
type Snapshot struct {
	Waiting         int
	Active          int
	Completed       int
	Failed          int
	Delayed         int
	Total           int
	IsRunning       bool
	ProgressPercent float64
	TestingModelIDs []int64
}

func (s *Service) ProgressSnapshot(ctx context.Context) (Snapshot, error) {
	stats, err := s.queue.Stats(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	testing, err := s.queue.TestingModelIDs(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	ids := make([]int64, 0, len(testing))
	for id := range testing {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	finished := stats.Completed + stats.Failed
	percent := 100.0
	if stats.Total > 0 {
		percent = float64(finished) / float64(stats.Total) * 100
	}

	return Snapshot{
		Waiting: stats.Waiting, Active: stats.Active, Completed: stats.Completed,
		Failed: stats.Failed, Delayed: stats.Delayed, Total: stats.Total,
		IsRunning:       stats.Waiting+stats.Active+stats.Delayed > 0,
		ProgressPercent: percent,
		TestingModelIDs: ids,
	}, nil
}

// SubscribeProgress passes through to the underlying bus so API
// handlers never need to reach past this service for live updates.
func (s *Service) SubscribeProgress(ctx context.Context, listener progress.Listener) progress.Unsubscribe {
	return s.bus.Subscribe(ctx, listener)
}

func (s *Service) syncChannels(ctx context.Context, channels []*model.Channel) []catalog.Result {
	results := make([]catalog.Result, 0, len(channels))
	for _, ch := range channels {
		result := s.syncer.Sync(ctx, ch.ID, ch.BaseURL, ch.PrimaryAPIKey, ch.ProxyURL)
		results = append(results, result)
		if result.Err != nil {
			log.Printf("[WARN] detection: catalog sync failed for channel %d: %v", ch.ID, util.SanitizeError(result.Err))
			continue
		}
		models, err := s.store.ListModelsByChannel(ctx, ch.ID)
		if err != nil {
			log.Printf("[WARN] detection: reload models after sync failed for channel %d: %v", ch.ID, util.SanitizeError(err))
			continue
		}
		ch.Models = models
	}
	return results
}

// resolveAPIKey picks the model's assigned additional key if one is
// set, falling back to the channel's primary key.
func resolveAPIKey(channel *model.Channel, m *model.Model) string {
	if m.ChannelKeyID != nil {
		for _, k := range channel.AdditionalKeys {
			if k.ID == *m.ChannelKeyID {
				return k.APIKey
			}
		}
	}
	return channel.PrimaryAPIKey
}

func buildJobs(channel *model.Channel, models []*model.Model, secondaryChatProbe bool, now time.Time) []*model.ProbeJob {
	var jobs []*model.ProbeJob
	for _, m := range models {
		apiKey := resolveAPIKey(channel, m)
		for _, kind := range probe.EndpointsToProbe(m.Name, secondaryChatProbe) {
			jobs = append(jobs, model.NewProbeJob(channel.ID, m.ID, m.Name, kind, channel.BaseURL, apiKey, m.ChannelKeyID, channel.ProxyURL, now))
		}
	}
	return jobs
}

func allModelIDs(channels []*model.Channel) []int64 {
	var ids []int64
	for _, ch := range channels {
		for _, m := range ch.Models {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

func filterModels(models []*model.Model, ids []int64) []*model.Model {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var filtered []*model.Model
	for _, m := range models {
		if want[m.ID] {
			filtered = append(filtered, m)
		}
	}
	return filtered
}

func modelIDsOf(models []*model.Model) []int64 {
	ids := make([]int64, len(models))
	for i, m := range models {
		ids[i] = m.ID
	}
	return ids
}

func jobIDsOf(jobs []*model.ProbeJob) []string {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	return ids
}
