// Package worker runs the job state machine every probe travels
// through: dequeue, admit, jitter, probe, persist, publish, release.
// It drives either backend transparently — broker-backed queues push
// jobs in through Subscribe, the in-memory queue is pulled from a
// fixed set of goroutines this package owns.
package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"probewatch/internal/admission"
	"probewatch/internal/config"
	"probewatch/internal/model"
	"probewatch/internal/probe"
	"probewatch/internal/progress"
	"probewatch/internal/queue"
	"probewatch/internal/storage"
	"probewatch/internal/util"
)

// configTTL bounds how long a fetched SchedulerConfig is trusted
// before the next job re-reads it.
const configTTL = 5 * time.Second

// pullIdleDelay is how long an in-memory pull loop backs off after
// finding the queue empty, to avoid spinning.
const pullIdleDelay = 50 * time.Millisecond

// Pool owns the DEQUEUED->ACQUIRING->JITTER->PROBING->PERSIST->
// PUBLISH->RELEASE->DONE state machine for every job it processes.
type Pool struct {
	queue     queue.Queue
	admission admission.Controller
	executor  *probe.Executor
	store     storage.Store
	bus       *progress.Bus
	mirror    *progress.BrokerMirror // nil in single-process mode

	mu    sync.Mutex
	cfg   *model.SchedulerConfig
	cfgAt time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(q queue.Queue, adm admission.Controller, executor *probe.Executor, store storage.Store, bus *progress.Bus, mirror *progress.BrokerMirror) *Pool {
	return &Pool{queue: q, admission: adm, executor: executor, store: store, bus: bus, mirror: mirror}
}

// Start launches the pool's consumption of jobs. On a broker-backed
// queue this registers a push handler and returns immediately; on the
// in-memory queue it spins up its own pull loop goroutines sized to
// the current MaxGlobalConcurrency.
func (p *Pool) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	if err := p.queue.Subscribe(runCtx, p.handle); err == nil {
		return nil
	}

	n := config.DefaultBrokerWorkerFanout
	if cfg, err := p.configSnapshot(runCtx); err == nil {
		n = cfg.MaxGlobalConcurrency
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.pullLoop(runCtx)
	}
	return nil
}

// Stop cancels every worker goroutine and waits for the in-memory pull
// loops to exit. Broker consumer loops are stopped by cancelling the
// same context; Close on the queue releases its own goroutines.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// ReloadConfig forces the next job to re-read SchedulerConfig instead
// of serving the memoized value, even if its TTL hasn't expired.
func (p *Pool) ReloadConfig() {
	p.mu.Lock()
	p.cfg = nil
	p.mu.Unlock()
}

func (p *Pool) pullLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.queue.PullNext(ctx, nil)
		if err != nil || job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pullIdleDelay):
			}
			continue
		}

		success := p.handle(ctx, job) == nil
		if err := p.queue.MarkDone(ctx, job.ID, success); err != nil {
			log.Printf("[WARN] worker: mark done failed for job %s: %v", job.ID, util.SanitizeError(err))
		}
	}
}

// handle runs one job through the full state machine. A non-nil
// return is an infrastructure failure (persistence or admission) that
// the caller should treat as a queue-level failure eligible for retry;
// a probe-level failure (upstream error) is still a nil return, since
// it was recorded and published successfully.
func (p *Pool) handle(ctx context.Context, job *model.ProbeJob) error {
	// DEQUEUED: check cancellation before doing any work at all.
	stopped, err := p.queue.StoppedFlag(ctx)
	if err != nil {
		return err
	}
	if stopped {
		return p.finishCanceled(ctx, job)
	}

	// ACQUIRING
	if err := p.admission.Acquire(ctx, job.ChannelID); err != nil {
		return err
	}

	// Re-check immediately after acquiring: this closes the race where
	// the stop flag is set while we were blocked waiting for a slot.
	stopped, err = p.queue.StoppedFlag(ctx)
	if err != nil {
		_ = p.admission.Release(ctx, job.ChannelID)
		return err
	}
	if stopped {
		_ = p.admission.Release(ctx, job.ChannelID)
		return p.finishCanceled(ctx, job)
	}

	// JITTER: also honors the queue's stop flag, not just ctx, so a stop
	// that lands mid-jitter short-circuits to a canceled outcome instead
	// of sleeping out the full delay and then running a real probe.
	minJitter, maxJitter := config.DefaultMinJitterMS, config.DefaultMaxJitterMS
	if cfg, err := p.configSnapshot(ctx); err == nil {
		minJitter, maxJitter = cfg.MinJitterMS, cfg.MaxJitterMS
	}
	canceled, err := p.waitJitter(ctx, util.RandomJitter(minJitter, maxJitter))
	if err != nil {
		_ = p.admission.Release(ctx, job.ChannelID)
		return err
	}
	if canceled {
		_ = p.admission.Release(ctx, job.ChannelID)
		return p.finishCanceled(ctx, job)
	}

	// PROBING
	outcome := p.runProbe(ctx, job)

	// PERSIST
	persistErr := p.store.PersistProbeOutcome(ctx, job, outcome)
	if persistErr != nil {
		log.Printf("[ERROR] worker: persist outcome failed for job %s: %v", job.ID, util.SanitizeError(persistErr))
	}

	// PUBLISH: a persistence failure always publishes status=fail,
	// regardless of the probe's actual outcome - the store holds nothing
	// for this job, so a published success would diverge from it.
	published := outcome
	if persistErr != nil {
		published = &model.ProbeOutcome{
			EndpointKind: outcome.EndpointKind,
			Status:       model.ProbeStatusFail,
			LatencyMS:    outcome.LatencyMS,
			ErrorMessage: outcome.ErrorMessage,
		}
	}
	complete := p.isModelComplete(ctx, job)
	p.publish(job, published, complete)

	// RELEASE
	_ = p.admission.Release(ctx, job.ChannelID)

	return persistErr
}

// waitJitter sleeps up to d, polling the queue's stop flag at
// config.JitterCancelPollInterval so a stop mid-sleep is noticed well
// before the full delay elapses. Returns canceled=true the moment the
// flag is seen set, without waiting out the rest of d.
func (p *Pool) waitJitter(ctx context.Context, d time.Duration) (canceled bool, err error) {
	deadline := time.Now().Add(d)
	for {
		stopped, err := p.queue.StoppedFlag(ctx)
		if err != nil {
			return false, err
		}
		if stopped {
			return true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		wait := config.JitterCancelPollInterval
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// finishCanceled short-circuits a job straight to a fail outcome
// without ever probing, per the cancellation checkpoints. It is
// always a nil return: a canceled job is a handled terminal state,
// never something worth retrying.
func (p *Pool) finishCanceled(ctx context.Context, job *model.ProbeJob) error {
	outcome := &model.ProbeOutcome{
		EndpointKind: job.EndpointKind,
		Status:       model.ProbeStatusFail,
		ErrorMessage: "Detection stopped by user",
	}
	if err := p.store.PersistProbeOutcome(ctx, job, outcome); err != nil {
		log.Printf("[ERROR] worker: persist canceled outcome failed for job %s: %v", job.ID, util.SanitizeError(err))
	}
	complete := p.isModelComplete(ctx, job)
	p.publish(job, outcome, complete)
	return nil
}

func (p *Pool) runProbe(ctx context.Context, job *model.ProbeJob) *model.ProbeOutcome {
	req, err := probe.BuildProbe(job.BaseURL, job.APIKey, job.ModelName, job.EndpointKind)
	if err != nil {
		return &model.ProbeOutcome{
			EndpointKind: job.EndpointKind,
			Status:       model.ProbeStatusFail,
			ErrorMessage: model.TruncateErrorMessage(err.Error()),
		}
	}
	return p.executor.Execute(ctx, job, req)
}

// isModelComplete is true once no other queued or active job remains
// for job's model, the inverse of HasPendingForModel.
func (p *Pool) isModelComplete(ctx context.Context, job *model.ProbeJob) bool {
	pending, err := p.queue.HasPendingForModel(ctx, job.ModelID, job.ID)
	if err != nil {
		log.Printf("[WARN] worker: pending check failed for job %s: %v", job.ID, util.SanitizeError(err))
		return false
	}
	return !pending
}

func (p *Pool) publish(job *model.ProbeJob, outcome *model.ProbeOutcome, complete bool) {
	event := &model.ProgressEvent{
		ChannelID:       job.ChannelID,
		ModelID:         job.ModelID,
		ModelName:       job.ModelName,
		EndpointKind:    outcome.EndpointKind,
		Status:          outcome.Status,
		LatencyMS:       outcome.LatencyMS,
		Timestamp:       time.Now(),
		IsModelComplete: complete,
	}
	p.bus.Publish(event)

	if p.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := p.mirror.Publish(ctx, event); err != nil {
			log.Printf("[WARN] worker: broker mirror publish failed: %v", util.SanitizeError(err))
		}
	}
}

// configSnapshot returns the memoized SchedulerConfig, refetching it
// from the store once its TTL elapses. A refetch only pushes new
// capacity bounds into the admission controller when they actually
// changed, since UpdateCapacity on an unchanged value is pure overhead.
func (p *Pool) configSnapshot(ctx context.Context) (*model.SchedulerConfig, error) {
	p.mu.Lock()
	if p.cfg != nil && time.Since(p.cfgAt) < configTTL {
		cfg := p.cfg
		p.mu.Unlock()
		return cfg, nil
	}
	p.mu.Unlock()

	cfg, err := p.store.LoadSchedulerConfig(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	prev := p.cfg
	p.cfg = cfg
	p.cfgAt = time.Now()
	p.mu.Unlock()

	if prev == nil || prev.MaxGlobalConcurrency != cfg.MaxGlobalConcurrency || prev.ChannelConcurrency != cfg.ChannelConcurrency {
		p.admission.UpdateCapacity(cfg.MaxGlobalConcurrency, cfg.ChannelConcurrency)
	}
	return cfg, nil
}
