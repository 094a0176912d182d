package queue

import (
	"container/list"
	"context"
	"sync"
	"time"

	"probewatch/internal/apperr"
	"probewatch/internal/config"
	"probewatch/internal/model"
)

type memoryJobState int

const (
	stateWaiting memoryJobState = iota
	stateActive
)

type memoryEntry struct {
	job   *model.ProbeJob
	state memoryJobState
}

// MemoryQueue is the single-process backend: a FIFO list plus active
// set, with no broker dependency. stopAndDrain sets a boolean flag that
// active jobs observe at their next checkpoint instead of being killed
// outright.
type MemoryQueue struct {
	mu sync.Mutex

	waiting *list.List // of *memoryEntry
	active  map[string]*memoryEntry

	completed []completedEntry
	failed    []failedEntry

	stopped    bool
	stoppedAt  time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		waiting: list.New(),
		active:  make(map[string]*memoryEntry),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job *model.ProbeJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.waiting.PushBack(&memoryEntry{job: job, state: stateWaiting})
	return nil
}

func (q *MemoryQueue) EnqueueBulk(ctx context.Context, jobs []*model.ProbeJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, job := range jobs {
		q.waiting.PushBack(&memoryEntry{job: job, state: stateWaiting})
	}
	return nil
}

func (q *MemoryQueue) Stats(ctx context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Stats{
		Waiting:   q.waiting.Len(),
		Active:    len(q.active),
		Completed: len(q.completed),
		Failed:    len(q.failed),
	}
	s.Total = s.Waiting + s.Active + s.Completed + s.Failed
	return s, nil
}

func (q *MemoryQueue) TestingModelIDs(ctx context.Context) (map[int64]bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make(map[int64]bool)
	for e := q.waiting.Front(); e != nil; e = e.Next() {
		ids[e.Value.(*memoryEntry).job.ModelID] = true
	}
	for _, e := range q.active {
		ids[e.job.ModelID] = true
	}
	return ids, nil
}

func (q *MemoryQueue) TestingChannelIDs(ctx context.Context) (map[int64]bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make(map[int64]bool)
	for e := q.waiting.Front(); e != nil; e = e.Next() {
		ids[e.Value.(*memoryEntry).job.ChannelID] = true
	}
	for _, e := range q.active {
		ids[e.job.ChannelID] = true
	}
	return ids, nil
}

func (q *MemoryQueue) StopAndDrain(ctx context.Context) (DrainResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cleared := q.waiting.Len()
	q.waiting.Init()
	q.stopped = true
	q.stoppedAt = time.Now()
	return DrainResult{Cleared: cleared}, nil
}

func (q *MemoryQueue) StoppedFlag(ctx context.Context) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped && time.Since(q.stoppedAt) > config.StoppedFlagTTL {
		q.stopped = false
	}
	return q.stopped, nil
}

func (q *MemoryQueue) ClearStoppedFlag(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = false
	return nil
}

func (q *MemoryQueue) HasPendingForModel(ctx context.Context, modelID int64, excludeJobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for e := q.waiting.Front(); e != nil; e = e.Next() {
		entry := e.Value.(*memoryEntry)
		if entry.job.ModelID == modelID && entry.job.ID != excludeJobID {
			return true, nil
		}
	}
	for id, entry := range q.active {
		if entry.job.ModelID == modelID && id != excludeJobID {
			return true, nil
		}
	}
	return false, nil
}

// PullNext returns and moves to active the first waiting job canTake
// accepts, scanning from the front so FIFO order holds among jobs that
// satisfy the same predicate.
func (q *MemoryQueue) PullNext(ctx context.Context, canTake func(*model.ProbeJob) bool) (*model.ProbeJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for e := q.waiting.Front(); e != nil; e = e.Next() {
		entry := e.Value.(*memoryEntry)
		if canTake == nil || canTake(entry.job) {
			q.waiting.Remove(e)
			entry.state = stateActive
			q.active[entry.job.ID] = entry
			return entry.job, nil
		}
	}
	return nil, nil
}

func (q *MemoryQueue) MarkDone(ctx context.Context, jobID string, success bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, ok := q.active[jobID]
	if !ok {
		return apperr.QueueJobNotFound(jobID)
	}
	delete(q.active, jobID)

	if success {
		q.completed = append(q.completed, completedEntry{jobID: jobID, completedAt: time.Now()})
	} else {
		q.failed = append(q.failed, failedEntry{jobID: jobID, failedAt: time.Now()})
	}
	q.trimHistory()

	if q.waiting.Len() == 0 && len(q.active) == 0 {
		q.completed = nil
		q.failed = nil
	}
	return nil
}

func (q *MemoryQueue) trimHistory() {
	now := time.Now()
	kept := q.completed[:0]
	for _, c := range q.completed {
		if now.Sub(c.completedAt) <= config.QueueCompletedTTL {
			kept = append(kept, c)
		}
	}
	if len(kept) > config.QueueCompletedCap {
		kept = kept[len(kept)-config.QueueCompletedCap:]
	}
	q.completed = kept

	keptFailed := q.failed[:0]
	for _, f := range q.failed {
		if now.Sub(f.failedAt) <= config.QueueFailedTTL {
			keptFailed = append(keptFailed, f)
		}
	}
	if len(keptFailed) > config.QueueFailedCap {
		keptFailed = keptFailed[len(keptFailed)-config.QueueFailedCap:]
	}
	q.failed = keptFailed
}

// Subscribe is unsupported on the in-memory backend: callers drive
// dequeue loops with PullNext instead of a push-based handler.
func (q *MemoryQueue) Subscribe(ctx context.Context, handler func(context.Context, *model.ProbeJob) error) error {
	return apperr.QueueStopped().WithContext("reason", "in-memory backend has no subscribe loop; use PullNext")
}

func (q *MemoryQueue) Close() error {
	return nil
}
