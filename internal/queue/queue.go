// Package queue implements the bounded-concurrency job queue the worker
// pool pulls from: a broker-backed FIFO for multi-process deployments,
// and a process-local in-memory fallback when no broker is configured.
package queue

import (
	"context"
	"errors"
	"time"

	"probewatch/internal/model"
)

// ErrBrokerBackendUnsupported is returned by the broker-backed Queue's
// PullNext/MarkDone: the broker drives its own consumer loop via
// Subscribe, so pull-based consumption isn't available on it.
var ErrBrokerBackendUnsupported = errors.New("queue: operation unsupported on broker-backed queue, use Subscribe")

// Stats is the snapshot returned by Queue.Stats.
type Stats struct {
	Waiting   int
	Active    int
	Completed int
	Failed    int
	Delayed   int
	Total     int
}

// DrainResult reports how many waiting jobs were discarded by
// StopAndDrain.
type DrainResult struct {
	Cleared int
}

// Queue is the bounded-concurrency job queue every worker pulls from,
// implemented either by a broker or in-memory.
type Queue interface {
	Enqueue(ctx context.Context, job *model.ProbeJob) error
	EnqueueBulk(ctx context.Context, jobs []*model.ProbeJob) error

	Stats(ctx context.Context) (Stats, error)
	TestingModelIDs(ctx context.Context) (map[int64]bool, error)
	TestingChannelIDs(ctx context.Context) (map[int64]bool, error)

	StopAndDrain(ctx context.Context) (DrainResult, error)
	StoppedFlag(ctx context.Context) (bool, error)
	ClearStoppedFlag(ctx context.Context) error

	HasPendingForModel(ctx context.Context, modelID int64, excludeJobID string) (bool, error)

	// PullNext and MarkDone are in-memory-backend-only operations; a
	// broker-backed queue drives its own consumer loop and returns
	// ErrBrokerBackendUnsupported for both.
	PullNext(ctx context.Context, canTake func(*model.ProbeJob) bool) (*model.ProbeJob, error)
	MarkDone(ctx context.Context, jobID string, success bool) error

	// Subscribe registers a consumer the broker-backed implementation
	// dispatches jobs to; in-memory callers should use PullNext instead.
	Subscribe(ctx context.Context, handler func(context.Context, *model.ProbeJob) error) error

	Close() error
}

// completedEntry/failedEntry back the in-memory backend's bounded
// completion history; the broker backend keeps its history in Redis.
type completedEntry struct {
	jobID       string
	completedAt time.Time
}

type failedEntry struct {
	jobID     string
	failedAt  time.Time
	errorMsg  string
}
