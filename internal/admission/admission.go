// Package admission implements the two-level blocking semaphore the
// worker pool acquires before running a probe: one global slot, one
// per-channel slot. acquire always takes global first, then
// per-channel, releasing global back on per-channel contention and
// retrying, so a backlog of per-channel waiters can never pin every
// global slot.
package admission

import "context"

// Controller is implemented by the in-memory and broker-backed
// admission controllers; the worker pool depends only on this.
type Controller interface {
	// Acquire blocks until both a global and a per-channel slot are
	// held, or ctx is done. A non-nil error is either ctx.Err() or a
	// broker error; the worker treats either as a failed job, which the
	// broker queue retries and the in-memory queue marks failed.
	Acquire(ctx context.Context, channelID int64) error

	// Release returns the slots Acquire granted for channelID. It must be
	// paired with a successful Acquire: the in-memory controller panics
	// on an unmatched Release, and the broker controller deletes a
	// counter that a decrement drives to zero or below.
	Release(ctx context.Context, channelID int64) error

	// Reset clears every counter this controller owns, used by
	// stopAndDrain to guarantee no wedge state survives a stop.
	Reset(ctx context.Context) error

	// UpdateCapacity applies a new global/per-channel capacity, as read
	// from the worker pool's memoized SchedulerConfig. Existing holders
	// are unaffected; it only changes the ceiling future Acquire calls
	// block against.
	UpdateCapacity(maxGlobal, perChannel int)

	Close() error
}
