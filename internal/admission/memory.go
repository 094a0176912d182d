package admission

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// weightedSlot pairs a weighted semaphore with a busy count this
// package tracks itself: the number of Acquire calls currently holding
// or about to hold a permit against this exact instance. UpdateCapacity
// only ever replaces a slot whose busy count is zero, so a Release call
// made against a channelID/global slot always targets the same
// instance its matching Acquire call used, even if a capacity change
// landed in between.
type weightedSlot struct {
	sem  *semaphore.Weighted
	busy int64
	cap  int64
}

func newWeightedSlot(capacity int64) *weightedSlot {
	return &weightedSlot{sem: semaphore.NewWeighted(capacity), cap: capacity}
}

// MemoryController is the single-process backend: one global weighted
// semaphore plus a lazily-created per-channel semaphore map, both from
// golang.org/x/sync/semaphore so Acquire honors ctx cancellation
// natively with no polling.
type MemoryController struct {
	mu       sync.Mutex
	global   *weightedSlot
	perChan  map[int64]*weightedSlot
	capacity int64
}

func NewMemoryController(maxGlobal, perChannel int) *MemoryController {
	return &MemoryController{
		global:   newWeightedSlot(int64(maxGlobal)),
		perChan:  make(map[int64]*weightedSlot),
		capacity: int64(perChannel),
	}
}

// reserveGlobal returns the current global slot with its busy count
// already bumped, so UpdateCapacity can never swap it out from under
// this reservation.
func (c *MemoryController) reserveGlobal() *weightedSlot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.global.busy++
	return c.global
}

func (c *MemoryController) unreserveGlobal(g *weightedSlot) {
	c.mu.Lock()
	g.busy--
	c.mu.Unlock()
}

// reserveChannel returns channelID's current slot (creating it at the
// controller's current capacity if this is the first use) with its
// busy count bumped.
func (c *MemoryController) reserveChannel(channelID int64) *weightedSlot {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, ok := c.perChan[channelID]
	if !ok {
		slot = newWeightedSlot(c.capacity)
		c.perChan[channelID] = slot
	}
	slot.busy++
	return slot
}

func (c *MemoryController) unreserveChannel(slot *weightedSlot) {
	c.mu.Lock()
	slot.busy--
	c.mu.Unlock()
}

// Acquire takes the global slot first, then the per-channel slot,
// releasing the global slot and retrying on per-channel contention so a
// channel backlog can never pin every global slot.
func (c *MemoryController) Acquire(ctx context.Context, channelID int64) error {
	for {
		g := c.reserveGlobal()
		if err := g.sem.Acquire(ctx, 1); err != nil {
			c.unreserveGlobal(g)
			return err
		}

		chanSlot := c.reserveChannel(channelID)
		if chanSlot.sem.TryAcquire(1) {
			return nil
		}
		g.sem.Release(1)
		c.unreserveGlobal(g)

		if err := chanSlot.sem.Acquire(ctx, 1); err != nil {
			c.unreserveChannel(chanSlot)
			return err
		}
		chanSlot.sem.Release(1)
		c.unreserveChannel(chanSlot)
		// Lost the race for the global slot in between; loop and retry
		// both acquisitions from the top.
	}
}

func (c *MemoryController) Release(ctx context.Context, channelID int64) error {
	c.mu.Lock()
	chanSlot, ok := c.perChan[channelID]
	g := c.global
	c.mu.Unlock()

	if ok {
		chanSlot.sem.Release(1)
		c.unreserveChannel(chanSlot)
	}
	g.sem.Release(1)
	c.unreserveGlobal(g)
	return nil
}

// Reset is a no-op for the in-memory backend: x/sync/semaphore holds no
// externally observable state to wedge, and process exit clears it all.
func (c *MemoryController) Reset(ctx context.Context) error {
	return nil
}

// UpdateCapacity applies a new global/per-channel capacity. A slot
// currently in use (busy > 0) keeps its old semaphore instance instead
// of being swapped out from under its holder - swapping a live instance
// would desynchronize a later Release from the Acquire it matches and
// panic with "semaphore: released more than held". A busy slot picks up
// the new capacity the next time this is called while it's idle.
func (c *MemoryController) UpdateCapacity(maxGlobal, perChannel int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	newGlobalCap := int64(maxGlobal)
	if newGlobalCap != c.global.cap && c.global.busy == 0 {
		c.global = newWeightedSlot(newGlobalCap)
	}

	newPerChannelCap := int64(perChannel)
	c.capacity = newPerChannelCap
	for id, slot := range c.perChan {
		if slot.cap != newPerChannelCap && slot.busy == 0 {
			c.perChan[id] = newWeightedSlot(newPerChannelCap)
		}
	}
}

func (c *MemoryController) Close() error {
	return nil
}
