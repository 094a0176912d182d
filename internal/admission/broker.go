package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"probewatch/internal/apperr"
	"probewatch/internal/config"
)

const (
	globalCounterKey = "probewatch:admission:global"
	channelCounterKeyPrefix = "probewatch:admission:channel:"
)

// BrokerController is the multi-process backend: atomic INCR/DECR
// counters in Redis with a TTL, so a crashed worker's held slots expire
// instead of wedging the controller forever. Contended acquires poll at
// a fixed interval rather than blocking natively, since Redis has no
// notion of a blocking semaphore primitive.
type BrokerController struct {
	client *redis.Client

	mu         sync.RWMutex
	maxGlobal  int
	perChannel int
}

func NewBrokerController(client *redis.Client, maxGlobal, perChannel int) *BrokerController {
	return &BrokerController{client: client, maxGlobal: maxGlobal, perChannel: perChannel}
}

func channelCounterKey(channelID int64) string {
	return fmt.Sprintf("%s%d", channelCounterKeyPrefix, channelID)
}

func (c *BrokerController) capacities() (int, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxGlobal, c.perChannel
}

// Acquire mirrors the in-memory ordering: try the global counter first,
// then the per-channel counter; on per-channel contention, give the
// global slot back and poll until both succeed together.
func (c *BrokerController) Acquire(ctx context.Context, channelID int64) error {
	maxGlobal, perChannel := c.capacities()

	for {
		gotGlobal, err := c.tryIncr(ctx, globalCounterKey, maxGlobal)
		if err != nil {
			return err
		}
		if !gotGlobal {
			if err := c.wait(ctx); err != nil {
				return err
			}
			continue
		}

		gotChannel, err := c.tryIncr(ctx, channelCounterKey(channelID), perChannel)
		if err != nil {
			c.decr(ctx, globalCounterKey)
			return err
		}
		if gotChannel {
			return nil
		}

		c.decr(ctx, globalCounterKey)
		if err := c.wait(ctx); err != nil {
			return err
		}
	}
}

func (c *BrokerController) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(config.AdmissionPollInterval):
		return nil
	}
}

// tryIncr atomically increments key and refreshes its TTL, rolling back
// the increment if the result exceeds capacity.
func (c *BrokerController) tryIncr(ctx context.Context, key string, capacity int) (bool, error) {
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return false, apperr.AdmissionBrokerError("incr", err)
	}
	if n == 1 {
		c.client.Expire(ctx, key, config.AdmissionCounterTTL)
	}
	if n > int64(capacity) {
		c.decr(ctx, key)
		return false, nil
	}
	return true, nil
}

// decr releases a held slot, deleting the key outright if the result
// would go to zero or below, so stopAndDrain and crash recovery never
// leave a wedge state.
func (c *BrokerController) decr(ctx context.Context, key string) {
	n, err := c.client.Decr(ctx, key).Result()
	if err != nil {
		return
	}
	if n <= 0 {
		c.client.Del(ctx, key)
	}
}

func (c *BrokerController) Release(ctx context.Context, channelID int64) error {
	c.decr(ctx, channelCounterKey(channelID))
	c.decr(ctx, globalCounterKey)
	return nil
}

// Reset deletes every admission counter key, used by stopAndDrain.
func (c *BrokerController) Reset(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "probewatch:admission:*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return apperr.AdmissionBrokerError("reset-scan", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return apperr.AdmissionBrokerError("reset-del", err)
	}
	return nil
}

func (c *BrokerController) UpdateCapacity(maxGlobal, perChannel int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxGlobal = maxGlobal
	c.perChannel = perChannel
}

func (c *BrokerController) Close() error {
	return c.client.Close()
}
