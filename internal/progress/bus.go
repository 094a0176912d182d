// Package progress implements the at-most-once, non-blocking pub/sub
// bus workers publish ProgressEvents to after PERSIST. In single-process
// mode it never touches the network; in multi-process mode it also
// mirrors events through a broker channel so every process also sees
// other processes' events, at most once each.
package progress

import (
	"context"
	"sync"
	"sync/atomic"

	"probewatch/internal/model"
)

// listenerBufferSize bounds how far a slow subscriber can lag before
// the bus starts dropping its events rather than blocking the publisher.
const listenerBufferSize = 256

// Listener receives events published on the bus.
type Listener func(event *model.ProgressEvent)

// Unsubscribe detaches a previously registered listener.
type Unsubscribe func()

// Bus is the process-local fan-out: Publish never blocks, and a
// listener that falls behind silently drops events instead of stalling
// every other subscriber.
type Bus struct {
	mu        sync.RWMutex
	listeners map[int64]*subscriber
	nextID    int64

	dropCount atomic.Uint64
}

type subscriber struct {
	ch chan *model.ProgressEvent
}

func NewBus() *Bus {
	return &Bus{listeners: make(map[int64]*subscriber)}
}

// Subscribe registers listener and starts a goroutine that drains its
// dedicated channel, so per-listener delivery order is preserved even
// though Publish itself never blocks on a slow consumer.
func (b *Bus) Subscribe(ctx context.Context, listener Listener) Unsubscribe {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan *model.ProgressEvent, listenerBufferSize)}
	b.listeners[id] = sub
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-sub.ch:
				if !ok {
					return
				}
				listener(event)
			}
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.listeners[id]; ok {
			delete(b.listeners, id)
			close(sub.ch)
		}
	}
}

// Publish fans event out to every current listener without blocking;
// a full listener channel drops the event and increments DroppedCount.
func (b *Bus) Publish(event *model.ProgressEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.listeners {
		select {
		case sub.ch <- event:
		default:
			b.dropCount.Add(1)
		}
	}
}

// DroppedCount returns how many events have been dropped for slow
// consumers since startup, for metrics/logging.
func (b *Bus) DroppedCount() uint64 {
	return b.dropCount.Load()
}
