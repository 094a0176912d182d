package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"probewatch/internal/model"
)

func TestBus_PublishDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var a, b int
	unsubA := bus.Subscribe(ctx, func(*model.ProgressEvent) { mu.Lock(); a++; mu.Unlock() })
	unsubB := bus.Subscribe(ctx, func(*model.ProgressEvent) { mu.Lock(); b++; mu.Unlock() })
	defer unsubA()
	defer unsubB()

	bus.Publish(&model.ProgressEvent{ModelID: 1})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := a == 1 && b == 1
		mu.Unlock()
		if got {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected both subscribers to observe the event, got a=%d b=%d", a, b)
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	var mu sync.Mutex
	count := 0
	unsub := bus.Subscribe(ctx, func(*model.ProgressEvent) { mu.Lock(); count++; mu.Unlock() })
	unsub()

	bus.Publish(&model.ProgressEvent{ModelID: 1})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Fatalf("expected no delivery after unsubscribe, got %d", count)
	}
}

func TestBus_FullListenerBufferDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	block := make(chan struct{})
	bus.Subscribe(ctx, func(*model.ProgressEvent) { <-block })

	for i := 0; i < listenerBufferSize+10; i++ {
		bus.Publish(&model.ProgressEvent{ModelID: int64(i)})
	}
	close(block)

	if bus.DroppedCount() == 0 {
		t.Fatal("expected some events to be dropped once the listener buffer fills")
	}
}
