package progress

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"probewatch/internal/model"
)

const channelName = "probewatch:progress"

// wireEvent carries the sourceId tag so a process can recognize and
// skip its own re-published events.
type wireEvent struct {
	SourceID string              `json:"sourceId"`
	Event    *model.ProgressEvent `json:"event"`
}

// BrokerMirror wraps a Bus with a Redis pub/sub channel: every local
// Publish is also broadcast to the channel, and every broker message
// not tagged with this process's sourceId is replayed into the local
// bus. Single-process deployments never construct one of these.
type BrokerMirror struct {
	bus      *Bus
	client   *redis.Client
	sourceID string
	cancel   context.CancelFunc
}

func NewBrokerMirror(bus *Bus, client *redis.Client) *BrokerMirror {
	return &BrokerMirror{bus: bus, client: client, sourceID: uuid.NewString()}
}

// Start subscribes to the broker channel and begins relaying
// non-local events into bus until ctx is cancelled.
func (m *BrokerMirror) Start(ctx context.Context) {
	subCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	sub := m.client.Subscribe(subCtx, channelName)
	ch := sub.Channel()

	go func() {
		defer sub.Close()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				m.handleMessage(msg.Payload)
			}
		}
	}()
}

func (m *BrokerMirror) handleMessage(payload string) {
	var wire wireEvent
	if err := sonic.Unmarshal([]byte(payload), &wire); err != nil {
		return
	}
	if wire.SourceID == m.sourceID || wire.Event == nil {
		return
	}
	m.bus.Publish(wire.Event)
}

// Publish broadcasts event to the broker channel tagged with this
// process's sourceId; callers still call Bus.Publish separately for
// local delivery, mirroring the "re-emits events that are not its own"
// contract.
func (m *BrokerMirror) Publish(ctx context.Context, event *model.ProgressEvent) error {
	event.SourceID = m.sourceID
	data, err := sonic.Marshal(wireEvent{SourceID: m.sourceID, Event: event})
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	return m.client.Publish(ctx, channelName, data).Err()
}

func (m *BrokerMirror) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}
