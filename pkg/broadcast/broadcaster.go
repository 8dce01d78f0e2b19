package broadcast

import (
	"log/slog"
	"sync"

	"github.com/voxkit/voxbridge/pkg/frames"
	"github.com/voxkit/voxbridge/pkg/metrics"
)

// Consumer is one attached audio sink. SendAudio must not block indefinitely;
// a returned error marks the consumer dead and it is pruned from the set.
type Consumer interface {
	ID() string
	SendAudio(data []byte) error
	Close() error
}

// Broadcaster fans audio frames out to every consumer attached to one
// session. There is no backlog: consumers only see frames published after
// they attach.
type Broadcaster struct {
	sessionID string
	observer  metrics.Observer

	mu        sync.Mutex
	consumers map[string]Consumer
}

func New(sessionID string, observer metrics.Observer) *Broadcaster {
	return &Broadcaster{
		sessionID: sessionID,
		observer:  observer,
		consumers: make(map[string]Consumer),
	}
}

func (b *Broadcaster) Attach(c Consumer) {
	b.mu.Lock()
	b.consumers[c.ID()] = c
	n := len(b.consumers)
	b.mu.Unlock()
	metrics.Emit(b.observer, metrics.EventConsumerAttached, 1, map[string]string{frames.MetaSessionID: b.sessionID})
	slog.Info("audio consumer attached",
		slog.String("session_id", b.sessionID),
		slog.String("consumer_id", c.ID()),
		slog.Int("total", n))
}

// Detach removes a consumer; idempotent.
func (b *Broadcaster) Detach(id string) {
	b.mu.Lock()
	_, ok := b.consumers[id]
	delete(b.consumers, id)
	b.mu.Unlock()
	if ok {
		metrics.Emit(b.observer, metrics.EventConsumerDetached, 1, map[string]string{frames.MetaSessionID: b.sessionID})
	}
}

// Publish delivers one audio frame to every attached consumer, in attachment
// set order. A failing consumer is closed and removed; its failure never
// propagates to the caller or to the other consumers.
func (b *Broadcaster) Publish(f frames.AudioFrame) {
	b.mu.Lock()
	snapshot := make([]Consumer, 0, len(b.consumers))
	for _, c := range b.consumers {
		snapshot = append(snapshot, c)
	}
	b.mu.Unlock()

	payload := f.RawPayload()
	for _, c := range snapshot {
		if err := c.SendAudio(payload); err != nil {
			slog.Warn("audio consumer send failed, pruning",
				slog.String("session_id", b.sessionID),
				slog.String("consumer_id", c.ID()),
				slog.String("error", err.Error()))
			_ = c.Close()
			b.Detach(c.ID())
			metrics.Emit(b.observer, metrics.EventConsumerPruned, 1, map[string]string{frames.MetaSessionID: b.sessionID})
		}
	}
}

func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.consumers)
}

// CloseAll closes and removes every consumer, used at session teardown.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	consumers := b.consumers
	b.consumers = make(map[string]Consumer)
	b.mu.Unlock()
	for _, c := range consumers {
		_ = c.Close()
	}
}
