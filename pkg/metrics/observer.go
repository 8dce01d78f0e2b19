package metrics

import "time"

// Event names emitted by the bridge.
const (
	EventSessionCreated    = "session_created"
	EventDriverState       = "driver_state"
	EventChunkSent         = "chunk_sent"
	EventAudioFrame        = "audio_frame_published"
	EventConsumerAttached  = "consumer_attached"
	EventConsumerDetached  = "consumer_detached"
	EventConsumerPruned    = "consumer_pruned"
	EventSynthConnectError = "synth_connect_error"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Emit records a counter-style event with the given tags, tolerating a nil
// observer so call sites need no guards.
func Emit(o Observer, name string, value float64, tags map[string]string) {
	if o == nil {
		return
	}
	o.RecordEvent(MetricsEvent{Name: name, Time: time.Now(), Value: value, Tags: tags})
}
