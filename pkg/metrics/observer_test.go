package metrics

import (
	"testing"
	"time"
)

func TestMemoryObserverCounts(t *testing.T) {
	m := NewMemoryObserver()
	Emit(m, EventChunkSent, 12, map[string]string{"session_id": "s1"})
	Emit(m, EventChunkSent, 7, nil)
	Emit(m, EventSessionCreated, 1, nil)
	if got := m.Count(EventChunkSent); got != 2 {
		t.Fatalf("expected 2 chunk events, got %d", got)
	}
	if got := m.Count(EventAudioFrame); got != 0 {
		t.Fatalf("expected no audio events, got %d", got)
	}
}

func TestEmitToleratesNilObserver(t *testing.T) {
	Emit(nil, EventAudioFrame, 1, nil)
}

func TestSamplingObserverForwardsAtRate(t *testing.T) {
	m := NewMemoryObserver()
	s := NewSamplingObserver(m, 0.1)
	for i := 0; i < 100; i++ {
		s.RecordEvent(MetricsEvent{Name: EventAudioFrame, Time: time.Now()})
	}
	if got := m.Count(EventAudioFrame); got != 10 {
		t.Fatalf("expected 10 sampled events, got %d", got)
	}
}

func TestSamplingObserverZeroRateDropsAll(t *testing.T) {
	m := NewMemoryObserver()
	s := NewSamplingObserver(m, 0)
	for i := 0; i < 20; i++ {
		s.RecordEvent(MetricsEvent{Name: EventAudioFrame})
	}
	if got := m.Count(EventAudioFrame); got != 0 {
		t.Fatalf("expected everything dropped, got %d", got)
	}
}

func TestAsyncObserverDeliversBeforeClose(t *testing.T) {
	m := NewMemoryObserver()
	a := NewAsyncObserver(m, 16)
	for i := 0; i < 5; i++ {
		a.RecordEvent(MetricsEvent{Name: EventConsumerAttached})
	}
	deadline := time.Now().Add(2 * time.Second)
	for m.Count(EventConsumerAttached) < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := m.Count(EventConsumerAttached); got != 5 {
		t.Fatalf("expected 5 delivered events, got %d", got)
	}
	a.Close()
	a.RecordEvent(MetricsEvent{Name: EventConsumerAttached})
	if got := m.Count(EventConsumerAttached); got != 5 {
		t.Fatalf("expected events after close to be dropped, got %d", got)
	}
}
