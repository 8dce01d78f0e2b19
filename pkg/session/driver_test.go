package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voxkit/voxbridge/pkg/errorsx"
	"github.com/voxkit/voxbridge/pkg/frames"
	"github.com/voxkit/voxbridge/pkg/metrics"
)

type stubSynth struct {
	mu       sync.Mutex
	chunks   []string
	ended    bool
	closed   bool
	out      chan frames.AudioFrame
	startErr error
	streamErr error
	failAfterChunks int           // close out with streamErr after this many chunks (0 = never)
	gate            chan struct{} // when set, SendChunk waits for it before proceeding
}

func newStubSynth() *stubSynth {
	return &stubSynth{out: make(chan frames.AudioFrame, 64)}
}

func (s *stubSynth) Name() string { return "stub" }

func (s *stubSynth) Start(ctx context.Context) error { return s.startErr }

func (s *stubSynth) SendChunk(text string) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("connection closed")
	}
	s.chunks = append(s.chunks, text)
	s.out <- frames.NewAudioFrame("", time.Now().UnixNano(), []byte(text), 24000, 1, nil)
	if s.failAfterChunks > 0 && len(s.chunks) >= s.failAfterChunks {
		s.closed = true
		close(s.out)
	}
	return nil
}

func (s *stubSynth) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
	if !s.closed {
		s.closed = true
		close(s.out)
	}
	return nil
}

func (s *stubSynth) Frames() <-chan frames.AudioFrame { return s.out }

func (s *stubSynth) Err() error { return s.streamErr }

func (s *stubSynth) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
	return nil
}

func (s *stubSynth) sentChunks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.chunks))
	copy(out, s.chunks)
	return out
}

func (s *stubSynth) sawEnd() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

type recordingConsumer struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *recordingConsumer) ID() string { return "recorder" }

func (c *recordingConsumer) SendAudio(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *recordingConsumer) Close() error { return nil }

func (c *recordingConsumer) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

func awaitDone(t *testing.T, d *Driver) {
	t.Helper()
	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("driver did not terminate, state %s", d.State())
	}
}

func enqueueDelta(t *testing.T, sess *Session, text string) {
	t.Helper()
	f := frames.NewTextFrame(sess.ID, time.Now().UnixNano(), text, nil)
	if err := sess.Enqueue(f); err != nil {
		t.Fatalf("enqueue %q: %v", text, err)
	}
}

func enqueueEnd(t *testing.T, sess *Session) {
	t.Helper()
	f := frames.NewControlFrame(sess.ID, time.Now().UnixNano(), frames.ControlEndOfInput, nil)
	if err := sess.Enqueue(f); err != nil {
		t.Fatalf("enqueue end: %v", err)
	}
}

func TestDriverSentenceThenEnd(t *testing.T) {
	sess := New("sess-1", Config{Credential: "k", VoiceID: "v1", ModelID: "m1"}, metrics.NoopObserver{})
	syn := newStubSynth()
	d := NewDriver(sess, syn, metrics.NoopObserver{})
	if err := sess.AttachDriver(d); err != nil {
		t.Fatalf("attach driver: %v", err)
	}
	d.Start(context.Background())

	enqueueDelta(t, sess, "Hello world.")
	enqueueEnd(t, sess)
	awaitDone(t, d)

	if got := syn.sentChunks(); len(got) != 1 || got[0] != "Hello world." {
		t.Fatalf("expected single chunk %q, got %v", "Hello world.", got)
	}
	if !syn.sawEnd() {
		t.Fatalf("expected end-of-stream marker sent upstream")
	}
	if d.State() != StateClosed {
		t.Fatalf("expected closed, got %s", d.State())
	}
}

func TestDriverFlushesRemainderOnEnd(t *testing.T) {
	sess := New("sess-1", Config{Credential: "k", VoiceID: "v1"}, metrics.NoopObserver{})
	syn := newStubSynth()
	d := NewDriver(sess, syn, metrics.NoopObserver{})
	d.Start(context.Background())

	enqueueDelta(t, sess, "no punctuation here")
	enqueueEnd(t, sess)
	awaitDone(t, d)

	if got := syn.sentChunks(); len(got) != 1 || got[0] != "no punctuation here" {
		t.Fatalf("expected remainder flushed, got %v", got)
	}
}

func TestDriverBroadcastsFramesInOrder(t *testing.T) {
	sess := New("sess-1", Config{Credential: "k", VoiceID: "v1"}, metrics.NoopObserver{})
	rec := &recordingConsumer{}
	sess.Broadcaster().Attach(rec)

	syn := newStubSynth()
	d := NewDriver(sess, syn, metrics.NoopObserver{})
	d.Start(context.Background())

	enqueueDelta(t, sess, "One.")
	enqueueDelta(t, sess, "Two.")
	enqueueDelta(t, sess, "Three.")
	enqueueEnd(t, sess)
	awaitDone(t, d)

	got := rec.received()
	if len(got) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(got))
	}
	for i, want := range []string{"One.", "Two.", "Three."} {
		if string(got[i]) != want {
			t.Fatalf("frame %d out of order: got %q", i, got[i])
		}
	}
}

func TestDriverConnectFailureLeavesInboxUnconsumed(t *testing.T) {
	sess := New("sess-1", Config{Credential: "k", VoiceID: "v1"}, metrics.NoopObserver{})
	syn := newStubSynth()
	syn.startErr = errorsx.Wrap(errors.New("dial refused"), errorsx.ReasonSynthConnect)
	d := NewDriver(sess, syn, metrics.NoopObserver{})
	if err := sess.AttachDriver(d); err != nil {
		t.Fatalf("attach driver: %v", err)
	}

	enqueueDelta(t, sess, "never spoken.")
	d.Start(context.Background())
	awaitDone(t, d)

	if d.State() != StateFailed {
		t.Fatalf("expected failed, got %s", d.State())
	}
	if len(sess.inbox) != 1 {
		t.Fatalf("expected inbox left unconsumed, have %d events", len(sess.inbox))
	}
}

func TestDriverUpstreamAbortMidStream(t *testing.T) {
	sess := New("sess-1", Config{Credential: "k", VoiceID: "v1"}, metrics.NoopObserver{})
	rec := &recordingConsumer{}
	sess.Broadcaster().Attach(rec)

	syn := newStubSynth()
	syn.failAfterChunks = 1
	syn.streamErr = errorsx.Wrap(errors.New("unexpected EOF"), errorsx.ReasonSynthStream)
	d := NewDriver(sess, syn, metrics.NoopObserver{})
	d.Start(context.Background())

	enqueueDelta(t, sess, "First sentence.")
	awaitDone(t, d)

	if d.State() != StateFailed {
		t.Fatalf("expected failed, got %s", d.State())
	}
	if len(rec.received()) != 1 {
		t.Fatalf("expected exactly one frame before the abort, got %d", len(rec.received()))
	}
}

func TestEnqueueAfterEndRejected(t *testing.T) {
	sess := New("sess-1", Config{Credential: "k", VoiceID: "v1"}, metrics.NoopObserver{})
	enqueueEnd(t, sess)

	f := frames.NewTextFrame(sess.ID, time.Now().UnixNano(), "late", nil)
	err := sess.Enqueue(f)
	if err == nil {
		t.Fatalf("expected rejection after end")
	}
	if !errorsx.HasReason(err, errorsx.ReasonSessionClosed) {
		t.Fatalf("expected session_closed reason, got %q", errorsx.Reason(err))
	}
}

func TestEnqueueBackpressuresWhenInboxFull(t *testing.T) {
	sess := New("sess-1", Config{Credential: "k", VoiceID: "v1"}, metrics.NoopObserver{})
	syn := newStubSynth()
	syn.gate = make(chan struct{})
	d := NewDriver(sess, syn, metrics.NoopObserver{})
	if err := sess.AttachDriver(d); err != nil {
		t.Fatalf("attach driver: %v", err)
	}
	d.Start(context.Background())

	total := inboxCapacity + 50
	var produceErr error
	produced := make(chan struct{})
	go func() {
		defer close(produced)
		for i := 0; i < total; i++ {
			f := frames.NewTextFrame(sess.ID, time.Now().UnixNano(), "x.", nil)
			if err := sess.Enqueue(f); err != nil {
				produceErr = err
				return
			}
		}
		end := frames.NewControlFrame(sess.ID, time.Now().UnixNano(), frames.ControlEndOfInput, nil)
		produceErr = sess.Enqueue(end)
	}()

	// With the upstream gated shut the inbox must fill and stall the
	// producer instead of dropping events.
	select {
	case <-produced:
		t.Fatalf("producer finished with the upstream stalled, events were dropped")
	case <-time.After(100 * time.Millisecond):
	}

	close(syn.gate)
	select {
	case <-produced:
	case <-time.After(2 * time.Second):
		t.Fatalf("producer never unblocked")
	}
	if produceErr != nil {
		t.Fatalf("enqueue: %v", produceErr)
	}
	awaitDone(t, d)

	if got := len(syn.sentChunks()); got != total {
		t.Fatalf("expected all %d chunks delivered, got %d", total, got)
	}
	if !syn.sawEnd() {
		t.Fatalf("expected end-of-stream marker sent upstream")
	}
	if d.State() != StateClosed {
		t.Fatalf("expected closed, got %s", d.State())
	}
}

func TestStopBeforeStartTerminates(t *testing.T) {
	sess := New("sess-1", Config{Credential: "k", VoiceID: "v1"}, metrics.NoopObserver{})
	syn := newStubSynth()
	d := NewDriver(sess, syn, metrics.NoopObserver{})

	d.Stop()
	d.Start(context.Background())
	awaitDone(t, d)

	if st := d.State(); st != StateClosed && st != StateFailed {
		t.Fatalf("expected a terminal state, got %s", st)
	}
}

func TestAttachDriverTwice(t *testing.T) {
	sess := New("sess-1", Config{Credential: "k", VoiceID: "v1"}, metrics.NoopObserver{})
	d1 := NewDriver(sess, newStubSynth(), metrics.NoopObserver{})
	d2 := NewDriver(sess, newStubSynth(), metrics.NoopObserver{})
	if err := sess.AttachDriver(d1); err != nil {
		t.Fatalf("first attach: %v", err)
	}
	if err := sess.AttachDriver(d2); err == nil {
		t.Fatalf("expected second attach to fail")
	}
}
