package mock

import (
	"context"
	"sync"
	"testing"

	"github.com/voxkit/voxbridge/pkg/errorsx"
)

func TestChunkProducesSilenceFrame(t *testing.T) {
	s := New("sess-1", 24000)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.SendChunk("abcd"); err != nil {
		t.Fatalf("send chunk: %v", err)
	}
	f := <-s.Frames()
	want := 4 * 24000 * 40 / 1000 * 2
	if len(f.RawPayload()) != want {
		t.Fatalf("expected %d bytes of silence, got %d", want, len(f.RawPayload()))
	}
	if got := s.Chunks(); len(got) != 1 || got[0] != "abcd" {
		t.Fatalf("expected chunk recorded, got %v", got)
	}
}

func TestSendChunkAfterCloseErrors(t *testing.T) {
	s := New("sess-1", 0)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	err := s.SendChunk("late")
	if err == nil {
		t.Fatalf("expected error after close")
	}
	if !errorsx.HasReason(err, errorsx.ReasonSynthSend) {
		t.Fatalf("expected synth_send reason, got %q", errorsx.Reason(err))
	}
}

func TestCloseDuringConcurrentSends(t *testing.T) {
	s := New("sess-1", 8000)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = s.SendChunk("hi")
			}
		}()
	}
	_ = s.Close()
	_ = s.End()
	wg.Wait()
	// The frames channel must have been closed exactly once.
	for range s.Frames() {
	}
}
