package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/voxkit/voxbridge/pkg/adapters/synth"
	"github.com/voxkit/voxbridge/pkg/errorsx"
	"github.com/voxkit/voxbridge/pkg/frames"
)

// Synthesizer is a no-network stand-in for a synthesis vendor. Every chunk
// produces one frame of PCM silence sized proportionally to the text, so the
// full relay path can be exercised without credentials.
type Synthesizer struct {
	sessionID  string
	sampleRate int
	out        chan frames.AudioFrame

	mu     sync.Mutex
	chunks []string
	ended  bool
}

func New(sessionID string, sampleRate int) *Synthesizer {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return &Synthesizer{
		sessionID:  sessionID,
		sampleRate: sampleRate,
		out:        make(chan frames.AudioFrame, 64),
	}
}

func (m *Synthesizer) Name() string { return "mock" }

func (m *Synthesizer) Start(ctx context.Context) error { return nil }

// SendChunk holds the mutex across the channel send so a concurrent Close
// can never close the channel out from under it.
func (m *Synthesizer) SendChunk(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return errorsx.Wrap(errors.New("synthesizer closed"), errorsx.ReasonSynthSend)
	}
	m.chunks = append(m.chunks, text)
	// 40ms of silence per character, mono s16le.
	samples := len(text) * m.sampleRate * 40 / 1000
	data := make([]byte, samples*2)
	f := frames.NewAudioFrame(m.sessionID, time.Now().UnixNano(), data, m.sampleRate, 1,
		map[string]string{frames.MetaSource: "mock"})
	select {
	case m.out <- f:
	default:
		// Nobody is draining; drop the silence rather than stall the caller.
	}
	return nil
}

func (m *Synthesizer) End() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ended {
		m.ended = true
		close(m.out)
	}
	return nil
}

func (m *Synthesizer) Frames() <-chan frames.AudioFrame { return m.out }

func (m *Synthesizer) Err() error { return nil }

func (m *Synthesizer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ended {
		m.ended = true
		close(m.out)
	}
	return nil
}

// Chunks returns the texts received so far.
func (m *Synthesizer) Chunks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.chunks))
	copy(out, m.chunks)
	return out
}

var _ synth.StreamingSynthesizer = (*Synthesizer)(nil)
