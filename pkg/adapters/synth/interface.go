package synth

import (
	"context"

	"github.com/voxkit/voxbridge/pkg/frames"
)

// StreamingSynthesizer defines the contract for a streaming speech-synthesis
// vendor connection. One instance serves one session.
type StreamingSynthesizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start dials the vendor and performs the beginning-of-stream handshake.
	Start(ctx context.Context) error
	// SendChunk submits one sentence-like text chunk for generation.
	SendChunk(text string) error
	// End signals end-of-input; no chunks may be sent afterwards.
	End() error
	// Frames returns decoded audio frames. The channel is closed when the
	// vendor connection closes, normally or otherwise.
	Frames() <-chan frames.AudioFrame
	// Err reports why the connection ended; nil means a clean close.
	Err() error
	// Close tears the connection down.
	Close() error
}

// Config carries the per-session synthesis parameters fixed at session
// creation.
type Config struct {
	Credential   string
	VoiceID      string
	ModelID      string
	OutputFormat string
	SampleRate   int
}

// Factory builds a synthesizer for a session. The bridge wires a vendor
// implementation here; tests substitute mocks.
type Factory func(sessionID string, cfg Config) StreamingSynthesizer
