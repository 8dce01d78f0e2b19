package chunker

import (
	"strings"
	"sync"
)

// Default thresholds for sentence-oriented flushing. Sub-sentence submission
// hurts both synthesis latency and prosody, so text is accumulated until a
// natural breakpoint or until the buffer grows past MaxBuffered runes.
const (
	DefaultMaxBuffered = 100
	sentenceEndings    = ".!?;:"
)

type Config struct {
	MaxBuffered int
}

// Chunker accumulates streamed text fragments and emits sentence-like chunks.
// One instance per session; no I/O.
type Chunker struct {
	mu  sync.Mutex
	cfg Config
	sb  strings.Builder
}

func New(cfg Config) *Chunker {
	if cfg.MaxBuffered <= 0 {
		cfg.MaxBuffered = DefaultMaxBuffered
	}
	return &Chunker{cfg: cfg}
}

// Feed appends text to the buffer and returns a chunk to flush when the
// buffer contains a sentence-terminating character or has grown past the
// configured threshold. The concatenation of all emitted chunks plus the
// final remainder always equals the concatenation of all inputs.
func (c *Chunker) Feed(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sb.WriteString(text)
	buf := c.sb.String()
	if !strings.ContainsAny(buf, sentenceEndings) && len([]rune(buf)) <= c.cfg.MaxBuffered {
		return "", false
	}
	c.sb.Reset()
	return buf, true
}

// FlushRemaining empties the buffer at end of input. Whitespace-only
// remainders are discarded.
func (c *Chunker) FlushRemaining() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.sb.String()
	c.sb.Reset()
	if strings.TrimSpace(out) == "" {
		return "", false
	}
	return out, true
}

// Buffered reports the current buffer length in bytes.
func (c *Chunker) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sb.Len()
}
