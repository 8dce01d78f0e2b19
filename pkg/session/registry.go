package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/voxkit/voxbridge/pkg/errorsx"
	"github.com/voxkit/voxbridge/pkg/frames"
	"github.com/voxkit/voxbridge/pkg/metrics"
)

// Registry is the process-wide session map. Mutations happen under a narrow
// mutex held only for the map operation itself, never across I/O.
type Registry struct {
	observer metrics.Observer

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(observer metrics.Observer) *Registry {
	return &Registry{
		observer: observer,
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the existing session for id, or constructs one from
// cfg. A nil cfg with an unknown id is an error, fatal to the calling
// connection. The check-and-insert is atomic: concurrent callers with the
// same id observe exactly one Session.
func (r *Registry) GetOrCreate(id string, cfg *Config) (*Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[id]; ok {
		return sess, false, nil
	}
	if cfg == nil {
		return nil, false, errorsx.Wrap(errors.New("session not initialized and no configuration supplied"), errorsx.ReasonSessionMissing)
	}
	sess := New(id, *cfg, r.observer)
	r.sessions[id] = sess
	metrics.Emit(r.observer, metrics.EventSessionCreated, 1,
		map[string]string{frames.MetaSessionID: id})
	return sess, true, nil
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// Remove deletes and closes the session; no-op for unknown ids.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		sess.Close()
	}
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Await polls for a session to appear, tolerating audio consumers that
// connect slightly before their text producer. Returns false once the wait
// budget or ctx is exhausted.
func (r *Registry) Await(ctx context.Context, id string, wait, poll time.Duration) (*Session, bool) {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if sess, ok := r.Get(id); ok {
			return sess, true
		}
		if time.Now().After(deadline) {
			return nil, false
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-ticker.C:
		}
	}
}
