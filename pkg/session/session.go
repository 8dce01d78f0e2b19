package session

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxkit/voxbridge/pkg/broadcast"
	"github.com/voxkit/voxbridge/pkg/errorsx"
	"github.com/voxkit/voxbridge/pkg/frames"
	"github.com/voxkit/voxbridge/pkg/metrics"
)

const inboxCapacity = 256

// Config is fixed once at session creation from the first control message
// and never mutated afterwards.
type Config struct {
	Credential   string
	VoiceID      string
	ModelID      string
	OutputFormat string
}

// Session is one live conversation turn's audio pipeline: a text inbox, the
// fan-out broadcaster, and at most one synthesis driver.
type Session struct {
	ID      string
	cfg     Config
	created time.Time
	inbox   chan frames.Frame
	bcast   *broadcast.Broadcaster

	mu      sync.Mutex
	driver  *Driver
	endSeen atomic.Bool
}

func New(id string, cfg Config, observer metrics.Observer) *Session {
	return &Session{
		ID:      id,
		cfg:     cfg,
		created: time.Now(),
		inbox:   make(chan frames.Frame, inboxCapacity),
		bcast:   broadcast.New(id, observer),
	}
}

func (s *Session) Config() Config                    { return s.cfg }
func (s *Session) Created() time.Time                { return s.created }
func (s *Session) Broadcaster() *broadcast.Broadcaster { return s.bcast }

// Enqueue appends a text event to the inbox. End-of-input is terminal: once
// queued, every further event is rejected. A full inbox blocks the caller
// until the driver makes room, backpressuring the ingest connection rather
// than losing text. Events arriving after the driver has terminated are
// dropped, since nothing will ever drain them; session ids are effectively
// single-use.
func (s *Session) Enqueue(f frames.Frame) error {
	if s.endSeen.Load() {
		return errorsx.Wrap(errors.New("text stream already ended"), errorsx.ReasonSessionClosed)
	}
	isEnd := false
	if cf, ok := f.(frames.ControlFrame); ok && cf.Code() == frames.ControlEndOfInput {
		isEnd = true
	}
	d := s.Driver()
	if d == nil {
		select {
		case s.inbox <- f:
		default:
			return errorsx.Wrap(errors.New("session inbox full"), errorsx.ReasonSessionBusy)
		}
	} else {
		select {
		case <-d.Done():
			s.dropTerminated(d, isEnd)
			return nil
		default:
		}
		select {
		case s.inbox <- f:
		case <-d.Done():
			s.dropTerminated(d, isEnd)
			return nil
		}
	}
	if isEnd {
		s.endSeen.Store(true)
	}
	return nil
}

func (s *Session) dropTerminated(d *Driver, isEnd bool) {
	slog.Warn("event dropped, driver already terminated",
		slog.String("session_id", s.ID),
		slog.String("driver_state", d.State().String()))
	if isEnd {
		s.endSeen.Store(true)
	}
}

// AttachDriver binds the at-most-one driver for this session.
func (s *Session) AttachDriver(d *Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.driver != nil {
		return errors.New("driver already attached")
	}
	s.driver = d
	return nil
}

func (s *Session) Driver() *Driver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driver
}

// Close tears down the driver connection and all attached consumers. Called
// from registry removal and process shutdown only.
func (s *Session) Close() {
	if d := s.Driver(); d != nil {
		d.Stop()
	}
	s.bcast.CloseAll()
}
