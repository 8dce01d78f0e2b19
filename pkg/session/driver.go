package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/voxkit/voxbridge/pkg/adapters/synth"
	"github.com/voxkit/voxbridge/pkg/chunker"
	"github.com/voxkit/voxbridge/pkg/frames"
	"github.com/voxkit/voxbridge/pkg/metrics"
)

// State is the driver lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateDraining
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Failed is reachable from every non-terminal state.
var validTransitions = map[State][]State{
	StateIdle:       {StateConnecting, StateFailed},
	StateConnecting: {StateStreaming, StateFailed},
	StateStreaming:  {StateDraining, StateClosed, StateFailed},
	StateDraining:   {StateClosed, StateFailed},
}

// Driver owns one session's upstream synthesis connection. It runs two
// concurrent pumps: text inbox to synthesizer, synthesizer audio to the
// broadcaster. It terminates on end-of-input, upstream failure, or upstream
// close, and is never restarted.
type Driver struct {
	sess     *Session
	syn      synth.StreamingSynthesizer
	chk      *chunker.Chunker
	observer metrics.Observer

	state  atomic.Int32
	once   sync.Once
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

func NewDriver(sess *Session, syn synth.StreamingSynthesizer, observer metrics.Observer) *Driver {
	ctx, cancel := context.WithCancel(context.Background())
	return &Driver{
		sess:     sess,
		syn:      syn,
		chk:      chunker.New(chunker.Config{}),
		observer: observer,
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the driver task. Subsequent calls are no-ops. A non-nil
// ctx propagates its cancellation to the driver.
func (d *Driver) Start(ctx context.Context) {
	d.once.Do(func() {
		if ctx != nil {
			go func() {
				select {
				case <-ctx.Done():
					d.cancel()
				case <-d.done:
				}
			}()
		}
		go d.run()
	})
}

// Stop aborts the driver; used at session teardown, never for normal
// end-of-input. Safe to call at any point, including before Start.
func (d *Driver) Stop() {
	d.cancel()
	_ = d.syn.Close()
}

func (d *Driver) State() State { return State(d.state.Load()) }

// Done is closed when the driver task has exited, in StateClosed or
// StateFailed.
func (d *Driver) Done() <-chan struct{} { return d.done }

func (d *Driver) run() {
	defer close(d.done)
	defer d.cancel()

	d.transition(StateConnecting)
	if err := d.syn.Start(d.ctx); err != nil {
		slog.Error("synthesis connect failed",
			slog.String("session_id", d.sess.ID),
			slog.String("provider", d.syn.Name()),
			slog.String("error", err.Error()))
		metrics.Emit(d.observer, metrics.EventSynthConnectError, 1,
			map[string]string{frames.MetaSessionID: d.sess.ID})
		d.transition(StateFailed)
		return
	}
	d.transition(StateStreaming)

	audioDone := make(chan struct{})
	go func() {
		defer close(audioDone)
		for f := range d.syn.Frames() {
			d.sess.Broadcaster().Publish(f)
			metrics.Emit(d.observer, metrics.EventAudioFrame, float64(len(f.RawPayload())),
				map[string]string{frames.MetaSessionID: d.sess.ID})
		}
	}()

	var pumpErr error
textPump:
	for {
		select {
		case f := <-d.sess.inbox:
			switch f.Kind() {
			case frames.KindText:
				tf := f.(frames.TextFrame)
				chunk, ok := d.chk.Feed(tf.Text())
				if !ok {
					continue
				}
				if err := d.syn.SendChunk(chunk); err != nil {
					pumpErr = err
					break textPump
				}
				metrics.Emit(d.observer, metrics.EventChunkSent, float64(len(chunk)),
					map[string]string{frames.MetaSessionID: d.sess.ID})
			case frames.KindControl:
				cf := f.(frames.ControlFrame)
				if cf.Code() != frames.ControlEndOfInput {
					continue
				}
				if rem, ok := d.chk.FlushRemaining(); ok {
					if err := d.syn.SendChunk(rem); err != nil {
						pumpErr = err
						break textPump
					}
					metrics.Emit(d.observer, metrics.EventChunkSent, float64(len(rem)),
						map[string]string{frames.MetaSessionID: d.sess.ID})
				}
				if err := d.syn.End(); err != nil {
					pumpErr = err
					break textPump
				}
				d.transition(StateDraining)
				break textPump
			}
		case <-audioDone:
			// Upstream closed while text was still flowing.
			break textPump
		case <-d.ctx.Done():
			pumpErr = d.ctx.Err()
			break textPump
		}
	}

	if pumpErr != nil {
		slog.Error("text pump aborted",
			slog.String("session_id", d.sess.ID),
			slog.String("error", pumpErr.Error()))
		_ = d.syn.Close()
	}

	// Audio pump runs alone until the upstream connection closes.
	<-audioDone
	_ = d.syn.Close()

	if pumpErr != nil || d.syn.Err() != nil {
		d.transition(StateFailed)
		return
	}
	d.transition(StateClosed)
}

func (d *Driver) transition(to State) {
	from := State(d.state.Load())
	if to != StateFailed && !transitionValid(from, to) {
		slog.Warn("invalid driver state transition",
			slog.String("session_id", d.sess.ID),
			slog.String("from", from.String()),
			slog.String("to", to.String()))
		return
	}
	d.state.Store(int32(to))
	metrics.Emit(d.observer, metrics.EventDriverState, 1, map[string]string{
		frames.MetaSessionID: d.sess.ID,
		"state":              to.String(),
	})
	slog.Debug("driver state changed",
		slog.String("session_id", d.sess.ID),
		slog.String("from", from.String()),
		slog.String("to", to.String()))
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
