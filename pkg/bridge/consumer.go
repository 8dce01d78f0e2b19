package bridge

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/voxkit/voxbridge/pkg/broadcast"
	"github.com/voxkit/voxbridge/pkg/errorsx"
)

const consumerSendBuffer = 256

// wsConsumer adapts one audio-egress websocket into a broadcast.Consumer.
// Frames are handed to a per-connection writer goroutine so one slow client
// can never stall a publish; a write failure marks the consumer dead and the
// broadcaster prunes it on the next frame.
type wsConsumer struct {
	id     string
	conn   *websocket.Conn
	failed atomic.Bool

	mu     sync.Mutex
	sendCh chan []byte
	closed bool
}

func newWSConsumer(id string, conn *websocket.Conn) *wsConsumer {
	c := &wsConsumer{
		id:     id,
		conn:   conn,
		sendCh: make(chan []byte, consumerSendBuffer),
	}
	go c.loop()
	return c
}

func (c *wsConsumer) ID() string { return c.id }

func (c *wsConsumer) SendAudio(data []byte) error {
	if c.failed.Load() {
		return errorsx.Wrap(errors.New("consumer write failed"), errorsx.ReasonConsumerSend)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errorsx.Wrap(errors.New("consumer closed"), errorsx.ReasonConsumerClosed)
	}
	select {
	case c.sendCh <- data:
	default:
		// Best-effort delivery: drop the frame rather than block the
		// broadcast when the client cannot keep up.
	}
	return nil
}

// Close is idempotent and safe to call while a publish is in flight.
func (c *wsConsumer) Close() error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.sendCh)
	}
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *wsConsumer) loop() {
	for data := range c.sendCh {
		if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			c.failed.Store(true)
			return
		}
	}
}

var _ broadcast.Consumer = (*wsConsumer)(nil)
