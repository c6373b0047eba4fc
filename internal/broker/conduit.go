// Package broker implements the connection/session broker: the
// registry of live client connections, lobby broadcast fan-out, and
// the per-connection handler bridging the transport to game and lobby
// actions.
package broker

import (
	"errors"
	"sync"
)

// Conduit errors.
var (
	ErrConduitClosed = errors.New("conduit closed")
	ErrConduitFull   = errors.New("conduit buffer full")
)

// Conduit is the ordered, one-directional channel carrying encoded
// frames from the broker to a single connection's writer loop.
type Conduit struct {
	mu     sync.Mutex
	frames chan []byte
	closed bool
}

// NewConduit creates a Conduit with the given buffer size.
//
// Postcondition: Returns a Conduit with an open frames channel.
func NewConduit(bufferSize int) *Conduit {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Conduit{
		frames: make(chan []byte, bufferSize),
	}
}

// Push enqueues a frame for delivery. It never blocks: a full buffer
// means the consumer is too slow and the frame is refused.
//
// Postcondition: The frame is enqueued in FIFO order, or an error is
// returned (ErrConduitClosed, ErrConduitFull).
func (c *Conduit) Push(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConduitClosed
	}
	select {
	case c.frames <- frame:
		return nil
	default:
		return ErrConduitFull
	}
}

// Frames returns the read-only frame channel. The connection's writer
// loop drains it; the channel is closed when the conduit closes, after
// any buffered frames have been delivered.
func (c *Conduit) Frames() <-chan []byte {
	return c.frames
}

// Close marks the conduit closed and closes the frames channel.
// Safe to call more than once.
func (c *Conduit) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.frames)
	}
}

// IsClosed reports whether the conduit has been closed.
func (c *Conduit) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
