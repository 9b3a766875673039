package connection

import (
	"errors"
	"sync/atomic"

	"github.com/panjf2000/gnet/v2"
)

// ErrClosedConn is returned when writing to a finished connection
var ErrClosedConn = errors.New("connection closed")

// GnetConn adapts an event-loop connection to redis.Connection. The event
// loop owns the socket, so every write goes through AsyncWrite instead of
// touching it from the caller's goroutine.
type GnetConn struct {
	Connection
	gc gnet.Conn
}

// NewGnetConn wraps a gnet connection with a handler id
func NewGnetConn(gc gnet.Conn) *GnetConn {
	c := &GnetConn{gc: gc}
	c.id = atomic.AddInt64(&idGen, 1)
	registry.Store(c.id, c)
	return c
}

// Write enqueues an in-band reply on the event loop
func (c *GnetConn) Write(b []byte) error {
	if c.closed.Load() {
		return ErrClosedConn
	}
	if len(b) == 0 {
		return nil
	}
	return c.gc.AsyncWrite(b, nil)
}

// Push enqueues an out-of-band frame on the event loop
func (c *GnetConn) Push(b []byte) error {
	return c.Write(b)
}

// RemoteAddr returns the remote network address
func (c *GnetConn) RemoteAddr() string {
	return c.gc.RemoteAddr().String()
}

// Close detaches the connection from the registry and closes the socket
func (c *GnetConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	registry.Delete(c.id)
	return c.gc.Close()
}

// Detach marks the connection closed without touching the socket, used when
// the event loop already tore it down
func (c *GnetConn) Detach() {
	c.closed.Store(true)
	registry.Delete(c.id)
}
