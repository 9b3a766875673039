package connection

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/rutin-db/rutin/interface/redis"
)

// FakeConn implements redis.Connection for test
type FakeConn struct {
	Connection
	buf    bytes.Buffer
	pushes [][]byte
	bufMu  sync.Mutex
}

// NewFakeConn creates a FakeConn with a handler id
func NewFakeConn() *FakeConn {
	c := &FakeConn{}
	c.id = atomic.AddInt64(&idGen, 1)
	registry.Store(c.id, c)
	return c
}

// Write writes data to buffer
func (c *FakeConn) Write(b []byte) error {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	c.buf.Write(b)
	return nil
}

// Push records an out-of-band frame
func (c *FakeConn) Push(b []byte) error {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	frame := make([]byte, len(b))
	copy(frame, b)
	c.pushes = append(c.pushes, frame)
	return nil
}

// Clean resets the buffer
func (c *FakeConn) Clean() {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	c.buf.Reset()
	c.pushes = nil
}

// Bytes returns written data
func (c *FakeConn) Bytes() []byte {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	return c.buf.Bytes()
}

// Pushes returns recorded out-of-band frames
func (c *FakeConn) Pushes() [][]byte {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	return c.pushes
}

// RemoteAddr returns a fixed fake address
func (c *FakeConn) RemoteAddr() string {
	return "fake:0"
}

// Close marks the fake connection closed
func (c *FakeConn) Close() error {
	c.closed.Store(true)
	registry.Delete(c.id)
	return nil
}

// IsFake reports whether c is an in-process connection, used to bypass
// authentication and ACL on replay and test paths
func IsFake(c redis.Connection) bool {
	_, ok := c.(*FakeConn)
	return ok
}
