package connection

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rutin-db/rutin/interface/redis"
	"github.com/rutin-db/rutin/lib/sync/wait"
)

// ids are assigned monotonically and never reused
var idGen int64

// registry maps handler id to live connection, used to deliver pushes to a
// connection other than the caller (tracking invalidation, NBLPOP redirect)
var registry = xsync.NewMapOf[int64, redis.Connection]()

// GetByID returns the live connection with the given handler id
func GetByID(id int64) (redis.Connection, bool) {
	return registry.Load(id)
}

// Connection represents a connection with a redis-cli
type Connection struct {
	conn net.Conn
	id   int64

	// waiting until protocol finished
	waitingReply wait.Wait

	// lock while server sending response
	mu     sync.Mutex
	closed atomic.Bool

	// subscribing channels and patterns
	subs     map[string]bool
	psubs    map[string]bool
	subsMu   sync.Mutex
	tracking atomic.Bool

	// authentication state
	authUser      string
	authenticated atomic.Bool

	name string

	// selected db
	selectedDB int
}

// NewConn creates Connection instance
func NewConn(conn net.Conn) *Connection {
	c := &Connection{
		conn: conn,
		id:   atomic.AddInt64(&idGen, 1),
	}
	registry.Store(c.id, c)
	return c
}

// ID returns the handler id
func (c *Connection) ID() int64 {
	return c.id
}

// RemoteAddr returns the remote network address
func (c *Connection) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Close disconnects with the client
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.waitingReply.WaitWithTimeout(10 * time.Second)
	registry.Delete(c.id)
	_ = c.conn.Close()
	return nil
}

// IsClosed tells whether the connection has been closed
func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

// Write sends an in-band reply to the client
func (c *Connection) Write(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	c.mu.Lock()
	c.waitingReply.Add(1)
	defer func() {
		c.waitingReply.Done()
		c.mu.Unlock()
	}()

	_, err := c.conn.Write(b)
	return err
}

// Push sends an out-of-band frame. It shares the write lock with Write so a
// push never splits a reply frame.
func (c *Connection) Push(b []byte) error {
	return c.Write(b)
}

// Subscribe adds current connection into subscribers of the given channel
func (c *Connection) Subscribe(channel string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	if c.subs == nil {
		c.subs = make(map[string]bool)
	}
	c.subs[channel] = true
}

// UnSubscribe removes current connection from subscribers of the given channel
func (c *Connection) UnSubscribe(channel string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	if len(c.subs) == 0 {
		return
	}
	delete(c.subs, channel)
}

// SubsCount returns the number of subscribing channels
func (c *Connection) SubsCount() int {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	return len(c.subs)
}

// GetChannels returns all subscribing channels
func (c *Connection) GetChannels() []string {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	channels := make([]string, 0, len(c.subs))
	for channel := range c.subs {
		channels = append(channels, channel)
	}
	return channels
}

// PSubscribe adds current connection into subscribers of the given pattern
func (c *Connection) PSubscribe(pattern string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	if c.psubs == nil {
		c.psubs = make(map[string]bool)
	}
	c.psubs[pattern] = true
}

// PUnSubscribe removes current connection from subscribers of the given pattern
func (c *Connection) PUnSubscribe(pattern string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	if len(c.psubs) == 0 {
		return
	}
	delete(c.psubs, pattern)
}

// PSubsCount returns the number of subscribing patterns
func (c *Connection) PSubsCount() int {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	return len(c.psubs)
}

// GetPatterns returns all subscribing patterns
func (c *Connection) GetPatterns() []string {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	patterns := make([]string, 0, len(c.psubs))
	for pattern := range c.psubs {
		patterns = append(patterns, pattern)
	}
	return patterns
}

// SetTracking switches client-side caching invalidation on or off
func (c *Connection) SetTracking(on bool) {
	c.tracking.Store(on)
}

// IsTracking tells whether the client enabled tracking
func (c *Connection) IsTracking() bool {
	return c.tracking.Load()
}

// SetAuthUser stores the name of the authenticated user
func (c *Connection) SetAuthUser(name string) {
	c.authUser = name
}

// AuthUser returns the name of the authenticated user
func (c *Connection) AuthUser() string {
	return c.authUser
}

// IsAuthenticated tells whether the connection passed AUTH
func (c *Connection) IsAuthenticated() bool {
	return c.authenticated.Load()
}

// SetAuthenticated marks the connection authentication state
func (c *Connection) SetAuthenticated(ok bool) {
	c.authenticated.Store(ok)
}

// GetDBIndex returns selected db
func (c *Connection) GetDBIndex() int {
	return c.selectedDB
}

// SelectDB selects a database
func (c *Connection) SelectDB(dbNum int) {
	c.selectedDB = dbNum
}

// SetName sets the connection name
func (c *Connection) SetName(name string) {
	c.name = name
}

// GetName returns the connection name
func (c *Connection) GetName() string {
	return c.name
}
