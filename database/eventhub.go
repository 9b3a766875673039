package database

import (
	"sync"

	"github.com/rutin-db/rutin/redis/connection"
	"github.com/rutin-db/rutin/redis/protocol"
)

// EventHub carries the three per-key event kinds: may-update wakeups for
// blocking reads, tracking ids for client-side cache invalidation, and the
// intention lock serialising writers against an in-flight script.
//
// The hub mutex guards short bookkeeping sections only; no hub method
// blocks while holding it.
type EventHub struct {
	mu sync.Mutex

	// one-shot wakeup channels, drained on the first mutation
	mayUpdate []chan struct{}

	// handler ids that asked for invalidation pushes
	track map[int64]struct{}

	intent *intentionLock
}

type intentionLock struct {
	target  int64 // handler id owning the lock
	waiters []*intentWaiter
}

type intentWaiter struct {
	handlerID int64
	resume    chan struct{}
}

func newEventHub() *EventHub {
	return &EventHub{}
}

// AddMayUpdate registers a wakeup channel fired on the next mutation of the
// key. The channel must have capacity, the notification send never blocks.
// One channel may be registered on several hubs to wait on any of them.
func (hub *EventHub) AddMayUpdate(ch chan struct{}) {
	hub.mu.Lock()
	hub.mayUpdate = append(hub.mayUpdate, ch)
	hub.mu.Unlock()
}

// RemoveMayUpdate drops a wakeup channel that timed out before firing
func (hub *EventHub) RemoveMayUpdate(ch chan struct{}) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	for i, c := range hub.mayUpdate {
		if c == ch {
			hub.mayUpdate = append(hub.mayUpdate[:i], hub.mayUpdate[i+1:]...)
			return
		}
	}
}

// FireMayUpdate wakes all registered waiters and clears the list
func (hub *EventHub) FireMayUpdate() {
	hub.mu.Lock()
	waiters := hub.mayUpdate
	hub.mayUpdate = nil
	hub.mu.Unlock()
	for _, ch := range waiters {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Track registers a handler id for invalidation pushes
func (hub *EventHub) Track(handlerID int64) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if hub.track == nil {
		hub.track = make(map[int64]struct{})
	}
	hub.track[handlerID] = struct{}{}
}

// Untrack removes a handler id
func (hub *EventHub) Untrack(handlerID int64) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	delete(hub.track, handlerID)
}

// FireInvalidate pushes an invalidation frame to every tracked connection
// except the writer, then clears the tracking set. Dead handler ids are
// dropped silently.
func (hub *EventHub) FireInvalidate(key string, writerID int64) {
	hub.mu.Lock()
	if len(hub.track) == 0 {
		hub.mu.Unlock()
		return
	}
	ids := make([]int64, 0, len(hub.track))
	for id := range hub.track {
		ids = append(ids, id)
	}
	hub.track = nil
	hub.mu.Unlock()

	frame := protocol.MakePushReply([][]byte{
		[]byte("invalidate"),
		[]byte(key),
	}).ToBytes()
	for _, id := range ids {
		if id == writerID {
			continue
		}
		conn, ok := connection.GetByID(id)
		if !ok || conn.IsClosed() || !conn.IsTracking() {
			continue
		}
		_ = conn.Push(frame)
	}
}

// AcquireIntent claims the intention lock for the given handler. Returns
// false if another handler holds it.
func (hub *EventHub) AcquireIntent(handlerID int64) bool {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if hub.intent == nil {
		hub.intent = &intentionLock{target: handlerID}
		return true
	}
	if hub.intent.target == 0 || hub.intent.target == handlerID {
		hub.intent.target = handlerID
		return true
	}
	return false
}

// IntentTarget returns the handler id owning the intention lock, 0 if free
func (hub *EventHub) IntentTarget() int64 {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if hub.intent == nil {
		return 0
	}
	return hub.intent.target
}

// AwaitIntent enqueues the handler on the FIFO waiter queue and returns a
// channel closed when the lock is handed over to it
func (hub *EventHub) AwaitIntent(handlerID int64) chan struct{} {
	w := &intentWaiter{
		handlerID: handlerID,
		resume:    make(chan struct{}),
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if hub.intent == nil || hub.intent.target == 0 {
		// lock released between check and wait, hand it over directly
		if hub.intent == nil {
			hub.intent = &intentionLock{}
		}
		hub.intent.target = handlerID
		close(w.resume)
		return w.resume
	}
	hub.intent.waiters = append(hub.intent.waiters, w)
	return w.resume
}

// ReleaseIntent releases the lock held by the given handler. The first
// queued waiter, if any, becomes the new owner and is resumed.
func (hub *EventHub) ReleaseIntent(handlerID int64) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if hub.intent == nil || hub.intent.target != handlerID {
		return
	}
	if len(hub.intent.waiters) == 0 {
		hub.intent = nil
		return
	}
	next := hub.intent.waiters[0]
	hub.intent.waiters = hub.intent.waiters[1:]
	hub.intent.target = next.handlerID
	close(next.resume)
}

// AbandonIntent removes a queued waiter that gave up (closed connection)
func (hub *EventHub) AbandonIntent(handlerID int64, resume chan struct{}) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if hub.intent == nil {
		return
	}
	for i, w := range hub.intent.waiters {
		if w.resume == resume {
			hub.intent.waiters = append(hub.intent.waiters[:i], hub.intent.waiters[i+1:]...)
			return
		}
	}
}

// Idle tells whether the hub holds no waiters, trackers or intention lock,
// so a placeholder entry can be collected
func (hub *EventHub) Idle() bool {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	return len(hub.mayUpdate) == 0 && len(hub.track) == 0 && hub.intent == nil
}
