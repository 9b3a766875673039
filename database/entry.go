package database

import (
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/rutin-db/rutin/datastruct/dict"
	"github.com/rutin-db/rutin/datastruct/list"
)

// atc packs access metadata into one atomically updated word:
// bits 0..11 hold a logarithmic access counter, bits 12..31 hold the access
// time in minutes. The lock-hint bit marks entries currently claimed by an
// intention lock so eviction skips them.
const (
	atcCounterBits = 12
	atcCounterMask = (1 << atcCounterBits) - 1
	atcTimeBits    = 20
	atcTimeMask    = (1 << atcTimeBits) - 1
	atcLockHintBit = uint64(1) << 32

	// new entries start above zero so they survive the first sampling rounds
	atcInitialCounter = 5
)

var startMinute = time.Now().Unix() / 60

// nowMinutes returns the process LRU clock
func nowMinutes() uint64 {
	return uint64(time.Now().Unix()/60-startMinute) & atcTimeMask
}

func packAtc(minutes uint64, counter uint64) uint64 {
	return (minutes&atcTimeMask)<<atcCounterBits | (counter & atcCounterMask)
}

// Entry is a single keyspace slot: the value, expiration deadline, access
// metadata and the lazily allocated event hub. An entry with nil data is a
// placeholder that only keeps its hub alive (waiters on a missing key,
// intention locks installed ahead of a script).
type Entry struct {
	key  string
	hash uint64 // sticky, computed once at insert

	// []byte | *list.QuickList | *dict.SimpleDict, nil for placeholders.
	// Guarded by the shard lock.
	data interface{}

	expireAt int64  // unix ms, 0 means no expiration
	atc      uint64 // packed access metadata
	hub      atomic.Pointer[EventHub]
}

func makeEntry(key string, hash uint64, data interface{}) *Entry {
	e := &Entry{
		key:  key,
		hash: hash,
		data: data,
	}
	atomic.StoreUint64(&e.atc, packAtc(nowMinutes(), atcInitialCounter))
	return e
}

// Key returns the entry key
func (e *Entry) Key() string {
	return e.key
}

// Data returns the stored value, nil for placeholders
func (e *Entry) Data() interface{} {
	return e.data
}

// ExpireAt returns the expiration deadline in unix ms, 0 means none
func (e *Entry) ExpireAt() int64 {
	return atomic.LoadInt64(&e.expireAt)
}

func (e *Entry) setExpireAt(at int64) {
	atomic.StoreInt64(&e.expireAt, at)
}

// IsExpired tells whether the entry deadline has passed
func (e *Entry) IsExpired() bool {
	at := e.ExpireAt()
	return at != 0 && at <= time.Now().UnixMilli()
}

// Touch refreshes the access time and bumps the logarithmic counter: the
// increment chance is 1/(c/2+1), so hot keys saturate slowly
func (e *Entry) Touch() {
	for {
		old := atomic.LoadUint64(&e.atc)
		counter := old & atcCounterMask
		if counter < atcCounterMask {
			p := 1.0 / (float64(counter)/2 + 1)
			if rand.Float64() < p {
				counter++
			}
		}
		updated := old&atcLockHintBit | packAtc(nowMinutes(), counter)
		if atomic.CompareAndSwapUint64(&e.atc, old, updated) {
			return
		}
	}
}

// AccessMinutes returns the LRU clock value of the last access
func (e *Entry) AccessMinutes() uint64 {
	return atomic.LoadUint64(&e.atc) >> atcCounterBits & atcTimeMask
}

// AccessCounter returns the LFU counter
func (e *Entry) AccessCounter() uint64 {
	return atomic.LoadUint64(&e.atc) & atcCounterMask
}

func (e *Entry) setLockHint(on bool) {
	for {
		old := atomic.LoadUint64(&e.atc)
		var updated uint64
		if on {
			updated = old | atcLockHintBit
		} else {
			updated = old &^ atcLockHintBit
		}
		if old == updated || atomic.CompareAndSwapUint64(&e.atc, old, updated) {
			return
		}
	}
}

func (e *Entry) lockHint() bool {
	return atomic.LoadUint64(&e.atc)&atcLockHintBit != 0
}

// Hub returns the entry's event hub, allocating it on first use. Safe to
// call under a shard read lock.
func (e *Entry) Hub() *EventHub {
	if hub := e.hub.Load(); hub != nil {
		return hub
	}
	hub := newEventHub()
	if e.hub.CompareAndSwap(nil, hub) {
		return hub
	}
	return e.hub.Load()
}

// PeekHub returns the hub without allocating, nil if never used
func (e *Entry) PeekHub() *EventHub {
	return e.hub.Load()
}

const entryOverhead = 64

// MemUsage estimates the heap footprint of the entry, used by the eviction
// engine's reserve accounting
func (e *Entry) MemUsage() int64 {
	size := int64(entryOverhead + len(e.key))
	switch v := e.data.(type) {
	case []byte:
		size += int64(len(v))
	case *list.QuickList:
		v.ForEach(func(i int, val []byte) bool {
			size += int64(len(val)) + 16
			return true
		})
	case *dict.SimpleDict:
		v.ForEach(func(field string, val []byte) bool {
			size += int64(len(field)+len(val)) + 32
			return true
		})
	}
	return size
}

// TypeName returns the RESP-visible type of the stored value
func (e *Entry) TypeName() string {
	switch e.data.(type) {
	case []byte:
		return "string"
	case *list.QuickList:
		return "list"
	case *dict.SimpleDict:
		return "hash"
	}
	return "none"
}
