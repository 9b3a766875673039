package database

import (
	"sync"
	"time"

	"github.com/rutin-db/rutin/datastruct/skiplist"
)

// expireIndex orders volatile keys by deadline so the sweeper can drain the
// due prefix without walking the keyspace
type expireIndex struct {
	mu sync.Mutex
	sl *skiplist.Skiplist
}

func makeExpireIndex() *expireIndex {
	return &expireIndex{
		sl: skiplist.Make(),
	}
}

func (idx *expireIndex) add(key string, at int64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.sl.Insert(key, at)
}

func (idx *expireIndex) remove(key string, at int64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.sl.Remove(key, at)
}

func (idx *expireIndex) popDue(now int64, limit int) []*skiplist.Element {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.sl.PopUntil(now, limit)
}

func (idx *expireIndex) sample(n int) []*skiplist.Element {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.sl.Sample(n)
}

func (idx *expireIndex) flush() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.sl = skiplist.Make()
}

// expireIfNeeded reaps the given keys if their deadline passed. Runs
// before the command takes its shard locks, so even a plain read removes an
// expired key and decrements DBSIZE.
func (db *DB) expireIfNeeded(keys ...string) {
	now := time.Now().UnixMilli()
	for _, key := range keys {
		at, ok := db.ks.PeekExpireAt(key)
		if !ok || at == 0 || at > now {
			continue
		}
		db.reapExpired(key, now)
	}
}

// reapExpired deletes a key under the shard write lock after re-checking
// the deadline, and fires its events
func (db *DB) reapExpired(key string, now int64) bool {
	var removed bool
	var hub *EventHub
	db.ks.WithShardWrite(key, func() {
		entry, ok := db.ks.GetAny(key)
		if !ok {
			return
		}
		at := entry.ExpireAt()
		if at == 0 || at > now {
			// deadline moved while we waited for the lock
			return
		}
		db.expire.remove(key, at)
		hub = entry.PeekHub()
		removed = db.ks.Remove(key)
	})
	if removed && hub != nil {
		hub.FireMayUpdate()
		hub.FireInvalidate(key, 0)
	}
	return removed
}

// sweepExpired is one tick of the background sweeper: drain the due prefix
// of the index, then probe a random sample of volatile keys. Returns the
// number of removed keys.
func (db *DB) sweepExpired(samples int) int64 {
	now := time.Now().UnixMilli()
	var removed int64
	for _, e := range db.expire.popDue(now, 0) {
		// popDue already unlinked the element, reap's own index removal is a no-op
		if db.reapExpired(e.Member, now) {
			removed++
		}
	}
	for _, e := range db.expire.sample(samples) {
		if e.Score <= now && db.reapExpired(e.Member, now) {
			removed++
		}
	}
	return removed
}

// TTL returns the remaining lifetime of a key in ms:
// -2 if the key is missing, -1 if it has no expiration
func (db *DB) TTL(key string) int64 {
	entry, ok := db.ks.Get(key)
	if !ok {
		return -2
	}
	at := entry.ExpireAt()
	if at == 0 {
		return -1
	}
	ttl := at - time.Now().UnixMilli()
	if ttl < 0 {
		return 0
	}
	return ttl
}
