package database

import (
	"math/bits"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/rutin-db/rutin/lib/wildcard"
)

type shard struct {
	mu sync.RWMutex
	m  map[string]*Entry
}

// KeySpace is a sharded map of keys to entries. The shard mutex guards the
// shard map and the data of every entry in it. Commands acquire shard locks
// through RWLocks before touching entries; background tasks lock one shard
// at a time.
type KeySpace struct {
	shards []*shard
	bits   uint
	// live entries, placeholders excluded
	size int64
}

func shardCount() int {
	n := runtime.GOMAXPROCS(0)
	if n < 16 {
		n = 16
	}
	// round up to power of two
	c := 1
	for c < n {
		c <<= 1
	}
	return c
}

// MakeKeySpace creates an empty keyspace
func MakeKeySpace() *KeySpace {
	count := shardCount()
	ks := &KeySpace{
		shards: make([]*shard, count),
		bits:   uint(bits.TrailingZeros(uint(count))),
	}
	for i := range ks.shards {
		ks.shards[i] = &shard{m: make(map[string]*Entry)}
	}
	return ks
}

func hashKey(key string) uint64 {
	return xxhash.Sum64String(key)
}

// spread maps a hash to its shard index using the top bits, so keys that
// are close lexically still scatter
func (ks *KeySpace) spread(hash uint64) uint32 {
	return uint32(hash >> (64 - ks.bits))
}

func (ks *KeySpace) shardOf(key string) *shard {
	return ks.shards[ks.spread(hashKey(key))]
}

func (ks *KeySpace) toLockIndices(keys []string) []uint32 {
	indexMap := make(map[uint32]struct{}, len(keys))
	for _, key := range keys {
		indexMap[ks.spread(hashKey(key))] = struct{}{}
	}
	indices := make([]uint32, 0, len(indexMap))
	for index := range indexMap {
		indices = append(indices, index)
	}
	sort.Slice(indices, func(i, j int) bool {
		return indices[i] < indices[j]
	})
	return indices
}

// RWLocks locks the shards of writeKeys for writing and of readKeys for
// reading, in ascending shard order so concurrent commands cannot deadlock.
// A shard appearing on both sides is locked for writing.
func (ks *KeySpace) RWLocks(writeKeys []string, readKeys []string) {
	keys := append(append([]string(nil), writeKeys...), readKeys...)
	indices := ks.toLockIndices(keys)
	writeIndexSet := make(map[uint32]struct{}, len(writeKeys))
	for _, wKey := range writeKeys {
		writeIndexSet[ks.spread(hashKey(wKey))] = struct{}{}
	}
	for _, index := range indices {
		_, w := writeIndexSet[index]
		mu := &ks.shards[index].mu
		if w {
			mu.Lock()
		} else {
			mu.RLock()
		}
	}
}

// RWUnLocks releases locks taken by RWLocks, in descending shard order
func (ks *KeySpace) RWUnLocks(writeKeys []string, readKeys []string) {
	keys := append(append([]string(nil), writeKeys...), readKeys...)
	indices := ks.toLockIndices(keys)
	writeIndexSet := make(map[uint32]struct{}, len(writeKeys))
	for _, wKey := range writeKeys {
		writeIndexSet[ks.spread(hashKey(wKey))] = struct{}{}
	}
	for i := len(indices) - 1; i >= 0; i-- {
		index := indices[i]
		_, w := writeIndexSet[index]
		mu := &ks.shards[index].mu
		if w {
			mu.Unlock()
		} else {
			mu.RUnlock()
		}
	}
}

/* ---- accessors, caller must hold the shard lock via RWLocks ---- */

// Get returns the live entry for key. Placeholders and expired entries are
// reported as missing; expired entries are reaped by the caller's lazy
// expiration pass, not here.
func (ks *KeySpace) Get(key string) (*Entry, bool) {
	entry, ok := ks.shardOf(key).m[key]
	if !ok || entry.data == nil || entry.IsExpired() {
		return nil, false
	}
	return entry, true
}

// GetAny returns the entry for key including placeholders and expired ones
func (ks *KeySpace) GetAny(key string) (*Entry, bool) {
	entry, ok := ks.shardOf(key).m[key]
	return entry, ok
}

// Put installs data under key and returns the affected entry. An existing
// entry, placeholder included, keeps its hub and access metadata.
func (ks *KeySpace) Put(key string, data interface{}) *Entry {
	s := ks.shardOf(key)
	entry, ok := s.m[key]
	if ok {
		if entry.data == nil {
			atomic.AddInt64(&ks.size, 1)
		}
		entry.data = data
		return entry
	}
	entry = makeEntry(key, hashKey(key), data)
	s.m[key] = entry
	atomic.AddInt64(&ks.size, 1)
	return entry
}

// GetOrCreatePlaceholder returns the entry for key, creating a data-less
// placeholder to hang a hub on when the key is missing
func (ks *KeySpace) GetOrCreatePlaceholder(key string) *Entry {
	s := ks.shardOf(key)
	entry, ok := s.m[key]
	if ok {
		return entry
	}
	entry = makeEntry(key, hashKey(key), nil)
	s.m[key] = entry
	return entry
}

// Remove deletes the value under key, returns whether a live value was
// removed. The entry survives as a placeholder while its hub has waiters.
func (ks *KeySpace) Remove(key string) bool {
	s := ks.shardOf(key)
	entry, ok := s.m[key]
	if !ok {
		return false
	}
	had := entry.data != nil
	entry.data = nil
	entry.setExpireAt(0)
	if had {
		atomic.AddInt64(&ks.size, -1)
	}
	hub := entry.PeekHub()
	if hub == nil || hub.Idle() {
		delete(s.m, key)
	}
	return had
}

// CollectPlaceholder drops the entry if it is a placeholder whose hub went
// idle
func (ks *KeySpace) CollectPlaceholder(key string) {
	s := ks.shardOf(key)
	entry, ok := s.m[key]
	if !ok || entry.data != nil {
		return
	}
	hub := entry.PeekHub()
	if hub == nil || hub.Idle() {
		delete(s.m, key)
	}
}

/* ---- self-locking helpers for background tasks ---- */

// WithShardWrite runs fn on the key's shard under its write lock
func (ks *KeySpace) WithShardWrite(key string, fn func()) {
	s := ks.shardOf(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// PeekExpireAt reads a key's deadline under the shard read lock
func (ks *KeySpace) PeekExpireAt(key string) (at int64, ok bool) {
	s := ks.shardOf(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, found := s.m[key]
	if !found {
		return 0, false
	}
	return entry.ExpireAt(), true
}

// ForEach visits every live entry, one shard at a time under its read lock.
// The traversal stops when consumer returns false.
func (ks *KeySpace) ForEach(consumer func(entry *Entry) bool) {
	for _, s := range ks.shards {
		s.mu.RLock()
		goOn := true
		for _, entry := range s.m {
			if entry.data == nil || entry.IsExpired() {
				continue
			}
			if !consumer(entry) {
				goOn = false
				break
			}
		}
		s.mu.RUnlock()
		if !goOn {
			return
		}
	}
}

// RandomSample returns up to n distinct live entries picked from random
// shards. Used by the eviction sampler; the result may be smaller than n.
func (ks *KeySpace) RandomSample(n int, volatileOnly bool) []*Entry {
	result := make([]*Entry, 0, n)
	seen := make(map[string]struct{}, n)
	attempts := 0
	for len(result) < n && attempts < n*8 {
		attempts++
		s := ks.shards[rand.Intn(len(ks.shards))]
		s.mu.RLock()
		for _, entry := range s.m {
			if entry.data == nil || entry.IsExpired() {
				continue
			}
			if volatileOnly && entry.ExpireAt() == 0 {
				continue
			}
			if _, dup := seen[entry.key]; dup {
				continue
			}
			seen[entry.key] = struct{}{}
			result = append(result, entry)
			break
		}
		s.mu.RUnlock()
	}
	return result
}

// Len returns the number of live entries
func (ks *KeySpace) Len() int64 {
	return atomic.LoadInt64(&ks.size)
}

// Keys returns all live keys matching the glob pattern
func (ks *KeySpace) Keys(pattern string) []string {
	p := wildcard.CompilePattern(pattern)
	result := make([]string, 0)
	ks.ForEach(func(entry *Entry) bool {
		if p.IsMatch(entry.key) {
			result = append(result, entry.key)
		}
		return true
	})
	return result
}

// Flush drops every entry. Hubs of placeholder entries are abandoned; their
// waiters time out on their own.
func (ks *KeySpace) Flush() {
	for _, s := range ks.shards {
		s.mu.Lock()
		s.m = make(map[string]*Entry)
		s.mu.Unlock()
	}
	atomic.StoreInt64(&ks.size, 0)
}

/* ---- scan ---- */

// reverseBits reverses the low `width` bits of v
func reverseBits(v uint64, width uint) uint64 {
	return bits.Reverse64(v) >> (64 - width)
}

// Scan walks the keyspace shard by shard in reverse-bit cursor order and
// returns the keys of whole shards until at least count keys are gathered.
// The returned cursor is 0 when the walk completed. Shards keep their
// entries between calls, so every key present for the whole scan is
// reported at least once.
func (ks *KeySpace) Scan(cursor uint64, count int, pattern string) ([]string, uint64) {
	if count <= 0 {
		count = 10
	}
	p := wildcard.CompilePattern(pattern)
	result := make([]string, 0, count)
	for {
		if cursor >= uint64(len(ks.shards)) {
			return result, 0
		}
		s := ks.shards[cursor]
		s.mu.RLock()
		for _, entry := range s.m {
			if entry.data == nil || entry.IsExpired() {
				continue
			}
			if p.IsMatch(entry.key) {
				result = append(result, entry.key)
			}
		}
		s.mu.RUnlock()

		// advance the reversed-bit cursor
		cursor = reverseBits(reverseBits(cursor, ks.bits)+1, ks.bits)
		if cursor == 0 {
			return result, 0
		}
		if len(result) >= count {
			return result, cursor
		}
	}
}
