package database

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/rutin-db/rutin/eviction"
	"github.com/rutin-db/rutin/lib/logger"
	"github.com/rutin-db/rutin/redis/protocol"
)

const usedMemoryRefreshInterval = 300 * time.Millisecond

// evictor enforces the maxmemory ceiling. A sampler goroutine refreshes the
// heap measurement; between refreshes Reserve tracks optimistic reservations
// so a burst of writes cannot overshoot unnoticed.
type evictor struct {
	dbs       []*DB
	policy    eviction.Policy
	maxmemory int64
	samples   int

	used     int64
	reserved int64

	closed chan struct{}
}

func newEvictor(dbs []*DB, policy eviction.Policy, maxmemory int64, samples int) *evictor {
	if samples <= 0 {
		samples = 5
	}
	ev := &evictor{
		dbs:       dbs,
		policy:    policy,
		maxmemory: maxmemory,
		samples:   samples,
		closed:    make(chan struct{}),
	}
	ev.refresh()
	metrics.GetOrCreateGauge("rutin_used_memory_bytes", func() float64 {
		return float64(atomic.LoadInt64(&ev.used))
	})
	go ev.sampleLoop()
	return ev
}

func (ev *evictor) refresh() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	atomic.StoreInt64(&ev.used, int64(stats.HeapAlloc))
	atomic.StoreInt64(&ev.reserved, 0)
}

func (ev *evictor) sampleLoop() {
	ticker := time.NewTicker(usedMemoryRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ev.refresh()
		case <-ev.closed:
			return
		}
	}
}

func (ev *evictor) close() {
	close(ev.closed)
}

// Reserve claims headroom for a write about to grow the keyspace, evicting
// one victim at a time until the write fits. Returns an OOM error when the
// policy is noeviction or no candidate is evictable.
func (ev *evictor) Reserve(bytes int64) protocol.ErrorReply {
	if ev.maxmemory <= 0 {
		return nil
	}
	for {
		used := atomic.LoadInt64(&ev.used) + atomic.LoadInt64(&ev.reserved)
		if used+bytes <= ev.maxmemory {
			atomic.AddInt64(&ev.reserved, bytes)
			return nil
		}
		if ev.policy == nil {
			return &protocol.OOMErrReply{}
		}
		if !ev.evictOne() {
			return &protocol.OOMErrReply{}
		}
	}
}

// evictOne samples candidates across all databases, asks the policy for a
// victim and deletes it. Returns false when nothing evictable was found.
func (ev *evictor) evictOne() bool {
	volatileOnly := ev.policy.IsVolatile()
	candidates := make([]eviction.Sample, 0, ev.samples)
	for _, db := range ev.dbs {
		if db.Len() == 0 {
			continue
		}
		for _, entry := range db.ks.RandomSample(ev.samples, volatileOnly) {
			candidates = append(candidates, eviction.Sample{
				DB:            db.index,
				Key:           entry.Key(),
				AccessMinutes: int64(entry.AccessMinutes()),
				AccessCounter: int64(entry.AccessCounter()),
				ExpireAt:      entry.ExpireAt(),
				Locked:        entry.lockHint(),
			})
		}
	}
	victim, ok := ev.policy.Pick(candidates)
	if !ok {
		return false
	}
	freed, removed := ev.dbs[victim.DB].evictVictim(victim.Key)
	if !removed {
		return false
	}
	atomic.AddInt64(&ev.used, -freed)
	logger.Debugf("evicted key %q from db %d, freed %d bytes", victim.Key, victim.DB, freed)
	return true
}

// evictVictim deletes a key under its shard write lock and fires the hub
// events. Entries claimed by an intention lock are left alone.
func (db *DB) evictVictim(key string) (freed int64, removed bool) {
	var hub *EventHub
	db.ks.WithShardWrite(key, func() {
		entry, ok := db.ks.GetAny(key)
		if !ok || entry.Data() == nil || entry.lockHint() {
			return
		}
		freed = entry.MemUsage()
		if at := entry.ExpireAt(); at != 0 {
			db.expire.remove(key, at)
		}
		hub = entry.PeekHub()
		removed = db.ks.Remove(key)
	})
	if removed && hub != nil {
		hub.FireMayUpdate()
		hub.FireInvalidate(key, 0)
	}
	return freed, removed
}
