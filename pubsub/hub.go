package pubsub

import (
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rutin-db/rutin/interface/redis"
	"github.com/rutin-db/rutin/lib/wildcard"
)

// Hub routes published messages to subscribers. Channel subscriptions are
// exact names, pattern subscriptions carry their compiled glob. Mutations of
// one channel's subscriber set are serialized by the map's per-key compute.
type Hub struct {
	subs  *xsync.MapOf[string, map[int64]redis.Connection]
	psubs *xsync.MapOf[string, *patternSubs]
}

type patternSubs struct {
	pattern *wildcard.Pattern
	conns   map[int64]redis.Connection
}

// MakeHub creates an empty pub/sub hub
func MakeHub() *Hub {
	return &Hub{
		subs:  xsync.NewMapOf[string, map[int64]redis.Connection](),
		psubs: xsync.NewMapOf[string, *patternSubs](),
	}
}

// Channels returns the channel names with at least one exact subscriber,
// filtered by the optional glob pattern
func (hub *Hub) Channels(pattern string) []string {
	var p *wildcard.Pattern
	if pattern != "" {
		p = wildcard.CompilePattern(pattern)
	}
	result := make([]string, 0)
	hub.subs.Range(func(channel string, conns map[int64]redis.Connection) bool {
		if p == nil || p.IsMatch(channel) {
			result = append(result, channel)
		}
		return true
	})
	return result
}

// NumSub returns the exact subscriber count of a channel
func (hub *Hub) NumSub(channel string) int64 {
	var n int64
	hub.subs.Compute(channel, func(conns map[int64]redis.Connection, loaded bool) (map[int64]redis.Connection, bool) {
		if !loaded {
			return nil, true
		}
		n = int64(len(conns))
		return conns, false
	})
	return n
}
