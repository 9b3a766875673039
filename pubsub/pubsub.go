package pubsub

import (
	"strconv"

	"github.com/rutin-db/rutin/interface/redis"
	"github.com/rutin-db/rutin/lib/wildcard"
	"github.com/rutin-db/rutin/redis/protocol"
)

var (
	msgSubscribe    = "subscribe"
	msgUnsubscribe  = "unsubscribe"
	msgPSubscribe   = "psubscribe"
	msgPUnsubscribe = "punsubscribe"
	messageBytes    = []byte("message")
	pmessageBytes   = []byte("pmessage")
)

// makeMsg builds a subscription confirmation push frame: the verb, the
// channel and the connection's subscription count
func makeMsg(t string, channel string, code int64) []byte {
	return []byte(">3" + protocol.CRLF +
		"$" + strconv.Itoa(len(t)) + protocol.CRLF + t + protocol.CRLF +
		"$" + strconv.Itoa(len(channel)) + protocol.CRLF + channel + protocol.CRLF +
		":" + strconv.FormatInt(code, 10) + protocol.CRLF)
}

func subscribe0(hub *Hub, channel string, c redis.Connection) bool {
	c.Subscribe(channel)
	isNew := false
	hub.subs.Compute(channel, func(conns map[int64]redis.Connection, loaded bool) (map[int64]redis.Connection, bool) {
		if !loaded {
			conns = make(map[int64]redis.Connection)
		}
		if _, ok := conns[c.ID()]; !ok {
			conns[c.ID()] = c
			isNew = true
		}
		return conns, false
	})
	return isNew
}

func unsubscribe0(hub *Hub, channel string, c redis.Connection) bool {
	c.UnSubscribe(channel)
	removed := false
	hub.subs.Compute(channel, func(conns map[int64]redis.Connection, loaded bool) (map[int64]redis.Connection, bool) {
		if !loaded {
			return nil, true
		}
		if _, ok := conns[c.ID()]; ok {
			delete(conns, c.ID())
			removed = true
		}
		return conns, len(conns) == 0
	})
	return removed
}

func psubscribe0(hub *Hub, pattern string, c redis.Connection) bool {
	c.PSubscribe(pattern)
	isNew := false
	hub.psubs.Compute(pattern, func(ps *patternSubs, loaded bool) (*patternSubs, bool) {
		if !loaded {
			ps = &patternSubs{
				pattern: wildcard.CompilePattern(pattern),
				conns:   make(map[int64]redis.Connection),
			}
		}
		if _, ok := ps.conns[c.ID()]; !ok {
			ps.conns[c.ID()] = c
			isNew = true
		}
		return ps, false
	})
	return isNew
}

func punsubscribe0(hub *Hub, pattern string, c redis.Connection) bool {
	c.PUnSubscribe(pattern)
	removed := false
	hub.psubs.Compute(pattern, func(ps *patternSubs, loaded bool) (*patternSubs, bool) {
		if !loaded {
			return nil, true
		}
		if _, ok := ps.conns[c.ID()]; ok {
			delete(ps.conns, c.ID())
			removed = true
		}
		return ps, len(ps.conns) == 0
	})
	return removed
}

// Subscribe adds the connection to the given channels
func Subscribe(hub *Hub, c redis.Connection, args [][]byte) redis.Reply {
	for _, raw := range args {
		channel := string(raw)
		subscribe0(hub, channel, c)
		_ = c.Write(makeMsg(msgSubscribe, channel, int64(c.SubsCount())))
	}
	return &protocol.NoReply{}
}

// UnSubscribe removes the connection from the given channels, or from all
// of its channels when none are named
func UnSubscribe(hub *Hub, c redis.Connection, args [][]byte) redis.Reply {
	var channels []string
	if len(args) > 0 {
		channels = make([]string, len(args))
		for i, raw := range args {
			channels[i] = string(raw)
		}
	} else {
		channels = c.GetChannels()
	}
	if len(channels) == 0 {
		_ = c.Write(makeMsg(msgUnsubscribe, "", 0))
		return &protocol.NoReply{}
	}
	for _, channel := range channels {
		unsubscribe0(hub, channel, c)
		_ = c.Write(makeMsg(msgUnsubscribe, channel, int64(c.SubsCount())))
	}
	return &protocol.NoReply{}
}

// PSubscribe adds the connection to the given patterns
func PSubscribe(hub *Hub, c redis.Connection, args [][]byte) redis.Reply {
	for _, raw := range args {
		pattern := string(raw)
		psubscribe0(hub, pattern, c)
		_ = c.Write(makeMsg(msgPSubscribe, pattern, int64(c.PSubsCount())))
	}
	return &protocol.NoReply{}
}

// PUnSubscribe removes the connection from the given patterns, or from all
// of its patterns when none are named
func PUnSubscribe(hub *Hub, c redis.Connection, args [][]byte) redis.Reply {
	var patterns []string
	if len(args) > 0 {
		patterns = make([]string, len(args))
		for i, raw := range args {
			patterns[i] = string(raw)
		}
	} else {
		patterns = c.GetPatterns()
	}
	if len(patterns) == 0 {
		_ = c.Write(makeMsg(msgPUnsubscribe, "", 0))
		return &protocol.NoReply{}
	}
	for _, pattern := range patterns {
		punsubscribe0(hub, pattern, c)
		_ = c.Write(makeMsg(msgPUnsubscribe, pattern, int64(c.PSubsCount())))
	}
	return &protocol.NoReply{}
}

// UnsubscribeAll detaches a closing connection from every channel and
// pattern it subscribed
func UnsubscribeAll(hub *Hub, c redis.Connection) {
	for _, channel := range c.GetChannels() {
		unsubscribe0(hub, channel, c)
	}
	for _, pattern := range c.GetPatterns() {
		punsubscribe0(hub, pattern, c)
	}
}

// Publish delivers a message to every exact and pattern subscriber and
// returns the number of receivers. Closed subscribers found on the way are
// pruned.
func Publish(hub *Hub, args [][]byte) redis.Reply {
	channel := string(args[0])
	message := args[1]
	var count int64

	targets := make([]redis.Connection, 0)
	hub.subs.Compute(channel, func(conns map[int64]redis.Connection, loaded bool) (map[int64]redis.Connection, bool) {
		if !loaded {
			return nil, true
		}
		for id, conn := range conns {
			if conn.IsClosed() {
				delete(conns, id)
				continue
			}
			targets = append(targets, conn)
		}
		return conns, len(conns) == 0
	})
	if len(targets) > 0 {
		frame := protocol.MakePushReply([][]byte{messageBytes, args[0], message}).ToBytes()
		for _, conn := range targets {
			if err := conn.Push(frame); err == nil {
				count++
			}
		}
	}

	type pmatch struct {
		pattern string
		conns   []redis.Connection
	}
	matches := make([]pmatch, 0)
	hub.psubs.Range(func(pattern string, ps *patternSubs) bool {
		if !ps.pattern.IsMatch(channel) {
			return true
		}
		m := pmatch{pattern: pattern}
		hub.psubs.Compute(pattern, func(ps *patternSubs, loaded bool) (*patternSubs, bool) {
			if !loaded {
				return nil, true
			}
			for id, conn := range ps.conns {
				if conn.IsClosed() {
					delete(ps.conns, id)
					continue
				}
				m.conns = append(m.conns, conn)
			}
			return ps, len(ps.conns) == 0
		})
		if len(m.conns) > 0 {
			matches = append(matches, m)
		}
		return true
	})
	for _, m := range matches {
		frame := protocol.MakePushReply([][]byte{pmessageBytes, []byte(m.pattern), args[0], message}).ToBytes()
		for _, conn := range m.conns {
			if err := conn.Push(frame); err == nil {
				count++
			}
		}
	}
	return protocol.MakeIntReply(count)
}
