package database

import (
	"strconv"
	"strings"
	"time"

	"github.com/rutin-db/rutin/interface/redis"
	"github.com/rutin-db/rutin/lib/utils"
	"github.com/rutin-db/rutin/redis/connection"
	"github.com/rutin-db/rutin/redis/protocol"
)

// parseTimeout reads a timeout in float seconds, 0 means wait forever
func parseTimeout(raw []byte) (time.Duration, protocol.ErrorReply) {
	seconds, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || seconds < 0 {
		return 0, protocol.MakeErrReply("ERR timeout is not a float or out of range")
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// addWaiters registers one shared wakeup channel on the hub of every key,
// creating placeholder entries for missing keys
func addWaiters(db *DB, keys []string, ch chan struct{}) {
	for _, key := range keys {
		db.ks.WithShardWrite(key, func() {
			entry := db.ks.GetOrCreatePlaceholder(key)
			entry.Hub().AddMayUpdate(ch)
		})
	}
}

// removeWaiters drops the channel from every hub and collects placeholders
// left without a purpose
func removeWaiters(db *DB, keys []string, ch chan struct{}) {
	for _, key := range keys {
		db.ks.WithShardWrite(key, func() {
			entry, ok := db.ks.GetAny(key)
			if !ok {
				return
			}
			if hub := entry.PeekHub(); hub != nil {
				hub.RemoveMayUpdate(ch)
			}
			db.ks.CollectPlaceholder(key)
		})
	}
}

// execBlockingPop is BLPOP and BRPOP: pop from the first non-empty key, or
// park the handler until a push arrives or the timeout fires. Registration
// happens before each retry, so a push between the miss and the wait still
// wakes the handler.
func (server *Server) execBlockingPop(c redis.Connection, left bool, args [][]byte) redis.Reply {
	name := "brpop"
	popCmd := "rpop"
	if left {
		name = "blpop"
		popCmd = "lpop"
	}
	if len(args) < 2 {
		return protocol.MakeArgNumErrReply(name)
	}
	timeout, errReply := parseTimeout(args[len(args)-1])
	if errReply != nil {
		return errReply
	}
	keys := make([]string, len(args)-1)
	for i, raw := range args[:len(args)-1] {
		keys[i] = string(raw)
	}
	db, errReply := server.selectDB(dbIndexOf(c))
	if errReply != nil {
		return errReply
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ch := make(chan struct{}, 1)
	for {
		addWaiters(db, keys, ch)
		for _, key := range keys {
			reply := db.Exec(c, utils.ToCmdLine2(popCmd, key))
			if bulk, ok := reply.(*protocol.BulkReply); ok {
				removeWaiters(db, keys, ch)
				return protocol.MakeMultiBulkReply([][]byte{[]byte(key), bulk.Arg})
			}
			if protocol.IsErrorReply(reply) {
				removeWaiters(db, keys, ch)
				return reply
			}
		}
		select {
		case <-ch:
			removeWaiters(db, keys, ch)
		case <-deadline:
			removeWaiters(db, keys, ch)
			return protocol.MakeNullReply()
		case <-server.closed:
			removeWaiters(db, keys, ch)
			return protocol.MakeNullReply()
		}
	}
}

// execBLMove is LMOVE that parks the handler while the source is empty
func (server *Server) execBLMove(c redis.Connection, args [][]byte) redis.Reply {
	if len(args) != 5 {
		return protocol.MakeArgNumErrReply("blmove")
	}
	timeout, errReply := parseTimeout(args[4])
	if errReply != nil {
		return errReply
	}
	src := string(args[0])
	db, errReply := server.selectDB(dbIndexOf(c))
	if errReply != nil {
		return errReply
	}
	moveLine := utils.ToCmdLine3("lmove", args[0], args[1], args[2], args[3])

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	keys := []string{src}
	ch := make(chan struct{}, 1)
	for {
		addWaiters(db, keys, ch)
		reply := db.Exec(c, moveLine)
		if _, empty := reply.(*protocol.NullBulkReply); !empty {
			removeWaiters(db, keys, ch)
			return reply
		}
		select {
		case <-ch:
			removeWaiters(db, keys, ch)
		case <-deadline:
			removeWaiters(db, keys, ch)
			return protocol.MakeNullReply()
		case <-server.closed:
			removeWaiters(db, keys, ch)
			return protocol.MakeNullReply()
		}
	}
}

// execNBLPop is the asynchronous pop: an immediate hit returns the element,
// otherwise the handler is acknowledged with OK and a worker delivers the
// element as a push frame once one arrives. REDIRECT targets the push at
// another connection. A timed out wait delivers nothing.
func (server *Server) execNBLPop(c redis.Connection, args [][]byte) redis.Reply {
	if len(args) < 2 {
		return protocol.MakeArgNumErrReply("nblpop")
	}
	target := c
	if len(args) >= 4 && strings.ToUpper(string(args[1])) == "REDIRECT" {
		id, err := strconv.ParseInt(string(args[2]), 10, 64)
		if err != nil {
			return protocol.MakeErrReply("ERR invalid redirect id")
		}
		conn, ok := connection.GetByID(id)
		if !ok {
			return protocol.MakeErrReply("ERR redirect connection does not exist")
		}
		target = conn
		args = append(args[:1], args[3:]...)
	}
	if len(args) != 2 {
		return protocol.MakeSyntaxErrReply()
	}
	timeout, errReply := parseTimeout(args[1])
	if errReply != nil {
		return errReply
	}
	key := string(args[0])
	db, errReply := server.selectDB(dbIndexOf(c))
	if errReply != nil {
		return errReply
	}

	popLine := utils.ToCmdLine2("lpop", key)
	reply := db.Exec(c, popLine)
	if bulk, ok := reply.(*protocol.BulkReply); ok {
		return protocol.MakeMultiBulkReply([][]byte{[]byte(key), bulk.Arg})
	}
	if protocol.IsErrorReply(reply) {
		return reply
	}

	err := server.workers.Submit(func() {
		var deadline <-chan time.Time
		if timeout > 0 {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			deadline = timer.C
		}
		keys := []string{key}
		ch := make(chan struct{}, 1)
		for {
			addWaiters(db, keys, ch)
			if target.IsClosed() {
				removeWaiters(db, keys, ch)
				return
			}
			reply := db.Exec(c, popLine)
			if bulk, ok := reply.(*protocol.BulkReply); ok {
				removeWaiters(db, keys, ch)
				frame := protocol.MakePushReply([][]byte{
					[]byte("nblpop"),
					[]byte(key),
					bulk.Arg,
				}).ToBytes()
				_ = target.Push(frame)
				return
			}
			if protocol.IsErrorReply(reply) {
				removeWaiters(db, keys, ch)
				return
			}
			select {
			case <-ch:
				removeWaiters(db, keys, ch)
			case <-deadline:
				removeWaiters(db, keys, ch)
				return
			case <-server.closed:
				removeWaiters(db, keys, ch)
				return
			}
		}
	})
	if err != nil {
		return protocol.MakeErrReply("ERR " + err.Error())
	}
	return protocol.MakeOkReply()
}
