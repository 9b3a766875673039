package database

import (
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/rutin-db/rutin/interface/redis"
	"github.com/rutin-db/rutin/lib/logger"
	"github.com/rutin-db/rutin/redis/protocol"
)

// CmdLine is alias for [][]byte, represents a command line
type CmdLine = [][]byte

// DB stores the keyspace of one database index and executes commands on it
type DB struct {
	index  int
	ks     *KeySpace
	expire *expireIndex

	// addAof hands a mutating command to the persistence writer, set by the
	// server when aof is enabled
	addAof func(CmdLine)

	// reserve asks the eviction engine for headroom before a write grows
	// the keyspace, set by the server when maxmemory is configured
	reserve func(bytes int64) protocol.ErrorReply
}

// ExecFunc is the signature of command executors, args don't include the
// command name
type ExecFunc func(db *DB, args [][]byte) redis.Reply

// PreFunc returns the write keys and read keys a command will touch
type PreFunc func(args [][]byte) ([]string, []string)

func makeDB() *DB {
	return &DB{
		ks:     MakeKeySpace(),
		expire: makeExpireIndex(),
		addAof: func(line CmdLine) {},
	}
}

// Exec executes a normal keyspace command within one database
func (db *DB) Exec(c redis.Connection, cmdLine [][]byte) (result redis.Reply) {
	defer func() {
		if err := recover(); err != nil {
			logger.Warn(fmt.Sprintf("error occurs: %v\n%s", err, string(debug.Stack())))
			result = &protocol.UnknownErrReply{}
		}
	}()

	cmdName := strings.ToLower(string(cmdLine[0]))
	cmd, ok := cmdTable[cmdName]
	if !ok {
		return protocol.MakeErrReply("ERR unknown command '" + cmdName + "'")
	}
	if !validateArity(cmd.arity, cmdLine) {
		return protocol.MakeArgNumErrReply(cmdName)
	}
	args := cmdLine[1:]
	writeKeys, readKeys := cmd.prepare(args)

	// reap deadlines before taking read locks, so a read of an expired key
	// both misses and shrinks DBSIZE
	db.expireIfNeeded(writeKeys...)
	db.expireIfNeeded(readKeys...)

	var connID int64
	if c != nil {
		connID = c.ID()
	}

	if isWriteCommand(cmd) && db.reserve != nil {
		if errReply := db.reserve(estimateCmdSize(cmdLine)); errReply != nil {
			return errReply
		}
	}

	tracking := c != nil && c.IsTracking()

	ownedHubs := db.lockAndGate(writeKeys, readKeys, connID)
	var firing []hubEvent
	func() {
		defer db.ks.RWUnLocks(writeKeys, readKeys)
		result = cmd.executor(db, args)
		firing = db.afterExec(cmd, writeKeys, readKeys, connID, tracking)
	}()
	for _, hub := range ownedHubs {
		hub.ReleaseIntent(connID)
	}
	// events fire outside the shard locks, a slow tracked client must not
	// stall the shard
	for _, ev := range firing {
		ev.hub.FireMayUpdate()
		ev.hub.FireInvalidate(ev.key, connID)
	}
	return result
}

type hubEvent struct {
	hub *EventHub
	key string
}

// lockAndGate acquires the shard locks and serialises against intention
// locks: a write key claimed by another handler parks this one on the FIFO
// queue with the shard locks released, then retries once the claim is
// handed over.
func (db *DB) lockAndGate(writeKeys []string, readKeys []string, connID int64) []*EventHub {
	var ownedHubs []*EventHub
	for {
		db.ks.RWLocks(writeKeys, readKeys)
		var blocked *EventHub
		for _, key := range writeKeys {
			entry, ok := db.ks.GetAny(key)
			if !ok {
				continue
			}
			hub := entry.PeekHub()
			if hub == nil {
				continue
			}
			if t := hub.IntentTarget(); t != 0 && t != connID {
				blocked = hub
				break
			}
		}
		if blocked == nil {
			return ownedHubs
		}
		resume := blocked.AwaitIntent(connID)
		db.ks.RWUnLocks(writeKeys, readKeys)
		<-resume
		// the claim was handed over to us, keep it until the write commits
		ownedHubs = append(ownedHubs, blocked)
	}
}

// afterExec touches access metadata under the shard locks and collects the
// hubs whose events must fire once the locks are gone. Tracking clients are
// registered on the entries they read; missing keys are not tracked, the
// shard is only read locked here and a placeholder insert needs the write
// lock.
func (db *DB) afterExec(cmd *command, writeKeys []string, readKeys []string, connID int64, tracking bool) []hubEvent {
	for _, key := range readKeys {
		if entry, ok := db.ks.Get(key); ok {
			entry.Touch()
			if tracking {
				entry.Hub().Track(connID)
			}
		}
	}
	if !isWriteCommand(cmd) {
		return nil
	}
	firing := make([]hubEvent, 0, len(writeKeys))
	for _, key := range writeKeys {
		entry, ok := db.ks.GetAny(key)
		if !ok {
			continue
		}
		if entry.data != nil {
			entry.Touch()
		}
		if hub := entry.PeekHub(); hub != nil {
			firing = append(firing, hubEvent{hub: hub, key: key})
		}
		db.ks.CollectPlaceholder(key)
	}
	return firing
}

func validateArity(arity int, cmdArgs [][]byte) bool {
	argNum := len(cmdArgs)
	if arity >= 0 {
		return argNum == arity
	}
	return argNum >= -arity
}

func estimateCmdSize(cmdLine [][]byte) int64 {
	var size int64
	for _, arg := range cmdLine {
		size += int64(len(arg))
	}
	return size + entryOverhead
}

/* ---- data access helpers for executors, shard locks held ---- */

// GetEntity returns the live entry bound to the given key
func (db *DB) GetEntity(key string) (*Entry, bool) {
	return db.ks.Get(key)
}

// PutEntity installs data under key, preserving hub and metadata of an
// existing entry
func (db *DB) PutEntity(key string, data interface{}) *Entry {
	return db.ks.Put(key, data)
}

// Remove deletes a key and its expiration
func (db *DB) Remove(key string) bool {
	if entry, ok := db.ks.GetAny(key); ok {
		if at := entry.ExpireAt(); at != 0 {
			db.expire.remove(key, at)
		}
	}
	return db.ks.Remove(key)
}

// Expire sets the expiration deadline of a key in unix ms
func (db *DB) Expire(key string, at int64) {
	entry, ok := db.ks.Get(key)
	if !ok {
		return
	}
	if old := entry.ExpireAt(); old != 0 {
		db.expire.remove(key, old)
	}
	entry.setExpireAt(at)
	db.expire.add(key, at)
}

// Persist clears the expiration of a key, returns whether it had one
func (db *DB) Persist(key string) bool {
	entry, ok := db.ks.Get(key)
	if !ok {
		return false
	}
	at := entry.ExpireAt()
	if at == 0 {
		return false
	}
	entry.setExpireAt(0)
	db.expire.remove(key, at)
	return true
}

// Flush drops all keys of this database
func (db *DB) Flush() {
	db.ks.Flush()
	db.expire.flush()
}

// Len returns the number of live keys
func (db *DB) Len() int64 {
	return db.ks.Len()
}
