package database

import (
	"strconv"
	"strings"
	"time"

	"github.com/rutin-db/rutin/aof"
	"github.com/rutin-db/rutin/interface/redis"
	"github.com/rutin-db/rutin/lib/utils"
	"github.com/rutin-db/rutin/redis/protocol"
)

// execDel removes the given keys, returns the number of removed keys
func execDel(db *DB, args [][]byte) redis.Reply {
	var deleted int64
	for _, raw := range args {
		if db.Remove(string(raw)) {
			deleted++
		}
	}
	if deleted > 0 {
		db.addAof(utils.ToCmdLine3("del", args...))
	}
	return protocol.MakeIntReply(deleted)
}

// execExists counts how many of the given keys exist
func execExists(db *DB, args [][]byte) redis.Reply {
	var count int64
	for _, raw := range args {
		if _, ok := db.GetEntity(string(raw)); ok {
			count++
		}
	}
	return protocol.MakeIntReply(count)
}

// setDeadline installs an absolute deadline on a key. A deadline in the past
// removes the key the same way DEL would.
func setDeadline(db *DB, key string, at int64) redis.Reply {
	if _, ok := db.GetEntity(key); !ok {
		return protocol.MakeIntReply(0)
	}
	if at <= time.Now().UnixMilli() {
		db.Remove(key)
		db.addAof(utils.ToCmdLine("del", key))
		return protocol.MakeIntReply(1)
	}
	db.Expire(key, at)
	db.addAof(aof.MakeExpireCmd(key, at).Args)
	return protocol.MakeIntReply(1)
}

func execExpire(db *DB, args [][]byte) redis.Reply {
	ttlSec, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return protocol.MakeErrReply("ERR value is not an integer or out of range")
	}
	at := time.Now().UnixMilli() + ttlSec*1000
	return setDeadline(db, string(args[0]), at)
}

func execExpireAt(db *DB, args [][]byte) redis.Reply {
	ts, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return protocol.MakeErrReply("ERR value is not an integer or out of range")
	}
	return setDeadline(db, string(args[0]), ts*1000)
}

func execPExpire(db *DB, args [][]byte) redis.Reply {
	ttlMs, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return protocol.MakeErrReply("ERR value is not an integer or out of range")
	}
	at := time.Now().UnixMilli() + ttlMs
	return setDeadline(db, string(args[0]), at)
}

func execPExpireAt(db *DB, args [][]byte) redis.Reply {
	ts, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return protocol.MakeErrReply("ERR value is not an integer or out of range")
	}
	return setDeadline(db, string(args[0]), ts)
}

func execPersist(db *DB, args [][]byte) redis.Reply {
	key := string(args[0])
	if !db.Persist(key) {
		return protocol.MakeIntReply(0)
	}
	db.addAof(utils.ToCmdLine("persist", key))
	return protocol.MakeIntReply(1)
}

func execTTL(db *DB, args [][]byte) redis.Reply {
	ms := db.TTL(string(args[0]))
	if ms < 0 {
		return protocol.MakeIntReply(ms)
	}
	return protocol.MakeIntReply((ms + 999) / 1000)
}

func execPTTL(db *DB, args [][]byte) redis.Reply {
	return protocol.MakeIntReply(db.TTL(string(args[0])))
}

// execType reports the storage type of a key, "none" when missing
func execType(db *DB, args [][]byte) redis.Reply {
	entry, ok := db.GetEntity(string(args[0]))
	if !ok {
		return protocol.MakeStatusReply("none")
	}
	return protocol.MakeStatusReply(entry.TypeName())
}

func execKeys(db *DB, args [][]byte) redis.Reply {
	keys := db.ks.Keys(string(args[0]))
	result := make([][]byte, len(keys))
	for i, key := range keys {
		result[i] = []byte(key)
	}
	return protocol.MakeMultiBulkReply(result)
}

// execScan walks the keyspace incrementally. Reply is a two element array:
// the next cursor as a bulk string and the batch of matching keys.
func execScan(db *DB, args [][]byte) redis.Reply {
	cursor, err := strconv.ParseUint(string(args[0]), 10, 64)
	if err != nil {
		return protocol.MakeErrReply("ERR invalid cursor")
	}
	pattern := "*"
	count := 10
	for i := 1; i < len(args); i += 2 {
		if i+1 >= len(args) {
			return protocol.MakeSyntaxErrReply()
		}
		switch strings.ToLower(string(args[i])) {
		case "match":
			pattern = string(args[i+1])
		case "count":
			n, err := strconv.Atoi(string(args[i+1]))
			if err != nil || n <= 0 {
				return protocol.MakeSyntaxErrReply()
			}
			count = n
		default:
			return protocol.MakeSyntaxErrReply()
		}
	}
	keys, next := db.ks.Scan(cursor, count, pattern)
	batch := make([][]byte, len(keys))
	for i, key := range keys {
		batch[i] = []byte(key)
	}
	return protocol.MakeMultiRawReply([]redis.Reply{
		protocol.MakeBulkReply([]byte(strconv.FormatUint(next, 10))),
		protocol.MakeMultiBulkReply(batch),
	})
}

func execRandomKey(db *DB, args [][]byte) redis.Reply {
	entries := db.ks.RandomSample(1, false)
	if len(entries) == 0 {
		return protocol.MakeNullBulkReply()
	}
	return protocol.MakeBulkReply([]byte(entries[0].Key()))
}

// execRename moves src's value and deadline to dest, overwriting dest
func execRename(db *DB, args [][]byte) redis.Reply {
	src := string(args[0])
	dest := string(args[1])
	entry, ok := db.GetEntity(src)
	if !ok {
		return protocol.MakeErrReply("ERR no such key")
	}
	at := entry.ExpireAt()
	db.Remove(dest)
	db.PutEntity(dest, entry.Data())
	if at != 0 {
		db.Expire(dest, at)
	}
	db.Remove(src)
	db.addAof(utils.ToCmdLine3("rename", args...))
	return protocol.MakeOkReply()
}

func prepareRename(args [][]byte) ([]string, []string) {
	return []string{string(args[0]), string(args[1])}, nil
}

func init() {
	registerCommand("Del", execDel, writeAllKeys, -2, flagWrite, "keyspace")
	registerCommand("Exists", execExists, readAllKeys, -2, flagReadOnly, "keyspace")
	registerCommand("Expire", execExpire, writeFirstKey, 3, flagWrite, "keyspace")
	registerCommand("ExpireAt", execExpireAt, writeFirstKey, 3, flagWrite, "keyspace")
	registerCommand("PExpire", execPExpire, writeFirstKey, 3, flagWrite, "keyspace")
	registerCommand("PExpireAt", execPExpireAt, writeFirstKey, 3, flagWrite, "keyspace")
	registerCommand("Persist", execPersist, writeFirstKey, 2, flagWrite, "keyspace")
	registerCommand("TTL", execTTL, readFirstKey, 2, flagReadOnly, "keyspace")
	registerCommand("PTTL", execPTTL, readFirstKey, 2, flagReadOnly, "keyspace")
	registerCommand("Type", execType, readFirstKey, 2, flagReadOnly, "keyspace")
	registerCommand("Keys", execKeys, noPrepare, 2, flagReadOnly, "keyspace")
	registerCommand("Scan", execScan, noPrepare, -2, flagReadOnly, "keyspace")
	registerCommand("RandomKey", execRandomKey, noPrepare, 1, flagReadOnly, "keyspace")
	registerCommand("Rename", execRename, prepareRename, 3, flagWrite, "keyspace")
}
