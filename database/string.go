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

func (db *DB) getAsString(key string) ([]byte, protocol.ErrorReply) {
	entry, ok := db.GetEntity(key)
	if !ok {
		return nil, nil
	}
	bytes, ok := entry.Data().([]byte)
	if !ok {
		return nil, &protocol.WrongTypeErrReply{}
	}
	return bytes, nil
}

// execGet returns the string value bound to the given key
func execGet(db *DB, args [][]byte) redis.Reply {
	bytes, err := db.getAsString(string(args[0]))
	if err != nil {
		return err
	}
	if bytes == nil {
		return protocol.MakeNullBulkReply()
	}
	return protocol.MakeBulkReply(bytes)
}

const (
	upsertPolicy = iota // default
	insertPolicy        // set nx
	updatePolicy        // set xx
)

const (
	ttlUnchanged = iota // no expiration option given, clear the deadline
	ttlKeep             // keepttl
	ttlSet              // ex / px / exat / pxat
)

// execSet stores a string value, honoring the NX/XX insert policies and the
// expiration options. With GET the old value is returned instead of OK.
func execSet(db *DB, args [][]byte) redis.Reply {
	key := string(args[0])
	value := args[1]
	policy := upsertPolicy
	ttlMode := ttlUnchanged
	withGet := false
	var deadline int64

	for i := 2; i < len(args); i++ {
		switch strings.ToUpper(string(args[i])) {
		case "NX":
			if policy == updatePolicy {
				return protocol.MakeSyntaxErrReply()
			}
			policy = insertPolicy
		case "XX":
			if policy == insertPolicy {
				return protocol.MakeSyntaxErrReply()
			}
			policy = updatePolicy
		case "GET":
			withGet = true
		case "KEEPTTL":
			if ttlMode == ttlSet {
				return protocol.MakeSyntaxErrReply()
			}
			ttlMode = ttlKeep
		case "EX", "PX", "EXAT", "PXAT":
			if ttlMode != ttlUnchanged {
				return protocol.MakeSyntaxErrReply()
			}
			if i+1 >= len(args) {
				return protocol.MakeSyntaxErrReply()
			}
			n, err := strconv.ParseInt(string(args[i+1]), 10, 64)
			if err != nil {
				return protocol.MakeSyntaxErrReply()
			}
			switch strings.ToUpper(string(args[i])) {
			case "EX":
				if n <= 0 {
					return protocol.MakeErrReply("ERR invalid expire time in 'set' command")
				}
				deadline = time.Now().UnixMilli() + n*1000
			case "PX":
				if n <= 0 {
					return protocol.MakeErrReply("ERR invalid expire time in 'set' command")
				}
				deadline = time.Now().UnixMilli() + n
			case "EXAT":
				deadline = n * 1000
			case "PXAT":
				deadline = n
			}
			ttlMode = ttlSet
			i++
		default:
			return protocol.MakeSyntaxErrReply()
		}
	}

	var old []byte
	if withGet {
		var errReply protocol.ErrorReply
		old, errReply = db.getAsString(key)
		if errReply != nil {
			return errReply
		}
	}

	_, exists := db.GetEntity(key)
	if policy == insertPolicy && exists || policy == updatePolicy && !exists {
		if withGet {
			if old == nil {
				return protocol.MakeNullBulkReply()
			}
			return protocol.MakeBulkReply(old)
		}
		return protocol.MakeNullBulkReply()
	}

	db.PutEntity(key, value)
	switch ttlMode {
	case ttlSet:
		db.Expire(key, deadline)
		db.addAof(utils.ToCmdLine3("set", args[0], args[1]))
		db.addAof(aof.MakeExpireCmd(key, deadline).Args)
	case ttlKeep:
		db.addAof(utils.ToCmdLine3("set", args[0], args[1], []byte("KEEPTTL")))
	default:
		db.Persist(key)
		db.addAof(utils.ToCmdLine3("set", args[0], args[1]))
	}

	if withGet {
		if old == nil {
			return protocol.MakeNullBulkReply()
		}
		return protocol.MakeBulkReply(old)
	}
	return protocol.MakeOkReply()
}

// execSetNX stores a value only when the key is missing
func execSetNX(db *DB, args [][]byte) redis.Reply {
	key := string(args[0])
	if _, exists := db.GetEntity(key); exists {
		return protocol.MakeIntReply(0)
	}
	db.PutEntity(key, args[1])
	db.addAof(utils.ToCmdLine3("setnx", args...))
	return protocol.MakeIntReply(1)
}

// execGetSet swaps in a new value and returns the old one
func execGetSet(db *DB, args [][]byte) redis.Reply {
	key := string(args[0])
	old, err := db.getAsString(key)
	if err != nil {
		return err
	}
	db.PutEntity(key, args[1])
	db.Persist(key)
	db.addAof(utils.ToCmdLine3("set", args...))
	if old == nil {
		return protocol.MakeNullBulkReply()
	}
	return protocol.MakeBulkReply(old)
}

func (db *DB) incrBy(key string, delta int64) redis.Reply {
	bytes, errReply := db.getAsString(key)
	if errReply != nil {
		return errReply
	}
	var value int64
	if bytes != nil {
		var err error
		value, err = strconv.ParseInt(string(bytes), 10, 64)
		if err != nil {
			return protocol.MakeErrReply("ERR value is not an integer or out of range")
		}
	}
	value += delta
	db.PutEntity(key, []byte(strconv.FormatInt(value, 10)))
	db.addAof(utils.ToCmdLine("set", key, strconv.FormatInt(value, 10)))
	return protocol.MakeIntReply(value)
}

func execIncr(db *DB, args [][]byte) redis.Reply {
	return db.incrBy(string(args[0]), 1)
}

func execDecr(db *DB, args [][]byte) redis.Reply {
	return db.incrBy(string(args[0]), -1)
}

func execIncrBy(db *DB, args [][]byte) redis.Reply {
	delta, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return protocol.MakeErrReply("ERR value is not an integer or out of range")
	}
	return db.incrBy(string(args[0]), delta)
}

func execDecrBy(db *DB, args [][]byte) redis.Reply {
	delta, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return protocol.MakeErrReply("ERR value is not an integer or out of range")
	}
	return db.incrBy(string(args[0]), -delta)
}

// execAppend appends to the stored string, returns the new length
func execAppend(db *DB, args [][]byte) redis.Reply {
	key := string(args[0])
	bytes, errReply := db.getAsString(key)
	if errReply != nil {
		return errReply
	}
	bytes = append(bytes, args[1]...)
	db.PutEntity(key, bytes)
	db.addAof(utils.ToCmdLine3("append", args...))
	return protocol.MakeIntReply(int64(len(bytes)))
}

func execStrLen(db *DB, args [][]byte) redis.Reply {
	bytes, errReply := db.getAsString(string(args[0]))
	if errReply != nil {
		return errReply
	}
	return protocol.MakeIntReply(int64(len(bytes)))
}

func execMSet(db *DB, args [][]byte) redis.Reply {
	if len(args)%2 != 0 {
		return protocol.MakeArgNumErrReply("mset")
	}
	for i := 0; i < len(args); i += 2 {
		db.PutEntity(string(args[i]), args[i+1])
	}
	db.addAof(utils.ToCmdLine3("mset", args...))
	return protocol.MakeOkReply()
}

func execMGet(db *DB, args [][]byte) redis.Reply {
	result := make([][]byte, len(args))
	for i, raw := range args {
		bytes, err := db.getAsString(string(raw))
		if err != nil {
			result[i] = nil
			continue
		}
		result[i] = bytes
	}
	return protocol.MakeMultiBulkReply(result)
}

// execGetRange returns the substring [start, end], both inclusive, with
// negative offsets counted from the tail
func execGetRange(db *DB, args [][]byte) redis.Reply {
	start, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return protocol.MakeErrReply("ERR value is not an integer or out of range")
	}
	end, err := strconv.ParseInt(string(args[2]), 10, 64)
	if err != nil {
		return protocol.MakeErrReply("ERR value is not an integer or out of range")
	}
	bytes, errReply := db.getAsString(string(args[0]))
	if errReply != nil {
		return errReply
	}
	size := int64(len(bytes))
	if start < 0 {
		start += size
		if start < 0 {
			start = 0
		}
	}
	if end < 0 {
		end += size
	}
	if end >= size {
		end = size - 1
	}
	if size == 0 || start > end {
		return protocol.MakeBulkReply([]byte{})
	}
	return protocol.MakeBulkReply(bytes[start : end+1])
}

func init() {
	registerCommand("Get", execGet, readFirstKey, 2, flagReadOnly, "string")
	registerCommand("Set", execSet, writeFirstKey, -3, flagWrite, "string")
	registerCommand("SetNX", execSetNX, writeFirstKey, 3, flagWrite, "string")
	registerCommand("GetSet", execGetSet, writeFirstKey, 3, flagWrite, "string")
	registerCommand("Incr", execIncr, writeFirstKey, 2, flagWrite, "string")
	registerCommand("Decr", execDecr, writeFirstKey, 2, flagWrite, "string")
	registerCommand("IncrBy", execIncrBy, writeFirstKey, 3, flagWrite, "string")
	registerCommand("DecrBy", execDecrBy, writeFirstKey, 3, flagWrite, "string")
	registerCommand("Append", execAppend, writeFirstKey, 3, flagWrite, "string")
	registerCommand("StrLen", execStrLen, readFirstKey, 2, flagReadOnly, "string")
	registerCommand("MSet", execMSet, writeEvenKeys, -3, flagWrite, "string")
	registerCommand("MGet", execMGet, readAllKeys, -2, flagReadOnly, "string")
	registerCommand("GetRange", execGetRange, readFirstKey, 4, flagReadOnly, "string")
}
