package database

import (
	"github.com/rutin-db/rutin/datastruct/dict"
	"github.com/rutin-db/rutin/interface/redis"
	"github.com/rutin-db/rutin/lib/utils"
	"github.com/rutin-db/rutin/redis/protocol"
)

func (db *DB) getAsDict(key string) (*dict.SimpleDict, protocol.ErrorReply) {
	entry, ok := db.GetEntity(key)
	if !ok {
		return nil, nil
	}
	d, ok := entry.Data().(*dict.SimpleDict)
	if !ok {
		return nil, &protocol.WrongTypeErrReply{}
	}
	return d, nil
}

func (db *DB) getOrInitDict(key string) (*dict.SimpleDict, protocol.ErrorReply) {
	d, errReply := db.getAsDict(key)
	if errReply != nil {
		return nil, errReply
	}
	if d == nil {
		d = dict.MakeSimple()
		db.PutEntity(key, d)
	}
	return d, nil
}

// execHSet stores field value pairs, returns the number of new fields
func execHSet(db *DB, args [][]byte) redis.Reply {
	if len(args)%2 != 1 {
		return protocol.MakeArgNumErrReply("hset")
	}
	key := string(args[0])
	d, errReply := db.getOrInitDict(key)
	if errReply != nil {
		return errReply
	}
	var added int64
	for i := 1; i < len(args); i += 2 {
		added += int64(d.Put(string(args[i]), args[i+1]))
	}
	db.addAof(utils.ToCmdLine3("hset", args...))
	return protocol.MakeIntReply(added)
}

func execHGet(db *DB, args [][]byte) redis.Reply {
	d, errReply := db.getAsDict(string(args[0]))
	if errReply != nil {
		return errReply
	}
	if d == nil {
		return protocol.MakeNullBulkReply()
	}
	value, ok := d.Get(string(args[1]))
	if !ok {
		return protocol.MakeNullBulkReply()
	}
	return protocol.MakeBulkReply(value)
}

// execHDel removes fields, the key itself goes once the hash empties
func execHDel(db *DB, args [][]byte) redis.Reply {
	key := string(args[0])
	d, errReply := db.getAsDict(key)
	if errReply != nil {
		return errReply
	}
	if d == nil {
		return protocol.MakeIntReply(0)
	}
	var deleted int64
	for _, field := range args[1:] {
		deleted += int64(d.Remove(string(field)))
	}
	if d.Len() == 0 {
		db.Remove(key)
	}
	if deleted > 0 {
		db.addAof(utils.ToCmdLine3("hdel", args...))
	}
	return protocol.MakeIntReply(deleted)
}

// execHGetAll returns all fields and values as a RESP3 map
func execHGetAll(db *DB, args [][]byte) redis.Reply {
	d, errReply := db.getAsDict(string(args[0]))
	if errReply != nil {
		return errReply
	}
	if d == nil {
		return protocol.MakeMapReply(nil)
	}
	pairs := make([]redis.Reply, 0, d.Len()*2)
	d.ForEach(func(field string, value []byte) bool {
		pairs = append(pairs, protocol.MakeBulkReply([]byte(field)), protocol.MakeBulkReply(value))
		return true
	})
	return protocol.MakeMapReply(pairs)
}

func execHExists(db *DB, args [][]byte) redis.Reply {
	d, errReply := db.getAsDict(string(args[0]))
	if errReply != nil {
		return errReply
	}
	if d == nil {
		return protocol.MakeIntReply(0)
	}
	if _, ok := d.Get(string(args[1])); ok {
		return protocol.MakeIntReply(1)
	}
	return protocol.MakeIntReply(0)
}

func execHLen(db *DB, args [][]byte) redis.Reply {
	d, errReply := db.getAsDict(string(args[0]))
	if errReply != nil {
		return errReply
	}
	if d == nil {
		return protocol.MakeIntReply(0)
	}
	return protocol.MakeIntReply(int64(d.Len()))
}

func execHKeys(db *DB, args [][]byte) redis.Reply {
	d, errReply := db.getAsDict(string(args[0]))
	if errReply != nil {
		return errReply
	}
	if d == nil {
		return protocol.MakeEmptyMultiBulkReply()
	}
	fields := make([][]byte, 0, d.Len())
	d.ForEach(func(field string, value []byte) bool {
		fields = append(fields, []byte(field))
		return true
	})
	return protocol.MakeMultiBulkReply(fields)
}

func execHVals(db *DB, args [][]byte) redis.Reply {
	d, errReply := db.getAsDict(string(args[0]))
	if errReply != nil {
		return errReply
	}
	if d == nil {
		return protocol.MakeEmptyMultiBulkReply()
	}
	values := make([][]byte, 0, d.Len())
	d.ForEach(func(field string, value []byte) bool {
		values = append(values, value)
		return true
	})
	return protocol.MakeMultiBulkReply(values)
}

func init() {
	registerCommand("HSet", execHSet, writeFirstKey, -4, flagWrite, "hash")
	registerCommand("HGet", execHGet, readFirstKey, 3, flagReadOnly, "hash")
	registerCommand("HDel", execHDel, writeFirstKey, -3, flagWrite, "hash")
	registerCommand("HGetAll", execHGetAll, readFirstKey, 2, flagReadOnly, "hash")
	registerCommand("HExists", execHExists, readFirstKey, 3, flagReadOnly, "hash")
	registerCommand("HLen", execHLen, readFirstKey, 2, flagReadOnly, "hash")
	registerCommand("HKeys", execHKeys, readFirstKey, 2, flagReadOnly, "hash")
	registerCommand("HVals", execHVals, readFirstKey, 2, flagReadOnly, "hash")
}
