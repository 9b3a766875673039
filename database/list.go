package database

import (
	"strconv"
	"strings"

	"github.com/rutin-db/rutin/datastruct/list"
	"github.com/rutin-db/rutin/interface/redis"
	"github.com/rutin-db/rutin/lib/utils"
	"github.com/rutin-db/rutin/redis/protocol"
)

func (db *DB) getAsList(key string) (*list.QuickList, protocol.ErrorReply) {
	entry, ok := db.GetEntity(key)
	if !ok {
		return nil, nil
	}
	ql, ok := entry.Data().(*list.QuickList)
	if !ok {
		return nil, &protocol.WrongTypeErrReply{}
	}
	return ql, nil
}

func (db *DB) getOrInitList(key string) (*list.QuickList, protocol.ErrorReply) {
	ql, errReply := db.getAsList(key)
	if errReply != nil {
		return nil, errReply
	}
	if ql == nil {
		ql = list.Make()
		db.PutEntity(key, ql)
	}
	return ql, nil
}

// removeIfEmpty deletes the key once its list drained
func (db *DB) removeIfEmpty(key string, ql *list.QuickList) {
	if ql.Len() == 0 {
		db.Remove(key)
	}
}

func execLPush(db *DB, args [][]byte) redis.Reply {
	key := string(args[0])
	ql, errReply := db.getOrInitList(key)
	if errReply != nil {
		return errReply
	}
	for _, value := range args[1:] {
		ql.PushHead(value)
	}
	db.addAof(utils.ToCmdLine3("lpush", args...))
	return protocol.MakeIntReply(int64(ql.Len()))
}

func execRPush(db *DB, args [][]byte) redis.Reply {
	key := string(args[0])
	ql, errReply := db.getOrInitList(key)
	if errReply != nil {
		return errReply
	}
	for _, value := range args[1:] {
		ql.PushTail(value)
	}
	db.addAof(utils.ToCmdLine3("rpush", args...))
	return protocol.MakeIntReply(int64(ql.Len()))
}

func execLPop(db *DB, args [][]byte) redis.Reply {
	key := string(args[0])
	ql, errReply := db.getAsList(key)
	if errReply != nil {
		return errReply
	}
	if ql == nil || ql.Len() == 0 {
		return protocol.MakeNullBulkReply()
	}
	value := ql.PopHead()
	db.removeIfEmpty(key, ql)
	db.addAof(utils.ToCmdLine("lpop", key))
	return protocol.MakeBulkReply(value)
}

func execRPop(db *DB, args [][]byte) redis.Reply {
	key := string(args[0])
	ql, errReply := db.getAsList(key)
	if errReply != nil {
		return errReply
	}
	if ql == nil || ql.Len() == 0 {
		return protocol.MakeNullBulkReply()
	}
	value := ql.PopTail()
	db.removeIfEmpty(key, ql)
	db.addAof(utils.ToCmdLine("rpop", key))
	return protocol.MakeBulkReply(value)
}

// normalizeRange clamps redis style start/stop offsets to [0, size) and
// returns ok=false when the window is empty
func normalizeRange(start int64, stop int64, size int64) (int, int, bool) {
	if start < 0 {
		start += size
		if start < 0 {
			start = 0
		}
	}
	if stop < 0 {
		stop += size
	}
	if stop >= size {
		stop = size - 1
	}
	if size == 0 || start > stop {
		return 0, 0, false
	}
	return int(start), int(stop), true
}

func execLRange(db *DB, args [][]byte) redis.Reply {
	start, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return protocol.MakeErrReply("ERR value is not an integer or out of range")
	}
	stop, err := strconv.ParseInt(string(args[2]), 10, 64)
	if err != nil {
		return protocol.MakeErrReply("ERR value is not an integer or out of range")
	}
	ql, errReply := db.getAsList(string(args[0]))
	if errReply != nil {
		return errReply
	}
	if ql == nil {
		return protocol.MakeEmptyMultiBulkReply()
	}
	from, to, ok := normalizeRange(start, stop, int64(ql.Len()))
	if !ok {
		return protocol.MakeEmptyMultiBulkReply()
	}
	return protocol.MakeMultiBulkReply(ql.Range(from, to+1))
}

func execLLen(db *DB, args [][]byte) redis.Reply {
	ql, errReply := db.getAsList(string(args[0]))
	if errReply != nil {
		return errReply
	}
	if ql == nil {
		return protocol.MakeIntReply(0)
	}
	return protocol.MakeIntReply(int64(ql.Len()))
}

func execLIndex(db *DB, args [][]byte) redis.Reply {
	index, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return protocol.MakeErrReply("ERR value is not an integer or out of range")
	}
	ql, errReply := db.getAsList(string(args[0]))
	if errReply != nil {
		return errReply
	}
	if ql == nil {
		return protocol.MakeNullBulkReply()
	}
	size := int64(ql.Len())
	if index < 0 {
		index += size
	}
	if index < 0 || index >= size {
		return protocol.MakeNullBulkReply()
	}
	return protocol.MakeBulkReply(ql.Get(int(index)))
}

func execLSet(db *DB, args [][]byte) redis.Reply {
	index, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return protocol.MakeErrReply("ERR value is not an integer or out of range")
	}
	ql, errReply := db.getAsList(string(args[0]))
	if errReply != nil {
		return errReply
	}
	if ql == nil {
		return protocol.MakeErrReply("ERR no such key")
	}
	size := int64(ql.Len())
	if index < 0 {
		index += size
	}
	if index < 0 || index >= size {
		return protocol.MakeErrReply("ERR index out of range")
	}
	ql.Set(int(index), args[2])
	db.addAof(utils.ToCmdLine3("lset", args...))
	return protocol.MakeOkReply()
}

// lmove pops from one side of src and pushes onto one side of dest under the
// shard locks already held for both keys
func (db *DB) lmove(src string, dest string, srcLeft bool, destLeft bool) (value []byte, errReply protocol.ErrorReply) {
	srcList, errReply := db.getAsList(src)
	if errReply != nil {
		return nil, errReply
	}
	if srcList == nil || srcList.Len() == 0 {
		return nil, nil
	}
	// dest type check goes first so a wrong typed dest leaves src intact
	destList, errReply := db.getAsList(dest)
	if errReply != nil {
		return nil, errReply
	}
	if srcLeft {
		value = srcList.PopHead()
	} else {
		value = srcList.PopTail()
	}
	if destList == nil {
		destList = list.Make()
		db.PutEntity(dest, destList)
	}
	if destLeft {
		destList.PushHead(value)
	} else {
		destList.PushTail(value)
	}
	db.removeIfEmpty(src, srcList)
	return value, nil
}

func parseSide(raw []byte) (left bool, ok bool) {
	switch strings.ToUpper(string(raw)) {
	case "LEFT":
		return true, true
	case "RIGHT":
		return false, true
	}
	return false, false
}

func execLMove(db *DB, args [][]byte) redis.Reply {
	srcLeft, ok := parseSide(args[2])
	if !ok {
		return protocol.MakeSyntaxErrReply()
	}
	destLeft, ok := parseSide(args[3])
	if !ok {
		return protocol.MakeSyntaxErrReply()
	}
	value, errReply := db.lmove(string(args[0]), string(args[1]), srcLeft, destLeft)
	if errReply != nil {
		return errReply
	}
	if value == nil {
		return protocol.MakeNullBulkReply()
	}
	db.addAof(utils.ToCmdLine3("lmove", args...))
	return protocol.MakeBulkReply(value)
}

func prepareLMove(args [][]byte) ([]string, []string) {
	return []string{string(args[0]), string(args[1])}, nil
}

func init() {
	registerCommand("LPush", execLPush, writeFirstKey, -3, flagWrite, "list")
	registerCommand("RPush", execRPush, writeFirstKey, -3, flagWrite, "list")
	registerCommand("LPop", execLPop, writeFirstKey, 2, flagWrite, "list")
	registerCommand("RPop", execRPop, writeFirstKey, 2, flagWrite, "list")
	registerCommand("LRange", execLRange, readFirstKey, 4, flagReadOnly, "list")
	registerCommand("LLen", execLLen, readFirstKey, 2, flagReadOnly, "list")
	registerCommand("LIndex", execLIndex, readFirstKey, 3, flagReadOnly, "list")
	registerCommand("LSet", execLSet, writeFirstKey, 4, flagWrite, "list")
	registerCommand("LMove", execLMove, prepareLMove, 5, flagWrite, "list")
}
