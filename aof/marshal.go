package aof

import (
	"strconv"

	"github.com/rutin-db/rutin/datastruct/dict"
	"github.com/rutin-db/rutin/datastruct/list"
	"github.com/rutin-db/rutin/redis/protocol"
)

// EntityToCmd serializes a stored value to the command that recreates it
func EntityToCmd(key string, data interface{}) *protocol.MultiBulkReply {
	switch val := data.(type) {
	case []byte:
		return stringToCmd(key, val)
	case *list.QuickList:
		return listToCmd(key, val)
	case *dict.SimpleDict:
		return hashToCmd(key, val)
	}
	return nil
}

var setCmd = []byte("SET")

func stringToCmd(key string, bytes []byte) *protocol.MultiBulkReply {
	args := make([][]byte, 3)
	args[0] = setCmd
	args[1] = []byte(key)
	args[2] = bytes
	return protocol.MakeMultiBulkReply(args)
}

var rPushCmd = []byte("RPUSH")

func listToCmd(key string, ql *list.QuickList) *protocol.MultiBulkReply {
	args := make([][]byte, 2+ql.Len())
	args[0] = rPushCmd
	args[1] = []byte(key)
	ql.ForEach(func(i int, val []byte) bool {
		args[2+i] = val
		return true
	})
	return protocol.MakeMultiBulkReply(args)
}

var hSetCmd = []byte("HSET")

func hashToCmd(key string, hash *dict.SimpleDict) *protocol.MultiBulkReply {
	args := make([][]byte, 2+hash.Len()*2)
	args[0] = hSetCmd
	args[1] = []byte(key)
	i := 0
	hash.ForEach(func(field string, val []byte) bool {
		args[2+i*2] = []byte(field)
		args[3+i*2] = val
		i++
		return true
	})
	return protocol.MakeMultiBulkReply(args)
}

var pExpireAtBytes = []byte("PEXPIREAT")

// MakeExpireCmd generates the command recording an absolute deadline, so
// replaying the log after a restart keeps the original expiration times
func MakeExpireCmd(key string, expireAt int64) *protocol.MultiBulkReply {
	args := make([][]byte, 3)
	args[0] = pExpireAtBytes
	args[1] = []byte(key)
	args[2] = []byte(strconv.FormatInt(expireAt, 10))
	return protocol.MakeMultiBulkReply(args)
}
