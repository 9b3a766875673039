package database

import (
	"strconv"
	"testing"
	"time"

	"github.com/rutin-db/rutin/lib/utils"
	"github.com/rutin-db/rutin/redis/protocol"
	"github.com/rutin-db/rutin/redis/protocol/asserts"
)

func TestSet(t *testing.T) {
	testDB.Flush()
	key := utils.RandString(10)
	value := utils.RandString(10)

	actual := testDB.Exec(nil, utils.ToCmdLine("set", key, value))
	asserts.AssertStatusReply(t, actual, "OK")
	actual = testDB.Exec(nil, utils.ToCmdLine("get", key))
	asserts.AssertBulkReply(t, actual, value)

	// NX on an existing key refuses
	actual = testDB.Exec(nil, utils.ToCmdLine("set", key, "other", "NX"))
	asserts.AssertNullBulk(t, actual)
	actual = testDB.Exec(nil, utils.ToCmdLine("get", key))
	asserts.AssertBulkReply(t, actual, value)

	// XX on a missing key refuses
	missing := utils.RandString(12)
	actual = testDB.Exec(nil, utils.ToCmdLine("set", missing, value, "XX"))
	asserts.AssertNullBulk(t, actual)
	actual = testDB.Exec(nil, utils.ToCmdLine("exists", missing))
	asserts.AssertIntReply(t, actual, 0)

	// GET returns the old value
	actual = testDB.Exec(nil, utils.ToCmdLine("set", key, "newval", "GET"))
	asserts.AssertBulkReply(t, actual, value)
	actual = testDB.Exec(nil, utils.ToCmdLine("get", key))
	asserts.AssertBulkReply(t, actual, "newval")
}

func TestSetEmptyValue(t *testing.T) {
	testDB.Flush()
	key := utils.RandString(10)
	testDB.Exec(nil, utils.ToCmdLine("set", key, ""))
	actual := testDB.Exec(nil, utils.ToCmdLine("get", key))
	bulkReply, ok := actual.(*protocol.BulkReply)
	if !ok {
		t.Errorf("expected bulk protocol, actually %s", actual.ToBytes())
		return
	}
	if bulkReply.Arg == nil || len(bulkReply.Arg) != 0 {
		t.Error("illegal empty string")
	}
}

func TestSetTTL(t *testing.T) {
	testDB.Flush()
	key := utils.RandString(10)

	actual := testDB.Exec(nil, utils.ToCmdLine("set", key, "v", "EX", "100"))
	asserts.AssertStatusReply(t, actual, "OK")
	actual = testDB.Exec(nil, utils.ToCmdLine("ttl", key))
	asserts.AssertIntReplyGreaterThan(t, actual, 90)

	// plain set clears the deadline
	testDB.Exec(nil, utils.ToCmdLine("set", key, "v2"))
	actual = testDB.Exec(nil, utils.ToCmdLine("ttl", key))
	asserts.AssertIntReply(t, actual, -1)

	// KEEPTTL preserves it
	testDB.Exec(nil, utils.ToCmdLine("set", key, "v", "EX", "100"))
	testDB.Exec(nil, utils.ToCmdLine("set", key, "v3", "KEEPTTL"))
	actual = testDB.Exec(nil, utils.ToCmdLine("ttl", key))
	asserts.AssertIntReplyGreaterThan(t, actual, 90)

	// PXAT with an absolute deadline
	at := time.Now().Add(time.Minute).UnixMilli()
	testDB.Exec(nil, utils.ToCmdLine("set", key, "v", "PXAT", strconv.FormatInt(at, 10)))
	actual = testDB.Exec(nil, utils.ToCmdLine("pttl", key))
	asserts.AssertIntReplyGreaterThan(t, actual, 50_000)
}

func TestSetNX(t *testing.T) {
	testDB.Flush()
	key := utils.RandString(10)
	actual := testDB.Exec(nil, utils.ToCmdLine("setnx", key, "a"))
	asserts.AssertIntReply(t, actual, 1)
	actual = testDB.Exec(nil, utils.ToCmdLine("setnx", key, "b"))
	asserts.AssertIntReply(t, actual, 0)
	actual = testDB.Exec(nil, utils.ToCmdLine("get", key))
	asserts.AssertBulkReply(t, actual, "a")
}

func TestGetSet(t *testing.T) {
	testDB.Flush()
	key := utils.RandString(10)
	actual := testDB.Exec(nil, utils.ToCmdLine("getset", key, "a"))
	asserts.AssertNullBulk(t, actual)
	actual = testDB.Exec(nil, utils.ToCmdLine("getset", key, "b"))
	asserts.AssertBulkReply(t, actual, "a")
	actual = testDB.Exec(nil, utils.ToCmdLine("get", key))
	asserts.AssertBulkReply(t, actual, "b")
}

func TestIncrDecr(t *testing.T) {
	testDB.Flush()
	key := utils.RandString(10)
	for i := 1; i <= 10; i++ {
		actual := testDB.Exec(nil, utils.ToCmdLine("incr", key))
		asserts.AssertIntReply(t, actual, i)
	}
	actual := testDB.Exec(nil, utils.ToCmdLine("incrby", key, "5"))
	asserts.AssertIntReply(t, actual, 15)
	actual = testDB.Exec(nil, utils.ToCmdLine("decrby", key, "10"))
	asserts.AssertIntReply(t, actual, 5)
	actual = testDB.Exec(nil, utils.ToCmdLine("decr", key))
	asserts.AssertIntReply(t, actual, 4)

	testDB.Exec(nil, utils.ToCmdLine("set", key, "not-a-number"))
	actual = testDB.Exec(nil, utils.ToCmdLine("incr", key))
	asserts.AssertErrReply(t, actual, "ERR value is not an integer or out of range")
}

func TestAppendStrLen(t *testing.T) {
	testDB.Flush()
	key := utils.RandString(10)
	actual := testDB.Exec(nil, utils.ToCmdLine("append", key, "hello"))
	asserts.AssertIntReply(t, actual, 5)
	actual = testDB.Exec(nil, utils.ToCmdLine("append", key, " world"))
	asserts.AssertIntReply(t, actual, 11)
	actual = testDB.Exec(nil, utils.ToCmdLine("strlen", key))
	asserts.AssertIntReply(t, actual, 11)
	actual = testDB.Exec(nil, utils.ToCmdLine("get", key))
	asserts.AssertBulkReply(t, actual, "hello world")
}

func TestMSetMGet(t *testing.T) {
	testDB.Flush()
	actual := testDB.Exec(nil, utils.ToCmdLine("mset", "k1", "a", "k2", "b", "k3", "c"))
	asserts.AssertStatusReply(t, actual, "OK")
	actual = testDB.Exec(nil, utils.ToCmdLine("mget", "k1", "missing", "k3"))
	multiBulk, ok := actual.(*protocol.MultiBulkReply)
	if !ok {
		t.Errorf("expected multi bulk protocol, actually %s", actual.ToBytes())
		return
	}
	if string(multiBulk.Args[0]) != "a" || multiBulk.Args[1] != nil || string(multiBulk.Args[2]) != "c" {
		t.Errorf("unexpected mget result %s", actual.ToBytes())
	}

	actual = testDB.Exec(nil, utils.ToCmdLine("mset", "k1", "a", "k2"))
	asserts.AssertErrReply(t, actual, "ERR wrong number of arguments for 'mset' command")
}

func TestGetRange(t *testing.T) {
	testDB.Flush()
	key := utils.RandString(10)
	testDB.Exec(nil, utils.ToCmdLine("set", key, "Hello World"))
	actual := testDB.Exec(nil, utils.ToCmdLine("getrange", key, "0", "4"))
	asserts.AssertBulkReply(t, actual, "Hello")
	actual = testDB.Exec(nil, utils.ToCmdLine("getrange", key, "-5", "-1"))
	asserts.AssertBulkReply(t, actual, "World")
	actual = testDB.Exec(nil, utils.ToCmdLine("getrange", key, "20", "30"))
	asserts.AssertBulkReply(t, actual, "")
}

func TestWrongTypeSet(t *testing.T) {
	testDB.Flush()
	key := utils.RandString(10)
	testDB.Exec(nil, utils.ToCmdLine("rpush", key, "a"))
	actual := testDB.Exec(nil, utils.ToCmdLine("get", key))
	if _, ok := actual.(*protocol.WrongTypeErrReply); !ok {
		t.Errorf("expected wrong type error, actually %s", actual.ToBytes())
	}
}
