package database

import (
	"testing"

	"github.com/rutin-db/rutin/lib/utils"
	"github.com/rutin-db/rutin/redis/connection"
	"github.com/rutin-db/rutin/redis/protocol"
	"github.com/rutin-db/rutin/redis/protocol/asserts"
)

func TestEvalReturnTypes(t *testing.T) {
	c := connection.NewFakeConn()
	defer c.Close()
	testServer.Exec(c, utils.ToCmdLine("flushall"))

	actual := testServer.Exec(c, utils.ToCmdLine("eval", "return 42", "0"))
	asserts.AssertIntReply(t, actual, 42)
	actual = testServer.Exec(c, utils.ToCmdLine("eval", "return 'hi'", "0"))
	asserts.AssertBulkReply(t, actual, "hi")
	actual = testServer.Exec(c, utils.ToCmdLine("eval", "return true", "0"))
	asserts.AssertIntReply(t, actual, 1)
	actual = testServer.Exec(c, utils.ToCmdLine("eval", "return false", "0"))
	asserts.AssertNullBulk(t, actual)
	actual = testServer.Exec(c, utils.ToCmdLine("eval", "return {1, 2, 'three'}", "0"))
	raw, ok := actual.(*protocol.MultiRawReply)
	if !ok {
		t.Fatalf("expected multi raw reply, actually %s", actual.ToBytes())
	}
	if len(raw.Replies) != 3 {
		t.Errorf("expected 3 items, got %d", len(raw.Replies))
	}
	actual = testServer.Exec(c, utils.ToCmdLine("eval", "return redis.status_reply('GOOD')", "0"))
	asserts.AssertStatusReply(t, actual, "GOOD")
	actual = testServer.Exec(c, utils.ToCmdLine("eval", "return redis.error_reply('custom failure')", "0"))
	asserts.AssertErrReply(t, actual, "custom failure")
}

func TestEvalKeysArgv(t *testing.T) {
	c := connection.NewFakeConn()
	defer c.Close()
	testServer.Exec(c, utils.ToCmdLine("flushall"))

	actual := testServer.Exec(c, utils.ToCmdLine("eval",
		"return {KEYS[1], KEYS[2], ARGV[1]}", "2", "ka", "kb", "va"))
	raw, ok := actual.(*protocol.MultiRawReply)
	if !ok {
		t.Fatalf("expected multi raw reply, actually %s", actual.ToBytes())
	}
	asserts.AssertBulkReply(t, raw.Replies[0], "ka")
	asserts.AssertBulkReply(t, raw.Replies[1], "kb")
	asserts.AssertBulkReply(t, raw.Replies[2], "va")

	actual = testServer.Exec(c, utils.ToCmdLine("eval", "return 1", "3", "only-two", "keys"))
	asserts.AssertErrReply(t, actual, "ERR Number of keys can't be greater than number of args")
}

func TestEvalRedisCall(t *testing.T) {
	c := connection.NewFakeConn()
	defer c.Close()
	testServer.Exec(c, utils.ToCmdLine("flushall"))

	actual := testServer.Exec(c, utils.ToCmdLine("eval",
		"redis.call('set', KEYS[1], ARGV[1]) return redis.call('get', KEYS[1])",
		"1", "sk", "sv"))
	asserts.AssertBulkReply(t, actual, "sv")

	// a missing key reads back as false
	actual = testServer.Exec(c, utils.ToCmdLine("eval",
		"local v = redis.call('get', KEYS[1]) if v == false then return 'absent' end return v",
		"1", "missing"))
	asserts.AssertBulkReply(t, actual, "absent")

	// counters flow through as numbers
	actual = testServer.Exec(c, utils.ToCmdLine("eval",
		"local n = redis.call('incr', KEYS[1]) return n + 1", "1", "counter"))
	asserts.AssertIntReply(t, actual, 2)
}

func TestEvalPCall(t *testing.T) {
	c := connection.NewFakeConn()
	defer c.Close()
	testServer.Exec(c, utils.ToCmdLine("flushall"))
	testServer.Exec(c, utils.ToCmdLine("rpush", "lk", "x"))

	actual := testServer.Exec(c, utils.ToCmdLine("eval",
		"local r = redis.pcall('get', KEYS[1]) if r.err then return 'caught' end return r",
		"1", "lk"))
	asserts.AssertBulkReply(t, actual, "caught")

	// call raises where pcall returned the error table
	actual = testServer.Exec(c, utils.ToCmdLine("eval",
		"return redis.call('get', KEYS[1])", "1", "lk"))
	if !protocol.IsErrorReply(actual) {
		t.Errorf("expected script error, actually %s", actual.ToBytes())
	}

	actual = testServer.Exec(c, utils.ToCmdLine("eval", "this is not lua", "0"))
	if !protocol.IsErrorReply(actual) {
		t.Errorf("expected compile error, actually %s", actual.ToBytes())
	}
}

func TestScriptStore(t *testing.T) {
	c := connection.NewFakeConn()
	defer c.Close()
	testServer.Exec(c, utils.ToCmdLine("flushall"))
	testServer.Exec(c, utils.ToCmdLine("script", "flush"))

	src := "return 7"
	actual := testServer.Exec(c, utils.ToCmdLine("script", "load", src))
	bulk, ok := actual.(*protocol.BulkReply)
	if !ok {
		t.Fatalf("expected bulk sha, actually %s", actual.ToBytes())
	}
	sha := string(bulk.Arg)
	if sha != scriptSha(src) {
		t.Errorf("unexpected sha %s", sha)
	}

	actual = testServer.Exec(c, utils.ToCmdLine("script", "exists", sha, "deadbeef"))
	raw, ok := actual.(*protocol.MultiRawReply)
	if !ok {
		t.Fatalf("expected multi raw reply, actually %s", actual.ToBytes())
	}
	asserts.AssertIntReply(t, raw.Replies[0], 1)
	asserts.AssertIntReply(t, raw.Replies[1], 0)

	actual = testServer.Exec(c, utils.ToCmdLine("evalsha", sha, "0"))
	asserts.AssertIntReply(t, actual, 7)
	actual = testServer.Exec(c, utils.ToCmdLine("evalsha", "deadbeef", "0"))
	asserts.AssertErrReply(t, actual, "NOSCRIPT No matching script. Please use EVAL.")

	actual = testServer.Exec(c, utils.ToCmdLine("script", "register", "lucky", "return 9"))
	asserts.AssertNotError(t, actual)
	actual = testServer.Exec(c, utils.ToCmdLine("evalname", "lucky", "0"))
	asserts.AssertIntReply(t, actual, 9)
	actual = testServer.Exec(c, utils.ToCmdLine("evalname", "unknown", "0"))
	asserts.AssertErrReply(t, actual, "NOSCRIPT No script registered under that name. Please use SCRIPT REGISTER.")

	actual = testServer.Exec(c, utils.ToCmdLine("script", "flush"))
	asserts.AssertStatusReply(t, actual, "OK")
	actual = testServer.Exec(c, utils.ToCmdLine("evalsha", sha, "0"))
	asserts.AssertErrReply(t, actual, "NOSCRIPT No matching script. Please use EVAL.")
}

func TestEvalDuplicateKeys(t *testing.T) {
	c := connection.NewFakeConn()
	defer c.Close()
	testServer.Exec(c, utils.ToCmdLine("flushall"))

	// the same key declared twice must not deadlock the intent claim
	actual := testServer.Exec(c, utils.ToCmdLine("eval",
		"redis.call('set', KEYS[1], 'v') return redis.call('get', KEYS[2])",
		"2", "dup", "dup"))
	asserts.AssertBulkReply(t, actual, "v")
}
