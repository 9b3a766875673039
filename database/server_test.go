package database

import (
	"strings"
	"testing"

	"github.com/rutin-db/rutin/lib/utils"
	"github.com/rutin-db/rutin/redis/connection"
	"github.com/rutin-db/rutin/redis/protocol"
	"github.com/rutin-db/rutin/redis/protocol/asserts"
)

func TestPing(t *testing.T) {
	c := connection.NewFakeConn()
	defer c.Close()

	actual := testServer.Exec(c, utils.ToCmdLine("ping"))
	asserts.AssertStatusReply(t, actual, "PONG")
	actual = testServer.Exec(c, utils.ToCmdLine("ping", "hi"))
	asserts.AssertStatusReply(t, actual, "hi")
	actual = testServer.Exec(c, utils.ToCmdLine("ping", "a", "b"))
	asserts.AssertErrReply(t, actual, "ERR wrong number of arguments for 'ping' command")
}

func TestEcho(t *testing.T) {
	c := connection.NewFakeConn()
	defer c.Close()

	actual := testServer.Exec(c, utils.ToCmdLine("echo", "hello"))
	asserts.AssertBulkReply(t, actual, "hello")
	actual = testServer.Exec(c, utils.ToCmdLine("echo"))
	asserts.AssertErrReply(t, actual, "ERR wrong number of arguments for 'echo' command")
}

func TestSelect(t *testing.T) {
	c := connection.NewFakeConn()
	defer c.Close()

	actual := testServer.Exec(c, utils.ToCmdLine("select", "1"))
	asserts.AssertStatusReply(t, actual, "OK")
	if c.GetDBIndex() != 1 {
		t.Errorf("expected db index 1, got %d", c.GetDBIndex())
	}
	// writes land on the selected database only
	testServer.Exec(c, utils.ToCmdLine("set", "iso", "v"))
	actual = testServer.Exec(c, utils.ToCmdLine("dbsize"))
	asserts.AssertIntReply(t, actual, 1)
	testServer.Exec(c, utils.ToCmdLine("select", "0"))
	actual = testServer.Exec(c, utils.ToCmdLine("exists", "iso"))
	asserts.AssertIntReply(t, actual, 0)

	actual = testServer.Exec(c, utils.ToCmdLine("select", "99"))
	asserts.AssertErrReply(t, actual, "ERR DB index is out of range")
	actual = testServer.Exec(c, utils.ToCmdLine("select", "abc"))
	asserts.AssertErrReply(t, actual, "ERR invalid DB index")

	testServer.Exec(c, utils.ToCmdLine("select", "1"))
	testServer.Exec(c, utils.ToCmdLine("flushdb"))
}

func TestHello(t *testing.T) {
	c := connection.NewFakeConn()
	defer c.Close()

	actual := testServer.Exec(c, utils.ToCmdLine("hello", "3"))
	mapReply, ok := actual.(*protocol.MapReply)
	if !ok {
		t.Fatalf("expected map reply, actually %s", actual.ToBytes())
	}
	got := make(map[string]string)
	for i := 0; i+1 < len(mapReply.Pairs); i += 2 {
		field, ok := mapReply.Pairs[i].(*protocol.BulkReply)
		if !ok {
			continue
		}
		if value, ok := mapReply.Pairs[i+1].(*protocol.BulkReply); ok {
			got[string(field.Arg)] = string(value.Arg)
		}
	}
	if got["server"] != "rutin" || got["mode"] != "standalone" || got["role"] != "master" {
		t.Errorf("unexpected hello payload %v", got)
	}

	actual = testServer.Exec(c, utils.ToCmdLine("hello", "2"))
	asserts.AssertErrReply(t, actual, "NOPROTO unsupported protocol version")
}

func TestClientAndReset(t *testing.T) {
	c := connection.NewFakeConn()
	defer c.Close()

	actual := testServer.Exec(c, utils.ToCmdLine("client", "setname", "worker-1"))
	asserts.AssertStatusReply(t, actual, "OK")
	actual = testServer.Exec(c, utils.ToCmdLine("client", "getname"))
	asserts.AssertBulkReply(t, actual, "worker-1")
	actual = testServer.Exec(c, utils.ToCmdLine("client", "id"))
	asserts.AssertIntReply(t, actual, int(c.ID()))
	actual = testServer.Exec(c, utils.ToCmdLine("client", "tracking", "on"))
	asserts.AssertStatusReply(t, actual, "OK")
	if !c.IsTracking() {
		t.Error("expected tracking enabled")
	}

	testServer.Exec(c, utils.ToCmdLine("select", "2"))
	actual = testServer.Exec(c, utils.ToCmdLine("reset"))
	asserts.AssertStatusReply(t, actual, "RESET")
	if c.GetDBIndex() != 0 || c.IsTracking() || c.GetName() != "" {
		t.Error("reset left connection state behind")
	}
}

func TestUnknownCommand(t *testing.T) {
	c := connection.NewFakeConn()
	defer c.Close()

	actual := testServer.Exec(c, utils.ToCmdLine("frobnicate", "x"))
	asserts.AssertErrReply(t, actual, "ERR unknown command 'frobnicate'")
	actual = testServer.Exec(c, utils.ToCmdLine("get"))
	asserts.AssertErrReply(t, actual, "ERR wrong number of arguments for 'get' command")
}

func TestFlushDBAndFlushAll(t *testing.T) {
	c := connection.NewFakeConn()
	defer c.Close()

	testServer.Exec(c, utils.ToCmdLine("flushall"))
	testServer.Exec(c, utils.ToCmdLine("set", "k0", "v"))
	testServer.Exec(c, utils.ToCmdLine("select", "1"))
	testServer.Exec(c, utils.ToCmdLine("set", "k1", "v"))

	actual := testServer.Exec(c, utils.ToCmdLine("flushdb"))
	asserts.AssertStatusReply(t, actual, "OK")
	actual = testServer.Exec(c, utils.ToCmdLine("dbsize"))
	asserts.AssertIntReply(t, actual, 0)
	testServer.Exec(c, utils.ToCmdLine("select", "0"))
	actual = testServer.Exec(c, utils.ToCmdLine("dbsize"))
	asserts.AssertIntReply(t, actual, 1)

	actual = testServer.Exec(c, utils.ToCmdLine("flushall"))
	asserts.AssertStatusReply(t, actual, "OK")
	actual = testServer.Exec(c, utils.ToCmdLine("dbsize"))
	asserts.AssertIntReply(t, actual, 0)
}

func TestInfo(t *testing.T) {
	c := connection.NewFakeConn()
	defer c.Close()

	actual := testServer.Exec(c, utils.ToCmdLine("info"))
	verbatim, ok := actual.(*protocol.VerbatimReply)
	if !ok {
		t.Fatalf("expected verbatim reply, actually %s", actual.ToBytes())
	}
	body := string(verbatim.Body)
	for _, section := range []string{"# Server", "# Clients", "# Memory", "# Replication", "# Persistence", "# Stats", "# Keyspace"} {
		if !strings.Contains(body, section) {
			t.Errorf("info output misses %q", section)
		}
	}
	if !strings.Contains(body, "role:master") {
		t.Error("info output misses the default role")
	}

	actual = testServer.Exec(c, utils.ToCmdLine("info", "server"))
	verbatim, ok = actual.(*protocol.VerbatimReply)
	if !ok {
		t.Fatalf("expected verbatim reply, actually %s", actual.ToBytes())
	}
	body = string(verbatim.Body)
	if !strings.Contains(body, "# Server") || strings.Contains(body, "# Keyspace") {
		t.Errorf("section filter ignored, got %q", body)
	}
}

func TestConfigGetSet(t *testing.T) {
	c := connection.NewFakeConn()
	defer c.Close()

	actual := testServer.Exec(c, utils.ToCmdLine("config", "set", "memory.oom.maxmemory_policy", "allkeys-lru"))
	asserts.AssertStatusReply(t, actual, "OK")
	actual = testServer.Exec(c, utils.ToCmdLine("config", "get", "memory.oom.maxmemory_policy"))
	mapReply, ok := actual.(*protocol.MapReply)
	if !ok {
		t.Fatalf("expected map reply, actually %s", actual.ToBytes())
	}
	if len(mapReply.Pairs) != 2 {
		t.Fatalf("expected one pair, got %d entries", len(mapReply.Pairs))
	}
	value := mapReply.Pairs[1].(*protocol.BulkReply)
	if string(value.Arg) != "allkeys-lru" {
		t.Errorf("expected allkeys-lru, got %s", value.Arg)
	}
}
