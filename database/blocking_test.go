package database

import (
	"strconv"
	"testing"
	"time"

	"github.com/rutin-db/rutin/lib/utils"
	"github.com/rutin-db/rutin/redis/connection"
	"github.com/rutin-db/rutin/redis/protocol"
	"github.com/rutin-db/rutin/redis/protocol/asserts"
)

func TestBLPopImmediate(t *testing.T) {
	c := connection.NewFakeConn()
	defer c.Close()
	testServer.Exec(c, utils.ToCmdLine("flushall"))
	testServer.Exec(c, utils.ToCmdLine("rpush", "bq", "a", "b"))

	actual := testServer.Exec(c, utils.ToCmdLine("blpop", "bq", "1"))
	asserts.AssertMultiBulkReply(t, actual, []string{"bq", "a"})
	actual = testServer.Exec(c, utils.ToCmdLine("brpop", "empty", "bq", "1"))
	asserts.AssertMultiBulkReply(t, actual, []string{"bq", "b"})
}

func TestBLPopWake(t *testing.T) {
	c := connection.NewFakeConn()
	defer c.Close()
	testServer.Exec(c, utils.ToCmdLine("flushall"))

	go func() {
		time.Sleep(50 * time.Millisecond)
		pusher := connection.NewFakeConn()
		defer pusher.Close()
		testServer.Exec(pusher, utils.ToCmdLine("rpush", "bq", "late"))
	}()
	start := time.Now()
	actual := testServer.Exec(c, utils.ToCmdLine("blpop", "bq", "5"))
	asserts.AssertMultiBulkReply(t, actual, []string{"bq", "late"})
	if time.Since(start) > 3*time.Second {
		t.Error("wakeup took the timeout path")
	}
}

func TestBLPopTimeout(t *testing.T) {
	c := connection.NewFakeConn()
	defer c.Close()
	testServer.Exec(c, utils.ToCmdLine("flushall"))

	actual := testServer.Exec(c, utils.ToCmdLine("blpop", "bq", "0.05"))
	if _, ok := actual.(*protocol.NullReply); !ok {
		t.Errorf("expected null reply on timeout, actually %s", actual.ToBytes())
	}

	actual = testServer.Exec(c, utils.ToCmdLine("blpop", "bq", "not-a-float"))
	asserts.AssertErrReply(t, actual, "ERR timeout is not a float or out of range")
}

func TestBLMove(t *testing.T) {
	c := connection.NewFakeConn()
	defer c.Close()
	testServer.Exec(c, utils.ToCmdLine("flushall"))

	go func() {
		time.Sleep(50 * time.Millisecond)
		pusher := connection.NewFakeConn()
		defer pusher.Close()
		testServer.Exec(pusher, utils.ToCmdLine("rpush", "bsrc", "x"))
	}()
	actual := testServer.Exec(c, utils.ToCmdLine("blmove", "bsrc", "bdst", "LEFT", "RIGHT", "5"))
	asserts.AssertBulkReply(t, actual, "x")
	actual = testServer.Exec(c, utils.ToCmdLine("lrange", "bdst", "0", "-1"))
	asserts.AssertMultiBulkReply(t, actual, []string{"x"})

	actual = testServer.Exec(c, utils.ToCmdLine("blmove", "bsrc", "bdst", "LEFT", "RIGHT", "0.05"))
	if _, ok := actual.(*protocol.NullReply); !ok {
		t.Errorf("expected null reply on timeout, actually %s", actual.ToBytes())
	}
}

func TestNBLPopImmediate(t *testing.T) {
	c := connection.NewFakeConn()
	defer c.Close()
	testServer.Exec(c, utils.ToCmdLine("flushall"))
	testServer.Exec(c, utils.ToCmdLine("rpush", "nq", "now"))

	actual := testServer.Exec(c, utils.ToCmdLine("nblpop", "nq", "1"))
	asserts.AssertMultiBulkReply(t, actual, []string{"nq", "now"})
}

func TestNBLPopAsync(t *testing.T) {
	c := connection.NewFakeConn()
	defer c.Close()
	testServer.Exec(c, utils.ToCmdLine("flushall"))

	actual := testServer.Exec(c, utils.ToCmdLine("nblpop", "nq", "5"))
	asserts.AssertStatusReply(t, actual, "OK")

	testServer.Exec(c, utils.ToCmdLine("rpush", "nq", "later"))
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(c.Pushes()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	pushes := c.Pushes()
	if len(pushes) != 1 {
		t.Fatalf("expected one push frame, got %d", len(pushes))
	}
	expected := protocol.MakePushReply([][]byte{
		[]byte("nblpop"), []byte("nq"), []byte("later"),
	}).ToBytes()
	if !utils.BytesEquals(pushes[0], expected) {
		t.Errorf("unexpected push frame %q", pushes[0])
	}
}

func TestNBLPopRedirect(t *testing.T) {
	c := connection.NewFakeConn()
	defer c.Close()
	receiver := connection.NewFakeConn()
	defer receiver.Close()
	testServer.Exec(c, utils.ToCmdLine("flushall"))

	actual := testServer.Exec(c, utils.ToCmdLine("nblpop", "rq", "REDIRECT", "bogus", "5"))
	asserts.AssertErrReply(t, actual, "ERR invalid redirect id")

	actual = testServer.Exec(c, utils.ToCmdLine("nblpop",
		"rq", "REDIRECT", strconv.FormatInt(receiver.ID(), 10), "5"))
	asserts.AssertStatusReply(t, actual, "OK")

	testServer.Exec(c, utils.ToCmdLine("rpush", "rq", "routed"))
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(receiver.Pushes()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(receiver.Pushes()) != 1 {
		t.Fatalf("expected one redirected push, got %d", len(receiver.Pushes()))
	}
	if len(c.Pushes()) != 0 {
		t.Errorf("push landed on the requesting connection")
	}
}
