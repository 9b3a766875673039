package asserts

import (
	"bytes"
	"testing"

	"github.com/rutin-db/rutin/interface/redis"
	"github.com/rutin-db/rutin/redis/protocol"
)

// AssertIntReply fails the test unless actual is the expected integer
func AssertIntReply(t *testing.T, actual redis.Reply, expected int) {
	t.Helper()
	reply, ok := actual.(*protocol.IntReply)
	if !ok {
		t.Errorf("expected int reply, actually %s", actual.ToBytes())
		return
	}
	if reply.Code != int64(expected) {
		t.Errorf("expected %d, actually %d", expected, reply.Code)
	}
}

// AssertIntReplyGreaterThan fails the test unless actual is an integer of at
// least the expected value
func AssertIntReplyGreaterThan(t *testing.T, actual redis.Reply, expected int) {
	t.Helper()
	reply, ok := actual.(*protocol.IntReply)
	if !ok {
		t.Errorf("expected int reply, actually %s", actual.ToBytes())
		return
	}
	if reply.Code < int64(expected) {
		t.Errorf("expected at least %d, actually %d", expected, reply.Code)
	}
}

// AssertBulkReply fails the test unless actual is the expected bulk string
func AssertBulkReply(t *testing.T, actual redis.Reply, expected string) {
	t.Helper()
	reply, ok := actual.(*protocol.BulkReply)
	if !ok {
		t.Errorf("expected bulk reply, actually %s", actual.ToBytes())
		return
	}
	if !bytes.Equal(reply.Arg, []byte(expected)) {
		t.Errorf("expected %s, actually %s", expected, actual.ToBytes())
	}
}

// AssertStatusReply fails the test unless actual is the expected status.
// Fixed-content replies like OkReply count as their status line.
func AssertStatusReply(t *testing.T, actual redis.Reply, expected string) {
	t.Helper()
	reply, ok := actual.(*protocol.StatusReply)
	if !ok {
		if bytes.Equal(actual.ToBytes(), protocol.MakeStatusReply(expected).ToBytes()) {
			return
		}
		t.Errorf("expected status reply, actually %s", actual.ToBytes())
		return
	}
	if reply.Status != expected {
		t.Errorf("expected %s, actually %s", expected, actual.ToBytes())
	}
}

// AssertErrReply fails the test unless actual is the expected error
func AssertErrReply(t *testing.T, actual redis.Reply, expected string) {
	t.Helper()
	reply, ok := actual.(protocol.ErrorReply)
	if !ok {
		if bytes.Equal(actual.ToBytes(), protocol.MakeErrReply(expected).ToBytes()) {
			return
		}
		t.Errorf("expected error reply, actually %s", actual.ToBytes())
		return
	}
	if reply.Error() != expected {
		t.Errorf("expected %s, actually %s", expected, actual.ToBytes())
	}
}

// AssertNotError fails the test when actual is an error reply
func AssertNotError(t *testing.T, actual redis.Reply) {
	t.Helper()
	if actual == nil {
		t.Error("result is nil")
		return
	}
	raw := actual.ToBytes()
	if len(raw) == 0 {
		t.Error("result is empty")
		return
	}
	if raw[0] == '-' {
		t.Errorf("result is an error reply %s", raw)
	}
}

// AssertNullBulk fails the test unless actual is a null bulk string
func AssertNullBulk(t *testing.T, actual redis.Reply) {
	t.Helper()
	if actual == nil {
		t.Error("result is nil")
		return
	}
	if !bytes.Equal(actual.ToBytes(), protocol.MakeNullBulkReply().ToBytes()) {
		t.Errorf("expected null bulk, actually %s", actual.ToBytes())
	}
}

// AssertMultiBulkReply fails the test unless actual holds exactly the
// expected elements in order
func AssertMultiBulkReply(t *testing.T, actual redis.Reply, expected []string) {
	t.Helper()
	reply, ok := actual.(*protocol.MultiBulkReply)
	if !ok {
		t.Errorf("expected multi bulk reply, actually %s", actual.ToBytes())
		return
	}
	if len(reply.Args) != len(expected) {
		t.Errorf("expected %d elements, actually %d", len(expected), len(reply.Args))
		return
	}
	for i, arg := range reply.Args {
		if string(arg) != expected[i] {
			t.Errorf("element %d: expected %s, actually %s", i, expected[i], arg)
		}
	}
}

// AssertMultiBulkReplySize fails the test unless actual holds the expected
// number of elements
func AssertMultiBulkReplySize(t *testing.T, actual redis.Reply, expected int) {
	t.Helper()
	reply, ok := actual.(*protocol.MultiBulkReply)
	if !ok {
		if expected == 0 &&
			bytes.Equal(actual.ToBytes(), protocol.MakeEmptyMultiBulkReply().ToBytes()) {
			return
		}
		t.Errorf("expected multi bulk reply, actually %s", actual.ToBytes())
		return
	}
	if len(reply.Args) != expected {
		t.Errorf("expected %d elements, actually %d", expected, len(reply.Args))
	}
}
