package database

import (
	"testing"
	"time"

	"github.com/rutin-db/rutin/lib/utils"
	"github.com/rutin-db/rutin/redis/connection"
	"github.com/rutin-db/rutin/redis/protocol"
)

func TestMayUpdateFireOnce(t *testing.T) {
	hub := newEventHub()
	ch := make(chan struct{}, 1)
	hub.AddMayUpdate(ch)

	hub.FireMayUpdate()
	select {
	case <-ch:
	default:
		t.Fatal("waiter not woken")
	}
	// the registration is one-shot
	hub.FireMayUpdate()
	select {
	case <-ch:
		t.Fatal("waiter woken twice")
	default:
	}
	if !hub.Idle() {
		t.Error("hub should be idle after firing")
	}
}

func TestMayUpdateRemove(t *testing.T) {
	hub := newEventHub()
	ch := make(chan struct{}, 1)
	hub.AddMayUpdate(ch)
	hub.RemoveMayUpdate(ch)
	hub.FireMayUpdate()
	select {
	case <-ch:
		t.Fatal("removed waiter woken")
	default:
	}
}

func TestMayUpdateSharedChannel(t *testing.T) {
	hubA := newEventHub()
	hubB := newEventHub()
	ch := make(chan struct{}, 1)
	hubA.AddMayUpdate(ch)
	hubB.AddMayUpdate(ch)

	hubA.FireMayUpdate()
	hubB.FireMayUpdate()
	// capacity one, the second send is dropped instead of blocking
	<-ch
	select {
	case <-ch:
		t.Fatal("second notification should have been dropped")
	default:
	}
}

func TestIntentionLock(t *testing.T) {
	hub := newEventHub()
	if !hub.AcquireIntent(1) {
		t.Fatal("free lock refused")
	}
	if !hub.AcquireIntent(1) {
		t.Fatal("reentrant acquire refused")
	}
	if hub.AcquireIntent(2) {
		t.Fatal("held lock granted to another handler")
	}
	if hub.IntentTarget() != 1 {
		t.Errorf("expected owner 1, got %d", hub.IntentTarget())
	}

	resume2 := hub.AwaitIntent(2)
	resume3 := hub.AwaitIntent(3)
	hub.ReleaseIntent(1)
	// handover is FIFO
	select {
	case <-resume2:
	case <-time.After(time.Second):
		t.Fatal("first waiter not resumed")
	}
	select {
	case <-resume3:
		t.Fatal("second waiter resumed out of order")
	default:
	}
	if hub.IntentTarget() != 2 {
		t.Errorf("expected owner 2, got %d", hub.IntentTarget())
	}
	hub.ReleaseIntent(2)
	<-resume3
	hub.ReleaseIntent(3)
	if !hub.Idle() {
		t.Error("hub should be idle after the last release")
	}
}

func TestIntentionAbandon(t *testing.T) {
	hub := newEventHub()
	hub.AcquireIntent(1)
	resume2 := hub.AwaitIntent(2)
	resume3 := hub.AwaitIntent(3)
	hub.AbandonIntent(2, resume2)
	hub.ReleaseIntent(1)
	select {
	case <-resume3:
	case <-time.After(time.Second):
		t.Fatal("remaining waiter not resumed")
	}
	select {
	case <-resume2:
		t.Fatal("abandoned waiter resumed")
	default:
	}
}

func TestTrackingInvalidation(t *testing.T) {
	testDB.Flush()
	watcher := connection.NewFakeConn()
	defer watcher.Close()
	watcher.SetTracking(true)
	writer := connection.NewFakeConn()
	defer writer.Close()

	testDB.Exec(writer, utils.ToCmdLine("set", "watched", "v1"))
	testDB.Exec(watcher, utils.ToCmdLine("get", "watched"))

	testDB.Exec(writer, utils.ToCmdLine("set", "watched", "v2"))
	expected := protocol.MakePushReply([][]byte{
		[]byte("invalidate"), []byte("watched"),
	}).ToBytes()
	pushes := watcher.Pushes()
	if len(pushes) != 1 || !utils.BytesEquals(pushes[0], expected) {
		t.Fatalf("expected one invalidation frame, got %q", pushes)
	}

	// the registration is consumed by the first invalidation
	testDB.Exec(writer, utils.ToCmdLine("set", "watched", "v3"))
	if len(watcher.Pushes()) != 1 {
		t.Error("invalidation fired without a fresh read")
	}
}

func TestTrackingSkipsWriter(t *testing.T) {
	testDB.Flush()
	c := connection.NewFakeConn()
	defer c.Close()
	c.SetTracking(true)

	testDB.Exec(c, utils.ToCmdLine("set", "own", "v1"))
	testDB.Exec(c, utils.ToCmdLine("get", "own"))
	testDB.Exec(c, utils.ToCmdLine("set", "own", "v2"))
	if len(c.Pushes()) != 0 {
		t.Errorf("writer received its own invalidation: %q", c.Pushes())
	}
}
