package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rutin-db/rutin/config"
	"github.com/rutin-db/rutin/lib/utils"
	"github.com/rutin-db/rutin/redis/connection"
	"github.com/rutin-db/rutin/redis/protocol/asserts"
)

func TestAofRoundTrip(t *testing.T) {
	backup := *config.Properties
	defer func() { *config.Properties = backup }()
	dir := t.TempDir()
	config.Properties.AOF.Enable = true
	config.Properties.AOF.FilePath = filepath.Join(dir, "appendonly.aof")
	config.Properties.AOF.AppendFsync = "always"
	config.Properties.RDB.FilePath = filepath.Join(dir, "dump.rdb")

	writer := NewStandaloneServer()
	c := connection.NewFakeConn()
	defer c.Close()
	writer.Exec(c, utils.ToCmdLine("set", "s", "v"))
	writer.Exec(c, utils.ToCmdLine("set", "ttl", "v", "EX", "100"))
	writer.Exec(c, utils.ToCmdLine("rpush", "q", "a", "b"))
	writer.Exec(c, utils.ToCmdLine("hset", "h", "f", "v"))
	writer.Exec(c, utils.ToCmdLine("select", "1"))
	writer.Exec(c, utils.ToCmdLine("set", "other", "v"))
	writer.Close()

	reader := NewStandaloneServer()
	defer reader.Close()
	c2 := connection.NewFakeConn()
	defer c2.Close()
	actual := reader.Exec(c2, utils.ToCmdLine("get", "s"))
	asserts.AssertBulkReply(t, actual, "v")
	actual = reader.Exec(c2, utils.ToCmdLine("ttl", "ttl"))
	asserts.AssertIntReplyGreaterThan(t, actual, 90)
	actual = reader.Exec(c2, utils.ToCmdLine("lrange", "q", "0", "-1"))
	asserts.AssertMultiBulkReply(t, actual, []string{"a", "b"})
	actual = reader.Exec(c2, utils.ToCmdLine("hget", "h", "f"))
	asserts.AssertBulkReply(t, actual, "v")
	reader.Exec(c2, utils.ToCmdLine("select", "1"))
	actual = reader.Exec(c2, utils.ToCmdLine("get", "other"))
	asserts.AssertBulkReply(t, actual, "v")
}

func TestAofRewrite(t *testing.T) {
	backup := *config.Properties
	defer func() { *config.Properties = backup }()
	dir := t.TempDir()
	config.Properties.AOF.Enable = true
	config.Properties.AOF.FilePath = filepath.Join(dir, "appendonly.aof")
	config.Properties.AOF.AppendFsync = "always"
	config.Properties.RDB.FilePath = filepath.Join(dir, "dump.rdb")

	writer := NewStandaloneServer()
	c := connection.NewFakeConn()
	defer c.Close()
	// churn one key, the rewritten log keeps only the survivor
	for i := 0; i < 50; i++ {
		writer.Exec(c, utils.ToCmdLine("set", "churn", utils.RandString(8)))
	}
	writer.Exec(c, utils.ToCmdLine("set", "churn", "final"))
	writer.Exec(c, utils.ToCmdLine("set", "gone", "x"))
	writer.Exec(c, utils.ToCmdLine("del", "gone"))
	// the writer goroutine appends queued commands asynchronously, wait until
	// the file stops growing before measuring it
	sizeBefore := writer.persister.FileSize()
	for deadline := time.Now().Add(2 * time.Second); time.Now().Before(deadline); {
		time.Sleep(50 * time.Millisecond)
		size := writer.persister.FileSize()
		if size > 0 && size == sizeBefore {
			break
		}
		sizeBefore = size
	}
	if err := writer.persister.Rewrite(); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	sizeAfter := writer.persister.FileSize()
	if sizeAfter >= sizeBefore {
		t.Errorf("rewrite did not shrink the log: %d -> %d", sizeBefore, sizeAfter)
	}
	writer.Close()

	reader := NewStandaloneServer()
	defer reader.Close()
	c2 := connection.NewFakeConn()
	defer c2.Close()
	actual := reader.Exec(c2, utils.ToCmdLine("get", "churn"))
	asserts.AssertBulkReply(t, actual, "final")
	actual = reader.Exec(c2, utils.ToCmdLine("exists", "gone"))
	asserts.AssertIntReply(t, actual, 0)
}

func TestRdbSaveAndReload(t *testing.T) {
	backup := *config.Properties
	defer func() { *config.Properties = backup }()
	dir := t.TempDir()
	config.Properties.AOF.Enable = false
	config.Properties.RDB.FilePath = filepath.Join(dir, "dump.rdb")

	writer := NewStandaloneServer()
	c := connection.NewFakeConn()
	defer c.Close()
	writer.Exec(c, utils.ToCmdLine("set", "s", "v"))
	writer.Exec(c, utils.ToCmdLine("rpush", "q", "a"))
	writer.Exec(c, utils.ToCmdLine("set", "expired", "v", "PX", "10"))
	time.Sleep(30 * time.Millisecond)
	if err := writer.saveRdbFile(); err != nil {
		t.Fatalf("save: %v", err)
	}
	writer.Close()

	reader := NewStandaloneServer()
	defer reader.Close()
	c2 := connection.NewFakeConn()
	defer c2.Close()
	actual := reader.Exec(c2, utils.ToCmdLine("get", "s"))
	asserts.AssertBulkReply(t, actual, "v")
	actual = reader.Exec(c2, utils.ToCmdLine("lrange", "q", "0", "-1"))
	asserts.AssertMultiBulkReply(t, actual, []string{"a"})
	// records already past their deadline never come back
	actual = reader.Exec(c2, utils.ToCmdLine("exists", "expired"))
	asserts.AssertIntReply(t, actual, 0)
}
