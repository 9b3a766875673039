package database

import (
	"time"

	"github.com/rutin-db/rutin/config"
	"github.com/rutin-db/rutin/interface/redis"
	"github.com/rutin-db/rutin/lib/logger"
	"github.com/rutin-db/rutin/rdb"
	"github.com/rutin-db/rutin/redis/protocol"
)

// loadRdbFile restores the keyspace from the configured snapshot. Runs
// before the server accepts connections, so records go straight into the
// shards. Records already past their deadline are skipped.
func (server *Server) loadRdbFile() error {
	now := time.Now().UnixMilli()
	return rdb.Load(config.Properties.RDB.FilePath, config.Properties.RDB.EnableChecksum,
		func(dbIndex int, key string, data interface{}, expireAt int64) error {
			db, errReply := server.selectDB(dbIndex)
			if errReply != nil {
				logger.Warnf("rdb record for unknown db %d dropped", dbIndex)
				return nil
			}
			if expireAt != 0 && expireAt <= now {
				return nil
			}
			db.ks.WithShardWrite(key, func() {
				entry := db.ks.Put(key, data)
				if expireAt != 0 {
					entry.setExpireAt(expireAt)
					db.expire.add(key, expireAt)
				}
			})
			return nil
		})
}

func (server *Server) saveRdbFile() error {
	return rdb.Save(config.Properties.RDB.FilePath, config.Properties.RDB.Version,
		config.Properties.RDB.EnableChecksum, len(server.dbSet), server.ForEach)
}

func (server *Server) execBGSave() redis.Reply {
	if config.Properties.RDB.FilePath == "" {
		return protocol.MakeErrReply("ERR rdb filename is not configured")
	}
	if err := server.workers.Submit(func() {
		if err := server.saveRdbFile(); err != nil {
			logger.Errorf("bgsave: %v", err)
		}
	}); err != nil {
		return protocol.MakeErrReply("ERR " + err.Error())
	}
	return protocol.MakeStatusReply("Background saving started")
}
