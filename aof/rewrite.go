package aof

import (
	"os"
	"strconv"

	"github.com/rutin-db/rutin/lib/logger"
	"github.com/rutin-db/rutin/lib/utils"
	"github.com/rutin-db/rutin/redis/protocol"
)

func (p *Persister) newRewritePersister() *Persister {
	return &Persister{
		db:          p.tmpDBMaker(),
		aofFilename: p.aofFilename,
		databases:   p.databases,
	}
}

// Rewrite compacts the log: a temporary engine is rebuilt from the current
// file, dumped as one command per value, and commands that arrived during
// the dump are appended from the rewrite buffer before the file swap.
func (p *Persister) Rewrite() error {
	tmpFile, fileSize, err := p.startRewrite()
	if err != nil {
		return err
	}

	tmpAof := p.newRewritePersister()
	tmpAof.LoadAof(fileSize)

	for i := 0; i < p.databases; i++ {
		data := protocol.MakeMultiBulkReply(utils.ToCmdLine("SELECT", strconv.Itoa(i))).ToBytes()
		if _, err := tmpFile.Write(data); err != nil {
			_ = tmpFile.Close()
			_ = os.Remove(tmpFile.Name())
			return err
		}
		tmpAof.db.ForEach(i, func(key string, data interface{}, expireAt int64) bool {
			if cmd := EntityToCmd(key, data); cmd != nil {
				_, _ = tmpFile.Write(cmd.ToBytes())
			}
			if expireAt != 0 {
				_, _ = tmpFile.Write(MakeExpireCmd(key, expireAt).ToBytes())
			}
			return true
		})
	}

	p.finishRewrite(tmpFile)
	return nil
}

func (p *Persister) startRewrite() (*os.File, int64, error) {
	p.pausingAof.Lock()
	defer p.pausingAof.Unlock()

	if err := p.aofFile.Sync(); err != nil {
		logger.Warn("aof fsync before rewrite failed")
		return nil, 0, err
	}
	fileInfo, err := os.Stat(p.aofFilename)
	if err != nil {
		return nil, 0, err
	}

	p.rewriteMu.Lock()
	p.rewriteBuffer = make(chan *payload, aofQueueSize)
	p.rewriteMu.Unlock()

	file, err := os.CreateTemp("", "aof-rewrite-*.aof")
	if err != nil {
		logger.Warn("tmp file create failed")
		return nil, 0, err
	}
	return file, fileInfo.Size(), nil
}

func (p *Persister) finishRewrite(tmpFile *os.File) {
	p.pausingAof.Lock()
	defer p.pausingAof.Unlock()

	p.rewriteMu.Lock()
	buffer := p.rewriteBuffer
	p.rewriteBuffer = nil
	p.rewriteMu.Unlock()

	currentDB := -1
loop:
	for {
		// the writer is paused, the buffer cannot grow anymore
		select {
		case pay := <-buffer:
			if pay.dbIndex != currentDB {
				data := protocol.MakeMultiBulkReply(utils.ToCmdLine("SELECT", strconv.Itoa(pay.dbIndex))).ToBytes()
				if _, err := tmpFile.Write(data); err != nil {
					logger.Warnf("aof rewrite: %v", err)
					continue
				}
				currentDB = pay.dbIndex
			}
			data := protocol.MakeMultiBulkReply(pay.cmdLine).ToBytes()
			if _, err := tmpFile.Write(data); err != nil {
				logger.Warnf("aof rewrite: %v", err)
			}
		default:
			break loop
		}
	}
	close(buffer)

	_ = p.aofFile.Close()
	_ = tmpFile.Close()
	if err := os.Rename(tmpFile.Name(), p.aofFilename); err != nil {
		logger.Errorf("aof rewrite rename: %v", err)
	}

	aofFile, err := os.OpenFile(p.aofFilename, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		panic(err)
	}
	p.aofFile = aofFile

	// re-select so the file agrees with the writer's notion of the current db
	data := protocol.MakeMultiBulkReply(utils.ToCmdLine("SELECT", strconv.Itoa(p.currentDB))).ToBytes()
	if _, err = p.aofFile.Write(data); err != nil {
		panic(err)
	}
}
