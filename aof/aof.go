package aof

import (
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rutin-db/rutin/interface/redis"
	"github.com/rutin-db/rutin/lib/logger"
	"github.com/rutin-db/rutin/lib/utils"
	"github.com/rutin-db/rutin/redis/connection"
	"github.com/rutin-db/rutin/redis/parser"
	"github.com/rutin-db/rutin/redis/protocol"
)

// CmdLine is alias for [][]byte, represents a command line
type CmdLine = [][]byte

const (
	aofQueueSize = 1 << 16

	// FsyncAlways syncs the file after every command
	FsyncAlways = "always"
	// FsyncEverySec syncs the file once a second
	FsyncEverySec = "everysec"
	// FsyncNo leaves syncing to the operating system
	FsyncNo = "no"
)

type payload struct {
	cmdLine CmdLine
	dbIndex int
}

// Engine is the command executor the persister replays the log into and
// dumps databases from during a rewrite
type Engine interface {
	Exec(c redis.Connection, cmdLine [][]byte) redis.Reply
	ForEach(dbIndex int, consumer func(key string, data interface{}, expireAt int64) bool)
}

// Persister receives mutating commands over a channel and appends them to
// the log file, so command handlers never wait on disk
type Persister struct {
	db          Engine
	tmpDBMaker  func() Engine
	aofChan     chan *payload
	aofFile     *os.File
	aofFilename string
	aofFsync    string
	databases   int

	// the writer goroutine signals here after draining the channel
	aofFinished chan struct{}
	// held for writing while a rewrite swaps files
	pausingAof sync.RWMutex
	// commands arriving during a rewrite, replayed onto the tmp file
	rewriteBuffer chan *payload
	rewriteMu     sync.Mutex
	currentDB     int

	closed chan struct{}
}

// NewPersister loads the existing log into db, then opens the file for
// appending and starts the writer goroutine
func NewPersister(db Engine, filename string, fsync string, databases int, tmpDBMaker func() Engine) (*Persister, error) {
	p := &Persister{
		db:          db,
		tmpDBMaker:  tmpDBMaker,
		aofFilename: filename,
		aofFsync:    fsync,
		databases:   databases,
	}
	p.LoadAof(0)
	aofFile, err := os.OpenFile(p.aofFilename, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	p.aofFile = aofFile
	p.aofChan = make(chan *payload, aofQueueSize)
	p.aofFinished = make(chan struct{})
	p.closed = make(chan struct{})
	go p.handleAof()
	if p.aofFsync == FsyncEverySec {
		go p.fsyncEverySecond()
	}
	return p, nil
}

// AddAof hands a command to the writer goroutine
func (p *Persister) AddAof(dbIndex int, cmdLine CmdLine) {
	if p.aofChan == nil {
		return
	}
	p.aofChan <- &payload{
		cmdLine: cmdLine,
		dbIndex: dbIndex,
	}
}

func (p *Persister) handleAof() {
	p.currentDB = 0
	for pay := range p.aofChan {
		p.pausingAof.RLock()
		p.feedRewriteBuffer(pay)
		if pay.dbIndex != p.currentDB {
			data := protocol.MakeMultiBulkReply(utils.ToCmdLine("SELECT", strconv.Itoa(pay.dbIndex))).ToBytes()
			if _, err := p.aofFile.Write(data); err != nil {
				logger.Warnf("aof write: %v", err)
				p.pausingAof.RUnlock()
				continue
			}
			p.currentDB = pay.dbIndex
		}
		data := protocol.MakeMultiBulkReply(pay.cmdLine).ToBytes()
		if _, err := p.aofFile.Write(data); err != nil {
			logger.Warnf("aof write: %v", err)
		}
		if p.aofFsync == FsyncAlways {
			if err := p.aofFile.Sync(); err != nil {
				logger.Warnf("aof fsync: %v", err)
			}
		}
		p.pausingAof.RUnlock()
	}
	p.aofFinished <- struct{}{}
}

func (p *Persister) feedRewriteBuffer(pay *payload) {
	p.rewriteMu.Lock()
	defer p.rewriteMu.Unlock()
	if p.rewriteBuffer == nil {
		return
	}
	select {
	case p.rewriteBuffer <- pay:
	default:
		// the rewrite fell too far behind, it will restart from a fresh dump
		logger.Warn("aof rewrite buffer full, dropping command from rewrite view")
	}
}

func (p *Persister) fsyncEverySecond() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.pausingAof.RLock()
			if err := p.aofFile.Sync(); err != nil {
				logger.Warnf("aof fsync: %v", err)
			}
			p.pausingAof.RUnlock()
		case <-p.closed:
			return
		}
	}
}

// LoadAof replays the log file into the engine. maxBytes limits how much of
// the file is read, 0 means the whole file.
func (p *Persister) LoadAof(maxBytes int64) {
	// writes must not re-enter the channel while replaying
	aofChan := p.aofChan
	p.aofChan = nil
	defer func() {
		p.aofChan = aofChan
	}()

	file, err := os.Open(p.aofFilename)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		logger.Warnf("aof open: %v", err)
		return
	}
	defer file.Close()

	var reader io.Reader = file
	if maxBytes > 0 {
		reader = io.LimitReader(file, maxBytes)
	}
	ch := parser.ParseStream(reader)
	// carries the selected database index across replayed commands
	fakeConn := connection.NewFakeConn()
	defer fakeConn.Close()
	for pay := range ch {
		if pay.Err != nil {
			if pay.Err == io.EOF {
				break
			}
			logger.Errorf("aof parse: %v", pay.Err)
			continue
		}
		if pay.Data == nil {
			logger.Error("aof: empty payload")
			continue
		}
		r, ok := pay.Data.(*protocol.MultiBulkReply)
		if !ok {
			logger.Error("aof: require multi bulk reply")
			continue
		}
		ret := p.db.Exec(fakeConn, r.Args)
		if protocol.IsErrorReply(ret) {
			logger.Errorf("aof replay: %s", string(ret.ToBytes()))
		}
	}
}

// FileSize returns the current size of the log file
func (p *Persister) FileSize() int64 {
	info, err := os.Stat(p.aofFilename)
	if err != nil {
		return 0
	}
	return info.Size()
}

// Fsync flushes the log to disk
func (p *Persister) Fsync() {
	p.pausingAof.Lock()
	defer p.pausingAof.Unlock()
	if err := p.aofFile.Sync(); err != nil {
		logger.Warnf("aof fsync: %v", err)
	}
}

// Close drains the channel, syncs and closes the file
func (p *Persister) Close() {
	if p.aofFile != nil {
		close(p.aofChan)
		<-p.aofFinished
		if err := p.aofFile.Close(); err != nil {
			logger.Warnf("aof close: %v", err)
		}
	}
	close(p.closed)
}
