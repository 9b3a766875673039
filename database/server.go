package database

import (
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/panjf2000/ants/v2"
	"github.com/rutin-db/rutin/acl"
	"github.com/rutin-db/rutin/aof"
	"github.com/rutin-db/rutin/config"
	"github.com/rutin-db/rutin/eviction"
	"github.com/rutin-db/rutin/interface/redis"
	"github.com/rutin-db/rutin/lib/logger"
	"github.com/rutin-db/rutin/pubsub"
	"github.com/rutin-db/rutin/redis/connection"
	"github.com/rutin-db/rutin/redis/protocol"
)

var rutinVersion = "0.1.0"

var commandsProcessed = metrics.NewCounter("rutin_commands_processed_total")

// Server is the standalone engine: the database array, the pub/sub hub, the
// ACL registry, the script store and the persistence and eviction machinery
type Server struct {
	dbSet []*DB

	hub      *pubsub.Hub
	registry *acl.Registry
	scripts  *scriptStore

	persister *aof.Persister
	evict     *evictor

	// runs the waiter side of async commands so handlers return at once
	workers *ants.Pool

	startTime time.Time
	closed    chan struct{}
	closeOnce sync.Once
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	return err == nil && !info.IsDir()
}

// NewStandaloneServer creates a server with every subsystem the
// configuration enables
func NewStandaloneServer() *Server {
	server := &Server{
		startTime: time.Now(),
		closed:    make(chan struct{}),
	}
	if config.Properties.Server.Databases <= 0 {
		config.Properties.Server.Databases = 16
	}
	server.dbSet = make([]*DB, config.Properties.Server.Databases)
	for i := range server.dbSet {
		db := makeDB()
		db.index = i
		server.dbSet[i] = db
	}
	server.hub = pubsub.MakeHub()
	server.registry = acl.MakeRegistry()
	server.scripts = makeScriptStore()

	workers, err := ants.NewPool(0, ants.WithNonblocking(false))
	if err != nil {
		panic(fmt.Errorf("init worker pool: %v", err))
	}
	server.workers = workers

	oom := config.Properties.Memory.OOM
	policy, err := eviction.MakePolicy(oom.MaxmemoryPolicy)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if oom.Maxmemory > 0 {
		server.evict = newEvictor(server.dbSet, policy, oom.Maxmemory, oom.MaxmemorySamplesCount)
		for _, db := range server.dbSet {
			db.reserve = server.evict.Reserve
		}
	}

	aofLoaded := false
	if config.Properties.AOF.Enable {
		aofLoaded = fileExists(config.Properties.AOF.FilePath)
		persister, err := aof.NewPersister(server, config.Properties.AOF.FilePath,
			config.Properties.AOF.AppendFsync, len(server.dbSet), func() aof.Engine {
				return MakeTempServer()
			})
		if err != nil {
			panic(err)
		}
		server.bindPersister(persister)
	}
	if !aofLoaded && fileExists(config.Properties.RDB.FilePath) {
		if err := server.loadRdbFile(); err != nil {
			logger.Errorf("load rdb: %v", err)
		}
	}

	server.startSweeper()
	return server
}

// MakeTempServer creates a bare engine without persistence, eviction or
// background tasks, used to replay the log during a rewrite and in tests
func MakeTempServer() *Server {
	server := &Server{
		startTime: time.Now(),
		closed:    make(chan struct{}),
	}
	databases := config.Properties.Server.Databases
	if databases <= 0 {
		databases = 16
	}
	server.dbSet = make([]*DB, databases)
	for i := range server.dbSet {
		db := makeDB()
		db.index = i
		server.dbSet[i] = db
	}
	server.hub = pubsub.MakeHub()
	server.registry = acl.MakeRegistry()
	server.scripts = makeScriptStore()
	workers, err := ants.NewPool(0, ants.WithNonblocking(false))
	if err != nil {
		panic(fmt.Errorf("init worker pool: %v", err))
	}
	server.workers = workers
	return server
}

func (server *Server) bindPersister(persister *aof.Persister) {
	server.persister = persister
	for _, db := range server.dbSet {
		index := db.index
		db.addAof = func(line CmdLine) {
			persister.AddAof(index, line)
		}
	}
}

// startSweeper runs the expiration sweeper on its configured interval
func (server *Server) startSweeper() {
	interval := config.Properties.Server.ExpireCheckIntervalSecs
	if interval <= 0 {
		interval = 1
	}
	samples := config.Properties.Memory.ExpirationEvict.SamplesCount
	go func() {
		ticker := time.NewTicker(time.Duration(interval) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, db := range server.dbSet {
					db.sweepExpired(samples)
				}
			case <-server.closed:
				return
			}
		}
	}()
}

// Exec routes one command line: connection and admin commands are handled
// here, keyspace commands go through ACL checks to the selected database
func (server *Server) Exec(c redis.Connection, cmdLine [][]byte) (result redis.Reply) {
	defer func() {
		if err := recover(); err != nil {
			logger.Warn(fmt.Sprintf("error occurs: %v\n%s", err, string(debug.Stack())))
			result = &protocol.UnknownErrReply{}
		}
	}()
	commandsProcessed.Inc()

	cmdName := strings.ToLower(string(cmdLine[0]))
	internal := c == nil || connection.IsFake(c)

	switch cmdName {
	case "ping":
		return Ping(cmdLine[1:])
	case "auth":
		return server.execAuth(c, cmdLine[1:])
	case "hello":
		return server.execHello(c, cmdLine[1:])
	case "quit":
		return &protocol.NoReply{}
	}
	if !internal && server.registry.RequiresAuth() && !c.IsAuthenticated() {
		return &protocol.NoAuthErrReply{}
	}

	var ac *acl.AccessController
	if !internal {
		ac = server.controllerOf(c)
		if ac == nil {
			return &protocol.NoAuthErrReply{}
		}
		if !ac.CanRunCommand(cmdName, GetCommandCategory(cmdName)) {
			return protocol.MakeNoPermErrReply(ac.User(), cmdName)
		}
	}

	switch cmdName {
	case "echo":
		if len(cmdLine) != 2 {
			return protocol.MakeArgNumErrReply("echo")
		}
		return protocol.MakeBulkReply(cmdLine[1])
	case "select":
		if len(cmdLine) != 2 {
			return protocol.MakeArgNumErrReply("select")
		}
		return execSelect(c, server, cmdLine[1:])
	case "client":
		return execClient(c, cmdLine[1:])
	case "reset":
		return server.execReset(c)
	case "subscribe":
		if len(cmdLine) < 2 {
			return protocol.MakeArgNumErrReply("subscribe")
		}
		if errReply := checkChannelPerm(ac, cmdLine[1:]); errReply != nil {
			return errReply
		}
		return pubsub.Subscribe(server.hub, c, cmdLine[1:])
	case "unsubscribe":
		return pubsub.UnSubscribe(server.hub, c, cmdLine[1:])
	case "psubscribe":
		if len(cmdLine) < 2 {
			return protocol.MakeArgNumErrReply("psubscribe")
		}
		if errReply := checkChannelPerm(ac, cmdLine[1:]); errReply != nil {
			return errReply
		}
		return pubsub.PSubscribe(server.hub, c, cmdLine[1:])
	case "punsubscribe":
		return pubsub.PUnSubscribe(server.hub, c, cmdLine[1:])
	case "publish":
		if len(cmdLine) != 3 {
			return protocol.MakeArgNumErrReply("publish")
		}
		if errReply := checkChannelPerm(ac, cmdLine[1:2]); errReply != nil {
			return errReply
		}
		return pubsub.Publish(server.hub, cmdLine[1:])
	case "pubsub":
		if len(cmdLine) < 2 {
			return protocol.MakeArgNumErrReply("pubsub")
		}
		return execPubSubInfo(server.hub, cmdLine[1:])
	case "eval":
		return server.execEval(c, cmdLine[1:])
	case "evalsha":
		return server.execEvalSha(c, cmdLine[1:])
	case "evalname":
		return server.execEvalName(c, cmdLine[1:])
	case "script":
		return server.execScript(cmdLine[1:])
	case "blpop", "brpop":
		return server.execBlockingPop(c, cmdName == "blpop", cmdLine[1:])
	case "blmove":
		return server.execBLMove(c, cmdLine[1:])
	case "nblpop":
		return server.execNBLPop(c, cmdLine[1:])
	case "info":
		return server.execInfo(cmdLine[1:])
	case "dbsize":
		db, errReply := server.selectDB(dbIndexOf(c))
		if errReply != nil {
			return errReply
		}
		return protocol.MakeIntReply(db.Len())
	case "flushdb":
		if len(cmdLine) != 1 {
			return protocol.MakeArgNumErrReply("flushdb")
		}
		return server.execFlushDB(dbIndexOf(c))
	case "flushall":
		return server.execFlushAll()
	case "config":
		return execConfig(cmdLine[1:])
	case "shutdown":
		return server.execShutdown()
	case "bgsave":
		return server.execBGSave()
	case "bgrewriteaof":
		return server.execBGRewriteAOF()
	}

	cmd, ok := cmdTable[cmdName]
	if !ok {
		return protocol.MakeErrReply("ERR unknown command '" + cmdName + "'")
	}
	if !validateArity(cmd.arity, cmdLine) {
		return protocol.MakeArgNumErrReply(cmdName)
	}
	if ac != nil {
		writeKeys, readKeys := cmd.prepare(cmdLine[1:])
		for _, key := range writeKeys {
			if !ac.CanWriteKey(key) {
				return protocol.MakeNoPermKeyErrReply(ac.User())
			}
		}
		for _, key := range readKeys {
			if !ac.CanReadKey(key) {
				return protocol.MakeNoPermKeyErrReply(ac.User())
			}
		}
	}
	db, errReply := server.selectDB(dbIndexOf(c))
	if errReply != nil {
		return errReply
	}
	return db.Exec(c, cmdLine)
}

func dbIndexOf(c redis.Connection) int {
	if c == nil {
		return 0
	}
	return c.GetDBIndex()
}

// controllerOf resolves the connection's compiled ACL rules
func (server *Server) controllerOf(c redis.Connection) *acl.AccessController {
	ac, ok := server.registry.GetUser(c.AuthUser())
	if !ok {
		return nil
	}
	return ac
}

func checkChannelPerm(ac *acl.AccessController, channels [][]byte) redis.Reply {
	if ac == nil {
		return nil
	}
	for _, raw := range channels {
		if !ac.CanUseChannel(string(raw)) {
			return protocol.MakeNoPermChannelErrReply(ac.User())
		}
	}
	return nil
}

func execPubSubInfo(hub *pubsub.Hub, args [][]byte) redis.Reply {
	switch strings.ToLower(string(args[0])) {
	case "channels":
		pattern := ""
		if len(args) > 1 {
			pattern = string(args[1])
		}
		channels := hub.Channels(pattern)
		result := make([][]byte, len(channels))
		for i, channel := range channels {
			result[i] = []byte(channel)
		}
		return protocol.MakeMultiBulkReply(result)
	case "numsub":
		pairs := make([]redis.Reply, 0, (len(args)-1)*2)
		for _, raw := range args[1:] {
			pairs = append(pairs,
				protocol.MakeBulkReply(raw),
				protocol.MakeIntReply(hub.NumSub(string(raw))))
		}
		return protocol.MakeMapReply(pairs)
	}
	return protocol.MakeErrReply("ERR Unknown PUBSUB subcommand or wrong number of arguments for '" + string(args[0]) + "'")
}

// AfterClientClose cleans what the closed connection left behind
func (server *Server) AfterClientClose(c redis.Connection) {
	pubsub.UnsubscribeAll(server.hub, c)
}

// Close shuts the engine down gracefully
func (server *Server) Close() {
	server.closeOnce.Do(func() {
		close(server.closed)
		if server.evict != nil {
			server.evict.close()
		}
		if server.persister != nil {
			server.persister.Close()
		}
		if server.workers != nil {
			server.workers.Release()
		}
	})
}

// IsBlockingCommand reports whether a command may suspend its handler, used
// by the event-loop transport to reject them
func (server *Server) IsBlockingCommand(cmdName string) bool {
	switch strings.ToLower(cmdName) {
	case "blpop", "brpop", "blmove", "subscribe", "psubscribe":
		return true
	}
	return false
}

func (server *Server) selectDB(dbIndex int) (*DB, protocol.ErrorReply) {
	if dbIndex >= len(server.dbSet) || dbIndex < 0 {
		return nil, protocol.MakeErrReply("ERR DB index is out of range")
	}
	return server.dbSet[dbIndex], nil
}

func (server *Server) mustSelectDB(dbIndex int) *DB {
	db, errReply := server.selectDB(dbIndex)
	if errReply != nil {
		panic(errReply)
	}
	return db
}

// ForEach visits every live entry of one database
func (server *Server) ForEach(dbIndex int, consumer func(key string, data interface{}, expireAt int64) bool) {
	server.mustSelectDB(dbIndex).ks.ForEach(func(entry *Entry) bool {
		return consumer(entry.Key(), entry.Data(), entry.ExpireAt())
	})
}

func execSelect(c redis.Connection, server *Server, args [][]byte) redis.Reply {
	dbIndex, err := parseInt(string(args[0]))
	if err != nil {
		return protocol.MakeErrReply("ERR invalid DB index")
	}
	if dbIndex >= len(server.dbSet) || dbIndex < 0 {
		return protocol.MakeErrReply("ERR DB index is out of range")
	}
	if c != nil {
		c.SelectDB(dbIndex)
	}
	return protocol.MakeOkReply()
}

func (server *Server) execFlushDB(dbIndex int) redis.Reply {
	db, errReply := server.selectDB(dbIndex)
	if errReply != nil {
		return errReply
	}
	db.Flush()
	db.addAof(CmdLine{[]byte("flushdb")})
	return protocol.MakeOkReply()
}

func (server *Server) execFlushAll() redis.Reply {
	for _, db := range server.dbSet {
		db.Flush()
	}
	server.dbSet[0].addAof(CmdLine{[]byte("flushall")})
	return protocol.MakeOkReply()
}

func (server *Server) execShutdown() redis.Reply {
	logger.Info("shutdown requested, closing server")
	if server.persister != nil {
		server.persister.Fsync()
	}
	server.Close()
	os.Exit(0)
	return protocol.MakeOkReply()
}

func (server *Server) execBGRewriteAOF() redis.Reply {
	if server.persister == nil {
		return protocol.MakeErrReply("ERR aof is disabled")
	}
	if err := server.workers.Submit(func() {
		if err := server.persister.Rewrite(); err != nil {
			logger.Errorf("aof rewrite: %v", err)
		}
	}); err != nil {
		return protocol.MakeErrReply("ERR " + err.Error())
	}
	return protocol.MakeStatusReply("Background append only file rewriting started")
}
