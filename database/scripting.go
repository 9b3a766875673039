package database

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rutin-db/rutin/interface/redis"
	"github.com/rutin-db/rutin/redis/connection"
	"github.com/rutin-db/rutin/redis/protocol"
	lua "github.com/yuin/gopher-lua"
)

// scriptStore keeps loaded script sources by sha1 and registered names
type scriptStore struct {
	bySha  *xsync.MapOf[string, string]
	byName *xsync.MapOf[string, string] // name -> sha
}

func makeScriptStore() *scriptStore {
	return &scriptStore{
		bySha:  xsync.NewMapOf[string, string](),
		byName: xsync.NewMapOf[string, string](),
	}
}

func scriptSha(src string) string {
	sum := sha1.Sum([]byte(src))
	return hex.EncodeToString(sum[:])
}

func (s *scriptStore) load(src string) string {
	sha := scriptSha(src)
	s.bySha.Store(sha, src)
	return sha
}

// execScript handles the SCRIPT subcommands of the store
func (server *Server) execScript(args [][]byte) redis.Reply {
	if len(args) == 0 {
		return protocol.MakeArgNumErrReply("script")
	}
	switch strings.ToUpper(string(args[0])) {
	case "LOAD":
		if len(args) != 2 {
			return protocol.MakeArgNumErrReply("script|load")
		}
		sha := server.scripts.load(string(args[1]))
		return protocol.MakeBulkReply([]byte(sha))
	case "EXISTS":
		if len(args) < 2 {
			return protocol.MakeArgNumErrReply("script|exists")
		}
		result := make([]redis.Reply, 0, len(args)-1)
		for _, raw := range args[1:] {
			if _, ok := server.scripts.bySha.Load(strings.ToLower(string(raw))); ok {
				result = append(result, protocol.MakeIntReply(1))
			} else {
				result = append(result, protocol.MakeIntReply(0))
			}
		}
		return protocol.MakeMultiRawReply(result)
	case "FLUSH":
		server.scripts.bySha.Clear()
		server.scripts.byName.Clear()
		return protocol.MakeOkReply()
	case "REGISTER":
		if len(args) != 3 {
			return protocol.MakeArgNumErrReply("script|register")
		}
		sha := server.scripts.load(string(args[2]))
		server.scripts.byName.Store(string(args[1]), sha)
		return protocol.MakeBulkReply([]byte(sha))
	}
	return protocol.MakeErrReply("ERR Unknown SCRIPT subcommand '" + string(args[0]) + "'")
}

func splitScriptArgs(args [][]byte) (keys []string, argv [][]byte, errReply redis.Reply) {
	numKeys, err := strconv.Atoi(string(args[1]))
	if err != nil || numKeys < 0 {
		return nil, nil, protocol.MakeErrReply("ERR value is not an integer or out of range")
	}
	if len(args)-2 < numKeys {
		return nil, nil, protocol.MakeErrReply("ERR Number of keys can't be greater than number of args")
	}
	keys = make([]string, numKeys)
	for i := 0; i < numKeys; i++ {
		keys[i] = string(args[2+i])
	}
	return keys, args[2+numKeys:], nil
}

// execEval runs a script source directly
func (server *Server) execEval(c redis.Connection, args [][]byte) redis.Reply {
	if len(args) < 2 {
		return protocol.MakeArgNumErrReply("eval")
	}
	keys, argv, errReply := splitScriptArgs(args)
	if errReply != nil {
		return errReply
	}
	return server.evalGeneric(c, string(args[0]), keys, argv)
}

// execEvalSha runs a script loaded earlier by its sha1
func (server *Server) execEvalSha(c redis.Connection, args [][]byte) redis.Reply {
	if len(args) < 2 {
		return protocol.MakeArgNumErrReply("evalsha")
	}
	src, ok := server.scripts.bySha.Load(strings.ToLower(string(args[0])))
	if !ok {
		return protocol.MakeErrReply("NOSCRIPT No matching script. Please use EVAL.")
	}
	keys, argv, errReply := splitScriptArgs(args)
	if errReply != nil {
		return errReply
	}
	return server.evalGeneric(c, src, keys, argv)
}

// execEvalName runs a script registered under a symbolic name
func (server *Server) execEvalName(c redis.Connection, args [][]byte) redis.Reply {
	if len(args) < 2 {
		return protocol.MakeArgNumErrReply("evalname")
	}
	sha, ok := server.scripts.byName.Load(string(args[0]))
	if !ok {
		return protocol.MakeErrReply("NOSCRIPT No script registered under that name. Please use SCRIPT REGISTER.")
	}
	src, ok := server.scripts.bySha.Load(sha)
	if !ok {
		return protocol.MakeErrReply("NOSCRIPT No matching script. Please use EVAL.")
	}
	keys, argv, errReply := splitScriptArgs(args)
	if errReply != nil {
		return errReply
	}
	return server.evalGeneric(c, src, keys, argv)
}

// evalGeneric claims an intention lock on every declared key, runs the script
// on a fresh interpreter and hands the locks over to the next waiters. While
// the locks are held, writers of the declared keys queue up, so the script
// observes and produces an isolated view of them.
func (server *Server) evalGeneric(c redis.Connection, src string, keys []string, argv [][]byte) redis.Reply {
	if c == nil {
		fake := connection.NewFakeConn()
		defer fake.Close()
		c = fake
	}
	connID := c.ID()
	db, errReply := server.selectDB(dbIndexOf(c))
	if errReply != nil {
		return errReply
	}

	locked := dedupSorted(db, keys)
	for _, key := range locked {
		db.claimIntent(key, connID)
	}
	defer func() {
		for i := len(locked) - 1; i >= 0; i-- {
			db.releaseIntent(locked[i], connID)
		}
	}()

	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	defer L.Close()

	keysTable := L.NewTable()
	for i, key := range keys {
		L.RawSetInt(keysTable, i+1, lua.LString(key))
	}
	L.SetGlobal("KEYS", keysTable)
	argvTable := L.NewTable()
	for i, arg := range argv {
		L.RawSetInt(argvTable, i+1, lua.LString(arg))
	}
	L.SetGlobal("ARGV", argvTable)

	redisTable := L.NewTable()
	L.SetField(redisTable, "call", L.NewFunction(func(L *lua.LState) int {
		reply := server.luaCall(L, db, c)
		if errReply, ok := reply.(protocol.ErrorReply); ok {
			L.RaiseError("%s", errReply.Error())
			return 0
		}
		L.Push(replyToLua(L, reply))
		return 1
	}))
	L.SetField(redisTable, "pcall", L.NewFunction(func(L *lua.LState) int {
		reply := server.luaCall(L, db, c)
		L.Push(replyToLua(L, reply))
		return 1
	}))
	L.SetField(redisTable, "error_reply", L.NewFunction(func(L *lua.LState) int {
		t := L.NewTable()
		L.SetField(t, "err", lua.LString(L.CheckString(1)))
		L.Push(t)
		return 1
	}))
	L.SetField(redisTable, "status_reply", L.NewFunction(func(L *lua.LState) int {
		t := L.NewTable()
		L.SetField(t, "ok", lua.LString(L.CheckString(1)))
		L.Push(t)
		return 1
	}))
	L.SetField(redisTable, "sha1hex", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(scriptSha(L.CheckString(1))))
		return 1
	}))
	L.SetGlobal("redis", redisTable)

	if err := L.DoString(src); err != nil {
		return protocol.MakeErrReply("ERR Error running script: " + err.Error())
	}
	if L.GetTop() == 0 {
		return protocol.MakeNullBulkReply()
	}
	return luaToReply(L.Get(-1))
}

// claimIntent parks the caller until it owns the key's intention lock, then
// marks the entry so eviction leaves it alone
func (db *DB) claimIntent(key string, connID int64) {
	var hub *EventHub
	db.ks.WithShardWrite(key, func() {
		entry := db.ks.GetOrCreatePlaceholder(key)
		entry.setLockHint(true)
		hub = entry.Hub()
	})
	if hub.AcquireIntent(connID) {
		return
	}
	<-hub.AwaitIntent(connID)
}

// releaseIntent hands the lock over to the next queued waiter and collects
// the placeholder when nobody needs it anymore
func (db *DB) releaseIntent(key string, connID int64) {
	db.ks.WithShardWrite(key, func() {
		entry, ok := db.ks.GetAny(key)
		if !ok {
			return
		}
		if hub := entry.PeekHub(); hub != nil {
			hub.ReleaseIntent(connID)
		}
		entry.setLockHint(false)
		db.ks.CollectPlaceholder(key)
	})
}

// dedupSorted orders the declared keys by shard index so two scripts
// claiming overlapping key sets cannot deadlock
func dedupSorted(db *DB, keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	result := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, key)
	}
	sort.Slice(result, func(i, j int) bool {
		si := db.ks.spread(hashKey(result[i]))
		sj := db.ks.spread(hashKey(result[j]))
		if si != sj {
			return si < sj
		}
		return result[i] < result[j]
	})
	return result
}

// luaCall translates the lua arguments into a command line and executes it
// on the database. The intention locks held by the running script admit its
// own writes through the gate.
func (server *Server) luaCall(L *lua.LState, db *DB, c redis.Connection) redis.Reply {
	n := L.GetTop()
	if n == 0 {
		return protocol.MakeErrReply("ERR wrong number of arguments for redis.call")
	}
	line := make([][]byte, n)
	for i := 1; i <= n; i++ {
		switch v := L.Get(i).(type) {
		case lua.LString:
			line[i-1] = []byte(v)
		case lua.LNumber:
			line[i-1] = []byte(strconv.FormatFloat(float64(v), 'f', -1, 64))
		default:
			return protocol.MakeErrReply("ERR Lua redis lib command arguments must be strings or integers")
		}
	}
	cmdName := strings.ToLower(string(line[0]))
	if _, ok := cmdTable[cmdName]; !ok {
		return protocol.MakeErrReply("ERR Unknown Redis command called from script")
	}
	return db.Exec(c, line)
}

// replyToLua mirrors a command reply into a lua value
func replyToLua(L *lua.LState, reply redis.Reply) lua.LValue {
	switch r := reply.(type) {
	case *protocol.IntReply:
		return lua.LNumber(r.Code)
	case *protocol.BulkReply:
		if r.Arg == nil {
			return lua.LFalse
		}
		return lua.LString(r.Arg)
	case *protocol.NullBulkReply, *protocol.NullReply:
		return lua.LFalse
	case *protocol.StatusReply:
		t := L.NewTable()
		L.SetField(t, "ok", lua.LString(r.Status))
		return t
	case *protocol.OkReply:
		t := L.NewTable()
		L.SetField(t, "ok", lua.LString("OK"))
		return t
	case *protocol.MultiBulkReply:
		t := L.NewTable()
		for i, arg := range r.Args {
			if arg == nil {
				L.RawSetInt(t, i+1, lua.LFalse)
			} else {
				L.RawSetInt(t, i+1, lua.LString(arg))
			}
		}
		return t
	case *protocol.EmptyMultiBulkReply:
		return L.NewTable()
	case *protocol.MultiRawReply:
		t := L.NewTable()
		for i, sub := range r.Replies {
			L.RawSetInt(t, i+1, replyToLua(L, sub))
		}
		return t
	case protocol.ErrorReply:
		t := L.NewTable()
		L.SetField(t, "err", lua.LString(r.Error()))
		return t
	}
	return lua.LString(reply.ToBytes())
}

// luaToReply converts the script result back to a command reply
func luaToReply(v lua.LValue) redis.Reply {
	switch value := v.(type) {
	case lua.LNumber:
		return protocol.MakeIntReply(int64(value))
	case lua.LString:
		return protocol.MakeBulkReply([]byte(value))
	case lua.LBool:
		if value == lua.LTrue {
			return protocol.MakeIntReply(1)
		}
		return protocol.MakeNullBulkReply()
	case *lua.LTable:
		if s, ok := value.RawGetString("ok").(lua.LString); ok {
			return protocol.MakeStatusReply(string(s))
		}
		if s, ok := value.RawGetString("err").(lua.LString); ok {
			return protocol.MakeErrReply(string(s))
		}
		replies := make([]redis.Reply, 0, value.Len())
		for i := 1; ; i++ {
			item := value.RawGetInt(i)
			if item == lua.LNil {
				break
			}
			replies = append(replies, luaToReply(item))
		}
		return protocol.MakeMultiRawReply(replies)
	}
	return protocol.MakeNullBulkReply()
}
