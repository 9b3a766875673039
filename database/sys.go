package database

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rutin-db/rutin/config"
	"github.com/rutin-db/rutin/interface/redis"
	"github.com/rutin-db/rutin/pubsub"
	"github.com/rutin-db/rutin/redis/connection"
	"github.com/rutin-db/rutin/redis/protocol"
)

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}

// Ping replies PONG, or echoes its single argument
func Ping(args [][]byte) redis.Reply {
	if len(args) == 0 {
		return &protocol.PongReply{}
	}
	if len(args) == 1 {
		return protocol.MakeStatusReply(string(args[0]))
	}
	return protocol.MakeArgNumErrReply("ping")
}

// execAuth verifies credentials against the ACL registry. The one argument
// form authenticates the default user.
func (server *Server) execAuth(c redis.Connection, args [][]byte) redis.Reply {
	if c == nil {
		return protocol.MakeErrReply("ERR no connection")
	}
	var username, password string
	switch len(args) {
	case 1:
		username = "default"
		password = string(args[0])
	case 2:
		username = string(args[0])
		password = string(args[1])
	default:
		return protocol.MakeArgNumErrReply("auth")
	}
	ac, ok := server.registry.GetUser(username)
	if !ok || !ac.Enabled() || !ac.CheckPassword(password) {
		return protocol.MakeWrongPassErrReply()
	}
	c.SetAuthUser(username)
	c.SetAuthenticated(true)
	return protocol.MakeOkReply()
}

// execHello negotiates the protocol and optionally authenticates. Only
// protover 3 is spoken here.
func (server *Server) execHello(c redis.Connection, args [][]byte) redis.Reply {
	i := 0
	if i < len(args) {
		protover := string(args[i])
		if protover != "3" {
			return protocol.MakeErrReply("NOPROTO unsupported protocol version")
		}
		i++
	}
	for i < len(args) {
		switch strings.ToUpper(string(args[i])) {
		case "AUTH":
			if i+2 >= len(args) {
				return protocol.MakeSyntaxErrReply()
			}
			if reply := server.execAuth(c, args[i+1:i+3]); protocol.IsErrorReply(reply) {
				return reply
			}
			i += 3
		case "SETNAME":
			if i+1 >= len(args) {
				return protocol.MakeSyntaxErrReply()
			}
			if c != nil {
				c.SetName(string(args[i+1]))
			}
			i += 2
		default:
			return protocol.MakeSyntaxErrReply()
		}
	}
	if server.registry.RequiresAuth() && c != nil && !c.IsAuthenticated() && !connection.IsFake(c) {
		return &protocol.NoAuthErrReply{}
	}
	var id int64
	if c != nil {
		id = c.ID()
	}
	return protocol.MakeMapReply([]redis.Reply{
		protocol.MakeBulkReply([]byte("server")), protocol.MakeBulkReply([]byte("rutin")),
		protocol.MakeBulkReply([]byte("version")), protocol.MakeBulkReply([]byte(rutinVersion)),
		protocol.MakeBulkReply([]byte("proto")), protocol.MakeIntReply(3),
		protocol.MakeBulkReply([]byte("id")), protocol.MakeIntReply(id),
		protocol.MakeBulkReply([]byte("mode")), protocol.MakeBulkReply([]byte("standalone")),
		protocol.MakeBulkReply([]byte("role")), protocol.MakeBulkReply([]byte("master")),
		protocol.MakeBulkReply([]byte("modules")), protocol.MakeEmptyMultiBulkReply(),
	})
}

// execClient handles the CLIENT subcommands touching connection state
func execClient(c redis.Connection, args [][]byte) redis.Reply {
	if len(args) == 0 {
		return protocol.MakeArgNumErrReply("client")
	}
	if c == nil {
		return protocol.MakeErrReply("ERR no connection")
	}
	switch strings.ToUpper(string(args[0])) {
	case "ID":
		return protocol.MakeIntReply(c.ID())
	case "GETNAME":
		return protocol.MakeBulkReply([]byte(c.GetName()))
	case "SETNAME":
		if len(args) != 2 {
			return protocol.MakeArgNumErrReply("client|setname")
		}
		c.SetName(string(args[1]))
		return protocol.MakeOkReply()
	case "TRACKING":
		if len(args) != 2 {
			return protocol.MakeArgNumErrReply("client|tracking")
		}
		switch strings.ToUpper(string(args[1])) {
		case "ON":
			c.SetTracking(true)
		case "OFF":
			c.SetTracking(false)
		default:
			return protocol.MakeSyntaxErrReply()
		}
		return protocol.MakeOkReply()
	}
	return protocol.MakeErrReply("ERR Unknown CLIENT subcommand '" + string(args[0]) + "'")
}

// execReset puts the connection back to its just-connected state
func (server *Server) execReset(c redis.Connection) redis.Reply {
	if c != nil {
		pubsub.UnsubscribeAll(server.hub, c)
		c.SelectDB(0)
		c.SetTracking(false)
		c.SetName("")
	}
	return protocol.MakeStatusReply("RESET")
}

// execInfo renders the requested sections, all of them when none are named
func (server *Server) execInfo(args [][]byte) redis.Reply {
	sections := make(map[string]bool)
	for _, raw := range args {
		sections[strings.ToLower(string(raw))] = true
	}
	all := len(sections) == 0

	var b strings.Builder
	if all || sections["server"] {
		b.WriteString("# Server\r\n")
		fmt.Fprintf(&b, "rutin_version:%s\r\n", rutinVersion)
		fmt.Fprintf(&b, "run_id:%s\r\n", config.Properties.Server.RunID)
		fmt.Fprintf(&b, "tcp_port:%d\r\n", config.Properties.Server.Port)
		fmt.Fprintf(&b, "uptime_in_seconds:%d\r\n", int64(time.Since(server.startTime).Seconds()))
		fmt.Fprintf(&b, "arch_bits:%d\r\n", 32<<(^uint(0)>>63))
		b.WriteString("\r\n")
	}
	if all || sections["clients"] {
		b.WriteString("# Clients\r\n")
		fmt.Fprintf(&b, "maxclients:%d\r\n", config.Properties.Server.MaxConnections)
		b.WriteString("\r\n")
	}
	if all || sections["memory"] {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		b.WriteString("# Memory\r\n")
		fmt.Fprintf(&b, "used_memory:%d\r\n", stats.HeapAlloc)
		fmt.Fprintf(&b, "maxmemory:%d\r\n", config.Properties.Memory.OOM.Maxmemory)
		fmt.Fprintf(&b, "maxmemory_policy:%s\r\n", config.Properties.Memory.OOM.MaxmemoryPolicy)
		b.WriteString("\r\n")
	}
	if all || sections["replication"] {
		b.WriteString("# Replication\r\n")
		role := "master"
		if config.Properties.Replica.ReplicaOf != "" {
			role = "replica"
			fmt.Fprintf(&b, "master_host:%s\r\n", config.Properties.Replica.ReplicaOf)
		}
		fmt.Fprintf(&b, "role:%s\r\n", role)
		fmt.Fprintf(&b, "connected_slaves:0\r\n")
		b.WriteString("\r\n")
	}
	if all || sections["persistence"] {
		b.WriteString("# Persistence\r\n")
		aofEnabled := 0
		var aofSize int64
		if server.persister != nil {
			aofEnabled = 1
			aofSize = server.persister.FileSize()
		}
		fmt.Fprintf(&b, "aof_enabled:%d\r\n", aofEnabled)
		fmt.Fprintf(&b, "aof_current_size:%d\r\n", aofSize)
		fmt.Fprintf(&b, "rdb_filename:%s\r\n", config.Properties.RDB.FilePath)
		b.WriteString("\r\n")
	}
	if all || sections["stats"] {
		b.WriteString("# Stats\r\n")
		fmt.Fprintf(&b, "total_commands_processed:%d\r\n", commandsProcessed.Get())
		b.WriteString("\r\n")
	}
	if all || sections["keyspace"] {
		b.WriteString("# Keyspace\r\n")
		for i, db := range server.dbSet {
			size := db.Len()
			if size > 0 {
				fmt.Fprintf(&b, "db%d:keys=%d\r\n", i, size)
			}
		}
		b.WriteString("\r\n")
	}
	return protocol.MakeVerbatimReply("txt", []byte(b.String()))
}

// execConfig reads and writes runtime settings by their flat names
func execConfig(args [][]byte) redis.Reply {
	if len(args) < 2 {
		return protocol.MakeArgNumErrReply("config")
	}
	switch strings.ToUpper(string(args[0])) {
	case "GET":
		pairs := make([]redis.Reply, 0, (len(args)-1)*2)
		for _, raw := range args[1:] {
			key := string(raw)
			value, ok := config.Get(key)
			if !ok {
				continue
			}
			pairs = append(pairs,
				protocol.MakeBulkReply([]byte(key)),
				protocol.MakeBulkReply([]byte(value)))
		}
		return protocol.MakeMapReply(pairs)
	case "SET":
		if len(args) != 3 {
			return protocol.MakeArgNumErrReply("config|set")
		}
		if err := config.Set(string(args[1]), string(args[2])); err != nil {
			return protocol.MakeErrReply("ERR " + err.Error())
		}
		return protocol.MakeOkReply()
	}
	return protocol.MakeErrReply("ERR Unknown CONFIG subcommand '" + string(args[0]) + "'")
}
