package database

import "github.com/rutin-db/rutin/interface/redis"

// CmdLine is alias for [][]byte, represents a command line
type CmdLine = [][]byte

// DB is the interface a transport needs from the storage engine
type DB interface {
	Exec(client redis.Connection, cmdLine CmdLine) redis.Reply
	AfterClientClose(c redis.Connection)
	Close()
}

// BlockingChecker is implemented by engines that can tell whether a
// command may suspend the calling goroutine. Event-loop transports use it
// to reject blocking commands they cannot park.
type BlockingChecker interface {
	IsBlockingCommand(name string) bool
}
