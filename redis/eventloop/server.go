// Package eventloop is the alternative transport: instead of one goroutine
// per connection, a gnet event loop multiplexes sockets and parses frames
// inline. Commands that would park their handler are rejected here.
package eventloop

import (
	"bytes"
	"errors"
	"strconv"
	"strings"

	"github.com/panjf2000/gnet/v2"

	"github.com/rutin-db/rutin/interface/database"
	"github.com/rutin-db/rutin/interface/redis"
	"github.com/rutin-db/rutin/lib/logger"
	"github.com/rutin-db/rutin/redis/connection"
	"github.com/rutin-db/rutin/redis/protocol"
)

var errBlockingUnsupported = protocol.MakeErrReply("ERR blocking commands are not supported on the event loop transport")

// Server runs the event loop and dispatches parsed commands to the engine
type Server struct {
	gnet.BuiltinEventEngine
	eng     gnet.Engine
	db      database.DB
	checker database.BlockingChecker
	addr    string
}

type connState struct {
	client *connection.GnetConn
	buf    []byte
}

// NewServer creates an event-loop transport over an existing engine
func NewServer(db database.DB) *Server {
	checker, _ := db.(database.BlockingChecker)
	return &Server{db: db, checker: checker}
}

// Run binds the address and serves until Stop, blocking the caller
func (s *Server) Run(addr string) error {
	s.addr = addr
	return gnet.Run(s, "tcp://"+addr, gnet.WithMulticore(true), gnet.WithReuseAddr(true))
}

// Stop shuts the event loop down
func (s *Server) Stop() {
	_ = s.eng.Stop(nil)
}

// OnBoot keeps the engine for Stop
func (s *Server) OnBoot(eng gnet.Engine) gnet.Action {
	s.eng = eng
	logger.Infof("event loop listening on %s", s.addr)
	return gnet.None
}

// OnOpen attaches the per-connection state
func (s *Server) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	state := &connState{client: connection.NewGnetConn(c)}
	c.SetContext(state)
	return nil, gnet.None
}

// OnClose detaches the client and cleans its subscriptions
func (s *Server) OnClose(c gnet.Conn, err error) gnet.Action {
	if state, ok := c.Context().(*connState); ok {
		state.client.Detach()
		s.db.AfterClientClose(state.client)
	}
	return gnet.None
}

// OnTraffic consumes buffered bytes, executes every complete command line
// and answers them in one write. Incomplete frames stay buffered until the
// next traffic event.
func (s *Server) OnTraffic(c gnet.Conn) gnet.Action {
	state, ok := c.Context().(*connState)
	if !ok {
		return gnet.Close
	}
	data, err := c.Next(-1)
	if err != nil {
		return gnet.Close
	}
	state.buf = append(state.buf, data...)

	var out bytes.Buffer
	for {
		args, consumed, err := parseCommand(state.buf)
		if err != nil {
			out.Write(protocol.MakeProtocolErrReply(err.Error()).ToBytes())
			if out.Len() > 0 {
				_, _ = c.Write(out.Bytes())
			}
			return gnet.Close
		}
		if consumed == 0 {
			break
		}
		state.buf = state.buf[consumed:]
		if len(args) == 0 {
			continue
		}
		result := s.exec(state.client, args)
		if _, quiet := result.(*protocol.NoReply); quiet {
			continue
		}
		out.Write(result.ToBytes())
	}
	if len(state.buf) == 0 {
		state.buf = nil
	}
	if out.Len() > 0 {
		if _, err := c.Write(out.Bytes()); err != nil {
			return gnet.Close
		}
	}
	return gnet.None
}

func (s *Server) exec(client *connection.GnetConn, args [][]byte) redis.Reply {
	cmdName := strings.ToLower(string(args[0]))
	if s.checker != nil && s.checker.IsBlockingCommand(cmdName) {
		return errBlockingUnsupported
	}
	return s.db.Exec(client, args)
}

var errUnbalancedQuotes = errors.New("unbalanced command line")

// parseCommand reads one complete RESP array of bulk strings from buf.
// Returns consumed == 0 when the frame is not complete yet.
func parseCommand(buf []byte) (args [][]byte, consumed int, err error) {
	if len(buf) == 0 {
		return nil, 0, nil
	}
	if buf[0] != '*' {
		return nil, 0, errors.New("expected array frame")
	}
	pos := 0
	line, n := readLine(buf[pos:])
	if n == 0 {
		return nil, 0, nil
	}
	count, err := strconv.Atoi(string(line[1:]))
	if err != nil || count < 0 {
		return nil, 0, errors.New("illegal array header " + string(line))
	}
	pos += n
	args = make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		if pos >= len(buf) {
			return nil, 0, nil
		}
		if buf[pos] != '$' {
			return nil, 0, errors.New("expected bulk string frame")
		}
		line, n = readLine(buf[pos:])
		if n == 0 {
			return nil, 0, nil
		}
		size, err := strconv.Atoi(string(line[1:]))
		if err != nil || size < 0 {
			return nil, 0, errors.New("illegal bulk string header " + string(line))
		}
		pos += n
		if pos+size+2 > len(buf) {
			return nil, 0, nil
		}
		if buf[pos+size] != '\r' || buf[pos+size+1] != '\n' {
			return nil, 0, errUnbalancedQuotes
		}
		arg := make([]byte, size)
		copy(arg, buf[pos:pos+size])
		args = append(args, arg)
		pos += size + 2
	}
	return args, pos, nil
}

// readLine returns the first CRLF-terminated line and its full length,
// 0 when no complete line is buffered
func readLine(buf []byte) ([]byte, int) {
	idx := bytes.IndexByte(buf, '\n')
	if idx <= 0 || buf[idx-1] != '\r' {
		return nil, 0
	}
	return buf[:idx-1], idx + 1
}
