package server

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rutin-db/rutin/config"
	database2 "github.com/rutin-db/rutin/database"
	"github.com/rutin-db/rutin/interface/database"
	"github.com/rutin-db/rutin/lib/logger"
	"github.com/rutin-db/rutin/redis/connection"
	"github.com/rutin-db/rutin/redis/parser"
	"github.com/rutin-db/rutin/redis/protocol"
)

var unknownErrReplyBytes = []byte("-ERR unknown\r\n")

// Handler serves one goroutine per connection: a parser goroutine streams
// command lines in, replies are batched and written back in arrival order.
type Handler struct {
	activeConn sync.Map // *connection.Connection -> placeholder
	db         database.DB
	closing    atomic.Bool
}

// MakeHandler creates a Handler around a fresh standalone engine
func MakeHandler() *Handler {
	return &Handler{
		db: database2.NewStandaloneServer(),
	}
}

// MakeHandlerWithEngine creates a Handler over an existing engine, so two
// transports can share one keyspace
func MakeHandlerWithEngine(db database.DB) *Handler {
	return &Handler{db: db}
}

func (h *Handler) closeClient(client *connection.Connection) {
	_ = client.Close()
	h.db.AfterClientClose(client)
	h.activeConn.Delete(client)
}

// Handle receives and executes redis commands until the client disconnects.
// Pipelined commands already parsed are executed and answered in one write.
func (h *Handler) Handle(ctx context.Context, conn net.Conn) {
	if h.closing.Load() {
		_ = conn.Close()
		return
	}

	client := connection.NewConn(conn)
	h.activeConn.Store(client, struct{}{})

	maxBatch := config.Properties.Server.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 1024
	}

	ch := parser.ParseStream(conn)
	var buf bytes.Buffer
	for payload := range ch {
		if !h.handlePayload(client, payload, &buf) {
			return
		}
		// drain what the pipeline already delivered, one syscall per batch
		batched := 1
	drain:
		for batched < maxBatch {
			select {
			case next, ok := <-ch:
				if !ok {
					break drain
				}
				if !h.handlePayload(client, next, &buf) {
					return
				}
				batched++
			default:
				break drain
			}
		}
		if buf.Len() > 0 {
			if err := client.Write(buf.Bytes()); err != nil {
				h.closeClient(client)
				logger.Info("connection closed: " + client.RemoteAddr())
				return
			}
			buf.Reset()
		}
	}
	h.closeClient(client)
}

// handlePayload executes one parsed command line into the reply buffer.
// Returns false when the connection was torn down.
func (h *Handler) handlePayload(client *connection.Connection, payload *parser.Payload, buf *bytes.Buffer) bool {
	if payload.Err != nil {
		if payload.Err == io.EOF ||
			payload.Err == io.ErrUnexpectedEOF ||
			strings.Contains(payload.Err.Error(), "use of closed network connection") {
			h.closeClient(client)
			logger.Info("connection closed: " + client.RemoteAddr())
			return false
		}
		buf.Write(protocol.MakeProtocolErrReply(payload.Err.Error()).ToBytes())
		return true
	}
	if payload.Data == nil {
		return true
	}
	r, ok := payload.Data.(*protocol.MultiBulkReply)
	if !ok {
		logger.Error("require multi bulk protocol")
		return true
	}
	result := h.db.Exec(client, r.Args)
	if _, quiet := result.(*protocol.NoReply); quiet {
		return true
	}
	if result != nil {
		buf.Write(result.ToBytes())
	} else {
		buf.Write(unknownErrReplyBytes)
	}
	return true
}

// Close stops the handler and every live connection
func (h *Handler) Close() error {
	logger.Info("handler shutting down...")
	h.closing.Store(true)
	h.activeConn.Range(func(key interface{}, val interface{}) bool {
		client := key.(*connection.Connection)
		_ = client.Close()
		h.db.AfterClientClose(client)
		return true
	})
	h.db.Close()
	return nil
}
