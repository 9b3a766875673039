package tcp

import (
	"context"
	"net"
)

// Handler serves accepted connections until Close
type Handler interface {
	Handle(ctx context.Context, conn net.Conn)
	Close() error
}
