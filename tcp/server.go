package tcp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rutin-db/rutin/interface/tcp"
	"github.com/rutin-db/rutin/lib/logger"
)

// Config stores tcp server properties
type Config struct {
	Address        string
	MaxConnections int

	// TLSAddress enables a second listener speaking TLS when non empty
	TLSAddress string
	CertFile   string
	KeyFile    string
}

// ClientCounter is the number of connected clients
var ClientCounter int64

// ListenAndServeWithSignal binds the configured ports and handles requests,
// blocking until a stop signal arrives
func ListenAndServeWithSignal(cfg *Config, handler tcp.Handler) error {
	closeChan := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Infof("signal %v received, shutting down", sig)
		close(closeChan)
	}()

	listeners := make([]net.Listener, 0, 2)
	listener, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return err
	}
	logger.Info(fmt.Sprintf("bind: %s, start listening...", cfg.Address))
	listeners = append(listeners, listener)

	if cfg.TLSAddress != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			_ = listener.Close()
			return fmt.Errorf("load tls key pair: %w", err)
		}
		tlsListener, err := tls.Listen("tcp", cfg.TLSAddress, &tls.Config{
			Certificates: []tls.Certificate{cert},
		})
		if err != nil {
			_ = listener.Close()
			return err
		}
		logger.Info(fmt.Sprintf("bind: %s, start listening with tls...", cfg.TLSAddress))
		listeners = append(listeners, tlsListener)
	}

	ListenAndServe(listeners, handler, cfg.MaxConnections, closeChan)
	return nil
}

// ListenAndServe accepts connections from every listener until closeChan
// fires or an accept fails. Connections beyond the limit are dropped right
// after accept.
func ListenAndServe(listeners []net.Listener, handler tcp.Handler, maxConnections int, closeChan <-chan struct{}) {
	errCh := make(chan error, len(listeners))
	go func() {
		select {
		case <-closeChan:
		case err := <-errCh:
			logger.Info(fmt.Sprintf("accept error: %v", err))
		}
		logger.Info("shutting down...")
		for _, listener := range listeners {
			_ = listener.Close()
		}
		_ = handler.Close()
	}()

	ctx := context.Background()
	var eg errgroup.Group
	for _, listener := range listeners {
		listener := listener
		eg.Go(func() error {
			for {
				conn, err := listener.Accept()
				if err != nil {
					if ne, ok := err.(net.Error); ok && ne.Timeout() {
						logger.Infof("accept occurs temporary error: %v, retry in 5ms", err)
						time.Sleep(5 * time.Millisecond)
						continue
					}
					errCh <- err
					return nil
				}
				if maxConnections > 0 && atomic.LoadInt64(&ClientCounter) >= int64(maxConnections) {
					logger.Warnf("connection limit %d reached, rejecting %s", maxConnections, conn.RemoteAddr())
					_ = conn.Close()
					continue
				}
				atomic.AddInt64(&ClientCounter, 1)
				eg.Go(func() error {
					defer atomic.AddInt64(&ClientCounter, -1)
					handler.Handle(ctx, conn)
					return nil
				})
			}
		})
	}
	_ = eg.Wait()
}
