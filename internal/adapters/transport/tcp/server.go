// Package tcp accepts connections and runs each one through the handshake
// gate and then the RPC server.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bnema/rexd/internal/adapters/transport/auth"
	"github.com/bnema/rexd/internal/adapters/transport/rpc"
)

const DefaultShutdownGrace = 5 * time.Second

// ErrShutdownTimeout is returned by Serve when handlers are still running a
// full grace period after they were interrupted.
var ErrShutdownTimeout = errors.New("connections still busy after forced shutdown")

type Server struct {
	listener net.Listener
	gate     *auth.Gate
	rpc      *rpc.Server
	grace    time.Duration
	logger   *zap.Logger

	mu         sync.Mutex
	conns      map[net.Conn]struct{}
	onShutdown []func()

	activeConnections sync.WaitGroup
}

// Listen binds addr. Serve must be called to start accepting.
func Listen(addr string, gate *auth.Gate, rpcServer *rpc.Server, grace time.Duration, logger *zap.Logger) (*Server, error) {
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	return &Server{
		listener: listener,
		gate:     gate,
		rpc:      rpcServer,
		grace:    grace,
		logger:   logger.Named("server"),
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// RegisterOnShutdown registers f to run when the shutdown grace period
// expires with handlers still busy. Each f runs in its own goroutine; it is
// the place to release whatever a stuck handler is blocked on.
func (s *Server) RegisterOnShutdown(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onShutdown = append(s.onShutdown, f)
}

// Serve accepts connections until ctx is cancelled. In-flight connections
// then get the grace period to finish. After it they are interrupted, the
// shutdown hooks run and the connections are closed. Serve waits at most one
// more grace period for handlers to exit before giving up with
// ErrShutdownTimeout.
func (s *Server) Serve(ctx context.Context) error {
	defer s.listener.Close()

	connCtx, interrupt := context.WithCancel(context.WithoutCancel(ctx))
	defer interrupt()

	stop := context.AfterFunc(ctx, func() {
		_ = s.listener.Close()
	})
	defer stop()

	s.logger.Info("listening", zap.String("addr", s.Addr().String()))

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", zap.Error(err))
			continue
		}

		s.track(conn)
		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			defer s.untrack(conn)
			s.handleConnection(connCtx, conn)
		}()
	}

	drained := make(chan struct{})
	go func() {
		s.activeConnections.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(s.grace):
		s.logger.Warn("shutdown grace expired, closing connections", zap.Int("connections", s.open()))
		interrupt()
		s.runShutdownHooks()
		s.closeAll()

		select {
		case <-drained:
		case <-time.After(s.grace):
			s.logger.Error("handlers did not exit after forced shutdown", zap.Int("connections", s.open()))
			return ErrShutdownTimeout
		}
	}
	return nil
}

func (s *Server) runShutdownHooks() {
	s.mu.Lock()
	hooks := append([]func(){}, s.onShutdown...)
	s.mu.Unlock()

	for _, f := range hooks {
		go f()
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	reader, err := s.gate.Authenticate(conn)
	if err != nil {
		return
	}

	if err := s.rpc.ServeConn(ctx, conn, reader); err != nil {
		s.logger.Info("connection ended with error",
			zap.String("remote", conn.RemoteAddr().String()),
			zap.Error(err),
		)
	}
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}
