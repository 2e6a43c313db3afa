package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/bnema/rexd/internal/domain"
)

const (
	DefaultIdleTimeout  = 5 * time.Minute
	DefaultWriteTimeout = 30 * time.Second
)

var ErrUnknownMethod = errors.New("unknown method")

// Handler serves the decoded calls. The application's ExecutionService
// satisfies it.
type Handler interface {
	Execute(ctx context.Context, req domain.ExecutionRequest) (domain.Result, error)
	Health(ctx context.Context) domain.Health
	Sessions(ctx context.Context) []domain.SessionInfo
}

type Server struct {
	handler      Handler
	idleTimeout  time.Duration
	writeTimeout time.Duration
	logger       *zap.Logger
}

func NewServer(handler Handler, idleTimeout time.Duration, logger *zap.Logger) *Server {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Server{
		handler:      handler,
		idleTimeout:  idleTimeout,
		writeTimeout: DefaultWriteTimeout,
		logger:       logger.Named("rpc"),
	}
}

// ServeConn answers requests read from r until the peer goes away, the
// connection idles past the idle timeout, or an execute call has been
// answered. Writes go to conn. The caller owns conn and closes it.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn, r io.Reader) error {
	decoder := NewDecoder(r)
	encoder := NewEncoder(conn)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}

		var req Request
		if err := decoder.Decode(&req); err != nil {
			if isClosed(err) {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.logger.Debug("connection idle, closing", zap.String("remote", remote(conn)))
				return nil
			}
			return fmt.Errorf("decode request: %w", err)
		}

		resp := s.dispatch(ctx, req)

		if err := conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
		if err := encoder.Encode(resp); err != nil {
			return fmt.Errorf("write response to %s: %w", req.Method, err)
		}

		if req.Method == MethodExecute {
			return nil
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	result, err := s.call(ctx, req)
	if err != nil {
		message := err.Error()
		return Response{ID: req.ID, Error: &message}
	}

	encoded, err := Marshal(result)
	if err != nil {
		s.logger.Error("encode result failed", zap.String("method", req.Method), zap.Error(err))
		message := fmt.Sprintf("encode result: %v", err)
		return Response{ID: req.ID, Error: &message}
	}
	return Response{ID: req.ID, Result: encoded}
}

func (s *Server) call(ctx context.Context, req Request) (any, error) {
	switch req.Method {
	case MethodHealth:
		return encodeHealth(s.handler.Health(ctx)), nil
	case MethodSessions:
		return encodeSessions(s.handler.Sessions(ctx)), nil
	case MethodExecute:
		if isNull(req.Params) {
			return nil, errors.New("execute requires params")
		}
		var params ExecuteParams
		if err := Unmarshal(req.Params, &params); err != nil {
			return nil, fmt.Errorf("decode execute params: %w", err)
		}
		execReq, err := params.toDomain()
		if err != nil {
			return nil, err
		}
		result, err := s.handler.Execute(ctx, execReq)
		if err != nil {
			return nil, err
		}
		return encodeResult(result), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownMethod, req.Method)
	}
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed)
}

// isNull reports whether raw is absent or an encoded CBOR null/undefined.
func isNull(raw RawMessage) bool {
	return len(raw) == 0 || (len(raw) == 1 && (raw[0] == 0xf6 || raw[0] == 0xf7))
}

func remote(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
