// Package auth implements the line-based shared-secret handshake that
// precedes every RPC stream.
package auth

import (
	"bufio"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/bnema/rexd/internal/domain"
)

const (
	TokenOK     = "OK"
	TokenFailed = "AUTH_FAILED"

	DefaultTimeout = 30 * time.Second

	// MaxLineLength bounds the secret line, newline included.
	MaxLineLength = 4096
)

var (
	ErrWrongSecret = errors.New("wrong secret")
	ErrLineTooLong = errors.New("secret line too long")
	ErrEarlyClose  = errors.New("connection closed before the secret line")
	ErrTimeout     = errors.New("no secret line before the deadline")
)

type Gate struct {
	secret  string
	timeout time.Duration
	logger  *zap.Logger
}

func NewGate(secret string, timeout time.Duration, logger *zap.Logger) *Gate {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Gate{secret: secret, timeout: timeout, logger: logger.Named("auth")}
}

// Authenticate reads the secret line from conn and answers it. On success
// the returned reader yields every byte the client sent after the secret,
// and conn carries no deadline. The caller closes conn on error.
func (g *Gate) Authenticate(conn net.Conn) (io.Reader, error) {
	if err := conn.SetDeadline(time.Now().Add(g.timeout)); err != nil {
		return nil, fmt.Errorf("set handshake deadline: %w", err)
	}

	reader := bufio.NewReaderSize(conn, MaxLineLength)
	line, err := reader.ReadSlice('\n')
	if err != nil {
		reason := classifyReadError(err)
		if errors.Is(reason, ErrLineTooLong) {
			_ = g.reply(conn, TokenFailed)
		}
		g.logger.Info("handshake failed", zap.String("remote", remoteAddr(conn)), zap.Error(reason))
		return nil, fmt.Errorf("%w: %w", domain.ErrAuthentication, reason)
	}

	provided := trimLine(line)
	if subtle.ConstantTimeCompare([]byte(provided), []byte(g.secret)) != 1 {
		_ = g.reply(conn, TokenFailed)
		g.logger.Info("handshake rejected", zap.String("remote", remoteAddr(conn)))
		return nil, fmt.Errorf("%w: %w", domain.ErrAuthentication, ErrWrongSecret)
	}

	if err := g.reply(conn, TokenOK); err != nil {
		return nil, fmt.Errorf("write handshake reply: %w", err)
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("clear handshake deadline: %w", err)
	}

	g.logger.Debug("handshake accepted", zap.String("remote", remoteAddr(conn)))
	return reader, nil
}

func (g *Gate) reply(conn net.Conn, token string) error {
	_, err := io.WriteString(conn, token+"\n")
	return err
}

func classifyReadError(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, bufio.ErrBufferFull):
		return ErrLineTooLong
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return ErrEarlyClose
	case errors.As(err, &netErr) && netErr.Timeout():
		return ErrTimeout
	default:
		return err
	}
}

// trimLine strips the newline and an optional carriage return.
func trimLine(line []byte) string {
	n := len(line)
	if n > 0 && line[n-1] == '\n' {
		n--
	}
	if n > 0 && line[n-1] == '\r' {
		n--
	}
	return string(line[:n])
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
