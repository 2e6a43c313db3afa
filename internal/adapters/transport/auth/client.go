package auth

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/bnema/rexd/internal/domain"
)

// Handshake sends the secret and waits for the server's verdict. The
// returned reader must be used for everything read from conn afterwards.
func Handshake(conn net.Conn, secret string, timeout time.Duration) (io.Reader, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("set handshake deadline: %w", err)
	}

	if _, err := io.WriteString(conn, secret+"\n"); err != nil {
		return nil, fmt.Errorf("send secret: %w", err)
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read handshake reply: %w", err)
	}

	switch trimLine([]byte(line)) {
	case TokenOK:
	case TokenFailed:
		return nil, domain.ErrAuthentication
	default:
		return nil, fmt.Errorf("unexpected handshake reply %q", line)
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("clear handshake deadline: %w", err)
	}
	return reader, nil
}
