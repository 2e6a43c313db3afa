package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/bnema/rexd/internal/adapters/transport/auth"
)

// RemoteError is an error string returned by the server.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Client speaks the RPC protocol over one authenticated connection. The
// server closes the connection after answering execute, so Execute is the
// last call a Client can make.
type Client struct {
	conn    net.Conn
	encoder *cbor.Encoder
	decoder *cbor.Decoder

	mu     sync.Mutex
	nextID uint64
}

// Dial connects to addr and performs the secret handshake.
func Dial(ctx context.Context, addr string, secret string, timeout time.Duration) (*Client, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	reader, err := auth.Handshake(conn, secret, timeout)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return newClient(conn, reader), nil
}

func newClient(conn net.Conn, r io.Reader) *Client {
	return &Client{
		conn:    conn,
		encoder: NewEncoder(conn),
		decoder: NewDecoder(r),
	}
}

func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var status HealthStatus
	if err := c.call(ctx, MethodHealth, nil, &status); err != nil {
		return HealthStatus{}, err
	}
	return status, nil
}

func (c *Client) Sessions(ctx context.Context) ([]SessionSummary, error) {
	var sessions []SessionSummary
	if err := c.call(ctx, MethodSessions, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (c *Client) Execute(ctx context.Context, params ExecuteParams) (ExecuteResult, error) {
	var raw RawMessage
	if err := c.call(ctx, MethodExecute, params, &raw); err != nil {
		return ExecuteResult{}, err
	}
	return decodeResult(raw)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := Request{ID: c.nextID, Method: method}
	c.nextID++
	if params != nil {
		encoded, err := Marshal(params)
		if err != nil {
			return fmt.Errorf("encode %s params: %w", method, err)
		}
		req.Params = encoded
	}

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := c.encoder.Encode(req); err != nil {
		return c.transportError(ctx, method, err)
	}

	var resp Response
	if err := c.decoder.Decode(&resp); err != nil {
		return c.transportError(ctx, method, err)
	}
	if resp.ID != req.ID {
		return fmt.Errorf("%s: response id %d does not match request id %d", method, resp.ID, req.ID)
	}
	if resp.Error != nil {
		return &RemoteError{Method: method, Message: *resp.Error}
	}
	if isNull(resp.Result) {
		return fmt.Errorf("%s: empty result", method)
	}
	if raw, ok := out.(*RawMessage); ok {
		*raw = resp.Result
		return nil
	}
	if err := Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func (c *Client) transportError(ctx context.Context, method string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", method, ctxErr)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		if _, ok := ctx.Deadline(); ok {
			return fmt.Errorf("%s: %w", method, context.DeadlineExceeded)
		}
	}
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: connection closed by server: %w", method, err)
	}
	return fmt.Errorf("%s: %w", method, err)
}
