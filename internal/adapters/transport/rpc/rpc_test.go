package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/rexd/internal/domain"
)

type stubHandler struct {
	execute  func(context.Context, domain.ExecutionRequest) (domain.Result, error)
	health   domain.Health
	sessions []domain.SessionInfo
}

func (h *stubHandler) Execute(ctx context.Context, req domain.ExecutionRequest) (domain.Result, error) {
	return h.execute(ctx, req)
}

func (h *stubHandler) Health(context.Context) domain.Health {
	return h.health
}

func (h *stubHandler) Sessions(context.Context) []domain.SessionInfo {
	return h.sessions
}

// startServer serves one side of a pipe and returns a client for the other.
// The returned channel yields ServeConn's result.
func startServer(t *testing.T, handler Handler, idle time.Duration) (*Client, <-chan error) {
	t.Helper()

	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() {
		_ = serverConn.Close()
		_ = clientConn.Close()
	})

	server := NewServer(handler, idle, nil)
	done := make(chan error, 1)
	go func() {
		done <- server.ServeConn(context.Background(), serverConn, serverConn)
	}()
	return newClient(clientConn, clientConn), done
}

func waitServe(t *testing.T, done <-chan error) error {
	t.Helper()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("ServeConn did not return")
		return nil
	}
}

func TestHealthRoundTrip(t *testing.T) {
	t.Parallel()

	stamp := time.Date(2026, 3, 1, 12, 30, 0, 500, time.UTC)
	client, _ := startServer(t, &stubHandler{
		health: domain.Health{Status: domain.HealthStatusOK, Timestamp: stamp, Version: "1.2.3", Sessions: 4},
	}, time.Second)

	status, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "2026-03-01T12:30:00.0000005Z", status.Timestamp)
	assert.Equal(t, "1.2.3", status.Version)
	assert.Equal(t, 4, status.Sessions)

	// health keeps the connection open
	status, err = client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", status.Status)
}

func TestExecuteRoundTripAndClose(t *testing.T) {
	t.Parallel()

	var got domain.ExecutionRequest
	client, done := startServer(t, &stubHandler{
		execute: func(_ context.Context, req domain.ExecutionRequest) (domain.Result, error) {
			got = req
			return domain.Result{
				Channels: []domain.ChannelOutput{{
					Channel: "A",
					Records: domain.Batch{{Data: map[string]any{"x": int64(1)}, Attachments: map[string]any{}}},
				}},
				SessionID: "sess-1",
			}, nil
		},
	}, time.Second)

	result, err := client.Execute(context.Background(), ExecuteParams{
		Code:   "return {}",
		Inputs: [][]Item{{{Data: map[string]any{"in": "v"}}}},
		Metadata: Metadata{
			ScopeID:               " scope ",
			JobID:                 "job",
			WantsRetentionOfPages: true,
			AutoCapture:           true,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string][]Item{
		"A": {{Data: map[string]any{"x": uint64(1)}, Attachments: map[string]any{}}},
	}, result.Channels)
	assert.Equal(t, "sess-1", result.SessionID)
	assert.Equal(t, []string{"A"}, result.ChannelNames())

	assert.Equal(t, domain.ScopeID("scope"), got.Metadata.ScopeID)
	assert.True(t, got.Metadata.AutoCapture)
	assert.Equal(t, domain.Retention{KeepContext: true, KeepPages: true}, got.Retention)
	require.Len(t, got.Inputs, 1)
	assert.Equal(t, "v", got.Inputs[0][0].Data["in"])
	assert.Empty(t, got.Inputs[0][0].Attachments)

	require.NoError(t, waitServe(t, done))
}

func TestExecuteErrorIsReturnedVerbatim(t *testing.T) {
	t.Parallel()

	client, done := startServer(t, &stubHandler{
		execute: func(context.Context, domain.ExecutionRequest) (domain.Result, error) {
			return domain.Result{}, &domain.ExecutionError{Message: "boom"}
		},
	}, time.Second)

	_, err := client.Execute(context.Background(), ExecuteParams{Code: "throw new Error('boom')"})
	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "boom", remoteErr.Message)
	assert.Equal(t, MethodExecute, remoteErr.Method)

	require.NoError(t, waitServe(t, done))
}

func TestExecuteRejectsEmptyCode(t *testing.T) {
	t.Parallel()

	client, _ := startServer(t, &stubHandler{
		execute: func(context.Context, domain.ExecutionRequest) (domain.Result, error) {
			return domain.Result{}, errors.New("must not be called")
		},
	}, time.Second)

	_, err := client.Execute(context.Background(), ExecuteParams{Code: "  "})
	require.Error(t, err)
	assert.Contains(t, err.Error(), domain.ErrEmptyCode.Error())
}

func TestUnknownMethodKeepsConnection(t *testing.T) {
	t.Parallel()

	client, _ := startServer(t, &stubHandler{health: domain.Health{Status: "ok"}}, time.Second)

	err := client.call(context.Background(), "shutdown", nil, new(RawMessage))
	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Contains(t, remoteErr.Message, ErrUnknownMethod.Error())

	_, err = client.Health(context.Background())
	require.NoError(t, err)
}

func TestSessionsRoundTrip(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	client, _ := startServer(t, &stubHandler{
		sessions: []domain.SessionInfo{{
			ID:            "s1",
			ScopeID:       "scope",
			JobID:         "job",
			LastJobID:     "job2",
			Persistent:    true,
			Live:          true,
			Contexts:      2,
			Pages:         3,
			NamedContexts: []string{"login"},
			CreatedAt:     created,
			LastUsedAt:    created.Add(time.Minute),
		}, {ID: "", ScopeID: "other"}},
	}, time.Second)

	sessions, err := client.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	first := sessions[0]
	assert.Equal(t, "s1", first.ID)
	assert.Equal(t, "job2", first.LastJobID)
	assert.True(t, first.Persistent)
	assert.Equal(t, 3, first.Pages)
	assert.Equal(t, []string{"login"}, first.NamedContexts)
	assert.True(t, created.Equal(first.CreatedAt))
	assert.Equal(t, []string{}, sessions[1].NamedContexts)
}

func TestServeConnClosesIdleConnection(t *testing.T) {
	t.Parallel()

	_, done := startServer(t, &stubHandler{}, 50*time.Millisecond)
	require.NoError(t, waitServe(t, done))
}

func TestServeConnReturnsWhenPeerCloses(t *testing.T) {
	t.Parallel()

	client, done := startServer(t, &stubHandler{}, time.Second)
	require.NoError(t, client.Close())
	require.NoError(t, waitServe(t, done))
}

func TestClientHonoursContextCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	client, _ := startServer(t, &stubHandler{
		execute: func(context.Context, domain.ExecutionRequest) (domain.Result, error) {
			<-release
			return domain.Result{}, nil
		},
	}, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Execute(ctx, ExecuteParams{Code: "return 1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecuteKeepsChannelOrder(t *testing.T) {
	t.Parallel()

	client, done := startServer(t, &stubHandler{
		execute: func(context.Context, domain.ExecutionRequest) (domain.Result, error) {
			return domain.Result{
				Channels: []domain.ChannelOutput{
					{Channel: "zeta", Records: domain.Batch{domain.NewRecord(nil)}},
					{Channel: "alpha", Records: domain.Batch{}},
					{Channel: "mid", Records: domain.Batch{domain.NewRecord(map[string]any{"n": "1"})}},
				},
				SessionID: "sess-9",
			}, nil
		},
	}, time.Second)

	result, err := client.Execute(context.Background(), ExecuteParams{Code: "return {}"})
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, result.ChannelNames())
	assert.Equal(t, "sess-9", result.SessionID)
	assert.Empty(t, result.Channels["alpha"])

	encoded, err := json.Marshal(result)
	require.NoError(t, err)
	assert.JSONEq(t, `{"channels":{"zeta":[{"data":{},"attachments":{}}],"alpha":[],"mid":[{"data":{"n":"1"},"attachments":{}}]},"sessionId":"sess-9"}`, string(encoded))
	assert.Less(t, strings.Index(string(encoded), `"zeta"`), strings.Index(string(encoded), `"alpha"`))
	assert.Less(t, strings.Index(string(encoded), `"alpha"`), strings.Index(string(encoded), `"mid"`))

	require.NoError(t, waitServe(t, done))
}

func TestOrderedMapEncoding(t *testing.T) {
	t.Parallel()

	var m orderedMap
	for i := 0; i < 30; i++ {
		m.set(fmt.Sprintf("k%02d", 29-i), i)
	}

	data, err := Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, []byte{cborMajorMap | 24, 30}, data[:2])

	var plain map[string]any
	require.NoError(t, Unmarshal(data, &plain))
	assert.Len(t, plain, 30)

	pairs, err := decodeOrderedMap(data)
	require.NoError(t, err)
	require.Len(t, pairs, 30)
	assert.Equal(t, "k29", pairs[0].key)
	assert.Equal(t, "k00", pairs[29].key)
}

func TestDecodeOrderedMapAcceptsIndefiniteLength(t *testing.T) {
	t.Parallel()

	// {_ "b": 1, "a": 2}
	data := []byte{cborMajorMap | cborIndefinite, 0x61, 'b', 0x01, 0x61, 'a', 0x02, cborBreak}

	pairs, err := decodeOrderedMap(data)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, "b", pairs[0].key)
	assert.Equal(t, "a", pairs[1].key)
}

func TestDecodeOrderedMapRejectsNonMaps(t *testing.T) {
	t.Parallel()

	for _, data := range [][]byte{nil, {0x80}, {cborMajorMap | 25, 0x00}} {
		_, err := decodeOrderedMap(data)
		assert.ErrorIs(t, err, errNotMap)
	}
}
