package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bnema/rexd/internal/adapters/browser/memory"
	"github.com/bnema/rexd/internal/domain"
	"github.com/bnema/rexd/internal/ports"
	"github.com/bnema/rexd/internal/ports/mocks"
)

type sandboxFunc func(ctx context.Context, job ports.SandboxJob) (domain.Result, error)

func (f sandboxFunc) Run(ctx context.Context, job ports.SandboxJob) (domain.Result, error) {
	return f(ctx, job)
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func mockAnyContext() any {
	return mock.Anything
}

func newTestService(t *testing.T, sandbox ports.Sandbox) (*ExecutionService, *Registry, *memory.Factory) {
	t.Helper()

	factory := memory.NewFactory()
	clock := newStepClock()
	registry := NewRegistry(factory, clock, nil)
	return NewExecutionService(registry, sandbox, clock, nil, "test"), registry, factory
}

func newRequest(t *testing.T, meta domain.ExecutionMetadata) domain.ExecutionRequest {
	t.Helper()

	req, err := domain.NewExecutionRequest("return {}", nil, meta)
	require.NoError(t, err)
	return req
}

// openPages opens n pages in the session's primary context.
func openPages(n int) sandboxFunc {
	return func(_ context.Context, job ports.SandboxJob) (domain.Result, error) {
		bc, err := job.Contexts.Acquire("", false)
		if err != nil {
			return domain.Result{}, err
		}
		for i := 0; i < n; i++ {
			page, err := bc.NewPage()
			if err != nil {
				return domain.Result{}, err
			}
			if err := page.Goto("https://example.test/"+string(rune('a'+i)), 0); err != nil {
				return domain.Result{}, err
			}
		}
		return domain.Result{Channels: []domain.ChannelOutput{{
			Channel: "A",
			Records: domain.Batch{domain.NewRecord(map[string]any{"x": int64(1)})},
		}}}, nil
	}
}

func TestExecuteWithoutRetentionDiscardsSession(t *testing.T) {
	t.Parallel()

	service, registry, factory := newTestService(t, openPages(1))

	result, err := service.Execute(context.Background(), newRequest(t, domain.ExecutionMetadata{ScopeID: "wf-1", JobID: "job-1"}))
	require.NoError(t, err)

	assert.Empty(t, result.SessionID)
	_, found := registry.Lookup(domain.Identity{ScopeID: "wf-1", JobID: "job-1"})
	assert.False(t, found)
	require.Len(t, factory.Launched(), 1)
	assert.Equal(t, 1, factory.Launched()[0].CloseCount())
	assert.False(t, factory.Launched()[0].IsConnected())
}

func TestExecuteKeepContextClosesOnlyPages(t *testing.T) {
	t.Parallel()

	service, registry, factory := newTestService(t, openPages(2))

	result, err := service.Execute(context.Background(), newRequest(t, domain.ExecutionMetadata{
		ScopeID: "wf-1", JobID: "job-1", WantsRetentionOfContext: true,
	}))
	require.NoError(t, err)

	require.NotEmpty(t, result.SessionID)
	session, found := registry.Get(result.SessionID)
	require.True(t, found)
	assert.True(t, session.Persistent())

	controller := factory.Launched()[0]
	assert.True(t, controller.IsConnected())
	assert.Len(t, controller.Contexts(), 1)
	assert.Equal(t, 0, controller.PageCount())
	assert.Same(t, controller.Contexts()[0], session.primaryContext())
}

func TestExecuteKeepPagesKeepsEverything(t *testing.T) {
	t.Parallel()

	service, _, factory := newTestService(t, openPages(2))

	result, err := service.Execute(context.Background(), newRequest(t, domain.ExecutionMetadata{
		ScopeID: "wf-1", JobID: "job-1", WantsRetentionOfPages: true,
	}))
	require.NoError(t, err)

	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, 2, factory.Launched()[0].PageCount())
}

func TestExecuteSameIdentityReusesSession(t *testing.T) {
	t.Parallel()

	var reused []bool
	service, _, factory := newTestService(t, sandboxFunc(func(_ context.Context, job ports.SandboxJob) (domain.Result, error) {
		reused = append(reused, job.Session.Reused)
		return domain.Result{}, nil
	}))
	meta := domain.ExecutionMetadata{ScopeID: "wf-1", JobID: "job-1", WantsRetentionOfContext: true}

	first, err := service.Execute(context.Background(), newRequest(t, meta))
	require.NoError(t, err)
	second, err := service.Execute(context.Background(), newRequest(t, meta))
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Len(t, factory.Launched(), 1)
	assert.Equal(t, []bool{false, true}, reused)
}

func TestExecutePersistentScopeFallback(t *testing.T) {
	t.Parallel()

	service, registry, factory := newTestService(t, openPages(0))

	first, err := service.Execute(context.Background(), newRequest(t, domain.ExecutionMetadata{
		ScopeID: "wf-1", JobID: "job-1", WantsRetentionOfContext: true,
	}))
	require.NoError(t, err)
	second, err := service.Execute(context.Background(), newRequest(t, domain.ExecutionMetadata{
		ScopeID: "wf-1", JobID: "job-2", WantsRetentionOfContext: true,
	}))
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Len(t, factory.Launched(), 1)

	infos := registry.Snapshot()
	require.Len(t, infos, 1)
	assert.Equal(t, domain.JobID("job-1"), infos[0].JobID)
	assert.Equal(t, domain.JobID("job-2"), infos[0].LastJobID)
}

func TestExecuteDifferentScopeDoesNotShareSession(t *testing.T) {
	t.Parallel()

	service, _, factory := newTestService(t, openPages(0))

	first, err := service.Execute(context.Background(), newRequest(t, domain.ExecutionMetadata{
		ScopeID: "wf-1", JobID: "job-1", WantsRetentionOfContext: true,
	}))
	require.NoError(t, err)
	second, err := service.Execute(context.Background(), newRequest(t, domain.ExecutionMetadata{
		ScopeID: "wf-2", JobID: "job-1", WantsRetentionOfContext: true,
	}))
	require.NoError(t, err)

	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Len(t, factory.Launched(), 2)
}

func TestExecuteUnknownExplicitSessionFails(t *testing.T) {
	t.Parallel()

	sandbox := mocks.NewMockSandbox(t)
	service, registry, factory := newTestService(t, sandbox)

	_, err := service.Execute(context.Background(), newRequest(t, domain.ExecutionMetadata{
		ScopeID: "wf-1", JobID: "job-1", ExplicitSessionID: "missing", WantsRetentionOfContext: true,
	}))

	var resolutionErr *domain.ResolutionError
	require.ErrorAs(t, err, &resolutionErr)
	assert.Equal(t, domain.SessionID("missing"), resolutionErr.SessionID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Equal(t, 0, registry.Len())
	assert.Empty(t, factory.Launched())
}

func TestExecuteExplicitSessionWithDeadControllerFails(t *testing.T) {
	t.Parallel()

	service, registry, factory := newTestService(t, openPages(0))

	first, err := service.Execute(context.Background(), newRequest(t, domain.ExecutionMetadata{
		ScopeID: "wf-1", JobID: "job-1", WantsRetentionOfContext: true,
	}))
	require.NoError(t, err)
	factory.Launched()[0].Disconnect()

	_, err = service.Execute(context.Background(), newRequest(t, domain.ExecutionMetadata{
		ScopeID: "wf-1", JobID: "job-1", ExplicitSessionID: first.SessionID, WantsRetentionOfContext: true,
	}))

	assert.ErrorIs(t, err, domain.ErrSessionNotLive)
	assert.Equal(t, 0, registry.Len())
	assert.Len(t, factory.Launched(), 1)
}

func TestExecuteExplicitSessionRoutesAcrossScopes(t *testing.T) {
	t.Parallel()

	service, _, factory := newTestService(t, openPages(0))

	first, err := service.Execute(context.Background(), newRequest(t, domain.ExecutionMetadata{
		ScopeID: "wf-1", JobID: "job-1", WantsRetentionOfContext: true,
	}))
	require.NoError(t, err)
	second, err := service.Execute(context.Background(), newRequest(t, domain.ExecutionMetadata{
		ScopeID: "wf-9", JobID: "job-9", ExplicitSessionID: first.SessionID, WantsRetentionOfContext: true,
	}))
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Len(t, factory.Launched(), 1)
}

func TestExecuteDeadSessionIsReplaced(t *testing.T) {
	t.Parallel()

	service, registry, factory := newTestService(t, openPages(0))
	meta := domain.ExecutionMetadata{ScopeID: "wf-1", JobID: "job-1", WantsRetentionOfContext: true}

	first, err := service.Execute(context.Background(), newRequest(t, meta))
	require.NoError(t, err)
	factory.Launched()[0].Disconnect()

	second, err := service.Execute(context.Background(), newRequest(t, meta))
	require.NoError(t, err)

	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Len(t, factory.Launched(), 2)
	assert.Equal(t, 1, registry.Len())
}

func TestExecuteFragmentErrorStillAppliesRetention(t *testing.T) {
	t.Parallel()

	boom := &domain.ExecutionError{Message: "boom"}
	failing := sandboxFunc(func(_ context.Context, job ports.SandboxJob) (domain.Result, error) {
		bc, err := job.Contexts.Acquire("", false)
		require.NoError(t, err)
		_, err = bc.NewPage()
		require.NoError(t, err)
		return domain.Result{}, boom
	})

	testCases := []struct {
		name          string
		meta          domain.ExecutionMetadata
		wantConnected bool
		wantPages     int
	}{
		{name: "discarded", meta: domain.ExecutionMetadata{ScopeID: "wf", JobID: "j"}, wantConnected: false},
		{name: "scope kept", meta: domain.ExecutionMetadata{ScopeID: "wf", JobID: "j", WantsRetentionOfContext: true}, wantConnected: true},
		{name: "all kept", meta: domain.ExecutionMetadata{ScopeID: "wf", JobID: "j", WantsRetentionOfPages: true}, wantConnected: true, wantPages: 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			service, _, factory := newTestService(t, failing)

			result, err := service.Execute(context.Background(), newRequest(t, tc.meta))
			require.Error(t, err)
			assert.Equal(t, "boom", err.Error())
			assert.Empty(t, result.Channels)

			controller := factory.Launched()[0]
			assert.Equal(t, tc.wantConnected, controller.IsConnected())
			if tc.wantConnected {
				assert.Equal(t, tc.wantPages, controller.PageCount())
				assert.Equal(t, 0, controller.CloseCount())
			}
		})
	}
}

func TestExecuteRecoversSandboxPanic(t *testing.T) {
	t.Parallel()

	service, registry, factory := newTestService(t, sandboxFunc(func(context.Context, ports.SandboxJob) (domain.Result, error) {
		panic("sandbox exploded")
	}))

	_, err := service.Execute(context.Background(), newRequest(t, domain.ExecutionMetadata{ScopeID: "wf", JobID: "j"}))

	var execErr *domain.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "sandbox exploded", execErr.Message)
	assert.Equal(t, 0, registry.Len())
	assert.Equal(t, 1, factory.Launched()[0].CloseCount())
}

func TestExecuteLaunchFailureLeavesNoSession(t *testing.T) {
	t.Parallel()

	sandbox := mocks.NewMockSandbox(t)
	service, registry, factory := newTestService(t, sandbox)
	factory.FailLaunches(errors.New("browser missing"))

	_, err := service.Execute(context.Background(), newRequest(t, domain.ExecutionMetadata{
		ScopeID: "wf", JobID: "j", WantsRetentionOfContext: true,
	}))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "browser missing")
	assert.Equal(t, 0, registry.Len())
}

func TestExecutePassesSessionViewToSandbox(t *testing.T) {
	t.Parallel()

	sandbox := mocks.NewMockSandbox(t)
	service, _, _ := newTestService(t, sandbox)

	sandbox.EXPECT().Run(mockAnyContext(), mock.MatchedBy(func(job ports.SandboxJob) bool {
		return job.Code == "return {}" &&
			job.Session.ScopeID == "wf-1" &&
			job.Session.ScopeName == "Checkout" &&
			job.Session.CallerName == "Login step" &&
			job.Session.KeepContext &&
			job.Session.KeepPages &&
			job.Session.Persistent &&
			!job.Session.Reused &&
			job.Session.SessionID != "" &&
			job.Controller != nil
	})).Return(domain.Result{}, nil)

	_, err := service.Execute(context.Background(), newRequest(t, domain.ExecutionMetadata{
		ScopeID:               "wf-1",
		ScopeName:             "Checkout",
		JobID:                 "job-1",
		CallerName:            "Login step",
		WantsRetentionOfPages: true,
	}))
	require.NoError(t, err)
}

func TestExecuteAutoCapture(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		pages    int
		wantKeys []string
	}{
		{name: "no pages", pages: 0},
		{name: "one page", pages: 1, wantKeys: []string{"screenshot"}},
		{name: "two pages", pages: 2, wantKeys: []string{"screenshot_0", "screenshot_1"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			service, _, _ := newTestService(t, openPages(tc.pages))

			result, err := service.Execute(context.Background(), newRequest(t, domain.ExecutionMetadata{
				ScopeID: "wf", JobID: "j", AutoCapture: true,
			}))
			require.NoError(t, err)

			batch, ok := result.Channel("A")
			require.True(t, ok)
			require.Len(t, batch, 1)

			keys := make([]string, 0, len(batch[0].Attachments))
			for key := range batch[0].Attachments {
				keys = append(keys, key)
			}
			assert.ElementsMatch(t, tc.wantKeys, keys)

			switch tc.pages {
			case 0:
				assert.Equal(t, map[string]any{"x": int64(1)}, batch[0].Data)
			case 1:
				assert.Equal(t, "https://example.test/a", batch[0].Data["screenshotUrl"])
				attachment := batch[0].Attachments["screenshot"].(map[string]any)
				assert.Equal(t, "image/png", attachment["mimeType"])
				assert.Equal(t, "screenshot.png", attachment["fileName"])
			case 2:
				assert.Equal(t, []any{"https://example.test/a", "https://example.test/b"}, batch[0].Data["screenshotUrls"])
			}
		})
	}
}

func TestExecuteCaptureOnEmptyResultCreatesItem(t *testing.T) {
	t.Parallel()

	service, _, _ := newTestService(t, sandboxFunc(func(_ context.Context, job ports.SandboxJob) (domain.Result, error) {
		bc, err := job.Contexts.Acquire("", false)
		require.NoError(t, err)
		_, err = bc.NewPage()
		require.NoError(t, err)
		return domain.Result{}, nil
	}))

	result, err := service.Execute(context.Background(), newRequest(t, domain.ExecutionMetadata{
		ScopeID: "wf", JobID: "j", AutoCapture: true,
	}))
	require.NoError(t, err)

	batch, ok := result.Channel(domain.DefaultChannel)
	require.True(t, ok)
	require.Len(t, batch, 1)
	assert.Contains(t, batch[0].Attachments, "screenshot")
}

func TestExecuteCaptureFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	service, _, _ := newTestService(t, sandboxFunc(func(_ context.Context, job ports.SandboxJob) (domain.Result, error) {
		bc, err := job.Contexts.Acquire("", false)
		require.NoError(t, err)
		page, err := bc.NewPage()
		require.NoError(t, err)
		page.(*memory.Page).FailScreenshots(errors.New("gpu lost"))
		return domain.Result{Channels: []domain.ChannelOutput{{Channel: "A", Records: domain.Batch{domain.NewRecord(nil)}}}}, nil
	}))

	result, err := service.Execute(context.Background(), newRequest(t, domain.ExecutionMetadata{
		ScopeID: "wf", JobID: "j", AutoCapture: true,
	}))
	require.NoError(t, err)

	batch, _ := result.Channel("A")
	require.Len(t, batch, 1)
	assert.Empty(t, batch[0].Attachments)
}

func TestExecuteFailureLogsOpenPagesWhenCapturing(t *testing.T) {
	t.Parallel()

	failing := sandboxFunc(func(ctx context.Context, job ports.SandboxJob) (domain.Result, error) {
		if _, err := openPages(2)(ctx, job); err != nil {
			return domain.Result{}, err
		}
		return domain.Result{}, &domain.ExecutionError{Message: "selector not found"}
	})

	testCases := []struct {
		name        string
		autoCapture bool
		wantURLs    []any
	}{
		{name: "capture on", autoCapture: true, wantURLs: []any{"https://example.test/a", "https://example.test/b"}},
		{name: "capture off", autoCapture: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			core, logs := observer.New(zapcore.InfoLevel)
			clock := newStepClock()
			registry := NewRegistry(memory.NewFactory(), clock, nil)
			service := NewExecutionService(registry, failing, clock, zap.New(core), "test")

			_, err := service.Execute(context.Background(), newRequest(t, domain.ExecutionMetadata{
				ScopeID: "wf", JobID: "j", AutoCapture: tc.autoCapture,
			}))
			require.Error(t, err)

			entries := logs.FilterMessage("pages open at failure").All()
			if tc.wantURLs == nil {
				assert.Empty(t, entries)
				return
			}
			require.Len(t, entries, 1)
			fields := entries[0].ContextMap()
			assert.Equal(t, "wf", fields["scope_id"])
			assert.Equal(t, "j", fields["job_id"])
			assert.Equal(t, tc.wantURLs, fields["urls"])
		})
	}
}

func TestExecuteConcurrentCallersNeverOverlap(t *testing.T) {
	t.Parallel()

	var inFlight, maxInFlight, runs atomic.Int32
	sandbox := sandboxFunc(func(_ context.Context, job ports.SandboxJob) (domain.Result, error) {
		current := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			seen := maxInFlight.Load()
			if current <= seen || maxInFlight.CompareAndSwap(seen, current) {
				break
			}
		}

		if !job.Controller.IsConnected() {
			return domain.Result{}, errors.New("controller torn down under a running fragment")
		}
		bc, err := job.Contexts.Acquire("", false)
		if err != nil {
			return domain.Result{}, err
		}
		if _, err := bc.NewPage(); err != nil {
			return domain.Result{}, err
		}
		time.Sleep(time.Millisecond)
		runs.Add(1)
		return domain.Result{}, nil
	})
	service, registry, factory := newTestService(t, sandbox)

	const callers = 32
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			meta := domain.ExecutionMetadata{ScopeID: "wf-1", JobID: "job-1", WantsRetentionOfContext: true}
			if i%4 == 0 {
				meta.JobID = "job-other"
			}
			if i%8 == 0 {
				meta.WantsRetentionOfPages = true
			}
			req, err := domain.NewExecutionRequest("return {}", nil, meta)
			if err != nil {
				errs <- err
				return
			}
			_, err = service.Execute(context.Background(), req)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(callers), runs.Load())
	assert.Equal(t, int32(1), maxInFlight.Load())
	require.Len(t, factory.Launched(), 1)
	assert.True(t, factory.Launched()[0].IsConnected())
	assert.Equal(t, 0, factory.Launched()[0].CloseCount())
	assert.Equal(t, 1, registry.Len())
}

func TestExecuteConcurrentEphemeralCallersGetOwnControllers(t *testing.T) {
	t.Parallel()

	var inFlight, maxInFlight atomic.Int32
	sandbox := sandboxFunc(func(_ context.Context, job ports.SandboxJob) (domain.Result, error) {
		current := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			seen := maxInFlight.Load()
			if current <= seen || maxInFlight.CompareAndSwap(seen, current) {
				break
			}
		}
		if !job.Controller.IsConnected() {
			return domain.Result{}, errors.New("controller torn down under a running fragment")
		}
		time.Sleep(time.Millisecond)
		return domain.Result{}, nil
	})
	service, registry, factory := newTestService(t, sandbox)

	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := domain.NewExecutionRequest("return {}", nil, domain.ExecutionMetadata{ScopeID: "wf", JobID: "j"})
			if err != nil {
				errs <- err
				return
			}
			_, err = service.Execute(context.Background(), req)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Equal(t, 0, registry.Len())
	for _, controller := range factory.Launched() {
		assert.Equal(t, 1, controller.CloseCount())
	}
}

func TestShutdownClosesEverySession(t *testing.T) {
	t.Parallel()

	service, registry, factory := newTestService(t, openPages(1))
	for _, scope := range []domain.ScopeID{"wf-1", "wf-2", "wf-3"} {
		_, err := service.Execute(context.Background(), newRequest(t, domain.ExecutionMetadata{
			ScopeID: scope, JobID: "j", WantsRetentionOfPages: true,
		}))
		require.NoError(t, err)
	}
	factory.Launched()[1].FailClose(errors.New("already gone"))

	err := service.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already gone")

	assert.Equal(t, 0, registry.Len())
	for _, controller := range factory.Launched() {
		assert.Equal(t, 1, controller.CloseCount())
	}

	_, err = service.Execute(context.Background(), newRequest(t, domain.ExecutionMetadata{ScopeID: "wf-1", JobID: "j"}))
	assert.ErrorIs(t, err, ErrRegistryClosed)
}

func TestHealthReportsSessions(t *testing.T) {
	t.Parallel()

	clock := mocks.NewMockClock(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock.EXPECT().Now().Return(now)

	factory := memory.NewFactory()
	registry := NewRegistry(factory, clock, nil)
	service := NewExecutionService(registry, openPages(0), clock, nil, "1.2.3")

	_, err := service.Execute(context.Background(), newRequest(t, domain.ExecutionMetadata{
		ScopeID: "wf", JobID: "j", WantsRetentionOfContext: true,
	}))
	require.NoError(t, err)

	health := service.Health(context.Background())
	assert.Equal(t, domain.Health{Status: "ok", Timestamp: now, Version: "1.2.3", Sessions: 1}, health)

	sessions := service.Sessions(context.Background())
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Live)
	assert.Equal(t, 1, sessions[0].Contexts)
}
