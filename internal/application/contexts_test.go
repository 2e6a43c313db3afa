package application

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/rexd/internal/adapters/browser/memory"
	"github.com/bnema/rexd/internal/domain"
	"github.com/bnema/rexd/internal/ports"
)

func acquireLease(t *testing.T, persistent bool) (*Lease, *Registry, *stepClock) {
	t.Helper()

	clock := newStepClock()
	registry := NewRegistry(memory.NewFactory(), clock, nil)
	lease, err := registry.Acquire(context.Background(), Query{Identity: domain.Identity{ScopeID: "wf", JobID: "j"}, WantsRetention: persistent})
	require.NoError(t, err)
	t.Cleanup(lease.Release)
	return lease, registry, clock
}

func TestSessionContextsPrimaryIsReused(t *testing.T) {
	t.Parallel()

	lease, _, clock := acquireLease(t, true)
	contexts := NewSessionContexts(lease, clock, "")

	first, err := contexts.Acquire("", false)
	require.NoError(t, err)
	second, err := contexts.Acquire("  ", false)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Len(t, lease.Controller.Contexts(), 1)

	require.NoError(t, first.Close())
	third, err := contexts.Acquire("", false)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Same(t, third, lease.Session.primaryContext())
}

func TestSessionContextsNamedResolution(t *testing.T) {
	t.Parallel()

	lease, _, clock := acquireLease(t, true)
	contexts := NewSessionContexts(lease, clock, "")

	alice, err := contexts.Acquire("alice", false)
	require.NoError(t, err)
	again, err := contexts.Acquire("alice", false)
	require.NoError(t, err)
	assert.Same(t, alice, again)

	older, err := contexts.Acquire("bob", true)
	require.NoError(t, err)
	newer, err := contexts.Acquire("bob", true)
	require.NoError(t, err)
	assert.NotSame(t, older, newer)

	partial, err := contexts.Acquire("bob", false)
	require.NoError(t, err)
	assert.Same(t, newer, partial)

	names := contexts.Names()
	require.Len(t, names, 3)
	assert.Equal(t, "alice", names[0])
	for _, name := range names[1:] {
		assert.True(t, strings.HasPrefix(name, "bob_"), name)
	}

	require.NoError(t, newer.Close())
	partial, err = contexts.Acquire("bob", false)
	require.NoError(t, err)
	assert.Same(t, older, partial)
}

func TestSessionContextsDefaultName(t *testing.T) {
	t.Parallel()

	lease, _, clock := acquireLease(t, true)
	contexts := NewSessionContexts(lease, clock, "account-2")

	bc, err := contexts.Acquire("", false)
	require.NoError(t, err)

	assert.Equal(t, []string{"account-2"}, contexts.Names())
	assert.Nil(t, lease.Session.primaryContext())

	other, err := contexts.Acquire("account-3", false)
	require.NoError(t, err)
	assert.NotSame(t, bc, other)
}

func TestRefreshBookkeepingPrunesDeadContexts(t *testing.T) {
	t.Parallel()

	lease, registry, clock := acquireLease(t, true)
	contexts := NewSessionContexts(lease, clock, "")

	kept, err := contexts.Acquire("kept", false)
	require.NoError(t, err)
	dropped, err := contexts.Acquire("dropped", false)
	require.NoError(t, err)
	require.NoError(t, dropped.Close())

	NewLifecycleManager(registry, nil).Apply(lease, "keep_scope")

	assert.Equal(t, []string{"kept"}, contexts.Names())
	assert.Same(t, kept, lease.Session.primaryContext())
	_, tracked := lease.Session.contextMeta["dropped"]
	assert.False(t, tracked)
}

func TestUniqueKeySkipsTakenStamps(t *testing.T) {
	t.Parallel()

	existing := map[string]ports.BrowsingContext{"acct_100": nil, "acct_101": nil}
	assert.Equal(t, "acct_102", uniqueKey(existing, "acct", 100))
}
