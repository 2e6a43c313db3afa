package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControllerCloseCascades(t *testing.T) {
	t.Parallel()

	controller := NewController()
	bc, err := controller.NewContext()
	require.NoError(t, err)
	page, err := bc.NewPage()
	require.NoError(t, err)

	require.NoError(t, controller.Close())

	assert.False(t, controller.IsConnected())
	assert.True(t, bc.IsClosed())
	assert.True(t, page.IsClosed())
	assert.Empty(t, controller.Contexts())
	assert.Equal(t, 1, controller.CloseCount())

	_, err = controller.NewContext()
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestContextsListsOnlyLiveEntries(t *testing.T) {
	t.Parallel()

	controller := NewController()
	first, err := controller.NewContext()
	require.NoError(t, err)
	second, err := controller.NewContext()
	require.NoError(t, err)
	require.NoError(t, first.Close())

	live := controller.Contexts()
	require.Len(t, live, 1)
	assert.Same(t, second, live[0])
}

func TestPageRecordsNavigationAndFields(t *testing.T) {
	t.Parallel()

	controller := NewController()
	bc, err := controller.NewContext()
	require.NoError(t, err)
	page, err := bc.NewPage()
	require.NoError(t, err)

	require.NoError(t, page.Goto("https://example.test/login", 1000))
	require.NoError(t, page.Fill("#user", "alice", 0))

	text, err := page.TextContent("#user", 0)
	require.NoError(t, err)
	assert.Equal(t, "alice", text)
	assert.Equal(t, "https://example.test/login", page.URL())

	shot, err := page.Screenshot()
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), shot[:4])

	require.NoError(t, page.Close())
	assert.ErrorIs(t, page.Click("#submit", 0), ErrClosed)
	assert.Empty(t, bc.Pages())
}

func TestFactoryLaunchFailure(t *testing.T) {
	t.Parallel()

	factory := NewFactory()
	factory.FailLaunches(errors.New("no display"))

	_, err := factory.Launch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no display")
	assert.Empty(t, factory.Launched())

	factory.FailLaunches(nil)
	_, err = factory.Launch(context.Background())
	require.NoError(t, err)
	assert.Len(t, factory.Launched(), 1)
}

func TestDisconnectHidesContexts(t *testing.T) {
	t.Parallel()

	controller := NewController()
	bc, err := controller.NewContext()
	require.NoError(t, err)

	controller.Disconnect()

	assert.True(t, bc.IsClosed())
	assert.Empty(t, controller.Contexts())
	assert.Equal(t, 0, controller.CloseCount())
}
