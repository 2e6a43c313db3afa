package playwright

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFactoryEngines(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		engine  string
		want    string
		wantErr bool
	}{
		{engine: "", want: EngineChromium},
		{engine: EngineFirefox, want: EngineFirefox},
		{engine: EngineWebKit, want: EngineWebKit},
		{engine: "netscape", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.engine, func(t *testing.T) {
			t.Parallel()

			factory, err := NewFactory(Options{Engine: tc.engine}, nil)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrUnknownEngine)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, factory.opts.Engine)
		})
	}
}

func TestLaunchHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	factory, err := NewFactory(Options{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = factory.Launch(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, factory.driver)
}

func TestLaunchAfterCloseFails(t *testing.T) {
	t.Parallel()

	factory, err := NewFactory(Options{}, nil)
	require.NoError(t, err)
	require.NoError(t, factory.Close())

	_, err = factory.Launch(context.Background())
	assert.ErrorIs(t, err, ErrFactoryClosed)
}

func TestInstallRejectsUnknownEngine(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, Install("mosaic", false), ErrUnknownEngine)
}

func TestTimeout(t *testing.T) {
	t.Parallel()

	assert.Nil(t, timeout(0))
	assert.Nil(t, timeout(-5))
	require.NotNil(t, timeout(1500))
	assert.Equal(t, 1500.0, *timeout(1500))
}
