package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hezky/lab-heartbeat/internal/config"
	"github.com/hezky/lab-heartbeat/internal/registry"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Supervisor.DataDir = t.TempDir()
	cfg.Supervisor.ListenAddr = "127.0.0.1:0"
	return cfg
}

func TestOpenWiresComponents(t *testing.T) {
	ctx := context.Background()

	sup, err := Open(ctx, testConfig(t))
	require.NoError(t, err)
	defer sup.Close()

	require.NotNil(t, sup.Registry)
	require.NotNil(t, sup.Controller)
	require.NotNil(t, sup.Monitor)
	require.NotNil(t, sup.Tracker)
	require.NotNil(t, sup.API)
	assert.NotEmpty(t, sup.InstanceID)

	// The store is usable through the context object.
	id, err := sup.Registry.Register(ctx, &registry.ProcessConfig{
		Name:          "smoke",
		Command:       "sleep 1",
		Type:          registry.TypeShell,
		Workdir:       "/tmp",
		RestartPolicy: registry.RestartNever,
	})
	require.NoError(t, err)

	info, err := sup.Registry.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, registry.StateRegistered, info.State)
}

func TestRunStopsOnCancel(t *testing.T) {
	sup, err := Open(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer sup.Close()

	require.NoError(t, sup.StartLoops())
	require.Error(t, sup.StartLoops(), "double StartLoops is rejected")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
