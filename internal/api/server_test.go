package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hezky/lab-heartbeat/internal/heartbeat"
	"github.com/hezky/lab-heartbeat/internal/monitor"
	"github.com/hezky/lab-heartbeat/internal/registry"
)

func setupAPI(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "registry.db")
	reg, err := registry.OpenPath(context.Background(), dbPath)
	require.NoError(t, err, "failed to open registry")
	t.Cleanup(func() { reg.Close() })

	s := New(":0", reg, heartbeat.New(reg), monitor.New(reg))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return srv, reg
}

func registerStarting(t *testing.T, reg *registry.Registry, name string) string {
	t.Helper()
	ctx := context.Background()

	id, err := reg.Register(ctx, &registry.ProcessConfig{
		Name:          name,
		Command:       "sleep 60",
		Type:          registry.TypeShell,
		Workdir:       "/tmp",
		RestartPolicy: registry.RestartNever,
	})
	require.NoError(t, err)
	require.NoError(t, reg.UpdateState(ctx, id, registry.StateStarting, nil, ""))
	return id
}

func TestHeartbeatIngress(t *testing.T) {
	srv, reg := setupAPI(t)
	ctx := context.Background()

	id := registerStarting(t, reg, "pinger")

	resp, err := http.Post(srv.URL+"/api/heartbeat", "application/json",
		strings.NewReader(`{"process_id": "`+id+`"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The heartbeat landed and promoted the starting record.
	info, err := reg.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, registry.StateRunning, info.State)
	assert.NotNil(t, info.LastHeartbeat)
}

func TestHeartbeatUnknownID(t *testing.T) {
	srv, _ := setupAPI(t)

	resp, err := http.Post(srv.URL+"/api/heartbeat", "application/json",
		strings.NewReader(`{"process_id": "ghost_20250101_000000"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHeartbeatBadPayload(t *testing.T) {
	srv, _ := setupAPI(t)

	for _, body := range []string{"", "not json", `{"process_id": ""}`} {
		resp, err := http.Post(srv.URL+"/api/heartbeat", "application/json",
			strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "payload %q", body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, reg := setupAPI(t)

	id := registerStarting(t, reg, "visible")

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status map[string]heartbeat.ProcessStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.Contains(t, status, id)
	assert.Equal(t, "visible", status[id].Name)
	assert.Equal(t, string(registry.StateStarting), status[id].State)
}

func TestListProcessesEndpoint(t *testing.T) {
	srv, reg := setupAPI(t)

	registerStarting(t, reg, "one")
	registerStarting(t, reg, "two")

	resp, err := http.Get(srv.URL + "/api/processes")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var views []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	assert.Len(t, views, 2)

	// State filter narrows the result.
	resp2, err := http.Get(srv.URL + "/api/processes?state=registered")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var none []map[string]any
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&none))
	assert.Empty(t, none)
}

func TestGetProcessEndpoint(t *testing.T) {
	srv, reg := setupAPI(t)

	registerStarting(t, reg, "lookup")

	resp, err := http.Get(srv.URL + "/api/processes/lookup")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, "lookup", view["name"])

	resp2, err := http.Get(srv.URL + "/api/processes/nobody")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}
