package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditstack/chainlog/internal/backend"
	"github.com/auditstack/chainlog/internal/models"
	"github.com/auditstack/chainlog/internal/replication"
	"github.com/auditstack/chainlog/internal/store"
)

func newTestServer(t *testing.T, opts store.Options) (*HTTPServer, *store.Store) {
	t.Helper()
	if opts.DataDir == "" {
		opts.DataDir = t.TempDir()
	}
	logStore, err := store.New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { logStore.Close() })

	srv, err := NewHTTPServer(&ServerConfig{
		Host:         "127.0.0.1",
		Port:         0,
		EnableHealth: true,
	}, logStore, nil)
	require.NoError(t, err)
	return srv, logStore
}

func doJSON(t *testing.T, srv *HTTPServer, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestAppendEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, store.Options{})

	rec, body := doJSON(t, srv, http.MethodPost, "/api/v1/log", map[string]interface{}{
		"level":    "AUDIT",
		"message":  "user permission changed",
		"metadata": map[string]interface{}{"user": "alice"},
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(0), body["index"])
	assert.Len(t, body["hash"], 64)
}

func TestAppendDefaultsToInfoLevel(t *testing.T) {
	srv, logStore := newTestServer(t, store.Options{})

	rec, _ := doJSON(t, srv, http.MethodPost, "/api/v1/log", map[string]interface{}{
		"message": "no level given",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	entries, err := logStore.Read(models.EntryFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.LevelInfo, entries[0].Level)
}

func TestAppendRejectsEmptyMessage(t *testing.T) {
	srv, _ := newTestServer(t, store.Options{})

	rec, _ := doJSON(t, srv, http.MethodPost, "/api/v1/log", map[string]interface{}{
		"level": "INFO",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAppendRejectsMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t, store.Options{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/log", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReadEndpointFilters(t *testing.T) {
	srv, logStore := newTestServer(t, store.Options{})

	for i := 0; i < 3; i++ {
		_, err := logStore.Info(fmt.Sprintf("routine %d", i), nil)
		require.NoError(t, err)
	}
	_, err := logStore.Error("failed", nil)
	require.NoError(t, err)

	rec, body := doJSON(t, srv, http.MethodGet, "/api/v1/logs?level=ERROR", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["total"])

	rec, body = doJSON(t, srv, http.MethodGet, "/api/v1/logs?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["total"])

	rec, _ = doJSON(t, srv, http.MethodGet, "/api/v1/logs?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, srv, http.MethodGet, "/api/v1/logs?start=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchEndpoint(t *testing.T) {
	srv, logStore := newTestServer(t, store.Options{})

	_, err := logStore.Revenue("Sale completed", map[string]interface{}{"amount": 1000})
	require.NoError(t, err)
	_, err = logStore.Info("unrelated", nil)
	require.NoError(t, err)

	rec, body := doJSON(t, srv, http.MethodGet, "/api/v1/logs/search?q=revenue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["total"])
	assert.Equal(t, "revenue", body["query"])

	rec, _ = doJSON(t, srv, http.MethodGet, "/api/v1/logs/search", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyEndpoint(t *testing.T) {
	srv, logStore := newTestServer(t, store.Options{})

	_, err := logStore.Info("first", nil)
	require.NoError(t, err)

	rec, body := doJSON(t, srv, http.MethodGet, "/api/v1/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["verified"])
	_, present := body["first_bad_index"]
	assert.False(t, present)
}

func TestStatsEndpoint(t *testing.T) {
	srv, logStore := newTestServer(t, store.Options{})

	_, err := logStore.Info("one", nil)
	require.NoError(t, err)
	_, err = logStore.Warn("two", nil)
	require.NoError(t, err)

	rec, body := doJSON(t, srv, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["totalEntries"])
	assert.Equal(t, float64(2), body["chainLength"])
	assert.Equal(t, true, body["verified"])
	assert.Equal(t, false, body["cloudBackupEnabled"])
}

func TestReplicationStatusEndpoint(t *testing.T) {
	mem := backend.NewMemoryBackend()
	srv, logStore := newTestServer(t, store.Options{
		Backend: mem,
		Mode:    replication.ModeSync,
	})

	_, err := logStore.Audit("tracked", nil)
	require.NoError(t, err)

	rec, body := doJSON(t, srv, http.MethodGet, "/api/v1/replication/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["in_sync"])
	assert.Equal(t, float64(1), body["local_count"])
}

func TestAppendSurvivesSyncReplicationFailure(t *testing.T) {
	mem := backend.NewMemoryBackend()
	mem.FailUploads = true
	srv, logStore := newTestServer(t, store.Options{
		Backend: mem,
		Mode:    replication.ModeSync,
	})

	rec, body := doJSON(t, srv, http.MethodPost, "/api/v1/log", map[string]interface{}{
		"level":   "SECURITY",
		"message": "login rejected",
	})

	// The entry is durable locally even though the upload was refused.
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, 1, logStore.ChainLength())
}

func TestReplicationStatusWithoutBackendConflicts(t *testing.T) {
	srv, _ := newTestServer(t, store.Options{})

	rec, _ := doJSON(t, srv, http.MethodGet, "/api/v1/replication/status", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	srv, logStore := newTestServer(t, store.Options{})

	rec, body := doJSON(t, srv, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])

	require.NoError(t, logStore.Close())

	rec, body = doJSON(t, srv, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", body["status"])
}

func TestCORSHeadersOnResponses(t *testing.T) {
	srv, _ := newTestServer(t, store.Options{})

	rec, _ := doJSON(t, srv, http.MethodGet, "/api/v1/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestRequestIDHeader(t *testing.T) {
	srv, _ := newTestServer(t, store.Options{})

	rec, _ := doJSON(t, srv, http.MethodGet, "/api/v1/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, rec.Header().Get("X-Request-ID"), 32)

	// A caller-supplied ID is echoed back rather than replaced.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/logs", nil)
	req.Header.Set("X-Request-ID", "trace-1234")
	rec2 := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec2, req)
	assert.Equal(t, "trace-1234", rec2.Header().Get("X-Request-ID"))
}
