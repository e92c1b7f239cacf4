package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squad/internal/shared/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	server, err := New(context.Background(), cfg, nil, WithMetrics(MustNewMetrics(prometheus.NewRegistry())))
	require.NoError(t, err)
	return server
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestHealthz(t *testing.T) {
	router := newTestServer(t).buildRouter()
	rec := doJSON(t, router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestServer(t).buildRouter()
	rec := doJSON(t, router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	router := newTestServer(t).buildRouter()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/teams/T1/tasks", map[string]any{
		"title":   "ship the thing",
		"creator": "alice",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decode(t, rec, &created)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "ready", created.Status)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/teams/T1/tasks/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ready struct {
		Tasks []json.RawMessage `json:"tasks"`
	}
	decode(t, rec, &ready)
	assert.Len(t, ready.Tasks, 1)

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/tasks/%s/claim", created.ID), map[string]any{
		"worker_id": "w1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var claim struct {
		Claimed bool `json:"claimed"`
		Task    struct {
			Assignee string `json:"assignee"`
		} `json:"task"`
	}
	decode(t, rec, &claim)
	require.True(t, claim.Claimed)
	assert.Equal(t, "w1", claim.Task.Assignee)

	// Second claim loses without an error status.
	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/tasks/%s/claim", created.ID), map[string]any{
		"worker_id": "w2",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &claim)
	assert.False(t, claim.Claimed)

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/tasks/%s/complete", created.ID), map[string]any{
		"result": map[string]any{"k": 1},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var completed struct {
		Status string `json:"status"`
	}
	decode(t, rec, &completed)
	assert.Equal(t, "success", completed.Status)
}

func TestGetMissingTaskIsStructured404(t *testing.T) {
	router := newTestServer(t).buildRouter()
	rec := doJSON(t, router, http.MethodGet, "/api/v1/tasks/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	var body struct {
		Error struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "not_found", body.Error.Kind)
	assert.NotEmpty(t, body.Error.Message)
}

func TestWorkflowOverHTTP(t *testing.T) {
	router := newTestServer(t).buildRouter()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/teams/T1/workflows", map[string]any{
		"name": "release",
		"nodes": []map[string]any{
			{"id": "plan", "title": "Plan", "priority": 10},
			{"id": "ship", "title": "Ship", "priority": 5},
		},
		"edges": []map[string]string{{"from": "plan", "to": "ship"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var wf struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decode(t, rec, &wf)
	require.NotEmpty(t, wf.ID)
	assert.Equal(t, "pending", wf.Status)

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/workflows/%s/start", wf.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &wf)
	assert.Equal(t, "running", wf.Status)

	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/v1/workflows/%s/critical-path", wf.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestIncidentLifecycleOverHTTP(t *testing.T) {
	router := newTestServer(t).buildRouter()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/teams/T1/incidents", map[string]any{
		"worker":      "w1",
		"severity":    "high",
		"description": "w1 starves the rest of the team",
		"reported_by": "alice",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var incident struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decode(t, rec, &incident)
	require.NotEmpty(t, incident.ID)
	assert.Equal(t, "reported", incident.Status)

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/incidents/%s/transition", incident.ID),
		map[string]any{"to": "investigating"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &incident)
	assert.Equal(t, "investigating", incident.Status)

	// Skipping confirmed is illegal from investigating.
	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/incidents/%s/transition", incident.ID),
		map[string]any{"to": "resolved"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/teams/T1/incidents?status=investigating", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Incidents []struct {
			ID string `json:"id"`
		} `json:"incidents"`
	}
	decode(t, rec, &listed)
	require.Len(t, listed.Incidents, 1)
	assert.Equal(t, incident.ID, listed.Incidents[0].ID)
}

func TestUnknownBackendFailsConstruction(t *testing.T) {
	cfg := config.Default()
	cfg.StoreBackend = "cassandra"
	_, err := New(context.Background(), cfg, nil, WithMetrics(MustNewMetrics(prometheus.NewRegistry())))
	require.Error(t, err)
}
