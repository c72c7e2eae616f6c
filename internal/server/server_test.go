package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/verdict/internal/engine"
	"github.com/dwsmith1983/verdict/internal/lifecycle"
	"github.com/dwsmith1983/verdict/internal/llm"
	"github.com/dwsmith1983/verdict/internal/persona"
	"github.com/dwsmith1983/verdict/internal/provider/memory"
	"github.com/dwsmith1983/verdict/internal/testutil"
	"github.com/dwsmith1983/verdict/pkg/types"
)

var testTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func setupTestServer(t *testing.T) (*httptest.Server, *testutil.FakeClient) {
	t.Helper()
	return setupTestServerWithOpts(t, "", 0)
}

func setupTestServerWithOpts(t *testing.T, apiKey string, maxBody int64) (*httptest.Server, *testutil.FakeClient) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	prov := memory.New()
	reg, err := persona.Default(persona.WithLogger(logger))
	require.NoError(t, err)

	mgr := lifecycle.NewManager(prov, reg,
		lifecycle.WithLogger(logger),
		lifecycle.WithClock(testutil.FixedClock(testTime)),
		lifecycle.WithVersions("v1", llm.PromptSetVersion),
	)
	client := testutil.NewFakeClient(testutil.Confidences(0.9, 0.85, 0.95, 0.9, 0.88))
	eng := engine.New(mgr, client,
		engine.WithConfig(engine.Config{StepTimeout: time.Second, MaxRetries: 1, RetryInterval: time.Millisecond}),
		engine.WithLogger(logger),
	)
	srv := New(":0", eng, WithAPIKey(apiKey), WithMaxRequestBody(maxBody), WithLogger(logger))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, client
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func createRun(t *testing.T, ts *httptest.Server, idea string) types.RunBundle {
	t.Helper()
	resp := postJSON(t, ts.URL+"/api/runs", `{"idea":"`+idea+`"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[types.RunBundle](t, resp)
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp := get(t, ts.URL+"/api/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	body := decode[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestRequestID_Propagated(t *testing.T) {
	ts, _ := setupTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "abc-123", resp.Header.Get("X-Request-ID"))
}

func TestListPersonas(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp := get(t, ts.URL+"/api/personas")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	personas := decode[[]types.Persona](t, resp)
	require.Len(t, personas, 5)
	var sum float64
	for _, p := range personas {
		sum += p.DefaultWeight
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestE2E_EvaluateReviseDiff(t *testing.T) {
	ts, client := setupTestServer(t)

	client.SetReview("critic", testutil.ReviewDoc("critic", 0.4))
	parent := createRun(t, ts, "offline sync")
	assert.Equal(t, types.RunCompleted, parent.Run.Status)
	assert.Len(t, parent.Reviews, 5)
	require.NotNil(t, parent.Decision)

	// Get
	resp := get(t, ts.URL+"/api/runs/"+parent.Run.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[types.RunBundle](t, resp)
	assert.Equal(t, parent.Run.ID, got.Run.ID)

	// Revise
	client.SetReview("critic", testutil.ReviewDoc("critic", 0.9))
	resp = postJSON(t, ts.URL+"/api/runs/"+parent.Run.ID+"/revisions", `{"user_notes":"address the critic"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	child := decode[types.RunBundle](t, resp)
	assert.Equal(t, types.RunRevision, child.Run.RunType)
	require.NotNil(t, child.Run.ParentRunID)
	assert.Equal(t, parent.Run.ID, *child.Run.ParentRunID)
	assert.Equal(t, 1, client.ReviewCalls("architect"))
	assert.Equal(t, 2, client.ReviewCalls("critic"))

	// Children
	resp = get(t, ts.URL+"/api/runs/"+parent.Run.ID+"/children")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	children := decode[[]types.Run](t, resp)
	require.Len(t, children, 1)
	assert.Equal(t, child.Run.ID, children[0].ID)

	// Diff
	resp = get(t, ts.URL+"/api/diff?runA="+parent.Run.ID+"&runB="+child.Run.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	d := decode[types.RunDiff](t, resp)
	assert.Equal(t, types.RelationshipAParentOfB, d.Relationship)

	// Events
	resp = get(t, ts.URL+"/api/runs/"+child.Run.ID+"/events?limit=100")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := decode[[]types.Event](t, resp)
	assert.NotEmpty(t, events)

	// Delete cascades
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/runs/"+parent.Run.ID, nil)
	dresp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = dresp.Body.Close() }()
	assert.Equal(t, http.StatusNoContent, dresp.StatusCode)

	resp = get(t, ts.URL+"/api/runs/"+child.Run.ID)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListRuns(t *testing.T) {
	ts, _ := setupTestServer(t)
	first := createRun(t, ts, "first")
	second := createRun(t, ts, "second")

	resp := get(t, ts.URL+"/api/runs?status=COMPLETED")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	runs := decode[[]types.Run](t, resp)
	require.Len(t, runs, 2)
	assert.Equal(t, second.Run.ID, runs[0].ID)
	assert.Equal(t, first.Run.ID, runs[1].ID)

	resp = get(t, ts.URL+"/api/runs?limit=1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]types.Run](t, resp), 1)

	resp = get(t, ts.URL+"/api/runs?status=FAILED")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]types.Run](t, resp))
}

func TestListRuns_BadQuery(t *testing.T) {
	ts, _ := setupTestServer(t)
	assert.Equal(t, http.StatusBadRequest, get(t, ts.URL+"/api/runs?status=PAUSED").StatusCode)
	assert.Equal(t, http.StatusBadRequest, get(t, ts.URL+"/api/runs?limit=0").StatusCode)
	assert.Equal(t, http.StatusBadRequest, get(t, ts.URL+"/api/runs?limit=abc").StatusCode)
}

func TestDebugVars(t *testing.T) {
	ts, _ := setupTestServer(t)
	createRun(t, ts, "offline sync")

	resp := get(t, ts.URL+"/debug/vars")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	vars := decode[map[string]any](t, resp)
	started, ok := vars["runs_started"].(float64)
	require.True(t, ok)
	assert.Greater(t, started, float64(0))
}

func TestCreateRun_Validation(t *testing.T) {
	ts, _ := setupTestServer(t)

	assert.Equal(t, http.StatusBadRequest, postJSON(t, ts.URL+"/api/runs", `{"idea":"   "}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, postJSON(t, ts.URL+"/api/runs", `{not json`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, postJSON(t, ts.URL+"/api/runs", `{"idea":"x","temperature":1.5}`).StatusCode)
}

func TestCreateRun_StepFailure(t *testing.T) {
	ts, client := setupTestServer(t)
	client.FailExpand(&llm.Error{Kind: llm.KindAuth, Op: "expand", Err: errors.New("401 unauthorized")})

	resp := postJSON(t, ts.URL+"/api/runs", `{"idea":"offline sync"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, string(types.StepExpand), body["step"])
	require.NotEmpty(t, body["runId"])

	run := decode[types.RunBundle](t, get(t, ts.URL+"/api/runs/"+body["runId"]))
	assert.Equal(t, types.RunFailed, run.Run.Status)
}

func TestCreateRevision_Errors(t *testing.T) {
	ts, client := setupTestServer(t)

	resp := postJSON(t, ts.URL+"/api/runs/missing/revisions", `{"user_notes":"x"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	parent := createRun(t, ts, "offline sync")
	resp = postJSON(t, ts.URL+"/api/runs/"+parent.Run.ID+"/revisions", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	client.FailExpand(&llm.Error{Kind: llm.KindAuth, Op: "expand", Err: errors.New("401 unauthorized")})
	failed := postJSON(t, ts.URL+"/api/runs", `{"idea":"doomed"}`)
	require.Equal(t, http.StatusBadGateway, failed.StatusCode)
	runID := decode[map[string]string](t, failed)["runId"]

	resp = postJSON(t, ts.URL+"/api/runs/"+runID+"/revisions", `{"user_notes":"x"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDiff_Errors(t *testing.T) {
	ts, _ := setupTestServer(t)
	run := createRun(t, ts, "offline sync")

	assert.Equal(t, http.StatusBadRequest, get(t, ts.URL+"/api/diff?runA="+run.Run.ID).StatusCode)
	assert.Equal(t, http.StatusBadRequest, get(t, ts.URL+"/api/diff?runA="+run.Run.ID+"&runB="+run.Run.ID).StatusCode)
	assert.Equal(t, http.StatusNotFound, get(t, ts.URL+"/api/diff?runA="+run.Run.ID+"&runB=nope").StatusCode)
}

func TestNotFoundRoutes(t *testing.T) {
	ts, _ := setupTestServer(t)
	assert.Equal(t, http.StatusNotFound, get(t, ts.URL+"/api/runs/nope").StatusCode)
	assert.Equal(t, http.StatusNotFound, get(t, ts.URL+"/api/runs/nope/children").StatusCode)
	assert.Equal(t, http.StatusNotFound, get(t, ts.URL+"/api/runs/nope/events").StatusCode)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/runs/nope", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIKey(t *testing.T) {
	ts, _ := setupTestServerWithOpts(t, "s3cret", 0)

	assert.Equal(t, http.StatusOK, get(t, ts.URL+"/api/health").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get(t, ts.URL+"/api/personas").StatusCode)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/personas", nil)
	req.Header.Set("X-API-Key", "s3cret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMaxBody(t *testing.T) {
	ts, _ := setupTestServerWithOpts(t, "", 64)

	big := `{"idea":"` + strings.Repeat("x", 256) + `"}`
	resp, err := http.Post(ts.URL+"/api/runs", "application/json", bytes.NewBufferString(big))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}
