package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/souravb-dev/GenAIOps-sub001/internal/executor"
	"github.com/souravb-dev/GenAIOps-sub001/internal/lifecycle"
	"github.com/souravb-dev/GenAIOps-sub001/internal/models"
	"github.com/souravb-dev/GenAIOps-sub001/internal/risk"
	"github.com/souravb-dev/GenAIOps-sub001/internal/store"
)

type okRunner struct{}

func (okRunner) Run(ctx context.Context, argv []string, timeout time.Duration) (*executor.Result, error) {
	return &executor.Result{Stdout: "done"}, nil
}

type fixedRisk models.RiskLevel

func (f fixedRisk) Assess(ctx context.Context, action *models.Action) (*models.RiskAssessment, error) {
	return &models.RiskAssessment{Level: models.RiskLevel(f), Rationale: "test"}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *lifecycle.Controller) {
	t.Helper()

	opts := executor.DefaultOptions()
	opts.CLITool = "mytool"
	controller := lifecycle.NewController(
		store.NewMemoryStore(),
		executor.NewDispatcher(opts, okRunner{}),
		risk.NewAdapter(fixedRisk(models.RiskHigh), time.Second),
		lifecycle.DefaultOptions(),
	)
	srv := httptest.NewServer(NewServer(controller).Routes())

	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = controller.Shutdown(ctx)
	})
	return srv, controller
}

func do(t *testing.T, srv *httptest.Server, method, path, perms string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderActorID, "alice")
	req.Header.Set(HeaderActorPermissions, perms)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func specBody() map[string]any {
	return map[string]any{
		"title":             "Restart web tier",
		"action_type":       "cli_command",
		"action_command":    "mytool compute instance action --action SOFTRESET",
		"rollback_command":  "mytool compute instance action --action START",
		"environment":       "staging",
		"service_name":      "web",
		"severity":          "high",
		"requires_approval": true,
	}
}

func createAction(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, out := do(t, srv, http.MethodPost, "/api/actions", "*", specBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode, out)
	return out["id"].(string)
}

func TestCreateAndGet(t *testing.T) {
	srv, _ := newTestServer(t)

	id := createAction(t, srv)

	resp, out := do(t, srv, http.MethodGet, "/api/actions/"+id, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, out["id"])
	assert.Equal(t, "pending", out["status"])
}

func TestCreateValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	body := specBody()
	delete(body, "title")
	resp, out := do(t, srv, http.MethodPost, "/api/actions", "*", body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, out["message"], "title")
}

func TestCreateRequiresBody(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := do(t, srv, http.MethodPost, "/api/actions", "*", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestForbidden(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := do(t, srv, http.MethodPost, "/api/actions", "approve", specBody())
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := do(t, srv, http.MethodGet, "/api/actions/does-not-exist", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLifecycleOverHTTP(t *testing.T) {
	srv, controller := newTestServer(t)
	id := createAction(t, srv)

	resp, _ := do(t, srv, http.MethodPost, "/api/actions/"+id+"/execute", "execute", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, out := do(t, srv, http.MethodPost, "/api/actions/"+id+"/approve", "approve", map[string]string{"comment": "ok"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "approved", out["status"])

	resp, out = do(t, srv, http.MethodPost, "/api/actions/"+id+"/execute", "execute", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "in_progress", out["status"])

	require.Eventually(t, func() bool {
		a, err := controller.GetAction(context.Background(), id)
		return err == nil && a.Status == models.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	resp, _ = do(t, srv, http.MethodPost, "/api/actions/"+id+"/cancel", "cancel", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/api/actions/"+id+"/rollback", "rollback", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		a, err := controller.GetAction(context.Background(), id)
		return err == nil && a.Status == models.StatusRolledBack
	}, 5*time.Second, 10*time.Millisecond)

	resp, _ = do(t, srv, http.MethodPost, "/api/actions/"+id+"/rollback", "rollback", nil)
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)

	resp, out = do(t, srv, http.MethodGet, "/api/actions/"+id+"/audit", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := out["entries"].([]any)
	events := make([]string, 0, len(entries))
	for _, e := range entries {
		events = append(events, e.(map[string]any)["event_type"].(string))
	}
	assert.Equal(t, []string{
		"created", "approved", "execution_started", "execution_completed", "rollback_started", "rolled_back",
	}, events)
}

func TestDryRunUnsupportedIsBadRequest(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createAction(t, srv)

	resp, _ := do(t, srv, http.MethodPost, "/api/actions/"+id+"/approve", "approve", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, out := do(t, srv, http.MethodPost, "/api/actions/"+id+"/execute?dry_run=true", "execute", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, out["message"], "dry_run")
}

func TestQueueAndCancel(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createAction(t, srv)

	resp, _ := do(t, srv, http.MethodPost, "/api/actions/"+id+"/approve", "approve", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, out := do(t, srv, http.MethodPost, "/api/actions/"+id+"/queue", "execute", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "queued", out["status"])

	resp, out = do(t, srv, http.MethodPost, "/api/actions/"+id+"/cancel", "cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cancelled", out["status"])
}

func TestList(t *testing.T) {
	srv, _ := newTestServer(t)
	createAction(t, srv)
	createAction(t, srv)

	resp, out := do(t, srv, http.MethodGet, "/api/actions?status=pending&environment=staging", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, out["count"])

	resp, out = do(t, srv, http.MethodGet, "/api/actions?limit=1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, out["count"])

	resp, _ = do(t, srv, http.MethodGet, "/api/actions?limit=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&models.ValidationError{Reason: "bad"}, http.StatusBadRequest},
		{&models.NotSupportedError{}, http.StatusBadRequest},
		{&models.ForbiddenError{}, http.StatusForbidden},
		{models.ErrNotFound, http.StatusNotFound},
		{&models.ConflictError{}, http.StatusConflict},
		{&models.PreconditionFailedError{}, http.StatusPreconditionFailed},
		{lifecycle.ErrShuttingDown, http.StatusServiceUnavailable},
		{assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%T", tt.err)
	}
}
