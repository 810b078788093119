package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	conductor "github.com/BaSui01/conductor"
	"github.com/BaSui01/conductor/agent/registry"
	"github.com/BaSui01/conductor/store"
	"github.com/BaSui01/conductor/testutil"
	"github.com/BaSui01/conductor/types"
)

func newTestMux(t *testing.T) (*http.ServeMux, *conductor.Engine) {
	t.Helper()

	eng, err := conductor.New(testutil.EngineConfig(testutil.TwoStepDefinition()), store.NewMemoryStore())
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	eng.Router.RegisterHandler("writer", registry.HandlerFunc(func(_ context.Context, _ *types.AgentRequest) (*types.AgentResponse, error) {
		return testutil.StaticResponse(types.Document{"draft": "v1"}, 0.95), nil
	}))
	eng.Router.RegisterHandler("reviewer", registry.HandlerFunc(func(_ context.Context, _ *types.AgentRequest) (*types.AgentResponse, error) {
		return testutil.StaticResponse(types.Document{"verdict": "ok"}, 0.99), nil
	}))

	mux := http.NewServeMux()
	NewWorkflowHandler(eng.Workflows, eng.Checkpoints, zap.NewNop()).RegisterRoutes(mux)
	NewApprovalHandler(eng.Gate, eng.Workflows, zap.NewNop()).RegisterRoutes(mux)
	return mux, eng
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok, "response data should be an object: %s", rec.Body.String())
	return data
}

func TestWorkflowHandler_Create(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/workflows", CreateWorkflowRequest{
		DefinitionID: "doc-pipeline",
		OwnerID:      "user-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	data := decodeData(t, rec)
	assert.Equal(t, "doc-pipeline", data["definitionId"])
	assert.Equal(t, string(types.WorkflowStatusCreated), data["status"])
	assert.NotEmpty(t, data["id"])
}

func TestWorkflowHandler_Create_MissingDefinitionID(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/workflows", CreateWorkflowRequest{OwnerID: "user-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrValidation), resp.Error.Code)
}

func TestWorkflowHandler_Get_NotFound(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/workflows/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWorkflowHandler_LifecycleAndSteps(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/workflows", CreateWorkflowRequest{
		DefinitionID: "doc-pipeline",
		OwnerID:      "user-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeData(t, rec)["id"].(string)

	rec = doJSON(t, mux, http.MethodPost, "/api/v1/workflows/"+id+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(types.WorkflowStatusRunning), decodeData(t, rec)["status"])

	// Pausing and resuming round-trips through the state machine.
	rec = doJSON(t, mux, http.MethodPost, "/api/v1/workflows/"+id+"/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, mux, http.MethodPost, "/api/v1/workflows/"+id+"/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/api/v1/workflows/"+id+"/steps", ExecuteStepRequest{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decodeData(t, rec)
	assert.Equal(t, string(types.WorkflowStatusRunning), data["status"])
	assert.Equal(t, float64(2), data["currentStep"])

	rec = doJSON(t, mux, http.MethodPost, "/api/v1/workflows/"+id+"/steps", ExecuteStepRequest{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(types.WorkflowStatusCompleted), decodeData(t, rec)["status"])

	rec = doJSON(t, mux, http.MethodGet, "/api/v1/workflows/"+id+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	history, ok := resp.Data.([]any)
	require.True(t, ok)
	assert.Len(t, history, 2)
}

func TestWorkflowHandler_InvalidTransitionMapsToConflict(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/workflows", CreateWorkflowRequest{
		DefinitionID: "doc-pipeline",
		OwnerID:      "user-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeData(t, rec)["id"].(string)

	// Created workflows cannot pause.
	rec = doJSON(t, mux, http.MethodPost, "/api/v1/workflows/"+id+"/pause", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWorkflowHandler_StreamEmitsSSE(t *testing.T) {
	mux, eng := newTestMux(t)

	ctx := context.Background()
	inst, err := eng.Workflows.CreateWorkflow(ctx, "doc-pipeline", "user-1")
	require.NoError(t, err)
	_, err = eng.Workflows.Start(ctx, inst.ID)
	require.NoError(t, err)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/workflows/"+inst.ID+"/steps/stream", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	for _, stage := range []string{"started", "agent_resolved", "executing", "completed"} {
		assert.Contains(t, body, fmt.Sprintf("event: %s\n", stage))
	}
	assert.Greater(t, strings.Count(body, "data: "), 0)
}

func TestApprovalHandler_ApproveResumesWorkflow(t *testing.T) {
	mux, eng := newTestMux(t)

	// Low-confidence writer parks the first gated step at the approval gate.
	eng.Router.RegisterHandler("writer", registry.HandlerFunc(func(_ context.Context, _ *types.AgentRequest) (*types.AgentResponse, error) {
		return testutil.StaticResponse(types.Document{"draft": "v1"}, 0.3), nil
	}))

	def := testutil.TwoStepDefinition()
	def.Steps[0].RequiresApproval = true
	eng.Config().Definitions = []types.WorkflowDefinition{def}

	ctx := context.Background()
	inst, err := eng.Workflows.CreateWorkflow(ctx, "doc-pipeline", "user-1")
	require.NoError(t, err)
	_, err = eng.Workflows.Start(ctx, inst.ID)
	require.NoError(t, err)
	inst, err = eng.Workflows.ExecuteStep(ctx, inst.ID, "")
	require.NoError(t, err)
	require.Equal(t, types.WorkflowStatusWaitingForInput, inst.Status)

	pending, err := eng.Store.ListPendingCreatedBefore(ctx, inst.UpdatedAt.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, pending, 1)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/approvals/"+pending[0].ID+"/approve", ApproveRequest{UserID: "reviewer-9"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(types.ApprovalStatusApproved), decodeData(t, rec)["status"])

	inst, err = eng.Workflows.GetWorkflow(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowStatusRunning, inst.Status)
	assert.Equal(t, 2, inst.CurrentStep)

	// A second response on the same request is rejected.
	rec = doJSON(t, mux, http.MethodPost, "/api/v1/approvals/"+pending[0].ID+"/reject", RejectRequest{UserID: "reviewer-9", Reason: "changed my mind"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestApprovalHandler_RejectRequiresReason(t *testing.T) {
	mux, eng := newTestMux(t)

	ctx := context.Background()
	req, err := eng.Gate.CreateApprovalRequest(ctx, "wf-1", "draft", "writer",
		testutil.StaticResponse(types.Document{"draft": "v1"}, 0.3))
	require.NoError(t, err)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/approvals/"+req.ID+"/reject", RejectRequest{UserID: "reviewer-9"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
