package conductor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/conductor"
	"github.com/BaSui01/conductor/agent/registry"
	"github.com/BaSui01/conductor/store"
	"github.com/BaSui01/conductor/testutil"
	"github.com/BaSui01/conductor/types"
)

func TestNew_Validation(t *testing.T) {
	_, err := conductor.New(nil, store.NewMemoryStore())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))

	_, err = conductor.New(testutil.EngineConfig(), nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

func TestEngine_EndToEnd(t *testing.T) {
	cfg := testutil.EngineConfig(testutil.TwoStepDefinition())
	eng, err := conductor.New(cfg, store.NewMemoryStore())
	require.NoError(t, err)

	eng.Router.RegisterHandler("writer", registry.HandlerFunc(func(ctx context.Context, req *types.AgentRequest) (*types.AgentResponse, error) {
		return testutil.StaticResponse(types.Document{"draft": "v1"}, 0.95), nil
	}))
	eng.Router.RegisterHandler("reviewer", registry.HandlerFunc(func(ctx context.Context, req *types.AgentRequest) (*types.AgentResponse, error) {
		// The reviewer sees the writer's output through the shared context.
		outputs, _ := req.Payload["stepOutputs"].(map[string]types.Document)
		if _, ok := outputs["draft"]; !ok {
			return nil, types.NewError(types.ErrValidation, "draft output missing from shared context")
		}
		return testutil.StaticResponse(types.Document{"verdict": "ship it"}, 0.9), nil
	}))

	ctx := testutil.TestContext(t)

	inst, err := eng.Workflows.CreateWorkflow(ctx, "doc-pipeline", "user-1")
	require.NoError(t, err)
	_, err = eng.Workflows.Start(ctx, inst.ID)
	require.NoError(t, err)

	inst, err = eng.Workflows.ExecuteStep(ctx, inst.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 2, inst.CurrentStep)

	inst, err = eng.Workflows.ExecuteStep(ctx, inst.ID, "")
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowStatusCompleted, inst.Status)

	// Cross-subsystem wiring: handoffs and checkpoints share the store.
	handoffs, err := eng.Handoffs.GetHandoffHistory(ctx, inst.ID)
	require.NoError(t, err)
	assert.Len(t, handoffs, 2)

	current, err := eng.Handoffs.GetCurrentAgent(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "reviewer", current)

	require.NoError(t, eng.Close())
}

func TestEngine_GateWiredFromConfig(t *testing.T) {
	cfg := testutil.EngineConfig(testutil.TwoStepDefinition())
	cfg.Engine.ConfidenceThreshold = 0.9

	eng, err := conductor.New(cfg, store.NewMemoryStore())
	require.NoError(t, err)

	assert.True(t, eng.Gate.RequiresApproval(0.85))
	assert.False(t, eng.Gate.RequiresApproval(0.9))
}
