package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/conductor/sharedctx"
	"github.com/BaSui01/conductor/store"
	"github.com/BaSui01/conductor/types"
)

func newTestManager(t *testing.T) (*Manager, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	return NewManager(s, s, s, nil, zap.NewNop()), s
}

func seedWorkflow(t *testing.T, s *store.MemoryStore, id string) {
	t.Helper()
	require.NoError(t, s.AddWorkflow(context.Background(), &types.WorkflowInstance{
		ID:           id,
		DefinitionID: "def-1",
		OwnerID:      "user-1",
		Status:       types.WorkflowStatusRunning,
		CurrentStep:  2,
	}))
}

func TestManager_CreateCheckpointVersionSequence(t *testing.T) {
	m, s := newTestManager(t)
	ctx := context.Background()
	seedWorkflow(t, s, "wf-1")

	cp1, err := m.CreateCheckpoint(ctx, "wf-1", "step-2", types.CheckpointTypeStepCompletion, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, cp1.Version)

	cp2, err := m.CreateCheckpoint(ctx, "wf-1", "step-2", types.CheckpointTypeManual, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, cp2.Version)

	latest, err := m.GetLatestCheckpoint(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, cp2.ID, latest.ID)
}

func TestManager_CreateCheckpointWorkflowNotFound(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.CreateCheckpoint(context.Background(), "missing", "step-1", types.CheckpointTypeManual, "user-1")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestManager_RestoreCheckpoint(t *testing.T) {
	m, s := newTestManager(t)
	ctx := context.Background()
	seedWorkflow(t, s, "wf-1")

	// Give the live context some state before the checkpoint.
	sctx, err := s.Load(ctx, "wf-1")
	require.NoError(t, err)
	sctx.AddStepOutput("step-1", types.Document{"result": "v1"})
	ok, err := s.Update(ctx, "wf-1", 0, sctx)
	require.NoError(t, err)
	require.True(t, ok)

	cp, err := m.CreateCheckpoint(ctx, "wf-1", "step-2", types.CheckpointTypeStepCompletion, "user-1")
	require.NoError(t, err)

	// Advance the workflow past the checkpoint.
	wf, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	wf.CurrentStep = 4
	wf.Status = types.WorkflowStatusWaitingForInput
	require.NoError(t, s.UpdateWorkflow(ctx, wf))

	live, err := s.Load(ctx, "wf-1")
	require.NoError(t, err)
	live.AddStepOutput("step-3", types.Document{"result": "later"})
	ok, err = s.Update(ctx, "wf-1", 1, live)
	require.NoError(t, err)
	require.True(t, ok)

	restored, err := m.RestoreCheckpoint(ctx, "wf-1", cp.ID, "user-1")
	require.NoError(t, err)

	// Mutable fields come back exactly as recorded.
	assert.Equal(t, 2, restored.CurrentStep)
	assert.Equal(t, types.WorkflowStatusRunning, restored.Status)

	// The live context is the checkpointed one again.
	after, err := s.Load(ctx, "wf-1")
	require.NoError(t, err)
	_, hasLater := after.GetStepOutput("step-3")
	assert.False(t, hasLater)
	out, okOut := after.GetStepOutput("step-1")
	require.True(t, okOut)
	assert.Equal(t, "v1", out["result"])
}

func TestManager_RestoreTakesPreRestoreCheckpoint(t *testing.T) {
	m, s := newTestManager(t)
	ctx := context.Background()
	seedWorkflow(t, s, "wf-1")

	cp, err := m.CreateCheckpoint(ctx, "wf-1", "step-2", types.CheckpointTypeManual, "user-1")
	require.NoError(t, err)

	_, err = m.RestoreCheckpoint(ctx, "wf-1", cp.ID, "user-2")
	require.NoError(t, err)

	// Restore appended a pre-restore checkpoint; nothing was deleted.
	cps, total, err := m.GetCheckpoints(ctx, "wf-1", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, cps, 2)
	assert.Equal(t, types.CheckpointTypeManual, cps[0].CheckpointType)
	assert.Equal(t, types.CheckpointTypePreRestore, cps[1].CheckpointType)
	assert.Equal(t, 2, cps[1].Version)
}

func TestManager_RestoreRejectsForeignCheckpoint(t *testing.T) {
	m, s := newTestManager(t)
	ctx := context.Background()
	seedWorkflow(t, s, "wf-1")
	seedWorkflow(t, s, "wf-2")

	cp, err := m.CreateCheckpoint(ctx, "wf-1", "step-1", types.CheckpointTypeManual, "user-1")
	require.NoError(t, err)

	_, err = m.RestoreCheckpoint(ctx, "wf-2", cp.ID, "user-1")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))

	_, err = m.RestoreCheckpoint(ctx, "wf-1", "nope", "user-1")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestManager_GetLatestCheckpointNone(t *testing.T) {
	m, s := newTestManager(t)
	seedWorkflow(t, s, "wf-1")

	_, err := m.GetLatestCheckpoint(context.Background(), "wf-1")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestManager_CheckpointVersionsProperty(t *testing.T) {
	m, s := newTestManager(t)
	ctx := context.Background()
	seedWorkflow(t, s, "wf-1")

	for i := 1; i <= 7; i++ {
		cp, err := m.CreateCheckpoint(ctx, "wf-1", "step", types.CheckpointTypeStepCompletion, "user-1")
		require.NoError(t, err)
		assert.Equal(t, i, cp.Version, "versions are strictly increasing from 1")
	}
}

var _ sharedctx.Store = (*store.MemoryStore)(nil)
