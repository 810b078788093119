// Package checkpoint provides point-in-time snapshots of workflow and
// shared-context state, restorable onto the live workflow instance.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/conductor/notify"
	"github.com/BaSui01/conductor/sharedctx"
	"github.com/BaSui01/conductor/store"
	"github.com/BaSui01/conductor/types"
)

// StateSnapshot is the persisted checkpoint payload. This JSON shape is
// part of the stable wire contract.
type StateSnapshot struct {
	CurrentStep int                  `json:"currentStep"`
	Status      types.WorkflowStatus `json:"status"`
	Context     json.RawMessage      `json:"context"`
}

// Manager creates, lists, and restores checkpoints. Checkpoint versions
// are monotonic per workflow, starting at 1. Checkpoints are immutable
// once created; restore never deletes newer checkpoints or history.
type Manager struct {
	workflows   store.WorkflowStore
	checkpoints store.CheckpointStore
	contexts    sharedctx.Store
	notifier    notify.Notifier
	logger      *zap.Logger
}

// NewManager creates a checkpoint manager.
func NewManager(workflows store.WorkflowStore, checkpoints store.CheckpointStore, contexts sharedctx.Store, notifier notify.Notifier, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.NewNop()
	}
	return &Manager{
		workflows:   workflows,
		checkpoints: checkpoints,
		contexts:    contexts,
		notifier:    notifier,
		logger:      logger.With(zap.String("component", "checkpoint_manager")),
	}
}

// CreateCheckpoint snapshots the workflow's current state and persists
// it at version previousMax+1 (1 when none exist yet).
func (m *Manager) CreateCheckpoint(ctx context.Context, workflowID, stepID string, cpType types.CheckpointType, triggeredBy string) (*types.Checkpoint, error) {
	wf, err := m.workflows.GetWorkflow(ctx, workflowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, types.NewErrorf(types.ErrNotFound, "workflow %s not found", workflowID)
		}
		return nil, types.NewError(types.ErrStoreError, "load workflow").WithCause(err)
	}

	sctx, err := m.contexts.Load(ctx, workflowID)
	if err != nil {
		return nil, types.NewError(types.ErrStoreError, "load shared context").WithCause(err)
	}
	ctxRaw, err := sctx.ToJSON()
	if err != nil {
		return nil, err
	}

	snapshot, err := json.Marshal(StateSnapshot{
		CurrentStep: wf.CurrentStep,
		Status:      wf.Status,
		Context:     ctxRaw,
	})
	if err != nil {
		return nil, types.NewError(types.ErrValidation, "encode state snapshot").WithCause(err)
	}

	version := 1
	if latest, err := m.checkpoints.LatestCheckpoint(ctx, workflowID); err == nil && latest != nil {
		version = latest.Version + 1
	}

	cp := &types.Checkpoint{
		ID:             uuid.New().String(),
		WorkflowID:     workflowID,
		StepID:         stepID,
		CheckpointType: cpType,
		Version:        version,
		TriggeredBy:    triggeredBy,
		StateSnapshot:  snapshot,
		CreatedAt:      time.Now().UTC(),
	}
	if err := m.checkpoints.AddCheckpoint(ctx, cp); err != nil {
		return nil, types.NewError(types.ErrStoreError, "persist checkpoint").WithCause(err)
	}

	m.logger.Info("checkpoint created",
		zap.String("id", cp.ID),
		zap.String("workflow_id", workflowID),
		zap.Int("version", version),
		zap.String("type", string(cpType)),
	)
	m.notifier.Publish(ctx, notify.EventCheckpointCreated, types.Document{
		"workflowId":   workflowID,
		"checkpointId": cp.ID,
		"version":      version,
	})
	return cp, nil
}

// GetLatestCheckpoint returns the highest-version checkpoint.
func (m *Manager) GetLatestCheckpoint(ctx context.Context, workflowID string) (*types.Checkpoint, error) {
	cp, err := m.checkpoints.LatestCheckpoint(ctx, workflowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, types.NewErrorf(types.ErrNotFound, "no checkpoints for workflow %s", workflowID)
		}
		return nil, types.NewError(types.ErrStoreError, "load latest checkpoint").WithCause(err)
	}
	return cp, nil
}

// GetCheckpoints pages checkpoints ordered by version ascending. The
// ordering is stable so pagination never skips or repeats entries.
func (m *Manager) GetCheckpoints(ctx context.Context, workflowID string, page, pageSize int) ([]*types.Checkpoint, int, error) {
	cps, total, err := m.checkpoints.ListCheckpoints(ctx, workflowID, page, pageSize)
	if err != nil {
		if errors.Is(err, store.ErrInvalidInput) {
			return nil, 0, types.NewError(types.ErrValidation, "page and pageSize must be positive")
		}
		return nil, 0, types.NewError(types.ErrStoreError, "list checkpoints").WithCause(err)
	}
	return cps, total, nil
}

// RestoreCheckpoint overwrites the live workflow instance's mutable
// fields (currentStep, status, context) with the snapshot's values. A
// pre-restore checkpoint is taken first so the restore itself can be
// undone. Newer checkpoints and audit history are preserved.
func (m *Manager) RestoreCheckpoint(ctx context.Context, workflowID, checkpointID, triggeredBy string) (*types.WorkflowInstance, error) {
	cp, err := m.checkpoints.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, types.NewErrorf(types.ErrNotFound, "checkpoint %s not found", checkpointID)
		}
		return nil, types.NewError(types.ErrStoreError, "load checkpoint").WithCause(err)
	}
	if cp.WorkflowID != workflowID {
		return nil, types.NewErrorf(types.ErrValidation, "checkpoint %s does not belong to workflow %s", checkpointID, workflowID)
	}

	wf, err := m.workflows.GetWorkflow(ctx, workflowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, types.NewErrorf(types.ErrNotFound, "workflow %s not found", workflowID)
		}
		return nil, types.NewError(types.ErrStoreError, "load workflow").WithCause(err)
	}

	var snapshot StateSnapshot
	if err := json.Unmarshal(cp.StateSnapshot, &snapshot); err != nil {
		return nil, types.NewError(types.ErrValidation, "decode state snapshot").WithCause(err)
	}

	if _, err := m.CreateCheckpoint(ctx, workflowID, "", types.CheckpointTypePreRestore, triggeredBy); err != nil {
		return nil, err
	}

	restored, err := sharedctx.FromJSON(snapshot.Context)
	if err != nil {
		return nil, err
	}
	if err := m.swapContext(ctx, workflowID, restored); err != nil {
		return nil, err
	}

	wf.CurrentStep = snapshot.CurrentStep
	wf.Status = snapshot.Status
	wf.ContextSnapshot = snapshot.Context
	if err := m.workflows.UpdateWorkflow(ctx, wf); err != nil {
		return nil, types.NewError(types.ErrStoreError, "persist restored workflow").WithCause(err)
	}

	m.logger.Info("checkpoint restored",
		zap.String("workflow_id", workflowID),
		zap.String("checkpoint_id", checkpointID),
		zap.Int("version", cp.Version),
		zap.String("triggered_by", triggeredBy),
	)
	m.notifier.Publish(ctx, notify.EventCheckpointRestored, types.Document{
		"workflowId":   workflowID,
		"checkpointId": checkpointID,
		"version":      cp.Version,
	})
	return wf, nil
}

// swapContext forces the restored context into the live context store,
// retrying the compare-and-swap against whatever version is current.
func (m *Manager) swapContext(ctx context.Context, workflowID string, restored *sharedctx.Context) error {
	for attempt := 0; attempt < 5; attempt++ {
		current, err := m.contexts.Load(ctx, workflowID)
		if err != nil {
			return types.NewError(types.ErrStoreError, "load live context").WithCause(err)
		}
		ok, err := m.contexts.Update(ctx, workflowID, current.Version, restored)
		if err != nil {
			return types.NewError(types.ErrStoreError, "swap restored context").WithCause(err)
		}
		if ok {
			return nil
		}
	}
	return types.NewError(types.ErrVersionConflict, "context kept changing during restore")
}
