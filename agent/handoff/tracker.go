// Package handoff provides the audit trail of control transfer between
// agents and the synchronous inter-agent messaging layer with bounded
// timeout and retry.
package handoff

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/conductor/notify"
	"github.com/BaSui01/conductor/store"
	"github.com/BaSui01/conductor/types"
)

// Tracker records agent handoffs per workflow. The sequence is
// append-only: never reordered, never deleted.
type Tracker struct {
	handoffs store.HandoffStore
	notifier notify.Notifier
	logger   *zap.Logger
}

// NewTracker creates a handoff tracker.
func NewTracker(handoffs store.HandoffStore, notifier notify.Notifier, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.NewNop()
	}
	return &Tracker{
		handoffs: handoffs,
		notifier: notifier,
		logger:   logger.With(zap.String("component", "handoff_tracker")),
	}
}

// RecordHandoff appends a handoff to the workflow's sequence and logs
// the transfer. fromAgent is empty for the first handoff.
func (t *Tracker) RecordHandoff(ctx context.Context, workflowID, fromAgent, toAgent, workflowStep, reason string) (*types.AgentHandoff, error) {
	if toAgent == "" {
		return nil, types.NewError(types.ErrValidation, "toAgent is required")
	}
	h := &types.AgentHandoff{
		ID:                 uuid.New().String(),
		WorkflowInstanceID: workflowID,
		FromAgent:          fromAgent,
		ToAgent:            toAgent,
		WorkflowStep:       workflowStep,
		Reason:             reason,
		Timestamp:          time.Now().UTC(),
	}
	if err := t.handoffs.AddHandoff(ctx, h); err != nil {
		return nil, types.NewError(types.ErrStoreError, "persist handoff").WithCause(err)
	}

	t.logger.Info("agent handoff",
		zap.String("workflow_id", workflowID),
		zap.String("from", fromAgent),
		zap.String("to", toAgent),
		zap.String("step", workflowStep),
	)
	t.notifier.Publish(ctx, notify.EventAgentHandoff, types.Document{
		"workflowId": workflowID,
		"fromAgent":  fromAgent,
		"toAgent":    toAgent,
		"step":       workflowStep,
	})
	return h, nil
}

// GetHandoffHistory returns the workflow's handoffs in chronological
// insertion order.
func (t *Tracker) GetHandoffHistory(ctx context.Context, workflowID string) ([]*types.AgentHandoff, error) {
	hs, err := t.handoffs.ListHandoffs(ctx, workflowID)
	if err != nil {
		return nil, types.NewError(types.ErrStoreError, "list handoffs").WithCause(err)
	}
	return hs, nil
}

// GetCurrentAgent returns the toAgent of the last handoff, or "" when
// the workflow has none.
func (t *Tracker) GetCurrentAgent(ctx context.Context, workflowID string) (string, error) {
	hs, err := t.handoffs.ListHandoffs(ctx, workflowID)
	if err != nil {
		return "", types.NewError(types.ErrStoreError, "list handoffs").WithCause(err)
	}
	if len(hs) == 0 {
		return "", nil
	}
	return hs[len(hs)-1].ToAgent, nil
}
