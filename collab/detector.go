// Package collab detects conflicting edits when several users buffer
// input for the same workflow field before any of it is applied.
package collab

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/conductor/notify"
	"github.com/BaSui01/conductor/store"
	"github.com/BaSui01/conductor/types"
)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Detector buffers per-field inputs and flags differing same-field
// edits. Detection is synchronous against the most recent
// unapplied input; there is no cross-request lock, so two
// near-simultaneous inputs can both compare against a stale entry.
type Detector struct {
	inputs   store.InputStore
	notifier notify.Notifier
	clock    Clock
	logger   *zap.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock injects a clock for tests.
func WithClock(clock Clock) Option {
	return func(d *Detector) { d.clock = clock }
}

// NewDetector creates an input conflict detector.
func NewDetector(inputs store.InputStore, notifier notify.Notifier, logger *zap.Logger, opts ...Option) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.NewNop()
	}
	d := &Detector{
		inputs:   inputs,
		notifier: notifier,
		clock:    systemClock{},
		logger:   logger.With(zap.String("component", "input_detector")),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// BufferInput appends a field edit to the workflow's input buffer and
// compares it against the most recent unapplied input for the same
// field. A differing value opens a Pending conflict referencing both
// inputs, regardless of who wrote them; identical values never
// conflict. The newer input always becomes the field's current
// candidate (last-write-wins).
func (d *Detector) BufferInput(ctx context.Context, workflowID, userID, displayName, fieldName, value string) (*types.BufferedInput, *types.InputConflict, error) {
	if workflowID == "" || userID == "" || fieldName == "" {
		return nil, nil, types.NewError(types.ErrValidation, "workflowID, userID and fieldName are required")
	}

	prev, err := d.inputs.LatestUnapplied(ctx, workflowID, fieldName)
	if err != nil {
		return nil, nil, types.NewError(types.ErrStoreError, "load latest input").WithCause(err)
	}

	in := &types.BufferedInput{
		ID:                 uuid.New().String(),
		WorkflowInstanceID: workflowID,
		UserID:             userID,
		DisplayName:        displayName,
		FieldName:          fieldName,
		Value:              value,
		Timestamp:          d.clock.Now(),
	}
	if err := d.inputs.AddInput(ctx, in); err != nil {
		return nil, nil, types.NewError(types.ErrStoreError, "persist input").WithCause(err)
	}

	if prev == nil || prev.Value == value {
		return in, nil, nil
	}

	conflict := &types.InputConflict{
		ID:                 uuid.New().String(),
		WorkflowInstanceID: workflowID,
		FieldName:          fieldName,
		FirstInputID:       prev.ID,
		SecondInputID:      in.ID,
		Status:             types.InputConflictStatusPending,
		DetectedAt:         d.clock.Now(),
	}
	if err := d.inputs.AddInputConflict(ctx, conflict); err != nil {
		return in, nil, types.NewError(types.ErrStoreError, "persist input conflict").WithCause(err)
	}

	d.logger.Warn("input conflict detected",
		zap.String("workflow_id", workflowID),
		zap.String("field", fieldName),
		zap.String("first_user", prev.UserID),
		zap.String("second_user", userID),
	)
	d.notifier.Publish(ctx, notify.EventInputConflict, types.Document{
		"conflictId": conflict.ID,
		"workflowId": workflowID,
		"field":      fieldName,
		"firstInput": prev.ID,
		"secondInput": in.ID,
	})
	return in, conflict, nil
}

// ResolveInputConflict closes a pending conflict, recording which
// input won and who decided.
func (d *Detector) ResolveInputConflict(ctx context.Context, conflictID, winningInputID, resolvedBy string) error {
	c, err := d.inputs.GetInputConflict(ctx, conflictID)
	if err != nil {
		return types.NewErrorf(types.ErrNotFound, "input conflict %q not found", conflictID).WithCause(err)
	}
	if c.Status != types.InputConflictStatusPending {
		return types.NewErrorf(types.ErrInvalidState, "input conflict %q is not pending", conflictID)
	}
	if winningInputID != c.FirstInputID && winningInputID != c.SecondInputID {
		return types.NewErrorf(types.ErrValidation, "input %q is not part of conflict %q", winningInputID, conflictID)
	}

	now := d.clock.Now()
	c.Status = types.InputConflictStatusResolved
	c.WinningInputID = winningInputID
	c.ResolvedBy = resolvedBy
	c.ResolvedAt = &now
	if err := d.inputs.UpdateInputConflict(ctx, c); err != nil {
		return types.NewError(types.ErrStoreError, "update input conflict").WithCause(err)
	}

	d.logger.Info("input conflict resolved",
		zap.String("conflict_id", conflictID),
		zap.String("winning_input", winningInputID),
		zap.String("resolved_by", resolvedBy),
	)
	return nil
}

// ListConflicts returns all input conflicts recorded for a workflow.
func (d *Detector) ListConflicts(ctx context.Context, workflowID string) ([]*types.InputConflict, error) {
	cs, err := d.inputs.ListInputConflicts(ctx, workflowID)
	if err != nil {
		return nil, types.NewError(types.ErrStoreError, "list input conflicts").WithCause(err)
	}
	return cs, nil
}

// ApplyInputs drains the workflow's unapplied buffer and returns the
// winning value per field. The newest input per field wins; the
// external scheduler invokes this to flush the queue.
func (d *Detector) ApplyInputs(ctx context.Context, workflowID string) (map[string]string, error) {
	pending, err := d.inputs.ListUnapplied(ctx, workflowID)
	if err != nil {
		return nil, types.NewError(types.ErrStoreError, "list unapplied inputs").WithCause(err)
	}
	if len(pending) == 0 {
		return map[string]string{}, nil
	}

	winners := make(map[string]*types.BufferedInput, len(pending))
	ids := make([]string, 0, len(pending))
	for _, in := range pending {
		ids = append(ids, in.ID)
		cur, ok := winners[in.FieldName]
		if !ok || in.Timestamp.After(cur.Timestamp) || (in.Timestamp.Equal(cur.Timestamp) && in.ID > cur.ID) {
			winners[in.FieldName] = in
		}
	}
	if err := d.inputs.MarkApplied(ctx, ids); err != nil {
		return nil, types.NewError(types.ErrStoreError, "mark inputs applied").WithCause(err)
	}

	values := make(map[string]string, len(winners))
	for field, in := range winners {
		values[field] = in.Value
	}
	d.logger.Info("inputs applied",
		zap.String("workflow_id", workflowID),
		zap.Int("count", len(ids)),
		zap.Int("fields", len(values)),
	)
	return values, nil
}
