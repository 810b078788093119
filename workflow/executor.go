// Package workflow drives workflow instances through their lifecycle
// state machine and executes definition steps against registered agents.
package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/conductor/agent/handoff"
	"github.com/BaSui01/conductor/agent/hitl"
	"github.com/BaSui01/conductor/agent/registry"
	"github.com/BaSui01/conductor/checkpoint"
	"github.com/BaSui01/conductor/internal/metrics"
	"github.com/BaSui01/conductor/notify"
	"github.com/BaSui01/conductor/sharedctx"
	"github.com/BaSui01/conductor/store"
	"github.com/BaSui01/conductor/types"
)

// contextSwapRetries bounds the optimistic reload-retry loop when
// persisting step output into the shared context.
const contextSwapRetries = 5

// DefinitionSource resolves workflow definitions by ID. config.Config
// satisfies this; tests supply a map-backed fake.
type DefinitionSource interface {
	DefinitionByID(id string) (*types.WorkflowDefinition, bool)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Executor owns workflow instances: lifecycle transitions and step
// execution. All status changes on an instance go through here.
type Executor struct {
	workflows   store.WorkflowStore
	contexts    sharedctx.Store
	definitions DefinitionSource
	router      *registry.Router
	tracker     *handoff.Tracker
	gate        *hitl.Gate
	checkpoints *checkpoint.Manager
	notifier    notify.Notifier
	collector   *metrics.Collector
	tracer      trace.Tracer
	clock       Clock
	logger      *zap.Logger

	// checkpointOnCompletion takes a checkpoint after every successful
	// step, in addition to per-step CheckpointAfter flags.
	checkpointOnCompletion bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock injects a clock, for tests.
func WithClock(c Clock) Option {
	return func(e *Executor) { e.clock = c }
}

// WithGate wires the human approval gate. Without it low-confidence
// responses are accepted as-is.
func WithGate(g *hitl.Gate) Option {
	return func(e *Executor) { e.gate = g }
}

// WithCheckpointManager enables checkpointing after steps that request it.
func WithCheckpointManager(m *checkpoint.Manager) Option {
	return func(e *Executor) { e.checkpoints = m }
}

// WithCheckpointOnCompletion checkpoints after every successful step.
func WithCheckpointOnCompletion(enabled bool) Option {
	return func(e *Executor) { e.checkpointOnCompletion = enabled }
}

// WithMetrics wires the Prometheus collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Executor) { e.collector = c }
}

// NewExecutor builds an Executor over the given stores and router.
func NewExecutor(
	workflows store.WorkflowStore,
	contexts sharedctx.Store,
	definitions DefinitionSource,
	router *registry.Router,
	tracker *handoff.Tracker,
	notifier notify.Notifier,
	logger *zap.Logger,
	opts ...Option,
) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.NewNop()
	}
	e := &Executor{
		workflows:   workflows,
		contexts:    contexts,
		definitions: definitions,
		router:      router,
		tracker:     tracker,
		notifier:    notifier,
		tracer:      otel.Tracer("conductor/workflow"),
		clock:       systemClock{},
		logger:      logger.With(zap.String("component", "workflow_executor")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// Lifecycle
// =============================================================================

// validTransitions is the workflow state machine. Absent edges are
// rejected with an INVALID_TRANSITION error.
var validTransitions = map[types.WorkflowStatus][]types.WorkflowStatus{
	types.WorkflowStatusCreated: {types.WorkflowStatusRunning, types.WorkflowStatusCancelled},
	types.WorkflowStatusRunning: {
		types.WorkflowStatusPaused,
		types.WorkflowStatusWaitingForInput,
		types.WorkflowStatusCompleted,
		types.WorkflowStatusCancelled,
		types.WorkflowStatusFailed,
	},
	types.WorkflowStatusPaused: {types.WorkflowStatusRunning, types.WorkflowStatusCancelled},
	types.WorkflowStatusWaitingForInput: {
		types.WorkflowStatusRunning,
		types.WorkflowStatusCancelled,
		types.WorkflowStatusFailed,
	},
	types.WorkflowStatusFailed: {types.WorkflowStatusCancelled},
}

func canTransition(from, to types.WorkflowStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CreateWorkflow creates a new instance of a registered definition in
// the Created state.
func (e *Executor) CreateWorkflow(ctx context.Context, definitionID, ownerID string) (*types.WorkflowInstance, error) {
	if definitionID == "" || ownerID == "" {
		return nil, types.NewError(types.ErrValidation, "definitionID and ownerID are required")
	}
	if _, ok := e.definitions.DefinitionByID(definitionID); !ok {
		return nil, types.NewErrorf(types.ErrNotFound, "workflow definition %q not registered", definitionID)
	}

	now := e.clock.Now()
	inst := &types.WorkflowInstance{
		ID:           uuid.NewString(),
		DefinitionID: definitionID,
		OwnerID:      ownerID,
		Status:       types.WorkflowStatusCreated,
		CurrentStep:  1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.workflows.AddWorkflow(ctx, inst); err != nil {
		return nil, types.NewError(types.ErrStoreError, "failed to create workflow").WithCause(err)
	}

	e.logger.Info("workflow created",
		zap.String("workflow_id", inst.ID),
		zap.String("definition_id", definitionID),
		zap.String("owner_id", ownerID))
	e.collector.RecordWorkflowTransition(definitionID, string(inst.Status))
	return inst, nil
}

// GetWorkflow returns a workflow instance by ID.
func (e *Executor) GetWorkflow(ctx context.Context, instanceID string) (*types.WorkflowInstance, error) {
	return e.workflows.GetWorkflow(ctx, instanceID)
}

// GetStepHistory returns the append-only execution history of an instance.
func (e *Executor) GetStepHistory(ctx context.Context, instanceID string) ([]*types.WorkflowStepHistory, error) {
	return e.workflows.ListStepHistory(ctx, instanceID)
}

// Start moves a Created workflow to Running.
func (e *Executor) Start(ctx context.Context, instanceID string) (*types.WorkflowInstance, error) {
	inst, err := e.transition(ctx, instanceID, types.WorkflowStatusRunning, func(w *types.WorkflowInstance) {})
	if err != nil {
		return nil, err
	}
	e.notifier.Publish(ctx, notify.EventWorkflowStarted, types.Document{
		"workflowId":   inst.ID,
		"definitionId": inst.DefinitionID,
	})
	return inst, nil
}

// Pause suspends a Running workflow.
func (e *Executor) Pause(ctx context.Context, instanceID string) (*types.WorkflowInstance, error) {
	return e.transition(ctx, instanceID, types.WorkflowStatusPaused, func(w *types.WorkflowInstance) {
		now := e.clock.Now()
		w.PausedAt = &now
	})
}

// Resume returns a Paused or WaitingForInput workflow to Running.
func (e *Executor) Resume(ctx context.Context, instanceID string) (*types.WorkflowInstance, error) {
	return e.transition(ctx, instanceID, types.WorkflowStatusRunning, func(w *types.WorkflowInstance) {
		w.PausedAt = nil
	})
}

// ResumeAfterApproval advances a workflow parked at the approval gate
// once its approval request has been accepted. A Modified request
// replaces the gated step's output in the shared context with the
// human-supplied final response before advancing.
func (e *Executor) ResumeAfterApproval(ctx context.Context, approvalID string) (*types.WorkflowInstance, error) {
	if e.gate == nil {
		return nil, types.NewError(types.ErrInvalidState, "no approval gate configured")
	}
	req, err := e.gate.GetRequest(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if req.Status != types.ApprovalStatusApproved && req.Status != types.ApprovalStatusModified {
		return nil, types.NewErrorf(types.ErrInvalidState, "approval request %s is %s, not accepted", approvalID, req.Status)
	}

	inst, err := e.workflows.GetWorkflow(ctx, req.WorkflowInstanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != types.WorkflowStatusWaitingForInput {
		return nil, types.NewErrorf(types.ErrInvalidState, "workflow %s is %s, not waiting for input", inst.ID, inst.Status)
	}

	def, ok := e.definitions.DefinitionByID(inst.DefinitionID)
	if !ok {
		return nil, types.NewErrorf(types.ErrNotFound, "workflow definition %q not found", inst.DefinitionID)
	}

	if req.Status == types.ApprovalStatusModified && len(req.FinalResponse) > 0 {
		if err := e.storeStepOutput(ctx, inst.ID, req.StepID, req.FinalResponse); err != nil {
			return nil, err
		}
	}

	inst, err = e.transition(ctx, inst.ID, types.WorkflowStatusRunning, func(w *types.WorkflowInstance) {
		w.CurrentStep++
	})
	if err != nil {
		return nil, err
	}
	e.notifier.Publish(ctx, notify.EventStepCompleted, types.Document{
		"workflowId": inst.ID,
		"stepId":     req.StepID,
		"agentId":    req.AgentID,
		"approvalId": req.ID,
	})

	if inst.CurrentStep > len(def.Steps) {
		inst, err = e.transition(ctx, inst.ID, types.WorkflowStatusCompleted, func(w *types.WorkflowInstance) {})
		if err != nil {
			return nil, err
		}
		e.notifier.Publish(ctx, notify.EventWorkflowCompleted, types.Document{
			"workflowId": inst.ID,
		})
	}
	return inst, nil
}

// Cancel terminates a workflow. Cancelling an already terminal
// workflow is an invalid-state error.
func (e *Executor) Cancel(ctx context.Context, instanceID string) (*types.WorkflowInstance, error) {
	inst, err := e.workflows.GetWorkflow(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status.IsTerminal() {
		return nil, types.NewErrorf(types.ErrInvalidState, "workflow %s is already %s", instanceID, inst.Status)
	}
	inst, err = e.transition(ctx, instanceID, types.WorkflowStatusCancelled, func(w *types.WorkflowInstance) {
		now := e.clock.Now()
		w.CancelledAt = &now
	})
	if err != nil {
		return nil, err
	}
	e.notifier.Publish(ctx, notify.EventWorkflowCancelled, types.Document{
		"workflowId": inst.ID,
	})
	return inst, nil
}

// Fail marks a workflow as Failed. Used by operators when a step
// failure cannot be recovered by re-running it.
func (e *Executor) Fail(ctx context.Context, instanceID string) (*types.WorkflowInstance, error) {
	return e.transition(ctx, instanceID, types.WorkflowStatusFailed, func(w *types.WorkflowInstance) {})
}

// transition validates and applies one state machine edge.
func (e *Executor) transition(ctx context.Context, instanceID string, to types.WorkflowStatus, apply func(*types.WorkflowInstance)) (*types.WorkflowInstance, error) {
	inst, err := e.workflows.GetWorkflow(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if !canTransition(inst.Status, to) {
		return nil, types.NewErrorf(types.ErrInvalidTransition, "cannot transition workflow %s from %s to %s", instanceID, inst.Status, to)
	}

	from := inst.Status
	inst.Status = to
	inst.UpdatedAt = e.clock.Now()
	apply(inst)

	if err := e.workflows.UpdateWorkflow(ctx, inst); err != nil {
		return nil, types.NewError(types.ErrStoreError, "failed to update workflow").WithCause(err)
	}

	e.logger.Info("workflow transition",
		zap.String("workflow_id", instanceID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	e.collector.RecordWorkflowTransition(inst.DefinitionID, string(to))
	return inst, nil
}

// =============================================================================
// Step execution
// =============================================================================

// ExecuteStep runs the current step of a Running workflow to completion.
// On success the instance advances (Completed once past the last step);
// on handler failure the instance parks in WaitingForInput with a Failed
// history row and is never retried automatically.
func (e *Executor) ExecuteStep(ctx context.Context, instanceID, userInput string) (*types.WorkflowInstance, error) {
	return e.executeStep(ctx, instanceID, userInput, nil)
}

func (e *Executor) executeStep(ctx context.Context, instanceID, userInput string, emit func(ProgressEvent)) (*types.WorkflowInstance, error) {
	inst, err := e.workflows.GetWorkflow(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != types.WorkflowStatusRunning {
		return nil, types.NewErrorf(types.ErrInvalidState, "workflow %s is %s, not running", instanceID, inst.Status)
	}

	def, ok := e.definitions.DefinitionByID(inst.DefinitionID)
	if !ok {
		return nil, types.NewErrorf(types.ErrNotFound, "workflow definition %q not registered", inst.DefinitionID)
	}
	step := def.StepAt(inst.CurrentStep)
	if step == nil {
		return nil, types.NewErrorf(types.ErrInvalidState, "workflow %s has no step %d", instanceID, inst.CurrentStep)
	}

	ctx, span := e.tracer.Start(ctx, "workflow.execute_step", trace.WithAttributes(
		attribute.String("workflow.id", instanceID),
		attribute.String("workflow.definition_id", inst.DefinitionID),
		attribute.String("workflow.step_id", step.ID),
	))
	defer span.End()

	e.emit(emit, StageStarted, step.ID, "", "")

	agentDef, handler, err := e.router.ResolveForStep(step)
	if err != nil {
		e.emit(emit, StageFailed, step.ID, "", err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("agent.id", agentDef.AgentID))
	e.emit(emit, StageAgentResolved, step.ID, agentDef.AgentID, "")

	sctx, err := e.contexts.Load(ctx, instanceID)
	if err != nil {
		e.emit(emit, StageFailed, step.ID, agentDef.AgentID, err.Error())
		return nil, types.NewError(types.ErrStoreError, "failed to load shared context").WithCause(err)
	}

	if e.tracker != nil {
		prev, err := e.tracker.GetCurrentAgent(ctx, instanceID)
		if err != nil {
			e.logger.Warn("could not determine previous agent", zap.String("workflow_id", instanceID), zap.Error(err))
		}
		if _, err := e.tracker.RecordHandoff(ctx, instanceID, prev, agentDef.AgentID, step.ID, "step execution"); err != nil {
			e.logger.Warn("failed to record handoff", zap.String("workflow_id", instanceID), zap.Error(err))
		} else {
			e.collector.RecordHandoff(prev, agentDef.AgentID)
		}
	}

	req := &types.AgentRequest{
		WorkflowInstanceID: instanceID,
		StepID:             step.ID,
		RequestType:        "step_execution",
		Payload:            types.Document{"stepOutputs": sctx.GetAllStepOutputs()},
		UserInput:          userInput,
	}

	hist := &types.WorkflowStepHistory{
		ID:                 uuid.NewString(),
		WorkflowInstanceID: instanceID,
		StepID:             step.ID,
		StepName:           step.Name,
		AgentID:            agentDef.AgentID,
		Input:              req.Payload,
		Status:             types.StepStatusRunning,
		StartedAt:          e.clock.Now(),
	}
	if err := e.workflows.AddStepHistory(ctx, hist); err != nil {
		e.emit(emit, StageFailed, step.ID, agentDef.AgentID, err.Error())
		return nil, types.NewError(types.ErrStoreError, "failed to record step start").WithCause(err)
	}

	e.emit(emit, StageExecuting, step.ID, agentDef.AgentID, "")
	started := e.clock.Now()
	resp, execErr := handler.Execute(ctx, req)
	elapsed := e.clock.Now().Sub(started)

	if execErr != nil {
		return e.failStep(ctx, inst, step, hist, execErr, elapsed, emit)
	}

	return e.completeStep(ctx, inst, def, step, agentDef, hist, resp, elapsed, emit)
}

// failStep closes out a failed attempt: Failed history row, instance
// parked in WaitingForInput for a human to re-run or cancel.
func (e *Executor) failStep(ctx context.Context, inst *types.WorkflowInstance, step *types.StepDefinition, hist *types.WorkflowStepHistory, execErr error, elapsed time.Duration, emit func(ProgressEvent)) (*types.WorkflowInstance, error) {
	now := e.clock.Now()
	hist.Status = types.StepStatusFailed
	hist.ErrorMessage = execErr.Error()
	hist.CompletedAt = &now
	if err := e.workflows.UpdateStepHistory(ctx, hist); err != nil {
		e.logger.Warn("failed to record step failure", zap.String("workflow_id", inst.ID), zap.Error(err))
	}

	inst.Status = types.WorkflowStatusWaitingForInput
	inst.UpdatedAt = now
	if err := e.workflows.UpdateWorkflow(ctx, inst); err != nil {
		return nil, types.NewError(types.ErrStoreError, "failed to update workflow after step failure").WithCause(err)
	}

	e.logger.Warn("step failed",
		zap.String("workflow_id", inst.ID),
		zap.String("step_id", step.ID),
		zap.Error(execErr))
	e.collector.RecordStepExecution(step.ID, hist.AgentID, "failed", elapsed)
	e.collector.RecordWorkflowTransition(inst.DefinitionID, string(inst.Status))
	e.notifier.Publish(ctx, notify.EventStepFailed, types.Document{
		"workflowId": inst.ID,
		"stepId":     step.ID,
		"error":      execErr.Error(),
	})
	e.emit(emit, StageFailed, step.ID, hist.AgentID, execErr.Error())
	return inst, execErr
}

// completeStep persists a successful attempt: output into the shared
// context (optimistic swap with reload-retry), history row completed,
// instance advanced, optional checkpoint, optional approval gate.
func (e *Executor) completeStep(ctx context.Context, inst *types.WorkflowInstance, def *types.WorkflowDefinition, step *types.StepDefinition, agentDef *types.AgentDefinition, hist *types.WorkflowStepHistory, resp *types.AgentResponse, elapsed time.Duration, emit func(ProgressEvent)) (*types.WorkflowInstance, error) {
	now := e.clock.Now()
	hist.Status = types.StepStatusCompleted
	hist.Output = resp.Output
	hist.CompletedAt = &now
	if err := e.workflows.UpdateStepHistory(ctx, hist); err != nil {
		e.logger.Warn("failed to record step completion", zap.String("workflow_id", inst.ID), zap.Error(err))
	}

	if err := e.storeStepOutput(ctx, inst.ID, step.ID, resp.Output); err != nil {
		e.emit(emit, StageFailed, step.ID, agentDef.AgentID, err.Error())
		return nil, err
	}

	// Low confidence parks the workflow at the approval gate instead of
	// advancing; a human approves, modifies, or rejects the proposal.
	if step.RequiresApproval && e.gate != nil && e.gate.RequiresApproval(resp.Confidence) {
		req, err := e.gate.CreateApprovalRequest(ctx, inst.ID, step.ID, agentDef.AgentID, resp)
		if err != nil {
			return nil, err
		}
		inst.Status = types.WorkflowStatusWaitingForInput
		inst.UpdatedAt = e.clock.Now()
		if err := e.workflows.UpdateWorkflow(ctx, inst); err != nil {
			return nil, types.NewError(types.ErrStoreError, "failed to update workflow").WithCause(err)
		}
		e.logger.Info("step awaiting approval",
			zap.String("workflow_id", inst.ID),
			zap.String("step_id", step.ID),
			zap.String("approval_id", req.ID),
			zap.Float64("confidence", resp.Confidence))
		e.collector.RecordStepExecution(step.ID, agentDef.AgentID, "awaiting_approval", elapsed)
		e.collector.RecordWorkflowTransition(inst.DefinitionID, string(inst.Status))
		e.emit(emit, StageCompleted, step.ID, agentDef.AgentID, "")
		return inst, nil
	}

	inst.CurrentStep++
	if inst.CurrentStep > len(def.Steps) {
		inst.Status = types.WorkflowStatusCompleted
	}
	inst.UpdatedAt = e.clock.Now()
	if err := e.workflows.UpdateWorkflow(ctx, inst); err != nil {
		return nil, types.NewError(types.ErrStoreError, "failed to update workflow").WithCause(err)
	}

	if e.checkpoints != nil && (step.CheckpointAfter || e.checkpointOnCompletion) {
		if _, err := e.checkpoints.CreateCheckpoint(ctx, inst.ID, step.ID, types.CheckpointTypeStepCompletion, ""); err != nil {
			e.logger.Warn("checkpoint after step failed", zap.String("workflow_id", inst.ID), zap.Error(err))
		}
	}

	e.logger.Info("step completed",
		zap.String("workflow_id", inst.ID),
		zap.String("step_id", step.ID),
		zap.String("agent_id", agentDef.AgentID),
		zap.Int("next_step", inst.CurrentStep),
		zap.Duration("elapsed", elapsed))
	e.collector.RecordStepExecution(step.ID, agentDef.AgentID, "completed", elapsed)
	e.collector.RecordWorkflowTransition(inst.DefinitionID, string(inst.Status))
	e.notifier.Publish(ctx, notify.EventStepCompleted, types.Document{
		"workflowId": inst.ID,
		"stepId":     step.ID,
		"agentId":    agentDef.AgentID,
	})
	if inst.Status == types.WorkflowStatusCompleted {
		e.notifier.Publish(ctx, notify.EventWorkflowCompleted, types.Document{
			"workflowId": inst.ID,
		})
	}
	e.emit(emit, StageCompleted, step.ID, agentDef.AgentID, "")
	return inst, nil
}

// storeStepOutput writes the step output into the shared context using
// the optimistic swap, reloading on version mismatch.
func (e *Executor) storeStepOutput(ctx context.Context, workflowID, stepID string, output types.Document) error {
	for attempt := 0; attempt < contextSwapRetries; attempt++ {
		sctx, err := e.contexts.Load(ctx, workflowID)
		if err != nil {
			return types.NewError(types.ErrStoreError, "failed to load shared context").WithCause(err)
		}
		expected := sctx.Version
		sctx.AddStepOutput(stepID, output)

		ok, err := e.contexts.Update(ctx, workflowID, expected, sctx)
		if err != nil {
			return types.NewError(types.ErrStoreError, "failed to store step output").WithCause(err)
		}
		if ok {
			return nil
		}
		e.logger.Debug("shared context version conflict, retrying",
			zap.String("workflow_id", workflowID),
			zap.Int("expected_version", expected))
	}
	return types.NewErrorf(types.ErrVersionConflict, "could not store output for step %s after %d attempts", stepID, contextSwapRetries)
}

func (e *Executor) emit(emit func(ProgressEvent), stage ProgressStage, stepID, agentID, errMsg string) {
	if emit == nil {
		return
	}
	emit(ProgressEvent{
		Stage:     stage,
		StepID:    stepID,
		AgentID:   agentID,
		Error:     errMsg,
		Timestamp: e.clock.Now(),
	})
}
