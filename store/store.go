// Package store defines the persistence contract the orchestration engine
// consumes, plus in-memory, GORM, and Redis-backed implementations.
//
// The engine only needs plain CRUD over the orchestration entities:
// get-by-id, query-by-workflow, add, update, paginate. No ORM-specific
// behavior leaks through the interfaces.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/conductor/sharedctx"
	"github.com/BaSui01/conductor/types"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrStoreClosed   = errors.New("store is closed")
	ErrInvalidInput  = errors.New("invalid input")
)

// WorkflowStore persists workflow instances and their step history.
type WorkflowStore interface {
	AddWorkflow(ctx context.Context, wf *types.WorkflowInstance) error
	GetWorkflow(ctx context.Context, id string) (*types.WorkflowInstance, error)
	UpdateWorkflow(ctx context.Context, wf *types.WorkflowInstance) error

	AddStepHistory(ctx context.Context, h *types.WorkflowStepHistory) error
	UpdateStepHistory(ctx context.Context, h *types.WorkflowStepHistory) error
	ListStepHistory(ctx context.Context, workflowID string) ([]*types.WorkflowStepHistory, error)
}

// CheckpointStore persists immutable checkpoints ordered by version.
type CheckpointStore interface {
	AddCheckpoint(ctx context.Context, cp *types.Checkpoint) error
	GetCheckpoint(ctx context.Context, id string) (*types.Checkpoint, error)
	LatestCheckpoint(ctx context.Context, workflowID string) (*types.Checkpoint, error)
	// ListCheckpoints pages checkpoints ordered by version ascending.
	// page is 1-based; the int result is the total count.
	ListCheckpoints(ctx context.Context, workflowID string, page, pageSize int) ([]*types.Checkpoint, int, error)
}

// DecisionStore persists decisions, their linear version history,
// reviews, review responses, conflicts, and conflict rules.
type DecisionStore interface {
	AddDecision(ctx context.Context, d *types.Decision) error
	GetDecision(ctx context.Context, id string) (*types.Decision, error)
	UpdateDecision(ctx context.Context, d *types.Decision) error
	ListDecisionsByWorkflow(ctx context.Context, workflowID string) ([]*types.Decision, error)

	AddDecisionVersion(ctx context.Context, v *types.DecisionVersion) error
	GetDecisionVersion(ctx context.Context, decisionID string, versionNumber int) (*types.DecisionVersion, error)
	ListDecisionVersions(ctx context.Context, decisionID string) ([]*types.DecisionVersion, error)

	AddReview(ctx context.Context, r *types.DecisionReview) error
	GetReview(ctx context.Context, id string) (*types.DecisionReview, error)
	UpdateReview(ctx context.Context, r *types.DecisionReview) error
	PendingReviewForDecision(ctx context.Context, decisionID string) (*types.DecisionReview, error)

	AddReviewResponse(ctx context.Context, resp *types.DecisionReviewResponse) error
	ListReviewResponses(ctx context.Context, reviewID string) ([]*types.DecisionReviewResponse, error)

	AddConflict(ctx context.Context, c *types.DecisionConflict) error
	GetConflict(ctx context.Context, id string) (*types.DecisionConflict, error)
	UpdateConflict(ctx context.Context, c *types.DecisionConflict) error
	ListConflictsByDecision(ctx context.Context, decisionID string) ([]*types.DecisionConflict, error)

	AddRule(ctx context.Context, r *types.ConflictRule) error
	ListActiveRules(ctx context.Context) ([]*types.ConflictRule, error)
}

// ApprovalStore persists human approval requests.
type ApprovalStore interface {
	AddApproval(ctx context.Context, req *types.ApprovalRequest) error
	GetApproval(ctx context.Context, id string) (*types.ApprovalRequest, error)
	UpdateApproval(ctx context.Context, req *types.ApprovalRequest) error
	// ListPendingCreatedBefore returns pending requests created before
	// the cutoff, oldest first.
	ListPendingCreatedBefore(ctx context.Context, cutoff time.Time) ([]*types.ApprovalRequest, error)
}

// HandoffStore persists the append-only per-workflow handoff sequence.
type HandoffStore interface {
	AddHandoff(ctx context.Context, h *types.AgentHandoff) error
	ListHandoffs(ctx context.Context, workflowID string) ([]*types.AgentHandoff, error)
}

// MessageStore persists the append-only per-workflow agent message
// history. Histories are isolated per workflow instance.
type MessageStore interface {
	AddMessage(ctx context.Context, m *types.AgentMessage) error
	ListMessages(ctx context.Context, workflowID string) ([]*types.AgentMessage, error)
}

// InputStore persists buffered multi-user inputs and input conflicts.
type InputStore interface {
	AddInput(ctx context.Context, in *types.BufferedInput) error
	// LatestUnapplied returns the most recent unapplied input for a
	// field, or nil when the buffer is empty.
	LatestUnapplied(ctx context.Context, workflowID, fieldName string) (*types.BufferedInput, error)
	ListUnapplied(ctx context.Context, workflowID string) ([]*types.BufferedInput, error)
	MarkApplied(ctx context.Context, inputIDs []string) error

	AddInputConflict(ctx context.Context, c *types.InputConflict) error
	GetInputConflict(ctx context.Context, id string) (*types.InputConflict, error)
	UpdateInputConflict(ctx context.Context, c *types.InputConflict) error
	ListInputConflicts(ctx context.Context, workflowID string) ([]*types.InputConflict, error)
}

// Store aggregates every persistence concern the engine needs. The
// shared-context store rides along so a single collaborator can back
// the whole engine.
type Store interface {
	WorkflowStore
	CheckpointStore
	DecisionStore
	ApprovalStore
	HandoffStore
	MessageStore
	InputStore
	sharedctx.Store

	// Ping reports backend health.
	Ping(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}
