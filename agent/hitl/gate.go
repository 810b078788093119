// Package hitl gates low-confidence agent output behind a human
// approve / modify / reject decision, with reminder and timeout
// sweeps for unattended requests.
package hitl

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/conductor/internal/metrics"
	"github.com/BaSui01/conductor/notify"
	"github.com/BaSui01/conductor/store"
	"github.com/BaSui01/conductor/types"
)

const (
	// DefaultConfidenceThreshold: responses below this score require
	// human approval before the workflow proceeds.
	DefaultConfidenceThreshold = 0.7

	// DefaultReminderAfter is how long a request may sit pending
	// before a reminder goes out.
	DefaultReminderAfter = 24 * time.Hour

	// DefaultTimeoutAfter is how long a request may sit pending
	// before it times out.
	DefaultTimeoutAfter = 72 * time.Hour
)

// Clock abstracts time for sweep tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Gate is the human approval gate.
type Gate struct {
	approvals     store.ApprovalStore
	notifier      notify.Notifier
	threshold     float64
	reminderAfter time.Duration
	timeoutAfter  time.Duration
	clock         Clock
	collector     *metrics.Collector
	logger        *zap.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithConfidenceThreshold overrides the approval threshold.
func WithConfidenceThreshold(threshold float64) Option {
	return func(g *Gate) { g.threshold = threshold }
}

// WithReminderAfter overrides the reminder delay.
func WithReminderAfter(d time.Duration) Option {
	return func(g *Gate) { g.reminderAfter = d }
}

// WithTimeoutAfter overrides the timeout delay.
func WithTimeoutAfter(d time.Duration) Option {
	return func(g *Gate) { g.timeoutAfter = d }
}

// WithClock injects a clock, used by sweep tests.
func WithClock(clock Clock) Option {
	return func(g *Gate) { g.clock = clock }
}

// WithMetrics wires the Prometheus collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(g *Gate) { g.collector = c }
}

// NewGate creates an approval gate with the default thresholds.
func NewGate(approvals store.ApprovalStore, notifier notify.Notifier, logger *zap.Logger, opts ...Option) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.NewNop()
	}
	g := &Gate{
		approvals:     approvals,
		notifier:      notifier,
		threshold:     DefaultConfidenceThreshold,
		reminderAfter: DefaultReminderAfter,
		timeoutAfter:  DefaultTimeoutAfter,
		clock:         systemClock{},
		logger:        logger.With(zap.String("component", "approval_gate")),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RequiresApproval reports whether a response with the given
// confidence must pass through the gate. The threshold itself does
// not require approval.
func (g *Gate) RequiresApproval(confidence float64) bool {
	return confidence < g.threshold
}

// CreateApprovalRequest records a pending approval for a
// low-confidence agent response.
func (g *Gate) CreateApprovalRequest(ctx context.Context, workflowID, stepID, agentID string, resp *types.AgentResponse) (*types.ApprovalRequest, error) {
	if resp == nil {
		return nil, types.NewError(types.ErrValidation, "agent response is required")
	}
	req := &types.ApprovalRequest{
		ID:                 uuid.New().String(),
		WorkflowInstanceID: workflowID,
		StepID:             stepID,
		AgentID:            agentID,
		ProposedResponse:   resp.Output.Clone(),
		ConfidenceScore:    resp.Confidence,
		Reasoning:          resp.Reasoning,
		Status:             types.ApprovalStatusPending,
		CreatedAt:          g.clock.Now(),
	}
	if err := g.approvals.AddApproval(ctx, req); err != nil {
		return nil, types.NewError(types.ErrStoreError, "persist approval request").WithCause(err)
	}

	g.logger.Info("approval requested",
		zap.String("approval_id", req.ID),
		zap.String("workflow_id", workflowID),
		zap.String("step_id", stepID),
		zap.Float64("confidence", resp.Confidence),
	)
	g.notifier.Publish(ctx, notify.EventApprovalRequested, types.Document{
		"approvalId": req.ID,
		"workflowId": workflowID,
		"stepId":     stepID,
		"agentId":    agentID,
		"confidence": resp.Confidence,
	})
	g.reportPending(ctx)
	return req, nil
}

// reportPending refreshes the pending-approvals gauge. Best effort;
// the cutoff is nudged past now because the store compares strictly.
func (g *Gate) reportPending(ctx context.Context) {
	if g.collector == nil {
		return
	}
	pending, err := g.approvals.ListPendingCreatedBefore(ctx, g.clock.Now().Add(time.Nanosecond))
	if err != nil {
		g.logger.Debug("count pending approvals failed", zap.Error(err))
		return
	}
	g.collector.SetApprovalsPending(len(pending))
}

// GetRequest returns an approval request by id.
func (g *Gate) GetRequest(ctx context.Context, id string) (*types.ApprovalRequest, error) {
	req, err := g.approvals.GetApproval(ctx, id)
	if err != nil {
		return nil, types.NewErrorf(types.ErrNotFound, "approval request %q not found", id).WithCause(err)
	}
	return req, nil
}

// Approve accepts the proposed response as-is. Returns false when the
// request is no longer pending.
func (g *Gate) Approve(ctx context.Context, id, userID string) (bool, error) {
	return g.respond(ctx, id, func(req *types.ApprovalRequest) error {
		req.Status = types.ApprovalStatusApproved
		req.ApprovedByUserID = userID
		req.FinalResponse = req.ProposedResponse.Clone()
		return nil
	})
}

// Modify accepts the request with a replacement response. The proposed
// response stays on record for audit.
func (g *Gate) Modify(ctx context.Context, id, userID string, replacement types.Document) (bool, error) {
	if len(replacement) == 0 {
		return false, types.NewError(types.ErrValidation, "replacement response is required")
	}
	return g.respond(ctx, id, func(req *types.ApprovalRequest) error {
		req.Status = types.ApprovalStatusModified
		req.ApprovedByUserID = userID
		req.FinalResponse = replacement.Clone()
		return nil
	})
}

// Reject declines the proposed response. A reason is mandatory.
func (g *Gate) Reject(ctx context.Context, id, userID, reason string) (bool, error) {
	if reason == "" {
		return false, types.NewError(types.ErrValidation, "rejection reason is required")
	}
	return g.respond(ctx, id, func(req *types.ApprovalRequest) error {
		req.Status = types.ApprovalStatusRejected
		req.ApprovedByUserID = userID
		req.RejectionReason = reason
		return nil
	})
}

// respond applies one human response to a pending request. All
// responses stamp RespondedAt and publish EventApprovalResolved.
func (g *Gate) respond(ctx context.Context, id string, apply func(*types.ApprovalRequest) error) (bool, error) {
	req, err := g.approvals.GetApproval(ctx, id)
	if err != nil {
		return false, types.NewErrorf(types.ErrNotFound, "approval request %q not found", id).WithCause(err)
	}
	if req.Status != types.ApprovalStatusPending {
		return false, nil
	}
	if err := apply(req); err != nil {
		return false, err
	}
	now := g.clock.Now()
	req.RespondedAt = &now
	if err := g.approvals.UpdateApproval(ctx, req); err != nil {
		return false, types.NewError(types.ErrStoreError, "update approval request").WithCause(err)
	}

	g.logger.Info("approval resolved",
		zap.String("approval_id", req.ID),
		zap.String("status", string(req.Status)),
		zap.String("user_id", req.ApprovedByUserID),
	)
	g.notifier.Publish(ctx, notify.EventApprovalResolved, types.Document{
		"approvalId": req.ID,
		"workflowId": req.WorkflowInstanceID,
		"status":     string(req.Status),
		"userId":     req.ApprovedByUserID,
	})
	g.collector.RecordApprovalResolved(string(req.Status))
	g.reportPending(ctx)
	return true, nil
}

// GetPendingRequestsNeedingReminders returns pending requests older
// than the reminder delay that have never been reminded.
func (g *Gate) GetPendingRequestsNeedingReminders(ctx context.Context) ([]*types.ApprovalRequest, error) {
	cutoff := g.clock.Now().Add(-g.reminderAfter)
	pending, err := g.approvals.ListPendingCreatedBefore(ctx, cutoff)
	if err != nil {
		return nil, types.NewError(types.ErrStoreError, "list pending approvals").WithCause(err)
	}
	out := make([]*types.ApprovalRequest, 0, len(pending))
	for _, req := range pending {
		if req.LastReminderSentAt == nil {
			out = append(out, req)
		}
	}
	return out, nil
}

// GetTimedOutRequests returns pending requests older than the timeout
// delay.
func (g *Gate) GetTimedOutRequests(ctx context.Context) ([]*types.ApprovalRequest, error) {
	cutoff := g.clock.Now().Add(-g.timeoutAfter)
	pending, err := g.approvals.ListPendingCreatedBefore(ctx, cutoff)
	if err != nil {
		return nil, types.NewError(types.ErrStoreError, "list pending approvals").WithCause(err)
	}
	return pending, nil
}

// MarkReminderSent stamps the reminder time on a still-pending
// request. Returns false when the request already resolved.
func (g *Gate) MarkReminderSent(ctx context.Context, id string) (bool, error) {
	req, err := g.approvals.GetApproval(ctx, id)
	if err != nil {
		return false, types.NewErrorf(types.ErrNotFound, "approval request %q not found", id).WithCause(err)
	}
	if req.Status != types.ApprovalStatusPending {
		return false, nil
	}
	now := g.clock.Now()
	req.LastReminderSentAt = &now
	if err := g.approvals.UpdateApproval(ctx, req); err != nil {
		return false, types.NewError(types.ErrStoreError, "update approval request").WithCause(err)
	}
	return true, nil
}

// TimeoutRequest transitions a pending request to TimedOut. No user is
// attached; RespondedAt records when the timeout fired.
func (g *Gate) TimeoutRequest(ctx context.Context, id string) (bool, error) {
	req, err := g.approvals.GetApproval(ctx, id)
	if err != nil {
		return false, types.NewErrorf(types.ErrNotFound, "approval request %q not found", id).WithCause(err)
	}
	if req.Status != types.ApprovalStatusPending {
		return false, nil
	}
	now := g.clock.Now()
	req.Status = types.ApprovalStatusTimedOut
	req.RespondedAt = &now
	if err := g.approvals.UpdateApproval(ctx, req); err != nil {
		return false, types.NewError(types.ErrStoreError, "update approval request").WithCause(err)
	}

	g.logger.Warn("approval timed out",
		zap.String("approval_id", req.ID),
		zap.String("workflow_id", req.WorkflowInstanceID),
	)
	g.notifier.Publish(ctx, notify.EventApprovalTimedOut, types.Document{
		"approvalId": req.ID,
		"workflowId": req.WorkflowInstanceID,
	})
	g.collector.RecordApprovalResolved(string(req.Status))
	g.reportPending(ctx)
	return true, nil
}

// SweepReminders sends reminders for all overdue pending requests and
// returns how many went out.
func (g *Gate) SweepReminders(ctx context.Context) (int, error) {
	due, err := g.GetPendingRequestsNeedingReminders(ctx)
	if err != nil {
		return 0, err
	}

	var sent int
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(4)
	results := make([]bool, len(due))
	for i, req := range due {
		grp.Go(func() error {
			ok, err := g.MarkReminderSent(grpCtx, req.ID)
			if err != nil {
				return err
			}
			if ok {
				g.notifier.Publish(grpCtx, notify.EventApprovalReminder, types.Document{
					"approvalId": req.ID,
					"workflowId": req.WorkflowInstanceID,
				})
			}
			results[i] = ok
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return 0, err
	}
	for _, ok := range results {
		if ok {
			sent++
		}
	}
	return sent, nil
}

// SweepTimeouts times out all overdue pending requests and returns how
// many transitioned.
func (g *Gate) SweepTimeouts(ctx context.Context) (int, error) {
	due, err := g.GetTimedOutRequests(ctx)
	if err != nil {
		return 0, err
	}

	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(4)
	results := make([]bool, len(due))
	for i, req := range due {
		grp.Go(func() error {
			ok, err := g.TimeoutRequest(grpCtx, req.ID)
			if err != nil {
				return err
			}
			results[i] = ok
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return 0, err
	}
	var timedOut int
	for _, ok := range results {
		if ok {
			timedOut++
		}
	}
	return timedOut, nil
}
