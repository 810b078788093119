// Package decision implements decision governance: linear version
// history, advisory edit locking, multi-reviewer approval rounds, and
// rule-based conflict detection between related decisions.
package decision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/conductor/internal/metrics"
	"github.com/BaSui01/conductor/notify"
	"github.com/BaSui01/conductor/store"
	"github.com/BaSui01/conductor/types"
)

// RelatedDecisionFilter decides which sibling decisions a triggered
// conflict rule should flag. The default heuristic matches siblings
// sharing the new decision's type, or whose type substring-matches the
// rule's conflict type.
type RelatedDecisionFilter func(candidate *types.Decision, created *types.Decision, rule *types.ConflictRule) bool

// DefaultRelatedDecisionFilter is the type/substring heuristic.
func DefaultRelatedDecisionFilter(candidate, created *types.Decision, rule *types.ConflictRule) bool {
	if candidate.DecisionType == created.DecisionType {
		return true
	}
	return strings.Contains(candidate.DecisionType, rule.ConflictType) ||
		strings.Contains(rule.ConflictType, candidate.DecisionType)
}

// FieldChange is one differing field between two decision versions.
type FieldChange struct {
	Field    string `json:"field"`
	OldValue any    `json:"oldValue"`
	NewValue any    `json:"newValue"`
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Service is the decision governance engine.
type Service struct {
	decisions store.DecisionStore
	notifier  notify.Notifier
	filter    RelatedDecisionFilter
	clock     Clock
	collector *metrics.Collector
	logger    *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRelatedDecisionFilter overrides the sibling-matching policy used
// by conflict detection.
func WithRelatedDecisionFilter(filter RelatedDecisionFilter) Option {
	return func(s *Service) { s.filter = filter }
}

// WithClock injects a clock for tests.
func WithClock(clock Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithMetrics wires the Prometheus collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Service) { s.collector = c }
}

// NewService creates the governance service.
func NewService(decisions store.DecisionStore, notifier notify.Notifier, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.NewNop()
	}
	s := &Service{
		decisions: decisions,
		notifier:  notifier,
		filter:    DefaultRelatedDecisionFilter,
		clock:     systemClock{},
		logger:    logger.With(zap.String("component", "decision_service")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ============================================================
// Lifecycle and versioning
// ============================================================

// CreateInput carries the fields of a new decision.
type CreateInput struct {
	WorkflowInstanceID string
	StepID             string
	DecisionType       string
	Value              types.Document
	Question           string
	Options            types.Document
	Reasoning          string
	Context            types.Document
	CreatedBy          string
}

// CreateDecision records a new draft decision at version 1 and runs
// conflict detection against its workflow siblings.
func (s *Service) CreateDecision(ctx context.Context, in CreateInput) (*types.Decision, []*types.DecisionConflict, error) {
	if in.WorkflowInstanceID == "" || in.DecisionType == "" {
		return nil, nil, types.NewError(types.ErrValidation, "workflowInstanceId and decisionType are required")
	}
	d := &types.Decision{
		ID:                 uuid.New().String(),
		WorkflowInstanceID: in.WorkflowInstanceID,
		StepID:             in.StepID,
		DecisionType:       in.DecisionType,
		Value:              in.Value.Clone(),
		Question:           in.Question,
		Options:            in.Options.Clone(),
		Reasoning:          in.Reasoning,
		Context:            in.Context.Clone(),
		CurrentVersion:     1,
		Status:             types.DecisionStatusDraft,
		CreatedBy:          in.CreatedBy,
		CreatedAt:          s.clock.Now(),
		UpdatedAt:          s.clock.Now(),
	}
	if err := s.decisions.AddDecision(ctx, d); err != nil {
		return nil, nil, types.NewError(types.ErrStoreError, "persist decision").WithCause(err)
	}

	s.logger.Info("decision created",
		zap.String("decision_id", d.ID),
		zap.String("workflow_id", d.WorkflowInstanceID),
		zap.String("decision_type", d.DecisionType),
	)

	conflicts, err := s.detectConflicts(ctx, d)
	if err != nil {
		// The decision is already durable; detection failure must not
		// discard it.
		s.logger.Warn("conflict detection failed",
			zap.String("decision_id", d.ID),
			zap.Error(err),
		)
		return d, nil, nil
	}
	return d, conflicts, nil
}

// GetDecision returns a decision by id.
func (s *Service) GetDecision(ctx context.Context, id string) (*types.Decision, error) {
	d, err := s.decisions.GetDecision(ctx, id)
	if err != nil {
		return nil, types.NewErrorf(types.ErrNotFound, "decision %q not found", id).WithCause(err)
	}
	return d, nil
}

// UpdateInput carries the replacement fields of an update.
type UpdateInput struct {
	Value        types.Document
	Question     string
	Reasoning    string
	ModifiedBy   string
	ChangeReason string
}

// UpdateDecision snapshots the pre-update state into a DecisionVersion
// tagged with the current version number, applies the new values, and
// increments currentVersion. Locked decisions reject the update.
func (s *Service) UpdateDecision(ctx context.Context, id string, in UpdateInput) (*types.Decision, error) {
	d, err := s.GetDecision(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.IsLocked {
		return nil, types.NewErrorf(types.ErrInvalidState, "decision %q is locked by %s", id, d.LockedBy)
	}

	if err := s.snapshot(ctx, d, in.ModifiedBy, in.ChangeReason); err != nil {
		return nil, err
	}

	d.Value = in.Value.Clone()
	d.Question = in.Question
	d.Reasoning = in.Reasoning
	d.CurrentVersion++
	d.UpdatedAt = s.clock.Now()
	if err := s.decisions.UpdateDecision(ctx, d); err != nil {
		return nil, types.NewError(types.ErrStoreError, "update decision").WithCause(err)
	}

	s.logger.Info("decision updated",
		zap.String("decision_id", d.ID),
		zap.Int("version", d.CurrentVersion),
		zap.String("modified_by", in.ModifiedBy),
	)
	return d, nil
}

// RevertDecision restores the value/question/reasoning of the target
// version, first snapshotting the current state. The change reason is a
// synthetic revert note.
func (s *Service) RevertDecision(ctx context.Context, id string, targetVersion int, userID, reason string) (*types.Decision, error) {
	d, err := s.GetDecision(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.IsLocked {
		return nil, types.NewErrorf(types.ErrInvalidState, "decision %q is locked by %s", id, d.LockedBy)
	}

	target, err := s.decisions.GetDecisionVersion(ctx, id, targetVersion)
	if err != nil {
		return nil, types.NewErrorf(types.ErrNotFound, "decision %q has no version %d", id, targetVersion).WithCause(err)
	}

	note := fmt.Sprintf("Reverted to version %d: %s", targetVersion, reason)
	if err := s.snapshot(ctx, d, userID, note); err != nil {
		return nil, err
	}

	d.Value = target.Value.Clone()
	d.Question = target.Question
	d.Reasoning = target.Reasoning
	d.CurrentVersion++
	d.UpdatedAt = s.clock.Now()
	if err := s.decisions.UpdateDecision(ctx, d); err != nil {
		return nil, types.NewError(types.ErrStoreError, "update decision").WithCause(err)
	}

	s.logger.Info("decision reverted",
		zap.String("decision_id", d.ID),
		zap.Int("target_version", targetVersion),
		zap.Int("version", d.CurrentVersion),
	)
	return d, nil
}

// snapshot records the decision's current field values as an immutable
// version tagged with the current version number.
func (s *Service) snapshot(ctx context.Context, d *types.Decision, modifiedBy, changeReason string) error {
	v := &types.DecisionVersion{
		ID:            uuid.New().String(),
		DecisionID:    d.ID,
		VersionNumber: d.CurrentVersion,
		Value:         d.Value.Clone(),
		Question:      d.Question,
		Reasoning:     d.Reasoning,
		ModifiedBy:    modifiedBy,
		ChangeReason:  changeReason,
		CreatedAt:     s.clock.Now(),
	}
	if err := s.decisions.AddDecisionVersion(ctx, v); err != nil {
		return types.NewError(types.ErrStoreError, "persist decision version").WithCause(err)
	}
	return nil
}

// GetVersionHistory returns the decision's snapshots oldest first.
func (s *Service) GetVersionHistory(ctx context.Context, decisionID string) ([]*types.DecisionVersion, error) {
	versions, err := s.decisions.ListDecisionVersions(ctx, decisionID)
	if err != nil {
		return nil, types.NewError(types.ErrStoreError, "list decision versions").WithCause(err)
	}
	return versions, nil
}

// GetVersionDiff compares two versions field by field and returns one
// FieldChange per differing field among value, question, and reasoning.
// The decision's current version is compared from its live fields.
func (s *Service) GetVersionDiff(ctx context.Context, decisionID string, fromVersion, toVersion int) ([]FieldChange, error) {
	from, err := s.versionFields(ctx, decisionID, fromVersion)
	if err != nil {
		return nil, err
	}
	to, err := s.versionFields(ctx, decisionID, toVersion)
	if err != nil {
		return nil, err
	}

	var changes []FieldChange
	if !from.value.Equal(to.value) {
		changes = append(changes, FieldChange{Field: "value", OldValue: map[string]any(from.value), NewValue: map[string]any(to.value)})
	}
	if from.question != to.question {
		changes = append(changes, FieldChange{Field: "question", OldValue: from.question, NewValue: to.question})
	}
	if from.reasoning != to.reasoning {
		changes = append(changes, FieldChange{Field: "reasoning", OldValue: from.reasoning, NewValue: to.reasoning})
	}
	return changes, nil
}

type versionFields struct {
	value     types.Document
	question  string
	reasoning string
}

func (s *Service) versionFields(ctx context.Context, decisionID string, version int) (versionFields, error) {
	d, err := s.GetDecision(ctx, decisionID)
	if err != nil {
		return versionFields{}, err
	}
	if version == d.CurrentVersion {
		return versionFields{value: d.Value, question: d.Question, reasoning: d.Reasoning}, nil
	}
	v, err := s.decisions.GetDecisionVersion(ctx, decisionID, version)
	if err != nil {
		return versionFields{}, types.NewErrorf(types.ErrNotFound, "decision %q has no version %d", decisionID, version).WithCause(err)
	}
	return versionFields{value: v.Value, question: v.Question, reasoning: v.Reasoning}, nil
}

// ============================================================
// Locking
// ============================================================

// LockDecision places the advisory edit lock. Locking an already
// locked decision fails with InvalidState.
func (s *Service) LockDecision(ctx context.Context, id, userID, reason string) error {
	d, err := s.GetDecision(ctx, id)
	if err != nil {
		return err
	}
	if d.IsLocked {
		return types.NewErrorf(types.ErrInvalidState, "decision %q is already locked by %s", id, d.LockedBy)
	}
	now := s.clock.Now()
	d.IsLocked = true
	d.LockedBy = userID
	d.LockedAt = &now
	d.LockReason = reason
	if err := s.decisions.UpdateDecision(ctx, d); err != nil {
		return types.NewError(types.ErrStoreError, "update decision").WithCause(err)
	}

	s.logger.Info("decision locked",
		zap.String("decision_id", id),
		zap.String("locked_by", userID),
		zap.String("reason", reason),
	)
	return nil
}

// UnlockDecision clears the lock and logs the prior locker for audit.
// Unlocking an unlocked decision fails with InvalidState.
func (s *Service) UnlockDecision(ctx context.Context, id, userID string) error {
	d, err := s.GetDecision(ctx, id)
	if err != nil {
		return err
	}
	if !d.IsLocked {
		return types.NewErrorf(types.ErrInvalidState, "decision %q is not locked", id)
	}
	priorLocker := d.LockedBy
	d.IsLocked = false
	d.LockedBy = ""
	d.LockedAt = nil
	d.LockReason = ""
	if err := s.decisions.UpdateDecision(ctx, d); err != nil {
		return types.NewError(types.ErrStoreError, "update decision").WithCause(err)
	}

	s.logger.Info("decision unlocked",
		zap.String("decision_id", id),
		zap.String("unlocked_by", userID),
		zap.String("prior_locker", priorLocker),
	)
	return nil
}

// ============================================================
// Review
// ============================================================

// RequestReview opens a multi-reviewer approval round. A locked
// decision or one with a pending review cannot enter review.
func (s *Service) RequestReview(ctx context.Context, decisionID, requestedBy string, reviewerIDs []string, deadline *time.Time) (*types.DecisionReview, error) {
	if len(reviewerIDs) == 0 {
		return nil, types.NewError(types.ErrValidation, "at least one reviewer is required")
	}
	d, err := s.GetDecision(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if d.IsLocked {
		return nil, types.NewErrorf(types.ErrInvalidState, "decision %q is locked", decisionID)
	}
	if existing, err := s.decisions.PendingReviewForDecision(ctx, decisionID); err == nil && existing != nil {
		return nil, types.NewErrorf(types.ErrInvalidState, "decision %q already has a pending review", decisionID)
	}

	review := &types.DecisionReview{
		ID:          uuid.New().String(),
		DecisionID:  decisionID,
		RequestedBy: requestedBy,
		RequestedAt: s.clock.Now(),
		Deadline:    deadline,
		Status:      types.ReviewStatusPending,
		ReviewerIDs: append([]string(nil), reviewerIDs...),
	}
	if err := s.decisions.AddReview(ctx, review); err != nil {
		return nil, types.NewError(types.ErrStoreError, "persist review").WithCause(err)
	}

	d.Status = types.DecisionStatusUnderReview
	d.UpdatedAt = s.clock.Now()
	if err := s.decisions.UpdateDecision(ctx, d); err != nil {
		return nil, types.NewError(types.ErrStoreError, "update decision").WithCause(err)
	}

	s.logger.Info("review requested",
		zap.String("decision_id", decisionID),
		zap.String("review_id", review.ID),
		zap.Int("reviewers", len(reviewerIDs)),
	)
	return review, nil
}

// SubmitReviewResponse records one reviewer's verdict. A single
// ChangesRequested completes the review immediately; unanimous approval
// completes it and auto-locks the decision by the final approver.
func (s *Service) SubmitReviewResponse(ctx context.Context, reviewID, reviewerID string, responseType types.ReviewResponseType, comments string) (*types.DecisionReviewResponse, error) {
	review, err := s.decisions.GetReview(ctx, reviewID)
	if err != nil {
		return nil, types.NewErrorf(types.ErrNotFound, "review %q not found", reviewID).WithCause(err)
	}
	if review.Status != types.ReviewStatusPending {
		return nil, types.NewErrorf(types.ErrInvalidState, "review %q is not pending", reviewID)
	}
	if !review.HasReviewer(reviewerID) {
		return nil, types.NewErrorf(types.ErrValidation, "user %q is not a reviewer of review %q", reviewerID, reviewID)
	}

	existing, err := s.decisions.ListReviewResponses(ctx, reviewID)
	if err != nil {
		return nil, types.NewError(types.ErrStoreError, "list review responses").WithCause(err)
	}
	for _, resp := range existing {
		if resp.ReviewerID == reviewerID {
			return nil, types.NewErrorf(types.ErrInvalidState, "reviewer %q has already responded", reviewerID)
		}
	}

	resp := &types.DecisionReviewResponse{
		ID:           uuid.New().String(),
		ReviewID:     reviewID,
		ReviewerID:   reviewerID,
		ResponseType: responseType,
		Comments:     comments,
		Timestamp:    s.clock.Now(),
	}
	if err := s.decisions.AddReviewResponse(ctx, resp); err != nil {
		return nil, types.NewError(types.ErrStoreError, "persist review response").WithCause(err)
	}

	switch responseType {
	case types.ReviewResponseChangesRequested:
		// One objection halts approval, no quorum needed.
		if err := s.completeReview(ctx, review, types.DecisionStatusChangesRequested, reviewerID); err != nil {
			return nil, err
		}
	case types.ReviewResponseApproved:
		approved := 1
		for _, r := range existing {
			if r.ResponseType == types.ReviewResponseApproved {
				approved++
			}
		}
		if approved == len(review.ReviewerIDs) {
			if err := s.completeReview(ctx, review, types.DecisionStatusApproved, reviewerID); err != nil {
				return nil, err
			}
		}
	default:
		return nil, types.NewErrorf(types.ErrValidation, "unknown response type %q", responseType)
	}
	return resp, nil
}

func (s *Service) completeReview(ctx context.Context, review *types.DecisionReview, outcome types.DecisionStatus, finalReviewer string) error {
	review.Status = types.ReviewStatusCompleted
	if err := s.decisions.UpdateReview(ctx, review); err != nil {
		return types.NewError(types.ErrStoreError, "update review").WithCause(err)
	}

	d, err := s.GetDecision(ctx, review.DecisionID)
	if err != nil {
		return err
	}
	d.Status = outcome
	d.UpdatedAt = s.clock.Now()

	event := notify.EventDecisionChangesRequired
	if outcome == types.DecisionStatusApproved {
		event = notify.EventDecisionApproved
		now := s.clock.Now()
		d.IsLocked = true
		d.LockedBy = finalReviewer
		d.LockedAt = &now
		d.LockReason = "auto-locked after all reviewers approved"
	}
	if err := s.decisions.UpdateDecision(ctx, d); err != nil {
		return types.NewError(types.ErrStoreError, "update decision").WithCause(err)
	}

	s.logger.Info("review completed",
		zap.String("review_id", review.ID),
		zap.String("decision_id", d.ID),
		zap.String("outcome", string(outcome)),
	)
	s.notifier.Publish(ctx, event, types.Document{
		"decisionId": d.ID,
		"reviewId":   review.ID,
		"status":     string(outcome),
	})
	return nil
}

// ============================================================
// Conflict detection and resolution
// ============================================================

// detectConflicts evaluates every active rule against the new
// decision's value payload and opens a conflict per related sibling of
// each triggered rule.
func (s *Service) detectConflicts(ctx context.Context, created *types.Decision) ([]*types.DecisionConflict, error) {
	rules, err := s.decisions.ListActiveRules(ctx)
	if err != nil {
		return nil, types.NewError(types.ErrStoreError, "list conflict rules").WithCause(err)
	}
	if len(rules) == 0 {
		return nil, nil
	}

	siblings, err := s.decisions.ListDecisionsByWorkflow(ctx, created.WorkflowInstanceID)
	if err != nil {
		return nil, types.NewError(types.ErrStoreError, "list workflow decisions").WithCause(err)
	}

	var conflicts []*types.DecisionConflict
	for _, rule := range rules {
		triggered, err := created.Value.Compare(rule.Configuration.Field, rule.Configuration.Operator, rule.Configuration.Value)
		if err != nil {
			s.logger.Warn("conflict rule evaluation failed",
				zap.String("rule_id", rule.ID),
				zap.String("field", rule.Configuration.Field),
				zap.Error(err),
			)
			continue
		}
		if !triggered {
			continue
		}
		for _, sibling := range siblings {
			if sibling.ID == created.ID || !s.filter(sibling, created, rule) {
				continue
			}
			c := &types.DecisionConflict{
				ID:            uuid.New().String(),
				DecisionID:    created.ID,
				ConflictsWith: sibling.ID,
				ConflictType:  rule.ConflictType,
				Severity:      rule.Severity,
				Status:        types.ConflictStatusOpen,
				DetectedAt:    s.clock.Now(),
			}
			if err := s.decisions.AddConflict(ctx, c); err != nil {
				return conflicts, types.NewError(types.ErrStoreError, "persist conflict").WithCause(err)
			}
			conflicts = append(conflicts, c)

			s.logger.Warn("decision conflict detected",
				zap.String("decision_id", created.ID),
				zap.String("conflicts_with", sibling.ID),
				zap.String("conflict_type", rule.ConflictType),
				zap.String("severity", rule.Severity),
			)
			s.notifier.Publish(ctx, notify.EventDecisionConflict, types.Document{
				"conflictId":    c.ID,
				"decisionId":    created.ID,
				"conflictsWith": sibling.ID,
				"conflictType":  rule.ConflictType,
				"severity":      rule.Severity,
			})
			s.collector.RecordDecisionConflict(rule.ConflictType, rule.Severity)
		}
	}
	return conflicts, nil
}

// ListConflicts returns all conflicts flagged on a decision.
func (s *Service) ListConflicts(ctx context.Context, decisionID string) ([]*types.DecisionConflict, error) {
	cs, err := s.decisions.ListConflictsByDecision(ctx, decisionID)
	if err != nil {
		return nil, types.NewError(types.ErrStoreError, "list conflicts").WithCause(err)
	}
	return cs, nil
}

// ResolveConflict closes an open conflict with a resolution
// description.
func (s *Service) ResolveConflict(ctx context.Context, conflictID, userID, resolution string) error {
	if resolution == "" {
		return types.NewError(types.ErrValidation, "resolution is required")
	}
	return s.closeConflict(ctx, conflictID, userID, func(c *types.DecisionConflict) {
		c.Status = types.ConflictStatusResolved
		c.Resolution = resolution
	})
}

// OverrideConflict acknowledges an open conflict without fixing it. A
// justification is mandatory.
func (s *Service) OverrideConflict(ctx context.Context, conflictID, userID, justification string) error {
	if justification == "" {
		return types.NewError(types.ErrValidation, "justification is required")
	}
	return s.closeConflict(ctx, conflictID, userID, func(c *types.DecisionConflict) {
		c.Status = types.ConflictStatusOverridden
		c.Justification = justification
	})
}

func (s *Service) closeConflict(ctx context.Context, conflictID, userID string, apply func(*types.DecisionConflict)) error {
	c, err := s.decisions.GetConflict(ctx, conflictID)
	if err != nil {
		return types.NewErrorf(types.ErrNotFound, "conflict %q not found", conflictID).WithCause(err)
	}
	if c.Status != types.ConflictStatusOpen {
		return types.NewErrorf(types.ErrInvalidState, "conflict %q is not open", conflictID)
	}
	apply(c)
	now := s.clock.Now()
	c.ResolvedBy = userID
	c.ResolvedAt = &now
	if err := s.decisions.UpdateConflict(ctx, c); err != nil {
		return types.NewError(types.ErrStoreError, "update conflict").WithCause(err)
	}

	s.logger.Info("conflict closed",
		zap.String("conflict_id", conflictID),
		zap.String("status", string(c.Status)),
		zap.String("resolved_by", userID),
	)
	return nil
}

// AddConflictRule registers a new active conflict rule.
func (s *Service) AddConflictRule(ctx context.Context, rule *types.ConflictRule) error {
	if rule.Configuration.Field == "" || rule.Configuration.Operator == "" {
		return types.NewError(types.ErrValidation, "rule configuration requires field and operator")
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.CreatedAt = s.clock.Now()
	if err := s.decisions.AddRule(ctx, rule); err != nil {
		return types.NewError(types.ErrStoreError, "persist conflict rule").WithCause(err)
	}
	return nil
}
