package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/conductor/sharedctx"
	"github.com/BaSui01/conductor/types"
)

// SharedContextRecord is the persisted row backing one workflow's shared
// execution context. The payload is the opaque ToJSON blob; version is
// duplicated into its own column so the optimistic swap can run as a
// conditional UPDATE.
type SharedContextRecord struct {
	WorkflowID string    `json:"workflowId" gorm:"primaryKey;type:uuid"`
	Version    int       `json:"version" gorm:"not null"`
	Payload    []byte    `json:"payload" gorm:"type:jsonb;not null"`
	UpdatedAt  time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// TableName keeps the table name stable across dialects.
func (SharedContextRecord) TableName() string { return "shared_contexts" }

// GormStore is a GORM-backed Store implementation. Works with the
// sqlite, mysql, and postgres dialectors wired in internal/database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open GORM handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate creates or updates the schema for every engine entity.
// Production deployments run internal/migration instead; this is for
// tests and quick starts.
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(
		&types.WorkflowInstance{},
		&types.WorkflowStepHistory{},
		&types.Checkpoint{},
		&types.Decision{},
		&types.DecisionVersion{},
		&types.DecisionReview{},
		&types.DecisionReviewResponse{},
		&types.DecisionConflict{},
		&types.ConflictRule{},
		&types.ApprovalRequest{},
		&types.AgentHandoff{},
		&types.AgentMessage{},
		&types.BufferedInput{},
		&types.InputConflict{},
		&SharedContextRecord{},
	)
}

func translateErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// --- WorkflowStore ---

func (s *GormStore) AddWorkflow(ctx context.Context, wf *types.WorkflowInstance) error {
	return s.db.WithContext(ctx).Create(wf).Error
}

func (s *GormStore) GetWorkflow(ctx context.Context, id string) (*types.WorkflowInstance, error) {
	var wf types.WorkflowInstance
	if err := s.db.WithContext(ctx).First(&wf, "id = ?", id).Error; err != nil {
		return nil, translateErr(err)
	}
	return &wf, nil
}

func (s *GormStore) UpdateWorkflow(ctx context.Context, wf *types.WorkflowInstance) error {
	res := s.db.WithContext(ctx).Model(&types.WorkflowInstance{}).
		Where("id = ?", wf.ID).
		Select("*").Omit("id", "created_at").
		Updates(wf)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) AddStepHistory(ctx context.Context, h *types.WorkflowStepHistory) error {
	return s.db.WithContext(ctx).Create(h).Error
}

func (s *GormStore) UpdateStepHistory(ctx context.Context, h *types.WorkflowStepHistory) error {
	res := s.db.WithContext(ctx).Model(&types.WorkflowStepHistory{}).
		Where("id = ?", h.ID).
		Select("*").Omit("id").
		Updates(h)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ListStepHistory(ctx context.Context, workflowID string) ([]*types.WorkflowStepHistory, error) {
	var rows []*types.WorkflowStepHistory
	err := s.db.WithContext(ctx).
		Where("workflow_instance_id = ?", workflowID).
		Order("started_at asc").
		Find(&rows).Error
	return rows, err
}

// --- CheckpointStore ---

func (s *GormStore) AddCheckpoint(ctx context.Context, cp *types.Checkpoint) error {
	return s.db.WithContext(ctx).Create(cp).Error
}

func (s *GormStore) GetCheckpoint(ctx context.Context, id string) (*types.Checkpoint, error) {
	var cp types.Checkpoint
	if err := s.db.WithContext(ctx).First(&cp, "id = ?", id).Error; err != nil {
		return nil, translateErr(err)
	}
	return &cp, nil
}

func (s *GormStore) LatestCheckpoint(ctx context.Context, workflowID string) (*types.Checkpoint, error) {
	var cp types.Checkpoint
	err := s.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("version desc").
		First(&cp).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return &cp, nil
}

func (s *GormStore) ListCheckpoints(ctx context.Context, workflowID string, page, pageSize int) ([]*types.Checkpoint, int, error) {
	if page < 1 || pageSize < 1 {
		return nil, 0, ErrInvalidInput
	}
	var total int64
	if err := s.db.WithContext(ctx).Model(&types.Checkpoint{}).
		Where("workflow_id = ?", workflowID).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var cps []*types.Checkpoint
	err := s.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("version asc").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&cps).Error
	return cps, int(total), err
}

// --- DecisionStore ---

func (s *GormStore) AddDecision(ctx context.Context, d *types.Decision) error {
	return s.db.WithContext(ctx).Create(d).Error
}

func (s *GormStore) GetDecision(ctx context.Context, id string) (*types.Decision, error) {
	var d types.Decision
	if err := s.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, translateErr(err)
	}
	return &d, nil
}

func (s *GormStore) UpdateDecision(ctx context.Context, d *types.Decision) error {
	res := s.db.WithContext(ctx).Model(&types.Decision{}).
		Where("id = ?", d.ID).
		Select("*").Omit("id", "created_at").
		Updates(d)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ListDecisionsByWorkflow(ctx context.Context, workflowID string) ([]*types.Decision, error) {
	var ds []*types.Decision
	err := s.db.WithContext(ctx).
		Where("workflow_instance_id = ?", workflowID).
		Order("created_at asc").
		Find(&ds).Error
	return ds, err
}

func (s *GormStore) AddDecisionVersion(ctx context.Context, v *types.DecisionVersion) error {
	return s.db.WithContext(ctx).Create(v).Error
}

func (s *GormStore) GetDecisionVersion(ctx context.Context, decisionID string, versionNumber int) (*types.DecisionVersion, error) {
	var v types.DecisionVersion
	err := s.db.WithContext(ctx).
		Where("decision_id = ? AND version_number = ?", decisionID, versionNumber).
		First(&v).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return &v, nil
}

func (s *GormStore) ListDecisionVersions(ctx context.Context, decisionID string) ([]*types.DecisionVersion, error) {
	var vs []*types.DecisionVersion
	err := s.db.WithContext(ctx).
		Where("decision_id = ?", decisionID).
		Order("version_number asc").
		Find(&vs).Error
	return vs, err
}

func (s *GormStore) AddReview(ctx context.Context, r *types.DecisionReview) error {
	return s.db.WithContext(ctx).Create(r).Error
}

func (s *GormStore) GetReview(ctx context.Context, id string) (*types.DecisionReview, error) {
	var r types.DecisionReview
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, translateErr(err)
	}
	return &r, nil
}

func (s *GormStore) UpdateReview(ctx context.Context, r *types.DecisionReview) error {
	res := s.db.WithContext(ctx).Model(&types.DecisionReview{}).
		Where("id = ?", r.ID).
		Select("*").Omit("id").
		Updates(r)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) PendingReviewForDecision(ctx context.Context, decisionID string) (*types.DecisionReview, error) {
	var r types.DecisionReview
	err := s.db.WithContext(ctx).
		Where("decision_id = ? AND status = ?", decisionID, types.ReviewStatusPending).
		First(&r).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return &r, nil
}

func (s *GormStore) AddReviewResponse(ctx context.Context, resp *types.DecisionReviewResponse) error {
	return s.db.WithContext(ctx).Create(resp).Error
}

func (s *GormStore) ListReviewResponses(ctx context.Context, reviewID string) ([]*types.DecisionReviewResponse, error) {
	var rs []*types.DecisionReviewResponse
	err := s.db.WithContext(ctx).
		Where("review_id = ?", reviewID).
		Order("timestamp asc").
		Find(&rs).Error
	return rs, err
}

func (s *GormStore) AddConflict(ctx context.Context, c *types.DecisionConflict) error {
	return s.db.WithContext(ctx).Create(c).Error
}

func (s *GormStore) GetConflict(ctx context.Context, id string) (*types.DecisionConflict, error) {
	var c types.DecisionConflict
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, translateErr(err)
	}
	return &c, nil
}

func (s *GormStore) UpdateConflict(ctx context.Context, c *types.DecisionConflict) error {
	res := s.db.WithContext(ctx).Model(&types.DecisionConflict{}).
		Where("id = ?", c.ID).
		Select("*").Omit("id").
		Updates(c)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ListConflictsByDecision(ctx context.Context, decisionID string) ([]*types.DecisionConflict, error) {
	var cs []*types.DecisionConflict
	err := s.db.WithContext(ctx).
		Where("decision_id = ? OR conflicts_with = ?", decisionID, decisionID).
		Order("detected_at asc").
		Find(&cs).Error
	return cs, err
}

func (s *GormStore) AddRule(ctx context.Context, r *types.ConflictRule) error {
	return s.db.WithContext(ctx).Create(r).Error
}

func (s *GormStore) ListActiveRules(ctx context.Context) ([]*types.ConflictRule, error) {
	var rs []*types.ConflictRule
	err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at asc").
		Find(&rs).Error
	return rs, err
}

// --- ApprovalStore ---

func (s *GormStore) AddApproval(ctx context.Context, req *types.ApprovalRequest) error {
	return s.db.WithContext(ctx).Create(req).Error
}

func (s *GormStore) GetApproval(ctx context.Context, id string) (*types.ApprovalRequest, error) {
	var req types.ApprovalRequest
	if err := s.db.WithContext(ctx).First(&req, "id = ?", id).Error; err != nil {
		return nil, translateErr(err)
	}
	return &req, nil
}

func (s *GormStore) UpdateApproval(ctx context.Context, req *types.ApprovalRequest) error {
	res := s.db.WithContext(ctx).Model(&types.ApprovalRequest{}).
		Where("id = ?", req.ID).
		Select("*").Omit("id", "created_at").
		Updates(req)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ListPendingCreatedBefore(ctx context.Context, cutoff time.Time) ([]*types.ApprovalRequest, error) {
	var reqs []*types.ApprovalRequest
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", types.ApprovalStatusPending, cutoff).
		Order("created_at asc").
		Find(&reqs).Error
	return reqs, err
}

// --- HandoffStore ---

func (s *GormStore) AddHandoff(ctx context.Context, h *types.AgentHandoff) error {
	return s.db.WithContext(ctx).Create(h).Error
}

func (s *GormStore) ListHandoffs(ctx context.Context, workflowID string) ([]*types.AgentHandoff, error) {
	var hs []*types.AgentHandoff
	err := s.db.WithContext(ctx).
		Where("workflow_instance_id = ?", workflowID).
		Order("timestamp asc").
		Find(&hs).Error
	return hs, err
}

// --- MessageStore ---

func (s *GormStore) AddMessage(ctx context.Context, m *types.AgentMessage) error {
	return s.db.WithContext(ctx).Create(m).Error
}

func (s *GormStore) ListMessages(ctx context.Context, workflowID string) ([]*types.AgentMessage, error) {
	var ms []*types.AgentMessage
	err := s.db.WithContext(ctx).
		Where("workflow_instance_id = ?", workflowID).
		Order("timestamp asc").
		Find(&ms).Error
	return ms, err
}

// --- InputStore ---

func (s *GormStore) AddInput(ctx context.Context, in *types.BufferedInput) error {
	return s.db.WithContext(ctx).Create(in).Error
}

func (s *GormStore) LatestUnapplied(ctx context.Context, workflowID, fieldName string) (*types.BufferedInput, error) {
	var in types.BufferedInput
	err := s.db.WithContext(ctx).
		Where("workflow_instance_id = ? AND field_name = ? AND is_applied = ?", workflowID, fieldName, false).
		Order("timestamp desc").
		First(&in).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &in, nil
}

func (s *GormStore) ListUnapplied(ctx context.Context, workflowID string) ([]*types.BufferedInput, error) {
	var ins []*types.BufferedInput
	err := s.db.WithContext(ctx).
		Where("workflow_instance_id = ? AND is_applied = ?", workflowID, false).
		Order("timestamp asc").
		Find(&ins).Error
	return ins, err
}

func (s *GormStore) MarkApplied(ctx context.Context, inputIDs []string) error {
	if len(inputIDs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&types.BufferedInput{}).
		Where("id IN ?", inputIDs).
		Update("is_applied", true).Error
}

func (s *GormStore) AddInputConflict(ctx context.Context, c *types.InputConflict) error {
	return s.db.WithContext(ctx).Create(c).Error
}

func (s *GormStore) GetInputConflict(ctx context.Context, id string) (*types.InputConflict, error) {
	var c types.InputConflict
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, translateErr(err)
	}
	return &c, nil
}

func (s *GormStore) UpdateInputConflict(ctx context.Context, c *types.InputConflict) error {
	res := s.db.WithContext(ctx).Model(&types.InputConflict{}).
		Where("id = ?", c.ID).
		Select("*").Omit("id").
		Updates(c)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ListInputConflicts(ctx context.Context, workflowID string) ([]*types.InputConflict, error) {
	var cs []*types.InputConflict
	err := s.db.WithContext(ctx).
		Where("workflow_instance_id = ?", workflowID).
		Order("detected_at asc").
		Find(&cs).Error
	return cs, err
}

// --- sharedctx.Store ---

func (s *GormStore) Load(ctx context.Context, workflowID string) (*sharedctx.Context, error) {
	var rec SharedContextRecord
	err := s.db.WithContext(ctx).First(&rec, "workflow_id = ?", workflowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sharedctx.New(), nil
	}
	if err != nil {
		return nil, err
	}
	return sharedctx.FromJSON(rec.Payload)
}

// Update runs the optimistic swap as a conditional UPDATE so it stays
// correct across processes: the WHERE clause on the version column is
// the compare, RowsAffected the verdict. A first write (expected
// version 0 with no row yet) falls back to an INSERT guarded by the
// primary key.
func (s *GormStore) Update(ctx context.Context, workflowID string, expectedVersion int, updated *sharedctx.Context) (bool, error) {
	if updated == nil {
		return false, ErrInvalidInput
	}
	payload, err := updated.ToJSON()
	if err != nil {
		return false, err
	}

	res := s.db.WithContext(ctx).Model(&SharedContextRecord{}).
		Where("workflow_id = ? AND version = ?", workflowID, expectedVersion).
		Updates(map[string]any{
			"version": updated.Version,
			"payload": payload,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	if expectedVersion != 0 {
		return false, nil
	}

	// No row yet: create it. A concurrent first writer loses on the
	// primary key conflict and reports a version mismatch.
	rec := SharedContextRecord{WorkflowID: workflowID, Version: updated.Version, Payload: payload}
	createRes := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if createRes.Error != nil {
		return false, createRes.Error
	}
	return createRes.RowsAffected > 0, nil
}

// --- lifecycle ---

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
