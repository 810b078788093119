package types

import "time"

// DecisionStatus represents the review state of a decision.
type DecisionStatus string

const (
	DecisionStatusDraft            DecisionStatus = "draft"
	DecisionStatusUnderReview      DecisionStatus = "under_review"
	DecisionStatusApproved         DecisionStatus = "approved"
	DecisionStatusChangesRequested DecisionStatus = "changes_requested"
)

// Decision is a recorded, versionable choice made during a workflow,
// subject to review, locking, and conflict rules.
type Decision struct {
	ID                 string         `json:"id" gorm:"primaryKey;type:uuid"`
	WorkflowInstanceID string         `json:"workflowInstanceId" gorm:"type:uuid;not null;index"`
	StepID             string         `json:"stepId" gorm:"size:100;not null"`
	DecisionType       string         `json:"decisionType" gorm:"size:100;not null;index"`
	Value              Document       `json:"value" gorm:"type:jsonb;serializer:json"`
	Question           string         `json:"question" gorm:"type:text"`
	Options            Document       `json:"options" gorm:"type:jsonb;serializer:json"`
	Reasoning          string         `json:"reasoning" gorm:"type:text"`
	Context            Document       `json:"context" gorm:"type:jsonb;serializer:json"`
	CurrentVersion     int            `json:"currentVersion" gorm:"not null;default:1"`
	Status             DecisionStatus `json:"status" gorm:"size:50;not null;default:draft"`
	CreatedBy          string         `json:"createdBy" gorm:"type:uuid"`

	// Advisory edit lock. Locked decisions reject updates and reverts
	// until explicitly unlocked; reads are never blocked.
	IsLocked   bool       `json:"isLocked" gorm:"not null;default:false"`
	LockedBy   string     `json:"lockedBy" gorm:"type:uuid"`
	LockedAt   *time.Time `json:"lockedAt"`
	LockReason string     `json:"lockReason" gorm:"type:text"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// DecisionVersion is an immutable snapshot of a decision's fields taken
// before each update or revert. Forms a linear history per decision.
type DecisionVersion struct {
	ID            string    `json:"id" gorm:"primaryKey;type:uuid"`
	DecisionID    string    `json:"decisionId" gorm:"type:uuid;not null;index"`
	VersionNumber int       `json:"versionNumber" gorm:"not null"`
	Value         Document  `json:"value" gorm:"type:jsonb;serializer:json"`
	Question      string    `json:"question" gorm:"type:text"`
	Reasoning     string    `json:"reasoning" gorm:"type:text"`
	ModifiedBy    string    `json:"modifiedBy" gorm:"type:uuid"`
	ChangeReason  string    `json:"changeReason" gorm:"type:text"`
	CreatedAt     time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
}

// ReviewStatus represents the state of a decision review.
type ReviewStatus string

const (
	ReviewStatusPending   ReviewStatus = "pending"
	ReviewStatusCompleted ReviewStatus = "completed"
)

// ReviewResponseType is a reviewer's verdict.
type ReviewResponseType string

const (
	ReviewResponseApproved         ReviewResponseType = "approved"
	ReviewResponseChangesRequested ReviewResponseType = "changes_requested"
)

// DecisionReview is a multi-reviewer approval round for one decision.
type DecisionReview struct {
	ID          string       `json:"id" gorm:"primaryKey;type:uuid"`
	DecisionID  string       `json:"decisionId" gorm:"type:uuid;not null;index"`
	RequestedBy string       `json:"requestedBy" gorm:"type:uuid;not null"`
	RequestedAt time.Time    `json:"requestedAt" gorm:"not null"`
	Deadline    *time.Time   `json:"deadline"`
	Status      ReviewStatus `json:"status" gorm:"size:50;not null;default:pending"`

	// ReviewerIDs is the ordered set of reviewers whose unanimous
	// approval completes the review.
	ReviewerIDs []string `json:"reviewerIds" gorm:"type:jsonb;serializer:json"`
}

// HasReviewer reports whether the given user is part of the reviewer set.
func (r *DecisionReview) HasReviewer(userID string) bool {
	for _, id := range r.ReviewerIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// DecisionReviewResponse is one reviewer's verdict, unique per reviewer
// within a review.
type DecisionReviewResponse struct {
	ID           string             `json:"id" gorm:"primaryKey;type:uuid"`
	ReviewID     string             `json:"reviewId" gorm:"type:uuid;not null;index"`
	ReviewerID   string             `json:"reviewerId" gorm:"type:uuid;not null"`
	ResponseType ReviewResponseType `json:"responseType" gorm:"size:50;not null"`
	Comments     string             `json:"comments" gorm:"type:text"`
	Timestamp    time.Time          `json:"timestamp" gorm:"not null"`
}

// ConflictStatus represents the state of a detected decision conflict.
type ConflictStatus string

const (
	ConflictStatusOpen       ConflictStatus = "open"
	ConflictStatusResolved   ConflictStatus = "resolved"
	ConflictStatusOverridden ConflictStatus = "overridden"
)

// DecisionConflict links two decisions flagged by a conflict rule.
type DecisionConflict struct {
	ID            string         `json:"id" gorm:"primaryKey;type:uuid"`
	DecisionID    string         `json:"decisionId" gorm:"type:uuid;not null;index"`
	ConflictsWith string         `json:"conflictsWith" gorm:"type:uuid;not null;index"`
	ConflictType  string         `json:"conflictType" gorm:"size:100;not null"`
	Severity      string         `json:"severity" gorm:"size:50;not null"`
	Status        ConflictStatus `json:"status" gorm:"size:50;not null;default:open"`
	DetectedAt    time.Time      `json:"detectedAt" gorm:"not null"`
	Resolution    string         `json:"resolution" gorm:"type:text"`
	Justification string         `json:"justification" gorm:"type:text"`
	ResolvedBy    string         `json:"resolvedBy" gorm:"type:uuid"`
	ResolvedAt    *time.Time     `json:"resolvedAt"`
}

// RuleConfiguration is the (field, operator, value) predicate evaluated
// against a decision's value payload.
type RuleConfiguration struct {
	Field    string          `json:"field"`
	Operator CompareOperator `json:"operator"`
	Value    string          `json:"value"`
}

// ConflictRule declares when a new decision conflicts with its siblings.
type ConflictRule struct {
	ID            string            `json:"id" gorm:"primaryKey;type:uuid"`
	Name          string            `json:"name" gorm:"size:200;not null"`
	IsActive      bool              `json:"isActive" gorm:"not null;default:true"`
	ConflictType  string            `json:"conflictType" gorm:"size:100;not null"`
	Severity      string            `json:"severity" gorm:"size:50;not null"`
	Configuration RuleConfiguration `json:"configuration" gorm:"type:jsonb;serializer:json"`
	CreatedAt     time.Time         `json:"createdAt" gorm:"not null;autoCreateTime"`
}
