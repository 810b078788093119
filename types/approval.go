package types

import "time"

// ApprovalStatus represents the state of a human approval request.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusModified ApprovalStatus = "modified"
	ApprovalStatusRejected ApprovalStatus = "rejected"
	ApprovalStatusTimedOut ApprovalStatus = "timed_out"
)

// ApprovalRequest gates low-confidence agent output behind a human
// approve/modify/reject decision.
type ApprovalRequest struct {
	ID                 string         `json:"id" gorm:"primaryKey;type:uuid"`
	WorkflowInstanceID string         `json:"workflowInstanceId" gorm:"type:uuid;not null;index"`
	StepID             string         `json:"stepId" gorm:"size:100"`
	AgentID            string         `json:"agentId" gorm:"size:100;not null"`
	ProposedResponse   Document       `json:"proposedResponse" gorm:"type:jsonb;serializer:json"`
	ConfidenceScore    float64        `json:"confidenceScore" gorm:"not null"`
	Reasoning          string         `json:"reasoning" gorm:"type:text"`
	Status             ApprovalStatus `json:"status" gorm:"size:50;not null;default:pending"`

	CreatedAt          time.Time  `json:"createdAt" gorm:"not null;autoCreateTime;index"`
	RespondedAt        *time.Time `json:"respondedAt"`
	ApprovedByUserID   string     `json:"approvedByUserId" gorm:"type:uuid"`
	FinalResponse      Document   `json:"finalResponse" gorm:"type:jsonb;serializer:json"`
	RejectionReason    string     `json:"rejectionReason" gorm:"type:text"`
	LastReminderSentAt *time.Time `json:"lastReminderSentAt"`
}

// CheckpointType classifies why a checkpoint was taken.
type CheckpointType string

const (
	CheckpointTypeStepCompletion CheckpointType = "step_completion"
	CheckpointTypeManual         CheckpointType = "manual"
	CheckpointTypePreRestore     CheckpointType = "pre_restore"
)

// Checkpoint is an immutable, restorable snapshot of workflow and
// context state. Many per workflow, ordered by version.
type Checkpoint struct {
	ID             string         `json:"id" gorm:"primaryKey;type:uuid"`
	WorkflowID     string         `json:"workflowId" gorm:"type:uuid;not null;index"`
	StepID         string         `json:"stepId" gorm:"size:100"`
	CheckpointType CheckpointType `json:"checkpointType" gorm:"size:50;not null"`
	Version        int            `json:"version" gorm:"not null"`
	TriggeredBy    string         `json:"triggeredBy" gorm:"type:uuid"`
	StateSnapshot  []byte         `json:"stateSnapshot" gorm:"type:jsonb;not null"`
	CreatedAt      time.Time      `json:"createdAt" gorm:"not null;autoCreateTime"`
}
