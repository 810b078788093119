package types

import "time"

// BufferedInput is an ephemeral per-field buffer entry used only for
// multi-user conflict detection; final field values live elsewhere.
type BufferedInput struct {
	ID                 string    `json:"id" gorm:"primaryKey;type:uuid"`
	WorkflowInstanceID string    `json:"workflowInstanceId" gorm:"type:uuid;not null;index"`
	UserID             string    `json:"userId" gorm:"type:uuid;not null"`
	DisplayName        string    `json:"displayName" gorm:"size:200"`
	FieldName          string    `json:"fieldName" gorm:"size:100;not null;index"`
	Value              string    `json:"value" gorm:"type:text"`
	Timestamp          time.Time `json:"timestamp" gorm:"not null"`
	IsApplied          bool      `json:"isApplied" gorm:"not null;default:false"`
}

// InputConflictStatus represents the state of a multi-user input conflict.
type InputConflictStatus string

const (
	InputConflictStatusPending  InputConflictStatus = "pending"
	InputConflictStatusResolved InputConflictStatus = "resolved"
)

// InputConflict records two users writing different values to the same
// workflow field before either was applied.
type InputConflict struct {
	ID                 string              `json:"id" gorm:"primaryKey;type:uuid"`
	WorkflowInstanceID string              `json:"workflowInstanceId" gorm:"type:uuid;not null;index"`
	FieldName          string              `json:"fieldName" gorm:"size:100;not null"`
	FirstInputID       string              `json:"firstInputId" gorm:"type:uuid;not null"`
	SecondInputID      string              `json:"secondInputId" gorm:"type:uuid;not null"`
	Status             InputConflictStatus `json:"status" gorm:"size:50;not null;default:pending"`
	DetectedAt         time.Time           `json:"detectedAt" gorm:"not null"`
	ResolvedBy         string              `json:"resolvedBy" gorm:"type:uuid"`
	ResolvedAt         *time.Time          `json:"resolvedAt"`
	WinningInputID     string              `json:"winningInputId" gorm:"type:uuid"`
}
