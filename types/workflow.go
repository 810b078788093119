package types

import "time"

// WorkflowStatus represents the lifecycle state of a workflow instance.
type WorkflowStatus string

const (
	WorkflowStatusCreated         WorkflowStatus = "created"
	WorkflowStatusRunning         WorkflowStatus = "running"
	WorkflowStatusPaused          WorkflowStatus = "paused"
	WorkflowStatusWaitingForInput WorkflowStatus = "waiting_for_input"
	WorkflowStatusCompleted       WorkflowStatus = "completed"
	WorkflowStatusCancelled       WorkflowStatus = "cancelled"
	WorkflowStatusFailed          WorkflowStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowStatusCompleted || s == WorkflowStatusCancelled
}

// WorkflowInstance is one running execution of a workflow definition.
// Mutable fields are owned exclusively by the step executor and change
// only through state machine transitions.
type WorkflowInstance struct {
	ID           string         `json:"id" gorm:"primaryKey;type:uuid"`
	DefinitionID string         `json:"definitionId" gorm:"size:100;not null;index"`
	OwnerID      string         `json:"ownerId" gorm:"type:uuid;not null;index"`
	Status       WorkflowStatus `json:"status" gorm:"size:50;not null;default:created"`

	// CurrentStep is 1-based; one past the last step means completed.
	CurrentStep int `json:"currentStep" gorm:"not null;default:1"`

	// ContextSnapshot is the serialized shared execution context as of
	// the last checkpoint restore. The live, versioned context lives in
	// the shared-context store; this field is only written back during a
	// restore and is stale during normal execution.
	ContextSnapshot []byte `json:"contextSnapshot" gorm:"type:jsonb"`

	CreatedAt   time.Time  `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt   time.Time  `json:"updatedAt" gorm:"not null;autoUpdateTime"`
	PausedAt    *time.Time `json:"pausedAt"`
	CancelledAt *time.Time `json:"cancelledAt"`
}

// StepStatus represents the outcome of a single step attempt.
type StepStatus string

const (
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// WorkflowStepHistory is the append-only audit record of one executed step
// attempt. Never mutated after completion.
type WorkflowStepHistory struct {
	ID                 string         `json:"id" gorm:"primaryKey;type:uuid"`
	WorkflowInstanceID string         `json:"workflowInstanceId" gorm:"type:uuid;not null;index"`
	StepID             string         `json:"stepId" gorm:"size:100;not null"`
	StepName           string         `json:"stepName" gorm:"size:200"`
	AgentID            string         `json:"agentId" gorm:"size:100"`
	Input              Document       `json:"input" gorm:"type:jsonb;serializer:json"`
	Output             Document       `json:"output" gorm:"type:jsonb;serializer:json"`
	Status             StepStatus     `json:"status" gorm:"size:50;not null"`
	ErrorMessage       string         `json:"errorMessage" gorm:"type:text"`
	StartedAt          time.Time      `json:"startedAt" gorm:"not null"`
	CompletedAt        *time.Time     `json:"completedAt"`
}

// StepDefinition is one unit of work within a workflow definition,
// bound to one agent capability.
type StepDefinition struct {
	ID               string  `json:"id" yaml:"id"`
	Name             string  `json:"name" yaml:"name"`
	Capability       string  `json:"capability" yaml:"capability"`
	AgentID          string  `json:"agentId" yaml:"agent_id"`
	RequiresApproval bool    `json:"requiresApproval" yaml:"requires_approval"`
	CheckpointAfter  bool    `json:"checkpointAfter" yaml:"checkpoint_after"`
}

// WorkflowDefinition is an ordered sequence of step definitions.
type WorkflowDefinition struct {
	ID          string           `json:"id" yaml:"id"`
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description" yaml:"description"`
	Steps       []StepDefinition `json:"steps" yaml:"steps"`
}

// StepAt returns the 1-based step, or nil when index is out of range.
func (d *WorkflowDefinition) StepAt(index int) *StepDefinition {
	if index < 1 || index > len(d.Steps) {
		return nil
	}
	return &d.Steps[index-1]
}
