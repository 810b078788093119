package types

import (
	"strings"
	"time"
)

// AgentDefinition describes a named agent role and its capability set.
// The registry of definitions is static and read-only at runtime.
type AgentDefinition struct {
	AgentID         string   `json:"agentId" yaml:"agent_id" gorm:"primaryKey;size:100"`
	Name            string   `json:"name" yaml:"name" gorm:"size:200;not null"`
	Description     string   `json:"description" yaml:"description" gorm:"type:text"`
	Capabilities    []string `json:"capabilities" yaml:"capabilities" gorm:"type:jsonb;serializer:json"`
	SystemPrompt    string   `json:"systemPrompt" yaml:"system_prompt" gorm:"type:text"`
	ModelPreference string   `json:"modelPreference" yaml:"model_preference" gorm:"size:100"`
}

// HasCapability reports whether the agent can handle the given
// workflow-step capability. Matching is case-insensitive.
func (d *AgentDefinition) HasCapability(capability string) bool {
	for _, c := range d.Capabilities {
		if strings.EqualFold(c, capability) {
			return true
		}
	}
	return false
}

// AgentHandoff records one transfer of active responsibility between
// agents within a workflow. Append-only per workflow.
type AgentHandoff struct {
	ID                 string    `json:"id" gorm:"primaryKey;type:uuid"`
	WorkflowInstanceID string    `json:"workflowInstanceId" gorm:"type:uuid;not null;index"`
	FromAgent          string    `json:"fromAgent" gorm:"size:100"` // empty for the first handoff
	ToAgent            string    `json:"toAgent" gorm:"size:100;not null"`
	WorkflowStep       string    `json:"workflowStep" gorm:"size:100"`
	Reason             string    `json:"reason" gorm:"type:text"`
	Timestamp          time.Time `json:"timestamp" gorm:"not null;index"`
}

// AgentRequest is the opaque request handed to an agent handler.
type AgentRequest struct {
	WorkflowInstanceID string   `json:"workflowInstanceId"`
	StepID             string   `json:"stepId"`
	RequestType        string   `json:"requestType"`
	Payload            Document `json:"payload"`
	UserInput          string   `json:"userInput,omitempty"`
}

// AgentResponse is the opaque response produced by an agent handler.
// Confidence drives the human approval gate.
type AgentResponse struct {
	Output     Document `json:"output"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning,omitempty"`
}

// AgentMessage is one successful inter-agent request/response exchange,
// kept per workflow in an append-only message history.
type AgentMessage struct {
	ID                 string    `json:"id" gorm:"primaryKey;type:uuid"`
	WorkflowInstanceID string    `json:"workflowInstanceId" gorm:"type:uuid;not null;index"`
	SourceAgent        string    `json:"sourceAgent" gorm:"size:100"`
	TargetAgent        string    `json:"targetAgent" gorm:"size:100;not null"`
	RequestType        string    `json:"requestType" gorm:"size:100"`
	Response           Document  `json:"response" gorm:"type:jsonb;serializer:json"`
	Timestamp          time.Time `json:"timestamp" gorm:"not null;index"`
}
