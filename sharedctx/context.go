// Package sharedctx provides the versioned shared execution context
// accumulated across the steps of one workflow instance.
//
// Concurrent step branches may write to the same context, so persisted
// updates use optimistic versioning: a compare-and-swap on the version
// the caller last read. Callers reload and retry on mismatch; there is
// no automatic merge.
package sharedctx

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BaSui01/conductor/types"
)

// DecisionRecord is one entry in the context's decision history.
type DecisionRecord struct {
	StepID   string `json:"stepId"`
	Decision string `json:"decision"`
	AgentID  string `json:"agentId"`
}

// Context is the accumulated, versioned state visible to all steps and
// agents of one workflow instance. Version starts at 0 and increments by
// exactly 1 per mutation.
type Context struct {
	Version            int                       `json:"version"`
	StepOutputs        map[string]types.Document `json:"stepOutputs"`
	DecisionHistory    []DecisionRecord          `json:"decisionHistory"`
	UserPreferences    map[string]string         `json:"userPreferences"`
	ArtifactReferences map[string]string         `json:"artifactReferences"`
	LastModifiedAt     time.Time                 `json:"lastModifiedAt"`
}

// New creates an empty context at version 0.
func New() *Context {
	return &Context{
		StepOutputs:        make(map[string]types.Document),
		DecisionHistory:    make([]DecisionRecord, 0),
		UserPreferences:    make(map[string]string),
		ArtifactReferences: make(map[string]string),
	}
}

func (c *Context) touch() {
	c.Version++
	c.LastModifiedAt = time.Now().UTC()
}

// AddStepOutput appends or overwrites a step's output and increments
// the version.
func (c *Context) AddStepOutput(stepID string, output types.Document) {
	if c.StepOutputs == nil {
		c.StepOutputs = make(map[string]types.Document)
	}
	c.StepOutputs[stepID] = output
	c.touch()
}

// AddDecision appends a decision record and increments the version.
func (c *Context) AddDecision(record DecisionRecord) {
	c.DecisionHistory = append(c.DecisionHistory, record)
	c.touch()
}

// AddUserPreference sets a preference and increments the version.
func (c *Context) AddUserPreference(key, value string) {
	if c.UserPreferences == nil {
		c.UserPreferences = make(map[string]string)
	}
	c.UserPreferences[key] = value
	c.touch()
}

// AddArtifactReference records an artifact path and increments the version.
func (c *Context) AddArtifactReference(artifactID, path string) {
	if c.ArtifactReferences == nil {
		c.ArtifactReferences = make(map[string]string)
	}
	c.ArtifactReferences[artifactID] = path
	c.touch()
}

// GetStepOutput returns a step's output. Pure read.
func (c *Context) GetStepOutput(stepID string) (types.Document, bool) {
	out, ok := c.StepOutputs[stepID]
	return out, ok
}

// GetAllStepOutputs returns a copy of the step output map. Pure read.
func (c *Context) GetAllStepOutputs() map[string]types.Document {
	out := make(map[string]types.Document, len(c.StepOutputs))
	for k, v := range c.StepOutputs {
		out[k] = v
	}
	return out
}

// GetUserPreference returns a preference value. Pure read.
func (c *Context) GetUserPreference(key string) (string, bool) {
	v, ok := c.UserPreferences[key]
	return v, ok
}

// ToJSON serializes the context. The encoding round-trips exactly:
// FromJSON(ToJSON(c)) yields an equal version and equal output set.
func (c *Context) ToJSON() ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, types.NewError(types.ErrValidation, "serialize shared context").WithCause(err)
	}
	return raw, nil
}

// FromJSON deserializes a context previously produced by ToJSON.
func FromJSON(raw []byte) (*Context, error) {
	c := New()
	if len(raw) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(raw, c); err != nil {
		return nil, types.NewError(types.ErrValidation, "parse shared context").WithCause(err)
	}
	return c, nil
}

// Clone returns a deep copy so callers can mutate a read snapshot
// without touching the original.
func (c *Context) Clone() *Context {
	out := &Context{
		Version:            c.Version,
		StepOutputs:        make(map[string]types.Document, len(c.StepOutputs)),
		DecisionHistory:    make([]DecisionRecord, len(c.DecisionHistory)),
		UserPreferences:    make(map[string]string, len(c.UserPreferences)),
		ArtifactReferences: make(map[string]string, len(c.ArtifactReferences)),
		LastModifiedAt:     c.LastModifiedAt,
	}
	for k, v := range c.StepOutputs {
		out.StepOutputs[k] = v.Clone()
	}
	copy(out.DecisionHistory, c.DecisionHistory)
	for k, v := range c.UserPreferences {
		out.UserPreferences[k] = v
	}
	for k, v := range c.ArtifactReferences {
		out.ArtifactReferences[k] = v
	}
	return out
}

// Store persists one context per workflow instance with optimistic
// concurrency. Implementations must make Update an atomic
// compare-and-swap on the persisted version so it stays correct across
// processes.
type Store interface {
	// Load returns the context for a workflow, or a fresh context at
	// version 0 when none has been persisted yet.
	Load(ctx context.Context, workflowID string) (*Context, error)

	// Update replaces the persisted context only if its version still
	// equals expectedVersion. Returns false with no side effect on
	// mismatch; callers reload and retry.
	Update(ctx context.Context, workflowID string, expectedVersion int, updated *Context) (bool, error)
}
