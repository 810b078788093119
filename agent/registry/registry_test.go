package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/conductor/types"
)

func testDefs() []types.AgentDefinition {
	return []types.AgentDefinition{
		{AgentID: "Researcher", Name: "Researcher", Capabilities: []string{"research", "fact_check"}},
		{AgentID: "writer", Name: "Writer", Capabilities: []string{"draft", "revise"}},
		{AgentID: "editor", Name: "Editor", Capabilities: []string{"Revise", "review"}},
	}
}

func TestRegistry_CaseInsensitiveLookup(t *testing.T) {
	t.Parallel()
	r := NewRegistry(testDefs())

	def, ok := r.GetAgent("researcher")
	require.True(t, ok)
	assert.Equal(t, "Researcher", def.AgentID)

	def, ok = r.GetAgent("RESEARCHER")
	require.True(t, ok)
	assert.Equal(t, "Researcher", def.AgentID)

	_, ok = r.GetAgent("nobody")
	assert.False(t, ok)
}

func TestRegistry_GetAllPreservesOrder(t *testing.T) {
	t.Parallel()
	r := NewRegistry(testDefs())
	all := r.GetAllAgents()
	require.Len(t, all, 3)
	assert.Equal(t, "Researcher", all[0].AgentID)
	assert.Equal(t, "writer", all[1].AgentID)
	assert.Equal(t, "editor", all[2].AgentID)
}

func TestRegistry_ByCapabilityCaseInsensitive(t *testing.T) {
	t.Parallel()
	r := NewRegistry(testDefs())

	revisers := r.GetAgentsByCapability("revise")
	require.Len(t, revisers, 2)
	assert.Equal(t, "editor", revisers[0].AgentID)
	assert.Equal(t, "writer", revisers[1].AgentID)

	assert.Empty(t, r.GetAgentsByCapability("deploy"))
}

func TestRegistry_DuplicateIDsLastWins(t *testing.T) {
	t.Parallel()
	r := NewRegistry([]types.AgentDefinition{
		{AgentID: "writer", Name: "First"},
		{AgentID: "Writer", Name: "Second"},
	})
	def, ok := r.GetAgent("writer")
	require.True(t, ok)
	assert.Equal(t, "Second", def.Name)
	assert.Len(t, r.GetAllAgents(), 1)
}

func echoHandler(tag string) Handler {
	return HandlerFunc(func(_ context.Context, req *types.AgentRequest) (*types.AgentResponse, error) {
		return &types.AgentResponse{Output: types.Document{"tag": tag}, Confidence: 1.0}, nil
	})
}

func TestRouter_RegisterIsLastWins(t *testing.T) {
	t.Parallel()
	router := NewRouter(NewRegistry(testDefs()), zap.NewNop())

	router.RegisterHandler("writer", echoHandler("one"))
	router.RegisterHandler("WRITER", echoHandler("two"))

	h, err := router.Resolve("Writer")
	require.NoError(t, err)
	resp, err := h.Execute(context.Background(), &types.AgentRequest{})
	require.NoError(t, err)
	assert.Equal(t, "two", resp.Output["tag"])
}

func TestRouter_HandlerNotFound(t *testing.T) {
	t.Parallel()
	router := NewRouter(NewRegistry(testDefs()), zap.NewNop())

	_, err := router.Resolve("writer")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrHandlerNotFound))
}

func TestRouter_ResolveForStep(t *testing.T) {
	t.Parallel()
	router := NewRouter(NewRegistry(testDefs()), zap.NewNop())
	router.RegisterHandler("editor", echoHandler("editor"))

	// By explicit agent id.
	def, h, err := router.ResolveForStep(&types.StepDefinition{ID: "s1", AgentID: "Editor"})
	require.NoError(t, err)
	assert.Equal(t, "editor", def.AgentID)
	require.NotNil(t, h)

	// By capability.
	def, _, err = router.ResolveForStep(&types.StepDefinition{ID: "s2", Capability: "review"})
	require.NoError(t, err)
	assert.Equal(t, "editor", def.AgentID)

	// Registered agent without a handler is a configuration error.
	_, _, err = router.ResolveForStep(&types.StepDefinition{ID: "s3", AgentID: "writer"})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrHandlerNotFound))

	// Unknown capability.
	_, _, err = router.ResolveForStep(&types.StepDefinition{ID: "s4", Capability: "deploy"})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrHandlerNotFound))
}
