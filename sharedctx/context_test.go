package sharedctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/conductor/types"
)

func TestContext_VersionIncrementsPerMutation(t *testing.T) {
	t.Parallel()

	c := New()
	assert.Equal(t, 0, c.Version)

	c.AddStepOutput("step-1", types.Document{"result": "ok"})
	assert.Equal(t, 1, c.Version)

	c.AddDecision(DecisionRecord{StepID: "step-1", Decision: "proceed", AgentID: "planner"})
	assert.Equal(t, 2, c.Version)

	c.AddUserPreference("tone", "formal")
	assert.Equal(t, 3, c.Version)

	c.AddArtifactReference("art-1", "/artifacts/draft.md")
	assert.Equal(t, 4, c.Version)

	// Overwriting an existing output still counts as a mutation.
	c.AddStepOutput("step-1", types.Document{"result": "revised"})
	assert.Equal(t, 5, c.Version)
}

func TestContext_ReadsArePure(t *testing.T) {
	t.Parallel()

	c := New()
	c.AddStepOutput("step-1", types.Document{"n": 1.0})
	c.AddUserPreference("lang", "en")
	before := c.Version

	out, ok := c.GetStepOutput("step-1")
	require.True(t, ok)
	assert.Equal(t, 1.0, out["n"])

	_, ok = c.GetStepOutput("missing")
	assert.False(t, ok)

	pref, ok := c.GetUserPreference("lang")
	require.True(t, ok)
	assert.Equal(t, "en", pref)

	all := c.GetAllStepOutputs()
	assert.Len(t, all, 1)
	// Mutating the copy must not leak into the context.
	all["step-2"] = types.Document{}
	_, ok = c.GetStepOutput("step-2")
	assert.False(t, ok)

	assert.Equal(t, before, c.Version)
}

func TestContext_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	c := New()
	c.AddStepOutput("research", types.Document{"summary": "three findings"})
	c.AddStepOutput("draft", types.Document{"body": "..."})
	c.AddDecision(DecisionRecord{StepID: "draft", Decision: "tone=casual", AgentID: "writer"})
	c.AddUserPreference("tone", "casual")
	c.AddArtifactReference("doc-1", "/artifacts/doc.md")

	raw, err := c.ToJSON()
	require.NoError(t, err)

	restored, err := FromJSON(raw)
	require.NoError(t, err)

	assert.Equal(t, c.Version, restored.Version)
	assert.Equal(t, len(c.StepOutputs), len(restored.StepOutputs))
	for id, out := range c.StepOutputs {
		got, ok := restored.GetStepOutput(id)
		require.Truef(t, ok, "missing output %s", id)
		assert.True(t, out.Equal(got))
	}
	assert.Equal(t, c.DecisionHistory, restored.DecisionHistory)
	assert.Equal(t, c.UserPreferences, restored.UserPreferences)
	assert.Equal(t, c.ArtifactReferences, restored.ArtifactReferences)
}

func TestContext_FromJSONEmpty(t *testing.T) {
	t.Parallel()

	c, err := FromJSON(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Version)
	assert.NotNil(t, c.StepOutputs)
}

func TestContext_CloneIsDeep(t *testing.T) {
	t.Parallel()

	c := New()
	c.AddStepOutput("step-1", types.Document{"v": "original"})

	clone := c.Clone()
	clone.AddStepOutput("step-1", types.Document{"v": "changed"})

	out, _ := c.GetStepOutput("step-1")
	assert.Equal(t, "original", out["v"])
	assert.Equal(t, 1, c.Version)
	assert.Equal(t, 2, clone.Version)
}
