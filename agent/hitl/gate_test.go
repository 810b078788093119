package hitl

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/conductor/internal/metrics"
	"github.com/BaSui01/conductor/store"
	"github.com/BaSui01/conductor/types"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestGate(t *testing.T, opts ...Option) (*Gate, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock)}, opts...)
	return NewGate(store.NewMemoryStore(), nil, nil, opts...), clock
}

func pendingRequest(t *testing.T, g *Gate) *types.ApprovalRequest {
	t.Helper()
	req, err := g.CreateApprovalRequest(context.Background(), "wf-1", "step-2", "writer", &types.AgentResponse{
		Output:     types.Document{"draft": "first pass"},
		Confidence: 0.55,
		Reasoning:  "low source coverage",
	})
	require.NoError(t, err)
	return req
}

func TestGate_RequiresApprovalThreshold(t *testing.T) {
	g, _ := newTestGate(t)

	assert.False(t, g.RequiresApproval(0.85))
	assert.False(t, g.RequiresApproval(0.70), "threshold itself passes")
	assert.True(t, g.RequiresApproval(0.69))
	assert.True(t, g.RequiresApproval(0))
}

func TestGate_CreateApprovalRequest(t *testing.T) {
	g, clock := newTestGate(t)
	req := pendingRequest(t, g)

	assert.Equal(t, types.ApprovalStatusPending, req.Status)
	assert.Equal(t, 0.55, req.ConfidenceScore)
	assert.Equal(t, clock.Now(), req.CreatedAt)
	assert.Nil(t, req.RespondedAt)

	got, err := g.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, "first pass", got.ProposedResponse["draft"])
}

func TestGate_Approve(t *testing.T) {
	g, _ := newTestGate(t)
	req := pendingRequest(t, g)

	ok, err := g.Approve(context.Background(), req.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := g.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ApprovalStatusApproved, got.Status)
	assert.Equal(t, "user-1", got.ApprovedByUserID)
	assert.Equal(t, got.ProposedResponse, got.FinalResponse)
	require.NotNil(t, got.RespondedAt)

	// Second response on the same request is a no-op.
	ok, err = g.Approve(context.Background(), req.ID, "user-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGate_ModifyKeepsProposedForAudit(t *testing.T) {
	g, _ := newTestGate(t)
	req := pendingRequest(t, g)

	replacement := types.Document{"draft": "edited pass"}
	ok, err := g.Modify(context.Background(), req.ID, "user-1", replacement)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := g.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ApprovalStatusModified, got.Status)
	assert.Equal(t, "first pass", got.ProposedResponse["draft"])
	assert.Equal(t, "edited pass", got.FinalResponse["draft"])
}

func TestGate_ModifyRequiresReplacement(t *testing.T) {
	g, _ := newTestGate(t)
	req := pendingRequest(t, g)

	_, err := g.Modify(context.Background(), req.ID, "user-1", nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

func TestGate_RejectRequiresReason(t *testing.T) {
	g, _ := newTestGate(t)
	req := pendingRequest(t, g)

	_, err := g.Reject(context.Background(), req.ID, "user-1", "")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))

	ok, err := g.Reject(context.Background(), req.ID, "user-1", "not grounded in sources")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := g.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ApprovalStatusRejected, got.Status)
	assert.Equal(t, "not grounded in sources", got.RejectionReason)
	assert.Empty(t, got.FinalResponse)
}

func TestGate_ReminderSweep(t *testing.T) {
	g, clock := newTestGate(t)
	req := pendingRequest(t, g)

	// Too fresh: nothing due yet.
	sent, err := g.SweepReminders(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)

	clock.Advance(25 * time.Hour)
	sent, err = g.SweepReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	got, err := g.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastReminderSentAt)

	// Already reminded: no second reminder.
	sent, err = g.SweepReminders(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestGate_TimeoutSweep(t *testing.T) {
	g, clock := newTestGate(t)
	req := pendingRequest(t, g)

	clock.Advance(71 * time.Hour)
	timedOut, err := g.SweepTimeouts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, timedOut)

	clock.Advance(2 * time.Hour)
	timedOut, err = g.SweepTimeouts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, timedOut)

	got, err := g.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ApprovalStatusTimedOut, got.Status)
	assert.Empty(t, got.ApprovedByUserID)
	require.NotNil(t, got.RespondedAt)

	// A resolved request cannot time out again.
	ok, err := g.TimeoutRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGate_TimeoutDoesNotTouchResolved(t *testing.T) {
	g, clock := newTestGate(t)
	req := pendingRequest(t, g)

	ok, err := g.Approve(context.Background(), req.ID, "user-1")
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(100 * time.Hour)
	timedOut, err := g.SweepTimeouts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, timedOut)

	got, err := g.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ApprovalStatusApproved, got.Status)
}

func TestGate_RecordsApprovalMetrics(t *testing.T) {
	collector := metrics.NewCollector("hitl_wiring", nil)
	g, _ := newTestGate(t, WithMetrics(collector))

	req := pendingRequest(t, g)

	pending := strings.NewReader(`
# HELP hitl_wiring_approvals_pending Number of approval requests awaiting a human response
# TYPE hitl_wiring_approvals_pending gauge
hitl_wiring_approvals_pending 1
`)
	require.NoError(t, promtest.GatherAndCompare(prometheus.DefaultGatherer, pending, "hitl_wiring_approvals_pending"))

	ok, err := g.Approve(context.Background(), req.ID, "user-9")
	require.NoError(t, err)
	require.True(t, ok)

	resolved := strings.NewReader(`
# HELP hitl_wiring_approvals_pending Number of approval requests awaiting a human response
# TYPE hitl_wiring_approvals_pending gauge
hitl_wiring_approvals_pending 0
# HELP hitl_wiring_approvals_total Total number of resolved approval requests
# TYPE hitl_wiring_approvals_total counter
hitl_wiring_approvals_total{status="approved"} 1
`)
	require.NoError(t, promtest.GatherAndCompare(prometheus.DefaultGatherer, resolved,
		"hitl_wiring_approvals_pending", "hitl_wiring_approvals_total"))
}

func TestProperty_RequiresApprovalMatchesThreshold(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	g, _ := newTestGate(t)
	properties.Property("confidence below 0.7 requires approval, at or above does not", prop.ForAll(
		func(confidence float64) bool {
			return g.RequiresApproval(confidence) == (confidence < DefaultConfidenceThreshold)
		},
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
