package handoff

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/conductor/agent/registry"
	"github.com/BaSui01/conductor/internal/metrics"
	"github.com/BaSui01/conductor/sharedctx"
	"github.com/BaSui01/conductor/store"
	"github.com/BaSui01/conductor/types"
)

func newTestMessenger(t *testing.T, timeout time.Duration) (*Messenger, *registry.Router, *store.MemoryStore) {
	t.Helper()
	reg := registry.NewRegistry(nil)
	router := registry.NewRouter(reg, nil)
	st := store.NewMemoryStore()
	return NewMessenger(router, st, timeout, nil), router, st
}

func TestMessenger_TargetNotFound(t *testing.T) {
	m, _, _ := newTestMessenger(t, time.Second)

	_, err := m.RequestFromAgent(context.Background(), "writer", "ghost", &types.AgentRequest{
		WorkflowInstanceID: "wf-1",
		RequestType:        "research_query",
	}, nil, 0)

	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrTargetNotFound))
}

func TestMessenger_SuccessRecordsHistory(t *testing.T) {
	m, router, _ := newTestMessenger(t, time.Second)
	router.RegisterHandler("researcher", registry.HandlerFunc(func(ctx context.Context, req *types.AgentRequest) (*types.AgentResponse, error) {
		return &types.AgentResponse{
			Output:     types.Document{"answer": "42"},
			Confidence: 0.9,
		}, nil
	}))

	resp, err := m.RequestFromAgent(context.Background(), "writer", "researcher", &types.AgentRequest{
		WorkflowInstanceID: "wf-1",
		RequestType:        "research_query",
	}, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "42", resp.Output["answer"])

	history, err := m.GetMessageHistory(context.Background(), "wf-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "writer", history[0].SourceAgent)
	assert.Equal(t, "researcher", history[0].TargetAgent)
	assert.Equal(t, "research_query", history[0].RequestType)
	assert.NotEmpty(t, history[0].ID)
}

func TestMessenger_TimeoutRetriesExactlyOnce(t *testing.T) {
	m, router, _ := newTestMessenger(t, 30*time.Millisecond)

	var calls atomic.Int32
	router.RegisterHandler("slow", registry.HandlerFunc(func(ctx context.Context, req *types.AgentRequest) (*types.AgentResponse, error) {
		calls.Add(1)
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	_, err := m.RequestFromAgent(context.Background(), "writer", "slow", &types.AgentRequest{
		WorkflowInstanceID: "wf-1",
		RequestType:        "slow_query",
	}, nil, 0)

	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrTimeout))
	assert.EqualValues(t, 2, calls.Load())
	assert.True(t, types.IsRetryable(types.NewError(types.ErrTimeout, "").WithRetryable(true)))
}

func TestMessenger_RetrySucceedsOnSecondAttempt(t *testing.T) {
	m, router, _ := newTestMessenger(t, 50*time.Millisecond)

	var calls atomic.Int32
	router.RegisterHandler("flaky", registry.HandlerFunc(func(ctx context.Context, req *types.AgentRequest) (*types.AgentResponse, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &types.AgentResponse{Output: types.Document{"ok": true}, Confidence: 1}, nil
	}))

	resp, err := m.RequestFromAgent(context.Background(), "writer", "flaky", &types.AgentRequest{
		WorkflowInstanceID: "wf-1",
		RequestType:        "retry_query",
	}, nil, 0)

	require.NoError(t, err)
	assert.Equal(t, true, resp.Output["ok"])
	assert.EqualValues(t, 2, calls.Load())

	// Only the successful exchange lands in history.
	history, err := m.GetMessageHistory(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestMessenger_CallerCancelNeverRetries(t *testing.T) {
	m, router, _ := newTestMessenger(t, time.Second)

	var calls atomic.Int32
	started := make(chan struct{})
	router.RegisterHandler("blocked", registry.HandlerFunc(func(ctx context.Context, req *types.AgentRequest) (*types.AgentResponse, error) {
		calls.Add(1)
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := m.RequestFromAgent(ctx, "writer", "blocked", &types.AgentRequest{
		WorkflowInstanceID: "wf-1",
		RequestType:        "cancelled_query",
	}, nil, 0)

	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCancelled))
	assert.EqualValues(t, 1, calls.Load())
}

func TestMessenger_RecordsRequestMetrics(t *testing.T) {
	reg := registry.NewRegistry(nil)
	router := registry.NewRouter(reg, nil)
	collector := metrics.NewCollector("handoff_wiring", nil)
	m := NewMessenger(router, store.NewMemoryStore(), time.Second, nil, WithMetrics(collector))

	router.RegisterHandler("researcher", registry.HandlerFunc(func(ctx context.Context, req *types.AgentRequest) (*types.AgentResponse, error) {
		return &types.AgentResponse{Output: types.Document{"ok": true}, Confidence: 1}, nil
	}))

	_, err := m.RequestFromAgent(context.Background(), "writer", "researcher", &types.AgentRequest{
		WorkflowInstanceID: "wf-1",
		RequestType:        "research_query",
	}, nil, 0)
	require.NoError(t, err)

	expected := strings.NewReader(`
# HELP handoff_wiring_agent_requests_total Total number of inter-agent requests
# TYPE handoff_wiring_agent_requests_total counter
handoff_wiring_agent_requests_total{status="success",target_agent="researcher"} 1
`)
	require.NoError(t, promtest.GatherAndCompare(prometheus.DefaultGatherer, expected, "handoff_wiring_agent_requests_total"))
}

func TestMessenger_SharedContextLeavesCallerRequestUntouched(t *testing.T) {
	m, router, _ := newTestMessenger(t, time.Second)

	var seen types.Document
	router.RegisterHandler("researcher", registry.HandlerFunc(func(ctx context.Context, req *types.AgentRequest) (*types.AgentResponse, error) {
		seen = req.Payload
		return &types.AgentResponse{Output: types.Document{"ok": true}, Confidence: 1}, nil
	}))

	sctx := sharedctx.New()
	sctx.AddStepOutput("draft", types.Document{"text": "v1"})

	req := &types.AgentRequest{
		WorkflowInstanceID: "wf-1",
		RequestType:        "research_query",
		Payload:            types.Document{"q": "deadline"},
	}
	_, err := m.RequestFromAgent(context.Background(), "writer", "researcher", req, sctx, 0)
	require.NoError(t, err)

	// The handler sees the merged snapshot; the caller's request does not.
	require.Contains(t, seen, "sharedContext")
	assert.Equal(t, "deadline", seen["q"])
	assert.Equal(t, types.Document{"q": "deadline"}, req.Payload)
}

func TestMessenger_HandlerErrorNotRetried(t *testing.T) {
	m, router, _ := newTestMessenger(t, time.Second)

	var calls atomic.Int32
	router.RegisterHandler("broken", registry.HandlerFunc(func(ctx context.Context, req *types.AgentRequest) (*types.AgentResponse, error) {
		calls.Add(1)
		return nil, types.NewError(types.ErrValidation, "bad payload")
	}))

	_, err := m.RequestFromAgent(context.Background(), "writer", "broken", &types.AgentRequest{
		WorkflowInstanceID: "wf-1",
		RequestType:        "broken_query",
	}, nil, 0)

	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))
	assert.EqualValues(t, 1, calls.Load())
}
