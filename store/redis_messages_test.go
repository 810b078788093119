package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/conductor/types"
)

func newTestRedisStore(t *testing.T) *RedisMessageStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisMessageStoreFromClient(client, "test:")
}

func TestRedisMessageStore_AppendAndList(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	for i, target := range []string{"researcher", "writer", "editor"} {
		err := s.AddMessage(ctx, &types.AgentMessage{
			ID:                 "msg-" + target,
			WorkflowInstanceID: "wf-1",
			SourceAgent:        "planner",
			TargetAgent:        target,
			RequestType:        "step_execution",
			Response:           types.Document{"seq": float64(i)},
			Timestamp:          time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	msgs, err := s.ListMessages(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	// Insertion order preserved.
	assert.Equal(t, "researcher", msgs[0].TargetAgent)
	assert.Equal(t, "writer", msgs[1].TargetAgent)
	assert.Equal(t, "editor", msgs[2].TargetAgent)
}

func TestRedisMessageStore_HistoryIsolatedPerWorkflow(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddMessage(ctx, &types.AgentMessage{
		ID: "m1", WorkflowInstanceID: "wf-a", TargetAgent: "writer", Timestamp: time.Now(),
	}))
	require.NoError(t, s.AddMessage(ctx, &types.AgentMessage{
		ID: "m2", WorkflowInstanceID: "wf-b", TargetAgent: "editor", Timestamp: time.Now(),
	}))

	a, err := s.ListMessages(ctx, "wf-a")
	require.NoError(t, err)
	b, err := s.ListMessages(ctx, "wf-b")
	require.NoError(t, err)

	assert.Len(t, a, 1)
	assert.Len(t, b, 1)
	assert.Equal(t, "writer", a[0].TargetAgent)
	assert.Equal(t, "editor", b[0].TargetAgent)

	empty, err := s.ListMessages(ctx, "wf-c")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRedisMessageStore_RejectsInvalidInput(t *testing.T) {
	s := newTestRedisStore(t)
	assert.ErrorIs(t, s.AddMessage(context.Background(), nil), ErrInvalidInput)
	assert.ErrorIs(t, s.AddMessage(context.Background(), &types.AgentMessage{}), ErrInvalidInput)
}
