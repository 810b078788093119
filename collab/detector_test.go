package collab

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/conductor/store"
	"github.com/BaSui01/conductor/types"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestDetector(t *testing.T) (*Detector, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	return NewDetector(store.NewMemoryStore(), nil, nil, WithClock(clock)), clock
}

func TestDetector_DifferingValuesConflict(t *testing.T) {
	d, clock := newTestDetector(t)
	ctx := context.Background()

	first, conflict, err := d.BufferInput(ctx, "wf-1", "user-a", "Alice", "title", "Quarterly Report")
	require.NoError(t, err)
	assert.Nil(t, conflict, "first input has nothing to conflict with")

	clock.Advance(time.Second)
	second, conflict, err := d.BufferInput(ctx, "wf-1", "user-b", "Bob", "title", "Annual Report")
	require.NoError(t, err)
	require.NotNil(t, conflict)
	assert.Equal(t, types.InputConflictStatusPending, conflict.Status)
	assert.Equal(t, first.ID, conflict.FirstInputID)
	assert.Equal(t, second.ID, conflict.SecondInputID)
	assert.Equal(t, "title", conflict.FieldName)
}

func TestDetector_IdenticalValuesNoConflict(t *testing.T) {
	d, clock := newTestDetector(t)
	ctx := context.Background()

	_, _, err := d.BufferInput(ctx, "wf-1", "user-a", "Alice", "title", "Quarterly Report")
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, conflict, err := d.BufferInput(ctx, "wf-1", "user-b", "Bob", "title", "Quarterly Report")
	require.NoError(t, err)
	assert.Nil(t, conflict)

	conflicts, err := d.ListConflicts(ctx, "wf-1")
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestDetector_SameUserDifferingValuesConflict(t *testing.T) {
	d, clock := newTestDetector(t)
	ctx := context.Background()

	first, _, err := d.BufferInput(ctx, "wf-1", "user-a", "Alice", "title", "Draft 1")
	require.NoError(t, err)

	clock.Advance(time.Second)
	second, conflict, err := d.BufferInput(ctx, "wf-1", "user-a", "Alice", "title", "Draft 2")
	require.NoError(t, err)
	require.NotNil(t, conflict, "differing values conflict even from one user")
	assert.Equal(t, first.ID, conflict.FirstInputID)
	assert.Equal(t, second.ID, conflict.SecondInputID)

	clock.Advance(time.Second)
	_, conflict, err = d.BufferInput(ctx, "wf-1", "user-a", "Alice", "title", "Draft 2")
	require.NoError(t, err)
	assert.Nil(t, conflict, "repeating the same value does not conflict")
}

func TestDetector_FieldsAreIndependent(t *testing.T) {
	d, clock := newTestDetector(t)
	ctx := context.Background()

	_, _, err := d.BufferInput(ctx, "wf-1", "user-a", "Alice", "title", "Report")
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, conflict, err := d.BufferInput(ctx, "wf-1", "user-b", "Bob", "summary", "Looks good")
	require.NoError(t, err)
	assert.Nil(t, conflict, "different fields never conflict")
}

func TestDetector_ResolveInputConflict(t *testing.T) {
	d, clock := newTestDetector(t)
	ctx := context.Background()

	first, _, err := d.BufferInput(ctx, "wf-1", "user-a", "Alice", "title", "A")
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, conflict, err := d.BufferInput(ctx, "wf-1", "user-b", "Bob", "title", "B")
	require.NoError(t, err)
	require.NotNil(t, conflict)

	// Winner must belong to the conflict.
	err = d.ResolveInputConflict(ctx, conflict.ID, "not-an-input", "moderator")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))

	require.NoError(t, d.ResolveInputConflict(ctx, conflict.ID, first.ID, "moderator"))

	conflicts, err := d.ListConflicts(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, types.InputConflictStatusResolved, conflicts[0].Status)
	assert.Equal(t, first.ID, conflicts[0].WinningInputID)
	assert.Equal(t, "moderator", conflicts[0].ResolvedBy)

	// Resolved conflicts reject a second resolution.
	err = d.ResolveInputConflict(ctx, conflict.ID, first.ID, "moderator")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidState))
}

func TestDetector_ApplyInputsLastWriteWins(t *testing.T) {
	d, clock := newTestDetector(t)
	ctx := context.Background()

	_, _, err := d.BufferInput(ctx, "wf-1", "user-a", "Alice", "title", "A")
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, _, err = d.BufferInput(ctx, "wf-1", "user-b", "Bob", "title", "B")
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, _, err = d.BufferInput(ctx, "wf-1", "user-a", "Alice", "summary", "fine")
	require.NoError(t, err)

	values, err := d.ApplyInputs(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"title": "B", "summary": "fine"}, values)

	// Buffer drained: nothing left to apply or to conflict against.
	values, err = d.ApplyInputs(ctx, "wf-1")
	require.NoError(t, err)
	assert.Empty(t, values)

	_, conflict, err := d.BufferInput(ctx, "wf-1", "user-c", "Cara", "title", "C")
	require.NoError(t, err)
	assert.Nil(t, conflict, "applied inputs no longer participate in detection")
}
