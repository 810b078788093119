package store

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/BaSui01/conductor/sharedctx"
	"github.com/BaSui01/conductor/types"
)

func newSQLiteStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	s := NewGormStore(db)
	require.NoError(t, s.AutoMigrate())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGormStore_WorkflowRoundTrip(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	wf := &types.WorkflowInstance{
		ID:           "0b9f9a3e-58c6-4c24-9a0e-111111111111",
		DefinitionID: "content-pipeline",
		OwnerID:      "0b9f9a3e-58c6-4c24-9a0e-222222222222",
		Status:       types.WorkflowStatusCreated,
		CurrentStep:  1,
	}
	require.NoError(t, s.AddWorkflow(ctx, wf))

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowStatusCreated, got.Status)

	got.Status = types.WorkflowStatusRunning
	got.CurrentStep = 2
	require.NoError(t, s.UpdateWorkflow(ctx, got))

	reread, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowStatusRunning, reread.Status)
	assert.Equal(t, 2, reread.CurrentStep)

	_, err = s.GetWorkflow(ctx, "0b9f9a3e-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGormStore_ContextCompareAndSwap(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	const wfID = "wf-cas"

	first, err := s.Load(ctx, wfID)
	require.NoError(t, err)
	second := first.Clone()

	first.AddStepOutput("step-1", types.Document{"by": "first"})
	ok, err := s.Update(ctx, wfID, 0, first)
	require.NoError(t, err)
	assert.True(t, ok)

	second.AddStepOutput("step-1", types.Document{"by": "second"})
	ok, err = s.Update(ctx, wfID, 0, second)
	require.NoError(t, err)
	assert.False(t, ok, "stale version must lose")

	stored, err := s.Load(ctx, wfID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Version)
	out, _ := stored.GetStepOutput("step-1")
	assert.Equal(t, "first", out["by"])

	retry := stored.Clone()
	retry.AddUserPreference("tone", "direct")
	ok, err = s.Update(ctx, wfID, 1, retry)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGormStore_DecisionVersionsAndReviews(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	d := &types.Decision{
		ID:                 "11111111-1111-1111-1111-111111111111",
		WorkflowInstanceID: "wf-1",
		StepID:             "step-1",
		DecisionType:       "budget",
		Value:              types.Document{"amount": 100.0},
		CurrentVersion:     1,
		Status:             types.DecisionStatusDraft,
	}
	require.NoError(t, s.AddDecision(ctx, d))
	require.NoError(t, s.AddDecisionVersion(ctx, &types.DecisionVersion{
		ID: "v1", DecisionID: d.ID, VersionNumber: 1, Value: d.Value,
	}))

	v, err := s.GetDecisionVersion(ctx, d.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, v.VersionNumber)

	review := &types.DecisionReview{
		ID: "r1", DecisionID: d.ID, RequestedBy: "u1",
		Status: types.ReviewStatusPending, ReviewerIDs: []string{"u2", "u3"},
	}
	require.NoError(t, s.AddReview(ctx, review))

	pending, err := s.PendingReviewForDecision(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "r1", pending.ID)
	assert.Equal(t, []string{"u2", "u3"}, pending.ReviewerIDs)

	pending.Status = types.ReviewStatusCompleted
	require.NoError(t, s.UpdateReview(ctx, pending))
	_, err = s.PendingReviewForDecision(ctx, d.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

// The optimistic swap must be a conditional UPDATE on the version
// column, not a read-modify-write, so it stays correct across
// processes. Verified against the generated SQL with sqlmock.
func TestGormStore_ContextUpdateIsConditionalSQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	gdb, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	s := NewGormStore(gdb)

	updated := sharedctx.New()
	updated.AddStepOutput("step-1", types.Document{"k": "v"})

	mock.ExpectExec(regexp.QuoteMeta("UPDATE `shared_contexts` SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.Update(context.Background(), "wf-1", 0, updated)
	require.NoError(t, err)
	assert.True(t, ok)

	// A stale writer matches zero rows and must report false without
	// touching the table again.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `shared_contexts` SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err = s.Update(context.Background(), "wf-1", 3, updated)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}
