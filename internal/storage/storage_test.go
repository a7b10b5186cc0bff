package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscalworks/taxsolver/internal/common"
	"github.com/fiscalworks/taxsolver/internal/solver"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func sampleRates() []solver.RuleRate {
	return []solver.RuleRate{
		{Name: "income_tax", Kind: "flat_tax", VarName: "income_before_tax", Rate: 0.4, Active: 1, Weight: 1},
		{Name: "child_benefit", Kind: "benefit", VarName: "i_child_count", Rate: 1_200, Active: 0, Weight: 2},
	}
}

func TestSaveAndGetRun(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	run := NewRun("baseline", "weighted_mixed", "mip", StatusSolved, sampleRates())
	require.NoError(t, s.SaveRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "baseline", got.Scenario)
	assert.Equal(t, "weighted_mixed", got.Objective)
	assert.Equal(t, "mip", got.Backend)
	assert.Equal(t, StatusSolved, got.Status)

	// Rates come back ordered by name.
	require.Len(t, got.Rates, 2)
	assert.Equal(t, "child_benefit", got.Rates[0].Name)
	assert.Equal(t, "income_tax", got.Rates[1].Name)
	assert.InDelta(t, 0.4, got.Rates[1].Rate, 1e-9)
	assert.Equal(t, 1, got.Rates[1].Active)
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.GetRun(context.Background(), "no-such-run")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSaveRunValidation(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	assert.Error(t, s.SaveRun(ctx, nil))

	run := NewRun("baseline", "null", "mip", StatusSolved, nil)
	run.ID = ""
	assert.Error(t, s.SaveRun(ctx, run))

	run = NewRun("baseline", "null", "mip", "", nil)
	assert.Error(t, s.SaveRun(ctx, run))

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	run = NewRun("baseline", "null", "mip", StatusSolved, nil)
	assert.Error(t, s.SaveRun(canceled, run))
}

func TestSaveRunRejectsDuplicateID(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	run := NewRun("baseline", "null", "mip", StatusSolved, nil)
	require.NoError(t, s.SaveRun(ctx, run))
	assert.Error(t, s.SaveRun(ctx, run))
}

func TestListRuns(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	first := NewRun("baseline", "null", "mip", StatusSolved, nil)
	second := NewRun("reform", "budget", "convex", StatusInfeasible, sampleRates())
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	require.NoError(t, s.SaveRun(ctx, first))
	require.NoError(t, s.SaveRun(ctx, second))

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	// Newest first, rates omitted.
	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, StatusInfeasible, runs[0].Status)
	assert.Empty(t, runs[0].Rates)

	limited, err := s.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, second.ID, limited[0].ID)
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestNewSQLiteStorageValidation(t *testing.T) {
	_, err := NewSQLiteStorage("")
	assert.Error(t, err)
}
