package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscalworks/taxsolver/internal/backend"
)

func TestHouseholdAggregation(t *testing.T) {
	bk := backend.NewMIPBackend(backend.NewAssignmentEngine(nil))

	p1 := NewPerson("p1", map[string]float64{"income_before_tax": 40_000, "income_after_tax": 28_000})
	p2 := NewPerson("p2", map[string]float64{"income_before_tax": 10_000, "income_after_tax": 9_000})
	hh := NewHousehold("hh1", []*Person{p1, p2}, 1.5)

	assert.Equal(t, 2, hh.Size())
	assert.Same(t, p1, hh.FirstMember())
	assert.InDelta(t, 37_000.0, hh.OldIncome(), 1e-9)
	assert.InDelta(t, 1.5, p2.Weight(), 1e-9)

	require.NoError(t, hh.CreateSolverVariables(bk))

	rules := []Contributor{
		&stubRule{name: "child_support", household: true, amount: backend.Constant(1_200)},
	}
	for _, m := range hh.Members {
		require.NoError(t, m.UpdateSolverVariables(bk, rules))
	}
	require.NoError(t, hh.UpdateSolverVariables(bk, rules))

	// Benefit counted once per household, not per member.
	assert.InDelta(t, 1_200.0, hh.Benefits.Const, 1e-9)
	assert.InDelta(t, 1_800.0, hh.WeightedBenefits.Const, 1e-9)
	// 40000 + 10000 member anchors plus the benefit.
	assert.InDelta(t, 51_200.0, hh.NewNetIncome.Const, 1e-9)
}

func TestHouseholdUpdateRequiresMemberUpdates(t *testing.T) {
	bk := backend.NewMIPBackend(backend.NewAssignmentEngine(nil))
	p := NewPerson("p1", map[string]float64{"income_before_tax": 1, "income_after_tax": 1})
	hh := NewHousehold("hh1", []*Person{p}, 1)
	require.NoError(t, hh.CreateSolverVariables(bk))

	err := hh.UpdateSolverVariables(bk, nil)
	assert.Error(t, err)
}
