package objective_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscalworks/taxsolver/internal/backend"
	"github.com/fiscalworks/taxsolver/internal/common"
	"github.com/fiscalworks/taxsolver/internal/constraint"
	"github.com/fiscalworks/taxsolver/internal/model"
	"github.com/fiscalworks/taxsolver/internal/objective"
	"github.com/fiscalworks/taxsolver/internal/rule"
	"github.com/fiscalworks/taxsolver/internal/solver"
)

type harness struct {
	tx       *solver.TaxSolver
	bk       backend.Backend
	budget   *constraint.Budget
	pressure *constraint.MarginalPressure
}

func newHarness(t *testing.T, bk backend.Backend, applyConstraints bool) *harness {
	t.Helper()

	p := model.NewPerson("p1", map[string]float64{
		"income_before_tax":     50_000,
		"income_after_tax":      30_000,
		"marginal_rate_current": 0.4,
	})
	hh := model.NewHousehold("hh1", []*model.Person{p}, 1)

	tx, err := solver.New(map[string]*model.Household{hh.ID: hh}, bk, "objective")
	require.NoError(t, err)

	r := rule.NewFlatTax("income_tax", "income_before_tax", 0, 1)
	r.MarginalPressure = true
	require.NoError(t, tx.AddRules(r))

	contributors := []model.Contributor{r}
	require.NoError(t, p.UpdateSolverVariables(bk, contributors))
	require.NoError(t, hh.UpdateSolverVariables(bk, contributors))

	h := &harness{
		tx:       tx,
		bk:       bk,
		budget:   constraint.NewBudget("objective", 1_000),
		pressure: constraint.NewMarginalPressure(0.6),
	}
	if applyConstraints {
		require.NoError(t, h.budget.Apply(tx))
		require.NoError(t, h.pressure.Apply(tx))
	}
	return h
}

func mipModel(bk backend.Backend) *backend.Model {
	return bk.(*backend.MIPBackend).Model()
}

func TestNullObjective(t *testing.T) {
	bk := backend.NewMIPBackend(backend.NewAssignmentEngine(nil))
	h := newHarness(t, bk, false)

	require.NoError(t, objective.Null{}.BindAndSet(h.tx))

	m := mipModel(bk)
	require.Len(t, m.Objectives, 1)
	assert.True(t, m.Objectives[0].Expr.IsConstant())
	assert.Equal(t, backend.Minimize, m.Objectives[0].Sense)
}

func TestBudgetObjective(t *testing.T) {
	bk := backend.NewMIPBackend(backend.NewAssignmentEngine(nil))
	h := newHarness(t, bk, true)

	require.NoError(t, objective.NewBudget(h.budget).BindAndSet(h.tx))

	m := mipModel(bk)
	require.Len(t, m.Objectives, 1)
	assert.False(t, m.Objectives[0].Expr.IsConstant())
}

func TestBudgetObjectiveRequiresAppliedConstraint(t *testing.T) {
	bk := backend.NewMIPBackend(backend.NewAssignmentEngine(nil))
	h := newHarness(t, bk, false)

	err := objective.NewBudget(h.budget).BindAndSet(h.tx)
	assert.ErrorIs(t, err, common.ErrObjectiveNotBound)

	err = objective.NewBudget(nil).BindAndSet(h.tx)
	assert.ErrorIs(t, err, common.ErrObjectiveNotBound)
}

func TestComplexityObjective(t *testing.T) {
	bk := backend.NewMIPBackend(backend.NewAssignmentEngine(nil))
	h := newHarness(t, bk, false)

	require.NoError(t, objective.Complexity{}.BindAndSet(h.tx))

	m := mipModel(bk)
	require.Len(t, m.Objectives, 1)
	require.Len(t, m.Objectives[0].Expr.Terms, 1)
	assert.InDelta(t, 1.0, m.Objectives[0].Expr.Terms[0].Coef, 1e-9)
}

func TestWeightedMixedObjective(t *testing.T) {
	bk := backend.NewMIPBackend(backend.NewAssignmentEngine(nil))
	h := newHarness(t, bk, true)

	o := objective.NewWeightedMixed(h.budget, h.pressure)
	assert.InDelta(t, 15.0, o.ComplexityPenalty, 1e-9)
	assert.InDelta(t, 1.0, o.MarginalPressurePenalty, 1e-9)

	require.NoError(t, o.BindAndSet(h.tx))

	m := mipModel(bk)
	require.Len(t, m.Objectives, 1)
	assert.False(t, m.Objectives[0].Multi)
}

func TestWeightedMixedRequiresPressureConstraint(t *testing.T) {
	bk := backend.NewMIPBackend(backend.NewAssignmentEngine(nil))
	h := newHarness(t, bk, false)
	require.NoError(t, h.budget.Apply(h.tx))

	err := objective.NewWeightedMixed(h.budget, h.pressure).BindAndSet(h.tx)
	assert.ErrorIs(t, err, common.ErrObjectiveNotBound)
}

func TestSequentialMixedRegistersEveryLevel(t *testing.T) {
	bk := backend.NewMIPBackend(backend.NewAssignmentEngine(nil))
	h := newHarness(t, bk, true)

	o := objective.NewSequentialMixed(h.budget, h.pressure)
	require.NoError(t, o.BindAndSet(h.tx))

	m := mipModel(bk)
	require.Len(t, m.Objectives, 3)

	wantPriorities := map[string]int{"budget": 3, "complexity": 2, "marginal_pressure": 1}
	wantIndices := map[string]int{"budget": 0, "complexity": 1, "marginal_pressure": 2}
	for _, obj := range m.Objectives {
		assert.True(t, obj.Multi)
		assert.Equal(t, wantPriorities[obj.Name], obj.Priority, obj.Name)
		assert.Equal(t, wantIndices[obj.Name], obj.Index, obj.Name)
	}
}

func TestSequentialMixedUnsupportedOnLinearBackend(t *testing.T) {
	bk := backend.NewConvexBackend(backend.NewAssignmentEngine(nil))
	h := newHarness(t, bk, true)

	err := objective.NewSequentialMixed(h.budget, h.pressure).BindAndSet(h.tx)
	assert.ErrorIs(t, err, common.ErrUnsupported)
}

func TestWeightedMixedLaborEffectsRequiresLaborConstraint(t *testing.T) {
	bk := backend.NewMIPBackend(backend.NewAssignmentEngine(nil))
	h := newHarness(t, bk, true)

	// Without the labor constraint the wage output change never binds.
	err := objective.NewWeightedMixedLaborEffects(h.budget, h.pressure).BindAndSet(h.tx)
	assert.ErrorIs(t, err, common.ErrObjectiveNotBound)
}

func TestWeightedMixedLaborEffectsDefaults(t *testing.T) {
	o := objective.NewWeightedMixedLaborEffects(nil, nil)
	assert.InDelta(t, 15.0, o.ComplexityPenalty, 1e-9)
	assert.InDelta(t, 1.0, o.MarginalPressurePenalty, 1e-9)
	assert.InDelta(t, 200_000.0, o.LaborEffectsPenalty, 1e-9)
}
