package backend

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscalworks/taxsolver/internal/common"
)

func TestMIPBackendStoresConstructsNatively(t *testing.T) {
	bk := NewMIPBackend(NewAssignmentEngine(nil))

	x, err := bk.AddVar("x", 0, 10, Continuous)
	require.NoError(t, err)
	b, err := bk.AddVar("b", 0, 1, Binary)
	require.NoError(t, err)

	require.NoError(t, bk.AddConstr(LE(VarExpr(x), Constant(5)), "cap"))
	require.NoError(t, bk.AddIndicator(b, true, EQ(VarExpr(x), Constant(2)), "pin"))
	require.NoError(t, bk.AddMaxConstr(x, []Expr{VarExpr(b), Constant(3)}, "peak"))

	m := bk.Model()
	assert.Len(t, m.Indicators, 1)
	assert.Len(t, m.MaxConstrs, 1)
	// Max operands route through bound auxiliary variables.
	assert.Len(t, m.MaxConstrs[0].Over, 2)
	_, ok := bk.VarByName("peak_aux_1")
	assert.True(t, ok)

	assert.True(t, bk.SupportsQuadratic())
	assert.True(t, bk.SupportsHierarchicalObjectives())
}

func TestMIPBackendRejectsBadVarKind(t *testing.T) {
	bk := NewMIPBackend(NewAssignmentEngine(nil))
	_, err := bk.AddVar("x", 0, 1, VarKind(42))
	require.Error(t, err)
	assert.True(t, common.IsConfig(err))
}

func TestConvexBackendLowersIndicators(t *testing.T) {
	bk := NewConvexBackend(NewAssignmentEngine(nil))

	x, err := bk.AddVar("x", 0, 10, Continuous)
	require.NoError(t, err)
	b, err := bk.AddVar("b", 0, 1, Binary)
	require.NoError(t, err)

	// b = 0 -> x == 2 becomes two big-M rows.
	require.NoError(t, bk.AddIndicator(b, false, EQ(VarExpr(x), Constant(2)), "pin"))
	m := bk.Model()
	assert.Empty(t, m.Indicators)

	_, ub := bk.ConstraintByName("pin_ub")
	_, lb := bk.ConstraintByName("pin_lb")
	assert.True(t, ub)
	assert.True(t, lb)
}

func TestConvexBackendRejectsQuadraticConstraints(t *testing.T) {
	bk := NewConvexBackend(NewAssignmentEngine(nil))
	x, err := bk.AddVar("x", 0, 1, Continuous)
	require.NoError(t, err)
	q, err := Mul(VarExpr(x), VarExpr(x))
	require.NoError(t, err)

	err = bk.AddConstr(EQ(q, Constant(0)), "square")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrUnsupported)

	// A quadratic objective is still allowed.
	assert.NoError(t, bk.SetObjective(q, Minimize))
	// Hierarchical objectives are not.
	err = bk.SetObjectiveN(VarExpr(x), 0, 1, 0, "first")
	assert.ErrorIs(t, err, common.ErrUnsupported)
}

func TestConvexBackendMaxLowering(t *testing.T) {
	bk := NewConvexBackend(NewAssignmentEngine(nil))
	res, err := bk.AddVar("res", 0, 1, Continuous)
	require.NoError(t, err)
	a, err := bk.AddVar("a", 0, 1, Continuous)
	require.NoError(t, err)
	c, err := bk.AddVar("c", 0, 1, Continuous)
	require.NoError(t, err)

	require.NoError(t, bk.AddMaxConstr(res, []Expr{VarExpr(a), VarExpr(c)}, "peak"))

	// One selector binary per candidate plus the pick row.
	_, ok := bk.VarByName("peak_b_0")
	assert.True(t, ok)
	_, ok = bk.VarByName("peak_b_1")
	assert.True(t, ok)
	_, ok = bk.ConstraintByName("peak_pick")
	assert.True(t, ok)
}

func TestAssignmentEngineReplay(t *testing.T) {
	ctx := context.Background()

	build := func(values map[string]float64) (*MIPBackend, Var) {
		bk := NewMIPBackend(NewAssignmentEngine(values))
		x, err := bk.AddVar("x", 0, 10, Continuous)
		require.NoError(t, err)
		require.NoError(t, bk.AddConstr(LE(VarExpr(x), Constant(5)), "cap"))
		require.NoError(t, bk.SetObjective(VarExpr(x), Minimize))
		return bk, x
	}

	t.Run("feasible assignment is accepted", func(t *testing.T) {
		bk, x := build(map[string]float64{"x": 3})
		require.NoError(t, bk.Solve(ctx))
		assert.Equal(t, 1, bk.SolutionCount())
		v, err := bk.Value(VarExpr(x))
		require.NoError(t, err)
		assert.InDelta(t, 3.0, v, 1e-9)
	})

	t.Run("violated row yields zero solutions", func(t *testing.T) {
		engine := NewAssignmentEngine(map[string]float64{"x": 7})
		bk := NewMIPBackend(engine)
		x, err := bk.AddVar("x", 0, 10, Continuous)
		require.NoError(t, err)
		require.NoError(t, bk.AddConstr(LE(VarExpr(x), Constant(5)), "cap"))
		require.NoError(t, bk.Solve(ctx))
		assert.Equal(t, 0, bk.SolutionCount())
		assert.NotEmpty(t, engine.Violations())
	})

	t.Run("value before solve fails", func(t *testing.T) {
		bk, x := build(nil)
		_, err := bk.Value(VarExpr(x))
		assert.ErrorIs(t, err, common.ErrNotSolved)
	})

	t.Run("inactive indicator is not enforced", func(t *testing.T) {
		engine := NewAssignmentEngine(map[string]float64{"x": 9, "b": 1})
		bk := NewMIPBackend(engine)
		x, err := bk.AddVar("x", 0, 10, Continuous)
		require.NoError(t, err)
		b, err := bk.AddVar("b", 0, 1, Binary)
		require.NoError(t, err)
		require.NoError(t, bk.AddIndicator(b, false, EQ(VarExpr(x), Constant(2)), "pin"))
		require.NoError(t, bk.Solve(ctx))
		assert.Equal(t, 1, bk.SolutionCount())
	})

	t.Run("canceled context aborts", func(t *testing.T) {
		bk, _ := build(map[string]float64{"x": 3})
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		err := bk.Solve(canceled)
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestWriteLP(t *testing.T) {
	bk := NewMIPBackend(NewAssignmentEngine(nil))
	x, err := bk.AddVar("x", 0, 10, Continuous)
	require.NoError(t, err)
	b, err := bk.AddVar("b", 0, 1, Binary)
	require.NoError(t, err)
	n, err := bk.AddVar("n", 0, 5, Integer)
	require.NoError(t, err)

	require.NoError(t, bk.AddConstr(LE(VarExpr(x).Plus(VarExpr(n)), Constant(8)), "cap"))
	require.NoError(t, bk.AddIndicator(b, true, EQ(VarExpr(x), Constant(2)), "pin"))
	require.NoError(t, bk.SetObjective(VarExpr(x), Minimize))

	var sb strings.Builder
	require.NoError(t, WriteLP(&sb, bk.Model()))
	out := sb.String()

	assert.Contains(t, out, "Minimize")
	assert.Contains(t, out, "Subject To")
	assert.Contains(t, out, "b = 1 ->")
	assert.Contains(t, out, "Bounds")
	assert.Contains(t, out, "Generals")
	assert.Contains(t, out, "Binaries")
	assert.Contains(t, out, "End")
}

func TestWriteLPRejectsMultiObjective(t *testing.T) {
	bk := NewMIPBackend(NewAssignmentEngine(nil))
	x, err := bk.AddVar("x", 0, 1, Continuous)
	require.NoError(t, err)
	require.NoError(t, bk.SetObjectiveN(VarExpr(x), 0, 1, 0, "first"))

	var sb strings.Builder
	assert.Error(t, WriteLP(&sb, bk.Model()))
}
