package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExprArithmetic(t *testing.T) {
	m := NewModel()
	x := m.addVar("x", 0, 10, Continuous)
	y := m.addVar("y", 0, 10, Continuous)

	tests := []struct {
		name      string
		expr      Expr
		wantConst float64
		wantTerms map[int]float64
	}{
		{
			name:      "sum merges terms on the same variable",
			expr:      VarExpr(x).Plus(VarExpr(x).Scale(2)),
			wantTerms: map[int]float64{x.Index(): 3},
		},
		{
			name:      "minus cancels to empty",
			expr:      VarExpr(x).Minus(VarExpr(x)),
			wantTerms: map[int]float64{},
		},
		{
			name:      "scale distributes over constant and terms",
			expr:      Constant(2).Plus(VarExpr(y)).Scale(3),
			wantConst: 6,
			wantTerms: map[int]float64{y.Index(): 3},
		},
		{
			name:      "mixed variables stay separate",
			expr:      VarExpr(x).Plus(VarExpr(y).Scale(-1)),
			wantTerms: map[int]float64{x.Index(): 1, y.Index(): -1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.wantConst, tt.expr.Const, 1e-12)
			got := map[int]float64{}
			for _, term := range tt.expr.Terms {
				got[term.Var.Index()] = term.Coef
			}
			assert.Equal(t, tt.wantTerms, got)
		})
	}
}

func TestMul(t *testing.T) {
	m := NewModel()
	x := m.addVar("x", 0, 1, Continuous)
	y := m.addVar("y", 0, 1, Continuous)

	t.Run("linear times linear is bilinear", func(t *testing.T) {
		got, err := Mul(VarExpr(x).Plus(Constant(1)), VarExpr(y))
		require.NoError(t, err)
		assert.True(t, got.IsQuadratic())
		require.Len(t, got.Quads, 1)
		assert.InDelta(t, 1.0, got.Quads[0].Coef, 1e-12)
		// The constant part multiplies through as a linear term.
		require.Len(t, got.Terms, 1)
		assert.Equal(t, y.Index(), got.Terms[0].Var.Index())
	})

	t.Run("constant times anything stays linear", func(t *testing.T) {
		got, err := Mul(Constant(3), VarExpr(x))
		require.NoError(t, err)
		assert.False(t, got.IsQuadratic())
		require.Len(t, got.Terms, 1)
		assert.InDelta(t, 3.0, got.Terms[0].Coef, 1e-12)
	})

	t.Run("quadratic times variable is rejected", func(t *testing.T) {
		q, err := Mul(VarExpr(x), VarExpr(y))
		require.NoError(t, err)
		_, err = Mul(q, VarExpr(x))
		assert.Error(t, err)
	})
}

func TestEvalAndBounds(t *testing.T) {
	m := NewModel()
	x := m.addVar("x", 0, 10, Continuous)
	y := m.addVar("y", -5, 5, Continuous)

	e := VarExpr(x).Scale(2).Plus(VarExpr(y)).Plus(Constant(1))
	v, err := m.Eval(e, []float64{3, -2})
	require.NoError(t, err)
	assert.InDelta(t, 5.0, v, 1e-12)

	// |2|*10 + |1|*5 + |1|
	assert.InDelta(t, 26.0, m.exprBound(e), 1e-12)
}
