package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscalworks/taxsolver/internal/backend"
)

// stubRule is a fixed-contribution Contributor for entity tests.
type stubRule struct {
	name      string
	household bool
	amount    backend.Expr
	delta     backend.Expr
}

func (s *stubRule) RuleName() string     { return s.name }
func (s *stubRule) HouseholdLevel() bool { return s.household }
func (s *stubRule) Contribution(_ *Person, _ backend.Backend) (backend.Expr, backend.Expr, error) {
	return s.amount, s.delta, nil
}

func newTestPerson(t *testing.T, id string, data map[string]float64) (*Person, backend.Backend) {
	t.Helper()
	bk := backend.NewMIPBackend(backend.NewAssignmentEngine(nil))
	p := NewPerson(id, data)
	NewHousehold(id+"_hh", []*Person{p}, 2)
	require.NoError(t, p.CreateSolverVariables(bk))
	return p, bk
}

func TestPersonValue(t *testing.T) {
	p := NewPerson("p1", map[string]float64{"income_before_tax": 50_000})

	v, err := p.Value("income_before_tax")
	require.NoError(t, err)
	assert.InDelta(t, 50_000.0, v, 1e-9)

	_, err = p.Value("no_such_column")
	assert.Error(t, err)
	assert.False(t, p.Has("no_such_column"))
}

func TestPersonUpdateSolverVariables(t *testing.T) {
	p, bk := newTestPerson(t, "p1", map[string]float64{
		"income_before_tax": 50_000,
		"income_after_tax":  30_000,
	})

	rate, err := bk.AddVar("tax_rate", 0, 1, backend.Continuous)
	require.NoError(t, err)

	rules := []Contributor{
		&stubRule{
			name:   "tax",
			amount: backend.VarExpr(rate).Scale(-50_000),
			delta:  backend.VarExpr(rate),
		},
		&stubRule{
			name:      "hh_benefit",
			household: true,
			amount:    backend.Constant(99),
		},
	}

	require.NoError(t, p.UpdateSolverVariables(bk, rules))
	assert.True(t, p.Updated())

	// Household-level rules do not enter the person balance.
	assert.Equal(t, []string{"tax"}, p.MarginalRules)

	// Marginal rate variable is tied to the folded deltas.
	_, ok := bk.ConstraintByName("bind_marginal_rate_p1")
	assert.True(t, ok)

	// Weighted balance scales by household weight.
	require.Len(t, p.WeightedTaxBalance.Terms, 1)
	assert.InDelta(t, -100_000.0, p.WeightedTaxBalance.Terms[0].Coef, 1e-9)

	// New net income anchors at income before tax.
	assert.InDelta(t, 50_000.0, p.NewNetIncome.Const, 1e-9)
}

func TestPersonUpdateRequiresCreatedVariables(t *testing.T) {
	bk := backend.NewMIPBackend(backend.NewAssignmentEngine(nil))
	p := NewPerson("p1", map[string]float64{"income_before_tax": 1})
	NewHousehold("hh", []*Person{p}, 1)

	err := p.UpdateSolverVariables(bk, nil)
	assert.Error(t, err)
}
