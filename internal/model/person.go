// Package model defines the population entities the solver optimizes over:
// persons carrying immutable input records plus solver-bound derived
// variables, and the households that group them.
package model

import (
	"fmt"

	"github.com/fiscalworks/taxsolver/internal/backend"
)

// Contributor is the slice of a tax rule the entity layer needs: a signed
// income adjustment plus an explicit marginal-pressure delta. Returning the
// delta (instead of mutating person state while building expressions) lets
// the update pass fold contributions deterministically.
type Contributor interface {
	RuleName() string
	HouseholdLevel() bool
	Contribution(p *Person, b backend.Backend) (amount, marginalDelta backend.Expr, err error)
}

// Person is one individual in the input population. The Data record is
// immutable input; the remaining fields are derived solver state populated
// during binding and the per-solve update pass.
type Person struct {
	Data                  map[string]float64
	Household             *Household
	InitLaborEffectWeight *float64
	ID                    string
	MirrorID              string

	// Derived state, populated by CreateSolverVariables / UpdateSolverVariables.
	MarginalRate       backend.Var
	MarginalRules      []string
	TaxBalance         backend.Expr
	WeightedTaxBalance backend.Expr
	NewNetIncome       backend.Expr

	// Labor-effect variables, created on demand by the labor constraint.
	NewIncomeIncrease            backend.Var
	NewIncomeIncreaseFactor      backend.Var
	ChangeInIncomeIncreaseFactor backend.Var
	WeightPercentageChange       backend.Var
	NewLaborEffectsWeight        backend.Expr
	OldIncomeIncreaseFactor      float64

	// Behavioral-effect expressions, set by the behavioral constraint.
	BehavioralIncomeChange backend.Expr
	BehavioralTaxEffect    backend.Expr
	NetBehavioralEffect    backend.Expr

	created bool
	updated bool
}

// NewPerson creates a person from a flat input record.
func NewPerson(id string, data map[string]float64) *Person {
	return &Person{ID: id, Data: data}
}

// Value looks up a numeric input attribute, failing on unknown keys so typos
// in rule variable names surface as configuration errors.
func (p *Person) Value(key string) (float64, error) {
	v, ok := p.Data[key]
	if !ok {
		return 0, fmt.Errorf("person %s: unknown variable %q", p.ID, key)
	}
	return v, nil
}

// Has reports whether the input record carries the given attribute.
func (p *Person) Has(key string) bool {
	_, ok := p.Data[key]
	return ok
}

// Weight returns the population weight of the person's household.
func (p *Person) Weight() float64 {
	return p.Household.Weight
}

// CreateSolverVariables creates the person's marginal-rate variable, bounded
// in [0,1]. Called once when the household is registered with a solver.
func (p *Person) CreateSolverVariables(b backend.Backend) error {
	mr, err := b.AddVar(fmt.Sprintf("new_marginal_rate_%s", p.ID), 0, 1, backend.Continuous)
	if err != nil {
		return err
	}
	p.MarginalRate = mr
	p.created = true
	return nil
}

// CreateLaborEffectsVariables creates the variables modeling labor
// participation response. Only called for persons with a mirror
// counterfactual.
func (p *Person) CreateLaborEffectsVariables(b backend.Backend) error {
	var err error
	if p.NewIncomeIncrease, err = b.AddVar(fmt.Sprintf("new_income_increase_%s", p.ID), -100_000, 100_000, backend.Continuous); err != nil {
		return err
	}
	if p.NewIncomeIncreaseFactor, err = b.AddVar(fmt.Sprintf("new_income_increase_factor_%s", p.ID), 0, 10, backend.Continuous); err != nil {
		return err
	}
	if p.ChangeInIncomeIncreaseFactor, err = b.AddVar(fmt.Sprintf("change_in_income_increase_factor_%s", p.ID), -10, 10, backend.Continuous); err != nil {
		return err
	}
	if p.WeightPercentageChange, err = b.AddVar(fmt.Sprintf("weight_percentage_change_%s", p.ID), -10, 10, backend.Continuous); err != nil {
		return err
	}
	w, err := b.AddVar(fmt.Sprintf("new_labor_effects_weight_%s", p.ID), 0, 100_000, backend.Continuous)
	if err != nil {
		return err
	}
	p.NewLaborEffectsWeight = backend.VarExpr(w)
	return nil
}

// UpdateSolverVariables folds every individual-level rule contribution into
// the person's tax balance and ties the marginal-rate variable to the summed
// marginal deltas. Must run after all rules are bound and before constraints
// apply.
func (p *Person) UpdateSolverVariables(b backend.Backend, rules []Contributor) error {
	if !p.created {
		return fmt.Errorf("person %s: solver variables not created", p.ID)
	}

	p.MarginalRules = p.MarginalRules[:0]
	amounts := make([]backend.Expr, 0, len(rules))
	deltas := backend.Expr{}

	for _, r := range rules {
		if r.HouseholdLevel() {
			continue
		}
		amount, delta, err := r.Contribution(p, b)
		if err != nil {
			return fmt.Errorf("rule %s on person %s: %w", r.RuleName(), p.ID, err)
		}
		amounts = append(amounts, amount)
		if !isZero(delta) {
			deltas = deltas.Plus(delta)
			p.MarginalRules = append(p.MarginalRules, r.RuleName())
		}
	}

	if err := b.AddConstr(
		backend.EQ(backend.VarExpr(p.MarginalRate), deltas),
		fmt.Sprintf("bind_marginal_rate_%s", p.ID),
	); err != nil {
		return err
	}

	ibt, err := p.Value("income_before_tax")
	if err != nil {
		return err
	}

	p.TaxBalance = backend.Sum(amounts)
	p.WeightedTaxBalance = p.TaxBalance.Scale(p.Weight())
	p.NewNetIncome = backend.Constant(ibt).Plus(p.TaxBalance)
	p.updated = true
	return nil
}

// Updated reports whether the per-solve update pass has run.
func (p *Person) Updated() bool { return p.updated }

func isZero(e backend.Expr) bool {
	return e.IsConstant() && e.Const == 0
}

func (p *Person) String() string {
	if p.Household != nil {
		return fmt.Sprintf("Person %s in household %s", p.ID, p.Household.ID)
	}
	return fmt.Sprintf("Person %s", p.ID)
}
