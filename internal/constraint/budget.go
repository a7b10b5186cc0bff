// Package constraint implements the policy-level constraints applied between
// rule binding and the backend solve: budgets, income floors, marginal
// pressure caps, rule forcing, and the behavioral and labor response models.
package constraint

import (
	"fmt"

	"github.com/fiscalworks/taxsolver/internal/backend"
	"github.com/fiscalworks/taxsolver/internal/common"
	"github.com/fiscalworks/taxsolver/internal/model"
	"github.com/fiscalworks/taxsolver/internal/solver"
)

// Budget bounds the shift in net expenditures relative to the status quo.
// Expenditures are benefits paid minus taxes collected, population-weighted;
// the status-quo figure is derived from the input data, the reformed figure
// from the solver expressions. MaxDelta is required, MinDelta optional.
type Budget struct {
	Name     string
	MaxDelta float64
	MinDelta *float64
	// Households restricts the budget to a subset; nil means the whole
	// population.
	Households []*model.Household

	current float64
	newExp  backend.Expr
	applied bool
}

// NewBudget builds a population-wide budget allowing expenditures to grow by
// at most maxDelta.
func NewBudget(name string, maxDelta float64) *Budget {
	return &Budget{Name: name, MaxDelta: maxDelta}
}

func (c *Budget) households(tx *solver.TaxSolver) []*model.Household {
	if c.Households != nil {
		return c.Households
	}
	return tx.Households()
}

// Apply implements solver.Constraint.
func (c *Budget) Apply(tx *solver.TaxSolver) error {
	bk := tx.Backend()
	hhs := c.households(tx)

	var current float64
	for _, hh := range hhs {
		for _, p := range hh.Members {
			current -= p.Weight() * (p.Data["income_before_tax"] - p.Data["income_after_tax"])
		}
	}
	c.current = current

	var terms []backend.Expr
	for _, hh := range hhs {
		for _, p := range hh.Members {
			terms = append(terms, p.WeightedTaxBalance)
		}
		terms = append(terms, hh.WeightedBenefits)
	}
	c.newExp = backend.Sum(terms)

	common.LogInfo("applying budget constraint", common.Fields{
		"name":    c.Name,
		"current": current,
		"max":     current + c.MaxDelta,
	})

	if err := bk.AddConstr(
		backend.LE(c.newExp, backend.Constant(current+c.MaxDelta)),
		fmt.Sprintf("%s_max_budget", c.Name)); err != nil {
		return err
	}
	if c.MinDelta != nil {
		if err := bk.AddConstr(
			backend.GE(c.newExp, backend.Constant(current+*c.MinDelta)),
			fmt.Sprintf("%s_min_budget", c.Name)); err != nil {
			return err
		}
	}

	c.applied = true
	return nil
}

// Applied reports whether Apply has run.
func (c *Budget) Applied() bool { return c.applied }

// CurrentExpenditures returns the status-quo net expenditures, valid after
// Apply.
func (c *Budget) CurrentExpenditures() float64 { return c.current }

// NewExpenditures returns the reformed net-expenditure expression objectives
// minimize, valid after Apply.
func (c *Budget) NewExpenditures() backend.Expr { return c.newExp }

// Spend returns the expenditure delta expression (new minus status quo).
func (c *Budget) Spend() backend.Expr {
	return c.newExp.Minus(backend.Constant(c.current))
}
