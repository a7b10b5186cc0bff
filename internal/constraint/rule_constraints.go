package constraint

import (
	"fmt"
	"strings"

	"github.com/fiscalworks/taxsolver/internal/backend"
	"github.com/fiscalworks/taxsolver/internal/solver"
)

// ForceRulesOn pins the activation indicator of the named rules to 1.
type ForceRulesOn struct {
	RuleNames []string
}

// Apply implements solver.Constraint.
func (c *ForceRulesOn) Apply(tx *solver.TaxSolver) error {
	bk := tx.Backend()
	for _, name := range c.RuleNames {
		r, err := tx.Rule(name)
		if err != nil {
			return err
		}
		if err := bk.AddConstr(
			backend.EQ(backend.VarExpr(r.Active), backend.Constant(1)),
			fmt.Sprintf("force_on_%s", r.Name)); err != nil {
			return err
		}
	}
	return nil
}

// ForceRate pins the rate of the named rules to a fixed value. The rules
// stay free to toggle; combine with ForceRulesOn to fully fix a rule.
type ForceRate struct {
	RuleNames []string
	Rate      float64
}

// Apply implements solver.Constraint.
func (c *ForceRate) Apply(tx *solver.TaxSolver) error {
	bk := tx.Backend()
	for _, name := range c.RuleNames {
		r, err := tx.Rule(name)
		if err != nil {
			return err
		}
		if err := bk.AddConstr(
			backend.EQ(backend.VarExpr(r.Rate), backend.Constant(c.Rate)),
			fmt.Sprintf("force_rate_%s", r.Name)); err != nil {
			return err
		}
	}
	return nil
}

// ForceRuleFamilyOn requires at least one of the named rules to be active.
type ForceRuleFamilyOn struct {
	RuleNames []string
}

// Apply implements solver.Constraint.
func (c *ForceRuleFamilyOn) Apply(tx *solver.TaxSolver) error {
	sum, err := activationSum(tx, c.RuleNames)
	if err != nil {
		return err
	}
	return tx.Backend().AddConstr(
		backend.GE(sum, backend.Constant(1)),
		fmt.Sprintf("force_on_one_of_%s", strings.Join(c.RuleNames, ":")))
}

// MutuallyExclusiveRules allows at most one of the named rules to be active.
type MutuallyExclusiveRules struct {
	RuleNames []string
}

// Apply implements solver.Constraint.
func (c *MutuallyExclusiveRules) Apply(tx *solver.TaxSolver) error {
	sum, err := activationSum(tx, c.RuleNames)
	if err != nil {
		return err
	}
	return tx.Backend().AddConstr(
		backend.LE(sum, backend.Constant(1)),
		fmt.Sprintf("mutually_exclusive_%s", strings.Join(c.RuleNames, ":")))
}

func activationSum(tx *solver.TaxSolver, names []string) (backend.Expr, error) {
	terms := make([]backend.Expr, len(names))
	for i, name := range names {
		r, err := tx.Rule(name)
		if err != nil {
			return backend.Expr{}, err
		}
		terms[i] = backend.VarExpr(r.Active)
	}
	return backend.Sum(terms), nil
}
