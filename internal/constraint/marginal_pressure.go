package constraint

import (
	"fmt"

	"github.com/fiscalworks/taxsolver/internal/backend"
	"github.com/fiscalworks/taxsolver/internal/solver"
)

// MarginalPressure caps the highest marginal rate across the population. It
// introduces a dedicated variable tied to the max of every person's marginal
// rate, so the peak stays inspectable after the solve and objectives can
// price it.
type MarginalPressure struct {
	Limit float64

	highest backend.Var
	applied bool
}

// NewMarginalPressure builds a population-wide marginal pressure cap.
func NewMarginalPressure(limit float64) *MarginalPressure {
	return &MarginalPressure{Limit: limit}
}

// Apply implements solver.Constraint.
func (c *MarginalPressure) Apply(tx *solver.TaxSolver) error {
	bk := tx.Backend()

	highest, err := bk.AddVar("highest_marginal_pressure", 0, 1, backend.Continuous)
	if err != nil {
		return err
	}
	c.highest = highest

	people := tx.People()
	if len(people) == 0 {
		if err := bk.AddConstr(
			backend.EQ(backend.VarExpr(highest), backend.Constant(0)),
			"set_max_marginal_pressure"); err != nil {
			return err
		}
		c.applied = true
		return nil
	}

	rates := make([]backend.Expr, len(people))
	for i, p := range people {
		rates[i] = backend.VarExpr(p.MarginalRate)
	}
	if err := bk.AddMaxConstr(highest, rates, "set_max_marginal_pressure"); err != nil {
		return err
	}

	if err := bk.AddConstr(
		backend.LE(backend.VarExpr(highest), backend.Constant(c.Limit)),
		"set_marginal_pressure_below_max"); err != nil {
		return err
	}

	c.applied = true
	return nil
}

// Applied reports whether Apply has run.
func (c *MarginalPressure) Applied() bool { return c.applied }

// Highest returns the peak marginal-pressure variable, valid after Apply.
func (c *MarginalPressure) Highest() backend.Var { return c.highest }

func (c *MarginalPressure) String() string {
	return fmt.Sprintf("marginal_pressure_constraint_limit_%d", int(c.Limit*100))
}
