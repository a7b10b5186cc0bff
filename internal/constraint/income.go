package constraint

import (
	"fmt"

	"github.com/fiscalworks/taxsolver/internal/backend"
	"github.com/fiscalworks/taxsolver/internal/model"
	"github.com/fiscalworks/taxsolver/internal/solver"
)

// Income puts a floor under every household's reformed net income: no
// household may lose more than LossLimit (a fraction) of its status-quo
// after-tax income.
type Income struct {
	LossLimit float64
	// Households restricts the floor to a subset; nil means everyone.
	Households []*model.Household
}

// NewIncome builds an income floor allowing at most the given fractional
// loss per household.
func NewIncome(lossLimit float64) *Income {
	return &Income{LossLimit: lossLimit}
}

// Apply implements solver.Constraint.
func (c *Income) Apply(tx *solver.TaxSolver) error {
	bk := tx.Backend()
	hhs := c.Households
	if hhs == nil {
		hhs = tx.Households()
	}
	for _, hh := range hhs {
		floor := hh.OldIncome() * (1 - c.LossLimit)
		if err := bk.AddConstr(
			backend.GE(hh.NewNetIncome, backend.Constant(floor)),
			fmt.Sprintf("income_constraint_%s", hh.ID)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Income) String() string {
	return fmt.Sprintf("limit_%d_loss", int(c.LossLimit*100))
}
