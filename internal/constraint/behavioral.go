package constraint

import (
	"fmt"
	"math"

	"github.com/fiscalworks/taxsolver/internal/backend"
	"github.com/fiscalworks/taxsolver/internal/common"
	"github.com/fiscalworks/taxsolver/internal/solver"
)

// BehavioralEffects models the labor-supply response to marginal rate
// changes: income shifts by elasticity x (old marginal rate - new marginal
// rate) x income, and the shifted income is taxed at the new marginal rate.
// Both effects fold into the person and household expressions, so they flow
// through budget and income constraints automatically.
//
// Register this before Budget and Income: those constraints snapshot the
// person and household expressions when they apply.
//
// On quadratic backends the tax on the shifted income is exact (income
// change x new marginal rate, a bilinear term); otherwise it is valued at
// the status-quo marginal rate.
type BehavioralEffects struct {
	// Elasticity overrides the per-person elasticity column when non-nil.
	Elasticity *float64
}

// NewBehavioralEffects builds the behavioral response using each person's
// own elasticity column.
func NewBehavioralEffects() *BehavioralEffects {
	return &BehavioralEffects{}
}

// NewBehavioralEffectsWithElasticity builds the behavioral response with a
// single population-wide elasticity.
func NewBehavioralEffectsWithElasticity(elasticity float64) *BehavioralEffects {
	return &BehavioralEffects{Elasticity: &elasticity}
}

// Apply implements solver.Constraint.
func (c *BehavioralEffects) Apply(tx *solver.TaxSolver) error {
	bk := tx.Backend()
	quadratic := bk.SupportsQuadratic()
	if quadratic {
		common.LogInfo("behavioral effects use exact quadratic constraints", nil)
	} else {
		common.LogInfo("behavioral effects linearized at status-quo marginal rate", nil)
	}

	for _, p := range tx.People() {
		elasticity := p.Data["elasticity"]
		if c.Elasticity != nil {
			elasticity = *c.Elasticity
		}
		if elasticity == 0 {
			p.BehavioralIncomeChange = backend.Constant(0)
			p.BehavioralTaxEffect = backend.Constant(0)
			p.NetBehavioralEffect = backend.Constant(0)
			continue
		}

		income, err := p.Value("income_before_tax")
		if err != nil {
			return err
		}
		oldRate := p.Data["marginal_rate_current"]

		// elasticity * (old - new) * income, linear in the rate variable.
		change := backend.Constant(elasticity * oldRate * income).
			Minus(backend.VarExpr(p.MarginalRate).Scale(elasticity * income))

		taxVar, err := bk.AddVar(fmt.Sprintf("behavioral_tax_effect_%s", p.ID),
			math.Inf(-1), math.Inf(1), backend.Continuous)
		if err != nil {
			return err
		}
		netVar, err := bk.AddVar(fmt.Sprintf("net_behavioral_effect_%s", p.ID),
			math.Inf(-1), math.Inf(1), backend.Continuous)
		if err != nil {
			return err
		}

		if quadratic {
			taxed, err := backend.Mul(change, backend.VarExpr(p.MarginalRate))
			if err != nil {
				return err
			}
			if err := bk.AddConstr(
				backend.EQ(backend.VarExpr(taxVar), taxed),
				fmt.Sprintf("behavioral_tax_quadratic_%s", p.ID)); err != nil {
				return err
			}
			net, err := backend.Mul(change, backend.Constant(1).Minus(backend.VarExpr(p.MarginalRate)))
			if err != nil {
				return err
			}
			if err := bk.AddConstr(
				backend.EQ(backend.VarExpr(netVar), net),
				fmt.Sprintf("net_behavioral_quadratic_%s", p.ID)); err != nil {
				return err
			}
		} else {
			if err := bk.AddConstr(
				backend.EQ(backend.VarExpr(taxVar), change.Scale(oldRate)),
				fmt.Sprintf("behavioral_tax_linear_approx_%s", p.ID)); err != nil {
				return err
			}
			if err := bk.AddConstr(
				backend.EQ(backend.VarExpr(netVar), change.Scale(1-oldRate)),
				fmt.Sprintf("net_behavioral_linear_approx_%s", p.ID)); err != nil {
				return err
			}
		}

		p.BehavioralIncomeChange = change
		p.BehavioralTaxEffect = backend.VarExpr(taxVar)
		p.NetBehavioralEffect = backend.VarExpr(netVar)

		p.NewNetIncome = p.NewNetIncome.Plus(p.NetBehavioralEffect)
		p.TaxBalance = p.TaxBalance.Minus(p.BehavioralTaxEffect)
		p.WeightedTaxBalance = p.TaxBalance.Scale(p.Weight())
	}

	// Household incomes were derived before the fold; rebuild them.
	for _, hh := range tx.Households() {
		incomes := make([]backend.Expr, len(hh.Members))
		for i, m := range hh.Members {
			incomes[i] = m.NewNetIncome
		}
		hh.NewNetIncome = backend.Sum(incomes).Plus(hh.Benefits)
	}
	return nil
}
