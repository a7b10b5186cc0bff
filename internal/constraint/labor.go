package constraint

import (
	"fmt"
	"math"

	"github.com/fiscalworks/taxsolver/internal/backend"
	"github.com/fiscalworks/taxsolver/internal/common"
	"github.com/fiscalworks/taxsolver/internal/solver"
)

// incomeGuard is added to household incomes before dividing, preventing
// division by zero and runaway participation effects for tiny incomes.
const incomeGuard = 10_000

// LaborEffects models the participation margin: each flexible person has a
// mirror counterfactual (working or not working), and population weight
// shifts between the two in proportion to how much more attractive working
// becomes under the reform. The aggregate shift surfaces as a wage-output
// change variable objectives can price.
//
// The income-increase factor is defined through a product of the household
// income expression and the factor variable, so a quadratic backend is
// required.
type LaborEffects struct {
	sqWageOutput     float64
	newWageOutput    backend.Var
	wageOutputChange backend.Var
	applied          bool
}

// NewLaborEffects builds the labor participation response.
func NewLaborEffects() *LaborEffects {
	return &LaborEffects{}
}

// Apply implements solver.Constraint.
func (c *LaborEffects) Apply(tx *solver.TaxSolver) error {
	bk := tx.Backend()
	if !bk.SupportsQuadratic() {
		return fmt.Errorf("labor effects need quadratic constraints: %w", common.ErrUnsupported)
	}

	flexible := tx.PeopleWithLaborEffects()
	for _, p := range flexible {
		c.sqWageOutput += p.Data["income_before_tax"] * *p.InitLaborEffectWeight
	}

	var err error
	if c.newWageOutput, err = bk.AddVar("new_wage_output", 0, c.sqWageOutput*2, backend.Continuous); err != nil {
		return err
	}
	if c.wageOutputChange, err = bk.AddVar("wage_output_change", -1, 1, backend.Continuous); err != nil {
		return err
	}

	// new_wage_output == (1 + wage_output_change) * sq_wage_output
	if err := bk.AddConstr(
		backend.EQ(
			backend.VarExpr(c.newWageOutput),
			backend.Constant(c.sqWageOutput).Plus(backend.VarExpr(c.wageOutputChange).Scale(c.sqWageOutput))),
		"calc_wage_output_change"); err != nil {
		return err
	}

	for _, hh := range tx.Households() {
		mirror := hh.Mirror
		if mirror == nil {
			continue
		}
		if len(mirror.Members) != len(hh.Members) {
			return fmt.Errorf("household %s and mirror %s differ in size", hh.ID, mirror.ID)
		}

		sqHHIncome := hh.OldIncome() + incomeGuard

		for i, p := range hh.Members {
			mp := mirror.Members[i]

			if err := p.CreateLaborEffectsVariables(bk); err != nil {
				return err
			}
			if err := mp.CreateLaborEffectsVariables(bk); err != nil {
				return err
			}

			if p.InitLaborEffectWeight == nil {
				p.NewLaborEffectsWeight = backend.Constant(0)
				mp.NewLaborEffectsWeight = backend.Constant(0)
				continue
			}
			initWeight := *p.InitLaborEffectWeight

			elasticity, err := p.Value("elasticity")
			if err != nil {
				return err
			}

			// Status-quo participation premium for this person.
			sqIncrease := mp.Data["income_after_tax"] - p.Data["income_after_tax"]
			p.OldIncomeIncreaseFactor = (sqHHIncome + sqIncrease) / sqHHIncome
			if p.OldIncomeIncreaseFactor > 10 {
				common.LogWarn("old income increase factor above 10", common.Fields{
					"person": p.ID,
					"factor": p.OldIncomeIncreaseFactor,
				})
			}

			if err := bk.AddConstr(
				backend.EQ(backend.VarExpr(p.NewIncomeIncrease), mp.NewNetIncome.Minus(p.NewNetIncome)),
				fmt.Sprintf("new_income_increase_%s", p.ID)); err != nil {
				return err
			}

			// (guard + hh_income) * factor == guard + hh_income + increase,
			// the division-free form of factor = 1 + increase / (guard + hh_income).
			guarded := backend.Constant(incomeGuard).Plus(hh.NewNetIncome)
			lhs, err := backend.Mul(guarded, backend.VarExpr(p.NewIncomeIncreaseFactor))
			if err != nil {
				return err
			}
			if err := bk.AddConstr(
				backend.EQ(lhs, guarded.Plus(backend.VarExpr(p.NewIncomeIncrease))),
				fmt.Sprintf("new_income_increase_factor_%s", p.ID)); err != nil {
				return err
			}

			if err := bk.AddConstr(
				backend.EQ(
					backend.VarExpr(p.ChangeInIncomeIncreaseFactor),
					backend.VarExpr(p.NewIncomeIncreaseFactor).Minus(backend.Constant(p.OldIncomeIncreaseFactor))),
				fmt.Sprintf("new_participation_benefit_%s", p.ID)); err != nil {
				return err
			}

			if err := bk.AddConstr(
				backend.EQ(
					backend.VarExpr(p.WeightPercentageChange),
					backend.VarExpr(p.ChangeInIncomeIncreaseFactor).Scale(elasticity)),
				fmt.Sprintf("calc_weight_percentage_change_%s", p.ID)); err != nil {
				return err
			}

			// Weight shifts from the non-working state to the working mirror.
			if err := bk.AddConstr(
				backend.EQ(
					p.NewLaborEffectsWeight,
					backend.Constant(initWeight).Minus(backend.VarExpr(p.WeightPercentageChange).Scale(initWeight))),
				fmt.Sprintf("calc_adjusted_labor_effects_weight_%s", p.ID)); err != nil {
				return err
			}
			if err := bk.AddConstr(
				backend.EQ(
					mp.NewLaborEffectsWeight,
					backend.VarExpr(p.WeightPercentageChange).Scale(initWeight)),
				fmt.Sprintf("calc_adjusted_labor_effects_weight_%s", mp.ID)); err != nil {
				return err
			}

			extra, err := bk.AddVar(fmt.Sprintf("additional_pretax_income_%s", p.ID),
				math.Inf(-1), math.Inf(1), backend.Continuous)
			if err != nil {
				return err
			}
			if err := bk.AddConstr(
				backend.EQ(
					backend.VarExpr(extra),
					mp.NewLaborEffectsWeight.Scale(mp.Data["income_before_tax"]).
						Minus(p.NewLaborEffectsWeight.Scale(p.Data["income_before_tax"]))),
				fmt.Sprintf("calc_additional_pretax_income_%s", p.ID)); err != nil {
				return err
			}
		}
	}

	outputs := make([]backend.Expr, len(flexible))
	for i, p := range flexible {
		outputs[i] = p.NewLaborEffectsWeight.Scale(p.Data["income_before_tax"])
	}
	if err := bk.AddConstr(
		backend.EQ(backend.VarExpr(c.newWageOutput), backend.Sum(outputs)),
		"calc_new_wage_output"); err != nil {
		return err
	}

	tx.WageOutputChange = backend.VarExpr(c.wageOutputChange)
	c.applied = true
	return nil
}

// Applied reports whether Apply has run.
func (c *LaborEffects) Applied() bool { return c.applied }

// SqWageOutput returns the status-quo wage output, valid after Apply.
func (c *LaborEffects) SqWageOutput() float64 { return c.sqWageOutput }

// WageOutputChange returns the relative wage-output change variable, valid
// after Apply.
func (c *LaborEffects) WageOutputChange() backend.Var { return c.wageOutputChange }
