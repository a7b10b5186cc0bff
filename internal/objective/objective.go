// Package objective implements the optimization goals a solve can pursue.
// Objectives reference applied constraints for their expressions; binding an
// objective whose constraint has not been applied fails with
// ErrObjectiveNotBound.
package objective

import (
	"fmt"

	"github.com/fiscalworks/taxsolver/internal/backend"
	"github.com/fiscalworks/taxsolver/internal/common"
	"github.com/fiscalworks/taxsolver/internal/constraint"
	"github.com/fiscalworks/taxsolver/internal/solver"
)

// Null turns the solve into a pure feasibility problem.
type Null struct{}

// BindAndSet implements solver.Objective.
func (Null) BindAndSet(tx *solver.TaxSolver) error {
	return tx.Backend().SetObjective(backend.Constant(0), backend.Minimize)
}

// Budget minimizes the reformed net expenditures of an applied budget
// constraint.
type Budget struct {
	Budget *constraint.Budget
}

// NewBudget builds a budget-minimizing objective.
func NewBudget(b *constraint.Budget) *Budget {
	return &Budget{Budget: b}
}

// BindAndSet implements solver.Objective.
func (o *Budget) BindAndSet(tx *solver.TaxSolver) error {
	spend, err := spendExpr(o.Budget)
	if err != nil {
		return err
	}
	return tx.Backend().SetObjective(spend, backend.Minimize)
}

// Complexity minimizes the weighted count of active rules.
type Complexity struct{}

// BindAndSet implements solver.Objective.
func (Complexity) BindAndSet(tx *solver.TaxSolver) error {
	return tx.Backend().SetObjective(tx.RuleComplexity(), backend.Minimize)
}

// WeightedMixed folds budget, complexity, and peak marginal pressure into a
// single weighted objective.
type WeightedMixed struct {
	Budget                  *constraint.Budget
	MarginalPressure        *constraint.MarginalPressure
	ComplexityPenalty       float64
	MarginalPressurePenalty float64
}

// NewWeightedMixed builds the weighted objective with the default penalties.
func NewWeightedMixed(b *constraint.Budget, mp *constraint.MarginalPressure) *WeightedMixed {
	return &WeightedMixed{
		Budget:                  b,
		MarginalPressure:        mp,
		ComplexityPenalty:       15,
		MarginalPressurePenalty: 1,
	}
}

// BindAndSet implements solver.Objective.
func (o *WeightedMixed) BindAndSet(tx *solver.TaxSolver) error {
	spend, err := spendExpr(o.Budget)
	if err != nil {
		return err
	}
	pressure, err := pressureExpr(o.MarginalPressure)
	if err != nil {
		return err
	}
	total := spend.
		Plus(tx.RuleComplexity().Scale(o.ComplexityPenalty)).
		Plus(pressure.Scale(o.MarginalPressurePenalty))
	return tx.Backend().SetObjective(total, backend.Minimize)
}

// SequentialMixed optimizes budget, complexity, and marginal pressure as a
// strict hierarchy: each level is optimized to within its absolute tolerance
// before the next one is considered. Every level is registered with the
// backend; backends without hierarchical support reject the first
// registration.
type SequentialMixed struct {
	Budget              *constraint.Budget
	MarginalPressure    *constraint.MarginalPressure
	BudgetTolerance     float64
	ComplexityTolerance float64
}

// NewSequentialMixed builds the hierarchical objective with the default
// tolerances.
func NewSequentialMixed(b *constraint.Budget, mp *constraint.MarginalPressure) *SequentialMixed {
	return &SequentialMixed{
		Budget:              b,
		MarginalPressure:    mp,
		BudgetTolerance:     100,
		ComplexityTolerance: 15,
	}
}

// BindAndSet implements solver.Objective.
func (o *SequentialMixed) BindAndSet(tx *solver.TaxSolver) error {
	spend, err := spendExpr(o.Budget)
	if err != nil {
		return err
	}
	pressure, err := pressureExpr(o.MarginalPressure)
	if err != nil {
		return err
	}

	bk := tx.Backend()
	if err := bk.SetObjectiveN(spend, 0, 3, o.BudgetTolerance, "budget"); err != nil {
		return err
	}
	if err := bk.SetObjectiveN(tx.RuleComplexity(), 1, 2, o.ComplexityTolerance, "complexity"); err != nil {
		return err
	}
	return bk.SetObjectiveN(pressure, 2, 1, 0, "marginal_pressure")
}

// WeightedMixedLaborEffects extends WeightedMixed with a reward for wage
// output growth from the labor participation response.
type WeightedMixedLaborEffects struct {
	Budget                  *constraint.Budget
	MarginalPressure        *constraint.MarginalPressure
	ComplexityPenalty       float64
	MarginalPressurePenalty float64
	LaborEffectsPenalty     float64
}

// NewWeightedMixedLaborEffects builds the labor-aware weighted objective
// with the default penalties. The labor penalty default prices a full
// wage-output shift at 100 x 5000 x 0.4.
func NewWeightedMixedLaborEffects(b *constraint.Budget, mp *constraint.MarginalPressure) *WeightedMixedLaborEffects {
	return &WeightedMixedLaborEffects{
		Budget:                  b,
		MarginalPressure:        mp,
		ComplexityPenalty:       15,
		MarginalPressurePenalty: 1,
		LaborEffectsPenalty:     100 * 5_000 * 0.4,
	}
}

// BindAndSet implements solver.Objective.
func (o *WeightedMixedLaborEffects) BindAndSet(tx *solver.TaxSolver) error {
	spend, err := spendExpr(o.Budget)
	if err != nil {
		return err
	}
	pressure, err := pressureExpr(o.MarginalPressure)
	if err != nil {
		return err
	}
	if tx.WageOutputChange.IsConstant() {
		return fmt.Errorf("labor effects constraint not applied: %w", common.ErrObjectiveNotBound)
	}
	total := spend.
		Plus(tx.RuleComplexity().Scale(o.ComplexityPenalty)).
		Plus(pressure.Scale(o.MarginalPressurePenalty)).
		Minus(tx.WageOutputChange.Scale(o.LaborEffectsPenalty))
	return tx.Backend().SetObjective(total, backend.Minimize)
}

func spendExpr(b *constraint.Budget) (backend.Expr, error) {
	if b == nil || !b.Applied() {
		return backend.Expr{}, fmt.Errorf("budget constraint not applied: %w", common.ErrObjectiveNotBound)
	}
	return b.NewExpenditures(), nil
}

func pressureExpr(mp *constraint.MarginalPressure) (backend.Expr, error) {
	if mp == nil || !mp.Applied() {
		return backend.Expr{}, fmt.Errorf("marginal pressure constraint not applied: %w", common.ErrObjectiveNotBound)
	}
	return backend.VarExpr(mp.Highest()), nil
}
