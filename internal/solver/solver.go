// Package solver owns the full model lifecycle: it registers households,
// binds rules, runs the two-phase variable-update pass, applies constraints,
// binds the objective, invokes the backend, and exposes the solved rule/rate
// table.
package solver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/fiscalworks/taxsolver/internal/backend"
	"github.com/fiscalworks/taxsolver/internal/common"
	"github.com/fiscalworks/taxsolver/internal/model"
	"github.com/fiscalworks/taxsolver/internal/rule"
)

// Constraint is a policy-level invariant applied once the full rule set is
// bound and all derived person/household expressions exist.
type Constraint interface {
	Apply(tx *TaxSolver) error
}

// Objective binds to exactly one solver and sets the backend objective.
type Objective interface {
	BindAndSet(tx *TaxSolver) error
}

// TaxSolver is the top-level aggregate. Rules and constraints accumulate via
// the registration calls; Solve is the single transition from model under
// construction to solved. A solved system is reporting-only.
type TaxSolver struct {
	bk          backend.Backend
	households  map[string]*model.Household
	objective   Objective
	Name        string
	hhOrder     []string
	rules       []*rule.Rule
	constraints []Constraint
	built       bool
	solved      bool

	// WageOutputChange is set by the labor-effects constraint and consumed
	// by objectives that price labor supply.
	WageOutputChange backend.Expr
}

// New constructs a solver over the given households and backend, asserting
// global id uniqueness and registering per-person solver variables.
func New(households map[string]*model.Household, bk backend.Backend, name string) (*TaxSolver, error) {
	if err := checkUniqueIDs(households); err != nil {
		return nil, err
	}

	tx := &TaxSolver{
		bk:         bk,
		households: households,
		Name:       name,
	}
	for id := range households {
		tx.hhOrder = append(tx.hhOrder, id)
	}
	sort.Strings(tx.hhOrder)

	for _, id := range tx.hhOrder {
		if err := households[id].CreateSolverVariables(bk); err != nil {
			return nil, err
		}
	}
	return tx, nil
}

func checkUniqueIDs(households map[string]*model.Household) error {
	seen := make(map[string]struct{})
	add := func(id string) error {
		if id == "" {
			return common.NewConfigError(common.ErrDuplicateID, "id", "(empty)")
		}
		if _, ok := seen[id]; ok {
			return common.NewConfigError(common.ErrDuplicateID, "id", id)
		}
		seen[id] = struct{}{}
		return nil
	}
	for _, hh := range households {
		if err := add(hh.ID); err != nil {
			return err
		}
		for _, p := range hh.Members {
			if err := add(p.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// Backend exposes the backend for constraints and objectives.
func (tx *TaxSolver) Backend() backend.Backend { return tx.bk }

// Households returns the registered households in deterministic id order.
func (tx *TaxSolver) Households() []*model.Household {
	out := make([]*model.Household, len(tx.hhOrder))
	for i, id := range tx.hhOrder {
		out[i] = tx.households[id]
	}
	return out
}

// Household looks up a household by id.
func (tx *TaxSolver) Household(id string) (*model.Household, bool) {
	hh, ok := tx.households[id]
	return hh, ok
}

// People returns every person in deterministic order (household id, then
// member order).
func (tx *TaxSolver) People() []*model.Person {
	var out []*model.Person
	for _, id := range tx.hhOrder {
		out = append(out, tx.households[id].Members...)
	}
	return out
}

// PeopleWithLaborEffects returns the persons carrying an initial
// labor-effect weight.
func (tx *TaxSolver) PeopleWithLaborEffects() []*model.Person {
	var out []*model.Person
	for _, p := range tx.People() {
		if p.InitLaborEffectWeight != nil {
			out = append(out, p)
		}
	}
	return out
}

// Inputs lists the input column names rules may target, taken from the first
// person's record: the income columns plus every i_ prefixed input.
func (tx *TaxSolver) Inputs() []string {
	if len(tx.hhOrder) == 0 {
		return nil
	}
	first := tx.households[tx.hhOrder[0]].FirstMember()
	var out []string
	for col := range first.Data {
		if strings.HasPrefix(col, "income_before_tax") ||
			strings.HasPrefix(col, "household_income_before_tax") ||
			strings.HasPrefix(col, "i_") {
			out = append(out, col)
		}
	}
	sort.Strings(out)
	return out
}

// Groups lists the k_ prefixed group indicator columns.
func (tx *TaxSolver) Groups() []string {
	if len(tx.hhOrder) == 0 {
		return nil
	}
	first := tx.households[tx.hhOrder[0]].FirstMember()
	var out []string
	for col := range first.Data {
		if strings.HasPrefix(col, "k_") {
			out = append(out, col)
		}
	}
	sort.Strings(out)
	return out
}

// AddRules binds every policy unit to the backend. Composite bracket rules
// expand into their children, which join the rule list individually.
func (tx *TaxSolver) AddRules(binders ...rule.Binder) error {
	inputs := tx.Inputs()
	for _, b := range binders {
		bound, err := b.BindRules(tx.bk, inputs)
		if err != nil {
			return err
		}
		tx.rules = append(tx.rules, bound...)
	}
	return nil
}

// AddConstraints registers constraints for application during Solve.
func (tx *TaxSolver) AddConstraints(cs ...Constraint) {
	tx.constraints = append(tx.constraints, cs...)
}

// AddObjective sets the objective strategy used at solve time.
func (tx *TaxSolver) AddObjective(o Objective) {
	tx.objective = o
}

// Rules returns the bound rules, bracket children included.
func (tx *TaxSolver) Rules() []*rule.Rule { return tx.rules }

// Rule looks up a bound rule by name.
func (tx *TaxSolver) Rule(name string) (*rule.Rule, error) {
	for _, r := range tx.rules {
		if r.Name == name {
			return r, nil
		}
	}
	return nil, common.NewConfigError(common.ErrRuleNotFound, "rule", name)
}

// RuleComplexity returns the weighted sum of rule-activation indicators,
// the system-simplicity signal objectives minimize.
func (tx *TaxSolver) RuleComplexity() backend.Expr {
	terms := make([]backend.Expr, len(tx.rules))
	for i, r := range tx.rules {
		terms[i] = backend.VarExpr(r.Active).Scale(r.Weight)
	}
	return backend.Sum(terms)
}

// Build runs the model-construction pipeline without solving: person
// updates, household updates, constraint application, and objective binding.
// After Build the backend holds the complete model, ready for export or for
// Solve.
func (tx *TaxSolver) Build() error {
	if tx.objective == nil {
		return common.ErrObjectiveNotSet
	}
	if tx.built {
		return fmt.Errorf("solver %s: already built", tx.Name)
	}

	contributors := make([]model.Contributor, len(tx.rules))
	for i, r := range tx.rules {
		contributors[i] = r
	}

	for _, p := range tx.People() {
		if err := p.UpdateSolverVariables(tx.bk, contributors); err != nil {
			return err
		}
	}
	for _, hh := range tx.Households() {
		if err := hh.UpdateSolverVariables(tx.bk, contributors); err != nil {
			return err
		}
	}

	for _, c := range tx.constraints {
		if err := c.Apply(tx); err != nil {
			return err
		}
	}

	if err := tx.objective.BindAndSet(tx); err != nil {
		return err
	}

	tx.built = true
	return nil
}

// Solve builds the model if needed and runs the backend. A solve with zero
// feasible solutions fails with ErrInfeasible and leaves the system
// unsolved.
func (tx *TaxSolver) Solve(ctx context.Context) error {
	if tx.solved {
		return fmt.Errorf("solver %s: already solved", tx.Name)
	}
	if !tx.built {
		if err := tx.Build(); err != nil {
			return err
		}
	}

	slog.Info("solving tax model", "name", tx.Name, "rules", len(tx.rules), "households", len(tx.hhOrder))
	if err := tx.bk.Solve(ctx); err != nil {
		return err
	}
	if tx.bk.SolutionCount() == 0 {
		return common.ErrInfeasible
	}

	tx.solved = true
	slog.Info("found feasible solution", "name", tx.Name)
	return nil
}

// Solved reports whether Solve completed successfully.
func (tx *TaxSolver) Solved() bool { return tx.solved }

// Close releases backend resources.
func (tx *TaxSolver) Close() error {
	return tx.bk.Close()
}

// RuleRate is one row of the solved rule/rate table.
type RuleRate struct {
	Name    string
	Kind    string
	VarName string
	Rate    float64
	Active  int
	Weight  float64
}

// RulesAndRatesTable returns the solved rule/rate table, the structured
// artifact reporting builds on.
func (tx *TaxSolver) RulesAndRatesTable() ([]RuleRate, error) {
	if !tx.solved {
		return nil, common.ErrNotSolved
	}
	out := make([]RuleRate, 0, len(tx.rules))
	for _, r := range tx.rules {
		rate, err := tx.bk.Value(backend.VarExpr(r.Rate))
		if err != nil {
			return nil, err
		}
		active, err := tx.bk.Value(backend.VarExpr(r.Active))
		if err != nil {
			return nil, err
		}
		b := 0
		if active > 0.5 {
			b = 1
		}
		out = append(out, RuleRate{
			Name:    r.Name,
			Kind:    r.Kind.String(),
			VarName: r.VarName(),
			Rate:    rate,
			Active:  b,
			Weight:  r.Weight,
		})
	}
	return out, nil
}
