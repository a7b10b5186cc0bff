package backend

import (
	"context"
	"fmt"

	"github.com/fiscalworks/taxsolver/internal/common"
)

// MIPBackend targets engines with native indicator constraints, generalized
// max constraints, prioritized multi-objectives, and quadratic constraint
// support. Constructs are stored in the model untranslated.
type MIPBackend struct {
	engine   Engine
	model    *Model
	solution *Solution
	closed   bool
}

// NewMIPBackend creates a MIP adapter over the given engine.
func NewMIPBackend(engine Engine) *MIPBackend {
	return &MIPBackend{engine: engine, model: NewModel()}
}

// Model exposes the accumulated model, mainly for export and inspection.
func (b *MIPBackend) Model() *Model { return b.model }

// AddVar creates a variable of the given kind.
func (b *MIPBackend) AddVar(name string, lb, ub float64, kind VarKind) (Var, error) {
	switch kind {
	case Continuous, Integer, Binary:
	default:
		return Var{}, common.NewConfigError(common.ErrInvalidVarKind, "variable kind", fmt.Sprintf("%d", kind))
	}
	return b.model.addVar(name, lb, ub, kind), nil
}

// AddConstr registers a constraint row.
func (b *MIPBackend) AddConstr(c Constraint, name string) error {
	c.Name = name
	b.model.Constrs = append(b.model.Constrs, c)
	return nil
}

// AddIndicator registers a native indicator constraint.
func (b *MIPBackend) AddIndicator(bin Var, val bool, c Constraint, name string) error {
	b.model.Indicators = append(b.model.Indicators, Indicator{Name: name, Bin: bin, Val: val, C: c})
	return nil
}

// AddMaxConstr registers res == max(over). Expressions are routed through
// auxiliary variables so the native max ranges over plain variables.
func (b *MIPBackend) AddMaxConstr(res Var, over []Expr, name string) error {
	aux := make([]Var, len(over))
	for i, e := range over {
		v, err := b.AddVar(fmt.Sprintf("%s_aux_%d", name, i), e.boundedLB(b.model), e.boundedUB(b.model), Continuous)
		if err != nil {
			return err
		}
		if err := b.AddConstr(EQ(VarExpr(v), e), fmt.Sprintf("%s_aux_%d_bind", name, i)); err != nil {
			return err
		}
		aux[i] = v
	}
	b.model.MaxConstrs = append(b.model.MaxConstrs, MaxConstr{Name: name, Res: res, Over: aux})
	return nil
}

// SetObjective sets the scalar objective, replacing any previous objectives.
func (b *MIPBackend) SetObjective(e Expr, sense Sense) error {
	b.model.Objectives = []ObjectiveEntry{{Expr: e, Sense: sense}}
	return nil
}

// SetObjectiveN registers one level of a prioritized multi-objective.
func (b *MIPBackend) SetObjectiveN(e Expr, index, priority int, absTol float64, name string) error {
	b.model.Objectives = append(b.model.Objectives, ObjectiveEntry{
		Name:     name,
		Expr:     e,
		Sense:    Minimize,
		Index:    index,
		Priority: priority,
		AbsTol:   absTol,
		Multi:    true,
	})
	return nil
}

// Solve hands the model to the engine.
func (b *MIPBackend) Solve(ctx context.Context) error {
	sol, err := b.engine.Solve(ctx, b.model)
	if err != nil {
		return fmt.Errorf("engine solve: %w", err)
	}
	b.solution = sol
	return nil
}

// SolutionCount returns the number of feasible solutions found.
func (b *MIPBackend) SolutionCount() int {
	if b.solution == nil {
		return 0
	}
	return b.solution.Count
}

// VarByName fetches a variable handle by name.
func (b *MIPBackend) VarByName(name string) (Var, bool) {
	return b.model.VarByName(name)
}

// ConstraintByName fetches a named constraint.
func (b *MIPBackend) ConstraintByName(name string) (Constraint, bool) {
	return b.model.ConstraintByName(name)
}

// Value evaluates an expression under the engine's solution.
func (b *MIPBackend) Value(e Expr) (float64, error) {
	if e.IsConstant() {
		return e.Const, nil
	}
	if b.solution == nil || b.solution.Count == 0 {
		return 0, common.ErrNotSolved
	}
	return b.model.Eval(e, b.solution.Values)
}

// SupportsQuadratic reports bilinear constraint support.
func (b *MIPBackend) SupportsQuadratic() bool { return true }

// SupportsHierarchicalObjectives reports prioritized objective support.
func (b *MIPBackend) SupportsHierarchicalObjectives() bool { return true }

// Close releases the model.
func (b *MIPBackend) Close() error {
	b.closed = true
	b.model = NewModel()
	b.solution = nil
	return nil
}

// boundedLB returns a finite-or-infinite lower bound for an auxiliary
// variable standing in for e.
func (e Expr) boundedLB(m *Model) float64 {
	bound := m.exprBound(e)
	return -bound
}

func (e Expr) boundedUB(m *Model) float64 {
	return m.exprBound(e)
}
