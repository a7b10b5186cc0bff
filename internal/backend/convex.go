package backend

import (
	"context"
	"fmt"
	"math"

	"github.com/fiscalworks/taxsolver/internal/common"
)

// defaultBigM is the fallback relaxation constant used only when a
// constraint involves an unbounded variable, so no data-derived bound
// exists. A too-small M silently corrupts solutions, which is why bounded
// constraints derive M from the actual variable bounds instead.
const defaultBigM = 1e6

// ConvexBackend targets disciplined-convex engines without native indicator
// or max constraints. Both are lowered into linear rows using big-M
// reformulations before they reach the engine, and prioritized
// multi-objectives are a capability error.
type ConvexBackend struct {
	engine   Engine
	model    *Model
	solution *Solution
	fallback float64
}

// NewConvexBackend creates a convex adapter over the given engine.
func NewConvexBackend(engine Engine) *ConvexBackend {
	return &ConvexBackend{engine: engine, model: NewModel(), fallback: defaultBigM}
}

// Model exposes the accumulated (fully lowered) model.
func (b *ConvexBackend) Model() *Model { return b.model }

// AddVar creates a variable of the given kind.
func (b *ConvexBackend) AddVar(name string, lb, ub float64, kind VarKind) (Var, error) {
	switch kind {
	case Continuous, Integer, Binary:
	default:
		return Var{}, common.NewConfigError(common.ErrInvalidVarKind, "variable kind", fmt.Sprintf("%d", kind))
	}
	return b.model.addVar(name, lb, ub, kind), nil
}

// AddConstr registers a linear constraint row. Bilinear rows are rejected:
// the engine handles quadratic objectives at most, not quadratic constraints.
func (b *ConvexBackend) AddConstr(c Constraint, name string) error {
	if c.Diff.IsQuadratic() {
		return fmt.Errorf("quadratic constraint %q: %w", name, common.ErrUnsupported)
	}
	c.Name = name
	b.model.Constrs = append(b.model.Constrs, c)
	return nil
}

// AddIndicator lowers bin == val implies c into big-M rows. M is derived
// per constraint from the involved variables' bounds so it never binds in a
// feasible solution; the fixed fallback is used only for unbounded rows.
func (b *ConvexBackend) AddIndicator(bin Var, val bool, c Constraint, name string) error {
	if c.Diff.IsQuadratic() {
		return fmt.Errorf("quadratic indicator %q: %w", name, common.ErrUnsupported)
	}

	m := b.bigMFor(c.Diff, name)

	// relax = M*(1-bin) when val is true, M*bin otherwise: the slack that
	// frees the row when the indicator is not in its triggering state.
	var relax Expr
	if val {
		relax = Constant(m).Minus(VarExpr(bin).Scale(m))
	} else {
		relax = VarExpr(bin).Scale(m)
	}

	diff := c.Diff
	switch c.Op {
	case OpEQ:
		if err := b.AddConstr(LE(diff, relax), name+"_ub"); err != nil {
			return err
		}
		return b.AddConstr(GE(diff, relax.Scale(-1)), name+"_lb")
	case OpLE:
		return b.AddConstr(LE(diff, relax), name)
	case OpGE:
		return b.AddConstr(GE(diff, relax.Scale(-1)), name)
	}
	return fmt.Errorf("indicator %q: unknown operator", name)
}

// AddMaxConstr lowers res == max(over) into one-binary-per-candidate
// selection rows.
func (b *ConvexBackend) AddMaxConstr(res Var, over []Expr, name string) error {
	if len(over) == 0 {
		return b.AddConstr(EQ(VarExpr(res), Constant(0)), name)
	}

	bins := make([]Expr, len(over))
	for i, e := range over {
		bv, err := b.AddVar(fmt.Sprintf("%s_b_%d", name, i), 0, 1, Binary)
		if err != nil {
			return err
		}
		bins[i] = VarExpr(bv)

		if err := b.AddConstr(GE(VarExpr(res), e), fmt.Sprintf("%s_ge_%d", name, i)); err != nil {
			return err
		}

		m := b.bigMFor(VarExpr(res).Minus(e), name)
		slack := Constant(m).Minus(bins[i].Scale(m))
		if err := b.AddConstr(LE(VarExpr(res), e.Plus(slack)), fmt.Sprintf("%s_le_%d", name, i)); err != nil {
			return err
		}
	}
	return b.AddConstr(EQ(Sum(bins), Constant(1)), name+"_pick")
}

// SetObjective sets the scalar objective. Quadratic objectives are allowed:
// convex engines handle QP objectives even without quadratic constraints.
func (b *ConvexBackend) SetObjective(e Expr, sense Sense) error {
	b.model.Objectives = []ObjectiveEntry{{Expr: e, Sense: sense}}
	return nil
}

// SetObjectiveN is not available on convex engines.
func (b *ConvexBackend) SetObjectiveN(_ Expr, _, _ int, _ float64, name string) error {
	return fmt.Errorf("prioritized objective %q: %w", name, common.ErrUnsupported)
}

// Solve hands the lowered model to the engine.
func (b *ConvexBackend) Solve(ctx context.Context) error {
	sol, err := b.engine.Solve(ctx, b.model)
	if err != nil {
		return fmt.Errorf("engine solve: %w", err)
	}
	b.solution = sol
	return nil
}

// SolutionCount returns the number of feasible solutions found.
func (b *ConvexBackend) SolutionCount() int {
	if b.solution == nil {
		return 0
	}
	return b.solution.Count
}

// VarByName fetches a variable handle by name.
func (b *ConvexBackend) VarByName(name string) (Var, bool) {
	return b.model.VarByName(name)
}

// ConstraintByName fetches a named constraint.
func (b *ConvexBackend) ConstraintByName(name string) (Constraint, bool) {
	return b.model.ConstraintByName(name)
}

// Value evaluates an expression under the engine's solution.
func (b *ConvexBackend) Value(e Expr) (float64, error) {
	if e.IsConstant() {
		return e.Const, nil
	}
	if b.solution == nil || b.solution.Count == 0 {
		return 0, common.ErrNotSolved
	}
	return b.model.Eval(e, b.solution.Values)
}

// SupportsQuadratic reports bilinear constraint support.
func (b *ConvexBackend) SupportsQuadratic() bool { return false }

// SupportsHierarchicalObjectives reports prioritized objective support.
func (b *ConvexBackend) SupportsHierarchicalObjectives() bool { return false }

// Close releases the model.
func (b *ConvexBackend) Close() error {
	b.model = NewModel()
	b.solution = nil
	return nil
}

func (b *ConvexBackend) bigMFor(diff Expr, name string) float64 {
	bound := b.model.exprBound(diff)
	if math.IsInf(bound, 0) {
		common.LogWarn("unbounded constraint in big-M reformulation, using fallback M",
			common.Fields{"constraint": name, "fallback": b.fallback})
		return b.fallback
	}
	if bound == 0 {
		return 1
	}
	return bound
}
