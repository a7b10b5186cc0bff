package backend

import (
	"context"
	"fmt"
	"math"
)

// AssignmentEngine replays an externally produced assignment against a model.
// It is the bridge between this model-building core and real solver engines
// run out of process: the model is exported (see WriteLP), solved externally,
// and the resulting variable assignment is verified and applied here. A
// violated constraint makes the replay infeasible, never silently accepted.
type AssignmentEngine struct {
	values     map[string]float64
	violations []string
	Tol        float64
}

// NewAssignmentEngine creates a replay engine for the given variable
// assignment. Variables absent from the assignment default to 0 clamped into
// their bounds.
func NewAssignmentEngine(values map[string]float64) *AssignmentEngine {
	return &AssignmentEngine{values: values, Tol: 1e-4}
}

// Violations lists the constraints the assignment violated in the last
// solve, if any.
func (e *AssignmentEngine) Violations() []string {
	return e.violations
}

// Solve checks the assignment against every row of the model. It returns a
// zero-count solution when the assignment is infeasible.
func (e *AssignmentEngine) Solve(ctx context.Context, m *Model) (*Solution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.violations = nil

	values := make([]float64, len(m.Vars))
	for i, d := range m.Vars {
		v, ok := e.values[d.Name]
		if !ok {
			v = math.Min(math.Max(0, d.LB), d.UB)
		}
		values[i] = v
	}

	for i, d := range m.Vars {
		if values[i] < d.LB-e.Tol || values[i] > d.UB+e.Tol {
			e.violate("bounds %s: %g outside [%g, %g]", d.Name, values[i], d.LB, d.UB)
		}
		if d.Kind != Continuous && math.Abs(values[i]-math.Round(values[i])) > e.Tol {
			e.violate("integrality %s: %g", d.Name, values[i])
		}
	}

	for _, c := range m.Constrs {
		diff, err := m.Eval(c.Diff, values)
		if err != nil {
			return nil, err
		}
		if !c.Satisfied(diff, e.rowTol(m, c.Diff)) {
			e.violate("constraint %s: diff %g %s 0", c.Name, diff, c.Op)
		}
	}

	for _, ind := range m.Indicators {
		active := math.Round(values[ind.Bin.index]) == 1
		if active != ind.Val {
			continue
		}
		diff, err := m.Eval(ind.C.Diff, values)
		if err != nil {
			return nil, err
		}
		if !ind.C.Satisfied(diff, e.rowTol(m, ind.C.Diff)) {
			e.violate("indicator %s: diff %g %s 0", ind.Name, diff, ind.C.Op)
		}
	}

	for _, mc := range m.MaxConstrs {
		best := math.Inf(-1)
		for _, v := range mc.Over {
			best = math.Max(best, values[v.index])
		}
		if len(mc.Over) == 0 {
			best = 0
		}
		if math.Abs(values[mc.Res.index]-best) > e.Tol {
			e.violate("max %s: %g != %g", mc.Name, values[mc.Res.index], best)
		}
	}

	if len(e.violations) > 0 {
		return &Solution{Count: 0}, nil
	}
	return &Solution{Values: values, Count: 1}, nil
}

func (e *AssignmentEngine) violate(format string, args ...any) {
	e.violations = append(e.violations, fmt.Sprintf(format, args...))
}

// rowTol scales the feasibility tolerance with the row's magnitude so wide
// monetary rows are not rejected over float rounding.
func (e *AssignmentEngine) rowTol(m *Model, diff Expr) float64 {
	bound := m.exprBound(diff)
	if math.IsInf(bound, 0) || bound < 1 {
		bound = 1
	}
	return e.Tol * bound
}
