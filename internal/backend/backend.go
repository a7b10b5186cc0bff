package backend

import "context"

// Backend is the uniform model-building contract the solver core talks to.
// Implementations differ in which constructs the underlying engine handles
// natively; capability queries let callers route nonlinear constructs without
// type-checking concrete adapters.
type Backend interface {
	// AddVar creates a variable. Unknown kinds are rejected at call time.
	AddVar(name string, lb, ub float64, kind VarKind) (Var, error)

	// AddConstr registers a linear/affine (in)equality. The name is advisory
	// and may be empty.
	AddConstr(c Constraint, name string) error

	// AddIndicator registers bin == val implies c.
	AddIndicator(bin Var, val bool, c Constraint, name string) error

	// AddMaxConstr registers res == max(over).
	AddMaxConstr(res Var, over []Expr, name string) error

	// SetObjective sets a single scalar objective, replacing any previous one.
	SetObjective(e Expr, sense Sense) error

	// SetObjectiveN registers one level of a prioritized multi-objective.
	SetObjectiveN(e Expr, index, priority int, absTol float64, name string) error

	// Solve runs the engine. A solve that completes without any feasible
	// solution is not an error here; callers check SolutionCount.
	Solve(ctx context.Context) error

	// SolutionCount returns 0 when no feasible solution was found.
	SolutionCount() int

	// VarByName fetches a previously created variable.
	VarByName(name string) (Var, bool)

	// ConstraintByName fetches a previously registered named constraint.
	ConstraintByName(name string) (Constraint, bool)

	// Value returns the optimized value of an expression. Plain constants are
	// returned unchanged even before a solve.
	Value(e Expr) (float64, error)

	// SupportsQuadratic reports whether bilinear constraints are accepted.
	SupportsQuadratic() bool

	// SupportsHierarchicalObjectives reports whether SetObjectiveN works.
	SupportsHierarchicalObjectives() bool

	// Close releases engine resources. The backend is unusable afterwards.
	Close() error
}

// Engine is the opaque solving contract behind a backend adapter. Engines are
// external collaborators; the repository only ships a replay engine that
// verifies externally produced assignments.
type Engine interface {
	Solve(ctx context.Context, m *Model) (*Solution, error)
}
