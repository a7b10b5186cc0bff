package backend

import (
	"fmt"
	"math"
	"strings"

	"github.com/fiscalworks/taxsolver/internal/common"
)

// VarKind identifies the domain of a model variable.
type VarKind int

// Variable kinds.
const (
	Continuous VarKind = iota
	Integer
	Binary
)

func (k VarKind) String() string {
	switch k {
	case Continuous:
		return "continuous"
	case Integer:
		return "integer"
	case Binary:
		return "binary"
	}
	return "unknown"
}

// ParseVarKind maps a kind string to a VarKind. Short aliases follow the
// usual solver conventions (c/i/b).
func ParseVarKind(s string) (VarKind, error) {
	switch strings.ToLower(s) {
	case "continuous", "c":
		return Continuous, nil
	case "integer", "i":
		return Integer, nil
	case "binary", "b":
		return Binary, nil
	}
	return 0, common.NewConfigError(common.ErrInvalidVarKind, "variable kind", s)
}

// Sense is an objective direction.
type Sense int

// Objective senses.
const (
	Minimize Sense = iota
	Maximize
)

// ParseSense maps a sense string to a Sense.
func ParseSense(s string) (Sense, error) {
	switch strings.ToLower(s) {
	case "minimize", "min":
		return Minimize, nil
	case "maximize", "max":
		return Maximize, nil
	}
	return 0, common.NewConfigError(common.ErrInvalidSense, "objective sense", s)
}

// VarDef describes one variable in the model arena.
type VarDef struct {
	Name string
	LB   float64
	UB   float64
	Kind VarKind
}

// Indicator is a native conditional constraint: Bin == Val implies C.
type Indicator struct {
	Name string
	Bin  Var
	Val  bool
	C    Constraint
}

// MaxConstr is a native generalized max constraint: Res == max(Over).
type MaxConstr struct {
	Name string
	Res  Var
	Over []Var
}

// ObjectiveEntry is a single or prioritized objective registered with the
// model.
type ObjectiveEntry struct {
	Name     string
	Expr     Expr
	Sense    Sense
	Index    int
	Priority int
	AbsTol   float64
	Multi    bool
}

// Model is the shared arena both adapters build into. Native indicator and
// max entries are only populated by adapters whose engine supports them; the
// convex adapter lowers both into Constrs before they reach the engine.
type Model struct {
	varsByName map[string]Var
	Vars       []VarDef
	Constrs    []Constraint
	Indicators []Indicator
	MaxConstrs []MaxConstr
	Objectives []ObjectiveEntry
}

// NewModel creates an empty model arena.
func NewModel() *Model {
	return &Model{varsByName: make(map[string]Var)}
}

func (m *Model) addVar(name string, lb, ub float64, kind VarKind) Var {
	v := Var{index: len(m.Vars)}
	m.Vars = append(m.Vars, VarDef{Name: name, LB: lb, UB: ub, Kind: kind})
	m.varsByName[name] = v
	return v
}

// VarByName looks up a variable handle by name.
func (m *Model) VarByName(name string) (Var, bool) {
	v, ok := m.varsByName[name]
	return v, ok
}

// Def returns the definition of a variable.
func (m *Model) Def(v Var) VarDef {
	return m.Vars[v.index]
}

// ConstraintByName returns the first named constraint matching name.
func (m *Model) ConstraintByName(name string) (Constraint, bool) {
	for _, c := range m.Constrs {
		if c.Name == name {
			return c, true
		}
	}
	return Constraint{}, false
}

// Eval computes the value of an expression under a full variable assignment.
func (m *Model) Eval(e Expr, values []float64) (float64, error) {
	if len(values) < len(m.Vars) {
		return 0, fmt.Errorf("assignment covers %d of %d variables", len(values), len(m.Vars))
	}
	out := e.Const
	for _, t := range e.Terms {
		out += t.Coef * values[t.Var.index]
	}
	for _, q := range e.Quads {
		out += q.Coef * values[q.X.index] * values[q.Y.index]
	}
	return out, nil
}

// exprBound returns an upper bound on |e| derived from the variable bounds.
// Returns +Inf when any involved bound is unbounded.
func (m *Model) exprBound(e Expr) float64 {
	bound := math.Abs(e.Const)
	for _, t := range e.Terms {
		d := m.Vars[t.Var.index]
		mag := math.Max(math.Abs(d.LB), math.Abs(d.UB))
		if math.IsInf(mag, 0) {
			return math.Inf(1)
		}
		bound += math.Abs(t.Coef) * mag
	}
	for _, q := range e.Quads {
		dx, dy := m.Vars[q.X.index], m.Vars[q.Y.index]
		mx := math.Max(math.Abs(dx.LB), math.Abs(dx.UB))
		my := math.Max(math.Abs(dy.LB), math.Abs(dy.UB))
		if math.IsInf(mx, 0) || math.IsInf(my, 0) {
			return math.Inf(1)
		}
		bound += math.Abs(q.Coef) * mx * my
	}
	return bound
}

// Solution holds the optimized assignment produced by an engine.
type Solution struct {
	Values []float64
	Count  int
}
