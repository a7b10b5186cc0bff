// Package backend provides a uniform model-building interface over
// mathematical-programming engines. It exposes an expression IR, a model
// arena, and two adapter implementations: one for engines with native
// indicator/max constraints and prioritized objectives, and one for convex
// engines that need big-M reformulations of both.
package backend

import (
	"fmt"
	"math"
	"sort"
)

// Var is an opaque handle to a model variable.
type Var struct {
	index int
}

// Index returns the position of the variable in its model.
func (v Var) Index() int { return v.index }

// Term is a linear term coef * var.
type Term struct {
	Var  Var
	Coef float64
}

// QuadTerm is a bilinear term coef * x * y.
type QuadTerm struct {
	X    Var
	Y    Var
	Coef float64
}

// Expr is an affine or quadratic expression over model variables. The zero
// value is the empty expression (constant 0), which is a valid starting
// accumulator.
type Expr struct {
	Const float64
	Terms []Term
	Quads []QuadTerm
}

// Constant returns an expression holding only a constant.
func Constant(c float64) Expr {
	return Expr{Const: c}
}

// VarExpr returns an expression holding a single variable.
func VarExpr(v Var) Expr {
	return Expr{Terms: []Term{{Var: v, Coef: 1}}}
}

// IsConstant reports whether the expression has no variable terms.
func (e Expr) IsConstant() bool {
	return len(e.Terms) == 0 && len(e.Quads) == 0
}

// IsQuadratic reports whether the expression carries bilinear terms.
func (e Expr) IsQuadratic() bool {
	return len(e.Quads) > 0
}

// Plus returns e + o.
func (e Expr) Plus(o Expr) Expr {
	out := Expr{
		Const: e.Const + o.Const,
		Terms: make([]Term, 0, len(e.Terms)+len(o.Terms)),
		Quads: make([]QuadTerm, 0, len(e.Quads)+len(o.Quads)),
	}
	out.Terms = append(out.Terms, e.Terms...)
	out.Terms = append(out.Terms, o.Terms...)
	out.Quads = append(out.Quads, e.Quads...)
	out.Quads = append(out.Quads, o.Quads...)
	return out.normalize()
}

// Minus returns e - o.
func (e Expr) Minus(o Expr) Expr {
	return e.Plus(o.Scale(-1))
}

// Scale returns k * e.
func (e Expr) Scale(k float64) Expr {
	out := Expr{
		Const: e.Const * k,
		Terms: make([]Term, len(e.Terms)),
		Quads: make([]QuadTerm, len(e.Quads)),
	}
	for i, t := range e.Terms {
		out.Terms[i] = Term{Var: t.Var, Coef: t.Coef * k}
	}
	for i, q := range e.Quads {
		out.Quads[i] = QuadTerm{X: q.X, Y: q.Y, Coef: q.Coef * k}
	}
	return out.normalize()
}

// Mul returns e * o. The product must be at most bilinear: multiplying two
// expressions that both carry variable terms produces quadratic terms, and
// multiplying anything by an already-quadratic expression fails.
func Mul(a, b Expr) (Expr, error) {
	if a.IsQuadratic() && !b.IsConstant() {
		return Expr{}, fmt.Errorf("product exceeds bilinear degree")
	}
	if b.IsQuadratic() && !a.IsConstant() {
		return Expr{}, fmt.Errorf("product exceeds bilinear degree")
	}

	out := Expr{Const: a.Const * b.Const}
	for _, t := range a.Terms {
		out.Terms = append(out.Terms, Term{Var: t.Var, Coef: t.Coef * b.Const})
	}
	for _, t := range b.Terms {
		out.Terms = append(out.Terms, Term{Var: t.Var, Coef: t.Coef * a.Const})
	}
	for _, q := range a.Quads {
		out.Quads = append(out.Quads, QuadTerm{X: q.X, Y: q.Y, Coef: q.Coef * b.Const})
	}
	for _, q := range b.Quads {
		out.Quads = append(out.Quads, QuadTerm{X: q.X, Y: q.Y, Coef: q.Coef * a.Const})
	}
	for _, ta := range a.Terms {
		for _, tb := range b.Terms {
			out.Quads = append(out.Quads, QuadTerm{X: ta.Var, Y: tb.Var, Coef: ta.Coef * tb.Coef})
		}
	}
	return out.normalize(), nil
}

// Sum adds a list of expressions.
func Sum(exprs []Expr) Expr {
	out := Expr{}
	for _, e := range exprs {
		out.Const += e.Const
		out.Terms = append(out.Terms, e.Terms...)
		out.Quads = append(out.Quads, e.Quads...)
	}
	return out.normalize()
}

// normalize sorts terms by variable index, merges duplicates, and drops
// zero coefficients so structurally equal expressions compare equal.
func (e Expr) normalize() Expr {
	if len(e.Terms) > 0 {
		sort.SliceStable(e.Terms, func(i, j int) bool {
			return e.Terms[i].Var.index < e.Terms[j].Var.index
		})
		merged := e.Terms[:0]
		for _, t := range e.Terms {
			if n := len(merged); n > 0 && merged[n-1].Var == t.Var {
				merged[n-1].Coef += t.Coef
				continue
			}
			merged = append(merged, t)
		}
		out := merged[:0]
		for _, t := range merged {
			if t.Coef != 0 {
				out = append(out, t)
			}
		}
		e.Terms = out
	}
	if len(e.Quads) > 0 {
		for i, q := range e.Quads {
			if q.Y.index < q.X.index {
				e.Quads[i] = QuadTerm{X: q.Y, Y: q.X, Coef: q.Coef}
			}
		}
		sort.SliceStable(e.Quads, func(i, j int) bool {
			a, b := e.Quads[i], e.Quads[j]
			if a.X.index != b.X.index {
				return a.X.index < b.X.index
			}
			return a.Y.index < b.Y.index
		})
		merged := e.Quads[:0]
		for _, q := range e.Quads {
			if n := len(merged); n > 0 && merged[n-1].X == q.X && merged[n-1].Y == q.Y {
				merged[n-1].Coef += q.Coef
				continue
			}
			merged = append(merged, q)
		}
		out := merged[:0]
		for _, q := range merged {
			if q.Coef != 0 {
				out = append(out, q)
			}
		}
		e.Quads = out
	}
	return e
}

// Op is a constraint comparison operator.
type Op int

// Constraint operators.
const (
	OpLE Op = iota
	OpEQ
	OpGE
)

func (o Op) String() string {
	switch o {
	case OpLE:
		return "<="
	case OpEQ:
		return "="
	case OpGE:
		return ">="
	}
	return "?"
}

// Constraint is a normalized (in)equality: Diff Op 0.
type Constraint struct {
	Name string
	Diff Expr
	Op   Op
}

// LE builds the constraint lhs <= rhs.
func LE(lhs, rhs Expr) Constraint {
	return Constraint{Diff: lhs.Minus(rhs), Op: OpLE}
}

// GE builds the constraint lhs >= rhs.
func GE(lhs, rhs Expr) Constraint {
	return Constraint{Diff: lhs.Minus(rhs), Op: OpGE}
}

// EQ builds the constraint lhs == rhs.
func EQ(lhs, rhs Expr) Constraint {
	return Constraint{Diff: lhs.Minus(rhs), Op: OpEQ}
}

// Satisfied reports whether the constraint holds for the given diff value
// within tol.
func (c Constraint) Satisfied(diff, tol float64) bool {
	switch c.Op {
	case OpLE:
		return diff <= tol
	case OpGE:
		return diff >= -tol
	case OpEQ:
		return math.Abs(diff) <= tol
	}
	return false
}
