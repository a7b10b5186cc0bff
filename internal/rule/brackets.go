package rule

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/fiscalworks/taxsolver/internal/backend"
	"github.com/fiscalworks/taxsolver/internal/common"
)

// bracketLowerBound parses the lower limit out of a column ending in
// "_{lo}_{hi}". Columns that do not follow the convention sort last.
func bracketLowerBound(col string) float64 {
	tokens := strings.Split(col, "_")
	if len(tokens) < 2 {
		return math.Inf(1)
	}
	v, err := strconv.ParseFloat(tokens[len(tokens)-2], 64)
	if err != nil {
		return math.Inf(1)
	}
	return v
}

// Brackets is a composite rule expanding, at bind time, into a chain of flat
// rules: one per matching input column, each considered inactive at the
// previous bracket's rate. The chaining is what enforces the progressive
// topology: a higher bracket only deviates once the previous bracket's rate
// is pinned.
type Brackets struct {
	Name string
	// Var is the base variable; bracket columns follow the naming pattern
	// "{var}_{group}_{lo}_{hi}" (or "{var}_{lo}_{hi}" without a group).
	Var       string
	KGroupVar string
	LB        float64
	UB        float64
	Weight    float64

	// Optional bracket-level constraints.
	MaxBrackets              int
	Ascending                bool
	StartFromFirstInflection bool
	LastBracketZero          bool
	MinGap                   int

	children []*Rule
}

// NewBrackets builds a bracket expander over the given base variable with
// per-bracket rates in [lb, ub].
func NewBrackets(name, varName string, lb, ub float64) *Brackets {
	return &Brackets{Name: name, Var: varName, LB: lb, UB: ub, Weight: 1}
}

// Children returns the expanded flat rules, valid after BindRules.
func (br *Brackets) Children() []*Rule { return br.children }

// BindRules implements Binder: discovers the bracket columns among the
// solver inputs, materializes the chained children, and applies the
// bracket-level constraints.
func (br *Brackets) BindRules(b backend.Backend, inputs []string) ([]*Rule, error) {
	prefix := br.Var + "_"
	if br.KGroupVar != "" {
		prefix = br.Var + "_" + br.KGroupVar + "_"
	}

	var cols []string
	for _, c := range inputs {
		if strings.HasPrefix(c, prefix) && !strings.HasSuffix(c, "_is_marginal") {
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		return nil, common.NewConfigError(common.ErrNoBracketColumns, "bracket prefix", prefix)
	}
	// Chain order must follow the bracket lower bounds, not string order.
	sort.SliceStable(cols, func(i, j int) bool {
		return bracketLowerBound(cols[i]) < bracketLowerBound(cols[j])
	})

	var prev *Rule
	for _, col := range cols {
		child := NewFlatTax(fmt.Sprintf("%s__%s", br.Name, col), col, br.LB, br.UB)
		child.MarginalPressureVar = col + "_is_marginal"
		child.InactiveAtRule = prev
		child.Weight = br.Weight
		child.Metadata = map[string]string{"bracket_source": col, "family": br.Name}
		if err := child.Bind(b); err != nil {
			return nil, err
		}
		br.children = append(br.children, child)
		prev = child
	}

	if err := br.constrain(b); err != nil {
		return nil, err
	}
	return br.children, nil
}

func (br *Brackets) constrain(b backend.Backend) error {
	if br.MaxBrackets > 0 {
		active := make([]backend.Expr, len(br.children))
		for i, c := range br.children {
			active[i] = backend.VarExpr(c.Active)
		}
		if err := b.AddConstr(
			backend.LE(backend.Sum(active), backend.Constant(float64(br.MaxBrackets))),
			"max_brackets_"+br.Name); err != nil {
			return err
		}
	}

	if br.Ascending {
		for _, c := range br.children {
			if c.InactiveAtRule == nil {
				continue
			}
			if err := b.AddConstr(
				backend.GE(backend.VarExpr(c.Rate), backend.VarExpr(c.InactiveAtRule.Rate)),
				"ascending_"+c.Name); err != nil {
				return err
			}
		}
	}

	if br.StartFromFirstInflection {
		first := br.children[0]
		for _, c := range br.children[1:] {
			if err := b.AddConstr(
				backend.LE(backend.VarExpr(c.Active), backend.VarExpr(first.Active)),
				"start_from_first_inflection_"+c.Name); err != nil {
				return err
			}
		}
	}

	if br.LastBracketZero {
		last := br.children[len(br.children)-1]
		if err := b.AddConstr(
			backend.EQ(backend.VarExpr(last.Rate), backend.Constant(0)),
			"last_bracket_zero_"+br.Name); err != nil {
			return err
		}
	}

	if br.MinGap > 0 {
		// At most one active bracket inside every MinGap-sized sliding window.
		for i := 0; i+br.MinGap <= len(br.children); i++ {
			window := br.children[i : i+br.MinGap]
			active := make([]backend.Expr, len(window))
			for j, c := range window {
				active[j] = backend.VarExpr(c.Active)
			}
			if err := b.AddConstr(
				backend.LE(backend.Sum(active), backend.Constant(1)),
				fmt.Sprintf("min_gap_%s_%d", br.Name, i)); err != nil {
				return err
			}
		}
	}
	return nil
}
