// Package rule implements the declarative policy units of the tax model.
// Each rule owns a solver-determined rate and a binary activation indicator
// and knows how to compute a person's or household's signed contribution.
// The original class hierarchy is flattened into one descriptor with a kind
// tag; the builders below fill in the flag combinations for each flavor.
package rule

import (
	"fmt"
	"math"

	"github.com/fiscalworks/taxsolver/internal/backend"
	"github.com/fiscalworks/taxsolver/internal/common"
	"github.com/fiscalworks/taxsolver/internal/model"
)

// Kind tags the rule flavor.
type Kind int

// Rule kinds.
const (
	FlatTax Kind = iota
	Benefit
	HouseholdBenefit
	PreTaxBenefit
	ExistingBenefit
)

func (k Kind) String() string {
	switch k {
	case FlatTax:
		return "flat_tax"
	case Benefit:
		return "benefit"
	case HouseholdBenefit:
		return "household_benefit"
	case PreTaxBenefit:
		return "pretax_benefit"
	case ExistingBenefit:
		return "existing_benefit"
	}
	return "unknown"
}

// Binder is a policy unit that can bind itself into a backend, yielding the
// concrete rules it contributes. Plain rules yield themselves; composite
// bracket rules expand into a chain of children.
type Binder interface {
	BindRules(b backend.Backend, inputs []string) ([]*Rule, error)
}

// Rule is a single parameterized tax or benefit. The zero value is not
// usable; construct through the New* builders.
type Rule struct {
	Metadata map[string]string
	// InactiveAtRule chains this rule to an earlier-bound sibling: while
	// inactive, this rule's rate is pinned to the sibling's rate. Mutually
	// exclusive with the literal InactiveAt.
	InactiveAtRule *Rule
	Name           string
	// MarginalPressureVar names a per-person 0/1 column gating whether the
	// rule contributes marginal pressure for that person. Empty means the
	// boolean MarginalPressure applies to everyone.
	MarginalPressureVar string
	// MarginalPressureScalerVar names a per-person column scaling the
	// marginal contribution (status-quo marginal share for existing rules).
	MarginalPressureScalerVar string
	VarNames                  []string
	LB                        float64
	UB                        float64
	InactiveAt                float64
	Weight                    float64
	Kind                      Kind
	Pretax                    bool
	Benefit                   bool
	Household                 bool
	MarginalPressure          bool

	// Bound solver state.
	Rate   backend.Var
	Active backend.Var
	bound  bool
	domLB  float64
	domUB  float64
}

// NewFlatTax builds an individual-level tax with rate in [lb, ub].
func NewFlatTax(name, varName string, lb, ub float64) *Rule {
	return &Rule{
		Name:     name,
		VarNames: []string{varName},
		LB:       lb,
		UB:       ub,
		Weight:   1,
		Kind:     FlatTax,
	}
}

// NewBenefit builds an individual-level benefit with rate in [0, ub].
func NewBenefit(name, varName string, ub float64) *Rule {
	return &Rule{
		Name:     name,
		VarNames: []string{varName},
		LB:       0,
		UB:       ub,
		Weight:   1,
		Kind:     Benefit,
		Benefit:  true,
	}
}

// NewHouseholdBenefit builds a benefit computed once per household, resolved
// against the first member's record.
func NewHouseholdBenefit(name, varName string, ub float64) *Rule {
	return &Rule{
		Name:      name,
		VarNames:  []string{varName},
		LB:        0,
		UB:        ub,
		Weight:    1,
		Kind:      HouseholdBenefit,
		Benefit:   true,
		Household: true,
	}
}

// NewPreTaxBenefit builds a benefit whose effective value shrinks with the
// person's marginal rate: contribution = product * rate * (1 - marginal).
func NewPreTaxBenefit(name, varName string, lb, ub float64) *Rule {
	return &Rule{
		Name:     name,
		VarNames: []string{varName},
		LB:       lb,
		UB:       ub,
		Weight:   1,
		Kind:     PreTaxBenefit,
		Benefit:  true,
		Pretax:   true,
	}
}

// NewExistingBenefit builds a scaling rule over a status-quo benefit: the
// amount column carries the sq_a_ prefix and the marginal scaler the sq_m_
// prefix, following the data loader's naming convention.
func NewExistingBenefit(name, varName string, lb, ub float64) *Rule {
	return &Rule{
		Name:                      name,
		VarNames:                  []string{"sq_a_" + varName},
		LB:                        lb,
		UB:                        ub,
		Weight:                    1,
		Kind:                      ExistingBenefit,
		Benefit:                   true,
		MarginalPressure:          true,
		MarginalPressureScalerVar: "sq_m_" + varName,
	}
}

// RuleName implements model.Contributor.
func (r *Rule) RuleName() string { return r.Name }

// HouseholdLevel implements model.Contributor.
func (r *Rule) HouseholdLevel() bool { return r.Household }

// VarName joins the rule's target variable names for reporting.
func (r *Rule) VarName() string {
	out := ""
	for i, v := range r.VarNames {
		if i > 0 {
			out += ":"
		}
		out += v
	}
	return out
}

// BindRules implements Binder for a plain rule.
func (r *Rule) BindRules(b backend.Backend, _ []string) ([]*Rule, error) {
	if err := r.Bind(b); err != nil {
		return nil, err
	}
	return []*Rule{r}, nil
}

// Bind creates the rate and activation variables and wires the inactivity
// indicator. The rate variable's domain spans the union of [lb, ub] and the
// rule's inactive value, so toggling the rule inactive can never make the
// variable itself infeasible; extra indicators re-impose the true bounds
// while active.
func (r *Rule) Bind(b backend.Backend) error {
	if r.bound {
		return fmt.Errorf("rule %s: already bound", r.Name)
	}

	r.domLB, r.domUB = r.LB, r.UB
	if r.InactiveAtRule != nil {
		if !r.InactiveAtRule.bound {
			return common.NewConfigError(
				fmt.Errorf("inactive-at rule %s is not bound before %s", r.InactiveAtRule.Name, r.Name),
				"rule chain", r.Name)
		}
		r.domLB = math.Min(r.domLB, r.InactiveAtRule.domLB)
		r.domUB = math.Max(r.domUB, r.InactiveAtRule.domUB)
	} else {
		r.domLB = math.Min(r.domLB, r.InactiveAt)
		r.domUB = math.Max(r.domUB, r.InactiveAt)
	}

	rate, err := b.AddVar(r.Name+"_rate", r.domLB, r.domUB, backend.Continuous)
	if err != nil {
		return err
	}
	active, err := b.AddVar(r.Name+"_b", 0, 1, backend.Binary)
	if err != nil {
		return err
	}
	r.Rate, r.Active = rate, active

	inactiveTarget := backend.Constant(r.InactiveAt)
	if r.InactiveAtRule != nil {
		inactiveTarget = backend.VarExpr(r.InactiveAtRule.Rate)
	}
	if err := b.AddIndicator(active, false,
		backend.EQ(backend.VarExpr(rate), inactiveTarget),
		r.Name+"_b_indicator"); err != nil {
		return err
	}

	// Only the violated side needs re-imposing while active.
	if r.domLB < r.LB {
		if err := b.AddIndicator(active, true,
			backend.GE(backend.VarExpr(rate), backend.Constant(r.LB)),
			r.Name+"_active_lb"); err != nil {
			return err
		}
	}
	if r.domUB > r.UB {
		if err := b.AddIndicator(active, true,
			backend.LE(backend.VarExpr(rate), backend.Constant(r.UB)),
			r.Name+"_active_ub"); err != nil {
			return err
		}
	}

	if r.Pretax && !b.SupportsQuadratic() {
		common.LogWarn("pretax rule linearized at status-quo marginal rate on non-quadratic backend",
			common.Fields{"rule": r.Name})
	}

	r.bound = true
	return nil
}

// Bound reports whether Bind has run.
func (r *Rule) Bound() bool { return r.bound }

// Contribution computes the rule's signed amount for a person plus the
// explicit marginal-pressure delta the caller folds into the person's
// accumulator. Benefits are positive, taxes negative.
func (r *Rule) Contribution(p *model.Person, b backend.Backend) (backend.Expr, backend.Expr, error) {
	if !r.bound {
		return backend.Expr{}, backend.Expr{}, fmt.Errorf("rule %s: not bound", r.Name)
	}
	if r.Household {
		p = p.Household.FirstMember()
	}

	product := 1.0
	for _, vn := range r.VarNames {
		v, err := p.Value(vn)
		if err != nil {
			return backend.Expr{}, backend.Expr{}, err
		}
		product *= v
	}

	rate := backend.VarExpr(r.Rate)

	var amount backend.Expr
	if r.Pretax {
		if b.SupportsQuadratic() {
			oneMinus := backend.Constant(1).Minus(backend.VarExpr(p.MarginalRate))
			q, err := backend.Mul(rate, oneMinus)
			if err != nil {
				return backend.Expr{}, backend.Expr{}, err
			}
			amount = q.Scale(product)
		} else {
			// Linear approximation: value the pretax discount at the
			// person's status-quo marginal rate.
			old := p.Data["marginal_rate_current"]
			amount = rate.Scale(product * (1 - old))
		}
	} else {
		amount = rate.Scale(product)
	}

	var delta backend.Expr
	if r.bearsMarginalPressure(p) && product != 0 {
		if r.MarginalPressureScalerVar != "" {
			scaler, err := p.Value(r.MarginalPressureScalerVar)
			if err != nil {
				return backend.Expr{}, backend.Expr{}, err
			}
			if scaler < -0.5 || scaler > 1 {
				common.LogWarn("marginal pressure scaler out of range, clamped to 0",
					common.Fields{"rule": r.Name, "person": p.ID, "scaler": scaler})
				scaler = 0
			}
			delta = rate.Scale(scaler)
		} else {
			delta = rate
		}
	}

	if !r.Benefit {
		amount = amount.Scale(-1)
	}
	return amount, delta, nil
}

func (r *Rule) bearsMarginalPressure(p *model.Person) bool {
	if r.MarginalPressureVar != "" {
		return p.Data[r.MarginalPressureVar] != 0
	}
	return r.MarginalPressure
}

func (r *Rule) String() string { return r.Name }
