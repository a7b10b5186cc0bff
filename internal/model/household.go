package model

import (
	"fmt"

	"github.com/fiscalworks/taxsolver/internal/backend"
)

// Household groups one or more persons sharing benefit determinations. The
// optional Mirror points at a counterfactual household used to measure labor
// participation effects; it is a relation, not ownership.
type Household struct {
	Mirror  *Household
	ID      string
	Members []*Person
	Weight  float64

	Benefits         backend.Expr
	WeightedBenefits backend.Expr
	NewNetIncome     backend.Expr

	updated bool
}

// NewHousehold creates a household and wires the member back-references.
func NewHousehold(id string, members []*Person, weight float64) *Household {
	hh := &Household{ID: id, Members: members, Weight: weight}
	for _, m := range members {
		m.Household = hh
	}
	return hh
}

// AddMember appends a person to the household.
func (hh *Household) AddMember(p *Person) {
	hh.Members = append(hh.Members, p)
	p.Household = hh
}

// Size returns the number of members.
func (hh *Household) Size() int { return len(hh.Members) }

// FirstMember returns the reference member used for household-level rules.
func (hh *Household) FirstMember() *Person {
	return hh.Members[0]
}

// OldIncome returns the pre-reform after-tax income of the whole household.
func (hh *Household) OldIncome() float64 {
	var total float64
	for _, m := range hh.Members {
		total += m.Data["income_after_tax"]
	}
	return total
}

// CreateSolverVariables registers solver variables for every member.
func (hh *Household) CreateSolverVariables(b backend.Backend) error {
	for _, m := range hh.Members {
		if err := m.CreateSolverVariables(b); err != nil {
			return fmt.Errorf("household %s: %w", hh.ID, err)
		}
	}
	return nil
}

// UpdateSolverVariables sums household-level rule contributions into the
// benefits expression and derives the new net household income. Every
// member's person-level update must already have run.
func (hh *Household) UpdateSolverVariables(b backend.Backend, rules []Contributor) error {
	for _, m := range hh.Members {
		if !m.Updated() {
			return fmt.Errorf("household %s: member %s not updated", hh.ID, m.ID)
		}
	}

	benefits := make([]backend.Expr, 0, len(rules))
	for _, r := range rules {
		if !r.HouseholdLevel() {
			continue
		}
		amount, _, err := r.Contribution(hh.FirstMember(), b)
		if err != nil {
			return fmt.Errorf("rule %s on household %s: %w", r.RuleName(), hh.ID, err)
		}
		benefits = append(benefits, amount)
	}

	hh.Benefits = backend.Sum(benefits)
	hh.WeightedBenefits = hh.Benefits.Scale(hh.Weight)

	memberIncomes := make([]backend.Expr, len(hh.Members))
	for i, m := range hh.Members {
		memberIncomes[i] = m.NewNetIncome
	}
	hh.NewNetIncome = backend.Sum(memberIncomes).Plus(hh.Benefits)
	hh.updated = true
	return nil
}

// Updated reports whether the per-solve update pass has run.
func (hh *Household) Updated() bool { return hh.updated }

func (hh *Household) String() string {
	return fmt.Sprintf("Household %s with %d members", hh.ID, len(hh.Members))
}
