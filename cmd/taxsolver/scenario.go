package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"gopkg.in/yaml.v3"

	"github.com/fiscalworks/taxsolver/internal/backend"
	"github.com/fiscalworks/taxsolver/internal/common"
	"github.com/fiscalworks/taxsolver/internal/constraint"
	"github.com/fiscalworks/taxsolver/internal/loader"
	"github.com/fiscalworks/taxsolver/internal/model"
	"github.com/fiscalworks/taxsolver/internal/objective"
	"github.com/fiscalworks/taxsolver/internal/rule"
	"github.com/fiscalworks/taxsolver/internal/solver"
)

// Scenario is the YAML description of one reform exploration: data sources,
// the rule space, constraints, and the objective.
type Scenario struct {
	Name          string             `yaml:"name"`
	Data          DataConfig         `yaml:"data"`
	BracketInputs []BracketSplit     `yaml:"bracket_inputs"`
	Rules         []RuleConfig       `yaml:"rules"`
	Constraints   ConstraintsConfig  `yaml:"constraints"`
	Objective     ObjectiveConfig    `yaml:"objective"`
}

// DataConfig points at the input files and maps dataset columns onto the
// canonical names.
type DataConfig struct {
	Files           []string          `yaml:"files"`
	IncomeBeforeTax string            `yaml:"income_before_tax"`
	IncomeAfterTax  string            `yaml:"income_after_tax"`
	ID              string            `yaml:"id"`
	Weight          string            `yaml:"weight"`
	HHID            string            `yaml:"hh_id"`
	MirrorID        string            `yaml:"mirror_id"`
	InputVars       []string          `yaml:"input_vars"`
	GroupVars       []string          `yaml:"group_vars"`
	TaxRules        map[string]string `yaml:"tax_rules"`
}

// BracketSplit derives per-bracket columns from a base column before rules
// bind. Use .inf for an open upper bracket.
type BracketSplit struct {
	Target           string    `yaml:"target"`
	InflectionPoints []float64 `yaml:"inflection_points"`
	Groups           []string  `yaml:"groups"`
}

// RuleConfig declares one rule or bracket family.
type RuleConfig struct {
	Kind   string  `yaml:"kind"`
	Name   string  `yaml:"name"`
	Var    string  `yaml:"var"`
	Group  string  `yaml:"group"`
	LB     float64 `yaml:"lb"`
	UB     float64 `yaml:"ub"`
	Weight float64 `yaml:"weight"`

	// Bracket-family options.
	MaxBrackets              int  `yaml:"max_brackets"`
	Ascending                bool `yaml:"ascending"`
	StartFromFirstInflection bool `yaml:"start_from_first_inflection"`
	LastBracketZero          bool `yaml:"last_bracket_zero"`
	MinGap                   int  `yaml:"min_gap"`
}

// ConstraintsConfig declares the constraints of a scenario. Behavioral and
// labor effects apply before budgets and income floors, so their income
// adjustments flow through.
type ConstraintsConfig struct {
	Budget            *BudgetConfig           `yaml:"budget"`
	Income            *IncomeConfig           `yaml:"income"`
	MarginalPressure  *MarginalPressureConfig `yaml:"marginal_pressure"`
	Behavioral        *BehavioralConfig       `yaml:"behavioral"`
	LaborEffects      bool                    `yaml:"labor_effects"`
	ForceOn           []string                `yaml:"force_on"`
	ForceRates        []ForceRateConfig       `yaml:"force_rates"`
	ForceFamilies     [][]string              `yaml:"force_families"`
	MutuallyExclusive [][]string              `yaml:"mutually_exclusive"`
}

// BudgetConfig bounds the expenditure shift in currency units.
type BudgetConfig struct {
	MaxDelta float64  `yaml:"max_delta"`
	MinDelta *float64 `yaml:"min_delta"`
}

// IncomeConfig caps the per-household income loss as a fraction.
type IncomeConfig struct {
	LossLimit float64 `yaml:"loss_limit"`
}

// MarginalPressureConfig caps the population's peak marginal rate.
type MarginalPressureConfig struct {
	Limit float64 `yaml:"limit"`
}

// BehavioralConfig enables the behavioral response, optionally with a
// population-wide elasticity override.
type BehavioralConfig struct {
	Elasticity *float64 `yaml:"elasticity"`
}

// ForceRateConfig pins rules to a fixed rate.
type ForceRateConfig struct {
	Rules []string `yaml:"rules"`
	Rate  float64  `yaml:"rate"`
}

// ObjectiveConfig selects and parameterizes the objective.
type ObjectiveConfig struct {
	Type                    string   `yaml:"type"`
	ComplexityPenalty       *float64 `yaml:"complexity_penalty"`
	MarginalPressurePenalty *float64 `yaml:"marginal_pressure_penalty"`
	LaborEffectsPenalty     *float64 `yaml:"labor_effects_penalty"`
	BudgetTolerance         *float64 `yaml:"budget_tolerance"`
	ComplexityTolerance     *float64 `yaml:"complexity_tolerance"`
}

func loadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if sc.Name == "" {
		return nil, common.NewConfigError(fmt.Errorf("scenario has no name"), "scenario", path)
	}
	if len(sc.Data.Files) == 0 {
		return nil, common.NewConfigError(fmt.Errorf("scenario lists no data files"), "scenario", sc.Name)
	}
	if len(sc.Rules) == 0 {
		return nil, common.NewConfigError(fmt.Errorf("scenario lists no rules"), "scenario", sc.Name)
	}
	return &sc, nil
}

func loadPopulation(sc *Scenario) (map[string]*model.Household, error) {
	opts := loader.Options{
		IncomeBeforeTax: sc.Data.IncomeBeforeTax,
		IncomeAfterTax:  sc.Data.IncomeAfterTax,
		ID:              sc.Data.ID,
		Weight:          sc.Data.Weight,
		HHID:            sc.Data.HHID,
		MirrorID:        sc.Data.MirrorID,
		InputVars:       sc.Data.InputVars,
		GroupVars:       sc.Data.GroupVars,
		TaxRules:        sc.Data.TaxRules,
	}

	bar := progressbar.Default(int64(len(sc.Data.Files)), "loading datasets")
	merged := map[string]*model.Household{}
	people := map[string]*model.Person{}
	for _, path := range sc.Data.Files {
		res, err := loader.Load(path, opts)
		if err != nil {
			return nil, err
		}
		for id, hh := range res.Households {
			if _, ok := merged[id]; ok {
				return nil, common.NewConfigError(common.ErrDuplicateID, "hh_id", id)
			}
			merged[id] = hh
		}
		for id, p := range res.People {
			people[id] = p
		}
		_ = bar.Add(1)
	}

	for _, split := range sc.BracketInputs {
		if err := loader.SplitIntoBrackets(people, split.Target, split.InflectionPoints, split.Groups, false); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

func buildBinders(sc *Scenario) ([]rule.Binder, error) {
	binders := make([]rule.Binder, 0, len(sc.Rules))
	for _, rc := range sc.Rules {
		weight := rc.Weight
		if weight == 0 {
			weight = 1
		}
		switch rc.Kind {
		case "flat_tax":
			r := rule.NewFlatTax(rc.Name, rc.Var, rc.LB, rc.UB)
			r.Weight = weight
			binders = append(binders, r)
		case "benefit":
			r := rule.NewBenefit(rc.Name, rc.Var, rc.UB)
			r.Weight = weight
			binders = append(binders, r)
		case "household_benefit":
			r := rule.NewHouseholdBenefit(rc.Name, rc.Var, rc.UB)
			r.Weight = weight
			binders = append(binders, r)
		case "pretax_benefit":
			r := rule.NewPreTaxBenefit(rc.Name, rc.Var, rc.LB, rc.UB)
			r.Weight = weight
			binders = append(binders, r)
		case "existing_benefit":
			r := rule.NewExistingBenefit(rc.Name, rc.Var, rc.LB, rc.UB)
			r.Weight = weight
			binders = append(binders, r)
		case "brackets":
			br := rule.NewBrackets(rc.Name, rc.Var, rc.LB, rc.UB)
			br.KGroupVar = rc.Group
			br.Weight = weight
			br.MaxBrackets = rc.MaxBrackets
			br.Ascending = rc.Ascending
			br.StartFromFirstInflection = rc.StartFromFirstInflection
			br.LastBracketZero = rc.LastBracketZero
			br.MinGap = rc.MinGap
			binders = append(binders, br)
		default:
			return nil, common.NewConfigError(fmt.Errorf("unknown rule kind"), "rule kind", rc.Kind)
		}
	}
	return binders, nil
}

// scenarioModel holds a built solver plus the constraint handles objectives
// reference.
type scenarioModel struct {
	tx       *solver.TaxSolver
	budget   *constraint.Budget
	pressure *constraint.MarginalPressure
}

func buildScenario(sc *Scenario, bk backend.Backend) (*scenarioModel, error) {
	households, err := loadPopulation(sc)
	if err != nil {
		return nil, err
	}

	tx, err := solver.New(households, bk, sc.Name)
	if err != nil {
		return nil, err
	}

	binders, err := buildBinders(sc)
	if err != nil {
		return nil, err
	}
	if err := tx.AddRules(binders...); err != nil {
		return nil, err
	}

	m := &scenarioModel{tx: tx}
	cc := sc.Constraints

	// Income-adjusting constraints first so budgets and floors see their
	// effect.
	if cc.Behavioral != nil {
		be := constraint.NewBehavioralEffects()
		be.Elasticity = cc.Behavioral.Elasticity
		tx.AddConstraints(be)
	}
	if cc.LaborEffects {
		tx.AddConstraints(constraint.NewLaborEffects())
	}
	if cc.Budget != nil {
		m.budget = constraint.NewBudget(sc.Name, cc.Budget.MaxDelta)
		m.budget.MinDelta = cc.Budget.MinDelta
		tx.AddConstraints(m.budget)
	}
	if cc.Income != nil {
		tx.AddConstraints(constraint.NewIncome(cc.Income.LossLimit))
	}
	if cc.MarginalPressure != nil {
		m.pressure = constraint.NewMarginalPressure(cc.MarginalPressure.Limit)
		tx.AddConstraints(m.pressure)
	}
	if len(cc.ForceOn) > 0 {
		tx.AddConstraints(&constraint.ForceRulesOn{RuleNames: cc.ForceOn})
	}
	for _, fr := range cc.ForceRates {
		tx.AddConstraints(&constraint.ForceRate{RuleNames: fr.Rules, Rate: fr.Rate})
	}
	for _, family := range cc.ForceFamilies {
		tx.AddConstraints(&constraint.ForceRuleFamilyOn{RuleNames: family})
	}
	for _, group := range cc.MutuallyExclusive {
		tx.AddConstraints(&constraint.MutuallyExclusiveRules{RuleNames: group})
	}

	obj, err := buildObjective(sc.Objective, m)
	if err != nil {
		return nil, err
	}
	tx.AddObjective(obj)
	return m, nil
}

func buildObjective(oc ObjectiveConfig, m *scenarioModel) (solver.Objective, error) {
	switch oc.Type {
	case "", "null":
		return objective.Null{}, nil
	case "budget":
		return objective.NewBudget(m.budget), nil
	case "complexity":
		return objective.Complexity{}, nil
	case "weighted_mixed":
		o := objective.NewWeightedMixed(m.budget, m.pressure)
		if oc.ComplexityPenalty != nil {
			o.ComplexityPenalty = *oc.ComplexityPenalty
		}
		if oc.MarginalPressurePenalty != nil {
			o.MarginalPressurePenalty = *oc.MarginalPressurePenalty
		}
		return o, nil
	case "sequential_mixed":
		o := objective.NewSequentialMixed(m.budget, m.pressure)
		if oc.BudgetTolerance != nil {
			o.BudgetTolerance = *oc.BudgetTolerance
		}
		if oc.ComplexityTolerance != nil {
			o.ComplexityTolerance = *oc.ComplexityTolerance
		}
		return o, nil
	case "weighted_mixed_labor":
		o := objective.NewWeightedMixedLaborEffects(m.budget, m.pressure)
		if oc.ComplexityPenalty != nil {
			o.ComplexityPenalty = *oc.ComplexityPenalty
		}
		if oc.MarginalPressurePenalty != nil {
			o.MarginalPressurePenalty = *oc.MarginalPressurePenalty
		}
		if oc.LaborEffectsPenalty != nil {
			o.LaborEffectsPenalty = *oc.LaborEffectsPenalty
		}
		return o, nil
	default:
		return nil, common.NewConfigError(fmt.Errorf("unknown objective"), "objective type", oc.Type)
	}
}
