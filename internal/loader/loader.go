// Package loader reads tabular population data into the entity model. It
// normalizes column names, fills defaults, one-hot encodes group columns,
// derives household income sums, and wires mirror households and labor
// effect weights.
package loader

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fiscalworks/taxsolver/internal/common"
	"github.com/fiscalworks/taxsolver/internal/model"
)

// Prefixes of columns kept for the solver besides the special and id
// columns.
var keepPrefixes = []string{"i_", "k_", "sq_a_", "sq_m_"}

var specialColumns = map[string]bool{
	"income_before_tax":           true,
	"income_after_tax":            true,
	"household_income_before_tax": true,
	"household_income_after_tax":  true,
	"marginal_rate_current":       true,
	"elasticity":                  true,
	"weight":                      true,
	"init_labor_effect_weight":    true,
}

// Options maps dataset-specific column names onto the canonical ones and
// declares the derived columns to build.
type Options struct {
	// Column renames; empty means the canonical name is already used.
	IncomeBeforeTax string
	IncomeAfterTax  string
	ID              string
	Weight          string
	HHID            string
	MirrorID        string

	// InputVars are extra columns to keep; they get the i_ prefix if they
	// do not carry it yet.
	InputVars []string
	// GroupVars are categorical columns one-hot encoded into k_ columns.
	GroupVars []string
	// TaxRules maps a status-quo amount column to its marginal-share
	// column; an empty value means no marginal column exists and a zeroed
	// one is created.
	TaxRules map[string]string
}

// Result is a loaded population.
type Result struct {
	Households map[string]*model.Household
	People     map[string]*model.Person
}

type row struct {
	id       string
	hhID     string
	mirrorID string
	values   map[string]float64
}

// Load reads one CSV file into a population.
func Load(path string, opts Options) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input data: %w", err)
	}
	defer f.Close()
	return Read(f, opts)
}

// LoadFiles reads and merges several CSV files. Household ids must be
// unique across files.
func LoadFiles(paths []string, opts Options) (*Result, error) {
	merged := &Result{
		Households: make(map[string]*model.Household),
		People:     make(map[string]*model.Person),
	}
	for _, path := range paths {
		res, err := Load(path, opts)
		if err != nil {
			return nil, err
		}
		for id, hh := range res.Households {
			if _, ok := merged.Households[id]; ok {
				return nil, common.NewConfigError(common.ErrDuplicateID, "hh_id", id)
			}
			merged.Households[id] = hh
		}
		for id, p := range res.People {
			if _, ok := merged.People[id]; ok {
				return nil, common.NewConfigError(common.ErrDuplicateID, "id", id)
			}
			merged.People[id] = p
		}
		common.LogInfo("loaded households from dataset", common.Fields{"path": path, "households": len(res.Households)})
	}
	return merged, nil
}

// Read parses CSV data into a population.
func Read(r io.Reader, opts Options) (*Result, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	header = renameColumns(header, opts)

	var raw []map[string]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(raw)+2, err)
		}
		m := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				m[col] = rec[i]
			}
		}
		raw = append(raw, m)
	}

	for _, required := range []string{"income_before_tax", "income_after_tax"} {
		if !hasColumn(header, required) {
			return nil, common.NewConfigError(common.ErrMissingColumn, "column", required)
		}
	}

	header = fillDefaults(header, raw)
	header = oneHotEncode(header, raw, opts.GroupVars)
	header = markEverybody(header, raw)
	header = fillMissingMarginals(header, raw, opts.TaxRules)

	rows, err := parseRows(header, raw)
	if err != nil {
		return nil, err
	}
	deriveHouseholdIncomes(rows)

	res := buildPopulation(rows)
	wireMirrors(res)
	setLaborEffectWeights(res)
	return res, nil
}

func renameColumns(header []string, opts Options) []string {
	renames := map[string]string{}
	add := func(from, to string) {
		if from != "" && from != to {
			if hasColumn(header, from) {
				renames[from] = to
			} else {
				common.LogWarn("rename source column not found", common.Fields{"column": from})
			}
		}
	}
	add(opts.IncomeBeforeTax, "income_before_tax")
	add(opts.IncomeAfterTax, "income_after_tax")
	add(opts.ID, "id")
	add(opts.Weight, "weight")
	add(opts.HHID, "hh_id")
	add(opts.MirrorID, "mirror_id")

	for _, v := range opts.InputVars {
		if !hasColumn(header, v) {
			common.LogWarn("input variable column not found", common.Fields{"column": v})
			continue
		}
		if !strings.HasPrefix(v, "i_") {
			renames[v] = "i_" + v
		}
	}
	for amount, marginal := range opts.TaxRules {
		if hasColumn(header, amount) {
			renames[amount] = "sq_a_" + amount
		} else {
			common.LogWarn("status-quo rule amount column not found", common.Fields{"column": amount})
		}
		if marginal != "" {
			if hasColumn(header, marginal) {
				renames[marginal] = "sq_m_" + marginal
			} else {
				common.LogWarn("status-quo rule marginal column not found", common.Fields{"column": marginal})
			}
		}
	}

	out := make([]string, len(header))
	for i, col := range header {
		if to, ok := renames[col]; ok {
			out[i] = to
		} else {
			out[i] = col
		}
	}
	return out
}

func hasColumn(header []string, name string) bool {
	for _, col := range header {
		if col == name {
			return true
		}
	}
	return false
}

func fillDefaults(header []string, raw []map[string]string) []string {
	if !hasColumn(header, "weight") {
		common.LogWarn("weight column not found, defaulting to 1", nil)
		header = append(header, "weight")
		for _, m := range raw {
			m["weight"] = "1"
		}
	}
	if !hasColumn(header, "id") {
		common.LogWarn("id column not found, using row index", nil)
		header = append(header, "id")
		for i, m := range raw {
			m["id"] = strconv.Itoa(i)
		}
	}
	if !hasColumn(header, "hh_id") {
		common.LogWarn("hh_id column not found, deriving single-person households", nil)
		header = append(header, "hh_id")
		for _, m := range raw {
			m["hh_id"] = m["id"] + "_0"
		}
	}
	if !hasColumn(header, "marginal_rate_current") {
		common.LogWarn("marginal_rate_current column not found, defaulting to 0", nil)
		header = append(header, "marginal_rate_current")
		for _, m := range raw {
			m["marginal_rate_current"] = "0"
		}
	}
	return header
}

func oneHotEncode(header []string, raw []map[string]string, groupVars []string) []string {
	for _, g := range groupVars {
		if !hasColumn(header, g) {
			common.LogWarn("group variable column not found", common.Fields{"column": g})
			continue
		}
		values := map[string]bool{}
		for _, m := range raw {
			values[m[g]] = true
		}
		if len(values) > 100 {
			common.LogWarn("group variable has over 100 levels", common.Fields{"column": g, "levels": len(values)})
		}
		for v := range values {
			col := "k_" + g + "_" + v
			if !hasColumn(header, col) {
				header = append(header, col)
			}
			for _, m := range raw {
				if m[g] == v {
					m[col] = "1"
				} else {
					m[col] = "0"
				}
			}
		}
		header = dropColumn(header, g)
		for _, m := range raw {
			delete(m, g)
		}
	}
	return header
}

func markEverybody(header []string, raw []map[string]string) []string {
	if hasColumn(header, "k_everybody") {
		common.LogWarn("k_everybody is reserved, overwriting with 1", nil)
	} else {
		header = append(header, "k_everybody")
	}
	for _, m := range raw {
		m["k_everybody"] = "1"
	}
	return header
}

func fillMissingMarginals(header []string, raw []map[string]string, taxRules map[string]string) []string {
	for amount, marginal := range taxRules {
		if marginal != "" && hasColumn(header, "sq_m_"+marginal) {
			continue
		}
		col := "sq_m_" + amount
		if hasColumn(header, col) {
			continue
		}
		common.LogWarn("no marginal pressure column for rule, zero-filled", common.Fields{"rule": amount})
		header = append(header, col)
		for _, m := range raw {
			m[col] = "0"
		}
	}
	return header
}

func dropColumn(header []string, name string) []string {
	out := header[:0]
	for _, col := range header {
		if col != name {
			out = append(out, col)
		}
	}
	return out
}

func keepColumn(name string) bool {
	if specialColumns[name] {
		return true
	}
	for _, p := range keepPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func parseRows(header []string, raw []map[string]string) ([]*row, error) {
	rows := make([]*row, 0, len(raw))
	for i, m := range raw {
		r := &row{
			id:       m["id"],
			hhID:     m["hh_id"],
			mirrorID: m["mirror_id"],
			values:   make(map[string]float64),
		}
		for _, col := range header {
			if !keepColumn(col) {
				continue
			}
			cell, ok := m[col]
			if !ok || cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, common.NewConfigError(
					fmt.Errorf("row %d: column %s: %w", i+2, col, err), "cell", cell)
			}
			r.values[col] = v
		}
		rows = append(rows, r)
	}
	return rows, nil
}

func deriveHouseholdIncomes(rows []*row) {
	before := map[string]float64{}
	after := map[string]float64{}
	for _, r := range rows {
		before[r.hhID] += r.values["income_before_tax"]
		after[r.hhID] += r.values["income_after_tax"]
	}
	for _, r := range rows {
		r.values["household_income_before_tax"] = before[r.hhID]
		r.values["household_income_after_tax"] = after[r.hhID]
	}
}

func buildPopulation(rows []*row) *Result {
	res := &Result{
		Households: make(map[string]*model.Household),
		People:     make(map[string]*model.Person),
	}
	for _, r := range rows {
		p := model.NewPerson(r.id, r.values)
		p.MirrorID = r.mirrorID
		res.People[r.id] = p

		hh, ok := res.Households[r.hhID]
		if !ok {
			hh = model.NewHousehold(r.hhID, nil, r.values["weight"])
			res.Households[r.hhID] = hh
		}
		hh.AddMember(p)
	}
	return res
}

func wireMirrors(res *Result) {
	for id, hh := range res.Households {
		mirrorID := hh.FirstMember().MirrorID
		if mirrorID == "" {
			continue
		}
		mirror, ok := res.Households[mirrorID]
		if !ok {
			common.LogWarn("mirror household not found", common.Fields{"hh_id": id, "mirror_id": mirrorID})
			continue
		}
		hh.Mirror = mirror
	}
}

func setLaborEffectWeights(res *Result) {
	mirrorTargets := map[string]bool{}
	for _, p := range res.People {
		if p.MirrorID != "" {
			mirrorTargets[p.MirrorID] = true
		}
	}

	for _, p := range res.People {
		switch {
		case p.Has("init_labor_effect_weight") && p.Data["init_labor_effect_weight"] != 0:
			w := p.Data["init_labor_effect_weight"]
			p.InitLaborEffectWeight = &w
		case p.MirrorID != "" && p.Data["elasticity"] != 0:
			common.LogWarn("labor effect weight missing, defaulting to 1", common.Fields{"person": p.ID})
			one := 1.0
			p.InitLaborEffectWeight = &one
		case p.Household != nil && mirrorTargets[p.Household.ID] && p.Data["elasticity"] != 0:
			zero := 0.0
			p.InitLaborEffectWeight = &zero
		}
	}
}
