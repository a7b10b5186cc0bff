package loader

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscalworks/taxsolver/internal/model"
)

func bracketPerson(data map[string]float64) map[string]*model.Person {
	data["k_everybody"] = 1
	return map[string]*model.Person{"p1": model.NewPerson("p1", data)}
}

func TestSplitIntoBrackets(t *testing.T) {
	people := bracketPerson(map[string]float64{"income_before_tax": 30_000})
	points := []float64{0, 25_000, math.Inf(1)}

	require.NoError(t, SplitIntoBrackets(people, "income_before_tax", points, nil, false))

	p := people["p1"]
	assert.InDelta(t, 25_000.0, p.Data["income_before_tax_k_everybody_0_25000"], 1e-9)
	assert.InDelta(t, 0.0, p.Data["income_before_tax_k_everybody_0_25000_is_marginal"], 1e-9)
	assert.InDelta(t, 5_000.0, p.Data["income_before_tax_k_everybody_25000_inf"], 1e-9)
	assert.InDelta(t, 1.0, p.Data["income_before_tax_k_everybody_25000_inf_is_marginal"], 1e-9)
}

func TestSplitIntoBracketsBoundary(t *testing.T) {
	people := bracketPerson(map[string]float64{"income_before_tax": 25_000})
	points := []float64{0, 25_000, math.Inf(1)}

	require.NoError(t, SplitIntoBrackets(people, "income_before_tax", points, nil, false))

	p := people["p1"]
	// The lower bracket absorbs the full amount; the upper one registers a
	// sliver so it counts as touched, and carries the marginal flag.
	assert.InDelta(t, 25_000.0, p.Data["income_before_tax_k_everybody_0_25000"], 1e-9)
	assert.InDelta(t, boundaryEpsilon, p.Data["income_before_tax_k_everybody_25000_inf"], 1e-12)
	assert.InDelta(t, 1.0, p.Data["income_before_tax_k_everybody_25000_inf_is_marginal"], 1e-9)
	assert.InDelta(t, 0.0, p.Data["income_before_tax_k_everybody_0_25000_is_marginal"], 1e-9)
}

func TestSplitIntoBracketsGroups(t *testing.T) {
	people := bracketPerson(map[string]float64{
		"income_before_tax": 30_000,
		"k_young":           0,
		"k_old":             1,
	})
	points := []float64{0, math.Inf(1)}

	require.NoError(t, SplitIntoBrackets(people, "income_before_tax", points, []string{"k_young", "k_old"}, false))

	p := people["p1"]
	// Amounts are zeroed outside the person's group.
	assert.InDelta(t, 0.0, p.Data["income_before_tax_k_young_0_inf"], 1e-9)
	assert.InDelta(t, 30_000.0, p.Data["income_before_tax_k_old_0_inf"], 1e-9)
}

func TestSplitIntoBracketsOverwrite(t *testing.T) {
	people := bracketPerson(map[string]float64{
		"income_before_tax":                   30_000,
		"income_before_tax_k_everybody_0_inf": 99,
	})
	points := []float64{0, math.Inf(1)}

	require.NoError(t, SplitIntoBrackets(people, "income_before_tax", points, nil, false))
	assert.InDelta(t, 99.0, people["p1"].Data["income_before_tax_k_everybody_0_inf"], 1e-9)

	require.NoError(t, SplitIntoBrackets(people, "income_before_tax", points, nil, true))
	assert.InDelta(t, 30_000.0, people["p1"].Data["income_before_tax_k_everybody_0_inf"], 1e-9)
}

func TestSplitIntoBracketsMissingTarget(t *testing.T) {
	people := bracketPerson(map[string]float64{"income_after_tax": 1})
	err := SplitIntoBrackets(people, "income_before_tax", []float64{0, math.Inf(1)}, nil, false)
	assert.Error(t, err)
}
