package loader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscalworks/taxsolver/internal/common"
)

func TestReadNormalizesColumns(t *testing.T) {
	data := strings.Join([]string{
		"gross,net,person,hh,region,commute,rent_support,weight",
		"50000,30000,p1,hh1,north,10,0,2",
		"20000,16000,p2,hh1,north,0,1200,2",
		"30000,22000,p3,hh2,south,5,0,1",
	}, "\n")

	opts := Options{
		IncomeBeforeTax: "gross",
		IncomeAfterTax:  "net",
		ID:              "person",
		HHID:            "hh",
		InputVars:       []string{"commute"},
		GroupVars:       []string{"region"},
		TaxRules:        map[string]string{"rent_support": ""},
	}

	res, err := Read(strings.NewReader(data), opts)
	require.NoError(t, err)

	require.Len(t, res.Households, 2)
	require.Len(t, res.People, 3)

	p1 := res.People["p1"]
	require.NotNil(t, p1)
	assert.InDelta(t, 50_000.0, p1.Data["income_before_tax"], 1e-9)
	assert.InDelta(t, 10.0, p1.Data["i_commute"], 1e-9)

	// One-hot encoding replaces the categorical column.
	assert.InDelta(t, 1.0, p1.Data["k_region_north"], 1e-9)
	assert.InDelta(t, 0.0, p1.Data["k_region_south"], 1e-9)
	assert.False(t, p1.Has("region"))
	assert.InDelta(t, 1.0, p1.Data["k_everybody"], 1e-9)

	// Status-quo rule columns: amount prefixed, marginal zero-filled.
	assert.InDelta(t, 1_200.0, res.People["p2"].Data["sq_a_rent_support"], 1e-9)
	assert.InDelta(t, 0.0, res.People["p2"].Data["sq_m_rent_support"], 1e-9)

	// Missing marginal_rate_current defaults to 0.
	assert.InDelta(t, 0.0, p1.Data["marginal_rate_current"], 1e-9)

	// Household incomes are sums over members.
	assert.InDelta(t, 70_000.0, p1.Data["household_income_before_tax"], 1e-9)
	assert.InDelta(t, 46_000.0, p1.Data["household_income_after_tax"], 1e-9)

	hh1 := res.Households["hh1"]
	require.NotNil(t, hh1)
	assert.Equal(t, 2, hh1.Size())
	assert.InDelta(t, 2.0, hh1.Weight, 1e-9)
}

func TestReadFillsDefaults(t *testing.T) {
	data := "income_before_tax,income_after_tax\n100,90\n200,150\n"

	res, err := Read(strings.NewReader(data), Options{})
	require.NoError(t, err)

	// Row index ids, single-person households, unit weight.
	p := res.People["0"]
	require.NotNil(t, p)
	require.Contains(t, res.Households, "0_0")
	require.Contains(t, res.Households, "1_0")
	assert.InDelta(t, 1.0, p.Weight(), 1e-9)
}

func TestReadMissingIncomeColumn(t *testing.T) {
	data := "income_before_tax,id\n100,p1\n"

	_, err := Read(strings.NewReader(data), Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrMissingColumn)
}

func TestReadRejectsMalformedCells(t *testing.T) {
	data := "income_before_tax,income_after_tax\nnot_a_number,90\n"

	_, err := Read(strings.NewReader(data), Options{})
	require.Error(t, err)
	assert.True(t, common.IsConfig(err))
}

func TestReadSkipsEmptyCells(t *testing.T) {
	data := "income_before_tax,income_after_tax,i_commute\n100,90,\n"

	res, err := Read(strings.NewReader(data), Options{})
	require.NoError(t, err)
	assert.False(t, res.People["0"].Has("i_commute"))
}

func TestReadWiresMirrorsAndLaborWeights(t *testing.T) {
	data := strings.Join([]string{
		"income_before_tax,income_after_tax,id,hh_id,mirror_id,elasticity",
		"40000,30000,p1,hh1,hh1m,0.5",
		"0,8000,p1m,hh1m,,0.5",
	}, "\n")

	res, err := Read(strings.NewReader(data), Options{})
	require.NoError(t, err)

	hh1 := res.Households["hh1"]
	require.NotNil(t, hh1)
	require.NotNil(t, hh1.Mirror)
	assert.Equal(t, "hh1m", hh1.Mirror.ID)

	// No explicit weight column: mirrored flexible persons default to 1,
	// their counterfactual members to 0.
	p1 := res.People["p1"]
	require.NotNil(t, p1.InitLaborEffectWeight)
	assert.InDelta(t, 1.0, *p1.InitLaborEffectWeight, 1e-9)

	p1m := res.People["p1m"]
	require.NotNil(t, p1m.InitLaborEffectWeight)
	assert.InDelta(t, 0.0, *p1m.InitLaborEffectWeight, 1e-9)
}

func TestReadDanglingMirrorIsIgnored(t *testing.T) {
	data := strings.Join([]string{
		"income_before_tax,income_after_tax,id,hh_id,mirror_id",
		"40000,30000,p1,hh1,nowhere",
	}, "\n")

	res, err := Read(strings.NewReader(data), Options{})
	require.NoError(t, err)
	assert.Nil(t, res.Households["hh1"].Mirror)
}

func TestLoadFilesRejectsDuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	data := "income_before_tax,income_after_tax,id\n100,90,p1\n"

	a := filepath.Join(dir, "a.csv")
	b := filepath.Join(dir, "b.csv")
	require.NoError(t, os.WriteFile(a, []byte(data), 0o644))
	require.NoError(t, os.WriteFile(b, []byte(data), 0o644))

	_, err := LoadFiles([]string{a, b}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrDuplicateID)
}
