package loader

import (
	"fmt"
	"math"
	"strconv"

	"github.com/fiscalworks/taxsolver/internal/model"
)

// boundaryEpsilon is the sliver assigned when a value sits exactly on a
// bracket's lower limit, so the bracket registers as touched without
// contributing a real amount.
const boundaryEpsilon = 0.000001

// SplitIntoBrackets distributes targetVar over the brackets defined by the
// inflection points, per group. For every bracket [lo, hi) and group g each
// person gains two derived columns:
//
//	{target}_{g}_{lo}_{hi}             amount of targetVar inside the bracket,
//	                                   zeroed outside the group
//	{target}_{g}_{lo}_{hi}_is_marginal 1 when targetVar falls inside [lo, hi)
//
// Group columns are assumed 0/1. With no groups the split applies to
// everyone via k_everybody. Existing columns are kept unless overwrite is
// set.
func SplitIntoBrackets(people map[string]*model.Person, targetVar string, inflectionPoints []float64, groupVars []string, overwrite bool) error {
	if len(groupVars) == 0 {
		groupVars = []string{"k_everybody"}
	}

	for _, p := range people {
		base, err := p.Value(targetVar)
		if err != nil {
			return fmt.Errorf("split %s into brackets: %w", targetVar, err)
		}

		for i := 0; i+1 < len(inflectionPoints); i++ {
			lo, hi := inflectionPoints[i], inflectionPoints[i+1]
			amount := amountInBracket(base, lo, hi)
			marginal := 0.0
			if base >= lo && base < hi {
				marginal = 1
			}

			for _, g := range groupVars {
				name := fmt.Sprintf("%s_%s_%s_%s", targetVar, g, formatBound(lo), formatBound(hi))
				if !overwrite && p.Has(name) {
					continue
				}
				p.Data[name] = amount * p.Data[g]
				p.Data[name+"_is_marginal"] = marginal
			}
		}
	}
	return nil
}

func amountInBracket(value, lo, hi float64) float64 {
	switch {
	case value == lo:
		return boundaryEpsilon
	case value <= lo:
		return 0
	default:
		return math.Min(value, hi) - lo
	}
}

func formatBound(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	if math.IsInf(v, -1) {
		return "-inf"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
