package backend

import (
	"fmt"
	"io"
	"math"
	"strings"
)

// WriteLP exports a model in CPLEX LP format so it can be handed to an
// external solver engine. Indicator constraints use the LP indicator syntax;
// generalized max constraints and prioritized objectives have no LP
// representation and must be lowered (use the convex adapter) before export.
func WriteLP(w io.Writer, m *Model) error {
	for _, o := range m.Objectives {
		if o.Multi {
			return fmt.Errorf("prioritized objectives are not representable in LP format")
		}
	}
	if len(m.MaxConstrs) > 0 {
		return fmt.Errorf("generalized max constraints are not representable in LP format")
	}

	var sb strings.Builder
	sb.WriteString("\\ taxsolver model export\n")

	sense := "Minimize"
	obj := Expr{}
	if len(m.Objectives) > 0 {
		obj = m.Objectives[0].Expr
		if m.Objectives[0].Sense == Maximize {
			sense = "Maximize"
		}
	}
	if obj.IsQuadratic() {
		return fmt.Errorf("quadratic objective is not supported by the LP exporter")
	}
	sb.WriteString(sense + "\n obj:")
	writeLinear(&sb, m, obj)
	sb.WriteString("\n")

	sb.WriteString("Subject To\n")
	for i, c := range m.Constrs {
		if c.Diff.IsQuadratic() {
			return fmt.Errorf("quadratic constraint %q is not supported by the LP exporter", c.Name)
		}
		fmt.Fprintf(&sb, " %s:", rowName(c.Name, i))
		writeRow(&sb, m, c)
		sb.WriteString("\n")
	}
	for i, ind := range m.Indicators {
		if ind.C.Diff.IsQuadratic() {
			return fmt.Errorf("quadratic indicator %q is not supported by the LP exporter", ind.Name)
		}
		val := 0
		if ind.Val {
			val = 1
		}
		fmt.Fprintf(&sb, " %s: %s = %d ->", rowName(ind.Name, len(m.Constrs)+i), sanitize(m.Vars[ind.Bin.index].Name), val)
		writeRow(&sb, m, ind.C)
		sb.WriteString("\n")
	}

	sb.WriteString("Bounds\n")
	for _, d := range m.Vars {
		if d.Kind == Binary {
			continue
		}
		fmt.Fprintf(&sb, " %s <= %s <= %s\n", lpBound(d.LB), sanitize(d.Name), lpBound(d.UB))
	}

	var generals, binaries []string
	for _, d := range m.Vars {
		switch d.Kind {
		case Integer:
			generals = append(generals, sanitize(d.Name))
		case Binary:
			binaries = append(binaries, sanitize(d.Name))
		}
	}
	if len(generals) > 0 {
		sb.WriteString("Generals\n " + strings.Join(generals, " ") + "\n")
	}
	if len(binaries) > 0 {
		sb.WriteString("Binaries\n " + strings.Join(binaries, " ") + "\n")
	}
	sb.WriteString("End\n")

	_, err := io.WriteString(w, sb.String())
	return err
}

func writeLinear(sb *strings.Builder, m *Model, e Expr) {
	if len(e.Terms) == 0 {
		// LP rows cannot be empty; anchor on the first variable with a zero
		// coefficient.
		if len(m.Vars) > 0 {
			fmt.Fprintf(sb, " + 0 %s", sanitize(m.Vars[0].Name))
		}
		return
	}
	for _, t := range e.Terms {
		if t.Coef >= 0 {
			fmt.Fprintf(sb, " + %g %s", t.Coef, sanitize(m.Vars[t.Var.index].Name))
		} else {
			fmt.Fprintf(sb, " - %g %s", -t.Coef, sanitize(m.Vars[t.Var.index].Name))
		}
	}
}

// writeRow emits "terms op rhs" with the constant moved to the right side.
func writeRow(sb *strings.Builder, m *Model, c Constraint) {
	writeLinear(sb, m, c.Diff)
	fmt.Fprintf(sb, " %s %g", c.Op, -c.Diff.Const)
}

func rowName(name string, i int) string {
	if name == "" {
		return fmt.Sprintf("c%d", i)
	}
	return sanitize(name)
}

func sanitize(name string) string {
	r := strings.NewReplacer(" ", "_", ":", "_", "+", "_", "-", "_", "*", "_", "^", "_", "[", "_", "]", "_")
	return r.Replace(name)
}

func lpBound(v float64) string {
	if math.IsInf(v, -1) {
		return "-inf"
	}
	if math.IsInf(v, 1) {
		return "+inf"
	}
	return fmt.Sprintf("%g", v)
}
