package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/fiscalworks/taxsolver/internal/solver"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82"))

	inactiveStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	budgetStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))
)

func renderRateTable(scenario string, rates []solver.RuleRate) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Rules and rates: %s", scenario)))
	b.WriteString("\n")
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-32s %-18s %-36s %12s %7s %7s",
		"RULE", "KIND", "VARIABLE", "RATE", "ACTIVE", "WEIGHT")))
	b.WriteString("\n")

	for _, r := range rates {
		row := fmt.Sprintf("%-32s %-18s %-36s %12.4f %7d %7.1f",
			r.Name, r.Kind, r.VarName, r.Rate, r.Active, r.Weight)
		if r.Active == 1 {
			b.WriteString(activeStyle.Render(row))
		} else {
			b.WriteString(inactiveStyle.Render(row))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderBudgetLine(current, reformed float64) string {
	return budgetStyle.Render(fmt.Sprintf(
		"Net expenditures: %.2f (status quo %.2f, delta %+.2f)",
		reformed, current, reformed-current))
}
