package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fiscalworks/taxsolver/internal/backend"
	"github.com/fiscalworks/taxsolver/internal/storage"
)

func applyCmd() *cobra.Command {
	var (
		scenarioPath string
		backendName  string
		solutionPath string
		dbPath       string
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Replay an external solver solution and report the rule rates",
		Long: `Apply rebuilds the scenario model, verifies an externally produced
variable assignment against every constraint, and prints the resulting
rule and rate table. The run can be persisted for later comparison.

Solution files carry one "variable value" pair per line; lines starting
with # are ignored.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			sc, err := loadScenario(scenarioPath)
			if err != nil {
				return err
			}
			values, err := loadSolution(solutionPath)
			if err != nil {
				return err
			}

			engine := backend.NewAssignmentEngine(values)
			var bk backend.Backend
			switch backendName {
			case "mip":
				bk = backend.NewMIPBackend(engine)
			case "convex":
				bk = backend.NewConvexBackend(engine)
			default:
				return fmt.Errorf("unknown backend %q (want mip or convex)", backendName)
			}
			defer func() { _ = bk.Close() }()

			m, err := buildScenario(sc, bk)
			if err != nil {
				return err
			}

			status := storage.StatusSolved
			if solveErr := m.tx.Solve(ctx); solveErr != nil {
				status = storage.StatusInfeasible
				for _, v := range engine.Violations() {
					slog.Warn("violated", "detail", v)
				}
				if dbPath != "" {
					if err := saveRun(ctx, dbPath, sc, backendName, status, nil); err != nil {
						return err
					}
				}
				return solveErr
			}

			rates, err := m.tx.RulesAndRatesTable()
			if err != nil {
				return err
			}
			fmt.Println(renderRateTable(sc.Name, rates))

			if m.budget != nil {
				spend, err := bk.Value(m.budget.NewExpenditures())
				if err == nil {
					fmt.Println(renderBudgetLine(m.budget.CurrentExpenditures(), spend))
				}
			}

			if dbPath != "" {
				return saveRun(ctx, dbPath, sc, backendName, status, rates)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&scenarioPath, "scenario", "s", "", "scenario YAML file (required)")
	cmd.Flags().StringVar(&solutionPath, "solution", "", "solver solution file (required)")
	cmd.Flags().StringVarP(&backendName, "backend", "b", "mip", "model backend (mip, convex)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database to record the run in")
	_ = cmd.MarkFlagRequired("scenario")
	_ = cmd.MarkFlagRequired("solution")
	return cmd
}

// loadSolution reads "variable value" pairs, one per line.
func loadSolution(path string) (map[string]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open solution: %w", err)
	}
	defer func() { _ = f.Close() }()

	values := make(map[string]float64)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, fmt.Errorf("solution line %d: want \"variable value\", got %q", line, text)
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("solution line %d: %w", line, err)
		}
		values[fields[0]] = v
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read solution: %w", err)
	}
	return values, nil
}
