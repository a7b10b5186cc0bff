package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/fiscalworks/taxsolver/internal/backend"
)

func buildCmd() *cobra.Command {
	var (
		scenarioPath string
		backendName  string
		outPath      string
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a scenario model and export it in CPLEX LP format",
		Long: `Build loads a scenario and its population data, constructs the full
optimization model, and writes it as an LP file for an external solver.

The mip backend keeps indicator constraints native; the convex backend
lowers them to big-M rows for solvers without indicator support.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sc, err := loadScenario(scenarioPath)
			if err != nil {
				return err
			}

			bk, err := newBackend(backendName)
			if err != nil {
				return err
			}
			defer func() { _ = bk.Close() }()

			m, err := buildScenario(sc, bk)
			if err != nil {
				return err
			}
			if err := m.tx.Build(); err != nil {
				return err
			}

			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("create output file: %w", err)
			}
			defer func() { _ = f.Close() }()

			if err := backend.WriteLP(f, modelOf(bk)); err != nil {
				return err
			}

			slog.Info("model exported",
				"scenario", sc.Name,
				"backend", backendName,
				"variables", len(modelOf(bk).Vars),
				"constraints", len(modelOf(bk).Constrs),
				"out", outPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&scenarioPath, "scenario", "s", "", "scenario YAML file (required)")
	cmd.Flags().StringVarP(&backendName, "backend", "b", "convex", "model backend (mip, convex)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "model.lp", "output LP file")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

func newBackend(name string) (backend.Backend, error) {
	switch name {
	case "mip":
		return backend.NewMIPBackend(backend.NewAssignmentEngine(nil)), nil
	case "convex":
		return backend.NewConvexBackend(backend.NewAssignmentEngine(nil)), nil
	default:
		return nil, fmt.Errorf("unknown backend %q (want mip or convex)", name)
	}
}

func modelOf(bk backend.Backend) *backend.Model {
	switch b := bk.(type) {
	case *backend.MIPBackend:
		return b.Model()
	case *backend.ConvexBackend:
		return b.Model()
	}
	return nil
}
