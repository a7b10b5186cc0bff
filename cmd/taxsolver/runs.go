package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fiscalworks/taxsolver/internal/solver"
	"github.com/fiscalworks/taxsolver/internal/storage"
)

func runsCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded solve runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(cmd.Context(), dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			runs, err := store.ListRuns(cmd.Context(), 50)
			if err != nil {
				return err
			}

			fmt.Println(headerStyle.Render(fmt.Sprintf("%-36s %-20s %-20s %-18s %-8s %-10s",
				"ID", "CREATED", "SCENARIO", "OBJECTIVE", "BACKEND", "STATUS")))
			for _, r := range runs {
				fmt.Printf("%-36s %-20s %-20s %-18s %-8s %-10s\n",
					r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Scenario, r.Objective, r.Backend, r.Status)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "taxsolver.db", "SQLite database path")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its rule and rate table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			run, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(renderRateTable(run.Scenario, run.Rates))
			return nil
		},
	})
	return cmd
}

func openStore(ctx context.Context, dbPath string) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func saveRun(ctx context.Context, dbPath string, sc *Scenario, backendName, status string, rates []solver.RuleRate) error {
	store, err := openStore(ctx, dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	objectiveName := sc.Objective.Type
	if objectiveName == "" {
		objectiveName = "null"
	}
	run := storage.NewRun(sc.Name, objectiveName, backendName, status, rates)
	if err := store.SaveRun(ctx, run); err != nil {
		return err
	}
	fmt.Printf("Recorded run %s\n", run.ID)
	return nil
}
