package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fiscalworks/taxsolver/internal/common"
	"github.com/fiscalworks/taxsolver/internal/solver"
)

// Run statuses.
const (
	StatusSolved     = "solved"
	StatusInfeasible = "infeasible"
	StatusFailed     = "failed"
)

// Run is one persisted solve, with its rule/rate table.
type Run struct {
	CreatedAt time.Time
	ID        string
	Scenario  string
	Objective string
	Backend   string
	Status    string
	Rates     []solver.RuleRate
}

// NewRun builds a run record with a fresh id.
func NewRun(scenario, objective, backendName, status string, rates []solver.RuleRate) *Run {
	return &Run{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Scenario:  scenario,
		Objective: objective,
		Backend:   backendName,
		Status:    status,
		Rates:     rates,
	}
}

// SaveRun writes the run and its rates in one transaction.
func (s *SQLiteStorage) SaveRun(ctx context.Context, run *Run) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run must not be nil")
	}
	if err := validateString(run.ID, "run.ID"); err != nil {
		return err
	}
	if err := validateString(run.Status, "run.Status"); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, scenario, objective, backend, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt, run.Scenario, run.Objective, run.Backend, run.Status); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	for _, r := range run.Rates {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rule_rates (run_id, name, kind, var_name, rate, active, weight)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.ID, r.Name, r.Kind, r.VarName, r.Rate, r.Active, r.Weight); err != nil {
			return fmt.Errorf("failed to save rule rate %s: %w", r.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// GetRun loads a run and its rates by id.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*Run, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	run := &Run{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, scenario, objective, backend, status
		FROM runs WHERE id = ?`, id).
		Scan(&run.ID, &run.CreatedAt, &run.Scenario, &run.Objective, &run.Backend, &run.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, kind, var_name, rate, active, weight
		FROM rule_rates WHERE run_id = ? ORDER BY name`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule rates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var r solver.RuleRate
		if err := rows.Scan(&r.Name, &r.Kind, &r.VarName, &r.Rate, &r.Active, &r.Weight); err != nil {
			return nil, fmt.Errorf("failed to scan rule rate: %w", err)
		}
		run.Rates = append(run.Rates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rule rates: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first, without their rates.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, scenario, objective, backend, status
		FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.CreatedAt, &run.Scenario, &run.Objective, &run.Backend, &run.Status); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}
