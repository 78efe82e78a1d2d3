package repo

import (
	"context"
	"database/sql"

	"planline/internal/domain"
)

func (r Repo) CreateSimulation(ctx context.Context, s domain.SimulationRun) (domain.SimulationRun, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SimulationRun{}, err
	}
	defer tx.Rollback()
	created, err := r.CreateSimulationTx(ctx, tx, s)
	if err != nil {
		return domain.SimulationRun{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SimulationRun{}, err
	}
	return created, nil
}

func (r Repo) CreateSimulationTx(ctx context.Context, tx *sql.Tx, s domain.SimulationRun) (domain.SimulationRun, error) {
	_, err := tx.ExecContext(ctx, `INSERT INTO simulations(id, operation_id, plan_id, runs, seed, clean, compromised, compromise_probability, p50_seconds, p90_seconds, detail_json, created_by, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.OperationID, s.PlanID, s.Runs, s.Seed, s.Clean, s.Compromised, s.CompromisePct, s.P50Seconds, s.P90Seconds, nullable(s.DetailJSON), s.CreatedBy, s.CreatedAt)
	if err != nil {
		return domain.SimulationRun{}, err
	}
	return s, nil
}

func (r Repo) GetSimulation(ctx context.Context, id string) (domain.SimulationRun, error) {
	return scanSimulation(r.DB.QueryRowContext(ctx, `SELECT `+simulationColumns+` FROM simulations WHERE id=?`, id))
}

const simulationColumns = `id, operation_id, plan_id, runs, seed, clean, compromised, compromise_probability, p50_seconds, p90_seconds, detail_json, created_by, created_at`

func scanSimulation(s rowScanner) (domain.SimulationRun, error) {
	var run domain.SimulationRun
	var detail sql.NullString
	err := s.Scan(&run.ID, &run.OperationID, &run.PlanID, &run.Runs, &run.Seed, &run.Clean, &run.Compromised, &run.CompromisePct, &run.P50Seconds, &run.P90Seconds, &detail, &run.CreatedBy, &run.CreatedAt)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	if err != nil {
		return run, err
	}
	if detail.Valid {
		run.DetailJSON = detail.String
	}
	return run, nil
}

func (r Repo) ListSimulationsByPlan(ctx context.Context, operationID, planID string) ([]domain.SimulationRun, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+simulationColumns+` FROM simulations WHERE operation_id=? AND plan_id=? ORDER BY created_at ASC, id ASC`, operationID, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SimulationRun
	for rows.Next() {
		run, err := scanSimulation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

// LatestSimulation returns the most recent simulation recorded for an
// operation, across all of its plans.
func (r Repo) LatestSimulation(ctx context.Context, operationID string) (domain.SimulationRun, error) {
	return scanSimulation(r.DB.QueryRowContext(ctx, `SELECT `+simulationColumns+` FROM simulations WHERE operation_id=? ORDER BY created_at DESC, id DESC LIMIT 1`, operationID))
}

// HasCompromisedSimulation reports whether any simulation of the plan ended
// with a compromise probability above the threshold.
func (r Repo) HasCompromisedSimulation(ctx context.Context, operationID, planID string, threshold float64) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT 1 FROM simulations WHERE operation_id=? AND plan_id=? AND compromise_probability > ? LIMIT 1`,
		operationID, planID, threshold)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}
