package repo

import (
	"context"
	"database/sql"
	"strings"

	"planline/internal/domain"
)

func (r Repo) InsertPlanTx(ctx context.Context, tx *sql.Tx, p domain.Plan, entries []domain.PlannedActivity) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO plans(id,operation_id,strategy,risk_policy,anchor_at,makespan_seconds,created_by,created_at)
VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.OperationID, p.Strategy, p.RiskPolicy, p.AnchorAt, p.MakespanS, p.CreatedBy, p.CreatedAt)
	if err != nil {
		return err
	}
	for _, e := range entries {
		_, err := tx.ExecContext(ctx, `INSERT INTO plan_activities(plan_id,activity_id,activity_name,strategy,start_offset_seconds,finish_offset_seconds,effective_impounding,effective_extended_duration,position)
VALUES (?,?,?,?,?,?,?,?,?)`,
			p.ID, e.ActivityID, e.ActivityName, e.Strategy, e.StartOffsetS, e.FinishOffsetS, e.EffImpounding, e.EffExtended, e.Position)
		if err != nil {
			return err
		}
	}
	return nil
}

const planColumns = `id,operation_id,strategy,risk_policy,anchor_at,makespan_seconds,created_by,created_at`

func scanPlan(s rowScanner) (domain.Plan, error) {
	var p domain.Plan
	err := s.Scan(&p.ID, &p.OperationID, &p.Strategy, &p.RiskPolicy, &p.AnchorAt, &p.MakespanS, &p.CreatedBy, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) GetPlan(ctx context.Context, id string) (domain.Plan, error) {
	return scanPlan(r.DB.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id=?`, id))
}

func (r Repo) GetPlanTx(ctx context.Context, tx *sql.Tx, id string) (domain.Plan, error) {
	return scanPlan(tx.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id=?`, id))
}

// LatestPlan returns the most recent plan of an operation.
func (r Repo) LatestPlan(ctx context.Context, operationID string) (domain.Plan, error) {
	return scanPlan(r.DB.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE operation_id=? ORDER BY created_at DESC, id DESC LIMIT 1`, operationID))
}

type PlanFilters struct {
	OperationID     string
	Strategy        string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListPlans(ctx context.Context, f PlanFilters) ([]domain.Plan, error) {
	var clauses []string
	var args []any
	if f.OperationID != "" {
		clauses = append(clauses, "operation_id=?")
		args = append(args, f.OperationID)
	}
	if f.Strategy != "" {
		clauses = append(clauses, "strategy=?")
		args = append(args, f.Strategy)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + planColumns + ` FROM plans ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ListPlanActivities returns a plan's scheduled entries in schedule order.
func (r Repo) ListPlanActivities(ctx context.Context, planID string) ([]domain.PlannedActivity, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT plan_id,activity_id,activity_name,strategy,start_offset_seconds,finish_offset_seconds,effective_impounding,effective_extended_duration,position
FROM plan_activities WHERE plan_id=? ORDER BY position ASC`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PlannedActivity
	for rows.Next() {
		var e domain.PlannedActivity
		if err := rows.Scan(&e.PlanID, &e.ActivityID, &e.ActivityName, &e.Strategy, &e.StartOffsetS, &e.FinishOffsetS, &e.EffImpounding, &e.EffExtended, &e.Position); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) DeletePlan(ctx context.Context, id string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM plan_activities WHERE plan_id=?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM plans WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}
