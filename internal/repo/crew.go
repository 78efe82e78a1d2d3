package repo

import (
	"context"
	"database/sql"
	"time"

	"planline/internal/domain"
)

func (r Repo) UpsertCrewAssignment(ctx context.Context, operationID, actorID, role string, duties []string) (domain.CrewAssignment, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.CrewAssignment{}, err
	}
	defer tx.Rollback()
	ca, err := r.UpsertCrewAssignmentTx(ctx, tx, operationID, actorID, role, duties)
	if err != nil {
		return domain.CrewAssignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.CrewAssignment{}, err
	}
	return ca, nil
}

func (r Repo) UpsertCrewAssignmentTx(ctx context.Context, tx *sql.Tx, operationID, actorID, role string, duties []string) (domain.CrewAssignment, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	if err := r.EnsureActor(ctx, tx, actorID, now); err != nil {
		return domain.CrewAssignment{}, err
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO crew_profiles(operation_id, actor_id, role, duties_json, created_at, updated_at)
VALUES (?,?,?,?,?,?)
ON CONFLICT(operation_id, actor_id) DO UPDATE SET role=excluded.role, duties_json=excluded.duties_json, updated_at=excluded.updated_at`,
		operationID, actorID, role, marshalStrings(duties), now, now)
	if err != nil {
		return domain.CrewAssignment{}, err
	}
	return r.GetCrewAssignmentTx(ctx, tx, operationID, actorID)
}

func (r Repo) GetCrewAssignment(ctx context.Context, operationID, actorID string) (domain.CrewAssignment, error) {
	return scanCrewAssignment(r.DB.QueryRowContext(ctx, `SELECT operation_id, actor_id, role, duties_json, created_at, updated_at FROM crew_profiles WHERE operation_id=? AND actor_id=?`,
		operationID, actorID))
}

func (r Repo) GetCrewAssignmentTx(ctx context.Context, tx *sql.Tx, operationID, actorID string) (domain.CrewAssignment, error) {
	return scanCrewAssignment(tx.QueryRowContext(ctx, `SELECT operation_id, actor_id, role, duties_json, created_at, updated_at FROM crew_profiles WHERE operation_id=? AND actor_id=?`,
		operationID, actorID))
}

func scanCrewAssignment(s rowScanner) (domain.CrewAssignment, error) {
	var ca domain.CrewAssignment
	var duties sql.NullString
	err := s.Scan(&ca.OperationID, &ca.ActorID, &ca.Role, &duties, &ca.CreatedAt, &ca.UpdatedAt)
	if err == sql.ErrNoRows {
		return ca, ErrNotFound
	}
	if err != nil {
		return ca, err
	}
	ca.Duties = unmarshalStrings(duties)
	return ca, nil
}

func (r Repo) ListCrewAssignments(ctx context.Context, operationID, actorID string) ([]domain.CrewAssignment, error) {
	query := `SELECT operation_id, actor_id, role, duties_json, created_at, updated_at FROM crew_profiles WHERE operation_id=?`
	args := []any{operationID}
	if actorID != "" {
		query += " AND actor_id=?"
		args = append(args, actorID)
	}
	query += " ORDER BY actor_id ASC"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CrewAssignment
	for rows.Next() {
		ca, err := scanCrewAssignment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, ca)
	}
	return res, rows.Err()
}

func (r Repo) DeleteCrewAssignment(ctx context.Context, operationID, actorID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM crew_profiles WHERE operation_id=? AND actor_id=?`, operationID, actorID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteCrewAssignmentTx(ctx context.Context, tx *sql.Tx, operationID, actorID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM crew_profiles WHERE operation_id=? AND actor_id=?`, operationID, actorID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceCrew swaps the whole crew roster of an operation.
func (r Repo) ReplaceCrew(ctx context.Context, operationID string, crew []domain.CrewAssignment) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.ReplaceCrewTx(ctx, tx, operationID, crew); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) ReplaceCrewTx(ctx context.Context, tx *sql.Tx, operationID string, crew []domain.CrewAssignment) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM crew_profiles WHERE operation_id=?`, operationID); err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for _, ca := range crew {
		if err := r.EnsureActor(ctx, tx, ca.ActorID, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO crew_profiles(operation_id, actor_id, role, duties_json, created_at, updated_at) VALUES (?,?,?,?,?,?)`,
			operationID, ca.ActorID, ca.Role, marshalStrings(ca.Duties), now, now); err != nil {
			return err
		}
	}
	return nil
}
