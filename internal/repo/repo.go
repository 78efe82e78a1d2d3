package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"planline/internal/config"
	"planline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func scanOperation(row *sql.Row) (domain.Operation, error) {
	var op domain.Operation
	var desc sql.NullString
	err := row.Scan(&op.ID, &op.OutfitID, &op.Status, &desc, &op.CreatedAt)
	if err == sql.ErrNoRows {
		return op, ErrNotFound
	}
	if desc.Valid {
		op.Description = desc.String
	}
	return op, err
}

func (r Repo) InsertOperation(ctx context.Context, op domain.Operation) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO operations(id,outfit_id,status,description,created_at) VALUES (?,?,?,?,?)`,
		op.ID, nullable(op.OutfitID), op.Status, nullable(op.Description), op.CreatedAt)
	return err
}

func (r Repo) GetOperation(ctx context.Context, id string) (domain.Operation, error) {
	return scanOperation(r.DB.QueryRowContext(ctx, `SELECT id,COALESCE(outfit_id,'') AS outfit_id,status,COALESCE(description,'') AS description,created_at FROM operations WHERE id=?`, id))
}

func (r Repo) SingleOperation(ctx context.Context) (domain.Operation, error) {
	ops, err := r.ListOperations(ctx)
	if err != nil {
		return domain.Operation{}, err
	}
	if len(ops) == 0 {
		return domain.Operation{}, ErrNotFound
	}
	if len(ops) > 1 {
		return domain.Operation{}, fmt.Errorf("multiple operations exist; specify --operation")
	}
	return ops[0], nil
}

func (r Repo) ListOperations(ctx context.Context) ([]domain.Operation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,COALESCE(outfit_id,'') AS outfit_id,status,COALESCE(description,'') AS description,created_at FROM operations ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Operation
	for rows.Next() {
		var op domain.Operation
		if err := rows.Scan(&op.ID, &op.OutfitID, &op.Status, &op.Description, &op.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, op)
	}
	return res, nil
}

func (r Repo) UpdateOperation(ctx context.Context, id, status string, description *string) error {
	var (
		fields []string
		args   []any
	)
	if status != "" {
		fields = append(fields, "status=?")
		args = append(args, status)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*description))
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE operations SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteOperation(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM operations WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpsertOperationConfig(ctx context.Context, operationID string, cfg *config.Config) error {
	return upsertOperationConfig(ctx, r.DB, nil, operationID, cfg)
}

func (r Repo) UpsertOperationConfigTx(ctx context.Context, tx *sql.Tx, operationID string, cfg *config.Config) error {
	return upsertOperationConfig(ctx, nil, tx, operationID, cfg)
}

func upsertOperationConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, operationID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Operation.ID = operationID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO operation_configs(operation_id,config_yaml,updated_at) VALUES (?,?,?)
ON CONFLICT(operation_id) DO UPDATE SET config_yaml=excluded.config_yaml, updated_at=excluded.updated_at`, operationID, string(payload), now)
	return err
}

func (r Repo) GetOperationConfig(ctx context.Context, operationID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_yaml FROM operation_configs WHERE operation_id=?`, operationID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	cfg, err := config.FromYAML([]byte(payload))
	if err != nil {
		return nil, err
	}
	if cfg.Operation.ID == "" {
		cfg.Operation.ID = operationID
	}
	return cfg, cfg.Validate()
}

func (r Repo) InsertStage(ctx context.Context, st domain.Stage) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO stages(id,operation_id,objective,status,created_at) VALUES (?,?,?,?,?)`,
		st.ID, st.OperationID, st.Objective, st.Status, st.CreatedAt)
	return err
}

func (r Repo) InsertStageTx(ctx context.Context, tx *sql.Tx, st domain.Stage) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO stages(id,operation_id,objective,status,created_at) VALUES (?,?,?,?,?)`,
		st.ID, st.OperationID, st.Objective, st.Status, st.CreatedAt)
	return err
}

func (r Repo) ListStages(ctx context.Context, operationID string) ([]domain.Stage, error) {
	return r.ListStagesWithCursor(ctx, operationID, 0, "", "")
}

func (r Repo) ListStagesWithCursor(ctx context.Context, operationID string, limit int, cursorCreatedAt, cursorID string) ([]domain.Stage, error) {
	clauses := []string{"operation_id=?"}
	args := []any{operationID}
	if cursorCreatedAt != "" && cursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, cursorCreatedAt, cursorCreatedAt, cursorID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := `SELECT id,operation_id,objective,status,created_at FROM stages ` + where + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Stage
	for rows.Next() {
		var st domain.Stage
		if err := rows.Scan(&st.ID, &st.OperationID, &st.Objective, &st.Status, &st.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, nil
}

func (r Repo) GetStage(ctx context.Context, id string) (domain.Stage, error) {
	var st domain.Stage
	err := r.DB.QueryRowContext(ctx, `SELECT id,operation_id,objective,status,created_at FROM stages WHERE id=?`, id).
		Scan(&st.ID, &st.OperationID, &st.Objective, &st.Status, &st.CreatedAt)
	if err == sql.ErrNoRows {
		return st, ErrNotFound
	}
	return st, err
}

func (r Repo) UpdateStageStatus(ctx context.Context, tx *sql.Tx, id, status string) error {
	_, err := tx.ExecContext(ctx, `UPDATE stages SET status=? WHERE id=?`, status, id)
	return err
}

func (r Repo) ActiveStage(ctx context.Context, operationID string) (*domain.Stage, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,operation_id,objective,status,created_at FROM stages WHERE operation_id=? AND status='active' ORDER BY created_at DESC LIMIT 1`, operationID)
	var st domain.Stage
	err := row.Scan(&st.ID, &st.OperationID, &st.Objective, &st.Status, &st.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (r Repo) InsertResource(ctx context.Context, res domain.Resource) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO resources(id,operation_id,name,kind,outfit_id,impounded,created_at) VALUES (?,?,?,?,?,?,?)`,
		res.ID, res.OperationID, res.Name, nullable(res.Kind), nullableStringPtr(res.OutfitID), res.Impounded, res.CreatedAt)
	return err
}

func (r Repo) InsertResourceTx(ctx context.Context, tx *sql.Tx, res domain.Resource) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO resources(id,operation_id,name,kind,outfit_id,impounded,created_at) VALUES (?,?,?,?,?,?,?)`,
		res.ID, res.OperationID, res.Name, nullable(res.Kind), nullableStringPtr(res.OutfitID), res.Impounded, res.CreatedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(s rowScanner) (domain.Resource, error) {
	var res domain.Resource
	var kind, outfitID sql.NullString
	err := s.Scan(&res.ID, &res.OperationID, &res.Name, &kind, &outfitID, &res.Impounded, &res.CreatedAt)
	if err == sql.ErrNoRows {
		return res, ErrNotFound
	}
	if err != nil {
		return res, err
	}
	if kind.Valid {
		res.Kind = kind.String
	}
	if outfitID.Valid {
		res.OutfitID = &outfitID.String
	}
	return res, nil
}

const resourceColumns = `id,operation_id,name,kind,outfit_id,impounded,created_at`

func (r Repo) GetResource(ctx context.Context, id string) (domain.Resource, error) {
	return scanResource(r.DB.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id=?`, id))
}

func (r Repo) GetResourceTx(ctx context.Context, tx *sql.Tx, id string) (domain.Resource, error) {
	return scanResource(tx.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id=?`, id))
}

func (r Repo) GetResourceByName(ctx context.Context, operationID, name string) (domain.Resource, error) {
	return scanResource(r.DB.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE operation_id=? AND name=?`, operationID, name))
}

func (r Repo) ListResources(ctx context.Context, operationID string) ([]domain.Resource, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE operation_id=? ORDER BY created_at ASC, id ASC`, operationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Resource
	for rows.Next() {
		item, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, item)
	}
	return res, nil
}

func (r Repo) SetResourceImpounded(ctx context.Context, tx *sql.Tx, id string, impounded bool) error {
	res, err := tx.ExecContext(ctx, `UPDATE resources SET impounded=? WHERE id=?`, impounded, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func marshalStrings(vals []string) any {
	if len(vals) == 0 {
		return nil
	}
	data, err := json.Marshal(vals)
	if err != nil {
		return nil
	}
	return string(data)
}

func unmarshalStrings(v sql.NullString) []string {
	if !v.Valid || v.String == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(v.String), &out); err != nil {
		return nil
	}
	return out
}

const activityColumns = `id,operation_id,stage_id,name,duration_seconds,resource_id,risk_of_impounding,risk_of_extended_duration,revealing,status,required_confirmations,created_at,updated_at,started_at,completed_at`

func scanActivity(s rowScanner) (domain.Activity, error) {
	var a domain.Activity
	var stageID, requiredConf, startedAt, completedAt sql.NullString
	err := s.Scan(&a.ID, &a.OperationID, &stageID, &a.Name, &a.DurationSeconds, &a.ResourceID,
		&a.RiskOfImpounding, &a.RiskOfExtendedDuration, &a.Revealing, &a.Status, &requiredConf,
		&a.CreatedAt, &a.UpdatedAt, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if stageID.Valid {
		a.StageID = &stageID.String
	}
	a.RequiredConfirmations = unmarshalStrings(requiredConf)
	if startedAt.Valid {
		a.StartedAt = &startedAt.String
	}
	if completedAt.Valid {
		a.CompletedAt = &completedAt.String
	}
	return a, nil
}

func (r Repo) InsertActivity(ctx context.Context, tx *sql.Tx, a domain.Activity) error {
	var seq int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),-1)+1 FROM activities WHERE operation_id=?`, a.OperationID).Scan(&seq); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO activities(id,operation_id,stage_id,seq,name,duration_seconds,resource_id,risk_of_impounding,risk_of_extended_duration,revealing,status,required_confirmations,created_at,updated_at,started_at,completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.OperationID, nullableStringPtr(a.StageID), seq, a.Name, a.DurationSeconds, a.ResourceID,
		a.RiskOfImpounding, a.RiskOfExtendedDuration, a.Revealing, a.Status, marshalStrings(a.RequiredConfirmations),
		a.CreatedAt, a.UpdatedAt, nullableStringPtr(a.StartedAt), nullableStringPtr(a.CompletedAt))
	return err
}

func (r Repo) UpdateActivity(ctx context.Context, tx *sql.Tx, a domain.Activity) error {
	_, err := tx.ExecContext(ctx, `UPDATE activities SET stage_id=?, name=?, duration_seconds=?, resource_id=?, risk_of_impounding=?, risk_of_extended_duration=?, revealing=?, status=?, required_confirmations=?, updated_at=?, started_at=?, completed_at=? WHERE id=?`,
		nullableStringPtr(a.StageID), a.Name, a.DurationSeconds, a.ResourceID,
		a.RiskOfImpounding, a.RiskOfExtendedDuration, a.Revealing, a.Status, marshalStrings(a.RequiredConfirmations),
		a.UpdatedAt, nullableStringPtr(a.StartedAt), nullableStringPtr(a.CompletedAt), a.ID)
	return err
}

func (r Repo) GetActivity(ctx context.Context, id string) (domain.Activity, error) {
	a, err := scanActivity(r.DB.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE id=?`, id))
	if err != nil {
		return a, err
	}
	deps, err := r.ListActivityDependencies(ctx, a.ID)
	if err != nil {
		return a, err
	}
	a.DependsOn = deps
	return a, nil
}

func (r Repo) GetActivityTx(ctx context.Context, tx *sql.Tx, id string) (domain.Activity, error) {
	a, err := scanActivity(tx.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE id=?`, id))
	if err != nil {
		return a, err
	}
	deps, err := r.ListActivityDependenciesTx(ctx, tx, a.ID)
	if err != nil {
		return a, err
	}
	a.DependsOn = deps
	return a, nil
}

func (r Repo) GetActivityByName(ctx context.Context, operationID, name string) (domain.Activity, error) {
	a, err := scanActivity(r.DB.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE operation_id=? AND name=?`, operationID, name))
	if err != nil {
		return a, err
	}
	deps, err := r.ListActivityDependencies(ctx, a.ID)
	if err != nil {
		return a, err
	}
	a.DependsOn = deps
	return a, nil
}

type ActivityFilters struct {
	OperationID     string
	Status          string
	Stage           string
	ResourceID      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListActivities(ctx context.Context, f ActivityFilters) ([]domain.Activity, error) {
	var clauses []string
	var args []any
	if f.OperationID != "" {
		clauses = append(clauses, "operation_id=?")
		args = append(args, f.OperationID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Stage != "" {
		clauses = append(clauses, "stage_id=?")
		args = append(args, f.Stage)
	}
	if f.ResourceID != "" {
		clauses = append(clauses, "resource_id=?")
		args = append(args, f.ResourceID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + activityColumns + ` FROM activities ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, nil
}

// OperationActivities returns every activity of an operation in declaration
// order, dependencies included. The engine rebuilds the dependency graph
// from this listing, so the order has to be stable.
func (r Repo) OperationActivities(ctx context.Context, operationID string) ([]domain.Activity, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE operation_id=? ORDER BY seq ASC`, operationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		deps, err := r.ListActivityDependencies(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].DependsOn = deps
	}
	return res, nil
}

func (r Repo) OperationActivitiesTx(ctx context.Context, tx *sql.Tx, operationID string) ([]domain.Activity, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE operation_id=? ORDER BY seq ASC`, operationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		deps, err := r.ListActivityDependenciesTx(ctx, tx, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].DependsOn = deps
	}
	return res, nil
}

type NextActivityFilters struct {
	OperationID string
	StageID     string
}

// NextActivity picks the first planned activity whose dependencies are all
// completed and whose resource is not impounded, in declaration order.
func (r Repo) NextActivity(ctx context.Context, f NextActivityFilters) (domain.Activity, error) {
	var a domain.Activity
	if f.OperationID == "" {
		return a, ErrNotFound
	}
	clauses := []string{"operation_id=?", "status='planned'"}
	args := []any{f.OperationID}
	if f.StageID != "" {
		clauses = append(clauses, "stage_id=?")
		args = append(args, f.StageID)
	}
	clauses = append(clauses, `NOT EXISTS (
		SELECT 1 FROM activity_deps d
		JOIN activities dep ON dep.id=d.depends_on_id
		WHERE d.activity_id=activities.id AND dep.status != 'completed'
	)`)
	clauses = append(clauses, `NOT EXISTS (
		SELECT 1 FROM resources res
		WHERE res.id=activities.resource_id AND res.impounded=1
	)`)
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := `SELECT ` + activityColumns + ` FROM activities ` + where + ` ORDER BY seq ASC LIMIT 1`
	a, err := scanActivity(r.DB.QueryRowContext(ctx, query, args...))
	if err != nil {
		return a, err
	}
	deps, err := r.ListActivityDependencies(ctx, a.ID)
	if err != nil {
		return a, err
	}
	a.DependsOn = deps
	return a, nil
}

func (r Repo) ListActivityDependencies(ctx context.Context, activityID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT depends_on_id FROM activity_deps WHERE activity_id=? ORDER BY position ASC`, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var deps []string
	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

func (r Repo) ListActivityDependenciesTx(ctx context.Context, tx *sql.Tx, activityID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT depends_on_id FROM activity_deps WHERE activity_id=? ORDER BY position ASC`, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var deps []string
	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

// AddDependencies appends edges after the existing ones, preserving the
// order the caller declared them in.
func (r Repo) AddDependencies(ctx context.Context, tx *sql.Tx, activityID string, deps []string) error {
	var next int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position),-1)+1 FROM activity_deps WHERE activity_id=?`, activityID).Scan(&next); err != nil {
		return err
	}
	for _, d := range deps {
		res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO activity_deps(activity_id, depends_on_id, position) VALUES (?,?,?)`, activityID, d, next)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			next++
		}
	}
	return nil
}

func (r Repo) RemoveDependencies(ctx context.Context, tx *sql.Tx, activityID string, deps []string) error {
	for _, d := range deps {
		if _, err := tx.ExecContext(ctx, `DELETE FROM activity_deps WHERE activity_id=? AND depends_on_id=?`, activityID, d); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListDependents(ctx context.Context, tx *sql.Tx, activityID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT activity_id FROM activity_deps WHERE depends_on_id=?`, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r Repo) UpsertLease(ctx context.Context, tx *sql.Tx, lease domain.Lease) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO leases(activity_id,owner_id,acquired_at,expires_at) VALUES (?,?,?,?)
ON CONFLICT(activity_id) DO UPDATE SET owner_id=excluded.owner_id, acquired_at=excluded.acquired_at, expires_at=excluded.expires_at`, lease.ActivityID, lease.OwnerID, lease.AcquiredAt, lease.ExpiresAt)
	return err
}

func (r Repo) DeleteLease(ctx context.Context, tx *sql.Tx, activityID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM leases WHERE activity_id=?`, activityID)
	return err
}

func (r Repo) GetLeaseTx(ctx context.Context, tx *sql.Tx, activityID string) (domain.Lease, error) {
	var l domain.Lease
	err := tx.QueryRowContext(ctx, `SELECT activity_id,owner_id,acquired_at,expires_at FROM leases WHERE activity_id=?`, activityID).
		Scan(&l.ActivityID, &l.OwnerID, &l.AcquiredAt, &l.ExpiresAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	return l, err
}

func (r Repo) GetLease(ctx context.Context, activityID string) (domain.Lease, error) {
	var l domain.Lease
	err := r.DB.QueryRowContext(ctx, `SELECT activity_id,owner_id,acquired_at,expires_at FROM leases WHERE activity_id=?`, activityID).
		Scan(&l.ActivityID, &l.OwnerID, &l.AcquiredAt, &l.ExpiresAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	return l, err
}

func (r Repo) InsertConfirmation(ctx context.Context, c domain.Confirmation) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO confirmations(id,operation_id,activity_id,kind,actor_id,ts,payload_json) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.OperationID, c.ActivityID, c.Kind, c.ActorID, c.TS, nullable(c.PayloadJSON))
	return err
}

func (r Repo) InsertConfirmationTx(ctx context.Context, tx *sql.Tx, c domain.Confirmation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO confirmations(id,operation_id,activity_id,kind,actor_id,ts,payload_json) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.OperationID, c.ActivityID, c.Kind, c.ActorID, c.TS, nullable(c.PayloadJSON))
	return err
}

// ConfirmedKindsTx lists the distinct confirmation kinds recorded for an
// activity, read inside the caller's transaction so completion guards see
// confirmations added earlier in the same transaction.
func (r Repo) ConfirmedKindsTx(ctx context.Context, tx *sql.Tx, activityID string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT DISTINCT kind FROM confirmations WHERE activity_id=?`, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	kinds := map[string]bool{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		kinds[k] = true
	}
	return kinds, nil
}

type ConfirmationFilters struct {
	OperationID string
	ActivityID  string
	Kind        string
	ActorID     string
	Limit       int
	CursorTS    string
	CursorID    string
}

func (r Repo) ListConfirmations(ctx context.Context, f ConfirmationFilters) ([]domain.Confirmation, error) {
	var clauses []string
	var args []any
	if f.OperationID != "" {
		clauses = append(clauses, "operation_id=?")
		args = append(args, f.OperationID)
	}
	if f.ActivityID != "" {
		clauses = append(clauses, "activity_id=?")
		args = append(args, f.ActivityID)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	if f.ActorID != "" {
		clauses = append(clauses, "actor_id=?")
		args = append(args, f.ActorID)
	}
	if f.CursorTS != "" && f.CursorID != "" {
		clauses = append(clauses, "(ts < ? OR (ts = ? AND id < ?))")
		args = append(args, f.CursorTS, f.CursorTS, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,operation_id,activity_id,kind,actor_id,ts,payload_json FROM confirmations ` + where + ` ORDER BY ts DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Confirmation
	for rows.Next() {
		var c domain.Confirmation
		var payload sql.NullString
		if err := rows.Scan(&c.ID, &c.OperationID, &c.ActivityID, &c.Kind, &c.ActorID, &c.TS, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			c.PayloadJSON = payload.String
		}
		res = append(res, c)
	}
	return res, nil
}

func (r Repo) CountActivitiesByStatus(ctx context.Context, operationID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM activities WHERE operation_id=? GROUP BY status`, operationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, nil
}

func (r Repo) LatestEvents(ctx context.Context, limit int, operationID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, operationID, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, operationID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if operationID != "" {
		clauses = append(clauses, "operation_id=?")
		args = append(args, operationID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,operation_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.OperationID, &e.EntityKind, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, nil
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, operationID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if operationID != "" {
		clauses = append(clauses, "operation_id=?")
		args = append(args, operationID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,operation_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.OperationID, &e.EntityKind, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, nil
}

// LatestEventID returns the most recent event ID for an operation.
func (r Repo) LatestEventID(ctx context.Context, operationID string) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE operation_id=?`, operationID)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) InsertDecision(ctx context.Context, d domain.Decision) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO decisions(id,operation_id,plan_id,title,choice,decider_id,rationale_json,alternatives_json,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		d.ID, d.OperationID, nullableStringPtr(d.PlanID), d.Title, d.Choice, d.DeciderID, nullable(d.RationaleJSON), nullable(d.AlternativesJSON), d.CreatedAt)
	return err
}

func (r Repo) InsertDecisionTx(ctx context.Context, tx *sql.Tx, d domain.Decision) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO decisions(id,operation_id,plan_id,title,choice,decider_id,rationale_json,alternatives_json,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		d.ID, d.OperationID, nullableStringPtr(d.PlanID), d.Title, d.Choice, d.DeciderID, nullable(d.RationaleJSON), nullable(d.AlternativesJSON), d.CreatedAt)
	return err
}

type DecisionFilters struct {
	OperationID     string
	PlanID          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListDecisions(ctx context.Context, f DecisionFilters) ([]domain.Decision, error) {
	var clauses []string
	var args []any
	if f.OperationID != "" {
		clauses = append(clauses, "operation_id=?")
		args = append(args, f.OperationID)
	}
	if f.PlanID != "" {
		clauses = append(clauses, "plan_id=?")
		args = append(args, f.PlanID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,operation_id,plan_id,title,choice,decider_id,rationale_json,alternatives_json,created_at FROM decisions ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Decision
	for rows.Next() {
		var d domain.Decision
		var planID, rationale, alternatives sql.NullString
		if err := rows.Scan(&d.ID, &d.OperationID, &planID, &d.Title, &d.Choice, &d.DeciderID, &rationale, &alternatives, &d.CreatedAt); err != nil {
			return nil, err
		}
		if planID.Valid {
			d.PlanID = &planID.String
		}
		if rationale.Valid {
			d.RationaleJSON = rationale.String
		}
		if alternatives.Valid {
			d.AlternativesJSON = alternatives.String
		}
		res = append(res, d)
	}
	return res, nil
}
