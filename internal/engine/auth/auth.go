package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// ForbiddenConfirmationError indicates missing authority for a confirmation kind.
type ForbiddenConfirmationError struct {
	Kind string
}

func (e ForbiddenConfirmationError) Error() string {
	return fmt.Sprintf("confirmation authority required for kind %s", e.Kind)
}

// Service provides RBAC helpers backed by SQL.
type Service struct {
	DB *sql.DB
}

func (s Service) EnsureActor(ctx context.Context, tx *sql.Tx, actorID string) error {
	if actorID == "" {
		return errors.New("actor_id required")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, actorID, now)
	return err
}

func (s Service) ActorHasPermission(ctx context.Context, tx *sql.Tx, operationID, actorID, perm string) (bool, error) {
	row := tx.QueryRowContext(ctx, `
SELECT 1 FROM actor_roles ar
JOIN role_permissions rp ON rp.role_id=ar.role_id
WHERE ar.operation_id=? AND ar.actor_id=? AND rp.permission_id=? LIMIT 1`,
		operationID, actorID, perm)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (s Service) ActorRoles(ctx context.Context, tx *sql.Tx, operationID, actorID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT role_id FROM actor_roles WHERE operation_id=? AND actor_id=?`, operationID, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, nil
}

func (s Service) ActorPermissions(ctx context.Context, tx *sql.Tx, operationID, actorID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
SELECT DISTINCT rp.permission_id
FROM actor_roles ar
JOIN role_permissions rp ON rp.role_id=ar.role_id
WHERE ar.operation_id=? AND ar.actor_id=?`, operationID, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, nil
}

func (s Service) ActorCanConfirm(ctx context.Context, tx *sql.Tx, operationID, actorID, kind string) (bool, error) {
	row := tx.QueryRowContext(ctx, `
SELECT 1 FROM actor_roles ar
JOIN confirmation_authorities ca ON ca.role_id=ar.role_id
WHERE ar.operation_id=? AND ar.actor_id=? AND ca.operation_id=? AND ca.kind=? LIMIT 1`,
		operationID, actorID, operationID, kind)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// KindHasAuthorities reports whether any role is registered as an authority
// for the kind. Confirmation gating only applies to kinds that have one.
func (s Service) KindHasAuthorities(ctx context.Context, tx *sql.Tx, operationID, kind string) (bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM confirmation_authorities WHERE operation_id=? AND kind=? LIMIT 1`, operationID, kind)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (s Service) ActorConfirmationKinds(ctx context.Context, tx *sql.Tx, operationID, actorID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
SELECT DISTINCT ca.kind
FROM actor_roles ar
JOIN confirmation_authorities ca ON ca.role_id=ar.role_id
WHERE ar.operation_id=? AND ar.actor_id=? AND ca.operation_id=?`,
		operationID, actorID, operationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var kinds []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, rows.Err()
}
