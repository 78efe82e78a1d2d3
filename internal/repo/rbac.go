package repo

import (
	"context"
	"database/sql"
)

func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID string, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, actorID, now)
	return err
}

func (r Repo) EnsureOutfit(ctx context.Context, tx *sql.Tx, outfitID, name, now string) error {
	if name == "" {
		name = outfitID
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO outfits(id, name, created_at) VALUES (?,?,?)`, outfitID, name, now)
	return err
}

func (r Repo) AssignOutfitRole(ctx context.Context, tx *sql.Tx, outfitID, actorID, role string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO outfit_roles(outfit_id, actor_id, role) VALUES (?,?,?)`, outfitID, actorID, role)
	return err
}

func (r Repo) InsertRole(ctx context.Context, tx *sql.Tx, id, desc string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO roles(id, description) VALUES (?,?)`, id, desc)
	return err
}

func (r Repo) InsertPermission(ctx context.Context, tx *sql.Tx, id, desc string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO permissions(id, description) VALUES (?,?)`, id, desc)
	return err
}

func (r Repo) AddRolePermission(ctx context.Context, tx *sql.Tx, roleID, permID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO role_permissions(role_id, permission_id) VALUES (?,?)`, roleID, permID)
	return err
}

func (r Repo) AssignRole(ctx context.Context, tx *sql.Tx, operationID, actorID, roleID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actor_roles(operation_id, actor_id, role_id) VALUES (?,?,?)`, operationID, actorID, roleID)
	return err
}

func (r Repo) RevokeRole(ctx context.Context, tx *sql.Tx, operationID, actorID, roleID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM actor_roles WHERE operation_id=? AND actor_id=? AND role_id=?`, operationID, actorID, roleID)
	return err
}

func (r Repo) AllowConfirmationRole(ctx context.Context, tx *sql.Tx, operationID, kind, roleID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO confirmation_authorities(operation_id, kind, role_id) VALUES (?,?,?)`, operationID, kind, roleID)
	return err
}

func (r Repo) DenyConfirmationRole(ctx context.Context, tx *sql.Tx, operationID, kind, roleID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM confirmation_authorities WHERE operation_id=? AND kind=? AND role_id=?`, operationID, kind, roleID)
	return err
}
