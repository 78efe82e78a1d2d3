package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"planline/internal/config"
	"planline/internal/domain"
	"planline/internal/repo"
)

// ResolveOperationAndConfig picks the active operation and ensures an
// operation + config exist in DB, seeding defaults if missing. Resolution
// order: explicit override, then the workspace planline.yml, then the only
// operation in the DB. If the operation does not exist it is created on the
// fly so a fresh workspace is usable without a separate init step.
func ResolveOperationAndConfig(ctx context.Context, workspace, operationOverride, actorID string, r repo.Repo) (string, *config.Config, error) {
	operationID := operationOverride
	var fileCfg *config.Config
	if operationID == "" {
		if cfg, err := config.LoadOptional(workspace); err != nil {
			return "", nil, err
		} else if cfg != nil && cfg.Operation.ID != "" {
			operationID = cfg.Operation.ID
			fileCfg = cfg
		}
	}
	if operationID == "" {
		if op, err := r.SingleOperation(ctx); err == nil {
			operationID = op.ID
		} else if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		} else {
			return "", nil, fmt.Errorf("operation not specified; use --operation")
		}
	}
	seedCfg := fileCfg
	if seedCfg == nil {
		seedCfg = config.Default(operationID)
	}

	if _, err := r.GetOperation(ctx, operationID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createOperation(ctx, r, operationID, seedCfg, actorID); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetOperationConfig(ctx, operationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertOperationConfig(ctx, operationID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed operation config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Operation.ID = operationID
	return operationID, cfg, nil
}

// createOperation inserts a minimal operation/outfit/rbac footprint using the
// seed config, so the engine can enforce permissions from the first command.
func createOperation(ctx context.Context, r repo.Repo, operationID string, seedCfg *config.Config, actorID string) error {
	if seedCfg == nil {
		seedCfg = config.Default(operationID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	outfitID := "default-outfit"
	op := domain.Operation{
		ID:        operationID,
		OutfitID:  outfitID,
		Status:    "active",
		CreatedAt: now,
	}
	if err := r.EnsureOutfit(ctx, tx, outfitID, "Default Outfit", now); err != nil {
		return fmt.Errorf("ensure outfit: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO operations(id,outfit_id,status,description,created_at) VALUES (?,?,?,?,?)`,
		op.ID, op.OutfitID, op.Status, op.Description, op.CreatedAt); err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	if err := r.UpsertOperationConfigTx(ctx, tx, operationID, seedCfg); err != nil {
		return fmt.Errorf("insert operation config: %w", err)
	}
	if err := seedRoles(ctx, r, tx, operationID, seedCfg); err != nil {
		return fmt.Errorf("seed rbac: %w", err)
	}
	if actorID == "" {
		actorID = "local-user"
	}
	if err := r.EnsureActor(ctx, tx, actorID, now); err != nil {
		return fmt.Errorf("ensure actor: %w", err)
	}
	if err := r.AssignRole(ctx, tx, operationID, actorID, "owner"); err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	if err := r.AssignOutfitRole(ctx, tx, outfitID, actorID, "owner"); err != nil {
		return fmt.Errorf("assign outfit role: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}

// seedRoles mirrors the engine's RBAC seeding for operations created outside
// the engine, before a config is loadable.
func seedRoles(ctx context.Context, r repo.Repo, tx *sql.Tx, operationID string, cfg *config.Config) error {
	if cfg == nil {
		return nil
	}
	for roleID, role := range cfg.RBAC.Roles {
		if err := r.InsertRole(ctx, tx, roleID, role.Description); err != nil {
			return err
		}
		for _, perm := range role.Permissions {
			if err := r.InsertPermission(ctx, tx, perm, ""); err != nil {
				return err
			}
			if err := r.AddRolePermission(ctx, tx, roleID, perm); err != nil {
				return err
			}
		}
	}
	for kind, roles := range cfg.RBAC.ConfirmationAuthorities {
		for _, roleID := range roles {
			if err := r.AllowConfirmationRole(ctx, tx, operationID, kind, roleID); err != nil {
				return err
			}
		}
	}
	return nil
}
