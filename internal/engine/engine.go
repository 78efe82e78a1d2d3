package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"planline/internal/config"
	"planline/internal/domain"
	"planline/internal/engine/auth"
	"planline/internal/events"
	"planline/internal/graph"
	"planline/internal/plan"
	"planline/internal/plan/strategy"
	"planline/internal/repo"
	"planline/internal/risk"
	"planline/internal/sim"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Auth:   auth.Service{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// InitOperation initializes a new operation with migrations already run.
// The initiating actor is seeded as owner so RBAC has a first authority.
func (e Engine) InitOperation(ctx context.Context, operationID, description, actorID string) (domain.Operation, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Operation{}, err
	}
	defer tx.Rollback()

	op := domain.Operation{
		ID:          operationID,
		Status:      "active",
		Description: description,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO operations(id,status,description,created_at) VALUES (?,?,?,?)`,
		op.ID, op.Status, nullable(op.Description), op.CreatedAt); err != nil {
		return domain.Operation{}, fmt.Errorf("insert operation: %w", err)
	}
	cfg := e.Config
	if cfg == nil {
		cfg = config.Default(op.ID)
	}
	if err := e.Repo.UpsertOperationConfigTx(ctx, tx, op.ID, cfg); err != nil {
		return domain.Operation{}, fmt.Errorf("insert operation config: %w", err)
	}
	if err := e.seedRBAC(ctx, tx, op.ID, cfg); err != nil {
		return domain.Operation{}, fmt.Errorf("seed rbac: %w", err)
	}
	if actorID != "" {
		now := op.CreatedAt
		if err := e.Repo.EnsureActor(ctx, tx, actorID, now); err != nil {
			return domain.Operation{}, err
		}
		if err := e.Repo.AssignRole(ctx, tx, op.ID, actorID, "owner"); err != nil {
			return domain.Operation{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "operation.init", op.ID, "operation", op.ID, actorID, events.EventPayload{"status": op.Status}); err != nil {
		return domain.Operation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Operation{}, err
	}
	return op, nil
}

// seedRBAC loads the configured roles, permissions and confirmation
// authorities into SQL so the auth service can answer from joins alone.
func (e Engine) seedRBAC(ctx context.Context, tx *sql.Tx, operationID string, cfg *config.Config) error {
	if cfg == nil {
		return nil
	}
	for roleID, role := range cfg.RBAC.Roles {
		if err := e.Repo.InsertRole(ctx, tx, roleID, role.Description); err != nil {
			return err
		}
		for _, perm := range role.Permissions {
			if err := e.Repo.InsertPermission(ctx, tx, perm, ""); err != nil {
				return err
			}
			if err := e.Repo.AddRolePermission(ctx, tx, roleID, perm); err != nil {
				return err
			}
		}
	}
	for kind, roles := range cfg.RBAC.ConfirmationAuthorities {
		for _, roleID := range roles {
			if err := e.Repo.AllowConfirmationRole(ctx, tx, operationID, kind, roleID); err != nil {
				return err
			}
		}
	}
	return nil
}

// ResourceCreateOptions are parameters for registering a resource.
type ResourceCreateOptions struct {
	ID          string
	OperationID string
	Name        string
	Kind        string
	OutfitID    string
	ActorID     string
}

func (e Engine) CreateResource(ctx context.Context, opts ResourceCreateOptions) (domain.Resource, error) {
	if opts.Name == "" {
		return domain.Resource{}, errors.New("name is required")
	}
	if opts.OperationID == "" {
		return domain.Resource{}, errors.New("operation is required")
	}
	if _, err := e.Repo.GetOperation(ctx, opts.OperationID); err != nil {
		return domain.Resource{}, err
	}
	if _, err := e.Repo.GetResourceByName(ctx, opts.OperationID, opts.Name); err == nil {
		return domain.Resource{}, fmt.Errorf("resource %s already exists", opts.Name)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Resource{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.OperationID+"|resource|"+opts.Name)).String()
	}
	res := domain.Resource{
		ID:          id,
		OperationID: opts.OperationID,
		Name:        opts.Name,
		Kind:        opts.Kind,
		OutfitID:    optionalString(opts.OutfitID),
		CreatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Resource{}, err
	}
	defer tx.Rollback()
	if res.OutfitID != nil {
		if err := e.Repo.EnsureOutfit(ctx, tx, *res.OutfitID, "", now); err != nil {
			return domain.Resource{}, err
		}
	}
	if err := e.Repo.InsertResourceTx(ctx, tx, res); err != nil {
		return domain.Resource{}, err
	}
	if err := e.Events.Append(ctx, tx, "resource.created", res.OperationID, "resource", res.ID, opts.ActorID, events.EventPayload{"name": res.Name}); err != nil {
		return domain.Resource{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Resource{}, err
	}
	return res, nil
}

// ImpoundResource marks a resource as seized. Activities bound to it can no
// longer start until it is released.
func (e Engine) ImpoundResource(ctx context.Context, resourceID, actorID string) (domain.Resource, error) {
	res, err := e.Repo.GetResource(ctx, resourceID)
	if err != nil {
		return res, err
	}
	if res.Impounded {
		return res, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetResourceImpounded(ctx, tx, res.ID, true); err != nil {
		return res, err
	}
	if err := e.Events.Append(ctx, tx, "resource.impounded", res.OperationID, "resource", res.ID, actorID, events.EventPayload{"name": res.Name}); err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	res.Impounded = true
	return res, nil
}

// ReleaseResource lifts an impound.
func (e Engine) ReleaseResource(ctx context.Context, resourceID, actorID string) (domain.Resource, error) {
	res, err := e.Repo.GetResource(ctx, resourceID)
	if err != nil {
		return res, err
	}
	if !res.Impounded {
		return res, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetResourceImpounded(ctx, tx, res.ID, false); err != nil {
		return res, err
	}
	if err := e.Events.Append(ctx, tx, "resource.released", res.OperationID, "resource", res.ID, actorID, events.EventPayload{"name": res.Name}); err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	res.Impounded = false
	return res, nil
}

// ActivityCreateOptions are parameters for creating an activity.
type ActivityCreateOptions struct {
	ID                     string
	OperationID            string
	StageID                string
	Name                   string
	DurationSeconds        int64
	Resource               string
	RiskOfImpounding       int
	RiskOfExtendedDuration int
	Revealing              bool
	RequiredConfirmations  []string
	DependsOn              []string
	ActorID                string
}

func (e Engine) CreateActivity(ctx context.Context, opts ActivityCreateOptions) (domain.Activity, error) {
	if e.Config == nil {
		return domain.Activity{}, errors.New("config not loaded")
	}
	if opts.Name == "" {
		return domain.Activity{}, errors.New("name is required")
	}
	if opts.OperationID == "" {
		return domain.Activity{}, errors.New("operation is required")
	}
	if opts.Resource == "" {
		return domain.Activity{}, errors.New("resource is required")
	}
	if _, err := e.Repo.GetOperation(ctx, opts.OperationID); err != nil {
		return domain.Activity{}, err
	}
	if opts.StageID != "" {
		st, err := e.Repo.GetStage(ctx, opts.StageID)
		if err != nil {
			return domain.Activity{}, err
		}
		if st.OperationID != opts.OperationID {
			return domain.Activity{}, fmt.Errorf("stage %s not in operation %s", opts.StageID, opts.OperationID)
		}
	}
	res, err := e.resolveResource(ctx, opts.OperationID, opts.Resource)
	if err != nil {
		return domain.Activity{}, err
	}
	for _, kind := range opts.RequiredConfirmations {
		if _, ok := e.Config.Confirmations.Catalog[kind]; !ok {
			return domain.Activity{}, fmt.Errorf("invalid confirmation kind %s: not in catalog", kind)
		}
	}
	deps := make([]string, 0, len(opts.DependsOn))
	for _, ref := range opts.DependsOn {
		dep, err := e.resolveActivity(ctx, opts.OperationID, ref)
		if err != nil {
			return domain.Activity{}, fmt.Errorf("dependency %s: %w", ref, err)
		}
		deps = append(deps, dep.ID)
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.OperationID+"|"+opts.Name+"|"+now)).String()
	}
	a := domain.Activity{
		ID:                     id,
		OperationID:            opts.OperationID,
		StageID:                optionalString(opts.StageID),
		Name:                   opts.Name,
		DurationSeconds:        opts.DurationSeconds,
		ResourceID:             res.ID,
		RiskOfImpounding:       opts.RiskOfImpounding,
		RiskOfExtendedDuration: opts.RiskOfExtendedDuration,
		Revealing:              opts.Revealing,
		Status:                 "planned",
		RequiredConfirmations:  opts.RequiredConfirmations,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Activity{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertActivity(ctx, tx, a); err != nil {
		return domain.Activity{}, err
	}
	if len(deps) > 0 {
		if err := e.Repo.AddDependencies(ctx, tx, a.ID, deps); err != nil {
			return domain.Activity{}, err
		}
	}
	// Rebuild the whole graph inside the transaction; rejects bad risk
	// ranges, negative durations and any dependency cycle before commit.
	if err := e.validateGraphTx(ctx, tx, a.OperationID); err != nil {
		return domain.Activity{}, err
	}
	if err := e.Events.Append(ctx, tx, "activity.created", a.OperationID, "activity", a.ID, opts.ActorID, events.EventPayload{"name": a.Name, "status": a.Status}); err != nil {
		return domain.Activity{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Activity{}, err
	}
	a.DependsOn = deps
	return a, nil
}

// ActivityUpdateOptions encapsulates allowed updates.
type ActivityUpdateOptions struct {
	ID                     string
	Status                 string
	SetStage               *string
	DurationSeconds        *int64
	RiskOfImpounding       *int
	RiskOfExtendedDuration *int
	Revealing              *bool
	RequiredConfirmations  []string
	SetConfirmations       bool
	AddDeps                []string
	RemoveDeps             []string
	ActorID                string
	Force                  bool
}

func (e Engine) UpdateActivity(ctx context.Context, opts ActivityUpdateOptions) (domain.Activity, error) {
	if e.Config == nil {
		return domain.Activity{}, errors.New("config not loaded")
	}
	a, err := e.resolveActivityAnyOperation(ctx, opts.ID)
	if err != nil {
		return a, err
	}
	original := a
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()

	if opts.SetStage != nil {
		if *opts.SetStage == "" {
			a.StageID = nil
		} else {
			st, err := e.Repo.GetStage(ctx, *opts.SetStage)
			if err != nil {
				return a, err
			}
			if st.OperationID != a.OperationID {
				return a, fmt.Errorf("stage %s not in operation %s", st.ID, a.OperationID)
			}
			a.StageID = opts.SetStage
		}
	}
	if opts.DurationSeconds != nil {
		a.DurationSeconds = *opts.DurationSeconds
	}
	if opts.RiskOfImpounding != nil {
		a.RiskOfImpounding = *opts.RiskOfImpounding
	}
	if opts.RiskOfExtendedDuration != nil {
		a.RiskOfExtendedDuration = *opts.RiskOfExtendedDuration
	}
	if opts.Revealing != nil {
		a.Revealing = *opts.Revealing
	}
	if opts.SetConfirmations {
		for _, kind := range opts.RequiredConfirmations {
			if _, ok := e.Config.Confirmations.Catalog[kind]; !ok {
				return a, fmt.Errorf("invalid confirmation kind %s: not in catalog", kind)
			}
		}
		a.RequiredConfirmations = opts.RequiredConfirmations
	}

	if opts.Status != "" && opts.Status != a.Status {
		if err := ensureActivityTransition(a.Status, opts.Status, opts.Force); err != nil {
			return a, err
		}
		switch opts.Status {
		case "underway":
			if err := e.requireLeaseOrForce(ctx, a.ID, opts.ActorID, opts.Force); err != nil {
				return a, err
			}
			if err := e.ensureDependenciesCompleted(ctx, a, opts.Force); err != nil {
				return a, err
			}
			if err := e.ensureResourceAvailable(ctx, tx, a.ResourceID, opts.Force); err != nil {
				return a, err
			}
			now := e.now().UTC().Format(time.RFC3339)
			a.StartedAt = &now
		case "completed":
			if err := e.requireLeaseOrForce(ctx, a.ID, opts.ActorID, opts.Force); err != nil {
				return a, err
			}
			if err := e.ensureDependenciesCompleted(ctx, a, opts.Force); err != nil {
				return a, err
			}
			if err := e.ensureConfirmationsSatisfied(ctx, tx, a, opts.Force); err != nil {
				return a, err
			}
			now := e.now().UTC().Format(time.RFC3339)
			a.CompletedAt = &now
		case "impounded":
			if err := e.Repo.SetResourceImpounded(ctx, tx, a.ResourceID, true); err != nil {
				return a, err
			}
			if err := e.Events.Append(ctx, tx, "resource.impounded", a.OperationID, "resource", a.ResourceID, opts.ActorID, events.EventPayload{"via_activity": a.ID}); err != nil {
				return a, err
			}
		}
		a.Status = opts.Status
	}
	a.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	if len(opts.AddDeps) > 0 {
		ids := make([]string, 0, len(opts.AddDeps))
		for _, ref := range opts.AddDeps {
			dep, err := e.resolveActivity(ctx, a.OperationID, ref)
			if err != nil {
				return a, fmt.Errorf("dependency %s: %w", ref, err)
			}
			ids = append(ids, dep.ID)
		}
		if err := e.Repo.AddDependencies(ctx, tx, a.ID, ids); err != nil {
			return a, err
		}
	}
	if len(opts.RemoveDeps) > 0 {
		ids := make([]string, 0, len(opts.RemoveDeps))
		for _, ref := range opts.RemoveDeps {
			dep, err := e.resolveActivity(ctx, a.OperationID, ref)
			if err != nil {
				return a, fmt.Errorf("dependency %s: %w", ref, err)
			}
			ids = append(ids, dep.ID)
		}
		if err := e.Repo.RemoveDependencies(ctx, tx, a.ID, ids); err != nil {
			return a, err
		}
	}
	if err := e.Repo.UpdateActivity(ctx, tx, a); err != nil {
		return a, err
	}
	if opts.DurationSeconds != nil || opts.RiskOfImpounding != nil || opts.RiskOfExtendedDuration != nil ||
		len(opts.AddDeps) > 0 || len(opts.RemoveDeps) > 0 {
		if err := e.validateGraphTx(ctx, tx, a.OperationID); err != nil {
			return a, err
		}
	}
	evtType := "activity.updated"
	switch {
	case a.Status == original.Status:
	case a.Status == "underway":
		evtType = "activity.started"
	case a.Status == "completed":
		evtType = "activity.completed"
	case a.Status == "impounded":
		evtType = "activity.impounded"
	case a.Status == "aborted":
		evtType = "activity.aborted"
	}
	if err := e.Events.Append(ctx, tx, evtType, a.OperationID, "activity", a.ID, opts.ActorID, events.EventPayload{
		"name":        a.Name,
		"from_status": original.Status,
		"to_status":   a.Status,
	}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	a.DependsOn, _ = e.Repo.ListActivityDependencies(ctx, a.ID)
	return a, nil
}

// StartActivity moves a planned activity underway after the gates pass.
func (e Engine) StartActivity(ctx context.Context, activityID, actorID string, force bool) (domain.Activity, error) {
	return e.UpdateActivity(ctx, ActivityUpdateOptions{ID: activityID, Status: "underway", ActorID: actorID, Force: force})
}

// CompleteActivity finishes an underway activity. Dependencies must be
// completed and every required confirmation recorded, unless forced.
func (e Engine) CompleteActivity(ctx context.Context, activityID, actorID string, force bool) (domain.Activity, error) {
	return e.UpdateActivity(ctx, ActivityUpdateOptions{ID: activityID, Status: "completed", ActorID: actorID, Force: force})
}

// ImpoundActivity records a seizure during execution: the activity ends
// impounded and its resource stays flagged until released.
func (e Engine) ImpoundActivity(ctx context.Context, activityID, actorID string, force bool) (domain.Activity, error) {
	return e.UpdateActivity(ctx, ActivityUpdateOptions{ID: activityID, Status: "impounded", ActorID: actorID, Force: force})
}

func ensureActivityTransition(oldStatus, newStatus string, force bool) error {
	if force {
		return nil
	}
	switch oldStatus {
	case "planned":
		if newStatus == "underway" || newStatus == "aborted" {
			return nil
		}
	case "underway":
		if newStatus == "completed" || newStatus == "impounded" || newStatus == "aborted" {
			return nil
		}
	case "impounded":
		if newStatus == "planned" || newStatus == "aborted" {
			return nil
		}
	}
	return fmt.Errorf("invalid activity status transition %s -> %s", oldStatus, newStatus)
}

func (e Engine) requireLeaseOrForce(ctx context.Context, activityID, actorID string, force bool) error {
	if force {
		return nil
	}
	l, err := e.Repo.GetLease(ctx, activityID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return errors.New("lease required; none exists")
		}
		return err
	}
	now := e.now()
	exp, _ := time.Parse(time.RFC3339, l.ExpiresAt)
	if now.After(exp) {
		return errors.New("lease expired; reacquire")
	}
	if l.OwnerID != actorID {
		return errors.New("lease owned by different actor")
	}
	return nil
}

func (e Engine) ensureDependenciesCompleted(ctx context.Context, a domain.Activity, force bool) error {
	if force {
		return nil
	}
	deps, err := e.Repo.ListActivityDependencies(ctx, a.ID)
	if err != nil {
		return err
	}
	for _, d := range deps {
		dep, err := e.Repo.GetActivity(ctx, d)
		if err != nil {
			return err
		}
		if dep.OperationID != a.OperationID {
			return fmt.Errorf("dependency %s not in operation", d)
		}
		if dep.Status != "completed" {
			return fmt.Errorf("dependency %s not completed", dep.Name)
		}
	}
	return nil
}

func (e Engine) ensureResourceAvailable(ctx context.Context, tx *sql.Tx, resourceID string, force bool) error {
	if force {
		return nil
	}
	res, err := e.Repo.GetResourceTx(ctx, tx, resourceID)
	if err != nil {
		return err
	}
	if res.Impounded {
		return fmt.Errorf("resource %s is impounded", res.Name)
	}
	return nil
}

func (e Engine) ensureConfirmationsSatisfied(ctx context.Context, tx *sql.Tx, a domain.Activity, force bool) error {
	if force || len(a.RequiredConfirmations) == 0 {
		return nil
	}
	kinds, err := e.Repo.ConfirmedKindsTx(ctx, tx, a.ID)
	if err != nil {
		return err
	}
	for _, req := range a.RequiredConfirmations {
		if !kinds[req] {
			return fmt.Errorf("confirmation %s missing", req)
		}
	}
	return nil
}

// ClaimActivity obtains a lease transactionally. A zero ttl falls back to
// the configured default.
func (e Engine) ClaimActivity(ctx context.Context, activityID, actorID string, leaseSeconds int) (domain.Lease, error) {
	if e.Config == nil {
		return domain.Lease{}, errors.New("config not loaded")
	}
	a, err := e.resolveActivityAnyOperation(ctx, activityID)
	if err != nil {
		return domain.Lease{}, err
	}
	if leaseSeconds <= 0 {
		leaseSeconds = e.Config.Defaults.LeaseTTLMinutes * 60
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lease{}, err
	}
	defer tx.Rollback()

	now := e.now().UTC()
	expires := now.Add(time.Duration(leaseSeconds) * time.Second)
	newLease := domain.Lease{
		ActivityID: a.ID,
		OwnerID:    actorID,
		AcquiredAt: now.Format(time.RFC3339),
		ExpiresAt:  expires.Format(time.RFC3339),
	}
	existing, err := e.Repo.GetLeaseTx(ctx, tx, a.ID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return domain.Lease{}, err
	}
	if err == nil {
		exp, _ := time.Parse(time.RFC3339, existing.ExpiresAt)
		if now.Before(exp) && existing.OwnerID != actorID {
			return domain.Lease{}, errors.New("lease already held")
		}
	}
	if err := e.Repo.UpsertLease(ctx, tx, newLease); err != nil {
		return domain.Lease{}, err
	}
	if err := e.Events.Append(ctx, tx, "lease.claimed", a.OperationID, "lease", a.ID, actorID, events.EventPayload{"expires_at": newLease.ExpiresAt}); err != nil {
		return domain.Lease{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lease{}, err
	}
	return newLease, nil
}

func (e Engine) ReleaseActivity(ctx context.Context, activityID, actorID string) error {
	if e.Config == nil {
		return errors.New("config not loaded")
	}
	a, err := e.resolveActivityAnyOperation(ctx, activityID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteLease(ctx, tx, a.ID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "lease.released", a.OperationID, "lease", a.ID, actorID, events.EventPayload{}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) CreateStage(ctx context.Context, st domain.Stage, actorID string) (domain.Stage, error) {
	if e.Config == nil {
		return st, errors.New("config not loaded")
	}
	if _, err := e.Repo.GetOperation(ctx, st.OperationID); err != nil {
		return st, err
	}
	if st.Status == "" {
		st.Status = "pending"
	}
	if st.ID == "" {
		st.ID = uuid.New().String()
	}
	st.CreatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return st, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertStageTx(ctx, tx, st); err != nil {
		return st, err
	}
	if err := e.Events.Append(ctx, tx, "stage.created", st.OperationID, "stage", st.ID, actorID, events.EventPayload{"status": st.Status}); err != nil {
		return st, err
	}
	if err := tx.Commit(); err != nil {
		return st, err
	}
	return st, nil
}

func ensureStageTransition(oldStatus, newStatus string, force bool) error {
	if force {
		return nil
	}
	switch oldStatus {
	case "pending":
		if newStatus == "active" || newStatus == "aborted" {
			return nil
		}
	case "active":
		if newStatus == "completed" || newStatus == "aborted" {
			return nil
		}
	}
	return fmt.Errorf("invalid stage transition %s -> %s", oldStatus, newStatus)
}

func (e Engine) SetStageStatus(ctx context.Context, id, status, actorID string, force bool) (domain.Stage, error) {
	if e.Config == nil {
		return domain.Stage{}, errors.New("config not loaded")
	}
	st, err := e.Repo.GetStage(ctx, id)
	if err != nil {
		return st, err
	}
	if err := ensureStageTransition(st.Status, status, force); err != nil {
		return st, err
	}
	if status == "completed" && !force {
		open, err := e.stageOpenActivities(ctx, id)
		if err != nil {
			return st, err
		}
		if open > 0 {
			return st, fmt.Errorf("%d activities not completed in stage", open)
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return st, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateStageStatus(ctx, tx, id, status); err != nil {
		return st, err
	}
	if err := e.Events.Append(ctx, tx, "stage.updated", st.OperationID, "stage", id, actorID, events.EventPayload{"from": st.Status, "to": status}); err != nil {
		return st, err
	}
	if err := tx.Commit(); err != nil {
		return st, err
	}
	st.Status = status
	return st, nil
}

func (e Engine) stageOpenActivities(ctx context.Context, stageID string) (int, error) {
	row := e.DB.QueryRowContext(ctx, `SELECT count(*) FROM activities WHERE stage_id=? AND status IN ('planned','underway')`, stageID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// RecordDecision stores a decision, optionally tied to a plan.
func (e Engine) RecordDecision(ctx context.Context, d domain.Decision, actorID string) (domain.Decision, error) {
	if e.Config == nil {
		return d, errors.New("config not loaded")
	}
	if d.Title == "" || d.Choice == "" {
		return d, errors.New("title and choice required")
	}
	if _, err := e.Repo.GetOperation(ctx, d.OperationID); err != nil {
		return d, err
	}
	if d.PlanID != nil && *d.PlanID != "" {
		p, err := e.Repo.GetPlan(ctx, *d.PlanID)
		if err != nil {
			return d, err
		}
		if p.OperationID != d.OperationID {
			return d, fmt.Errorf("plan %s not in operation %s", p.ID, d.OperationID)
		}
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.DeciderID == "" {
		d.DeciderID = actorID
	}
	d.CreatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertDecisionTx(ctx, tx, d); err != nil {
		return d, err
	}
	if err := e.Events.Append(ctx, tx, "decision.recorded", d.OperationID, "decision", d.ID, actorID, events.EventPayload{"title": d.Title, "choice": d.Choice}); err != nil {
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}
	return d, nil
}

// AddConfirmation records a sign-off. Kinds must come from the configured
// catalog; when authority roles are registered for the kind, the actor must
// hold one of them.
func (e Engine) AddConfirmation(ctx context.Context, c domain.Confirmation, actorID string) (domain.Confirmation, error) {
	if e.Config == nil {
		return c, errors.New("config not loaded")
	}
	if c.ActivityID == "" || c.Kind == "" {
		return c, errors.New("activity and kind required")
	}
	if _, ok := e.Config.Confirmations.Catalog[c.Kind]; !ok {
		return c, fmt.Errorf("invalid confirmation kind %s: not in catalog", c.Kind)
	}
	a, err := e.resolveActivityAnyOperation(ctx, c.ActivityID)
	if err != nil {
		return c, err
	}
	if c.OperationID == "" {
		c.OperationID = a.OperationID
	}
	if c.OperationID != a.OperationID {
		return c, fmt.Errorf("activity %s not in operation %s", a.ID, c.OperationID)
	}
	if c.ActorID == "" {
		c.ActorID = actorID
	}
	c.ID = uuid.New().String()
	c.ActivityID = a.ID
	if c.TS == "" {
		c.TS = e.now().UTC().Format(time.RFC3339)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	gated, err := e.Auth.KindHasAuthorities(ctx, tx, c.OperationID, c.Kind)
	if err != nil {
		return c, err
	}
	if gated {
		ok, err := e.Auth.ActorCanConfirm(ctx, tx, c.OperationID, c.ActorID, c.Kind)
		if err != nil {
			return c, err
		}
		if !ok {
			return c, auth.ForbiddenConfirmationError{Kind: c.Kind}
		}
	}
	if err := e.Repo.InsertConfirmationTx(ctx, tx, c); err != nil {
		return c, err
	}
	if err := e.Events.Append(ctx, tx, "confirmation.added", c.OperationID, "confirmation", c.ID, actorID, events.EventPayload{"kind": c.Kind, "activity": c.ActivityID}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return c, nil
}

// NextActivity returns the first activity ready to execute, in declaration
// order.
func (e Engine) NextActivity(ctx context.Context, operationID, stageID string) (domain.Activity, error) {
	return e.Repo.NextActivity(ctx, repo.NextActivityFilters{OperationID: operationID, StageID: stageID})
}

// --- graph assembly ---

// loadGraph reads the whole operation and assembles the validated
// dependency graph, returning the handle index keyed by activity ID.
func (e Engine) loadGraph(ctx context.Context, operationID string) (*graph.Graph, map[string]graph.Handle, error) {
	acts, err := e.Repo.OperationActivities(ctx, operationID)
	if err != nil {
		return nil, nil, err
	}
	resources, err := e.Repo.ListResources(ctx, operationID)
	if err != nil {
		return nil, nil, err
	}
	return assembleGraph(acts, resources)
}

func (e Engine) validateGraphTx(ctx context.Context, tx *sql.Tx, operationID string) error {
	acts, err := e.Repo.OperationActivitiesTx(ctx, tx, operationID)
	if err != nil {
		return err
	}
	resources, err := listResourcesTx(ctx, tx, operationID)
	if err != nil {
		return err
	}
	_, _, err = assembleGraph(acts, resources)
	return err
}

func listResourcesTx(ctx context.Context, tx *sql.Tx, operationID string) ([]domain.Resource, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id,operation_id,name,COALESCE(kind,''),impounded FROM resources WHERE operation_id=?`, operationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Resource
	for rows.Next() {
		var r domain.Resource
		if err := rows.Scan(&r.ID, &r.OperationID, &r.Name, &r.Kind, &r.Impounded); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

// assembleGraph builds the immutable graph from stored rows. Activities are
// added in declaration order so handles and topological tie-breaks stay
// stable; dependency edges go in afterwards because stored references may
// point forward.
func assembleGraph(acts []domain.Activity, resources []domain.Resource) (*graph.Graph, map[string]graph.Handle, error) {
	pool := make(map[string]*graph.Resource, len(resources))
	for _, r := range resources {
		pool[r.ID] = &graph.Resource{ID: r.ID, Name: r.Name}
	}
	b := graph.NewBuilder()
	byID := make(map[string]graph.Handle, len(acts))
	for _, a := range acts {
		h, err := b.Add(graph.ActivityConfig{
			Name:                   a.Name,
			Duration:               time.Duration(a.DurationSeconds) * time.Second,
			Resource:               pool[a.ResourceID],
			RiskOfImpounding:       a.RiskOfImpounding,
			RiskOfExtendedDuration: a.RiskOfExtendedDuration,
			Revealing:              a.Revealing,
		})
		if err != nil {
			return nil, nil, err
		}
		byID[a.ID] = h
	}
	for _, a := range acts {
		for _, dep := range a.DependsOn {
			pre, ok := byID[dep]
			if !ok {
				return nil, nil, fmt.Errorf("activity %s depends on unknown activity %s", a.Name, dep)
			}
			if err := b.Depend(byID[a.ID], pre); err != nil {
				return nil, nil, err
			}
		}
	}
	g, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	return g, byID, nil
}

// Order returns the operation's activities in topological execution order.
func (e Engine) Order(ctx context.Context, operationID string) ([]domain.Activity, error) {
	acts, err := e.Repo.OperationActivities(ctx, operationID)
	if err != nil {
		return nil, err
	}
	resources, err := e.Repo.ListResources(ctx, operationID)
	if err != nil {
		return nil, err
	}
	g, byID, err := assembleGraph(acts, resources)
	if err != nil {
		return nil, err
	}
	byHandle := make(map[graph.Handle]domain.Activity, len(acts))
	for _, a := range acts {
		byHandle[byID[a.ID]] = a
	}
	ordered := make([]domain.Activity, 0, len(acts))
	for _, h := range g.TopoOrder() {
		ordered = append(ordered, byHandle[h])
	}
	return ordered, nil
}

// --- planning ---

// PlanBuildOptions are parameters for assembling a plan.
type PlanBuildOptions struct {
	OperationID string
	Strategy    string
	RiskPolicy  string
	AnchorAt    string
	// StrategyOverrides binds a different strategy to single activities by
	// name; everything else uses Strategy.
	StrategyOverrides map[string]string
	ActorID           string
}

func (e Engine) resolveStrategy(name string) (plan.Strategy, error) {
	if name == "" {
		name = e.Config.Defaults.Strategy
	}
	return strategy.New(name, strategy.Options{
		BufferRelief: e.Config.Defaults.BufferRelief,
		LevelGap:     time.Duration(e.Config.Defaults.LevelGapMinutes) * time.Minute,
	})
}

func (e Engine) resolveRiskPolicy(name string) (risk.Policy, error) {
	if name == "" {
		name = e.Config.Defaults.RiskPolicy
	}
	switch name {
	case "", "passthrough":
		return risk.Passthrough{}, nil
	case "reveal-amplifier":
		return risk.RevealAmplifier{Step: e.Config.Defaults.RevealStep}, nil
	default:
		return nil, fmt.Errorf("invalid risk policy %s (have: passthrough, reveal-amplifier)", name)
	}
}

// BuildPlan assembles and stores a schedule for the whole operation.
func (e Engine) BuildPlan(ctx context.Context, opts PlanBuildOptions) (domain.Plan, []domain.PlannedActivity, error) {
	if e.Config == nil {
		return domain.Plan{}, nil, errors.New("config not loaded")
	}
	if _, err := e.Repo.GetOperation(ctx, opts.OperationID); err != nil {
		return domain.Plan{}, nil, err
	}
	strat, err := e.resolveStrategy(opts.Strategy)
	if err != nil {
		return domain.Plan{}, nil, err
	}
	policy, err := e.resolveRiskPolicy(opts.RiskPolicy)
	if err != nil {
		return domain.Plan{}, nil, err
	}
	g, byID, err := e.loadGraph(ctx, opts.OperationID)
	if err != nil {
		return domain.Plan{}, nil, err
	}
	if g.Len() == 0 {
		return domain.Plan{}, nil, errors.New("operation has no activities")
	}
	bind, err := plan.Bind(g, strat)
	if err != nil {
		return domain.Plan{}, nil, err
	}
	for _, name := range sortedKeys(opts.StrategyOverrides) {
		h, ok := g.Lookup(name)
		if !ok {
			return domain.Plan{}, nil, fmt.Errorf("strategy override for unknown activity %s", name)
		}
		s, err := e.resolveStrategy(opts.StrategyOverrides[name])
		if err != nil {
			return domain.Plan{}, nil, err
		}
		bind[h] = s
	}
	assembled, err := plan.Build(g, bind, plan.Options{Policy: policy})
	if err != nil {
		return domain.Plan{}, nil, err
	}
	idByHandle := make(map[graph.Handle]string, len(byID))
	for id, h := range byID {
		idByHandle[h] = id
	}
	now := e.now().UTC().Format(time.RFC3339)
	anchor := opts.AnchorAt
	if anchor == "" {
		anchor = now
	} else if _, err := time.Parse(time.RFC3339, anchor); err != nil {
		return domain.Plan{}, nil, fmt.Errorf("invalid anchor_at: %w", err)
	}
	p := domain.Plan{
		ID:          uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.OperationID+"|plan|"+strat.Name()+"|"+now)).String(),
		OperationID: opts.OperationID,
		Strategy:    strat.Name(),
		RiskPolicy:  policy.Name(),
		AnchorAt:    anchor,
		MakespanS:   int64(assembled.Makespan() / time.Second),
		CreatedBy:   opts.ActorID,
		CreatedAt:   now,
	}
	entries := make([]domain.PlannedActivity, 0, assembled.Len())
	for i, s := range assembled.Entries() {
		entries = append(entries, domain.PlannedActivity{
			PlanID:        p.ID,
			ActivityID:    idByHandle[s.Activity().Handle()],
			ActivityName:  s.Name(),
			Strategy:      s.Strategy().Name(),
			StartOffsetS:  int64(s.Start / time.Second),
			FinishOffsetS: int64(s.Finish / time.Second),
			EffImpounding: s.Risk.Impounding,
			EffExtended:   s.Risk.ExtendedDuration,
			Position:      i,
		})
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Plan{}, nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertPlanTx(ctx, tx, p, entries); err != nil {
		return domain.Plan{}, nil, err
	}
	if err := e.Events.Append(ctx, tx, "plan.created", p.OperationID, "plan", p.ID, opts.ActorID, events.EventPayload{
		"strategy":         p.Strategy,
		"risk_policy":      p.RiskPolicy,
		"makespan_seconds": p.MakespanS,
		"activities":       len(entries),
	}); err != nil {
		return domain.Plan{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Plan{}, nil, err
	}
	return p, entries, nil
}

// --- simulation ---

// SimulationOptions are parameters for a Monte Carlo run.
type SimulationOptions struct {
	OperationID string
	PlanID      string
	Runs        int
	Seed        int64
	ActorID     string
}

// RunSimulation replays the plan's schedule under its recorded strategy and
// risk policy, rolling the effective risks many times over.
func (e Engine) RunSimulation(ctx context.Context, opts SimulationOptions) (domain.SimulationRun, error) {
	if e.Config == nil {
		return domain.SimulationRun{}, errors.New("config not loaded")
	}
	var p domain.Plan
	var err error
	if opts.PlanID != "" {
		p, err = e.Repo.GetPlan(ctx, opts.PlanID)
	} else {
		p, err = e.Repo.LatestPlan(ctx, opts.OperationID)
	}
	if err != nil {
		return domain.SimulationRun{}, err
	}
	if opts.OperationID != "" && p.OperationID != opts.OperationID {
		return domain.SimulationRun{}, fmt.Errorf("plan %s not in operation %s", p.ID, opts.OperationID)
	}
	strat, err := e.resolveStrategy(p.Strategy)
	if err != nil {
		return domain.SimulationRun{}, err
	}
	policy, err := e.resolveRiskPolicy(p.RiskPolicy)
	if err != nil {
		return domain.SimulationRun{}, err
	}
	g, _, err := e.loadGraph(ctx, p.OperationID)
	if err != nil {
		return domain.SimulationRun{}, err
	}
	bind, err := plan.Bind(g, strat)
	if err != nil {
		return domain.SimulationRun{}, err
	}
	assembled, err := plan.Build(g, bind, plan.Options{Policy: policy})
	if err != nil {
		return domain.SimulationRun{}, err
	}
	runs := opts.Runs
	if runs <= 0 {
		runs = e.Config.Simulation.Runs
	}
	seed := opts.Seed
	if seed == 0 {
		seed = e.now().UnixNano()
	}
	runner := sim.Runner{Runs: runs, Seed: seed, OverrunFactor: e.Config.Simulation.OverrunFactor}
	res, err := runner.Run(assembled)
	if err != nil {
		return domain.SimulationRun{}, err
	}
	detail, err := json.Marshal(res.Activities)
	if err != nil {
		return domain.SimulationRun{}, err
	}
	run := domain.SimulationRun{
		ID:            uuid.New().String(),
		OperationID:   p.OperationID,
		PlanID:        p.ID,
		Runs:          res.Runs,
		Seed:          res.Seed,
		Clean:         res.Clean,
		Compromised:   res.Compromised,
		CompromisePct: res.CompromiseProbability,
		P50Seconds:    int64(res.P50 / time.Second),
		P90Seconds:    int64(res.P90 / time.Second),
		DetailJSON:    string(detail),
		CreatedBy:     opts.ActorID,
		CreatedAt:     e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return run, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.CreateSimulationTx(ctx, tx, run); err != nil {
		return run, err
	}
	if err := e.Events.Append(ctx, tx, "simulation.completed", run.OperationID, "simulation", run.ID, opts.ActorID, events.EventPayload{
		"plan_id":                p.ID,
		"runs":                   run.Runs,
		"compromise_probability": run.CompromisePct,
	}); err != nil {
		return run, err
	}
	if err := tx.Commit(); err != nil {
		return run, err
	}
	return run, nil
}

// --- crew ---

// AssignCrew puts an actor on the operation's roster. When the role is one
// of the configured RBAC roles its grants come along.
func (e Engine) AssignCrew(ctx context.Context, operationID, actorID, role string, duties []string, byActorID string) (domain.CrewAssignment, error) {
	if e.Config == nil {
		return domain.CrewAssignment{}, errors.New("config not loaded")
	}
	if actorID == "" {
		return domain.CrewAssignment{}, errors.New("actor required")
	}
	if _, err := e.Repo.GetOperation(ctx, operationID); err != nil {
		return domain.CrewAssignment{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.CrewAssignment{}, err
	}
	defer tx.Rollback()
	ca, err := e.Repo.UpsertCrewAssignmentTx(ctx, tx, operationID, actorID, role, duties)
	if err != nil {
		return domain.CrewAssignment{}, err
	}
	if _, ok := e.Config.RBAC.Roles[role]; ok {
		if err := e.Repo.AssignRole(ctx, tx, operationID, actorID, role); err != nil {
			return domain.CrewAssignment{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "crew.assigned", operationID, "crew", actorID, byActorID, events.EventPayload{"role": role}); err != nil {
		return domain.CrewAssignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.CrewAssignment{}, err
	}
	return ca, nil
}

// RemoveCrew takes an actor off the roster and revokes the role that came
// with the assignment. Explicit extra grants stay.
func (e Engine) RemoveCrew(ctx context.Context, operationID, actorID, byActorID string) error {
	ca, err := e.Repo.GetCrewAssignment(ctx, operationID, actorID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteCrewAssignmentTx(ctx, tx, operationID, actorID); err != nil {
		return err
	}
	if ca.Role != "" {
		if err := e.Repo.RevokeRole(ctx, tx, operationID, actorID, ca.Role); err != nil {
			return err
		}
	}
	if err := e.Events.Append(ctx, tx, "crew.removed", operationID, "crew", actorID, byActorID, events.EventPayload{"role": ca.Role}); err != nil {
		return err
	}
	return tx.Commit()
}

// CrewProfile assembles what an actor is assigned, allowed to confirm and
// which roles they hold.
func (e Engine) CrewProfile(ctx context.Context, operationID, actorID string) (domain.CrewProfile, error) {
	profile := domain.CrewProfile{OperationID: operationID, ActorID: actorID}
	ca, err := e.Repo.GetCrewAssignment(ctx, operationID, actorID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return profile, err
	}
	if err == nil {
		profile.Role = ca.Role
		profile.Duties = ca.Duties
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return profile, err
	}
	defer tx.Rollback()
	roles, err := e.Auth.ActorRoles(ctx, tx, operationID, actorID)
	if err != nil {
		return profile, err
	}
	kinds, err := e.Auth.ActorConfirmationKinds(ctx, tx, operationID, actorID)
	if err != nil {
		return profile, err
	}
	profile.Roles = roles
	profile.Confirms = kinds
	return profile, tx.Commit()
}

// Identity is the resolved RBAC view of an actor within one operation.
type Identity struct {
	ActorID     string
	Roles       []string
	Permissions []string
}

func (e Engine) WhoAmI(ctx context.Context, operationID, actorID string) (Identity, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Identity{}, err
	}
	defer tx.Rollback()
	roles, err := e.Auth.ActorRoles(ctx, tx, operationID, actorID)
	if err != nil {
		return Identity{}, err
	}
	perms, err := e.Auth.ActorPermissions(ctx, tx, operationID, actorID)
	if err != nil {
		return Identity{}, err
	}
	if err := tx.Commit(); err != nil {
		return Identity{}, err
	}
	return Identity{ActorID: actorID, Roles: roles, Permissions: perms}, nil
}

// --- rbac administration ---

// GrantRole assigns an RBAC role, creating the role definition from config
// when it is known there.
func (e Engine) GrantRole(ctx context.Context, operationID, actorID, roleID, byActorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.EnsureActor(ctx, tx, actorID, now); err != nil {
		return err
	}
	if err := e.ensureRoleDefined(ctx, tx, roleID); err != nil {
		return err
	}
	if err := e.Repo.AssignRole(ctx, tx, operationID, actorID, roleID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "rbac.role.granted", operationID, "actor", actorID, byActorID, events.EventPayload{"role": roleID}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) RevokeRoleGrant(ctx context.Context, operationID, actorID, roleID, byActorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RevokeRole(ctx, tx, operationID, actorID, roleID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "rbac.role.revoked", operationID, "actor", actorID, byActorID, events.EventPayload{"role": roleID}); err != nil {
		return err
	}
	return tx.Commit()
}

// AllowConfirmationRole registers a role as an authority for a kind.
func (e Engine) AllowConfirmationRole(ctx context.Context, operationID, kind, roleID, byActorID string) error {
	if e.Config != nil {
		if _, ok := e.Config.Confirmations.Catalog[kind]; !ok {
			return fmt.Errorf("invalid confirmation kind %s: not in catalog", kind)
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.ensureRoleDefined(ctx, tx, roleID); err != nil {
		return err
	}
	if err := e.Repo.AllowConfirmationRole(ctx, tx, operationID, kind, roleID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "rbac.authority.allowed", operationID, "confirmation_kind", kind, byActorID, events.EventPayload{"role": roleID}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) DenyConfirmationRole(ctx context.Context, operationID, kind, roleID, byActorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DenyConfirmationRole(ctx, tx, operationID, kind, roleID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "rbac.authority.denied", operationID, "confirmation_kind", kind, byActorID, events.EventPayload{"role": roleID}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) ensureRoleDefined(ctx context.Context, tx *sql.Tx, roleID string) error {
	if e.Config != nil {
		if roleDef, ok := e.Config.RBAC.Roles[roleID]; ok {
			if err := e.Repo.InsertRole(ctx, tx, roleID, roleDef.Description); err != nil {
				return err
			}
			for _, perm := range roleDef.Permissions {
				if err := e.Repo.InsertPermission(ctx, tx, perm, ""); err != nil {
					return err
				}
				if err := e.Repo.AddRolePermission(ctx, tx, roleID, perm); err != nil {
					return err
				}
			}
			return nil
		}
	}
	return e.Repo.InsertRole(ctx, tx, roleID, "")
}

// --- helpers ---

func (e Engine) resolveResource(ctx context.Context, operationID, ref string) (domain.Resource, error) {
	res, err := e.Repo.GetResource(ctx, ref)
	if err == nil {
		if res.OperationID != operationID {
			return domain.Resource{}, fmt.Errorf("resource %s not in operation %s", ref, operationID)
		}
		return res, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Resource{}, err
	}
	return e.Repo.GetResourceByName(ctx, operationID, ref)
}

func (e Engine) resolveActivity(ctx context.Context, operationID, ref string) (domain.Activity, error) {
	a, err := e.Repo.GetActivity(ctx, ref)
	if err == nil {
		if a.OperationID != operationID {
			return domain.Activity{}, fmt.Errorf("activity %s not in operation %s", ref, operationID)
		}
		return a, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Activity{}, err
	}
	return e.Repo.GetActivityByName(ctx, operationID, ref)
}

func (e Engine) resolveActivityAnyOperation(ctx context.Context, ref string) (domain.Activity, error) {
	a, err := e.Repo.GetActivity(ctx, ref)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Activity{}, err
	}
	op, err := e.Repo.SingleOperation(ctx)
	if err != nil {
		return domain.Activity{}, err
	}
	return e.Repo.GetActivityByName(ctx, op.ID, ref)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
