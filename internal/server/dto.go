package server

import (
	"encoding/json"

	"planline/internal/config"
	"planline/internal/domain"
)

// Request payloads

type CreateOperationRequest struct {
	ID          string  `json:"id"`
	Description *string `json:"description,omitempty"`
}

type CreateResourceRequest struct {
	ID       *string `json:"id,omitempty"`
	Name     string  `json:"name"`
	Kind     string  `json:"kind,omitempty"`
	OutfitID *string `json:"outfit_id,omitempty"`
}

type CreateStageRequest struct {
	ID        string `json:"id"`
	Objective string `json:"objective"`
}

type SetStageStatusRequest struct {
	Status string `json:"status" enum:"pending,active,completed,aborted"`
}

type CreateActivityRequest struct {
	ID                     *string  `json:"id,omitempty"`
	StageID                *string  `json:"stage_id,omitempty"`
	Name                   string   `json:"name"`
	DurationSeconds        int64    `json:"duration_seconds"`
	Resource               string   `json:"resource"`
	RiskOfImpounding       int      `json:"risk_of_impounding,omitempty"`
	RiskOfExtendedDuration int      `json:"risk_of_extended_duration,omitempty"`
	Revealing              bool     `json:"revealing,omitempty"`
	RequiredConfirmations  []string `json:"required_confirmations,omitempty"`
	DependsOn              []string `json:"depends_on,omitempty"`
}

type UpdateActivityRequest struct {
	Status                 *string  `json:"status,omitempty" enum:"planned,underway,completed,impounded,aborted"`
	StageID                *string  `json:"stage_id,omitempty"`
	DurationSeconds        *int64   `json:"duration_seconds,omitempty"`
	RiskOfImpounding       *int     `json:"risk_of_impounding,omitempty"`
	RiskOfExtendedDuration *int     `json:"risk_of_extended_duration,omitempty"`
	Revealing              *bool    `json:"revealing,omitempty"`
	RequiredConfirmations  []string `json:"required_confirmations,omitempty"`
	AddDependsOn           []string `json:"add_depends_on,omitempty"`
	RemoveDependsOn        []string `json:"remove_depends_on,omitempty"`
}

type BuildPlanRequest struct {
	Strategy          *string           `json:"strategy,omitempty" enum:"earliest,buffered,leveling"`
	RiskPolicy        *string           `json:"risk_policy,omitempty" enum:"passthrough,reveal-amplifier"`
	AnchorAt          *string           `json:"anchor_at,omitempty" format:"date-time"`
	StrategyOverrides map[string]string `json:"strategy_overrides,omitempty"`
}

type RunSimulationRequest struct {
	PlanID *string `json:"plan_id,omitempty"`
	Runs   *int    `json:"runs,omitempty"`
	Seed   *int64  `json:"seed,omitempty"`
}

type CreateDecisionRequest struct {
	ID           *string  `json:"id,omitempty"`
	PlanID       *string  `json:"plan_id,omitempty"`
	Title        string   `json:"title"`
	Choice       string   `json:"choice"`
	DeciderID    *string  `json:"decider_id,omitempty"`
	Rationale    []string `json:"rationale,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
}

type AddConfirmationRequest struct {
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload,omitempty"`
}

type AssignCrewRequest struct {
	ActorID string   `json:"actor_id"`
	Role    string   `json:"role"`
	Duties  []string `json:"duties,omitempty"`
}

type RoleGrantRequest struct {
	ActorID string `json:"actor_id"`
	RoleID  string `json:"role_id"`
}

type ConfirmationRoleRequest struct {
	Kind   string `json:"kind"`
	RoleID string `json:"role_id"`
}

type DevLoginRequest struct {
	ActorID     string   `json:"actor_id"`
	OutfitID    string   `json:"outfit_id,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type OperationResponse struct {
	ID          string `json:"id"`
	OutfitID    string `json:"outfit_id,omitempty"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type StageResponse struct {
	ID          string `json:"id"`
	OperationID string `json:"operation_id"`
	Objective   string `json:"objective"`
	Status      string `json:"status" enum:"pending,active,completed,aborted"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type ResourceResponse struct {
	ID          string  `json:"id"`
	OperationID string  `json:"operation_id"`
	Name        string  `json:"name"`
	Kind        string  `json:"kind,omitempty"`
	OutfitID    *string `json:"outfit_id,omitempty"`
	Impounded   bool    `json:"impounded"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type ActivityResponse struct {
	ID                     string   `json:"id"`
	OperationID            string   `json:"operation_id"`
	StageID                *string  `json:"stage_id,omitempty"`
	Name                   string   `json:"name"`
	DurationSeconds        int64    `json:"duration_seconds"`
	ResourceID             string   `json:"resource_id"`
	RiskOfImpounding       int      `json:"risk_of_impounding"`
	RiskOfExtendedDuration int      `json:"risk_of_extended_duration"`
	Revealing              bool     `json:"revealing"`
	Status                 string   `json:"status" enum:"planned,underway,completed,impounded,aborted"`
	RequiredConfirmations  []string `json:"required_confirmations,omitempty"`
	DependsOn              []string `json:"depends_on"`
	CreatedAt              string   `json:"created_at" format:"date-time"`
	UpdatedAt              string   `json:"updated_at" format:"date-time"`
	StartedAt              *string  `json:"started_at,omitempty" format:"date-time"`
	CompletedAt            *string  `json:"completed_at,omitempty" format:"date-time"`
}

type PlanResponse struct {
	ID          string `json:"id"`
	OperationID string `json:"operation_id"`
	Strategy    string `json:"strategy"`
	RiskPolicy  string `json:"risk_policy"`
	AnchorAt    string `json:"anchor_at" format:"date-time"`
	MakespanS   int64  `json:"makespan_seconds"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type PlannedActivityResponse struct {
	PlanID        string `json:"plan_id"`
	ActivityID    string `json:"activity_id"`
	ActivityName  string `json:"activity_name"`
	Strategy      string `json:"strategy"`
	StartOffsetS  int64  `json:"start_offset_seconds"`
	FinishOffsetS int64  `json:"finish_offset_seconds"`
	EffImpounding int    `json:"effective_impounding"`
	EffExtended   int    `json:"effective_extended_duration"`
	Position      int    `json:"position"`
}

type PlanDetailResponse struct {
	Plan       PlanResponse              `json:"plan"`
	Activities []PlannedActivityResponse `json:"activities"`
}

type SimulationResponse struct {
	ID            string           `json:"id"`
	OperationID   string           `json:"operation_id"`
	PlanID        string           `json:"plan_id"`
	Runs          int              `json:"runs"`
	Seed          int64            `json:"seed"`
	Clean         int              `json:"clean"`
	Compromised   int              `json:"compromised"`
	CompromisePct float64          `json:"compromise_probability"`
	P50Seconds    int64            `json:"p50_seconds"`
	P90Seconds    int64            `json:"p90_seconds"`
	Detail        []map[string]any `json:"detail,omitempty"`
	CreatedBy     string           `json:"created_by"`
	CreatedAt     string           `json:"created_at" format:"date-time"`
}

type DecisionResponse struct {
	ID           string   `json:"id"`
	OperationID  string   `json:"operation_id"`
	PlanID       *string  `json:"plan_id,omitempty"`
	Title        string   `json:"title"`
	Choice       string   `json:"choice"`
	DeciderID    string   `json:"decider_id"`
	Rationale    []string `json:"rationale,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
}

type LeaseResponse struct {
	ActivityID string `json:"activity_id"`
	OwnerID    string `json:"owner_id"`
	AcquiredAt string `json:"acquired_at" format:"date-time"`
	ExpiresAt  string `json:"expires_at" format:"date-time"`
}

type ConfirmationResponse struct {
	ID          string         `json:"id"`
	OperationID string         `json:"operation_id"`
	ActivityID  string         `json:"activity_id"`
	Kind        string         `json:"kind"`
	ActorID     string         `json:"actor_id"`
	TS          string         `json:"ts" format:"date-time"`
	Payload     map[string]any `json:"payload,omitempty"`
}

type EventResponse struct {
	ID          int64          `json:"id"`
	TS          string         `json:"ts" format:"date-time"`
	Type        string         `json:"type"`
	OperationID string         `json:"operation_id,omitempty"`
	EntityKind  string         `json:"entity_kind"`
	EntityID    string         `json:"entity_id,omitempty"`
	ActorID     string         `json:"actor_id"`
	Payload     map[string]any `json:"payload"`
}

type CrewResponse struct {
	OperationID string   `json:"operation_id"`
	ActorID     string   `json:"actor_id"`
	Role        string   `json:"role"`
	Duties      []string `json:"duties"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

type CrewProfileResponse struct {
	OperationID string   `json:"operation_id"`
	ActorID     string   `json:"actor_id"`
	Role        string   `json:"role,omitempty"`
	Duties      []string `json:"duties"`
	Confirms    []string `json:"confirms"`
	Roles       []string `json:"roles"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	OutfitID    string   `json:"outfit_id,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type OperationConfigResponse struct {
	Operation     operationConfigSection    `json:"operation"`
	Defaults      defaultsConfigSection     `json:"defaults"`
	Confirmations confirmationConfigSection `json:"confirmations"`
	Simulation    simulationConfigSection   `json:"simulation"`
}

type operationConfigSection struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
}

type defaultsConfigSection struct {
	Strategy        string `json:"strategy"`
	RiskPolicy      string `json:"risk_policy"`
	RevealStep      int    `json:"reveal_step"`
	BufferRelief    int    `json:"buffer_relief"`
	LevelGapMinutes int    `json:"level_gap_minutes"`
	LeaseTTLMinutes int    `json:"lease_ttl_minutes"`
}

type confirmationConfigSection struct {
	Catalog map[string]struct {
		Description string `json:"description"`
	} `json:"catalog"`
}

type simulationConfigSection struct {
	Runs          int     `json:"runs"`
	OverrunFactor float64 `json:"overrun_factor"`
}

type paginatedActivities struct {
	Items      []ActivityResponse `json:"items"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

type paginatedStages struct {
	Items      []StageResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type paginatedPlans struct {
	Items      []PlanResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedDecisions struct {
	Items      []DecisionResponse `json:"items"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

type paginatedConfirmations struct {
	Items      []ConfirmationResponse `json:"items"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func operationResponse(op domain.Operation) OperationResponse {
	return OperationResponse(op)
}

func stageResponse(st domain.Stage) StageResponse {
	return StageResponse(st)
}

func resourceResponse(res domain.Resource) ResourceResponse {
	return ResourceResponse(res)
}

func activityResponse(a domain.Activity) ActivityResponse {
	return ActivityResponse{
		ID:                     a.ID,
		OperationID:            a.OperationID,
		StageID:                a.StageID,
		Name:                   a.Name,
		DurationSeconds:        a.DurationSeconds,
		ResourceID:             a.ResourceID,
		RiskOfImpounding:       a.RiskOfImpounding,
		RiskOfExtendedDuration: a.RiskOfExtendedDuration,
		Revealing:              a.Revealing,
		Status:                 a.Status,
		RequiredConfirmations:  a.RequiredConfirmations,
		DependsOn:              nonNilSlice(a.DependsOn),
		CreatedAt:              a.CreatedAt,
		UpdatedAt:              a.UpdatedAt,
		StartedAt:              a.StartedAt,
		CompletedAt:            a.CompletedAt,
	}
}

func planResponse(p domain.Plan) PlanResponse {
	return PlanResponse(p)
}

func plannedActivityResponse(pa domain.PlannedActivity) PlannedActivityResponse {
	return PlannedActivityResponse(pa)
}

func simulationResponse(s domain.SimulationRun) SimulationResponse {
	return SimulationResponse{
		ID:            s.ID,
		OperationID:   s.OperationID,
		PlanID:        s.PlanID,
		Runs:          s.Runs,
		Seed:          s.Seed,
		Clean:         s.Clean,
		Compromised:   s.Compromised,
		CompromisePct: s.CompromisePct,
		P50Seconds:    s.P50Seconds,
		P90Seconds:    s.P90Seconds,
		Detail:        decodeObjectSlice(s.DetailJSON),
		CreatedBy:     s.CreatedBy,
		CreatedAt:     s.CreatedAt,
	}
}

func decisionResponse(d domain.Decision) DecisionResponse {
	return DecisionResponse{
		ID:           d.ID,
		OperationID:  d.OperationID,
		PlanID:       d.PlanID,
		Title:        d.Title,
		Choice:       d.Choice,
		DeciderID:    d.DeciderID,
		Rationale:    decodeStringSlice(strPtr(d.RationaleJSON)),
		Alternatives: decodeStringSlice(strPtr(d.AlternativesJSON)),
		CreatedAt:    d.CreatedAt,
	}
}

func leaseResponse(l domain.Lease) LeaseResponse {
	return LeaseResponse(l)
}

func confirmationResponse(c domain.Confirmation) ConfirmationResponse {
	return ConfirmationResponse{
		ID:          c.ID,
		OperationID: c.OperationID,
		ActivityID:  c.ActivityID,
		Kind:        c.Kind,
		ActorID:     c.ActorID,
		TS:          c.TS,
		Payload:     decodeJSONMap(strPtr(c.PayloadJSON)),
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:          e.ID,
		TS:          e.TS,
		Type:        e.Type,
		OperationID: e.OperationID,
		EntityKind:  e.EntityKind,
		EntityID:    e.EntityID,
		ActorID:     e.ActorID,
		Payload:     decodeJSONMap(strPtr(e.Payload)),
	}
}

func crewResponse(ca domain.CrewAssignment) CrewResponse {
	return CrewResponse{
		OperationID: ca.OperationID,
		ActorID:     ca.ActorID,
		Role:        ca.Role,
		Duties:      nonNilSlice(ca.Duties),
		CreatedAt:   ca.CreatedAt,
		UpdatedAt:   ca.UpdatedAt,
	}
}

func crewProfileResponse(cp domain.CrewProfile) CrewProfileResponse {
	return CrewProfileResponse{
		OperationID: cp.OperationID,
		ActorID:     cp.ActorID,
		Role:        cp.Role,
		Duties:      nonNilSlice(cp.Duties),
		Confirms:    nonNilSlice(cp.Confirms),
		Roles:       nonNilSlice(cp.Roles),
	}
}

func configResponse(cfg *config.Config) OperationConfigResponse {
	res := OperationConfigResponse{
		Operation: operationConfigSection{
			ID:          cfg.Operation.ID,
			Description: cfg.Operation.Description,
		},
		Defaults: defaultsConfigSection{
			Strategy:        cfg.Defaults.Strategy,
			RiskPolicy:      cfg.Defaults.RiskPolicy,
			RevealStep:      cfg.Defaults.RevealStep,
			BufferRelief:    cfg.Defaults.BufferRelief,
			LevelGapMinutes: cfg.Defaults.LevelGapMinutes,
			LeaseTTLMinutes: cfg.Defaults.LeaseTTLMinutes,
		},
		Confirmations: confirmationConfigSection{
			Catalog: map[string]struct {
				Description string `json:"description"`
			}{},
		},
		Simulation: simulationConfigSection{
			Runs:          cfg.Simulation.Runs,
			OverrunFactor: cfg.Simulation.OverrunFactor,
		},
	}
	for kind, entry := range cfg.Confirmations.Catalog {
		res.Confirmations.Catalog[kind] = struct {
			Description string `json:"description"`
		}{Description: entry.Description}
	}
	return res
}

// JSON helpers

func decodeJSONMap(raw *string) map[string]any {
	if raw == nil || *raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(*raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func decodeStringSlice(raw *string) []string {
	if raw == nil || *raw == "" {
		return nil
	}
	var arr []string
	if err := json.Unmarshal([]byte(*raw), &arr); err != nil {
		return nil
	}
	return arr
}

func decodeObjectSlice(raw string) []map[string]any {
	if raw == "" {
		return nil
	}
	var arr []map[string]any
	if err := json.Unmarshal([]byte(raw), &arr); err != nil {
		return nil
	}
	return arr
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func strPtr(in string) *string {
	return &in
}
