package domain

type Operation struct {
	ID          string `json:"id"`
	OutfitID    string `json:"outfit_id,omitempty"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Stage struct {
	ID          string `json:"id"`
	OperationID string `json:"operation_id"`
	Objective   string `json:"objective"`
	Status      string `json:"status" enum:"pending,active,completed,aborted"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Resource struct {
	ID          string  `json:"id"`
	OperationID string  `json:"operation_id"`
	Name        string  `json:"name"`
	Kind        string  `json:"kind,omitempty"`
	OutfitID    *string `json:"outfit_id,omitempty"`
	Impounded   bool    `json:"impounded"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type Activity struct {
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
	DependsOn              []string `json:"depends_on,omitempty"`
	CreatedAt              string   `json:"created_at" format:"date-time"`
	UpdatedAt              string   `json:"updated_at" format:"date-time"`
	StartedAt              *string  `json:"started_at,omitempty" format:"date-time"`
	CompletedAt            *string  `json:"completed_at,omitempty" format:"date-time"`
}

type Plan struct {
	ID          string `json:"id"`
	OperationID string `json:"operation_id"`
	Strategy    string `json:"strategy"`
	RiskPolicy  string `json:"risk_policy"`
	AnchorAt    string `json:"anchor_at" format:"date-time"`
	MakespanS   int64  `json:"makespan_seconds"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type PlannedActivity struct {
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

type Decision struct {
	ID               string  `json:"id"`
	OperationID      string  `json:"operation_id"`
	PlanID           *string `json:"plan_id,omitempty"`
	Title            string  `json:"title"`
	Choice           string  `json:"choice"`
	DeciderID        string  `json:"decider_id"`
	RationaleJSON    string  `json:"rationale_json,omitempty"`
	AlternativesJSON string  `json:"alternatives_json,omitempty"`
	CreatedAt        string  `json:"created_at"`
}

type Lease struct {
	ActivityID string `json:"activity_id"`
	OwnerID    string `json:"owner_id"`
	AcquiredAt string `json:"acquired_at" format:"date-time"`
	ExpiresAt  string `json:"expires_at" format:"date-time"`
}

type Confirmation struct {
	ID          string `json:"id"`
	OperationID string `json:"operation_id"`
	ActivityID  string `json:"activity_id"`
	Kind        string `json:"kind"`
	ActorID     string `json:"actor_id"`
	TS          string `json:"ts" format:"date-time"`
	PayloadJSON string `json:"payload_json,omitempty"`
}

type SimulationRun struct {
	ID            string  `json:"id"`
	OperationID   string  `json:"operation_id"`
	PlanID        string  `json:"plan_id"`
	Runs          int     `json:"runs"`
	Seed          int64   `json:"seed"`
	Clean         int     `json:"clean"`
	Compromised   int     `json:"compromised"`
	CompromisePct float64 `json:"compromise_probability"`
	P50Seconds    int64   `json:"p50_seconds"`
	P90Seconds    int64   `json:"p90_seconds"`
	DetailJSON    string  `json:"detail_json,omitempty"`
	CreatedBy     string  `json:"created_by"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	Type        string `json:"type"`
	OperationID string `json:"operation_id,omitempty"`
	EntityKind  string `json:"entity_kind"`
	EntityID    string `json:"entity_id,omitempty"`
	ActorID     string `json:"actor_id"`
	Payload     string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type CrewAssignment struct {
	OperationID string   `json:"operation_id"`
	ActorID     string   `json:"actor_id"`
	Role        string   `json:"role"`
	Duties      []string `json:"duties,omitempty"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

type CrewProfile struct {
	OperationID string   `json:"operation_id"`
	ActorID     string   `json:"actor_id"`
	Role        string   `json:"role,omitempty"`
	Duties      []string `json:"duties"`
	Confirms    []string `json:"confirms"`
	Roles       []string `json:"roles"`
}
