package planlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Planline HTTP API client.
type Client struct {
	BaseURL     string
	OperationID string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, operationID string) *Client {
	return &Client{
		BaseURL:     baseURL,
		OperationID: operationID,
		Timeout:     10 * time.Second,
	}
}

// Activity represents the API activity model (partial).
type Activity struct {
	ID              string   `json:"id"`
	OperationID     string   `json:"operation_id"`
	Name            string   `json:"name"`
	Status          string   `json:"status"`
	DurationSeconds int64    `json:"duration_seconds"`
	ResourceID      string   `json:"resource_id"`
	DependsOn       []string `json:"depends_on"`
}

// ActivitySpec is the create payload for an activity.
type ActivitySpec struct {
	Name                   string   `json:"name"`
	DurationSeconds        int64    `json:"duration_seconds"`
	Resource               string   `json:"resource"`
	StageID                string   `json:"stage_id,omitempty"`
	RiskOfImpounding       int      `json:"risk_of_impounding,omitempty"`
	RiskOfExtendedDuration int      `json:"risk_of_extended_duration,omitempty"`
	Revealing              bool     `json:"revealing,omitempty"`
	RequiredConfirmations  []string `json:"required_confirmations,omitempty"`
	DependsOn              []string `json:"depends_on,omitempty"`
}

// Plan represents a stored schedule (partial).
type Plan struct {
	ID          string `json:"id"`
	OperationID string `json:"operation_id"`
	Strategy    string `json:"strategy"`
	RiskPolicy  string `json:"risk_policy"`
	AnchorAt    string `json:"anchor_at"`
	MakespanS   int64  `json:"makespan_seconds"`
}

// PlannedActivity is one scheduled slot inside a plan.
type PlannedActivity struct {
	ActivityID    string `json:"activity_id"`
	ActivityName  string `json:"activity_name"`
	StartOffsetS  int64  `json:"start_offset_seconds"`
	FinishOffsetS int64  `json:"finish_offset_seconds"`
	EffImpounding int    `json:"effective_impounding"`
	EffExtended   int    `json:"effective_extended_duration"`
	Position      int    `json:"position"`
}

// PlanDetail pairs a plan with its schedule.
type PlanDetail struct {
	Plan       Plan              `json:"plan"`
	Activities []PlannedActivity `json:"activities"`
}

// Simulation represents a Monte Carlo result (partial).
type Simulation struct {
	ID            string  `json:"id"`
	PlanID        string  `json:"plan_id"`
	Runs          int     `json:"runs"`
	Seed          int64   `json:"seed"`
	Compromised   int     `json:"compromised"`
	CompromisePct float64 `json:"compromise_probability"`
	P50Seconds    int64   `json:"p50_seconds"`
	P90Seconds    int64   `json:"p90_seconds"`
}

// Confirmation represents a proof entry.
type Confirmation struct {
	ID          string         `json:"id"`
	OperationID string         `json:"operation_id"`
	ActivityID  string         `json:"activity_id"`
	Kind        string         `json:"kind"`
	ActorID     string         `json:"actor_id"`
	Payload     map[string]any `json:"payload,omitempty"`
	TS          string         `json:"ts"`
}

// Lease is an activity work claim.
type Lease struct {
	ActivityID string `json:"activity_id"`
	OwnerID    string `json:"owner_id"`
	AcquiredAt string `json:"acquired_at"`
	ExpiresAt  string `json:"expires_at"`
}

// Event represents a log entry.
type Event struct {
	ID          int64          `json:"id"`
	TS          string         `json:"ts"`
	Type        string         `json:"type"`
	OperationID string         `json:"operation_id"`
	EntityID    string         `json:"entity_id"`
	EntityKind  string         `json:"entity_kind"`
	Payload     map[string]any `json:"payload"`
}

// CrewProfile represents an actor's role, duties, and confirmation powers.
type CrewProfile struct {
	OperationID string   `json:"operation_id"`
	ActorID     string   `json:"actor_id"`
	Role        string   `json:"role"`
	Duties      []string `json:"duties"`
	Confirms    []string `json:"confirms"`
	Roles       []string `json:"roles"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateActivity creates an activity.
func (c *Client) CreateActivity(ctx context.Context, spec ActivitySpec) (Activity, error) {
	var resp Activity
	err := c.do(ctx, http.MethodPost, c.operationPath("activities"), spec, &resp)
	return resp, err
}

// NextActivity returns the next startable activity.
func (c *Client) NextActivity(ctx context.Context) (Activity, error) {
	var resp Activity
	err := c.do(ctx, http.MethodGet, c.operationPath("activities/next"), nil, &resp)
	return resp, err
}

// ClaimActivity acquires a work lease. leaseSeconds 0 uses the server default.
func (c *Client) ClaimActivity(ctx context.Context, activityID string, leaseSeconds int) (Lease, error) {
	endpoint := c.operationPath(fmt.Sprintf("activities/%s/claim", url.PathEscape(activityID)))
	if leaseSeconds > 0 {
		endpoint = fmt.Sprintf("%s?lease_seconds=%d", endpoint, leaseSeconds)
	}
	var resp Lease
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// StartActivity marks a claimed activity underway.
func (c *Client) StartActivity(ctx context.Context, activityID string) (Activity, error) {
	var resp Activity
	endpoint := c.operationPath(fmt.Sprintf("activities/%s/start", url.PathEscape(activityID)))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// CompleteActivity finishes an underway activity.
func (c *Client) CompleteActivity(ctx context.Context, activityID string) (Activity, error) {
	var resp Activity
	endpoint := c.operationPath(fmt.Sprintf("activities/%s/complete", url.PathEscape(activityID)))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// AddConfirmation adds a proof to an activity.
func (c *Client) AddConfirmation(ctx context.Context, activityID, kind string, payload any) (Confirmation, error) {
	body := map[string]any{
		"kind":    kind,
		"payload": payload,
	}
	var resp Confirmation
	endpoint := c.operationPath(fmt.Sprintf("activities/%s/confirmations", url.PathEscape(activityID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// BuildPlan builds a schedule from the current activity graph. Empty strategy
// or riskPolicy fall back to the operation defaults.
func (c *Client) BuildPlan(ctx context.Context, strategy, riskPolicy string) (PlanDetail, error) {
	body := map[string]any{}
	if strategy != "" {
		body["strategy"] = strategy
	}
	if riskPolicy != "" {
		body["risk_policy"] = riskPolicy
	}
	var resp PlanDetail
	err := c.do(ctx, http.MethodPost, c.operationPath("plans"), body, &resp)
	return resp, err
}

// GetPlan fetches a plan and its schedule.
func (c *Client) GetPlan(ctx context.Context, id string) (PlanDetail, error) {
	var resp PlanDetail
	endpoint := c.operationPath(fmt.Sprintf("plans/%s", url.PathEscape(id)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RunSimulation runs Monte Carlo trials over a plan. Empty planID uses the
// latest plan; runs and seed 0 use server defaults.
func (c *Client) RunSimulation(ctx context.Context, planID string, runs int, seed int64) (Simulation, error) {
	body := map[string]any{}
	if planID != "" {
		body["plan_id"] = planID
	}
	if runs > 0 {
		body["runs"] = runs
	}
	if seed != 0 {
		body["seed"] = seed
	}
	var resp Simulation
	err := c.do(ctx, http.MethodPost, c.operationPath("simulations"), body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := c.operationPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CrewProfile returns the role, duties, and confirmation powers for an actor.
func (c *Client) CrewProfile(ctx context.Context, actorID string) (CrewProfile, error) {
	var resp CrewProfile
	endpoint := c.operationPath(fmt.Sprintf("crew/%s", url.PathEscape(actorID)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) operationPath(p string) string {
	operation := url.PathEscape(c.OperationID)
	return fmt.Sprintf("v0/operations/%s/%s", operation, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
