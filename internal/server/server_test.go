package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"planline/internal/config"
	"planline/internal/db"
	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("planline")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.InitOperation(context.Background(), cfg.Operation.ID, "", "tester"); err != nil {
		t.Fatalf("init operation: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

// doJSON sends tester's legacy actor header unless the caller overrides it.
func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "tester")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v0/operations/planline/status", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	env := decodeError(t, data)
	if env.Error.Code != "unauthorized" {
		t.Fatalf("expected code unauthorized, got %q", env.Error.Code)
	}
}

func TestDevLoginAndBearerToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id":    "pilot-7",
		"roles":       []string{"operator"},
		"permissions": []string{"log.read"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if login.Token == "" {
		t.Fatal("expected a token")
	}

	meRes, meBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if meRes.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", meRes.StatusCode, string(meBody))
	}
	var me WhoAmIResponse
	if err := json.Unmarshal(meBody, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.ActorID != "pilot-7" {
		t.Fatalf("expected actor pilot-7, got %s", me.ActorID)
	}
	found := false
	for _, p := range me.Permissions {
		if p == "log.read" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected log.read in permissions, got %v", me.Permissions)
	}
}

func TestActivityLifecycleWithConfirmations(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	operationID := "planline"
	client := srv.Client()

	resRes, resBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/operations/"+operationID+"/resources", map[string]any{
		"name": "van-1",
		"kind": "vehicle",
	}, nil)
	if resRes.StatusCode != http.StatusCreated {
		t.Fatalf("create resource: %d %s", resRes.StatusCode, string(resBody))
	}

	createRes, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/operations/"+operationID+"/activities", map[string]any{
		"name":                   "Load cargo",
		"duration_seconds":       600,
		"resource":               "van-1",
		"required_confirmations": []string{"cargo.sealed"},
	}, nil)
	if createRes.StatusCode != http.StatusCreated {
		t.Fatalf("create activity: %d %s", createRes.StatusCode, string(data))
	}
	var created domain.Activity
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal activity: %v", err)
	}
	if created.Status != "planned" {
		t.Fatalf("expected planned, got %s", created.Status)
	}
	activityID := created.ID

	claimRes, claimBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/operations/"+operationID+"/activities/"+activityID+"/claim", nil, nil)
	if claimRes.StatusCode != http.StatusOK {
		t.Fatalf("claim: %d %s", claimRes.StatusCode, string(claimBody))
	}
	var lease domain.Lease
	if err := json.Unmarshal(claimBody, &lease); err != nil {
		t.Fatalf("unmarshal lease: %v", err)
	}
	if lease.OwnerID != "tester" {
		t.Fatalf("expected lease owner tester, got %s", lease.OwnerID)
	}

	startRes, startBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/operations/"+operationID+"/activities/"+activityID+"/start", nil, nil)
	if startRes.StatusCode != http.StatusOK {
		t.Fatalf("start: %d %s", startRes.StatusCode, string(startBody))
	}

	blockedRes, blockedBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/operations/"+operationID+"/activities/"+activityID+"/complete", nil, nil)
	if blockedRes.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected confirmation block (422), got %d %s", blockedRes.StatusCode, string(blockedBody))
	}
	env := decodeError(t, blockedBody)
	if env.Error.Code != "validation_failed" {
		t.Fatalf("expected code validation_failed, got %q", env.Error.Code)
	}

	confRes, confBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/operations/"+operationID+"/activities/"+activityID+"/confirmations", map[string]any{
		"kind":    "cargo.sealed",
		"payload": map[string]any{"seal": "A-113"},
	}, nil)
	if confRes.StatusCode != http.StatusCreated {
		t.Fatalf("confirm: %d %s", confRes.StatusCode, string(confBody))
	}

	doneRes, doneBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/operations/"+operationID+"/activities/"+activityID+"/complete", nil, nil)
	if doneRes.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %s", doneRes.StatusCode, string(doneBody))
	}
	var done domain.Activity
	if err := json.Unmarshal(doneBody, &done); err != nil {
		t.Fatalf("unmarshal done: %v", err)
	}
	if done.Status != "completed" {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	if done.CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}
}

func TestLeaseConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	operationID := "planline"
	client := srv.Client()

	_, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/operations/"+operationID+"/resources", map[string]any{
		"name": "boat-1",
	}, nil)
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/operations/"+operationID+"/activities", map[string]any{
		"name":             "Cross the river",
		"duration_seconds": 300,
		"resource":         "boat-1",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create activity: %d %s", res.StatusCode, string(data))
	}
	var created domain.Activity
	_ = json.Unmarshal(data, &created)

	claim1, body1 := doJSON(t, client, http.MethodPost, srv.URL+"/v0/operations/"+operationID+"/activities/"+created.ID+"/claim", nil, nil)
	if claim1.StatusCode != http.StatusOK {
		t.Fatalf("first claim: %d %s", claim1.StatusCode, string(body1))
	}
	claim2, body2 := doJSON(t, client, http.MethodPost, srv.URL+"/v0/operations/"+operationID+"/activities/"+created.ID+"/claim", nil, map[string]string{"X-Actor-Id": "other"})
	if claim2.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict, got %d %s", claim2.StatusCode, string(body2))
	}
	env := decodeError(t, body2)
	if env.Error.Code != "lease_conflict" {
		t.Fatalf("expected code lease_conflict, got %q", env.Error.Code)
	}
}

func TestStartBlockedByDependency(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	operationID := "planline"
	client := srv.Client()

	_, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/operations/"+operationID+"/resources", map[string]any{
		"name": "crew-a",
	}, nil)
	aRes, aBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/operations/"+operationID+"/activities", map[string]any{
		"id":               "act-recon",
		"name":             "Scout the site",
		"duration_seconds": 600,
		"resource":         "crew-a",
	}, nil)
	if aRes.StatusCode != http.StatusCreated {
		t.Fatalf("create first activity: %d %s", aRes.StatusCode, string(aBody))
	}
	bRes, bBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/operations/"+operationID+"/activities", map[string]any{
		"id":               "act-entry",
		"name":             "Enter the site",
		"duration_seconds": 900,
		"resource":         "crew-a",
		"depends_on":       []string{"act-recon"},
	}, nil)
	if bRes.StatusCode != http.StatusCreated {
		t.Fatalf("create second activity: %d %s", bRes.StatusCode, string(bBody))
	}

	claimRes, claimBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/operations/"+operationID+"/activities/act-entry/claim", nil, nil)
	if claimRes.StatusCode != http.StatusOK {
		t.Fatalf("claim: %d %s", claimRes.StatusCode, string(claimBody))
	}
	startRes, startBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/operations/"+operationID+"/activities/act-entry/start", nil, nil)
	if startRes.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected dependency block (422), got %d %s", startRes.StatusCode, string(startBody))
	}
}

func TestPlanBuildAndSimulation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	operationID := "planline"
	client := srv.Client()

	_, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/operations/"+operationID+"/resources", map[string]any{
		"name": "truck-1",
	}, nil)
	_, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/operations/"+operationID+"/activities", map[string]any{
		"id":               "act-load",
		"name":             "Load",
		"duration_seconds": 600,
		"resource":         "truck-1",
	}, nil)
	_, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/operations/"+operationID+"/activities", map[string]any{
		"id":               "act-drive",
		"name":             "Drive",
		"duration_seconds": 900,
		"resource":         "truck-1",
		"depends_on":       []string{"act-load"},
	}, nil)

	planRes, planBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/operations/"+operationID+"/plans", map[string]any{}, nil)
	if planRes.StatusCode != http.StatusCreated {
		t.Fatalf("build plan: %d %s", planRes.StatusCode, string(planBody))
	}
	var detail PlanDetailResponse
	if err := json.Unmarshal(planBody, &detail); err != nil {
		t.Fatalf("unmarshal plan: %v", err)
	}
	if detail.Plan.Strategy != "earliest" {
		t.Fatalf("expected default strategy earliest, got %s", detail.Plan.Strategy)
	}
	if len(detail.Activities) != 2 {
		t.Fatalf("expected 2 planned activities, got %d", len(detail.Activities))
	}
	if detail.Plan.MakespanS != 1500 {
		t.Fatalf("expected makespan 1500, got %d", detail.Plan.MakespanS)
	}
	if detail.Activities[0].ActivityID != "act-load" || detail.Activities[1].ActivityID != "act-drive" {
		t.Fatalf("unexpected schedule order: %+v", detail.Activities)
	}

	simRes, simBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/operations/"+operationID+"/simulations", map[string]any{
		"runs": 64,
		"seed": 7,
	}, nil)
	if simRes.StatusCode != http.StatusCreated {
		t.Fatalf("run simulation: %d %s", simRes.StatusCode, string(simBody))
	}
	var sim domain.SimulationRun
	if err := json.Unmarshal(simBody, &sim); err != nil {
		t.Fatalf("unmarshal simulation: %v", err)
	}
	if sim.Runs != 64 {
		t.Fatalf("expected 64 runs, got %d", sim.Runs)
	}
	if sim.CompromisePct != 0 {
		t.Fatalf("expected zero compromise probability for risk-free plan, got %f", sim.CompromisePct)
	}
	if sim.P50Seconds != 1500 || sim.P90Seconds != 1500 {
		t.Fatalf("expected deterministic 1500s makespan, got p50=%d p90=%d", sim.P50Seconds, sim.P90Seconds)
	}
}

func TestForbiddenConfirmationKind(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	operationID := "planline"
	client := srv.Client()

	_, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/operations/"+operationID+"/resources", map[string]any{
		"name": "safehouse",
	}, nil)
	actRes, actBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/operations/"+operationID+"/activities", map[string]any{
		"name":             "Secure the site",
		"duration_seconds": 1200,
		"resource":         "safehouse",
	}, nil)
	if actRes.StatusCode != http.StatusCreated {
		t.Fatalf("create activity: %d %s", actRes.StatusCode, string(actBody))
	}
	var created domain.Activity
	_ = json.Unmarshal(actBody, &created)

	loginRes, loginBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id":    "outsider",
		"permissions": []string{"confirm.write"},
	}, nil)
	if loginRes.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", loginRes.StatusCode, string(loginBody))
	}
	var login DevLoginResponse
	_ = json.Unmarshal(loginBody, &login)

	confRes, confBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/operations/"+operationID+"/activities/"+created.ID+"/confirmations", map[string]any{
		"kind": "site.secured",
	}, map[string]string{"Authorization": "Bearer " + login.Token})
	if confRes.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", confRes.StatusCode, string(confBody))
	}
	env := decodeError(t, confBody)
	if env.Error.Code != "forbidden_confirmation_kind" {
		t.Fatalf("expected code forbidden_confirmation_kind, got %q", env.Error.Code)
	}
}

func TestRoleGrantOpensAccess(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	operationID := "planline"
	client := srv.Client()

	_, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/operations/"+operationID+"/resources", map[string]any{
		"name": "radio",
	}, nil)

	denied, deniedBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/operations/"+operationID+"/activities", map[string]any{
		"name":             "Call it in",
		"duration_seconds": 60,
		"resource":         "radio",
	}, map[string]string{"X-Actor-Id": "newcomer"})
	if denied.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 before grant, got %d %s", denied.StatusCode, string(deniedBody))
	}

	grantRes, grantBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/operations/"+operationID+"/rbac/roles/grant", map[string]any{
		"actor_id": "newcomer",
		"role_id":  "planner",
	}, nil)
	if grantRes.StatusCode != http.StatusNoContent {
		t.Fatalf("grant role: %d %s", grantRes.StatusCode, string(grantBody))
	}

	allowed, allowedBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/operations/"+operationID+"/activities", map[string]any{
		"name":             "Call it in",
		"duration_seconds": 60,
		"resource":         "radio",
	}, map[string]string{"X-Actor-Id": "newcomer"})
	if allowed.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 after grant, got %d %s", allowed.StatusCode, string(allowedBody))
	}
}

func TestStagePagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	operationID := "planline"
	client := srv.Client()

	for _, id := range []string{"stage-a", "stage-b", "stage-c"} {
		res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/operations/"+operationID+"/stages", map[string]any{
			"id":        id,
			"objective": "Objective for " + id,
		}, nil)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create stage %s: %d %s", id, res.StatusCode, string(body))
		}
	}

	page1Res, page1Body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/operations/"+operationID+"/stages?limit=2", nil, nil)
	if page1Res.StatusCode != http.StatusOK {
		t.Fatalf("list page 1: %d %s", page1Res.StatusCode, string(page1Body))
	}
	var page1 paginatedStages
	if err := json.Unmarshal(page1Body, &page1); err != nil {
		t.Fatalf("unmarshal page 1: %v", err)
	}
	if len(page1.Items) != 2 {
		t.Fatalf("expected 2 items on page 1, got %d", len(page1.Items))
	}
	if page1.NextCursor == "" {
		t.Fatal("expected a next cursor")
	}

	page2Res, page2Body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/operations/"+operationID+"/stages?limit=2&cursor="+page1.NextCursor, nil, nil)
	if page2Res.StatusCode != http.StatusOK {
		t.Fatalf("list page 2: %d %s", page2Res.StatusCode, string(page2Body))
	}
	var page2 paginatedStages
	if err := json.Unmarshal(page2Body, &page2); err != nil {
		t.Fatalf("unmarshal page 2: %v", err)
	}
	if len(page2.Items) != 1 {
		t.Fatalf("expected 1 item on page 2, got %d", len(page2.Items))
	}
	if page2.NextCursor != "" {
		t.Fatalf("expected no cursor on final page, got %q", page2.NextCursor)
	}
	seen := map[string]bool{}
	for _, st := range append(page1.Items, page2.Items...) {
		seen[st.ID] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct stages across pages, got %v", seen)
	}
}

func TestOperationStatusAndConfig(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	operationID := "planline"
	client := srv.Client()

	statusRes, statusBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/operations/"+operationID+"/status", nil, nil)
	if statusRes.StatusCode != http.StatusOK {
		t.Fatalf("status: %d %s", statusRes.StatusCode, string(statusBody))
	}
	var status map[string]any
	if err := json.Unmarshal(statusBody, &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if status["status"] != "active" {
		t.Fatalf("expected active operation, got %v", status["status"])
	}

	cfgRes, cfgBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/operations/"+operationID+"/config", nil, nil)
	if cfgRes.StatusCode != http.StatusOK {
		t.Fatalf("config: %d %s", cfgRes.StatusCode, string(cfgBody))
	}
	var cfg OperationConfigResponse
	if err := json.Unmarshal(cfgBody, &cfg); err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}
	if cfg.Defaults.Strategy != "earliest" {
		t.Fatalf("expected default strategy earliest, got %s", cfg.Defaults.Strategy)
	}
	if _, ok := cfg.Confirmations.Catalog["cargo.sealed"]; !ok {
		t.Fatalf("expected cargo.sealed in catalog, got %v", cfg.Confirmations.Catalog)
	}
}
