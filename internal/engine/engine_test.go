package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"planline/internal/config"
	"planline/internal/db"
	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/engine/auth"
	"planline/internal/graph"
	"planline/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("op-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitOperation(ctx, "op-1", "test", "tester"); err != nil {
		t.Fatalf("init operation: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func mkResource(t *testing.T, env testEnv, name string) domain.Resource {
	t.Helper()
	res, err := env.Engine.CreateResource(env.Ctx, engine.ResourceCreateOptions{
		OperationID: "op-1", Name: name, Kind: "vehicle", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create resource %s: %v", name, err)
	}
	return res
}

func mkActivity(t *testing.T, env testEnv, name, resource string, seconds int64, deps ...string) domain.Activity {
	t.Helper()
	a, err := env.Engine.CreateActivity(env.Ctx, engine.ActivityCreateOptions{
		OperationID:     "op-1",
		Name:            name,
		DurationSeconds: seconds,
		Resource:        resource,
		DependsOn:       deps,
		ActorID:         "tester",
	})
	if err != nil {
		t.Fatalf("create activity %s: %v", name, err)
	}
	return a
}

func TestActivityStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	mkResource(t, env, "van")
	a := mkActivity(t, env, "load", "van", 600)
	a, err := env.Engine.UpdateActivity(env.Ctx, engine.ActivityUpdateOptions{ID: a.ID, Status: "underway", ActorID: "tester", Force: true})
	if err != nil || a.Status != "underway" {
		t.Fatalf("to underway: %v", err)
	}
	if a.StartedAt == nil {
		t.Fatalf("expected started_at set")
	}
	a, err = env.Engine.UpdateActivity(env.Ctx, engine.ActivityUpdateOptions{ID: a.ID, Status: "completed", ActorID: "tester", Force: true})
	if err != nil || a.Status != "completed" {
		t.Fatalf("to completed: %v", err)
	}
	if a.CompletedAt == nil {
		t.Fatalf("expected completed_at set")
	}
	// completed is terminal
	_, err = env.Engine.UpdateActivity(env.Ctx, engine.ActivityUpdateOptions{ID: a.ID, Status: "planned", ActorID: "tester"})
	if err == nil {
		t.Fatalf("expected transition error")
	}
}

func TestImpoundRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	res := mkResource(t, env, "truck")
	a := mkActivity(t, env, "haul", "truck", 600)
	_, _ = env.Engine.UpdateActivity(env.Ctx, engine.ActivityUpdateOptions{ID: a.ID, Status: "underway", ActorID: "tester", Force: true})
	a, err := env.Engine.ImpoundActivity(env.Ctx, a.ID, "tester", true)
	if err != nil || a.Status != "impounded" {
		t.Fatalf("impound: %v", err)
	}
	got, err := env.Engine.Repo.GetResource(env.Ctx, res.ID)
	if err != nil || !got.Impounded {
		t.Fatalf("expected resource impounded, got %+v (%v)", got, err)
	}
	// released resources and a reset put the activity back in play
	if _, err := env.Engine.ReleaseResource(env.Ctx, res.ID, "tester"); err != nil {
		t.Fatalf("release resource: %v", err)
	}
	a, err = env.Engine.UpdateActivity(env.Ctx, engine.ActivityUpdateOptions{ID: a.ID, Status: "planned", ActorID: "tester"})
	if err != nil || a.Status != "planned" {
		t.Fatalf("back to planned: %v", err)
	}
}

func TestDependencyGating(t *testing.T) {
	env := newTestEnv(t)
	mkResource(t, env, "van")
	mkResource(t, env, "crew")
	dep := mkActivity(t, env, "scout", "crew", 300)
	a := mkActivity(t, env, "approach", "van", 600, dep.ID)
	if _, err := env.Engine.ClaimActivity(env.Ctx, a.ID, "tester", 0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	// starting while the dependency is open must fail
	_, err := env.Engine.StartActivity(env.Ctx, a.ID, "tester", false)
	if err == nil {
		t.Fatalf("expected dependency blocking")
	}
	_, _ = env.Engine.UpdateActivity(env.Ctx, engine.ActivityUpdateOptions{ID: dep.ID, Status: "underway", ActorID: "tester", Force: true})
	_, _ = env.Engine.UpdateActivity(env.Ctx, engine.ActivityUpdateOptions{ID: dep.ID, Status: "completed", ActorID: "tester", Force: true})
	if _, err := env.Engine.StartActivity(env.Ctx, a.ID, "tester", false); err != nil {
		t.Fatalf("expected start after dep completed: %v", err)
	}
	if _, err := env.Engine.CompleteActivity(env.Ctx, a.ID, "tester", false); err != nil {
		t.Fatalf("expected completion: %v", err)
	}
}

func TestResourceImpoundBlocksStart(t *testing.T) {
	env := newTestEnv(t)
	res := mkResource(t, env, "boat")
	a := mkActivity(t, env, "crossing", "boat", 600)
	if _, err := env.Engine.ImpoundResource(env.Ctx, res.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ClaimActivity(env.Ctx, a.ID, "tester", 0); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.StartActivity(env.Ctx, a.ID, "tester", false)
	if err == nil {
		t.Fatalf("expected impounded resource to block start")
	}
	if _, err := env.Engine.ReleaseResource(env.Ctx, res.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.StartActivity(env.Ctx, a.ID, "tester", false); err != nil {
		t.Fatalf("expected start after release: %v", err)
	}
}

func TestCycleRejectedOnUpdate(t *testing.T) {
	env := newTestEnv(t)
	mkResource(t, env, "van")
	a := mkActivity(t, env, "first", "van", 60)
	b := mkActivity(t, env, "second", "van", 60, a.ID)
	_, err := env.Engine.UpdateActivity(env.Ctx, engine.ActivityUpdateOptions{ID: a.ID, AddDeps: []string{b.ID}, ActorID: "tester"})
	if !errors.Is(err, graph.ErrInvalidActivityConfiguration) {
		t.Fatalf("expected cycle rejection, got %v", err)
	}
	// the rejected edge must not have been stored
	got, err := env.Engine.Repo.GetActivity(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.DependsOn) != 0 {
		t.Fatalf("expected no deps persisted, got %v", got.DependsOn)
	}
}

func TestBadRiskRejectedOnCreate(t *testing.T) {
	env := newTestEnv(t)
	mkResource(t, env, "van")
	_, err := env.Engine.CreateActivity(env.Ctx, engine.ActivityCreateOptions{
		OperationID:      "op-1",
		Name:             "hot",
		DurationSeconds:  60,
		Resource:         "van",
		RiskOfImpounding: 150,
		ActorID:          "tester",
	})
	if !errors.Is(err, graph.ErrInvalidActivityConfiguration) {
		t.Fatalf("expected config rejection, got %v", err)
	}
}

func TestConfirmationGating(t *testing.T) {
	env := newTestEnv(t)
	mkResource(t, env, "van")
	a, err := env.Engine.CreateActivity(env.Ctx, engine.ActivityCreateOptions{
		OperationID:           "op-1",
		Name:                  "load",
		DurationSeconds:       600,
		Resource:              "van",
		RequiredConfirmations: []string{"cargo.sealed"},
		ActorID:               "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ClaimActivity(env.Ctx, a.ID, "tester", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.StartActivity(env.Ctx, a.ID, "tester", false); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err = env.Engine.CompleteActivity(env.Ctx, a.ID, "tester", false)
	if err == nil {
		t.Fatalf("expected missing confirmation to block completion")
	}
	_, err = env.Engine.AddConfirmation(env.Ctx, domain.Confirmation{
		ActivityID: a.ID,
		Kind:       "cargo.sealed",
	}, "tester")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := env.Engine.CompleteActivity(env.Ctx, a.ID, "tester", false); err != nil {
		t.Fatalf("expected completion after confirmation: %v", err)
	}
}

func TestConfirmationAuthorityEnforced(t *testing.T) {
	env := newTestEnv(t)
	mkResource(t, env, "van")
	a := mkActivity(t, env, "load", "van", 600)
	// cargo.sealed has configured authorities; an actor without a role is out
	_, err := env.Engine.AddConfirmation(env.Ctx, domain.Confirmation{
		ActivityID: a.ID,
		Kind:       "cargo.sealed",
	}, "stranger")
	var forbidden auth.ForbiddenConfirmationError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected authority rejection, got %v", err)
	}
	// granting operator makes the same call pass
	if err := env.Engine.GrantRole(env.Ctx, "op-1", "stranger", "operator", "tester"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := env.Engine.AddConfirmation(env.Ctx, domain.Confirmation{
		ActivityID: a.ID,
		Kind:       "cargo.sealed",
	}, "stranger"); err != nil {
		t.Fatalf("expected confirmation after grant: %v", err)
	}
}

func TestUnknownConfirmationKindRejected(t *testing.T) {
	env := newTestEnv(t)
	mkResource(t, env, "van")
	_, err := env.Engine.CreateActivity(env.Ctx, engine.ActivityCreateOptions{
		OperationID:           "op-1",
		Name:                  "load",
		DurationSeconds:       60,
		Resource:              "van",
		RequiredConfirmations: []string{"nonsense.kind"},
		ActorID:               "tester",
	})
	if err == nil {
		t.Fatalf("expected catalog rejection")
	}
}

func TestLeaseClaimRelease(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Now = time.Now
	mkResource(t, env, "van")
	a := mkActivity(t, env, "lease", "van", 60)
	lease, err := env.Engine.ClaimActivity(env.Ctx, a.ID, "tester", 1)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if lease.OwnerID != "tester" {
		t.Fatalf("unexpected owner")
	}
	// claiming again by other actor before expiry fails
	_, err = env.Engine.ClaimActivity(env.Ctx, a.ID, "other", 1)
	if err == nil {
		t.Fatalf("expected lease held error")
	}
	// wait for expiry
	time.Sleep(1100 * time.Millisecond)
	if _, err = env.Engine.ClaimActivity(env.Ctx, a.ID, "other", 1); err != nil {
		t.Fatalf("expected claim after expiry: %v", err)
	}
	if err := env.Engine.ReleaseActivity(env.Ctx, a.ID, "tester"); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestOrderFollowsDeclarationOnTies(t *testing.T) {
	env := newTestEnv(t)
	mkResource(t, env, "van")
	mkResource(t, env, "crew")
	mkResource(t, env, "boat")
	a := mkActivity(t, env, "recon", "crew", 300)
	b := mkActivity(t, env, "stage-van", "van", 300, a.ID)
	c := mkActivity(t, env, "stage-boat", "boat", 300, a.ID)
	mkActivity(t, env, "go", "crew", 300, b.ID, c.ID)
	ordered, err := env.Engine.Order(env.Ctx, "op-1")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"recon", "stage-van", "stage-boat", "go"}
	if len(ordered) != len(want) {
		t.Fatalf("expected %d activities, got %d", len(want), len(ordered))
	}
	for i, name := range want {
		if ordered[i].Name != name {
			t.Fatalf("position %d: expected %s, got %s", i, name, ordered[i].Name)
		}
	}
}

func TestBuildPlanPersistsSchedule(t *testing.T) {
	env := newTestEnv(t)
	mkResource(t, env, "van")
	a := mkActivity(t, env, "recon", "van", 600)
	b := mkActivity(t, env, "approach", "van", 1200, a.ID)
	mkActivity(t, env, "exit", "van", 300, b.ID)
	p, entries, err := env.Engine.BuildPlan(env.Ctx, engine.PlanBuildOptions{OperationID: "op-1", ActorID: "tester"})
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	if p.Strategy != "earliest" || p.RiskPolicy != "passthrough" {
		t.Fatalf("unexpected defaults: %s/%s", p.Strategy, p.RiskPolicy)
	}
	if p.MakespanS != 2100 {
		t.Fatalf("expected makespan 2100, got %d", p.MakespanS)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].ActivityName != "recon" || entries[0].StartOffsetS != 0 || entries[0].FinishOffsetS != 600 {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[2].ActivityName != "exit" || entries[2].StartOffsetS != 1800 {
		t.Fatalf("unexpected last entry: %+v", entries[2])
	}
	stored, err := env.Engine.Repo.ListPlanActivities(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 3 || stored[1].ActivityName != "approach" {
		t.Fatalf("unexpected stored entries: %+v", stored)
	}
}

func TestPlanRiskComposition(t *testing.T) {
	env := newTestEnv(t)
	mkResource(t, env, "van")
	a, err := env.Engine.CreateActivity(env.Ctx, engine.ActivityCreateOptions{
		OperationID:      "op-1",
		Name:             "flashy",
		DurationSeconds:  600,
		Resource:         "van",
		RiskOfImpounding: 20,
		Revealing:        true,
		ActorID:          "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateActivity(env.Ctx, engine.ActivityCreateOptions{
		OperationID:      "op-1",
		Name:             "after",
		DurationSeconds:  600,
		Resource:         "van",
		RiskOfImpounding: 5,
		DependsOn:        []string{a.ID},
		ActorID:          "tester",
	}); err != nil {
		t.Fatal(err)
	}
	_, entries, err := env.Engine.BuildPlan(env.Ctx, engine.PlanBuildOptions{
		OperationID: "op-1",
		RiskPolicy:  "reveal-amplifier",
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	// default reveal step is 10: the successor of a revealing activity
	// carries 5+10 impounding
	if entries[0].EffImpounding != 20 {
		t.Fatalf("expected 20, got %d", entries[0].EffImpounding)
	}
	if entries[1].EffImpounding != 15 {
		t.Fatalf("expected amplified 15, got %d", entries[1].EffImpounding)
	}
}

func TestBuildPlanStrategyOverride(t *testing.T) {
	env := newTestEnv(t)
	mkResource(t, env, "van")
	a := mkActivity(t, env, "load", "van", 600)
	mkActivity(t, env, "restock", "van", 600, a.ID)
	p, entries, err := env.Engine.BuildPlan(env.Ctx, engine.PlanBuildOptions{
		OperationID:       "op-1",
		StrategyOverrides: map[string]string{"restock": "leveling"},
		ActorID:           "tester",
	})
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	if p.Strategy != "earliest" {
		t.Fatalf("base strategy should stay earliest, got %s", p.Strategy)
	}
	if entries[0].Strategy != "earliest" || entries[1].Strategy != "leveling" {
		t.Fatalf("unexpected per-entry strategies: %s/%s", entries[0].Strategy, entries[1].Strategy)
	}
	// default level gap is 30m: the second use of the van waits 600+1800
	if entries[1].StartOffsetS != 2400 {
		t.Fatalf("expected leveled start 2400, got %d", entries[1].StartOffsetS)
	}
	if p.MakespanS != 3000 {
		t.Fatalf("expected makespan 3000, got %d", p.MakespanS)
	}
	_, _, err = env.Engine.BuildPlan(env.Ctx, engine.PlanBuildOptions{
		OperationID:       "op-1",
		StrategyOverrides: map[string]string{"ghost": "earliest"},
		ActorID:           "tester",
	})
	if err == nil {
		t.Fatal("override for unknown activity should fail")
	}
}

func TestSimulationDeterministic(t *testing.T) {
	env := newTestEnv(t)
	mkResource(t, env, "van")
	a := mkActivity(t, env, "recon", "van", 600)
	mkActivity(t, env, "approach", "van", 1200, a.ID)
	if _, _, err := env.Engine.BuildPlan(env.Ctx, engine.PlanBuildOptions{OperationID: "op-1", ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	first, err := env.Engine.RunSimulation(env.Ctx, engine.SimulationOptions{OperationID: "op-1", Runs: 200, Seed: 42, ActorID: "tester"})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if first.Compromised != 0 || first.CompromisePct != 0 {
		t.Fatalf("expected clean runs with zero risk, got %+v", first)
	}
	if first.P50Seconds != 1800 {
		t.Fatalf("expected p50 1800, got %d", first.P50Seconds)
	}
	second, err := env.Engine.RunSimulation(env.Ctx, engine.SimulationOptions{OperationID: "op-1", Runs: 200, Seed: 42, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if first.Compromised != second.Compromised || first.P50Seconds != second.P50Seconds {
		t.Fatalf("expected identical results for same seed")
	}
	runs, err := env.Engine.Repo.ListSimulationsByPlan(env.Ctx, "op-1", first.PlanID)
	if err != nil || len(runs) != 2 {
		t.Fatalf("expected 2 stored runs, got %d (%v)", len(runs), err)
	}
}

func TestStageFlow(t *testing.T) {
	env := newTestEnv(t)
	st, err := env.Engine.CreateStage(env.Ctx, domain.Stage{OperationID: "op-1", Objective: "infiltrate"}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != "pending" {
		t.Fatalf("expected pending, got %s", st.Status)
	}
	if _, err := env.Engine.SetStageStatus(env.Ctx, st.ID, "active", "tester", false); err != nil {
		t.Fatalf("activate: %v", err)
	}
	mkResource(t, env, "van")
	a, err := env.Engine.CreateActivity(env.Ctx, engine.ActivityCreateOptions{
		OperationID:     "op-1",
		StageID:         st.ID,
		Name:            "enter",
		DurationSeconds: 60,
		Resource:        "van",
		ActorID:         "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	// open activity blocks completion
	if _, err := env.Engine.SetStageStatus(env.Ctx, st.ID, "completed", "tester", false); err == nil {
		t.Fatalf("expected open activity to block stage completion")
	}
	_, _ = env.Engine.UpdateActivity(env.Ctx, engine.ActivityUpdateOptions{ID: a.ID, Status: "underway", ActorID: "tester", Force: true})
	_, _ = env.Engine.UpdateActivity(env.Ctx, engine.ActivityUpdateOptions{ID: a.ID, Status: "completed", ActorID: "tester", Force: true})
	if _, err := env.Engine.SetStageStatus(env.Ctx, st.ID, "completed", "tester", false); err != nil {
		t.Fatalf("complete: %v", err)
	}
}

func TestCrewRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ca, err := env.Engine.AssignCrew(env.Ctx, "op-1", "driver-7", "operator", []string{"driving", "lookout"}, "tester")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if ca.Role != "operator" || len(ca.Duties) != 2 {
		t.Fatalf("unexpected assignment: %+v", ca)
	}
	profile, err := env.Engine.CrewProfile(env.Ctx, "op-1", "driver-7")
	if err != nil {
		t.Fatal(err)
	}
	if profile.Role != "operator" {
		t.Fatalf("unexpected profile role: %s", profile.Role)
	}
	found := false
	for _, k := range profile.Confirms {
		if k == "cargo.sealed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected operator to confirm cargo.sealed, got %v", profile.Confirms)
	}
	if err := env.Engine.RemoveCrew(env.Ctx, "op-1", "driver-7", "tester"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := env.Engine.Repo.GetCrewAssignment(env.Ctx, "op-1", "driver-7"); err == nil {
		t.Fatalf("expected assignment gone")
	}
}

func TestNextActivitySkipsBlocked(t *testing.T) {
	env := newTestEnv(t)
	res := mkResource(t, env, "van")
	mkResource(t, env, "crew")
	a := mkActivity(t, env, "drive", "van", 300)
	b := mkActivity(t, env, "walk", "crew", 300)
	mkActivity(t, env, "go", "crew", 300, a.ID, b.ID)
	next, err := env.Engine.NextActivity(env.Ctx, "op-1", "")
	if err != nil || next.Name != "drive" {
		t.Fatalf("expected drive first, got %s (%v)", next.Name, err)
	}
	if _, err := env.Engine.ImpoundResource(env.Ctx, res.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	next, err = env.Engine.NextActivity(env.Ctx, "op-1", "")
	if err != nil || next.Name != "walk" {
		t.Fatalf("expected walk while van impounded, got %s (%v)", next.Name, err)
	}
}

func TestDecisionEventLogged(t *testing.T) {
	env := newTestEnv(t)
	d, err := env.Engine.RecordDecision(env.Ctx, domain.Decision{
		OperationID: "op-1",
		Title:       "route",
		Choice:      "north tunnel",
	}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if d.ID == "" || d.DeciderID != "tester" {
		t.Fatalf("unexpected decision: %+v", d)
	}
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT count(*) FROM events WHERE entity_kind='decision'`)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	var count int
	rows.Next()
	rows.Scan(&count)
	if count == 0 {
		t.Fatalf("expected event rows")
	}
}

func TestEventAppendOnStateChanges(t *testing.T) {
	env := newTestEnv(t)
	mkResource(t, env, "van")
	a := mkActivity(t, env, "evented", "van", 60)
	_, _ = env.Engine.UpdateActivity(env.Ctx, engine.ActivityUpdateOptions{ID: a.ID, Status: "underway", ActorID: "tester", Force: true})
	_, _ = env.Engine.UpdateActivity(env.Ctx, engine.ActivityUpdateOptions{ID: a.ID, Status: "completed", ActorID: "tester", Force: true})
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT type FROM events WHERE entity_id=?`, a.ID)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	types := map[string]bool{}
	for rows.Next() {
		var typ string
		rows.Scan(&typ)
		types[typ] = true
	}
	for _, want := range []string{"activity.created", "activity.started", "activity.completed"} {
		if !types[want] {
			t.Fatalf("missing event %s in %v", want, types)
		}
	}
}
