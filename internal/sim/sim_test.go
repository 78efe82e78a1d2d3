package sim

import (
	"testing"
	"time"

	"planline/internal/graph"
	"planline/internal/plan"
)

type fixedStrategy struct{}

func (fixedStrategy) Name() string { return "fixed" }
func (fixedStrategy) Decide(_ *graph.Activity, _ []plan.Scheduled) (plan.Decision, error) {
	return plan.Decision{}, nil
}

func buildPlan(t *testing.T, imp, ext int) *plan.Plan {
	t.Helper()
	b := graph.NewBuilder()
	truck := &graph.Resource{ID: "truck", Name: "Truck"}
	load, err := b.Add(graph.ActivityConfig{
		Name: "load", Duration: 2 * time.Hour, Resource: truck,
		RiskOfImpounding: imp, RiskOfExtendedDuration: ext,
	})
	if err != nil {
		t.Fatalf("add load: %v", err)
	}
	if _, err := b.Add(graph.ActivityConfig{
		Name: "drive", Duration: 6 * time.Hour, Resource: truck,
		Dependencies: []graph.Handle{load},
	}); err != nil {
		t.Fatalf("add drive: %v", err)
	}
	g, err := b.Build()
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	bind, err := plan.Bind(g, fixedStrategy{})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	p, err := plan.Build(g, bind, plan.Options{})
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	return p
}

func TestRun_NoRiskMeansNoSurprises(t *testing.T) {
	p := buildPlan(t, 0, 0)
	res, err := Runner{Runs: 200, Seed: 42}.Run(p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Clean != 200 || res.Compromised != 0 {
		t.Fatalf("expected every run clean, got clean=%d compromised=%d", res.Clean, res.Compromised)
	}
	if res.P50 != 8*time.Hour || res.P90 != 8*time.Hour {
		t.Fatalf("expected completion pinned at makespan, got p50=%s p90=%s", res.P50, res.P90)
	}
	if res.CompromiseProbability != 0 {
		t.Fatalf("compromise probability %f", res.CompromiseProbability)
	}
}

func TestRun_CertainImpoundingDragsDependents(t *testing.T) {
	p := buildPlan(t, 100, 0)
	res, err := Runner{Runs: 50, Seed: 7}.Run(p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Compromised != 50 || res.Clean != 0 {
		t.Fatalf("expected every run compromised, got clean=%d compromised=%d", res.Clean, res.Compromised)
	}
	if res.Activities[0].Impounded != 50 {
		t.Fatalf("load impounded %d of 50", res.Activities[0].Impounded)
	}
	// drive shares the truck and depends on load; it never executes.
	if res.Activities[1].Skipped != 50 || res.Activities[1].Completed != 0 {
		t.Fatalf("drive stats %+v", res.Activities[1])
	}
	if res.CompromiseProbability != 1 {
		t.Fatalf("compromise probability %f", res.CompromiseProbability)
	}
}

func TestRun_CertainOverrunStretchesCompletion(t *testing.T) {
	p := buildPlan(t, 0, 100)
	res, err := Runner{Runs: 20, Seed: 1, OverrunFactor: 0.5}.Run(p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// load always stretches to 3h; drive keeps its 6h estimate.
	if want := 9 * time.Hour; res.P50 != want || res.P90 != want {
		t.Fatalf("expected completion %s, got p50=%s p90=%s", want, res.P50, res.P90)
	}
	if res.Activities[0].MeanDuration != 3*time.Hour {
		t.Fatalf("load mean duration %s", res.Activities[0].MeanDuration)
	}
}

func TestRun_SameSeedSameNumbers(t *testing.T) {
	p := buildPlan(t, 30, 40)
	first, err := Runner{Runs: 500, Seed: 99}.Run(p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	second, err := Runner{Runs: 500, Seed: 99}.Run(p)
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if first.Clean != second.Clean || first.P50 != second.P50 || first.P90 != second.P90 {
		t.Fatalf("same seed diverged: %+v vs %+v", first, second)
	}
	for i := range first.Activities {
		if first.Activities[i] != second.Activities[i] {
			t.Fatalf("activity stats diverged at %d", i)
		}
	}
}

func TestRun_DefaultsApplied(t *testing.T) {
	p := buildPlan(t, 0, 0)
	res, err := Runner{}.Run(p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Runs != DefaultRuns {
		t.Fatalf("expected %d default runs, got %d", DefaultRuns, res.Runs)
	}
}

func TestRun_NilPlan(t *testing.T) {
	if _, err := (Runner{}).Run(nil); err == nil {
		t.Fatal("expected error for nil plan")
	}
}
