package strategy

import (
	"testing"
	"time"

	"planline/internal/graph"
	"planline/internal/plan"
)

func buildConvoy(t *testing.T) *graph.Graph {
	t.Helper()
	b := graph.NewBuilder()
	truck := &graph.Resource{ID: "truck", Name: "Truck"}
	scout := &graph.Resource{ID: "scout-car", Name: "Scout car"}

	recon, err := b.Add(graph.ActivityConfig{
		Name: "recon", Duration: time.Hour, Resource: scout,
		RiskOfExtendedDuration: 50, Revealing: true,
	})
	if err != nil {
		t.Fatalf("add recon: %v", err)
	}
	if _, err := b.Add(graph.ActivityConfig{
		Name: "haul", Duration: 4 * time.Hour, Resource: truck,
		Dependencies: []graph.Handle{recon}, RiskOfExtendedDuration: 30,
	}); err != nil {
		t.Fatalf("add haul: %v", err)
	}
	if _, err := b.Add(graph.ActivityConfig{
		Name: "return", Duration: 2 * time.Hour, Resource: truck,
	}); err != nil {
		t.Fatalf("add return: %v", err)
	}
	g, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return g
}

func TestNew_UnknownName(t *testing.T) {
	if _, err := New("bogus", Options{}); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestNew_KnownNames(t *testing.T) {
	for _, name := range Names() {
		s, err := New(name, Options{})
		if err != nil {
			t.Fatalf("new %q: %v", name, err)
		}
		if s.Name() != name {
			t.Errorf("strategy %q reports name %q", name, s.Name())
		}
	}
}

func TestEarliestStart_NoPadding(t *testing.T) {
	g := buildConvoy(t)
	bind, err := plan.Bind(g, EarliestStart{})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	p, err := plan.Build(g, bind, plan.Options{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	haul, _ := p.ByName("haul")
	if haul.Start != time.Hour {
		t.Errorf("haul should start the moment recon finishes, got %s", haul.Start)
	}
}

func TestBuffered_PadsForPredecessorOverrun(t *testing.T) {
	g := buildConvoy(t)
	bind, err := plan.Bind(g, Buffered{Relief: 10})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	p, err := plan.Build(g, bind, plan.Options{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	// recon runs 1h with a 50 extended-duration risk, so haul pads 30m.
	haul, _ := p.ByName("haul")
	if want := time.Hour + 30*time.Minute; haul.Start != want {
		t.Errorf("haul start %s, want %s", haul.Start, want)
	}
	if haul.Risk.ExtendedDuration != 20 {
		t.Errorf("haul extended-duration risk %d, want 30 relieved to 20", haul.Risk.ExtendedDuration)
	}
	// No predecessors, no pad, no relief.
	recon, _ := p.ByName("recon")
	if recon.Start != 0 || recon.Risk.ExtendedDuration != 50 {
		t.Errorf("recon start %s risk %d, want 0 and 50", recon.Start, recon.Risk.ExtendedDuration)
	}
}

func TestLeveling_GapBetweenResourceUses(t *testing.T) {
	g := buildConvoy(t)
	gap := 45 * time.Minute
	bind, err := plan.Bind(g, Leveling{Gap: gap})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	p, err := plan.Build(g, bind, plan.Options{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	haul, _ := p.ByName("haul")
	ret, _ := p.ByName("return")
	// Both ride the truck; whichever goes second must wait out the gap.
	firstFinish, secondStart := haul.Finish, ret.Start
	if ret.Finish < haul.Start {
		firstFinish, secondStart = ret.Finish, haul.Start
	}
	if secondStart < firstFinish+gap {
		t.Errorf("second truck use at %s, want at least %s", secondStart, firstFinish+gap)
	}
	// haul follows a revealing recon, so it also waits out the cool-down.
	recon, _ := p.ByName("recon")
	if haul.Start < recon.Finish+gap {
		t.Errorf("haul start %s ignores reveal cool-down after %s", haul.Start, recon.Finish)
	}
}
