package plan

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"

	"planline/internal/graph"
	"planline/internal/risk"
)

// stubStrategy returns a fixed decision for every activity.
type stubStrategy struct {
	notBefore time.Duration
	adj       risk.Adjustment
}

func (stubStrategy) Name() string { return "stub" }

func (s stubStrategy) Decide(_ *graph.Activity, _ []Scheduled) (Decision, error) {
	return Decision{NotBefore: s.notBefore, Adjustment: s.adj}, nil
}

func buildTruckGraph(t *testing.T) (*graph.Graph, graph.Handle, graph.Handle) {
	t.Helper()
	b := graph.NewBuilder()
	truck := &graph.Resource{ID: "truck-1", Name: "Truck #1"}
	load, err := b.Add(graph.ActivityConfig{
		Name: "Load Truck", Duration: 2 * time.Hour, Resource: truck,
		RiskOfImpounding: 5, RiskOfExtendedDuration: 10,
	})
	if err != nil {
		t.Fatalf("add load: %v", err)
	}
	drive, err := b.Add(graph.ActivityConfig{
		Name: "Drive Route", Duration: 6 * time.Hour, Resource: truck,
		Dependencies: []graph.Handle{load}, RiskOfImpounding: 20, RiskOfExtendedDuration: 15,
	})
	if err != nil {
		t.Fatalf("add drive: %v", err)
	}
	g, err := b.Build()
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	return g, load, drive
}

func TestNewPlannedActivity_MissingReferences(t *testing.T) {
	g, load, _ := buildTruckGraph(t)
	act, _ := g.Activity(load)

	if _, err := NewPlannedActivity(act, nil); !errors.Is(err, ErrInvalidPlanBinding) {
		t.Fatalf("expected binding error for nil strategy, got %v", err)
	}
	if _, err := NewPlannedActivity(nil, stubStrategy{}); !errors.Is(err, ErrInvalidPlanBinding) {
		t.Fatalf("expected binding error for nil activity, got %v", err)
	}
}

func TestPlannedActivity_ReadThroughIdentical(t *testing.T) {
	g, load, _ := buildTruckGraph(t)
	act, _ := g.Activity(load)
	s := stubStrategy{}

	p1, err := NewPlannedActivity(act, s)
	if err != nil {
		t.Fatalf("first binding: %v", err)
	}
	p2, err := NewPlannedActivity(act, s)
	if err != nil {
		t.Fatalf("second binding: %v", err)
	}

	if p1.Name() != p2.Name() || p1.Duration() != p2.Duration() ||
		p1.Resource() != p2.Resource() ||
		p1.RiskOfImpounding() != p2.RiskOfImpounding() ||
		p1.RiskOfExtendedDuration() != p2.RiskOfExtendedDuration() ||
		p1.IsRevealing() != p2.IsRevealing() {
		t.Fatal("two bindings over the same references expose different values")
	}
	if p1.Activity() != act {
		t.Fatal("wrapped activity is not the same reference")
	}
}

func TestBuild_DependencyGatesStart(t *testing.T) {
	g, _, _ := buildTruckGraph(t)
	bind, err := Bind(g, stubStrategy{})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	p, err := Build(g, bind, Options{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	load, ok := p.ByName("Load Truck")
	if !ok {
		t.Fatal("missing Load Truck entry")
	}
	drive, ok := p.ByName("Drive Route")
	if !ok {
		t.Fatal("missing Drive Route entry")
	}
	if load.Start != 0 || load.Finish != 2*time.Hour {
		t.Errorf("load window [%s, %s]", load.Start, load.Finish)
	}
	if drive.Start != 2*time.Hour || drive.Finish != 8*time.Hour {
		t.Errorf("drive window [%s, %s]", drive.Start, drive.Finish)
	}
	if p.Makespan() != 8*time.Hour {
		t.Errorf("makespan %s", p.Makespan())
	}
	// Schedule order follows the topological order.
	entries := p.Entries()
	if entries[0].Name() != "Load Truck" || entries[1].Name() != "Drive Route" {
		t.Errorf("unexpected entry order: %s, %s", entries[0].Name(), entries[1].Name())
	}
}

func TestBuild_SameResourceWindowsNeverOverlap(t *testing.T) {
	// Two independent activities on one van: no dependency forces an order,
	// the shared resource must.
	b := graph.NewBuilder()
	van := &graph.Resource{ID: "van", Name: "Van"}
	if _, err := b.Add(graph.ActivityConfig{Name: "first", Duration: 3 * time.Hour, Resource: van}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := b.Add(graph.ActivityConfig{Name: "second", Duration: time.Hour, Resource: van}); err != nil {
		t.Fatalf("add: %v", err)
	}
	g, err := b.Build()
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	bind, _ := Bind(g, stubStrategy{})
	p, err := Build(g, bind, Options{})
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	first, _ := p.ByName("first")
	second, _ := p.ByName("second")
	if second.Start < first.Finish {
		t.Fatalf("windows overlap: first [%s,%s], second [%s,%s]",
			first.Start, first.Finish, second.Start, second.Finish)
	}
}

func TestBuild_MissingBindingFails(t *testing.T) {
	g, load, _ := buildTruckGraph(t)
	bind := Binding{load: stubStrategy{}}
	if _, err := Build(g, bind, Options{}); !errors.Is(err, ErrInvalidPlanBinding) {
		t.Fatalf("expected binding error, got %v", err)
	}
}

func TestBuild_AdjustmentAppliedAndClamped(t *testing.T) {
	g, load, drive := buildTruckGraph(t)
	bind := Binding{
		load:  stubStrategy{adj: risk.Adjustment{Impounding: -50}},
		drive: stubStrategy{adj: risk.Adjustment{Impounding: 200}},
	}
	p, err := Build(g, bind, Options{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	l, _ := p.ByName("Load Truck")
	d, _ := p.ByName("Drive Route")
	if l.Risk.Impounding != 0 {
		t.Errorf("load impounding %d, want clamp to 0", l.Risk.Impounding)
	}
	if d.Risk.Impounding != 100 {
		t.Errorf("drive impounding %d, want clamp to 100", d.Risk.Impounding)
	}
	if l.Risk.ExtendedDuration != 10 || d.Risk.ExtendedDuration != 15 {
		t.Error("extended-duration scores should pass through untouched")
	}
}

func TestBuild_RepeatedRunsIdentical(t *testing.T) {
	g, _, _ := buildTruckGraph(t)
	bind, _ := Bind(g, stubStrategy{})
	first, err := Build(g, bind, Options{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for i := 0; i < 3; i++ {
		next, err := Build(g, bind, Options{})
		if err != nil {
			t.Fatalf("rebuild: %v", err)
		}
		fe, ne := first.Entries(), next.Entries()
		for j := range fe {
			if fe[j].Name() != ne[j].Name() || fe[j].Start != ne[j].Start || fe[j].Finish != ne[j].Finish {
				t.Fatalf("run %d diverged at entry %d", i, j)
			}
		}
	}
}

// Whatever the shape of the DAG and the resource assignment, a built plan
// never overlaps two execution windows on the same resource and never starts
// an activity before a predecessor finishes.
func TestProperty_PlanRespectsResourcesAndDependencies(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 10).Draw(rt, "activities")
		resources := []*graph.Resource{
			{ID: "r1", Name: "r1"},
			{ID: "r2", Name: "r2"},
			{ID: "r3", Name: "r3"},
		}

		b := graph.NewBuilder()
		for i := 0; i < n; i++ {
			var deps []graph.Handle
			for j := 0; j < i; j++ {
				if rapid.Bool().Draw(rt, fmt.Sprintf("edge-%d-%d", j, i)) {
					deps = append(deps, graph.Handle(j))
				}
			}
			_, err := b.Add(graph.ActivityConfig{
				Name:         fmt.Sprintf("act-%d", i),
				Duration:     time.Duration(rapid.IntRange(0, 8).Draw(rt, fmt.Sprintf("dur-%d", i))) * time.Hour,
				Resource:     resources[rapid.IntRange(0, len(resources)-1).Draw(rt, fmt.Sprintf("res-%d", i))],
				Dependencies: deps,
			})
			if err != nil {
				t.Fatalf("add: %v", err)
			}
		}
		g, err := b.Build()
		if err != nil {
			t.Fatalf("build graph: %v", err)
		}
		bind, _ := Bind(g, stubStrategy{})
		p, err := Build(g, bind, Options{})
		if err != nil {
			t.Fatalf("build plan: %v", err)
		}

		entries := p.Entries()
		byHandle := make(map[graph.Handle]Scheduled, len(entries))
		for _, e := range entries {
			byHandle[e.Activity().Handle()] = e
		}
		for _, e := range entries {
			for _, dep := range e.Dependencies() {
				if byHandle[dep].Finish > e.Start {
					t.Fatalf("%s starts at %s before predecessor finishes at %s",
						e.Name(), e.Start, byHandle[dep].Finish)
				}
			}
		}
		for i := 0; i < len(entries); i++ {
			for j := i + 1; j < len(entries); j++ {
				a, bb := entries[i], entries[j]
				if a.Resource().ID != bb.Resource().ID {
					continue
				}
				if a.Start < bb.Finish && bb.Start < a.Finish {
					t.Fatalf("resource %s double-booked: [%s,%s] and [%s,%s]",
						a.Resource().ID, a.Start, a.Finish, bb.Start, bb.Finish)
				}
			}
		}
	})
}
