package graph

import (
	"errors"
	"testing"
	"time"
)

func testResource(id string) *Resource {
	return &Resource{ID: id, Name: id}
}

func mustAdd(t *testing.T, b *Builder, cfg ActivityConfig) Handle {
	t.Helper()
	h, err := b.Add(cfg)
	if err != nil {
		t.Fatalf("add %q: %v", cfg.Name, err)
	}
	return h
}

func TestBuild_SimpleDAG(t *testing.T) {
	// a -> b -> d
	// a -> c -> d
	b := NewBuilder()
	r := testResource("r1")
	a := mustAdd(t, b, ActivityConfig{Name: "a", Duration: time.Hour, Resource: r})
	bb := mustAdd(t, b, ActivityConfig{Name: "b", Duration: time.Hour, Resource: r, Dependencies: []Handle{a}})
	c := mustAdd(t, b, ActivityConfig{Name: "c", Duration: time.Hour, Resource: r, Dependencies: []Handle{a}})
	d := mustAdd(t, b, ActivityConfig{Name: "d", Duration: time.Hour, Resource: r, Dependencies: []Handle{bb, c}})

	g, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g.Len() != 4 {
		t.Errorf("expected 4 activities, got %d", g.Len())
	}
	if roots := g.Roots(); len(roots) != 1 || roots[0] != a {
		t.Errorf("expected roots=[a], got %v", roots)
	}
	if leaves := g.Leaves(); len(leaves) != 1 || leaves[0] != d {
		t.Errorf("expected leaves=[d], got %v", leaves)
	}
	if deps := g.Dependencies(d); len(deps) != 2 || deps[0].Name() != "b" || deps[1].Name() != "c" {
		t.Errorf("expected d deps [b c], got %v", names(deps))
	}
	if dependents := g.Dependents(a); len(dependents) != 2 {
		t.Errorf("expected 2 dependents of a, got %v", names(dependents))
	}
}

func TestBuild_RejectsOutOfRangeRisk(t *testing.T) {
	cases := []struct {
		name string
		cfg  ActivityConfig
	}{
		{"impounding over", ActivityConfig{Name: "x", Duration: time.Hour, Resource: testResource("r"), RiskOfImpounding: 101}},
		{"impounding under", ActivityConfig{Name: "x", Duration: time.Hour, Resource: testResource("r"), RiskOfImpounding: -1}},
		{"extended over", ActivityConfig{Name: "x", Duration: time.Hour, Resource: testResource("r"), RiskOfExtendedDuration: 101}},
		{"extended under", ActivityConfig{Name: "x", Duration: time.Hour, Resource: testResource("r"), RiskOfExtendedDuration: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewBuilder().Add(tc.cfg)
			if !errors.Is(err, ErrInvalidActivityConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestBuild_RejectsNegativeDuration(t *testing.T) {
	_, err := NewBuilder().Add(ActivityConfig{Name: "x", Duration: -time.Minute, Resource: testResource("r")})
	if !errors.Is(err, ErrInvalidActivityConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestBuild_ZeroDurationMilestone(t *testing.T) {
	b := NewBuilder()
	h := mustAdd(t, b, ActivityConfig{Name: "milestone", Duration: 0, Resource: testResource("r")})
	g, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	act, ok := g.Activity(h)
	if !ok || act.Duration() != 0 {
		t.Fatalf("expected zero-duration activity, got %v", act)
	}
}

func TestBuild_RejectsMissingResource(t *testing.T) {
	_, err := NewBuilder().Add(ActivityConfig{Name: "x", Duration: time.Hour})
	if !errors.Is(err, ErrInvalidActivityConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestBuild_RejectsDuplicateName(t *testing.T) {
	b := NewBuilder()
	mustAdd(t, b, ActivityConfig{Name: "x", Duration: time.Hour, Resource: testResource("r")})
	_, err := b.Add(ActivityConfig{Name: "x", Duration: time.Hour, Resource: testResource("r")})
	if !errors.Is(err, ErrInvalidActivityConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestBuild_CycleDetection(t *testing.T) {
	// c depends on b, b depends on a, a depends on c. The last edge closes
	// the loop after the fact, so the failure must come from Build no matter
	// the insertion order.
	orders := [][2]int{{0, 1}, {1, 0}}
	for _, order := range orders {
		b := NewBuilder()
		r := testResource("r")
		a := mustAdd(t, b, ActivityConfig{Name: "a", Duration: time.Hour, Resource: r})
		bb := mustAdd(t, b, ActivityConfig{Name: "b", Duration: time.Hour, Resource: r})
		c := mustAdd(t, b, ActivityConfig{Name: "c", Duration: time.Hour, Resource: r})

		edges := [][2]Handle{{c, bb}, {bb, a}}
		if err := b.Depend(edges[order[0]][0], edges[order[0]][1]); err != nil {
			t.Fatalf("depend: %v", err)
		}
		if err := b.Depend(edges[order[1]][0], edges[order[1]][1]); err != nil {
			t.Fatalf("depend: %v", err)
		}
		if err := b.Depend(a, c); err != nil {
			t.Fatalf("depend: %v", err)
		}

		_, err := b.Build()
		if !errors.Is(err, ErrInvalidActivityConfiguration) {
			t.Fatalf("expected cycle rejection, got %v", err)
		}
	}
}

func TestBuild_SelfLoopRejected(t *testing.T) {
	b := NewBuilder()
	h := mustAdd(t, b, ActivityConfig{Name: "a", Duration: time.Hour, Resource: testResource("r")})
	if err := b.Depend(h, h); !errors.Is(err, ErrInvalidActivityConfiguration) {
		t.Fatalf("expected self-loop rejection, got %v", err)
	}
}

func TestTopoOrder_RootFirstAndDeterministic(t *testing.T) {
	build := func() (*Graph, [3]Handle) {
		b := NewBuilder()
		r := testResource("r")
		a := mustAdd(t, b, ActivityConfig{Name: "a", Duration: time.Hour, Resource: r})
		bb := mustAdd(t, b, ActivityConfig{Name: "b", Duration: time.Hour, Resource: r, Dependencies: []Handle{a}})
		c := mustAdd(t, b, ActivityConfig{Name: "c", Duration: time.Hour, Resource: r, Dependencies: []Handle{a}})
		g, err := b.Build()
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		return g, [3]Handle{a, bb, c}
	}

	g1, hs := build()
	order := g1.TopoOrder()
	if len(order) != 3 || order[0] != hs[0] {
		t.Fatalf("expected a first, got %v", order)
	}
	// b and c have no relation; declaration order breaks the tie.
	if order[1] != hs[1] || order[2] != hs[2] {
		t.Fatalf("expected [a b c], got %v", order)
	}

	for i := 0; i < 5; i++ {
		g2, _ := build()
		again := g2.TopoOrder()
		for j := range order {
			if order[j] != again[j] {
				t.Fatalf("order changed between runs: %v vs %v", order, again)
			}
		}
	}
}

func TestActivity_DependenciesCopied(t *testing.T) {
	b := NewBuilder()
	r := testResource("r")
	a := mustAdd(t, b, ActivityConfig{Name: "a", Duration: time.Hour, Resource: r})
	bb := mustAdd(t, b, ActivityConfig{Name: "b", Duration: time.Hour, Resource: r, Dependencies: []Handle{a}})
	g, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	act, _ := g.Activity(bb)
	deps := act.Dependencies()
	deps[0] = Handle(99)
	if again := act.Dependencies(); again[0] != a {
		t.Fatalf("dependency slice not copied: %v", again)
	}
}

func TestBuild_TruckScenario(t *testing.T) {
	b := NewBuilder()
	truck := &Resource{ID: "truck-1", Name: "Truck #1"}
	load := mustAdd(t, b, ActivityConfig{
		Name:                   "Load Truck",
		Duration:               2 * time.Hour,
		Resource:               truck,
		RiskOfImpounding:       5,
		RiskOfExtendedDuration: 10,
	})
	drive := mustAdd(t, b, ActivityConfig{
		Name:                   "Drive Route",
		Duration:               6 * time.Hour,
		Resource:               truck,
		Dependencies:           []Handle{load},
		RiskOfImpounding:       20,
		RiskOfExtendedDuration: 15,
	})

	g, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	order := g.TopoOrder()
	if len(order) != 2 || order[0] != load || order[1] != drive {
		t.Fatalf("expected [Load Truck, Drive Route], got %v", order)
	}
	d, _ := g.Activity(drive)
	l, _ := g.Activity(load)
	if d.Resource() != l.Resource() {
		t.Fatalf("expected both activities to share the same resource reference")
	}
	if d.Resource().ID != "truck-1" {
		t.Fatalf("unexpected resource identity %q", d.Resource().ID)
	}
}

func TestLookup(t *testing.T) {
	b := NewBuilder()
	h := mustAdd(t, b, ActivityConfig{Name: "only", Duration: time.Hour, Resource: testResource("r")})
	g, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	got, ok := g.Lookup("only")
	if !ok || got != h {
		t.Fatalf("expected handle %d, got %d (ok=%v)", h, got, ok)
	}
	if _, ok := g.Lookup("missing"); ok {
		t.Fatal("expected lookup miss for unknown name")
	}
}

func names(acts []*Activity) []string {
	out := make([]string, 0, len(acts))
	for _, a := range acts {
		out = append(out, a.Name())
	}
	return out
}
