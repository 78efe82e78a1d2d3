package risk

import (
	"testing"
	"time"

	"planline/internal/graph"
)

func buildChain(t *testing.T, revealingFirst bool) (*graph.Graph, [3]graph.Handle) {
	t.Helper()
	b := graph.NewBuilder()
	r := &graph.Resource{ID: "r1", Name: "r1"}
	a, err := b.Add(graph.ActivityConfig{
		Name: "scout", Duration: time.Hour, Resource: r,
		RiskOfImpounding: 10, RiskOfExtendedDuration: 20, Revealing: revealingFirst,
	})
	if err != nil {
		t.Fatalf("add scout: %v", err)
	}
	bb, err := b.Add(graph.ActivityConfig{
		Name: "load", Duration: time.Hour, Resource: r,
		Dependencies: []graph.Handle{a}, RiskOfImpounding: 30, RiskOfExtendedDuration: 5,
	})
	if err != nil {
		t.Fatalf("add load: %v", err)
	}
	c, err := b.Add(graph.ActivityConfig{
		Name: "drive", Duration: 2 * time.Hour, Resource: r,
		Dependencies: []graph.Handle{bb}, RiskOfImpounding: 95, RiskOfExtendedDuration: 40,
	})
	if err != nil {
		t.Fatalf("add drive: %v", err)
	}
	g, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return g, [3]graph.Handle{a, bb, c}
}

func TestPassthrough_LeavesScoresUntouched(t *testing.T) {
	g, hs := buildChain(t, true)
	got, err := Evaluate(g, Passthrough{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	want := map[graph.Handle]Assessment{
		hs[0]: {Impounding: 10, ExtendedDuration: 20},
		hs[1]: {Impounding: 30, ExtendedDuration: 5},
		hs[2]: {Impounding: 95, ExtendedDuration: 40},
	}
	for h, w := range want {
		if got[h] != w {
			t.Errorf("handle %d: got %+v, want %+v", h, got[h], w)
		}
	}
}

func TestRevealAmplifier_StepsPerRevealingPredecessor(t *testing.T) {
	g, hs := buildChain(t, true)
	got, err := Evaluate(g, RevealAmplifier{Step: 15})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	// scout is revealing, so load gains a step; drive's predecessor is not
	// revealing and stays put except for the clamp.
	if got[hs[0]] != (Assessment{Impounding: 10, ExtendedDuration: 20}) {
		t.Errorf("scout: got %+v", got[hs[0]])
	}
	if got[hs[1]] != (Assessment{Impounding: 45, ExtendedDuration: 5}) {
		t.Errorf("load: got %+v", got[hs[1]])
	}
	if got[hs[2]] != (Assessment{Impounding: 95, ExtendedDuration: 40}) {
		t.Errorf("drive: got %+v", got[hs[2]])
	}
}

func TestRevealAmplifier_ClampsAtHundred(t *testing.T) {
	b := graph.NewBuilder()
	r := &graph.Resource{ID: "r", Name: "r"}
	a, _ := b.Add(graph.ActivityConfig{Name: "a", Duration: time.Hour, Resource: r, Revealing: true})
	bb, _ := b.Add(graph.ActivityConfig{Name: "b", Duration: time.Hour, Resource: r, Revealing: true})
	c, err := b.Add(graph.ActivityConfig{
		Name: "c", Duration: time.Hour, Resource: r,
		Dependencies: []graph.Handle{a, bb}, RiskOfImpounding: 90,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	g, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	got, err := Evaluate(g, RevealAmplifier{Step: 20})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got[c].Impounding != 100 {
		t.Errorf("expected clamp at 100, got %d", got[c].Impounding)
	}
}

func TestApply_Clamps(t *testing.T) {
	a := Assessment{Impounding: 90, ExtendedDuration: 5}
	got := a.Apply(Adjustment{Impounding: 30, ExtendedDuration: -10})
	if got.Impounding != 100 || got.ExtendedDuration != 0 {
		t.Fatalf("got %+v", got)
	}
}

func TestEvaluate_NilInputs(t *testing.T) {
	if _, err := Evaluate(nil, Passthrough{}); err == nil {
		t.Fatal("expected error for nil graph")
	}
	g, _ := buildChain(t, false)
	if _, err := Evaluate(g, nil); err == nil {
		t.Fatal("expected error for nil policy")
	}
}
