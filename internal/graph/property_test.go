package graph

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// Any activity accepted by the builder carries risk scores inside [0,100]
// and a non-negative duration; anything outside is rejected with the
// configuration error before it can reach a graph.
func TestProperty_RiskAndDurationBounds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		imp := rapid.IntRange(-50, 150).Draw(rt, "impounding")
		ext := rapid.IntRange(-50, 150).Draw(rt, "extended")
		dur := time.Duration(rapid.Int64Range(-int64(time.Hour), int64(24*time.Hour)).Draw(rt, "duration"))

		b := NewBuilder()
		h, err := b.Add(ActivityConfig{
			Name:                   "probe",
			Duration:               dur,
			Resource:               testResource("r"),
			RiskOfImpounding:       imp,
			RiskOfExtendedDuration: ext,
		})

		valid := imp >= 0 && imp <= 100 && ext >= 0 && ext <= 100 && dur >= 0
		if valid {
			if err != nil {
				t.Fatalf("valid input rejected: %v", err)
			}
			g, err := b.Build()
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			act, ok := g.Activity(h)
			if !ok {
				t.Fatal("accepted activity missing from graph")
			}
			if r := act.RiskOfImpounding(); r < 0 || r > 100 {
				t.Fatalf("stored impounding risk %d out of bounds", r)
			}
			if r := act.RiskOfExtendedDuration(); r < 0 || r > 100 {
				t.Fatalf("stored extended-duration risk %d out of bounds", r)
			}
			if act.Duration() < 0 {
				t.Fatalf("stored negative duration %s", act.Duration())
			}
		} else if !errors.Is(err, ErrInvalidActivityConfiguration) {
			t.Fatalf("invalid input (imp=%d ext=%d dur=%s) not rejected: %v", imp, ext, dur, err)
		}
	})
}

// A topological order over any random DAG respects every dependency edge and
// is reproducible when the same activities arrive in the same order.
func TestProperty_TopoOrderRespectsEdgesAndRepeats(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(rt, "activities")

		build := func() *Graph {
			b := NewBuilder()
			r := testResource("shared")
			for i := 0; i < n; i++ {
				var deps []Handle
				// Edges only point backward, so the input is a DAG by
				// construction.
				for j := 0; j < i; j++ {
					if rapid.Bool().Draw(rt, fmt.Sprintf("edge-%d-%d", j, i)) {
						deps = append(deps, Handle(j))
					}
				}
				if _, err := b.Add(ActivityConfig{
					Name:         fmt.Sprintf("act-%d", i),
					Duration:     time.Duration(i) * time.Minute,
					Resource:     r,
					Dependencies: deps,
				}); err != nil {
					t.Fatalf("add: %v", err)
				}
			}
			g, err := b.Build()
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			return g
		}

		g := build()
		order := g.TopoOrder()
		if len(order) != n {
			t.Fatalf("order covers %d of %d activities", len(order), n)
		}
		position := make(map[Handle]int, n)
		for i, h := range order {
			position[h] = i
		}
		for _, act := range g.Activities() {
			for _, dep := range act.Dependencies() {
				if position[dep] >= position[act.Handle()] {
					t.Fatalf("dependency %d ordered after dependent %d", dep, act.Handle())
				}
			}
		}

		if again := g.TopoOrder(); len(again) == len(order) {
			for i := range order {
				if order[i] != again[i] {
					t.Fatalf("order not stable across calls: %v vs %v", order, again)
				}
			}
		}
	})
}
