package plan

import (
	"fmt"
	"time"

	"planline/internal/graph"
	"planline/internal/risk"
)

// Scheduled is one committed plan entry: the planned activity plus its
// execution window (offsets from the plan epoch) and effective risk.
type Scheduled struct {
	PlannedActivity
	Start  time.Duration
	Finish time.Duration
	Risk   risk.Assessment
}

// Binding maps every activity handle to the strategy that will schedule it.
type Binding map[graph.Handle]Strategy

// Bind binds one strategy to every activity of g.
func Bind(g *graph.Graph, s Strategy) (Binding, error) {
	if g == nil {
		return nil, bindingf("missing graph")
	}
	if s == nil {
		return nil, bindingf("missing planning strategy")
	}
	out := make(Binding, g.Len())
	for _, act := range g.Activities() {
		out[act.Handle()] = s
	}
	return out, nil
}

// Options tunes the scheduling walk.
type Options struct {
	// Policy computes effective risk per activity before strategy
	// adjustments. Nil means risk.Passthrough.
	Policy risk.Policy
}

// Plan is an immutable assembled schedule, entries in topological order.
type Plan struct {
	entries []Scheduled
}

// Entries returns the committed entries in schedule order. The slice is a
// copy.
func (p *Plan) Entries() []Scheduled {
	out := make([]Scheduled, len(p.entries))
	copy(out, p.entries)
	return out
}

// Len returns the number of entries.
func (p *Plan) Len() int { return len(p.entries) }

// Makespan returns the latest finish offset across all entries.
func (p *Plan) Makespan() time.Duration {
	var max time.Duration
	for _, e := range p.entries {
		if e.Finish > max {
			max = e.Finish
		}
	}
	return max
}

// ByName returns the entry for the named activity.
func (p *Plan) ByName(name string) (Scheduled, bool) {
	for _, e := range p.entries {
		if e.Name() == name {
			return e, true
		}
	}
	return Scheduled{}, false
}

// Build walks g in topological order and commits one entry per activity.
// Each strategy's decision is a not-before hint; the walk clamps the start
// so every predecessor has finished and no two activities sharing a resource
// overlap execution windows. Effective risk is the policy assessment shifted
// by the strategy's adjustment, clamped to [0,100]. The walk is
// deterministic for identical inputs.
func Build(g *graph.Graph, bind Binding, opts Options) (*Plan, error) {
	if g == nil {
		return nil, bindingf("missing graph")
	}
	policy := opts.Policy
	if policy == nil {
		policy = risk.Passthrough{}
	}
	assessments, err := risk.Evaluate(g, policy)
	if err != nil {
		return nil, fmt.Errorf("evaluate risk: %w", err)
	}

	finishAt := make(map[graph.Handle]time.Duration, g.Len())
	resourceFree := make(map[string]time.Duration)
	entries := make([]Scheduled, 0, g.Len())

	for _, h := range g.TopoOrder() {
		act, ok := g.Activity(h)
		if !ok {
			return nil, fmt.Errorf("unknown handle %d", h)
		}
		strat, ok := bind[h]
		if !ok || strat == nil {
			return nil, bindingf("activity %q has no strategy", act.Name())
		}
		pa, err := NewPlannedActivity(act, strat)
		if err != nil {
			return nil, err
		}
		decision, err := strat.Decide(act, entries)
		if err != nil {
			return nil, fmt.Errorf("strategy %s on %q: %w", strat.Name(), act.Name(), err)
		}

		start := decision.NotBefore
		for _, dep := range act.Dependencies() {
			if f := finishAt[dep]; f > start {
				start = f
			}
		}
		if free, used := resourceFree[act.Resource().ID]; used && free > start {
			start = free
		}
		finish := start + act.Duration()

		entries = append(entries, Scheduled{
			PlannedActivity: pa,
			Start:           start,
			Finish:          finish,
			Risk:            assessments[h].Apply(decision.Adjustment),
		})
		finishAt[h] = finish
		resourceFree[act.Resource().ID] = finish
	}

	return &Plan{entries: entries}, nil
}
