// Package strategy provides the built-in planning strategies, selected by
// name. Each one implements plan.Strategy and stays deterministic: given the
// same activity and committed entries, the decision is always the same.
package strategy

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"planline/internal/graph"
	"planline/internal/plan"
	"planline/internal/risk"
)

// Options carries the tunables strategies read from configuration.
type Options struct {
	// BufferRelief is how many points of extended-duration risk a buffered
	// start pad absorbs.
	BufferRelief int
	// LevelGap is the minimum idle gap leveling keeps between consecutive
	// uses of one resource, and after a revealing predecessor.
	LevelGap time.Duration
}

// New resolves a strategy by name.
func New(name string, opts Options) (plan.Strategy, error) {
	switch name {
	case "earliest":
		return EarliestStart{}, nil
	case "buffered":
		return Buffered{Relief: opts.BufferRelief}, nil
	case "leveling":
		return Leveling{Gap: opts.LevelGap}, nil
	}
	return nil, fmt.Errorf("unknown strategy %q (have %s)", name, strings.Join(Names(), ", "))
}

// Names lists the registered strategy names, sorted.
func Names() []string {
	names := []string{"earliest", "buffered", "leveling"}
	sort.Strings(names)
	return names
}

// EarliestStart starts every activity as soon as its dependencies allow and
// adjusts nothing.
type EarliestStart struct{}

func (EarliestStart) Name() string { return "earliest" }

func (EarliestStart) Decide(_ *graph.Activity, _ []plan.Scheduled) (plan.Decision, error) {
	return plan.Decision{}, nil
}

// Buffered pads the start by the largest expected overrun among the direct
// predecessors (duration x extended-duration risk / 100). When a pad is
// applied, the activity's own extended-duration risk is relieved by Relief
// points, on the grounds that the pad absorbs a late handoff.
type Buffered struct {
	Relief int
}

func (Buffered) Name() string { return "buffered" }

func (s Buffered) Decide(act *graph.Activity, committed []plan.Scheduled) (plan.Decision, error) {
	byHandle := indexCommitted(committed)
	var latest, pad time.Duration
	for _, dep := range act.Dependencies() {
		entry, ok := byHandle[dep]
		if !ok {
			return plan.Decision{}, fmt.Errorf("predecessor of %q not committed yet", act.Name())
		}
		if entry.Finish > latest {
			latest = entry.Finish
		}
		overrun := expectedOverrun(entry)
		if overrun > pad {
			pad = overrun
		}
	}
	d := plan.Decision{NotBefore: latest + pad}
	if pad > 0 {
		d.Adjustment = risk.Adjustment{ExtendedDuration: -s.Relief}
	}
	return d, nil
}

// expectedOverrun scales a committed entry's duration by its effective
// extended-duration risk.
func expectedOverrun(e plan.Scheduled) time.Duration {
	return e.Duration() * time.Duration(e.Risk.ExtendedDuration) / 100
}

// Leveling spreads load on shared resources: an activity may not start
// within Gap of the previous use of its resource, nor within Gap after a
// revealing predecessor finished.
type Leveling struct {
	Gap time.Duration
}

func (Leveling) Name() string { return "leveling" }

func (s Leveling) Decide(act *graph.Activity, committed []plan.Scheduled) (plan.Decision, error) {
	byHandle := indexCommitted(committed)
	var notBefore time.Duration
	for _, entry := range committed {
		if entry.Resource().ID == act.Resource().ID {
			if next := entry.Finish + s.Gap; next > notBefore {
				notBefore = next
			}
		}
	}
	for _, dep := range act.Dependencies() {
		entry, ok := byHandle[dep]
		if !ok {
			return plan.Decision{}, fmt.Errorf("predecessor of %q not committed yet", act.Name())
		}
		if entry.IsRevealing() {
			if next := entry.Finish + s.Gap; next > notBefore {
				notBefore = next
			}
		}
	}
	return plan.Decision{NotBefore: notBefore}, nil
}

func indexCommitted(committed []plan.Scheduled) map[graph.Handle]plan.Scheduled {
	out := make(map[graph.Handle]plan.Scheduled, len(committed))
	for _, e := range committed {
		out[e.Activity().Handle()] = e
	}
	return out
}
