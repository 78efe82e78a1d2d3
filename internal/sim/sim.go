// Package sim runs seeded Monte Carlo trials over an assembled plan,
// turning the effective risk scores into outcome distributions. Results are
// reproducible: the same seed over the same plan yields the same numbers.
package sim

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"planline/internal/graph"
	"planline/internal/plan"
)

const (
	// DefaultRuns is the trial count when the caller does not choose one.
	DefaultRuns = 1000
	// DefaultOverrunFactor is the fraction of the estimate an overrunning
	// activity adds on top.
	DefaultOverrunFactor = 0.5
)

// Runner holds the trial parameters.
type Runner struct {
	Runs          int
	Seed          int64
	OverrunFactor float64
}

// ActivityStats aggregates one activity's outcomes across all trials.
type ActivityStats struct {
	Name         string        `json:"name"`
	Completed    int           `json:"completed"`
	Impounded    int           `json:"impounded"`
	Skipped      int           `json:"skipped"`
	MeanDuration time.Duration `json:"mean_duration"`
}

// Result summarizes all trials.
type Result struct {
	Runs                  int             `json:"runs"`
	Seed                  int64           `json:"seed"`
	Clean                 int             `json:"clean"`
	Compromised           int             `json:"compromised"`
	CompromiseProbability float64         `json:"compromise_probability"`
	P50                   time.Duration   `json:"p50"`
	P90                   time.Duration   `json:"p90"`
	Activities            []ActivityStats `json:"activities"`
}

// Run executes the trials over p. In each trial the entries execute in plan
// order: an activity whose effective extended-duration risk fires takes
// OverrunFactor longer, and one whose impounding risk fires loses its
// resource for the rest of the trial, dragging every later activity on that
// resource (and every dependent) down with it. A trial with any impounding
// is compromised.
func (r Runner) Run(p *plan.Plan) (*Result, error) {
	if p == nil {
		return nil, fmt.Errorf("sim: nil plan")
	}
	runs := r.Runs
	if runs <= 0 {
		runs = DefaultRuns
	}
	factor := r.OverrunFactor
	if factor <= 0 {
		factor = DefaultOverrunFactor
	}
	rng := rand.New(rand.NewSource(r.Seed))

	entries := p.Entries()
	stats := make([]ActivityStats, len(entries))
	totals := make([]time.Duration, len(entries))
	for i, e := range entries {
		stats[i].Name = e.Name()
	}

	completions := make([]time.Duration, 0, runs)
	clean := 0

	for trial := 0; trial < runs; trial++ {
		lostResources := make(map[string]bool)
		finished := make(map[graph.Handle]time.Duration, len(entries))
		resourceFree := make(map[string]time.Duration)
		allDone := true
		var completion time.Duration

		for i, e := range entries {
			resID := e.Resource().ID
			if lostResources[resID] {
				stats[i].Skipped++
				allDone = false
				continue
			}
			blocked := false
			start := e.Start
			for _, dep := range e.Dependencies() {
				f, ok := finished[dep]
				if !ok {
					blocked = true
					break
				}
				if f > start {
					start = f
				}
			}
			if blocked {
				stats[i].Skipped++
				allDone = false
				continue
			}
			if free := resourceFree[resID]; free > start {
				start = free
			}

			actual := e.Duration()
			if roll(rng, e.Risk.ExtendedDuration) {
				actual += time.Duration(float64(actual) * factor)
			}
			if roll(rng, e.Risk.Impounding) {
				stats[i].Impounded++
				lostResources[resID] = true
				allDone = false
				continue
			}

			end := start + actual
			finished[e.Activity().Handle()] = end
			resourceFree[resID] = end
			stats[i].Completed++
			totals[i] += actual
			if end > completion {
				completion = end
			}
		}

		if allDone {
			clean++
			completions = append(completions, completion)
		}
	}

	for i := range stats {
		if stats[i].Completed > 0 {
			stats[i].MeanDuration = totals[i] / time.Duration(stats[i].Completed)
		}
	}

	res := &Result{
		Runs:        runs,
		Seed:        r.Seed,
		Clean:       clean,
		Compromised: runs - clean,
		P50:         percentile(completions, 0.50),
		P90:         percentile(completions, 0.90),
		Activities:  stats,
	}
	res.CompromiseProbability = float64(res.Compromised) / float64(runs)
	return res, nil
}

// roll fires with probability pct in [0,100].
func roll(rng *rand.Rand, pct int) bool {
	if pct <= 0 {
		return false
	}
	if pct >= 100 {
		return true
	}
	return rng.Intn(100) < pct
}

func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	vals := make([]time.Duration, len(sorted))
	copy(vals, sorted)
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	idx := int(float64(len(vals)-1) * q)
	return vals[idx]
}
