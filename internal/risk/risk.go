// Package risk defines how declared risk scores compose across dependency
// edges. The activity model deliberately carries no composition formula;
// consumers pick a Policy and the choice stays explicit and swappable.
package risk

import (
	"fmt"

	"planline/internal/graph"
)

// Assessment is an effective risk reading for one activity, both scores
// clamped to [0,100].
type Assessment struct {
	Impounding       int `json:"impounding"`
	ExtendedDuration int `json:"extended_duration"`
}

// Adjustment is a signed delta a planning strategy may apply on top of a
// policy assessment.
type Adjustment struct {
	Impounding       int `json:"impounding"`
	ExtendedDuration int `json:"extended_duration"`
}

// Apply returns the assessment shifted by adj, clamped back to [0,100].
func (a Assessment) Apply(adj Adjustment) Assessment {
	return Assessment{
		Impounding:       Clamp(a.Impounding + adj.Impounding),
		ExtendedDuration: Clamp(a.ExtendedDuration + adj.ExtendedDuration),
	}
}

// Upstream pairs a direct predecessor with its already-computed assessment.
type Upstream struct {
	Activity  *graph.Activity
	Effective Assessment
}

// Policy turns an activity's declared scores plus its predecessors into the
// activity's effective assessment. Implementations must be pure: same
// inputs, same output.
type Policy interface {
	Name() string
	Compose(act *graph.Activity, preds []Upstream) Assessment
}

// Passthrough leaves every declared score untouched. It is the default
// policy: without an explicit opt-in, no amplification is ever assumed.
type Passthrough struct{}

func (Passthrough) Name() string { return "passthrough" }

func (Passthrough) Compose(act *graph.Activity, _ []Upstream) Assessment {
	return Assessment{
		Impounding:       Clamp(act.RiskOfImpounding()),
		ExtendedDuration: Clamp(act.RiskOfExtendedDuration()),
	}
}

// RevealAmplifier raises an activity's impounding assessment by Step for
// each direct predecessor flagged as revealing. The step size is
// configuration, never a built-in constant of the model.
type RevealAmplifier struct {
	Step int
}

func (RevealAmplifier) Name() string { return "reveal-amplifier" }

func (p RevealAmplifier) Compose(act *graph.Activity, preds []Upstream) Assessment {
	imp := act.RiskOfImpounding()
	for _, up := range preds {
		if up.Activity != nil && up.Activity.IsRevealing() {
			imp += p.Step
		}
	}
	return Assessment{
		Impounding:       Clamp(imp),
		ExtendedDuration: Clamp(act.RiskOfExtendedDuration()),
	}
}

// Evaluate folds the policy over g in topological order and returns the
// effective assessment per handle.
func Evaluate(g *graph.Graph, p Policy) (map[graph.Handle]Assessment, error) {
	if g == nil {
		return nil, fmt.Errorf("risk: nil graph")
	}
	if p == nil {
		return nil, fmt.Errorf("risk: nil policy")
	}
	out := make(map[graph.Handle]Assessment, g.Len())
	for _, h := range g.TopoOrder() {
		act, ok := g.Activity(h)
		if !ok {
			return nil, fmt.Errorf("risk: unknown handle %d", h)
		}
		deps := g.Dependencies(h)
		preds := make([]Upstream, 0, len(deps))
		for _, dep := range deps {
			preds = append(preds, Upstream{Activity: dep, Effective: out[dep.Handle()]})
		}
		out[h] = p.Compose(act, preds)
	}
	return out, nil
}

// Clamp bounds v to [0,100].
func Clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
