package graph

import "time"

// Handle identifies an activity inside one Graph. Handles are assigned in
// declaration order and stay stable for the lifetime of the graph.
type Handle int

// Resource is an allocatable unit an activity binds to for its execution
// window. The model only requires stable identity: the engine keys
// impounding-loss accounting and window-overlap checks on ID. Lifetime is
// managed by the graph owner, never by an activity.
type Resource struct {
	ID   string
	Name string
}

// Activity is the dependency-graph node: a unit of physical work with an
// estimated duration, a single bound resource, ordered predecessors and two
// independent risk scores. Instances are immutable snapshots of a planning
// assumption; all fields are fixed at Build.
type Activity struct {
	handle         Handle
	name           string
	duration       time.Duration
	resource       *Resource
	deps           []Handle
	riskImpounding int
	riskExtended   int
	revealing      bool
}

// Handle returns the activity's arena handle.
func (a *Activity) Handle() Handle { return a.handle }

// Name returns the human-readable identifier, unique within the graph.
func (a *Activity) Name() string { return a.name }

// Duration returns the estimated time to complete. Zero means an
// instantaneous milestone.
func (a *Activity) Duration() time.Duration { return a.duration }

// Resource returns the shared resource reference bound to this activity.
// The activity never mutates it.
func (a *Activity) Resource() *Resource { return a.resource }

// Dependencies returns the ordered predecessor handles. The slice is a copy.
func (a *Activity) Dependencies() []Handle {
	out := make([]Handle, len(a.deps))
	copy(out, a.deps)
	return out
}

// RiskOfImpounding returns the probability, in [0,100], that the bound
// resource is lost (impounded, seized) while this activity executes.
func (a *Activity) RiskOfImpounding() int { return a.riskImpounding }

// RiskOfExtendedDuration returns the probability, in [0,100], that the
// activity overruns its estimated duration.
func (a *Activity) RiskOfExtendedDuration() int { return a.riskExtended }

// IsRevealing reports whether executing this activity exposes information
// that can raise risk for other activities. It is a flag, not a probability;
// how it amplifies downstream risk is decided by a risk policy, not here.
func (a *Activity) IsRevealing() bool { return a.revealing }

// ActivityConfig is the construction input for one activity.
type ActivityConfig struct {
	Name                   string
	Duration               time.Duration
	Resource               *Resource
	Dependencies           []Handle
	RiskOfImpounding       int
	RiskOfExtendedDuration int
	Revealing              bool
}
