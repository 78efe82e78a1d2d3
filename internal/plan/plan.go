// Package plan binds activities to planning strategies and assembles them
// into a concrete schedule. A PlannedActivity is a pure decoration: it pairs
// one activity with one strategy, owns neither and never alters the activity
// it wraps. The scheduling walk in Build is where temporal decisions happen;
// entities stay free of them.
package plan

import (
	"errors"
	"fmt"
	"time"

	"planline/internal/graph"
	"planline/internal/risk"
)

// ErrInvalidPlanBinding is the sentinel for a missing activity or strategy
// reference at binding time. Not retryable.
var ErrInvalidPlanBinding = errors.New("invalid plan binding")

// BindingError carries the detail of a binding failure.
type BindingError struct {
	Msg string
}

func (e *BindingError) Error() string {
	if e == nil || e.Msg == "" {
		return ErrInvalidPlanBinding.Error()
	}
	return fmt.Sprintf("%s: %s", ErrInvalidPlanBinding.Error(), e.Msg)
}

func (e *BindingError) Unwrap() error { return ErrInvalidPlanBinding }

func bindingf(format string, args ...any) error {
	return &BindingError{Msg: fmt.Sprintf(format, args...)}
}

// Decision is a strategy's answer for one activity: the earliest offset the
// activity should start at, plus any risk adjustment the strategy wants
// recorded. Build may push the start later to honor dependencies and
// resource windows, never earlier.
type Decision struct {
	NotBefore  time.Duration
	Adjustment risk.Adjustment
}

// Strategy decides scheduling behavior for activities. Given the activity
// and the entries already committed to the plan, it returns a Decision.
// Implementations must be deterministic for identical inputs.
type Strategy interface {
	Name() string
	Decide(act *graph.Activity, committed []Scheduled) (Decision, error)
}

// PlannedActivity pairs exactly one activity with exactly one strategy.
// Multiple instances may wrap the same activity under different strategies
// for comparison; which one is active in a plan is the plan owner's call.
type PlannedActivity struct {
	activity *graph.Activity
	strategy Strategy
}

// NewPlannedActivity fails when either reference is missing. Rebinding is
// not an operation; build a new value instead.
func NewPlannedActivity(act *graph.Activity, s Strategy) (PlannedActivity, error) {
	if act == nil {
		return PlannedActivity{}, bindingf("missing activity")
	}
	if s == nil {
		return PlannedActivity{}, bindingf("activity %q: missing planning strategy", act.Name())
	}
	return PlannedActivity{activity: act, strategy: s}, nil
}

// Activity returns the wrapped activity.
func (p PlannedActivity) Activity() *graph.Activity { return p.activity }

// Strategy returns the bound strategy.
func (p PlannedActivity) Strategy() Strategy { return p.strategy }

// Read-through accessors to the wrapped activity.

func (p PlannedActivity) Name() string                { return p.activity.Name() }
func (p PlannedActivity) Duration() time.Duration     { return p.activity.Duration() }
func (p PlannedActivity) Resource() *graph.Resource   { return p.activity.Resource() }
func (p PlannedActivity) Dependencies() []graph.Handle { return p.activity.Dependencies() }
func (p PlannedActivity) RiskOfImpounding() int       { return p.activity.RiskOfImpounding() }
func (p PlannedActivity) RiskOfExtendedDuration() int { return p.activity.RiskOfExtendedDuration() }
func (p PlannedActivity) IsRevealing() bool           { return p.activity.IsRevealing() }
