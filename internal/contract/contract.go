// Package contract defines the immutable data model of the execution engine:
// task briefs, action contracts, versioned plans, and the pure predicate
// validator. Nothing in this package performs I/O.
package contract

import (
	"fmt"
	"strings"
)

// Budget is a per-step cost and time ceiling. Checks are inclusive:
// cost == CostUSD passes, cost > CostUSD violates.
type Budget struct {
	CostUSD    float64 `json:"cost_usd" yaml:"cost_usd"`
	LatencySec float64 `json:"latency_sec" yaml:"latency_sec"`
}

// RetryPolicy bounds automatic re-execution of a step on transient failures.
type RetryPolicy struct {
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`
}

// Predicate is a named check evaluated against a state snapshot.
// The Name is what gets reported on violation, so it should be stable
// and meaningful ("sum_is_number", "input_a_present").
type Predicate struct {
	Name   string `json:"name" yaml:"name"`
	Check  string `json:"check" yaml:"check"`   // exists | nonempty | type | equals | min | max
	Target string `json:"target" yaml:"target"` // input or artifact key the check inspects
	Arg    any    `json:"arg,omitempty" yaml:"arg,omitempty"`
}

// Validate checks predicate well-formedness.
func (p Predicate) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("predicate name required")
	}
	switch p.Check {
	case CheckExists, CheckNonEmpty, CheckType, CheckEquals, CheckMin, CheckMax:
	default:
		return fmt.Errorf("predicate %s: unknown check %q", p.Name, p.Check)
	}
	if strings.TrimSpace(p.Target) == "" {
		return fmt.Errorf("predicate %s: target required", p.Name)
	}
	return nil
}

// Supported predicate checks.
const (
	CheckExists   = "exists"
	CheckNonEmpty = "nonempty"
	CheckType     = "type"
	CheckEquals   = "equals"
	CheckMin      = "min"
	CheckMax      = "max"
)

// ActionContract is the formal specification for one plan step.
// Once attached to a plan version it is never mutated; a patch creates a
// new contract on the new version.
type ActionContract struct {
	StepID        string `json:"step_id"`
	CapabilityRef string `json:"capability_ref"`

	Preconditions  []Predicate `json:"preconditions,omitempty"`
	Postconditions []Predicate `json:"postconditions,omitempty"`

	Budget Budget      `json:"budget"`
	Retry  RetryPolicy `json:"retry_policy"`

	// SideEffect marks the step as having external, non-idempotent effects.
	// Replay of such a step requires the declared compensation first.
	SideEffect bool `json:"side_effect,omitempty"`

	// CompensationRef names the capability that undoes this step's side
	// effect. Empty on a side-effecting contract means the effect is
	// irreversible; invalidation then escalates at S1 instead of compensating.
	CompensationRef string `json:"compensation_ref,omitempty"`

	// DeferredCheckRef names a deep check to run asynchronously after the
	// step's output is accepted under fast-path gates. Empty disables
	// retrospective validation for the step.
	DeferredCheckRef string `json:"deferred_check_ref,omitempty"`
}

// Validate checks the contract for structural problems.
func (c *ActionContract) Validate() error {
	if strings.TrimSpace(c.StepID) == "" {
		return fmt.Errorf("step_id required")
	}
	if strings.TrimSpace(c.CapabilityRef) == "" {
		return fmt.Errorf("step %s: capability_ref required", c.StepID)
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("step %s: max_attempts must be >= 0", c.StepID)
	}
	if c.Budget.CostUSD < 0 || c.Budget.LatencySec < 0 {
		return fmt.Errorf("step %s: budget values must be >= 0", c.StepID)
	}
	for _, p := range c.Preconditions {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("step %s precondition: %w", c.StepID, err)
		}
	}
	for _, p := range c.Postconditions {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("step %s postcondition: %w", c.StepID, err)
		}
	}
	return nil
}
