// Package verify provides the fast, synchronous acceptance gates run inline
// after a step and the hook for scheduling deferred deep checks. Gates must
// stay cheap (design target is under 100ms): anything needing an external
// call belongs in the retrospect runner, not here.
package verify

import (
	"fmt"

	"github.com/josephgoksu/PlanWing/internal/artifact"
	"github.com/josephgoksu/PlanWing/internal/contract"
)

// GateResult is the outcome of running inline gates against step outputs.
type GateResult struct {
	Passed   bool     `json:"passed"`
	Failures []string `json:"failures,omitempty"`
}

// Scheduler registers deferred validation without blocking the executor's
// return path. Implemented by the retrospect job store.
type Scheduler interface {
	Schedule(art artifact.Artifact, deepCheckRef string) (jobID string, err error)
}

// Verifier runs gates and registers deferred checks.
type Verifier struct {
	scheduler Scheduler
}

// NewVerifier creates a verifier. The scheduler may be nil, in which case
// Schedule is a no-op returning an empty job ID; gates still run.
func NewVerifier(s Scheduler) *Verifier {
	return &Verifier{scheduler: s}
}

// RunGates checks declared outputs for presence, schema conformance, and
// non-emptiness. Purely in-memory.
func (v *Verifier) RunGates(outputs map[string]any, produces map[string]contract.Schema) GateResult {
	var failures []string
	for name, schema := range produces {
		val, ok := outputs[name]
		if !ok {
			failures = append(failures, fmt.Sprintf("gate_missing_output(%s)", name))
			continue
		}
		if val == nil {
			failures = append(failures, fmt.Sprintf("gate_empty_output(%s)", name))
			continue
		}
		if s, isStr := val.(string); isStr && s == "" {
			failures = append(failures, fmt.Sprintf("gate_empty_output(%s)", name))
			continue
		}
		if !schema.Matches(val) {
			failures = append(failures, fmt.Sprintf("gate_schema_mismatch(%s)", name))
		}
	}
	return GateResult{Passed: len(failures) == 0, Failures: failures}
}

// Schedule registers a deferred deep check for an accepted artifact.
func (v *Verifier) Schedule(art artifact.Artifact, deepCheckRef string) (string, error) {
	if v.scheduler == nil || deepCheckRef == "" {
		return "", nil
	}
	jobID, err := v.scheduler.Schedule(art, deepCheckRef)
	if err != nil {
		return "", fmt.Errorf("schedule retrospect job for %s: %w", art.Address, err)
	}
	return jobID, nil
}
