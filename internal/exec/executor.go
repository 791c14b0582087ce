// Package exec drives a single plan step: precondition check, capability
// invocation under a bounded timeout, postcondition and gate validation,
// and artifact registration. It never decides what happens next; that is
// the controller's job.
package exec

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/josephgoksu/PlanWing/internal/artifact"
	"github.com/josephgoksu/PlanWing/internal/contract"
	"github.com/josephgoksu/PlanWing/internal/lineage"
	"github.com/josephgoksu/PlanWing/internal/registry"
	"github.com/josephgoksu/PlanWing/internal/verify"
	"github.com/josephgoksu/PlanWing/store"
)

// Status classifies the outcome of one step execution attempt.
type Status string

const (
	StatusAccepted           Status = "accepted"
	StatusRejected           Status = "rejected"            // Postcondition or gate violation
	StatusPreconditionFailed Status = "precondition_failed" // Capability never invoked
	StatusTimeout            Status = "timeout"
	StatusTransientError     Status = "transient_error"
	StatusCapabilityError    Status = "capability_error"
)

// Observation is everything the controller needs to decide the next action
// for a step. All outcomes are explicit values; the executor never panics
// across this boundary.
type Observation struct {
	StepID        string              `json:"step_id"`
	Status        Status              `json:"status"`
	Outputs       map[string]any      `json:"outputs,omitempty"`
	Artifacts     []artifact.Artifact `json:"artifacts,omitempty"`
	ScheduledJobs []string            `json:"scheduled_jobs,omitempty"`
	Violations    []string            `json:"violations,omitempty"`
	CostUSD       float64             `json:"cost_usd"`
	Latency       time.Duration       `json:"latency"`
	Err           string              `json:"err,omitempty"`
}

// ProvenanceRecorder persists provenance records. Implemented by the ledger.
type ProvenanceRecorder interface {
	RecordProvenance(p artifact.Provenance) error
}

// State is the runtime context a step executes against.
type State struct {
	Snapshot contract.Snapshot
	// ConsumedAddresses are the content addresses of the artifacts this
	// step's inputs came from, for lineage edges and provenance.
	ConsumedAddresses []string
}

// Executor runs steps against the capability registry.
type Executor struct {
	registry   *registry.Registry
	verifier   *verify.Verifier
	artifacts  store.ArtifactStore
	lineage    *lineage.Graph
	provenance ProvenanceRecorder
	executorID string

	// DefaultTimeout applies when a contract declares no latency budget.
	DefaultTimeout time.Duration
}

// NewExecutor wires an executor. provenance may be nil in tests.
func NewExecutor(reg *registry.Registry, v *verify.Verifier, artifacts store.ArtifactStore, graph *lineage.Graph, provenance ProvenanceRecorder, executorID string) *Executor {
	return &Executor{
		registry:       reg,
		verifier:       v,
		artifacts:      artifacts,
		lineage:        graph,
		provenance:     provenance,
		executorID:     executorID,
		DefaultTimeout: 60 * time.Second,
	}
}

// RunStep executes one step under its contract and returns an Observation.
//
// Order of operations matters for cost control: preconditions are checked
// before the capability is invoked so an unmet contract wastes nothing, and
// gates run only on outputs that already passed postconditions.
func (e *Executor) RunStep(ctx context.Context, step contract.PlanStep, planID string, planVersion int, st State) Observation {
	obs := Observation{StepID: step.ID}
	c := step.Contract

	if violated := contract.CheckPredicates(c.Preconditions, st.Snapshot); len(violated) > 0 {
		obs.Status = StatusPreconditionFailed
		obs.Violations = violated
		return obs
	}

	cap, err := e.registry.Get(c.CapabilityRef)
	if err != nil {
		obs.Status = StatusCapabilityError
		obs.Err = err.Error()
		return obs
	}

	input := e.buildInput(cap, st.Snapshot)

	timeout := e.DefaultTimeout
	if c.Budget.LatencySec > 0 {
		timeout = time.Duration(c.Budget.LatencySec * float64(time.Second))
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	outputs, cost, err := cap.Invoke(callCtx, input)
	obs.Latency = time.Since(start)
	obs.CostUSD = cost

	if err != nil {
		obs.Err = err.Error()
		switch {
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
			obs.Status = StatusTimeout
		case errors.Is(err, context.Canceled):
			obs.Status = StatusTransientError
		case isTransient(err):
			obs.Status = StatusTransientError
		default:
			obs.Status = StatusCapabilityError
		}
		return obs
	}

	obs.Outputs = outputs

	// Postconditions see the step's own outputs layered over prior state.
	postSnap := st.Snapshot
	postSnap.Artifacts = merged(st.Snapshot.Artifacts, outputs)
	postSnap.CostUSD = cost
	postSnap.ElapsedSec = obs.Latency.Seconds()

	violated := contract.CheckPredicates(c.Postconditions, postSnap)
	violated = append(violated, contract.CheckBudget(c.Budget, cost, obs.Latency.Seconds())...)
	if len(violated) > 0 {
		// Never coerce output to fit a failed postcondition.
		obs.Status = StatusRejected
		obs.Violations = violated
		return obs
	}

	if gates := e.verifier.RunGates(outputs, step.Produces); !gates.Passed {
		obs.Status = StatusRejected
		obs.Violations = gates.Failures
		return obs
	}

	arts, jobs, err := e.registerOutputs(step, planID, planVersion, outputs, st.ConsumedAddresses)
	if err != nil {
		obs.Status = StatusCapabilityError
		obs.Err = err.Error()
		return obs
	}

	obs.Status = StatusAccepted
	obs.Artifacts = arts
	obs.ScheduledJobs = jobs
	return obs
}

// buildInput projects the snapshot onto the capability's declared inputs.
// Undeclared snapshot keys are not forwarded.
func (e *Executor) buildInput(cap registry.Capability, snap contract.Snapshot) map[string]any {
	input := make(map[string]any, len(cap.Requires()))
	for name := range cap.Requires() {
		if v, ok := snap.Lookup(name); ok {
			input[name] = v
		}
	}
	return input
}

// registerOutputs creates artifacts with provenance, persists them, wires
// lineage edges, and schedules any deferred check. Content-addressed writes
// make the whole sequence idempotent under replay.
func (e *Executor) registerOutputs(step contract.PlanStep, planID string, planVersion int, outputs map[string]any, consumed []string) ([]artifact.Artifact, []string, error) {
	var arts []artifact.Artifact
	var jobs []string

	for name := range step.Produces {
		art, err := artifact.New(name, outputs[name], step.ID, planID, planVersion)
		if err != nil {
			return nil, nil, err
		}

		if _, err := e.artifacts.Put(art.Content); err != nil {
			return nil, nil, fmt.Errorf("persist artifact %s: %w", name, err)
		}

		e.lineage.AddArtifact(art.Address)
		for _, dep := range consumed {
			if dep == art.Address {
				continue // re-derived identical content
			}
			if err := e.lineage.AddEdge(art.Address, dep); err != nil {
				return nil, nil, fmt.Errorf("record lineage for %s: %w", name, err)
			}
		}

		if e.provenance != nil {
			prov := artifact.Provenance{
				ArtifactAddress:   art.Address,
				OutputName:        name,
				StepID:            step.ID,
				PlanID:            planID,
				PlanVersion:       planVersion,
				ConsumedAddresses: consumed,
				ExecutorID:        e.executorID,
				CreatedAt:         time.Now().UTC(),
			}
			if err := e.provenance.RecordProvenance(prov); err != nil {
				return nil, nil, fmt.Errorf("record provenance for %s: %w", name, err)
			}
		}

		if step.Contract.DeferredCheckRef != "" {
			jobID, err := e.verifier.Schedule(art, step.Contract.DeferredCheckRef)
			if err != nil {
				return nil, nil, err
			}
			if jobID != "" {
				jobs = append(jobs, jobID)
			}
		}

		arts = append(arts, art)
	}

	return arts, jobs, nil
}

func merged(base map[string]any, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// isTransient checks if an error is transient and worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "quota exceeded") {
		return true
	}

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "temporary") ||
		strings.Contains(errStr, "unavailable") {
		return true
	}

	return false
}
