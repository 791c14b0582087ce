// Package planner turns a task brief into an initial plan version by
// chaining capabilities backward from the required outputs. It also owns
// the strict schema for externally authored plan files.
package planner

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/josephgoksu/PlanWing/internal/contract"
	"github.com/josephgoksu/PlanWing/internal/registry"
	"github.com/josephgoksu/PlanWing/internal/util"
	"github.com/josephgoksu/PlanWing/types"
)

// Strategy produces an initial plan for a brief. Implementations must be
// deterministic for a given (brief, registry) pair so planning failures are
// reproducible.
type Strategy interface {
	GeneratePlan(brief contract.TaskBrief, reg *registry.Registry) (*contract.Plan, error)
}

// DependencyPlanner is the default strategy: for every required output it
// picks the cheapest capability that can produce it, then recursively plans
// producers for that capability's unmet inputs. Inputs already present on
// the brief terminate the recursion.
type DependencyPlanner struct{}

// NewDependencyPlanner returns the default planning strategy.
func NewDependencyPlanner() *DependencyPlanner {
	return &DependencyPlanner{}
}

// stepDraft accumulates what the plan will need from one capability before
// the final step list is assembled.
type stepDraft struct {
	cap     registry.Capability
	outputs map[string]contract.Schema // outputs downstream consumers rely on
}

type resolution struct {
	brief    contract.TaskBrief
	reg      *registry.Registry
	producer map[string]string     // output name -> capability ref
	drafts   map[string]*stepDraft // capability ref -> draft
}

// GeneratePlan builds plan version 0 with status draft.
//
// Returns a wrapped types.ErrCapabilityUnavailable when no registered
// capability can produce a needed output, and types.ErrPlanningInfeasible
// when the dependency chain is circular or the estimated cost exceeds the
// brief's constraint. Both are terminal: retrying without changing the
// brief or the registry cannot succeed.
func (dp *DependencyPlanner) GeneratePlan(brief contract.TaskBrief, reg *registry.Registry) (*contract.Plan, error) {
	if err := brief.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrPlanningInfeasible, err)
	}

	r := &resolution{
		brief:    brief,
		reg:      reg,
		producer: make(map[string]string),
		drafts:   make(map[string]*stepDraft),
	}

	for _, output := range sortedKeys(brief.RequiredOutputs) {
		if _, ok := brief.Inputs[output]; ok {
			// Already supplied by the caller; nothing to plan.
			continue
		}
		if err := r.resolve(output, brief.RequiredOutputs[output], map[string]bool{}); err != nil {
			return nil, err
		}
	}
	if len(r.drafts) == 0 {
		return nil, fmt.Errorf("%w: all required outputs already present in inputs", types.ErrPlanningInfeasible)
	}

	if err := r.checkBudget(); err != nil {
		return nil, err
	}

	plan := &contract.Plan{
		ID:            util.NewPlanID(),
		Version:       contract.InitialVersion,
		ParentVersion: -1,
		Status:        contract.PlanStatusDraft,
		BriefID:       brief.ID,
		Steps:         r.assembleSteps(),
		CreatedAt:     time.Now().UTC(),
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("%w: generated plan invalid: %v", types.ErrPlanningInfeasible, err)
	}
	return plan, nil
}

// resolve picks a producer for output and recursively plans its inputs.
// visiting tracks the output names on the current chain for cycle detection.
func (r *resolution) resolve(output string, schema contract.Schema, visiting map[string]bool) error {
	if visiting[output] {
		return fmt.Errorf("%w: circular dependency through output %q", types.ErrPlanningInfeasible, output)
	}
	if ref, ok := r.producer[output]; ok {
		r.drafts[ref].outputs[output] = schema
		return nil
	}

	candidates := r.reg.Lookup(output, schema)
	if len(candidates) == 0 {
		return fmt.Errorf("%w: no capability produces %q (%s)", types.ErrCapabilityUnavailable, output, schema.Type)
	}

	visiting[output] = true
	defer delete(visiting, output)

	// Cheapest-first: the first candidate whose inputs can all be satisfied
	// wins. Lookup's ordering makes this deterministic.
	var lastErr error
	for _, cand := range candidates {
		producers, drafts := r.snapshot()
		if err := r.tryCandidate(cand, output, schema, visiting); err != nil {
			// Unwind everything the failed candidate resolved, including
			// producers registered deeper in the recursion.
			r.producer, r.drafts = producers, drafts
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func (r *resolution) tryCandidate(cand registry.Capability, output string, schema contract.Schema, visiting map[string]bool) error {
	ref := cand.Ref()
	if _, ok := r.drafts[ref]; !ok {
		r.drafts[ref] = &stepDraft{cap: cand, outputs: map[string]contract.Schema{}}
	}
	r.drafts[ref].outputs[output] = schema
	r.producer[output] = ref

	for _, input := range sortedKeys(cand.Requires()) {
		if _, ok := r.brief.Inputs[input]; ok {
			continue
		}
		if err := r.resolve(input, cand.Requires()[input], visiting); err != nil {
			return err
		}
	}
	return nil
}

func (r *resolution) snapshot() (map[string]string, map[string]*stepDraft) {
	producers := make(map[string]string, len(r.producer))
	for k, v := range r.producer {
		producers[k] = v
	}
	drafts := make(map[string]*stepDraft, len(r.drafts))
	for ref, d := range r.drafts {
		cp := &stepDraft{cap: d.cap, outputs: make(map[string]contract.Schema, len(d.outputs))}
		for k, v := range d.outputs {
			cp.outputs[k] = v
		}
		drafts[ref] = cp
	}
	return producers, drafts
}

func (r *resolution) checkBudget() error {
	limit := r.brief.Constraints.CostUSD
	if limit <= 0 {
		return nil
	}
	var total float64
	for _, d := range r.drafts {
		total += d.cap.CostEstimateUSD()
	}
	if total > limit {
		return fmt.Errorf("%w: estimated cost %.4f exceeds constraint %.4f", types.ErrPlanningInfeasible, total, limit)
	}
	return nil
}

// assembleSteps turns the drafts into plan steps with contracts. Step IDs
// are derived from the capability ref so repeated planning of the same
// brief yields the same step identifiers.
func (r *resolution) assembleSteps() []contract.PlanStep {
	refs := make([]string, 0, len(r.drafts))
	for ref := range r.drafts {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	steps := make([]contract.PlanStep, 0, len(refs))
	for _, ref := range refs {
		d := r.drafts[ref]
		stepID := stepIDFor(ref)

		var pre []contract.Predicate
		var deps []string
		seenDep := map[string]bool{}
		for _, input := range sortedKeys(d.cap.Requires()) {
			pre = append(pre, contract.Predicate{
				Name:   input + "_present",
				Check:  contract.CheckExists,
				Target: input,
			})
			if producerRef, ok := r.producer[input]; ok && producerRef != ref {
				depID := stepIDFor(producerRef)
				if !seenDep[depID] {
					deps = append(deps, depID)
					seenDep[depID] = true
				}
			}
		}

		var post []contract.Predicate
		for _, output := range sortedKeys(d.outputs) {
			post = append(post, contract.Predicate{
				Name:   fmt.Sprintf("%s_is_%s", output, typeName(d.outputs[output])),
				Check:  contract.CheckType,
				Target: output,
				Arg:    typeName(d.outputs[output]),
			})
		}

		steps = append(steps, contract.PlanStep{
			ID:        stepID,
			Title:     d.cap.Description(),
			DependsOn: deps,
			Contract: contract.ActionContract{
				StepID:         stepID,
				CapabilityRef:  ref,
				Preconditions:  pre,
				Postconditions: post,
				Budget:         contract.Budget{LatencySec: r.brief.Constraints.LatencySec},
			},
			Produces: cloneSchemas(d.outputs),
		})
	}
	return steps
}

func stepIDFor(capRef string) string {
	return "step-" + strings.ReplaceAll(capRef, "/", "-")
}

func typeName(s contract.Schema) string {
	if s.Type == "" {
		return "any"
	}
	return s.Type
}

func cloneSchemas(in map[string]contract.Schema) map[string]contract.Schema {
	out := make(map[string]contract.Schema, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Fixed is a Strategy that always returns a copy of one pre-built plan. It
// backs plan-file execution, where the operator pins the steps instead of
// letting dependency resolution choose them.
type Fixed struct {
	Plan *contract.Plan
}

// NewFixed pins a plan as the strategy's output.
func NewFixed(p *contract.Plan) *Fixed {
	return &Fixed{Plan: p}
}

// GeneratePlan returns the pinned plan bound to the brief. The registry is
// ignored; feasibility was the plan author's call.
func (f *Fixed) GeneratePlan(brief contract.TaskBrief, _ *registry.Registry) (*contract.Plan, error) {
	if f.Plan == nil {
		return nil, fmt.Errorf("%w: no plan pinned", types.ErrPlanningInfeasible)
	}
	p := *f.Plan
	p.BriefID = brief.ID
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: pinned plan invalid: %v", types.ErrPlanningInfeasible, err)
	}
	return &p, nil
}
