// Package patch produces new plan versions from corrections. The patcher
// never mutates the current version: it clones, applies the correction, and
// validates the result before handing it back. A malformed result is a
// programming bug in whatever built the correction, so it surfaces as
// ErrInvalidPatch rather than a retryable runtime failure.
package patch

import (
	"fmt"
	"strings"
	"time"

	"github.com/josephgoksu/PlanWing/internal/contract"
	"github.com/josephgoksu/PlanWing/types"
)

// CorrectionKind enumerates the supported plan edits.
type CorrectionKind string

const (
	// KindInsertBefore inserts a new step and makes the target depend on it.
	KindInsertBefore CorrectionKind = "insert_before"
	// KindReplace swaps the target step for a new definition with the same ID.
	KindReplace CorrectionKind = "replace"
	// KindRemove deletes the target step and drops dangling dependency edges.
	KindRemove CorrectionKind = "remove"
	// KindRestrict keeps only the named steps, for selective replay. Their
	// dependencies on removed steps become external inputs assumed satisfied
	// by existing valid artifacts.
	KindRestrict CorrectionKind = "restrict"
)

// Correction describes one edit to apply to a plan.
type Correction struct {
	Kind CorrectionKind `json:"kind"`

	// TargetStepID is the step being inserted before, replaced, or removed.
	TargetStepID string `json:"target_step_id,omitempty"`

	// Step is the new step definition for insert_before and replace.
	Step contract.PlanStep `json:"step,omitempty"`

	// KeepStepIDs is the retained step set for restrict.
	KeepStepIDs []string `json:"keep_step_ids,omitempty"`

	// Note is the causal description recorded on the new version.
	Note string `json:"note"`
}

// Patcher creates successor plan versions.
type Patcher struct{}

// NewPatcher returns a Patcher.
func NewPatcher() *Patcher {
	return &Patcher{}
}

// Patch applies the correction to a clone of current and returns the new
// version: version+1, parent set, status draft. current is left untouched.
// Returns a wrapped types.ErrInvalidPatch when the correction is malformed
// or the resulting plan fails validation.
func (pt *Patcher) Patch(current *contract.Plan, c Correction) (*contract.Plan, error) {
	if strings.TrimSpace(c.Note) == "" {
		return nil, fmt.Errorf("%w: correction needs a note", types.ErrInvalidPatch)
	}

	next := current.Clone()
	next.Version = current.Version + 1
	next.ParentVersion = current.Version
	next.PatchNote = c.Note
	next.Status = contract.PlanStatusDraft
	next.CreatedAt = time.Now().UTC()

	var err error
	switch c.Kind {
	case KindInsertBefore:
		err = insertBefore(next, c)
	case KindReplace:
		err = replace(next, c)
	case KindRemove:
		err = remove(next, c)
	case KindRestrict:
		err = restrict(next, c)
	default:
		err = fmt.Errorf("unknown correction kind %q", c.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidPatch, err)
	}

	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("%w: patched plan invalid: %v", types.ErrInvalidPatch, err)
	}
	return next, nil
}

func insertBefore(p *contract.Plan, c Correction) error {
	idx := stepIndex(p, c.TargetStepID)
	if idx < 0 {
		return fmt.Errorf("target step %s not found", c.TargetStepID)
	}
	if _, exists := p.Step(c.Step.ID); exists {
		return fmt.Errorf("inserted step ID %s already exists", c.Step.ID)
	}

	// The new step slots in ahead of the target in declaration order and
	// becomes one of the target's dependencies.
	p.Steps = append(p.Steps, contract.PlanStep{})
	copy(p.Steps[idx+1:], p.Steps[idx:])
	p.Steps[idx] = c.Step

	target := &p.Steps[idx+1]
	if !contains(target.DependsOn, c.Step.ID) {
		target.DependsOn = append(target.DependsOn, c.Step.ID)
	}
	return nil
}

func replace(p *contract.Plan, c Correction) error {
	idx := stepIndex(p, c.TargetStepID)
	if idx < 0 {
		return fmt.Errorf("target step %s not found", c.TargetStepID)
	}
	if c.Step.ID != c.TargetStepID {
		return fmt.Errorf("replacement step ID %s must match target %s", c.Step.ID, c.TargetStepID)
	}
	p.Steps[idx] = c.Step
	return nil
}

func remove(p *contract.Plan, c Correction) error {
	idx := stepIndex(p, c.TargetStepID)
	if idx < 0 {
		return fmt.Errorf("target step %s not found", c.TargetStepID)
	}
	p.Steps = append(p.Steps[:idx], p.Steps[idx+1:]...)

	for i := range p.Steps {
		p.Steps[i].DependsOn = without(p.Steps[i].DependsOn, c.TargetStepID)
	}
	return nil
}

func restrict(p *contract.Plan, c Correction) error {
	if len(c.KeepStepIDs) == 0 {
		return fmt.Errorf("restrict needs at least one step to keep")
	}
	keep := make(map[string]bool, len(c.KeepStepIDs))
	for _, id := range c.KeepStepIDs {
		if stepIndex(p, id) < 0 {
			return fmt.Errorf("kept step %s not found", id)
		}
		keep[id] = true
	}

	kept := p.Steps[:0]
	for _, s := range p.Steps {
		if !keep[s.ID] {
			continue
		}
		// Edges to dropped steps become external: the artifacts those steps
		// produced are still valid and satisfy the preconditions directly.
		s.DependsOn = filter(s.DependsOn, func(dep string) bool { return keep[dep] })
		kept = append(kept, s)
	}
	p.Steps = kept
	return nil
}

func stepIndex(p *contract.Plan, id string) int {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return i
		}
	}
	return -1
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func without(list []string, v string) []string {
	return filter(list, func(s string) bool { return s != v })
}

func filter(list []string, keep func(string) bool) []string {
	out := list[:0]
	for _, s := range list {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}
