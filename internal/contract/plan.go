package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// PlanStatus represents the lifecycle state of one plan version
type PlanStatus string

const (
	PlanStatusDraft      PlanStatus = "draft"      // Initial creation, not yet executing
	PlanStatusActive     PlanStatus = "active"     // Currently being executed
	PlanStatusSuperseded PlanStatus = "superseded" // Replaced by a patched version
	PlanStatusCompleted  PlanStatus = "completed"  // All steps done
	PlanStatusFailed     PlanStatus = "failed"     // Terminal failure
)

// InitialVersion is the version number of the first plan produced for a brief.
const InitialVersion = 0

// PlanStep is one node of the plan DAG. Steps declare what they depend on
// and what named outputs they produce; the contract carries everything else.
type PlanStep struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Contract  ActionContract    `json:"contract"`
	DependsOn []string          `json:"depends_on,omitempty"`
	Produces  map[string]Schema `json:"produces"`
}

// Validate checks if the step has all required fields and valid data.
func (s *PlanStep) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("step ID cannot be empty")
	}
	if len(s.Produces) == 0 {
		return fmt.Errorf("step %s must produce at least one output", s.ID)
	}
	if s.Contract.StepID != s.ID {
		return fmt.Errorf("step %s: contract step_id mismatch (%s)", s.ID, s.Contract.StepID)
	}
	return s.Contract.Validate()
}

// Plan is one immutable version of the step DAG for a task.
// Patching never edits a version in place: it creates version+1 with a
// parent back-reference and marks the old version superseded. All versions
// are retained in the ledger's append-only plan table.
type Plan struct {
	ID            string     `json:"id"`      // Stable across versions
	Version       int        `json:"version"` // 0, 1, 2, ...
	ParentVersion int        `json:"parent_version"` // -1 for the initial version
	PatchNote     string     `json:"patch_note,omitempty"` // Causal description of the applied patch
	Status        PlanStatus `json:"status"`
	BriefID       string     `json:"brief_id"`
	Steps         []PlanStep `json:"steps"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Validate checks the plan's structural invariants: non-empty step set,
// unique step IDs, a valid DAG, and a parent version on every non-initial
// version.
func (p *Plan) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("plan ID cannot be empty")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan %s has no steps", p.ID)
	}
	if p.Version > InitialVersion && p.ParentVersion < 0 {
		return fmt.Errorf("plan %s v%d: non-initial version needs parent_version", p.ID, p.Version)
	}
	if p.Version > InitialVersion && p.PatchNote == "" {
		return fmt.Errorf("plan %s v%d: non-initial version needs a patch note", p.ID, p.Version)
	}
	seen := make(map[string]bool, len(p.Steps))
	for i := range p.Steps {
		s := &p.Steps[i]
		if err := s.Validate(); err != nil {
			return err
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate step ID %s", s.ID)
		}
		seen[s.ID] = true
	}
	for i := range p.Steps {
		for _, dep := range p.Steps[i].DependsOn {
			if !seen[dep] {
				return fmt.Errorf("step %s depends on unknown step %s", p.Steps[i].ID, dep)
			}
		}
	}
	return VerifyDAG(p.Steps)
}

// Step returns the step with the given ID.
func (p *Plan) Step(id string) (*PlanStep, bool) {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i], true
		}
	}
	return nil, false
}

// ProducerOf returns the step producing the named output.
func (p *Plan) ProducerOf(output string) (*PlanStep, bool) {
	for i := range p.Steps {
		if _, ok := p.Steps[i].Produces[output]; ok {
			return &p.Steps[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy of the plan. Patching always starts from a
// clone so step slices of the old version are never shared.
func (p *Plan) Clone() *Plan {
	cp := *p
	cp.Steps = make([]PlanStep, len(p.Steps))
	for i, s := range p.Steps {
		cs := s
		cs.DependsOn = append([]string(nil), s.DependsOn...)
		cs.Produces = make(map[string]Schema, len(s.Produces))
		for k, v := range s.Produces {
			cs.Produces[k] = v
		}
		cs.Contract.Preconditions = append([]Predicate(nil), s.Contract.Preconditions...)
		cs.Contract.Postconditions = append([]Predicate(nil), s.Contract.Postconditions...)
		cp.Steps[i] = cs
	}
	return &cp
}

// Hash returns a stable content hash of the plan's step set. Status and
// timestamps are excluded: the invariant is that the *step set* of a
// version never changes once the version leaves draft, while status
// legitimately transitions.
func (p *Plan) Hash() string {
	steps := make([]PlanStep, len(p.Steps))
	copy(steps, p.Steps)
	sort.Slice(steps, func(i, j int) bool { return steps[i].ID < steps[j].ID })

	payload := struct {
		ID      string     `json:"id"`
		Version int        `json:"version"`
		Parent  int        `json:"parent"`
		Steps   []PlanStep `json:"steps"`
	}{p.ID, p.Version, p.ParentVersion, steps}

	b, err := json.Marshal(payload)
	if err != nil {
		// Marshal of the plan types cannot fail; keep the signature simple.
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
