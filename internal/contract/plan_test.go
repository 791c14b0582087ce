package contract

import (
	"testing"
)

func step(id string, deps ...string) PlanStep {
	return PlanStep{
		ID:    id,
		Title: id,
		Contract: ActionContract{
			StepID:        id,
			CapabilityRef: "test/noop",
		},
		DependsOn: deps,
		Produces:  map[string]Schema{id + "-out": {Type: "any"}},
	}
}

func TestPlanValidate(t *testing.T) {
	p := &Plan{
		ID:            "plan-test0001",
		Version:       InitialVersion,
		ParentVersion: -1,
		Status:        PlanStatusDraft,
		Steps:         []PlanStep{step("step-A"), step("step-B", "step-A")},
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("valid plan rejected: %v", err)
	}
}

func TestPlanValidate_NonInitialNeedsParentAndNote(t *testing.T) {
	p := &Plan{
		ID:            "plan-test0001",
		Version:       1,
		ParentVersion: -1,
		Steps:         []PlanStep{step("step-A")},
	}
	if err := p.Validate(); err == nil {
		t.Error("expected error for missing parent_version")
	}

	p.ParentVersion = 0
	if err := p.Validate(); err == nil {
		t.Error("expected error for missing patch note")
	}

	p.PatchNote = "insert normalization step before step-A"
	if err := p.Validate(); err != nil {
		t.Errorf("expected valid patched plan, got %v", err)
	}
}

func TestPlanValidate_UnknownDependency(t *testing.T) {
	p := &Plan{
		ID:            "plan-test0001",
		Version:       InitialVersion,
		ParentVersion: -1,
		Steps:         []PlanStep{step("step-A", "step-ghost")},
	}
	if err := p.Validate(); err == nil {
		t.Error("expected error for unknown dependency")
	}
}

func TestPlanHash_StableAcrossReads(t *testing.T) {
	p := &Plan{
		ID:            "plan-test0001",
		Version:       InitialVersion,
		ParentVersion: -1,
		Status:        PlanStatusDraft,
		Steps:         []PlanStep{step("step-A"), step("step-B", "step-A")},
	}

	h1 := p.Hash()
	if h1 == "" {
		t.Fatal("hash is empty")
	}

	// Status transitions must not change the hash: the immutable part of a
	// version is its step set, not its lifecycle state.
	p.Status = PlanStatusActive
	if h2 := p.Hash(); h2 != h1 {
		t.Errorf("hash changed after status transition: %s != %s", h2, h1)
	}
	p.Status = PlanStatusCompleted
	if h3 := p.Hash(); h3 != h1 {
		t.Errorf("hash changed after completion: %s != %s", h3, h1)
	}
}

func TestPlanHash_DiffersAcrossVersions(t *testing.T) {
	p0 := &Plan{
		ID:            "plan-test0001",
		Version:       InitialVersion,
		ParentVersion: -1,
		Steps:         []PlanStep{step("step-A")},
	}
	p1 := p0.Clone()
	p1.Version = 1
	p1.ParentVersion = 0
	p1.Steps = append(p1.Steps, step("step-B", "step-A"))

	if p0.Hash() == p1.Hash() {
		t.Error("distinct versions must have distinct hashes")
	}
}

func TestPlanClone_Independent(t *testing.T) {
	p := &Plan{
		ID:            "plan-test0001",
		Version:       InitialVersion,
		ParentVersion: -1,
		Steps:         []PlanStep{step("step-A"), step("step-B", "step-A")},
	}
	h := p.Hash()

	cp := p.Clone()
	cp.Steps[0].Contract.CapabilityRef = "test/other"
	cp.Steps[1].DependsOn[0] = "step-X"
	cp.Steps[0].Produces["extra"] = Schema{Type: "string"}

	if p.Hash() != h {
		t.Error("mutating a clone changed the original plan")
	}
}

func TestBriefValidate(t *testing.T) {
	b := &TaskBrief{
		Objective:       "sum two numbers",
		Inputs:          map[string]any{"a": 2, "b": 3},
		RequiredOutputs: map[string]Schema{"sum": {Type: "number"}},
	}
	if err := b.Validate(); err != nil {
		t.Fatalf("valid brief rejected: %v", err)
	}

	b.RequiredOutputs = nil
	if err := b.Validate(); err == nil {
		t.Error("expected error for missing required outputs")
	}
}
