package verify

import (
	"testing"

	"github.com/josephgoksu/PlanWing/internal/artifact"
	"github.com/josephgoksu/PlanWing/internal/contract"
)

func TestRunGates_Pass(t *testing.T) {
	v := NewVerifier(nil)
	res := v.RunGates(
		map[string]any{"sum": 5.0},
		map[string]contract.Schema{"sum": {Type: "number"}},
	)
	if !res.Passed || len(res.Failures) != 0 {
		t.Errorf("expected pass, got %+v", res)
	}
}

func TestRunGates_MissingOutput(t *testing.T) {
	v := NewVerifier(nil)
	res := v.RunGates(
		map[string]any{},
		map[string]contract.Schema{"sum": {Type: "number"}},
	)
	if res.Passed || len(res.Failures) != 1 {
		t.Fatalf("expected one failure, got %+v", res)
	}
	if res.Failures[0] != "gate_missing_output(sum)" {
		t.Errorf("failure = %s", res.Failures[0])
	}
}

func TestRunGates_SchemaMismatch(t *testing.T) {
	v := NewVerifier(nil)
	res := v.RunGates(
		map[string]any{"sum": "five"},
		map[string]contract.Schema{"sum": {Type: "number"}},
	)
	if res.Passed {
		t.Fatalf("expected failure, got %+v", res)
	}
	if res.Failures[0] != "gate_schema_mismatch(sum)" {
		t.Errorf("failure = %s", res.Failures[0])
	}
}

func TestRunGates_EmptyOutput(t *testing.T) {
	v := NewVerifier(nil)
	res := v.RunGates(
		map[string]any{"text": "", "obj": nil},
		map[string]contract.Schema{"text": {Type: "string"}, "obj": {Type: "object"}},
	)
	if res.Passed || len(res.Failures) != 2 {
		t.Errorf("expected two failures, got %+v", res)
	}
}

type fakeScheduler struct {
	calls []string
}

func (f *fakeScheduler) Schedule(art artifact.Artifact, ref string) (string, error) {
	f.calls = append(f.calls, ref)
	return "job-0001", nil
}

func TestSchedule(t *testing.T) {
	fs := &fakeScheduler{}
	v := NewVerifier(fs)
	art, _ := artifact.New("sum", 5.0, "step-1", "plan-x", 0)

	jobID, err := v.Schedule(art, "checks/recompute")
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if jobID != "job-0001" || len(fs.calls) != 1 {
		t.Errorf("jobID = %s, calls = %v", jobID, fs.calls)
	}

	// Empty check ref disables deferral.
	jobID, err = v.Schedule(art, "")
	if err != nil || jobID != "" {
		t.Errorf("empty ref: jobID = %s, err = %v", jobID, err)
	}
	if len(fs.calls) != 1 {
		t.Error("scheduler should not be called for empty ref")
	}
}
