package artifact

import (
	"testing"
)

func TestNew_IdenticalContentIdenticalAddress(t *testing.T) {
	a1, err := New("sum", 5.0, "step-1", "plan-x", 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a2, err := New("sum", 5.0, "step-1-retry", "plan-x", 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if a1.Address != a2.Address {
		t.Errorf("identical content must yield identical address: %s != %s", a1.Address, a2.Address)
	}
}

func TestNew_DistinctContentDistinctAddress(t *testing.T) {
	a1, _ := New("sum", 5.0, "step-1", "plan-x", 0)
	a2, _ := New("sum", 6.0, "step-1", "plan-x", 0)

	if a1.Address == a2.Address {
		t.Error("distinct content must yield distinct addresses")
	}
}

func TestValue_RoundTrip(t *testing.T) {
	a, err := New("report", map[string]any{"total": 3.0, "items": []any{"a", "b"}}, "step-2", "plan-x", 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	v, err := a.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", v)
	}
	if m["total"] != 3.0 {
		t.Errorf("total = %v, want 3", m["total"])
	}
}

func TestNew_DefaultsValid(t *testing.T) {
	a, _ := New("out", "x", "step-1", "plan-x", 0)
	if a.Status != StatusValid {
		t.Errorf("new artifact status = %s, want %s", a.Status, StatusValid)
	}
	if a.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}
