package contract

import (
	"fmt"
	"strings"
)

// Schema describes the type a named input or output must carry.
// Matching is deliberately coarse: the engine dispatches capabilities on
// declared types, not on full JSON-schema documents.
type Schema struct {
	Type string `json:"type" yaml:"type"` // number, string, boolean, object, array, any
}

// Satisfies reports whether an output with this schema can serve a requirement.
func (s Schema) Satisfies(req Schema) bool {
	if req.Type == "" || req.Type == "any" {
		return true
	}
	return s.Type == req.Type
}

// Matches reports whether a concrete value conforms to the schema.
func (s Schema) Matches(v any) bool {
	switch s.Type {
	case "", "any":
		return true
	case "number":
		switch v.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	}
	return false
}

// Constraints bound a task's total spend and wall-clock time.
// Zero values mean unconstrained.
type Constraints struct {
	CostUSD    float64  `json:"cost_usd" yaml:"cost_usd"`
	LatencySec float64  `json:"latency_sec" yaml:"latency_sec"`
	PolicyTags []string `json:"policy_tags,omitempty" yaml:"policy_tags,omitempty"`
}

// TaskBrief is the top-level objective handed to the planner.
// Created once per request and immutable for the task's lifetime.
type TaskBrief struct {
	ID              string            `json:"id"`
	Objective       string            `json:"objective"`
	Inputs          map[string]any    `json:"inputs,omitempty"`
	RequiredOutputs map[string]Schema `json:"required_outputs"`
	Constraints     Constraints       `json:"constraints"`
}

// Validate checks if the brief has all required fields and valid data.
func (b *TaskBrief) Validate() error {
	if strings.TrimSpace(b.Objective) == "" {
		return fmt.Errorf("objective required")
	}
	if len(b.Objective) > 500 {
		return fmt.Errorf("objective too long (max 500 chars)")
	}
	if len(b.RequiredOutputs) == 0 {
		return fmt.Errorf("at least one required output")
	}
	for name := range b.RequiredOutputs {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("required output name cannot be empty")
		}
	}
	if b.Constraints.CostUSD < 0 {
		return fmt.Errorf("cost constraint must be >= 0")
	}
	if b.Constraints.LatencySec < 0 {
		return fmt.Errorf("latency constraint must be >= 0")
	}
	return nil
}
