package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/open-policy-agent/opa/v1/rego"
)

// DefaultGuardPackage is the default Rego package path for PlanWing
// guardrails.
const DefaultGuardPackage = "planwing.guard"

// Guard evaluation results.
const (
	GuardResultAllow = "allow"
	GuardResultDeny  = "deny"
)

// GuardDecision is the outcome of evaluating the loaded guardrails against
// a step about to be admitted. Decisions are appended to the ledger for the
// audit trail.
type GuardDecision struct {
	DecisionID  string    `json:"decision_id"`
	GuardPath   string    `json:"guard_path"`
	Result      string    `json:"result"`
	Violations  []string  `json:"violations,omitempty"` // Deny messages
	Warnings    []string  `json:"warnings,omitempty"`   // Warn messages, non-blocking
	StepID      string    `json:"step_id,omitempty"`
	PlanID      string    `json:"plan_id,omitempty"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// IsAllowed returns true if no deny rules fired.
func (d *GuardDecision) IsAllowed() bool {
	return d.Result == GuardResultAllow
}

// StepInput is the step-shaped data handed to Rego in `input.step`.
type StepInput struct {
	ID            string   `json:"id"`
	CapabilityRef string   `json:"capability_ref"`
	SideEffect    bool     `json:"side_effect"`
	CostEstimate  float64  `json:"cost_estimate"`
	PolicyTags    []string `json:"policy_tags,omitempty"`
}

// PlanGuardInput is the plan-shaped data handed to Rego in `input.plan`.
type PlanGuardInput struct {
	ID        string `json:"id"`
	Version   int    `json:"version"`
	Objective string `json:"objective"`
}

// GuardInput is the full structure Rego policies receive as `input`.
type GuardInput struct {
	Step *StepInput      `json:"step,omitempty"`
	Plan *PlanGuardInput `json:"plan,omitempty"`
}

// Engine wraps OPA for guardrail evaluation. It loads guards from .rego
// files and evaluates them against step admission input. All evaluation
// happens locally without external network calls.
type Engine struct {
	guards       []*GuardFile
	guardPackage string
}

// NewEngine creates an engine over the given guard files. An engine with no
// guards allows everything.
func NewEngine(guards []*GuardFile) *Engine {
	return &Engine{
		guards:       guards,
		guardPackage: DefaultGuardPackage,
	}
}

// GuardCount returns the number of loaded guard files.
func (e *Engine) GuardCount() int {
	return len(e.guards)
}

// AddGuard adds a guard at runtime. The content should be valid Rego.
func (e *Engine) AddGuard(name, content string) {
	e.guards = append(e.guards, &GuardFile{
		Name:    name,
		Path:    name + ".rego",
		Content: content,
	})
}

// Evaluate runs all loaded guards against the provided input.
//
// The function queries the "deny" and "warn" rules in the guard package.
// Any strings returned by "deny" rules become violations that block the
// step. Any strings returned by "warn" rules are recorded but don't block.
func (e *Engine) Evaluate(ctx context.Context, input *GuardInput) (*GuardDecision, error) {
	decision := &GuardDecision{
		DecisionID:  uuid.New().String(),
		GuardPath:   e.guardPackage,
		EvaluatedAt: time.Now().UTC(),
	}
	if input != nil && input.Step != nil {
		decision.StepID = input.Step.ID
	}
	if input != nil && input.Plan != nil {
		decision.PlanID = input.Plan.ID
	}

	if len(e.guards) == 0 {
		decision.Result = GuardResultAllow
		return decision, nil
	}

	modules := make([]func(*rego.Rego), len(e.guards))
	for i, g := range e.guards {
		modules[i] = rego.Module(g.Path, g.Content)
	}

	violations, err := e.querySet(ctx, input, "deny", modules)
	if err != nil {
		return nil, fmt.Errorf("query deny rules: %w", err)
	}

	warnings, err := e.querySet(ctx, input, "warn", modules)
	if err != nil {
		// Warn rules are optional.
		warnings = nil
	}

	decision.Warnings = warnings
	if len(violations) > 0 {
		decision.Result = GuardResultDeny
		decision.Violations = violations
	} else {
		decision.Result = GuardResultAllow
	}
	return decision, nil
}

// querySet queries a set-generating rule (like deny or warn) and returns
// all string values.
func (e *Engine) querySet(ctx context.Context, input *GuardInput, ruleName string, modules []func(*rego.Rego)) ([]string, error) {
	query := fmt.Sprintf("data.%s.%s", e.guardPackage, ruleName)

	opts := []func(*rego.Rego){
		rego.Query(query),
		rego.Input(input),
	}
	opts = append(opts, modules...)

	r := rego.New(opts...)
	rs, err := r.Eval(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "undefined") {
			return nil, nil // Rule not defined is OK
		}
		return nil, err
	}

	var results []string
	for _, result := range rs {
		for _, expr := range result.Expressions {
			if set, ok := expr.Value.([]any); ok {
				for _, item := range set {
					if s, ok := item.(string); ok {
						results = append(results, s)
					}
				}
			}
		}
	}
	return results, nil
}

// ValidateGuard checks if a guard has valid Rego syntax.
func ValidateGuard(content string) error {
	_, err := rego.New(
		rego.Query("data"),
		rego.Module("validation.rego", content),
	).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	return nil
}
