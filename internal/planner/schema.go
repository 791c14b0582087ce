package planner

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/josephgoksu/PlanWing/internal/contract"
	"github.com/josephgoksu/PlanWing/internal/util"
)

// validate is a singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()

	// Register custom validation for non-empty trimmed strings
	_ = validate.RegisterValidation("nonempty", func(fl validator.FieldLevel) bool {
		s := strings.TrimSpace(fl.Field().String())
		return s != ""
	})

	// Register custom validation for predicate check names
	_ = validate.RegisterValidation("check_name", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case contract.CheckExists, contract.CheckNonEmpty, contract.CheckType,
			contract.CheckEquals, contract.CheckMin, contract.CheckMax:
			return true
		}
		return false
	})
}

// PlanFile is the on-disk YAML schema for externally authored plans.
// The strict validation exists because plan files come from humans and
// templates, not from the planner; malformed files must fail loudly at
// load time, never mid-execution.
type PlanFile struct {
	// Objective is a concise description of what the plan accomplishes
	Objective string `yaml:"objective" validate:"required,nonempty,max=500"`

	// Steps are the plan DAG nodes, in any order
	Steps []PlanFileStep `yaml:"steps" validate:"required,min=1,max=100,dive"`
}

// PlanFileStep is a single step definition in a plan file.
type PlanFileStep struct {
	// ID uniquely identifies the step within the file
	ID string `yaml:"id" validate:"required,nonempty,max=100"`

	// Title is a short human-readable description
	Title string `yaml:"title" validate:"required,nonempty,max=200"`

	// Capability names the registered capability that executes the step
	Capability string `yaml:"capability" validate:"required,nonempty"`

	// DependsOn lists step IDs that must complete first
	DependsOn []string `yaml:"depends_on,omitempty"`

	// Produces maps output names to their declared types
	Produces map[string]string `yaml:"produces" validate:"required,min=1"`

	// Preconditions and Postconditions are named predicate definitions
	Preconditions  []PlanFilePredicate `yaml:"preconditions,omitempty" validate:"dive"`
	Postconditions []PlanFilePredicate `yaml:"postconditions,omitempty" validate:"dive"`

	// BudgetUSD and LatencySec bound the step's cost and duration (0 = unbounded)
	BudgetUSD  float64 `yaml:"budget_usd,omitempty" validate:"min=0"`
	LatencySec float64 `yaml:"latency_sec,omitempty" validate:"min=0"`

	// MaxAttempts bounds automatic retries (0 = policy default)
	MaxAttempts int `yaml:"max_attempts,omitempty" validate:"min=0"`

	// SideEffect marks the step as externally effectful
	SideEffect bool `yaml:"side_effect,omitempty"`

	// Compensation names the capability that undoes the side effect
	Compensation string `yaml:"compensation,omitempty"`

	// DeepCheck names a deferred validation routine for the step's outputs
	DeepCheck string `yaml:"deep_check,omitempty"`
}

// PlanFilePredicate is a predicate definition in a plan file.
type PlanFilePredicate struct {
	Name   string `yaml:"name" validate:"required,nonempty"`
	Check  string `yaml:"check" validate:"required,check_name"`
	Target string `yaml:"target" validate:"required,nonempty"`
	Arg    any    `yaml:"arg,omitempty"`
}

// ValidationError provides structured error information for schema validation failures
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message"`
}

// ValidationResult contains the result of schema validation
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Validate checks the PlanFile against the schema rules.
// Returns a ValidationResult with detailed error information.
func (f *PlanFile) Validate() ValidationResult {
	result := validateStruct(f)

	// Cross-field checks the tag language cannot express
	seen := make(map[string]bool, len(f.Steps))
	for _, s := range f.Steps {
		if seen[s.ID] {
			result.Valid = false
			result.Errors = append(result.Errors, ValidationError{
				Field:   "Steps",
				Tag:     "unique",
				Value:   s.ID,
				Message: fmt.Sprintf("step ID %q appears more than once", s.ID),
			})
		}
		seen[s.ID] = true
	}
	for _, s := range f.Steps {
		for _, dep := range s.DependsOn {
			if !seen[dep] {
				result.Valid = false
				result.Errors = append(result.Errors, ValidationError{
					Field:   "DependsOn",
					Tag:     "known_step",
					Value:   dep,
					Message: fmt.Sprintf("step %q depends on unknown step %q", s.ID, dep),
				})
			}
		}
	}
	return result
}

// validateStruct is a helper that validates any struct and returns ValidationResult
func validateStruct(s any) ValidationResult {
	err := validate.Struct(s)
	if err == nil {
		return ValidationResult{Valid: true}
	}

	var errors []ValidationError
	for _, err := range err.(validator.ValidationErrors) {
		errors = append(errors, ValidationError{
			Field:   err.Field(),
			Tag:     err.Tag(),
			Value:   err.Value(),
			Message: formatValidationError(err),
		})
	}

	return ValidationResult{
		Valid:  false,
		Errors: errors,
	}
}

// formatValidationError creates a human-readable error message
func formatValidationError(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", err.Field())
	case "nonempty":
		return fmt.Sprintf("%s cannot be empty or whitespace", err.Field())
	case "min":
		if err.Kind().String() == "string" {
			return fmt.Sprintf("%s must be at least %s characters", err.Field(), err.Param())
		}
		return fmt.Sprintf("%s must have at least %s items", err.Field(), err.Param())
	case "max":
		if err.Kind().String() == "string" {
			return fmt.Sprintf("%s must be at most %s characters", err.Field(), err.Param())
		}
		return fmt.Sprintf("%s must have at most %s items", err.Field(), err.Param())
	case "check_name":
		return fmt.Sprintf("%s must be one of: exists, nonempty, type, equals, min, max", err.Field())
	default:
		return fmt.Sprintf("%s failed validation: %s", err.Field(), err.Tag())
	}
}

// ErrorSummary returns a single string summarizing all validation errors
func (r ValidationResult) ErrorSummary() string {
	if r.Valid {
		return ""
	}
	var parts []string
	for _, e := range r.Errors {
		parts = append(parts, e.Message)
	}
	return strings.Join(parts, "; ")
}

// ReadPlanFile parses and validates a YAML plan file without converting it.
func ReadPlanFile(path string) (*PlanFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file %s: %w", path, err)
	}

	var f PlanFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse plan file %s: %w", path, err)
	}
	if result := f.Validate(); !result.Valid {
		return nil, fmt.Errorf("plan file %s: %s", path, result.ErrorSummary())
	}
	return &f, nil
}

// LoadPlanFile parses and validates a YAML plan file and converts it into
// an initial plan version.
func LoadPlanFile(path, briefID string) (*contract.Plan, error) {
	f, err := ReadPlanFile(path)
	if err != nil {
		return nil, err
	}
	return f.ToPlan(briefID)
}

// ToPlan converts a validated plan file into plan version 0.
func (f *PlanFile) ToPlan(briefID string) (*contract.Plan, error) {
	steps := make([]contract.PlanStep, 0, len(f.Steps))
	for _, s := range f.Steps {
		produces := make(map[string]contract.Schema, len(s.Produces))
		for name, typ := range s.Produces {
			produces[name] = contract.Schema{Type: typ}
		}
		steps = append(steps, contract.PlanStep{
			ID:        s.ID,
			Title:     s.Title,
			DependsOn: append([]string(nil), s.DependsOn...),
			Contract: contract.ActionContract{
				StepID:           s.ID,
				CapabilityRef:    s.Capability,
				Preconditions:    toPredicates(s.Preconditions),
				Postconditions:   toPredicates(s.Postconditions),
				Budget:           contract.Budget{CostUSD: s.BudgetUSD, LatencySec: s.LatencySec},
				Retry:            contract.RetryPolicy{MaxAttempts: s.MaxAttempts},
				SideEffect:       s.SideEffect,
				CompensationRef:  s.Compensation,
				DeferredCheckRef: s.DeepCheck,
			},
			Produces: produces,
		})
	}

	plan := &contract.Plan{
		ID:            util.NewPlanID(),
		Version:       contract.InitialVersion,
		ParentVersion: -1,
		Status:        contract.PlanStatusDraft,
		BriefID:       briefID,
		Steps:         steps,
		CreatedAt:     time.Now().UTC(),
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("plan file: %w", err)
	}
	return plan, nil
}

func toPredicates(in []PlanFilePredicate) []contract.Predicate {
	if len(in) == 0 {
		return nil
	}
	out := make([]contract.Predicate, len(in))
	for i, p := range in {
		out[i] = contract.Predicate{Name: p.Name, Check: p.Check, Target: p.Target, Arg: p.Arg}
	}
	return out
}
