// Package policy provides the immutable per-task policy configuration and
// Rego guardrail evaluation. The config is the single source of tunable
// thresholds; decision functions consult it explicitly and own no defaults
// of their own, which keeps them pure and testable against arbitrary values.
package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Severity classifies how a failure must be handled, from abort-requiring
// (S1) to log-only (S4).
type Severity string

const (
	SeverityS1 Severity = "S1" // Abort task, human review required
	SeverityS2 Severity = "S2" // Auto-retry or substitute permitted
	SeverityS3 Severity = "S3" // Auto-continue with warning
	SeverityS4 Severity = "S4" // Log-only
)

// ValidSeverity reports whether s is one of S1..S4.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityS1, SeverityS2, SeverityS3, SeverityS4:
		return true
	}
	return false
}

// AutoPatchRule declares how a named postcondition violation is remediated:
// insert a step running the given capability before the violating step.
type AutoPatchRule struct {
	InsertCapability string `yaml:"insert_capability"`
	Note             string `yaml:"note,omitempty"`
}

// Config is the policy configuration for one task. Loaded once at task
// start and treated as immutable for the task's lifetime; it is threaded
// explicitly through controller and router calls, never read from ambient
// state.
type Config struct {
	// DefaultRetryAttempts applies when a contract declares no retry policy.
	DefaultRetryAttempts int `yaml:"default_retry_attempts"`

	// RetryCeiling caps any contract's attempts regardless of declaration.
	RetryCeiling int `yaml:"retry_ceiling"`

	// PreferRetry resolves the Retry/Substitute tie-break: when retries
	// remain and an alternate capability exists, retry first and substitute
	// only after retries are exhausted. The inverse order substitutes
	// immediately on capability-level failures.
	PreferRetry bool `yaml:"prefer_retry"`

	// Severities maps violation names (or violation classes) to severities.
	Severities map[string]Severity `yaml:"severities,omitempty"`

	// DefaultSeverity applies to violations absent from Severities.
	DefaultSeverity Severity `yaml:"default_severity"`

	// AutoPatch maps violation names to their remediation. Violations
	// without an entry are not patchable and escalate instead.
	AutoPatch map[string]AutoPatchRule `yaml:"auto_patch,omitempty"`

	// MaxCostUSD and MaxLatencySec are task-level ceilings applied when the
	// brief declares no constraint. Zero means unconstrained.
	MaxCostUSD    float64 `yaml:"max_cost_usd"`
	MaxLatencySec float64 `yaml:"max_latency_sec"`

	// StepConcurrency bounds parallel step execution within one plan.
	StepConcurrency int `yaml:"step_concurrency"`
}

// Default returns the baseline policy used when no policy file is
// configured.
func Default() Config {
	return Config{
		DefaultRetryAttempts: 3,
		RetryCeiling:         5,
		PreferRetry:          true,
		DefaultSeverity:      SeverityS2,
		StepConcurrency:      4,
	}
}

// Load reads a policy config from a YAML file, layered over Default().
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read policy config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse policy config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("policy config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the config for inconsistent values.
func (c Config) Validate() error {
	if c.DefaultRetryAttempts < 0 {
		return fmt.Errorf("default_retry_attempts must be >= 0")
	}
	if c.RetryCeiling < 0 {
		return fmt.Errorf("retry_ceiling must be >= 0")
	}
	if c.StepConcurrency < 0 {
		return fmt.Errorf("step_concurrency must be >= 0")
	}
	if !ValidSeverity(c.DefaultSeverity) {
		return fmt.Errorf("default_severity %q is not one of S1..S4", c.DefaultSeverity)
	}
	for name, sev := range c.Severities {
		if !ValidSeverity(sev) {
			return fmt.Errorf("severity for %q: %q is not one of S1..S4", name, sev)
		}
	}
	for name, rule := range c.AutoPatch {
		if rule.InsertCapability == "" {
			return fmt.Errorf("auto_patch rule for %q needs insert_capability", name)
		}
	}
	return nil
}

// MaxAttemptsFor resolves the effective retry bound for a declared
// per-contract value: defaulted when unset, capped by the ceiling.
func (c Config) MaxAttemptsFor(declared int) int {
	attempts := declared
	if attempts <= 0 {
		attempts = c.DefaultRetryAttempts
	}
	if c.RetryCeiling > 0 && attempts > c.RetryCeiling {
		attempts = c.RetryCeiling
	}
	if attempts < 1 {
		attempts = 1
	}
	return attempts
}

// SeverityFor classifies a violation name.
func (c Config) SeverityFor(violation string) Severity {
	if sev, ok := c.Severities[violation]; ok {
		return sev
	}
	if ValidSeverity(c.DefaultSeverity) {
		return c.DefaultSeverity
	}
	return SeverityS2
}

// PatchRuleFor returns the auto-patch rule for a violation, if declared.
func (c Config) PatchRuleFor(violation string) (AutoPatchRule, bool) {
	rule, ok := c.AutoPatch[violation]
	return rule, ok
}
