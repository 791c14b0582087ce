// Package control maps step observations to next actions. The controller is
// a pure function over (observation, contract, attempt history, policy): it
// performs no I/O and holds no state, so every decision is reproducible from
// the ledger.
package control

import (
	"fmt"

	"github.com/josephgoksu/PlanWing/internal/contract"
	"github.com/josephgoksu/PlanWing/internal/exec"
	"github.com/josephgoksu/PlanWing/internal/policy"
	"github.com/josephgoksu/PlanWing/internal/registry"
)

// Action is the controller's verdict on a step outcome.
type Action string

const (
	ActionContinue   Action = "continue"
	ActionRetry      Action = "retry"
	ActionSubstitute Action = "substitute"
	ActionPatch      Action = "patch"
	ActionEscalate   Action = "escalate"
)

// Decision is the controller's output for one observation. It names the
// action and carries whatever the coordinator needs to apply it.
type Decision struct {
	StepID string `json:"step_id"`
	Action Action `json:"action"`
	Reason string `json:"reason"`

	// Attempt is the attempt number the decision was made for (1-based).
	Attempt int `json:"attempt"`

	// SubstituteRef is the alternate capability to switch to. Set only for
	// ActionSubstitute.
	SubstituteRef string `json:"substitute_ref,omitempty"`

	// PatchRule is the remediation to apply. Set only for ActionPatch.
	PatchRule policy.AutoPatchRule `json:"patch_rule,omitempty"`

	// Violation is the first violation that drove a patch or escalation.
	Violation string `json:"violation,omitempty"`

	// Severity classifies an escalation. Set only for ActionEscalate.
	Severity policy.Severity `json:"severity,omitempty"`
}

// Alternates resolves substitute capabilities for a ref. Satisfied by
// *registry.Registry.
type Alternates interface {
	Alternates(ref string) []registry.Capability
}

// Controller decides what happens after each step attempt.
type Controller struct {
	policy     policy.Config
	alternates Alternates
}

// NewController builds a controller bound to one task's policy.
func NewController(cfg policy.Config, alts Alternates) *Controller {
	return &Controller{policy: cfg, alternates: alts}
}

// Decide maps an observation to the next action for its step.
//
// attempt is 1-based: the observation being judged was attempt N. tried
// lists capability refs already used for this step, so a substitution never
// loops back to a capability that already failed.
func (c *Controller) Decide(obs exec.Observation, ac contract.ActionContract, attempt int, tried []string) Decision {
	d := Decision{StepID: obs.StepID, Attempt: attempt}

	switch obs.Status {
	case exec.StatusAccepted:
		d.Action = ActionContinue
		d.Reason = "all postconditions and gates passed"
		return d

	case exec.StatusTimeout, exec.StatusTransientError:
		return c.decideTransient(d, obs, ac, attempt, tried)

	case exec.StatusRejected:
		return c.decideRejected(d, obs, ac, attempt, tried)

	case exec.StatusPreconditionFailed:
		// The world does not match the plan. Retrying the same capability
		// against the same state cannot help; the plan itself needs to change.
		return c.decidePatchable(d, obs, "precondition")

	case exec.StatusCapabilityError:
		if alt := c.pickAlternate(ac.CapabilityRef, tried); alt != "" {
			d.Action = ActionSubstitute
			d.SubstituteRef = alt
			d.Reason = fmt.Sprintf("capability %s failed fatally, substituting %s", ac.CapabilityRef, alt)
			return d
		}
		return c.escalate(d, obs, fmt.Sprintf("capability %s failed with no alternate: %s", ac.CapabilityRef, obs.Err))
	}

	return c.escalate(d, obs, fmt.Sprintf("unknown observation status %q", obs.Status))
}

// decideTransient handles timeouts and transient errors: retry while the
// bound allows, then fall to substitution, then escalate.
func (c *Controller) decideTransient(d Decision, obs exec.Observation, ac contract.ActionContract, attempt int, tried []string) Decision {
	maxAttempts := c.policy.MaxAttemptsFor(ac.Retry.MaxAttempts)

	if attempt < maxAttempts && c.policy.PreferRetry {
		d.Action = ActionRetry
		d.Reason = fmt.Sprintf("%s on attempt %d/%d", obs.Status, attempt, maxAttempts)
		return d
	}
	if alt := c.pickAlternate(ac.CapabilityRef, tried); alt != "" {
		d.Action = ActionSubstitute
		d.SubstituteRef = alt
		d.Reason = fmt.Sprintf("retries exhausted for %s, substituting %s", ac.CapabilityRef, alt)
		return d
	}
	if attempt < maxAttempts {
		// PreferRetry=false exhausts alternates first, but with none left a
		// remaining retry is still better than giving up.
		d.Action = ActionRetry
		d.Reason = fmt.Sprintf("%s on attempt %d/%d, no alternate available", obs.Status, attempt, maxAttempts)
		return d
	}
	return c.escalate(d, obs, fmt.Sprintf("retries exhausted after %d attempts, no alternate for %s", attempt, ac.CapabilityRef))
}

// decideRejected handles postcondition and gate violations. A rejection may
// be the capability's fault (retry/substitute) or the plan's fault (patch);
// an auto-patch rule for the violation selects the latter.
func (c *Controller) decideRejected(d Decision, obs exec.Observation, ac contract.ActionContract, attempt int, tried []string) Decision {
	if v, rule, ok := c.patchableViolation(obs.Violations); ok {
		d.Action = ActionPatch
		d.Violation = v
		d.PatchRule = rule
		d.Reason = fmt.Sprintf("violation %s has a declared remediation", v)
		return d
	}

	maxAttempts := c.policy.MaxAttemptsFor(ac.Retry.MaxAttempts)
	if attempt < maxAttempts && c.policy.PreferRetry {
		d.Action = ActionRetry
		d.Reason = fmt.Sprintf("rejected (%v) on attempt %d/%d", obs.Violations, attempt, maxAttempts)
		return d
	}
	if alt := c.pickAlternate(ac.CapabilityRef, tried); alt != "" {
		d.Action = ActionSubstitute
		d.SubstituteRef = alt
		d.Reason = fmt.Sprintf("%s keeps violating its contract, substituting %s", ac.CapabilityRef, alt)
		return d
	}
	return c.escalate(d, obs, fmt.Sprintf("violations %v persist with no remediation", obs.Violations))
}

func (c *Controller) decidePatchable(d Decision, obs exec.Observation, kind string) Decision {
	if v, rule, ok := c.patchableViolation(obs.Violations); ok {
		d.Action = ActionPatch
		d.Violation = v
		d.PatchRule = rule
		d.Reason = fmt.Sprintf("%s violation %s has a declared remediation", kind, v)
		return d
	}
	return c.escalate(d, obs, fmt.Sprintf("%s violations %v have no remediation", kind, obs.Violations))
}

func (c *Controller) patchableViolation(violations []string) (string, policy.AutoPatchRule, bool) {
	for _, v := range violations {
		if rule, ok := c.policy.PatchRuleFor(v); ok {
			return v, rule, true
		}
	}
	return "", policy.AutoPatchRule{}, false
}

func (c *Controller) escalate(d Decision, obs exec.Observation, reason string) Decision {
	d.Action = ActionEscalate
	d.Reason = reason
	if len(obs.Violations) > 0 {
		d.Violation = obs.Violations[0]
		d.Severity = c.policy.SeverityFor(obs.Violations[0])
	} else {
		d.Severity = c.policy.SeverityFor("")
	}
	return d
}

// pickAlternate returns the first untried alternate capability in the
// registry's deterministic order, or "" when none exists.
func (c *Controller) pickAlternate(ref string, tried []string) string {
	if c.alternates == nil {
		return ""
	}
	used := make(map[string]bool, len(tried)+1)
	used[ref] = true
	for _, t := range tried {
		used[t] = true
	}
	for _, alt := range c.alternates.Alternates(ref) {
		if !used[alt.Ref()] {
			return alt.Ref()
		}
	}
	return ""
}
