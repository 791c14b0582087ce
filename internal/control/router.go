package control

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josephgoksu/PlanWing/internal/contract"
	"github.com/josephgoksu/PlanWing/internal/policy"
)

// Escalation is a failure surfaced for human attention, carrying enough
// context to act on without replaying the ledger.
type Escalation struct {
	ID       string          `json:"id"`
	Severity policy.Severity `json:"severity"`
	StepID   string          `json:"step_id,omitempty"`
	PlanID   string          `json:"plan_id,omitempty"`
	Reason   string          `json:"reason"`

	// Violation is the contract violation that triggered the escalation,
	// when one exists.
	Violation string `json:"violation,omitempty"`

	// Irreversible marks the escalation as involving a side effect that
	// cannot be compensated. Always S1.
	Irreversible bool `json:"irreversible,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Router classifies failures into escalations. The severity policy comes
// from the task's config; the hard overrides below are safety properties
// and not configurable.
type Router struct {
	policy policy.Config
}

// NewRouter builds a router bound to one task's policy.
func NewRouter(cfg policy.Config) *Router {
	return &Router{policy: cfg}
}

// Route builds an escalation from a controller decision.
func (r *Router) Route(d Decision, planID string) Escalation {
	sev := d.Severity
	if !policy.ValidSeverity(sev) {
		sev = r.policy.SeverityFor(d.Violation)
	}
	return Escalation{
		ID:        uuid.New().String(),
		Severity:  sev,
		StepID:    d.StepID,
		PlanID:    planID,
		Reason:    d.Reason,
		Violation: d.Violation,
		CreatedAt: time.Now().UTC(),
	}
}

// RouteIrreversible escalates an invalidated side-effecting step whose
// contract declares no compensation. Forced to S1 regardless of policy:
// nothing automatic can undo the effect, so a human has to.
func (r *Router) RouteIrreversible(ac contract.ActionContract, planID, reason string) Escalation {
	return Escalation{
		ID:           uuid.New().String(),
		Severity:     policy.SeverityS1,
		StepID:       ac.StepID,
		PlanID:       planID,
		Reason:       fmt.Sprintf("irreversible side effect of %s: %s", ac.StepID, reason),
		Irreversible: true,
		CreatedAt:    time.Now().UTC(),
	}
}

// RoutePlanningFailure escalates a failure to produce any viable plan.
func (r *Router) RoutePlanningFailure(briefID string, err error) Escalation {
	return Escalation{
		ID:        uuid.New().String(),
		Severity:  policy.SeverityS2,
		Reason:    fmt.Sprintf("planning for brief %s failed: %v", briefID, err),
		CreatedAt: time.Now().UTC(),
	}
}
