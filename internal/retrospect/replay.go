package retrospect

import (
	"context"
	"fmt"
	"sort"

	"github.com/josephgoksu/PlanWing/internal/artifact"
	"github.com/josephgoksu/PlanWing/internal/contract"
	"github.com/josephgoksu/PlanWing/internal/control"
	"github.com/josephgoksu/PlanWing/internal/ledger"
	"github.com/josephgoksu/PlanWing/internal/lineage"
	"github.com/josephgoksu/PlanWing/internal/patch"
	"github.com/josephgoksu/PlanWing/types"
)

// Compensation names the undo action for a side-effecting step whose output
// was retrospectively invalidated. It must run before the step is replayed.
type Compensation struct {
	StepID        string `json:"step_id"`
	CapabilityRef string `json:"capability_ref"`
}

// ReplayPlan is the outcome of an invalidation: which artifacts were marked
// invalid, which steps need to re-run, what must be compensated first, and
// the restricted plan version to execute. NewPlan is nil when nothing is
// replayable, either because the address was already invalidated or because
// every affected step escalated instead.
type ReplayPlan struct {
	PlanID               string               `json:"plan_id"`
	InvalidatedAddresses []string             `json:"invalidated_addresses"`
	ReplayStepIDs        []string             `json:"replay_step_ids"`
	Compensations        []Compensation       `json:"compensations,omitempty"`
	Escalations          []control.Escalation `json:"escalations,omitempty"`
	NewPlan              *contract.Plan       `json:"new_plan,omitempty"`
	Checkpoint           *artifact.Checkpoint `json:"checkpoint,omitempty"`
}

// ReplayManager turns a failed deep check into a minimal replay. It walks
// the consumption lineage to find every artifact derived from the bad one,
// marks them all invalid (content is never deleted), and patches the plan
// down to exactly the steps whose outputs were lost. Steps whose artifacts
// survived are not re-run.
type ReplayManager struct {
	ledger  *ledger.Ledger
	graph   *lineage.Graph
	patcher *patch.Patcher
	router  *control.Router
}

// NewReplayManager wires a replay manager over the shared ledger and the
// in-memory lineage graph.
func NewReplayManager(led *ledger.Ledger, graph *lineage.Graph, router *control.Router) *ReplayManager {
	return &ReplayManager{
		ledger:  led,
		graph:   graph,
		patcher: patch.NewPatcher(),
		router:  router,
	}
}

// Invalidate marks an artifact and everything derived from it invalid, then
// builds the selective replay. The downstream closure comes from the
// ledger's provenance records rather than the in-memory graph, so it is
// correct even across process restarts; the graph is updated as a mirror
// when it knows the addresses.
//
// Side-effecting steps get special handling: ones with a compensation
// capability contribute a Compensation entry and are replayed after it
// runs; ones without are never replayed automatically, they escalate at S1
// and are left to a human.
func (m *ReplayManager) Invalidate(ctx context.Context, address, reason string) (*ReplayPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	provs, err := m.ledger.ProvenanceFor(address)
	if err != nil {
		return nil, fmt.Errorf("provenance for %s: %w", address, err)
	}
	if len(provs) == 0 {
		return nil, fmt.Errorf("artifact %s: %w", address, types.ErrNotFound)
	}
	planID := provs[0].PlanID

	// Re-invalidating is a no-op: the cascade already ran, and running it
	// again would stack another plan version on top of the first.
	if _, done := m.graph.InvalidationReason(address); done {
		return &ReplayPlan{PlanID: planID, InvalidatedAddresses: []string{address}}, nil
	}

	invalidated, stepsByAddr, err := m.cascade(planID, address)
	if err != nil {
		return nil, err
	}
	for _, addr := range invalidated {
		if m.graph.Has(addr) {
			if addr == address {
				m.graph.Invalidate(addr, reason)
			} else {
				m.graph.Invalidate(addr, fmt.Sprintf("derived from %s", address))
			}
		}
	}

	plan, err := m.ledger.LatestPlan(planID)
	if err != nil {
		return nil, fmt.Errorf("latest plan %s: %w", planID, err)
	}

	rp := &ReplayPlan{PlanID: planID, InvalidatedAddresses: invalidated}
	replaySet := make(map[string]bool)
	for _, addr := range invalidated {
		for _, stepID := range stepsByAddr[addr] {
			if replaySet[stepID] {
				continue
			}
			step, ok := plan.Step(stepID)
			if !ok {
				// The producing step was already patched out of the
				// latest version; its output is covered elsewhere.
				continue
			}
			if step.Contract.SideEffect && step.Contract.CompensationRef == "" {
				esc := m.router.RouteIrreversible(step.Contract, planID,
					fmt.Sprintf("invalidated output of irreversible step: %s", reason))
				if err := m.recordEscalation(esc); err != nil {
					return nil, err
				}
				rp.Escalations = append(rp.Escalations, esc)
				continue
			}
			if step.Contract.SideEffect {
				rp.Compensations = append(rp.Compensations, Compensation{
					StepID:        stepID,
					CapabilityRef: step.Contract.CompensationRef,
				})
			}
			replaySet[stepID] = true
		}
	}
	for stepID := range replaySet {
		rp.ReplayStepIDs = append(rp.ReplayStepIDs, stepID)
	}
	sort.Strings(rp.ReplayStepIDs)
	sort.Slice(rp.Compensations, func(i, j int) bool {
		return rp.Compensations[i].StepID < rp.Compensations[j].StepID
	})

	if len(rp.ReplayStepIDs) == 0 {
		return rp, nil
	}

	next, err := m.patcher.Patch(plan, patch.Correction{
		Kind:        patch.KindRestrict,
		KeepStepIDs: rp.ReplayStepIDs,
		Note:        fmt.Sprintf("replay after invalidation of %s: %s", shortAddr(address), reason),
	})
	if err != nil {
		return nil, fmt.Errorf("build replay plan: %w", err)
	}
	if err := m.ledger.SupersedePlan(plan, next); err != nil {
		return nil, fmt.Errorf("supersede %s v%d: %w", plan.ID, plan.Version, err)
	}
	next.Status = contract.PlanStatusActive
	rp.NewPlan = next

	if cp, err := m.ledger.LatestCheckpoint(planID); err == nil {
		if m.checkpointSurvives(cp, invalidated) {
			rp.Checkpoint = &cp
		}
	}
	return rp, nil
}

// cascade computes the invalidation closure from durable provenance: the
// address itself plus every artifact that transitively consumed it, in the
// given plan. It also returns the producing step IDs per address.
func (m *ReplayManager) cascade(planID, address string) ([]string, map[string][]string, error) {
	provs, err := m.ledger.ProvenanceByPlan(planID)
	if err != nil {
		return nil, nil, fmt.Errorf("provenance for plan %s: %w", planID, err)
	}
	consumers := make(map[string][]string) // address -> artifacts that consumed it
	stepsByAddr := make(map[string][]string)
	for _, p := range provs {
		stepsByAddr[p.ArtifactAddress] = appendUnique(stepsByAddr[p.ArtifactAddress], p.StepID)
		for _, consumed := range p.ConsumedAddresses {
			consumers[consumed] = append(consumers[consumed], p.ArtifactAddress)
		}
	}

	seen := map[string]bool{address: true}
	queue := []string{address}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range consumers[cur] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	invalidated := make([]string, 0, len(seen))
	for addr := range seen {
		invalidated = append(invalidated, addr)
	}
	sort.Strings(invalidated)
	return invalidated, stepsByAddr, nil
}

// checkpointSurvives reports whether none of the checkpoint's artifacts
// were invalidated, meaning replay can resume from it.
func (m *ReplayManager) checkpointSurvives(cp artifact.Checkpoint, invalidated []string) bool {
	bad := make(map[string]bool, len(invalidated))
	for _, addr := range invalidated {
		bad[addr] = true
	}
	for _, addr := range cp.Artifacts {
		if bad[addr] {
			return false
		}
	}
	return true
}

func (m *ReplayManager) recordEscalation(esc control.Escalation) error {
	rec := ledger.EscalationRecord{
		ID:           esc.ID,
		Severity:     string(esc.Severity),
		PlanID:       esc.PlanID,
		StepID:       esc.StepID,
		Reason:       esc.Reason,
		Violation:    esc.Violation,
		Irreversible: esc.Irreversible,
		CreatedAt:    esc.CreatedAt,
	}
	if err := m.ledger.RecordEscalation(rec); err != nil {
		return fmt.Errorf("record escalation: %w", err)
	}
	return nil
}

func shortAddr(address string) string {
	if len(address) > 12 {
		return address[:12]
	}
	return address
}

func appendUnique(list []string, v string) []string {
	for _, have := range list {
		if have == v {
			return list
		}
	}
	return append(list, v)
}
