// Package engine drives a task from brief to terminal state: plan, execute
// ready steps, judge every observation, and apply the controller's decision
// until the plan completes, fails, or escalates to a human.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/josephgoksu/PlanWing/internal/artifact"
	"github.com/josephgoksu/PlanWing/internal/contract"
	"github.com/josephgoksu/PlanWing/internal/control"
	"github.com/josephgoksu/PlanWing/internal/exec"
	"github.com/josephgoksu/PlanWing/internal/ledger"
	"github.com/josephgoksu/PlanWing/internal/patch"
	"github.com/josephgoksu/PlanWing/internal/planner"
	"github.com/josephgoksu/PlanWing/internal/policy"
	"github.com/josephgoksu/PlanWing/internal/registry"
	"github.com/josephgoksu/PlanWing/internal/retrospect"
	"github.com/josephgoksu/PlanWing/internal/util"
	"github.com/josephgoksu/PlanWing/store"
	"github.com/josephgoksu/PlanWing/types"
)

// TaskStatus is the terminal state of one ExecuteTask call.
type TaskStatus string

const (
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	// TaskStatusEscalated means the task stopped pending human review. The
	// routed escalations are in the result and the ledger.
	TaskStatusEscalated TaskStatus = "escalated"
)

// TaskResult is what ExecuteTask hands back: the terminal status, the
// required outputs that were produced, and the full decision trail for
// audit. Failure detail travels in Err, never in a panic.
type TaskResult struct {
	BriefID     string                 `json:"brief_id"`
	PlanID      string                 `json:"plan_id"`
	PlanVersion int                    `json:"plan_version"`
	Status      TaskStatus             `json:"status"`
	Outputs     map[string]any         `json:"outputs,omitempty"`
	Artifacts   map[string]string      `json:"artifacts,omitempty"` // output name -> address
	CostUSD     float64                `json:"cost_usd"`
	Trail       []ledger.DecisionEvent `json:"trail,omitempty"`
	Escalations []control.Escalation   `json:"escalations,omitempty"`
	Err         string                 `json:"err,omitempty"`
}

// DefaultWorkers bounds how many ready steps run concurrently.
const DefaultWorkers = 4

// maxPatchesPerPlan bounds automatic plan repair so a patch that never
// fixes the violation cannot version the plan forever.
const maxPatchesPerPlan = 3

// Coordinator owns the task lifecycle. It is safe for sequential use; one
// coordinator runs one task at a time.
type Coordinator struct {
	planner    planner.Strategy
	registry   *registry.Registry
	executor   *exec.Executor
	controller *control.Controller
	router     *control.Router
	patcher    *patch.Patcher
	ledger     *ledger.Ledger
	artifacts  store.ArtifactStore
	policy     policy.Config
	guards     *policy.Engine
	workers    int
}

// NewCoordinator wires a coordinator. The controller, router, and patcher
// are built from the policy config; the guard engine is optional and set
// with SetGuards.
func NewCoordinator(strategy planner.Strategy, reg *registry.Registry, ex *exec.Executor, led *ledger.Ledger, artifacts store.ArtifactStore, cfg policy.Config) *Coordinator {
	workers := DefaultWorkers
	if cfg.StepConcurrency > 0 {
		workers = cfg.StepConcurrency
	}
	return &Coordinator{
		planner:    strategy,
		registry:   reg,
		executor:   ex,
		controller: control.NewController(cfg, reg),
		router:     control.NewRouter(cfg),
		patcher:    patch.NewPatcher(),
		ledger:     led,
		artifacts:  artifacts,
		policy:     cfg,
		workers:    workers,
	}
}

// SetGuards installs a Rego guard engine evaluated before each step is
// admitted. A denial escalates instead of executing the step.
func (c *Coordinator) SetGuards(e *policy.Engine) {
	c.guards = e
}

// SetWorkers adjusts the step concurrency bound.
func (c *Coordinator) SetWorkers(n int) {
	if n > 0 {
		c.workers = n
	}
}

// ExecuteTask takes a brief through planning and execution to a terminal
// state. The brief, every plan version, every decision, and every
// escalation are durably recorded before the result returns.
func (c *Coordinator) ExecuteTask(ctx context.Context, brief contract.TaskBrief) (TaskResult, error) {
	if brief.ID == "" {
		brief.ID = util.NewBriefID()
	}
	res := TaskResult{BriefID: brief.ID, Status: TaskStatusFailed}
	if err := c.ledger.SaveBrief(brief); err != nil {
		res.Err = err.Error()
		return res, fmt.Errorf("save brief: %w", err)
	}

	plan, err := c.planner.GeneratePlan(brief, c.registry)
	if err != nil {
		esc := c.router.RoutePlanningFailure(brief.ID, err)
		c.recordEscalation(esc)
		res.Escalations = append(res.Escalations, esc)
		res.Err = err.Error()
		return res, fmt.Errorf("plan task %s: %w", brief.ID, err)
	}

	if err := c.ledger.SavePlanVersion(plan); err != nil {
		res.Err = err.Error()
		return res, fmt.Errorf("save plan: %w", err)
	}
	// Draft becomes Active only through the ledger, so a crash between the
	// two writes leaves an inert draft rather than a half-run plan.
	if err := c.ledger.UpdatePlanStatus(plan.ID, plan.Version, contract.PlanStatusActive); err != nil {
		res.Err = err.Error()
		return res, fmt.Errorf("activate plan: %w", err)
	}
	plan.Status = contract.PlanStatusActive

	return c.runPlan(ctx, brief, plan, nil)
}

// ResumePlan picks up the restricted plan a ReplayManager produced after a
// retrospective invalidation. Compensations run first, then the replay
// steps execute against the surviving artifacts.
func (c *Coordinator) ResumePlan(ctx context.Context, brief contract.TaskBrief, rp *retrospect.ReplayPlan) (TaskResult, error) {
	res := TaskResult{BriefID: brief.ID, Status: TaskStatusFailed}
	if rp == nil || rp.NewPlan == nil {
		res.Err = "nothing to replay"
		return res, fmt.Errorf("resume: nothing to replay")
	}
	res.PlanID = rp.NewPlan.ID

	for _, comp := range rp.Compensations {
		if err := c.compensate(ctx, brief, comp); err != nil {
			esc := c.router.RouteIrreversible(contract.ActionContract{StepID: comp.StepID, SideEffect: true}, rp.PlanID,
				fmt.Sprintf("compensation %s failed: %v", comp.CapabilityRef, err))
			c.recordEscalation(esc)
			res.Status = TaskStatusEscalated
			res.Escalations = append(res.Escalations, esc)
			res.Err = err.Error()
			return res, fmt.Errorf("compensate %s: %w", comp.StepID, err)
		}
	}

	seed, err := c.seedForReplay(rp)
	if err != nil {
		res.Err = err.Error()
		return res, err
	}
	return c.runPlan(ctx, brief, rp.NewPlan, seed)
}

func (c *Coordinator) compensate(ctx context.Context, brief contract.TaskBrief, comp retrospect.Compensation) error {
	cap, err := c.registry.Get(comp.CapabilityRef)
	if err != nil {
		return err
	}
	input := make(map[string]any, len(brief.Inputs))
	for k, v := range brief.Inputs {
		input[k] = v
	}
	_, _, err = cap.Invoke(ctx, input)
	return err
}

// seedForReplay loads every artifact value that survived the invalidation
// so replay steps see the outputs their dropped dependencies produced. A
// surviving checkpoint is the fast path; the rest comes from provenance,
// because the restricted plan drops steps whose outputs are still valid
// and a replayed step may consume them across a diamond.
func (c *Coordinator) seedForReplay(rp *retrospect.ReplayPlan) (map[string]any, error) {
	seed := make(map[string]any)
	if rp.Checkpoint != nil {
		for name, addr := range rp.Checkpoint.Artifacts {
			v, err := c.loadArtifactValue(addr)
			if err != nil {
				return nil, fmt.Errorf("load checkpoint artifact %s: %w", name, err)
			}
			seed[name] = v
		}
	}

	invalidated := make(map[string]bool, len(rp.InvalidatedAddresses))
	for _, a := range rp.InvalidatedAddresses {
		invalidated[a] = true
	}
	records, err := c.ledger.ProvenanceByPlan(rp.PlanID)
	if err != nil {
		return nil, fmt.Errorf("load provenance for replay: %w", err)
	}
	// Records are in append order, so a later valid version of the same
	// output wins over an earlier one.
	for _, p := range records {
		if invalidated[p.ArtifactAddress] {
			continue
		}
		v, err := c.loadArtifactValue(p.ArtifactAddress)
		if err != nil {
			return nil, fmt.Errorf("load surviving artifact %s: %w", p.OutputName, err)
		}
		seed[p.OutputName] = v
	}
	return seed, nil
}

func (c *Coordinator) loadArtifactValue(address string) (any, error) {
	content, err := c.artifacts.Get(address)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(content, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", address, err)
	}
	return v, nil
}

// taskState is the mutable execution state shared by the step workers.
type taskState struct {
	mu        sync.Mutex
	outputs   map[string]any    // output name -> value
	addresses map[string]string // output name -> artifact address
	producers map[string]string // output name -> producing step ID
	done      map[string]bool
	cost      float64
	started   time.Time
}

func (s *taskState) snapshot(inputs map[string]any) contract.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	arts := make(map[string]any, len(s.outputs))
	for k, v := range s.outputs {
		arts[k] = v
	}
	return contract.Snapshot{
		Inputs:     inputs,
		Artifacts:  arts,
		CostUSD:    s.cost,
		ElapsedSec: time.Since(s.started).Seconds(),
	}
}

// consumedBy returns the artifact addresses a step's declared dependencies
// produced, for lineage and provenance.
func (s *taskState) consumedBy(step contract.PlanStep) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	deps := make(map[string]bool, len(step.DependsOn))
	for _, d := range step.DependsOn {
		deps[d] = true
	}
	var consumed []string
	for name, producer := range s.producers {
		if deps[producer] {
			consumed = append(consumed, s.addresses[name])
		}
	}
	sort.Strings(consumed)
	return consumed
}

func (s *taskState) accept(obs exec.Observation, stepID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, v := range obs.Outputs {
		s.outputs[name] = v
	}
	for _, art := range obs.Artifacts {
		s.addresses[art.Name] = art.Address
		s.producers[art.Name] = stepID
	}
	s.done[stepID] = true
}

// spend accrues the observed cost of one attempt. Failed and retried
// attempts cost real money too, so this runs for every observation, not
// only accepted ones.
func (s *taskState) spend(cost float64) {
	s.mu.Lock()
	s.cost += cost
	s.mu.Unlock()
}

// skip marks a step done without outputs, for escalations policy lets the
// task continue past.
func (s *taskState) skip(stepID string) {
	s.mu.Lock()
	s.done[stepID] = true
	s.mu.Unlock()
}

type stepOutcome struct {
	step contract.PlanStep
	obs  exec.Observation
	dec  control.Decision
}

// runPlan executes a plan version to a terminal state, running ready steps
// in bounded waves. A patch decision supersedes the plan mid-flight and the
// loop continues on the new version; completed steps stay completed because
// step IDs are stable across versions.
func (c *Coordinator) runPlan(ctx context.Context, brief contract.TaskBrief, plan *contract.Plan, seed map[string]any) (TaskResult, error) {
	res := TaskResult{BriefID: brief.ID, PlanID: plan.ID, Status: TaskStatusFailed}

	inputs := make(map[string]any, len(brief.Inputs)+len(seed))
	for k, v := range brief.Inputs {
		inputs[k] = v
	}
	for k, v := range seed {
		inputs[k] = v
	}
	st := &taskState{
		outputs:   map[string]any{},
		addresses: map[string]string{},
		producers: map[string]string{},
		done:      map[string]bool{},
		started:   time.Now(),
	}
	patches := 0

	for {
		if err := ctx.Err(); err != nil {
			return c.fail(res, plan, st, fmt.Errorf("task canceled: %w", err))
		}
		ready := contract.ReadySteps(plan.Steps, st.done)
		if len(ready) == 0 {
			break
		}

		// Proactive ceilings: refuse to dispatch a wave that would push the
		// task past its brief-level budget, and stop once the SLA is spent.
		if err := c.admitWave(brief, plan, st, ready); err != nil {
			return c.fail(res, plan, st, err)
		}
		if c.guards != nil && c.guards.GuardCount() > 0 {
			if esc, denied := c.guardWave(ctx, brief, plan, ready); denied {
				return c.escalated(res, plan, st, esc)
			}
		}

		outcomes := c.runWave(ctx, plan, ready, inputs, st)

		var patchDec *control.Decision
		for _, out := range outcomes {
			switch out.dec.Action {
			case control.ActionContinue:
				st.accept(out.obs, out.step.ID)
			case control.ActionPatch:
				if patchDec == nil {
					d := out.dec
					patchDec = &d
				}
			case control.ActionEscalate:
				esc := c.router.Route(out.dec, plan.ID)
				// S1 and S2 stop the task; S3 continues with a warning and
				// S4 is log-only. Both are still durably recorded.
				if esc.Severity == policy.SeverityS3 || esc.Severity == policy.SeverityS4 {
					c.recordEscalation(esc)
					res.Escalations = append(res.Escalations, esc)
					st.skip(out.step.ID)
					slog.Warn("continuing past escalation",
						"plan", plan.ID, "step", out.step.ID, "severity", esc.Severity, "reason", esc.Reason)
					continue
				}
				return c.escalated(res, plan, st, esc)
			}
		}
		c.checkpoint(plan, st)

		if patchDec != nil {
			patches++
			if patches > maxPatchesPerPlan {
				esc := c.router.Route(*patchDec, plan.ID)
				esc.Reason = fmt.Sprintf("patch limit reached: %s", esc.Reason)
				return c.escalated(res, plan, st, esc)
			}
			next, err := c.applyPatch(plan, *patchDec)
			if err != nil {
				return c.fail(res, plan, st, fmt.Errorf("apply patch: %w", err))
			}
			plan = next
		}
	}

	// Admission is proactive per wave, but retries inside a wave still burn
	// real money; a task that truly overspent must not report success.
	if err := c.checkSpend(brief, st); err != nil {
		return c.fail(res, plan, st, err)
	}

	res.Status = TaskStatusCompleted
	res.PlanVersion = plan.Version
	res.Outputs = c.requiredOutputs(brief, st)
	res.Artifacts = st.addresses
	res.CostUSD = st.cost
	if err := c.ledger.UpdatePlanStatus(plan.ID, plan.Version, contract.PlanStatusCompleted); err != nil {
		return res, fmt.Errorf("complete plan: %w", err)
	}
	res.Trail, _ = c.ledger.DecisionTrail(plan.ID)
	return res, nil
}

// admitWave enforces the brief's cost and latency constraints before any
// step of the wave starts, so the task never begins work it cannot afford.
func (c *Coordinator) admitWave(brief contract.TaskBrief, plan *contract.Plan, st *taskState, ready []string) error {
	maxCost := brief.Constraints.CostUSD
	if maxCost == 0 {
		maxCost = c.policy.MaxCostUSD
	}
	maxLatency := brief.Constraints.LatencySec
	if maxLatency == 0 {
		maxLatency = c.policy.MaxLatencySec
	}

	if maxLatency > 0 && time.Since(st.started).Seconds() > maxLatency {
		return fmt.Errorf("task latency %.2fs over %.2fs: %w",
			time.Since(st.started).Seconds(), maxLatency, types.ErrBudgetExceeded)
	}
	if maxCost <= 0 {
		return nil
	}
	projected := st.cost
	for _, id := range ready {
		step, ok := plan.Step(id)
		if !ok {
			continue
		}
		cap, err := c.registry.Get(step.Contract.CapabilityRef)
		if err != nil {
			continue // surfaces as a capability error when the step runs
		}
		projected += cap.CostEstimateUSD()
	}
	if projected > maxCost {
		return fmt.Errorf("projected cost %.4f over %.4f: %w", projected, maxCost, types.ErrBudgetExceeded)
	}
	return nil
}

// checkSpend compares accrued actual spend against the task's cost ceiling.
func (c *Coordinator) checkSpend(brief contract.TaskBrief, st *taskState) error {
	maxCost := brief.Constraints.CostUSD
	if maxCost == 0 {
		maxCost = c.policy.MaxCostUSD
	}
	if maxCost <= 0 {
		return nil
	}
	st.mu.Lock()
	spent := st.cost
	st.mu.Unlock()
	if spent > maxCost {
		return fmt.Errorf("spent %.4f over %.4f: %w", spent, maxCost, types.ErrBudgetExceeded)
	}
	return nil
}

// guardWave evaluates the Rego guards against every step about to run.
// The first denial stops the wave.
func (c *Coordinator) guardWave(ctx context.Context, brief contract.TaskBrief, plan *contract.Plan, ready []string) (control.Escalation, bool) {
	for _, id := range ready {
		step, ok := plan.Step(id)
		if !ok {
			continue
		}
		estimate := 0.0
		if cap, err := c.registry.Get(step.Contract.CapabilityRef); err == nil {
			estimate = cap.CostEstimateUSD()
		}
		decision, err := c.guards.Evaluate(ctx, &policy.GuardInput{
			Step: &policy.StepInput{
				ID:            step.ID,
				CapabilityRef: step.Contract.CapabilityRef,
				SideEffect:    step.Contract.SideEffect,
				CostEstimate:  estimate,
				PolicyTags:    brief.Constraints.PolicyTags,
			},
			Plan: &policy.PlanGuardInput{ID: plan.ID, Version: plan.Version, Objective: brief.Objective},
		})
		if err != nil {
			return c.router.Route(control.Decision{
				StepID:   step.ID,
				Action:   control.ActionEscalate,
				Reason:   fmt.Sprintf("guard evaluation failed: %v", err),
				Severity: policy.SeverityS1,
			}, plan.ID), true
		}
		if !decision.IsAllowed() {
			violation := strings.Join(decision.Violations, "; ")
			return c.router.Route(control.Decision{
				StepID:    step.ID,
				Action:    control.ActionEscalate,
				Reason:    fmt.Sprintf("guard denied step %s: %s", step.ID, violation),
				Violation: violation,
				Severity:  policy.SeverityS1,
			}, plan.ID), true
		}
	}
	return control.Escalation{}, false
}

// runWave executes the ready steps with bounded concurrency and returns one
// outcome per step, each already judged by the controller.
func (c *Coordinator) runWave(ctx context.Context, plan *contract.Plan, ready []string, inputs map[string]any, st *taskState) []stepOutcome {
	sem := make(chan struct{}, c.workers)
	results := make(chan stepOutcome, len(ready))
	var wg sync.WaitGroup
	for _, id := range ready {
		step, ok := plan.Step(id)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(step contract.PlanStep) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results <- c.runStepControlled(ctx, plan, step, inputs, st)
		}(*step)
	}
	wg.Wait()
	close(results)

	outcomes := make([]stepOutcome, 0, len(ready))
	for out := range results {
		outcomes = append(outcomes, out)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].step.ID < outcomes[j].step.ID })
	return outcomes
}

// runStepControlled drives one step through its attempt loop: retries and
// substitutions happen here, while patch and escalate decisions return to
// the wave loop because they act on the plan, not the step.
func (c *Coordinator) runStepControlled(ctx context.Context, plan *contract.Plan, step contract.PlanStep, inputs map[string]any, st *taskState) stepOutcome {
	consumed := st.consumedBy(step)
	var tried []string
	cur := step
	for attempt := 1; ; attempt++ {
		obs := c.executor.RunStep(ctx, cur, plan.ID, plan.Version, exec.State{
			Snapshot:          st.snapshot(inputs),
			ConsumedAddresses: consumed,
		})
		st.spend(obs.CostUSD)
		dec := c.controller.Decide(obs, cur.Contract, attempt, tried)
		c.recordDecision(plan, dec)

		switch dec.Action {
		case control.ActionRetry:
			continue
		case control.ActionSubstitute:
			tried = append(tried, cur.Contract.CapabilityRef)
			cur.Contract.CapabilityRef = dec.SubstituteRef
			continue
		default:
			return stepOutcome{step: step, obs: obs, dec: dec}
		}
	}
}

// applyPatch turns an auto-patch decision into a new plan version: the
// remediation capability is inserted before the failing step and the old
// version is durably superseded before anything from the new version runs.
func (c *Coordinator) applyPatch(plan *contract.Plan, dec control.Decision) (*contract.Plan, error) {
	cap, err := c.registry.Get(dec.PatchRule.InsertCapability)
	if err != nil {
		return nil, fmt.Errorf("%w: patch capability %s", types.ErrInvalidPatch, dec.PatchRule.InsertCapability)
	}
	stepID := fmt.Sprintf("step-%s-v%d", strings.ReplaceAll(cap.Ref(), "/", "-"), plan.Version+1)
	note := dec.PatchRule.Note
	if note == "" {
		note = fmt.Sprintf("insert %s before %s to satisfy %s", cap.Ref(), dec.StepID, dec.Violation)
	}
	next, err := c.patcher.Patch(plan, patch.Correction{
		Kind:         patch.KindInsertBefore,
		TargetStepID: dec.StepID,
		Step: contract.PlanStep{
			ID:       stepID,
			Title:    fmt.Sprintf("remediate %s", dec.Violation),
			Contract: contract.ActionContract{StepID: stepID, CapabilityRef: cap.Ref()},
			Produces: cap.Produces(),
		},
		Note: note,
	})
	if err != nil {
		return nil, err
	}
	if err := c.ledger.SupersedePlan(plan, next); err != nil {
		return nil, fmt.Errorf("supersede %s v%d: %w", plan.ID, plan.Version, err)
	}
	next.Status = contract.PlanStatusActive
	return next, nil
}

// checkpoint durably records the wave's progress. Failure to checkpoint is
// not fatal to the task, only to crash recovery granularity.
func (c *Coordinator) checkpoint(plan *contract.Plan, st *taskState) {
	st.mu.Lock()
	completed := make([]string, 0, len(st.done))
	for id := range st.done {
		completed = append(completed, id)
	}
	arts := make(map[string]string, len(st.addresses))
	for k, v := range st.addresses {
		arts[k] = v
	}
	st.mu.Unlock()
	if len(completed) == 0 {
		return
	}
	sort.Strings(completed)
	_ = c.ledger.SaveCheckpoint(artifactCheckpoint(plan, completed, arts))
}

func (c *Coordinator) requiredOutputs(brief contract.TaskBrief, st *taskState) map[string]any {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make(map[string]any, len(brief.RequiredOutputs))
	for name := range brief.RequiredOutputs {
		if v, ok := st.outputs[name]; ok {
			out[name] = v
		}
	}
	return out
}

func (c *Coordinator) fail(res TaskResult, plan *contract.Plan, st *taskState, err error) (TaskResult, error) {
	res.Status = TaskStatusFailed
	res.PlanVersion = plan.Version
	res.CostUSD = st.cost
	res.Err = err.Error()
	_ = c.ledger.UpdatePlanStatus(plan.ID, plan.Version, contract.PlanStatusFailed)
	res.Trail, _ = c.ledger.DecisionTrail(plan.ID)
	return res, err
}

func (c *Coordinator) escalated(res TaskResult, plan *contract.Plan, st *taskState, esc control.Escalation) (TaskResult, error) {
	c.recordEscalation(esc)
	res.Status = TaskStatusEscalated
	res.PlanVersion = plan.Version
	res.CostUSD = st.cost
	res.Escalations = append(res.Escalations, esc)
	res.Err = esc.Reason
	_ = c.ledger.UpdatePlanStatus(plan.ID, plan.Version, contract.PlanStatusFailed)
	res.Trail, _ = c.ledger.DecisionTrail(plan.ID)
	return res, fmt.Errorf("task escalated (%s): %s", esc.Severity, esc.Reason)
}

func artifactCheckpoint(plan *contract.Plan, completed []string, arts map[string]string) artifact.Checkpoint {
	return artifact.Checkpoint{
		ID:             "cp-" + uuid.New().String()[:8],
		PlanID:         plan.ID,
		PlanVersion:    plan.Version,
		CompletedSteps: completed,
		Artifacts:      arts,
		CreatedAt:      time.Now().UTC(),
	}
}

func (c *Coordinator) recordDecision(plan *contract.Plan, dec control.Decision) {
	_ = c.ledger.RecordDecision(ledger.DecisionEvent{
		PlanID:      plan.ID,
		PlanVersion: plan.Version,
		StepID:      dec.StepID,
		Attempt:     dec.Attempt,
		Action:      string(dec.Action),
		Reason:      dec.Reason,
	})
}

func (c *Coordinator) recordEscalation(esc control.Escalation) {
	_ = c.ledger.RecordEscalation(ledger.EscalationRecord{
		ID:           esc.ID,
		Severity:     string(esc.Severity),
		PlanID:       esc.PlanID,
		StepID:       esc.StepID,
		Reason:       esc.Reason,
		Violation:    esc.Violation,
		Irreversible: esc.Irreversible,
		CreatedAt:    esc.CreatedAt,
	})
}
