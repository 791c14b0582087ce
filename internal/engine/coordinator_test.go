package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josephgoksu/PlanWing/internal/contract"
	"github.com/josephgoksu/PlanWing/internal/control"
	"github.com/josephgoksu/PlanWing/internal/exec"
	"github.com/josephgoksu/PlanWing/internal/ledger"
	"github.com/josephgoksu/PlanWing/internal/lineage"
	"github.com/josephgoksu/PlanWing/internal/planner"
	"github.com/josephgoksu/PlanWing/internal/policy"
	"github.com/josephgoksu/PlanWing/internal/registry"
	"github.com/josephgoksu/PlanWing/internal/retrospect"
	"github.com/josephgoksu/PlanWing/internal/verify"
	"github.com/josephgoksu/PlanWing/store"
	"github.com/josephgoksu/PlanWing/types"
)

type fixture struct {
	coord    *Coordinator
	ledger   *ledger.Ledger
	registry *registry.Registry
}

func newFixture(t *testing.T, reg *registry.Registry, cfg policy.Config, strategy planner.Strategy) *fixture {
	t.Helper()
	l, err := ledger.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	artifacts, err := store.NewFileArtifactStore(afero.NewMemMapFs(), "/artifacts")
	require.NoError(t, err)
	graph := lineage.NewGraph()
	ex := exec.NewExecutor(reg, verify.NewVerifier(nil), artifacts, graph, l, "exec-test")
	if strategy == nil {
		strategy = planner.NewDependencyPlanner()
	}
	return &fixture{
		coord:    NewCoordinator(strategy, reg, ex, l, artifacts, cfg),
		ledger:   l,
		registry: reg,
	}
}

func sumBrief() contract.TaskBrief {
	return contract.TaskBrief{
		Objective:       "add two numbers",
		Inputs:          map[string]any{"a": 2.0, "b": 3.0},
		RequiredOutputs: map[string]contract.Schema{"sum": {Type: "number"}},
	}
}

func trailActions(trail []ledger.DecisionEvent) []string {
	actions := make([]string, len(trail))
	for i, e := range trail {
		actions[i] = e.Action
	}
	return actions
}

func TestExecuteTaskHappyPath(t *testing.T) {
	f := newFixture(t, registry.NewBuiltinRegistry(), policy.Default(), nil)

	res, err := f.coord.ExecuteTask(context.Background(), sumBrief())
	require.NoError(t, err)

	assert.Equal(t, TaskStatusCompleted, res.Status)
	assert.Equal(t, 5.0, res.Outputs["sum"])
	assert.NotEmpty(t, res.Artifacts["sum"])
	assert.Equal(t, []string{"continue"}, trailActions(res.Trail))

	p, err := f.ledger.LatestPlan(res.PlanID)
	require.NoError(t, err)
	assert.Equal(t, contract.PlanStatusCompleted, p.Status)
}

func TestTransientFailureRetriesThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	reg := registry.New()
	reg.Register(&registry.FuncCapability{
		CapRef:      "arith/sum",
		In:          map[string]contract.Schema{"a": {Type: "number"}, "b": {Type: "number"}},
		Out:         map[string]contract.Schema{"sum": {Type: "number"}},
		EstimateUSD: 0.01,
		Fn: func(_ context.Context, input map[string]any) (map[string]any, float64, error) {
			if attempts.Add(1) <= 2 {
				return nil, 0, errors.New("connection reset by peer")
			}
			a, _ := input["a"].(float64)
			b, _ := input["b"].(float64)
			return map[string]any{"sum": a + b}, 0.001, nil
		},
	})
	f := newFixture(t, reg, policy.Default(), nil)

	res, err := f.coord.ExecuteTask(context.Background(), sumBrief())
	require.NoError(t, err)

	assert.Equal(t, TaskStatusCompleted, res.Status)
	assert.Equal(t, 5.0, res.Outputs["sum"])
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, []string{"retry", "retry", "continue"}, trailActions(res.Trail))
}

// stubStrategy hands back a fixed plan, ignoring the registry.
type stubStrategy struct {
	plan *contract.Plan
}

func (s *stubStrategy) GeneratePlan(brief contract.TaskBrief, _ *registry.Registry) (*contract.Plan, error) {
	p := *s.plan
	p.BriefID = brief.ID
	return &p, nil
}

func TestCorrectablePatchSupersedesPlan(t *testing.T) {
	// The step needs input b, which neither the brief nor any prior step
	// provides. The auto-patch rule repairs the plan by deriving b.
	reg := registry.New()
	reg.Register(&registry.FuncCapability{
		CapRef:      "arith/sum",
		In:          map[string]contract.Schema{"a": {Type: "number"}, "b": {Type: "number"}},
		Out:         map[string]contract.Schema{"sum": {Type: "number"}},
		EstimateUSD: 0.01,
		Fn: func(_ context.Context, input map[string]any) (map[string]any, float64, error) {
			a, _ := input["a"].(float64)
			b, _ := input["b"].(float64)
			return map[string]any{"sum": a + b}, 0.001, nil
		},
	})
	reg.Register(&registry.FuncCapability{
		CapRef:      "derive/b",
		In:          map[string]contract.Schema{"a": {Type: "number"}},
		Out:         map[string]contract.Schema{"b": {Type: "number"}},
		EstimateUSD: 0.01,
		Fn: func(_ context.Context, input map[string]any) (map[string]any, float64, error) {
			a, _ := input["a"].(float64)
			return map[string]any{"b": a + 1}, 0.001, nil
		},
	})

	plan := &contract.Plan{
		ID:            "plan-patch001",
		Version:       0,
		ParentVersion: -1,
		Status:        contract.PlanStatusDraft,
		Steps: []contract.PlanStep{{
			ID:    "step-arith-sum",
			Title: "add a and b",
			Contract: contract.ActionContract{
				StepID:        "step-arith-sum",
				CapabilityRef: "arith/sum",
				Preconditions: []contract.Predicate{
					{Name: "a_present", Check: contract.CheckExists, Target: "a"},
					{Name: "b_present", Check: contract.CheckExists, Target: "b"},
				},
			},
			Produces: map[string]contract.Schema{"sum": {Type: "number"}},
		}},
	}

	cfg := policy.Default()
	cfg.AutoPatch = map[string]policy.AutoPatchRule{
		"b_present": {InsertCapability: "derive/b", Note: "derive missing input b"},
	}
	f := newFixture(t, reg, cfg, &stubStrategy{plan: plan})

	brief := contract.TaskBrief{
		Objective:       "add two numbers with one missing",
		Inputs:          map[string]any{"a": 2.0},
		RequiredOutputs: map[string]contract.Schema{"sum": {Type: "number"}},
	}
	res, err := f.coord.ExecuteTask(context.Background(), brief)
	require.NoError(t, err)

	assert.Equal(t, TaskStatusCompleted, res.Status)
	assert.Equal(t, 5.0, res.Outputs["sum"]) // a=2, derived b=3
	assert.Equal(t, 1, res.PlanVersion)

	v0, err := f.ledger.GetPlan(res.PlanID, 0)
	require.NoError(t, err)
	assert.Equal(t, contract.PlanStatusSuperseded, v0.Status)
	v1, err := f.ledger.GetPlan(res.PlanID, 1)
	require.NoError(t, err)
	assert.Equal(t, contract.PlanStatusCompleted, v1.Status)
	assert.Equal(t, 0, v1.ParentVersion)
	assert.NotEmpty(t, v1.PatchNote)

	assert.Contains(t, trailActions(res.Trail), "patch")
}

func TestPlanningFailureEscalatesWithoutExecution(t *testing.T) {
	f := newFixture(t, registry.New(), policy.Default(), nil)

	brief := contract.TaskBrief{
		Objective:       "produce the unproducible",
		RequiredOutputs: map[string]contract.Schema{"impossible": {Type: "object"}},
	}
	res, err := f.coord.ExecuteTask(context.Background(), brief)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrCapabilityUnavailable)

	assert.Equal(t, TaskStatusFailed, res.Status)
	require.Len(t, res.Escalations, 1)
	assert.Empty(t, res.PlanID)
}

func TestBudgetEnforcedBeforeExceedingStep(t *testing.T) {
	// Estimates pass planning, but the first step's actual cost burns most
	// of the budget: the second step must never be dispatched.
	var secondRan atomic.Bool
	reg := registry.New()
	reg.Register(&registry.FuncCapability{
		CapRef:      "make/a",
		In:          map[string]contract.Schema{},
		Out:         map[string]contract.Schema{"a": {Type: "number"}},
		EstimateUSD: 0.10,
		Fn: func(_ context.Context, _ map[string]any) (map[string]any, float64, error) {
			return map[string]any{"a": 1.0}, 0.90, nil
		},
	})
	reg.Register(&registry.FuncCapability{
		CapRef:      "make/b",
		In:          map[string]contract.Schema{"a": {Type: "number"}},
		Out:         map[string]contract.Schema{"b": {Type: "number"}},
		EstimateUSD: 0.10,
		Fn: func(_ context.Context, _ map[string]any) (map[string]any, float64, error) {
			secondRan.Store(true)
			return map[string]any{"b": 2.0}, 0.10, nil
		},
	})
	f := newFixture(t, reg, policy.Default(), nil)

	brief := contract.TaskBrief{
		Objective:       "two-step chain over budget",
		RequiredOutputs: map[string]contract.Schema{"b": {Type: "number"}},
		Constraints:     contract.Constraints{CostUSD: 0.95},
	}
	res, err := f.coord.ExecuteTask(context.Background(), brief)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrBudgetExceeded)
	assert.Equal(t, TaskStatusFailed, res.Status)
	assert.False(t, secondRan.Load())

	p, err := f.ledger.LatestPlan(res.PlanID)
	require.NoError(t, err)
	assert.Equal(t, contract.PlanStatusFailed, p.Status)
}

func TestPermanentCapabilityErrorEscalates(t *testing.T) {
	reg := registry.New()
	reg.Register(&registry.FuncCapability{
		CapRef:      "arith/sum",
		In:          map[string]contract.Schema{"a": {Type: "number"}, "b": {Type: "number"}},
		Out:         map[string]contract.Schema{"sum": {Type: "number"}},
		EstimateUSD: 0.01,
		Fn: func(_ context.Context, _ map[string]any) (map[string]any, float64, error) {
			return nil, 0, errors.New("schema version unsupported")
		},
	})
	f := newFixture(t, reg, policy.Default(), nil)

	res, err := f.coord.ExecuteTask(context.Background(), sumBrief())
	require.Error(t, err)
	assert.Equal(t, TaskStatusEscalated, res.Status)
	require.Len(t, res.Escalations, 1)

	recorded, err := f.ledger.Escalations(res.PlanID)
	require.NoError(t, err)
	assert.Len(t, recorded, 1)
	p, err := f.ledger.LatestPlan(res.PlanID)
	require.NoError(t, err)
	assert.Equal(t, contract.PlanStatusFailed, p.Status)
}

func TestCanceledContextFailsTask(t *testing.T) {
	f := newFixture(t, registry.NewBuiltinRegistry(), policy.Default(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.coord.ExecuteTask(ctx, sumBrief())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, TaskStatusFailed, res.Status)
}

func TestRetriedAttemptsAccrueCost(t *testing.T) {
	// Two failed attempts at $0.40 each plus the $0.40 success: the task
	// spent $1.20, and the result must say so.
	var attempts atomic.Int32
	reg := registry.New()
	reg.Register(&registry.FuncCapability{
		CapRef:      "arith/sum",
		In:          map[string]contract.Schema{"a": {Type: "number"}, "b": {Type: "number"}},
		Out:         map[string]contract.Schema{"sum": {Type: "number"}},
		EstimateUSD: 0.01,
		Fn: func(_ context.Context, input map[string]any) (map[string]any, float64, error) {
			if attempts.Add(1) <= 2 {
				return nil, 0.40, errors.New("connection reset by peer")
			}
			a, _ := input["a"].(float64)
			b, _ := input["b"].(float64)
			return map[string]any{"sum": a + b}, 0.40, nil
		},
	})
	f := newFixture(t, reg, policy.Default(), nil)

	res, err := f.coord.ExecuteTask(context.Background(), sumBrief())
	require.NoError(t, err)

	assert.Equal(t, TaskStatusCompleted, res.Status)
	assert.InDelta(t, 1.20, res.CostUSD, 1e-9)
}

func TestOverspendFromRetriesFailsTask(t *testing.T) {
	// Each attempt is affordable up front, but the retries push actual spend
	// past the ceiling: the task must not report success.
	var attempts atomic.Int32
	reg := registry.New()
	reg.Register(&registry.FuncCapability{
		CapRef:      "arith/sum",
		In:          map[string]contract.Schema{"a": {Type: "number"}, "b": {Type: "number"}},
		Out:         map[string]contract.Schema{"sum": {Type: "number"}},
		EstimateUSD: 0.01,
		Fn: func(_ context.Context, input map[string]any) (map[string]any, float64, error) {
			if attempts.Add(1) <= 2 {
				return nil, 0.40, errors.New("connection reset by peer")
			}
			a, _ := input["a"].(float64)
			b, _ := input["b"].(float64)
			return map[string]any{"sum": a + b}, 0.40, nil
		},
	})
	f := newFixture(t, reg, policy.Default(), nil)

	brief := sumBrief()
	brief.Constraints = contract.Constraints{CostUSD: 1.00}
	res, err := f.coord.ExecuteTask(context.Background(), brief)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrBudgetExceeded)
	assert.Equal(t, TaskStatusFailed, res.Status)
	assert.InDelta(t, 1.20, res.CostUSD, 1e-9)
}

func TestAdvisoryEscalationDoesNotStopTask(t *testing.T) {
	// With the default severity dialed down to S3, a permanently failing
	// optional step is recorded and skipped while the rest of the plan
	// finishes.
	reg := registry.New()
	reg.Register(&registry.FuncCapability{
		CapRef:      "fetch/aux",
		In:          map[string]contract.Schema{},
		Out:         map[string]contract.Schema{"aux": {Type: "string"}},
		EstimateUSD: 0.01,
		Fn: func(_ context.Context, _ map[string]any) (map[string]any, float64, error) {
			return nil, 0, errors.New("schema version unsupported")
		},
	})
	reg.Register(&registry.FuncCapability{
		CapRef:      "make/sum",
		In:          map[string]contract.Schema{},
		Out:         map[string]contract.Schema{"sum": {Type: "number"}},
		EstimateUSD: 0.01,
		Fn: func(_ context.Context, _ map[string]any) (map[string]any, float64, error) {
			return map[string]any{"sum": 5.0}, 0.001, nil
		},
	})

	plan := &contract.Plan{
		ID:            "plan-advisory1",
		Version:       0,
		ParentVersion: -1,
		Status:        contract.PlanStatusDraft,
		Steps: []contract.PlanStep{
			{
				ID:       "step-fetch-aux",
				Title:    "fetch auxiliary data",
				Contract: contract.ActionContract{StepID: "step-fetch-aux", CapabilityRef: "fetch/aux"},
				Produces: map[string]contract.Schema{"aux": {Type: "string"}},
			},
			{
				ID:       "step-make-sum",
				Title:    "produce the sum",
				Contract: contract.ActionContract{StepID: "step-make-sum", CapabilityRef: "make/sum"},
				Produces: map[string]contract.Schema{"sum": {Type: "number"}},
			},
		},
	}

	cfg := policy.Default()
	cfg.DefaultSeverity = policy.SeverityS3
	f := newFixture(t, reg, cfg, &stubStrategy{plan: plan})

	brief := contract.TaskBrief{
		Objective:       "sum with a best-effort side lookup",
		RequiredOutputs: map[string]contract.Schema{"sum": {Type: "number"}},
	}
	res, err := f.coord.ExecuteTask(context.Background(), brief)
	require.NoError(t, err)

	assert.Equal(t, TaskStatusCompleted, res.Status)
	assert.Equal(t, 5.0, res.Outputs["sum"])
	require.Len(t, res.Escalations, 1)
	assert.Equal(t, policy.SeverityS3, res.Escalations[0].Severity)

	recorded, err := f.ledger.Escalations(res.PlanID)
	require.NoError(t, err)
	assert.Len(t, recorded, 1)
	p, err := f.ledger.LatestPlan(res.PlanID)
	require.NoError(t, err)
	assert.Equal(t, contract.PlanStatusCompleted, p.Status)
}

func TestReplayKeepsSurvivingSiblingAcrossDiamond(t *testing.T) {
	// x and y are independent, z consumes both. Invalidating x must replay
	// only x and z, and the replayed z must still see the surviving y.
	reg := registry.New()
	reg.Register(&registry.FuncCapability{
		CapRef:      "make/x",
		In:          map[string]contract.Schema{},
		Out:         map[string]contract.Schema{"x": {Type: "number"}},
		EstimateUSD: 0.01,
		Fn: func(_ context.Context, _ map[string]any) (map[string]any, float64, error) {
			return map[string]any{"x": 1.0}, 0.001, nil
		},
	})
	reg.Register(&registry.FuncCapability{
		CapRef:      "make/y",
		In:          map[string]contract.Schema{},
		Out:         map[string]contract.Schema{"y": {Type: "number"}},
		EstimateUSD: 0.01,
		Fn: func(_ context.Context, _ map[string]any) (map[string]any, float64, error) {
			return map[string]any{"y": 2.0}, 0.001, nil
		},
	})
	reg.Register(&registry.FuncCapability{
		CapRef:      "combine/xy",
		In:          map[string]contract.Schema{"x": {Type: "number"}, "y": {Type: "number"}},
		Out:         map[string]contract.Schema{"z": {Type: "number"}},
		EstimateUSD: 0.01,
		Fn: func(_ context.Context, input map[string]any) (map[string]any, float64, error) {
			x, _ := input["x"].(float64)
			y, _ := input["y"].(float64)
			return map[string]any{"z": x + y}, 0.001, nil
		},
	})

	plan := &contract.Plan{
		ID:            "plan-diamond01",
		Version:       0,
		ParentVersion: -1,
		Status:        contract.PlanStatusDraft,
		Steps: []contract.PlanStep{
			{
				ID:       "step-make-x",
				Contract: contract.ActionContract{StepID: "step-make-x", CapabilityRef: "make/x"},
				Produces: map[string]contract.Schema{"x": {Type: "number"}},
			},
			{
				ID:       "step-make-y",
				Contract: contract.ActionContract{StepID: "step-make-y", CapabilityRef: "make/y"},
				Produces: map[string]contract.Schema{"y": {Type: "number"}},
			},
			{
				ID: "step-combine",
				Contract: contract.ActionContract{
					StepID:        "step-combine",
					CapabilityRef: "combine/xy",
					Preconditions: []contract.Predicate{
						{Name: "x_present", Check: contract.CheckExists, Target: "x"},
						{Name: "y_present", Check: contract.CheckExists, Target: "y"},
					},
				},
				DependsOn: []string{"step-make-x", "step-make-y"},
				Produces:  map[string]contract.Schema{"z": {Type: "number"}},
			},
		},
	}

	l, err := ledger.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	artifacts, err := store.NewFileArtifactStore(afero.NewMemMapFs(), "/artifacts")
	require.NoError(t, err)
	graph := lineage.NewGraph()
	ex := exec.NewExecutor(reg, verify.NewVerifier(nil), artifacts, graph, l, "exec-test")
	cfg := policy.Default()
	coord := NewCoordinator(&stubStrategy{plan: plan}, reg, ex, l, artifacts, cfg)

	brief := contract.TaskBrief{
		ID:              "brief-diamond01",
		Objective:       "combine two independent values",
		RequiredOutputs: map[string]contract.Schema{"z": {Type: "number"}},
	}
	res, err := coord.ExecuteTask(context.Background(), brief)
	require.NoError(t, err)
	require.Equal(t, TaskStatusCompleted, res.Status)
	assert.Equal(t, 3.0, res.Outputs["z"])
	require.NotEmpty(t, res.Artifacts["x"])

	rm := retrospect.NewReplayManager(l, graph, control.NewRouter(cfg))
	rp, err := rm.Invalidate(context.Background(), res.Artifacts["x"], "deep check found stale source")
	require.NoError(t, err)
	assert.Equal(t, []string{"step-combine", "step-make-x"}, rp.ReplayStepIDs)
	require.NotNil(t, rp.NewPlan)

	res2, err := coord.ResumePlan(context.Background(), brief, rp)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCompleted, res2.Status)
	assert.Equal(t, 3.0, res2.Outputs["z"])
	assert.Empty(t, res2.Escalations)
}

func TestGuardDenialEscalatesBeforeExecution(t *testing.T) {
	var ran atomic.Bool
	reg := registry.New()
	reg.Register(&registry.FuncCapability{
		CapRef:      "notify/send",
		In:          map[string]contract.Schema{},
		Out:         map[string]contract.Schema{"receipt": {Type: "string"}},
		EstimateUSD: 0.01,
		Fn: func(_ context.Context, _ map[string]any) (map[string]any, float64, error) {
			ran.Store(true)
			return map[string]any{"receipt": "sent"}, 0.001, nil
		},
	})

	plan := &contract.Plan{
		ID:            "plan-guard001",
		Version:       0,
		ParentVersion: -1,
		Status:        contract.PlanStatusDraft,
		Steps: []contract.PlanStep{{
			ID:    "step-notify-send",
			Title: "send notification",
			Contract: contract.ActionContract{
				StepID:        "step-notify-send",
				CapabilityRef: "notify/send",
				SideEffect:    true,
			},
			Produces: map[string]contract.Schema{"receipt": {Type: "string"}},
		}},
	}
	f := newFixture(t, reg, policy.Default(), &stubStrategy{plan: plan})

	guards := policy.NewEngine(nil)
	guards.AddGuard("no-side-effects", `package planwing.guard

deny contains msg if {
	input.step.side_effect
	msg := sprintf("side-effecting step %s is not allowed", [input.step.id])
}
`)
	f.coord.SetGuards(guards)

	brief := contract.TaskBrief{
		Objective:       "notify someone",
		RequiredOutputs: map[string]contract.Schema{"receipt": {Type: "string"}},
	}
	res, err := f.coord.ExecuteTask(context.Background(), brief)
	require.Error(t, err)
	assert.Equal(t, TaskStatusEscalated, res.Status)
	require.Len(t, res.Escalations, 1)
	assert.Contains(t, res.Escalations[0].Reason, "guard denied")
	assert.False(t, ran.Load())
}
