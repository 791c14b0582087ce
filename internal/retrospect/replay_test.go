package retrospect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josephgoksu/PlanWing/internal/artifact"
	"github.com/josephgoksu/PlanWing/internal/contract"
	"github.com/josephgoksu/PlanWing/internal/control"
	"github.com/josephgoksu/PlanWing/internal/ledger"
	"github.com/josephgoksu/PlanWing/internal/lineage"
	"github.com/josephgoksu/PlanWing/internal/policy"
	"github.com/josephgoksu/PlanWing/types"
)

type replayFixture struct {
	ledger *ledger.Ledger
	graph  *lineage.Graph
	mgr    *ReplayManager
	plan   *contract.Plan

	addrA, addrB, addrC string
}

// newReplayFixture builds a three-step plan where step-b consumes step-a's
// output and step-c is an independent sibling, with all three artifacts
// produced and recorded.
func newReplayFixture(t *testing.T, mutate func(p *contract.Plan)) *replayFixture {
	t.Helper()
	l, err := ledger.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	plan := &contract.Plan{
		ID:            "plan-aaa11111",
		Version:       0,
		ParentVersion: -1,
		Status:        contract.PlanStatusActive,
		BriefID:       "brief-aaa11111",
		Steps: []contract.PlanStep{
			{
				ID:       "step-a",
				Title:    "produce a",
				Contract: contract.ActionContract{StepID: "step-a", CapabilityRef: "make/a"},
				Produces: map[string]contract.Schema{"a": {Type: "string"}},
			},
			{
				ID:        "step-b",
				Title:     "derive b from a",
				Contract:  contract.ActionContract{StepID: "step-b", CapabilityRef: "make/b"},
				DependsOn: []string{"step-a"},
				Produces:  map[string]contract.Schema{"b": {Type: "string"}},
			},
			{
				ID:       "step-c",
				Title:    "produce c independently",
				Contract: contract.ActionContract{StepID: "step-c", CapabilityRef: "make/c"},
				Produces: map[string]contract.Schema{"c": {Type: "string"}},
			},
		},
		CreatedAt: time.Now().UTC(),
	}
	if mutate != nil {
		mutate(plan)
	}
	require.NoError(t, l.SavePlanVersion(plan))

	f := &replayFixture{
		ledger: l,
		graph:  lineage.NewGraph(),
		plan:   plan,
		addrA:  artifact.AddressOf([]byte(`"value-a"`)),
		addrB:  artifact.AddressOf([]byte(`"value-b"`)),
		addrC:  artifact.AddressOf([]byte(`"value-c"`)),
	}
	record := func(addr, name, stepID string, consumed []string) {
		require.NoError(t, l.RecordProvenance(artifact.Provenance{
			ArtifactAddress:   addr,
			OutputName:        name,
			StepID:            stepID,
			PlanID:            plan.ID,
			PlanVersion:       0,
			ConsumedAddresses: consumed,
			ExecutorID:        "exec-test",
			CreatedAt:         time.Now().UTC(),
		}))
	}
	record(f.addrA, "a", "step-a", nil)
	record(f.addrB, "b", "step-b", []string{f.addrA})
	record(f.addrC, "c", "step-c", nil)

	for _, addr := range []string{f.addrA, f.addrB, f.addrC} {
		f.graph.AddArtifact(addr)
	}
	require.NoError(t, f.graph.AddEdge(f.addrB, f.addrA))

	f.mgr = NewReplayManager(l, f.graph, control.NewRouter(policy.Default()))
	return f
}

func TestInvalidationCascadesToDerivedArtifacts(t *testing.T) {
	f := newReplayFixture(t, nil)

	rp, err := f.mgr.Invalidate(context.Background(), f.addrA, "recomputation mismatch")
	require.NoError(t, err)

	// a and everything derived from it, in address order.
	want := []string{f.addrA, f.addrB}
	if want[0] > want[1] {
		want[0], want[1] = want[1], want[0]
	}
	assert.Equal(t, want, rp.InvalidatedAddresses)
	assert.Equal(t, []string{"step-a", "step-b"}, rp.ReplayStepIDs)

	_, bad := f.graph.InvalidationReason(f.addrA)
	assert.True(t, bad)
	_, bad = f.graph.InvalidationReason(f.addrB)
	assert.True(t, bad)

	// The sibling never consumed a and stays valid.
	_, bad = f.graph.InvalidationReason(f.addrC)
	assert.False(t, bad)
}

func TestReplayPlanRestrictsToAffectedSteps(t *testing.T) {
	f := newReplayFixture(t, nil)

	rp, err := f.mgr.Invalidate(context.Background(), f.addrA, "recomputation mismatch")
	require.NoError(t, err)
	require.NotNil(t, rp.NewPlan)

	assert.Equal(t, 1, rp.NewPlan.Version)
	assert.Equal(t, 0, rp.NewPlan.ParentVersion)
	require.Len(t, rp.NewPlan.Steps, 2)
	_, hasC := rp.NewPlan.Step("step-c")
	assert.False(t, hasC)
	b, ok := rp.NewPlan.Step("step-b")
	require.True(t, ok)
	assert.Equal(t, []string{"step-a"}, b.DependsOn)

	// Durable handoff: v0 superseded, v1 active, both retained.
	old, err := f.ledger.GetPlan(f.plan.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, contract.PlanStatusSuperseded, old.Status)
	latest, err := f.ledger.LatestPlan(f.plan.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version)
	assert.Equal(t, contract.PlanStatusActive, latest.Status)
}

func TestInvalidateIrreversibleStepEscalates(t *testing.T) {
	f := newReplayFixture(t, func(p *contract.Plan) {
		p.Steps[1].Contract.SideEffect = true
	})

	rp, err := f.mgr.Invalidate(context.Background(), f.addrA, "recomputation mismatch")
	require.NoError(t, err)

	// step-b cannot be undone or safely re-run: it escalates instead.
	assert.Equal(t, []string{"step-a"}, rp.ReplayStepIDs)
	require.Len(t, rp.Escalations, 1)
	assert.Equal(t, policy.SeverityS1, rp.Escalations[0].Severity)
	assert.True(t, rp.Escalations[0].Irreversible)
	assert.Equal(t, "step-b", rp.Escalations[0].StepID)

	recorded, err := f.ledger.Escalations(f.plan.ID)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, "S1", recorded[0].Severity)
}

func TestInvalidateCompensatableStepReplaysAfterCompensation(t *testing.T) {
	f := newReplayFixture(t, func(p *contract.Plan) {
		p.Steps[1].Contract.SideEffect = true
		p.Steps[1].Contract.CompensationRef = "undo/b"
	})

	rp, err := f.mgr.Invalidate(context.Background(), f.addrA, "recomputation mismatch")
	require.NoError(t, err)

	assert.Equal(t, []string{"step-a", "step-b"}, rp.ReplayStepIDs)
	require.Len(t, rp.Compensations, 1)
	assert.Equal(t, Compensation{StepID: "step-b", CapabilityRef: "undo/b"}, rp.Compensations[0])
	assert.Empty(t, rp.Escalations)
}

func TestRepeatedInvalidationIsNoOp(t *testing.T) {
	f := newReplayFixture(t, nil)
	ctx := context.Background()

	_, err := f.mgr.Invalidate(ctx, f.addrA, "recomputation mismatch")
	require.NoError(t, err)

	rp, err := f.mgr.Invalidate(ctx, f.addrA, "recomputation mismatch")
	require.NoError(t, err)
	assert.Nil(t, rp.NewPlan)
	assert.Empty(t, rp.ReplayStepIDs)

	versions, err := f.ledger.ListPlanVersions(f.plan.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestCheckpointSurvivesWhenArtifactsAvoidCascade(t *testing.T) {
	f := newReplayFixture(t, nil)
	require.NoError(t, f.ledger.SaveCheckpoint(artifact.Checkpoint{
		ID:             "cp-1",
		PlanID:         f.plan.ID,
		PlanVersion:    0,
		CompletedSteps: []string{"step-c"},
		Artifacts:      map[string]string{"c": f.addrC},
		CreatedAt:      time.Now().UTC(),
	}))

	rp, err := f.mgr.Invalidate(context.Background(), f.addrA, "recomputation mismatch")
	require.NoError(t, err)
	require.NotNil(t, rp.Checkpoint)
	assert.Equal(t, "cp-1", rp.Checkpoint.ID)
}

func TestCheckpointDroppedWhenArtifactInvalidated(t *testing.T) {
	f := newReplayFixture(t, nil)
	require.NoError(t, f.ledger.SaveCheckpoint(artifact.Checkpoint{
		ID:             "cp-1",
		PlanID:         f.plan.ID,
		PlanVersion:    0,
		CompletedSteps: []string{"step-a"},
		Artifacts:      map[string]string{"a": f.addrA},
		CreatedAt:      time.Now().UTC(),
	}))

	rp, err := f.mgr.Invalidate(context.Background(), f.addrA, "recomputation mismatch")
	require.NoError(t, err)
	assert.Nil(t, rp.Checkpoint)
}

func TestInvalidateUnknownArtifact(t *testing.T) {
	f := newReplayFixture(t, nil)
	_, err := f.mgr.Invalidate(context.Background(), "deadbeef", "whatever")
	assert.ErrorIs(t, err, types.ErrNotFound)
}
