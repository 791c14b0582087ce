package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/josephgoksu/PlanWing/internal/contract"
	"github.com/josephgoksu/PlanWing/internal/ledger"
	"github.com/josephgoksu/PlanWing/internal/retrospect"
)

func TestTable_ColumnWidths(t *testing.T) {
	table := &Table{
		Headers: []string{"STEP", "CAPABILITY", "STATUS"},
		Rows: [][]string{
			{"step-a", "arith/sum", "accepted"},
			{"step-b", "text/concat-with-separator", "pending"},
		},
	}

	widths := table.ColumnWidths()

	assert.Equal(t, 6, widths[0])  // "step-a"
	assert.Equal(t, 26, widths[1]) // longest capability ref
	assert.Equal(t, 8, widths[2])  // "accepted"
}

func TestTable_ColumnWidths_MaxWidth(t *testing.T) {
	table := &Table{
		Headers:  []string{"STEP", "REASON"},
		Rows:     [][]string{{"s", "postcondition sum_is_number violated on attempt three"}},
		MaxWidth: 20,
	}

	widths := table.ColumnWidths()

	assert.Equal(t, 4, widths[0])
	assert.Equal(t, 20, widths[1]) // Capped at MaxWidth
}

func TestTable_Render(t *testing.T) {
	table := &Table{
		Headers: []string{"STEP", "ACTION"},
		Rows: [][]string{
			{"step-a", "continue"},
			{"step-b", "retry"},
		},
	}

	output := table.Render()

	assert.Contains(t, output, "STEP")
	assert.Contains(t, output, "ACTION")
	assert.Contains(t, output, "step-a")
	assert.Contains(t, output, "retry")
	assert.Contains(t, output, "─")
}

func TestTable_Render_Empty(t *testing.T) {
	table := &Table{}
	assert.Empty(t, table.Render())
}

func TestTable_Render_Truncation(t *testing.T) {
	table := &Table{
		Headers:  []string{"REASON"},
		Rows:     [][]string{{"budget_cost_exceeded after capability substitution was exhausted"}},
		MaxWidth: 16,
	}

	output := table.Render()
	assert.Contains(t, output, "…")
	assert.False(t, strings.Contains(output, "exhausted"))
}

func TestTable_ColumnWidths_StyledCells(t *testing.T) {
	// Widths follow what the terminal shows, not the escape bytes.
	table := &Table{
		Headers: []string{"ACTION"},
		Rows:    [][]string{{"\x1b[1mretry\x1b[0m"}},
	}

	widths := table.ColumnWidths()
	assert.Equal(t, 6, widths[0]) // "ACTION", not the 13-byte styled cell
}

func TestTable_Render_AlignRight(t *testing.T) {
	table := &Table{
		Headers:    []string{"EST $"},
		Rows:       [][]string{{"0.40"}},
		AlignRight: map[int]bool{0: true},
	}

	output := table.Render()
	assert.Contains(t, output, " 0.40\n")
	assert.NotContains(t, output, "0.40 \n")
}

func TestTable_Render_StyledCellNeverClipped(t *testing.T) {
	styled := "\x1b[31mbudget_cost_exceeded\x1b[0m"
	table := &Table{
		Headers:  []string{"REASON"},
		Rows:     [][]string{{styled}},
		MaxWidth: 8,
	}

	output := table.Render()
	assert.Contains(t, output, styled)
}

func TestRenderJobsShortensJobID(t *testing.T) {
	id := "f0e1d2c3-b4a5-9687-8796-a5b4c3d2e1f0"
	out := RenderJobs([]retrospect.Job{{
		ID:         id,
		CheckRef:   "deep/recompute",
		OutputName: "sum",
		StepID:     "step-arith-sum",
		Status:     retrospect.JobStatusPassed,
	}})

	assert.Contains(t, out, "f0e1d2c3")
	assert.NotContains(t, out, id)
}

func TestRenderPlanShowsStepsAndStatus(t *testing.T) {
	p := &contract.Plan{
		ID:            "plan-aaa11111",
		Version:       1,
		ParentVersion: 0,
		PatchNote:     "insert derive/b before step-arith-sum",
		Status:        contract.PlanStatusActive,
		Steps: []contract.PlanStep{
			{
				ID:       "step-derive-b-v1",
				Contract: contract.ActionContract{StepID: "step-derive-b-v1", CapabilityRef: "derive/b"},
				Produces: map[string]contract.Schema{"b": {Type: "number"}},
			},
			{
				ID:        "step-arith-sum",
				Contract:  contract.ActionContract{StepID: "step-arith-sum", CapabilityRef: "arith/sum"},
				DependsOn: []string{"step-derive-b-v1"},
				Produces:  map[string]contract.Schema{"sum": {Type: "number"}},
			},
		},
		CreatedAt: time.Now().UTC(),
	}

	out := RenderPlan(p)
	assert.Contains(t, out, "plan-aaa11111")
	assert.Contains(t, out, "v1")
	assert.Contains(t, out, "derive/b")
	assert.Contains(t, out, "insert derive/b")
}

func TestRenderTrailOrdersEvents(t *testing.T) {
	out := RenderTrail([]ledger.DecisionEvent{
		{PlanVersion: 0, StepID: "step-a", Attempt: 1, Action: "retry", Reason: "timeout"},
		{PlanVersion: 0, StepID: "step-a", Attempt: 2, Action: "continue", Reason: "accepted"},
	})
	assert.Contains(t, out, "retry")
	assert.Contains(t, out, "continue")
	assert.Less(t, strings.Index(out, "retry"), strings.Index(out, "continue"))
}

func TestShortAddress(t *testing.T) {
	long := strings.Repeat("ab", 32)
	assert.Len(t, []rune(ShortAddress(long)), 13)
	assert.Equal(t, "abc", ShortAddress("abc"))
}
