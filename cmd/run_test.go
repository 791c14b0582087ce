/*
Copyright © 2025 Joseph Goksu josephgoksu@gmail.com
*/
package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josephgoksu/PlanWing/internal/contract"
)

func TestParseInputsDecodesJSONValues(t *testing.T) {
	inputs, err := parseInputs([]string{"a=2", "name=alice", "flag=true", "obj={\"k\":1}"})
	require.NoError(t, err)

	assert.Equal(t, float64(2), inputs["a"])
	assert.Equal(t, "alice", inputs["name"])
	assert.Equal(t, true, inputs["flag"])
	assert.Equal(t, map[string]any{"k": float64(1)}, inputs["obj"])
}

func TestParseInputsRejectsMissingKey(t *testing.T) {
	_, err := parseInputs([]string{"novalue"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key=value")
}

func TestParseOutputs(t *testing.T) {
	outputs, err := parseOutputs([]string{"sum:number", "report:string"})
	require.NoError(t, err)
	assert.Equal(t, contract.Schema{Type: "number"}, outputs["sum"])
	assert.Equal(t, contract.Schema{Type: "string"}, outputs["report"])

	_, err = parseOutputs([]string{"sum"})
	require.Error(t, err)
}

func TestTerminalOutputsSkipsIntermediateSteps(t *testing.T) {
	p := &contract.Plan{
		Steps: []contract.PlanStep{
			{
				ID:       "step-a",
				Produces: map[string]contract.Schema{"a": {Type: "number"}},
			},
			{
				ID:        "step-b",
				DependsOn: []string{"step-a"},
				Produces:  map[string]contract.Schema{"b": {Type: "number"}},
			},
		},
	}

	out := terminalOutputs(p)
	assert.Equal(t, map[string]contract.Schema{"b": {Type: "number"}}, out)
}
