/*
Copyright © 2025 Joseph Goksu josephgoksu@gmail.com
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/josephgoksu/PlanWing/internal/contract"
	"github.com/josephgoksu/PlanWing/internal/engine"
	"github.com/josephgoksu/PlanWing/internal/planner"
	"github.com/josephgoksu/PlanWing/internal/ui"
)

var (
	runObjective    string
	runInputs       []string
	runOutputs      []string
	runCostLimit    float64
	runLatencyLimit float64
	runJSON         bool
)

var runCmd = &cobra.Command{
	Use:   "run [plan.yaml]",
	Short: "Plan and execute a task",
	Long: `Execute a task end to end: plan, run each step under its contract,
and record every decision in the ledger.

With a plan file argument the steps are pinned as written. Without one,
the planner resolves the required outputs against the capability registry:

  planwing run --objective "compute totals" --input a=2 --input b=3 --output sum:number
  planwing run examples/arith.yaml --input a=2 --input b=3`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		brief := contract.TaskBrief{
			Objective:   runObjective,
			Constraints: contract.Constraints{CostUSD: runCostLimit, LatencySec: runLatencyLimit},
		}

		inputs, err := parseInputs(runInputs)
		if err != nil {
			return err
		}
		brief.Inputs = inputs

		outputs, err := parseOutputs(runOutputs)
		if err != nil {
			return err
		}
		brief.RequiredOutputs = outputs

		var strategy planner.Strategy
		if len(args) == 1 {
			f, err := planner.ReadPlanFile(args[0])
			if err != nil {
				return err
			}
			plan, err := f.ToPlan("")
			if err != nil {
				return err
			}
			if brief.Objective == "" {
				brief.Objective = f.Objective
			}
			if len(brief.RequiredOutputs) == 0 {
				brief.RequiredOutputs = terminalOutputs(plan)
			}
			strategy = planner.NewFixed(plan)
		} else {
			if brief.Objective == "" {
				return fmt.Errorf("either a plan file or --objective is required")
			}
			if len(brief.RequiredOutputs) == 0 {
				return fmt.Errorf("at least one --output name:type is required")
			}
			strategy = planner.NewDependencyPlanner()
		}

		app, err := NewApp(strategy)
		if err != nil {
			return err
		}
		defer func() { _ = app.Close() }()

		ctx := cmd.Context()
		app.StartRetrospect(ctx)

		result, runErr := app.Coordinator.ExecuteTask(ctx, brief)
		if result.PlanID != "" {
			app.WaitForRetrospect(result.PlanID, 3*time.Second)
		}
		app.DrainRetrospect()

		if runJSON {
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			fmt.Println(string(out))
		} else {
			printResult(result)
		}
		if runErr != nil && result.Status == "" {
			return runErr
		}
		if result.Status != engine.TaskStatusCompleted {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runObjective, "objective", "", "what the task should accomplish")
	runCmd.Flags().StringArrayVar(&runInputs, "input", nil, "task input as key=value (value parsed as JSON, else string)")
	runCmd.Flags().StringArrayVar(&runOutputs, "output", nil, "required output as name:type")
	runCmd.Flags().Float64Var(&runCostLimit, "cost-limit", 0, "total spend ceiling in USD (0 = policy default)")
	runCmd.Flags().Float64Var(&runLatencyLimit, "latency-limit", 0, "wall-clock ceiling in seconds (0 = policy default)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "emit the result as JSON")
}

// parseInputs turns key=value pairs into brief inputs. Values are decoded
// as JSON when they parse, so --input a=2 yields a number and --input
// name=alice a string.
func parseInputs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	inputs := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, raw, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --input %q: want key=value", p)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		inputs[key] = v
	}
	return inputs, nil
}

func parseOutputs(pairs []string) (map[string]contract.Schema, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	outputs := make(map[string]contract.Schema, len(pairs))
	for _, p := range pairs {
		name, typ, ok := strings.Cut(p, ":")
		if !ok || name == "" || typ == "" {
			return nil, fmt.Errorf("invalid --output %q: want name:type", p)
		}
		outputs[name] = contract.Schema{Type: typ}
	}
	return outputs, nil
}

// terminalOutputs derives the required outputs of a pinned plan: everything
// produced by steps no other step depends on.
func terminalOutputs(p *contract.Plan) map[string]contract.Schema {
	depended := make(map[string]bool)
	for _, s := range p.Steps {
		for _, d := range s.DependsOn {
			depended[d] = true
		}
	}
	out := make(map[string]contract.Schema)
	for _, s := range p.Steps {
		if depended[s.ID] {
			continue
		}
		for name, schema := range s.Produces {
			out[name] = schema
		}
	}
	return out
}

func printResult(r engine.TaskResult) {
	fmt.Printf("%s %s\n", ui.StyleTitle.Render("Task"), r.BriefID)
	fmt.Printf("%s %s v%d\n", ui.StyleSubtle.Render("Plan"), r.PlanID, r.PlanVersion)
	fmt.Printf("%s %s\n", ui.StyleSubtle.Render("Status"), ui.StatusStyle(string(r.Status)).Render(string(r.Status)))
	fmt.Printf("%s $%.4f\n", ui.StyleSubtle.Render("Cost"), r.CostUSD)

	if len(r.Outputs) > 0 {
		fmt.Println(ui.StyleSectionTitle.Render("Outputs"))
		names := make([]string, 0, len(r.Outputs))
		for n := range r.Outputs {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			val, _ := json.Marshal(r.Outputs[n])
			line := fmt.Sprintf("  %s = %s", n, val)
			if addr, ok := r.Artifacts[n]; ok {
				line += "  " + ui.StyleAddress.Render(ui.ShortAddress(addr))
			}
			fmt.Println(line)
		}
	}

	for _, esc := range r.Escalations {
		fmt.Printf("%s [%s] %s\n", ui.StyleError.Render("Escalation"), esc.Severity, esc.Reason)
	}
	if r.Err != "" {
		fmt.Println(ui.StyleError.Render("Error: " + r.Err))
	}
	if viper.GetBool("verbose") && len(r.Trail) > 0 {
		fmt.Println(ui.RenderTrail(r.Trail))
	}
}
