/*
Copyright © 2025 Joseph Goksu josephgoksu@gmail.com
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/josephgoksu/PlanWing/internal/planner"
	"github.com/josephgoksu/PlanWing/internal/ui"
	"github.com/josephgoksu/PlanWing/internal/util"
)

var trailCmd = &cobra.Command{
	Use:   "trail <plan-id>",
	Short: "Show the decision trail for a plan",
	Long: `Print every recorded controller decision for a plan in order:
retries, substitutions, patches, and escalations, each with its reason.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := NewApp(planner.NewDependencyPlanner())
		if err != nil {
			return err
		}
		defer func() { _ = app.Close() }()

		planID, err := util.ResolvePlanID(cmd.Context(), app.Ledger, args[0])
		if err != nil {
			return err
		}

		events, err := app.Ledger.DecisionTrail(planID)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Println(ui.StyleSubtle.Render("No decisions recorded for " + planID))
			return nil
		}
		fmt.Println(ui.RenderTrail(events))

		escs, err := app.Ledger.Escalations(planID)
		if err != nil {
			return err
		}
		for _, e := range escs {
			fmt.Printf("%s [%s] %s\n", ui.StyleError.Render("Escalation"), e.Severity, e.Reason)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(trailCmd)
}
