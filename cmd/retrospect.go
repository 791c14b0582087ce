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

var retrospectCancel bool

var retrospectCmd = &cobra.Command{
	Use:   "retrospect <plan-id>",
	Short: "Show deferred deep-check jobs for a plan",
	Long: `List every retrospect job queued for a plan's artifacts with its
status and failure detail. --cancel drops jobs still pending, for plans
whose results are no longer needed.`,
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

		if retrospectCancel {
			n, err := app.Jobs.CancelPending(planID)
			if err != nil {
				return err
			}
			fmt.Printf("Canceled %d pending job(s) for %s\n", n, planID)
		}

		jobs, err := app.Jobs.ListByPlan(planID)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println(ui.StyleSubtle.Render("No retrospect jobs for " + planID))
			return nil
		}
		fmt.Println(ui.RenderJobs(jobs))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(retrospectCmd)
	retrospectCmd.Flags().BoolVar(&retrospectCancel, "cancel", false, "cancel jobs still pending before listing")
}
