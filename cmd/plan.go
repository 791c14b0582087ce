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

var planAllVersions bool

var planCmd = &cobra.Command{
	Use:   "plan <plan-id>",
	Short: "Show a plan's steps and version history",
	Long: `Show the latest version of a plan, or every version with --all.
The plan ID may be abbreviated to any unique prefix.`,
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

		if planAllVersions {
			versions, err := app.Ledger.ListPlanVersions(planID)
			if err != nil {
				return err
			}
			for _, p := range versions {
				fmt.Println(ui.RenderPlan(p))
			}
			return nil
		}

		p, err := app.Ledger.LatestPlan(planID)
		if err != nil {
			return err
		}
		fmt.Println(ui.RenderPlan(p))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().BoolVar(&planAllVersions, "all", false, "show every plan version, oldest first")
}
