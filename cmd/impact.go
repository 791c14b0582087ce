/*
Copyright © 2025 Joseph Goksu josephgoksu@gmail.com
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/josephgoksu/PlanWing/internal/lineage"
	"github.com/josephgoksu/PlanWing/internal/planner"
	"github.com/josephgoksu/PlanWing/internal/ui"
	"github.com/josephgoksu/PlanWing/types"
)

var impactCmd = &cobra.Command{
	Use:   "impact <artifact-address>",
	Short: "Show what would be affected if an artifact were invalidated",
	Long: `Rebuild the lineage graph from the ledger's provenance records and
list every artifact derived from the given one. This is a dry run:
nothing is invalidated.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		address := args[0]

		app, err := NewApp(planner.NewDependencyPlanner())
		if err != nil {
			return err
		}
		defer func() { _ = app.Close() }()

		records, err := app.Ledger.ProvenanceFor(address)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return fmt.Errorf("%w: no provenance for artifact %s", types.ErrNotFound, address)
		}

		byPlan, err := app.Ledger.ProvenanceByPlan(records[0].PlanID)
		if err != nil {
			return err
		}
		graph := lineage.FromProvenance(byPlan)
		fmt.Println(ui.RenderImpact(address, graph.DownstreamOf(address)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(impactCmd)
}
