/*
Copyright © 2025 Joseph Goksu josephgoksu@gmail.com
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/josephgoksu/PlanWing/internal/planner"
	"github.com/josephgoksu/PlanWing/internal/ui"
	"github.com/josephgoksu/PlanWing/types"
)

var (
	invalidateReason string
	invalidateResume bool
)

var invalidateCmd = &cobra.Command{
	Use:   "invalidate <artifact-address>",
	Short: "Invalidate an artifact and everything derived from it",
	Long: `Mark an artifact invalid, cascade the mark through every derived
artifact, and cut a restricted plan version covering the affected steps.
With --resume the engine replays those steps immediately, running
compensations for side-effecting steps first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		address := args[0]

		app, err := NewApp(planner.NewDependencyPlanner())
		if err != nil {
			return err
		}
		defer func() { _ = app.Close() }()

		// Seed the in-memory graph from durable provenance so the cascade
		// and the idempotency guard see artifacts from earlier invocations.
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
		for _, p := range byPlan {
			app.Graph.AddArtifact(p.ArtifactAddress)
			for _, consumed := range p.ConsumedAddresses {
				app.Graph.AddArtifact(consumed)
				_ = app.Graph.AddEdge(p.ArtifactAddress, consumed)
			}
		}

		rp, err := app.Replay.Invalidate(cmd.Context(), address, invalidateReason)
		if err != nil {
			return err
		}

		fmt.Println(ui.RenderImpact(address, rp.InvalidatedAddresses))
		for _, esc := range rp.Escalations {
			fmt.Printf("%s [%s] %s\n", ui.StyleError.Render("Escalation"), esc.Severity, esc.Reason)
		}
		if rp.NewPlan == nil {
			fmt.Println(ui.StyleSubtle.Render("No replay needed."))
			return nil
		}
		fmt.Printf("%s %s v%d replays steps %v\n",
			ui.StyleTitle.Render("Replay plan"), rp.NewPlan.ID, rp.NewPlan.Version, rp.ReplayStepIDs)

		if !invalidateResume {
			return nil
		}

		brief, err := app.Ledger.GetBrief(rp.NewPlan.BriefID)
		if err != nil {
			return fmt.Errorf("load brief for replay: %w", err)
		}
		result, runErr := app.Coordinator.ResumePlan(cmd.Context(), brief, rp)
		printResult(result)
		return runErr
	},
}

func init() {
	rootCmd.AddCommand(invalidateCmd)
	invalidateCmd.Flags().StringVar(&invalidateReason, "reason", "operator invalidation", "why the artifact is being invalidated")
	invalidateCmd.Flags().BoolVar(&invalidateResume, "resume", false, "replay the affected steps immediately")
}
