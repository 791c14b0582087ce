/*
Copyright © 2025 Joseph Goksu josephgoksu@gmail.com
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/josephgoksu/PlanWing/internal/registry"
	"github.com/josephgoksu/PlanWing/internal/ui"
)

var capabilitiesCmd = &cobra.Command{
	Use:     "capabilities",
	Aliases: []string{"caps"},
	Short:   "List the registered capabilities",
	Long: `List every capability the planner can draw on, with its required
inputs, produced outputs, and cost estimate.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(ui.RenderCapabilities(registry.NewBuiltinRegistry().List()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(capabilitiesCmd)
}
