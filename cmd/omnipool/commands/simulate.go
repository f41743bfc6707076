// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// simulate --config <file>: build the scenario's domains and run its steps.
func simulateCmd() *cobra.Command {
	var noReport bool
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the steps of a scenario and print the resulting state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if scenarioPath == "" {
				return fmt.Errorf("scenario required (--config)")
			}
			s, err := LoadScenario(scenarioPath)
			if err != nil {
				return err
			}
			w, err := newWorld(s, logger)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if err := w.run(cmd.Context(), out); err != nil {
				return err
			}
			if noReport {
				return nil
			}
			return w.report(out)
		},
	}
	cmd.Flags().BoolVar(&noReport, "no-report", false, "skip the final state report")
	return cmd
}
