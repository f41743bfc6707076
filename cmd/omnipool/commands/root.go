// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package commands implements the omnipool CLI.
package commands

import (
	log "github.com/luxfi/log"
	"github.com/spf13/cobra"
)

var (
	scenarioPath string
	logger       log.Logger
)

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "omnipool",
		Short:         "Simulate pooled-asset transfers across domains",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logger == nil {
				logger = log.Root()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&scenarioPath, "config", "c", "", "scenario file (YAML)")

	root.AddCommand(simulateCmd(), quoteCmd())
	return root
}
