// Package main live task board command.
package main

import (
	"github.com/spf13/cobra"

	"github.com/prism/atelier/internal/tui"
)

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Live task board",
		Long:  "Watch queue occupancy and task status update in place",
		RunE: func(cmd *cobra.Command, args []string) error {
			return tui.Run(eng)
		},
	}
}
