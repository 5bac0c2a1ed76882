// Package main one-off generation commands.
package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/prism/atelier/internal/provider"
	"github.com/prism/atelier/internal/task"
)

func generateCmd() *cobra.Command {
	var video bool
	var aspect string

	cmd := &cobra.Command{
		Use:   "generate [prompt...]",
		Short: "Submit a generation task",
		Long:  "Submit one image (default) or video generation and wait for the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")

			class := task.ClassImage
			if video {
				class = task.ClassVideo
			}

			req := provider.Request{Prompt: prompt}
			if aspect != "" {
				req.Params = map[string]interface{}{"aspect_ratio": aspect}
			}

			fmt.Printf("generating %s...\n", class)
			id, err := eng.Generate(cmd.Context(), class, req)
			if err != nil {
				return err
			}

			a, err := assetStore.GetByTask(cmd.Context(), id)
			if err != nil {
				return err
			}

			color.Green("✓ task %s completed", id)
			if a.Path != "" {
				fmt.Printf("  saved to %s\n", a.Path)
			}
			if a.URI != "" {
				fmt.Printf("  remote %s\n", a.URI)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&video, "video", false, "Generate a video instead of an image")
	cmd.Flags().StringVar(&aspect, "aspect", "", "Aspect ratio hint, e.g. 16:9")
	return cmd
}
