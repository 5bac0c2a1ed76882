// Package main provides the atelier CLI entrypoint.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/prism/atelier/internal/asset"
	"github.com/prism/atelier/internal/config"
	"github.com/prism/atelier/internal/engine"
	"github.com/prism/atelier/internal/provider"
	"github.com/prism/atelier/internal/task"
)

var (
	version = "0.1.0"

	eng        *engine.Engine
	taskStore  *task.Store
	assetStore *asset.Store
	gemini     *provider.Gemini
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "atelier",
		Short: "Generation task orchestrator for images and video",
		Long: `Atelier orchestrates image and video generation tasks.

Submissions flow through per-class concurrency queues (4 images,
1 video by default), every task is tracked durably, and a planning
agent turns conversational requests into confirmed generation steps.

Use 'atelier generate' for one-off submissions.
Use 'atelier chat' to converse with the planning agent.
Use 'atelier watch' for the live task board.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupEngine(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			teardown()
		},
	}

	rootCmd.AddCommand(
		generateCmd(),
		chatCmd(),
		tasksCmd(),
		watchCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		teardown()
		os.Exit(1)
	}
}

// setupEngine opens the stores, picks the provider and recovers any
// tasks a previous process left in flight.
func setupEngine(ctx context.Context) error {
	// A missing .env is fine; the environment may be set elsewhere.
	_ = godotenv.Load()

	cfg := config.Env()

	var err error
	taskStore, err = task.NewStore(cfg.DatabasePath())
	if err != nil {
		return err
	}
	assetStore, err = asset.NewStore(cfg.DatabasePath(), cfg.AssetDir())
	if err != nil {
		return err
	}

	var client provider.Client
	if cfg.GoogleAPIKey == "" {
		fmt.Fprintln(os.Stderr, "GOOGLE_API_KEY not set; using the offline mock provider")
		client = &provider.Mock{}
	} else {
		gemini, err = provider.NewGemini(ctx, cfg.GoogleAPIKey, cfg.ImageModel, cfg.VideoModel)
		if err != nil {
			return err
		}
		client = gemini
	}

	eng = engine.New(taskStore, assetStore, client, engine.Options{
		MaxImageJobs: cfg.MaxImageJobs,
		MaxVideoJobs: cfg.MaxVideoJobs,
		PollInterval: cfg.VideoPollInterval,
	})

	_, err = eng.Recover(ctx)
	return err
}

func teardown() {
	if eng != nil {
		eng.Close()
	}
	if gemini != nil {
		gemini.Close()
	}
	if assetStore != nil {
		assetStore.Close()
	}
	if taskStore != nil {
		taskStore.Close()
	}
}
