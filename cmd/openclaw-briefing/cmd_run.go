package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/openclaw-briefing/internal/models"
)

func runCmd() *cobra.Command {
	var runType string

	cmd := &cobra.Command{
		Use:   "run [user-id]",
		Short: "Run the briefing pipeline for one user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			a, err := newApp(ctx, logger)
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			defer a.Close()

			orch, err := a.newOrchestrator(ctx)
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			run, runErr := orch.RunForUser(ctx, args[0], models.RunType(runType))
			if run != nil {
				if err := printJSON(run); err != nil {
					return err
				}
			}
			if runErr != nil {
				return fmt.Errorf("run: %w", runErr)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&runType, "type", string(models.RunTypeManual), "run type: daily, t0-seeding, retry or manual")
	return cmd
}

func batchCmd() *cobra.Command {
	var runType string

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run the pipeline for every active user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			a, err := newApp(ctx, logger)
			if err != nil {
				return fmt.Errorf("batch: %w", err)
			}
			defer a.Close()

			orch, err := a.newOrchestrator(ctx)
			if err != nil {
				return fmt.Errorf("batch: %w", err)
			}
			summary, err := orch.RunBatch(ctx, models.RunType(runType))
			if err != nil {
				return fmt.Errorf("batch: %w", err)
			}
			return printJSON(summary)
		},
	}

	cmd.Flags().StringVar(&runType, "type", string(models.RunTypeDaily), "run type: daily, t0-seeding, retry or manual")
	return cmd
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [user-id]",
		Short: "Pull fresh signals for one user without scoring them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			a, err := newApp(ctx, logger)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer a.Close()

			ing := a.newIngester()
			logger.Info("ingesting", "user_id", args[0], "adapters", ing.Adapters())
			report, err := ing.Ingest(ctx, args[0])
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			return printJSON(report)
		},
	}
}
