package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func knowledgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Inspect and maintain a user's knowledge graph",
	}
	cmd.AddCommand(
		knowledgePruneCmd(),
		knowledgeScanGapsCmd(),
		knowledgeSeedCmd(),
		knowledgeCheckCmd(),
		knowledgeListCmd(),
	)
	return cmd
}

// withApp opens the app for a knowledge subcommand and closes it afterwards.
func withApp(cmd *cobra.Command, name string, fn func(ctx context.Context, a *app, logger *slog.Logger) error) error {
	logger := newLogger()
	ctx := cmd.Context()
	a, err := newApp(ctx, logger)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	defer a.Close()
	if err := fn(ctx, a, logger); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func knowledgePruneCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "prune [user-id]",
		Short: "Remove stale low-confidence generic entities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, "knowledge prune", func(ctx context.Context, a *app, _ *slog.Logger) error {
				report, err := a.engine.Prune(ctx, args[0], dryRun)
				if err != nil {
					return err
				}
				return printJSON(report)
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview changes without applying")
	return cmd
}

func knowledgeScanGapsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan-gaps [user-id]",
		Short: "Ask the model for blind spots and add research queries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, "knowledge scan-gaps", func(ctx context.Context, a *app, _ *slog.Logger) error {
				report, err := a.engine.ScanGaps(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(report)
			})
		},
	}
}

func knowledgeSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed [user-id]",
		Short: "Seed the graph from the user's profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, "knowledge seed", func(ctx context.Context, a *app, _ *slog.Logger) error {
				profile, err := a.store.GetProfile(ctx, args[0])
				if err != nil {
					return err
				}
				report, err := a.engine.Seed(ctx, *profile)
				if err != nil {
					return err
				}
				return printJSON(report)
			})
		},
	}
}

func knowledgeCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [user-id] [entity-name]",
		Short: "Report whether the user already knows an entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, "knowledge check", func(ctx context.Context, a *app, _ *slog.Logger) error {
				res, err := a.engine.Check(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
}

func knowledgeListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [user-id]",
		Short: "List the user's known entities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, "knowledge list", func(ctx context.Context, a *app, _ *slog.Logger) error {
				entities, err := a.engine.Entities(ctx, args[0])
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tTYPE\tCONFIDENCE\tSOURCE\tLAST REINFORCED")
				for i := range entities {
					e := entities[i]
					fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\t%s\n", e.Name, e.Type, e.Confidence, e.Source, e.LastReinforced.Format("2006-01-02"))
				}
				if err := w.Flush(); err != nil {
					return err
				}
				fmt.Printf("\n%d entities\n", len(entities))
				return nil
			})
		},
	}
}
