package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/openclaw-briefing/internal/models"
)

func profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage reader profiles",
	}
	cmd.AddCommand(profileSetCmd(), profileGetCmd())
	return cmd
}

func profileSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set [profile.json]",
		Short: "Create or replace a profile from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, "profile set", func(ctx context.Context, a *app, logger *slog.Logger) error {
				raw, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				var p models.UserProfile
				if err := json.Unmarshal(raw, &p); err != nil {
					return fmt.Errorf("parsing %s: %w", args[0], err)
				}
				if p.UserID == "" {
					return fmt.Errorf("%s: user_id is required", args[0])
				}
				if p.CreatedAt.IsZero() {
					p.CreatedAt = time.Now().UTC()
				}
				if err := a.store.SaveProfile(ctx, p); err != nil {
					return err
				}
				logger.Info("profile saved", "user_id", p.UserID, "active", p.Active)
				return nil
			})
		},
	}
}

func profileGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [user-id]",
		Short: "Print a profile as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, "profile get", func(ctx context.Context, a *app, _ *slog.Logger) error {
				p, err := a.store.GetProfile(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
}
