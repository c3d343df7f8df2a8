package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/openclaw-briefing/internal/models"
)

func feedbackCmd() *cobra.Command {
	var (
		itemNumber int
		signalID   string
		topic      string
	)

	cmd := &cobra.Command{
		Use:   "feedback [user-id] [up|down|more|less]",
		Short: "Record a reaction to a briefing item, signal or topic",
		Long: "Record a reaction to the latest briefing's item (--item), a signal (--signal) " +
			"or a topic (--topic). \"more\" reinforces what the item taught as a deep dive.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, "feedback", func(ctx context.Context, a *app, _ *slog.Logger) error {
				ev := models.FeedbackEvent{
					UserID:   args[0],
					Kind:     models.FeedbackKind(args[1]),
					SignalID: signalID,
					Topic:    topic,
				}
				var item *models.BriefingItem
				if itemNumber > 0 {
					b, err := a.store.LatestBriefing(ctx, args[0])
					if err != nil {
						return err
					}
					for i := range b.Items {
						if b.Items[i].ItemNumber == itemNumber {
							item = &b.Items[i]
							break
						}
					}
					if item == nil {
						return fmt.Errorf("briefing %s has no item %d", b.ID, itemNumber)
					}
				}
				report, err := a.engine.RecordFeedback(ctx, ev, item)
				if err != nil {
					return err
				}
				return printJSON(report)
			})
		},
	}

	cmd.Flags().IntVar(&itemNumber, "item", 0, "item number in the user's latest briefing")
	cmd.Flags().StringVar(&signalID, "signal", "", "signal ID")
	cmd.Flags().StringVar(&topic, "topic", "", "topic phrase")
	return cmd
}
