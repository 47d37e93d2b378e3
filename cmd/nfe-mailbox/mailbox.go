package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func labelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "labels",
		Short: "List mailbox labels and their ids",
		Long: `List the labels of the configured mailbox.

GMAIL_LABEL_IN_QUEUE and GMAIL_LABEL_DONE take label ids, not display names.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			labels, err := a.Mailbox.ListLabels(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTYPE")
			for _, l := range labels {
				fmt.Fprintf(w, "%s\t%s\t%s\n", l.ID, l.Name, l.Type)
			}
			return w.Flush()
		},
	}
}

func watchCmd() *cobra.Command {
	var topic string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Publish mailbox changes on the in-queue label to Pub/Sub",
		Long: `Register a Gmail watch for the in-queue label.

Gmail expires watches after seven days; run this daily from a scheduler.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if topic == "" {
				topic = a.Config.PubSubTopic
			}
			if topic == "" {
				return fmt.Errorf("a topic is required: pass --topic or set PUBSUB_TOPIC")
			}
			n, expiration, err := a.Mailbox.Watch(cmd.Context(), topic, a.Config.LabelInQueue)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Watching label %s on %s (historyId %d, expires %s)\n",
				a.Config.LabelInQueue, topic, n.HistoryID, time.UnixMilli(expiration).UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "Pub/Sub topic, projects/<project>/topics/<topic>")
	return cmd
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop mailbox push notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Mailbox.Stop(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Mailbox notifications stopped.")
			return nil
		},
	}
}
