package cmd

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/fieldsync/internal/core"
	"github.com/JonMunkholm/fieldsync/internal/notify"
)

func (c *cli) webhookCmd() *cobra.Command {
	webhook := &cobra.Command{
		Use:   "webhook",
		Short: "Manage webhook subscriptions",
	}
	webhook.AddCommand(c.webhookAddCmd(), c.webhookListCmd(), c.webhookTestCmd())
	return webhook
}

func (c *cli) webhookAddCmd() *cobra.Command {
	var (
		sub    core.Subscription
		events []string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a webhook subscription",
		Long: fmt.Sprintf(`Add a webhook subscription. --events selects what it receives:
  %s`, strings.Join(core.WebhookEvents, "\n  ")),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, ev := range events {
				if !core.IsWebhookEvent(ev) {
					return fmt.Errorf("unknown event %q", ev)
				}
			}
			sub.Events = events
			sub.Active = true

			return c.withBackend(cmd.Context(), func(b Backend) error {
				created, err := b.CreateSubscription(cmd.Context(), sub)
				if err != nil {
					return fmt.Errorf("add webhook: %w", err)
				}
				out := cmd.OutOrStdout()
				printSuccess(out, "Added webhook %d (%s)", created.ID, created.Name)
				if len(events) == 0 {
					printWarning(out, "No events selected, the webhook will not be called.")
				}
				if sub.Secret == "" {
					printWarning(out, "No secret set, deliveries will be unsigned.")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&sub.Name, "name", "", "subscription name")
	cmd.Flags().StringVar(&sub.URL, "url", "", "endpoint receiving POST requests")
	cmd.Flags().StringVar(&sub.Secret, "secret", "", "HMAC-SHA256 signing secret")
	cmd.Flags().StringSliceVar(&events, "events", nil, "comma separated events, e.g. visit.created,sale.updated")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func (c *cli) webhookListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List webhook subscriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withBackend(cmd.Context(), func(b Backend) error {
				subs, err := b.ListSubscriptions(cmd.Context())
				if err != nil {
					return fmt.Errorf("list webhooks: %w", err)
				}
				if len(subs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No webhooks")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				heading.Fprintln(w, "ID\tNAME\tURL\tACTIVE\tEVENTS\tLAST STATUS\tLAST ERROR")
				for _, s := range subs {
					status := "-"
					if s.LastStatus != nil {
						status = fmt.Sprint(*s.LastStatus)
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\t%s\t%s\n",
						s.ID, s.Name, s.URL, s.Active, strings.Join(s.Events, ","), status, s.LastError)
				}
				return w.Flush()
			})
		},
	}
}

func (c *cli) webhookTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <id>",
		Short: "Send a test event to one subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return c.withBackend(cmd.Context(), func(b Backend) error {
				sub, err := b.GetSubscription(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("load webhook %d: %w", id, err)
				}

				n := notify.New(b, notify.Options{Workers: 1, Timeout: c.cfg.Webhook.Timeout})
				defer n.Close(context.Background())

				outcome, err := n.Deliver(cmd.Context(), sub, notify.NewPayload(core.Event{
					Name:      notify.TestEvent,
					Model:     "webhooks",
					RecordID:  sub.ID,
					Data:      map[string]any{"message": "This is a test webhook", "webhook": sub.Name},
					Timestamp: time.Now().UTC(),
				}))
				if err != nil {
					return err
				}
				if outcome.Error != "" {
					return fmt.Errorf("webhook %d failed: %s", id, outcome.Error)
				}
				printSuccess(cmd.OutOrStdout(), "Webhook %d answered %d", id, outcome.Status)
				return nil
			})
		},
	}
}
