package main

import (
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jogardn/bespoke-orders/internal/events"
	"github.com/spf13/cobra"
)

func dlqCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect failed fulfillment tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			group, _ := cmd.Flags().GetString("group")

			cfg, logger, err := load()
			if err != nil {
				return err
			}
			if cfg.Fulfillment.Brokers == "" {
				return fmt.Errorf("KAFKA_BROKERS is not set")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Watching %s, press Ctrl+C to stop\n", events.FulfillmentDLQTopic)
			return events.WatchDeadLetters(ctx, cfg.Fulfillment.Brokers, group, func(dl events.DeadLetter) {
				printDeadLetter(out, dl)
			}, logger)
		},
	}

	cmd.Flags().StringP("group", "g", "tailorctl-dlq", "Consumer group")
	return cmd
}

func printDeadLetter(w io.Writer, dl events.DeadLetter) {
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "Offset:  %d\n", dl.Offset)
	fmt.Fprintf(w, "Order:   %s\n", dl.Key)
	if dl.Task != nil {
		fmt.Fprintf(w, "Kind:    %s\n", dl.Task.Kind)
		fmt.Fprintf(w, "Email:   %s\n", dl.Task.Order.CustomerInfo.Email)
		fmt.Fprintf(w, "Payment: %s\n", dl.Task.PaymentID)
	} else {
		fmt.Fprintf(w, "Payload: %s\n", dl.Raw)
	}
	if len(dl.Metadata.FailedActions) > 0 {
		fmt.Fprintf(w, "Failed:  %s\n", strings.Join(dl.Metadata.FailedActions, ", "))
	}
	if dl.Metadata.ErrorMessage != "" {
		fmt.Fprintf(w, "Error:   %s\n", dl.Metadata.ErrorMessage)
	}
}
