package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jogardn/bespoke-orders/internal/app"
	"github.com/jogardn/bespoke-orders/internal/export"
	"github.com/jogardn/bespoke-orders/internal/store"
	"github.com/jogardn/bespoke-orders/pkg/models"
	"github.com/spf13/cobra"
)

func ordersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Inspect and export stored orders",
	}
	cmd.AddCommand(ordersShowCmd())
	cmd.AddCommand(ordersExportCmd())
	return cmd
}

func ordersShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [order-id]",
		Short: "Print a single order as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			st, err := app.OpenStore(cmd.Context(), cfg.Store, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			order, err := st.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(order)
		},
	}
}

func ordersExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export orders to an xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")

			filter, err := listFilter(status, limit)
			if err != nil {
				return err
			}

			cfg, logger, err := load()
			if err != nil {
				return err
			}
			st, err := app.OpenStore(cmd.Context(), cfg.Store, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			orders, err := st.List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", out, err)
			}
			if err := export.WriteOrders(f, orders, time.Now()); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d orders to %s\n", len(orders), out)
			return nil
		},
	}

	cmd.Flags().StringP("out", "o", "orders.xlsx", "Output file")
	cmd.Flags().StringP("status", "s", "", "Only export orders in this status")
	cmd.Flags().IntP("limit", "n", 0, "Maximum orders (0 for all)")

	return cmd
}

func listFilter(status string, limit int) (store.ListFilter, error) {
	filter := store.ListFilter{Limit: limit}
	if limit < 0 {
		return filter, fmt.Errorf("limit must not be negative")
	}
	switch s := models.OrderStatus(status); s {
	case "":
	case models.StatusPendingPayment, models.StatusPaid, models.StatusPaymentFailed:
		filter.Status = s
	default:
		return filter, fmt.Errorf("unknown status %q", status)
	}
	return filter, nil
}
