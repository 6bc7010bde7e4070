package main

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/jogardn/bespoke-orders/internal/app"
	"github.com/jogardn/bespoke-orders/internal/notify"
	"github.com/spf13/cobra"
)

func sheetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sheet",
		Short: "Manage the order tracking spreadsheet",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the header row if the sheet is empty",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			sheet, err := app.NewSheet(cmd.Context(), cfg.Notify, logger)
			if err != nil {
				return err
			}
			written, err := sheet.EnsureHeaders(cmd.Context())
			if err != nil {
				return err
			}
			if written {
				fmt.Fprintln(cmd.OutOrStdout(), "Header row written")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Header row already present")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "find [order-id]",
		Short: "Print the sheet row recorded for an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			sheet, err := app.NewSheet(cmd.Context(), cfg.Notify, logger)
			if err != nil {
				return err
			}
			appender, ok := sheet.(*notify.SheetsAppender)
			if !ok {
				return errors.New("GOOGLE_SHEET_ID and GOOGLE_SERVICE_ACCOUNT_KEY must be set")
			}
			row, err := appender.FindOrder(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printRow(cmd.OutOrStdout(), row)
			return nil
		},
	})

	return cmd
}

// printRow lists cells in sheet column order, then any unknown headers.
func printRow(w io.Writer, row map[string]string) {
	seen := make(map[string]bool, len(row))
	for _, h := range notify.Headers {
		if v, ok := row[h]; ok {
			fmt.Fprintf(w, "%-24s %s\n", h+":", v)
			seen[h] = true
		}
	}
	var extra []string
	for h := range row {
		if !seen[h] {
			extra = append(extra, h)
		}
	}
	sort.Strings(extra)
	for _, h := range extra {
		fmt.Fprintf(w, "%-24s %s\n", h+":", row[h])
	}
}
