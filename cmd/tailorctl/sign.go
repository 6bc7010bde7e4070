package main

import (
	"errors"
	"fmt"

	"github.com/jogardn/bespoke-orders/internal/payment"
	"github.com/spf13/cobra"
)

func signCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sign [gateway-order-id] [payment-id]",
		Short: "Compute the checkout signature for a payment",
		Long: `Prints the signature the payment gateway would return for the given
order and payment, using RAZORPAY_KEY_SECRET. Useful for exercising the
verify endpoint against a staging deployment.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := load()
			if err != nil {
				return err
			}
			if cfg.Payment.KeySecret == "" {
				return errors.New("RAZORPAY_KEY_SECRET is not set")
			}
			fmt.Fprintln(cmd.OutOrStdout(), payment.Sign(cfg.Payment.KeySecret, args[0], args[1]))
			return nil
		},
	}
}
