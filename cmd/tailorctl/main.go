package main

import (
	"fmt"
	"os"

	"github.com/jogardn/bespoke-orders/internal/app"
	"github.com/jogardn/bespoke-orders/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "tailorctl",
		Short:   "Operator tooling for the bespoke order service",
		Version: Version,
	}

	rootCmd.AddCommand(sheetCmd())
	rootCmd.AddCommand(ordersCmd())
	rootCmd.AddCommand(signCmd())
	rootCmd.AddCommand(dlqCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// load returns the service configuration with a logger that writes to
// stderr so command output stays clean.
func load() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := app.NewLogger(cfg.LogLevel)
	logger.SetOutput(os.Stderr)
	return cfg, logger, nil
}
