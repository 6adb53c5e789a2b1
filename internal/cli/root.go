// Package cli implements the payables command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mmynk/payables/internal/config"
	"github.com/mmynk/payables/pkg/logging"
)

// Set by the linker.
var (
	version = "dev"
	commit  = "none"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "payables",
	Short: "Accounts payable reconciliation for production companies",
	Long: `payables keeps the cost ledger of each production job, matches incoming
supplier invoices to the expected obligations and sends invoice requests
to counterparties.

Configuration is read from an optional TOML file, then .env, then the
environment (PAYABLES_*, LOG_LEVEL, LOG_FORMAT, REDIS_ADDR).`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")
}

// loadConfig reads the configuration and installs the logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, err
	}
	return cfg, nil
}
