package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mmynk/payables/internal/storage/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := sqlite.New(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		slog.Info("Database is up to date", "database", cfg.Database.Path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
