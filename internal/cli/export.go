package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mmynk/payables/internal/auth"
	"github.com/mmynk/payables/internal/ledger"
	"github.com/mmynk/payables/internal/lifecycle"
	"github.com/mmynk/payables/internal/models"
	"github.com/mmynk/payables/internal/report"
	"github.com/mmynk/payables/internal/storage/sqlite"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the cost items of a job as CSV or XLSX",
	Example: `  # Spreadsheet for the finance team
  payables export --tenant t1 --job 6f1c... --format xlsx

  # CSV on stdout
  payables export --tenant t1 --job 6f1c... --out -`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().String("tenant", "", "tenant ID (required)")
	exportCmd.Flags().String("job", "", "job ID (required)")
	exportCmd.Flags().String("format", "csv", "csv or xlsx")
	exportCmd.Flags().String("locale", models.LocalePtBR, "number and date locale (pt-BR or en)")
	exportCmd.Flags().String("out", "", "output file, - for stdout (default: generated file name)")
	exportCmd.MarkFlagRequired("tenant")
	exportCmd.MarkFlagRequired("job")
}

func runExport(cmd *cobra.Command, args []string) error {
	tenantID, _ := cmd.Flags().GetString("tenant")
	jobID, _ := cmd.Flags().GetString("job")
	formatStr, _ := cmd.Flags().GetString("format")
	locale, _ := cmd.Flags().GetString("locale")
	out, _ := cmd.Flags().GetString("out")

	format, err := report.ParseFormat(formatStr)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := ledger.NewService(store, lifecycle.NewController(store))
	table, err := svc.Export(context.Background(), auth.System(tenantID), jobID, locale)
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if out != "-" {
		if out == "" {
			out = table.FileName(format)
		}
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", out, err)
		}
		defer f.Close()
		w = f
	}

	if err := report.Write(w, table, format); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	if out != "-" {
		slog.Info("Export written", "file", out, "rows", len(table.Rows))
	}
	return nil
}
