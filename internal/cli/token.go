package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmynk/payables/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an access token",
	Long: `Issue a signed access token for a user or a service account.

The ingestion pipeline authenticates with a token of role "ingestion".`,
	Example: `  payables token --tenant t1 --user mailbox --role ingestion --ttl 720h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, _ := cmd.Flags().GetString("tenant")
		userID, _ := cmd.Flags().GetString("user")
		role, _ := cmd.Flags().GetString("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		p := auth.Principal{TenantID: tenantID, UserID: userID, Role: auth.Role(role)}
		if !p.Role.Valid() {
			return fmt.Errorf("unknown role %q", role)
		}
		if ttl <= 0 {
			return errors.New("ttl must be positive")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.ValidateServe(); err != nil {
			return err
		}

		token, err := auth.NewJWTManager(cfg.Auth.JWTSecret, ttl).Generate(p)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().String("tenant", "", "tenant ID (required)")
	tokenCmd.Flags().String("user", "", "user or service account ID (required)")
	tokenCmd.Flags().String("role", string(auth.RoleIngestion), "role of the principal")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	tokenCmd.MarkFlagRequired("tenant")
	tokenCmd.MarkFlagRequired("user")
}
