package main

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/lojatextil/erp/internal/infrastructure/auth"
	"github.com/lojatextil/erp/internal/infrastructure/config"
	"github.com/lojatextil/erp/internal/interfaces/http/middleware"
	"github.com/spf13/cobra"
)

// defaultPermissions is every operator permission except the override
func defaultPermissions() []string {
	return slices.DeleteFunc(slices.Clone(middleware.OperatorPermissions), func(p string) bool {
		return p == middleware.PermissionPaymentOverride
	})
}

func tokenCmd() *cobra.Command {
	var (
		userID      string
		username    string
		permissions []string
		ttl         time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator access token for the API",
		Long: `Mint an operator access token signed with jwt.secret.

Without --permission the token carries every operator permission except the
status override.

Examples:
  reconcile token --username caixa01
  reconcile token --username gerente --permission sales:payment:refresh --permission sales:payment:override --ttl 1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			id := uuid.New()
			if userID != "" {
				if id, err = uuid.Parse(userID); err != nil {
					return fmt.Errorf("invalid user id %q", userID)
				}
			}
			if len(permissions) == 0 {
				permissions = defaultPermissions()
			}
			for _, p := range permissions {
				if !slices.Contains(middleware.OperatorPermissions, p) {
					return fmt.Errorf("unknown permission %q", p)
				}
			}

			token, expiresAt, err := auth.NewJWTService(cfg.JWT).GenerateAccessToken(auth.GenerateTokenInput{
				UserID:      id,
				Username:    username,
				Permissions: permissions,
				TTL:         ttl,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"access_token": token,
				"token_type":   "Bearer",
				"expires_at":   expiresAt.Format(time.RFC3339),
				"user_id":      id.String(),
				"permissions":  permissions,
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "subject user id (random when empty)")
	cmd.Flags().StringVar(&username, "username", "operator", "username claim")
	cmd.Flags().StringSliceVar(&permissions, "permission", nil, "permission to grant (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default jwt.access_token_expiration)")
	return cmd
}
