package main

import (
	"fmt"
	"strings"
	"time"

	"courier-console-api/internal/auth"

	"github.com/spf13/cobra"
)

var (
	tokenUserID int64
	tokenOrgID  int64
	tokenRoles  string
	tokenExpiry time.Duration
	tokenSecret string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a JWT for local testing",
	Example: `  consolectl token --user 1 --org 1 --roles owner
  consolectl token --user 1 --org 1 --roles super_admin --expiry 1h`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().Int64Var(&tokenUserID, "user", 1, "User ID")
	tokenCmd.Flags().Int64Var(&tokenOrgID, "org", 1, "Organization ID")
	tokenCmd.Flags().StringVar(&tokenRoles, "roles", auth.RoleOwner, "Comma-separated list of roles")
	tokenCmd.Flags().DurationVar(&tokenExpiry, "expiry", 24*time.Hour, "Token lifetime")
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "JWT secret (overrides JWT_SECRET)")
}

func runToken(cmd *cobra.Command, _ []string) error {
	if tokenSecret != "" {
		cfg.JWTSecret = tokenSecret
	}

	var roles []string
	for _, r := range strings.Split(tokenRoles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	for _, r := range roles {
		if r != auth.RoleSuperAdmin && !auth.IsValidRole(r) {
			return fmt.Errorf("unknown role %q", r)
		}
	}

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, tokenExpiry)
	if err := jwtManager.ValidateConfig(); err != nil {
		return err
	}
	token, err := jwtManager.GenerateToken(tokenUserID, tokenOrgID, roles)
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "User ID:  %d\n", tokenUserID)
	fmt.Fprintf(out, "Org ID:   %d\n", tokenOrgID)
	fmt.Fprintf(out, "Roles:    %s\n", strings.Join(roles, ", "))
	fmt.Fprintf(out, "Expiry:   %s\n", tokenExpiry)
	fmt.Fprintf(out, "Issuer:   %s\n", cfg.JWTIssuer)
	fmt.Fprintf(out, "Audience: %s\n\n", cfg.JWTAudience)
	fmt.Fprintln(out, token)
	fmt.Fprintf(out, "\ncurl -H \"Authorization: Bearer %s\" http://localhost:8080/dashboard\n", token)
	return nil
}
