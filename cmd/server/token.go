package main

import (
	"errors"
	"fmt"
	"time"

	api "mealmate/internal/controllers/http"
	"mealmate/internal/domain"

	"github.com/spf13/cobra"
)

var (
	tokenUserID uint64
	tokenEmail  string
	tokenRole   string
	tokenTTL    time.Duration
)

// tokenCmd mints a bearer token with the configured secret for local testing.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a signed API token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Auth.JWTSecret == "" {
			return errors.New("auth.jwt_secret is not set")
		}
		role := domain.Role(tokenRole)
		switch role {
		case domain.RoleCustomer, domain.RoleRestaurant, domain.RoleAdmin:
		default:
			return fmt.Errorf("unknown role %q", tokenRole)
		}

		tok, err := api.IssueToken([]byte(cfg.Auth.JWTSecret), domain.Actor{
			ID:    tokenUserID,
			Email: tokenEmail,
			Role:  role,
		}, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Uint64Var(&tokenUserID, "user", 0, "user id (required)")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "user email")
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(domain.RoleCustomer), "customer, restaurant or admin")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
}
