// ABOUTME: token command: mints a signed JWT for a visitor, agent or admin
// ABOUTME: Uses the configured auth.jwt_secret so the running server accepts it

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/switchboard/internal/auth"
)

var (
	tokenID   string
	tokenRole string
	tokenName string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate an access token",
	Long: `Generate a signed access token for connecting to the websocket endpoint.

Examples:
  switchboard token --id visitor-42 --role visitor
  switchboard token --id agent-1 --role agent --name "Alice" --ttl 8h`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenID, "id", "", "identity ID (required)")
	tokenCmd.Flags().StringVarP(&tokenRole, "role", "r", string(auth.RoleVisitor), "role: visitor, agent or admin")
	tokenCmd.Flags().StringVarP(&tokenName, "name", "n", "", "display name")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("id")
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	token, err := mintToken([]byte(cfg.Auth.JWTSecret), auth.Identity{
		ID:   tokenID,
		Role: auth.Role(tokenRole),
		Name: tokenName,
	}, tokenTTL)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func mintToken(secret []byte, id auth.Identity, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be positive, got %s", ttl)
	}
	verifier, err := auth.NewJWTVerifier(secret)
	if err != nil {
		return "", fmt.Errorf("creating verifier: %w", err)
	}
	token, err := verifier.Generate(id, ttl)
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return token, nil
}
