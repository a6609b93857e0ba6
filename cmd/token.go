package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/watchpost/internal/auth"
	"github.com/kozaktomas/watchpost/internal/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage API tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a signed API token",
	Long: `Issue an HS256 token signed with API_JWT_SECRET.

Roles:
  viewer    read registry, history and live events
  camera    viewer + submit observations
  operator  camera + manage identities and cooldowns

The subject is used as the default observation source for camera tokens.

Examples:
  watchpost token issue --role camera --subject lobby-cam
  watchpost token issue --role operator --subject alice --ttl 8h`,
	RunE: runTokenIssue,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenIssueCmd)

	tokenIssueCmd.Flags().String("role", string(auth.RoleViewer), "Token role (viewer, camera, operator)")
	tokenIssueCmd.Flags().String("subject", "", "Token subject, e.g. camera or user name")
	tokenIssueCmd.Flags().Duration("ttl", 0, "Token lifetime (overrides API_TOKEN_TTL_HOURS)")
	tokenIssueCmd.Flags().Bool("json", false, "Output as JSON")
}

// IssuedToken is the output of token issue.
type IssuedToken struct {
	Token     string    `json:"token"`
	Subject   string    `json:"subject"`
	Role      auth.Role `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

func runTokenIssue(cmd *cobra.Command, args []string) error {
	subject := mustGetString(cmd, "subject")
	if subject == "" {
		return errors.New("--subject is required")
	}
	role, err := auth.ParseRole(mustGetString(cmd, "role"))
	if err != nil {
		return err
	}

	cfg := config.Load()
	if cfg.Web.JWTSecret == "" {
		return errors.New("API_JWT_SECRET environment variable is required")
	}
	ttl := cfg.Web.TokenTTL
	if flagTTL := mustGetDuration(cmd, "ttl"); flagTTL > 0 {
		ttl = flagTTL
	}

	tokens, err := auth.NewManager(cfg.Web.JWTSecret, ttl)
	if err != nil {
		return err
	}
	token, expires, err := tokens.IssueToken(subject, role)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}

	issued := IssuedToken{Token: token, Subject: subject, Role: role, ExpiresAt: expires}
	if mustGetBool(cmd, "json") {
		return outputJSON(issued)
	}
	fmt.Println(token)
	fmt.Printf("\nrole %s, subject %s, expires %s\n", role, subject, expires.Format(time.RFC3339))
	return nil
}
