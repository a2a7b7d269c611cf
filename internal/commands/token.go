package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"evalgo.org/stratum/internal/auth"
	"evalgo.org/stratum/internal/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage authentication tokens",
	Long:  `Generate JWT tokens and API keys that grant access to projects.`,
}

var generateProjectTokenCmd = &cobra.Command{
	Use:   "project <subject> <project>...",
	Short: "Generate a JWT token scoped to projects",
	Long: `Generate a JWT token for the given subject.

The token is signed with security.jwt_secret from the configuration file
and carries the projects it may act on.

Examples:
  # Token for the CI pipeline on one project
  stratum token project ci /projects/p1

  # Token for an operator on two projects, valid for 30 days
  stratum token project alice /projects/p1 /projects/p2 --expiration 720h`,
	Args: cobra.MinimumNArgs(2),
	RunE: runGenerateProjectToken,
}

var generateAPIKeyCmd = &cobra.Command{
	Use:   "apikey <project>",
	Short: "Generate an API key for a project",
	Long: `Generate a random API key and the configuration entry that accepts it.

Only the bcrypt hash is stored in the configuration; the key itself is
shown once.`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerateAPIKey,
}

var (
	tokenExpiration time.Duration
	tokenSecret     string
)

func init() {
	generateProjectTokenCmd.Flags().DurationVar(&tokenExpiration, "expiration", 0, "token lifetime (default: security.jwt_expiration)")
	generateProjectTokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "signing secret (default: from config file)")

	tokenCmd.AddCommand(generateProjectTokenCmd)
	tokenCmd.AddCommand(generateAPIKeyCmd)
}

func runGenerateProjectToken(cmd *cobra.Command, args []string) error {
	subject, projects := args[0], args[1:]

	tokenCfg := config.Config{}
	if cfg != nil {
		tokenCfg.Security = cfg.Security
	}
	if tokenSecret != "" {
		tokenCfg.Security.JWTSecret = tokenSecret
	}
	if tokenExpiration > 0 {
		tokenCfg.Security.JWTExpiration = tokenExpiration
	}
	if tokenCfg.Security.JWTSecret == "" {
		return fmt.Errorf(`jwt_secret not found in config file and --secret not provided

Please either:
  1. Add to your config.yaml:
     security:
       jwt_secret: your-secret-here

  2. Or use the --secret flag:
     stratum token project %s %s --secret "your-secret-here"`, subject, projects[0])
	}

	token, err := auth.NewJWTService(&tokenCfg).GenerateToken(subject, projects)
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Subject:    %s\n", subject)
	fmt.Fprintf(out, "Projects:   %v\n", projects)
	fmt.Fprintf(out, "Expiration: %s\n", tokenCfg.Security.JWTExpiration)
	fmt.Fprintf(out, "\nToken:\n%s\n\n", token)
	fmt.Fprintf(out, "Use it with the CLI:\n")
	fmt.Fprintf(out, "  client:\n")
	fmt.Fprintf(out, "    token: %s\n", token)
	return nil
}

func runGenerateAPIKey(cmd *cobra.Command, args []string) error {
	project := args[0]

	key, err := auth.GenerateAPIKey()
	if err != nil {
		return err
	}
	hash, err := auth.HashAPIKey(key)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "API key for %s:\n%s\n\n", project, key)
	fmt.Fprintf(out, "Add this to your server configuration:\n")
	fmt.Fprintf(out, "  security:\n")
	fmt.Fprintf(out, "    api_key_hashes:\n")
	fmt.Fprintf(out, "      - \"%s=%s\"\n\n", project, hash)
	fmt.Fprintf(out, "⚠️  The key is not stored anywhere. Keep it secure.\n")
	return nil
}
