package ctl

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oncokb/backend/internal/models"
	"github.com/oncokb/backend/internal/output"
	"github.com/spf13/cobra"
)

var (
	flagTokenDays         int
	flagTokenNonRenewable bool
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage API tokens",
}

var tokenListCmd = &cobra.Command{
	Use:   "list <login>",
	Short: "List a user's tokens, expired ones included",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := env.Users.FindByLogin(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("loading %s: %w", args[0], err)
		}
		tokens, err := env.Tokens.ListTokens(cmd.Context(), user.ID)
		if err != nil {
			return fmt.Errorf("listing tokens: %w", err)
		}

		if flagJSON {
			output.JSON(cmd.OutOrStdout(), tokens)
			return nil
		}
		output.TokenTable(cmd.OutOrStdout(), tokens, env.Clock.Now())
		return nil
	},
}

var tokenCreateCmd = &cobra.Command{
	Use:   "create <login>",
	Short: "Issue a token for a user",
	Long: `Issue a token for a user. Without --days the token follows the usual
rules: a fresh validity period, or at least the lifetime of the user's
existing token, which is then wound down.

  oncokbctl token create jdoe
  oncokbctl token create jdoe --days 30 --non-renewable`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := env.Users.FindByLogin(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("loading %s: %w", args[0], err)
		}

		var token *models.Token
		if flagTokenDays > 0 {
			expiration := env.Clock.Now().Add(time.Duration(flagTokenDays) * 24 * time.Hour)
			token, err = env.Tokens.CreateTokenWith(cmd.Context(), user, expiration, !flagTokenNonRenewable)
		} else {
			token, err = env.Tokens.CreateToken(cmd.Context(), user)
		}
		if err != nil {
			return fmt.Errorf("creating token: %w", err)
		}

		if flagJSON {
			output.JSON(cmd.OutOrStdout(), token)
			return nil
		}
		output.TokenTable(cmd.OutOrStdout(), []models.Token{*token}, env.Clock.Now())
		return nil
	},
}

var tokenExpireCmd = &cobra.Command{
	Use:   "expire <token-id>",
	Short: "Expire a token immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid token ID %q", args[0])
		}
		if _, err := env.Tokens.ExpireToken(cmd.Context(), id); err != nil {
			return fmt.Errorf("expiring token: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Token %s expired.\n", id)
		return nil
	},
}

func init() {
	tokenCreateCmd.Flags().IntVar(&flagTokenDays, "days", 0, "Fixed validity in days")
	tokenCreateCmd.Flags().BoolVar(&flagTokenNonRenewable, "non-renewable", false, "With --days, mark the token as non-renewable")

	tokenCmd.AddCommand(tokenListCmd, tokenCreateCmd, tokenExpireCmd)
	rootCmd.AddCommand(tokenCmd)
}
