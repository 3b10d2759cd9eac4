package ctl

import (
	"fmt"

	"github.com/oncokb/backend/internal/output"
	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var userApproveCmd = &cobra.Command{
	Use:   "approve <login>",
	Short: "Approve an account and issue its first token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, token, err := env.Users.ApproveUser(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("approving %s: %w", args[0], err)
		}

		if flagJSON {
			output.JSON(cmd.OutOrStdout(), map[string]interface{}{"user": user, "token": token})
			return nil
		}
		output.UserInfo(cmd.OutOrStdout(), *user)
		if token != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Token:\t%s\n", token.Token)
		}
		return nil
	},
}

var userRenewalCmd = &cobra.Command{
	Use:   "renewal <login>",
	Short: "Mail the user a link to verify their email and extend their tokens",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := env.Users.RequestRenewal(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("requesting renewal for %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Renewal email sent to %s.\n", args[0])
		return nil
	},
}

var userResetKeyCmd = &cobra.Command{
	Use:   "reset-key <login>",
	Short: "Generate a password reset key without sending mail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := env.Users.GenerateResetKey(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("generating reset key for %s: %w", args[0], err)
		}

		if flagJSON {
			output.JSON(cmd.OutOrStdout(), map[string]string{"resetKey": key})
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

func init() {
	userCmd.AddCommand(userApproveCmd, userRenewalCmd, userResetKeyCmd)
	rootCmd.AddCommand(userCmd)
}
