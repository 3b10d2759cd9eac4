package ctl

import (
	"fmt"
	"os"

	"github.com/oncokb/backend/internal/config"
	"github.com/oncokb/backend/internal/database"
	"github.com/oncokb/backend/internal/services"
	"github.com/oncokb/backend/pkg/logger"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	flagJSON bool

	env *environment
)

// environment holds the services the commands run against.
type environment struct {
	DB        *gorm.DB
	Tokens    *services.TokenService
	Users     *services.UserService
	Companies *services.CompanyService
	Clock     services.Clock
	close     func()
}

// buildEnvironment connects to the configured database and wires the services
// the same way the server does. Notifications are flushed on close.
var buildEnvironment = func(cfg *config.Config) (*environment, error) {
	db, err := database.Connect(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	var mailer services.Mailer
	if cfg.Mail.Enabled() {
		mailer = services.NewSMTPMailer(cfg.Mail)
	}
	mailService, err := services.NewMailService(db, mailer, nil, cfg.Mail.From, cfg.Server.FrontendURL, cfg.Application)
	if err != nil {
		return nil, err
	}
	notifier := services.NewNotificationService(
		services.NewSlackService(cfg.Slack, cfg.Server.FrontendURL, cfg.Application),
		mailService,
		cfg.Application,
		cfg.Token.TrialValidityDays,
		cfg.Notifications.QueueSize,
	)

	tokens := services.NewTokenService(db, nil, cfg.Token, nil)
	return &environment{
		DB:        db,
		Tokens:    tokens,
		Users:     services.NewUserService(db, tokens, notifier, nil, cfg.Token),
		Companies: services.NewCompanyService(db, tokens),
		Clock:     services.SystemClock{},
		close:     notifier.Close,
	}, nil
}

var rootCmd = &cobra.Command{
	Use:   "oncokbctl",
	Short: "OncoKB account administration",
	Long: `oncokbctl manages OncoKB accounts, companies and API tokens directly
against the account database.

  oncokbctl migrate                       Apply schema migrations
  oncokbctl company list                  List companies
  oncokbctl user approve jdoe             Approve a pending account
  oncokbctl token create jdoe             Issue an API token`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		cfg := config.Load()
		logger.Configure(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: os.Stderr})

		var err error
		env, err = buildEnvironment(cfg)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Output as JSON")
}

// Execute runs the root command. The environment is closed whether or not the
// command failed so queued notifications are flushed.
func Execute() error {
	err := rootCmd.Execute()
	closeEnvironment()
	if err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
		return err
	}
	return nil
}

func closeEnvironment() {
	if env != nil && env.close != nil {
		env.close()
	}
	env = nil
}
