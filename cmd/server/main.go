package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/oncokb/backend/internal/config"
	"github.com/oncokb/backend/internal/database"
	"github.com/oncokb/backend/internal/handlers"
	"github.com/oncokb/backend/internal/middleware"
	"github.com/oncokb/backend/internal/services"
	"github.com/oncokb/backend/internal/storage"
	"github.com/oncokb/backend/pkg/logger"
	"github.com/oncokb/backend/pkg/utils"
)

func main() {
	logger.Init()

	cfg := config.Load()
	logger.Configure(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.Redis)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	tokenCache := services.NewTokenCache(redisClient, cfg.Redis.TokenCacheTTL)

	auditStorage, err := storage.NewS3Client(cfg.Storage, cfg.Storage.Bucket)
	if err != nil {
		log.Fatalf("storage initialization failed: %v", err)
	}
	if err := auditStorage.EnsureBucket(context.Background()); err != nil {
		log.Fatalf("failed ensuring storage bucket: %v", err)
	}
	usageStorage, err := storage.NewS3Client(cfg.Storage, cfg.Storage.UsageBucket)
	if err != nil {
		log.Fatalf("usage storage initialization failed: %v", err)
	}

	var mailer services.Mailer
	if cfg.Mail.Enabled() {
		mailer = services.NewSMTPMailer(cfg.Mail)
	} else {
		logger.Warn("smtp_disabled", map[string]interface{}{
			"reason": "SMTP_HOST not set, mails are rendered and recorded only",
		})
	}
	mailService, err := services.NewMailService(db, mailer, nil, cfg.Mail.From, cfg.Server.FrontendURL, cfg.Application)
	if err != nil {
		log.Fatalf("mail templates failed: %v", err)
	}
	slackService := services.NewSlackService(cfg.Slack, cfg.Server.FrontendURL, cfg.Application)
	notificationService := services.NewNotificationService(
		slackService,
		mailService,
		cfg.Application,
		cfg.Token.TrialValidityDays,
		cfg.Notifications.QueueSize,
	)

	tokenService := services.NewTokenService(db, nil, cfg.Token, tokenCache)
	statsService := services.NewTokenStatsService(db, cfg.Notifications.QueueSize)
	userService := services.NewUserService(db, tokenService, notificationService, nil, cfg.Token)
	activationService := services.NewActivationService(db, tokenService, notificationService, nil, cfg.Token)
	companyService := services.NewCompanyService(db, tokenService)
	usageService := services.NewUsageService(db, usageStorage, nil)
	auditService := services.NewAuditService(db, auditStorage)

	exportCtx, stopExporter := context.WithCancel(context.Background())
	auditService.StartExporter(exportCtx, cfg.Audit.ExportInterval)

	h := handlers.Handlers{
		Account:    handlers.NewAccountHandler(userService, activationService, auditService),
		Tokens:     handlers.NewTokensHandler(tokenService, auditService),
		Users:      handlers.NewUsersHandler(userService, tokenService, auditService),
		Companies:  handlers.NewCompaniesHandler(companyService, auditService),
		Usage:      handlers.NewUsageHandler(usageService),
		TokenStats: handlers.NewTokenStatsHandler(statsService),
		Audit:      handlers.NewAuditHandler(auditService),
		Slack:      handlers.NewSlackHandler(userService, auditService, cfg.Slack.SigningSecret),
	}
	authMiddleware := middleware.NewAuthMiddleware(db, tokenService, statsService)

	app := fiber.New()
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())
	handlers.RegisterRoutes(app, h, authMiddleware)

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":        cfg.Server.Port,
		"address":     listenAddr,
		"version":     handlers.Version,
		"token_cache": tokenCache != nil,
		"slack":       slackService.Enabled(),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}

	stopExporter()
	notificationService.Close()
	auditService.Close()
	statsService.Close()
	if redisClient != nil {
		_ = redisClient.Close()
	}
}
