package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/oncokb/backend/internal/middleware"
)

type Handlers struct {
	Account    *AccountHandler
	Tokens     *TokensHandler
	Users      *UsersHandler
	Companies  *CompaniesHandler
	Usage      *UsageHandler
	TokenStats *TokenStatsHandler
	Audit      *AuditHandler
	Slack      *SlackHandler
}

func RegisterRoutes(app *fiber.App, h Handlers, auth *middleware.AuthMiddleware) {
	app.Get("/health", Health)

	api := app.Group("/api")
	api.Get("/version", GetVersion)

	api.Post("/register", h.Account.Register)
	api.Get("/activate", h.Account.Activate)
	api.Post("/authenticate", h.Account.Authenticate)
	api.Post("/slack", h.Slack.Interaction)

	publicAccount := api.Group("/account")
	publicAccount.Post("/reset-password/init", h.Account.ResetPasswordInit)
	publicAccount.Post("/reset-password/finish", h.Account.ResetPasswordFinish)
	publicAccount.Post("/resend-verification", h.Account.ResendVerification)
	publicAccount.Get("/active-trial/info", h.Account.TrialInfo)
	publicAccount.Post("/active-trial/finish", h.Account.TrialFinish)
	publicAccount.Post("/active-trial/init", auth.RequireAuth, middleware.AdminOnly, h.Users.InitiateTrial)

	account := api.Group("/account", auth.RequireAuth)
	account.Get("/", h.Account.Me)
	account.Post("/", h.Account.UpdateMe)
	account.Post("/change-password", h.Account.ChangePassword)
	account.Get("/tokens", h.Tokens.List)
	account.Post("/tokens", h.Tokens.Create)
	account.Delete("/tokens/:id", h.Tokens.Delete)
	account.Get("/usage", h.Usage.Mine)

	userRoutes := api.Group("/users", auth.RequireAuth, middleware.AdminOnly)
	userRoutes.Get("/", h.Users.List)
	userRoutes.Get("/:login", h.Users.Get)
	userRoutes.Put("/:login", h.Users.Update)
	userRoutes.Post("/:login/approve", h.Users.Approve)
	userRoutes.Post("/:login/renewal", h.Users.Renewal)
	userRoutes.Post("/:login/trial", h.Users.InitiateTrial)
	userRoutes.Post("/:login/reset-key", h.Users.ResetKey)
	userRoutes.Get("/:login/tokens", h.Users.ListTokens)
	userRoutes.Post("/:login/tokens", h.Users.CreateToken)

	api.Post("/tokens/:id/expire", auth.RequireAuth, middleware.AdminOnly, h.Tokens.Expire)

	companyRoutes := api.Group("/companies", auth.RequireAuth, middleware.AdminOnly)
	companyRoutes.Get("/", h.Companies.List)
	companyRoutes.Post("/", h.Companies.Create)
	companyRoutes.Get("/:id", h.Companies.Get)
	companyRoutes.Put("/:id", h.Companies.Update)
	companyRoutes.Delete("/:id", h.Companies.Delete)
	companyRoutes.Get("/:id/users", h.Companies.Members)
	companyRoutes.Get("/:id/service-account", h.Companies.ServiceAccount)
	companyRoutes.Post("/:id/service-account", h.Companies.CreateServiceAccount)
	companyRoutes.Delete("/:id/service-account", h.Companies.DeleteServiceAccount)
	companyRoutes.Get("/:id/service-account/tokens", h.Companies.ServiceAccountTokens)
	companyRoutes.Post("/:id/service-account/tokens", h.Companies.CreateServiceAccountToken)

	usageRoutes := api.Group("/usage", auth.RequireAuth, middleware.AdminOnly)
	usageRoutes.Get("/users/:id", h.Usage.User)
	usageRoutes.Get("/summary/users", h.Usage.UsersOverview)
	usageRoutes.Get("/summary/resources", h.Usage.Resources)
	usageRoutes.Get("/resources", h.Usage.ResourceDetail)

	statsRoutes := api.Group("/token-stats", auth.RequireAuth, middleware.AdminOnly)
	statsRoutes.Get("/", h.TokenStats.List)
	statsRoutes.Get("/usage", h.TokenStats.UsageCount)

	auditRoutes := api.Group("/audit-log", auth.RequireAuth, middleware.AdminOnly)
	auditRoutes.Get("/", h.Audit.List)
	auditRoutes.Post("/export", h.Audit.Export)
}
