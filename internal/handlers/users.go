package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/oncokb/backend/internal/middleware"
	"github.com/oncokb/backend/internal/models"
	"github.com/oncokb/backend/internal/services"
	"github.com/oncokb/backend/pkg/logger"
	"github.com/oncokb/backend/pkg/utils"
)

// UsersHandler serves the admin user management routes. Users are addressed
// by login.
type UsersHandler struct {
	Users  *services.UserService
	Tokens *services.TokenService
	Audit  *services.AuditService
}

func NewUsersHandler(users *services.UserService, tokens *services.TokenService, audit *services.AuditService) *UsersHandler {
	return &UsersHandler{Users: users, Tokens: tokens, Audit: audit}
}

var userSortColumns = map[string]string{
	"login":       "login",
	"email":       "email",
	"createdAt":   "created_at",
	"licenseType": "license_type",
	"activated":   "activated",
}

func (h *UsersHandler) List(c *fiber.Ctx) error {
	p := utils.ParsePagination(c)
	order := utils.ParseSort(c, userSortColumns, "created_at DESC")

	users, total, err := h.Users.List(c.UserContext(), p, order)
	if err != nil {
		return serviceError(c, err, "failed listing users")
	}
	return utils.Paginated(c, users, p.Page, p.Limit, total)
}

func (h *UsersHandler) Get(c *fiber.Ctx) error {
	user, err := h.Users.FindByLogin(c.UserContext(), c.Params("login"))
	if err != nil {
		return serviceError(c, err, "failed loading user")
	}
	return utils.Success(c, fiber.StatusOK, user)
}

func (h *UsersHandler) Update(c *fiber.Ctx) error {
	user, err := h.Users.FindByLogin(c.UserContext(), c.Params("login"))
	if err != nil {
		return serviceError(c, err, "failed loading user")
	}

	var req services.AdminUserUpdate
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updated, err := h.Users.AdminUpdate(c.UserContext(), user.ID, req)
	if err != nil {
		return serviceError(c, err, "failed updating user")
	}

	admin := middleware.GetCurrentUser(c)
	details := map[string]interface{}{"login": updated.Login}
	if req.Role != nil {
		details["role"] = string(*req.Role)
	}
	if req.Activated != nil {
		details["activated"] = *req.Activated
	}
	if req.Approved != nil {
		details["approved"] = *req.Approved
	}
	if req.LicenseType != nil {
		details["licenseType"] = string(*req.LicenseType)
	}
	if req.CompanyID != nil {
		details["companyID"] = *req.CompanyID
	}
	audit(h.Audit, c, services.AuditEntry{
		UserID:       &admin.ID,
		Action:       "user.admin_update",
		ResourceType: models.AuditResourceUser,
		ResourceID:   &updated.ID,
		Details:      details,
	})

	return utils.Success(c, fiber.StatusOK, updated)
}

func (h *UsersHandler) Approve(c *fiber.Ctx) error {
	user, token, err := h.Users.ApproveUser(c.UserContext(), c.Params("login"))
	if err != nil {
		return serviceError(c, err, "failed approving user")
	}

	admin := middleware.GetCurrentUser(c)
	audit(h.Audit, c, services.AuditEntry{
		UserID:       &admin.ID,
		Action:       "user.approve",
		ResourceType: models.AuditResourceUser,
		ResourceID:   &user.ID,
		Details: map[string]interface{}{
			"login":        user.Login,
			"tokenCreated": token != nil,
		},
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"user": user, "token": token})
}

// Renewal asks the user to confirm their email before the account expires.
func (h *UsersHandler) Renewal(c *fiber.Ctx) error {
	login := strings.ToLower(strings.TrimSpace(c.Params("login")))
	if err := h.Users.RequestRenewal(c.UserContext(), login); err != nil {
		return serviceError(c, err, "failed requesting renewal")
	}

	admin := middleware.GetCurrentUser(c)
	audit(h.Audit, c, services.AuditEntry{
		UserID:       &admin.ID,
		Action:       "user.renewal_request",
		ResourceType: models.AuditResourceUser,
		Details:      map[string]interface{}{"login": login},
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "renewal email sent"})
}

func (h *UsersHandler) InitiateTrial(c *fiber.Ctx) error {
	login := c.Params("login")
	if login == "" {
		login = c.Query("login")
	}

	user, err := h.Users.InitiateTrialActivation(c.UserContext(), login)
	if err != nil {
		return serviceError(c, err, "failed initiating trial activation")
	}

	admin := middleware.GetCurrentUser(c)
	audit(h.Audit, c, services.AuditEntry{
		UserID:       &admin.ID,
		Action:       "user.trial_initiate",
		ResourceType: models.AuditResourceUser,
		ResourceID:   &user.ID,
		Details:      map[string]interface{}{"login": user.Login},
	})

	return utils.Success(c, fiber.StatusOK, user)
}

// ResetKey hands an admin a reset key to pass on to a user who cannot receive
// mail.
func (h *UsersHandler) ResetKey(c *fiber.Ctx) error {
	key, err := h.Users.GenerateResetKey(c.UserContext(), c.Params("login"))
	if err != nil {
		return serviceError(c, err, "failed generating reset key")
	}

	admin := middleware.GetCurrentUser(c)
	logger.WarnWithUser(admin.ID.String(), "reset_key_generated", map[string]interface{}{
		"login": c.Params("login"),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"resetKey": key})
}

func (h *UsersHandler) ListTokens(c *fiber.Ctx) error {
	user, err := h.Users.FindByLogin(c.UserContext(), c.Params("login"))
	if err != nil {
		return serviceError(c, err, "failed loading user")
	}

	tokens, err := h.Tokens.ListTokens(c.UserContext(), user.ID)
	if err != nil {
		return serviceError(c, err, "failed listing tokens")
	}
	return utils.Success(c, fiber.StatusOK, tokens)
}

func (h *UsersHandler) CreateToken(c *fiber.Ctx) error {
	user, err := h.Users.FindByLogin(c.UserContext(), c.Params("login"))
	if err != nil {
		return serviceError(c, err, "failed loading user")
	}

	token, err := h.Tokens.CreateToken(c.UserContext(), user)
	if err != nil {
		return serviceError(c, err, "failed creating token")
	}

	admin := middleware.GetCurrentUser(c)
	audit(h.Audit, c, services.AuditEntry{
		UserID:       &admin.ID,
		Action:       "token.create",
		ResourceType: models.AuditResourceToken,
		ResourceID:   &token.ID,
		Details: map[string]interface{}{
			"owner":      user.Login,
			"expiration": token.Expiration,
		},
	})

	return utils.Success(c, fiber.StatusCreated, token)
}
