package handlers

import (
	"net/mail"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/oncokb/backend/internal/middleware"
	"github.com/oncokb/backend/internal/models"
	"github.com/oncokb/backend/internal/services"
	"github.com/oncokb/backend/pkg/logger"
	"github.com/oncokb/backend/pkg/utils"
)

type AccountHandler struct {
	Users      *services.UserService
	Activation *services.ActivationService
	Audit      *services.AuditService
}

func NewAccountHandler(users *services.UserService, activation *services.ActivationService, audit *services.AuditService) *AccountHandler {
	return &AccountHandler{Users: users, Activation: activation, Audit: audit}
}

func (h *AccountHandler) Register(c *fiber.Ctx) error {
	var req services.RegisterInput
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.Login = strings.TrimSpace(req.Login)
	req.Email = strings.TrimSpace(req.Email)
	if req.Login == "" {
		return utils.Error(c, fiber.StatusBadRequest, "login is required")
	}
	if len(req.Login) > 50 {
		return utils.Error(c, fiber.StatusBadRequest, "login must be 50 characters or less")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid email")
	}
	if strings.TrimSpace(req.FirstName) == "" || strings.TrimSpace(req.LastName) == "" {
		return utils.Error(c, fiber.StatusBadRequest, "firstName and lastName are required")
	}

	user, err := h.Users.Register(c.UserContext(), req)
	if err != nil {
		return serviceError(c, err, "failed registering user")
	}

	audit(h.Audit, c, services.AuditEntry{
		UserID:       &user.ID,
		Action:       "user.register",
		ResourceType: models.AuditResourceUser,
		ResourceID:   &user.ID,
		Details: map[string]interface{}{
			"login":       user.Login,
			"email":       user.Email,
			"licenseType": string(user.LicenseType),
		},
	})

	return utils.Success(c, fiber.StatusCreated, user)
}

type activationResponse struct {
	*services.ActivationResult
	Company string        `json:"company,omitempty"`
	Token   *models.Token `json:"token,omitempty"`
}

// Activate consumes the activation link sent by email. A mismatch is always
// reported with the same message regardless of whether the login exists.
func (h *AccountHandler) Activate(c *fiber.Ctx) error {
	login := strings.TrimSpace(c.Query("login"))
	key := strings.TrimSpace(c.Query("key"))
	if login == "" || key == "" {
		return utils.Error(c, fiber.StatusBadRequest, "login and key are required")
	}

	result, err := h.Activation.Activate(c.UserContext(), login, key)
	if err != nil {
		return serviceError(c, err, "failed activating account")
	}

	resp := activationResponse{ActivationResult: result, Token: result.Token}
	if company, ok := result.Company.(models.AssociatedCompany); ok {
		resp.Company = company.Company.Name
	}

	if !result.AlreadyProcessed {
		action := "user.activate"
		if result.Renewed {
			action = "user.renew"
		}
		audit(h.Audit, c, services.AuditEntry{
			Action:       action,
			ResourceType: models.AuditResourceUser,
			Details: map[string]interface{}{
				"login":        strings.ToLower(login),
				"approved":     result.Approved,
				"trialPending": result.TrialPending,
			},
		})
	}

	return utils.Success(c, fiber.StatusOK, resp)
}

type authenticateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *AccountHandler) Authenticate(c *fiber.Ctx) error {
	var req authenticateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		return utils.Error(c, fiber.StatusBadRequest, "username and password are required")
	}

	user, err := h.Users.Authenticate(c.UserContext(), req.Username, req.Password)
	if err != nil {
		logger.Warn("login_failed", map[string]interface{}{
			"username": strings.ToLower(strings.TrimSpace(req.Username)),
			"ip":       c.IP(),
			"reason":   err.Error(),
		})
		return serviceError(c, err, "failed authenticating")
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating token")
	}

	logger.InfoWithUser(user.ID.String(), "user_login", map[string]interface{}{
		"login": user.Login,
		"ip":    c.IP(),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"token": token, "user": user})
}

func (h *AccountHandler) Me(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	user, err := h.Users.FindByID(c.UserContext(), currentUser.ID)
	if err != nil {
		return serviceError(c, err, "failed loading account")
	}
	return utils.Success(c, fiber.StatusOK, user)
}

func (h *AccountHandler) UpdateMe(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req services.AccountUpdate
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Email != nil {
		if _, err := mail.ParseAddress(strings.TrimSpace(*req.Email)); err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid email")
		}
	}

	user, err := h.Users.UpdateAccount(c.UserContext(), currentUser, req)
	if err != nil {
		return serviceError(c, err, "failed updating account")
	}

	audit(h.Audit, c, services.AuditEntry{
		UserID:       &user.ID,
		Action:       "user.update",
		ResourceType: models.AuditResourceUser,
		ResourceID:   &user.ID,
	})

	return utils.Success(c, fiber.StatusOK, user)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *AccountHandler) ChangePassword(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req changePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.Users.ChangePassword(c.UserContext(), currentUser, req.CurrentPassword, req.NewPassword); err != nil {
		return serviceError(c, err, "failed changing password")
	}

	audit(h.Audit, c, services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       "user.password_change",
		ResourceType: models.AuditResourceUser,
		ResourceID:   &currentUser.ID,
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "password updated"})
}

type resetInitRequest struct {
	Email string `json:"email"`
}

// ResetPasswordInit answers the same way whether or not the email is known.
func (h *AccountHandler) ResetPasswordInit(c *fiber.Ctx) error {
	var req resetInitRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Email) == "" {
		return utils.Error(c, fiber.StatusBadRequest, "email is required")
	}

	if err := h.Users.RequestPasswordReset(c.UserContext(), req.Email); err != nil {
		return serviceError(c, err, "failed requesting password reset")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "if the email is registered, a reset link has been sent"})
}

type resetFinishRequest struct {
	Key         string `json:"key"`
	NewPassword string `json:"newPassword"`
}

func (h *AccountHandler) ResetPasswordFinish(c *fiber.Ctx) error {
	var req resetFinishRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Key) == "" {
		return utils.Error(c, fiber.StatusBadRequest, "key is required")
	}

	user, err := h.Users.CompletePasswordReset(c.UserContext(), strings.TrimSpace(req.Key), req.NewPassword)
	if err != nil {
		return serviceError(c, err, "failed resetting password")
	}

	audit(h.Audit, c, services.AuditEntry{
		UserID:       &user.ID,
		Action:       "user.password_reset",
		ResourceType: models.AuditResourceUser,
		ResourceID:   &user.ID,
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "password reset"})
}

type resendVerificationRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

func (h *AccountHandler) ResendVerification(c *fiber.Ctx) error {
	var req resendVerificationRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Login) == "" || req.Password == "" {
		return utils.Error(c, fiber.StatusBadRequest, "login and password are required")
	}

	if err := h.Users.ResendVerification(c.UserContext(), req.Login, req.Password); err != nil {
		return serviceError(c, err, "failed resending verification")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "verification email sent"})
}

func (h *AccountHandler) TrialInfo(c *fiber.Ctx) error {
	key := strings.TrimSpace(c.Query("key"))
	if key == "" {
		return utils.Error(c, fiber.StatusBadRequest, "key is required")
	}

	info, err := h.Users.TrialActivationInfo(c.UserContext(), key)
	if err != nil {
		return serviceError(c, err, "failed loading trial activation")
	}
	return utils.Success(c, fiber.StatusOK, info)
}

type trialFinishRequest struct {
	Key                      string `json:"key"`
	ReadAndAgreeWithTheTerms bool   `json:"readAndAgreeWithTheTerms"`
}

func (h *AccountHandler) TrialFinish(c *fiber.Ctx) error {
	var req trialFinishRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Key) == "" {
		return utils.Error(c, fiber.StatusBadRequest, "key is required")
	}

	user, token, err := h.Users.FinishTrialActivation(c.UserContext(), strings.TrimSpace(req.Key), req.ReadAndAgreeWithTheTerms)
	if err != nil {
		return serviceError(c, err, "failed finishing trial activation")
	}

	audit(h.Audit, c, services.AuditEntry{
		UserID:       &user.ID,
		Action:       "user.trial_activate",
		ResourceType: models.AuditResourceUser,
		ResourceID:   &user.ID,
		Details: map[string]interface{}{
			"expiration": token.Expiration,
		},
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"user": user, "token": token})
}
