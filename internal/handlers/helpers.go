package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/oncokb/backend/internal/services"
	"github.com/oncokb/backend/pkg/logger"
	"github.com/oncokb/backend/pkg/utils"
)

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(value))
}

func getRequestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestID").(string); ok {
		return id
	}
	return ""
}

var errorStatuses = []struct {
	err    error
	status int
}{
	{services.ErrTooManyTokens, fiber.StatusBadRequest},
	{services.ErrNoRenewableToken, fiber.StatusBadRequest},
	{services.ErrActivationKeyMismatch, fiber.StatusBadRequest},
	{services.ErrInvalidPasswordSize, fiber.StatusBadRequest},
	{services.ErrInvalidResetKey, fiber.StatusBadRequest},
	{services.ErrInvalidTrialKey, fiber.StatusBadRequest},
	{services.ErrTermsNotAccepted, fiber.StatusBadRequest},
	{services.ErrInvalidRole, fiber.StatusBadRequest},
	{services.ErrInvalidLicenseValue, fiber.StatusBadRequest},
	{services.ErrInvalidLicenseStatusChange, fiber.StatusBadRequest},
	{services.ErrCompanyDomainsRequired, fiber.StatusBadRequest},
	{services.ErrInvalidPassword, fiber.StatusUnauthorized},
	{services.ErrUserNotActivated, fiber.StatusUnauthorized},
	{services.ErrUnauthorizedTokenAccess, fiber.StatusForbidden},
	{services.ErrUserNotFound, fiber.StatusNotFound},
	{services.ErrTokenNotFound, fiber.StatusNotFound},
	{services.ErrCompanyNotFound, fiber.StatusNotFound},
	{services.ErrServiceAccountNotFound, fiber.StatusNotFound},
	{services.ErrLoginAlreadyUsed, fiber.StatusConflict},
	{services.ErrEmailAlreadyUsed, fiber.StatusConflict},
	{services.ErrCompanyNameTaken, fiber.StatusConflict},
	{services.ErrCompanyDomainTaken, fiber.StatusConflict},
	{services.ErrServiceAccountExists, fiber.StatusConflict},
}

// serviceError writes the envelope for an error returned by a service. Known
// business errors keep their message; anything else is logged and reported
// as fallback with a 500.
func serviceError(c *fiber.Ctx, err error, fallback string) error {
	for _, known := range errorStatuses {
		if errors.Is(err, known.err) {
			return utils.Error(c, known.status, known.err.Error())
		}
	}

	details := map[string]interface{}{
		"path":       c.Path(),
		"method":     c.Method(),
		"request_id": getRequestID(c),
	}
	if userID := logger.GetUserIDFromContext(c); userID != nil {
		logger.ErrorWithUser(*userID, "request_failed", err, details)
	} else {
		logger.Error("request_failed", err, details)
	}
	return utils.Error(c, fiber.StatusInternalServerError, fallback)
}

// audit records an entry when an audit service is configured.
func audit(a *services.AuditService, c *fiber.Ctx, entry services.AuditEntry) {
	if a == nil {
		return
	}
	entry.IPAddress = c.IP()
	entry.RequestID = getRequestID(c)
	a.LogAsync(entry)
}
