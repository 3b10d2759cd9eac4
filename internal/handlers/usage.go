package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/oncokb/backend/internal/middleware"
	"github.com/oncokb/backend/internal/services"
	"github.com/oncokb/backend/pkg/utils"
)

type UsageHandler struct {
	Usage *services.UsageService
}

func NewUsageHandler(usage *services.UsageService) *UsageHandler {
	return &UsageHandler{Usage: usage}
}

// Mine returns the usage of the calling user.
func (h *UsageHandler) Mine(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	usage, err := h.Usage.UserUsage(c.UserContext(), currentUser.ID)
	if err != nil {
		return serviceError(c, err, "failed loading usage")
	}
	return utils.Success(c, fiber.StatusOK, usage)
}

func (h *UsageHandler) User(c *fiber.Ctx) error {
	userID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user ID")
	}

	usage, err := h.Usage.UserUsage(c.UserContext(), userID)
	if err != nil {
		return serviceError(c, err, "failed loading usage")
	}
	return utils.Success(c, fiber.StatusOK, usage)
}

// UsersOverview lists per-user totals, optionally restricted to one company.
func (h *UsageHandler) UsersOverview(c *fiber.Ctx) error {
	var companyID *uuid.UUID
	if raw := strings.TrimSpace(c.Query("companyId")); raw != "" {
		id, err := parseUUID(raw)
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid company ID")
		}
		companyID = &id
	}

	overview, err := h.Usage.UserOverviewUsage(c.UserContext(), companyID)
	if err != nil {
		return serviceError(c, err, "failed loading usage overview")
	}
	return utils.Success(c, fiber.StatusOK, overview)
}

func (h *UsageHandler) Resources(c *fiber.Ctx) error {
	summary, err := h.Usage.ResourceUsageSummary(c.UserContext())
	if err != nil {
		return serviceError(c, err, "failed loading resource usage")
	}
	return utils.Success(c, fiber.StatusOK, summary)
}

func (h *UsageHandler) ResourceDetail(c *fiber.Ctx) error {
	endpoint := strings.TrimSpace(c.Query("endpoint"))
	if endpoint == "" {
		return utils.Error(c, fiber.StatusBadRequest, "endpoint is required")
	}

	summary, err := h.Usage.ResourceDetail(c.UserContext(), endpoint)
	if err != nil {
		return serviceError(c, err, "failed loading resource usage")
	}
	return utils.Success(c, fiber.StatusOK, summary)
}
