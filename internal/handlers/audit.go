package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/oncokb/backend/internal/services"
	"github.com/oncokb/backend/pkg/utils"
)

type AuditHandler struct {
	Audit *services.AuditService
}

func NewAuditHandler(audit *services.AuditService) *AuditHandler {
	return &AuditHandler{Audit: audit}
}

func (h *AuditHandler) List(c *fiber.Ctx) error {
	filter := services.AuditFilter{
		Action:       strings.TrimSpace(c.Query("action")),
		ResourceType: strings.TrimSpace(c.Query("resourceType")),
	}
	if raw := strings.TrimSpace(c.Query("userId")); raw != "" {
		id, err := parseUUID(raw)
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid userId")
		}
		filter.UserID = &id
	}

	p := utils.ParsePagination(c)
	logs, total, err := h.Audit.List(c.UserContext(), filter, p)
	if err != nil {
		return serviceError(c, err, "failed loading audit logs")
	}
	return utils.Paginated(c, logs, p.Page, p.Limit, total)
}

// Export pushes pending audit rows to object storage immediately instead of
// waiting for the next scheduled run.
func (h *AuditHandler) Export(c *fiber.Ctx) error {
	count, err := h.Audit.Export(c.UserContext())
	if err != nil {
		return serviceError(c, err, "failed exporting audit logs")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"exported": count})
}
