package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/oncokb/backend/internal/services"
	"github.com/oncokb/backend/pkg/utils"
)

type TokenStatsHandler struct {
	Stats *services.TokenStatsService
}

func NewTokenStatsHandler(stats *services.TokenStatsService) *TokenStatsHandler {
	return &TokenStatsHandler{Stats: stats}
}

// parseStatsFilter reads tokenId, userId, from and to. Times are RFC 3339.
func parseStatsFilter(c *fiber.Ctx) (services.TokenStatsFilter, string) {
	var filter services.TokenStatsFilter

	for _, param := range []struct {
		name   string
		target **uuid.UUID
	}{
		{"tokenId", &filter.TokenID},
		{"userId", &filter.UserID},
	} {
		raw := strings.TrimSpace(c.Query(param.name))
		if raw == "" {
			continue
		}
		id, err := parseUUID(raw)
		if err != nil {
			return filter, "invalid " + param.name
		}
		*param.target = &id
	}

	for _, param := range []struct {
		name   string
		target **time.Time
	}{
		{"from", &filter.From},
		{"to", &filter.To},
	} {
		raw := strings.TrimSpace(c.Query(param.name))
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, param.name + " must be an RFC 3339 timestamp"
		}
		t = t.UTC()
		*param.target = &t
	}

	return filter, ""
}

func (h *TokenStatsHandler) List(c *fiber.Ctx) error {
	filter, problem := parseStatsFilter(c)
	if problem != "" {
		return utils.Error(c, fiber.StatusBadRequest, problem)
	}

	p := utils.ParsePagination(c)
	stats, total, err := h.Stats.List(c.UserContext(), filter, p)
	if err != nil {
		return serviceError(c, err, "failed listing token stats")
	}
	return utils.Paginated(c, stats, p.Page, p.Limit, total)
}

func (h *TokenStatsHandler) UsageCount(c *fiber.Ctx) error {
	filter, problem := parseStatsFilter(c)
	if problem != "" {
		return utils.Error(c, fiber.StatusBadRequest, problem)
	}

	count, err := h.Stats.UsageCount(c.UserContext(), filter)
	if err != nil {
		return serviceError(c, err, "failed counting token usage")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"usageCount": count})
}
