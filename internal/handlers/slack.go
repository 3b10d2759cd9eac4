package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/oncokb/backend/internal/models"
	"github.com/oncokb/backend/internal/services"
	"github.com/oncokb/backend/pkg/logger"
	"github.com/oncokb/backend/pkg/utils"
)

type SlackHandler struct {
	Users         *services.UserService
	Audit         *services.AuditService
	SigningSecret string
	Clock         services.Clock
}

func NewSlackHandler(users *services.UserService, audit *services.AuditService, signingSecret string) *SlackHandler {
	return &SlackHandler{
		Users:         users,
		Audit:         audit,
		SigningSecret: signingSecret,
		Clock:         services.SystemClock{},
	}
}

// Interaction receives Slack block actions. Only the approve button on the
// registration review message is acted on; other actions are acknowledged.
func (h *SlackHandler) Interaction(c *fiber.Ctx) error {
	err := services.VerifySlackRequest(
		h.SigningSecret,
		c.Get("X-Slack-Request-Timestamp"),
		c.Body(),
		c.Get("X-Slack-Signature"),
		h.Clock.Now(),
	)
	if err != nil {
		logger.Warn("slack_request_rejected", map[string]interface{}{
			"ip":    c.IP(),
			"error": err.Error(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, err.Error())
	}

	interaction, err := services.ParseSlackInteraction(c.FormValue("payload"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid payload")
	}

	for _, action := range interaction.Actions {
		if action.ActionID != services.SlackActionApproveUser {
			continue
		}

		user, _, err := h.Users.ApproveUser(c.UserContext(), action.Value)
		if err != nil {
			if errors.Is(err, services.ErrUserNotFound) {
				return c.Status(fiber.StatusOK).JSON(fiber.Map{"text": "User " + action.Value + " no longer exists."})
			}
			return serviceError(c, err, "failed approving user")
		}

		logger.Info("user_approved_from_slack", map[string]interface{}{
			"login":       user.Login,
			"slack_user":  interaction.User.Username,
			"slack_actor": interaction.User.ID,
		})
		audit(h.Audit, c, services.AuditEntry{
			Action:       "user.approve",
			ResourceType: models.AuditResourceUser,
			ResourceID:   &user.ID,
			Details: map[string]interface{}{
				"login":     user.Login,
				"slackUser": interaction.User.Username,
			},
		})
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"text": user.Email + " has been approved."})
	}

	return c.SendStatus(fiber.StatusOK)
}
