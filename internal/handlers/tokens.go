package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/oncokb/backend/internal/middleware"
	"github.com/oncokb/backend/internal/models"
	"github.com/oncokb/backend/internal/services"
	"github.com/oncokb/backend/pkg/utils"
)

type TokensHandler struct {
	Tokens *services.TokenService
	Audit  *services.AuditService
}

func NewTokensHandler(tokens *services.TokenService, audit *services.AuditService) *TokensHandler {
	return &TokensHandler{Tokens: tokens, Audit: audit}
}

// List returns every token of the current user, expired ones included, so the
// account page can show why a new token cannot be created. ?valid=true
// narrows the list to tokens that still authenticate.
func (h *TokensHandler) List(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	list := h.Tokens.ListTokens
	if c.QueryBool("valid") {
		list = h.Tokens.ListValidTokens
	}
	tokens, err := list(c.UserContext(), currentUser.ID)
	if err != nil {
		return serviceError(c, err, "failed listing tokens")
	}
	return utils.Success(c, fiber.StatusOK, tokens)
}

func (h *TokensHandler) Create(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	token, err := h.Tokens.CreateToken(c.UserContext(), currentUser)
	if err != nil {
		return serviceError(c, err, "failed creating token")
	}

	audit(h.Audit, c, services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       "token.create",
		ResourceType: models.AuditResourceToken,
		ResourceID:   &token.ID,
		Details: map[string]interface{}{
			"expiration": token.Expiration,
			"renewable":  token.Renewable,
		},
	})

	return utils.Success(c, fiber.StatusCreated, token)
}

func (h *TokensHandler) Delete(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	tokenID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid token ID")
	}

	if err := h.Tokens.DeleteToken(c.UserContext(), tokenID, currentUser); err != nil {
		return serviceError(c, err, "failed deleting token")
	}

	audit(h.Audit, c, services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       "token.delete",
		ResourceType: models.AuditResourceToken,
		ResourceID:   &tokenID,
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "token deleted"})
}

// Expire is the admin path for revoking a token without touching its siblings.
func (h *TokensHandler) Expire(c *fiber.Ctx) error {
	tokenID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid token ID")
	}

	token, err := h.Tokens.ExpireToken(c.UserContext(), tokenID)
	if err != nil {
		return serviceError(c, err, "failed expiring token")
	}

	admin := middleware.GetCurrentUser(c)
	audit(h.Audit, c, services.AuditEntry{
		UserID:       &admin.ID,
		Action:       "token.expire",
		ResourceType: models.AuditResourceToken,
		ResourceID:   &token.ID,
		Details: map[string]interface{}{
			"owner": token.UserID.String(),
		},
	})

	return utils.Success(c, fiber.StatusOK, token)
}
