package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/google/uuid"
	"github.com/oncokb/backend/internal/models"
	"github.com/oncokb/backend/internal/services"
	"github.com/oncokb/backend/pkg/logger"
	"github.com/oncokb/backend/pkg/utils"
	"gorm.io/gorm"
)

const (
	currentUserKey = "currentUser"
	apiTokenKey    = "apiToken"
)

type AuthMiddleware struct {
	DB     *gorm.DB
	Tokens *services.TokenService
	Stats  *services.TokenStatsService
	Clock  services.Clock
}

func NewAuthMiddleware(db *gorm.DB, tokens *services.TokenService, stats *services.TokenStatsService) *AuthMiddleware {
	return &AuthMiddleware{
		DB:     db,
		Tokens: tokens,
		Stats:  stats,
		Clock:  services.SystemClock{},
	}
}

// CORS takes a comma separated origin list. Loopback aliases of localhost
// origins are added so the dev frontend works on either name.
func CORS(allowedOrigins string) fiber.Handler {
	origins := []string{}
	for _, origin := range strings.Split(allowedOrigins, ",") {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "" {
			continue
		}
		origins = append(origins, origin)
		if strings.Contains(origin, "localhost") {
			origins = append(origins, strings.Replace(origin, "localhost", "127.0.0.1", 1))
		}
	}
	return cors.New(cors.Config{
		AllowOrigins: strings.Join(dedupe(origins), ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
	})
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		result = append(result, v)
	}
	return result
}

func bearerToken(c *fiber.Ctx) (string, bool) {
	authHeader := c.Get("Authorization")
	tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
	if tokenString == authHeader || tokenString == "" {
		return "", false
	}
	return tokenString, true
}

func (a *AuthMiddleware) RequireAuth(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		logger.Warn("auth_missing_header", map[string]interface{}{
			"ip":   c.IP(),
			"path": c.Path(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "missing authorization header")
	}

	tokenString, ok := bearerToken(c)
	if !ok {
		logger.Warn("auth_invalid_format", map[string]interface{}{
			"ip":          c.IP(),
			"path":        c.Path(),
			"auth_header": authHeader[:min(len(authHeader), 20)] + "...",
		})
		return utils.Error(c, fiber.StatusUnauthorized, "invalid authorization format")
	}

	if value, err := uuid.Parse(tokenString); err == nil {
		return a.authenticateAPIToken(c, value)
	}
	return a.authenticateJWT(c, tokenString)
}

func (a *AuthMiddleware) authenticateJWT(c *fiber.Ctx, tokenString string) error {
	claims, err := utils.ValidateToken(tokenString)
	if err != nil {
		logger.Warn("jwt_validation_failed", map[string]interface{}{
			"ip":    c.IP(),
			"path":  c.Path(),
			"error": err.Error(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "invalid or expired token")
	}

	var user models.User
	if err := a.DB.First(&user, "id = ?", claims.UserID).Error; err != nil {
		logger.Warn("jwt_user_not_found", map[string]interface{}{
			"ip":      c.IP(),
			"path":    c.Path(),
			"user_id": claims.UserID.String(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "user not found")
	}
	if !user.Activated {
		return utils.Error(c, fiber.StatusUnauthorized, "user account is not activated")
	}

	setUser(c, &user)
	return c.Next()
}

// authenticateAPIToken accepts an unexpired token of an activated user and
// records the access for token statistics.
func (a *AuthMiddleware) authenticateAPIToken(c *fiber.Ctx, value uuid.UUID) error {
	cached, err := a.Tokens.Authenticate(c.UserContext(), value)
	if err != nil {
		logger.Warn("api_token_rejected", map[string]interface{}{
			"ip":    c.IP(),
			"path":  c.Path(),
			"error": err.Error(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "invalid or expired API token")
	}

	var user models.User
	if err := a.DB.First(&user, "id = ?", cached.UserID).Error; err != nil {
		return utils.Error(c, fiber.StatusUnauthorized, "user not found")
	}
	if !user.Activated {
		logger.Warn("api_token_user_inactive", map[string]interface{}{
			"ip":       c.IP(),
			"path":     c.Path(),
			"token_id": cached.TokenID.String(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "user account is not activated")
	}

	if a.Stats != nil {
		a.Stats.RecordAsync(services.TokenAccess{
			TokenID:  cached.TokenID,
			AccessIP: c.IP(),
			Resource: c.Path(),
			At:       a.Clock.Now(),
		})
	}

	setUser(c, &user)
	c.Locals(apiTokenKey, cached)
	return c.Next()
}

func setUser(c *fiber.Ctx, user *models.User) {
	c.Locals(currentUserKey, user)
	c.Locals("userID", user.ID.String())
}

// OptionalAuth attaches a session user when a valid JWT is present and
// otherwise lets the request through anonymously.
func (a *AuthMiddleware) OptionalAuth(c *fiber.Ctx) error {
	tokenString, ok := bearerToken(c)
	if !ok {
		return c.Next()
	}

	claims, err := utils.ValidateToken(tokenString)
	if err != nil {
		return c.Next()
	}

	var user models.User
	if err := a.DB.First(&user, "id = ?", claims.UserID).Error; err != nil {
		return c.Next()
	}

	setUser(c, &user)
	return c.Next()
}

func AdminOnly(c *fiber.Ctx) error {
	user := GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	if user.Role != models.UserRoleAdmin {
		return utils.Error(c, fiber.StatusForbidden, "admin access required")
	}
	return c.Next()
}

func GetCurrentUser(c *fiber.Ctx) *models.User {
	user, ok := c.Locals(currentUserKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}

// GetAPIToken returns the API token the request authenticated with, or nil
// for session requests.
func GetAPIToken(c *fiber.Ctx) *services.CachedToken {
	token, ok := c.Locals(apiTokenKey).(*services.CachedToken)
	if !ok {
		return nil
	}
	return token
}
