package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/oncokb/backend/internal/config"
	"github.com/oncokb/backend/internal/database"
	"github.com/oncokb/backend/internal/middleware"
	"github.com/oncokb/backend/internal/models"
	"github.com/oncokb/backend/internal/services"
	"github.com/oncokb/backend/pkg/logger"
	"github.com/oncokb/backend/pkg/utils"
	"gorm.io/gorm"
)

const testSlackSecret = "slack-test-secret"

type testEnv struct {
	app      *fiber.App
	db       *gorm.DB
	notifier *recordingNotifier
	stats    *services.TokenStatsService
}

type recordingNotifier struct {
	mu       sync.Mutex
	reviews  []string
	approved []string
	trials   []string
	mails    []models.MailType
	keys     []string
}

func (n *recordingNotifier) NotifyManualReviewNeeded(user models.User, _ models.CompanyCandidate) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reviews = append(n.reviews, user.Login)
}

func (n *recordingNotifier) NotifyApproved(user models.User, _ models.CompanyAssociation) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.approved = append(n.approved, user.Login)
}

func (n *recordingNotifier) NotifyTrialActivation(user models.User, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.trials = append(n.trials, user.Login)
}

func (n *recordingNotifier) SendMail(_ models.User, mailType models.MailType, data map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mails = append(n.mails, mailType)
	if key, ok := data["Key"].(string); ok {
		n.keys = append(n.keys, key)
	}
}

func (n *recordingNotifier) approvedLogins() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.approved...)
}

func (n *recordingNotifier) lastKey(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.keys) == 0 {
		t.Fatal("expected a mail carrying a key")
	}
	return n.keys[len(n.keys)-1]
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger.Init()
	utils.ConfigureJWT("test-secret", 24)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed migrating: %v", err)
	}

	tokenConfig := config.TokenConfig{ValidityDays: 180, TrialValidityDays: 90, WindDownDays: 7}
	notifier := &recordingNotifier{}

	tokenService := services.NewTokenService(db, nil, tokenConfig, nil)
	statsService := services.NewTokenStatsService(db, 100)
	t.Cleanup(statsService.Close)
	userService := services.NewUserService(db, tokenService, notifier, nil, tokenConfig)
	activationService := services.NewActivationService(db, tokenService, notifier, nil, tokenConfig)
	companyService := services.NewCompanyService(db, tokenService)
	usageService := services.NewUsageService(db, nil, nil)
	auditService := services.NewAuditService(db, nil)
	t.Cleanup(auditService.Close)

	h := Handlers{
		Account:    NewAccountHandler(userService, activationService, auditService),
		Tokens:     NewTokensHandler(tokenService, auditService),
		Users:      NewUsersHandler(userService, tokenService, auditService),
		Companies:  NewCompaniesHandler(companyService, auditService),
		Usage:      NewUsageHandler(usageService),
		TokenStats: NewTokenStatsHandler(statsService),
		Audit:      NewAuditHandler(auditService),
		Slack:      NewSlackHandler(userService, auditService, testSlackSecret),
	}
	authMiddleware := middleware.NewAuthMiddleware(db, tokenService, statsService)

	app := fiber.New()
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())
	RegisterRoutes(app, h, authMiddleware)

	return &testEnv{app: app, db: db, notifier: notifier, stats: statsService}
}

func createTestUser(t *testing.T, db *gorm.DB, login, password string, role models.UserRole) (*models.User, string) {
	t.Helper()

	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	user := &models.User{
		Login:        login,
		Email:        login + "@example.org",
		PasswordHash: hash,
		FirstName:    "Test",
		LastName:     "User",
		Role:         role,
		Activated:    true,
		Approved:     true,
		LicenseType:  models.LicenseTypeAcademic,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}

	return user, token
}

func createTestToken(t *testing.T, db *gorm.DB, userID uuid.UUID, expiration time.Time) *models.Token {
	t.Helper()
	token := &models.Token{UserID: userID, Expiration: expiration, Renewable: true}
	if err := db.Create(token).Error; err != nil {
		t.Fatalf("failed creating token: %v", err)
	}
	return token
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertEnvelopeError(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["error"].(string); got != expected {
		t.Fatalf("expected error %q, got %q", expected, got)
	}
}
