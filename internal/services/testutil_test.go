package services

import (
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/oncokb/backend/internal/config"
	"github.com/oncokb/backend/internal/database"
	"github.com/oncokb/backend/internal/models"
	"github.com/oncokb/backend/pkg/logger"
	"gorm.io/gorm"
)

var testTokenConfig = config.TokenConfig{
	ValidityDays:      180,
	TrialValidityDays: 90,
	WindDownDays:      7,
}

const day = 24 * time.Hour

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	logger.Init()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite: %v", err)
	}

	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed migrating: %v", err)
	}
	return db
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type approvedEvent struct {
	user    models.User
	company models.CompanyAssociation
}

type mailEvent struct {
	user     models.User
	mailType models.MailType
	data     map[string]interface{}
}

type recordingNotifier struct {
	mu           sync.Mutex
	manualReview []models.CompanyCandidate
	reviewUsers  []models.User
	approved     []approvedEvent
	trialKeys    []string
	mails        []mailEvent
}

func (n *recordingNotifier) NotifyManualReviewNeeded(user models.User, candidate models.CompanyCandidate) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reviewUsers = append(n.reviewUsers, user)
	n.manualReview = append(n.manualReview, candidate)
}

func (n *recordingNotifier) NotifyApproved(user models.User, company models.CompanyAssociation) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.approved = append(n.approved, approvedEvent{user: user, company: company})
}

func (n *recordingNotifier) NotifyTrialActivation(_ models.User, trialKey string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.trialKeys = append(n.trialKeys, trialKey)
}

func (n *recordingNotifier) SendMail(user models.User, mailType models.MailType, data map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mails = append(n.mails, mailEvent{user: user, mailType: mailType, data: data})
}

func (n *recordingNotifier) lastMail(t *testing.T) mailEvent {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.mails) == 0 {
		t.Fatal("expected a mail to be sent")
	}
	return n.mails[len(n.mails)-1]
}

func createTestUser(t *testing.T, db *gorm.DB, login string, opts ...func(*models.User)) *models.User {
	t.Helper()
	user := &models.User{
		Login:        login,
		Email:        login + "@example.org",
		PasswordHash: "hash",
		FirstName:    "Test",
		LastName:     "User",
		Role:         models.UserRoleUser,
		Activated:    true,
		Approved:     true,
		LicenseType:  models.LicenseTypeAcademic,
	}
	for _, opt := range opts {
		opt(user)
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating user %s: %v", login, err)
	}
	return user
}

func createTestCompany(t *testing.T, db *gorm.DB, name string, status models.LicenseStatus, model models.LicenseModel, domains ...string) *models.Company {
	t.Helper()
	company := &models.Company{
		Name:          name,
		LicenseType:   models.LicenseTypeCommercial,
		LicenseStatus: status,
		LicenseModel:  model,
	}
	if err := db.Omit("Domains").Create(company).Error; err != nil {
		t.Fatalf("failed creating company %s: %v", name, err)
	}
	for _, d := range domains {
		domain := models.CompanyDomain{Name: d, CompanyID: company.ID}
		if err := db.Create(&domain).Error; err != nil {
			t.Fatalf("failed creating domain %s: %v", d, err)
		}
		company.Domains = append(company.Domains, domain)
	}
	return company
}

func createTestToken(t *testing.T, db *gorm.DB, userID uuid.UUID, expiration time.Time, renewable bool) *models.Token {
	t.Helper()
	token := &models.Token{UserID: userID, Expiration: expiration, Renewable: renewable}
	if err := db.Create(token).Error; err != nil {
		t.Fatalf("failed creating token: %v", err)
	}
	return token
}

func loadTokens(t *testing.T, db *gorm.DB, userID uuid.UUID) []models.Token {
	t.Helper()
	tokens, err := tokensForUser(db, userID)
	if err != nil {
		t.Fatalf("failed loading tokens: %v", err)
	}
	return tokens
}
