package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/oncokb/backend/internal/config"
	"github.com/oncokb/backend/internal/models"
	"github.com/oncokb/backend/pkg/logger"
	"github.com/oncokb/backend/pkg/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ActivationResult struct {
	Activated        bool                      `json:"activated"`
	Approved         bool                      `json:"approved"`
	Renewed          bool                      `json:"renewed"`
	AlreadyProcessed bool                      `json:"alreadyProcessed"`
	TrialPending     bool                      `json:"trialPending"`
	Company          models.CompanyAssociation `json:"-"`
	Token            *models.Token             `json:"-"`
}

type ActivationService struct {
	DB       *gorm.DB
	Tokens   *TokenService
	Notifier Notifier
	Clock    Clock
	Config   config.TokenConfig
}

func NewActivationService(db *gorm.DB, tokens *TokenService, notifier Notifier, clock Clock, cfg config.TokenConfig) *ActivationService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &ActivationService{
		DB:       db,
		Tokens:   tokens,
		Notifier: notifier,
		Clock:    clock,
		Config:   cfg,
	}
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}

// FindCompanyCandidate matches the email domain exactly, ignoring case,
// against the registered company domains.
func (s *ActivationService) FindCompanyCandidate(ctx context.Context, email string) (models.CompanyCandidate, error) {
	return findCompanyCandidate(s.DB.WithContext(ctx), email)
}

func findCompanyCandidate(tx *gorm.DB, email string) (models.CompanyCandidate, error) {
	none := models.CompanyCandidate{CanAssociate: false, Match: models.NoCompany{}}

	domain := emailDomain(email)
	if domain == "" {
		return none, nil
	}

	var match models.CompanyDomain
	if err := tx.Where("name = ?", domain).First(&match).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return none, nil
		}
		return none, err
	}

	var company models.Company
	if err := tx.Preload("Domains").First(&company, "id = ?", match.CompanyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return none, nil
		}
		return none, err
	}

	canAssociate := company.LicenseModel == models.LicenseModelFull &&
		company.LicenseStatus != models.LicenseStatusExpired

	return models.CompanyCandidate{
		CanAssociate: canAssociate,
		Match:        models.AssociatedCompany{Company: company},
	}, nil
}

// Activate consumes an activation key. The first activation decides between
// automatic approval and manual review; later activations of an already
// activated account only extend its tokens. Notifications go out after the
// transaction commits.
func (s *ActivationService) Activate(ctx context.Context, login, key string) (*ActivationResult, error) {
	result := &ActivationResult{Company: models.NoCompany{}}
	var pending []func()
	var evicted evictions

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Preload("Details").
			Where("login = ?", strings.ToLower(strings.TrimSpace(login))).
			First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrActivationKeyMismatch
			}
			return err
		}

		if user.ActivationKey == nil {
			result.Activated = user.Activated
			result.AlreadyProcessed = true
			result.Company = user.CompanyAssociation()
			return nil
		}
		if subtle.ConstantTimeCompare([]byte(*user.ActivationKey), []byte(key)) != 1 {
			return ErrActivationKeyMismatch
		}

		firstActivation := !user.Activated
		if err := tx.Model(&models.User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
			"activated":      true,
			"activation_key": nil,
		}).Error; err != nil {
			return err
		}
		user.Activated = true
		user.ActivationKey = nil
		result.Activated = true

		if firstActivation {
			return s.decideApproval(tx, &user, result, &pending, &evicted)
		}

		result.Renewed = true
		result.Company = user.CompanyAssociation()
		return s.Tokens.extendTokensTx(tx, user.ID, s.Config.Validity())
	})
	if err != nil {
		return nil, err
	}

	s.Tokens.Cache.Evict(ctx, evicted...)
	logger.Info("user_activated", map[string]interface{}{
		"login":    login,
		"approved": result.Approved,
		"renewed":  result.Renewed,
		"repeat":   result.AlreadyProcessed,
	})
	for _, notify := range pending {
		notify()
	}
	return result, nil
}

func (s *ActivationService) decideApproval(tx *gorm.DB, user *models.User, result *ActivationResult, pending *[]func(), evicted *evictions) error {
	candidate, err := findCompanyCandidate(tx, user.Email)
	if err != nil {
		return err
	}

	company, matched := candidate.MatchedCompany()
	if !matched || !candidate.CanAssociate {
		snapshot := *user
		*pending = append(*pending, func() {
			s.Notifier.NotifyManualReviewNeeded(snapshot, candidate)
		})
		return nil
	}

	if err := tx.Model(&models.User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
		"company_id":   company.ID,
		"license_type": company.LicenseType,
	}).Error; err != nil {
		return err
	}
	user.CompanyID = &company.ID
	user.Company = &company
	user.LicenseType = company.LicenseType
	result.Company = models.AssociatedCompany{Company: company}

	if company.LicenseStatus == models.LicenseStatusTrial {
		trialKey, err := startTrialActivation(tx, user, s.Clock.Now())
		if err != nil {
			return err
		}
		result.TrialPending = true
		snapshot := *user
		*pending = append(*pending, func() {
			s.Notifier.NotifyTrialActivation(snapshot, trialKey)
		})
		return nil
	}

	if err := tx.Model(&models.User{}).Where("id = ?", user.ID).Update("approved", true).Error; err != nil {
		return err
	}
	user.Approved = true

	token, err := s.Tokens.createTokenTx(tx, user.ID, nil, evicted)
	if err != nil {
		return err
	}
	result.Approved = true
	result.Token = token

	snapshot := *user
	association := result.Company
	*pending = append(*pending, func() {
		s.Notifier.NotifyApproved(snapshot, association)
	})
	return nil
}

// startTrialActivation stores a fresh trial key on the user's details row,
// creating the row when the user has none.
func startTrialActivation(tx *gorm.DB, user *models.User, now time.Time) (string, error) {
	key, err := utils.RandomKey()
	if err != nil {
		return "", err
	}

	details := models.UserDetails{UserID: user.ID}
	if err := tx.Where("user_id = ?", user.ID).FirstOrCreate(&details).Error; err != nil {
		return "", err
	}
	if err := tx.Model(&details).Updates(map[string]interface{}{
		"trial_activation_key":          key,
		"trial_activation_initiated_at": now,
	}).Error; err != nil {
		return "", err
	}
	details.TrialActivationKey = &key
	details.TrialActivationInitiatedAt = &now
	user.Details = &details
	return key, nil
}
