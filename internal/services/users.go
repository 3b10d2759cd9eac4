package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oncokb/backend/internal/config"
	"github.com/oncokb/backend/internal/models"
	"github.com/oncokb/backend/pkg/logger"
	"github.com/oncokb/backend/pkg/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const resetKeyValidity = 24 * time.Hour

type RegisterInput struct {
	Login       string             `json:"login"`
	Email       string             `json:"email"`
	Password    string             `json:"password"`
	FirstName   string             `json:"firstName"`
	LastName    string             `json:"lastName"`
	LicenseType models.LicenseType `json:"licenseType"`
	JobTitle    string             `json:"jobTitle"`
	CompanyName string             `json:"companyName"`
	City        string             `json:"city"`
	Country     string             `json:"country"`
	Address     string             `json:"address"`
}

type AccountUpdate struct {
	Email       *string `json:"email"`
	FirstName   *string `json:"firstName"`
	LastName    *string `json:"lastName"`
	JobTitle    *string `json:"jobTitle"`
	CompanyName *string `json:"companyName"`
	City        *string `json:"city"`
	Country     *string `json:"country"`
	Address     *string `json:"address"`
}

type AdminUserUpdate struct {
	Role        *models.UserRole    `json:"role"`
	Activated   *bool               `json:"activated"`
	Approved    *bool               `json:"approved"`
	LicenseType *models.LicenseType `json:"licenseType"`
	CompanyID   *string             `json:"companyID"`
}

type TrialInfo struct {
	Login       string     `json:"login"`
	Email       string     `json:"email"`
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	InitiatedAt *time.Time `json:"initiatedAt,omitempty"`
}

type UserService struct {
	DB       *gorm.DB
	Tokens   *TokenService
	Notifier Notifier
	Clock    Clock
	Config   config.TokenConfig
}

func NewUserService(db *gorm.DB, tokens *TokenService, notifier Notifier, clock Clock, cfg config.TokenConfig) *UserService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &UserService{
		DB:       db,
		Tokens:   tokens,
		Notifier: notifier,
		Clock:    clock,
		Config:   cfg,
	}
}

func normalizeLogin(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an inactive account and sends the activation mail. An
// earlier registration that was never activated is replaced.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	if !utils.ValidPasswordLength(in.Password) {
		return nil, ErrInvalidPasswordSize
	}
	licenseType := in.LicenseType
	if licenseType == "" {
		licenseType = models.LicenseTypeAcademic
	}
	if _, ok := models.ParseLicenseType(string(licenseType)); !ok {
		return nil, ErrInvalidLicenseValue
	}

	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	key, err := utils.RandomKey()
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Login:         normalizeLogin(in.Login),
		Email:         normalizeEmail(in.Email),
		PasswordHash:  hash,
		FirstName:     strings.TrimSpace(in.FirstName),
		LastName:      strings.TrimSpace(in.LastName),
		Role:          models.UserRoleUser,
		ActivationKey: &key,
		LicenseType:   licenseType,
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := removeStaleRegistration(tx, "login = ?", user.Login, ErrLoginAlreadyUsed); err != nil {
			return err
		}
		if err := removeStaleRegistration(tx, "lower(email) = ?", user.Email, ErrEmailAlreadyUsed); err != nil {
			return err
		}

		if err := tx.Create(user).Error; err != nil {
			return err
		}

		details := &models.UserDetails{
			UserID:      user.ID,
			JobTitle:    in.JobTitle,
			CompanyName: in.CompanyName,
			City:        in.City,
			Country:     in.Country,
			Address:     in.Address,
			LicenseType: licenseType,
		}
		if err := tx.Create(details).Error; err != nil {
			return err
		}
		user.Details = details
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.InfoWithUser(user.ID.String(), "user_registered", map[string]interface{}{
		"login":        user.Login,
		"license_type": string(user.LicenseType),
	})
	s.Notifier.SendMail(*user, models.MailTypeActivation, map[string]interface{}{"Key": key})
	return user, nil
}

func removeStaleRegistration(tx *gorm.DB, query string, value string, taken error) error {
	var existing models.User
	err := tx.Where(query, value).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.Activated {
		return taken
	}

	if err := tx.Unscoped().Where("user_id = ?", existing.ID).Delete(&models.UserDetails{}).Error; err != nil {
		return err
	}
	return tx.Unscoped().Delete(&existing).Error
}

func (s *UserService) findUser(ctx context.Context, query string, args ...interface{}) (*models.User, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).
		Preload("Details").
		Preload("Company.Domains").
		Where(query, args...).
		First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *UserService) FindByLogin(ctx context.Context, login string) (*models.User, error) {
	return s.findUser(ctx, "login = ?", normalizeLogin(login))
}

func (s *UserService) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.findUser(ctx, "id = ?", id)
}

// Authenticate checks credentials given either the login or the email.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	name := normalizeLogin(username)
	user, err := s.findUser(ctx, "login = ? OR lower(email) = ?", name, name)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidPassword
		}
		return nil, err
	}
	if !utils.CheckPassword(password, user.PasswordHash) {
		return nil, ErrInvalidPassword
	}
	if !user.Activated {
		return nil, ErrUserNotActivated
	}
	return user, nil
}

func (s *UserService) List(ctx context.Context, p utils.PaginationParams, order string) ([]models.User, int64, error) {
	var total int64
	query := s.DB.WithContext(ctx).Model(&models.User{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var users []models.User
	err := utils.ApplyPagination(query.Preload("Company").Order(order), p).Find(&users).Error
	return users, total, err
}

// RequestPasswordReset mails a reset link. Unknown or inactive addresses are
// ignored so the endpoint does not reveal which emails are registered.
func (s *UserService) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.findUser(ctx, "lower(email) = ?", normalizeEmail(email))
	if errors.Is(err, ErrUserNotFound) {
		logger.Warn("password_reset_unknown_email", map[string]interface{}{"email": email})
		return nil
	}
	if err != nil {
		return err
	}
	if !user.Activated {
		logger.Warn("password_reset_inactive_user", map[string]interface{}{"login": user.Login})
		return nil
	}

	key, err := utils.RandomKey()
	if err != nil {
		return err
	}
	now := s.Clock.Now()
	if err := s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
		"reset_key":  key,
		"reset_date": now,
	}).Error; err != nil {
		return err
	}

	s.Notifier.SendMail(*user, models.MailTypePasswordReset, map[string]interface{}{"Key": key})
	return nil
}

// GenerateResetKey is the administrative variant of RequestPasswordReset that
// returns the key instead of mailing it.
func (s *UserService) GenerateResetKey(ctx context.Context, login string) (string, error) {
	user, err := s.FindByLogin(ctx, login)
	if err != nil {
		return "", err
	}

	key, err := utils.RandomKey()
	if err != nil {
		return "", err
	}
	err = s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
		"reset_key":  key,
		"reset_date": s.Clock.Now(),
	}).Error
	return key, err
}

func (s *UserService) CompletePasswordReset(ctx context.Context, key, newPassword string) (*models.User, error) {
	if !utils.ValidPasswordLength(newPassword) {
		return nil, ErrInvalidPasswordSize
	}

	user, err := s.findUser(ctx, "reset_key = ?", key)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidResetKey
		}
		return nil, err
	}
	if user.ResetDate == nil || s.Clock.Now().Sub(*user.ResetDate) > resetKeyValidity {
		return nil, ErrInvalidResetKey
	}

	hash, err := utils.HashPassword(newPassword)
	if err != nil {
		return nil, err
	}
	if err := s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
		"password_hash": hash,
		"reset_key":     nil,
		"reset_date":    nil,
	}).Error; err != nil {
		return nil, err
	}
	return user, nil
}

func (s *UserService) ChangePassword(ctx context.Context, user *models.User, currentPassword, newPassword string) error {
	if !utils.CheckPassword(currentPassword, user.PasswordHash) {
		return ErrInvalidPassword
	}
	if !utils.ValidPasswordLength(newPassword) {
		return ErrInvalidPasswordSize
	}

	hash, err := utils.HashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).Update("password_hash", hash).Error
}

func (s *UserService) UpdateAccount(ctx context.Context, user *models.User, in AccountUpdate) (*models.User, error) {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{}
		if in.Email != nil {
			email := normalizeEmail(*in.Email)
			var count int64
			if err := tx.Model(&models.User{}).Where("lower(email) = ? AND id <> ?", email, user.ID).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return ErrEmailAlreadyUsed
			}
			updates["email"] = email
		}
		if in.FirstName != nil {
			updates["first_name"] = strings.TrimSpace(*in.FirstName)
		}
		if in.LastName != nil {
			updates["last_name"] = strings.TrimSpace(*in.LastName)
		}
		if len(updates) > 0 {
			if err := tx.Model(&models.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
				return err
			}
		}

		detailUpdates := map[string]interface{}{}
		setIf := func(column string, value *string) {
			if value != nil {
				detailUpdates[column] = *value
			}
		}
		setIf("job_title", in.JobTitle)
		setIf("company_name", in.CompanyName)
		setIf("city", in.City)
		setIf("country", in.Country)
		setIf("address", in.Address)
		if len(detailUpdates) == 0 {
			return nil
		}

		details := models.UserDetails{UserID: user.ID, LicenseType: user.LicenseType}
		if err := tx.Where("user_id = ?", user.ID).FirstOrCreate(&details).Error; err != nil {
			return err
		}
		return tx.Model(&details).Updates(detailUpdates).Error
	})
	if err != nil {
		return nil, err
	}
	return s.FindByID(ctx, user.ID)
}

func (s *UserService) AdminUpdate(ctx context.Context, id uuid.UUID, in AdminUserUpdate) (*models.User, error) {
	user, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if in.Role != nil {
		if *in.Role != models.UserRoleAdmin && *in.Role != models.UserRoleUser {
			return nil, ErrInvalidRole
		}
		updates["role"] = *in.Role
	}
	if in.Activated != nil {
		updates["activated"] = *in.Activated
	}
	if in.Approved != nil {
		updates["approved"] = *in.Approved
	}
	if in.LicenseType != nil {
		if _, ok := models.ParseLicenseType(string(*in.LicenseType)); !ok {
			return nil, ErrInvalidLicenseValue
		}
		updates["license_type"] = *in.LicenseType
	}
	if in.CompanyID != nil {
		if *in.CompanyID == "" {
			updates["company_id"] = nil
		} else {
			companyID, err := uuid.Parse(*in.CompanyID)
			if err != nil {
				return nil, ErrCompanyNotFound
			}
			var count int64
			if err := s.DB.WithContext(ctx).Model(&models.Company{}).Where("id = ?", companyID).Count(&count).Error; err != nil {
				return nil, err
			}
			if count == 0 {
				return nil, ErrCompanyNotFound
			}
			updates["company_id"] = companyID
		}
	}

	if len(updates) > 0 {
		if err := s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return s.FindByID(ctx, id)
}

// ApproveUser approves an account by hand, issuing its first token when it
// holds none.
func (s *UserService) ApproveUser(ctx context.Context, login string) (*models.User, *models.Token, error) {
	user, err := s.FindByLogin(ctx, login)
	if err != nil {
		return nil, nil, err
	}

	var token *models.Token
	var evicted evictions
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockUser(tx, user.ID); err != nil {
			return err
		}
		if err := tx.Model(&models.User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
			"approved":  true,
			"activated": true,
		}).Error; err != nil {
			return err
		}

		existing, err := tokensForUser(tx, user.ID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return nil
		}
		token, err = s.Tokens.createTokenTx(tx, user.ID, nil, &evicted)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.Tokens.Cache.Evict(ctx, evicted...)
	user.Approved = true
	user.Activated = true
	s.Notifier.NotifyApproved(*user, user.CompanyAssociation())
	return user, token, nil
}

// RequestRenewal gives an activated user a new activation key and mails the
// verification link. Following it extends the user's tokens.
func (s *UserService) RequestRenewal(ctx context.Context, login string) error {
	user, err := s.FindByLogin(ctx, login)
	if err != nil {
		return err
	}
	if !user.Activated {
		return ErrUserNotActivated
	}

	key, err := utils.RandomKey()
	if err != nil {
		return err
	}
	if err := s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).Update("activation_key", key).Error; err != nil {
		return err
	}

	s.Notifier.SendMail(*user, models.MailTypeVerifyEmailBeforeAccountExpires, map[string]interface{}{"Key": key})
	return nil
}

func (s *UserService) ResendVerification(ctx context.Context, login, password string) error {
	user, err := s.FindByLogin(ctx, login)
	if err != nil {
		return err
	}
	if !utils.CheckPassword(password, user.PasswordHash) {
		return ErrInvalidPassword
	}
	if user.Activated {
		return nil
	}

	key := ""
	if user.ActivationKey != nil {
		key = *user.ActivationKey
	} else {
		if key, err = utils.RandomKey(); err != nil {
			return err
		}
		if err := s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).Update("activation_key", key).Error; err != nil {
			return err
		}
	}

	s.Notifier.SendMail(*user, models.MailTypeActivation, map[string]interface{}{"Key": key})
	return nil
}

func (s *UserService) InitiateTrialActivation(ctx context.Context, login string) (*models.User, error) {
	user, err := s.FindByLogin(ctx, login)
	if err != nil {
		return nil, err
	}

	var key string
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockUser(tx, user.ID); err != nil {
			return err
		}
		key, err = startTrialActivation(tx, user, s.Clock.Now())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Notifier.NotifyTrialActivation(*user, key)
	return user, nil
}

func (s *UserService) TrialActivationInfo(ctx context.Context, key string) (*TrialInfo, error) {
	user, details, err := s.findByTrialKey(s.DB.WithContext(ctx), key)
	if err != nil {
		return nil, err
	}
	return &TrialInfo{
		Login:       user.Login,
		Email:       user.Email,
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		InitiatedAt: details.TrialActivationInitiatedAt,
	}, nil
}

func (s *UserService) findByTrialKey(tx *gorm.DB, key string) (*models.User, *models.UserDetails, error) {
	if key == "" {
		return nil, nil, ErrInvalidTrialKey
	}

	var details models.UserDetails
	if err := tx.Where("trial_activation_key = ?", key).First(&details).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrInvalidTrialKey
		}
		return nil, nil, err
	}

	var user models.User
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, "id = ?", details.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrInvalidTrialKey
		}
		return nil, nil, err
	}
	user.Details = &details
	return &user, &details, nil
}

// FinishTrialActivation accepts the trial terms, approves the account and
// issues a non-renewable token lasting the trial period.
func (s *UserService) FinishTrialActivation(ctx context.Context, key string, agreed bool) (*models.User, *models.Token, error) {
	if !agreed {
		return nil, nil, ErrTermsNotAccepted
	}

	var user *models.User
	var token *models.Token
	var evicted evictions
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u, details, err := s.findByTrialKey(tx, key)
		if err != nil {
			return err
		}
		user = u

		now := s.Clock.Now()
		if err := tx.Model(details).Updates(map[string]interface{}{
			"trial_activation_key": nil,
			"terms_accepted_at":    now,
		}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
			"activated":      true,
			"approved":       true,
			"activation_key": nil,
		}).Error; err != nil {
			return err
		}
		user.Activated = true
		user.Approved = true

		token, err = s.Tokens.createTokenTx(tx, user.ID, &tokenTerms{
			Expiration: now.Add(s.Config.TrialValidity()),
			Renewable:  false,
		}, &evicted)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.Tokens.Cache.Evict(ctx, evicted...)
	logger.InfoWithUser(user.ID.String(), "trial_activated", map[string]interface{}{
		"token_expiration": token.Expiration,
	})
	s.Notifier.NotifyApproved(*user, user.CompanyAssociation())
	return user, token, nil
}
