package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/oncokb/backend/internal/models"
	"github.com/oncokb/backend/pkg/logger"
	"github.com/oncokb/backend/pkg/utils"
	"gorm.io/gorm"
)

const serviceAccountEmailDomain = "service-account.oncokb.org"

type CompanyInput struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	LicenseType   string   `json:"licenseType"`
	LicenseStatus string   `json:"licenseStatus"`
	LicenseModel  string   `json:"licenseModel"`
	Domains       []string `json:"domains"`
}

type companyValues struct {
	name          string
	licenseType   models.LicenseType
	licenseStatus models.LicenseStatus
	licenseModel  models.LicenseModel
	domains       []string
}

type CompanyService struct {
	DB     *gorm.DB
	Tokens *TokenService
}

func NewCompanyService(db *gorm.DB, tokens *TokenService) *CompanyService {
	return &CompanyService{DB: db, Tokens: tokens}
}

// normalizeDomains lowercases, trims and de-duplicates domain names, dropping
// blanks and any leading "@".
func normalizeDomains(domains []string) []string {
	seen := make(map[string]bool, len(domains))
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "@")
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (in CompanyInput) validate() (companyValues, error) {
	var v companyValues
	var ok bool

	v.name = strings.TrimSpace(in.Name)
	if v.name == "" {
		return v, errors.New("company name is required")
	}
	if v.licenseType, ok = models.ParseLicenseType(in.LicenseType); !ok {
		return v, ErrInvalidLicenseValue
	}
	if v.licenseStatus, ok = models.ParseLicenseStatus(in.LicenseStatus); !ok {
		return v, ErrInvalidLicenseValue
	}
	if v.licenseModel, ok = models.ParseLicenseModel(in.LicenseModel); !ok {
		return v, ErrInvalidLicenseValue
	}
	v.domains = normalizeDomains(in.Domains)
	if len(v.domains) == 0 {
		return v, ErrCompanyDomainsRequired
	}
	return v, nil
}

func checkCompanyConflicts(tx *gorm.DB, v companyValues, self *uuid.UUID) error {
	nameQuery := tx.Model(&models.Company{}).Where("lower(name) = ?", strings.ToLower(v.name))
	domainQuery := tx.Model(&models.CompanyDomain{}).Where("name IN ?", v.domains)
	if self != nil {
		nameQuery = nameQuery.Where("id <> ?", *self)
		domainQuery = domainQuery.Where("company_id <> ?", *self)
	}

	var count int64
	if err := nameQuery.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrCompanyNameTaken
	}
	if err := domainQuery.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrCompanyDomainTaken
	}
	return nil
}

func replaceDomains(tx *gorm.DB, companyID uuid.UUID, domains []string) error {
	if err := tx.Unscoped().Where("company_id = ?", companyID).Delete(&models.CompanyDomain{}).Error; err != nil {
		return err
	}
	rows := make([]models.CompanyDomain, len(domains))
	for i, d := range domains {
		rows[i] = models.CompanyDomain{Name: d, CompanyID: companyID}
	}
	return tx.Create(&rows).Error
}

func (s *CompanyService) Create(ctx context.Context, in CompanyInput) (*models.Company, error) {
	v, err := in.validate()
	if err != nil {
		return nil, err
	}

	company := &models.Company{
		Name:          v.name,
		Description:   in.Description,
		LicenseType:   v.licenseType,
		LicenseStatus: v.licenseStatus,
		LicenseModel:  v.licenseModel,
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkCompanyConflicts(tx, v, nil); err != nil {
			return err
		}
		if err := tx.Omit("Domains").Create(company).Error; err != nil {
			return err
		}
		return replaceDomains(tx, company.ID, v.domains)
	})
	if err != nil {
		return nil, err
	}

	logger.Info("company_created", map[string]interface{}{
		"company_id": company.ID.String(),
		"name":       company.Name,
		"domains":    v.domains,
	})
	return s.Get(ctx, company.ID)
}

// Update replaces the company's attributes and domains. A license type change
// is carried over to every member account.
func (s *CompanyService) Update(ctx context.Context, id uuid.UUID, in CompanyInput) (*models.Company, error) {
	v, err := in.validate()
	if err != nil {
		return nil, err
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Company
		if err := tx.First(&existing, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCompanyNotFound
			}
			return err
		}
		if !existing.LicenseStatus.CanTransitionTo(v.licenseStatus) {
			return ErrInvalidLicenseStatusChange
		}
		if err := checkCompanyConflicts(tx, v, &id); err != nil {
			return err
		}

		previousLicense := existing.LicenseType
		if err := tx.Model(&existing).Updates(map[string]interface{}{
			"name":           v.name,
			"description":    in.Description,
			"license_type":   v.licenseType,
			"license_status": v.licenseStatus,
			"license_model":  v.licenseModel,
		}).Error; err != nil {
			return err
		}
		if err := replaceDomains(tx, id, v.domains); err != nil {
			return err
		}

		if previousLicense != v.licenseType {
			if err := tx.Model(&models.User{}).Where("company_id = ?", id).
				Update("license_type", v.licenseType).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *CompanyService) Get(ctx context.Context, id uuid.UUID) (*models.Company, error) {
	var company models.Company
	if err := s.DB.WithContext(ctx).Preload("Domains").First(&company, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCompanyNotFound
		}
		return nil, err
	}
	return &company, nil
}

func (s *CompanyService) FindByName(ctx context.Context, name string) (*models.Company, error) {
	var company models.Company
	err := s.DB.WithContext(ctx).Preload("Domains").
		Where("lower(name) = ?", strings.ToLower(strings.TrimSpace(name))).
		First(&company).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCompanyNotFound
		}
		return nil, err
	}
	return &company, nil
}

func (s *CompanyService) List(ctx context.Context) ([]models.Company, error) {
	var companies []models.Company
	err := s.DB.WithContext(ctx).Preload("Domains").Order("name ASC").Find(&companies).Error
	return companies, err
}

func (s *CompanyService) Members(ctx context.Context, id uuid.UUID) ([]models.User, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	var users []models.User
	err := s.DB.WithContext(ctx).
		Where("company_id = ? AND service_account = ?", id, false).
		Order("email ASC").
		Find(&users).Error
	return users, err
}

// Delete removes the company and its domains. Members are detached and the
// service account is removed along with its tokens.
func (s *CompanyService) Delete(ctx context.Context, id uuid.UUID) error {
	var evicted evictions
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var company models.Company
		if err := tx.First(&company, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCompanyNotFound
			}
			return err
		}

		var accounts []models.User
		if err := tx.Where("company_id = ? AND service_account = ?", id, true).Find(&accounts).Error; err != nil {
			return err
		}
		for i := range accounts {
			if err := deleteServiceAccountTx(tx, &accounts[i], &evicted); err != nil {
				return err
			}
		}

		if err := tx.Model(&models.User{}).Where("company_id = ?", id).Update("company_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("company_id = ?", id).Delete(&models.CompanyDomain{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&company).Error
	})
	if err != nil {
		return err
	}

	if s.Tokens != nil {
		s.Tokens.Cache.Evict(ctx, evicted...)
	}
	logger.Info("company_deleted", map[string]interface{}{"company_id": id.String()})
	return nil
}

func deleteServiceAccountTx(tx *gorm.DB, account *models.User, evicted *evictions) error {
	var tokens []models.Token
	if err := tx.Unscoped().Where("user_id = ?", account.ID).Find(&tokens).Error; err != nil {
		return err
	}
	ids := make([]uuid.UUID, len(tokens))
	for i, t := range tokens {
		ids[i] = t.ID
		evicted.add(t.Token)
	}
	if len(ids) > 0 {
		if err := tx.Where("token_id IN ?", ids).Delete(&models.TokenStats{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("id IN ?", ids).Delete(&models.Token{}).Error; err != nil {
			return err
		}
	}
	if err := tx.Unscoped().Where("user_id = ?", account.ID).Delete(&models.UserDetails{}).Error; err != nil {
		return err
	}
	return tx.Unscoped().Delete(account).Error
}

func (s *CompanyService) ServiceAccount(ctx context.Context, companyID uuid.UUID) (*models.User, error) {
	var account models.User
	err := s.DB.WithContext(ctx).
		Where("company_id = ? AND service_account = ?", companyID, true).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrServiceAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// CreateServiceAccount adds the company's machine account. It is activated
// and approved but has no usable password.
func (s *CompanyService) CreateServiceAccount(ctx context.Context, companyID uuid.UUID) (*models.User, error) {
	company, err := s.Get(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ServiceAccount(ctx, companyID); err == nil {
		return nil, ErrServiceAccountExists
	} else if !errors.Is(err, ErrServiceAccountNotFound) {
		return nil, err
	}

	secret, err := utils.RandomKey()
	if err != nil {
		return nil, err
	}
	hash, err := utils.HashPassword(secret)
	if err != nil {
		return nil, err
	}

	account := &models.User{
		Login:          "service-account-" + companyID.String(),
		Email:          fmt.Sprintf("%s@%s", companyID.String(), serviceAccountEmailDomain),
		PasswordHash:   hash,
		FirstName:      company.Name,
		LastName:       "Service Account",
		Role:           models.UserRoleUser,
		Activated:      true,
		Approved:       true,
		LicenseType:    company.LicenseType,
		CompanyID:      &company.ID,
		ServiceAccount: true,
	}
	if err := s.DB.WithContext(ctx).Create(account).Error; err != nil {
		return nil, err
	}

	logger.Info("service_account_created", map[string]interface{}{
		"company_id": companyID.String(),
		"login":      account.Login,
	})
	return account, nil
}

func (s *CompanyService) DeleteServiceAccount(ctx context.Context, companyID uuid.UUID) error {
	account, err := s.ServiceAccount(ctx, companyID)
	if err != nil {
		return err
	}

	var evicted evictions
	if err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteServiceAccountTx(tx, account, &evicted)
	}); err != nil {
		return err
	}
	s.Tokens.Cache.Evict(ctx, evicted...)
	return nil
}

func (s *CompanyService) CreateServiceAccountToken(ctx context.Context, companyID uuid.UUID) (*models.Token, error) {
	account, err := s.ServiceAccount(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return s.Tokens.CreateToken(ctx, account)
}

func (s *CompanyService) ServiceAccountTokens(ctx context.Context, companyID uuid.UUID) ([]models.Token, error) {
	account, err := s.ServiceAccount(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return s.Tokens.ListTokens(ctx, account.ID)
}
