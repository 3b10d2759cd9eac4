package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/oncokb/backend/internal/middleware"
	"github.com/oncokb/backend/internal/models"
	"github.com/oncokb/backend/internal/services"
	"github.com/oncokb/backend/pkg/utils"
)

type CompaniesHandler struct {
	Companies *services.CompanyService
	Audit     *services.AuditService
}

func NewCompaniesHandler(companies *services.CompanyService, audit *services.AuditService) *CompaniesHandler {
	return &CompaniesHandler{Companies: companies, Audit: audit}
}

func (h *CompaniesHandler) record(c *fiber.Ctx, action string, companyID uuid.UUID, details map[string]interface{}) {
	admin := middleware.GetCurrentUser(c)
	entry := services.AuditEntry{
		Action:       action,
		ResourceType: models.AuditResourceCompany,
		ResourceID:   &companyID,
		Details:      details,
	}
	if admin != nil {
		entry.UserID = &admin.ID
	}
	audit(h.Audit, c, entry)
}

func (h *CompaniesHandler) List(c *fiber.Ctx) error {
	if name := strings.TrimSpace(c.Query("name")); name != "" {
		company, err := h.Companies.FindByName(c.UserContext(), name)
		if err != nil {
			return serviceError(c, err, "failed loading company")
		}
		return utils.Success(c, fiber.StatusOK, company)
	}

	companies, err := h.Companies.List(c.UserContext())
	if err != nil {
		return serviceError(c, err, "failed listing companies")
	}
	return utils.Success(c, fiber.StatusOK, companies)
}

func (h *CompaniesHandler) Get(c *fiber.Ctx) error {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid company ID")
	}

	company, err := h.Companies.Get(c.UserContext(), id)
	if err != nil {
		return serviceError(c, err, "failed loading company")
	}
	return utils.Success(c, fiber.StatusOK, company)
}

func (h *CompaniesHandler) Create(c *fiber.Ctx) error {
	var req services.CompanyInput
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Name) == "" {
		return utils.Error(c, fiber.StatusBadRequest, "name is required")
	}

	company, err := h.Companies.Create(c.UserContext(), req)
	if err != nil {
		return serviceError(c, err, "failed creating company")
	}

	h.record(c, "company.create", company.ID, map[string]interface{}{
		"name":    company.Name,
		"domains": company.DomainNames(),
	})
	return utils.Success(c, fiber.StatusCreated, company)
}

func (h *CompaniesHandler) Update(c *fiber.Ctx) error {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid company ID")
	}

	var req services.CompanyInput
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Name) == "" {
		return utils.Error(c, fiber.StatusBadRequest, "name is required")
	}

	company, err := h.Companies.Update(c.UserContext(), id, req)
	if err != nil {
		return serviceError(c, err, "failed updating company")
	}

	h.record(c, "company.update", company.ID, map[string]interface{}{
		"name":          company.Name,
		"licenseStatus": string(company.LicenseStatus),
		"licenseType":   string(company.LicenseType),
	})
	return utils.Success(c, fiber.StatusOK, company)
}

func (h *CompaniesHandler) Delete(c *fiber.Ctx) error {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid company ID")
	}

	if err := h.Companies.Delete(c.UserContext(), id); err != nil {
		return serviceError(c, err, "failed deleting company")
	}

	h.record(c, "company.delete", id, nil)
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "company deleted"})
}

func (h *CompaniesHandler) Members(c *fiber.Ctx) error {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid company ID")
	}

	users, err := h.Companies.Members(c.UserContext(), id)
	if err != nil {
		return serviceError(c, err, "failed listing company members")
	}
	return utils.Success(c, fiber.StatusOK, users)
}

func (h *CompaniesHandler) ServiceAccount(c *fiber.Ctx) error {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid company ID")
	}

	account, err := h.Companies.ServiceAccount(c.UserContext(), id)
	if err != nil {
		return serviceError(c, err, "failed loading service account")
	}
	return utils.Success(c, fiber.StatusOK, account)
}

func (h *CompaniesHandler) CreateServiceAccount(c *fiber.Ctx) error {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid company ID")
	}

	account, err := h.Companies.CreateServiceAccount(c.UserContext(), id)
	if err != nil {
		return serviceError(c, err, "failed creating service account")
	}

	h.record(c, "company.service_account_create", id, map[string]interface{}{"login": account.Login})
	return utils.Success(c, fiber.StatusCreated, account)
}

func (h *CompaniesHandler) DeleteServiceAccount(c *fiber.Ctx) error {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid company ID")
	}

	if err := h.Companies.DeleteServiceAccount(c.UserContext(), id); err != nil {
		return serviceError(c, err, "failed deleting service account")
	}

	h.record(c, "company.service_account_delete", id, nil)
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "service account deleted"})
}

func (h *CompaniesHandler) ServiceAccountTokens(c *fiber.Ctx) error {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid company ID")
	}

	tokens, err := h.Companies.ServiceAccountTokens(c.UserContext(), id)
	if err != nil {
		return serviceError(c, err, "failed listing service account tokens")
	}
	return utils.Success(c, fiber.StatusOK, tokens)
}

func (h *CompaniesHandler) CreateServiceAccountToken(c *fiber.Ctx) error {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid company ID")
	}

	token, err := h.Companies.CreateServiceAccountToken(c.UserContext(), id)
	if err != nil {
		return serviceError(c, err, "failed creating service account token")
	}

	h.record(c, "company.service_account_token_create", id, map[string]interface{}{
		"tokenID":    token.ID.String(),
		"expiration": token.Expiration,
	})
	return utils.Success(c, fiber.StatusCreated, token)
}
