package services

import (
	"context"
	"errors"
	"testing"

	"github.com/oncokb/backend/internal/models"
)

func newTestCompanyService(t *testing.T) (*CompanyService, *fixedClock) {
	t.Helper()
	db := setupServiceTestDB(t)
	clock := newFixedClock()
	return NewCompanyService(db, NewTokenService(db, clock, testTokenConfig, nil)), clock
}

func acmeInput() CompanyInput {
	return CompanyInput{
		Name:          "Acme",
		LicenseType:   "commercial",
		LicenseStatus: "REGULAR",
		LicenseModel:  "FULL",
		Domains:       []string{" Acme.com ", "@acme.org", "acme.com", ""},
	}
}

func TestCompanyService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("normalises domains", func(t *testing.T) {
		svc, _ := newTestCompanyService(t)
		company, err := svc.Create(ctx, acmeInput())
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		names := company.DomainNames()
		if len(names) != 2 || names[0] != "acme.com" || names[1] != "acme.org" {
			t.Fatalf("unexpected domains %v", names)
		}
		if company.LicenseType != models.LicenseTypeCommercial {
			t.Fatalf("unexpected license type %s", company.LicenseType)
		}
	})

	t.Run("validation", func(t *testing.T) {
		svc, _ := newTestCompanyService(t)

		in := acmeInput()
		in.Domains = []string{" ", ""}
		if _, err := svc.Create(ctx, in); !errors.Is(err, ErrCompanyDomainsRequired) {
			t.Fatalf("expected ErrCompanyDomainsRequired, got %v", err)
		}

		in = acmeInput()
		in.LicenseModel = "PARTIAL"
		if _, err := svc.Create(ctx, in); !errors.Is(err, ErrInvalidLicenseValue) {
			t.Fatalf("expected ErrInvalidLicenseValue, got %v", err)
		}
	})

	t.Run("conflicts", func(t *testing.T) {
		svc, _ := newTestCompanyService(t)
		if _, err := svc.Create(ctx, acmeInput()); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}

		in := acmeInput()
		in.Name = "ACME"
		in.Domains = []string{"other.com"}
		if _, err := svc.Create(ctx, in); !errors.Is(err, ErrCompanyNameTaken) {
			t.Fatalf("expected ErrCompanyNameTaken, got %v", err)
		}

		in = acmeInput()
		in.Name = "Other"
		in.Domains = []string{"ACME.com"}
		if _, err := svc.Create(ctx, in); !errors.Is(err, ErrCompanyDomainTaken) {
			t.Fatalf("expected ErrCompanyDomainTaken, got %v", err)
		}
	})
}

func TestCompanyService_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("status transitions", func(t *testing.T) {
		svc, _ := newTestCompanyService(t)
		in := acmeInput()
		in.LicenseStatus = "TRIAL"
		company, err := svc.Create(ctx, in)
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}

		steps := []struct {
			status string
			ok     bool
		}{
			{"REGULAR", true},
			{"TRIAL", false},
			{"EXPIRED", true},
			{"REGULAR", true},
		}
		for _, step := range steps {
			in.LicenseStatus = step.status
			_, err := svc.Update(ctx, company.ID, in)
			if step.ok && err != nil {
				t.Fatalf("move to %s: unexpected error %v", step.status, err)
			}
			if !step.ok && !errors.Is(err, ErrInvalidLicenseStatusChange) {
				t.Fatalf("move to %s: expected ErrInvalidLicenseStatusChange, got %v", step.status, err)
			}
		}
	})

	t.Run("license type change reaches members", func(t *testing.T) {
		svc, _ := newTestCompanyService(t)
		company, err := svc.Create(ctx, acmeInput())
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		member := createTestUser(t, svc.DB, "member", func(u *models.User) {
			u.CompanyID = &company.ID
			u.LicenseType = models.LicenseTypeCommercial
		})

		in := acmeInput()
		in.LicenseType = "HOSPITAL"
		in.Domains = []string{"acme.net"}
		updated, err := svc.Update(ctx, company.ID, in)
		if err != nil {
			t.Fatalf("Update returned error: %v", err)
		}
		if names := updated.DomainNames(); len(names) != 1 || names[0] != "acme.net" {
			t.Fatalf("expected domains replaced, got %v", names)
		}

		var reloaded models.User
		svc.DB.First(&reloaded, "id = ?", member.ID)
		if reloaded.LicenseType != models.LicenseTypeHospital {
			t.Fatalf("expected member license type HOSPITAL, got %s", reloaded.LicenseType)
		}
	})

	t.Run("unknown company", func(t *testing.T) {
		svc, _ := newTestCompanyService(t)
		company, _ := svc.Create(ctx, acmeInput())
		svc.DB.Unscoped().Where("company_id = ?", company.ID).Delete(&models.CompanyDomain{})
		svc.DB.Unscoped().Delete(company)
		if _, err := svc.Update(ctx, company.ID, acmeInput()); !errors.Is(err, ErrCompanyNotFound) {
			t.Fatalf("expected ErrCompanyNotFound, got %v", err)
		}
	})
}

func TestCompanyService_ServiceAccount(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestCompanyService(t)
	company, err := svc.Create(ctx, acmeInput())
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if _, err := svc.ServiceAccount(ctx, company.ID); !errors.Is(err, ErrServiceAccountNotFound) {
		t.Fatalf("expected ErrServiceAccountNotFound, got %v", err)
	}

	account, err := svc.CreateServiceAccount(ctx, company.ID)
	if err != nil {
		t.Fatalf("CreateServiceAccount returned error: %v", err)
	}
	if !account.ServiceAccount || !account.Approved || account.CompanyID == nil {
		t.Fatalf("unexpected service account %+v", account)
	}
	if _, err := svc.CreateServiceAccount(ctx, company.ID); !errors.Is(err, ErrServiceAccountExists) {
		t.Fatalf("expected ErrServiceAccountExists, got %v", err)
	}

	for i := 0; i < MaxTokensPerUser; i++ {
		if _, err := svc.CreateServiceAccountToken(ctx, company.ID); err != nil {
			t.Fatalf("token %d: %v", i, err)
		}
	}
	if _, err := svc.CreateServiceAccountToken(ctx, company.ID); !errors.Is(err, ErrTooManyTokens) {
		t.Fatalf("expected ErrTooManyTokens, got %v", err)
	}

	tokens, err := svc.ServiceAccountTokens(ctx, company.ID)
	if err != nil || len(tokens) != MaxTokensPerUser {
		t.Fatalf("expected %d tokens, got %d (%v)", MaxTokensPerUser, len(tokens), err)
	}

	members, err := svc.Members(ctx, company.ID)
	if err != nil || len(members) != 0 {
		t.Fatalf("expected the service account to be excluded from members, got %d (%v)", len(members), err)
	}
}

func TestCompanyService_Delete(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestCompanyService(t)
	company, err := svc.Create(ctx, acmeInput())
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	member := createTestUser(t, svc.DB, "member", func(u *models.User) { u.CompanyID = &company.ID })
	if _, err := svc.CreateServiceAccount(ctx, company.ID); err != nil {
		t.Fatalf("CreateServiceAccount returned error: %v", err)
	}
	token, err := svc.CreateServiceAccountToken(ctx, company.ID)
	if err != nil {
		t.Fatalf("CreateServiceAccountToken returned error: %v", err)
	}
	svc.DB.Create(&models.TokenStats{TokenID: token.ID, AccessIP: "1.1.1.1", Resource: "/api/v1/info", AccessTime: clock.Now()})

	if err := svc.Delete(ctx, company.ID); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}

	var count int64
	svc.DB.Unscoped().Model(&models.Company{}).Where("id = ?", company.ID).Count(&count)
	if count != 0 {
		t.Fatal("expected company removed")
	}
	svc.DB.Unscoped().Model(&models.CompanyDomain{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected domains removed, got %d", count)
	}
	svc.DB.Unscoped().Model(&models.User{}).Where("service_account = ?", true).Count(&count)
	if count != 0 {
		t.Fatal("expected service account removed")
	}
	svc.DB.Unscoped().Model(&models.Token{}).Count(&count)
	if count != 0 {
		t.Fatal("expected service account tokens removed")
	}

	var reloaded models.User
	svc.DB.First(&reloaded, "id = ?", member.ID)
	if reloaded.CompanyID != nil {
		t.Fatal("expected member to be detached")
	}

	if err := svc.Delete(ctx, company.ID); !errors.Is(err, ErrCompanyNotFound) {
		t.Fatalf("expected ErrCompanyNotFound, got %v", err)
	}
}

func TestCompanyService_FindByName(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestCompanyService(t)
	if _, err := svc.Create(ctx, acmeInput()); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	company, err := svc.FindByName(ctx, " acme ")
	if err != nil || company.Name != "Acme" {
		t.Fatalf("expected Acme, got %v (%v)", company, err)
	}
	if _, err := svc.FindByName(ctx, "missing"); !errors.Is(err, ErrCompanyNotFound) {
		t.Fatalf("expected ErrCompanyNotFound, got %v", err)
	}

	companies, err := svc.List(ctx)
	if err != nil || len(companies) != 1 {
		t.Fatalf("expected 1 company, got %d (%v)", len(companies), err)
	}
}
