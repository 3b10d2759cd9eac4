package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestBaseModel_BeforeCreate(t *testing.T) {
	t.Run("generates UUID if not set", func(t *testing.T) {
		model := &BaseModel{}
		if err := model.BeforeCreate(nil); err != nil {
			t.Fatalf("BeforeCreate returned error: %v", err)
		}
		if model.ID == uuid.Nil {
			t.Error("expected ID to be generated, got nil UUID")
		}
	})

	t.Run("preserves existing UUID", func(t *testing.T) {
		existingID := uuid.New()
		model := &BaseModel{ID: existingID}
		if err := model.BeforeCreate(nil); err != nil {
			t.Fatalf("BeforeCreate returned error: %v", err)
		}
		if model.ID != existingID {
			t.Errorf("expected ID to remain %s, got %s", existingID, model.ID)
		}
	})
}

func TestToken_BeforeCreate(t *testing.T) {
	token := &Token{}
	if err := token.BeforeCreate(nil); err != nil {
		t.Fatalf("BeforeCreate returned error: %v", err)
	}
	if token.ID == uuid.Nil || token.Token == uuid.Nil {
		t.Fatalf("expected id and token value to be generated, got %+v", token)
	}
	if token.ID == token.Token {
		t.Fatal("expected token value to differ from row id")
	}
}

func TestToken_IsExpired(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		expiration time.Time
		want       bool
	}{
		{"in the future", now.Add(time.Hour), false},
		{"exactly now", now, true},
		{"in the past", now.Add(-time.Hour), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := Token{Expiration: tt.expiration}
			if got := token.IsExpired(now); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUser_CompanyAssociation(t *testing.T) {
	t.Run("no company", func(t *testing.T) {
		user := &User{}
		if _, ok := user.CompanyAssociation().(NoCompany); !ok {
			t.Fatalf("expected NoCompany, got %T", user.CompanyAssociation())
		}
	})

	t.Run("preloaded company", func(t *testing.T) {
		company := Company{BaseModel: BaseModel{ID: uuid.New()}, Name: "Acme"}
		user := &User{CompanyID: &company.ID, Company: &company}

		associated, ok := user.CompanyAssociation().(AssociatedCompany)
		if !ok {
			t.Fatalf("expected AssociatedCompany, got %T", user.CompanyAssociation())
		}
		if associated.Company.Name != "Acme" {
			t.Fatalf("expected company Acme, got %q", associated.Company.Name)
		}
	})

	t.Run("company id only", func(t *testing.T) {
		id := uuid.New()
		user := &User{CompanyID: &id}

		associated, ok := user.CompanyAssociation().(AssociatedCompany)
		if !ok || associated.Company.ID != id {
			t.Fatalf("expected association carrying %s, got %+v", id, user.CompanyAssociation())
		}
	})
}

func TestCompanyCandidate_MatchedCompany(t *testing.T) {
	if _, ok := (CompanyCandidate{Match: NoCompany{}}).MatchedCompany(); ok {
		t.Fatal("expected no matched company")
	}

	candidate := CompanyCandidate{Match: AssociatedCompany{Company: Company{Name: "Acme"}}}
	company, ok := candidate.MatchedCompany()
	if !ok || company.Name != "Acme" {
		t.Fatalf("expected Acme, got %+v (ok=%v)", company, ok)
	}
}

func TestLicenseStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from LicenseStatus
		to   LicenseStatus
		want bool
	}{
		{LicenseStatusTrial, LicenseStatusRegular, true},
		{LicenseStatusTrial, LicenseStatusExpired, true},
		{LicenseStatusRegular, LicenseStatusExpired, true},
		{LicenseStatusExpired, LicenseStatusRegular, true},
		{LicenseStatusRegular, LicenseStatusTrial, false},
		{LicenseStatusExpired, LicenseStatusTrial, false},
		{LicenseStatusRegular, LicenseStatusRegular, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLicenseType(t *testing.T) {
	if lt, ok := ParseLicenseType("commercial"); !ok || lt != LicenseTypeCommercial {
		t.Fatalf("expected COMMERCIAL, got %q (ok=%v)", lt, ok)
	}
	if _, ok := ParseLicenseType("GOVERNMENT"); ok {
		t.Fatal("expected unknown license type to be rejected")
	}
}

func TestIntakeFormMailType(t *testing.T) {
	if _, ok := IntakeFormMailType(LicenseTypeAcademic); ok {
		t.Fatal("expected academic license to have no intake form")
	}
	if mt, ok := IntakeFormMailType(LicenseTypeHospital); !ok || mt != MailTypeIntakeFormHospital {
		t.Fatalf("expected hospital intake form, got %q", mt)
	}
}

func TestTableNames(t *testing.T) {
	if (TokenStats{}).TableName() != "token_stats" {
		t.Errorf("unexpected token stats table name %q", TokenStats{}.TableName())
	}
	if (AuditLog{}).TableName() != "audit_logs" {
		t.Errorf("unexpected audit log table name %q", AuditLog{}.TableName())
	}
}

func TestAuditLog_BeforeCreate(t *testing.T) {
	entry := &AuditLog{Action: "token.expire", ResourceType: AuditResourceToken}
	if err := entry.BeforeCreate(nil); err != nil {
		t.Fatalf("BeforeCreate returned error: %v", err)
	}
	if entry.ID == uuid.Nil {
		t.Fatal("expected ID to be generated")
	}
	if entry.CreatedAt.IsZero() || entry.CreatedAt.Location() != time.UTC {
		t.Fatalf("expected UTC creation time, got %v", entry.CreatedAt)
	}

	stamped := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	kept := &AuditLog{CreatedAt: stamped}
	_ = kept.BeforeCreate(nil)
	if !kept.CreatedAt.Equal(stamped) {
		t.Fatalf("expected CreatedAt %v to be kept, got %v", stamped, kept.CreatedAt)
	}
}
