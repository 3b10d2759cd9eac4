package models

import "github.com/google/uuid"

type Company struct {
	BaseModel
	Name          string          `json:"name" gorm:"type:varchar(255);uniqueIndex;not null"`
	Description   string          `json:"description" gorm:"type:text"`
	LicenseType   LicenseType     `json:"licenseType" gorm:"type:varchar(40);not null"`
	LicenseStatus LicenseStatus   `json:"licenseStatus" gorm:"type:varchar(20);not null"`
	LicenseModel  LicenseModel    `json:"licenseModel" gorm:"type:varchar(20);not null"`
	Domains       []CompanyDomain `json:"domains" gorm:"foreignKey:CompanyID"`
}

func (c *Company) DomainNames() []string {
	names := make([]string, len(c.Domains))
	for i, d := range c.Domains {
		names[i] = d.Name
	}
	return names
}

type CompanyDomain struct {
	BaseModel
	Name      string    `json:"name" gorm:"type:varchar(255);uniqueIndex;not null"`
	CompanyID uuid.UUID `json:"companyID" gorm:"type:uuid;not null;index"`
}

// CompanyAssociation is either NoCompany or AssociatedCompany.
type CompanyAssociation interface {
	isCompanyAssociation()
}

type NoCompany struct{}

type AssociatedCompany struct {
	Company Company
}

func (NoCompany) isCompanyAssociation()         {}
func (AssociatedCompany) isCompanyAssociation() {}

// CompanyCandidate is the result of matching an email domain against the
// registered company domains. It is never persisted.
type CompanyCandidate struct {
	CanAssociate bool
	Match        CompanyAssociation
}

// MatchedCompany returns the candidate company, if any.
func (c CompanyCandidate) MatchedCompany() (Company, bool) {
	if associated, ok := c.Match.(AssociatedCompany); ok {
		return associated.Company, true
	}
	return Company{}, false
}
