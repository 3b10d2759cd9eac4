package models

import (
	"time"

	"github.com/google/uuid"
)

type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
)

type User struct {
	BaseModel
	Login          string       `json:"login" gorm:"type:varchar(100);uniqueIndex;not null"`
	Email          string       `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash   string       `json:"-" gorm:"type:text;not null"`
	FirstName      string       `json:"firstName" gorm:"type:varchar(100);not null"`
	LastName       string       `json:"lastName" gorm:"type:varchar(100);not null"`
	Role           UserRole     `json:"role" gorm:"type:varchar(20);not null;default:'user'"`
	Activated      bool         `json:"activated" gorm:"not null;default:false"`
	Approved       bool         `json:"approved" gorm:"not null;default:false"`
	ActivationKey  *string      `json:"-" gorm:"type:varchar(20);index"`
	ResetKey       *string      `json:"-" gorm:"type:varchar(20);index"`
	ResetDate      *time.Time   `json:"-"`
	LicenseType    LicenseType  `json:"licenseType" gorm:"type:varchar(40);not null;default:'ACADEMIC'"`
	CompanyID      *uuid.UUID   `json:"companyID,omitempty" gorm:"type:uuid;index"`
	ServiceAccount bool         `json:"serviceAccount" gorm:"not null;default:false"`
	Company        *Company     `json:"company,omitempty" gorm:"foreignKey:CompanyID"`
	Details        *UserDetails `json:"details,omitempty" gorm:"foreignKey:UserID"`
}

func (u *User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// CompanyAssociation reports the company the user belongs to. A company id
// without a preloaded company yields an association carrying only the id.
func (u *User) CompanyAssociation() CompanyAssociation {
	if u.CompanyID == nil {
		return NoCompany{}
	}
	if u.Company != nil && u.Company.ID == *u.CompanyID {
		return AssociatedCompany{Company: *u.Company}
	}
	return AssociatedCompany{Company: Company{BaseModel: BaseModel{ID: *u.CompanyID}}}
}

type UserDetails struct {
	BaseModel
	UserID                     uuid.UUID   `json:"userID" gorm:"type:uuid;uniqueIndex;not null"`
	JobTitle                   string      `json:"jobTitle" gorm:"type:varchar(255)"`
	CompanyName                string      `json:"companyName" gorm:"type:varchar(255)"`
	City                       string      `json:"city" gorm:"type:varchar(100)"`
	Country                    string      `json:"country" gorm:"type:varchar(100)"`
	Address                    string      `json:"address" gorm:"type:text"`
	LicenseType                LicenseType `json:"licenseType" gorm:"type:varchar(40)"`
	TrialActivationKey         *string     `json:"-" gorm:"type:varchar(20);index"`
	TrialActivationInitiatedAt *time.Time  `json:"trialActivationInitiatedAt,omitempty"`
	TermsAcceptedAt            *time.Time  `json:"termsAcceptedAt,omitempty"`
}

func (UserDetails) TableName() string {
	return "user_details"
}
