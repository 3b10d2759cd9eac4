package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MailType string

const (
	MailTypeActivation                       MailType = "ACTIVATION"
	MailTypeApproval                         MailType = "APPROVAL"
	MailTypeApprovalAlignLicenseWithCompany  MailType = "APPROVAL_ALIGN_LICENSE_WITH_COMPANY"
	MailTypePasswordReset                    MailType = "PASSWORD_RESET"
	MailTypeActivateFreeTrial                MailType = "ACTIVATE_FREE_TRIAL"
	MailTypeClarifyAcademicNonInstituteEmail MailType = "CLARIFY_ACADEMIC_NON_INSTITUTE_EMAIL"
	MailTypeIntakeFormCommercial             MailType = "INTAKE_FORM_COMMERCIAL"
	MailTypeIntakeFormResearchInCommercial   MailType = "INTAKE_FORM_RESEARCH_COMMERCIAL"
	MailTypeIntakeFormHospital               MailType = "INTAKE_FORM_HOSPITAL"
	MailTypeVerifyEmailBeforeAccountExpires  MailType = "VERIFY_EMAIL_BEFORE_ACCOUNT_EXPIRES"
)

// intakeFormMailTypes maps a license type to the intake form sent while the
// account waits for manual review. Academic accounts have none.
var intakeFormMailTypes = map[LicenseType]MailType{
	LicenseTypeCommercial:           MailTypeIntakeFormCommercial,
	LicenseTypeResearchInCommercial: MailTypeIntakeFormResearchInCommercial,
	LicenseTypeHospital:             MailTypeIntakeFormHospital,
}

func IntakeFormMailType(licenseType LicenseType) (MailType, bool) {
	mailType, ok := intakeFormMailTypes[licenseType]
	return mailType, ok
}

// UserMail records every templated mail delivered to a user.
type UserMail struct {
	ID       uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	UserID   uuid.UUID `json:"userID" gorm:"type:uuid;not null;index"`
	MailType MailType  `json:"mailType" gorm:"type:varchar(60);not null"`
	SentFrom string    `json:"sentFrom" gorm:"type:varchar(255);not null"`
	SentBy   string    `json:"sentBy" gorm:"type:varchar(50)"`
	SentDate time.Time `json:"sentDate" gorm:"not null;index"`
}

func (m *UserMail) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
