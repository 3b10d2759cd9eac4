package models

import "strings"

type LicenseType string

const (
	LicenseTypeAcademic             LicenseType = "ACADEMIC"
	LicenseTypeCommercial           LicenseType = "COMMERCIAL"
	LicenseTypeResearchInCommercial LicenseType = "RESEARCH_IN_COMMERCIAL"
	LicenseTypeHospital             LicenseType = "HOSPITAL"
)

var licenseTypes = []LicenseType{
	LicenseTypeAcademic,
	LicenseTypeCommercial,
	LicenseTypeResearchInCommercial,
	LicenseTypeHospital,
}

var licenseTypeNames = map[LicenseType]string{
	LicenseTypeAcademic:             "Academic Research",
	LicenseTypeCommercial:           "Commercial",
	LicenseTypeResearchInCommercial: "Research in Commercial",
	LicenseTypeHospital:             "Hospital",
}

func ParseLicenseType(value string) (LicenseType, bool) {
	for _, lt := range licenseTypes {
		if strings.EqualFold(string(lt), value) {
			return lt, true
		}
	}
	return "", false
}

func (l LicenseType) Name() string {
	if name, ok := licenseTypeNames[l]; ok {
		return name
	}
	return string(l)
}

func (l LicenseType) IsCommercial() bool {
	return l != LicenseTypeAcademic
}

type LicenseStatus string

const (
	LicenseStatusTrial   LicenseStatus = "TRIAL"
	LicenseStatusRegular LicenseStatus = "REGULAR"
	LicenseStatusExpired LicenseStatus = "EXPIRED"
)

func ParseLicenseStatus(value string) (LicenseStatus, bool) {
	for _, s := range []LicenseStatus{LicenseStatusTrial, LicenseStatusRegular, LicenseStatusExpired} {
		if strings.EqualFold(string(s), value) {
			return s, true
		}
	}
	return "", false
}

// licenseStatusTransitions lists the statuses a company may move to from a
// given status. Staying on the same status is always allowed.
var licenseStatusTransitions = map[LicenseStatus][]LicenseStatus{
	LicenseStatusTrial:   {LicenseStatusRegular, LicenseStatusExpired},
	LicenseStatusRegular: {LicenseStatusExpired},
	LicenseStatusExpired: {LicenseStatusRegular},
}

func (s LicenseStatus) CanTransitionTo(next LicenseStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range licenseStatusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type LicenseModel string

const (
	LicenseModelFull    LicenseModel = "FULL"
	LicenseModelLimited LicenseModel = "LIMITED"
)

func ParseLicenseModel(value string) (LicenseModel, bool) {
	for _, m := range []LicenseModel{LicenseModelFull, LicenseModelLimited} {
		if strings.EqualFold(string(m), value) {
			return m, true
		}
	}
	return "", false
}
