package services

import "errors"

var (
	ErrTooManyTokens           = errors.New("no more than two tokens can be created")
	ErrNoRenewableToken        = errors.New("your account token is expired and cannot be extended")
	ErrActivationKeyMismatch   = errors.New("your user account could not be activated as no user was found associated with this activation key")
	ErrUserNotFound            = errors.New("user not found")
	ErrUnauthorizedTokenAccess = errors.New("token does not belong to the current user")
	ErrTokenNotFound           = errors.New("token not found")
	ErrTokenExpired            = errors.New("token is expired")

	ErrLoginAlreadyUsed    = errors.New("login name already used")
	ErrEmailAlreadyUsed    = errors.New("email is already in use")
	ErrInvalidPassword     = errors.New("incorrect password")
	ErrInvalidPasswordSize = errors.New("password must be between 4 and 100 characters")
	ErrInvalidResetKey     = errors.New("no user was found for this reset key")
	ErrInvalidTrialKey     = errors.New("no user was found for this trial activation key")
	ErrTermsNotAccepted    = errors.New("you have to read and agree with the terms")
	ErrUserNotActivated    = errors.New("user account is not activated")
	ErrInvalidRole         = errors.New("invalid role")

	ErrCompanyNotFound            = errors.New("company not found")
	ErrCompanyNameTaken           = errors.New("company name already in use")
	ErrCompanyDomainTaken         = errors.New("email domain already belongs to another company")
	ErrCompanyDomainsRequired     = errors.New("company must have at least one domain")
	ErrInvalidLicenseStatusChange = errors.New("license status change is not allowed")
	ErrInvalidLicenseValue        = errors.New("invalid license type, status or model")
	ErrServiceAccountExists       = errors.New("company already has a service account")
	ErrServiceAccountNotFound     = errors.New("company has no service account")
)
