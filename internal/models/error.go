package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Credential and lockout errors. Wrong email and wrong password map to
	// the same error to prevent account enumeration.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account is temporarily locked")

	// Token errors
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenInvalid   = errors.New("token invalid")
	ErrRefreshInvalid = errors.New("refresh session invalid")

	// Second factor errors
	ErrTOTPRequired = errors.New("totp code required")
	ErrTOTPInvalid  = errors.New("totp code invalid")
)
