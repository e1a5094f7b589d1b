package app

import "errors"

var (
	ErrMissingFields           = errors.New("required fields are missing")
	ErrEmailAlreadyExists      = errors.New("email already registered")
	ErrInvalidCredentials      = errors.New("invalid email or password")
	ErrForbidden               = errors.New("operation requires admin role")
	ErrSelfDelete              = errors.New("cannot delete the active account")
	ErrNotFound                = errors.New("not found")
	ErrNegativeStock           = errors.New("stock cannot be negative")
	ErrCoverStorageUnavailable = errors.New("cover storage is not configured")
)
