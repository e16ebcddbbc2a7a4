package session

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email is already registered")
	ErrTooManyAttempts    = errors.New("too many login attempts, try again later")
	ErrNotAuthenticated   = errors.New("not signed in")
	ErrSessionExpired     = errors.New("session expired")
	ErrMissingToken       = errors.New("backend returned no token")

	errNoIdentity = errors.New("stored user has no identity")
)
