package auth

import apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"

var (
	ErrNotLoggedIn      = apperrors.TokenInvalid("You need to be logged in")
	ErrNotAuthenticated = apperrors.TokenInvalid("You need to be authenticated")
	ErrTokenMismatch    = apperrors.TokenInvalid("Token mismatch")
	ErrSessionExpired   = apperrors.TokenInvalid("Session expired")
)
