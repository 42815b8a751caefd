package auth

import (
	"github.com/jrsteele09/go-sso-broker/internal/validation"
)

// RegisterRequest starts a registration.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,email"`
}

// ActivateRequest completes a registration with the emailed token.
type ActivateRequest struct {
	Token    string `json:"token" validate:"required,hexadecimal,len=60"`
	Password string `json:"password" validate:"required"`
}

// ChangeRequest asks for a password change link.
type ChangeRequest struct {
	Username string `json:"username" validate:"required,email"`
}

// ChangePasswordRequest sets a new password with the emailed token.
type ChangePasswordRequest struct {
	Token    string `json:"token" validate:"required,hexadecimal,len=60"`
	Password string `json:"password" validate:"required"`
}

// LoginRequest is a password first factor.
type LoginRequest struct {
	Username string `json:"username" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

var messages = map[string]string{
	"Username": "Invalid email address",
	"Token":    "Invalid token",
	"Password": "No password provided",
}

func (r RegisterRequest) Validate() error       { return validation.Struct(r, messages) }
func (r ActivateRequest) Validate() error       { return validation.Struct(r, messages) }
func (r ChangeRequest) Validate() error         { return validation.Struct(r, messages) }
func (r ChangePasswordRequest) Validate() error { return validation.Struct(r, messages) }
func (r LoginRequest) Validate() error          { return validation.Struct(r, messages) }
