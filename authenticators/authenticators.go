// Package authenticators holds the per-identity authenticator records and the
// type-to-implementation registry the login state machine dispatches through.
package authenticators

import (
	"context"
	"crypto/x509"
	"time"

	"github.com/jrsteele09/go-sso-broker/audit"
	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
	"github.com/jrsteele09/go-sso-broker/internal/validation"
	"github.com/jrsteele09/go-sso-broker/pages"
	"github.com/jrsteele09/go-sso-broker/users"
)

type Type string

const (
	TypePassword Type = "password"
	TypeFIDO2    Type = "fido2"
	TypeCert     Type = "cert"
)

// Valid reports whether t is one of the closed set of authenticator types.
func (t Type) Valid() bool {
	switch t {
	case TypePassword, TypeFIDO2, TypeCert:
		return true
	}
	return false
}

// Record is one enrolled authenticator. Handle is unique within (UserID, Type):
// the credential ID for fido2 and the certificate fingerprint for cert.
type Record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	Type      Type      `json:"type"`
	Handle    string    `json:"handle"`
	Label     string    `json:"label"`
	Counter   *uint32   `json:"-"`
	PublicKey []byte    `json:"-"`
	Created   time.Time `json:"created"`
}

// Display renders the record the way audit attributes name it.
func (r *Record) Display() string {
	return r.Label + " (" + r.Handle + ")"
}

type Repo interface {
	// Add stores a record, assigning an ID when empty. A duplicate (user, type, handle) is a Conflict.
	Add(ctx context.Context, record *Record) error
	Remove(ctx context.Context, userID string, t Type, handle string) error
	// ListByUser returns the user's records, restricted to t unless t is empty.
	ListByUser(ctx context.Context, userID string, t Type) ([]*Record, error)
	// FindByHandle searches all users when userID is empty.
	FindByHandle(ctx context.Context, userID string, t Type, handle string) (*Record, error)
	UpdateCounter(ctx context.Context, id string, counter uint32) error
}

// IdentityRef names the identity a challenge is run for.
type IdentityRef struct {
	UserID   string
	Username string
}

// RefFor builds an IdentityRef from a stored user.
func RefFor(u *users.User) IdentityRef {
	return IdentityRef{UserID: u.ID, Username: u.Username}
}

// Challenge is what BeginChallenge hands to the client. State is a signed SHORT
// token that must come back unchanged with the response.
type Challenge struct {
	Options any    `json:"options"`
	State   string `json:"state"`
}

// Response carries the client's answer; each authenticator reads only its own fields.
type Response struct {
	IP          string
	Password    string
	Credential  []byte // WebAuthn assertion or attestation JSON
	Certificate *x509.Certificate
	Page        *pages.Page // relying party from the caller's flow context, if any
}

// AuthResult is returned by a successful CompleteChallenge. The authenticator has
// already written the audit entry for it.
type AuthResult struct {
	User   *users.User
	Record *Record
}

type Authenticator interface {
	Type() Type
	BeginChallenge(ctx context.Context, identity IdentityRef) (*Challenge, error)
	CompleteChallenge(ctx context.Context, identity IdentityRef, response Response, state string) (*AuthResult, error)
}

// ErrNoChallenge is returned by BeginChallenge for authenticators without a challenge step.
var ErrNoChallenge = apperrors.New("authenticator has no challenge step")

// ValidateLabel enforces 1-25 characters of letters, digits, underscore, space or dash.
func ValidateLabel(label string) error {
	if !validation.Label(label) {
		return apperrors.ValidationField("label", "Invalid label name")
	}
	return nil
}

// Auditor records the audit entry every successful challenge owes.
type Auditor interface {
	Add(ctx context.Context, ev audit.Event) (*audit.Entry, error)
}
