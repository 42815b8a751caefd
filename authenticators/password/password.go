// Package password is the password authenticator: a single round trip with no challenge step.
package password

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-sso-broker/audit"
	"github.com/jrsteele09/go-sso-broker/authenticators"
	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
	"github.com/jrsteele09/go-sso-broker/users"
)

const failedMessage = "No user with this username/password combination found"

var _ authenticators.Authenticator = (*Authenticator)(nil)

type Authenticator struct {
	users   users.UserRepo
	hasher  *users.Hasher
	policy  *users.PasswordPolicy
	auditor authenticators.Auditor
	nowFunc func() time.Time
}

type Option func(*Authenticator)

func WithNowFunc(now func() time.Time) Option {
	return func(a *Authenticator) {
		a.nowFunc = now
	}
}

func New(repo users.UserRepo, hasher *users.Hasher, policy *users.PasswordPolicy, auditor authenticators.Auditor, options ...Option) *Authenticator {
	a := &Authenticator{
		users:   repo,
		hasher:  hasher,
		policy:  policy,
		auditor: auditor,
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(a)
	}
	return a
}

func (a *Authenticator) Type() authenticators.Type {
	return authenticators.TypePassword
}

func (a *Authenticator) BeginChallenge(context.Context, authenticators.IdentityRef) (*authenticators.Challenge, error) {
	return nil, authenticators.ErrNoChallenge
}

// CompleteChallenge verifies response.Password against the user's current hash. Unknown
// users and users without a password run a dummy verification and fail the same way.
func (a *Authenticator) CompleteChallenge(ctx context.Context, identity authenticators.IdentityRef, response authenticators.Response, _ string) (*authenticators.AuthResult, error) {
	user, err := a.lookup(ctx, identity)
	if err != nil {
		a.hasher.VerifyDummy(response.Password)
		return nil, apperrors.AuthenticationFailed(failedMessage)
	}

	hashes, err := a.users.PasswordHistory(ctx, user.ID, 1)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[password.CompleteChallenge] history")
	}
	if len(hashes) == 0 {
		a.hasher.VerifyDummy(response.Password)
		return nil, apperrors.AuthenticationFailed(failedMessage)
	}
	if !a.hasher.Verify(response.Password, hashes[0]) {
		return nil, apperrors.AuthenticationFailed(failedMessage)
	}

	if _, err := a.auditor.Add(ctx, audit.Event{
		UserID: user.ID, IP: response.IP, Object: audit.ObjectLogin, Action: audit.ActionPassword,
	}); err != nil {
		return nil, err
	}
	if err := a.users.UpdateLoginTime(ctx, user.ID, a.nowFunc().UTC()); err != nil {
		log.Err(err).Str("user", user.ID).Msg("failed to update last login time")
	}

	return &authenticators.AuthResult{
		User:   user,
		Record: &authenticators.Record{UserID: user.ID, Type: authenticators.TypePassword, Handle: "password", Label: "Password"},
	}, nil
}

// SetPassword checks the policy and appends a new hash to the user's history.
func (a *Authenticator) SetPassword(ctx context.Context, userID, password string) error {
	if err := a.policy.Check(ctx, userID, password); err != nil {
		return err
	}
	hash, err := a.hasher.Hash(password)
	if err != nil {
		return apperrors.Internal("Could not store password", err)
	}
	return a.users.AddPassword(ctx, userID, hash, a.nowFunc().UTC())
}

// CheckPolicy validates a password before the user exists, as registration does.
func (a *Authenticator) CheckPolicy(ctx context.Context, password string) error {
	return a.policy.Check(ctx, "", password)
}

func (a *Authenticator) lookup(ctx context.Context, identity authenticators.IdentityRef) (*users.User, error) {
	if identity.UserID != "" {
		return a.users.GetByID(ctx, identity.UserID)
	}
	return a.users.GetByUsername(ctx, identity.Username)
}
