// Package fido2 is the WebAuthn authenticator. Challenge state travels to the client
// inside a SHORT token bound to the identity, so nothing is stored between round trips.
package fido2

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-sso-broker/audit"
	"github.com/jrsteele09/go-sso-broker/authenticators"
	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
	"github.com/jrsteele09/go-sso-broker/token"
	"github.com/jrsteele09/go-sso-broker/users"
)

const (
	purposeRegister = "fido2-register"
	purposeLogin    = "fido2-login"
)

var _ authenticators.Authenticator = (*Authenticator)(nil)

type Authenticator struct {
	verifier Verifier
	records  authenticators.Repo
	users    users.UserRepo
	tokens   *token.Service
	signer   token.Signer
	auditor  authenticators.Auditor
	nowFunc  func() time.Time
}

type Option func(*Authenticator)

func WithNowFunc(now func() time.Time) Option {
	return func(a *Authenticator) {
		a.nowFunc = now
	}
}

func New(
	verifier Verifier,
	records authenticators.Repo,
	userRepo users.UserRepo,
	tokens *token.Service,
	signer token.Signer,
	auditor authenticators.Auditor,
	options ...Option,
) *Authenticator {
	a := &Authenticator{
		verifier: verifier,
		records:  records,
		users:    userRepo,
		tokens:   tokens,
		signer:   signer,
		auditor:  auditor,
		nowFunc:  time.Now,
	}
	for _, opt := range options {
		opt(a)
	}
	return a
}

func (a *Authenticator) Type() authenticators.Type {
	return authenticators.TypeFIDO2
}

// BeginRegistration returns creation options for a new credential.
func (a *Authenticator) BeginRegistration(ctx context.Context, identity authenticators.IdentityRef) (*authenticators.Challenge, error) {
	user, _, err := a.webauthnUser(ctx, identity)
	if err != nil {
		return nil, err
	}
	options, challenge, err := a.verifier.RegistrationOptions(user)
	if err != nil {
		return nil, apperrors.Internal("Attestation generation failed", err)
	}
	state, err := a.signState(identity.UserID, challenge, purposeRegister)
	if err != nil {
		return nil, err
	}
	return &authenticators.Challenge{Options: options, State: state}, nil
}

// CompleteRegistration verifies the attestation and enrolls the credential under label.
func (a *Authenticator) CompleteRegistration(ctx context.Context, identity authenticators.IdentityRef, label string, response authenticators.Response, state string) (*authenticators.Record, error) {
	if err := authenticators.ValidateLabel(label); err != nil {
		return nil, err
	}
	challenge, err := a.verifyState(identity.UserID, state, purposeRegister)
	if err != nil {
		return nil, err
	}
	user, _, err := a.webauthnUser(ctx, identity)
	if err != nil {
		return nil, err
	}
	cred, err := a.verifier.VerifyRegistration(user, challenge, response.Credential)
	if err != nil {
		log.Warn().Err(err).Str("user", identity.UserID).Msg("fido2 attestation rejected")
		return nil, apperrors.AuthenticationFailed("Attestation failed")
	}

	record := &authenticators.Record{
		UserID:    identity.UserID,
		Type:      authenticators.TypeFIDO2,
		Handle:    cred.Handle,
		Label:     label,
		Counter:   &cred.Counter,
		PublicKey: cred.PublicKey,
		Created:   a.nowFunc().UTC(),
	}
	if _, err := a.auditor.Add(ctx, audit.Event{
		UserID: identity.UserID, IP: response.IP,
		Object: audit.ObjectAuthenticator, Action: audit.ActionAdd, Attribute: record.Display(),
	}); err != nil {
		return nil, err
	}
	if err := a.records.Add(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// BeginChallenge returns assertion options restricted to the identity's fido2 credentials.
func (a *Authenticator) BeginChallenge(ctx context.Context, identity authenticators.IdentityRef) (*authenticators.Challenge, error) {
	user, _, err := a.webauthnUser(ctx, identity)
	if err != nil {
		return nil, err
	}
	if len(user.Credentials) == 0 {
		return nil, apperrors.NotFound("Authenticator does not exist")
	}
	options, challenge, err := a.verifier.AssertionOptions(user)
	if err != nil {
		return nil, apperrors.Internal("Assertion generation failed", err)
	}
	state, err := a.signState(identity.UserID, challenge, purposeLogin)
	if err != nil {
		return nil, err
	}
	return &authenticators.Challenge{Options: options, State: state}, nil
}

// CompleteChallenge verifies the assertion and enforces a strictly increasing counter.
// Authenticators that always report 0 are exempt.
func (a *Authenticator) CompleteChallenge(ctx context.Context, identity authenticators.IdentityRef, response authenticators.Response, state string) (*authenticators.AuthResult, error) {
	challenge, err := a.verifyState(identity.UserID, state, purposeLogin)
	if err != nil {
		return nil, err
	}
	user, records, err := a.webauthnUser(ctx, identity)
	if err != nil {
		return nil, err
	}
	assertion, err := a.verifier.VerifyAssertion(user, challenge, response.Credential)
	if err != nil {
		log.Warn().Err(err).Str("user", identity.UserID).Msg("fido2 assertion rejected")
		return nil, apperrors.AuthenticationFailed("Assertion failed")
	}

	record := findRecord(records, assertion.Handle)
	if record == nil {
		return nil, apperrors.AuthenticationFailed("Assertion failed")
	}
	var stored uint32
	if record.Counter != nil {
		stored = *record.Counter
	}
	if assertion.Counter <= stored && !(assertion.Counter == 0 && stored == 0) {
		log.Warn().Str("user", identity.UserID).Str("handle", record.Handle).
			Uint32("stored", stored).Uint32("reported", assertion.Counter).
			Msg("fido2 counter did not increase, possible cloned authenticator")
		return nil, apperrors.AuthenticationFailed("Assertion failed")
	}

	if err := a.records.UpdateCounter(ctx, record.ID, assertion.Counter); err != nil {
		return nil, err
	}
	counter := assertion.Counter
	record.Counter = &counter

	if _, err := a.auditor.Add(ctx, audit.Event{
		UserID: identity.UserID, IP: response.IP,
		Object: audit.ObjectAuthenticator, Action: audit.ActionLogin, Attribute: record.Display(),
	}); err != nil {
		return nil, err
	}

	u, err := a.users.GetByID(ctx, identity.UserID)
	if err != nil {
		return nil, err
	}
	return &authenticators.AuthResult{User: u, Record: record}, nil
}

func (a *Authenticator) webauthnUser(ctx context.Context, identity authenticators.IdentityRef) (User, []*authenticators.Record, error) {
	records, err := a.records.ListByUser(ctx, identity.UserID, authenticators.TypeFIDO2)
	if err != nil {
		return User{}, nil, err
	}
	user := User{ID: identity.UserID, Username: identity.Username}
	for _, r := range records {
		var counter uint32
		if r.Counter != nil {
			counter = *r.Counter
		}
		user.Credentials = append(user.Credentials, StoredCredential{Handle: r.Handle, PublicKey: r.PublicKey, Counter: counter})
	}
	return user, records, nil
}

func (a *Authenticator) signState(userID, challenge, purpose string) (string, error) {
	raw, err := a.tokens.Sign(jwt.MapClaims{
		"sub":       userID,
		"challenge": challenge,
		"purpose":   purpose,
	}, a.signer, token.Short)
	if err != nil {
		return "", apperrors.Internal("Could not sign challenge", err)
	}
	return raw, nil
}

func (a *Authenticator) verifyState(userID, state, purpose string) (string, error) {
	claims, err := a.tokens.Verify(state, a.signer, token.VerifyOptions{MaxAge: token.Short, Subject: userID})
	if err != nil {
		return "", err
	}
	challenge := token.ClaimString(claims, "challenge")
	if token.ClaimString(claims, "purpose") != purpose || challenge == "" {
		return "", apperrors.TokenInvalid("Invalid token")
	}
	return challenge, nil
}

func findRecord(records []*authenticators.Record, handle string) *authenticators.Record {
	for _, r := range records {
		if r.Handle == handle {
			return r
		}
	}
	return nil
}
