package fido2

import (
	"bytes"
	"encoding/base64"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/pkg/errors"
)

// User is the identity a WebAuthn ceremony runs for, with its enrolled credentials.
type User struct {
	ID          string
	Username    string
	Credentials []StoredCredential
}

type StoredCredential struct {
	Handle    string
	PublicKey []byte
	Counter   uint32
}

// NewCredential is the result of a verified attestation.
type NewCredential struct {
	Handle    string
	PublicKey []byte
	Counter   uint32
}

// Assertion is the result of a verified assertion. Counter is the value the
// authenticator reported, not the stored one.
type Assertion struct {
	Handle  string
	Counter uint32
}

// Verifier performs the WebAuthn ceremonies. Challenges are opaque strings that the
// caller carries between the two round trips.
type Verifier interface {
	RegistrationOptions(user User) (options any, challenge string, err error)
	VerifyRegistration(user User, challenge string, body []byte) (*NewCredential, error)
	AssertionOptions(user User) (options any, challenge string, err error)
	VerifyAssertion(user User, challenge string, body []byte) (*Assertion, error)
}

// EncodeHandle renders a raw credential ID as the stored handle.
func EncodeHandle(id []byte) string {
	return base64.RawURLEncoding.EncodeToString(id)
}

func DecodeHandle(handle string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(handle)
}

// WebAuthnConfig names the relying party the browser binds credentials to.
type WebAuthnConfig struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string
}

// WebAuthnVerifier implements Verifier with go-webauthn.
type WebAuthnVerifier struct {
	w *webauthn.WebAuthn
}

func NewWebAuthnVerifier(cfg WebAuthnConfig) (*WebAuthnVerifier, error) {
	w, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPDisplayName,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, errors.Wrap(err, "[fido2.NewWebAuthnVerifier]")
	}
	return &WebAuthnVerifier{w: w}, nil
}

type webauthnUser struct {
	user  User
	creds []webauthn.Credential
}

func newWebauthnUser(u User) (*webauthnUser, error) {
	wu := &webauthnUser{user: u}
	for _, c := range u.Credentials {
		id, err := DecodeHandle(c.Handle)
		if err != nil {
			return nil, errors.Wrapf(err, "decode credential handle %q", c.Handle)
		}
		wu.creds = append(wu.creds, webauthn.Credential{
			ID:            id,
			PublicKey:     c.PublicKey,
			Authenticator: webauthn.Authenticator{SignCount: c.Counter},
		})
	}
	return wu, nil
}

func (u *webauthnUser) WebAuthnID() []byte                         { return []byte(u.user.ID) }
func (u *webauthnUser) WebAuthnName() string                       { return u.user.Username }
func (u *webauthnUser) WebAuthnDisplayName() string                { return u.user.Username }
func (u *webauthnUser) WebAuthnIcon() string                       { return "" }
func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential { return u.creds }

func (v *WebAuthnVerifier) RegistrationOptions(user User) (any, string, error) {
	wu, err := newWebauthnUser(user)
	if err != nil {
		return nil, "", err
	}
	exclude := make([]protocol.CredentialDescriptor, 0, len(wu.creds))
	for _, c := range wu.creds {
		exclude = append(exclude, c.Descriptor())
	}
	creation, session, err := v.w.BeginRegistration(wu,
		webauthn.WithConveyancePreference(protocol.PreferNoAttestation),
		webauthn.WithExclusions(exclude))
	if err != nil {
		return nil, "", errors.Wrap(err, "[WebAuthnVerifier.RegistrationOptions]")
	}
	return creation, session.Challenge, nil
}

func (v *WebAuthnVerifier) VerifyRegistration(user User, challenge string, body []byte) (*NewCredential, error) {
	wu, err := newWebauthnUser(user)
	if err != nil {
		return nil, err
	}
	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "[WebAuthnVerifier.VerifyRegistration] parse")
	}
	cred, err := v.w.CreateCredential(wu, webauthn.SessionData{Challenge: challenge, UserID: wu.WebAuthnID()}, parsed)
	if err != nil {
		return nil, errors.Wrap(err, "[WebAuthnVerifier.VerifyRegistration]")
	}
	return &NewCredential{
		Handle:    EncodeHandle(cred.ID),
		PublicKey: cred.PublicKey,
		Counter:   cred.Authenticator.SignCount,
	}, nil
}

func (v *WebAuthnVerifier) AssertionOptions(user User) (any, string, error) {
	wu, err := newWebauthnUser(user)
	if err != nil {
		return nil, "", err
	}
	assertion, session, err := v.w.BeginLogin(wu)
	if err != nil {
		return nil, "", errors.Wrap(err, "[WebAuthnVerifier.AssertionOptions]")
	}
	return assertion, session.Challenge, nil
}

func (v *WebAuthnVerifier) VerifyAssertion(user User, challenge string, body []byte) (*Assertion, error) {
	wu, err := newWebauthnUser(user)
	if err != nil {
		return nil, err
	}
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "[WebAuthnVerifier.VerifyAssertion] parse")
	}
	cred, err := v.w.ValidateLogin(wu, webauthn.SessionData{Challenge: challenge, UserID: wu.WebAuthnID()}, parsed)
	if err != nil {
		return nil, errors.Wrap(err, "[WebAuthnVerifier.VerifyAssertion]")
	}
	return &Assertion{
		Handle:  EncodeHandle(cred.ID),
		Counter: parsed.Response.AuthenticatorData.Counter,
	}, nil
}
