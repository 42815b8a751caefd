// Package cert authenticates X.509 client certificates, either chained to a page's
// custom CA (optionally confirmed by the page's webhook) or issued by the broker's
// native CA and enrolled against the identity.
package cert

import (
	"context"
	"crypto/x509"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-sso-broker/audit"
	"github.com/jrsteele09/go-sso-broker/authenticators"
	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
	"github.com/jrsteele09/go-sso-broker/pages"
	"github.com/jrsteele09/go-sso-broker/trust"
	"github.com/jrsteele09/go-sso-broker/users"
)

var _ authenticators.Authenticator = (*Authenticator)(nil)

// TrustStore verifies certificate chains.
type TrustStore interface {
	VerifyNative(cert *x509.Certificate) error
	VerifyWith(authority string, cert *x509.Certificate) error
}

// Issuer signs new client certificates with the native CA.
type Issuer interface {
	Issue(username string) (*trust.IssuedCertificate, error)
}

type Authenticator struct {
	store   TrustStore
	issuer  Issuer
	webhook WebhookVerifier
	records authenticators.Repo
	users   users.UserRepo
	auditor authenticators.Auditor
	nowFunc func() time.Time
}

type Option func(*Authenticator)

func WithNowFunc(now func() time.Time) Option {
	return func(a *Authenticator) {
		a.nowFunc = now
	}
}

func New(
	store TrustStore,
	issuer Issuer,
	webhook WebhookVerifier,
	records authenticators.Repo,
	userRepo users.UserRepo,
	auditor authenticators.Auditor,
	options ...Option,
) *Authenticator {
	a := &Authenticator{
		store:   store,
		issuer:  issuer,
		webhook: webhook,
		records: records,
		users:   userRepo,
		auditor: auditor,
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(a)
	}
	return a
}

func (a *Authenticator) Type() authenticators.Type {
	return authenticators.TypeCert
}

// BeginChallenge has nothing to do; the TLS handshake is the challenge.
func (a *Authenticator) BeginChallenge(context.Context, authenticators.IdentityRef) (*authenticators.Challenge, error) {
	return nil, authenticators.ErrNoChallenge
}

// CompleteChallenge checks response.Certificate against identity. Custom authorities
// declared by response.Page are tried first, then the native CA with an enrolled fingerprint.
func (a *Authenticator) CompleteChallenge(ctx context.Context, identity authenticators.IdentityRef, response authenticators.Response, _ string) (*authenticators.AuthResult, error) {
	cert := response.Certificate
	if cert == nil {
		return nil, apperrors.AuthenticationFailed("Certificate rejected")
	}
	fingerprint := trust.Fingerprint(cert)

	if email := trust.SubjectEmail(cert); email != "" && !strings.EqualFold(email, identity.Username) {
		return nil, apperrors.AuthenticationFailed("Certificate is designated for another email address")
	}

	record, err := a.customAuthority(ctx, identity, response.Page, cert, fingerprint)
	if err != nil {
		return nil, err
	}
	if record == nil {
		record, err = a.nativeAuthority(ctx, identity, cert, fingerprint)
		if err != nil {
			return nil, err
		}
	}

	event := audit.Event{
		UserID: identity.UserID, IP: response.IP,
		Object: audit.ObjectAuthenticator, Action: audit.ActionLogin, Attribute: record.Display(),
	}
	if record.ID == "" {
		// accepted by one of the page's own authorities
		event.Attribute, event.Page = record.Label, response.Page.Name
	}
	if _, err := a.auditor.Add(ctx, event); err != nil {
		return nil, err
	}

	u, err := a.users.GetByID(ctx, identity.UserID)
	if err != nil {
		return nil, err
	}
	return &authenticators.AuthResult{User: u, Record: record}, nil
}

// customAuthority returns nil, nil when no custom authority of page accepts cert. The
// first handler with an authority that verifies the chain decides; its webhook, when
// declared, must approve.
func (a *Authenticator) customAuthority(ctx context.Context, identity authenticators.IdentityRef, page *pages.Page, cert *x509.Certificate, fingerprint string) (*authenticators.Record, error) {
	if page == nil {
		return nil, nil
	}
	for _, policy := range page.Certificates {
		if !a.chainsToAny(policy.Authorities, cert) {
			continue
		}
		if hook := policy.Webhook; hook != nil {
			accepted, err := a.webhook.Verify(ctx, hook, cert, identity.Username)
			if err != nil {
				log.Warn().Err(err).Str("page", page.Name).Msg("certificate webhook failed")
			}
			if !accepted {
				return nil, apperrors.AuthenticationFailed("Certificate denied by page")
			}
		}
		return &authenticators.Record{
			UserID:  identity.UserID,
			Type:    authenticators.TypeCert,
			Handle:  fingerprint,
			Label:   page.Name + " certificate",
			Created: a.nowFunc().UTC(),
		}, nil
	}
	return nil, nil
}

func (a *Authenticator) chainsToAny(authorities []string, cert *x509.Certificate) bool {
	for _, authority := range authorities {
		if a.store.VerifyWith(authority, cert) == nil {
			return true
		}
	}
	return false
}

func (a *Authenticator) nativeAuthority(ctx context.Context, identity authenticators.IdentityRef, cert *x509.Certificate, fingerprint string) (*authenticators.Record, error) {
	if err := a.store.VerifyNative(cert); err != nil {
		log.Debug().Err(err).Str("fingerprint", fingerprint).Msg("certificate not issued by native CA")
		return nil, apperrors.AuthenticationFailed("Certificate rejected")
	}
	record, err := a.records.FindByHandle(ctx, identity.UserID, authenticators.TypeCert, fingerprint)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.AuthenticationFailed("Certificate is not associated with this account")
		}
		return nil, err
	}
	return record, nil
}

// Enrolled is a newly issued certificate and the record that binds it to an identity.
type Enrolled struct {
	Record *authenticators.Record
	Bundle *trust.IssuedCertificate
}

// Register issues a native client certificate for identity and enrolls its fingerprint.
func (a *Authenticator) Register(ctx context.Context, identity authenticators.IdentityRef, label, ip string) (*Enrolled, error) {
	if err := authenticators.ValidateLabel(label); err != nil {
		return nil, err
	}
	issued, err := a.issuer.Issue(identity.Username)
	if err != nil {
		return nil, apperrors.Internal("Could not issue certificate", err)
	}
	record := &authenticators.Record{
		UserID:  identity.UserID,
		Type:    authenticators.TypeCert,
		Handle:  issued.Fingerprint,
		Label:   label,
		Created: a.nowFunc().UTC(),
	}
	if _, err := a.auditor.Add(ctx, audit.Event{
		UserID: identity.UserID, IP: ip,
		Object: audit.ObjectAuthenticator, Action: audit.ActionAdd, Attribute: record.Display(),
	}); err != nil {
		return nil, err
	}
	if err := a.records.Add(ctx, record); err != nil {
		return nil, err
	}
	return &Enrolled{Record: record, Bundle: issued}, nil
}
