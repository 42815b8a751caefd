// Package sso relays authenticated identities to relying-party pages, either as a
// page-signed token or as a SAML response.
package sso

import (
	"context"
	"crypto/x509"
	"net/url"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-sso-broker/audit"
	"github.com/jrsteele09/go-sso-broker/auth"
	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
	"github.com/jrsteele09/go-sso-broker/internal/validation"
	"github.com/jrsteele09/go-sso-broker/pages"
	"github.com/jrsteele09/go-sso-broker/token"
	"github.com/jrsteele09/go-sso-broker/trust"
	"github.com/jrsteele09/go-sso-broker/users"
)

// Mode is how a flow is answered on the way out.
type Mode string

const (
	ModeJWT  Mode = "jwt"
	ModeSAML Mode = "saml"
)

const flowTokenType = "flow"

// FlowContext is the state of one relying-party round trip. It only ever travels
// inside a broker-signed MEDIUM token.
type FlowContext struct {
	PageID      string
	Mode        Mode
	Subject     string
	SAMLRequest string
	RelayState  string
}

// PageView is what the browser learns about the page it is signing into.
type PageView struct {
	PageID   string            `json:"pageId"`
	Name     string            `json:"name"`
	Branding map[string]string `json:"branding,omitempty"`
	Terms    string            `json:"terms,omitempty"`
	Token    string            `json:"token"`
	FlowType Mode              `json:"flowType"`
	Username string            `json:"username,omitempty"`
}

// FlowInResult carries the flow token and, for a signed request naming a subject,
// the login token for that subject.
type FlowInResult struct {
	Page  PageView
	Login *auth.TokenResponse
}

// FlowOutResult is the answer handed back to the relying party. Token is set in jwt
// mode, SAMLResponse and RelayState in saml mode.
type FlowOutResult struct {
	Redirect     string `json:"redirect"`
	Token        string `json:"token,omitempty"`
	SAMLResponse string `json:"SAMLResponse,omitempty"`
	RelayState   string `json:"RelayState,omitempty"`
}

// Accounts is the slice of the login state machine the relay drives.
type Accounts interface {
	IssueLoginToken(u *users.User) (*auth.TokenResponse, error)
	RequireAuthenticated(ctx context.Context, p *auth.Principal) error
}

type Auditor interface {
	Add(ctx context.Context, ev audit.Event) (*audit.Entry, error)
}

type Service struct {
	pages    *pages.Registry
	tokens   *token.Service
	signer   token.Signer
	users    users.UserRepo
	accounts Accounts
	auditor  Auditor
	idp      *identityProvider
}

// NewService builds the relay. baseURL is the broker's public origin and is used for
// the SAML metadata and SSO endpoints.
func NewService(
	registry *pages.Registry,
	tokens *token.Service,
	signer token.Signer,
	userRepo users.UserRepo,
	accounts Accounts,
	auditor Auditor,
	identity *trust.ServerIdentity,
	baseURL string,
) (*Service, error) {
	if registry == nil || tokens == nil || signer == nil || userRepo == nil || accounts == nil || auditor == nil || identity == nil {
		return nil, apperrors.New("[sso.NewService] missing dependency")
	}
	idp, err := newIdentityProvider(identity, baseURL)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[sso.NewService]")
	}
	return &Service{
		pages:    registry,
		tokens:   tokens,
		signer:   signer,
		users:    userRepo,
		accounts: accounts,
		auditor:  auditor,
		idp:      idp,
	}, nil
}

// FlowIn starts a token flow for pageID. signed is the optional page-signed request;
// when it names a subject the subject is resolved, or provisioned, and logged in.
func (s *Service) FlowIn(ctx context.Context, pageID, signed, ip string) (*FlowInResult, error) {
	if pageID == "" {
		return nil, apperrors.Validation("Invalid flow request - missing parameters")
	}
	if _, err := strconv.ParseUint(pageID, 10, 64); err != nil {
		return nil, apperrors.Validation("Invalid flow request - missing parameters")
	}
	page, err := s.pages.Get(pageID)
	if err != nil {
		return nil, err
	}
	if signed == "" && page.SignedRequestsOnly {
		return nil, apperrors.AuthenticationFailed("This website is configured to only allow signed login requests")
	}

	var subject string
	if signed != "" {
		claims, err := s.tokens.Verify(signed, page.Signer(), token.VerifyOptions{MaxAge: token.Short, Issuer: page.Name})
		if err != nil {
			return nil, err
		}
		if raw, ok := claims["sub"]; ok {
			sub, isString := raw.(string)
			if !isString || !validation.Email(sub) {
				return nil, apperrors.ValidationField("sub", "Subject is not a valid email address")
			}
			subject = sub
		}
	}

	flowToken, err := s.signFlow(&FlowContext{PageID: page.ID, Mode: ModeJWT, Subject: subject})
	if err != nil {
		return nil, err
	}
	result := &FlowInResult{Page: s.view(page, flowToken, ModeJWT)}
	if subject == "" {
		return result, nil
	}

	u, err := s.resolveSubject(ctx, page, subject, ip)
	if err != nil {
		return nil, err
	}
	result.Page.Username = u.Username
	result.Login, err = s.accounts.IssueLoginToken(u)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// resolveSubject finds the subject's identity, creating one without a password when
// the page allows it.
func (s *Service) resolveSubject(ctx context.Context, page *pages.Page, subject, ip string) (*users.User, error) {
	u, err := s.users.GetByUsername(ctx, subject)
	switch {
	case err == nil:
		if _, err := s.auditor.Add(ctx, audit.Event{
			UserID: u.ID, IP: ip, Object: audit.ObjectPage, Action: audit.ActionRequest, Attribute: page.Name, Page: page.Name,
		}); err != nil {
			return nil, err
		}
		return u, nil
	case !apperrors.Is(err, apperrors.ErrNotFound):
		return nil, err
	case !page.AutoProvisionEnabled():
		return nil, apperrors.NotFound("User unknown")
	}

	u = &users.User{Username: users.NormalizeUsername(subject), Created: s.tokens.Now().UTC()}
	if err := s.users.Create(ctx, u); err != nil {
		log.Err(err).Str("page", page.Name).Msg("auto provisioning failed")
		return nil, err
	}
	if _, err := s.auditor.Add(ctx, audit.Event{
		UserID: u.ID, IP: ip, Object: audit.ObjectPage, Action: audit.ActionRegistration, Attribute: page.Name, Page: page.Name,
	}); err != nil {
		return nil, err
	}
	return u, nil
}

// SAMLIn starts a saml flow from an HTTP-Redirect binding AuthnRequest.
func (s *Service) SAMLIn(_ context.Context, rawRequest, relayState string) (*PageView, error) {
	req, err := decodeAuthnRequest(rawRequest)
	if err != nil {
		return nil, err
	}
	if req.Destination == "" {
		return nil, apperrors.ValidationField("SAMLRequest", "Destination parameter missing")
	}
	if req.Issuer == nil || req.Issuer.Value == "" {
		return nil, apperrors.NotFound("No website matches to the requested destination host")
	}
	page, err := s.pages.ByIssuer(strings.TrimSpace(req.Issuer.Value))
	if err != nil {
		return nil, apperrors.NotFound("No website matches to the requested destination host")
	}
	if _, err := assertionConsumer(page, req.AssertionConsumerServiceURL); err != nil {
		return nil, err
	}

	flowToken, err := s.signFlow(&FlowContext{PageID: page.ID, Mode: ModeSAML, SAMLRequest: rawRequest, RelayState: relayState})
	if err != nil {
		return nil, err
	}
	view := s.view(page, flowToken, ModeSAML)
	return &view, nil
}

// FlowOut answers the flow for an authenticated principal.
func (s *Service) FlowOut(ctx context.Context, p *auth.Principal, flowToken, ip string) (*FlowOutResult, error) {
	if err := s.accounts.RequireAuthenticated(ctx, p); err != nil {
		return nil, err
	}
	flow, err := s.ParseFlow(flowToken)
	if err != nil {
		return nil, err
	}
	page, err := s.pages.Get(flow.PageID)
	if err != nil {
		return nil, err
	}
	if flow.Subject != "" && !users.SameUsername(flow.Subject, p.Username) {
		return nil, apperrors.Forbidden("The website needs you to be explicitly signed into the account it requested")
	}

	// The SAML request is decoded before auditing so a broken request leaves no trace.
	var authnReq *authnRequest
	if flow.Mode == ModeSAML {
		if authnReq, err = decodeAuthnRequest(flow.SAMLRequest); err != nil {
			return nil, err
		}
	}

	if _, err := s.auditor.Add(ctx, audit.Event{
		UserID: p.UserID, IP: ip, Object: audit.ObjectPage, Action: audit.ActionLogin, Attribute: page.Name, Page: page.Name,
	}); err != nil {
		return nil, err
	}

	if flow.Mode == ModeSAML {
		return s.samlResponse(page, p, authnReq, flow.RelayState)
	}
	raw, err := s.tokens.Sign(jwt.MapClaims{
		"sub": p.Username,
		"iss": s.tokens.Hostname(),
		"aud": page.Name,
	}, page.Signer(), token.Short)
	if err != nil {
		return nil, apperrors.Internal("Signing failed", err)
	}
	return &FlowOutResult{Redirect: page.Redirect, Token: raw}, nil
}

// ParseFlow verifies a flow token from the X-SSO-Token header.
func (s *Service) ParseFlow(raw string) (*FlowContext, error) {
	if raw == "" {
		return nil, apperrors.ValidationField("X-SSO-Token", "Invalid session JWT")
	}
	claims, err := s.tokens.Verify(raw, s.signer, token.VerifyOptions{MaxAge: token.Medium})
	if err != nil {
		return nil, err
	}
	flow := &FlowContext{
		PageID:      token.ClaimString(claims, "pageId"),
		Mode:        Mode(token.ClaimString(claims, "mode")),
		Subject:     token.ClaimString(claims, "sub"),
		SAMLRequest: token.ClaimString(claims, "saml_request"),
		RelayState:  token.ClaimString(claims, "relay_state"),
	}
	if token.ClaimString(claims, "typ") != flowTokenType || flow.PageID == "" {
		return nil, apperrors.TokenInvalid("Invalid session JWT")
	}
	if flow.Mode != ModeJWT && flow.Mode != ModeSAML {
		return nil, apperrors.TokenInvalid("Invalid session JWT")
	}
	return flow, nil
}

// PageForFlow resolves the page a flow token refers to. Any failure yields nil; a
// broken header only means the caller has no page context.
func (s *Service) PageForFlow(raw string) *pages.Page {
	if raw == "" {
		return nil
	}
	flow, err := s.ParseFlow(raw)
	if err != nil {
		log.Debug().Err(err).Msg("ignoring invalid flow token")
		return nil
	}
	page, err := s.pages.Get(flow.PageID)
	if err != nil {
		return nil
	}
	return page
}

// DefaultPage is the page shown when the browser arrives without a flow.
func (s *Service) DefaultPage() (*pages.Page, error) {
	return s.pages.Default()
}

func (s *Service) signFlow(flow *FlowContext) (string, error) {
	claims := jwt.MapClaims{
		"typ":    flowTokenType,
		"pageId": flow.PageID,
		"mode":   string(flow.Mode),
	}
	if flow.Subject != "" {
		claims["sub"] = flow.Subject
	}
	if flow.SAMLRequest != "" {
		claims["saml_request"] = flow.SAMLRequest
		claims["relay_state"] = flow.RelayState
	}
	raw, err := s.tokens.Sign(claims, s.signer, token.Medium)
	if err != nil {
		return "", apperrors.Internal("Signing failed", err)
	}
	return raw, nil
}

func (s *Service) view(page *pages.Page, flowToken string, mode Mode) PageView {
	return PageView{
		PageID:   page.ID,
		Name:     page.Name,
		Branding: page.Branding,
		Terms:    page.Terms,
		Token:    flowToken,
		FlowType: mode,
	}
}

// Certificate is the certificate SAML responses are signed with.
func (s *Service) Certificate() *x509.Certificate {
	return s.idp.provider.Certificate
}

func parseEndpoint(base, path string) (url.URL, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + path)
	if err != nil {
		return url.URL{}, err
	}
	return *u, nil
}
