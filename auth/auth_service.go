// Package auth is the two-stage login state machine. A first factor (password or a
// relying party's signed subject) yields a login token; a second factor (email link,
// FIDO2 or certificate) upgrades it to a session token backed by a Session row.
package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-sso-broker/audit"
	"github.com/jrsteele09/go-sso-broker/authenticators"
	"github.com/jrsteele09/go-sso-broker/emailconfirm"
	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
	"github.com/jrsteele09/go-sso-broker/sessions"
	"github.com/jrsteele09/go-sso-broker/token"
	"github.com/jrsteele09/go-sso-broker/users"
)

// Factor is how far along the state machine a bearer is.
type Factor int

const (
	FactorGuest Factor = iota
	FactorLogin
	FactorSession
)

// Principal is the identity a bearer token speaks for.
type Principal struct {
	UserID       string
	Username     string
	Factor       Factor
	SessionToken string
}

// Ref converts the principal into the identity reference authenticators take.
func (p *Principal) Ref() authenticators.IdentityRef {
	return authenticators.IdentityRef{UserID: p.UserID, Username: p.Username}
}

// TokenResponse is returned to the client on every state transition.
type TokenResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Factor   Factor `json:"factor"`
}

// PasswordManager stores new passwords subject to the password policy.
type PasswordManager interface {
	SetPassword(ctx context.Context, userID, password string) error
	CheckPolicy(ctx context.Context, password string) error
}

// Repos holds all repository dependencies for the Service
type Repos struct {
	Users          users.UserRepo
	Sessions       sessions.Repo
	Authenticators authenticators.Repo
}

type Service struct {
	repos         Repos
	tokens        *token.Service
	signer        token.Signer
	registry      *authenticators.Registry
	passwords     PasswordManager
	confirmations *emailconfirm.Service
	auditor       *audit.Logger
	hideUnknown   bool
	nowTime       func() time.Time
}

type ServiceOption func(*Service)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowTime = nowFunc
	}
}

// WithHiddenUnknownUsers makes change requests for unknown users look successful.
func WithHiddenUnknownUsers(hide bool) ServiceOption {
	return func(s *Service) {
		s.hideUnknown = hide
	}
}

func NewService(
	repos Repos,
	tokens *token.Service,
	signer token.Signer,
	registry *authenticators.Registry,
	passwords PasswordManager,
	confirmations *emailconfirm.Service,
	auditor *audit.Logger,
	options ...ServiceOption,
) (*Service, error) {
	if repos.Users == nil {
		return nil, errors.New("[auth.NewService] Users repo is required")
	}
	if repos.Sessions == nil {
		return nil, errors.New("[auth.NewService] Sessions repo is required")
	}
	if repos.Authenticators == nil {
		return nil, errors.New("[auth.NewService] Authenticators repo is required")
	}
	if tokens == nil || signer == nil {
		return nil, errors.New("[auth.NewService] token service and signer are required")
	}
	if registry == nil || passwords == nil || confirmations == nil || auditor == nil {
		return nil, errors.New("[auth.NewService] registry, passwords, confirmations and auditor are required")
	}

	s := &Service{
		repos:         repos,
		tokens:        tokens,
		signer:        signer,
		registry:      registry,
		passwords:     passwords,
		confirmations: confirmations,
		auditor:       auditor,
		nowTime:       time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// IssueLoginToken moves u to Factor1.
func (s *Service) IssueLoginToken(u *users.User) (*TokenResponse, error) {
	raw, err := s.tokens.Sign(jwt.MapClaims{
		"sub":      u.ID,
		"id":       u.ID,
		"username": u.Username,
		"factor":   int(FactorLogin),
	}, s.signer, token.Medium)
	if err != nil {
		return nil, apperrors.Internal("Could not sign token", err)
	}
	return &TokenResponse{Token: raw, Username: u.Username, Factor: FactorLogin}, nil
}

// IssueSessionToken opens a Session for u and moves it to Factor2.
func (s *Service) IssueSessionToken(ctx context.Context, u *users.User) (*TokenResponse, error) {
	sessionToken, err := sessions.NewToken()
	if err != nil {
		return nil, apperrors.Internal("Could not create session", err)
	}
	now := s.nowTime().UTC()
	if err := s.repos.Sessions.Create(ctx, &sessions.Session{
		UserID: u.ID, Token: sessionToken, Created: now, LastSeen: now,
	}); err != nil {
		return nil, err
	}

	claims := jwt.MapClaims{
		"sub":      u.ID,
		"id":       u.ID,
		"username": u.Username,
		"created":  u.Created.Unix(),
		"factor":   int(FactorSession),
		"token":    sessionToken,
	}
	if u.LastLogin != nil {
		claims["last_login"] = u.LastLogin.Unix()
	}
	raw, err := s.tokens.Sign(claims, s.signer, token.Long)
	if err != nil {
		return nil, apperrors.Internal("Could not sign token", err)
	}
	return &TokenResponse{Token: raw, Username: u.Username, Factor: FactorSession}, nil
}

// Identify parses a bearer token. It does not consult the session store.
func (s *Service) Identify(raw string) (*Principal, error) {
	claims, err := s.tokens.Verify(raw, s.signer, token.VerifyOptions{MaxAge: token.Long})
	if err != nil {
		return nil, err
	}
	p := &Principal{
		UserID:       token.ClaimString(claims, "sub"),
		Username:     token.ClaimString(claims, "username"),
		SessionToken: token.ClaimString(claims, "token"),
	}
	if p.UserID == "" || p.Username == "" {
		return nil, apperrors.TokenInvalid("Invalid token")
	}
	switch f, _ := claims["factor"].(float64); Factor(f) {
	case FactorSession:
		if p.SessionToken == "" {
			return nil, apperrors.TokenInvalid("Invalid token")
		}
		p.Factor = FactorSession
	default:
		p.Factor = FactorLogin
	}
	return p, nil
}

// RequireLoggedIn accepts Factor1 and Factor2 principals.
func (s *Service) RequireLoggedIn(p *Principal) error {
	if p == nil || p.Factor < FactorLogin {
		return ErrNotLoggedIn
	}
	return nil
}

// RequireAuthenticated checks p is Factor2 and its session row still belongs to it.
// A session held by another identity is deleted.
func (s *Service) RequireAuthenticated(ctx context.Context, p *Principal) error {
	if p == nil || p.Factor != FactorSession {
		return ErrNotAuthenticated
	}
	sess, err := s.repos.Sessions.Get(ctx, p.SessionToken)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return ErrSessionExpired
		}
		return err
	}
	if sess.UserID != p.UserID {
		log.Warn().Str("session_user", sess.UserID).Str("token_user", p.UserID).Msg("session token mismatch")
		if err := s.repos.Sessions.Delete(ctx, p.SessionToken); err != nil {
			log.Err(err).Msg("failed to delete mismatched session")
		}
		return ErrTokenMismatch
	}
	if err := s.repos.Sessions.Touch(ctx, p.SessionToken, s.nowTime().UTC()); err != nil {
		log.Err(err).Msg("failed to update session last seen")
	}
	return nil
}

// Register mails a registration link.
func (s *Service) Register(ctx context.Context, req RegisterRequest, ip string) error {
	if err := req.Validate(); err != nil {
		return err
	}
	_, err := s.confirmations.Request(ctx, req.Username, emailconfirm.PurposeRegistration, ip)
	return err
}

// Activate creates the identity named by a registration token with its first password.
// The token is only consumed once the password has been accepted.
func (s *Service) Activate(ctx context.Context, req ActivateRequest, ip string) (*TokenResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	c, err := s.confirmations.Resolve(ctx, req.Token, emailconfirm.PurposeRegistration, ip, true)
	if err != nil {
		return nil, err
	}
	if err := s.passwords.CheckPolicy(ctx, req.Password); err != nil {
		return nil, err
	}

	u := &users.User{Username: c.Username, Created: s.nowTime().UTC()}
	if err := s.repos.Users.Create(ctx, u); err != nil {
		return nil, err
	}
	if err := s.passwords.SetPassword(ctx, u.ID, req.Password); err != nil {
		return nil, err
	}
	if err := s.confirmations.Invalidate(ctx, req.Token); err != nil {
		return nil, err
	}
	if _, err := s.auditor.Add(ctx, audit.Event{
		UserID: u.ID, IP: ip, Object: audit.ObjectRegistration, Action: audit.ActionEmail,
	}); err != nil {
		return nil, err
	}
	return s.IssueLoginToken(u)
}

// RequestPasswordChange mails a change link. With hidden unknown users an unknown
// address succeeds silently.
func (s *Service) RequestPasswordChange(ctx context.Context, req ChangeRequest, ip string) error {
	if err := req.Validate(); err != nil {
		return err
	}
	_, err := s.confirmations.Request(ctx, req.Username, emailconfirm.PurposeChange, ip)
	if err != nil && s.hideUnknown && apperrors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	return err
}

// ChangePassword sets a new password from a change token.
func (s *Service) ChangePassword(ctx context.Context, req ChangePasswordRequest, ip string) (*TokenResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	c, err := s.confirmations.Resolve(ctx, req.Token, emailconfirm.PurposeChange, ip, true)
	if err != nil {
		return nil, err
	}
	u, err := s.repos.Users.GetByUsername(ctx, c.Username)
	if err != nil {
		return nil, err
	}
	if err := s.passwords.SetPassword(ctx, u.ID, req.Password); err != nil {
		return nil, err
	}
	if err := s.confirmations.Invalidate(ctx, req.Token); err != nil {
		return nil, err
	}
	if _, err := s.auditor.Add(ctx, audit.Event{
		UserID: u.ID, IP: ip, Object: audit.ObjectChange, Action: audit.ActionEmail,
	}); err != nil {
		return nil, err
	}
	return s.IssueLoginToken(u)
}

// PasswordLogin is the password first factor.
func (s *Service) PasswordLogin(ctx context.Context, req LoginRequest, ip string) (*TokenResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	res, err := s.registry.CompleteChallenge(ctx, authenticators.TypePassword,
		authenticators.IdentityRef{Username: req.Username},
		authenticators.Response{IP: ip, Password: req.Password}, "")
	if err != nil {
		return nil, err
	}
	return s.IssueLoginToken(res.User)
}

// RequestEmailFactor mails the second-factor link to a Factor1 principal.
func (s *Service) RequestEmailFactor(ctx context.Context, p *Principal, ip string) error {
	if err := s.RequireLoggedIn(p); err != nil {
		return err
	}
	_, err := s.confirmations.Request(ctx, p.Username, emailconfirm.PurposeLogin, ip)
	return err
}

// ConfirmEmailFactor consumes a login token issued to the principal's own address.
func (s *Service) ConfirmEmailFactor(ctx context.Context, p *Principal, confirmToken, ip string) (*TokenResponse, error) {
	if err := s.RequireLoggedIn(p); err != nil {
		return nil, err
	}
	c, err := s.confirmations.Resolve(ctx, confirmToken, emailconfirm.PurposeLogin, ip, false)
	if err != nil {
		return nil, err
	}
	if !users.SameUsername(c.Username, p.Username) {
		return nil, apperrors.NotFound("Token not found")
	}
	u, err := s.repos.Users.GetByID(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if _, err := s.auditor.Add(ctx, audit.Event{
		UserID: u.ID, IP: ip, Object: audit.ObjectLogin, Action: audit.ActionEmail,
	}); err != nil {
		return nil, err
	}
	if err := s.repos.Users.UpdateLoginTime(ctx, u.ID, s.nowTime().UTC()); err != nil {
		log.Err(err).Str("user", u.ID).Msg("failed to update last login time")
	}
	return s.IssueSessionToken(ctx, u)
}

// BeginSecondFactor starts a challenge for a Factor1 principal.
func (s *Service) BeginSecondFactor(ctx context.Context, p *Principal, t authenticators.Type) (*authenticators.Challenge, error) {
	if err := s.RequireLoggedIn(p); err != nil {
		return nil, err
	}
	return s.registry.BeginChallenge(ctx, t, p.Ref())
}

// CompleteSecondFactor finishes a challenge and opens a session.
func (s *Service) CompleteSecondFactor(ctx context.Context, p *Principal, t authenticators.Type, response authenticators.Response, state string) (*TokenResponse, error) {
	if err := s.RequireLoggedIn(p); err != nil {
		return nil, err
	}
	if t == authenticators.TypePassword {
		return nil, apperrors.Validation("Password is not a second factor")
	}
	res, err := s.registry.CompleteChallenge(ctx, t, p.Ref(), response, state)
	if err != nil {
		return nil, err
	}
	if err := s.repos.Users.UpdateLoginTime(ctx, res.User.ID, s.nowTime().UTC()); err != nil {
		log.Err(err).Str("user", res.User.ID).Msg("failed to update last login time")
	}
	return s.IssueSessionToken(ctx, res.User)
}

// Logout deletes the principal's current session.
func (s *Service) Logout(ctx context.Context, p *Principal, ip string) error {
	if err := s.RequireAuthenticated(ctx, p); err != nil {
		return err
	}
	if _, err := s.auditor.Add(ctx, audit.Event{
		UserID: p.UserID, IP: ip, Object: audit.ObjectSession, Action: audit.ActionLogout,
	}); err != nil {
		return err
	}
	return s.repos.Sessions.Delete(ctx, p.SessionToken)
}

// CloseOtherSessions deletes every session of the principal except the current one.
func (s *Service) CloseOtherSessions(ctx context.Context, p *Principal, ip string) (int, error) {
	if err := s.RequireAuthenticated(ctx, p); err != nil {
		return 0, err
	}
	if _, err := s.auditor.Add(ctx, audit.Event{
		UserID: p.UserID, IP: ip, Object: audit.ObjectSession, Action: audit.ActionClean,
	}); err != nil {
		return 0, err
	}
	return s.repos.Sessions.DeleteAllExcept(ctx, p.UserID, p.SessionToken)
}

// Profile is the /me view of an identity. Password hashes, counters and keys never appear.
type Profile struct {
	ID              string                   `json:"id"`
	Username        string                   `json:"username"`
	Created         time.Time                `json:"created"`
	LastLogin       *time.Time               `json:"lastLogin,omitempty"`
	Authenticators  []*authenticators.Record `json:"authenticators"`
	IsAuthenticated bool                     `json:"isAuthenticated"`
}

func (s *Service) Profile(ctx context.Context, p *Principal) (*Profile, error) {
	if err := s.RequireLoggedIn(p); err != nil {
		return nil, err
	}
	authenticated := p.Factor == FactorSession
	if authenticated {
		if err := s.RequireAuthenticated(ctx, p); err != nil {
			return nil, err
		}
	}
	u, err := s.repos.Users.GetByID(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	records, err := s.repos.Authenticators.ListByUser(ctx, u.ID, "")
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*authenticators.Record{}
	}
	return &Profile{
		ID:              u.ID,
		Username:        u.Username,
		Created:         u.Created,
		LastLogin:       u.LastLogin,
		Authenticators:  records,
		IsAuthenticated: authenticated,
	}, nil
}

// RemoveAuthenticator deletes one of the principal's fido2 or cert authenticators.
func (s *Service) RemoveAuthenticator(ctx context.Context, p *Principal, t authenticators.Type, handle, ip string) error {
	if err := s.RequireAuthenticated(ctx, p); err != nil {
		return err
	}
	if t != authenticators.TypeFIDO2 && t != authenticators.TypeCert {
		return apperrors.ValidationField("type", "Invalid authenticator type")
	}
	if _, err := s.repos.Authenticators.FindByHandle(ctx, p.UserID, t, handle); err != nil {
		return err
	}
	if _, err := s.auditor.Add(ctx, audit.Event{
		UserID: p.UserID, IP: ip, Object: audit.ObjectAuthenticator, Action: audit.ActionRemove, Attribute: handle,
	}); err != nil {
		return err
	}
	return s.repos.Authenticators.Remove(ctx, p.UserID, t, handle)
}

// Audit lists the principal's audit entries, newest first.
func (s *Service) Audit(ctx context.Context, p *Principal, page int) ([]*audit.Entry, error) {
	if err := s.RequireAuthenticated(ctx, p); err != nil {
		return nil, err
	}
	return s.auditor.List(ctx, p.UserID, page)
}

// ReportAudit flags one of the principal's audit entries as suspicious.
func (s *Service) ReportAudit(ctx context.Context, p *Principal, entryID, ip string) error {
	if err := s.RequireAuthenticated(ctx, p); err != nil {
		return err
	}
	return s.auditor.Report(ctx, p.UserID, entryID, ip)
}
