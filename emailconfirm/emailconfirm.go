// Package emailconfirm implements single-use email possession tokens for registration,
// the email second factor and password change.
package emailconfirm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
	"github.com/jrsteele09/go-sso-broker/internal/utils"
	"github.com/jrsteele09/go-sso-broker/notify"
	"github.com/jrsteele09/go-sso-broker/users"
)

// Validity is how long a confirmation link can be used.
const Validity = 24 * time.Hour

type Purpose string

const (
	PurposeRegistration Purpose = "registration"
	PurposeLogin        Purpose = "login"
	PurposeChange       Purpose = "change"
)

func (p Purpose) Valid() bool {
	switch p {
	case PurposeRegistration, PurposeLogin, PurposeChange:
		return true
	}
	return false
}

type Confirmation struct {
	Token    string
	Username string
	IP       string
	Purpose  Purpose
	Created  time.Time
}

type Repo interface {
	Add(ctx context.Context, c *Confirmation) error
	// Get returns NotFound for an unknown token.
	Get(ctx context.Context, token string) (*Confirmation, error)
	Delete(ctx context.Context, token string) error
}

type Service struct {
	repo     Repo
	users    users.UserRepo
	notifier notify.Notifier
	baseURL  string
	appName  string
	nowFunc  func() time.Time
}

type Option func(*Service)

func WithNowFunc(now func() time.Time) Option {
	return func(s *Service) {
		s.nowFunc = now
	}
}

func WithAppName(name string) Option {
	return func(s *Service) {
		s.appName = name
	}
}

// NewService builds links against baseURL, the origin serving the front end.
func NewService(repo Repo, userRepo users.UserRepo, notifier notify.Notifier, baseURL string, options ...Option) *Service {
	s := &Service{
		repo:     repo,
		users:    userRepo,
		notifier: notifier,
		baseURL:  baseURL,
		appName:  "Single Sign-On",
		nowFunc:  time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Request stores a new token for username and mails the link. Registration requires
// the username to be free; the other purposes require it to exist.
func (s *Service) Request(ctx context.Context, username string, purpose Purpose, ip string) (string, error) {
	if !purpose.Valid() {
		return "", apperrors.Validation("Invalid action")
	}
	username = users.NormalizeUsername(username)
	_, err := s.users.GetByUsername(ctx, username)
	switch {
	case err == nil && purpose == PurposeRegistration:
		return "", apperrors.Conflict("Email address already registered")
	case err != nil && !apperrors.Is(err, apperrors.ErrNotFound):
		return "", err
	case err != nil && purpose != PurposeRegistration:
		return "", apperrors.NotFound("User unknown")
	}

	token, err := utils.RandomHex(30)
	if err != nil {
		return "", apperrors.Internal("Could not create token", err)
	}
	c := &Confirmation{Token: token, Username: username, IP: ip, Purpose: purpose, Created: s.nowFunc().UTC()}
	if err := s.repo.Add(ctx, c); err != nil {
		return "", err
	}
	if err := s.notifier.Send(ctx, s.message(c)); err != nil {
		if delErr := s.repo.Delete(ctx, token); delErr != nil {
			log.Err(delErr).Msg("could not remove undelivered confirmation token")
		}
		return "", err
	}
	return token, nil
}

// Resolve checks token for purpose and ip and consumes it unless peek is set.
func (s *Service) Resolve(ctx context.Context, token string, purpose Purpose, ip string, peek bool) (*Confirmation, error) {
	if token == "" {
		return nil, apperrors.ValidationField("token", "No token provided")
	}
	c, err := s.repo.Get(ctx, token)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("Token not found")
		}
		return nil, err
	}
	if c.Purpose != purpose {
		return nil, apperrors.NotFound("Token not found")
	}
	if c.IP != ip {
		return nil, apperrors.Validation("Your IP must stay the same from request to confirmation")
	}
	expired := s.nowFunc().After(c.Created.Add(Validity))
	if !peek || expired {
		if err := s.repo.Delete(ctx, token); err != nil {
			return nil, err
		}
	}
	if expired {
		return nil, apperrors.WithKind(apperrors.KindTokenExpired, "Token expired", nil)
	}
	return c, nil
}

// Invalidate consumes a token that was resolved with peek.
func (s *Service) Invalidate(ctx context.Context, token string) error {
	return s.repo.Delete(ctx, token)
}

// Link is the front-end URL a confirmation mail points at.
func (s *Service) Link(c *Confirmation) string {
	switch c.Purpose {
	case PurposeRegistration:
		return fmt.Sprintf("%s/#/register/%s", s.baseURL, c.Token)
	case PurposeLogin:
		return fmt.Sprintf("%s/#/two-factor/%s", s.baseURL, c.Token)
	default:
		return fmt.Sprintf("%s/#/change-password/%s", s.baseURL, c.Token)
	}
}

func (s *Service) message(c *Confirmation) notify.Message {
	link := s.Link(c)
	switch c.Purpose {
	case PurposeLogin:
		return notify.Message{
			To:      c.Username,
			Subject: "Log into " + s.appName,
			Text:    "Please use the following link to finish logging in:\n\n" + link + "\n\nThe link is valid for 24 hours and only from the device that requested it.",
		}
	case PurposeChange:
		return notify.Message{
			To:      c.Username,
			Subject: "Confirm your email address",
			Text:    "Please use the following link to change your password:\n\n" + link + "\n\nIf you did not ask for this, you can ignore this message.",
		}
	default:
		return notify.Message{
			To:      c.Username,
			Subject: "Confirm your email address",
			Text:    "Please use the following link to confirm your email address and finish registering:\n\n" + link,
		}
	}
}
