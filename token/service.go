package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
	"github.com/jrsteele09/go-sso-broker/internal/utils"
	"github.com/pkg/errors"
)

// Fixed token lifetimes.
const (
	Short  = 5 * time.Minute      // one-shot challenge round trips
	Medium = time.Hour            // login tokens and SSO flow contexts
	Long   = 365 * 24 * time.Hour // session tokens
)

// VerifyOptions constrains Verify. Empty Issuer and Audience default to the broker hostname.
type VerifyOptions struct {
	MaxAge   time.Duration
	Issuer   string
	Audience string
	Subject  string
}

// Service signs and verifies self-contained tokens bound to an issuer and audience.
type Service struct {
	issuer   string
	audience string
	nowFunc  func() time.Time
}

type ServiceOption func(*Service)

func WithNowFunc(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowFunc = now
	}
}

func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) {
		s.issuer = issuer
	}
}

func WithAudience(audience string) ServiceOption {
	return func(s *Service) {
		s.audience = audience
	}
}

// NewService returns a Service whose default issuer and audience are hostname.
func NewService(hostname string, options ...ServiceOption) *Service {
	s := &Service{
		issuer:   hostname,
		audience: hostname,
		nowFunc:  time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Hostname is the default issuer of tokens minted by this service.
func (s *Service) Hostname() string {
	return s.issuer
}

// Now returns the service clock.
func (s *Service) Now() time.Time {
	return s.nowFunc()
}

// Sign copies claims, fills in iss, aud, iat and exp, and signs the result.
// Caller-supplied iss and aud are kept.
func (s *Service) Sign(claims jwt.MapClaims, signer Signer, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", errors.New("[token.Sign] ttl must be positive")
	}
	out := make(jwt.MapClaims, len(claims)+4)
	for k, v := range claims {
		out[k] = v
	}
	if _, ok := out["iss"]; !ok {
		out["iss"] = s.issuer
	}
	if _, ok := out["aud"]; !ok {
		out["aud"] = s.audience
	}
	now := s.nowFunc()
	out["iat"] = now.Unix()
	out["exp"] = now.Add(ttl).Unix()

	signed, err := signer.Sign(out)
	if err != nil {
		return "", errors.Wrap(err, "[token.Sign]")
	}
	return signed, nil
}

// Verify checks signature, expiry, issuer, audience and optionally subject and age.
// Every failure is returned as one of the token error kinds.
func (s *Service) Verify(raw string, signer Signer, opts VerifyOptions) (jwt.MapClaims, error) {
	issuer := opts.Issuer
	if issuer == "" {
		issuer = s.issuer
	}
	audience := opts.Audience
	if audience == "" {
		audience = s.audience
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{signer.Method().Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.nowFunc),
	}
	if opts.Subject != "" {
		parserOpts = append(parserOpts, jwt.WithSubject(opts.Subject))
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(raw, claims, signer.Keyfunc, parserOpts...); err != nil {
		return nil, classify(err)
	}

	if opts.MaxAge > 0 {
		iat, err := claims.GetIssuedAt()
		if err != nil || iat == nil {
			return nil, apperrors.WithKind(apperrors.KindTokenInvalid, "Invalid token", err)
		}
		if s.nowFunc().After(iat.Add(opts.MaxAge)) {
			return nil, apperrors.WithKind(apperrors.KindTokenExpired, "Token expired", nil)
		}
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperrors.WithKind(apperrors.KindTokenExpired, "Token expired", err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return apperrors.WithKind(apperrors.KindAudienceMismatch, "Token audience mismatch", err)
	case errors.Is(err, jwt.ErrTokenInvalidSubject):
		return apperrors.WithKind(apperrors.KindSubjectMismatch, "Token subject mismatch", err)
	default:
		return apperrors.WithKind(apperrors.KindTokenInvalid, "Invalid token", err)
	}
}

// GenerateSecret returns a random signing secret for the broker.
func GenerateSecret() (string, error) {
	return utils.RandomHex(30)
}

// ClaimString returns claims[key] when it is a string.
func ClaimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
