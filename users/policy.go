package users

import (
	"context"

	"github.com/rs/zerolog/log"

	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 100
)

// PwnedChecker reports whether a password appears in a breach corpus.
type PwnedChecker interface {
	Pwned(ctx context.Context, password string) (bool, error)
}

// PasswordPolicy decides whether a new password is acceptable for a user.
type PasswordPolicy struct {
	repo     UserRepo
	hasher   *Hasher
	pwned    PwnedChecker
	history  int
	failSafe bool
}

type PolicyOption func(*PasswordPolicy)

// WithPwnedChecker enables the breach lookup. With failSafe set, an unreachable
// lookup rejects the password instead of letting it through.
func WithPwnedChecker(checker PwnedChecker, failSafe bool) PolicyOption {
	return func(p *PasswordPolicy) {
		p.pwned = checker
		p.failSafe = failSafe
	}
}

func WithHistory(n int) PolicyOption {
	return func(p *PasswordPolicy) {
		p.history = n
	}
}

func NewPasswordPolicy(repo UserRepo, hasher *Hasher, options ...PolicyOption) *PasswordPolicy {
	p := &PasswordPolicy{repo: repo, hasher: hasher, history: 3}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Check validates password for userID. An empty userID skips the history check.
func (p *PasswordPolicy) Check(ctx context.Context, userID, password string) error {
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return apperrors.ValidationField("password", "Password does not match password policy")
	}

	if p.pwned != nil {
		pwned, err := p.pwned.Pwned(ctx, password)
		switch {
		case err != nil && p.failSafe:
			return apperrors.Upstream("Error checking pwned passwords", err)
		case err != nil:
			log.Warn().Err(err).Msg("pwned password lookup failed, continuing")
		case pwned:
			return apperrors.ValidationField("password", "Password has been previously hacked and insecure")
		}
	}

	if userID == "" || p.history <= 0 {
		return nil
	}
	hashes, err := p.repo.PasswordHistory(ctx, userID, p.history)
	if err != nil {
		return apperrors.Wrapf(err, "[PasswordPolicy.Check] history")
	}
	for _, h := range hashes {
		if p.hasher.Verify(password, h) {
			return apperrors.ValidationField("password", "Password has been previously used")
		}
	}
	return nil
}
