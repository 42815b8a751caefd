// Package sessions stores the live authenticated contexts behind session tokens.
// An identity may hold any number of them at once.
package sessions

import (
	"context"
	"time"

	"github.com/jrsteele09/go-sso-broker/internal/utils"
)

// Session is one authenticated device or browser.
type Session struct {
	ID       string    `json:"id"`
	UserID   string    `json:"-"`
	Token    string    `json:"-"`
	Created  time.Time `json:"created"`
	LastSeen time.Time `json:"lastSeen"`
}

// Repo defines the session storage operations. Lookups are by the random session
// token embedded in the signed session JWT.
type Repo interface {
	Create(ctx context.Context, session *Session) error
	// Get returns NotFound for an unknown token.
	Get(ctx context.Context, token string) (*Session, error)
	Touch(ctx context.Context, token string, at time.Time) error
	// Delete is idempotent.
	Delete(ctx context.Context, token string) error
	// DeleteAllExcept removes every session of userID other than keepToken and
	// reports how many were removed.
	DeleteAllExcept(ctx context.Context, userID, keepToken string) (int, error)
}

// NewToken returns 30 random bytes, hex encoded.
func NewToken() (string, error) {
	return utils.RandomHex(30)
}
