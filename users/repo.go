package users

import (
	"context"
	"time"
)

type UserRepo interface {
	// Create stores a new user, assigning an ID when empty. A taken username is a Conflict.
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	// GetByUsername matches case-insensitively.
	GetByUsername(ctx context.Context, username string) (*User, error)
	UpdateLoginTime(ctx context.Context, id string, at time.Time) error
	// AddPassword appends a hash to the user's password history; the newest is current.
	AddPassword(ctx context.Context, userID, hash string, at time.Time) error
	// PasswordHistory returns up to limit hashes, newest first.
	PasswordHistory(ctx context.Context, userID string, limit int) ([]string, error)
}
