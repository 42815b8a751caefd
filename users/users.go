package users

import (
	"strings"
	"time"
)

// User is an identity known to the broker. Its username is an email address.
// Passwords live in a separate append-only history, see UserRepo.
type User struct {
	ID        string     `json:"id,omitempty"`
	Username  string     `json:"username,omitempty"`
	Created   time.Time  `json:"created,omitempty"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

// NormalizeUsername lower-cases and trims an email-shaped username.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// SameUsername reports whether two usernames are equal ignoring case.
func SameUsername(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
