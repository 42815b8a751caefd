package users

import (
	"strings"
	"sync"

	"github.com/matthewhartstonge/argon2"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

const dummyPassword = "dummy-password-for-timing"

// Hasher hashes passwords with argon2id and verifies both argon2 and legacy bcrypt hashes.
type Hasher struct {
	cfg       argon2.Config
	dummyOnce sync.Once
	dummy     string
}

// NewHasher builds a Hasher; zero costs keep the library defaults.
func NewHasher(timeCost, memoryCost uint32) *Hasher {
	cfg := argon2.DefaultConfig()
	if timeCost > 0 {
		cfg.TimeCost = timeCost
	}
	if memoryCost > 0 {
		cfg.MemoryCost = memoryCost
	}
	cfg.Parallelism = 1
	return &Hasher{cfg: cfg}
}

func (h *Hasher) Hash(password string) (string, error) {
	encoded, err := h.cfg.HashEncoded([]byte(password))
	if err != nil {
		return "", errors.Wrap(err, "[Hasher.Hash] failed to hash password")
	}
	return string(encoded), nil
}

func (h *Hasher) Verify(password, encoded string) bool {
	if strings.HasPrefix(encoded, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password)) == nil
	}
	ok, err := argon2.VerifyEncoded([]byte(password), []byte(encoded))
	return err == nil && ok
}

// VerifyDummy burns the same work as a real verification. Used when the user does not exist.
func (h *Hasher) VerifyDummy(password string) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = h.Hash(dummyPassword)
	})
	_ = h.Verify(password, h.dummy)
}
