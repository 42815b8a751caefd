package fido2

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// FakeVerifier is a Verifier for tests and local development. A response body is
// JSON {"handle": ..., "challenge": ..., "counter": n} and verifies when the
// challenge matches and, for assertions, the handle belongs to the user.
type FakeVerifier struct {
	mu         sync.Mutex
	challenges []string
}

type FakeResponse struct {
	Handle    string `json:"handle"`
	Challenge string `json:"challenge"`
	Counter   uint32 `json:"counter"`
}

func NewFakeVerifier() *FakeVerifier {
	return &FakeVerifier{}
}

// LastChallenge returns the most recently issued challenge.
func (f *FakeVerifier) LastChallenge() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.challenges) == 0 {
		return ""
	}
	return f.challenges[len(f.challenges)-1]
}

func (f *FakeVerifier) newChallenge() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := uuid.New().String()
	f.challenges = append(f.challenges, c)
	return c
}

func (f *FakeVerifier) RegistrationOptions(user User) (any, string, error) {
	c := f.newChallenge()
	return map[string]any{"challenge": c, "user": user.Username}, c, nil
}

func (f *FakeVerifier) VerifyRegistration(_ User, challenge string, body []byte) (*NewCredential, error) {
	var resp FakeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, "parse fake attestation")
	}
	if resp.Challenge != challenge || resp.Handle == "" {
		return nil, errors.New("challenge mismatch")
	}
	return &NewCredential{Handle: resp.Handle, PublicKey: []byte("pk-" + resp.Handle), Counter: resp.Counter}, nil
}

func (f *FakeVerifier) AssertionOptions(user User) (any, string, error) {
	c := f.newChallenge()
	allow := make([]string, 0, len(user.Credentials))
	for _, cred := range user.Credentials {
		allow = append(allow, cred.Handle)
	}
	return map[string]any{"challenge": c, "allowCredentials": allow}, c, nil
}

func (f *FakeVerifier) VerifyAssertion(user User, challenge string, body []byte) (*Assertion, error) {
	var resp FakeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, "parse fake assertion")
	}
	if resp.Challenge != challenge {
		return nil, errors.New("challenge mismatch")
	}
	for _, cred := range user.Credentials {
		if cred.Handle == resp.Handle {
			return &Assertion{Handle: resp.Handle, Counter: resp.Counter}, nil
		}
	}
	return nil, errors.New("unknown credential")
}
