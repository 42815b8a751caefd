package authenticators

import (
	"context"
	"sync"

	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
)

// Registry dispatches challenges by authenticator type.
type Registry struct {
	mu    sync.RWMutex
	impls map[Type]Authenticator
}

func NewRegistry(impls ...Authenticator) *Registry {
	r := &Registry{impls: make(map[Type]Authenticator)}
	for _, a := range impls {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Authenticator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.impls[a.Type()] = a
}

func (r *Registry) Get(t Type) (Authenticator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.impls[t]
	if !ok {
		return nil, apperrors.Validation("Unknown authenticator type")
	}
	return a, nil
}

func (r *Registry) BeginChallenge(ctx context.Context, t Type, identity IdentityRef) (*Challenge, error) {
	a, err := r.Get(t)
	if err != nil {
		return nil, err
	}
	return a.BeginChallenge(ctx, identity)
}

func (r *Registry) CompleteChallenge(ctx context.Context, t Type, identity IdentityRef, response Response, state string) (*AuthResult, error) {
	a, err := r.Get(t)
	if err != nil {
		return nil, err
	}
	return a.CompleteChallenge(ctx, identity, response, state)
}
