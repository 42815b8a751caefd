package fakeconfirmrepo

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-sso-broker/emailconfirm"
	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
)

var _ emailconfirm.Repo = (*FakeConfirmationRepo)(nil)

type FakeConfirmationRepo struct {
	rows map[string]*emailconfirm.Confirmation
	lock sync.RWMutex
}

func NewFakeConfirmationRepo() *FakeConfirmationRepo {
	return &FakeConfirmationRepo{rows: make(map[string]*emailconfirm.Confirmation)}
}

func (r *FakeConfirmationRepo) Add(_ context.Context, c *emailconfirm.Confirmation) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.rows[c.Token]; ok {
		return apperrors.Conflict("Token already exists")
	}
	stored := *c
	r.rows[c.Token] = &stored
	return nil
}

func (r *FakeConfirmationRepo) Get(_ context.Context, token string) (*emailconfirm.Confirmation, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	c, ok := r.rows[token]
	if !ok {
		return nil, apperrors.NotFound("Token not found")
	}
	out := *c
	return &out, nil
}

func (r *FakeConfirmationRepo) Delete(_ context.Context, token string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.rows, token)
	return nil
}

// Len is the number of stored tokens.
func (r *FakeConfirmationRepo) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.rows)
}
