package fakeauthrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jrsteele09/go-sso-broker/authenticators"
	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
)

var _ authenticators.Repo = (*FakeAuthenticatorRepo)(nil)

type FakeAuthenticatorRepo struct {
	records map[string]*authenticators.Record
	lock    sync.RWMutex
}

func NewFakeAuthenticatorRepo() *FakeAuthenticatorRepo {
	return &FakeAuthenticatorRepo{records: make(map[string]*authenticators.Record)}
}

func clone(r *authenticators.Record) *authenticators.Record {
	c := *r
	if r.Counter != nil {
		v := *r.Counter
		c.Counter = &v
	}
	c.PublicKey = append([]byte(nil), r.PublicKey...)
	return &c
}

func (f *FakeAuthenticatorRepo) Add(_ context.Context, record *authenticators.Record) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	for _, r := range f.records {
		if r.UserID == record.UserID && r.Type == record.Type && r.Handle == record.Handle {
			return apperrors.Conflict("Authenticator already registered")
		}
	}
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.Created.IsZero() {
		record.Created = time.Now().UTC()
	}
	f.records[record.ID] = clone(record)
	return nil
}

func (f *FakeAuthenticatorRepo) Remove(_ context.Context, userID string, t authenticators.Type, handle string) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	for id, r := range f.records {
		if r.UserID == userID && r.Type == t && r.Handle == handle {
			delete(f.records, id)
			return nil
		}
	}
	return apperrors.NotFound("Authenticator not found")
}

func (f *FakeAuthenticatorRepo) ListByUser(_ context.Context, userID string, t authenticators.Type) ([]*authenticators.Record, error) {
	f.lock.RLock()
	defer f.lock.RUnlock()

	out := make([]*authenticators.Record, 0)
	for _, r := range f.records {
		if r.UserID == userID && (t == "" || r.Type == t) {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out, nil
}

func (f *FakeAuthenticatorRepo) FindByHandle(_ context.Context, userID string, t authenticators.Type, handle string) (*authenticators.Record, error) {
	f.lock.RLock()
	defer f.lock.RUnlock()

	for _, r := range f.records {
		if (userID == "" || r.UserID == userID) && r.Type == t && r.Handle == handle {
			return clone(r), nil
		}
	}
	return nil, apperrors.NotFound("Authenticator not found")
}

func (f *FakeAuthenticatorRepo) UpdateCounter(_ context.Context, id string, counter uint32) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	r, ok := f.records[id]
	if !ok {
		return apperrors.NotFound("Authenticator not found")
	}
	r.Counter = &counter
	return nil
}
