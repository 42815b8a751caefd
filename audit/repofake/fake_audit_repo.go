package fakeauditrepo

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jrsteele09/go-sso-broker/audit"
	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
)

var _ audit.Repo = (*FakeAuditRepo)(nil)

type FakeAuditRepo struct {
	entries []*audit.Entry
	// Err, when set, fails every Add.
	Err  error
	lock sync.RWMutex
}

func NewFakeAuditRepo() *FakeAuditRepo {
	return &FakeAuditRepo{}
}

func (f *FakeAuditRepo) Add(_ context.Context, entry *audit.Entry) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	if f.Err != nil {
		return f.Err
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	stored := *entry
	stored.Page = ""
	f.entries = append(f.entries, &stored)
	return nil
}

func (f *FakeAuditRepo) Get(_ context.Context, id string) (*audit.Entry, error) {
	f.lock.RLock()
	defer f.lock.RUnlock()

	for _, e := range f.entries {
		if e.ID == id {
			c := *e
			return &c, nil
		}
	}
	return nil, apperrors.NotFound("Audit ID does not exist")
}

func (f *FakeAuditRepo) ListByUser(_ context.Context, userID string, offset, limit int) ([]*audit.Entry, error) {
	f.lock.RLock()
	defer f.lock.RUnlock()

	var out []*audit.Entry
	for i := len(f.entries) - 1; i >= 0; i-- {
		if f.entries[i].UserID == userID {
			c := *f.entries[i]
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	if offset >= len(out) {
		return []*audit.Entry{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// All returns every stored entry in insertion order.
func (f *FakeAuditRepo) All() []*audit.Entry {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return append([]*audit.Entry(nil), f.entries...)
}
