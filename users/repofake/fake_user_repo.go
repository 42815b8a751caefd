package fakeuserrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
	"github.com/jrsteele09/go-sso-broker/users"
)

var _ users.UserRepo = (*FakeUserRepo)(nil)

type passwordEntry struct {
	hash string
	at   time.Time
	seq  int
}

type FakeUserRepo struct {
	users       map[string]*users.User
	usernameIds map[string]string // lower-cased username to user id
	passwords   map[string][]passwordEntry
	seq         int
	lock        sync.RWMutex
}

func NewFakeUserRepo() *FakeUserRepo {
	return &FakeUserRepo{
		users:       make(map[string]*users.User),
		usernameIds: make(map[string]string),
		passwords:   make(map[string][]passwordEntry),
	}
}

func (ur *FakeUserRepo) Create(_ context.Context, user *users.User) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	key := users.NormalizeUsername(user.Username)
	if _, ok := ur.usernameIds[key]; ok {
		return apperrors.Conflict("Email address already registered")
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	stored := *user
	ur.users[user.ID] = &stored
	ur.usernameIds[key] = user.ID
	return nil
}

func (ur *FakeUserRepo) GetByID(_ context.Context, id string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	u, ok := ur.users[id]
	if !ok {
		return nil, apperrors.NotFound("User unknown")
	}
	copied := *u
	return &copied, nil
}

func (ur *FakeUserRepo) GetByUsername(ctx context.Context, username string) (*users.User, error) {
	ur.lock.RLock()
	id, ok := ur.usernameIds[users.NormalizeUsername(username)]
	ur.lock.RUnlock()
	if !ok {
		return nil, apperrors.NotFound("User unknown")
	}
	return ur.GetByID(ctx, id)
}

func (ur *FakeUserRepo) UpdateLoginTime(_ context.Context, id string, at time.Time) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	u, ok := ur.users[id]
	if !ok {
		return apperrors.NotFound("User unknown")
	}
	u.LastLogin = &at
	return nil
}

func (ur *FakeUserRepo) AddPassword(_ context.Context, userID, hash string, at time.Time) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	if _, ok := ur.users[userID]; !ok {
		return apperrors.NotFound("User unknown")
	}
	ur.seq++
	ur.passwords[userID] = append(ur.passwords[userID], passwordEntry{hash: hash, at: at, seq: ur.seq})
	return nil
}

func (ur *FakeUserRepo) PasswordHistory(_ context.Context, userID string, limit int) ([]string, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	entries := append([]passwordEntry(nil), ur.passwords[userID]...)
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].at.Equal(entries[j].at) {
			return entries[i].seq > entries[j].seq
		}
		return entries[i].at.After(entries[j].at)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	hashes := make([]string, 0, len(entries))
	for _, e := range entries {
		hashes = append(hashes, e.hash)
	}
	return hashes, nil
}
