package fakesessionrepo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
	"github.com/jrsteele09/go-sso-broker/sessions"
)

var _ sessions.Repo = (*FakeSessionRepo)(nil)

type FakeSessionRepo struct {
	sessions map[string]*sessions.Session // by token
	lock     sync.RWMutex
}

func NewFakeSessionRepo() *FakeSessionRepo {
	return &FakeSessionRepo{
		sessions: make(map[string]*sessions.Session),
	}
}

func (sr *FakeSessionRepo) Create(_ context.Context, session *sessions.Session) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	if _, ok := sr.sessions[session.Token]; ok {
		return apperrors.Conflict("Session already exists")
	}
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	stored := *session
	sr.sessions[session.Token] = &stored
	return nil
}

func (sr *FakeSessionRepo) Get(_ context.Context, token string) (*sessions.Session, error) {
	sr.lock.RLock()
	defer sr.lock.RUnlock()

	s, ok := sr.sessions[token]
	if !ok {
		return nil, apperrors.NotFound("Session not found")
	}
	out := *s
	return &out, nil
}

func (sr *FakeSessionRepo) Touch(_ context.Context, token string, at time.Time) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	s, ok := sr.sessions[token]
	if !ok {
		return apperrors.NotFound("Session not found")
	}
	s.LastSeen = at
	return nil
}

func (sr *FakeSessionRepo) Delete(_ context.Context, token string) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()
	delete(sr.sessions, token)
	return nil
}

func (sr *FakeSessionRepo) DeleteAllExcept(_ context.Context, userID, keepToken string) (int, error) {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	removed := 0
	for token, s := range sr.sessions {
		if s.UserID == userID && token != keepToken {
			delete(sr.sessions, token)
			removed++
		}
	}
	return removed, nil
}

// Count returns the number of live sessions for userID.
func (sr *FakeSessionRepo) Count(userID string) int {
	sr.lock.RLock()
	defer sr.lock.RUnlock()

	n := 0
	for _, s := range sr.sessions {
		if s.UserID == userID {
			n++
		}
	}
	return n
}
