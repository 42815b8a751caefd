package pgsessionrepo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jrsteele09/go-sso-broker/internal/dbx"
	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
	"github.com/jrsteele09/go-sso-broker/sessions"
)

var _ sessions.Repo = (*PostgresSessionRepo)(nil)

type PostgresSessionRepo struct {
	db dbx.DBTX
}

func NewPostgresSessionRepo(db dbx.DBTX) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

func (r *PostgresSessionRepo) Create(ctx context.Context, s *sessions.Session) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_sessions (id, user_id, token, created, last_seen) VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.UserID, s.Token, s.Created, s.LastSeen)
	if err != nil {
		return apperrors.Wrapf(apperrors.MapDBError(err), "[PostgresSessionRepo.Create]")
	}
	return nil
}

func (r *PostgresSessionRepo) Get(ctx context.Context, token string) (*sessions.Session, error) {
	s := &sessions.Session{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, token, created, last_seen FROM user_sessions WHERE token = $1`, token).
		Scan(&s.ID, &s.UserID, &s.Token, &s.Created, &s.LastSeen)
	if err != nil {
		if apperrors.KindOf(apperrors.MapDBError(err)) == apperrors.KindNotFound {
			return nil, apperrors.NotFound("Session not found")
		}
		return nil, apperrors.Wrapf(apperrors.MapDBError(err), "[PostgresSessionRepo.Get]")
	}
	return s, nil
}

func (r *PostgresSessionRepo) Touch(ctx context.Context, token string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE user_sessions SET last_seen = $2 WHERE token = $1`, token, at)
	if err != nil {
		return apperrors.Wrapf(apperrors.MapDBError(err), "[PostgresSessionRepo.Touch]")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("Session not found")
	}
	return nil
}

func (r *PostgresSessionRepo) Delete(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE token = $1`, token); err != nil {
		return apperrors.Wrapf(apperrors.MapDBError(err), "[PostgresSessionRepo.Delete]")
	}
	return nil
}

func (r *PostgresSessionRepo) DeleteAllExcept(ctx context.Context, userID, keepToken string) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM user_sessions WHERE user_id = $1 AND token <> $2`, userID, keepToken)
	if err != nil {
		return 0, apperrors.Wrapf(apperrors.MapDBError(err), "[PostgresSessionRepo.DeleteAllExcept]")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
