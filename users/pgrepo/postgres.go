package pguserrepo

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/jrsteele09/go-sso-broker/internal/dbx"
	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
	"github.com/jrsteele09/go-sso-broker/users"
)

var _ users.UserRepo = (*PostgresUserRepo)(nil)

type PostgresUserRepo struct {
	db dbx.DBTX
}

func NewPostgresUserRepo(db dbx.DBTX) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

func (r *PostgresUserRepo) Create(ctx context.Context, user *users.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.Created.IsZero() {
		user.Created = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, created) VALUES ($1, $2, $3)`,
		user.ID, users.NormalizeUsername(user.Username), user.Created)
	if err != nil {
		if apperrors.KindOf(apperrors.MapDBError(err)) == apperrors.KindConflict {
			return apperrors.Conflict("Email address already registered")
		}
		return apperrors.Wrapf(apperrors.MapDBError(err), "[PostgresUserRepo.Create]")
	}
	return nil
}

func (r *PostgresUserRepo) GetByID(ctx context.Context, id string) (*users.User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, username, created, last_login FROM users WHERE id = $1`, id))
}

func (r *PostgresUserRepo) GetByUsername(ctx context.Context, username string) (*users.User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, username, created, last_login FROM users WHERE lower(username) = $1`,
		users.NormalizeUsername(username)))
}

func (r *PostgresUserRepo) scanOne(row *sql.Row) (*users.User, error) {
	u := &users.User{}
	var lastLogin sql.NullTime
	if err := row.Scan(&u.ID, &u.Username, &u.Created, &lastLogin); err != nil {
		if apperrors.KindOf(apperrors.MapDBError(err)) == apperrors.KindNotFound {
			return nil, apperrors.NotFound("User unknown")
		}
		return nil, apperrors.Wrapf(apperrors.MapDBError(err), "[PostgresUserRepo.scanOne]")
	}
	if lastLogin.Valid {
		u.LastLogin = &lastLogin.Time
	}
	return u, nil
}

func (r *PostgresUserRepo) UpdateLoginTime(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at)
	if err != nil {
		return apperrors.Wrapf(apperrors.MapDBError(err), "[PostgresUserRepo.UpdateLoginTime]")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("User unknown")
	}
	return nil
}

func (r *PostgresUserRepo) AddPassword(ctx context.Context, userID, hash string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO passwords (user_id, hash, created) VALUES ($1, $2, $3)`, userID, hash, at)
	if err != nil {
		return apperrors.Wrapf(apperrors.MapDBError(err), "[PostgresUserRepo.AddPassword]")
	}
	return nil
}

func (r *PostgresUserRepo) PasswordHistory(ctx context.Context, userID string, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT hash FROM passwords WHERE user_id = $1 ORDER BY created DESC, id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.MapDBError(err), "[PostgresUserRepo.PasswordHistory]")
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, apperrors.Wrapf(err, "[PostgresUserRepo.PasswordHistory] scan")
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}
