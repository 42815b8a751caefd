package pgauthrepo

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/jrsteele09/go-sso-broker/authenticators"
	"github.com/jrsteele09/go-sso-broker/internal/dbx"
	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
)

var _ authenticators.Repo = (*PostgresAuthenticatorRepo)(nil)

const selectColumns = `SELECT id, user_id, type, handle, label, counter, public_key, created FROM authenticators`

type PostgresAuthenticatorRepo struct {
	db dbx.DBTX
}

func NewPostgresAuthenticatorRepo(db dbx.DBTX) *PostgresAuthenticatorRepo {
	return &PostgresAuthenticatorRepo{db: db}
}

func (r *PostgresAuthenticatorRepo) Add(ctx context.Context, rec *authenticators.Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Created.IsZero() {
		rec.Created = time.Now().UTC()
	}
	var counter sql.NullInt64
	if rec.Counter != nil {
		counter = sql.NullInt64{Int64: int64(*rec.Counter), Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO authenticators (id, user_id, type, handle, label, counter, public_key, created)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.UserID, string(rec.Type), rec.Handle, rec.Label, counter, rec.PublicKey, rec.Created)
	if err != nil {
		mapped := apperrors.MapDBError(err)
		if apperrors.KindOf(mapped) == apperrors.KindConflict {
			return apperrors.Conflict("Authenticator already registered")
		}
		return apperrors.Wrapf(mapped, "[PostgresAuthenticatorRepo.Add]")
	}
	return nil
}

func (r *PostgresAuthenticatorRepo) Remove(ctx context.Context, userID string, t authenticators.Type, handle string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM authenticators WHERE user_id = $1 AND type = $2 AND handle = $3`, userID, string(t), handle)
	if err != nil {
		return apperrors.Wrapf(apperrors.MapDBError(err), "[PostgresAuthenticatorRepo.Remove]")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("Authenticator not found")
	}
	return nil
}

func (r *PostgresAuthenticatorRepo) ListByUser(ctx context.Context, userID string, t authenticators.Type) ([]*authenticators.Record, error) {
	rows, err := r.db.QueryContext(ctx,
		selectColumns+` WHERE user_id = $1 AND ($2 = '' OR type = $2) ORDER BY created`, userID, string(t))
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.MapDBError(err), "[PostgresAuthenticatorRepo.ListByUser]")
	}
	defer rows.Close()

	out := make([]*authenticators.Record, 0)
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, apperrors.Wrapf(err, "[PostgresAuthenticatorRepo.ListByUser] scan")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresAuthenticatorRepo) FindByHandle(ctx context.Context, userID string, t authenticators.Type, handle string) (*authenticators.Record, error) {
	row := r.db.QueryRowContext(ctx,
		selectColumns+` WHERE ($1 = '' OR user_id::text = $1) AND type = $2 AND handle = $3 LIMIT 1`,
		userID, string(t), handle)
	rec, err := scan(row)
	if err != nil {
		mapped := apperrors.MapDBError(err)
		if apperrors.KindOf(mapped) == apperrors.KindNotFound {
			return nil, apperrors.NotFound("Authenticator not found")
		}
		return nil, apperrors.Wrapf(mapped, "[PostgresAuthenticatorRepo.FindByHandle]")
	}
	return rec, nil
}

func (r *PostgresAuthenticatorRepo) UpdateCounter(ctx context.Context, id string, counter uint32) error {
	res, err := r.db.ExecContext(ctx, `UPDATE authenticators SET counter = $2 WHERE id = $1`, id, int64(counter))
	if err != nil {
		return apperrors.Wrapf(apperrors.MapDBError(err), "[PostgresAuthenticatorRepo.UpdateCounter]")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("Authenticator not found")
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*authenticators.Record, error) {
	rec := &authenticators.Record{}
	var typ string
	var counter sql.NullInt64
	if err := s.Scan(&rec.ID, &rec.UserID, &typ, &rec.Handle, &rec.Label, &counter, &rec.PublicKey, &rec.Created); err != nil {
		return nil, err
	}
	rec.Type = authenticators.Type(typ)
	if counter.Valid {
		c := uint32(counter.Int64)
		rec.Counter = &c
	}
	return rec, nil
}
