package pgconfirmrepo

import (
	"context"

	"github.com/jrsteele09/go-sso-broker/emailconfirm"
	"github.com/jrsteele09/go-sso-broker/internal/dbx"
	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
)

var _ emailconfirm.Repo = (*PostgresConfirmationRepo)(nil)

type PostgresConfirmationRepo struct {
	db dbx.DBTX
}

func NewPostgresConfirmationRepo(db dbx.DBTX) *PostgresConfirmationRepo {
	return &PostgresConfirmationRepo{db: db}
}

func (r *PostgresConfirmationRepo) Add(ctx context.Context, c *emailconfirm.Confirmation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO email_confirmations (token, username, ip, purpose, created) VALUES ($1, $2, $3, $4, $5)`,
		c.Token, c.Username, c.IP, string(c.Purpose), c.Created)
	if err != nil {
		return apperrors.Wrapf(apperrors.MapDBError(err), "[PostgresConfirmationRepo.Add]")
	}
	return nil
}

func (r *PostgresConfirmationRepo) Get(ctx context.Context, token string) (*emailconfirm.Confirmation, error) {
	c := &emailconfirm.Confirmation{}
	var purpose string
	err := r.db.QueryRowContext(ctx,
		`SELECT token, username, ip, purpose, created FROM email_confirmations WHERE token = $1`, token).
		Scan(&c.Token, &c.Username, &c.IP, &purpose, &c.Created)
	if err != nil {
		if apperrors.KindOf(apperrors.MapDBError(err)) == apperrors.KindNotFound {
			return nil, apperrors.NotFound("Token not found")
		}
		return nil, apperrors.Wrapf(apperrors.MapDBError(err), "[PostgresConfirmationRepo.Get]")
	}
	c.Purpose = emailconfirm.Purpose(purpose)
	return c, nil
}

func (r *PostgresConfirmationRepo) Delete(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM email_confirmations WHERE token = $1`, token); err != nil {
		return apperrors.Wrapf(apperrors.MapDBError(err), "[PostgresConfirmationRepo.Delete]")
	}
	return nil
}
