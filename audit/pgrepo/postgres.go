package pgauditrepo

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/jrsteele09/go-sso-broker/audit"
	"github.com/jrsteele09/go-sso-broker/internal/dbx"
	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
)

var _ audit.Repo = (*PostgresAuditRepo)(nil)

type PostgresAuditRepo struct {
	db dbx.DBTX
}

func NewPostgresAuditRepo(db dbx.DBTX) *PostgresAuditRepo {
	return &PostgresAuditRepo{db: db}
}

func (r *PostgresAuditRepo) Add(ctx context.Context, e *audit.Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	var userID sql.NullString
	if e.UserID != "" {
		userID = sql.NullString{String: e.UserID, Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit (id, user_id, ip, country, object, action, attribute, created)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, userID, e.IP, e.Country, string(e.Object), string(e.Action), e.Attribute, e.Created)
	if err != nil {
		return apperrors.Wrapf(apperrors.MapDBError(err), "[PostgresAuditRepo.Add]")
	}
	return nil
}

func (r *PostgresAuditRepo) Get(ctx context.Context, id string) (*audit.Entry, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NotFound("Audit ID does not exist")
	}
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, ip, country, object, action, attribute, created FROM audit WHERE id = $1`, id)
	e, err := scan(row)
	if err != nil {
		mapped := apperrors.MapDBError(err)
		if apperrors.KindOf(mapped) == apperrors.KindNotFound {
			return nil, apperrors.NotFound("Audit ID does not exist")
		}
		return nil, apperrors.Wrapf(mapped, "[PostgresAuditRepo.Get]")
	}
	return e, nil
}

func (r *PostgresAuditRepo) ListByUser(ctx context.Context, userID string, offset, limit int) ([]*audit.Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, ip, country, object, action, attribute, created FROM audit
		 WHERE user_id = $1 ORDER BY created DESC OFFSET $2 LIMIT $3`, userID, offset, limit)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.MapDBError(err), "[PostgresAuditRepo.ListByUser]")
	}
	defer rows.Close()

	out := make([]*audit.Entry, 0, limit)
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, apperrors.Wrapf(err, "[PostgresAuditRepo.ListByUser] scan")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*audit.Entry, error) {
	e := &audit.Entry{}
	var userID sql.NullString
	var object, action string
	if err := s.Scan(&e.ID, &userID, &e.IP, &e.Country, &object, &action, &e.Attribute, &e.Created); err != nil {
		return nil, err
	}
	e.UserID = userID.String
	e.Object = audit.Object(object)
	e.Action = audit.Action(action)
	return e, nil
}
