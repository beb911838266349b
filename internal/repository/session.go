package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/navigapp/navigapp-server-go/internal/database"
	"github.com/navigapp/navigapp-server-go/internal/model"
)

type AuthSessionRepository interface {
	FindByID(ctx context.Context, id string) (*model.AuthSession, error)
	FindByRefreshTokenHash(ctx context.Context, refreshTokenHash string) (*model.AuthSession, error)
	Create(ctx context.Context, params model.CreateAuthSessionParams) (*model.AuthSession, error)
	// Rotate overwrites the token hashes and expiries of an active session in place.
	// It returns nil when the session is gone or inactive.
	Rotate(ctx context.Context, params model.RotateAuthSessionParams) (*model.AuthSession, error)
	Deactivate(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) AuthSessionRepository
}

type authSessionRepo struct {
	db database.DBTX
}

func NewAuthSessionRepository(db *sqlx.DB) AuthSessionRepository {
	return &authSessionRepo{db: db}
}

func (r *authSessionRepo) WithTx(tx *sqlx.Tx) AuthSessionRepository {
	return &authSessionRepo{db: tx}
}

func (r *authSessionRepo) FindByID(ctx context.Context, id string) (*model.AuthSession, error) {
	var session model.AuthSession
	err := r.db.GetContext(ctx, &session, `SELECT * FROM auth_sessions WHERE id = $1`, id)
	return HandleNotFound(&session, err)
}

func (r *authSessionRepo) FindByRefreshTokenHash(ctx context.Context, refreshTokenHash string) (*model.AuthSession, error) {
	var session model.AuthSession
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM auth_sessions WHERE refresh_token_hash = $1
	`, refreshTokenHash)
	return HandleNotFound(&session, err)
}

func (r *authSessionRepo) Create(ctx context.Context, params model.CreateAuthSessionParams) (*model.AuthSession, error) {
	var session model.AuthSession
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO auth_sessions (
			id, user_id, access_token_hash, refresh_token_hash, bot_auth_hash, session_type,
			expires_at, refresh_expires_at, ip_address, user_agent, device_fingerprint
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING *
	`, params.ID, params.UserID, params.AccessTokenHash, params.RefreshTokenHash, params.BotAuthHash,
		params.SessionType, params.ExpiresAt, params.RefreshExpiresAt, params.IPAddress, params.UserAgent,
		params.DeviceFingerprint)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *authSessionRepo) Rotate(ctx context.Context, params model.RotateAuthSessionParams) (*model.AuthSession, error) {
	var session model.AuthSession
	err := r.db.GetContext(ctx, &session, `
		UPDATE auth_sessions SET
			access_token_hash = $2,
			refresh_token_hash = $3,
			expires_at = $4,
			refresh_expires_at = $5,
			last_used_at = $6
		WHERE id = $1 AND is_active = TRUE
		RETURNING *
	`, params.ID, params.AccessTokenHash, params.RefreshTokenHash, params.ExpiresAt,
		params.RefreshExpiresAt, params.UsedAt)
	return HandleNotFound(&session, err)
}

func (r *authSessionRepo) Deactivate(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE auth_sessions SET is_active = FALSE, last_used_at = $2 WHERE id = $1
	`, id, time.Now())
	return err
}

func (r *authSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM auth_sessions
		WHERE is_active = FALSE OR refresh_expires_at < NOW()
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
