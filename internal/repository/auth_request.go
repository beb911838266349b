package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/navigapp/navigapp-server-go/internal/database"
	"github.com/navigapp/navigapp-server-go/internal/model"
)

type AuthRequestRepository interface {
	Create(ctx context.Context, params model.CreateAuthRequestParams) (*model.AuthRequest, error)
	// FindActiveByHash returns the handshake only while it is pending and unexpired.
	FindActiveByHash(ctx context.Context, authHash string, now time.Time) (*model.AuthRequest, error)
	// Claim marks a pending, unexpired handshake completed and returns it.
	// It returns nil when no row matched, which covers unknown, expired and
	// already claimed hashes alike.
	Claim(ctx context.Context, authHash string, now time.Time) (*model.AuthRequest, error)
	DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) AuthRequestRepository
}

type authRequestRepo struct {
	db database.DBTX
}

func NewAuthRequestRepository(db *sqlx.DB) AuthRequestRepository {
	return &authRequestRepo{db: db}
}

func (r *authRequestRepo) WithTx(tx *sqlx.Tx) AuthRequestRepository {
	return &authRequestRepo{db: tx}
}

func (r *authRequestRepo) Create(ctx context.Context, params model.CreateAuthRequestParams) (*model.AuthRequest, error) {
	var req model.AuthRequest
	err := r.db.GetContext(ctx, &req, `
		INSERT INTO bot_auth_requests (auth_hash, telegram_id, user_data, expires_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *
	`, params.AuthHash, params.TelegramID, params.UserData, params.ExpiresAt, params.IPAddress, params.UserAgent)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *authRequestRepo) FindActiveByHash(ctx context.Context, authHash string, now time.Time) (*model.AuthRequest, error) {
	var req model.AuthRequest
	err := r.db.GetContext(ctx, &req, `
		SELECT * FROM bot_auth_requests
		WHERE auth_hash = $1
		AND is_completed = FALSE
		AND expires_at >= $2
	`, authHash, now)
	return HandleNotFound(&req, err)
}

func (r *authRequestRepo) Claim(ctx context.Context, authHash string, now time.Time) (*model.AuthRequest, error) {
	var req model.AuthRequest
	err := r.db.GetContext(ctx, &req, `
		UPDATE bot_auth_requests SET
			is_completed = TRUE,
			completed_at = $2
		WHERE auth_hash = $1
		AND is_completed = FALSE
		AND expires_at >= $2
		RETURNING *
	`, authHash, now)
	return HandleNotFound(&req, err)
}

func (r *authRequestRepo) DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM bot_auth_requests
		WHERE expires_at < $1
		OR (is_completed = TRUE AND completed_at < $1)
	`, olderThan)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
