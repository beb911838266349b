package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/navigapp/navigapp-server-go/internal/database"
	"github.com/navigapp/navigapp-server-go/internal/model"
)

type UserRepository interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByTelegramID(ctx context.Context, telegramID int64) (*model.User, error)
	// Upsert inserts the user or refreshes its display fields in one statement,
	// so two first logins for the same Telegram id cannot create two rows.
	Upsert(ctx context.Context, params model.UpsertUserParams) (*model.User, error)
	TouchLastActive(ctx context.Context, id string) error
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) UserRepository
}

type userRepo struct {
	db database.DBTX
}

func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) WithTx(tx *sqlx.Tx) UserRepository {
	return &userRepo{db: tx}
}

func (r *userRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `SELECT * FROM users WHERE id = $1`, id)
	return HandleNotFound(&user, err)
}

func (r *userRepo) FindByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `SELECT * FROM users WHERE telegram_id = $1`, telegramID)
	return HandleNotFound(&user, err)
}

func (r *userRepo) Upsert(ctx context.Context, params model.UpsertUserParams) (*model.User, error) {
	var lastBotAuthAt any
	if params.AuthMethod == model.AuthMethodBot {
		lastBotAuthAt = params.AuthAt
	}

	var user model.User
	err := r.db.GetContext(ctx, &user, `
		INSERT INTO users (
			telegram_id, first_name, last_name, username, language_code, is_premium,
			auth_preference, last_bot_auth_at, last_active_at
		)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, FALSE), $7, $8, $9)
		ON CONFLICT (telegram_id) DO UPDATE SET
			first_name = COALESCE(EXCLUDED.first_name, users.first_name),
			last_name = COALESCE(EXCLUDED.last_name, users.last_name),
			username = COALESCE(EXCLUDED.username, users.username),
			language_code = COALESCE(EXCLUDED.language_code, users.language_code),
			is_premium = COALESCE($6, users.is_premium),
			auth_preference = EXCLUDED.auth_preference,
			last_bot_auth_at = COALESCE(EXCLUDED.last_bot_auth_at, users.last_bot_auth_at),
			last_active_at = EXCLUDED.last_active_at,
			updated_at = EXCLUDED.last_active_at
		RETURNING *
	`, params.TelegramID, params.FirstName, params.LastName, params.Username, params.LanguageCode,
		params.IsPremium, params.AuthMethod, lastBotAuthAt, params.AuthAt)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepo) TouchLastActive(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET last_active_at = NOW() WHERE id = $1
	`, id)
	return err
}
