package model

import (
	"encoding/json"
	"time"
)

// AuthRequest is one pending bot-to-webapp handshake (bot_auth_requests).
type AuthRequest struct {
	ID          string           `db:"id" json:"id"`
	AuthHash    string           `db:"auth_hash" json:"-"`
	TelegramID  int64            `db:"telegram_id" json:"telegram_id"`
	UserData    *json.RawMessage `db:"user_data" json:"user_data,omitempty"`
	ExpiresAt   time.Time        `db:"expires_at" json:"expires_at"`
	IsCompleted bool             `db:"is_completed" json:"is_completed"`
	CompletedAt *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
	IPAddress   *string          `db:"ip_address" json:"-"`
	UserAgent   *string          `db:"user_agent" json:"-"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
}

// PrefilledUser decodes the bot-supplied user data, if any.
func (r *AuthRequest) PrefilledUser() *TelegramUser {
	if r.UserData == nil || len(*r.UserData) == 0 {
		return nil
	}
	var u TelegramUser
	if err := json.Unmarshal(*r.UserData, &u); err != nil {
		return nil
	}
	return &u
}

type CreateAuthRequestParams struct {
	AuthHash   string
	TelegramID int64
	UserData   *json.RawMessage
	ExpiresAt  time.Time
	IPAddress  *string
	UserAgent  *string
}
