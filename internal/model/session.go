package model

import (
	"time"
)

// AuthSession is one issued token pair (auth_sessions). Tokens are stored as
// SHA-256 hashes; the raw values only ever exist on the client.
type AuthSession struct {
	ID                string      `db:"id" json:"id"`
	UserID            string      `db:"user_id" json:"user_id"`
	AccessTokenHash   string      `db:"access_token_hash" json:"-"`
	RefreshTokenHash  string      `db:"refresh_token_hash" json:"-"`
	BotAuthHash       *string     `db:"bot_auth_hash" json:"-"`
	SessionType       SessionType `db:"session_type" json:"session_type"`
	ExpiresAt         time.Time   `db:"expires_at" json:"expires_at"`
	RefreshExpiresAt  time.Time   `db:"refresh_expires_at" json:"refresh_expires_at"`
	IPAddress         *string     `db:"ip_address" json:"-"`
	UserAgent         *string     `db:"user_agent" json:"-"`
	DeviceFingerprint *string     `db:"device_fingerprint" json:"-"`
	IsActive          bool        `db:"is_active" json:"is_active"`
	CreatedAt         time.Time   `db:"created_at" json:"created_at"`
	LastUsedAt        time.Time   `db:"last_used_at" json:"last_used_at"`
}

// CanRefresh reports whether the session is active and its refresh window is still open.
func (s *AuthSession) CanRefresh(now time.Time) bool {
	return s.IsActive && !now.After(s.RefreshExpiresAt)
}

type CreateAuthSessionParams struct {
	ID                string
	UserID            string
	AccessTokenHash   string
	RefreshTokenHash  string
	BotAuthHash       *string
	SessionType       SessionType
	ExpiresAt         time.Time
	RefreshExpiresAt  time.Time
	IPAddress         *string
	UserAgent         *string
	DeviceFingerprint *string
}

type RotateAuthSessionParams struct {
	ID               string
	AccessTokenHash  string
	RefreshTokenHash string
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
	UsedAt           time.Time
}
