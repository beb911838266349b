package model

import (
	"time"
)

type User struct {
	ID               string           `db:"id" json:"id"`
	TelegramID       int64            `db:"telegram_id" json:"telegram_id,string"`
	FirstName        *string          `db:"first_name" json:"first_name,omitempty"`
	LastName         *string          `db:"last_name" json:"last_name,omitempty"`
	Username         *string          `db:"username" json:"username,omitempty"`
	LanguageCode     *string          `db:"language_code" json:"language_code,omitempty"`
	IsPremium        bool             `db:"is_premium" json:"is_premium"`
	SubscriptionType SubscriptionType `db:"subscription_type" json:"subscription_type"`
	AuthPreference   *AuthMethod      `db:"auth_preference" json:"auth_preference,omitempty"`
	LastBotAuthAt    *time.Time       `db:"last_bot_auth_at" json:"last_bot_auth_at,omitempty"`
	LastActiveAt     *time.Time       `db:"last_active_at" json:"last_active_at,omitempty"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// UpsertUserParams carries the display fields refreshed on every successful authentication.
// Nil fields keep the stored value.
type UpsertUserParams struct {
	TelegramID   int64
	FirstName    *string
	LastName     *string
	Username     *string
	LanguageCode *string
	IsPremium    *bool
	AuthMethod   AuthMethod
	AuthAt       time.Time
}
