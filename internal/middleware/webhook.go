package middleware

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/navigapp/navigapp-server-go/internal/audit"
	apperrors "github.com/navigapp/navigapp-server-go/internal/errors"
	"github.com/navigapp/navigapp-server-go/internal/httputil"
	"github.com/navigapp/navigapp-server-go/internal/util"
)

// TelegramSecretHeader carries the secret_token registered with setWebhook.
const TelegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

type TelegramWebhookMiddleware struct {
	secret string
}

func NewTelegramWebhookMiddleware(secret string) *TelegramWebhookMiddleware {
	return &TelegramWebhookMiddleware{secret: secret}
}

func (m *TelegramWebhookMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.secret == "" {
			log.Error().Msg("telegram webhook rejected: TELEGRAM_WEBHOOK_SECRET is not configured")
			httputil.WriteError(w, apperrors.Unauthorized("Invalid webhook secret"))
			return
		}

		if !util.ConstantTimeEqual(r.Header.Get(TelegramSecretHeader), m.secret) {
			audit.LogFromRequest(r, audit.Event{Type: audit.EventWebhookRejected})
			httputil.WriteError(w, apperrors.Unauthorized("Invalid webhook secret"))
			return
		}

		next.ServeHTTP(w, r)
	})
}
