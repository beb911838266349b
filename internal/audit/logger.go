package audit

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventHandshakeInitiate   EventType = "handshake_initiate"
	EventHandshakeComplete   EventType = "handshake_complete"
	EventHandshakeFailure    EventType = "handshake_failure"
	EventWebAppLogin         EventType = "webapp_login"
	EventInvalidIdentity     EventType = "invalid_identity"
	EventTokenRefresh        EventType = "token_refresh"
	EventRefreshFailure      EventType = "refresh_failure"
	EventLogout              EventType = "logout"
	EventAuthFailure         EventType = "auth_failure"
	EventFingerprintMismatch EventType = "fingerprint_mismatch"
	EventRateLimitExceed     EventType = "rate_limit_exceeded"
	EventWebhookRejected     EventType = "webhook_rejected"
)

type Event struct {
	Type       EventType
	UserID     string
	SessionID  string
	TelegramID int64
	IP         string
	UserAgent  string
	Details    map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := log.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &log.Logger
	}

	logEvent := logger.Info().
		Str("audit", "security").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now())

	if event.UserID != "" {
		logEvent = logEvent.Str("user_id", event.UserID)
	}
	if event.SessionID != "" {
		logEvent = logEvent.Str("session_id", event.SessionID)
	}
	if event.TelegramID != 0 {
		logEvent = logEvent.Int64("telegram_id", event.TelegramID)
	}
	if event.IP != "" {
		logEvent = logEvent.Str("ip", event.IP)
	}
	if event.UserAgent != "" {
		logEvent = logEvent.Str("user_agent", event.UserAgent)
	}

	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("security audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = ClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

// ClientIP prefers proxy headers over the socket address.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
