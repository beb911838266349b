package handler

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/navigapp/navigapp-server-go/internal/errors"
	"github.com/navigapp/navigapp-server-go/internal/model"
	"github.com/navigapp/navigapp-server-go/internal/service"
	"github.com/navigapp/navigapp-server-go/internal/token"
	"github.com/navigapp/navigapp-server-go/internal/util"
)

type tokensResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func formatTokens(pair *token.Pair) tokensResponse {
	return tokensResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		ExpiresAt:        pair.ExpiresAt.UTC(),
		RefreshExpiresAt: pair.RefreshExpiresAt.UTC(),
	}
}

type sessionResponse struct {
	ID          string            `json:"id"`
	SessionType model.SessionType `json:"session_type"`
	ExpiresAt   time.Time         `json:"expires_at"`
	CreatedAt   time.Time         `json:"created_at"`
}

func formatSession(s *model.AuthSession) sessionResponse {
	return sessionResponse{
		ID:          s.ID,
		SessionType: s.SessionType,
		ExpiresAt:   s.ExpiresAt.UTC(),
		CreatedAt:   s.CreatedAt.UTC(),
	}
}

// telegramID accepts the id as a JSON number or a numeric string.
type telegramID int64

func (t *telegramID) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		*t = 0
		return nil
	}
	id, ok := util.ParseTelegramID(raw)
	if !ok {
		return apperrors.ValidationError("telegram_id must be a positive integer")
	}
	*t = telegramID(id)
	return nil
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if appErr, ok := apperrors.AsAppError(err); ok {
			return appErr
		}
		return apperrors.ValidationError("Invalid request body")
	}
	return nil
}

func requestMeta(r *http.Request) service.RequestMeta {
	return service.RequestMeta{
		IP:          clientIP(r),
		UserAgent:   truncate(r.UserAgent(), 512),
		Fingerprint: token.DeviceFingerprint(r),
	}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
