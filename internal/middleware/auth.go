package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/navigapp/navigapp-server-go/internal/audit"
	apperrors "github.com/navigapp/navigapp-server-go/internal/errors"
	"github.com/navigapp/navigapp-server-go/internal/httputil"
	"github.com/navigapp/navigapp-server-go/internal/model"
	"github.com/navigapp/navigapp-server-go/internal/token"
)

type contextKey string

const (
	SessionContextKey contextKey = "session"
	ClaimsContextKey  contextKey = "claims"
)

func GetSession(ctx context.Context) *model.AuthSession {
	if session, ok := ctx.Value(SessionContextKey).(*model.AuthSession); ok {
		return session
	}
	return nil
}

func GetClaims(ctx context.Context) *token.Claims {
	if claims, ok := ctx.Value(ClaimsContextKey).(*token.Claims); ok {
		return claims
	}
	return nil
}

// GetUserID returns the authenticated user id, or "" outside an authenticated route.
func GetUserID(ctx context.Context) string {
	if session := GetSession(ctx); session != nil {
		return session.UserID
	}
	return ""
}

// SessionAuthenticator resolves a bearer token. *service.AuthService satisfies it.
type SessionAuthenticator interface {
	AuthenticateSession(ctx context.Context, accessToken string) (*model.AuthSession, *token.Claims, error)
}

type AuthMiddleware struct {
	auth SessionAuthenticator
}

func NewAuthMiddleware(auth SessionAuthenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: auth}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accessToken := extractToken(r)
		if accessToken == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Missing authentication token"))
			return
		}

		session, claims, err := m.auth.AuthenticateSession(r.Context(), accessToken)
		if err != nil {
			if apperrors.GetCode(err) == apperrors.ErrCodeInvalidToken {
				audit.LogFromRequest(r, audit.Event{Type: audit.EventAuthFailure})
			}
			httputil.WriteError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), SessionContextKey, session)
		ctx = context.WithValue(ctx, ClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
