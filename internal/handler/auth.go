package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/navigapp/navigapp-server-go/internal/audit"
	apperrors "github.com/navigapp/navigapp-server-go/internal/errors"
	"github.com/navigapp/navigapp-server-go/internal/httputil"
	"github.com/navigapp/navigapp-server-go/internal/middleware"
	"github.com/navigapp/navigapp-server-go/internal/model"
	"github.com/navigapp/navigapp-server-go/internal/service"
	"github.com/navigapp/navigapp-server-go/internal/token"
)

// AuthService is the part of *service.AuthService the HTTP surface needs.
type AuthService interface {
	Initiate(ctx context.Context, params service.InitiateParams) (*service.InitiateResult, error)
	VerifyInitiator(initData string, telegramID int64) bool
	CheckHandshake(ctx context.Context, authHash string) (*service.HandshakeStatus, error)
	Complete(ctx context.Context, params service.CompleteParams) (*service.AuthResult, error)
	AuthenticateWebApp(ctx context.Context, initData string, meta service.RequestMeta) (*service.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string, meta service.RequestMeta) (*token.Pair, error)
	Logout(ctx context.Context, sessionID string) error
	GetUser(ctx context.Context, userID string) (*model.User, error)
}

type AuthHandler struct {
	auth AuthService

	botKey       func(http.Handler) http.Handler
	requireAuth  func(http.Handler) http.Handler
	authLimit    func(http.Handler) http.Handler
	refreshLimit func(http.Handler) http.Handler
}

type AuthHandlerConfig struct {
	BotKey       func(http.Handler) http.Handler
	RequireAuth  func(http.Handler) http.Handler
	AuthLimit    func(http.Handler) http.Handler
	RefreshLimit func(http.Handler) http.Handler
}

func NewAuthHandler(auth AuthService, cfg AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		auth:         auth,
		botKey:       orPassthrough(cfg.BotKey),
		requireAuth:  orPassthrough(cfg.RequireAuth),
		authLimit:    orPassthrough(cfg.AuthLimit),
		refreshLimit: orPassthrough(cfg.RefreshLimit),
	}
}

func orPassthrough(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw
}

func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(h.botKey).Post("/bot/initiate", h.Initiate)
	r.With(h.authLimit).Post("/bot/validate", h.Validate)
	r.With(h.authLimit).Post("/bot/complete", h.Complete)
	r.With(h.authLimit).Post("/telegram", h.TelegramWebApp)
	r.With(h.refreshLimit).Post("/refresh", h.Refresh)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Post("/logout", h.Logout)
		r.Get("/me", h.Me)
	})

	return r
}

type initiateRequest struct {
	TelegramID telegramID          `json:"telegram_id"`
	UserData   *model.TelegramUser `json:"user_data,omitempty"`
	ReturnPath string              `json:"return_path,omitempty"`
	InitData   string              `json:"init_data,omitempty"`
}

// POST /auth/bot/initiate
func (h *AuthHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.TelegramID == 0 {
		httputil.WriteError(w, apperrors.MissingRequired("telegram_id"))
		return
	}

	id := int64(req.TelegramID)
	if !middleware.IsTrustedBot(r.Context()) && (req.InitData == "" || !h.auth.VerifyInitiator(req.InitData, id)) {
		audit.LogFromRequest(r, audit.Event{
			Type:       audit.EventAuthFailure,
			TelegramID: id,
			Details:    map[string]interface{}{"scope": "bot_initiate"},
		})
		httputil.WriteError(w, apperrors.Forbidden("Not allowed to initiate authentication"))
		return
	}

	result, err := h.auth.Initiate(r.Context(), service.InitiateParams{
		TelegramID: id,
		UserData:   req.UserData,
		ReturnPath: req.ReturnPath,
		Meta:       requestMeta(r),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventHandshakeInitiate, TelegramID: id})
	httputil.WriteSuccess(w, http.StatusOK, result)
}

type authHashRequest struct {
	AuthHash         string              `json:"auth_hash"`
	TelegramUserData *model.TelegramUser `json:"telegram_user_data,omitempty"`
	InitData         string              `json:"init_data,omitempty"`
}

type validateResponse struct {
	Valid      bool       `json:"valid"`
	TelegramID int64      `json:"telegram_id,string,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// POST /auth/bot/validate
func (h *AuthHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req authHashRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.AuthHash == "" {
		httputil.WriteError(w, apperrors.MissingRequired("auth_hash"))
		return
	}

	status, err := h.auth.CheckHandshake(r.Context(), req.AuthHash)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	resp := validateResponse{Valid: status.Valid}
	if status.Valid {
		resp.TelegramID = status.TelegramID
		expiresAt := status.ExpiresAt.UTC()
		resp.ExpiresAt = &expiresAt
	}
	httputil.WriteSuccess(w, http.StatusOK, resp)
}

type completeResponse struct {
	User   *model.User    `json:"user"`
	Tokens tokensResponse `json:"tokens"`
}

// POST /auth/bot/complete
func (h *AuthHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req authHashRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.AuthHash == "" {
		httputil.WriteError(w, apperrors.MissingRequired("auth_hash"))
		return
	}

	result, err := h.auth.Complete(r.Context(), service.CompleteParams{
		AuthHash:         req.AuthHash,
		TelegramUserData: req.TelegramUserData,
		InitData:         req.InitData,
		Meta:             requestMeta(r),
	})
	if err != nil {
		if apperrors.GetCode(err) == apperrors.ErrCodeAuth {
			audit.LogFromRequest(r, audit.Event{Type: audit.EventHandshakeFailure})
		}
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:       audit.EventHandshakeComplete,
		UserID:     result.User.ID,
		SessionID:  result.Session.ID,
		TelegramID: result.User.TelegramID,
		Details:    map[string]interface{}{"session_type": string(result.Session.SessionType)},
	})
	httputil.WriteSuccess(w, http.StatusOK, completeResponse{
		User:   result.User,
		Tokens: formatTokens(result.Tokens),
	})
}

type webAppRequest struct {
	InitData string `json:"initData"`
}

type webAppResponse struct {
	User             *model.User `json:"user"`
	Token            string      `json:"token"`
	RefreshToken     string      `json:"refreshToken"`
	ExpiresAt        time.Time   `json:"expires_at"`
	RefreshExpiresAt time.Time   `json:"refresh_expires_at"`
}

// POST /auth/telegram
func (h *AuthHandler) TelegramWebApp(w http.ResponseWriter, r *http.Request) {
	var req webAppRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.auth.AuthenticateWebApp(r.Context(), req.InitData, requestMeta(r))
	if err != nil {
		if apperrors.GetCode(err) == apperrors.ErrCodeInvalidAuthData {
			audit.LogFromRequest(r, audit.Event{Type: audit.EventInvalidIdentity})
		}
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:       audit.EventWebAppLogin,
		UserID:     result.User.ID,
		SessionID:  result.Session.ID,
		TelegramID: result.User.TelegramID,
	})
	httputil.WriteSuccess(w, http.StatusOK, webAppResponse{
		User:             result.User,
		Token:            result.Tokens.AccessToken,
		RefreshToken:     result.Tokens.RefreshToken,
		ExpiresAt:        result.Tokens.ExpiresAt.UTC(),
		RefreshExpiresAt: result.Tokens.RefreshExpiresAt.UTC(),
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.RefreshToken == "" {
		httputil.WriteError(w, apperrors.MissingRequired("refresh_token"))
		return
	}

	pair, err := h.auth.Refresh(r.Context(), req.RefreshToken, requestMeta(r))
	if err != nil {
		code := apperrors.GetCode(err)
		if code == apperrors.ErrCodeInvalidToken || code == apperrors.ErrCodeSessionExpired {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRefreshFailure,
				Details: map[string]interface{}{"code": string(code)},
			})
		}
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventTokenRefresh})
	httputil.WriteSuccess(w, http.StatusOK, formatTokens(pair))
}

// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	if session == nil {
		httputil.WriteError(w, apperrors.Unauthorized("Authentication required"))
		return
	}

	if err := h.auth.Logout(r.Context(), session.ID); err != nil {
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventLogout, UserID: session.UserID, SessionID: session.ID})
	httputil.WriteSuccess(w, http.StatusOK, nil)
}

type meResponse struct {
	User    *model.User     `json:"user"`
	Session sessionResponse `json:"session"`
}

// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	if session == nil {
		httputil.WriteError(w, apperrors.Unauthorized("Authentication required"))
		return
	}

	user, err := h.auth.GetUser(r.Context(), session.UserID)
	if err != nil {
		log.Warn().Err(err).Str("userId", session.UserID).Msg("authenticated session without user")
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteSuccess(w, http.StatusOK, meResponse{User: user, Session: formatSession(session)})
}
