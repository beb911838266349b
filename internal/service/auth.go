package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/navigapp/navigapp-server-go/internal/audit"
	"github.com/navigapp/navigapp-server-go/internal/database"
	apperrors "github.com/navigapp/navigapp-server-go/internal/errors"
	"github.com/navigapp/navigapp-server-go/internal/model"
	"github.com/navigapp/navigapp-server-go/internal/repository"
	"github.com/navigapp/navigapp-server-go/internal/telegram"
	"github.com/navigapp/navigapp-server-go/internal/token"
	"github.com/navigapp/navigapp-server-go/internal/util"
)

const deepLinkPath = "/auth/bot"

// TxRunner runs fn inside one database transaction. *database.DB satisfies it.
type TxRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

// IdentityVerifier checks signed Telegram init data. *telegram.Verifier satisfies it.
type IdentityVerifier interface {
	Verify(initData string) (*telegram.Identity, bool)
}

// RequestMeta is the client information recorded alongside handshakes and sessions.
type RequestMeta struct {
	IP          string
	UserAgent   string
	Fingerprint string
}

type InitiateParams struct {
	TelegramID int64
	UserData   *model.TelegramUser
	ReturnPath string
	Meta       RequestMeta
}

type InitiateResult struct {
	AuthHash    string    `json:"auth_hash"`
	DeepLinkURL string    `json:"deep_link_url"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type CompleteParams struct {
	AuthHash         string
	TelegramUserData *model.TelegramUser
	InitData         string
	Meta             RequestMeta
}

// AuthResult is a signed-in user with its freshly minted pair.
type AuthResult struct {
	User    *model.User
	Session *model.AuthSession
	Tokens  *token.Pair
}

type HandshakeStatus struct {
	Valid      bool
	TelegramID int64
	ExpiresAt  time.Time
}

type AuthService struct {
	db              TxRunner
	userRepo        repository.UserRepository
	authRequestRepo repository.AuthRequestRepository
	sessionRepo     repository.AuthSessionRepository
	tokens          *token.Service
	verifier        IdentityVerifier
	webAppBaseURL   string
	hashTTL         time.Duration
	now             func() time.Time
}

func NewAuthService(
	db TxRunner,
	userRepo repository.UserRepository,
	authRequestRepo repository.AuthRequestRepository,
	sessionRepo repository.AuthSessionRepository,
	tokens *token.Service,
	verifier IdentityVerifier,
	webAppBaseURL string,
	hashTTL time.Duration,
) *AuthService {
	return &AuthService{
		db:              db,
		userRepo:        userRepo,
		authRequestRepo: authRequestRepo,
		sessionRepo:     sessionRepo,
		tokens:          tokens,
		verifier:        verifier,
		webAppBaseURL:   strings.TrimRight(webAppBaseURL, "/"),
		hashTTL:         hashTTL,
		now:             time.Now,
	}
}

// Initiate stores a new handshake for telegramID and returns its deep link.
// Every call creates an independent handshake.
func (s *AuthService) Initiate(ctx context.Context, params InitiateParams) (*InitiateResult, error) {
	if params.TelegramID <= 0 {
		return nil, apperrors.ValidationError("telegram_id is required")
	}

	authHash, err := util.GenerateToken()
	if err != nil {
		return nil, apperrors.Internal("Failed to create auth request").WithCause(err)
	}

	var userData *json.RawMessage
	if params.UserData != nil {
		prefilled := *params.UserData
		prefilled.ID = params.TelegramID
		raw, err := json.Marshal(prefilled)
		if err != nil {
			return nil, apperrors.Internal("Failed to create auth request").WithCause(err)
		}
		msg := json.RawMessage(raw)
		userData = &msg
	}

	expiresAt := s.now().Add(s.hashTTL)
	_, err = s.authRequestRepo.Create(ctx, model.CreateAuthRequestParams{
		AuthHash:   authHash,
		TelegramID: params.TelegramID,
		UserData:   userData,
		ExpiresAt:  expiresAt,
		IPAddress:  optional(params.Meta.IP),
		UserAgent:  optional(params.Meta.UserAgent),
	})
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("create auth request: %w", err))
	}

	log.Info().
		Int64("telegramId", params.TelegramID).
		Str("authHash", util.MaskToken(authHash)).
		Time("expiresAt", expiresAt).
		Msg("bot auth initiated")

	return &InitiateResult{
		AuthHash:    authHash,
		DeepLinkURL: s.DeepLinkURL(authHash, params.ReturnPath),
		ExpiresAt:   expiresAt,
	}, nil
}

// DeepLinkURL builds the webapp URL that carries authHash.
func (s *AuthService) DeepLinkURL(authHash, returnPath string) string {
	link := fmt.Sprintf("%s%s?hash=%s&auth_type=bot", s.webAppBaseURL, deepLinkPath, url.QueryEscape(authHash))
	if strings.HasPrefix(returnPath, "/") && !strings.HasPrefix(returnPath, "//") {
		link += "&return_path=" + url.QueryEscape(returnPath)
	}
	return link
}

// VerifyInitiator reports whether initData is valid and signed for telegramID.
func (s *AuthService) VerifyInitiator(initData string, telegramID int64) bool {
	identity, ok := s.verifier.Verify(initData)
	return ok && identity.User.ID == telegramID
}

// CheckHandshake reports whether authHash can still be completed.
func (s *AuthService) CheckHandshake(ctx context.Context, authHash string) (*HandshakeStatus, error) {
	if authHash == "" {
		return nil, apperrors.ValidationError("auth_hash is required")
	}
	if !util.IsValidAuthHash(authHash) {
		return &HandshakeStatus{Valid: false}, nil
	}
	req, err := s.authRequestRepo.FindActiveByHash(ctx, authHash, s.now())
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("find auth request: %w", err))
	}
	if req == nil {
		return &HandshakeStatus{Valid: false}, nil
	}
	return &HandshakeStatus{Valid: true, TelegramID: req.TelegramID, ExpiresAt: req.ExpiresAt}, nil
}

// Complete consumes a handshake and signs the user in. Claiming the handshake,
// upserting the user and creating the session share one transaction, so the
// handshake is consumed only if a session was stored. Concurrent calls for the
// same hash serialize on the handshake row and exactly one of them succeeds.
func (s *AuthService) Complete(ctx context.Context, params CompleteParams) (*AuthResult, error) {
	if params.AuthHash == "" {
		return nil, apperrors.ValidationError("auth_hash is required")
	}
	if !util.IsValidAuthHash(params.AuthHash) {
		return nil, apperrors.HandshakeFailed()
	}

	sessionType := model.SessionTypeBot
	var verified *model.TelegramUser
	if params.InitData != "" {
		identity, ok := s.verifier.Verify(params.InitData)
		if !ok {
			return nil, apperrors.HandshakeFailed()
		}
		verified = &identity.User
		sessionType = model.SessionTypeHybrid
	}

	now := s.now()
	var result *AuthResult
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		req, err := s.authRequestRepo.WithTx(tx).Claim(ctx, params.AuthHash, now)
		if err != nil {
			return apperrors.Database(fmt.Errorf("claim auth request: %w", err))
		}
		if req == nil {
			return apperrors.HandshakeFailed()
		}
		if verified != nil && verified.ID != req.TelegramID {
			return apperrors.HandshakeFailed()
		}

		upsert := mergeDisplayFields(req.TelegramID, verified, req.PrefilledUser(), params.TelegramUserData)
		upsert.AuthMethod = model.AuthMethodBot
		upsert.AuthAt = now

		user, err := s.userRepo.WithTx(tx).Upsert(ctx, upsert)
		if err != nil {
			return apperrors.Database(fmt.Errorf("upsert user: %w", err))
		}

		authHash := params.AuthHash
		result, err = s.openSession(ctx, s.sessionRepo.WithTx(tx), user, sessionType, &authHash, params.Meta)
		return err
	})
	if err != nil {
		if apperrors.GetCode(err) == apperrors.ErrCodeAuth {
			log.Warn().Str("authHash", util.MaskToken(params.AuthHash)).Msg("bot auth completion rejected")
		}
		return nil, err
	}

	log.Info().
		Str("userId", result.User.ID).
		Str("sessionId", result.Session.ID).
		Str("sessionType", string(sessionType)).
		Msg("bot auth completed")

	return result, nil
}

// AuthenticateWebApp signs a user in straight from verified init data, without a handshake.
func (s *AuthService) AuthenticateWebApp(ctx context.Context, initData string, meta RequestMeta) (*AuthResult, error) {
	if initData == "" {
		return nil, apperrors.ValidationError("initData is required")
	}
	identity, ok := s.verifier.Verify(initData)
	if !ok {
		return nil, apperrors.InvalidIdentity()
	}

	now := s.now()
	var result *AuthResult
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		upsert := mergeDisplayFields(identity.User.ID, &identity.User)
		upsert.AuthMethod = model.AuthMethodWebApp
		upsert.AuthAt = now

		user, err := s.userRepo.WithTx(tx).Upsert(ctx, upsert)
		if err != nil {
			return apperrors.Database(fmt.Errorf("upsert user: %w", err))
		}

		result, err = s.openSession(ctx, s.sessionRepo.WithTx(tx), user, model.SessionTypeWebApp, nil, meta)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("userId", result.User.ID).
		Str("sessionId", result.Session.ID).
		Bool("demo", identity.Demo).
		Msg("webapp auth completed")

	return result, nil
}

func (s *AuthService) openSession(
	ctx context.Context,
	sessions repository.AuthSessionRepository,
	user *model.User,
	sessionType model.SessionType,
	botAuthHash *string,
	meta RequestMeta,
) (*AuthResult, error) {
	sessionID := uuid.NewString()
	pair, err := s.tokens.GenerateTokenPair(user.ID, user.TelegramID, sessionID, sessionType)
	if err != nil {
		return nil, apperrors.Internal("Failed to issue tokens").WithCause(err)
	}

	session, err := sessions.Create(ctx, model.CreateAuthSessionParams{
		ID:                sessionID,
		UserID:            user.ID,
		AccessTokenHash:   token.HashToken(pair.AccessToken),
		RefreshTokenHash:  token.HashToken(pair.RefreshToken),
		BotAuthHash:       botAuthHash,
		SessionType:       sessionType,
		ExpiresAt:         pair.ExpiresAt,
		RefreshExpiresAt:  pair.RefreshExpiresAt,
		IPAddress:         optional(meta.IP),
		UserAgent:         optional(meta.UserAgent),
		DeviceFingerprint: optional(meta.Fingerprint),
	})
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("create session: %w", err))
	}

	return &AuthResult{User: user, Session: session, Tokens: pair}, nil
}

// Refresh rotates the pair of the session that owns refreshToken. The session
// row is updated in place and keeps its id and type. Concurrent refreshes of
// the same token both succeed and the last write wins; the loser's pair no
// longer matches the stored hashes and fails on next use.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (*token.Pair, error) {
	if refreshToken == "" {
		return nil, apperrors.ValidationError("refresh_token is required")
	}

	claims := s.tokens.ValidateRefreshToken(refreshToken)
	if claims == nil {
		return nil, apperrors.InvalidToken()
	}

	session, err := s.sessionRepo.FindByRefreshTokenHash(ctx, token.HashToken(refreshToken))
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("find session: %w", err))
	}
	if session == nil || session.ID != claims.SessionID || session.UserID != claims.Subject {
		return nil, apperrors.SessionExpired()
	}

	now := s.now()
	if !session.CanRefresh(now) {
		if session.IsActive {
			s.expire(ctx, session.ID)
		}
		return nil, apperrors.SessionExpired()
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("find user: %w", err))
	}
	if user == nil {
		s.expire(ctx, session.ID)
		return nil, apperrors.SessionExpired()
	}

	s.checkFingerprint(ctx, session, meta)

	pair, err := s.tokens.GenerateTokenPair(user.ID, user.TelegramID, session.ID, session.SessionType)
	if err != nil {
		return nil, apperrors.Internal("Failed to issue tokens").WithCause(err)
	}

	rotated, err := s.sessionRepo.Rotate(ctx, model.RotateAuthSessionParams{
		ID:               session.ID,
		AccessTokenHash:  token.HashToken(pair.AccessToken),
		RefreshTokenHash: token.HashToken(pair.RefreshToken),
		ExpiresAt:        pair.ExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		UsedAt:           now,
	})
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("rotate session: %w", err))
	}
	if rotated == nil {
		return nil, apperrors.SessionExpired()
	}

	if err := s.userRepo.TouchLastActive(ctx, user.ID); err != nil {
		log.Warn().Err(err).Str("userId", user.ID).Msg("failed to update last active")
	}

	log.Info().Str("sessionId", session.ID).Msg("session refreshed")
	return pair, nil
}

func (s *AuthService) expire(ctx context.Context, sessionID string) {
	if err := s.sessionRepo.Deactivate(ctx, sessionID); err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to deactivate expired session")
		return
	}
	log.Info().Str("sessionId", sessionID).Msg("session expired")
}

// checkFingerprint records a device change. It never rejects the request.
func (s *AuthService) checkFingerprint(ctx context.Context, session *model.AuthSession, meta RequestMeta) {
	if session.DeviceFingerprint == nil || meta.Fingerprint == "" || *session.DeviceFingerprint == meta.Fingerprint {
		return
	}
	audit.Log(ctx, audit.Event{
		Type:      audit.EventFingerprintMismatch,
		UserID:    session.UserID,
		SessionID: session.ID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
}

// Logout deactivates the session. Logging out an already inactive session succeeds.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	if err := s.sessionRepo.Deactivate(ctx, sessionID); err != nil {
		return apperrors.Database(fmt.Errorf("deactivate session: %w", err))
	}
	log.Info().Str("sessionId", sessionID).Msg("session logged out")
	return nil
}

// AuthenticateSession resolves a bearer access token to its live session. The
// token must verify and also be the one currently stored for that session.
func (s *AuthService) AuthenticateSession(ctx context.Context, accessToken string) (*model.AuthSession, *token.Claims, error) {
	claims := s.tokens.ValidateAccessToken(accessToken)
	if claims == nil || !util.IsValidUUID(claims.SessionID) {
		return nil, nil, apperrors.InvalidToken()
	}

	session, err := s.sessionRepo.FindByID(ctx, claims.SessionID)
	if err != nil {
		return nil, nil, apperrors.Database(fmt.Errorf("find session: %w", err))
	}
	if session == nil || !session.IsActive || session.UserID != claims.Subject ||
		!util.ConstantTimeEqual(session.AccessTokenHash, token.HashToken(accessToken)) {
		return nil, nil, apperrors.InvalidToken()
	}

	return session, claims, nil
}

func (s *AuthService) GetUser(ctx context.Context, userID string) (*model.User, error) {
	if !util.IsValidUUID(userID) {
		return nil, apperrors.NotFound("User")
	}
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("find user: %w", err))
	}
	if user == nil {
		return nil, apperrors.NotFound("User")
	}
	return user, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
