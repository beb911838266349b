package token

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/navigapp/navigapp-server-go/internal/model"
	"github.com/navigapp/navigapp-server-go/internal/util"
)

const fingerprintLength = 32

// Claims is the payload carried by both access and refresh tokens.
type Claims struct {
	TelegramID  string            `json:"telegram_id"`
	SessionID   string            `json:"session_id"`
	SessionType model.SessionType `json:"session_type"`
	jwt.RegisteredClaims
}

// Pair is a freshly minted access/refresh token pair.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
}

type Service struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	parser     *jwt.Parser

	// refreshParser checks signature and algorithm only; expiry of a
	// refresh token is decided by the session row.
	refreshParser *jwt.Parser
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(secret, issuer, audience string, accessTTL, refreshTTL time.Duration, opts ...Option) (*Service, error) {
	if secret == "" {
		return nil, errors.New("token signing secret is required")
	}
	if issuer == "" || audience == "" {
		return nil, errors.New("token issuer and audience are required")
	}
	if accessTTL <= 0 || accessTTL >= refreshTTL {
		return nil, fmt.Errorf("access ttl %s must be positive and shorter than refresh ttl %s", accessTTL, refreshTTL)
	}

	s := &Service{
		secret:     []byte(secret),
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	s.refreshParser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	return s, nil
}

// GenerateTokenPair signs two tokens that share the session id and differ in expiry.
// Each token carries its own jti, so two pairs minted in the same second still differ.
func (s *Service) GenerateTokenPair(userID string, telegramID int64, sessionID string, sessionType model.SessionType) (*Pair, error) {
	now := s.now()
	expiresAt := now.Add(s.accessTTL)
	refreshExpiresAt := now.Add(s.refreshTTL)

	access, err := s.sign(userID, telegramID, sessionID, sessionType, now, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := s.sign(userID, telegramID, sessionID, sessionType, now, refreshExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresAt:        expiresAt,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

func (s *Service) sign(userID string, telegramID int64, sessionID string, sessionType model.SessionType, issuedAt, expiresAt time.Time) (string, error) {
	claims := Claims{
		TelegramID:  fmt.Sprintf("%d", telegramID),
		SessionID:   sessionID,
		SessionType: sessionType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ValidateAccessToken returns nil for any token that fails signature, issuer,
// audience, expiry or claim checks.
func (s *Service) ValidateAccessToken(tokenString string) *Claims {
	return s.validate(tokenString)
}

// ValidateRefreshToken checks signature, issuer, audience and claims but
// accepts an expired token, so the caller can match it to its session and
// end that session instead of reporting a malformed token.
func (s *Service) ValidateRefreshToken(tokenString string) *Claims {
	if tokenString == "" {
		return nil
	}
	var claims Claims
	_, err := s.refreshParser.ParseWithClaims(tokenString, &claims, s.key)
	if err != nil {
		log.Debug().Err(err).Msg("refresh token rejected")
		return nil
	}
	if claims.Issuer != s.issuer || !slices.Contains(claims.Audience, s.audience) || claims.ExpiresAt == nil {
		log.Debug().Msg("refresh token rejected: issuer, audience or expiry")
		return nil
	}
	if !complete(&claims) {
		log.Debug().Msg("refresh token rejected: incomplete claims")
		return nil
	}
	return &claims
}

func (s *Service) validate(tokenString string) *Claims {
	if tokenString == "" {
		return nil
	}
	var claims Claims
	_, err := s.parser.ParseWithClaims(tokenString, &claims, s.key)
	if err != nil {
		log.Debug().Err(err).Msg("token rejected")
		return nil
	}
	if !complete(&claims) {
		log.Debug().Msg("token rejected: incomplete claims")
		return nil
	}
	return &claims
}

func (s *Service) key(*jwt.Token) (interface{}, error) {
	return s.secret, nil
}

func complete(c *Claims) bool {
	return c.Subject != "" && c.SessionID != "" && c.TelegramID != "" && c.SessionType.Valid()
}

// HashToken is the at-rest form of a token.
func HashToken(tokenString string) string {
	return util.HashToken(tokenString)
}

// DeviceFingerprint derives an advisory device identifier from request headers.
// It is recorded and compared for audit only.
func DeviceFingerprint(r *http.Request) string {
	raw := r.Header.Get("User-Agent") + "|" + r.Header.Get("Accept-Language") + "|" + r.Header.Get("X-Forwarded-For")
	encoded := base64.StdEncoding.EncodeToString([]byte(raw))
	if len(encoded) > fingerprintLength {
		encoded = encoded[:fingerprintLength]
	}
	return encoded
}
