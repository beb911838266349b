package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	apperrors "github.com/navigapp/navigapp-server-go/internal/errors"
	"github.com/navigapp/navigapp-server-go/internal/model"
)

const defaultAPITimeout = 15 * time.Second

// APIError is a failed envelope returned by the auth API.
type APIError struct {
	Status  int
	Code    apperrors.ErrorCode
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Tokens is the token pair as served by the auth API.
type Tokens struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Login is the result of a successful sign-in on either path.
type Login struct {
	User   json.RawMessage
	Tokens Tokens
}

// APIClient talks to the auth endpoints of the server.
type APIClient struct {
	client  *http.Client
	baseURL string
}

func NewAPIClient(baseURL string, client *http.Client) *APIClient {
	if client == nil {
		client = &http.Client{Timeout: defaultAPITimeout}
	}
	return &APIClient{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Complete redeems a handshake hash.
func (c *APIClient) Complete(ctx context.Context, authHash string, userData json.RawMessage) (*Login, error) {
	body := map[string]any{"auth_hash": authHash}
	if len(userData) > 0 {
		body["telegram_user_data"] = userData
	}
	data, err := c.call(ctx, http.MethodPost, "/auth/bot/complete", "", body)
	if err != nil {
		return nil, err
	}

	var tokens Tokens
	if err := json.Unmarshal([]byte(gjson.GetBytes(data, "tokens").Raw), &tokens); err != nil {
		return nil, fmt.Errorf("decode tokens: %w", err)
	}
	return &Login{User: rawField(data, "user"), Tokens: tokens}, nil
}

// WebApp signs in with signed init data, bypassing the handshake.
func (c *APIClient) WebApp(ctx context.Context, initData string) (*Login, error) {
	data, err := c.call(ctx, http.MethodPost, "/auth/telegram", "", map[string]string{"initData": initData})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Token            string    `json:"token"`
		RefreshToken     string    `json:"refreshToken"`
		ExpiresAt        time.Time `json:"expires_at"`
		RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode webapp login: %w", err)
	}
	return &Login{
		User: rawField(data, "user"),
		Tokens: Tokens{
			AccessToken:      resp.Token,
			RefreshToken:     resp.RefreshToken,
			ExpiresAt:        resp.ExpiresAt,
			RefreshExpiresAt: resp.RefreshExpiresAt,
		},
	}, nil
}

func (c *APIClient) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	data, err := c.call(ctx, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, err
	}

	var tokens Tokens
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("decode tokens: %w", err)
	}
	return &tokens, nil
}

func (c *APIClient) Logout(ctx context.Context, accessToken string) error {
	_, err := c.call(ctx, http.MethodPost, "/auth/logout", accessToken, nil)
	return err
}

// Me returns the user behind accessToken.
func (c *APIClient) Me(ctx context.Context, accessToken string) (*model.User, error) {
	data, err := c.call(ctx, http.MethodGet, "/auth/me", accessToken, nil)
	if err != nil {
		return nil, err
	}

	var user model.User
	if err := json.Unmarshal(rawField(data, "user"), &user); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &user, nil
}

// NewRequest builds a request against the API base URL.
func (c *APIClient) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
}

func (c *APIClient) send(req *http.Request) (*http.Response, error) {
	return c.client.Do(req)
}

func (c *APIClient) call(ctx context.Context, method, path, bearer string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := c.NewRequest(ctx, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.send(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	return decodeEnvelope(path, resp.StatusCode, raw)
}

// decodeEnvelope returns the data member of a success envelope.
func decodeEnvelope(path string, status int, raw []byte) ([]byte, error) {
	if !gjson.ValidBytes(raw) {
		return nil, &APIError{Status: status, Code: apperrors.ErrCodeInternal, Message: "malformed response"}
	}

	env := gjson.ParseBytes(raw)
	if env.Get("success").Bool() {
		return rawField(raw, "data"), nil
	}

	apiErr := &APIError{
		Status:  status,
		Code:    apperrors.ErrorCode(env.Get("error.code").String()),
		Message: env.Get("error.message").String(),
	}
	if apiErr.Code == "" {
		apiErr.Code = apperrors.ErrCodeInternal
	}
	log.Debug().Str("path", path).Int("status", status).Str("code", string(apiErr.Code)).Msg("auth api call failed")
	return nil, apiErr
}

func rawField(data []byte, path string) json.RawMessage {
	res := gjson.GetBytes(data, path)
	if !res.Exists() {
		return nil
	}
	return json.RawMessage(res.Raw)
}
