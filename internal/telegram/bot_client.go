package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/navigapp/navigapp-server-go/internal/config"
	apperrors "github.com/navigapp/navigapp-server-go/internal/errors"
)

const defaultAPIBaseURL = "https://api.telegram.org"

// BotClient calls the Telegram Bot API.
type BotClient struct {
	client  *http.Client
	baseURL string
	token   string
}

type BotClientOption func(*BotClient)

// WithAPIBaseURL points the client at another Bot API server.
func WithAPIBaseURL(baseURL string) BotClientOption {
	return func(c *BotClient) { c.baseURL = baseURL }
}

func NewBotClient(token string, opts ...BotClientOption) *BotClient {
	c := &BotClient{
		client: &http.Client{
			Timeout: config.TelegramSendTimeout,
		},
		baseURL: defaultAPIBaseURL,
		token:   token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
	ErrorCode   int    `json:"error_code,omitempty"`
}

func (c *BotClient) SendMessage(ctx context.Context, params SendMessageParams) error {
	return c.call(ctx, "sendMessage", params)
}

func (c *BotClient) call(ctx context.Context, method string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		// *url.Error repeats the request URL, and the URL holds the bot token.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		log.Error().Err(err).Str("method", method).Dur("elapsed", elapsed).Msg("telegram api error")
		return apperrors.External("telegram "+method, err)
	}
	defer resp.Body.Close()

	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode telegram %s response: %w", method, err)
	}

	if !result.OK {
		log.Error().
			Str("method", method).
			Int("status", resp.StatusCode).
			Int("errorCode", result.ErrorCode).
			Str("description", result.Description).
			Dur("elapsed", elapsed).
			Msg("telegram api call failed")
		return fmt.Errorf("telegram %s failed: %s", method, result.Description)
	}

	log.Debug().Str("method", method).Dur("elapsed", elapsed).Msg("telegram api call succeeded")
	return nil
}
