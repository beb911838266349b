package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/navigapp/navigapp-server-go/internal/errors"
)

func TestBotClient_SendMessage(t *testing.T) {
	t.Run("posts json to the bot method path", func(t *testing.T) {
		var got SendMessageParams
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.Write([]byte(`{"ok":true,"result":{}}`))
		}))
		defer server.Close()

		client := NewBotClient("TOKEN", WithAPIBaseURL(server.URL))
		err := client.SendMessage(context.Background(), SendMessageParams{
			ChatID: 42,
			Text:   "hi",
			ReplyMarkup: &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{{
				{Text: "Open", WebApp: &WebAppInfo{URL: "https://app.example.com"}},
			}}},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(42), got.ChatID)
		assert.Equal(t, "https://app.example.com", got.ReplyMarkup.InlineKeyboard[0][0].WebApp.URL)
	})

	t.Run("returns error when api reports failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
		}))
		defer server.Close()

		client := NewBotClient("TOKEN", WithAPIBaseURL(server.URL))
		err := client.SendMessage(context.Background(), SendMessageParams{ChatID: 1, Text: "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "chat not found")
	})

	t.Run("transport failure never carries the token", func(t *testing.T) {
		var logs bytes.Buffer
		prev := log.Logger
		log.Logger = zerolog.New(&logs)
		defer func() { log.Logger = prev }()

		server := httptest.NewServer(http.NotFoundHandler())
		baseURL := server.URL
		server.Close()

		client := NewBotClient("123456:SECRET-TOKEN", WithAPIBaseURL(baseURL))
		err := client.SendMessage(context.Background(), SendMessageParams{ChatID: 1, Text: "x"})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeExternal, apperrors.GetCode(err))
		assert.NotContains(t, err.Error(), "SECRET-TOKEN")
		assert.NotContains(t, logs.String(), "SECRET-TOKEN")
		assert.Contains(t, logs.String(), "telegram api error")
	})
}

func TestMessageCommand(t *testing.T) {
	cases := []struct {
		text, cmd, arg string
	}{
		{"/start", "start", ""},
		{"/start webapp", "start", "webapp"},
		{"/login@navigapp_bot", "login", ""},
		{"hello", "", ""},
		{"/", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			cmd, arg := (&Message{Text: tc.text}).Command()
			assert.Equal(t, tc.cmd, cmd)
			assert.Equal(t, tc.arg, arg)
		})
	}
}
