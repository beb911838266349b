package middleware

import (
	"context"
	"net/http"

	"github.com/navigapp/navigapp-server-go/internal/util"
)

const (
	BotAPIKeyHeader                 = "X-Bot-Api-Key"
	TrustedBotContextKey contextKey = "trustedBot"
)

// IsTrustedBot reports whether the request carried a valid bot API key.
func IsTrustedBot(ctx context.Context) bool {
	trusted, _ := ctx.Value(TrustedBotContextKey).(bool)
	return trusted
}

// BotKeyMiddleware marks requests from the bot process. It never rejects;
// handlers decide what an unmarked request may do.
type BotKeyMiddleware struct {
	apiKey string
}

func NewBotKeyMiddleware(apiKey string) *BotKeyMiddleware {
	return &BotKeyMiddleware{apiKey: apiKey}
}

func (m *BotKeyMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := r.Header.Get(BotAPIKeyHeader)
		if m.apiKey != "" && presented != "" && util.ConstantTimeEqual(presented, m.apiKey) {
			r = r.WithContext(context.WithValue(r.Context(), TrustedBotContextKey, true))
		}
		next.ServeHTTP(w, r)
	})
}
