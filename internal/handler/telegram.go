package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/navigapp/navigapp-server-go/internal/config"
	apperrors "github.com/navigapp/navigapp-server-go/internal/errors"
	"github.com/navigapp/navigapp-server-go/internal/httputil"
	"github.com/navigapp/navigapp-server-go/internal/telegram"
)

// UpdateHandler processes bot updates. *service.BotService satisfies it.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update *telegram.Update) error
}

type TelegramHandler struct {
	bot UpdateHandler
}

func NewTelegramHandler(bot UpdateHandler) *TelegramHandler {
	return &TelegramHandler{bot: bot}
}

// POST /telegram/webhook
//
// Telegram retries any non-2xx answer, so processing failures are logged and
// acknowledged.
func (h *TelegramHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	var update telegram.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		log.Warn().Err(err).Msg("invalid telegram webhook request")
		httputil.WriteError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	log.Debug().
		Int64("updateId", update.UpdateID).
		Bool("hasMessage", update.Message != nil).
		Msg("received telegram update")

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*config.TelegramSendTimeout)
	defer cancel()

	if err := h.bot.HandleUpdate(ctx, &update); err != nil {
		log.Error().Err(err).Int64("updateId", update.UpdateID).Msg("failed to handle telegram update")
	}

	httputil.WriteSuccess(w, http.StatusOK, nil)
}
