package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/navigapp/navigapp-server-go/internal/audit"
	"github.com/navigapp/navigapp-server-go/internal/config"
	"github.com/navigapp/navigapp-server-go/internal/model"
	"github.com/navigapp/navigapp-server-go/internal/redis"
	"github.com/navigapp/navigapp-server-go/internal/repository"
	"github.com/navigapp/navigapp-server-go/internal/telegram"
)

const (
	openAppButton = "🚀 Open Navigapp"

	welcomeText = "🚀 *Welcome to Navigapp!*\n\n" +
		"Build navigation pages for your Telegram channels and groups.\n\n" +
		"Tap the button below to get started 👇"

	firstVisitText = "👋 Hi! Looks like this is your first time using Navigapp.\n\n" +
		"Tap the button below to create your first navigation page:"

	helpText = "❓ *Navigapp help*\n\n" +
		"*Commands:*\n" +
		"• /start - start using the app\n" +
		"• /login - sign in to the app\n" +
		"• /help - show this message\n\n" +
		"*How it works:*\n" +
		"1. Send /start or /login\n" +
		"2. Open the app with the button\n" +
		"3. Create your first navigation page\n" +
		"4. Share the link in your channel or group"

	unknownCommandText = "🤔 I don't know that command. Use /help, or tap the button below to open the app:"
	authFailedText     = "❌ Something went wrong while signing you in. Please use /start again."
	rateLimitedText    = "⏳ Too many sign-in attempts. Please wait a few minutes and use /start again."
	privateOnlyText    = "🔒 Sign-in links are only sent in a private chat. Message me directly and use /start."
	authCompletedText  = "✅ Sign-in complete! You can now create navigation pages."
)

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// HandshakeInitiator starts a bot-to-webapp handshake. *AuthService satisfies it.
type HandshakeInitiator interface {
	Initiate(ctx context.Context, params InitiateParams) (*InitiateResult, error)
}

// MessageSender delivers bot replies. *telegram.BotClient satisfies it.
type MessageSender interface {
	SendMessage(ctx context.Context, params telegram.SendMessageParams) error
}

// BotService answers bot commands. /start and /login reply with a button that
// opens the webapp on a fresh handshake.
type BotService struct {
	auth    HandshakeInitiator
	sender  MessageSender
	limiter Limiter
	users   repository.UserRepository
}

func NewBotService(auth HandshakeInitiator, sender MessageSender, limiter Limiter, users repository.UserRepository) *BotService {
	return &BotService{
		auth:    auth,
		sender:  sender,
		limiter: limiter,
		users:   users,
	}
}

// HandleUpdate processes one webhook update. Only send failures are returned;
// everything else is answered in chat.
func (s *BotService) HandleUpdate(ctx context.Context, update *telegram.Update) error {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return nil
	}
	if msg.WebAppData != nil {
		return s.handleWebAppData(ctx, msg)
	}

	cmd, _ := msg.Command()
	switch cmd {
	case "start":
		return s.sendLogin(ctx, msg, welcomeText)
	case "login":
		return s.sendLogin(ctx, msg, s.loginText(ctx, msg.From.ID))
	case "help":
		return s.reply(ctx, msg.Chat.ID, helpText, nil)
	default:
		return s.sendLogin(ctx, msg, unknownCommandText)
	}
}

// handleWebAppData confirms events the web app reports back through the bot.
// Unknown or malformed payloads are ignored.
func (s *BotService) handleWebAppData(ctx context.Context, msg *telegram.Message) error {
	data := msg.WebAppData.Data
	if !gjson.Valid(data) {
		log.Debug().Int64("telegramId", msg.From.ID).Msg("ignoring malformed web app data")
		return nil
	}

	payload := gjson.Parse(data)
	switch payload.Get("type").String() {
	case "auth_completed":
		return s.reply(ctx, msg.Chat.ID, authCompletedText, nil)
	case "page_created":
		text := fmt.Sprintf("🎉 Your page \"%s\" is live!\n\n🔗 %s",
			escapeMarkdown(payload.Get("page_title").String()),
			escapeMarkdown(payload.Get("page_url").String()))
		return s.reply(ctx, msg.Chat.ID, text, nil)
	default:
		return nil
	}
}

func (s *BotService) loginText(ctx context.Context, telegramID int64) string {
	user, err := s.users.FindByTelegramID(ctx, telegramID)
	if err != nil {
		log.Warn().Err(err).Int64("telegramId", telegramID).Msg("failed to look up bot user")
		return firstVisitText
	}
	if user == nil {
		return firstVisitText
	}

	name := "there"
	if user.FirstName != nil {
		name = escapeMarkdown(*user.FirstName)
	}
	plan := "🆓 Free"
	if user.SubscriptionType == model.SubscriptionPro {
		plan = "💎 Pro"
	}
	return fmt.Sprintf("👋 Welcome back, %s!\n\nPlan: %s\n\nTap the button below to open your app:", name, plan)
}

// sendLogin starts a handshake for the sender and replies with its link. The
// link is only sent to the sender's own private chat.
func (s *BotService) sendLogin(ctx context.Context, msg *telegram.Message, text string) error {
	from := msg.From
	if msg.Chat.ID != from.ID {
		log.Warn().
			Int64("telegramId", from.ID).
			Int64("chatId", msg.Chat.ID).
			Str("chatType", msg.Chat.Type).
			Msg("sign-in requested outside the sender's private chat")
		return s.reply(ctx, msg.Chat.ID, privateOnlyText, nil)
	}

	allowed, _ := s.limiter.CheckLimit(ctx, redis.TelegramUserKey("bot_initiate", from.ID),
		config.BotInitiateLimit, config.BotInitiateWindow)
	if !allowed {
		audit.Log(ctx, audit.Event{
			Type:       audit.EventRateLimitExceed,
			TelegramID: from.ID,
			Details:    map[string]interface{}{"scope": "bot_initiate"},
		})
		return s.reply(ctx, msg.Chat.ID, rateLimitedText, nil)
	}

	res, err := s.auth.Initiate(ctx, InitiateParams{TelegramID: from.ID, UserData: from})
	if err != nil {
		log.Error().Err(err).Int64("telegramId", from.ID).Msg("bot auth initiate failed")
		return s.reply(ctx, msg.Chat.ID, authFailedText, nil)
	}

	audit.Log(ctx, audit.Event{Type: audit.EventHandshakeInitiate, TelegramID: from.ID})

	keyboard := &telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{{
			{Text: openAppButton, WebApp: &telegram.WebAppInfo{URL: res.DeepLinkURL}},
		}},
	}
	return s.reply(ctx, msg.Chat.ID, text, keyboard)
}

func escapeMarkdown(v string) string {
	return markdownEscaper.Replace(v)
}

func (s *BotService) reply(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) error {
	err := s.sender.SendMessage(ctx, telegram.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   "Markdown",
		ReplyMarkup: markup,
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}
