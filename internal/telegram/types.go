package telegram

import "github.com/navigapp/navigapp-server-go/internal/model"

// Update is the subset of a Bot API update the webhook handles.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

type Message struct {
	MessageID int64               `json:"message_id"`
	From      *model.TelegramUser `json:"from,omitempty"`
	Chat      Chat                `json:"chat"`
	Date      int64               `json:"date"`
	Text      string              `json:"text,omitempty"`

	// WebAppData is set on a service message sent by the web app with Telegram.WebApp.sendData.
	WebAppData *WebAppData `json:"web_app_data,omitempty"`
}

type WebAppData struct {
	Data       string `json:"data"`
	ButtonText string `json:"button_text"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// Command returns the bot command at the start of the message text without
// the leading slash or any @botname suffix, and the remaining argument.
func (m *Message) Command() (string, string) {
	if m == nil || len(m.Text) < 2 || m.Text[0] != '/' {
		return "", ""
	}
	text := m.Text[1:]
	cmd, arg := text, ""
	for i, r := range text {
		if r == ' ' || r == '\n' {
			cmd, arg = text[:i], text[i+1:]
			break
		}
	}
	for i, r := range cmd {
		if r == '@' {
			cmd = cmd[:i]
			break
		}
	}
	return cmd, arg
}

type SendMessageParams struct {
	ChatID      int64                 `json:"chat_id"`
	Text        string                `json:"text"`
	ParseMode   string                `json:"parse_mode,omitempty"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

type InlineKeyboardButton struct {
	Text   string      `json:"text"`
	URL    string      `json:"url,omitempty"`
	WebApp *WebAppInfo `json:"web_app,omitempty"`
}

type WebAppInfo struct {
	URL string `json:"url"`
}
