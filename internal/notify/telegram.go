package notify

import (
	"context"
	"fmt"
)

// TelegramSender posts to a chat through the Telegram Bot API.
type TelegramSender struct {
	token  string
	chatID string
	client restPoster
}

// NewTelegramSender creates a TelegramSender for the bot token and chat.
func NewTelegramSender(token, chatID string, opts ...SenderOption) *TelegramSender {
	return &TelegramSender{
		token:  token,
		chatID: chatID,
		client: restPoster{name: "telegram", c: newRestClient("https://api.telegram.org", opts)},
	}
}

// Send posts title in bold followed by message.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	return t.client.post(ctx, fmt.Sprintf("/bot%s/sendMessage", t.token), map[string]string{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n%s", title, message),
		"parse_mode": "Markdown",
	})
}

// Name returns "telegram".
func (t *TelegramSender) Name() string { return "telegram" }
