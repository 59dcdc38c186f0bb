package notify

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strings"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramSender posts notices through the Bot API sendMessage method.
type TelegramSender struct {
	endpoint string
	chatID   string
	client   *http.Client
}

// NewTelegramSender creates a sender for one chat. An empty apiBase selects
// the public Bot API.
func NewTelegramSender(apiBase, token, chatID string) *TelegramSender {
	if apiBase == "" {
		apiBase = telegramAPIBase
	}
	return &TelegramSender{
		endpoint: fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(apiBase, "/"), token),
		chatID:   chatID,
		client:   &http.Client{Timeout: sendTimeout},
	}
}

// Send posts the title in bold followed by the message. Both are
// HTML-escaped since item names are user input.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]any{
		"chat_id":                  t.chatID,
		"text":                     "<b>" + html.EscapeString(title) + "</b>\n" + html.EscapeString(message),
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	if err := postJSON(ctx, t.client, t.endpoint, payload); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

func (t *TelegramSender) Name() string { return "telegram" }
