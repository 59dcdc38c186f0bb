package notify

import (
	"context"
	"fmt"
	"net/http"
)

// discordColor is the embed accent used for auction notices.
const discordColor = 0xD4AF37

// DiscordSender posts notices to a Discord webhook as a single embed.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: &http.Client{Timeout: sendTimeout}}
}

// Send posts title and message as an embed. Mentions are disabled so item
// names cannot ping anyone.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]any{
		"embeds": []map[string]any{{
			"title":       title,
			"description": message,
			"color":       discordColor,
		}},
		"allowed_mentions": map[string][]string{"parse": {}},
	}
	if err := postJSON(ctx, d.client, d.webhookURL, payload); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }
