package notify

import (
	"context"
	"fmt"
)

// DiscordSender posts to a Discord webhook.
type DiscordSender struct {
	client restPoster
}

// NewDiscordSender creates a DiscordSender for webhookURL.
func NewDiscordSender(webhookURL string, opts ...SenderOption) *DiscordSender {
	return &DiscordSender{client: restPoster{name: "discord", c: newRestClient("", opts), url: webhookURL}}
}

// Send posts title in bold followed by message. Discord answers 204.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return d.client.post(ctx, "", map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", title, message),
	})
}

// Name returns "discord".
func (d *DiscordSender) Name() string { return "discord" }
