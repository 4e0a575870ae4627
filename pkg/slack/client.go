package slack

import (
	"context"
	"fmt"
	"time"

	"github.com/slack-go/slack"
)

// DefaultTimeout bounds a single outbound post so a hung call cannot leak a
// dispatch worker forever.
const DefaultTimeout = 30 * time.Second

// Client wraps the Slack SDK client as the outbound result notifier
type Client struct {
	client  *slack.Client
	timeout time.Duration
}

// NewClient creates a new Slack client with bot token
func NewClient(botToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		client:  slack.New(botToken),
		timeout: timeout,
	}
}

// PostMessage posts a message to a channel, threaded when threadTS is set
func (c *Client) PostMessage(ctx context.Context, channelID, text, threadTS string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}

	if _, _, err := c.client.PostMessageContext(ctx, channelID, opts...); err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	return nil
}

// AuthTest verifies the bot token is valid
func (c *Client) AuthTest(ctx context.Context) (*slack.AuthTestResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.AuthTestContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth test: %w", err)
	}
	return resp, nil
}
