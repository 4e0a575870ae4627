package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/tasknest/taskbot/pkg/models"
)

const (
	// Default Bedrock model ID for Claude 3.5 Sonnet
	DefaultModelID = "anthropic.claude-3-5-sonnet-20241022-v2:0"

	// DefaultTimeout bounds a single model invocation
	DefaultTimeout = 60 * time.Second

	maxTokens = 1024
)

// Client is the LLM responder backed by AWS Bedrock Runtime (Claude models)
type Client struct {
	client  *bedrockruntime.Client
	modelID string
	timeout time.Duration
}

// NewClient creates a new Bedrock client
func NewClient(cfg aws.Config) *Client {
	return &Client{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: DefaultModelID,
		timeout: DefaultTimeout,
	}
}

// SetModel allows overriding the default model ID
func (c *Client) SetModel(modelID string) {
	if modelID != "" {
		c.modelID = modelID
	}
}

// SetTimeout allows overriding the per-invocation timeout
func (c *Client) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.timeout = timeout
	}
}

// messagesRequest is the Claude Messages API request format
type messagesRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	Messages         []models.Message `json:"messages"`
	System           string           `json:"system,omitempty"`
}

// messagesResponse is the Claude Messages API response format
type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// GenerateReply sends the conversation history to Claude and returns the
// reply text. History must end with a user turn.
func (c *Client) GenerateReply(ctx context.Context, history []models.Message, systemPrompt string) (string, error) {
	if len(history) == 0 {
		return "", fmt.Errorf("history cannot be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := messagesRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		Messages:         normalizeHistory(history),
		System:           systemPrompt,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	output, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("invoke bedrock model: %w", err)
	}

	var response messagesResponse
	if err := json.Unmarshal(output.Body, &response); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	if len(response.Content) == 0 {
		return "", fmt.Errorf("empty response from Bedrock")
	}

	return response.Content[0].Text, nil
}

// normalizeHistory collapses consecutive same-role turns; the Messages API
// requires strictly alternating roles starting with a user turn.
func normalizeHistory(history []models.Message) []models.Message {
	out := make([]models.Message, 0, len(history))
	for _, msg := range history {
		if len(out) == 0 && msg.Role != models.RoleUser {
			continue
		}
		if len(out) > 0 && out[len(out)-1].Role == msg.Role {
			out[len(out)-1].Content += "\n" + msg.Content
			continue
		}
		out = append(out, msg)
	}
	return out
}
