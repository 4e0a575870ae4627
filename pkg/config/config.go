package config

import (
	"fmt"
	"time"

	env "github.com/netflix/go-env"
)

// Config holds application configuration loaded from environment variables
type Config struct {
	// Slack
	SlackBotToken      string `env:"SLACK_BOT_TOKEN"`
	SlackSigningSecret string `env:"SLACK_SIGNING_SECRET"`
	// SkipVerification disables signature checks. Local development only.
	SkipVerification bool `env:"SLACK_SKIP_VERIFICATION,default=false"`
	// EchoCommand re-posts the original slash command into the channel so the
	// rest of the channel sees what was asked (the ack itself is ephemeral).
	EchoCommand bool `env:"SLACK_ECHO_COMMAND,default=true"`

	// HTTP server
	ListenAddr string `env:"LISTEN_ADDR,default=:8080"`

	// DynamoDB
	TasksTable string `env:"TASKS_TABLE,default=taskbot-tasks"`

	// Bedrock
	BedrockModelID string `env:"BEDROCK_MODEL_ID,default=anthropic.claude-3-5-sonnet-20241022-v2:0"`

	// Conversation context
	ContextMaxMessages int           `env:"CONTEXT_MAX_MESSAGES,default=10"`
	ContextTTL         time.Duration `env:"CONTEXT_TTL,default=24h"`

	// Per-call timeout for outbound collaborator calls (Slack, DynamoDB,
	// Bedrock). Dispatch jobs have no overall deadline; this keeps a single
	// hung call from leaking a worker forever.
	CollaboratorTimeout time.Duration `env:"COLLABORATOR_TIMEOUT,default=30s"`

	// Environment
	Environment string `env:"ENVIRONMENT,default=dev"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal environment: %w", err)
	}

	if cfg.ContextMaxMessages <= 0 {
		cfg.ContextMaxMessages = 10
	}
	if cfg.ContextTTL <= 0 {
		cfg.ContextTTL = 24 * time.Hour
	}
	if cfg.CollaboratorTimeout <= 0 {
		cfg.CollaboratorTimeout = 30 * time.Second
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required configuration is present
func (c *Config) Validate() error {
	if c.SlackBotToken == "" {
		return fmt.Errorf("SLACK_BOT_TOKEN is required")
	}
	if c.SlackSigningSecret == "" && !c.SkipVerification {
		return fmt.Errorf("SLACK_SIGNING_SECRET is required unless SLACK_SKIP_VERIFICATION is set")
	}
	if c.TasksTable == "" {
		return fmt.Errorf("TASKS_TABLE is required")
	}
	return nil
}
