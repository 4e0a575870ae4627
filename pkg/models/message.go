package models

// Message represents a single turn in a conversation history
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// MessageRole constants
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SlackEventEnvelope is the outer structure of an Events API request body
type SlackEventEnvelope struct {
	Type      string         `json:"type"`
	Challenge string         `json:"challenge"`
	Event     SlackEventBody `json:"event"`
}

// SlackEventBody represents the actual event details
type SlackEventBody struct {
	Type     string `json:"type"`
	User     string `json:"user"`
	Text     string `json:"text"`
	Channel  string `json:"channel"`
	ThreadTS string `json:"thread_ts,omitempty"`
	BotID    string `json:"bot_id,omitempty"`
	SubType  string `json:"subtype,omitempty"`
}
