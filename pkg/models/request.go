package models

// RequestKind discriminates the three request shapes Slack sends to the
// webhook endpoint, plus a catch-all for anything we acknowledge generically.
type RequestKind string

const (
	KindHandshake     RequestKind = "handshake"
	KindSlashCommand  RequestKind = "slash_command"
	KindEventCallback RequestKind = "event_callback"
	KindUnknown       RequestKind = "unknown"
)

// InboundRequest is the normalized result of classifying a raw webhook body.
// Only the fields for the request's Kind are populated.
type InboundRequest struct {
	Kind RequestKind

	// Handshake
	Challenge string

	// Slash command
	Command string
	Text    string

	// Shared by slash commands and event callbacks
	ChannelID string
	UserID    string

	// Event callback
	EventType    string
	EventSubtype string
	ThreadTS     string

	// Ignorable marks platform-authored events (bot messages) that must not
	// re-enter the reply pipeline.
	Ignorable bool
}
