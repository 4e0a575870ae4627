package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/tasknest/taskbot/pkg/models"
)

// Classification errors. Handlers map these to HTTP 400.
var (
	ErrEmptyBody   = errors.New("empty request body")
	ErrBadEncoding = errors.New("malformed form encoding")
	ErrBadJSON     = errors.New("malformed JSON body")
)

// Classify turns a raw webhook body into a normalized InboundRequest.
//
// Slash commands arrive URL-encoded; everything else is JSON. A JSON body
// carrying a challenge token is the one-time URL verification handshake. A
// JSON body with an event object is an Events API callback; events authored
// by the platform itself (bot messages) are tagged Ignorable so they never
// feed back into the reply pipeline. Any other recognizable JSON shape
// classifies as unknown and is acknowledged generically.
func Classify(rawBody []byte, contentType string) (*models.InboundRequest, error) {
	if len(rawBody) == 0 {
		return nil, ErrEmptyBody
	}

	if strings.Contains(contentType, "application/x-www-form-urlencoded") {
		return classifySlashCommand(rawBody)
	}

	var envelope models.SlackEventEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadJSON, err)
	}

	if envelope.Challenge != "" {
		return &models.InboundRequest{
			Kind:      models.KindHandshake,
			Challenge: envelope.Challenge,
		}, nil
	}

	if envelope.Event.Type != "" {
		event := envelope.Event
		return &models.InboundRequest{
			Kind:         models.KindEventCallback,
			EventType:    event.Type,
			EventSubtype: event.SubType,
			Text:         event.Text,
			ChannelID:    event.Channel,
			UserID:       event.User,
			ThreadTS:     event.ThreadTS,
			Ignorable:    event.SubType == "bot_message" || event.BotID != "",
		}, nil
	}

	return &models.InboundRequest{Kind: models.KindUnknown}, nil
}

func classifySlashCommand(rawBody []byte) (*models.InboundRequest, error) {
	values, err := url.ParseQuery(string(rawBody))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEncoding, err)
	}

	// trigger_id, response_url and friends are present but unused.
	return &models.InboundRequest{
		Kind:      models.KindSlashCommand,
		Command:   values.Get("command"),
		Text:      values.Get("text"),
		ChannelID: values.Get("channel_id"),
		UserID:    values.Get("user_id"),
	}, nil
}
