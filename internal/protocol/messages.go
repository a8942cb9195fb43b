package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientMessage MessageType = "client_message"
	TypeClientButton  MessageType = "client_button"
	TypeBotMessage    MessageType = "bot_message"
	TypeReminder      MessageType = "reminder"
	TypeErrorEvent    MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientMessage is inbound free text (commands included).
type ClientMessage struct {
	Type        MessageType `json:"type"`
	UserID      string      `json:"user_id"`
	DisplayName string      `json:"display_name,omitempty"`
	Text        string      `json:"text"`
}

// ClientButton is an inbound button press; Data carries the payload the bot
// attached to the button.
type ClientButton struct {
	Type   MessageType `json:"type"`
	UserID string      `json:"user_id"`
	Data   string      `json:"data"`
}

type BotButton struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// BotMessage is an outbound prompt, optionally with buttons for the client
// to render.
type BotMessage struct {
	Type    MessageType `json:"type"`
	Text    string      `json:"text"`
	Buttons []BotButton `json:"buttons,omitempty"`
}

// Reminder is an outbound deadline notification, pushed independently of any
// dialog traffic.
type Reminder struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type ErrorEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail"`
}

// ParseClientMessage decodes one inbound websocket frame.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientMessage:
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.UserID == "" || msg.Text == "" {
			return nil, errors.New("invalid client_message")
		}
		return msg, nil
	case TypeClientButton:
		var msg ClientButton
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.UserID == "" || msg.Data == "" {
			return nil, errors.New("invalid client_button")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
