// Package protocol defines the realtime event names and payload structures
// exchanged with the Aether broker. Every frame is a JSON envelope with the
// event name as discriminator; payloads are decoded into typed structs and
// validated at the transport boundary.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/kingofdead6/aetherchat/internal/models"
)

// Client -> Server event names.
const (
	EventRegister      = "register"
	EventJoinChat      = "join_chat"
	EventMarkSeen      = "mark_messages_seen"
	EventTyping        = "typing"
	EventUpdateMessage = "updateMessage"
	EventDeleteMessage = "deleteMessage"
)

// Server -> Client event names.
const (
	EventReceiveMessage = "receive_message"
	EventMessageUpdated = "message_updated"
	EventMessageDeleted = "message_deleted"
	EventMessageSeen    = "message_seen"
	EventMessagesSeen   = "messages_seen"
	EventUnseenMessages = "unseen_messages"
	EventMessageError   = "message_error"
	EventError          = "error"
)

// Envelope is the frame format on the wire: an event name plus the raw
// payload, decoded later into the event's concrete struct.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload and wraps it with the event name.
func NewEnvelope(event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("protocol: marshal %q payload: %w", event, err)
	}
	return Envelope{Event: event, Data: data}, nil
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	type alias Envelope
	if err := json.Unmarshal(data, (*alias)(e)); err != nil {
		return fmt.Errorf("protocol: unmarshal envelope: %w", err)
	}
	if e.Event == "" {
		return fmt.Errorf("protocol: missing or empty \"event\" field")
	}
	return nil
}

// MarkSeenPayload batches seen acknowledgements for one room.
type MarkSeenPayload struct {
	ChatID     string   `json:"chatId"`
	MessageIDs []string `json:"messageIds"`
}

// TypingPayload is sent while the local user is typing and received while a
// remote user is. ChatID is only present on the outbound form.
type TypingPayload struct {
	ChatID string `json:"chatId,omitempty"`
	UserID string `json:"userId"`
}

// UpdateMessagePayload requests an in-place content edit.
type UpdateMessagePayload struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

// DeleteMessagePayload requests a soft deletion.
type DeleteMessagePayload struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

// MessageSeenPayload reports a single (message, user) acknowledgement.
type MessageSeenPayload struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

// MessagesSeenPayload reports a batched acknowledgement by one user.
type MessagesSeenPayload struct {
	MessageIDs []string `json:"messageIds"`
	UserID     string   `json:"userId"`
}

// UnseenMessagesPayload lists messages the server believes this client has
// not acknowledged yet.
type UnseenMessagesPayload struct {
	MessageIDs []string `json:"messageIds"`
}

// MessageErrorPayload reports that a send correlated by TempID failed
// server-side.
type MessageErrorPayload struct {
	TempID string `json:"tempId"`
	Error  string `json:"error"`
}

// ErrorPayload is the broker's generic error event.
type ErrorPayload struct {
	Message string `json:"message"`
}

func (p MessageSeenPayload) Validate() error {
	if p.MessageID == "" {
		return fmt.Errorf("protocol: message_seen missing messageId")
	}
	if p.UserID == "" {
		return fmt.Errorf("protocol: message_seen missing userId")
	}
	return nil
}

func (p MessagesSeenPayload) Validate() error {
	if len(p.MessageIDs) == 0 {
		return fmt.Errorf("protocol: messages_seen missing messageIds")
	}
	if p.UserID == "" {
		return fmt.Errorf("protocol: messages_seen missing userId")
	}
	return nil
}

func (p MessageErrorPayload) Validate() error {
	if p.TempID == "" {
		return fmt.Errorf("protocol: message_error missing tempId")
	}
	return nil
}

// ParseServerEvent decodes raw frame bytes into the event name and its typed
// payload. Unknown or invalid frames return an error so the transport can
// log and drop them without mutating any state.
func ParseServerEvent(data []byte) (string, any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, err
	}

	var (
		payload any
		err     error
	)

	switch env.Event {
	case EventReceiveMessage, EventMessageUpdated, EventMessageDeleted:
		var m models.Message
		if err = json.Unmarshal(env.Data, &m); err == nil && m.ID == "" && m.TempID == "" {
			err = fmt.Errorf("protocol: %s carries no message identifier", env.Event)
		}
		payload = m
	case EventMessageSeen:
		var p MessageSeenPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = p.Validate()
		}
		payload = p
	case EventMessagesSeen:
		var p MessagesSeenPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = p.Validate()
		}
		payload = p
	case EventUnseenMessages:
		var p UnseenMessagesPayload
		err = json.Unmarshal(env.Data, &p)
		payload = p
	case EventTyping:
		var p TypingPayload
		if err = json.Unmarshal(env.Data, &p); err == nil && p.UserID == "" {
			err = fmt.Errorf("protocol: typing missing userId")
		}
		payload = p
	case EventMessageError:
		var p MessageErrorPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = p.Validate()
		}
		payload = p
	case EventError:
		var p ErrorPayload
		err = json.Unmarshal(env.Data, &p)
		payload = p
	default:
		return env.Event, nil, fmt.Errorf("protocol: unknown server event %q", env.Event)
	}

	if err != nil {
		return env.Event, nil, fmt.Errorf("protocol: decode %q payload: %w", env.Event, err)
	}
	return env.Event, payload, nil
}
