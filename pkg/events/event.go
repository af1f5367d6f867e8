package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type EventType string

const (
	EventTypeMessageAppended EventType = "chat:message-appended"
	EventTypeInputToggled    EventType = "chat:input-toggled"
)

// EventMetadata is attached to every emitted event.
type EventMetadata struct {
	ID            uuid.UUID `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Timestamp     int64     `json:"timestamp"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("id", em.ID.String())
	if em.CorrelationID != "" {
		e.Str("correlation_id", em.CorrelationID)
	}
	e.Int64("timestamp", em.Timestamp)
}

// Event is a chat change pushed to the owner's live sessions.
type Event struct {
	Type   EventType              `json:"type"`
	ChatID string                 `json:"chat_id"`
	UserID string                 `json:"user_id"`
	Data   map[string]interface{} `json:"data,omitempty"`
	Meta   EventMetadata          `json:"meta"`
}

func NewEvent(t EventType, chatID, userID string, data map[string]interface{}) Event {
	return Event{
		Type:   t,
		ChatID: chatID,
		UserID: userID,
		Data:   data,
		Meta: EventMetadata{
			ID:        uuid.New(),
			Timestamp: time.Now().Unix(),
		},
	}
}

// NewMessageAppendedEvent describes a message added to chatID's history.
func NewMessageAppendedEvent(chatID, userID, messageID, parentID, role string) Event {
	var parent interface{}
	if parentID != "" {
		parent = parentID
	}
	return NewEvent(EventTypeMessageAppended, chatID, userID, map[string]interface{}{
		"message_id": messageID,
		"parent_id":  parent,
		"role":       role,
	})
}

func NewInputToggledEvent(chatID, userID string, enabled bool) Event {
	return NewEvent(EventTypeInputToggled, chatID, userID, map[string]interface{}{
		"enabled": enabled,
	})
}

func (e Event) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type))
	ev.Str("chat_id", e.ChatID)
	ev.Str("user_id", e.UserID)
	ev.Object("meta", e.Meta)
}

// Payload is the inner event object sent to the web UI: {type, data}.
func (e Event) Payload() map[string]interface{} {
	data := e.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	return map[string]interface{}{
		"type": string(e.Type),
		"data": data,
	}
}

func (e Event) Validate() error {
	if e.Type == "" {
		return errors.New("event type is empty")
	}
	if e.ChatID == "" {
		return errors.New("event chat id is empty")
	}
	return nil
}

func NewEventFromJSON(b []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, errors.Wrap(err, "decode event")
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}
