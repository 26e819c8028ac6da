package models

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventDurationAlert  EventType = "DURATION_ALERT"
	EventStillnessAlert EventType = "STILLNESS_ALERT"
	EventDoorOpened     EventType = "DOOR_OPENED"
	EventMsgSent        EventType = "MSG_SENT"
	EventMsgReceived    EventType = "MSG_RECEIVED"
)

// RespondableEventTypes are the event types that can carry a step awaiting a reply.
var RespondableEventTypes = []EventType{EventDurationAlert, EventStillnessAlert, EventDoorOpened, EventMsgSent}

type Channel string

const (
	ChannelSMS  Channel = "SMS"
	ChannelCard Channel = "CARD"
)

// Event is an append-only log entry of a session. Detail is the message key
// of the conversational step that produced it.
type Event struct {
	ID           uuid.UUID `json:"id"`
	SessionID    uuid.UUID `json:"session_id"`
	EventType    EventType `json:"event_type"`
	Detail       string    `json:"event_type_details"`
	Channel      Channel   `json:"channel"`
	PhoneNumbers []string  `json:"phone_numbers,omitempty"`
	MessageID    string    `json:"message_id,omitempty"`
	SentAt       time.Time `json:"event_sent_at"`
}

// Step returns the conversational step recorded by the event, if any.
func (e Event) Step() (Step, bool) {
	return ParseStep(e.Detail)
}
