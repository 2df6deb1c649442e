package relay

import (
	"encoding/json"
)

// Event types delivered on the distribution channel.
const (
	EventJoined  = "joined"
	EventMessage = "message"
	EventError   = "error"
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ErrorData is the payload of an "error" event.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewEvent(eventType string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Data: raw}, nil
}
