package spec

import (
	"encoding/json"
	"time"
)

// Event is the envelope carried over the message broker once a webhook has been verified
type Event struct {
	ID         string          `json:"id"`
	Source     EventSource     `json:"source"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"receivedAt"`
}
