package push

import "time"

// Event names carried on the push channel.
const (
	EventReceiveMessage = "receiveMessage"
)

// InboundMessage is the payload of a receiveMessage event from the message
// server. Timestamp is RFC3339; a missing or unparsable value is replaced
// with the arrival time by the listener.
type InboundMessage struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	SenderName string `json:"senderName"`
	Message    string `json:"message"`
	Timestamp  string `json:"timestamp"`

	ReceivedAt time.Time `json:"-"`
}

// SentAt returns the message timestamp, falling back to arrival time.
func (m InboundMessage) SentAt() time.Time {
	if ts, err := time.Parse(time.RFC3339, m.Timestamp); err == nil {
		return ts
	}
	return m.ReceivedAt
}

// NotificationEvent is surfaced to the UI when an inbound message lands on a
// conversation that is not currently active.
type NotificationEvent struct {
	Type       string    `json:"type"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Preview    string    `json:"preview"`
	SentAt     time.Time `json:"sent_at"`
}
