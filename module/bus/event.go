package bus

import "encoding/json"

// Event names carried on the broadcast channel. Every gateway process
// subscribes to the same channel and sees every event.
const (
	EventNewMessage          = "new_message"
	EventTypingIndicator     = "typing_indicator"
	EventMessageStatusUpdate = "message_status_update"
	EventOnlineStatus        = "online_status"
	EventMessageReadUpdate   = "message_read_update"
)

// Outbound (socket-facing) event names the gateway writes to clients.
const (
	OutMessageSent       = "message_sent"
	OutNotification      = "notification"
	OutNewMessage        = "new_message"
	OutTypingIndicator   = "typing_indicator"
	OutMessageReadUpdate = "message_read_update"
	OutOnlineStatus      = "online_status"
)

// Envelope is the wire format: {"eventName": ..., "data": {...}}. Data stays
// a generic object here; handlers decode it into the typed payloads below.
type Envelope struct {
	EventName string                 `json:"eventName"`
	Data      map[string]interface{} `json:"data"`
}

func (e *Envelope) Marshal() ([]byte, error) { return json.Marshal(e) }

// NewMessagePayload rides new_message. Message is carried opaque: the bus
// re-emits it to clients without reinterpreting storage fields.
type NewMessagePayload struct {
	Message        map[string]interface{} `json:"message" mapstructure:"message"`
	ConversationID string                 `json:"conversationId" mapstructure:"conversationId"`
	Recipients     []string               `json:"recipients" mapstructure:"recipients"`
}

type TypingPayload struct {
	ConversationID string   `json:"conversationId" mapstructure:"conversationId"`
	Participants   []string `json:"participants" mapstructure:"participants"`
	UserID         string   `json:"userId" mapstructure:"userId"`
	IsTyping       bool     `json:"isTyping" mapstructure:"isTyping"`
}

type StatusUpdatePayload struct {
	RecipientID string `json:"recipientId" mapstructure:"recipientId"`
	MessageID   string `json:"messageId" mapstructure:"messageId"`
	Status      string `json:"status" mapstructure:"status"`
	Timestamp   int64  `json:"timestamp" mapstructure:"timestamp"`
	Error       string `json:"error,omitempty" mapstructure:"error,omitempty"`
}

type OnlineStatusPayload struct {
	UserID string `json:"userId" mapstructure:"userId"`
	Status string `json:"status" mapstructure:"status"`
}

type ReadUpdatePayload struct {
	Recipients     []string `json:"recipients" mapstructure:"recipients"`
	ReadBy         string   `json:"readBy" mapstructure:"readBy"`
	MessageID      string   `json:"messageId" mapstructure:"messageId"`
	ConversationID string   `json:"conversationId" mapstructure:"conversationId"`
}

// NewMessagePayloadData builds the new_message data object from a stored
// message. msg may be any json-marshalable message record. muted is passed
// through for client-side sound suppression and does not affect routing.
func NewMessagePayloadData(msg interface{}, recipients, muted []string) map[string]interface{} {
	obj := map[string]interface{}{}
	if raw, err := json.Marshal(msg); err == nil {
		var m map[string]interface{}
		if json.Unmarshal(raw, &m) == nil {
			obj = m
		}
	}
	convID, _ := obj["conversationId"].(string)
	data := map[string]interface{}{
		"message":        obj,
		"conversationId": convID,
		"recipients":     recipients,
	}
	if len(muted) > 0 {
		data["mutedRecipients"] = muted
	}
	return data
}
