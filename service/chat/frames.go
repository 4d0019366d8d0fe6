package chat

import (
	"encoding/json"

	"CampusChat/module/chat/model"
)

// Inbound socket event names.
const (
	InSendMessage = "send_message"
	InMarkRead    = "mark_read"
	InTyping      = "typing"
)

// Frame is the socket wire format in both directions:
// {"event": ..., "data": {...}}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func ParseFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// MarshalFrame builds an outbound frame.
func MarshalFrame(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

type SendMessageRequest struct {
	ConversationID  string             `json:"conversationId"`
	Content         string             `json:"content"`
	Attachments     []model.Attachment `json:"attachments,omitempty"`
	ClientMessageID string             `json:"clientMessageId"`
}

type MarkReadRequest struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

type TypingRequest struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}
