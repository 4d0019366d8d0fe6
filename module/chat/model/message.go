package model

import "time"

const MessageTableName = "message"

// Attachment is a stored file reference carried on a message. Upload
// handling lives outside the core; only the reference travels here.
type Attachment struct {
	URL      string `bson:"url" json:"url"`
	Name     string `bson:"name,omitempty" json:"name,omitempty"`
	MimeType string `bson:"mime_type,omitempty" json:"mimeType,omitempty"`
	Size     int64  `bson:"size,omitempty" json:"size,omitempty"`
}

// Message is the durable message record. ClientMessageID is the sender's
// idempotency token: at most one message exists per
// (conversationId, clientMessageId), enforced by a unique index. Never
// mutated after insert except soft-delete.
type Message struct {
	ID              string       `bson:"message_id" json:"id"`
	ConversationID  string       `bson:"conversation_id" json:"conversationId"`
	SenderID        string       `bson:"sender_id" json:"senderId"`
	Content         string       `bson:"content" json:"content"`
	Attachments     []Attachment `bson:"attachments,omitempty" json:"attachments,omitempty"`
	ClientMessageID string       `bson:"client_message_id" json:"clientMessageId"`
	CreatedAt       time.Time    `bson:"created_at" json:"createdAt"`
	Deleted         bool         `bson:"deleted,omitempty" json:"deleted,omitempty"`
	DeletedAt       time.Time    `bson:"deleted_at,omitempty" json:"deletedAt,omitempty"`
}
