package queue

import (
	"context"

	"CampusChat/module/chat/model"
)

// Job is one accepted-but-not-yet-persisted message. The sender got its
// "queued" ack the moment Enqueue returned; everything after is
// fire-and-forget from the sender's point of view.
type Job struct {
	ConversationID  string             `json:"conversationId"`
	SenderID        string             `json:"senderId"`
	Content         string             `json:"content"`
	Attachments     []model.Attachment `json:"attachments,omitempty"`
	RecipientIDs    []string           `json:"recipientIds"`
	// MutedRecipients is carried through to the delivery event so clients
	// can suppress sounds; it never affects delivery itself.
	MutedRecipients []string `json:"mutedRecipients,omitempty"`
	ClientMessageID string   `json:"clientMessageId"`
	EnqueuedAtMS    int64    `json:"enqueuedAt"`
}

// DedupeID keys broker-side dedupe: same pair, same job.
func (j *Job) DedupeID() string {
	return j.ConversationID + ":" + j.ClientMessageID
}

// Queue accepts persistence jobs. The sole synchronous guarantee of the
// send path is "accepted by the queue"; an Enqueue error is the only
// send failure a sender ever sees.
type Queue interface {
	Enqueue(ctx context.Context, job *Job) error
}
