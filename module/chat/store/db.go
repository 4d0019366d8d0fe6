package store

import (
	"context"
	"errors"
	"time"

	"CampusChat/module/chat/model"
)

var (
	// ErrNotFound covers reads of a missing record.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateClientMsgID signals that (conversationId,
	// clientMessageId) already has a persisted message. The persistence
	// worker treats it as success.
	ErrDuplicateClientMsgID = errors.New("duplicate client message id")
)

// DB abstracts durable storage. Production runs Mongo; tests run the memory
// implementation.
type DB interface {
	CreateConversation(ctx context.Context, c *model.Conversation) error
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	ListUserConversations(ctx context.Context, userID string) ([]*model.Conversation, error)
	AddParticipant(ctx context.Context, convID, userID string) error
	RemoveParticipant(ctx context.Context, convID, userID string) error
	SetMuted(ctx context.Context, convID, userID string, muted bool) error
	// SetLastMessage bumps the conversation's last-message pointer, but
	// only forward: a retried old job cannot move it back.
	SetLastMessage(ctx context.Context, convID, messageID string, at time.Time) error

	// InsertMessage persists m, returning ErrDuplicateClientMsgID when the
	// idempotency pair already exists.
	InsertMessage(ctx context.Context, m *model.Message) error
	FindMessageByClientID(ctx context.Context, convID, clientMsgID string) (*model.Message, error)
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	// ListMessages returns non-deleted messages oldest-first.
	ListMessages(ctx context.Context, convID string, limit int) ([]*model.Message, error)
	SoftDeleteMessage(ctx context.Context, id string) error

	// UpsertReadStatus advances the (convID, userID) read position to
	// messageID, whose creation time is msgCreatedAt. Positions only move
	// forward in creation-time order; a stale call reports updated=false.
	UpsertReadStatus(ctx context.Context, convID, userID, messageID string, msgCreatedAt time.Time) (updated bool, err error)
	ListReadStatus(ctx context.Context, convID string) ([]*model.ReadStatus, error)
}
