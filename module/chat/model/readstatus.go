package model

import "time"

const ReadStatusTableName = "read_status"

// ReadStatus is the authoritative read position: one row per
// (conversationId, userId). LastReadAt is the *creation time of the last
// read message*, not the time of the mark-read call; monotonicity is
// judged against it, so a late-arriving mark-read for an older message
// cannot regress the position.
type ReadStatus struct {
	ConversationID    string    `bson:"conversation_id" json:"conversationId"`
	UserID            string    `bson:"user_id" json:"userId"`
	LastReadMessageID string    `bson:"last_read_message_id" json:"lastReadMessageId"`
	LastReadAt        time.Time `bson:"last_read_at" json:"lastReadAt"`
	UpdatedAt         time.Time `bson:"updated_at" json:"updatedAt"`
}
