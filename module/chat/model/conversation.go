package model

import "time"

const ConversationTableName = "conversation"

// Conversation is the authoritative conversation record. Read-mostly and
// cached under conversation:{id}; every mutation invalidates that key.
type Conversation struct {
	ID             string    `bson:"conversation_id" json:"id"`
	ParticipantIDs []string  `bson:"participant_ids" json:"participantIds"`
	IsGroup        bool      `bson:"is_group" json:"isGroup"`
	GroupOwner     string    `bson:"group_owner,omitempty" json:"groupOwner,omitempty"`
	LastMessageID  string    `bson:"last_message_id,omitempty" json:"lastMessageId,omitempty"`
	LastMessageAt  time.Time `bson:"last_message_at,omitempty" json:"lastMessageAt,omitempty"`
	MutedBy        []string  `bson:"muted_by,omitempty" json:"mutedBy,omitempty"`
	CreatedAt      time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `bson:"updated_at" json:"updatedAt"`
}

// HasParticipant reports membership; the send path gates on it.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// RecipientsFor returns every participant except sender: the fan-out
// address list for a message from sender.
func (c *Conversation) RecipientsFor(sender string) []string {
	out := make([]string, 0, len(c.ParticipantIDs))
	for _, id := range c.ParticipantIDs {
		if id != sender {
			out = append(out, id)
		}
	}
	return out
}
