package service

import (
	"context"

	"github.com/pkg/errors"

	"CampusChat/module/bus"
	"CampusChat/module/cache"
	"CampusChat/module/chat/model"
	"CampusChat/module/chat/store"
)

// ReadState tracks per-user read positions. The ReadStatus rows behind the
// single authoritative upsert are the truth; the cached per-conversation
// snapshot is only a read accelerator, rebuilt from the rows on any miss.
type ReadState struct {
	db            store.DB
	accessor      *cache.Accessor
	conversations *Conversations
	events        *bus.Bus
}

func NewReadState(db store.DB, accessor *cache.Accessor, conversations *Conversations, events *bus.Bus) *ReadState {
	return &ReadState{db: db, accessor: accessor, conversations: conversations, events: events}
}

// MarkRead advances userID's read position in convID to messageID, ordered
// by the message's storage-assigned creation time. A call carrying an older
// message than the current position is a no-op: no snapshot touch, no
// event.
func (s *ReadState) MarkRead(ctx context.Context, userID, convID, messageID string) error {
	msg, err := s.db.GetMessage(ctx, messageID)
	if err != nil {
		return errors.Wrapf(err, "mark read %s", messageID)
	}
	if msg.ConversationID != convID {
		return errors.Errorf("message %s not in conversation %s", messageID, convID)
	}

	updated, err := s.db.UpsertReadStatus(ctx, convID, userID, messageID, msg.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "upsert read status")
	}
	if !updated {
		return nil
	}

	s.updateSnapshot(ctx, convID, userID, messageID, msg)

	conv, err := s.conversations.Get(ctx, convID)
	if err != nil {
		// position is stored; the read event is best-effort
		return nil
	}
	return s.events.Publish(ctx, bus.EventMessageReadUpdate, map[string]interface{}{
		"recipients":     conv.RecipientsFor(userID),
		"readBy":         userID,
		"messageId":      messageID,
		"conversationId": convID,
	})
}

// updateSnapshot is the read-modify-write on the cached list. Two racing
// mark-reads for different users can overwrite each other's entry; the
// rebuild-from-rows on the next miss is the correctness backstop, so the
// race is accepted.
func (s *ReadState) updateSnapshot(ctx context.Context, convID, userID, messageID string, msg *model.Message) {
	key := cache.ReadStatusKey(convID)
	snapshot, ok := cache.Peek[[]*model.ReadStatus](ctx, s.accessor, key)
	if !ok {
		return // next GetReadStatus rebuilds from storage
	}
	replaced := false
	for i, rs := range snapshot {
		if rs.UserID == userID {
			snapshot[i] = &model.ReadStatus{
				ConversationID:    convID,
				UserID:            userID,
				LastReadMessageID: messageID,
				LastReadAt:        msg.CreatedAt,
				UpdatedAt:         msg.CreatedAt,
			}
			replaced = true
			break
		}
	}
	if !replaced {
		snapshot = append(snapshot, &model.ReadStatus{
			ConversationID:    convID,
			UserID:            userID,
			LastReadMessageID: messageID,
			LastReadAt:        msg.CreatedAt,
			UpdatedAt:         msg.CreatedAt,
		})
	}
	s.accessor.Put(ctx, key, snapshot, cache.TTLReadStatus)
}

// GetReadStatus returns every participant's read position for the
// conversation, cache-aside against the read-status rows.
func (s *ReadState) GetReadStatus(ctx context.Context, convID string) ([]*model.ReadStatus, error) {
	return cache.GetOrSet(ctx, s.accessor, cache.ReadStatusKey(convID), cache.TTLReadStatus,
		func(ctx context.Context) ([]*model.ReadStatus, error) {
			return s.db.ListReadStatus(ctx, convID)
		})
}
