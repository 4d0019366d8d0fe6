package service

import (
	"context"
	"time"

	"CampusChat/module/cache"
	"CampusChat/module/chat/model"
	"CampusChat/module/chat/store"
)

// Messages serves conversation history through the cache. Long histories
// get the long TTL: they change shape rarely and cost the most to rebuild.
type Messages struct {
	db       store.DB
	accessor *cache.Accessor
}

func NewMessages(db store.DB, accessor *cache.Accessor) *Messages {
	return &Messages{db: db, accessor: accessor}
}

func (s *Messages) List(ctx context.Context, convID string, limit int) ([]*model.Message, error) {
	return cache.GetOrSetDynamic(ctx, s.accessor, cache.MessagesKey(convID),
		func(msgs []*model.Message) time.Duration {
			return cache.MessageListTTL(len(msgs))
		},
		func(ctx context.Context) ([]*model.Message, error) {
			return s.db.ListMessages(ctx, convID, limit)
		})
}

func (s *Messages) Get(ctx context.Context, id string) (*model.Message, error) {
	return s.db.GetMessage(ctx, id)
}

// SoftDelete hides the message and drops the conversation's cached list.
func (s *Messages) SoftDelete(ctx context.Context, id string) error {
	m, err := s.db.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.SoftDeleteMessage(ctx, id); err != nil {
		return err
	}
	return s.accessor.InvalidateKey(ctx, cache.MessagesKey(m.ConversationID))
}
