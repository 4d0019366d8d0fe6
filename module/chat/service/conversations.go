package service

import (
	"context"

	"CampusChat/module/cache"
	"CampusChat/module/chat/model"
	"CampusChat/module/chat/store"
)

// Conversations is the read-through cache over conversation records. Reads
// go cache-aside; every mutation writes the authoritative record first and
// then invalidates the keys it derived.
type Conversations struct {
	db       store.DB
	accessor *cache.Accessor
}

func NewConversations(db store.DB, accessor *cache.Accessor) *Conversations {
	return &Conversations{db: db, accessor: accessor}
}

func (s *Conversations) Get(ctx context.Context, id string) (*model.Conversation, error) {
	return cache.GetOrSet(ctx, s.accessor, cache.ConversationKey(id), cache.TTLEntity,
		func(ctx context.Context) (*model.Conversation, error) {
			return s.db.GetConversation(ctx, id)
		})
}

func (s *Conversations) ListForUser(ctx context.Context, userID string) ([]*model.Conversation, error) {
	return cache.GetOrSet(ctx, s.accessor, cache.UserConversationsKey(userID), cache.TTLEntity,
		func(ctx context.Context) ([]*model.Conversation, error) {
			return s.db.ListUserConversations(ctx, userID)
		})
}

func (s *Conversations) Create(ctx context.Context, c *model.Conversation) error {
	if err := s.db.CreateConversation(ctx, c); err != nil {
		return err
	}
	keys := make([]string, 0, len(c.ParticipantIDs))
	for _, uid := range c.ParticipantIDs {
		keys = append(keys, cache.UserConversationsKey(uid))
	}
	return s.accessor.InvalidateKeys(ctx, keys)
}

func (s *Conversations) AddParticipant(ctx context.Context, convID, userID string) error {
	if err := s.db.AddParticipant(ctx, convID, userID); err != nil {
		return err
	}
	return s.invalidate(ctx, convID, userID)
}

func (s *Conversations) RemoveParticipant(ctx context.Context, convID, userID string) error {
	if err := s.db.RemoveParticipant(ctx, convID, userID); err != nil {
		return err
	}
	return s.invalidate(ctx, convID, userID)
}

func (s *Conversations) SetMuted(ctx context.Context, convID, userID string, muted bool) error {
	if err := s.db.SetMuted(ctx, convID, userID, muted); err != nil {
		return err
	}
	return s.invalidate(ctx, convID, userID)
}

func (s *Conversations) invalidate(ctx context.Context, convID, userID string) error {
	return s.accessor.InvalidateKeys(ctx, []string{
		cache.ConversationKey(convID),
		cache.UserConversationsKey(userID),
	})
}
