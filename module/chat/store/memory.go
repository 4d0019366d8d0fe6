package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"CampusChat/module/chat/model"
)

// MemDB is the in-process DB used by tests and local development. Same
// invariants as the Mongo implementation, enforced under one mutex.
type MemDB struct {
	mu    sync.RWMutex
	convs map[string]*model.Conversation
	msgs  map[string]*model.Message            // message_id -> msg
	byCID map[string]*model.Message            // conv|clientMsgID -> msg
	reads map[string]map[string]*model.ReadStatus // conv -> user -> status
}

func NewMemDB() *MemDB {
	return &MemDB{
		convs: make(map[string]*model.Conversation),
		msgs:  make(map[string]*model.Message),
		byCID: make(map[string]*model.Message),
		reads: make(map[string]map[string]*model.ReadStatus),
	}
}

func cidKey(convID, clientMsgID string) string { return convID + "|" + clientMsgID }

func (db *MemDB) CreateConversation(ctx context.Context, c *model.Conversation) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	cp := *c
	db.convs[c.ID] = &cp
	return nil
}

func (db *MemDB) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	c, ok := db.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (db *MemDB) ListUserConversations(ctx context.Context, userID string) ([]*model.Conversation, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []*model.Conversation
	for _, c := range db.convs {
		if c.HasParticipant(userID) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	return out, nil
}

func (db *MemDB) AddParticipant(ctx context.Context, convID, userID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.convs[convID]
	if !ok {
		return ErrNotFound
	}
	if !c.HasParticipant(userID) {
		c.ParticipantIDs = append(c.ParticipantIDs, userID)
	}
	c.UpdatedAt = time.Now()
	return nil
}

func (db *MemDB) RemoveParticipant(ctx context.Context, convID, userID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.convs[convID]
	if !ok {
		return ErrNotFound
	}
	c.ParticipantIDs = remove(c.ParticipantIDs, userID)
	c.UpdatedAt = time.Now()
	return nil
}

func (db *MemDB) SetMuted(ctx context.Context, convID, userID string, muted bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.convs[convID]
	if !ok {
		return ErrNotFound
	}
	c.MutedBy = remove(c.MutedBy, userID)
	if muted {
		c.MutedBy = append(c.MutedBy, userID)
	}
	c.UpdatedAt = time.Now()
	return nil
}

func (db *MemDB) SetLastMessage(ctx context.Context, convID, messageID string, at time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.convs[convID]
	if !ok {
		return nil
	}
	if !c.LastMessageAt.Before(at) {
		return nil
	}
	c.LastMessageID = messageID
	c.LastMessageAt = at
	c.UpdatedAt = time.Now()
	return nil
}

func (db *MemDB) InsertMessage(ctx context.Context, m *model.Message) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	k := cidKey(m.ConversationID, m.ClientMessageID)
	if _, exists := db.byCID[k]; exists {
		return ErrDuplicateClientMsgID
	}
	cp := *m
	db.msgs[m.ID] = &cp
	db.byCID[k] = &cp
	return nil
}

func (db *MemDB) FindMessageByClientID(ctx context.Context, convID, clientMsgID string) (*model.Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	m, ok := db.byCID[cidKey(convID, clientMsgID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (db *MemDB) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	m, ok := db.msgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (db *MemDB) ListMessages(ctx context.Context, convID string, limit int) ([]*model.Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []*model.Message
	for _, m := range db.msgs {
		if m.ConversationID == convID && !m.Deleted {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (db *MemDB) SoftDeleteMessage(ctx context.Context, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, ok := db.msgs[id]
	if !ok {
		return ErrNotFound
	}
	m.Deleted = true
	m.DeletedAt = time.Now()
	return nil
}

func (db *MemDB) UpsertReadStatus(ctx context.Context, convID, userID, messageID string, msgCreatedAt time.Time) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	users := db.reads[convID]
	if users == nil {
		users = make(map[string]*model.ReadStatus)
		db.reads[convID] = users
	}
	cur, ok := users[userID]
	if ok && !cur.LastReadAt.Before(msgCreatedAt) {
		return false, nil
	}
	users[userID] = &model.ReadStatus{
		ConversationID:    convID,
		UserID:            userID,
		LastReadMessageID: messageID,
		LastReadAt:        msgCreatedAt,
		UpdatedAt:         time.Now(),
	}
	return true, nil
}

func (db *MemDB) ListReadStatus(ctx context.Context, convID string) ([]*model.ReadStatus, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	users := db.reads[convID]
	out := make([]*model.ReadStatus, 0, len(users))
	for _, rs := range users {
		cp := *rs
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
