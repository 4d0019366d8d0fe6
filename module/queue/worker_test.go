package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"CampusChat/module/bus"
	"CampusChat/module/cache"
	"CampusChat/module/chat/model"
	"CampusChat/module/chat/store"
	"CampusChat/module/presence"
	"CampusChat/service/storage/kv"
)

type captureEmitter struct {
	mu     sync.Mutex
	events []string
	conns  [][]string
}

func (e *captureEmitter) EmitLocal(event string, connIDs []string, payload interface{}) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	e.conns = append(e.conns, connIDs)
	return len(connIDs)
}

func (e *captureEmitter) EmitAllExcept(event string, exceptUserID string, payload interface{}) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	e.conns = append(e.conns, nil)
	return 0
}

func (e *captureEmitter) count(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev == event {
			n++
		}
	}
	return n
}

func (e *captureEmitter) snapshot() ([]string, [][]string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...), append([][]string(nil), e.conns...)
}

func setupPipeline(t *testing.T) (context.Context, *store.MemDB, *Worker, *captureEmitter, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	kvstore := kv.NewMemoryStore()
	registry := presence.NewRegistry(kvstore)
	accessor := cache.NewAccessor(kvstore)
	db := store.NewMemDB()

	em := &captureEmitter{}
	events := bus.New(kvstore, registry, em, bus.DefaultChannel)
	if err := events.Start(ctx); err != nil {
		t.Fatal(err)
	}

	worker := NewWorker(db, accessor, events, WithBaseBackoff(time.Millisecond))
	return ctx, db, worker, em, func() {
		_ = events.Close()
		cancel()
	}
}

func seedConversation(t *testing.T, ctx context.Context, db *store.MemDB, id string, participants ...string) {
	t.Helper()
	err := db.CreateConversation(ctx, &model.Conversation{
		ID:             id,
		ParticipantIDs: participants,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestProcessPersistsAndBumpsConversation(t *testing.T) {
	ctx, db, worker, _, done := setupPipeline(t)
	defer done()

	seedConversation(t, ctx, db, "conv1", "sender", "reader")

	job := &Job{
		ConversationID:  "conv1",
		SenderID:        "sender",
		Content:         "hi",
		RecipientIDs:    []string{"reader"},
		ClientMessageID: "client-1",
	}
	if err := worker.Process(ctx, job); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages(ctx, "conv1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hi" {
		t.Fatalf("stored messages = %+v, want one with content hi", msgs)
	}

	conv, err := db.GetConversation(ctx, "conv1")
	if err != nil {
		t.Fatal(err)
	}
	if conv.LastMessageID != msgs[0].ID {
		t.Fatalf("lastMessageId = %q, want %q", conv.LastMessageID, msgs[0].ID)
	}
}

func TestDuplicateClientMessageStoresOnce(t *testing.T) {
	ctx, db, worker, _, done := setupPipeline(t)
	defer done()

	seedConversation(t, ctx, db, "conv1", "sender", "reader")

	job := &Job{
		ConversationID:  "conv1",
		SenderID:        "sender",
		Content:         "hi",
		RecipientIDs:    []string{"reader"},
		ClientMessageID: "client-dup",
	}
	for i := 0; i < 3; i++ {
		if err := worker.Process(ctx, job); err != nil {
			t.Fatalf("replay %d: %v", i, err)
		}
	}

	msgs, err := db.ListMessages(ctx, "conv1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("stored %d messages for one clientMessageId, want 1", len(msgs))
	}
}

func TestProcessInvalidatesMessageListCache(t *testing.T) {
	ctx, db, worker, _, done := setupPipeline(t)
	defer done()

	seedConversation(t, ctx, db, "conv1", "sender", "reader")

	// warm the message list cache the worker is expected to drop
	warmKey := cache.MessagesKey("conv1")
	worker.accessor.Put(ctx, warmKey, []string{"stale"}, time.Hour)
	if _, ok := cache.Peek[[]string](ctx, worker.accessor, warmKey); !ok {
		t.Fatal("warm write did not land")
	}

	job := &Job{
		ConversationID:  "conv1",
		SenderID:        "sender",
		Content:         "hi",
		RecipientIDs:    []string{"reader"},
		ClientMessageID: "client-2",
	}
	if err := worker.Process(ctx, job); err != nil {
		t.Fatal(err)
	}

	if _, ok := cache.Peek[[]string](ctx, worker.accessor, warmKey); ok {
		t.Fatal("message list cache survived the persist")
	}
}

// End-to-end: enqueue on the memory queue, worker persists and republishes,
// the bus fans out to the recipient's connections and not the sender's.
func TestSendPipelineFansOutToRecipientsOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kvstore := kv.NewMemoryStore()
	registry := presence.NewRegistry(kvstore)
	accessor := cache.NewAccessor(kvstore)
	db := store.NewMemDB()

	_ = registry.AddConnection(ctx, "sender", "s1")
	_ = registry.AddConnection(ctx, "reader", "r1")
	_ = registry.AddConnection(ctx, "reader", "r2")

	em := &captureEmitter{}
	events := bus.New(kvstore, registry, em, bus.DefaultChannel)
	if err := events.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer events.Close()

	worker := NewWorker(db, accessor, events, WithBaseBackoff(time.Millisecond))
	q := NewMemoryQueue(worker, 16, 1)

	seedConversation(t, ctx, db, "conv1", "sender", "reader")

	err := q.Enqueue(ctx, &Job{
		ConversationID:  "conv1",
		SenderID:        "sender",
		Content:         "hello",
		RecipientIDs:    []string{"reader"},
		ClientMessageID: "client-3",
	})
	if err != nil {
		t.Fatal(err)
	}
	q.Close()

	waitUntil(t, func() bool {
		return em.count(bus.OutNewMessage) == 1 && em.count(bus.OutMessageSent) == 1
	})

	evs, conns := em.snapshot()
	for i, ev := range evs {
		if ev != bus.OutNewMessage {
			continue
		}
		got := conns[i]
		if len(got) != 2 {
			t.Fatalf("new_message reached %v, want reader's two connections", got)
		}
		for _, id := range got {
			if id == "s1" {
				t.Fatal("sender connection received its own new_message")
			}
		}
	}
}
