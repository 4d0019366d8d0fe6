package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"CampusChat/module/presence"
	"CampusChat/service/storage/kv"
)

// recordingEmitter stands in for a gateway's local connection table.
type recordingEmitter struct {
	mu    sync.Mutex
	local map[string]bool // connection ids this process "owns"

	emitted []emission
}

type emission struct {
	event   string
	connIDs []string
}

func newRecordingEmitter(connIDs ...string) *recordingEmitter {
	local := make(map[string]bool, len(connIDs))
	for _, id := range connIDs {
		local[id] = true
	}
	return &recordingEmitter{local: local}
}

func (e *recordingEmitter) EmitLocal(event string, connIDs []string, payload interface{}) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	var held []string
	for _, id := range connIDs {
		if e.local[id] {
			held = append(held, id)
		}
	}
	if len(held) > 0 {
		e.emitted = append(e.emitted, emission{event: event, connIDs: held})
	}
	return len(held)
}

func (e *recordingEmitter) EmitAllExcept(event string, exceptUserID string, payload interface{}) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emitted = append(e.emitted, emission{event: event})
	return len(e.local)
}

func (e *recordingEmitter) total() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, em := range e.emitted {
		n += len(em.connIDs)
	}
	return n
}

func waitFor(t *testing.T, cond func() bool) {
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

// Two gateways share one store. Recipient A holds two connections on the
// first, recipient B one on the second, and a bystander C is connected but
// not addressed. A single publish must reach exactly the three recipient
// connections, each once.
func TestFanOutAcrossGateways(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := kv.NewMemoryStore()
	registry := presence.NewRegistry(store)

	_ = registry.AddConnection(ctx, "userA", "a1")
	_ = registry.AddConnection(ctx, "userA", "a2")
	_ = registry.AddConnection(ctx, "userB", "b1")
	_ = registry.AddConnection(ctx, "userC", "c1")

	em1 := newRecordingEmitter("a1", "a2", "c1")
	em2 := newRecordingEmitter("b1")

	bus1 := New(store, registry, em1, DefaultChannel)
	bus2 := New(store, registry, em2, DefaultChannel)
	if err := bus1.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := bus2.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer bus1.Close()
	defer bus2.Close()

	data := NewMessagePayloadData(map[string]interface{}{"id": "m1", "content": "hi"}, []string{"userA", "userB"}, nil)
	if err := bus1.Publish(ctx, EventNewMessage, data); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return em1.total()+em2.total() == 3 })

	if em1.total() != 2 {
		t.Fatalf("gateway1 reached %d connections, want 2 (both of userA's)", em1.total())
	}
	if em2.total() != 1 {
		t.Fatalf("gateway2 reached %d connections, want 1 (userB's)", em2.total())
	}
	for _, em := range append(em1.emitted, em2.emitted...) {
		if em.event != OutNewMessage {
			t.Fatalf("emitted event %q, want %q", em.event, OutNewMessage)
		}
		for _, id := range em.connIDs {
			if id == "c1" {
				t.Fatal("bystander connection c1 received the message")
			}
		}
	}
}

func TestTypingExcludesTheTypist(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := kv.NewMemoryStore()
	registry := presence.NewRegistry(store)
	_ = registry.AddConnection(ctx, "typist", "t1")
	_ = registry.AddConnection(ctx, "reader", "r1")

	em := newRecordingEmitter("t1", "r1")
	b := New(store, registry, em, DefaultChannel)
	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	err := b.Publish(ctx, EventTypingIndicator, TypingPayload{
		ConversationID: "conv1",
		UserID:         "typist",
		IsTyping:       true,
		Participants:   []string{"typist", "reader"},
	})
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return em.total() == 1 })

	em.mu.Lock()
	defer em.mu.Unlock()
	if len(em.emitted) != 1 || em.emitted[0].connIDs[0] != "r1" {
		t.Fatalf("emitted %+v, want a single emission to r1", em.emitted)
	}
	if em.emitted[0].event != OutTypingIndicator {
		t.Fatalf("event = %q, want %q", em.emitted[0].event, OutTypingIndicator)
	}
}

func TestMalformedEnvelopeIsDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := kv.NewMemoryStore()
	registry := presence.NewRegistry(store)
	_ = registry.AddConnection(ctx, "userA", "a1")

	em := newRecordingEmitter("a1")
	b := New(store, registry, em, DefaultChannel)
	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	// garbage, then a valid event; the loop must survive the former and
	// deliver the latter
	if err := store.Publish(ctx, DefaultChannel, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	if err := store.Publish(ctx, DefaultChannel, []byte(`{"eventName":"","data":{}}`)); err != nil {
		t.Fatal(err)
	}
	data := NewMessagePayloadData(map[string]interface{}{"id": "m2"}, []string{"userA"}, nil)
	if err := b.Publish(ctx, EventNewMessage, data); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return em.total() == 1 })
}

func TestStatusUpdateTargetsSender(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := kv.NewMemoryStore()
	registry := presence.NewRegistry(store)
	_ = registry.AddConnection(ctx, "sender", "s1")

	em := newRecordingEmitter("s1")
	b := New(store, registry, em, DefaultChannel)
	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	err := b.Publish(ctx, EventMessageStatusUpdate, StatusUpdatePayload{
		RecipientID: "sender",
		MessageID:   "m1",
		Status:      "sent",
	})
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return em.total() == 1 })
	em.mu.Lock()
	defer em.mu.Unlock()
	if em.emitted[0].event != OutMessageSent {
		t.Fatalf("event = %q, want %q", em.emitted[0].event, OutMessageSent)
	}
}
