package chat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"CampusChat/global/config"
	"CampusChat/module/bus"
	"CampusChat/module/cache"
	"CampusChat/module/chat/model"
	chatservice "CampusChat/module/chat/service"
	"CampusChat/module/chat/store"
	"CampusChat/module/presence"
	"CampusChat/module/queue"
	"CampusChat/service/storage/kv"
	"CampusChat/tools/errs"
)

type fakeQueue struct {
	jobs []*queue.Job
	err  error
}

func (q *fakeQueue) Enqueue(ctx context.Context, job *queue.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func newTestServer(t *testing.T) (context.Context, *Server, *store.MemDB, *fakeQueue, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	kvstore := kv.NewMemoryStore()
	accessor := cache.NewAccessor(kvstore)
	registry := presence.NewRegistry(kvstore)
	db := store.NewMemDB()

	conversations := chatservice.NewConversations(db, accessor)
	q := &fakeQueue{}

	cfg := config.Default().Gateway
	s := NewServer(cfg, Deps{
		Registry:      registry,
		Jobs:          q,
		Conversations: conversations,
		Store:         kvstore,
	})
	events := bus.New(kvstore, registry, s.Emitter(), bus.DefaultChannel)
	if err := events.Start(ctx); err != nil {
		t.Fatal(err)
	}
	readState := chatservice.NewReadState(db, accessor, conversations, events)
	s.Bind(events, readState)

	return ctx, s, db, q, func() {
		_ = events.Close()
		s.Close()
		cancel()
	}
}

func testClient(userID string) *Client {
	return &Client{
		ConnID: "conn-" + userID,
		UserID: userID,
		Send:   make(chan []byte, 8),
	}
}

func seedConv(t *testing.T, db *store.MemDB, id string, participants ...string) {
	t.Helper()
	err := db.CreateConversation(context.Background(), &model.Conversation{
		ID:             id,
		ParticipantIDs: participants,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func sendFrame(t *testing.T, ctx context.Context, s *Server, c *Client, event string, req interface{}) error {
	t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	return s.dispatch(ctx, c, &Frame{Event: event, Data: data})
}

func readAck(t *testing.T, c *Client) map[string]interface{} {
	t.Helper()
	select {
	case raw := <-c.Send:
		f, err := ParseFrame(raw)
		if err != nil {
			t.Fatal(err)
		}
		if f.Event != bus.OutMessageSent {
			t.Fatalf("ack event = %q, want %q", f.Event, bus.OutMessageSent)
		}
		var data map[string]interface{}
		if err := json.Unmarshal(f.Data, &data); err != nil {
			t.Fatal(err)
		}
		return data
	case <-time.After(time.Second):
		t.Fatal("no ack frame")
		return nil
	}
}

func TestSendMessageQueuesAndAcks(t *testing.T) {
	ctx, s, db, q, done := newTestServer(t)
	defer done()

	seedConv(t, db, "conv1", "alice", "bob", "carol")
	c := testClient("alice")

	err := sendFrame(t, ctx, s, c, InSendMessage, SendMessageRequest{
		ConversationID:  "conv1",
		Content:         "hello",
		ClientMessageID: "c1",
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(q.jobs) != 1 {
		t.Fatalf("queued %d jobs, want 1", len(q.jobs))
	}
	job := q.jobs[0]
	if job.SenderID != "alice" || job.ClientMessageID != "c1" {
		t.Fatalf("job = %+v", job)
	}
	if len(job.RecipientIDs) != 2 {
		t.Fatalf("recipients = %v, want the two other participants", job.RecipientIDs)
	}
	for _, id := range job.RecipientIDs {
		if id == "alice" {
			t.Fatal("sender listed as a recipient")
		}
	}

	ack := readAck(t, c)
	if ack["status"] != "queued" || ack["clientMessageId"] != "c1" {
		t.Fatalf("ack = %v", ack)
	}
}

func TestSendMessageRejectsNonParticipant(t *testing.T) {
	ctx, s, db, q, done := newTestServer(t)
	defer done()

	seedConv(t, db, "conv1", "alice", "bob")
	c := testClient("mallory")

	err := sendFrame(t, ctx, s, c, InSendMessage, SendMessageRequest{
		ConversationID:  "conv1",
		Content:         "hi",
		ClientMessageID: "c1",
	})
	if !errors.Is(err, errs.ErrNotParticipant) {
		t.Fatalf("err = %v, want ErrNotParticipant", err)
	}
	if len(q.jobs) != 0 {
		t.Fatal("job queued for a non-participant")
	}
}

func TestSendMessageUnknownConversation(t *testing.T) {
	ctx, s, _, _, done := newTestServer(t)
	defer done()

	c := testClient("alice")
	err := sendFrame(t, ctx, s, c, InSendMessage, SendMessageRequest{
		ConversationID:  "missing",
		Content:         "hi",
		ClientMessageID: "c1",
	})
	if !errors.Is(err, errs.ErrConversationNotFound) {
		t.Fatalf("err = %v, want ErrConversationNotFound", err)
	}
}

func TestSendMessageRequiresClientID(t *testing.T) {
	ctx, s, db, q, done := newTestServer(t)
	defer done()

	seedConv(t, db, "conv1", "alice", "bob")
	c := testClient("alice")

	err := sendFrame(t, ctx, s, c, InSendMessage, SendMessageRequest{
		ConversationID: "conv1",
		Content:        "hi",
	})
	if err == nil {
		t.Fatal("send without clientMessageId succeeded")
	}
	if len(q.jobs) != 0 {
		t.Fatal("job queued without clientMessageId")
	}
}

func TestSendMessageFailedAckOnQueueError(t *testing.T) {
	ctx, s, db, q, done := newTestServer(t)
	defer done()

	seedConv(t, db, "conv1", "alice", "bob")
	q.err = errs.ErrQueueUnavailable
	c := testClient("alice")

	err := sendFrame(t, ctx, s, c, InSendMessage, SendMessageRequest{
		ConversationID:  "conv1",
		Content:         "hi",
		ClientMessageID: "c1",
	})
	// the failed ack is the sender's only feedback; a returned error would
	// add a second notification frame for the same failure
	if err != nil {
		t.Fatalf("dispatch = %v, want nil after failed ack", err)
	}

	ack := readAck(t, c)
	if ack["status"] != "failed" {
		t.Fatalf("ack status = %v, want failed", ack["status"])
	}
	select {
	case raw := <-c.Send:
		t.Fatalf("extra frame after failed ack: %s", raw)
	default:
	}
}

func TestUnknownEventIgnored(t *testing.T) {
	ctx, s, _, _, done := newTestServer(t)
	defer done()

	c := testClient("alice")
	if err := s.dispatch(ctx, c, &Frame{Event: "no_such_event", Data: []byte(`{}`)}); err != nil {
		t.Fatalf("unknown event returned %v, want nil", err)
	}
}

func TestMarkReadRequiresMembership(t *testing.T) {
	ctx, s, db, _, done := newTestServer(t)
	defer done()

	seedConv(t, db, "conv1", "alice", "bob")
	if err := db.InsertMessage(ctx, &model.Message{
		ID:              "m1",
		ConversationID:  "conv1",
		SenderID:        "alice",
		Content:         "hello",
		ClientMessageID: "c1",
		CreatedAt:       time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	c := testClient("mallory")
	err := sendFrame(t, ctx, s, c, InMarkRead, MarkReadRequest{
		ConversationID: "conv1",
		MessageID:      "m1",
	})
	if !errors.Is(err, errs.ErrNotParticipant) {
		t.Fatalf("err = %v, want ErrNotParticipant", err)
	}
	if rows, _ := db.ListReadStatus(ctx, "conv1"); len(rows) != 0 {
		t.Fatalf("read position stored for an outsider: %+v", rows)
	}

	err = sendFrame(t, ctx, s, c, InMarkRead, MarkReadRequest{
		ConversationID: "missing",
		MessageID:      "m1",
	})
	if !errors.Is(err, errs.ErrConversationNotFound) {
		t.Fatalf("err = %v, want ErrConversationNotFound", err)
	}
}

func TestTypingRequiresMembership(t *testing.T) {
	ctx, s, db, _, done := newTestServer(t)
	defer done()

	seedConv(t, db, "conv1", "alice", "bob")
	c := testClient("mallory")

	err := sendFrame(t, ctx, s, c, InTyping, TypingRequest{
		ConversationID: "conv1",
		IsTyping:       true,
	})
	if !errors.Is(err, errs.ErrNotParticipant) {
		t.Fatalf("err = %v, want ErrNotParticipant", err)
	}
}
