package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"CampusChat/module/chat/model"
)

func seedConv(t *testing.T, db *MemDB, id string) {
	t.Helper()
	err := db.CreateConversation(context.Background(), &model.Conversation{
		ID:             id,
		ParticipantIDs: []string{"alice", "bob"},
		CreatedAt:      time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestInsertMessageDuplicateClientID(t *testing.T) {
	ctx := context.Background()
	db := NewMemDB()
	seedConv(t, db, "conv1")

	m := &model.Message{
		ID:              "m1",
		ConversationID:  "conv1",
		SenderID:        "alice",
		Content:         "hi",
		ClientMessageID: "c1",
		CreatedAt:       time.Now(),
	}
	if err := db.InsertMessage(ctx, m); err != nil {
		t.Fatal(err)
	}

	dup := *m
	dup.ID = "m2"
	err := db.InsertMessage(ctx, &dup)
	if !errors.Is(err, ErrDuplicateClientMsgID) {
		t.Fatalf("err = %v, want ErrDuplicateClientMsgID", err)
	}

	// same clientMessageId in another conversation is a different message
	other := *m
	other.ID = "m3"
	other.ConversationID = "conv2"
	seedConv(t, db, "conv2")
	if err := db.InsertMessage(ctx, &other); err != nil {
		t.Fatalf("cross-conversation insert: %v", err)
	}
}

func TestSetLastMessageIsForwardOnly(t *testing.T) {
	ctx := context.Background()
	db := NewMemDB()
	seedConv(t, db, "conv1")

	t1 := time.Now()
	t2 := t1.Add(time.Minute)

	if err := db.SetLastMessage(ctx, "conv1", "m2", t2); err != nil {
		t.Fatal(err)
	}
	// an older pointer must not win
	if err := db.SetLastMessage(ctx, "conv1", "m1", t1); err != nil {
		t.Fatal(err)
	}

	conv, err := db.GetConversation(ctx, "conv1")
	if err != nil {
		t.Fatal(err)
	}
	if conv.LastMessageID != "m2" {
		t.Fatalf("lastMessageId = %q, want m2", conv.LastMessageID)
	}
}

func TestListMessagesSkipsSoftDeleted(t *testing.T) {
	ctx := context.Background()
	db := NewMemDB()
	seedConv(t, db, "conv1")

	base := time.Now()
	for i, id := range []string{"m1", "m2", "m3"} {
		err := db.InsertMessage(ctx, &model.Message{
			ID:              id,
			ConversationID:  "conv1",
			SenderID:        "alice",
			Content:         "x",
			ClientMessageID: "c-" + id,
			CreatedAt:       base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	if err := db.SoftDeleteMessage(ctx, "m2"); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages(ctx, "conv1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m3" {
		t.Fatalf("messages = %+v, want [m1 m3] oldest first", msgs)
	}

	// the record itself survives for audit reads
	m, err := db.GetMessage(ctx, "m2")
	if err != nil {
		t.Fatal(err)
	}
	if !m.Deleted {
		t.Fatal("soft-deleted message not flagged")
	}
}

func TestUpsertReadStatusMonotonic(t *testing.T) {
	ctx := context.Background()
	db := NewMemDB()
	seedConv(t, db, "conv1")

	t1 := time.Now()
	t2 := t1.Add(time.Minute)

	updated, err := db.UpsertReadStatus(ctx, "conv1", "bob", "m2", t2)
	if err != nil || !updated {
		t.Fatalf("first upsert: updated=%v err=%v", updated, err)
	}
	updated, err = db.UpsertReadStatus(ctx, "conv1", "bob", "m1", t1)
	if err != nil {
		t.Fatal(err)
	}
	if updated {
		t.Fatal("older position reported as an update")
	}

	rows, err := db.ListReadStatus(ctx, "conv1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].LastReadMessageID != "m2" {
		t.Fatalf("rows = %+v, want a single row at m2", rows)
	}
}

func TestParticipantMutations(t *testing.T) {
	ctx := context.Background()
	db := NewMemDB()
	seedConv(t, db, "conv1")

	if err := db.AddParticipant(ctx, "conv1", "carol"); err != nil {
		t.Fatal(err)
	}
	// re-adding is idempotent
	if err := db.AddParticipant(ctx, "conv1", "carol"); err != nil {
		t.Fatal(err)
	}
	conv, _ := db.GetConversation(ctx, "conv1")
	if len(conv.ParticipantIDs) != 3 {
		t.Fatalf("participants = %v", conv.ParticipantIDs)
	}

	if err := db.RemoveParticipant(ctx, "conv1", "carol"); err != nil {
		t.Fatal(err)
	}
	conv, _ = db.GetConversation(ctx, "conv1")
	if conv.HasParticipant("carol") {
		t.Fatal("carol still a participant after removal")
	}

	if err := db.SetMuted(ctx, "conv1", "bob", true); err != nil {
		t.Fatal(err)
	}
	conv, _ = db.GetConversation(ctx, "conv1")
	if len(conv.MutedBy) != 1 || conv.MutedBy[0] != "bob" {
		t.Fatalf("mutedBy = %v, want [bob]", conv.MutedBy)
	}
}

func TestGetConversationNotFound(t *testing.T) {
	db := NewMemDB()
	_, err := db.GetConversation(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
