package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"CampusChat/module/chat/model"
)

// MongoDB is the production DB implementation: one collection per model,
// idempotency and read-position invariants enforced by indexes and atomic
// updates rather than application locks.
type MongoDB struct {
	ConvColl *mongo.Collection
	MsgColl  *mongo.Collection
	ReadColl *mongo.Collection
}

func NewMongoDB(db *mongo.Database) *MongoDB {
	return &MongoDB{
		ConvColl: db.Collection(model.ConversationTableName),
		MsgColl:  db.Collection(model.MessageTableName),
		ReadColl: db.Collection(model.ReadStatusTableName),
	}
}

// EnsureIndexes creates the uniqueness constraints the invariants rest on.
// Run once at boot.
func (s *MongoDB) EnsureIndexes(ctx context.Context) error {
	_, err := s.ConvColl.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "participant_ids", Value: 1}}},
	})
	if err != nil {
		return errors.Wrap(err, "conversation indexes")
	}
	_, err = s.MsgColl.Indexes().CreateMany(ctx, []mongo.IndexModel{
		// the idempotency invariant: at most one message per
		// (conversationId, clientMessageId)
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "client_message_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "message_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}}},
	})
	if err != nil {
		return errors.Wrap(err, "message indexes")
	}
	_, err = s.ReadColl.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return errors.Wrap(err, "read_status indexes")
}

func (s *MongoDB) CreateConversation(ctx context.Context, c *model.Conversation) error {
	_, err := s.ConvColl.InsertOne(ctx, c)
	return err
}

func (s *MongoDB) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var c model.Conversation
	err := s.ConvColl.FindOne(ctx, bson.M{"conversation_id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *MongoDB) ListUserConversations(ctx context.Context, userID string) ([]*model.Conversation, error) {
	cur, err := s.ConvColl.Find(ctx, bson.M{"participant_ids": userID},
		options.Find().SetSort(bson.D{{Key: "last_message_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	var out []*model.Conversation
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoDB) AddParticipant(ctx context.Context, convID, userID string) error {
	return s.updateConversation(ctx, convID, bson.M{
		"$addToSet": bson.M{"participant_ids": userID},
		"$set":      bson.M{"updated_at": time.Now()},
	})
}

func (s *MongoDB) RemoveParticipant(ctx context.Context, convID, userID string) error {
	return s.updateConversation(ctx, convID, bson.M{
		"$pull": bson.M{"participant_ids": userID},
		"$set":  bson.M{"updated_at": time.Now()},
	})
}

func (s *MongoDB) SetMuted(ctx context.Context, convID, userID string, muted bool) error {
	op := "$pull"
	if muted {
		op = "$addToSet"
	}
	return s.updateConversation(ctx, convID, bson.M{
		op:     bson.M{"muted_by": userID},
		"$set": bson.M{"updated_at": time.Now()},
	})
}

// SetLastMessage only moves the pointer forward in message-creation order:
// a redelivered old job must not rewind it.
func (s *MongoDB) SetLastMessage(ctx context.Context, convID, messageID string, at time.Time) error {
	filter := bson.M{
		"conversation_id": convID,
		"$or": bson.A{
			bson.M{"last_message_at": bson.M{"$exists": false}},
			bson.M{"last_message_at": bson.M{"$lt": at}},
		},
	}
	update := bson.M{"$set": bson.M{
		"last_message_id": messageID,
		"last_message_at": at,
		"updated_at":      time.Now(),
	}}
	_, err := s.ConvColl.UpdateOne(ctx, filter, update)
	return err
}

func (s *MongoDB) updateConversation(ctx context.Context, convID string, update bson.M) error {
	res, err := s.ConvColl.UpdateOne(ctx, bson.M{"conversation_id": convID}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoDB) InsertMessage(ctx context.Context, m *model.Message) error {
	_, err := s.MsgColl.InsertOne(ctx, m)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateClientMsgID
	}
	return err
}

func (s *MongoDB) FindMessageByClientID(ctx context.Context, convID, clientMsgID string) (*model.Message, error) {
	var m model.Message
	err := s.MsgColl.FindOne(ctx, bson.M{
		"conversation_id":   convID,
		"client_message_id": clientMsgID,
	}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *MongoDB) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	var m model.Message
	err := s.MsgColl.FindOne(ctx, bson.M{"message_id": id}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *MongoDB) ListMessages(ctx context.Context, convID string, limit int) ([]*model.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	cur, err := s.MsgColl.Find(ctx, bson.M{
		"conversation_id": convID,
		"deleted":         bson.M{"$ne": true},
	}, opts)
	if err != nil {
		return nil, err
	}
	var out []*model.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoDB) SoftDeleteMessage(ctx context.Context, id string) error {
	res, err := s.MsgColl.UpdateOne(ctx, bson.M{"message_id": id}, bson.M{
		"$set": bson.M{"deleted": true, "deleted_at": time.Now()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertReadStatus advances the read position atomically. The pipeline
// update compares against the stored last_read_at, so two racing mark-read
// calls settle on the newer message regardless of arrival order.
func (s *MongoDB) UpsertReadStatus(ctx context.Context, convID, userID, messageID string, msgCreatedAt time.Time) (bool, error) {
	advance := bson.M{"$lt": bson.A{
		bson.M{"$ifNull": bson.A{"$last_read_at", time.Unix(0, 0)}},
		msgCreatedAt,
	}}
	pipeline := bson.A{bson.M{"$set": bson.M{
		"last_read_message_id": bson.M{"$cond": bson.A{advance, messageID, "$last_read_message_id"}},
		"last_read_at":         bson.M{"$cond": bson.A{advance, msgCreatedAt, "$last_read_at"}},
		"updated_at":           bson.M{"$cond": bson.A{advance, time.Now(), "$updated_at"}},
	}}}
	res, err := s.ReadColl.UpdateOne(ctx,
		bson.M{"conversation_id": convID, "user_id": userID},
		pipeline,
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0 || res.UpsertedCount > 0, nil
}

func (s *MongoDB) ListReadStatus(ctx context.Context, convID string) ([]*model.ReadStatus, error) {
	cur, err := s.ReadColl.Find(ctx, bson.M{"conversation_id": convID})
	if err != nil {
		return nil, err
	}
	var out []*model.ReadStatus
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
