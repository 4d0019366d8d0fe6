package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"CampusChat/logger"
	"CampusChat/module/bus"
	"CampusChat/module/cache"
	"CampusChat/module/chat/model"
	"CampusChat/module/chat/store"
	"CampusChat/tools/errs"
	"CampusChat/tools/ids"
)

// Worker consumes persistence jobs: write the message durably, bump the
// conversation pointer, invalidate derived caches, republish the
// delivery-ready event. Duplicate deliveries collapse on the storage unique
// index; transient failures retry with exponential backoff; exhaustion is
// an operator-visible log line, never a second ack to the sender.
type Worker struct {
	db       store.DB
	accessor *cache.Accessor
	events   *bus.Bus

	maxRetries  uint64
	baseBackoff time.Duration
	clock       func() time.Time
}

type WorkerOption func(*Worker)

func WithMaxRetries(n uint64) WorkerOption {
	return func(w *Worker) { w.maxRetries = n }
}

func WithBaseBackoff(d time.Duration) WorkerOption {
	return func(w *Worker) { w.baseBackoff = d }
}

func WithClock(clock func() time.Time) WorkerOption {
	return func(w *Worker) { w.clock = clock }
}

func NewWorker(db store.DB, accessor *cache.Accessor, events *bus.Bus, opts ...WorkerOption) *Worker {
	w := &Worker{
		db:          db,
		accessor:    accessor,
		events:      events,
		maxRetries:  5,
		baseBackoff: 100 * time.Millisecond,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle is the queue-consumer entry point: decode and process with retry.
// It always returns nil after a decode failure or retry exhaustion: a
// poison job must not redeliver forever.
func (w *Worker) Handle(ctx context.Context, raw []byte) error {
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		logger.Errorf("[queue] drop undecodable job: %v", err)
		return nil
	}
	if err := w.ProcessWithRetry(ctx, &job); err != nil {
		logger.Errorf("[queue] %v conv=%s client=%s: %v",
			errs.ErrJobExhausted, job.ConversationID, job.ClientMessageID, err)
	}
	return nil
}

// ProcessWithRetry wraps Process in bounded exponential backoff.
func (w *Worker) ProcessWithRetry(ctx context.Context, job *Job) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.baseBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, w.maxRetries), ctx)
	return backoff.Retry(func() error {
		return w.Process(ctx, job)
	}, policy)
}

// Process runs one job once. Safe to call repeatedly with the same job: the
// (conversationId, clientMessageId) unique constraint turns a replay into a
// no-op persist, and the republish uses the originally stored message.
func (w *Worker) Process(ctx context.Context, job *Job) error {
	now := w.clock()
	msg := &model.Message{
		ID:              ids.GenerateString(),
		ConversationID:  job.ConversationID,
		SenderID:        job.SenderID,
		Content:         job.Content,
		Attachments:     job.Attachments,
		ClientMessageID: job.ClientMessageID,
		CreatedAt:       now,
	}

	err := w.db.InsertMessage(ctx, msg)
	if errors.Is(err, store.ErrDuplicateClientMsgID) {
		// retried job: reuse the message that won the race
		logger.Debug("[queue] " + errs.ErrDuplicateSend.WithDetail(job.DedupeID()).Error())
		existing, ferr := w.db.FindMessageByClientID(ctx, job.ConversationID, job.ClientMessageID)
		if ferr != nil {
			return errors.Wrap(ferr, "resolve duplicate")
		}
		msg = existing
	} else if err != nil {
		return errors.Wrap(err, "persist message")
	}

	if err := w.db.SetLastMessage(ctx, job.ConversationID, msg.ID, msg.CreatedAt); err != nil {
		return errors.Wrap(err, "bump last message")
	}

	w.invalidate(ctx, job)

	if err := w.events.Publish(ctx, bus.EventNewMessage, bus.NewMessagePayloadData(msg, job.RecipientIDs, job.MutedRecipients)); err != nil {
		return errors.Wrap(err, "publish new_message")
	}
	// status back to the sender; failure here is not worth a replay that
	// would re-publish new_message
	if err := w.events.Publish(ctx, bus.EventMessageStatusUpdate, map[string]interface{}{
		"recipientId": job.SenderID,
		"messageId":   msg.ID,
		"status":      "sent",
		"timestamp":   msg.CreatedAt.UnixMilli(),
	}); err != nil {
		logger.Warnf("[queue] publish status update: %v", err)
	}
	return nil
}

func (w *Worker) invalidate(ctx context.Context, job *Job) {
	keys := []string{
		cache.MessagesKey(job.ConversationID),
		cache.ConversationKey(job.ConversationID),
		cache.UserConversationsKey(job.SenderID),
	}
	for _, uid := range job.RecipientIDs {
		keys = append(keys, cache.UserConversationsKey(uid))
	}
	if err := w.accessor.InvalidateKeys(ctx, keys); err != nil {
		// stale-until-TTL, not incorrect: the authoritative write landed
		logger.Warnf("[queue] invalidate after persist: %v", err)
	}
}
