package chat

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"CampusChat/logger"
	"CampusChat/module/bus"
	"CampusChat/module/chat/store"
	"CampusChat/module/queue"
	errs "CampusChat/tools/errs"
)

// handleSendMessage accepts a message, resolves its audience and enqueues
// the persistence job. The ack frame is the sender's only synchronous
// signal: "queued" on success, "failed" when the queue refuses. Everything
// downstream (persist, fan-out) is asynchronous.
func (s *Server) handleSendMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var req SendMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.Wrap(err, "decode send_message")
	}
	if strings.TrimSpace(req.ClientMessageID) == "" {
		return errors.New("send_message missing clientMessageId")
	}
	if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 {
		return errors.New("send_message empty")
	}

	conv, err := s.conversations.Get(ctx, req.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		return errs.ErrConversationNotFound.WithDetail(req.ConversationID)
	}
	if err != nil {
		return errors.Wrap(err, "resolve conversation")
	}
	if !conv.HasParticipant(c.UserID) {
		return errs.ErrNotParticipant.WithDetail(c.UserID)
	}

	job := &queue.Job{
		ConversationID:  req.ConversationID,
		SenderID:        c.UserID,
		Content:         req.Content,
		Attachments:     req.Attachments,
		RecipientIDs:    conv.RecipientsFor(c.UserID),
		MutedRecipients: conv.MutedBy,
		ClientMessageID: req.ClientMessageID,
	}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		// the failed ack is the sender's one feedback signal; returning
		// the error would add a second notification frame for the same
		// failure
		logger.Infof("[ws] enqueue conv=%s client=%s: %v", req.ConversationID, req.ClientMessageID, err)
		s.ack(c, req.ClientMessageID, "failed", err.Error())
		return nil
	}
	s.ack(c, req.ClientMessageID, "queued", "")
	return nil
}

// ack writes the message_sent frame straight onto this connection's queue;
// no bus round trip for the sender's own ack.
func (s *Server) ack(c *Client, clientMessageID, status, errMsg string) {
	data := map[string]interface{}{
		"clientMessageId": clientMessageID,
		"status":          status,
		"timestamp":       time.Now().UnixMilli(),
	}
	if errMsg != "" {
		data["error"] = errMsg
	}
	raw, err := MarshalFrame(bus.OutMessageSent, data)
	if err != nil {
		return
	}
	select {
	case c.Send <- raw:
	default:
	}
}

func (s *Server) handleMarkRead(ctx context.Context, c *Client, data json.RawMessage) error {
	var req MarkReadRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.Wrap(err, "decode mark_read")
	}
	conv, err := s.conversations.Get(ctx, req.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		return errs.ErrConversationNotFound.WithDetail(req.ConversationID)
	}
	if err != nil {
		return errors.Wrap(err, "resolve conversation")
	}
	if !conv.HasParticipant(c.UserID) {
		return errs.ErrNotParticipant.WithDetail(c.UserID)
	}
	return s.readState.MarkRead(ctx, c.UserID, req.ConversationID, req.MessageID)
}

// handleTyping republishes the ephemeral indicator. No queue, no storage:
// if a process misses it, it is already stale.
func (s *Server) handleTyping(ctx context.Context, c *Client, data json.RawMessage) error {
	var req TypingRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.Wrap(err, "decode typing")
	}
	conv, err := s.conversations.Get(ctx, req.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		return errs.ErrConversationNotFound.WithDetail(req.ConversationID)
	}
	if err != nil {
		return errors.Wrap(err, "resolve conversation")
	}
	if !conv.HasParticipant(c.UserID) {
		return errs.ErrNotParticipant.WithDetail(c.UserID)
	}
	return s.events.Publish(ctx, bus.EventTypingIndicator, map[string]interface{}{
		"conversationId": req.ConversationID,
		"participants":   conv.ParticipantIDs,
		"userId":         c.UserID,
		"isTyping":       req.IsTyping,
	})
}
