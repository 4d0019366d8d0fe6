package cache

import (
	"fmt"
	"time"
)

// Canonical key shapes and TTLs for the shared store. Collaborating services
// build the same keys, so the formats here are load-bearing: changing one is
// a wire-compatibility break.
//
// One TTL per entity class. Historical call sites disagreed on TTLs for the
// same entity; this table is the single policy.
const (
	TTLEntity           = time.Hour           // general entity caches
	TTLVerificationCode = 5 * time.Minute     // short-lived codes
	TTLPresence         = 24 * time.Hour      // sockets:{userId}, renewed on connect
	TTLMessageList      = time.Hour           // messages:{conversationId}, short lists
	TTLMessageListLong  = 24 * time.Hour      // messages:{conversationId}, long lists
	TTLReadStatus       = time.Hour           // readStatus:{conversationId}
	MessageListLongMin  = 100                 // list length at which the long TTL kicks in
)

// MessageListTTL picks the list TTL from its length.
func MessageListTTL(n int) time.Duration {
	if n > MessageListLongMin {
		return TTLMessageListLong
	}
	return TTLMessageList
}

func UserKey(id string) string              { return "user:" + id }
func UserConversationsKey(id string) string { return "user:" + id + ":conversations" }
func ConversationKey(id string) string      { return "conversation:" + id }
func ReadStatusKey(convID string) string    { return "readStatus:" + convID }
func MessagesKey(convID string) string      { return "messages:" + convID }
func SocketsKey(userID string) string       { return "sockets:" + userID }
func BlacklistTokenKey(token string) string { return "blacklistToken:" + token }

func ClassKey(id string) string        { return "class:" + id }
func ClassSubKey(id, sub string) string { return fmt.Sprintf("class:%s:%s", id, sub) }
func PostKey(id string) string         { return "post:" + id }
func CommentsKey(postID string) string { return "comments:" + postID }
func SubmissionKey(id string) string   { return "submission:" + id }
func NotificationKey(id string) string { return "notification:" + id }

// ClassPattern matches every derived key of one class, for wildcard
// invalidation via ScanAndDelete.
func ClassPattern(id string) string { return "class:" + id + ":*" }
