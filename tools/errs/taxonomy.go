package errs

// Failure classes for the coordination core. Codes are stable: they appear
// in logs and operator dashboards.
var (
	// ErrStoreUnavailable: the shared state store cannot be reached.
	// Propagated; never folded into an "empty" result.
	ErrStoreUnavailable = NewCodeError(1001, "shared state store unavailable")

	// ErrCacheWrite: a write-back after a successful compute failed.
	// Logged and swallowed on the read path.
	ErrCacheWrite = NewCodeError(1002, "cache write failed")

	// ErrMalformedEnvelope: an unparseable or incomplete pub/sub message.
	// Logged and dropped; the subscriber loop continues.
	ErrMalformedEnvelope = NewCodeError(1003, "malformed event envelope")

	// ErrDuplicateSend: a retried job whose clientMessageId already has a
	// persisted message. Treated as success by the worker.
	ErrDuplicateSend = NewCodeError(1004, "duplicate client message id")

	// ErrJobExhausted: a persistence job failed every retry attempt.
	ErrJobExhausted = NewCodeError(1005, "persistence job retries exhausted")

	// ErrQueueUnavailable: the job could not be enqueued; surfaced to the
	// sender immediately.
	ErrQueueUnavailable = NewCodeError(1006, "persistence queue unavailable")

	// ErrNotParticipant: sender is not a member of the addressed
	// conversation.
	ErrNotParticipant = NewCodeError(1101, "user is not a conversation participant")

	// ErrConversationNotFound covers reads of a missing conversation.
	ErrConversationNotFound = NewCodeError(1102, "conversation not found")

	// ErrTokenRevoked: the connection token is blacklisted.
	ErrTokenRevoked = NewCodeError(1201, "token revoked")
)
