package interfaces

import (
	"context"

	"companion-chat/server/internal/models"
)

// HistoryStatus tells callers why a history operation produced what it did
type HistoryStatus int

const (
	HistoryOK           HistoryStatus = iota // entries read or written
	HistoryEmpty                             // key is valid but holds no entries
	HistoryKeyError                          // key is missing an identifying field
	HistoryBackendError                      // the store could not be reached
)

func (s HistoryStatus) String() string {
	switch s {
	case HistoryOK:
		return "ok"
	case HistoryEmpty:
		return "empty"
	case HistoryKeyError:
		return "key_error"
	case HistoryBackendError:
		return "backend_error"
	default:
		return "unknown"
	}
}

// Degraded reports whether the status came from a failure rather than real data
func (s HistoryStatus) Degraded() bool {
	return s == HistoryKeyError || s == HistoryBackendError
}

// HistoryStore is an append-only, score-ordered log per conversation key.
// Failures never surface as errors: they are logged and reported through HistoryStatus,
// and the returned value is the empty value.
type HistoryStore interface {
	// Append writes text scored with the current time in milliseconds
	Append(ctx context.Context, key models.ConversationKey, text string) (float64, HistoryStatus)

	// ReadRecent returns up to max entries, oldest first
	ReadRecent(ctx context.Context, key models.ConversationKey, max int) ([]string, HistoryStatus)

	// SeedIfEmpty writes the delimited lines of content with scores 0..n-1 when the key has no entries
	SeedIfEmpty(ctx context.Context, key models.ConversationKey, content, delimiter string) (bool, HistoryStatus)
}
