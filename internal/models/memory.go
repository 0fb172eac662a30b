package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedKey is returned when a conversation key is missing an identifying field
var ErrMalformedKey = errors.New("malformed conversation key")

// ConversationKey identifies one persona/model/user memory stream
type ConversationKey struct {
	CompanionID string `json:"companion_id"`
	ModelID     string `json:"model_id"`
	UserID      string `json:"user_id"`
}

// Validate checks that every identifying field is present
func (k ConversationKey) Validate() error {
	var missing []string
	if strings.TrimSpace(k.CompanionID) == "" {
		missing = append(missing, "companion_id")
	}
	if strings.TrimSpace(k.ModelID) == "" {
		missing = append(missing, "model_id")
	}
	if strings.TrimSpace(k.UserID) == "" {
		missing = append(missing, "user_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMalformedKey, strings.Join(missing, ", "))
	}
	return nil
}

// HistoryKey is the history store key for this stream
func (k ConversationKey) HistoryKey() string {
	return fmt.Sprintf("%s-%s-%s", k.CompanionID, k.ModelID, k.UserID)
}

// Namespace is the vector namespace; it is shared by every user of the companion
func (k ConversationKey) Namespace() string {
	return k.CompanionID
}

// HistoryEntry is one line of a conversation history
type HistoryEntry struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}
