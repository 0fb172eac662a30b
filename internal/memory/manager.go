package memory

import (
	"context"
	"fmt"
	"log"
	"strings"

	"companion-chat/server/internal/config"
	"companion-chat/server/internal/interfaces"
	"companion-chat/server/internal/models"
)

// Manager is the single entry point for conversation memory. It is built once at
// startup and shared by every request; the stores it wraps are safe for concurrent use.
type Manager struct {
	history        interfaces.HistoryStore
	index          interfaces.VectorIndex
	window         int
	retrievalLimit int
	delimiter      string
	indexExchanges bool
}

func NewManager(history interfaces.HistoryStore, index interfaces.VectorIndex, cfg config.MemoryConfig) *Manager {
	m := &Manager{
		history:        history,
		index:          index,
		window:         cfg.HistoryWindow,
		retrievalLimit: cfg.RetrievalLimit,
		delimiter:      cfg.SeedDelimiter,
		indexExchanges: cfg.IndexExchanges,
	}
	if m.window <= 0 {
		m.window = 100
	}
	if m.retrievalLimit <= 0 {
		m.retrievalLimit = 5
	}
	if m.delimiter == "" {
		m.delimiter = "\n"
	}
	return m
}

// ReadLatestHistory returns the recent history window joined by newlines
func (m *Manager) ReadLatestHistory(ctx context.Context, key models.ConversationKey) (string, interfaces.HistoryStatus) {
	lines, status := m.history.ReadRecent(ctx, key, m.window)
	if status.Degraded() {
		log.Printf("[MemoryManager] History for %s degraded to empty: %s", key.HistoryKey(), status)
		return "", status
	}
	return strings.Join(lines, "\n"), status
}

// ReadHistoryLines returns the recent history window as individual entries
func (m *Manager) ReadHistoryLines(ctx context.Context, key models.ConversationKey) ([]string, interfaces.HistoryStatus) {
	return m.history.ReadRecent(ctx, key, m.window)
}

func (m *Manager) WriteToHistory(ctx context.Context, text string, key models.ConversationKey) interfaces.HistoryStatus {
	_, status := m.history.Append(ctx, key, text)
	return status
}

// SeedChatHistory writes seed lines into an empty history; an empty delimiter uses the configured one
func (m *Manager) SeedChatHistory(ctx context.Context, seed, delimiter string, key models.ConversationKey) (bool, interfaces.HistoryStatus) {
	if delimiter == "" {
		delimiter = m.delimiter
	}
	return m.history.SeedIfEmpty(ctx, key, seed, delimiter)
}

// VectorSearch returns documents in namespace related to the recent history text
func (m *Manager) VectorSearch(ctx context.Context, historyText, namespace string) []interfaces.RetrievedDocument {
	if m.index == nil {
		return nil
	}
	return m.index.Query(ctx, historyText, m.retrievalLimit, namespace)
}

// IndexExchange stores a finished exchange so later turns of any user can recall it
func (m *Manager) IndexExchange(ctx context.Context, key models.ConversationKey, text string) error {
	if !m.indexExchanges || m.index == nil {
		return nil
	}
	return m.index.Upsert(ctx, key.Namespace(), text, map[string]interface{}{
		"type":     "exchange",
		"model_id": key.ModelID,
		"user_id":  key.UserID,
	})
}

// IndexKnowledge splits backstory text on blank lines and stores each chunk in namespace
func (m *Manager) IndexKnowledge(ctx context.Context, namespace, text string) (int, error) {
	if m.index == nil {
		return 0, fmt.Errorf("vector index not configured")
	}

	chunks := SplitKnowledge(text)
	for i, chunk := range chunks {
		err := m.index.Upsert(ctx, namespace, chunk, map[string]interface{}{
			"type":  "knowledge",
			"chunk": i,
		})
		if err != nil {
			return i, fmt.Errorf("failed to index chunk %d: %w", i, err)
		}
	}
	return len(chunks), nil
}

// SplitKnowledge breaks text into paragraphs separated by blank lines
func SplitKnowledge(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var chunks []string
	for _, para := range strings.Split(text, "\n\n") {
		if para = strings.TrimSpace(para); para != "" {
			chunks = append(chunks, para)
		}
	}
	return chunks
}
