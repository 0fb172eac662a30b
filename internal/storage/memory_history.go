package storage

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"companion-chat/server/internal/interfaces"
	"companion-chat/server/internal/models"
)

// InMemoryHistory is an in-process HistoryStore for local/dev use
type InMemoryHistory struct {
	mu      sync.RWMutex
	entries map[string][]models.HistoryEntry
	now     func() time.Time
}

func NewInMemoryHistory() *InMemoryHistory {
	return &InMemoryHistory{
		entries: make(map[string][]models.HistoryEntry),
		now:     time.Now,
	}
}

func (h *InMemoryHistory) Append(_ context.Context, key models.ConversationKey, text string) (float64, interfaces.HistoryStatus) {
	if err := key.Validate(); err != nil {
		log.Printf("[InMemoryHistory] Append skipped: %v", err)
		return 0, interfaces.HistoryKeyError
	}

	score := float64(h.now().UnixMilli())

	h.mu.Lock()
	defer h.mu.Unlock()
	h.insert(key.HistoryKey(), models.HistoryEntry{Text: text, Score: score})
	return score, interfaces.HistoryOK
}

func (h *InMemoryHistory) ReadRecent(_ context.Context, key models.ConversationKey, max int) ([]string, interfaces.HistoryStatus) {
	if err := key.Validate(); err != nil {
		log.Printf("[InMemoryHistory] ReadRecent skipped: %v", err)
		return nil, interfaces.HistoryKeyError
	}
	if max <= 0 {
		max = DefaultHistoryWindow
	}

	upper := float64(h.now().UnixMilli())

	h.mu.RLock()
	defer h.mu.RUnlock()

	arr := h.entries[key.HistoryKey()]
	out := make([]string, 0, len(arr))
	for _, entry := range arr {
		if entry.Score >= 0 && entry.Score <= upper {
			out = append(out, entry.Text)
		}
	}
	if len(out) == 0 {
		return nil, interfaces.HistoryEmpty
	}
	if len(out) > max {
		out = out[len(out)-max:]
	}
	return out, interfaces.HistoryOK
}

func (h *InMemoryHistory) SeedIfEmpty(_ context.Context, key models.ConversationKey, content, delimiter string) (bool, interfaces.HistoryStatus) {
	if err := key.Validate(); err != nil {
		log.Printf("[InMemoryHistory] SeedIfEmpty skipped: %v", err)
		return false, interfaces.HistoryKeyError
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	historyKey := key.HistoryKey()
	if len(h.entries[historyKey]) > 0 {
		return false, interfaces.HistoryOK
	}

	lines := SplitSeed(content, delimiter)
	if len(lines) == 0 {
		return false, interfaces.HistoryOK
	}
	for i, line := range lines {
		h.insert(historyKey, models.HistoryEntry{Text: line, Score: float64(i)})
	}
	return true, interfaces.HistoryOK
}

// insert keeps entries sorted by score; equal scores stay in insertion order
func (h *InMemoryHistory) insert(historyKey string, entry models.HistoryEntry) {
	arr := h.entries[historyKey]
	i := sort.Search(len(arr), func(i int) bool { return arr[i].Score > entry.Score })
	arr = append(arr, models.HistoryEntry{})
	copy(arr[i+1:], arr[i:])
	arr[i] = entry
	h.entries[historyKey] = arr
}
