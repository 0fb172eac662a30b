package memory

import (
	"context"
	"strings"
	"testing"

	"companion-chat/server/internal/config"
	"companion-chat/server/internal/interfaces"
	"companion-chat/server/internal/models"
	"companion-chat/server/internal/rag"
	"companion-chat/server/internal/storage"
)

var key = models.ConversationKey{CompanionID: "luna", ModelID: "gpt", UserID: "u1"}

// letterEmbedder puts text on an axis chosen by its first letter
type letterEmbedder struct{}

func (letterEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 26)
	text = strings.ToLower(strings.TrimSpace(text))
	if text != "" && text[0] >= 'a' && text[0] <= 'z' {
		vec[text[0]-'a'] = 1
	}
	return vec, nil
}

func newManager(indexExchanges bool) *Manager {
	index := rag.NewVectorIndex(rag.NewInMemoryVectors(), letterEmbedder{}, 0.7, 0)
	return NewManager(storage.NewInMemoryHistory(), index, config.MemoryConfig{
		HistoryWindow:  100,
		RetrievalLimit: 5,
		SeedDelimiter:  "\n\n",
		IndexExchanges: indexExchanges,
	})
}

func TestManagerHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := newManager(false)

	text, status := m.ReadLatestHistory(ctx, key)
	if status != interfaces.HistoryEmpty || text != "" {
		t.Fatalf("fresh key = (%q, %s), want empty", text, status)
	}

	seeded, _ := m.SeedChatHistory(ctx, "Luna: Hello.\n\nUser: Hi.", "", key)
	if !seeded {
		t.Fatalf("seed not written with configured delimiter")
	}
	m.WriteToHistory(ctx, "User: how are you?", key)

	text, status = m.ReadLatestHistory(ctx, key)
	if status != interfaces.HistoryOK {
		t.Fatalf("status = %s", status)
	}
	want := "Luna: Hello.\nUser: Hi.\nUser: how are you?"
	if text != want {
		t.Fatalf("history = %q, want %q", text, want)
	}
}

func TestManagerMalformedKeyIsDistinguishable(t *testing.T) {
	m := newManager(false)
	bad := models.ConversationKey{CompanionID: "luna", UserID: "u1"}

	text, status := m.ReadLatestHistory(context.Background(), bad)
	if status != interfaces.HistoryKeyError {
		t.Fatalf("status = %s, want key_error", status)
	}
	if text != "" {
		t.Fatalf("malformed key returned %q", text)
	}
	if status := m.WriteToHistory(context.Background(), "User: hi", bad); status != interfaces.HistoryKeyError {
		t.Fatalf("write status = %s", status)
	}
}

func TestManagerIndexing(t *testing.T) {
	ctx := context.Background()

	off := newManager(false)
	_ = off.IndexExchange(ctx, key, "zebra talk")
	if docs := off.VectorSearch(ctx, "zoo", "luna"); len(docs) != 0 {
		t.Fatalf("exchange indexed while disabled: %+v", docs)
	}

	m := newManager(true)
	if err := m.IndexExchange(ctx, key, "zebra talk"); err != nil {
		t.Fatalf("IndexExchange: %v", err)
	}
	n, err := m.IndexKnowledge(ctx, "luna", "Yesterday she sailed.\n\n\n\nApples are her favourite.\r\n\r\n  ")
	if err != nil || n != 2 {
		t.Fatalf("IndexKnowledge = (%d, %v), want 2 chunks", n, err)
	}

	docs := m.VectorSearch(ctx, "zoo", "luna")
	if len(docs) != 1 || docs[0].Content != "zebra talk" {
		t.Fatalf("VectorSearch(zoo) = %+v", docs)
	}
	if docs[0].Metadata["type"] != "exchange" {
		t.Fatalf("exchange metadata = %+v", docs[0].Metadata)
	}
	docs = m.VectorSearch(ctx, "apples", "luna")
	if len(docs) != 1 || docs[0].Content != "Apples are her favourite." {
		t.Fatalf("VectorSearch(apples) = %+v", docs)
	}
	if docs := m.VectorSearch(ctx, "zoo", "someone-else"); len(docs) != 0 {
		t.Fatalf("namespace leaked: %+v", docs)
	}
}
