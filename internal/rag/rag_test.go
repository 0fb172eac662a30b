package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
)

// keywordEmbedder maps text onto fixed axes so similarity is predictable
type keywordEmbedder struct {
	err   error
	calls []string
}

func (e *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls = append(e.calls, text)
	if e.err != nil {
		return nil, e.err
	}
	vec := make([]float32, 3)
	lower := strings.ToLower(text)
	if strings.Contains(lower, "cat") {
		vec[0] = 1
	}
	if strings.Contains(lower, "dog") {
		vec[1] = 1
	}
	if strings.Contains(lower, "tea") {
		vec[2] = 1
	}
	return vec, nil
}

func TestTruncateForEmbedding(t *testing.T) {
	short := "a few  words\nwith odd spacing"
	if got := TruncateForEmbedding(short, DefaultTokenBudget); got != short {
		t.Fatalf("under-budget text changed: %q", got)
	}

	long := strings.Repeat("word ", 10000)
	got := strings.Fields(TruncateForEmbedding(long, DefaultTokenBudget))
	if len(got) != 6153 {
		t.Fatalf("truncated to %d words, want 6153", len(got))
	}
	if MaxEmbeddingWords(DefaultTokenBudget) != 6153 {
		t.Fatalf("MaxEmbeddingWords = %d", MaxEmbeddingWords(DefaultTokenBudget))
	}
}

func TestVectorIndexQuery(t *testing.T) {
	ctx := context.Background()
	embedder := &keywordEmbedder{}
	index := NewVectorIndex(NewInMemoryVectors(), embedder, 0.7, 0)

	for _, text := range []string{"the cat sleeps", "the dog barks", "cat and dog", "tea time"} {
		if err := index.Upsert(ctx, "luna", text, map[string]interface{}{"source": "test"}); err != nil {
			t.Fatalf("Upsert(%q): %v", text, err)
		}
	}
	if err := index.Upsert(ctx, "other", "my cat", nil); err != nil {
		t.Fatalf("Upsert(other): %v", err)
	}

	docs := index.Query(ctx, "tell me about the cat", 5, "luna")
	if len(docs) != 2 {
		t.Fatalf("got %d docs, want 2 (cat-only and cat+dog at 0.707): %+v", len(docs), docs)
	}
	if docs[0].Content != "the cat sleeps" {
		t.Fatalf("best match = %q, want exact cat match first", docs[0].Content)
	}
	for i, doc := range docs {
		if doc.Score < 0.7 {
			t.Fatalf("doc %d score %v below floor", i, doc.Score)
		}
		if i > 0 && doc.Score > docs[i-1].Score {
			t.Fatalf("docs not sorted by score: %+v", docs)
		}
		if doc.Content == "my cat" {
			t.Fatalf("query leaked a document from another namespace")
		}
	}
	if docs[0].Metadata["source"] != "test" {
		t.Fatalf("metadata not carried: %+v", docs[0].Metadata)
	}

	if docs := index.Query(ctx, "tell me about the cat", 1, "luna"); len(docs) != 1 {
		t.Fatalf("k=1 returned %d docs", len(docs))
	}
}

func TestVectorIndexMetadataCannotOverrideReservedFields(t *testing.T) {
	ctx := context.Background()
	index := NewVectorIndex(NewInMemoryVectors(), &keywordEmbedder{}, 0.7, 0)

	err := index.Upsert(ctx, "luna", "the cat sleeps", map[string]interface{}{
		"content":   "spoofed",
		"namespace": "other",
		"timestamp": "never",
		"source":    "exchange",
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	docs := index.Query(ctx, "cat", 5, "luna")
	if len(docs) != 1 {
		t.Fatalf("got %d docs, want 1", len(docs))
	}
	if docs[0].Content != "the cat sleeps" {
		t.Fatalf("content = %q, want the indexed text", docs[0].Content)
	}
	if _, ok := docs[0].Metadata["timestamp"].(int64); !ok {
		t.Fatalf("timestamp = %v, want the index time", docs[0].Metadata["timestamp"])
	}
	if docs[0].Metadata["source"] != "exchange" {
		t.Fatalf("caller metadata dropped: %+v", docs[0].Metadata)
	}
	if docs := index.Query(ctx, "cat", 5, "other"); len(docs) != 0 {
		t.Fatalf("metadata moved the point into another namespace: %+v", docs)
	}
}

func TestVectorIndexDegradesToEmpty(t *testing.T) {
	ctx := context.Background()
	embedder := &keywordEmbedder{}
	index := NewVectorIndex(NewInMemoryVectors(), embedder, 0, 0)
	_ = index.Upsert(ctx, "luna", "cat", nil)

	if docs := index.Query(ctx, "   ", 5, "luna"); docs != nil {
		t.Fatalf("blank query returned %+v", docs)
	}
	if docs := index.Query(ctx, "cat", 5, ""); docs != nil {
		t.Fatalf("empty namespace returned %+v", docs)
	}

	embedder.err = errors.New("embedding endpoint down")
	if docs := index.Query(ctx, "cat", 5, "luna"); len(docs) != 0 {
		t.Fatalf("embed failure returned %+v, want empty", docs)
	}
	if err := index.Upsert(ctx, "luna", "cat", nil); err == nil {
		t.Fatalf("Upsert with failing embedder returned nil error")
	}
}

func TestVectorIndexTruncatesQueries(t *testing.T) {
	embedder := &keywordEmbedder{}
	index := NewVectorIndex(NewInMemoryVectors(), embedder, 0, 100)

	index.Query(context.Background(), strings.Repeat("cat ", 100), 5, "luna")
	if len(embedder.calls) != 1 {
		t.Fatalf("embedder called %d times", len(embedder.calls))
	}
	if n := len(strings.Fields(embedder.calls[0])); n != 76 {
		t.Fatalf("embedded %d words, want 76", n)
	}
}

type fakeEmbeddingAPI struct {
	calls int
	errs  []error
}

func (f *fakeEmbeddingAPI) CreateEmbeddings(_ context.Context, _ openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return openai.EmbeddingResponse{}, err
	}
	return openai.EmbeddingResponse{Data: []openai.Embedding{{Embedding: []float32{3, 4}}}}, nil
}

func TestEmbeddingServiceCachesAndNormalizes(t *testing.T) {
	api := &fakeEmbeddingAPI{}
	svc := newEmbeddingService(api, "text-embedding-3-small")

	vec, err := svc.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vec[0] != 0.6 || vec[1] != 0.8 {
		t.Fatalf("vector not normalized: %v", vec)
	}
	if _, err := svc.Embed(context.Background(), "hello"); err != nil {
		t.Fatalf("second Embed: %v", err)
	}
	if api.calls != 1 {
		t.Fatalf("API called %d times, want 1 (cached)", api.calls)
	}
	if svc.GetCacheSize() != 1 {
		t.Fatalf("cache size = %d", svc.GetCacheSize())
	}
}

func TestEmbeddingServiceStopsOnClientError(t *testing.T) {
	api := &fakeEmbeddingAPI{errs: []error{&openai.APIError{HTTPStatusCode: 400, Message: "bad input"}}}
	svc := newEmbeddingService(api, "text-embedding-3-small")

	if _, err := svc.Embed(context.Background(), "hello"); err == nil {
		t.Fatalf("Embed returned nil error")
	}
	if api.calls != 1 {
		t.Fatalf("API called %d times, want no retry on 400", api.calls)
	}
}
