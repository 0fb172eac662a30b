package rag

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"companion-chat/server/internal/interfaces"
)

const (
	// DefaultSimilarityFloor drops matches that are only loosely related
	DefaultSimilarityFloor float32 = 0.7
	// DefaultTopK is the number of documents a query returns
	DefaultTopK = 5
)

// VectorIndex is a namespaced semantic index over embedded text
type VectorIndex struct {
	backend     VectorBackend
	embedding   Embedder
	floor       float32
	tokenBudget int
	debug       bool
}

// NewVectorIndex creates a vector index; zero floor or budget take the defaults
func NewVectorIndex(backend VectorBackend, embedding Embedder, floor float32, tokenBudget int) *VectorIndex {
	if floor <= 0 {
		floor = DefaultSimilarityFloor
	}
	if tokenBudget <= 0 {
		tokenBudget = DefaultTokenBudget
	}
	return &VectorIndex{
		backend:     backend,
		embedding:   embedding,
		floor:       floor,
		tokenBudget: tokenBudget,
	}
}

// SetDebug enables per-query logging
func (v *VectorIndex) SetDebug(debug bool) {
	v.debug = debug
}

// Query embeds text and returns up to k documents from namespace, best match first.
// Errors are logged and yield an empty result.
func (v *VectorIndex) Query(ctx context.Context, text string, k int, namespace string) []interfaces.RetrievedDocument {
	if strings.TrimSpace(text) == "" || namespace == "" {
		return nil
	}
	if k <= 0 {
		k = DefaultTopK
	}

	queryVector, err := v.embedding.Embed(ctx, TruncateForEmbedding(text, v.tokenBudget))
	if err != nil {
		log.Printf("[VectorIndex] Failed to embed query for %s: %v", namespace, err)
		return nil
	}

	results, err := v.backend.Search(ctx, queryVector, &SearchOptions{
		Limit:          k,
		ScoreThreshold: v.floor,
		WithPayload:    true,
		Filter:         namespaceFilter(namespace),
	})
	if err != nil {
		log.Printf("[VectorIndex] Failed to search %s: %v", namespace, err)
		return nil
	}

	docs := make([]interfaces.RetrievedDocument, 0, len(results))
	for _, result := range results {
		if result.Score < v.floor {
			continue
		}
		content, ok := result.Payload["content"].(string)
		if !ok || content == "" {
			continue // Skip invalid results
		}
		docs = append(docs, interfaces.RetrievedDocument{
			Content:  content,
			Score:    result.Score,
			Metadata: result.Payload,
		})
	}

	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score > docs[j].Score })
	if len(docs) > k {
		docs = docs[:k]
	}

	if v.debug {
		log.Printf("[VectorIndex] Query %s returned %d documents", namespace, len(docs))
	}
	return docs
}

// Upsert embeds text and stores it under namespace
func (v *VectorIndex) Upsert(ctx context.Context, namespace, text string, metadata map[string]interface{}) error {
	if namespace == "" {
		return fmt.Errorf("namespace is required")
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	vector, err := v.embedding.Embed(ctx, TruncateForEmbedding(text, v.tokenBudget))
	if err != nil {
		return fmt.Errorf("failed to generate embedding: %w", err)
	}

	payload := make(map[string]interface{}, len(metadata)+3)
	for k, val := range metadata {
		payload[k] = val
	}
	payload["content"] = text
	payload["timestamp"] = time.Now().Unix()
	payload[namespaceField] = namespace

	return v.backend.Upsert(ctx, []*Point{{
		ID:      uuid.NewString(),
		Vector:  vector,
		Payload: payload,
	}})
}

func namespaceFilter(namespace string) *Filter {
	return &Filter{Must: []Condition{{Key: namespaceField, Match: namespace}}}
}
