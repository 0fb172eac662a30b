package interfaces

import "context"

// RetrievedDocument is one vector search hit
type RetrievedDocument struct {
	Content  string                 `json:"content"`
	Score    float32                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// VectorIndex is a per-namespace semantic index.
// Query is best-effort: failures produce an empty result.
type VectorIndex interface {
	// Query returns at most k documents above the similarity floor, best match first
	Query(ctx context.Context, text string, k int, namespace string) []RetrievedDocument

	// Upsert embeds text and stores it in the namespace
	Upsert(ctx context.Context, namespace, text string, metadata map[string]interface{}) error
}
