package rag

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"

	"companion-chat/server/internal/config"
)

const (
	cacheTTL     = 24 * time.Hour
	maxCacheSize = 10000
	maxRetries   = 3
	retryDelay   = 1 * time.Second
)

// Embedder turns text into a fixed-dimension vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingCache stores cached embeddings
type EmbeddingCache struct {
	cache map[string]*CachedEmbedding
	mu    sync.RWMutex
}

// CachedEmbedding holds a cached embedding with expiration
type CachedEmbedding struct {
	Vector    []float32
	CreatedAt time.Time
}

// embeddingAPI is the slice of the OpenAI client the service uses
type embeddingAPI interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// EmbeddingService handles text embedding generation and caching
type EmbeddingService struct {
	client embeddingAPI
	cache  *EmbeddingCache
	model  string
}

// NewEmbeddingService creates an embedding service for an OpenAI-compatible endpoint
func NewEmbeddingService(cfg config.EmbeddingConfig) *EmbeddingService {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return newEmbeddingService(openai.NewClientWithConfig(clientCfg), cfg.Model)
}

func newEmbeddingService(client embeddingAPI, model string) *EmbeddingService {
	return &EmbeddingService{
		client: client,
		cache:  &EmbeddingCache{cache: make(map[string]*CachedEmbedding)},
		model:  model,
	}
}

// Embed generates a normalized embedding for text
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := s.getFromCache(text); ok {
		return vec, nil
	}

	resp, err := s.createEmbedding(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("no embedding generated")
	}

	vector := NormalizeVector(resp.Data[0].Embedding)
	s.cache.Put(text, vector)
	return vector, nil
}

// createEmbedding calls the embeddings API, retrying transient failures
func (s *EmbeddingService) createEmbedding(ctx context.Context, texts []string) (*openai.EmbeddingResponse, error) {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay * time.Duration(attempt)):
			}
		}

		resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(s.model),
		})
		if err == nil {
			return &resp, nil
		}

		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 && apiErr.HTTPStatusCode != 429 {
			break
		}
	}

	return nil, fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

// getFromCache retrieves embedding from cache
func (s *EmbeddingService) getFromCache(text string) ([]float32, bool) {
	s.cache.mu.RLock()
	defer s.cache.mu.RUnlock()

	cached, ok := s.cache.cache[text]
	if !ok {
		return nil, false
	}

	if time.Since(cached.CreatedAt) > cacheTTL {
		return nil, false
	}

	return cached.Vector, true
}

// Put caches an embedding; a full cache is reset rather than grown
func (c *EmbeddingCache) Put(text string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.cache) >= maxCacheSize {
		c.cache = make(map[string]*CachedEmbedding)
	}
	c.cache[text] = &CachedEmbedding{
		Vector:    vector,
		CreatedAt: time.Now(),
	}
}

// GetCacheSize returns the number of cached embeddings
func (s *EmbeddingService) GetCacheSize() int {
	s.cache.mu.RLock()
	defer s.cache.mu.RUnlock()

	return len(s.cache.cache)
}

// NormalizeVector normalizes a vector to unit length
func NormalizeVector(vector []float32) []float32 {
	if len(vector) == 0 {
		return vector
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)

	// Avoid division by zero
	if norm == 0 {
		return vector
	}

	normalized := make([]float32, len(vector))
	for i, v := range vector {
		normalized[i] = float32(float64(v) / norm)
	}

	return normalized
}

// CosineSimilarity calculates cosine similarity between two vectors
func CosineSimilarity(v1, v2 []float32) (float32, error) {
	if len(v1) != len(v2) {
		return 0, fmt.Errorf("vector dimensions don't match: %d vs %d", len(v1), len(v2))
	}

	if len(v1) == 0 {
		return 0, nil
	}

	var dotProduct, norm1, norm2 float64
	for i := range v1 {
		dotProduct += float64(v1[i]) * float64(v2[i])
		norm1 += float64(v1[i]) * float64(v1[i])
		norm2 += float64(v2[i]) * float64(v2[i])
	}

	if norm1 == 0 || norm2 == 0 {
		return 0, nil
	}

	return float32(dotProduct / (math.Sqrt(norm1) * math.Sqrt(norm2))), nil
}
