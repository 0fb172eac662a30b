package interfaces

import "context"

// GenerationRequest configures one streamed completion
type GenerationRequest struct {
	Prompt           string
	Model            string
	MaxTokens        int
	Temperature      float32
	TopP             float32
	PresencePenalty  float32
	FrequencyPenalty float32
}

// Generator streams model output token chunks
type Generator interface {
	// Stream calls onChunk for every non-empty chunk until the stream ends.
	// Cancelling ctx aborts the underlying request.
	Stream(ctx context.Context, req *GenerationRequest, onChunk func(chunk string) error) error
}

// RateLimiter is a pass/fail gate keyed by caller
type RateLimiter interface {
	Allow(ctx context.Context, identifier string) (bool, error)
}
