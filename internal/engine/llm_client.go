package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/sashabaranov/go-openai"

	"companion-chat/server/internal/config"
	"companion-chat/server/internal/interfaces"
)

const (
	maxRetries = 3
	retryDelay = 1 * time.Second
)

// LLMClient streams chat completions from an OpenAI-compatible endpoint
type LLMClient struct {
	client *openai.Client
	model  string
	debug  bool
}

// NewLLMClient creates a streaming client; BaseURL switches to any compatible provider
func NewLLMClient(cfg config.LLMConfig) *LLMClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &LLMClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}
}

// SetDebug enables per-chunk logging
func (c *LLMClient) SetDebug(debug bool) {
	c.debug = debug
}

// Stream sends req.Prompt as the sole instruction and forwards every content delta to onChunk
func (c *LLMClient) Stream(ctx context.Context, req *interfaces.GenerationRequest, onChunk func(chunk string) error) error {
	model := req.Model
	if model == "" {
		model = c.model
	}

	stream, err := c.openStream(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.Prompt},
		},
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		PresencePenalty:  req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty,
		Stream:           true,
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stream interrupted: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}

		chunk := resp.Choices[0].Delta.Content
		if chunk == "" {
			continue
		}
		if c.debug {
			log.Printf("[LLMClient] chunk: %q", chunk)
		}
		if err := onChunk(chunk); err != nil {
			return err
		}
	}
}

// openStream opens the completion stream, retrying transient failures.
// Nothing has been emitted yet at this point, so a retry is invisible to the caller.
func (c *LLMClient) openStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error) {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay * time.Duration(attempt)):
			}
		}

		stream, err := c.client.CreateChatCompletionStream(ctx, req)
		if err == nil {
			return stream, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}
		log.Printf("[LLMClient] Stream open attempt %d failed: %v", attempt+1, err)
	}

	return nil, fmt.Errorf("failed to open stream after %d attempts: %w", maxRetries, lastErr)
}

// isRetryableError reports whether err is a rate limit, server error or transport failure
func isRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}
	return true
}
