package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"companion-chat/server/internal/config"
	"companion-chat/server/internal/interfaces"
	"companion-chat/server/internal/memory"
	"companion-chat/server/internal/models"
	"companion-chat/server/internal/observability"
	"companion-chat/server/internal/prompts"
)

// Outcome is the terminal state of a chat turn
type Outcome string

const (
	// OutcomePersisted means the reply was streamed and recorded
	OutcomePersisted Outcome = "persisted"
	// OutcomeDiscarded means the stream ended with one character or less; nothing was recorded
	OutcomeDiscarded Outcome = "discarded"
	// OutcomeAborted means the generation timeout fired; streamed text stays with the caller
	OutcomeAborted Outcome = "aborted"
	// OutcomeFailed means an error ended the turn
	OutcomeFailed Outcome = "failed"
)

const (
	defaultRecentMessages    = 50
	defaultGenerationTimeout = 30 * time.Second
)

// ChatRequest is one user message addressed to a companion
type ChatRequest struct {
	CompanionID string `json:"-"`
	UserID      string `json:"-"`
	Prompt      string `json:"prompt"`
}

// Validate rejects requests that cannot start a turn
func (r *ChatRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return interfaces.ErrUnauthorized
	}
	if strings.TrimSpace(r.CompanionID) == "" {
		return fmt.Errorf("%w: companion id is required", interfaces.ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", interfaces.ErrInvalidRequest)
	}
	return nil
}

// ChatResult describes how a turn ended
type ChatResult struct {
	Outcome    Outcome `json:"outcome"`
	Text       string  `json:"text"`
	Seeded     bool    `json:"seeded"`
	Repetitive bool    `json:"repetitive"`
	Documents  int     `json:"documents"`
}

// ChunkSink receives generated text as it arrives
type ChunkSink func(chunk string) error

// ChatEngine runs chat turns: gate, load context, generate, record
type ChatEngine struct {
	companions interfaces.CompanionStore
	memory     *memory.Manager
	generator  interfaces.Generator
	limiter    interfaces.RateLimiter
	detector   *memory.SimilarityDetector
	metrics    *observability.Metrics

	llm            config.LLMConfig
	recentMessages int
	timeout        time.Duration
	debug          bool

	inFlight atomic.Int64
	served   atomic.Int64
}

// NewChatEngine wires a chat engine; limiter and metrics may be nil
func NewChatEngine(
	companions interfaces.CompanionStore,
	mem *memory.Manager,
	generator interfaces.Generator,
	limiter interfaces.RateLimiter,
	metrics *observability.Metrics,
	llm config.LLMConfig,
	chat config.ChatConfig,
) *ChatEngine {
	e := &ChatEngine{
		companions:     companions,
		memory:         mem,
		generator:      generator,
		limiter:        limiter,
		detector:       memory.NewSimilarityDetector(chat.RepetitionThreshold),
		metrics:        metrics,
		llm:            llm,
		recentMessages: chat.RecentMessages,
		timeout:        chat.GenerationTimeout,
	}
	if e.recentMessages <= 0 {
		e.recentMessages = defaultRecentMessages
	}
	if e.timeout <= 0 {
		e.timeout = defaultGenerationTimeout
	}
	return e
}

// SetDebug enables per-turn logging
func (e *ChatEngine) SetDebug(debug bool) {
	e.debug = debug
}

// Stats returns the number of turns in flight and turns served since start
func (e *ChatEngine) Stats() (inFlight, served int64) {
	return e.inFlight.Load(), e.served.Load()
}

// Chat runs one turn, passing generated chunks to sink as they arrive.
//
// Returned errors wrap ErrUnauthorized, ErrInvalidRequest, ErrRateLimited or
// ErrCompanionNotFound where they apply. A timeout is not an error: the result
// carries OutcomeAborted.
func (e *ChatEngine) Chat(ctx context.Context, req ChatRequest, sink ChunkSink) (*ChatResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	e.inFlight.Inc()
	defer e.inFlight.Dec()
	defer e.served.Inc()

	result, err := e.run(ctx, req, sink)
	if err != nil {
		e.metrics.ObserveTurn(string(OutcomeFailed))
		return nil, err
	}
	e.metrics.ObserveTurn(string(result.Outcome))
	return result, nil
}

func (e *ChatEngine) run(ctx context.Context, req ChatRequest, sink ChunkSink) (*ChatResult, error) {
	companion, recent, err := e.gate(ctx, req)
	if err != nil {
		return nil, err
	}

	key := models.ConversationKey{
		CompanionID: companion.ID,
		ModelID:     e.modelFor(companion),
		UserID:      req.UserID,
	}
	result := &ChatResult{}

	historyText, status := e.memory.ReadLatestHistory(ctx, key)
	e.observeHistory(status)
	if historyText == "" {
		seeded, seedStatus := e.memory.SeedChatHistory(ctx, companion.Seed, "", key)
		e.observeHistory(seedStatus)
		result.Seeded = seeded
		if seeded && e.debug {
			log.Printf("[ChatEngine] Seeded history for %s", key.HistoryKey())
		}
	}

	e.observeHistory(e.memory.WriteToHistory(ctx, "User: "+req.Prompt, key))

	historyText, status = e.memory.ReadLatestHistory(ctx, key)
	e.observeHistory(status)
	docs := e.memory.VectorSearch(ctx, historyText, key.Namespace())
	result.Documents = len(docs)
	e.metrics.ObserveRetrieval(len(docs))

	repetitive, exemplar := e.checkRepetition(recent)
	result.Repetitive = repetitive

	prompt := prompts.BuildChatPrompt(prompts.ChatPromptInput{
		PersonaName:       companion.Name,
		Instructions:      companion.Instructions,
		RecentHistory:     historyText,
		Repetitive:        repetitive,
		Exemplar:          exemplar,
		Topic:             req.Prompt,
		RelevantDocuments: docs,
	})

	full, aborted, err := e.generate(ctx, key, prompt, sink)
	result.Text = full
	if err != nil {
		return nil, err
	}
	if aborted {
		log.Printf("[ChatEngine] Generation for %s timed out after %s", key.HistoryKey(), e.timeout)
		result.Outcome = OutcomeAborted
		return result, nil
	}

	if utf8.RuneCountInString(strings.TrimSpace(full)) <= 1 {
		result.Outcome = OutcomeDiscarded
		return result, nil
	}

	if err := e.persist(ctx, companion, key, full); err != nil {
		return nil, err
	}
	result.Outcome = OutcomePersisted

	exchange := fmt.Sprintf("User: %s\n%s: %s", req.Prompt, companion.Name, full)
	if err := e.memory.IndexExchange(ctx, key, exchange); err != nil {
		log.Printf("[ChatEngine] Failed to index exchange for %s: %v", key.Namespace(), err)
	}

	return result, nil
}

// gate runs the rate check, the companion load and the user turn write concurrently.
// The user turn is written even when the rate check denies the request.
func (e *ChatEngine) gate(ctx context.Context, req ChatRequest) (*models.Companion, []models.Message, error) {
	var (
		allowed                      = true
		companion                    *models.Companion
		recent                       []models.Message
		rateErr, loadErr, messageErr error
	)

	var g errgroup.Group
	g.Go(func() error {
		if e.limiter == nil {
			return nil
		}
		allowed, rateErr = e.limiter.Allow(ctx, req.UserID)
		return rateErr
	})
	g.Go(func() error {
		companion, loadErr = e.companions.GetCompanion(ctx, req.CompanionID)
		if loadErr != nil {
			return loadErr
		}
		recent, loadErr = e.companions.RecentMessages(ctx, req.CompanionID, req.UserID, e.recentMessages)
		return loadErr
	})
	g.Go(func() error {
		messageErr = e.companions.CreateMessage(ctx, &models.Message{
			CompanionID: req.CompanionID,
			UserID:      req.UserID,
			Role:        models.RoleUser,
			Content:     req.Prompt,
		})
		return messageErr
	})
	_ = g.Wait()

	switch {
	case rateErr == nil && !allowed:
		return nil, nil, fmt.Errorf("%w: user %s", interfaces.ErrRateLimited, req.UserID)
	case errors.Is(loadErr, interfaces.ErrCompanionNotFound):
		return nil, nil, loadErr
	case rateErr != nil:
		return nil, nil, fmt.Errorf("failed to check rate limit: %w", rateErr)
	case loadErr != nil:
		return nil, nil, fmt.Errorf("failed to load companion: %w", loadErr)
	case messageErr != nil:
		return nil, nil, fmt.Errorf("failed to record user message: %w", messageErr)
	}
	return companion, recent, nil
}

// checkRepetition compares the latest assistant turn with the earlier ones, newest first
func (e *ChatEngine) checkRepetition(recent []models.Message) (bool, string) {
	var replies []string
	for i := len(recent) - 1; i >= 0; i-- {
		if recent[i].Role == models.RoleAssistant {
			replies = append(replies, recent[i].Content)
		}
	}
	if len(replies) < 2 {
		return false, ""
	}
	return e.detector.IsRepetitive(replies[0], replies[1:])
}

// generate streams the reply under the generation timeout.
// aborted is true when the timeout, not the caller, ended the stream.
func (e *ChatEngine) generate(ctx context.Context, key models.ConversationKey, prompt string, sink ChunkSink) (string, bool, error) {
	genCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	e.metrics.StreamStarted()
	defer e.metrics.StreamFinished()

	var full strings.Builder
	start := time.Now()
	err := e.generator.Stream(genCtx, &interfaces.GenerationRequest{
		Prompt:           prompt,
		Model:            key.ModelID,
		MaxTokens:        e.llm.MaxTokens,
		Temperature:      e.llm.Temperature,
		TopP:             e.llm.TopP,
		PresencePenalty:  e.llm.PresencePenalty,
		FrequencyPenalty: e.llm.FrequencyPenalty,
	}, func(chunk string) error {
		full.WriteString(chunk)
		return sink(chunk)
	})
	e.metrics.ObserveGeneration(time.Since(start))

	if err != nil {
		if errors.Is(genCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return full.String(), true, nil
		}
		return full.String(), false, fmt.Errorf("generation failed: %w", err)
	}
	return full.String(), false, nil
}

// persist writes the reply to history and the relational store concurrently
func (e *ChatEngine) persist(ctx context.Context, companion *models.Companion, key models.ConversationKey, full string) error {
	var g errgroup.Group
	g.Go(func() error {
		e.observeHistory(e.memory.WriteToHistory(ctx, companion.Name+": "+strings.TrimSpace(full), key))
		return nil
	})
	g.Go(func() error {
		return e.companions.CreateMessage(ctx, &models.Message{
			CompanionID: companion.ID,
			UserID:      key.UserID,
			Role:        models.RoleAssistant,
			Content:     full,
		})
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to record reply: %w", err)
	}
	return nil
}

func (e *ChatEngine) observeHistory(status interfaces.HistoryStatus) {
	if status.Degraded() {
		e.metrics.ObserveHistoryDegraded(status.String())
	}
}

func (e *ChatEngine) modelFor(companion *models.Companion) string {
	if companion.ModelID != "" {
		return companion.ModelID
	}
	return e.llm.Model
}
