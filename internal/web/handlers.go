package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"companion-chat/server/internal/config"
	"companion-chat/server/internal/engine"
	"companion-chat/server/internal/interfaces"
	"companion-chat/server/internal/memory"
	"companion-chat/server/internal/models"
	"companion-chat/server/internal/observability"
	"companion-chat/server/internal/prompts"
	"companion-chat/server/internal/rag"
)

// WebSocket upgrader configuration
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Origin is enforced by the gateway that sets the user header
	},
}

type contextKey string

const userIDKey contextKey = "user_id"

// Dependencies are the services the HTTP layer is built on
type Dependencies struct {
	Config     *config.Config
	Engine     *engine.ChatEngine
	Companions interfaces.CompanionStore
	Memory     *memory.Manager
	Embeddings *rag.EmbeddingService
	Metrics    *observability.Metrics
	Hub        *SessionHub
}

type Handlers struct {
	config     *config.Config
	engine     *engine.ChatEngine
	companions interfaces.CompanionStore
	memory     *memory.Manager
	embeddings *rag.EmbeddingService
	metrics    *observability.Metrics
	hub        *SessionHub
}

func NewHandlers(deps Dependencies) *Handlers {
	return &Handlers{
		config:     deps.Config,
		engine:     deps.Engine,
		companions: deps.Companions,
		memory:     deps.Memory,
		embeddings: deps.Embeddings,
		metrics:    deps.Metrics,
		hub:        deps.Hub,
	}
}

// CreateCompanionRequest is the body of POST /companions
type CreateCompanionRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Instructions string `json:"instructions"`
	Seed         string `json:"seed"`
	ModelID      string `json:"model_id"`
}

// KnowledgeRequest is the body of POST /companions/{companionID}/knowledge
type KnowledgeRequest struct {
	Text string `json:"text"`
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	inFlight, served := int64(0), int64(0)
	if h.engine != nil {
		inFlight, served = h.engine.Stats()
	}
	sessions := 0
	if h.hub != nil {
		sessions = h.hub.GetClientCount()
	}
	cached := 0
	if h.embeddings != nil {
		cached = h.embeddings.GetCacheSize()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"service":           "companion-chat",
		"chats_in_flight":   inFlight,
		"chats_served":      served,
		"ws_sessions":       sessions,
		"embeddings_cached": cached,
	})
}

// GetChatTemplate returns the active companion prompt template as JSON
func (h *Handlers) GetChatTemplate(w http.ResponseWriter, r *http.Request) {
	data, err := prompts.ExportChatTemplate()
	if err != nil {
		h.respondError(w, "prompt_template", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(data))
	h.metrics.ObserveResponse("prompt_template", http.StatusOK)
}

// CORS middleware
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "300")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware takes the caller id from the header set by the upstream gateway
func authMiddleware(header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(header))
			if userID == "" {
				writeError(w, interfaces.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
		})
	}
}

func userFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}

func NewRouter(deps Dependencies) *chi.Mux {
	r := chi.NewRouter()

	// Request logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("REQUEST: %s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	})
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	handlers := NewHandlers(deps)
	userHeader := "X-User-ID"
	if deps.Config != nil && deps.Config.Auth.UserHeader != "" {
		userHeader = deps.Config.Auth.UserHeader
	}

	// Public routes
	r.Get("/health", handlers.HealthCheck)
	r.Handle("/metrics", deps.Metrics.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authMiddleware(userHeader))

		r.Route("/chat/{companionID}", func(r chi.Router) {
			r.Post("/", handlers.Chat)
			r.Get("/ws", handlers.ChatSocket)
		})

		r.Route("/companions", func(r chi.Router) {
			r.Post("/", handlers.CreateCompanion)
			r.Get("/{companionID}", handlers.GetCompanion)
			r.Get("/{companionID}/history", handlers.GetHistory)
			r.Post("/{companionID}/knowledge", handlers.IngestKnowledge)
		})

		r.Get("/prompts/chat", handlers.GetChatTemplate)
	})

	return r
}

func (h *Handlers) CreateCompanion(w http.ResponseWriter, r *http.Request) {
	var req CreateCompanionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, "companions", fmt.Errorf("%w: invalid request body", interfaces.ErrInvalidRequest))
		return
	}

	companion := &models.Companion{
		UserID:       userFromContext(r.Context()),
		Name:         strings.TrimSpace(req.Name),
		Description:  req.Description,
		Instructions: req.Instructions,
		Seed:         req.Seed,
		ModelID:      req.ModelID,
	}
	if err := companion.Validate(); err != nil {
		h.respondError(w, "companions", fmt.Errorf("%w: %v", interfaces.ErrInvalidRequest, err))
		return
	}

	if err := h.companions.CreateCompanion(r.Context(), companion); err != nil {
		h.respondError(w, "companions", fmt.Errorf("failed to create companion: %w", err))
		return
	}

	log.Printf("[Handlers] Companion %s created by %s", companion.ID, companion.UserID)
	h.metrics.ObserveResponse("companions", http.StatusCreated)
	writeJSON(w, http.StatusCreated, companion)
}

func (h *Handlers) GetCompanion(w http.ResponseWriter, r *http.Request) {
	companion, err := h.companions.GetCompanion(r.Context(), chi.URLParam(r, "companionID"))
	if err != nil {
		h.respondError(w, "companions", err)
		return
	}
	writeJSON(w, http.StatusOK, companion)
}

// GetHistory returns the caller's history lines; status tells an empty history from a bad key
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	companion, err := h.companions.GetCompanion(r.Context(), chi.URLParam(r, "companionID"))
	if err != nil {
		h.respondError(w, "history", err)
		return
	}

	modelID := companion.ModelID
	if modelID == "" && h.config != nil {
		modelID = h.config.AI.LLM.Model
	}
	key := models.ConversationKey{
		CompanionID: companion.ID,
		ModelID:     modelID,
		UserID:      userFromContext(r.Context()),
	}

	lines, status := h.memory.ReadHistoryLines(r.Context(), key)
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"companion_id": companion.ID,
		"history":      lines,
		"status":       status.String(),
	})
}

// IngestKnowledge indexes backstory text into the companion's namespace; only the owner may add to it
func (h *Handlers) IngestKnowledge(w http.ResponseWriter, r *http.Request) {
	var req KnowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		h.respondError(w, "knowledge", fmt.Errorf("%w: text is required", interfaces.ErrInvalidRequest))
		return
	}

	companion, err := h.companions.GetCompanion(r.Context(), chi.URLParam(r, "companionID"))
	if err != nil {
		h.respondError(w, "knowledge", err)
		return
	}
	if companion.UserID != userFromContext(r.Context()) {
		h.respondError(w, "knowledge", interfaces.ErrForbidden)
		return
	}

	chunks, err := h.memory.IndexKnowledge(r.Context(), companion.ID, req.Text)
	if err != nil {
		h.respondError(w, "knowledge", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"companion_id": companion.ID,
		"chunks":       chunks,
	})
}

func (h *Handlers) respondError(w http.ResponseWriter, route string, err error) {
	status := writeError(w, err)
	h.metrics.ObserveResponse(route, status)
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, interfaces.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, interfaces.ErrCompanionNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage is the client-facing text; internal errors are never echoed
func errorMessage(status int, err error) string {
	switch status {
	case http.StatusBadRequest:
		return err.Error()
	case http.StatusUnauthorized:
		return "Unauthorized"
	case http.StatusForbidden:
		return "Forbidden"
	case http.StatusNotFound:
		return "Companion not found"
	case http.StatusTooManyRequests:
		return "Rate limit exceeded"
	default:
		return "Internal error"
	}
}

func writeError(w http.ResponseWriter, err error) int {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("[Handlers] Internal error: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": errorMessage(status, err)})
	return status
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Handlers] Failed to encode response: %v", err)
	}
}
