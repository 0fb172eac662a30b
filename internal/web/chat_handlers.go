package web

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"companion-chat/server/internal/engine"
	"companion-chat/server/internal/interfaces"
)

// chatBody is the body of POST /chat/{companionID}
type chatBody struct {
	Prompt string `json:"prompt"`
}

// Chat streams the companion's reply as plain text, flushing every chunk.
// Errors before the first chunk get a status code; later ones just end the stream.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	var body chatBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, "chat", fmt.Errorf("%w: invalid request body", interfaces.ErrInvalidRequest))
		return
	}

	req := engine.ChatRequest{
		CompanionID: chi.URLParam(r, "companionID"),
		UserID:      userFromContext(r.Context()),
		Prompt:      body.Prompt,
	}

	flusher, _ := w.(http.Flusher)
	started := false
	start := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(http.StatusOK)
	}

	result, err := h.engine.Chat(r.Context(), req, func(chunk string) error {
		start()
		if _, err := io.WriteString(w, chunk); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if err != nil {
		if started {
			log.Printf("[Handlers] Chat stream for %s ended with error: %v", req.CompanionID, err)
			h.metrics.ObserveResponse("chat", http.StatusOK)
			return
		}
		h.respondError(w, "chat", err)
		return
	}

	start()
	if result.Outcome == engine.OutcomeAborted {
		log.Printf("[Handlers] Chat stream for %s aborted after %d bytes", req.CompanionID, len(result.Text))
	}
	h.metrics.ObserveResponse("chat", http.StatusOK)
}

// ChatSocket upgrades to a websocket where every inbound prompt runs one chat turn
func (h *Handlers) ChatSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Chat sessions not enabled"})
		return
	}

	companionID := chi.URLParam(r, "companionID")
	userID := userFromContext(r.Context())
	if _, err := h.companions.GetCompanion(r.Context(), companionID); err != nil {
		h.respondError(w, "chat_ws", err)
		return
	}

	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Handlers] WebSocket upgrade failed: %v", err)
		return
	}

	session := newChatSession(h.hub, conn, h.engine, userID, companionID)
	h.hub.register <- session

	_ = session.sendFrame(frame{Type: "connected", SessionID: session.ID})

	go session.readPump()
}
