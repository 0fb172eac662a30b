package web

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"companion-chat/server/internal/engine"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

var errSessionClosed = errors.New("session closed")

// frame is one outbound websocket message
type frame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Data      string `json:"data,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
	Status    int    `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ChatSession is one websocket connection bound to a user and companion
type ChatSession struct {
	ID          string
	UserID      string
	CompanionID string
	Conn        *websocket.Conn
	Send        chan []byte
	Hub         *SessionHub

	engine *engine.ChatEngine
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// SessionHub tracks live chat sessions
type SessionHub struct {
	clients    map[string]*ChatSession
	register   chan *ChatSession
	unregister chan *ChatSession
	mu         sync.RWMutex
}

// NewSessionHub creates a new session hub
func NewSessionHub() *SessionHub {
	return &SessionHub{
		clients:    make(map[string]*ChatSession),
		register:   make(chan *ChatSession, 100),
		unregister: make(chan *ChatSession, 100),
	}
}

// Run processes registrations until ctx is done, then closes every session
func (h *SessionHub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// registerClient adds a new client to the hub
func (h *SessionHub) registerClient(client *ChatSession) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
	log.Printf("[Hub] Session opened: %s user=%s companion=%s (total: %d)", client.ID, client.UserID, client.CompanionID, len(h.clients))

	// Start the client's write pump
	go client.writePump()
}

// unregisterClient removes a client from the hub. Send is closed here only,
// after the read pump that feeds it has exited.
func (h *SessionHub) unregisterClient(client *ChatSession) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.Send)
		log.Printf("[Hub] Session closed: %s (total: %d)", client.ID, len(h.clients))
	}
}

func (h *SessionHub) closeAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		client.Close()
	}
}

// GetClientCount returns the number of connected clients
func (h *SessionHub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func newChatSession(hub *SessionHub, conn *websocket.Conn, eng *engine.ChatEngine, userID, companionID string) *ChatSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &ChatSession{
		ID:          uuid.NewString(),
		UserID:      userID,
		CompanionID: companionID,
		Conn:        conn,
		Send:        make(chan []byte, sendBuffer),
		Hub:         hub,
		engine:      eng,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// sendFrame queues a frame; it blocks while the buffer is full so chunks are never dropped
func (c *ChatSession) sendFrame(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	select {
	case c.Send <- data:
		return nil
	case <-c.ctx.Done():
		return errSessionClosed
	}
}

// writePump pumps messages from the session to the WebSocket connection
func (c *ChatSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[Session] Error writing to %s: %v", c.ID, err)
				return
			}

		case <-ticker.C:
			if c.closed.Load() {
				return
			}

			// Send ping
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("[Session] Error sending ping to %s: %v", c.ID, err)
				return
			}
		}
	}
}

// Close cancels any running turn and closes the connection
func (c *ChatSession) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.cancel()
	_ = c.Conn.Close()
}

// readPump runs one chat turn per inbound prompt until the connection ends
func (c *ChatSession) readPump() {
	defer func() {
		c.Close()
		c.Hub.unregister <- c
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Session] Unexpected close from %s: %v", c.ID, err)
			}
			return
		}

		var body chatBody
		if err := json.Unmarshal(message, &body); err != nil || strings.TrimSpace(body.Prompt) == "" {
			_ = c.sendFrame(frame{Type: "error", Status: http.StatusBadRequest, Error: "prompt is required"})
			continue
		}

		c.runTurn(body.Prompt)
		if c.closed.Load() {
			return
		}
		_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (c *ChatSession) runTurn(prompt string) {
	result, err := c.engine.Chat(c.ctx, engine.ChatRequest{
		CompanionID: c.CompanionID,
		UserID:      c.UserID,
		Prompt:      prompt,
	}, func(chunk string) error {
		return c.sendFrame(frame{Type: "chunk", Data: chunk})
	})
	if err != nil {
		if errors.Is(err, errSessionClosed) {
			return
		}
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			log.Printf("[Session] Chat turn for %s failed: %v", c.ID, err)
		}
		_ = c.sendFrame(frame{Type: "error", Status: status, Error: errorMessage(status, err)})
		return
	}
	_ = c.sendFrame(frame{Type: "done", Outcome: string(result.Outcome)})
}
