package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"companion-chat/server/internal/config"
	"companion-chat/server/internal/interfaces"
	"companion-chat/server/internal/models"
)

// InMemoryStore is a simple in-process companion store for local/dev use.
type InMemoryStore struct {
	mu         sync.RWMutex
	companions map[string]models.Companion
	messages   map[string][]models.Message
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		companions: make(map[string]models.Companion),
		messages:   make(map[string][]models.Message),
	}
}

func (s *InMemoryStore) GetCompanion(_ context.Context, id string) (*models.Companion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.companions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrCompanionNotFound, id)
	}
	return &c, nil
}

func (s *InMemoryStore) CreateCompanion(_ context.Context, c *models.Companion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	s.companions[c.ID] = *c
	return nil
}

func (s *InMemoryStore) RecentMessages(_ context.Context, companionID, userID string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.messages[threadKey(companionID, userID)]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]models.Message, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

// CreateMessage rejects messages for unknown companions, like a foreign key would
func (s *InMemoryStore) CreateMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.companions[msg.CompanionID]; !ok {
		return fmt.Errorf("%w: %s", interfaces.ErrCompanionNotFound, msg.CompanionID)
	}
	prepareMessage(msg)
	key := threadKey(msg.CompanionID, msg.UserID)
	s.messages[key] = append(s.messages[key], *msg)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

func threadKey(companionID, userID string) string {
	return companionID + "/" + userID
}

// NewCompanionStore opens the relational store selected by cfg.Driver
func NewCompanionStore(ctx context.Context, cfg config.DatabaseConfig) (interfaces.CompanionStore, error) {
	switch strings.ToLower(cfg.Driver) {
	case "mysql":
		store, err := NewMySQLStore(cfg.MySQL)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres", "postgresql":
		if strings.TrimSpace(cfg.Postgres.DSN) == "" {
			return nil, fmt.Errorf("postgres driver selected without dsn")
		}
		store, err := NewPostgresStore(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "", "memory":
		return NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}
