package interfaces

import (
	"context"

	"companion-chat/server/internal/models"
)

// CompanionStore is the relational store of companions and their messages
type CompanionStore interface {
	// GetCompanion returns ErrCompanionNotFound for unknown ids
	GetCompanion(ctx context.Context, id string) (*models.Companion, error)

	CreateCompanion(ctx context.Context, companion *models.Companion) error

	// RecentMessages returns the newest limit messages between the user and companion, oldest first
	RecentMessages(ctx context.Context, companionID, userID string, limit int) ([]models.Message, error)

	CreateMessage(ctx context.Context, msg *models.Message) error

	Close() error
}
