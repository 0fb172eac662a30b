package models

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Role values for Message.Role
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Companion is a persona users chat with
type Companion struct {
	ID           string         `gorm:"primaryKey;size:64" json:"id"`
	UserID       string         `gorm:"index;size:64" json:"user_id"` // owner
	Name         string         `gorm:"size:128" json:"name"`
	Description  string         `gorm:"type:text" json:"description"`
	Instructions string         `gorm:"type:text" json:"instructions"`
	Seed         string         `gorm:"type:text" json:"seed"`
	ModelID      string         `gorm:"size:128" json:"model_id"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// Validate checks the fields a companion needs to hold a conversation
func (c *Companion) Validate() error {
	switch {
	case strings.TrimSpace(c.Name) == "":
		return errors.New("name is required")
	case strings.TrimSpace(c.Instructions) == "":
		return errors.New("instructions are required")
	case strings.TrimSpace(c.Seed) == "":
		return errors.New("seed is required")
	}
	return nil
}

// Message is one chat turn stored in the relational store
type Message struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	CompanionID string    `gorm:"index:idx_messages_companion_user;size:64" json:"companion_id"`
	UserID      string    `gorm:"index:idx_messages_companion_user;size:64" json:"user_id"`
	Role        string    `gorm:"size:16" json:"role"`
	Content     string    `gorm:"type:text" json:"content"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}
