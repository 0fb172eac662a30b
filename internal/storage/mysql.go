package storage

import (
	"companion-chat/server/internal/config"
	"companion-chat/server/internal/interfaces"
	"companion-chat/server/internal/models"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type MySQLStore struct {
	db *gorm.DB
}

func NewMySQLStore(cfg config.MySQLConfig) (*MySQLStore, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return NewMySQLStoreFromDB(db)
}

// NewMySQLStoreFromDB migrates the schema on an open gorm handle
func NewMySQLStoreFromDB(db *gorm.DB) (*MySQLStore, error) {
	if err := db.AutoMigrate(&models.Companion{}, &models.Message{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *MySQLStore) GetCompanion(ctx context.Context, id string) (*models.Companion, error) {
	var companion models.Companion
	err := s.db.WithContext(ctx).First(&companion, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrCompanionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load companion: %w", err)
	}
	return &companion, nil
}

func (s *MySQLStore) CreateCompanion(ctx context.Context, companion *models.Companion) error {
	if companion.ID == "" {
		companion.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(companion).Error; err != nil {
		return fmt.Errorf("failed to create companion: %w", err)
	}
	return nil
}

func (s *MySQLStore) RecentMessages(ctx context.Context, companionID, userID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	var messages []models.Message
	err := s.db.WithContext(ctx).
		Where("companion_id = ? AND user_id = ?", companionID, userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	reverseMessages(messages)
	return messages, nil
}

func (s *MySQLStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	prepareMessage(msg)
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func prepareMessage(msg *models.Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
}

// reverseMessages flips newest-first rows into chronological order
func reverseMessages(messages []models.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}
