package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"companion-chat/server/internal/interfaces"
	"companion-chat/server/internal/models"
)

// PostgresStore persists companions and messages in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS companions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			instructions TEXT NOT NULL,
			seed TEXT NOT NULL,
			model_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			companion_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_companion_user_created ON messages (companion_id, user_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) GetCompanion(ctx context.Context, id string) (*models.Companion, error) {
	var c models.Companion
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, name, description, instructions, seed, model_id, created_at, updated_at
		 FROM companions WHERE id=$1`,
		id,
	).Scan(&c.ID, &c.UserID, &c.Name, &c.Description, &c.Instructions, &c.Seed, &c.ModelID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrCompanionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load companion: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) CreateCompanion(ctx context.Context, c *models.Companion) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO companions (id, user_id, name, description, instructions, seed, model_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at, updated_at`,
		c.ID, c.UserID, c.Name, c.Description, c.Instructions, c.Seed, c.ModelID,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create companion: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentMessages(ctx context.Context, companionID, userID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, companion_id, user_id, role, content, created_at
		 FROM messages WHERE companion_id=$1 AND user_id=$2
		 ORDER BY created_at DESC LIMIT $3`,
		companionID,
		userID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()

	items := make([]models.Message, 0, limit)
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.CompanionID, &m.UserID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	reverseMessages(items)
	return items, nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	prepareMessage(msg)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, companion_id, user_id, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID,
		msg.CompanionID,
		msg.UserID,
		msg.Role,
		msg.Content,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
