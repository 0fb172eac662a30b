package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	AI        AIConfig        `yaml:"ai"`
	Memory    MemoryConfig    `yaml:"memory"`
	Chat      ChatConfig      `yaml:"chat"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	// Driver selects the relational store: "mysql", "postgres" or "memory".
	Driver   string         `yaml:"driver"`
	MySQL    MySQLConfig    `yaml:"mysql"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Qdrant   QdrantConfig   `yaml:"qdrant"`
}

type MySQLConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	// Host left empty runs history and rate limiting in process.
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type QdrantConfig struct {
	// Host left empty keeps vectors in process.
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	Collection string `yaml:"collection"`
	VectorSize int    `yaml:"vector_size"`
}

type AIConfig struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
}

type LLMConfig struct {
	BaseURL          string  `yaml:"base_url"`
	APIKey           string  `yaml:"api_key"`
	Model            string  `yaml:"model"`
	MaxTokens        int     `yaml:"max_tokens"`
	Temperature      float32 `yaml:"temperature"`
	TopP             float32 `yaml:"top_p"`
	PresencePenalty  float32 `yaml:"presence_penalty"`
	FrequencyPenalty float32 `yaml:"frequency_penalty"`
}

type EmbeddingConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
}

type MemoryConfig struct {
	HistoryWindow       int     `yaml:"history_window"`
	SeedDelimiter       string  `yaml:"seed_delimiter"`
	RetrievalLimit      int     `yaml:"retrieval_limit"`
	SimilarityFloor     float32 `yaml:"similarity_floor"`
	EmbeddingTokenLimit int     `yaml:"embedding_token_limit"`
	IndexExchanges      bool    `yaml:"index_exchanges"`
}

type ChatConfig struct {
	RecentMessages      int           `yaml:"recent_messages"`
	RepetitionThreshold float64       `yaml:"repetition_threshold"`
	GenerationTimeout   time.Duration `yaml:"generation_timeout"`
	// PromptTemplateFile optionally replaces the built-in companion prompt (JSON template)
	PromptTemplateFile string `yaml:"prompt_template_file"`
}

type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type AuthConfig struct {
	// UserHeader carries the authenticated user id set by the upstream gateway.
	UserHeader string `yaml:"user_header"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration, applies environment overrides and fills defaults
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply environment variable overrides
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.AI.LLM.APIKey = apiKey
		if cfg.AI.Embedding.APIKey == "" {
			cfg.AI.Embedding.APIKey = apiKey
		}
	}
	if apiKey := os.Getenv("QDRANT_API_KEY"); apiKey != "" {
		cfg.Database.Qdrant.APIKey = apiKey
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Database.Redis.Password = password
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		cfg.Database.Postgres.DSN = dsn
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	// Streaming responses outlive the generation timeout.
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "memory"
	}
	if c.Database.Redis.Port == 0 {
		c.Database.Redis.Port = 6379
	}
	if c.Database.Qdrant.Port == 0 {
		c.Database.Qdrant.Port = 6334
	}
	if c.Database.Qdrant.Collection == "" {
		c.Database.Qdrant.Collection = "companion_memories"
	}
	if c.Database.Qdrant.VectorSize == 0 {
		c.Database.Qdrant.VectorSize = 1536
	}

	if c.AI.LLM.Model == "" {
		c.AI.LLM.Model = "gpt-4o-mini"
	}
	if c.AI.LLM.MaxTokens == 0 {
		c.AI.LLM.MaxTokens = 2048
	}
	if c.AI.LLM.Temperature == 0 {
		c.AI.LLM.Temperature = 0.75
	}
	if c.AI.LLM.TopP == 0 {
		c.AI.LLM.TopP = 0.9
	}
	if c.AI.LLM.PresencePenalty == 0 {
		c.AI.LLM.PresencePenalty = 0.6
	}
	if c.AI.LLM.FrequencyPenalty == 0 {
		c.AI.LLM.FrequencyPenalty = 0.5
	}
	if c.AI.Embedding.Model == "" {
		c.AI.Embedding.Model = "text-embedding-3-small"
	}

	if c.Memory.HistoryWindow == 0 {
		c.Memory.HistoryWindow = 100
	}
	if c.Memory.SeedDelimiter == "" {
		c.Memory.SeedDelimiter = "\n"
	}
	if c.Memory.RetrievalLimit == 0 {
		c.Memory.RetrievalLimit = 5
	}
	if c.Memory.SimilarityFloor == 0 {
		c.Memory.SimilarityFloor = 0.7
	}
	if c.Memory.EmbeddingTokenLimit == 0 {
		c.Memory.EmbeddingTokenLimit = 8000
	}

	if c.Chat.RecentMessages == 0 {
		c.Chat.RecentMessages = 50
	}
	if c.Chat.RepetitionThreshold == 0 {
		c.Chat.RepetitionThreshold = 0.6
	}
	if c.Chat.GenerationTimeout == 0 {
		c.Chat.GenerationTimeout = 30 * time.Second
	}

	if c.RateLimit.Requests == 0 {
		c.RateLimit.Requests = 10
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = 10 * time.Second
	}

	if c.Auth.UserHeader == "" {
		c.Auth.UserHeader = "X-User-ID"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Debug reports whether verbose logging is enabled
func (c *Config) Debug() bool {
	return c.Logging.Level == "debug"
}
