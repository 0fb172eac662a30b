package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"companion-chat/server/internal/config"
	"companion-chat/server/internal/engine"
	"companion-chat/server/internal/interfaces"
	"companion-chat/server/internal/memory"
	"companion-chat/server/internal/observability"
	"companion-chat/server/internal/prompts"
	"companion-chat/server/internal/rag"
	"companion-chat/server/internal/ratelimit"
	"companion-chat/server/internal/storage"
	"companion-chat/server/internal/web"
)

func main() {
	configPath := "configs/config.yaml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		configPath = p
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Relational store for companions and messages
	companions, err := storage.NewCompanionStore(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.Database.Driver, err)
	}
	defer companions.Close()
	log.Printf("Companion store ready (%s)", cfg.Database.Driver)

	// History and rate limiting share redis; without it both run in process
	var (
		history interfaces.HistoryStore
		limiter interfaces.RateLimiter
	)
	if cfg.Database.Redis.Host != "" {
		redisStore, err := storage.NewRedisStore(cfg.Database.Redis)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisStore.Close()
		history = redisStore
		limiter = ratelimit.NewRedisLimiter(redisStore.GetClient(), cfg.RateLimit.Requests, cfg.RateLimit.Window)
		log.Println("Redis connected successfully")
	} else {
		log.Println("Warning: No Redis host configured, history is kept in memory")
		history = storage.NewInMemoryHistory()
		limiter = ratelimit.NewInMemoryLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	}

	// Vector backend
	var backend rag.VectorBackend
	if cfg.Database.Qdrant.Host != "" {
		qc := cfg.Database.Qdrant
		qdrantClient, err := rag.NewQdrantClient(qc.Host, qc.Port, qc.APIKey, qc.UseTLS, qc.Collection, qc.VectorSize)
		if err != nil {
			log.Fatalf("Failed to connect to Qdrant: %v", err)
		}
		defer qdrantClient.Close()

		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := qdrantClient.HealthCheck(initCtx); err != nil {
			log.Printf("Warning: Qdrant health check failed: %v", err)
		}
		if err := qdrantClient.InitializeCollections(initCtx); err != nil {
			log.Printf("Warning: Failed to initialize Qdrant collections: %v", err)
		}
		cancel()
		backend = qdrantClient
		log.Println("Qdrant connected successfully")
	} else {
		log.Println("Warning: No Qdrant host configured, vectors are kept in memory")
		backend = rag.NewInMemoryVectors()
	}

	if cfg.AI.LLM.APIKey == "" {
		log.Println("Warning: No LLM API key provided. Generation and retrieval will fail.")
	}

	embedding := rag.NewEmbeddingService(cfg.AI.Embedding)
	index := rag.NewVectorIndex(backend, embedding, cfg.Memory.SimilarityFloor, cfg.Memory.EmbeddingTokenLimit)
	index.SetDebug(cfg.Debug())

	mem := memory.NewManager(history, index, cfg.Memory)

	if path := cfg.Chat.PromptTemplateFile; path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("Failed to read prompt template: %v", err)
		}
		if err := prompts.LoadChatTemplate(string(data)); err != nil {
			log.Fatalf("Failed to load prompt template: %v", err)
		}
		log.Printf("Loaded prompt template from %s", path)
	}

	llm := engine.NewLLMClient(cfg.AI.LLM)
	llm.SetDebug(cfg.Debug())

	metrics := observability.NewMetrics("companion")

	chatEngine := engine.NewChatEngine(companions, mem, llm, limiter, metrics, cfg.AI.LLM, cfg.Chat)
	chatEngine.SetDebug(cfg.Debug())
	log.Println("ChatEngine initialized successfully")

	hub := web.NewSessionHub()
	go hub.Run(ctx)

	r := web.NewRouter(web.Dependencies{
		Config:     cfg,
		Engine:     chatEngine,
		Companions: companions,
		Memory:     mem,
		Embeddings: embedding,
		Metrics:    metrics,
		Hub:        hub,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in background
	go func() {
		log.Printf("Server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")

	// Stop websocket sessions first; hijacked connections are not drained by Shutdown
	stop()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
