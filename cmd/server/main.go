package main

import (
	"bytes"
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"

	"github.com/ragworks/raggate/internal/audit"
	"github.com/ragworks/raggate/internal/auth"
	"github.com/ragworks/raggate/internal/config"
	"github.com/ragworks/raggate/internal/generation"
	"github.com/ragworks/raggate/internal/handler"
	"github.com/ragworks/raggate/internal/middleware"
	"github.com/ragworks/raggate/internal/pipeline"
	"github.com/ragworks/raggate/internal/pkg/logger"
	"github.com/ragworks/raggate/internal/policy"
	"github.com/ragworks/raggate/internal/retrieval"
	"github.com/ragworks/raggate/internal/safety"
	"github.com/ragworks/raggate/internal/store"
)

func main() {
	// 0. Initialize Logger
	logger.Init("info")

	// Wipe locked credential buffers on interrupt.
	memguard.CatchInterrupt()
	defer memguard.Purge()

	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Initialize Persistence
	// Rate-limit counters (Redis > Memory)
	var rdb *redis.Client
	var counter policy.WindowCounter
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err == nil {
			logger.Info("connected to redis", "addr", cfg.Redis.Addr)
			rdb = client
			counter = policy.NewRedisWindowCounter(client)
		} else {
			logger.Error("redis unavailable, rate limits fall back to per-instance memory", "error", err)
		}
	}
	if counter == nil {
		counter = policy.NewMemoryWindowCounter()
	}

	// Audit persistence (Postgres > local file only)
	var st *store.Store
	if cfg.Database.DSN != "" {
		s, err := store.New(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Error("database unavailable, audit records will be file-only", "error", err)
		} else {
			logger.Info("connected to postgres")
			if err := s.EnsureSchema(ctx); err != nil {
				log.Fatalf("Failed to ensure schema: %v", err)
			}
			st = s
			defer st.Close()
		}
	}

	// 3. Initialize Core Services
	resolver := auth.NewResolver(auth.NewHMACVerifier(cfg.Auth.TokenSecret))

	engine, err := policy.NewEngine(counter, cfg.Policy.QPS, cfg.Policy.Burst)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}
	if err := engine.Reload(cfg.Policy.RulesPath); err != nil {
		// No rule set means every request is denied until a valid file
		// appears; the watcher below picks it up.
		logger.Error("initial rule set load failed, denying all requests", "path", cfg.Policy.RulesPath, "error", err)
	}

	auditOpts := audit.Options{
		LogDir:       cfg.Audit.LogDir,
		QueueSize:    cfg.Audit.QueueSize,
		BufferMax:    cfg.Audit.BufferMax,
		Redis:        rdb,
		RedisListKey: cfg.Redis.AuditListKey,
		RedisListMax: int64(cfg.Redis.AuditListMax),
	}
	if st != nil {
		auditOpts.Store = st
	}
	auditLogger, err := audit.NewLogger(auditOpts)
	if err != nil {
		log.Fatalf("Failed to initialize audit logger: %v", err)
	}

	apiKey, err := loadAPIKey(cfg)
	if err != nil {
		log.Fatalf("Failed to load LLM credential: %v", err)
	}

	llmCfg := openai.DefaultConfig(string(apiKey))
	if cfg.LLM.BaseURL != "" {
		llmCfg.BaseURL = cfg.LLM.BaseURL
	}
	embedder := retrieval.NewOpenAIEmbedder(openai.NewClientWithConfig(llmCfg), cfg.LLM.EmbeddingModel)

	gateway, err := generation.NewGateway(apiKey, generation.Config{
		BaseURL:   cfg.LLM.BaseURL,
		Model:     cfg.LLM.Model,
		Timeout:   time.Duration(cfg.LLM.TimeoutMs) * time.Millisecond,
		MaxTokens: cfg.LLM.MaxTokens,
	})
	if err != nil {
		log.Fatalf("Failed to initialize generation gateway: %v", err)
	}

	searcher, err := retrieval.NewWeaviateSearcher(cfg.Weaviate.Host, cfg.Weaviate.Scheme, cfg.Weaviate.ClassName)
	if err != nil {
		log.Fatalf("Failed to initialize search client: %v", err)
	}
	orchestrator := retrieval.NewOrchestrator(embedder, searcher)

	var hydrator pipeline.SourceHydrator
	if st != nil {
		hydrator = st
	}
	pipe := pipeline.New(engine, safety.NewInputFilter(), safety.NewOutputFilter(), orchestrator, gateway, auditLogger, hydrator)

	// 4. Initialize Handlers
	askHandler := handler.NewAskHandler(pipe)
	var storeLister handler.StoreLister
	if st != nil {
		storeLister = st
	}
	auditHandler := handler.NewAuditHandler(engine, auditLogger, storeLister)

	// 5. Setup Router
	r := gin.Default()

	// Global Middleware
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.RequestID())

	// Health Check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "service": "raggate"})
	})

	// Metrics Endpoint
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	// API V1 Routes
	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(resolver))
	{
		v1.POST("/ask", askHandler.Ask)
		v1.GET("/audit", auditHandler.List)
	}

	// 6. Background Workers
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return auditLogger.Run(gctx)
	})

	if cfg.Policy.Watch {
		watcher := policy.NewWatcher(engine, cfg.Policy.RulesPath)
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	if st != nil && cfg.Database.AuditRetentionDays > 0 {
		retention := time.Duration(cfg.Database.AuditRetentionDays) * 24 * time.Hour
		g.Go(func() error {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-ticker.C:
					if err := st.CleanupAudit(gctx, retention); err != nil {
						logger.Warn("audit retention cleanup failed", "error", err)
					}
				}
			}
		})
	}

	// 7. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	g.Go(func() error {
		logger.Info("raggate started", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server exiting")
}

// loadAPIKey reads the LLM credential from config, file, or environment.
// The returned bytes are handed to the generation gateway, which seals
// them into locked memory.
func loadAPIKey(cfg *config.Config) ([]byte, error) {
	if cfg.LLM.APIKeyFile != "" {
		raw, err := os.ReadFile(cfg.LLM.APIKeyFile)
		if err != nil {
			return nil, err
		}
		return bytes.TrimSpace(raw), nil
	}
	return []byte(cfg.LLM.APIKey), nil
}
