package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/inference-gate/llm-gateway/internal/config"
	"github.com/inference-gate/llm-gateway/internal/handler"
	"github.com/inference-gate/llm-gateway/internal/middleware"
	"github.com/inference-gate/llm-gateway/internal/provider"
	"github.com/inference-gate/llm-gateway/internal/proxy"
	"github.com/inference-gate/llm-gateway/internal/ratelimit"
	"github.com/inference-gate/llm-gateway/internal/repository"
	"github.com/inference-gate/llm-gateway/internal/service"
	"github.com/inference-gate/llm-gateway/internal/storage"
	"github.com/inference-gate/llm-gateway/internal/usage"
)

// defaultProvider answers the unprefixed /v1 routes.
const defaultProvider = "default"

type Server struct {
	router     *gin.Engine
	config     *config.Config
	redis      *storage.RedisClient
	postgres   *storage.Postgres
	registry   *provider.Registry
	forwarder  *proxy.Forwarder
	limiter    *ratelimit.Limiter
	logWriter  *usage.LogWriter
	httpServer *http.Server
}

func New(cfg *config.Config, redis *storage.RedisClient, postgres *storage.Postgres) (*Server, error) {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := provider.NewRegistry()
	for _, pc := range cfg.Providers {
		p := &provider.Provider{
			Name:    pc.Name,
			BaseURL: pc.BaseURL,
			Model:   pc.Model,
		}
		if pc.APIKeysEnv != "" {
			p.APIKeys = provider.ParseKeys(os.Getenv(pc.APIKeysEnv))
		}
		if err := registry.Add(p); err != nil {
			return nil, fmt.Errorf("invalid provider config: %w", err)
		}
		log.Printf("Registered provider %s -> %s (%d keys)", pc.Name, pc.BaseURL, len(p.APIKeys))
	}

	policy := ratelimit.DefaultPolicy()
	limiter := ratelimit.NewLimiter(ratelimit.NewRedisStore(redis), policy)

	usageRepo := repository.NewUsageLogRepository(postgres)
	userRepo := repository.NewUserRepository(postgres)
	logWriter := usage.NewLogWriter(usageRepo, userRepo, 1000)
	recorder := usage.NewRecorder(limiter, logWriter)

	apiKeyRepo := repository.NewAPIKeyRepository(postgres)
	apiKeyService := service.NewAPIKeyService(apiKeyRepo, redis, policy)
	usageService := service.NewUsageService(usageRepo)

	modelCache := provider.NewModelCache(0)
	forwarder := proxy.NewForwarder(registry, recorder, modelCache)
	prober := provider.NewProber(0)

	s := &Server{
		router:    gin.New(),
		config:    cfg,
		redis:     redis,
		postgres:  postgres,
		registry:  registry,
		forwarder: forwarder,
		limiter:   limiter,
		logWriter: logWriter,
	}

	s.setupMiddleware(apiKeyService)
	s.setupRoutes(apiKeyService, usageService, prober)

	return s, nil
}

func (s *Server) setupMiddleware(apiKeyService *service.APIKeyService) {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.CORS())
	s.router.Use(middleware.Auth(apiKeyService, s.config.Server.JWTSecret))
}

func (s *Server) setupRoutes(apiKeyService *service.APIKeyService, usageService *service.UsageService, prober *provider.Prober) {
	rateLimitHandler := handler.NewRateLimitHandler(s.limiter)
	apiKeyHandler := handler.NewAPIKeyHandler(apiKeyService)
	usageHandler := handler.NewUsageHandler(usageService)
	systemHandler := handler.NewSystemHandler(s.forwarder, s.registry, prober, s.redis, s.postgres)

	s.router.GET("/health", systemHandler.Health)

	limited := s.router.Group("/", middleware.RateLimit(s.limiter))
	{
		limited.POST("/v1/chat/completions", func(c *gin.Context) {
			s.forwarder.ChatCompletions(c, defaultProvider)
		})
		limited.POST("/:provider/chat/completions", func(c *gin.Context) {
			s.forwarder.ChatCompletions(c, c.Param("provider"))
		})
	}

	// Model listings are served from cache and never charged.
	s.router.GET("/v1/models", func(c *gin.Context) {
		s.forwarder.Models(c, defaultProvider)
	})
	s.router.GET("/:provider/models", func(c *gin.Context) {
		s.forwarder.Models(c, c.Param("provider"))
	})

	api := s.router.Group("/api")
	{
		api.GET("/rate-limit", rateLimitHandler.Status)
		api.GET("/usage", usageHandler.History)
		api.POST("/keys", apiKeyHandler.Create)
		api.GET("/keys", apiKeyHandler.List)
		api.DELETE("/keys/:id", apiKeyHandler.Delete)
	}

	admin := s.router.Group("/admin", middleware.RequireAdmin())
	{
		admin.GET("/usage/summary", usageHandler.GetSummary)
		admin.POST("/usage/prune", usageHandler.Prune)
		admin.POST("/keys/prune", apiKeyHandler.PruneExpired)
		admin.GET("/providers", systemHandler.Providers)
		admin.POST("/providers/:provider/probe", systemHandler.ProbeProvider)
		admin.POST("/providers/:provider/reset", systemHandler.ResetBreaker)
	}
}

func (s *Server) Run(addr string) error {
	s.logWriter.Start()

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// No write timeout: streamed completions hold the connection open
		// for as long as the upstream keeps generating.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("Starting gateway on %s", addr)
	log.Printf("Environment: %s", s.config.Server.Environment)

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down server...")

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	// Flush buffered usage entries after in-flight requests drain.
	s.logWriter.Stop()

	return err
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
