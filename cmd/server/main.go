package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"digital-self/internal/embed"
	"digital-self/internal/engine"
	"digital-self/internal/graph"
	"digital-self/internal/registry"
	"digital-self/internal/state"
	"digital-self/internal/vector"
	"digital-self/pkg/config"
	"digital-self/pkg/errors"
	"digital-self/pkg/logger"
)

func main() {
	// Initialize logger
	if err := logger.Init(os.Getenv("ENV")); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting memory engine server...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Graph store: Neo4j when configured, in-memory otherwise
	var graphStore graph.Store
	if cfg.Neo4jURI != "" {
		neoStore, err := graph.NewNeo4jStore(context.Background(), cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
		if err != nil {
			log.Fatal("Failed to connect to Neo4j", zap.Error(err))
		}
		graphStore = neoStore
		log.Info("Graph store: neo4j", zap.String("uri", cfg.Neo4jURI))
	} else {
		graphStore = graph.NewMemoryStore()
		log.Info("Graph store: in-memory")
	}
	defer graphStore.Close()

	// Embedding provider with a memoization cache in front
	var embedder embed.Embedder = embed.NewOpenAIEmbedder(
		cfg.EmbeddingBaseURL,
		cfg.EmbeddingAPIKey,
		cfg.EmbeddingModel,
		cfg.EmbeddingDimensions,
	)
	cached, err := embed.NewCachingEmbedder(embedder, cfg.EmbeddingCacheSize)
	if err != nil {
		log.Fatal("Failed to create embedding cache", zap.Error(err))
	}
	embedder = cached

	eng := engine.New(
		vector.NewChromemIndex(),
		graphStore,
		registry.New(),
		embedder,
		engine.Options{
			WriteRetries:  cfg.WriteRetries,
			VectorTimeout: cfg.VectorTimeout,
			MaxFactLength: cfg.MaxFactLength,
			MaxNameLength: cfg.MaxNameLength,
		},
	)

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(eng, log)

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("port", cfg.Port))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

// newRouter wires the HTTP API over the engine.
func newRouter(eng *engine.Engine, log *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API routes
	api := router.Group("/api")
	{
		// Store a fact
		api.POST("/users/:id/facts", func(c *gin.Context) {
			userID := c.Param("id")
			ctx := c.Request.Context()

			var req struct {
				Text            string `json:"text" binding:"required"`
				FactType        string `json:"fact_type" binding:"required"`
				Provenance      string `json:"provenance" binding:"required"`
				RelatedEntityID string `json:"related_entity_id"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			factID, err := eng.StoreFact(ctx, userID, req.Text,
				state.FactType(req.FactType), state.Provenance(req.Provenance),
				req.RelatedEntityID)
			if err != nil {
				respondError(c, log, err)
				return
			}

			c.JSON(http.StatusCreated, gin.H{"fact_id": factID})
		})

		// Confirm an observed fact
		api.POST("/users/:id/facts/:factID/confirm", func(c *gin.Context) {
			userID := c.Param("id")
			factID := c.Param("factID")
			ctx := c.Request.Context()

			if err := eng.ConfirmFact(ctx, userID, factID); err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "confirmed"})
		})

		// Register an entity
		api.POST("/users/:id/entities", func(c *gin.Context) {
			userID := c.Param("id")
			ctx := c.Request.Context()

			var req struct {
				Name       string            `json:"name" binding:"required"`
				EntityType string            `json:"entity_type" binding:"required"`
				Data       map[string]string `json:"data"`
				Provenance string            `json:"provenance" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			canonicalID, err := eng.RegisterEntity(ctx, userID, req.Name,
				state.EntityType(req.EntityType), req.Data,
				state.Provenance(req.Provenance))
			if err != nil {
				respondError(c, log, err)
				return
			}

			c.JSON(http.StatusCreated, gin.H{"canonical_id": canonicalID})
		})

		// Resolve a name (read-only, for caller-side disambiguation)
		api.GET("/users/:id/entities/resolve", func(c *gin.Context) {
			userID := c.Param("id")
			ctx := c.Request.Context()

			name := c.Query("name")
			res, err := eng.Registry().Resolve(ctx, userID, name)
			if err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, res)
		})

		// Recall ranked context
		api.POST("/users/:id/recall", func(c *gin.Context) {
			userID := c.Param("id")
			ctx := c.Request.Context()

			var req struct {
				Query string `json:"query" binding:"required"`
				Limit int    `json:"limit"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if req.Limit == 0 {
				req.Limit = 5
			}

			result, err := eng.Recall(ctx, userID, req.Query, req.Limit)
			if err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, result)
		})

		// Erase everything known about a user
		api.DELETE("/users/:id", func(c *gin.Context) {
			userID := c.Param("id")
			ctx := c.Request.Context()

			if err := eng.EraseUser(ctx, userID); err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "erased"})
		})
	}

	return router
}

// respondError maps engine error categories to HTTP statuses
func respondError(c *gin.Context, log *zap.Logger, err error) {
	switch {
	case errors.IsErrorType(err, errors.ErrorTypeValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.IsErrorType(err, errors.ErrorTypeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.IsErrorType(err, errors.ErrorTypeAmbiguous):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.IsErrorType(err, errors.ErrorTypeWriteFailed):
		log.Error("Write failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "write failed"})
	default:
		log.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
