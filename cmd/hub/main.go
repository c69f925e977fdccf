package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/robot-teleop/hub/api/handlers"
	"github.com/robot-teleop/hub/internal/db"
	"github.com/robot-teleop/hub/internal/hub"
	"github.com/robot-teleop/hub/internal/journal"
	"github.com/robot-teleop/hub/internal/repository"
)

func main() {
	// Get configuration from environment
	port := getEnv("PORT", "9000")
	dbPath := getEnv("DB_PATH", "data/hubstate.db")
	journalSize := getEnvInt("JOURNAL_SIZE", 256)

	// Ensure the data directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	// Initialize database
	database, err := db.InitDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.CloseDB()

	// Initialize the state store and reload persisted state
	stateRepo := repository.NewStateRepository(database)
	store := hub.NewStore(stateRepo, journal.New(journalSize))
	if err := store.Load(context.Background()); err != nil {
		log.Fatalf("Failed to load persisted state: %v", err)
	}

	// Initialize the hub and its WebSocket handler
	stateHub := hub.New(store)
	defer stateHub.Close()
	wsHandler := hub.NewHandler(stateHub)

	// Initialize handlers
	hubHandler := handlers.NewHubHandler(stateHub)
	signalingHandler := handlers.NewSignalingHandler(stateHub)
	webSocketHandler := handlers.NewWebSocketHandler(wsHandler)

	// Initialize Gin router
	r := gin.Default()

	// Enable CORS for development
	r.Use(corsMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"clients": stateHub.ClientCount(),
		})
	})

	// Hub socket endpoint
	webSocketHandler.RegisterRoutes(r)

	// API routes
	api := r.Group("/api")
	{
		hubHandler.RegisterRoutes(api)
		signalingHandler.RegisterRoutes(api)
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down hub...")
		stateHub.Close()
		db.CloseDB()
		os.Exit(0)
	}()

	// Start server
	log.Printf("Starting hub on port %s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start hub: %v", err)
	}
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default value.
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Ignoring invalid %s=%q: %v", key, value, err)
		return defaultValue
	}
	return n
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
