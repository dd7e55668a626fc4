// Package api exposes the session engine over a local HTTP REST API,
// consumed by the desktop presentation layer.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/auracord/auracord-node/pkg/network"
)

// Server is the HTTP API server fronting one session engine.
type Server struct {
	engine     *network.Engine
	router     *gin.Engine
	port       int
	httpServer *http.Server
	limiter    *requestLimiter
}

// Config holds server configuration
type Config struct {
	Port         int
	EnableCORS   bool
	RateLimit    int // Requests per minute, per client IP
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Port:         8087,
		EnableCORS:   true,
		RateLimit:    300,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
}

// NewServer creates a new HTTP API server
func NewServer(engine *network.Engine, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	server := &Server{
		engine:  engine,
		router:  router,
		port:    config.Port,
		limiter: newRequestLimiter(config.RateLimit),
	}

	server.setupMiddleware(config)
	server.setupRoutes()
	return server
}

func (s *Server) setupMiddleware(config *Config) {
	if config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}
	s.router.Use(s.rateLimitMiddleware())
	s.router.Use(LoggingMiddleware())
	s.router.Use(gin.Recovery())
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.handleStatus)

		v1.GET("/connections", s.handleConnections)
		v1.POST("/connections", s.handleConnect)

		friends := v1.Group("/friends")
		{
			friends.GET("", s.handleFriends)
			friends.GET("/requests", s.handleFriendRequests)
			friends.POST("/requests", s.handleSendFriendRequest)
			friends.POST("/requests/:id/accept", s.handleAcceptFriend)
			friends.POST("/requests/:id/reject", s.handleRejectFriend)
		}

		messages := v1.Group("/messages")
		{
			messages.GET("", s.handleMessages)
			messages.POST("", s.handleSendMessage)
			messages.DELETE("", s.handleClearMessages)
			messages.POST("/:id/reactions", s.handleReaction)
		}

		v1.PUT("/profile/name", s.handleNameChange)

		call := v1.Group("/call")
		{
			call.GET("", s.handleCallState)
			call.POST("", s.handleStartCall)
			call.POST("/answer", s.handleAnswerCall)
			call.POST("/reject", s.handleRejectCall)
			call.POST("/end", s.handleEndCall)
		}

		v1.GET("/notice", s.handleNotice)
		v1.DELETE("/notice", s.handleClearNotice)
	}

	s.router.GET("/health", s.handleHealth)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the server until the context is cancelled, then shuts it
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		fmt.Printf("🌐 HTTP API server starting on port %d...\n", s.port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("❌ Server error: %v\n", err)
		}
	}()

	<-ctx.Done()

	fmt.Println("\n🛑 Shutting down HTTP API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Stop stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
