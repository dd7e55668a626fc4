package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// CORSMiddleware handles CORS headers for the local UI
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// requestLimiter tracks request rates per client IP
type requestLimiter struct {
	mu       sync.Mutex
	requests map[string]*requestCounter
	limit    int
	window   time.Duration
}

type requestCounter struct {
	count     int
	resetTime time.Time
}

func newRequestLimiter(requestsPerMinute int) *requestLimiter {
	rl := &requestLimiter{
		requests: make(map[string]*requestCounter),
		limit:    requestsPerMinute,
		window:   time.Minute,
	}
	go rl.cleanup()
	return rl
}

func (rl *requestLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	counter, exists := rl.requests[ip]
	if !exists {
		rl.requests[ip] = &requestCounter{count: 1, resetTime: time.Now().Add(rl.window)}
		return true
	}

	if time.Now().After(counter.resetTime) {
		counter.count = 1
		counter.resetTime = time.Now().Add(rl.window)
		return true
	}

	if counter.count >= rl.limit {
		return false
	}

	counter.count++
	return true
}

// cleanup removes expired entries periodically
func (rl *requestLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for ip, counter := range rl.requests {
			if now.After(counter.resetTime) {
				delete(rl.requests, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, ErrorResponse{
				Error:   "Rate limit exceeded",
				Message: fmt.Sprintf("Maximum %d requests per minute", s.limiter.limit),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		latency := time.Since(startTime)
		statusCode := c.Writer.Status()

		var statusColor string
		switch {
		case statusCode >= 500:
			statusColor = "\033[31m" // Red
		case statusCode >= 400:
			statusColor = "\033[33m" // Yellow
		case statusCode >= 300:
			statusColor = "\033[36m" // Cyan
		default:
			statusColor = "\033[32m" // Green
		}

		fmt.Printf("%s%d%s | %s | %s %s | %v\n",
			statusColor,
			statusCode,
			"\033[0m",
			c.ClientIP(),
			c.Request.Method,
			c.Request.URL.Path,
			latency,
		)
	}
}

// ErrorResponse is a standard error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// SuccessResponse is a standard success response
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}
