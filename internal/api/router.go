// Package api is the HTTP surface of the wallet daemon.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/MultiSigWallet/internal/caller"
	"github.com/jmerrifield20/MultiSigWallet/internal/eventlog"
	"github.com/jmerrifield20/MultiSigWallet/internal/identity"
	"github.com/jmerrifield20/MultiSigWallet/internal/wallet"
)

// Config wires the router's dependencies. Events and Calls are optional.
type Config struct {
	Wallet      *wallet.Wallet
	Tokens      *identity.TokenIssuer
	Challenges  *identity.ChallengeStore
	Events      eventlog.Log
	Calls       CallLookup
	CORSOrigins []string
	RateLimit   int
	Logger      *zap.Logger
}

// NewRouter builds the gin engine with middleware and every API route.
// Background work started for the router stops when ctx is cancelled.
func NewRouter(ctx context.Context, cfg Config) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(PrometheusMiddleware())

	if len(cfg.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", caller.CallHeader},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: !containsWildcard(cfg.CORSOrigins),
			MaxAge:           12 * time.Hour,
		}))
	}

	router.Use(securityHeaders())

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	if cfg.RateLimit > 0 {
		router.Use(RateLimiter(ctx, cfg.RateLimit, cfg.RateLimit*2))
	}
	router.Use(requestLogger(cfg.Logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", MetricsHandler())

	v1 := router.Group("/api/v1")
	NewAuthHandler(cfg.Challenges, cfg.Tokens, cfg.Wallet.IsOwner, cfg.Logger).Register(v1)
	NewWalletHandler(cfg.Wallet, cfg.Tokens, cfg.Calls, cfg.Logger).Register(v1)
	if cfg.Events != nil {
		NewEventsHandler(cfg.Events, cfg.Logger).Register(v1)
	}
	return router
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "no-referrer")
		c.Next()
	}
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
