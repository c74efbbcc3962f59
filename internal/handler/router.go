package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/3N-VOY/neuropdfv2/internal/middleware"
	"github.com/3N-VOY/neuropdfv2/internal/pkg/response"
)

type RouterDeps struct {
	Auth      *AuthHandler
	Documents *DocumentHandler
	QA        *QAHandler
	Session   *SessionHandler
	// Debug stays nil in production; its routes are never mounted there.
	Debug       *DebugHandler
	Validator   middleware.KeyValidator
	Environment string

	CreateKeyWindow time.Duration
	RequestWindow   time.Duration
}

func RegisterRoutes(root *gin.RouterGroup, deps RouterDeps) {
	root.GET("/health", Health(deps.Environment))

	api := root.Group("/api/v1")
	api.POST("/create-api-key", middleware.RateLimit(deps.CreateKeyWindow), deps.Auth.CreateKey)

	authed := api.Group("")
	authed.Use(middleware.ApiKeyAuth(deps.Validator))
	if deps.RequestWindow > 0 {
		authed.Use(middleware.RateLimit(deps.RequestWindow))
	}
	authed.POST("/upload", deps.Documents.Upload)
	authed.POST("/ask", deps.QA.Ask)
	authed.GET("/documents", deps.Documents.List)
	authed.DELETE("/documents/:id", deps.Documents.Delete)
	authed.GET("/documents/:id/file", deps.Documents.Download)
	authed.GET("/session", deps.Session.Get)
	authed.DELETE("/session", deps.Session.Clear)

	if deps.Debug != nil {
		debug := api.Group("/debug")
		debug.GET("/index-info", deps.Debug.IndexInfo)
		debug.POST("/clear-index", deps.Debug.ClearIndex)
	}
}

func Health(environment string) gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, gin.H{"status": "ok", "environment": environment})
	}
}
