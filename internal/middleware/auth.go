package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/3N-VOY/neuropdfv2/internal/model"
	"github.com/3N-VOY/neuropdfv2/internal/pkg/response"
)

const ContextApiKey = "api_key"

// KeyValidator is implemented by the auth service.
type KeyValidator interface {
	Validate(ctx context.Context, key string) (*model.ApiKey, error)
}

// ApiKeyAuth resolves the X-API-Key header to its record and stores it on
// the request context. Missing, unknown, and expired keys all get the same
// 401.
func ApiKeyAuth(validator KeyValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := validator.Validate(c.Request.Context(), c.GetHeader("X-API-Key"))
		if err != nil {
			response.Error(c, http.StatusUnauthorized, "unauthorized", "invalid or missing api key")
			c.Abort()
			return
		}
		c.Set(ContextApiKey, key)
		c.Next()
	}
}

// KeyFromContext returns the authenticated key set by ApiKeyAuth.
func KeyFromContext(c *gin.Context) (*model.ApiKey, bool) {
	v, ok := c.Get(ContextApiKey)
	if !ok {
		return nil, false
	}
	key, ok := v.(*model.ApiKey)
	return key, ok
}
