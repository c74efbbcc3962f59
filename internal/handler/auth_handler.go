package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/3N-VOY/neuropdfv2/internal/pkg/response"
	"github.com/3N-VOY/neuropdfv2/internal/service"
)

type AuthHandler struct {
	auth *service.AuthService
}

func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type createKeyRequest struct {
	DeviceFingerprint string `json:"device_fingerprint"`
}

type createKeyResponse struct {
	ApiKey    string `json:"api_key"`
	Identity  string `json:"identity"`
	ExpiresAt int64  `json:"expires_at"`
}

// CreateKey issues (or re-issues) the caller's API key. Logged-in callers
// present a bearer token; anonymous callers send a device fingerprint.
func (h *AuthHandler) CreateKey(c *gin.Context) {
	var req createKeyRequest
	_ = c.ShouldBindJSON(&req)
	if req.DeviceFingerprint == "" {
		req.DeviceFingerprint = c.GetHeader("X-Device-Fingerprint")
	}

	bearer := ""
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			bearer = parts[1]
		}
	}
	key, err := h.auth.Authenticate(c.Request.Context(), bearer, req.DeviceFingerprint)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, createKeyResponse{
		ApiKey:    key.Key,
		Identity:  key.Identity,
		ExpiresAt: key.ExpiresAt,
	})
}
