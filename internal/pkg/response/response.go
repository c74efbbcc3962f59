// Package response renders the API's two JSON envelopes: {"data": ...}
// on success and {"error": {"code", "message"}} on failure. The code is
// the stable machine-readable error kind clients branch on; the message
// is advisory only.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"data": data})
}

func Error(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": APIError{Code: code, Message: message}})
}
