package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/3N-VOY/neuropdfv2/internal/middleware"
	"github.com/3N-VOY/neuropdfv2/internal/model"
	appErr "github.com/3N-VOY/neuropdfv2/internal/pkg/errors"
	"github.com/3N-VOY/neuropdfv2/internal/pkg/response"
)

func currentKey(c *gin.Context) *model.ApiKey {
	key, _ := middleware.KeyFromContext(c)
	return key
}

// handleError maps the service error taxonomy onto HTTP statuses and
// stable machine-readable codes. Clients branch on the code, never the
// message.
func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	requestID, _ := c.Get("request_id")
	logutil.GetLogger(c.Request.Context()).Warn("request failed",
		zap.Any("request_id", requestID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	switch {
	case errors.Is(err, appErr.ErrUnauthorized):
		response.Error(c, http.StatusUnauthorized, "unauthorized", "invalid or missing api key")
	case errors.Is(err, appErr.ErrQuotaExceeded):
		response.Error(c, http.StatusTooManyRequests, "quota_exceeded", "daily quota exhausted")
	case errors.Is(err, appErr.ErrTooMany):
		response.Error(c, http.StatusTooManyRequests, "rate_limited", "too many requests")
	case errors.Is(err, appErr.ErrUnsupportedFormat):
		response.Error(c, http.StatusBadRequest, "unsupported_format", "only pdf files are supported")
	case errors.Is(err, appErr.ErrFileTooLarge):
		response.Error(c, http.StatusRequestEntityTooLarge, "file_too_large", "file exceeds the size limit")
	case errors.Is(err, appErr.ErrExtractionFailed):
		response.Error(c, http.StatusUnprocessableEntity, "extraction_failed", "could not extract text from the file")
	case errors.Is(err, appErr.ErrEmbeddingFailed):
		response.Error(c, http.StatusBadGateway, "embedding_failed", "embedding provider failed")
	case errors.Is(err, appErr.ErrInvalidQuestion):
		response.Error(c, http.StatusBadRequest, "invalid_question", "question is empty or too long")
	case errors.Is(err, appErr.ErrNoDocument):
		response.Error(c, http.StatusBadRequest, "no_document", "upload a document before asking questions")
	case errors.Is(err, appErr.ErrGenerationFailed):
		response.Error(c, http.StatusBadGateway, "generation_failed", "answer generation failed")
	case errors.Is(err, appErr.ErrTimeout):
		response.Error(c, http.StatusGatewayTimeout, "timeout", "the operation timed out")
	case errors.Is(err, appErr.ErrNotFound):
		response.Error(c, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, appErr.ErrConflict):
		response.Error(c, http.StatusConflict, "conflict", "conflict")
	case errors.Is(err, appErr.ErrInvalid):
		response.Error(c, http.StatusBadRequest, "invalid", "invalid request")
	default:
		response.Error(c, http.StatusInternalServerError, "internal", "internal error")
	}
}
