package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/3N-VOY/neuropdfv2/internal/model"
	"github.com/3N-VOY/neuropdfv2/internal/pkg/response"
	"github.com/3N-VOY/neuropdfv2/internal/service"
)

type QAHandler struct {
	auth  *service.AuthService
	query *service.QueryService
}

func NewQAHandler(auth *service.AuthService, query *service.QueryService) *QAHandler {
	return &QAHandler{auth: auth, query: query}
}

type askRequest struct {
	Question   string `json:"question"`
	DocumentID string `json:"document_id"`
}

func (h *QAHandler) Ask(c *gin.Context) {
	key := currentKey(c)
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid", "request body must be json")
		return
	}
	if err := h.auth.Authorize(c.Request.Context(), key.Key, model.OpQuestion); err != nil {
		handleError(c, err)
		return
	}
	answer, err := h.query.Ask(c.Request.Context(), key, req.Question, req.DocumentID)
	if err != nil {
		h.auth.Release(c.Request.Context(), key.Key, model.OpQuestion)
		handleError(c, err)
		return
	}
	response.Success(c, answer)
}
