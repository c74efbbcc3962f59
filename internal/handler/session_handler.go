package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/3N-VOY/neuropdfv2/internal/model"
	"github.com/3N-VOY/neuropdfv2/internal/pkg/response"
	"github.com/3N-VOY/neuropdfv2/internal/service"
)

type SessionHandler struct {
	sessions *service.SessionService
	ingest   *service.IngestService
}

func NewSessionHandler(sessions *service.SessionService, ingest *service.IngestService) *SessionHandler {
	return &SessionHandler{sessions: sessions, ingest: ingest}
}

type sessionResponse struct {
	Documents []*model.Document   `json:"documents"`
	Messages  []model.ChatMessage `json:"messages"`
}

// Get returns the key's documents and chat transcript so a reconnecting
// client can restore its view.
func (h *SessionHandler) Get(c *gin.Context) {
	key := currentKey(c)
	docs, err := h.ingest.List(c.Request.Context(), key)
	if err != nil {
		handleError(c, err)
		return
	}
	if docs == nil {
		docs = []*model.Document{}
	}
	messages := h.sessions.History(key.Key)
	if messages == nil {
		messages = []model.ChatMessage{}
	}
	response.Success(c, sessionResponse{Documents: docs, Messages: messages})
}

// Clear drops the transcript only; the ingested documents stay.
func (h *SessionHandler) Clear(c *gin.Context) {
	h.sessions.Clear(currentKey(c).Key)
	response.Success(c, gin.H{"cleared": true})
}
