package handler

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/3N-VOY/neuropdfv2/internal/model"
	appErr "github.com/3N-VOY/neuropdfv2/internal/pkg/errors"
	"github.com/3N-VOY/neuropdfv2/internal/pkg/response"
	"github.com/3N-VOY/neuropdfv2/internal/service"
)

type DocumentHandler struct {
	auth         *service.AuthService
	ingest       *service.IngestService
	maxFileBytes int64
}

func NewDocumentHandler(auth *service.AuthService, ingest *service.IngestService, maxFileBytes int) *DocumentHandler {
	return &DocumentHandler{auth: auth, ingest: ingest, maxFileBytes: int64(maxFileBytes)}
}

// Upload ingests one PDF. Quota is consumed up front and refunded when the
// pipeline fails, so a broken file never costs the caller an upload.
func (h *DocumentHandler) Upload(c *gin.Context) {
	key := currentKey(c)
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid", "file is required")
		return
	}
	if h.maxFileBytes > 0 && file.Size > h.maxFileBytes {
		handleError(c, fmt.Errorf("%w: %d bytes", appErr.ErrFileTooLarge, file.Size))
		return
	}
	opened, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid", "failed to open file")
		return
	}
	defer opened.Close()
	data, err := io.ReadAll(opened)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid", "failed to read file")
		return
	}

	if err := h.auth.Authorize(c.Request.Context(), key.Key, model.OpUpload); err != nil {
		handleError(c, err)
		return
	}
	doc, err := h.ingest.Ingest(c.Request.Context(), key, file.Filename, data)
	if err != nil {
		h.auth.Release(c.Request.Context(), key.Key, model.OpUpload)
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.ingest.List(c.Request.Context(), currentKey(c))
	if err != nil {
		handleError(c, err)
		return
	}
	if docs == nil {
		docs = []*model.Document{}
	}
	response.Success(c, docs)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.ingest.Remove(c.Request.Context(), currentKey(c), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": true})
}

// Download streams back the archived original file.
func (h *DocumentHandler) Download(c *gin.Context) {
	file, doc, err := h.ingest.OpenFile(c.Request.Context(), currentKey(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	defer file.Close()
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	c.DataFromReader(http.StatusOK, doc.SizeBytes, "application/pdf", file, nil)
}
