package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/3N-VOY/neuropdfv2/internal/pkg/response"
	"github.com/3N-VOY/neuropdfv2/internal/vectorstore"
)

// DebugHandler exposes index introspection for development. The router
// never mounts it in production.
type DebugHandler struct {
	store vectorstore.Store
}

func NewDebugHandler(store vectorstore.Store) *DebugHandler {
	return &DebugHandler{store: store}
}

func (h *DebugHandler) IndexInfo(c *gin.Context) {
	stats, err := h.store.Namespaces(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	total := int64(0)
	for _, count := range stats {
		total += count
	}
	response.Success(c, gin.H{
		"namespaces":    stats,
		"total_vectors": total,
	})
}

func (h *DebugHandler) ClearIndex(c *gin.Context) {
	ctx := c.Request.Context()
	stats, err := h.store.Namespaces(ctx)
	if err != nil {
		handleError(c, err)
		return
	}
	cleared := 0
	for ns := range stats {
		if err := h.store.DeleteNamespace(ctx, ns); err != nil {
			logutil.GetLogger(ctx).Warn("failed to clear namespace",
				zap.String("namespace", ns), zap.Error(err))
			continue
		}
		cleared++
	}
	response.Success(c, gin.H{"cleared_namespaces": cleared})
}
