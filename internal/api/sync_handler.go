package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"taleBook/internal/api/middleware"
	"taleBook/internal/dbsync"
)

// SyncHandler 暴露手动拉取/推送，供运维在多实例之间对齐数据。
type SyncHandler struct {
	manager *dbsync.Manager
	logger  *slog.Logger
}

func NewSyncHandler(manager *dbsync.Manager, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{manager: manager, logger: logger}
}

// Pull 丢弃本地副本并重新下载远端数据库。
func (h *SyncHandler) Pull(c *gin.Context) {
	result, err := h.manager.Pull(c.Request.Context())
	if err != nil {
		middleware.LoggerFromContext(c).Error("manual pull failed", slog.Any("error", err))
		Internal(c, "pull failed")
		return
	}

	resp := gin.H{
		"source":   result.Source,
		"revision": result.Revision,
		"attempts": result.Attempts,
	}
	if result.LastErr != nil {
		resp["last_error"] = result.LastErr.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// Push 上传本地数据库。
func (h *SyncHandler) Push(c *gin.Context) {
	err := h.manager.Push(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"revision": h.manager.Revision()})
	case errors.Is(err, dbsync.ErrRevisionConflict):
		Conflict(c, "remote database changed since last sync, pull first")
	default:
		middleware.LoggerFromContext(c).Error("manual push failed", slog.Any("error", err))
		BadGateway(c, "push failed")
	}
}
