package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"taleBook/internal/dbsync"
)

func Error(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

func Unauthorized(c *gin.Context)           { Error(c, http.StatusUnauthorized, "unauthorized") }
func BadRequest(c *gin.Context, msg string) { Error(c, http.StatusBadRequest, msg) }
func NotFound(c *gin.Context, msg string)   { Error(c, http.StatusNotFound, msg) }
func Conflict(c *gin.Context, msg string)   { Error(c, http.StatusConflict, msg) }
func Internal(c *gin.Context, msg string)   { Error(c, http.StatusInternalServerError, msg) }
func BadGateway(c *gin.Context, msg string) { Error(c, http.StatusBadGateway, msg) }

// syncPending 判断 err 是否只是推送失败：本地已提交，下一次成功推送会带上这次修改。
// 是则记录告警并返回 true，调用方按成功处理。
func syncPending(logger *slog.Logger, err error) bool {
	if err == nil || !errors.Is(err, dbsync.ErrPushFailed) {
		return false
	}
	logger.Warn("change saved locally, remote sync pending", slog.Any("error", err))
	return true
}
