package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"taleBook/internal/account"
	"taleBook/internal/api/middleware"
	"taleBook/internal/auth"
	"taleBook/internal/dbsync"
	"taleBook/internal/story"
)

// Dependencies 汇总路由需要的服务。
type Dependencies struct {
	Accounts       *account.Service
	Stories        *story.Service
	Sync           *dbsync.Manager
	Tokens         *auth.TokenService
	InternalSecret string
	Logger         *slog.Logger
}

// RegisterRoutes 注册业务路由。
func RegisterRoutes(router *gin.Engine, deps Dependencies) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	authHandler := NewAuthHandler(deps.Accounts, deps.Tokens, logger)
	storyHandler := NewStoryHandler(deps.Accounts, deps.Stories, logger)
	syncHandler := NewSyncHandler(deps.Sync, logger)

	requireAuth := []gin.HandlerFunc{
		middleware.AuthMiddleware(deps.Tokens),
		middleware.RequireAccountMiddleware(func(username string) bool {
			_, ok := deps.Accounts.Account(username)
			return ok
		}),
	}

	v1 := router.Group("/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/reset/request", authHandler.RequestReset)
			authGroup.POST("/reset/verify", authHandler.VerifyResetCode)
			authGroup.POST("/reset/complete", authHandler.CompleteReset)
		}

		v1.GET("/characters", append(requireAuth, storyHandler.ListCharacters)...)

		storyGroup := v1.Group("/stories")
		storyGroup.Use(requireAuth...)
		{
			storyGroup.GET("", storyHandler.ListStories)
			storyGroup.GET("/:title", storyHandler.GetStory)
			storyGroup.POST("", storyHandler.CreateStory)
		}
	}

	internal := router.Group("/internal")
	internal.Use(middleware.InternalSecretMiddleware(deps.InternalSecret))
	{
		internal.POST("/sync/pull", syncHandler.Pull)
		internal.POST("/sync/push", syncHandler.Push)
	}
}
