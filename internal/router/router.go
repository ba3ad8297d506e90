package router

import (
	"net/http"

	"github.com/careguide/backend/config"
	"github.com/careguide/backend/internal/handler"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

func Setup(
	cfg *config.Config,
	chatHandler *handler.ChatHandler,
	metrics http.Handler,
) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length", handler.ThreadIDHeader},
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	// SSE 不能压缩，否则事件会被缓冲
	r.POST("/chat", chatHandler.Chat)

	api := r.Group("/api", gzip.Gzip(gzip.DefaultCompression))
	{
		sessions := api.Group("/sessions")
		{
			sessions.GET("/:id/messages", chatHandler.Messages)
			sessions.POST("/:id/cancel", chatHandler.Cancel)
		}
	}

	return r
}
