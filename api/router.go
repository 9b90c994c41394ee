package api

import (
	"ffclip/config"
	"ffclip/logging"
	"ffclip/task"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRouter(tm *task.Manager, cfg *config.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(logging.WithComponent("http")), Metrics())
	h := NewHandler(tm, cfg)

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		v1.POST("/clips", h.handleCreateClip)
		v1.GET("/clips", h.handleListClips)
		v1.GET("/clips/:clipId", h.handleGetClip)
		v1.GET("/clips/:clipId/events", h.handleClipEvents)
		v1.PATCH("/clips/:clipId/cancel", h.handleCancelClip)

		// File download endpoint (does not need auth if URLs are unguessable)
		// but we put it here for consistency.
		v1.GET("/files/:filename", h.handleGetFile)
	}
	return r
}
