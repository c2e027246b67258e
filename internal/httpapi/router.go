package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/mediagen-relay/internal/common"
	"github.com/suPer8Hu/mediagen-relay/internal/httpapi/handlers"
	"github.com/suPer8Hu/mediagen-relay/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.Recovery(log))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))

	r.GET("/ping", h.Ping)

	api := r.Group("/api")

	// clients
	api.POST("/auth/login", h.Login)
	api.POST("/auth/registration", middleware.AdminAuth(h.Clients), h.Register)
	self := api.Group("/auth/user", middleware.ClientAuth(h.Clients, false))
	self.GET("/whoami", h.WhoAmI)
	self.POST("/webhook", h.UpdateWebhook)

	// catalog listings need no key
	api.GET("/generate/styles", h.ListStyles)
	api.GET("/generate/motions", h.ListMotions)

	// generation and task management need a webhook to deliver to
	gen := api.Group("/generate", middleware.ClientAuth(h.Clients, true))
	gen.POST("/t2i", h.TextToImage)
	gen.POST("/soul", h.Soul)
	gen.POST("/i2v", h.ImageToVideo)

	task := api.Group("/task", middleware.ClientAuth(h.Clients, true))
	task.POST("/restart", h.RestartTask)
	task.GET("/:task_id", h.TaskResult)
	task.GET("/:task_id/status", h.TaskStatus)
	task.POST("/:task_id/cancel", h.CancelTask)

	return r
}
