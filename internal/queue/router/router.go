package router

import (
	"github.com/cuongbtq/fiscal-bridge/internal/queue/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, apiToken string) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	jobHandler := handler.NewJobHandler(deps)

	r.GET("/health", jobHandler.Health)

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/print-jobs")
		jobs.Use(BearerAuthMiddleware(apiToken))
		{
			jobs.POST("", jobHandler.Enqueue)
			jobs.POST("/claim", jobHandler.Claim)
			jobs.POST("/reset-stuck", jobHandler.ResetStuck)

			jobs.PUT("/complete/:id", jobHandler.Complete)
			jobs.PUT("/fail/:id", jobHandler.Fail)
			jobs.PUT("/heartbeat/:id", jobHandler.Heartbeat)

			jobs.GET("/recent", jobHandler.Recent)
			jobs.GET("/pending", jobHandler.Pending)
			jobs.GET("/stats", jobHandler.Stats)
			jobs.GET("/status/:id", jobHandler.Status)
			jobs.GET("/header", jobHandler.Header)

			jobs.DELETE("/cleanup", jobHandler.Cleanup)
		}
	}

	return r
}
