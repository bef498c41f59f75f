package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/txsuite/pipeline-be/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "pipeline-api-service",
		})
	})

	webhookHandler := handler.NewWebhookHandler(deps)
	callbackHandler := handler.NewCallbackHandler(deps)
	jobHandler := handler.NewJobHandler(deps)

	// Client-facing pipeline endpoints
	client := r.Group("/client")
	{
		// POST /client/webhook - push notification from the repo host
		client.POST("/webhook", webhookHandler.HandlePush)

		// POST /client/callback/converter - converter completion callback
		client.POST("/callback/converter", callbackHandler.HandleConverterCallback)

		// POST /client/callback/linter - linter completion callback
		client.POST("/callback/linter", callbackHandler.HandleLinterCallback)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)
		}
	}

	return r
}
