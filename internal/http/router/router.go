package router

import (
	"github.com/gin-gonic/gin"

	"dialectic.app/engine/internal/http/handler"
	"dialectic.app/engine/internal/service"
)

func SetupRoutes(router *gin.Engine, services *service.Services) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		generation := services.Generation()

		generationHandler := handler.NewGenerationHandler(generation)
		SessionRouter(v1.Group("/sessions"), generationHandler)

		jobHandler := handler.NewJobHandler(generation)
		JobRouter(v1.Group("/jobs"), jobHandler)
	}
}
