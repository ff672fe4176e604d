package router

import (
	"github.com/gin-gonic/gin"

	"dialectic.app/engine/internal/http/handler"
)

func SessionRouter(router *gin.RouterGroup, handler *handler.GenerationHandler) {
	router.POST("/:id/stages/:slug/generate", handler.StartGeneration)
}
