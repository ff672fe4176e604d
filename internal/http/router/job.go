package router

import (
	"github.com/gin-gonic/gin"

	"dialectic.app/engine/internal/http/handler"
)

func JobRouter(router *gin.RouterGroup, handler *handler.JobHandler) {
	router.GET("/:id", handler.GetJob)
}
