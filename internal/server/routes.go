package server

import (
	"github.com/labstack/echo/v4"

	"github.com/melokeo/graphmem/internal/server/middleware"
	"github.com/melokeo/graphmem/internal/server/routes"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Memory pipeline routes
	apiRoutes.POST("/memory/inject", routes.InjectHandler)
	apiRoutes.POST("/memory/retrieve", routes.RetrieveHandler)
	apiRoutes.POST("/memory/assistant", routes.AssistantMemoryHandler)

	// Turn analytics routes
	apiRoutes.POST("/turns", routes.LogTurnHandler)
}
