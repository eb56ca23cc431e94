package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/melokeo/graphmem/internal/server/middleware"
	"github.com/melokeo/graphmem/pkg/logger"
)

// RetrieveHandler answers a read-only memory query. Nothing is written to
// the graph on this path.
func RetrieveHandler(c echo.Context) error {
	type retrieveBody struct {
		Query string `json:"query" validate:"required"`
	}

	type retrieveResponse struct {
		Pack     string `json:"pack"`
		Nodes    int    `json:"nodes"`
		Edges    int    `json:"edges"`
		Degraded bool   `json:"degraded,omitempty"`
	}

	data := new(retrieveBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	app := c.(*middleware.AppContext).App
	pack, sg, err := app.Memory.RetrieveText(c.Request().Context(), data.Query)
	if err != nil {
		logger.Error("[Server] Retrieve failed, returning empty pack", "err", err)
		return c.JSON(http.StatusOK, retrieveResponse{Degraded: true})
	}

	return c.JSON(http.StatusOK, retrieveResponse{
		Pack:  pack,
		Nodes: len(sg.Nodes),
		Edges: len(sg.Edges),
	})
}
