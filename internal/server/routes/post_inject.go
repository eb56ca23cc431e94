package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/melokeo/graphmem/internal/server/middleware"
	"github.com/melokeo/graphmem/pkg/detect"
	"github.com/melokeo/graphmem/pkg/logger"
)

// InjectHandler runs the memory pipeline for a user message and returns the
// rendered pack. A pipeline failure degrades to an empty pack with 200: the
// conversation must continue even when memory is down.
func InjectHandler(c echo.Context) error {
	type injectBody struct {
		SessionID string `json:"session_id" validate:"required"`
		MsgID     int64  `json:"msg_id" validate:"required,gt=0"`
		Text      string `json:"text" validate:"required"`
	}

	type injectResponse struct {
		Pack       string         `json:"pack"`
		PackTokens int            `json:"pack_tokens"`
		Detection  *detect.Result `json:"detection,omitempty"`
		SeedIDs    []string       `json:"seed_ids"`
		Created    int            `json:"created"`
		Matched    int            `json:"matched"`
		Nodes      int            `json:"nodes"`
		Edges      int            `json:"edges"`
		Degraded   bool           `json:"degraded,omitempty"`
	}

	data := new(injectBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	app := c.(*middleware.AppContext).App
	res, err := app.Memory.Inject(c.Request().Context(), data.SessionID, data.MsgID, data.Text)
	if err != nil {
		logger.Error("[Server] Inject failed, returning empty pack", "session", data.SessionID, "err", err)
		return c.JSON(http.StatusOK, injectResponse{
			Pack:     "",
			SeedIDs:  []string{},
			Degraded: true,
		})
	}

	return c.JSON(http.StatusOK, injectResponse{
		Pack:       res.Pack,
		PackTokens: res.PackTokens,
		Detection:  &res.Detection,
		SeedIDs:    res.SeedIDs,
		Created:    res.Created,
		Matched:    res.Matched,
		Nodes:      res.Nodes,
		Edges:      res.Edges,
	})
}
