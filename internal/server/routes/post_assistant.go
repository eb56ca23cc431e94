package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/melokeo/graphmem/internal/server/middleware"
	"github.com/melokeo/graphmem/pkg/logger"
)

// AssistantMemoryHandler links entities out of an assistant reply so stated
// facts land in the graph. Fenced blocks in the reply are ignored.
func AssistantMemoryHandler(c echo.Context) error {
	type assistantBody struct {
		SessionID string `json:"session_id" validate:"required"`
		MsgID     int64  `json:"msg_id" validate:"required,gt=0"`
		Text      string `json:"text" validate:"required"`
	}

	type assistantResponse struct {
		SeedIDs  []string `json:"seed_ids"`
		Created  int      `json:"created"`
		Matched  int      `json:"matched"`
		Degraded bool     `json:"degraded,omitempty"`
	}

	data := new(assistantBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	app := c.(*middleware.AppContext).App
	res, err := app.Memory.ProcessAssistantMemory(c.Request().Context(), data.SessionID, data.MsgID, data.Text)
	if err != nil {
		logger.Error("[Server] Assistant memory failed", "session", data.SessionID, "err", err)
		return c.JSON(http.StatusOK, assistantResponse{SeedIDs: []string{}, Degraded: true})
	}

	return c.JSON(http.StatusOK, assistantResponse{
		SeedIDs: res.Seeds,
		Created: res.Created,
		Matched: res.Matched,
	})
}
