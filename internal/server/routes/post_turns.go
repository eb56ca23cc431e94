package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/melokeo/graphmem/internal/server/middleware"
	"github.com/melokeo/graphmem/pkg/detect"
	"github.com/melokeo/graphmem/pkg/logger"
)

// LogTurnHandler records the analytics row for a completed turn and queues
// reinforcement for its seeds. The client echoes back the detection it got
// from inject.
func LogTurnHandler(c echo.Context) error {
	type logTurnBody struct {
		SessionID      string        `json:"session_id" validate:"required"`
		UserMsgID      int64         `json:"user_msg_id" validate:"required,gt=0"`
		AssistantMsgID *int64        `json:"assistant_msg_id,omitempty"`
		Detection      detect.Result `json:"detection"`
		SeedIDs        []string      `json:"seed_ids"`
	}

	data := new(logTurnBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	app := c.(*middleware.AppContext).App
	turnID, err := app.Memory.LogTurn(c.Request().Context(), data.SessionID, data.UserMsgID, data.AssistantMsgID, data.Detection, data.SeedIDs)
	if err != nil {
		logger.Error("[Server] Turn logging failed", "session", data.SessionID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to log turn"})
	}

	return c.JSON(http.StatusOK, map[string]string{"turn_id": turnID})
}
