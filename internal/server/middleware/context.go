package middleware

import (
	"github.com/MicahParks/keyfunc/v3"
	"github.com/labstack/echo/v4"

	"github.com/melokeo/graphmem/pkg/graphmem"
	"github.com/melokeo/graphmem/pkg/store"
)

type AppUser struct {
	UserID int64
	Role   string
}

// App holds the per-process dependencies handlers reach through the request
// context. Key is nil when JWT auth is not configured.
type App struct {
	Store        store.GraphStore
	Memory       *graphmem.Memory
	Key          *keyfunc.Keyfunc
	MasterAPIKey string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
