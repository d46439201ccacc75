package middleware

import (
	"github.com/prsnl/kgraph/internal/config"
	"github.com/prsnl/kgraph/internal/metrics"
	"github.com/prsnl/kgraph/internal/pipeline"
	"github.com/prsnl/kgraph/pkg/store"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/labstack/echo/v4"
)

type AppUser struct {
	Subject     string
	Role        string
	Permissions []string
}

// App carries the shared dependencies every handler reaches through the
// request context.
type App struct {
	Store        store.GraphStorage
	Snapshots    *store.SnapshotReader
	Orchestrator *pipeline.Orchestrator
	Metrics      *metrics.Collector
	Config       config.Config

	// Key verifies bearer tokens. Only consulted when auth is enabled.
	Key          keyfunc.Keyfunc
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
