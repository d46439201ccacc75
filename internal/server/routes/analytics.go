package routes

import (
	"net/http"
	"time"

	"github.com/prsnl/kgraph/internal/server/middleware"
	"github.com/prsnl/kgraph/pkg/cluster"
	"github.com/prsnl/kgraph/pkg/common"
	"github.com/prsnl/kgraph/pkg/gaps"
	"github.com/prsnl/kgraph/pkg/paths"
	"github.com/prsnl/kgraph/pkg/suggest"

	"github.com/labstack/echo/v4"
)

// analyze binds the request body into params, runs engine over a fresh
// snapshot and writes its result.
func analyze[P, R any](c echo.Context, engine string, params *P, run func(common.Snapshot, P) (R, error)) error {
	if err := c.Bind(params); err != nil {
		return respondError(c, common.NewValidationError("body", "invalid request body: %v", err))
	}

	app := c.(*middleware.AppContext).App
	snap, err := app.Snapshots.Snapshot(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}

	start := time.Now()
	res, err := run(snap, *params)
	if app.Metrics != nil {
		app.Metrics.ObserveAnalytics(engine, time.Since(start))
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func ClusterHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	params := &cluster.Params{MergeThreshold: app.Config.Analytics.MergeThreshold}
	return analyze(c, "clustering", params, cluster.Run)
}

func GapsHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	params := &gaps.Params{SparseThreshold: app.Config.Analytics.SparseThreshold}
	return analyze(c, "gaps", params, gaps.Analyze)
}

func PathsHandler(c echo.Context) error {
	return analyze(c, "paths", &paths.Params{}, paths.Find)
}

func SuggestHandler(c echo.Context) error {
	params := &suggest.Params{
		MinConfidence:   suggest.DefaultMinConfidence,
		ExcludeExisting: true,
	}
	return analyze(c, "suggestions", params, suggest.Suggest)
}
