package routes

import (
	"net/http"

	"github.com/prsnl/kgraph/internal/server/middleware"
	"github.com/prsnl/kgraph/pkg/common"
	"github.com/prsnl/kgraph/pkg/visual"

	"github.com/labstack/echo/v4"
)

// GetFullGraphHandler renders the most confident part of the whole graph.
func GetFullGraphHandler(c echo.Context) error {
	var entityType, relType string
	params := visual.FullParams{}
	err := echo.QueryParamsBinder(c).
		String("entity_type", &entityType).
		String("relationship_type", &relType).
		Int("limit", &params.Limit).
		Float64("min_confidence", &params.MinConfidence).
		BindError()
	if err != nil {
		return respondError(c, common.NewValidationError("query", "%v", err))
	}
	params.EntityType = common.EntityType(entityType)
	params.RelationshipType = common.RelationshipType(relType)

	app := c.(*middleware.AppContext).App
	snap, err := app.Snapshots.Snapshot(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	graph, err := visual.Full(snap, params)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, graph)
}

// GetItemGraphHandler renders the neighbourhood of one content item.
func GetItemGraphHandler(c echo.Context) error {
	params := visual.ItemParams{ItemID: c.Param("itemId")}
	err := echo.QueryParamsBinder(c).
		Int("depth", &params.Depth).
		Int("limit", &params.Limit).
		Float64("min_confidence", &params.MinConfidence).
		BindError()
	if err != nil {
		return respondError(c, common.NewValidationError("query", "%v", err))
	}

	app := c.(*middleware.AppContext).App
	snap, err := app.Snapshots.Snapshot(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	graph, err := visual.Item(snap, params)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, graph)
}
