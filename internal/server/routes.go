package server

import (
	"net/http"

	"github.com/prsnl/kgraph/internal/server/middleware"
	"github.com/prsnl/kgraph/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo, app *middleware.App) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	if app.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(app.Metrics.Handler()))
	}

	graphWrite := middleware.RequirePermission("graph.write")
	processingWrite := middleware.RequirePermission("processing.write")

	// Graph routes
	graph := e.Group("/graph", middleware.AuthMiddleware)
	graph.POST("/entities", routes.CreateEntityHandler, graphWrite)
	graph.POST("/relationships", routes.CreateRelationshipHandler, graphWrite)
	graph.DELETE("/relationships/:id", routes.DeleteRelationshipHandler, graphWrite)
	graph.GET("/stats", routes.GetGraphStatsHandler)

	// Visual routes
	graph.GET("/visual/full", routes.GetFullGraphHandler)
	graph.GET("/visual/:itemId", routes.GetItemGraphHandler)

	// Analytics routes
	graph.POST("/clustering/semantic", routes.ClusterHandler)
	graph.POST("/analysis/gaps", routes.GapsHandler)
	graph.POST("/paths/discover", routes.PathsHandler)
	graph.POST("/relationships/suggest", routes.SuggestHandler)

	// Processing routes
	processing := e.Group("/processing", middleware.AuthMiddleware)
	processing.POST("/process-item/:contentId", routes.ProcessItemHandler, processingWrite)
	processing.GET("/status/:jobId", routes.GetJobStatusHandler)
	processing.GET("/queue/status", routes.GetQueueStatusHandler)
	processing.POST("/batch-process", routes.BatchProcessHandler, processingWrite)
	processing.POST("/cancel/:jobId", routes.CancelJobHandler, processingWrite)
	processing.POST("/retry/:jobId", routes.RetryJobHandler, processingWrite)
	processing.GET("/stats", routes.GetProcessingStatsHandler)
}
