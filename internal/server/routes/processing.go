package routes

import (
	"net/http"

	"github.com/prsnl/kgraph/internal/pipeline"
	"github.com/prsnl/kgraph/internal/server/middleware"

	"github.com/labstack/echo/v4"
)

type jobResponse struct {
	Message   string       `json:"message"`
	Coalesced bool         `json:"coalesced,omitempty"`
	Job       pipeline.Job `json:"job"`
}

// ProcessItemHandler starts processing of one content item, or returns the
// job already working on it.
func ProcessItemHandler(c echo.Context) error {
	type processItemBody struct {
		Steps []pipeline.Step `json:"steps"`
	}

	data := new(processItemBody)
	if err := bind(c, data); err != nil {
		return respondError(c, err)
	}

	app := c.(*middleware.AppContext).App
	job, coalesced, err := app.Orchestrator.Enqueue(c.Request().Context(), c.Param("contentId"), data.Steps)
	if err != nil {
		return respondError(c, err)
	}
	msg := "Processing started"
	if coalesced {
		msg = "Processing already in progress"
	}
	return c.JSON(http.StatusAccepted, jobResponse{Message: msg, Coalesced: coalesced, Job: job})
}

func GetJobStatusHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	job, err := app.Orchestrator.Status(c.Request().Context(), c.Param("jobId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

func GetQueueStatusHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	status, err := app.Orchestrator.QueueStatus(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

// BatchProcessHandler enqueues several content items at once. Items that
// could not be enqueued carry their error in the response.
func BatchProcessHandler(c echo.Context) error {
	type batchBody struct {
		ContentIDs []string        `json:"content_ids" validate:"required"`
		Steps      []pipeline.Step `json:"steps"`
	}
	type batchResponse struct {
		Items  []pipeline.BatchItem `json:"items"`
		Total  int                  `json:"total"`
		Failed int                  `json:"failed"`
	}

	data := new(batchBody)
	if err := bind(c, data); err != nil {
		return respondError(c, err)
	}

	app := c.(*middleware.AppContext).App
	items, err := app.Orchestrator.BatchProcess(c.Request().Context(), data.ContentIDs, data.Steps)
	if err != nil {
		return respondError(c, err)
	}
	res := batchResponse{Items: items, Total: len(items)}
	for _, it := range items {
		if it.Error != "" {
			res.Failed++
		}
	}
	return c.JSON(http.StatusAccepted, res)
}

func CancelJobHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	job, err := app.Orchestrator.Cancel(c.Request().Context(), c.Param("jobId"))
	if err != nil {
		return respondError(c, err)
	}
	msg := "Job cancelled"
	if job.Status == pipeline.StatusProcessing {
		msg = "Job will stop after the current step"
	}
	return c.JSON(http.StatusOK, jobResponse{Message: msg, Job: job})
}

func RetryJobHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	job, err := app.Orchestrator.Retry(c.Request().Context(), c.Param("jobId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusAccepted, jobResponse{Message: "Retry started", Job: job})
}

func GetProcessingStatsHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	stats, err := app.Orchestrator.Stats(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}
