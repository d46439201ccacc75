package routes

import (
	"errors"
	"net/http"

	"github.com/prsnl/kgraph/internal/pipeline"
	"github.com/prsnl/kgraph/pkg/common"
	"github.com/prsnl/kgraph/pkg/logger"

	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// errorStatus maps the domain error taxonomy onto HTTP status codes.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, common.ErrCycle):
		return http.StatusBadRequest, "cycle"
	case errors.Is(err, common.ErrSelfRelationship):
		return http.StatusBadRequest, "self_relationship"
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, common.ErrJobExhaustedRetries):
		return http.StatusConflict, "job_exhausted_retries"
	case errors.Is(err, pipeline.ErrQueueFull):
		return http.StatusServiceUnavailable, "queue_full"
	case errors.Is(err, common.ErrUpstreamService):
		return http.StatusBadGateway, "upstream_service_error"
	}
	return http.StatusInternalServerError, "internal_error"
}

func respondError(c echo.Context, err error) error {
	status, code := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("[Server] Request failed", "path", c.Path(), "err", err)
		msg = "Internal server error"
	}
	return c.JSON(status, ErrorResponse{Error: msg, Code: code})
}

// bind decodes the body into data and runs its validate tags.
func bind(c echo.Context, data any) error {
	if err := c.Bind(data); err != nil {
		return common.NewValidationError("body", "invalid request body: %v", err)
	}
	if err := c.Validate(data); err != nil {
		return common.NewValidationError("body", "%v", err)
	}
	return nil
}
