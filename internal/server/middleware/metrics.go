package middleware

import (
	"strconv"
	"time"

	"github.com/prsnl/kgraph/internal/metrics"

	"github.com/labstack/echo/v4"
)

// MetricsMiddleware counts requests per registered route, so ids in the path
// do not blow up the label space.
func MetricsMiddleware(m *metrics.Collector) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			status := strconv.Itoa(c.Response().Status)
			m.HTTPRequests.WithLabelValues(method, route, status).Inc()
			m.HTTPDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
