package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"media-proxy-go/internal/metrics"
)

// abortedStatus labels requests whose handler aborted the connection mid-stream.
const abortedStatus = "aborted"

// MetricsMiddleware returns an Echo middleware that records Prometheus metrics
// for each inbound request. Recording happens in a deferred call so streams
// cut short with http.ErrAbortHandler are still counted, as "aborted".
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			m.RequestsInFlight.Inc()
			start := time.Now()
			returned := false

			defer func() {
				m.RequestsInFlight.Dec()

				status := abortedStatus
				if returned {
					status = strconv.Itoa(statusCode(c, err))
				}
				method := metrics.NormalizeMethod(c.Request().Method)
				path := metrics.NormalizePath(c.Request().URL.Path)

				m.RequestsTotal.WithLabelValues(method, status, path).Inc()
				m.RequestDuration.WithLabelValues(method, status, path).Observe(time.Since(start).Seconds())
			}()

			err = next(c)
			returned = true
			return err
		}
	}
}

// statusCode resolves the status that will be sent. When a handler returns an
// *echo.HTTPError the response is not written yet; Echo's error handler does
// that after the middleware chain unwinds.
func statusCode(c echo.Context, err error) int {
	var he *echo.HTTPError
	if err != nil && errors.As(err, &he) {
		return he.Code
	}
	return c.Response().Status
}
