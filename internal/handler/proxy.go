package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"media-proxy-go/internal/metrics"
	"media-proxy-go/internal/model"
	"media-proxy-go/internal/service"
)

// relayBufferSize is the largest chunk read from upstream before it is flushed downstream.
const relayBufferSize = 32 * 1024

// ProxyHandler forwards /proxy requests to the URL named in the query string.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter is optional.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger, m *metrics.Metrics) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
		metrics: m,
	}
}

// Handle fetches the url query parameter and streams the upstream response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	// Set before anything else so error responses carry it too.
	c.Response().Header().Set(echo.HeaderAccessControlAllowOrigin, "*")

	pr := &model.ProxyRequest{
		Ctx:    req.Context(),
		Target: c.QueryParam("url"),
		Header: req.Header,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	header := c.Response().Header()
	for key, vals := range resp.Header {
		for _, v := range vals {
			header.Add(key, v)
		}
	}
	header.Set(echo.HeaderAccessControlAllowOrigin, "*")

	c.Response().WriteHeader(resp.StatusCode)

	// The status line is committed. A failure from here on can only be
	// reported by breaking the connection, so the caller never mistakes a
	// truncated body for a complete one.
	n, err := relay(c.Response(), resp.Body)
	if h.metrics != nil {
		h.metrics.BytesRelayed.Add(float64(n))
	}
	if err != nil {
		side := "upstream"
		var we *writeError
		if errors.As(err, &we) || req.Context().Err() != nil {
			side = "downstream"
		}
		if h.metrics != nil {
			h.metrics.StreamsAborted.WithLabelValues(side).Inc()
		}
		h.logger.Warn("stream aborted",
			"err", err,
			"side", side,
			"bytes", n,
			"status", resp.StatusCode,
		)
		panic(http.ErrAbortHandler)
	}

	return nil
}

// mapError writes the response for a request that never reached a committed
// upstream response. Bodies are empty in every case.
func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	if errors.Is(err, service.ErrMissingURL) || errors.Is(err, service.ErrInvalidURL) {
		h.logger.Info("rejected proxy request", "err", err)
		return c.NoContent(http.StatusBadRequest)
	}

	h.logger.Error("proxy error",
		"err", err,
		"reason", service.ClassifyError(err),
	)
	return c.NoContent(http.StatusInternalServerError)
}

// writeError marks a relay failure on the downstream side.
type writeError struct{ err error }

func (e *writeError) Error() string { return "write downstream: " + e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

// relay copies src to w one chunk at a time, flushing after every write so
// bytes reach the caller as soon as upstream produces them.
func relay(w http.ResponseWriter, src io.Reader) (int64, error) {
	rc := http.NewResponseController(w)
	buf := make([]byte, relayBufferSize)

	var written int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := w.Write(buf[:nr])
			written += int64(nw)
			if werr == nil && nw < nr {
				werr = io.ErrShortWrite
			}
			if werr == nil {
				werr = rc.Flush()
			}
			if werr != nil {
				return written, &writeError{err: werr}
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
