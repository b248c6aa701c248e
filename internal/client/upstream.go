// Package client provides the outbound HTTP client used to fetch proxied resources.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"media-proxy-go/internal/config"
	"media-proxy-go/internal/metrics"
	"media-proxy-go/internal/model"
)

// ErrIdleTimeout is returned from a response body read when the upstream sent
// nothing for longer than the configured idle-read timeout.
var ErrIdleTimeout = errors.New("upstream idle read timeout")

// UpstreamClient fetches arbitrary upstream URLs on behalf of the proxy.
// It is safe for concurrent use; requests share one connection pool.
type UpstreamClient struct {
	httpClient  *http.Client
	idleTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and bounded
// per-phase timeouts. There is no overall request timeout; a stream stays open as
// long as the caller keeps reading. The metrics parameter is optional; pass nil to
// disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	up := cfg.Upstream
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          up.IdleConnections,
		MaxIdleConnsPerHost:   up.IdleConnections,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   seconds(up.TLSHandshakeTimeoutSeconds),
		ResponseHeaderTimeout: seconds(up.ResponseHeaderTimeoutSeconds),
		// Relay bytes exactly as sent so Content-Length and Content-Range stay valid.
		DisableCompression: true,
		ForceAttemptHTTP2:  true,
		DialContext: (&net.Dialer{
			Timeout:   seconds(up.ConnectTimeoutSeconds),
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	maxRedirects := up.MaxRedirects
	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		idleTimeout: seconds(up.IdleReadTimeoutSeconds),
		logger:      logger.With("component", "upstream_client"),
		metrics:     m,
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Fetch issues a GET for target carrying exactly header and returns the response
// with its body as a stream. The caller is responsible for closing the body.
//
// ctx bounds the whole exchange including the body: when it is canceled (e.g. the
// caller disconnected) the upstream connection is torn down.
func (c *UpstreamClient) Fetch(ctx context.Context, target string, header http.Header) (*model.ProxyResponse, error) {
	ctx, cancel := context.WithCancelCause(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		cancel(nil)
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if _, ok := req.Header["User-Agent"]; !ok {
		// An empty value stops net/http from adding its own User-Agent.
		req.Header["User-Agent"] = []string{""}
	}

	c.logger.Debug("upstream request", "host", req.URL.Host)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	if c.metrics != nil {
		c.metrics.UpstreamDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		cancel(nil)
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       newIdleTimeoutBody(ctx, resp.Body, c.idleTimeout, cancel),
	}, nil
}

// idleTimeoutBody cancels the upstream request when a single read waits longer
// than timeout, and releases the request context on Close. The timer only runs
// inside Read, so a caller that stops consuming (a paused player) is not penalized.
type idleTimeoutBody struct {
	ctx     context.Context
	body    io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
	cancel  context.CancelCauseFunc
	once    sync.Once
}

func newIdleTimeoutBody(ctx context.Context, body io.ReadCloser, timeout time.Duration, cancel context.CancelCauseFunc) *idleTimeoutBody {
	b := &idleTimeoutBody{ctx: ctx, body: body, timeout: timeout, cancel: cancel}
	if timeout > 0 {
		b.timer = time.AfterFunc(timeout, func() { cancel(ErrIdleTimeout) })
		b.timer.Stop()
	}
	return b
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	if b.timer != nil {
		b.timer.Reset(b.timeout)
	}
	n, err := b.body.Read(p)
	if b.timer != nil {
		b.timer.Stop()
	}
	if err != nil && err != io.EOF && errors.Is(context.Cause(b.ctx), ErrIdleTimeout) {
		return n, ErrIdleTimeout
	}
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	var err error
	b.once.Do(func() {
		if b.timer != nil {
			b.timer.Stop()
		}
		err = b.body.Close()
		b.cancel(nil)
	})
	return err
}
