// Package service implements the core proxy forwarding logic.
package service

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"syscall"

	"media-proxy-go/internal/client"
	"media-proxy-go/internal/metrics"
	"media-proxy-go/internal/model"
	"media-proxy-go/internal/safelist"
)

var (
	// ErrMissingURL is returned when the request carries no url parameter.
	ErrMissingURL = errors.New("missing url query parameter")
	// ErrInvalidURL is returned when the url parameter is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("url must be an absolute http or https URL")
)

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client  *client.UpstreamClient
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewProxyService creates a ProxyService. The metrics parameter is optional.
func NewProxyService(c *client.UpstreamClient, logger *slog.Logger, m *metrics.Metrics) *ProxyService {
	return &ProxyService{
		client:  c,
		logger:  logger.With("component", "proxy_service"),
		metrics: m,
	}
}

// Forward fetches pr.Target with the safelisted subset of pr.Header and returns
// the upstream response with its headers reduced to the response safelist.
// The caller is responsible for closing the response body.
//
// The upstream request lives as long as pr.Ctx: canceling it (the caller went
// away) tears down the upstream connection, even mid-body.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	target, err := parseTarget(pr.Target)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("forwarding request", "host", target.Host)

	resp, err := s.client.Fetch(pr.Ctx, target.String(), safelist.RequestHeaders.Filter(pr.Header))
	if err != nil {
		if s.metrics != nil {
			s.metrics.UpstreamFailures.WithLabelValues(ClassifyError(err)).Inc()
		}
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	resp.Header = safelist.ResponseHeaders.Filter(resp.Header)
	return resp, nil
}

func parseTarget(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, ErrMissingURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return u, nil
}

// ClassifyError maps an upstream failure to a bounded reason label.
// All reasons produce the same response status; the label exists for logs and metrics.
func ClassifyError(err error) string {
	var (
		dnsErr    *net.DNSError
		certErr   *tls.CertificateVerificationError
		unknownCA x509.UnknownAuthorityError
		hostErr   x509.HostnameError
		recordErr tls.RecordHeaderError
		alertErr  tls.AlertError
		netErr    net.Error
	)

	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, client.ErrIdleTimeout):
		return "timeout"
	case errors.As(err, &dnsErr):
		return "dns"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "refused"
	case errors.As(err, &certErr), errors.As(err, &unknownCA), errors.As(err, &hostErr),
		errors.As(err, &recordErr), errors.As(err, &alertErr):
		return "tls"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	default:
		return "other"
	}
}
