package service

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"syscall"
	"testing"

	"media-proxy-go/internal/client"
	"media-proxy-go/internal/config"
	"media-proxy-go/internal/metrics"
	"media-proxy-go/internal/model"
)

func newTestService(t *testing.T, m *metrics.Metrics) *ProxyService {
	t.Helper()
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			ConnectTimeoutSeconds:        5,
			TLSHandshakeTimeoutSeconds:   5,
			ResponseHeaderTimeoutSeconds: 10,
			IdleReadTimeoutSeconds:       10,
			MaxRedirects:                 10,
			IdleConnections:              4,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewProxyService(client.NewUpstreamClient(cfg, logger, m), logger, m)
}

func TestForward_FiltersHeaders(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, h := range []string{"Authorization", "Cookie", "Origin", "Referer", "X-Custom"} {
			if v := r.Header.Get(h); v != "" {
				t.Errorf("%s forwarded upstream: %q", h, v)
			}
		}
		if v := r.Header.Get("Range"); v != "bytes=100-" {
			t.Errorf("Range = %q, want %q", v, "bytes=100-")
		}
		if v := r.Header.Get("Accept"); v != "video/*" {
			t.Errorf("Accept = %q, want %q", v, "video/*")
		}
		if v := r.Header.Get("User-Agent"); v != "player/1.0" {
			t.Errorf("User-Agent = %q, want %q", v, "player/1.0")
		}

		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Range", "bytes 100-199/200")
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Set-Cookie", "tracking=1")
		w.Header().Set("Cache-Control", "max-age=60")
		w.Header().Set("Access-Control-Allow-Origin", "https://example.com")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(make([]byte, 100))
	}))
	defer upstream.Close()

	s := newTestService(t, nil)
	resp, err := s.Forward(&model.ProxyRequest{
		Ctx:    context.Background(),
		Target: upstream.URL + "/movie.mp4",
		Header: http.Header{
			"Range":         {"bytes=100-"},
			"Accept":        {"video/*"},
			"User-Agent":    {"player/1.0"},
			"Authorization": {"Bearer secret"},
			"Cookie":        {"session=abc"},
			"Origin":        {"tauri://localhost"},
			"Referer":       {"tauri://localhost/"},
			"X-Custom":      {"1"},
		},
	})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusPartialContent {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusPartialContent)
	}

	tests := []struct {
		key  string
		want string
	}{
		{"Content-Type", "video/mp4"},
		{"Content-Range", "bytes 100-199/200"},
		{"Accept-Ranges", "bytes"},
		{"Content-Length", "100"},
		{"Set-Cookie", ""},
		{"Cache-Control", ""},
		{"Access-Control-Allow-Origin", ""},
		{"Date", ""},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := resp.Header.Get(tt.key); got != tt.want {
				t.Errorf("header %q = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestForward_InvalidTarget(t *testing.T) {
	tests := []struct {
		name   string
		target string
		want   error
	}{
		{"empty", "", ErrMissingURL},
		{"relative", "/movie.mp4", ErrInvalidURL},
		{"no scheme", "example.com/movie.mp4", ErrInvalidURL},
		{"ftp scheme", "ftp://example.com/movie.mp4", ErrInvalidURL},
		{"file scheme", "file:///etc/passwd", ErrInvalidURL},
		{"missing host", "http:///movie.mp4", ErrInvalidURL},
		{"unparseable", "http://[::1", ErrInvalidURL},
	}

	s := newTestService(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Forward(&model.ProxyRequest{Ctx: context.Background(), Target: tt.target})
			if !errors.Is(err, tt.want) {
				t.Errorf("Forward(%q) error = %v, want %v", tt.target, err, tt.want)
			}
		})
	}
}

func TestForward_UpstreamUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	m := metrics.New()
	s := newTestService(t, m)

	_, err = s.Forward(&model.ProxyRequest{Ctx: context.Background(), Target: "http://" + addr + "/live.m3u8"})
	if err == nil {
		t.Fatal("Forward() expected error for unreachable upstream, got nil")
	}
	if errors.Is(err, ErrInvalidURL) || errors.Is(err, ErrMissingURL) {
		t.Errorf("err = %v, want an upstream failure", err)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() == "media_proxy_upstream_failures_total" {
			for _, metric := range f.GetMetric() {
				if metric.GetLabel()[0].GetValue() == "refused" {
					return
				}
			}
		}
	}
	t.Error("expected media_proxy_upstream_failures_total with reason=refused")
}

func TestForward_UpstreamErrorStatusPassesThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	s := newTestService(t, nil)
	resp, err := s.Forward(&model.ProxyRequest{Ctx: context.Background(), Target: upstream.URL})
	if err != nil {
		t.Fatalf("Forward() error = %v; upstream 5xx is a response, not an error", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyError(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"canceled", fmt.Errorf("upstream request: %w", context.Canceled), "canceled"},
		{"deadline", fmt.Errorf("upstream request: %w", context.DeadlineExceeded), "timeout"},
		{"idle", client.ErrIdleTimeout, "timeout"},
		{"net timeout", fmt.Errorf("wrap: %w", timeoutErr{}), "timeout"},
		{"dns", fmt.Errorf("wrap: %w", &net.DNSError{Err: "no such host", Name: "cdn.invalid"}), "dns"},
		{"refused", fmt.Errorf("wrap: %w", refused), "refused"},
		{"tls record", fmt.Errorf("wrap: %w", tls.RecordHeaderError{Msg: "first record does not look like a TLS handshake"}), "tls"},
		{"tls verify", fmt.Errorf("wrap: %w", &tls.CertificateVerificationError{Err: errors.New("bad cert")}), "tls"},
		{"other", errors.New("boom"), "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
