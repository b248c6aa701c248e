// Package server owns the loopback listener the proxy is served on.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"media-proxy-go/internal/model"
)

// ListenAddr asks the OS for any free port on the IPv4 loopback interface.
const ListenAddr = "127.0.0.1:0"

// Server is a bound loopback listener plus the HTTP server that runs on it.
type Server struct {
	listener net.Listener
	port     model.BoundPort
	http     *http.Server
	logger   *slog.Logger
	done     chan struct{}
}

// Listen binds ListenAddr on the calling goroutine, so the port is known the
// moment Listen returns. A bind failure is returned as is: the caller should
// abort startup, there is no fallback port.
func Listen(logger *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", ListenAddr, err)
	}
	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		_ = ln.Close()
		return nil, fmt.Errorf("bind %s: unexpected address type %T", ListenAddr, ln.Addr())
	}

	return &Server{
		listener: ln,
		port:     model.BoundPort(addr.Port),
		logger:   logger.With("component", "server"),
		done:     make(chan struct{}),
	}, nil
}

// Start binds the listener and begins serving h in the background. It returns
// once the port is bound; requests are accepted from then on.
func Start(h http.Handler, logger *slog.Logger) (*Server, error) {
	s, err := Listen(logger)
	if err != nil {
		return nil, err
	}
	s.Serve(h)
	return s, nil
}

// Port returns the bound port.
func (s *Server) Port() model.BoundPort {
	return s.port
}

// Addr returns the bound address as host:port.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve runs the accept loop for h on a new goroutine. It must be called at most once.
func (s *Server) Serve(h http.Handler) {
	s.http = &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		// Inbound requests are bodiless GETs, so a short read timeout is safe.
		ReadTimeout: 30 * time.Second,
		// WriteTimeout stays 0: a media stream may be written for as long as
		// the caller keeps reading.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("serving proxy", "addr", s.Addr())
	go func() {
		defer close(s.done)
		if err := s.http.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", "err", err)
		}
	}()
}

// Shutdown stops accepting connections and waits for in-flight requests until
// ctx expires. A Server that never served just releases its listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return s.listener.Close()
	}
	err := s.http.Shutdown(ctx)
	if err != nil {
		// Streams that outlive the deadline are cut.
		_ = s.http.Close()
	}
	<-s.done
	return err
}
