package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"media-proxy-go/internal/client"
	"media-proxy-go/internal/config"
	"media-proxy-go/internal/handler"
	"media-proxy-go/internal/metrics"
	"media-proxy-go/internal/middleware"
	"media-proxy-go/internal/model"
	"media-proxy-go/internal/proxyurl"
	"media-proxy-go/internal/server"
	"media-proxy-go/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("media-proxy"),
		kong.Description("Loopback forwarding proxy that lets a desktop UI fetch cross-origin media."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
		}),
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			newListener,
			boundPort,
			client.NewUpstreamClient,
			service.NewProxyService,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, registerMetrics, startServer, publishPort),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stderr, opts)
	default:
		h = slog.NewJSONHandler(os.Stderr, opts)
	}

	logger := slog.New(h)
	if path := cfg.FilePath(); path != "" {
		logger.Info("loaded config", "path", path)
	}
	return logger
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.LoopbackHost())
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}

	return e
}

// newListener binds the loopback port while the graph is being built, so a
// bind failure aborts startup before anything else runs.
func newListener(logger *slog.Logger) (*server.Server, error) {
	return server.Listen(logger)
}

func boundPort(s *server.Server) model.BoundPort {
	return s.Port()
}

func registerMetrics(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) {
	if !cfg.Metrics.Enabled {
		return
	}
	e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	logger.Info("metrics enabled", "path", cfg.Metrics.Path)
}

func startServer(lc fx.Lifecycle, s *server.Server, e *echo.Echo) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			s.Serve(e)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return s.Shutdown(ctx)
		},
	})
}

// publishPort makes the bound port available outside the process once the
// server is accepting requests.
func publishPort(lc fx.Lifecycle, port model.BoundPort, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			logger.Info("proxy ready",
				"port", uint16(port),
				"endpoint", proxyurl.Endpoint(port),
			)
			if cfg.Server.PortFile == "" {
				return nil
			}
			if err := server.PublishPort(cfg.Server.PortFile, port); err != nil {
				return err
			}
			logger.Info("published port", "path", cfg.Server.PortFile)
			return nil
		},
		OnStop: func(_ context.Context) error {
			if cfg.Server.PortFile == "" {
				return nil
			}
			if err := os.Remove(cfg.Server.PortFile); err != nil && !os.IsNotExist(err) {
				logger.Warn("removing port file", "err", err)
			}
			return nil
		},
	})
}
