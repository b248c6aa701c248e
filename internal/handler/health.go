// Package handler implements the HTTP endpoints served on the loopback listener.
package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"media-proxy-go/internal/model"
	"media-proxy-go/internal/proxyurl"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	port    model.BoundPort
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(port model.BoundPort, v Version) *HealthHandler {
	return &HealthHandler{port: port, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type statusResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Port          uint16 `json:"port"`
	ProxyEndpoint string `json:"proxy_endpoint"`
}

// Status reports the build version and where the proxy can be reached.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		Status:        "ok",
		Version:       string(h.version),
		Port:          uint16(h.port),
		ProxyEndpoint: proxyurl.Endpoint(h.port),
	})
}
