package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"media-proxy-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Health returns a simple OK response for liveness checks.
func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// StatusResponse is the body of GET /proxy/status.
type StatusResponse struct {
	Status           string `json:"status"`
	Version          string `json:"version"`
	MaxContentLength int64  `json:"max_content_length"`
	ChunkSize        int    `json:"chunk_size"`
	TimeoutSeconds   int    `json:"timeout_seconds"`
	MaxRedirects     int    `json:"max_redirects"`
}

// Status returns the build version and the effective relay limits.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Status:           "ok",
		Version:          string(h.version),
		MaxContentLength: h.cfg.Relay.MaxContentLength,
		ChunkSize:        h.cfg.Relay.ChunkSize,
		TimeoutSeconds:   h.cfg.Upstream.TimeoutSeconds,
		MaxRedirects:     h.cfg.Upstream.MaxRedirects,
	})
}
