package api

import (
	"time"

	"github.com/obsidianstack/wsserver/server/internal/certs"
)

// Status is the runtime state reported by GET /api/v1/status.
type Status struct {
	Scheme           string      `json:"scheme"`
	Endpoint         string      `json:"endpoint"`
	Path             string      `json:"path"`
	CompressionLevel int         `json:"compression_level"`
	Tracing          bool        `json:"tracing"`
	Clients          int         `json:"clients"`
	StartedAt        time.Time   `json:"started_at"`
	UptimeSeconds    float64     `json:"uptime_seconds"`
	Cert             *certs.Info `json:"cert,omitempty"`
}

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}
