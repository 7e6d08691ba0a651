// Package http provides the HTTP API for pointerd.
package http

import (
	"github.com/fyrsmithlabs/pointerd/internal/geometry"
	"github.com/fyrsmithlabs/pointerd/internal/telemetry"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// RegionBody is a capture region in a request body.
type RegionBody struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ClickRequest is the request body for POST /api/v1/click.
type ClickRequest struct {
	X           *int        `json:"x,omitempty"`
	Y           *int        `json:"y,omitempty"`
	Button      string      `json:"button,omitempty"`
	ClickCount  int         `json:"click_count,omitempty"`
	Region      *RegionBody `json:"region,omitempty"`
	ZoomLevel   float64     `json:"zoom_level,omitempty"`
	Description string      `json:"description,omitempty"`
	Source      string      `json:"source,omitempty"`
	App         string      `json:"app,omitempty"`
	SessionID   string      `json:"session_id,omitempty"`

	// LocalCoordinates marks x/y as region-local capture coordinates.
	LocalCoordinates bool `json:"local_coordinates,omitempty"`
}

// RegionResponse is the response body for GET /api/v1/regions/:name.
type RegionResponse struct {
	Name   string          `json:"name"`
	Region geometry.Region `json:"region"`
}

// SessionStartRequest is the request body for POST /api/v1/sessions.
type SessionStartRequest struct {
	SessionID string `json:"session_id"`
}

// SessionStartResponse is the response body for POST /api/v1/sessions.
type SessionStartResponse struct {
	SessionID string `json:"session_id"`
}

// SessionResetResponse is the response body for POST /api/v1/sessions/:id/reset.
type SessionResetResponse struct {
	SessionID string `json:"session_id"`
}

// SessionListResponse is the response body for GET /api/v1/sessions.
type SessionListResponse struct {
	Sessions []telemetry.SessionInfo `json:"sessions"`
	Count    int                     `json:"count"`
}

// SessionDriftResponse is the response body for GET /api/v1/sessions/:id/drift.
type SessionDriftResponse struct {
	SessionID string          `json:"session_id"`
	Drift     telemetry.Drift `json:"drift"`
}
