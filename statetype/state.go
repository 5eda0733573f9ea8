package statetype

import (
	"time"

	"github.com/caonguyenthanhan/medruntime/runtimetypes"
)

// EndpointRuntimeState represents the observed liveness of a single
// registered endpoint, as last seen by the probe cycle.
type EndpointRuntimeState struct {
	ID       string                `json:"id" example:"colab-ngrok"`
	Name     string                `json:"name,omitempty" example:"colab-gpu-1"`
	URL      string                `json:"url" example:"https://x.ngrok-free.dev"`
	Healthy  bool                  `json:"healthy" example:"true"`
	Endpoint runtimetypes.Endpoint `json:"endpoint"`
	// HTTPStatus is the status code of the probe attempt that decided
	// Healthy, zero when the endpoint never answered.
	HTTPStatus int   `json:"http_status,omitempty" example:"200"`
	LatencyMS  int64 `json:"latency_ms,omitempty" example:"241"`
	// Error stores a description of the last encountered error when
	// probing this endpoint, if any.
	Error     string    `json:"error,omitempty" example:"unreachable"`
	CheckedAt time.Time `json:"checked_at" example:"2023-11-15T14:30:45Z"`
}
